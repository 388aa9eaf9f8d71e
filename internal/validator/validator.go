// Package validator gatekeeps uploaded HTML documents before they are stored
// or served.
//
// The validator is structural: it bounds size, requires well-formed markup
// with a document skeleton, keeps the document self-contained and limits
// outbound links. Inline scripts and styles pass verbatim; isolating them is
// the job of the serving layer (sandboxed CSP on /documents/{id}).
package validator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	DefaultMaxUploadBytes       = 50 << 20
	DefaultMaxExternalLinks     = 10
	DefaultMaxExternalResources = 5
	DefaultMaxDepth             = 512

	// maxNestedDocuments bounds srcdoc and data: documents inside documents.
	maxNestedDocuments = 4
)

// ErrParse marks a failure of the parser itself. It is never caused by
// policy-violating input and callers must treat it as a server error.
var ErrParse = errors.New("validator: parse failed")

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonTooLarge         Reason = "too_large"
	ReasonSizeMismatch     Reason = "size_mismatch"
	ReasonInvalidFileType  Reason = "invalid_file_type"
	ReasonEncoding         Reason = "encoding_error"
	ReasonMalformed        Reason = "malformed_markup"
	ReasonMissingSkeleton  Reason = "missing_skeleton"
	ReasonTooManyLinks     Reason = "too_many_external_links"
	ReasonExternalResource Reason = "disallowed_external_resource"
)

// Rejection is a user-displayable policy failure.
type Rejection struct {
	Reason  Reason `json:"error"`
	Message string `json:"message"`
	Element string `json:"element,omitempty"`
}

func (r *Rejection) Error() string {
	return string(r.Reason) + ": " + r.Message
}

// Stats describes what the validator saw in an accepted document.
type Stats struct {
	Elements          int `json:"elements"`
	ExternalLinks     int `json:"external_links"`
	ExternalResources int `json:"external_resources"`
}

// Result is the outcome of validating one upload. Exactly one of Content and
// Rejection is set.
type Result struct {
	Content   []byte
	Rejection *Rejection
	Stats     Stats
}

func (r Result) Accepted() bool {
	return r.Rejection == nil
}

func rejected(reason Reason, element, format string, args ...any) Result {
	return Result{Rejection: &Rejection{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Element: element,
	}}
}

// Config holds the validator limits. Start from DefaultConfig; non-positive
// sizes and negative counts fall back to the defaults.
type Config struct {
	MaxUploadBytes       int64
	MaxExternalLinks     int
	MaxExternalResources int
	MaxDepth             int
	// AllowedResourceHosts may serve scripts, stylesheets and media to
	// documents (e.g. font CDNs). Entries starting with "." match subdomains.
	AllowedResourceHosts []string
	// SameOriginHosts are the service's own hosts; references to them are local.
	SameOriginHosts []string
	Rules           []Rule
}

func DefaultConfig() Config {
	return Config{
		MaxUploadBytes:       DefaultMaxUploadBytes,
		MaxExternalLinks:     DefaultMaxExternalLinks,
		MaxExternalResources: DefaultMaxExternalResources,
		MaxDepth:             DefaultMaxDepth,
		AllowedResourceHosts: []string{"fonts.googleapis.com", "fonts.gstatic.com"},
		Rules:                DefaultRules,
	}
}

// Validator is safe for concurrent use; it holds no per-call state.
type Validator struct {
	cfg        Config
	rules      map[string][]Rule
	allowed    hostSet
	sameOrigin hostSet
	parse      func(io.Reader) (*html.Node, error)
}

func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.MaxExternalLinks < 0 {
		cfg.MaxExternalLinks = def.MaxExternalLinks
	}
	if cfg.MaxExternalResources < 0 {
		cfg.MaxExternalResources = def.MaxExternalResources
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Rules == nil {
		cfg.Rules = def.Rules
	}

	return &Validator{
		cfg:        cfg,
		rules:      indexRules(cfg.Rules),
		allowed:    newHostSet(cfg.AllowedResourceHosts),
		sameOrigin: newHostSet(cfg.SameOriginHosts),
		parse:      parseDocument,
	}
}

// parseDocument parses with scripting disabled so <noscript> content is
// built into the tree instead of being kept as raw text.
func parseDocument(r io.Reader) (*html.Node, error) {
	return html.ParseWithOptions(r, html.ParseOptionEnableScripting(false))
}

// Config returns the effective configuration.
func (v *Validator) Config() Config {
	return v.cfg
}

// Validate checks a complete document. declaredSize is the length announced
// by the client, or a negative value when unknown. The returned error is
// non-nil only for failures of the validator itself.
func (v *Validator) Validate(raw []byte, declaredSize int64) (Result, error) {
	if res, ok := v.checkSize(raw, declaredSize); !ok {
		return res, nil
	}
	return v.validateMarkup(raw)
}

// Upload is the validation-time view of an uploaded file.
type Upload struct {
	Filename     string
	DeclaredMIME string
	Data         []byte
	DeclaredSize int64
}

var allowedExtensions = map[string]bool{".html": true, ".htm": true}

var allowedMIMETypes = map[string]bool{
	"text/html":                true,
	"text/plain":               true,
	"application/octet-stream": true,
}

// ValidateFile runs Validate after checking the filename extension, the
// declared MIME type and the sniffed content type.
func (v *Validator) ValidateFile(u Upload) (Result, error) {
	if res, ok := v.checkSize(u.Data, u.DeclaredSize); !ok {
		return res, nil
	}

	ext := strings.ToLower(filepath.Ext(u.Filename))
	if !allowedExtensions[ext] {
		return rejected(ReasonInvalidFileType, "", "file extension %q is not allowed; upload a .html file", ext), nil
	}

	if u.DeclaredMIME != "" && !allowedMIMETypes[mediaType(u.DeclaredMIME)] {
		return rejected(ReasonInvalidFileType, "", "file type %s is not allowed", mediaType(u.DeclaredMIME)), nil
	}

	if sniffed := mediaType(http.DetectContentType(u.Data)); sniffed != "text/html" && sniffed != "text/plain" {
		return rejected(ReasonInvalidFileType, "", "file content looks like %s, not HTML", sniffed), nil
	}

	return v.validateMarkup(u.Data)
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func (v *Validator) checkSize(raw []byte, declaredSize int64) (Result, bool) {
	limit := v.cfg.MaxUploadBytes
	if int64(len(raw)) > limit || declaredSize > limit {
		size := int64(len(raw))
		if declaredSize > size {
			size = declaredSize
		}
		return rejected(ReasonTooLarge, "", "file size %.1fMB exceeds maximum %dMB",
			float64(size)/(1<<20), limit>>20), false
	}
	if declaredSize >= 0 && declaredSize != int64(len(raw)) {
		return rejected(ReasonSizeMismatch, "", "declared size %d does not match received %d bytes",
			declaredSize, len(raw)), false
	}
	return Result{}, true
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// normalize strips a UTF-8 byte order mark and converts line endings to LF.
func normalize(raw []byte) []byte {
	out := bytes.TrimPrefix(raw, utf8BOM)
	if bytes.IndexByte(out, '\r') < 0 {
		return bytes.Clone(out)
	}
	out = bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
}

func (v *Validator) validateMarkup(raw []byte) (Result, error) {
	content := normalize(raw)

	if !utf8.Valid(content) {
		return rejected(ReasonEncoding, "", "file is not valid UTF-8 encoded text"), nil
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return rejected(ReasonMalformed, "", "document contains NUL bytes"), nil
	}

	hasSkeleton, err := scanSkeleton(content)
	if err != nil {
		return rejected(ReasonMalformed, "", "markup could not be tokenized: %v", err), nil
	}
	if !hasSkeleton {
		return rejected(ReasonMissingSkeleton, "", "document must start with <!DOCTYPE html> or an <html> root element"), nil
	}

	doc, err := v.parse(bytes.NewReader(content))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	w := &walker{v: v, links: make(map[string]struct{})}
	if rej := w.walk(doc); rej != nil {
		return Result{Rejection: rej}, nil
	}

	return Result{
		Content: content,
		Stats: Stats{
			Elements:          w.elements,
			ExternalLinks:     len(w.links),
			ExternalResources: w.resources,
		},
	}, nil
}

// scanSkeleton tokenizes the document looking for a doctype or an explicit
// <html> element. The parser would synthesize one, so the tree cannot tell.
func scanSkeleton(content []byte) (bool, error) {
	z := html.NewTokenizer(bytes.NewReader(content))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return false, nil
			}
			return false, z.Err()
		case html.DoctypeToken:
			return true, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "html" {
				return true, nil
			}
		}
	}
}

type walker struct {
	v         *Validator
	links     map[string]struct{}
	resources int
	elements  int
	nesting   int
}

type frame struct {
	n     *html.Node
	depth int
}

// walk visits the tree in document order without recursion, so hostile
// nesting cannot exhaust the goroutine stack.
func (w *walker) walk(doc *html.Node) *Rejection {
	stack := []frame{{n: doc}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > w.v.cfg.MaxDepth {
			return &Rejection{
				Reason:  ReasonMalformed,
				Message: fmt.Sprintf("elements are nested more than %d levels deep", w.v.cfg.MaxDepth),
			}
		}

		if f.n.Type == html.ElementNode {
			w.elements++
			if rej := w.element(f.n); rej != nil {
				return rej
			}
		}

		for c := f.n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, frame{n: c, depth: f.depth + 1})
		}
	}
	return nil
}

func (w *walker) element(n *html.Node) *Rejection {
	for _, rule := range w.v.rules[n.Data] {
		if rule.When != nil && !rule.When(n) {
			continue
		}
		val, ok := attr(n, rule.Attr)
		if !ok {
			continue
		}
		refs := []string{val}
		if rule.Extract != nil {
			refs = rule.Extract(val)
		}
		for _, ref := range refs {
			if rule.Action == Nested {
				if rej := w.nested(n, rule.What, ref); rej != nil {
					return rej
				}
				continue
			}
			if rule.Document {
				markup, ok, err := dataDocument(ref)
				if err != nil {
					return &Rejection{
						Reason:  ReasonMalformed,
						Message: fmt.Sprintf("%s has an undecodable data: URL: %v", rule.What, err),
						Element: describe(n),
					}
				}
				if ok {
					if rej := w.nested(n, rule.What, markup); rej != nil {
						return rej
					}
					continue
				}
			}
			if rej := w.reference(n, rule.Action, rule.What, ref); rej != nil {
				return rej
			}
		}
	}

	if style, ok := attr(n, "style"); ok {
		if rej := w.stylesheet(n, style); rej != nil {
			return rej
		}
	}
	if n.Data == "style" {
		if rej := w.stylesheet(n, textContent(n)); rej != nil {
			return rej
		}
	}
	return nil
}

// nested walks markup that the browser renders as a document of its own,
// such as an iframe srcdoc. Its references count against the same limits.
func (w *walker) nested(n *html.Node, what, markup string) *Rejection {
	if w.nesting >= maxNestedDocuments {
		return &Rejection{
			Reason:  ReasonMalformed,
			Message: fmt.Sprintf("%s nests documents more than %d levels deep", what, maxNestedDocuments),
			Element: describe(n),
		}
	}
	if !utf8.ValidString(markup) || strings.IndexByte(markup, 0) >= 0 {
		return &Rejection{
			Reason:  ReasonMalformed,
			Message: fmt.Sprintf("%s is not valid text", what),
			Element: describe(n),
		}
	}

	doc, err := w.v.parse(strings.NewReader(markup))
	if err != nil {
		return &Rejection{
			Reason:  ReasonMalformed,
			Message: fmt.Sprintf("%s could not be parsed: %v", what, err),
			Element: describe(n),
		}
	}

	w.nesting++
	defer func() { w.nesting-- }()
	return w.walk(doc)
}

func (w *walker) stylesheet(n *html.Node, css string) *Rejection {
	imports, urls := cssReferences(css)
	for _, ref := range imports {
		if rej := w.reference(n, Deny, "external stylesheet import", ref); rej != nil {
			return rej
		}
	}
	for _, ref := range urls {
		if rej := w.reference(n, CountResource, "external stylesheet resource", ref); rej != nil {
			return rej
		}
	}
	return nil
}

func (w *walker) reference(n *html.Node, action Action, what, ref string) *Rejection {
	class, u := parseReference(ref)
	if class == urlLocal || w.v.sameOrigin.contains(u) {
		return nil
	}

	switch action {
	case Deny:
		if w.v.allowed.contains(u) {
			return nil
		}
		return &Rejection{
			Reason:  ReasonExternalResource,
			Message: fmt.Sprintf("%s %s is not allowed; documents must be self-contained", what, cleanURL(ref)),
			Element: describe(n),
		}

	case CountResource:
		if w.v.allowed.contains(u) {
			return nil
		}
		w.resources++
		if w.resources > w.v.cfg.MaxExternalResources {
			return &Rejection{
				Reason: ReasonExternalResource,
				Message: fmt.Sprintf("document loads more than %d external resources; embed %s instead",
					w.v.cfg.MaxExternalResources, cleanURL(ref)),
				Element: describe(n),
			}
		}

	case CountLink:
		w.links[linkKey(u)] = struct{}{}
		if len(w.links) > w.v.cfg.MaxExternalLinks {
			return &Rejection{
				Reason: ReasonTooManyLinks,
				Message: fmt.Sprintf("content contains %d external links, maximum allowed is %d",
					len(w.links), w.v.cfg.MaxExternalLinks),
				Element: describe(n),
			}
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// describe renders the opening tag of n for error messages, truncated.
func describe(n *html.Node) string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(n.Data)
	for _, a := range n.Attr {
		sb.WriteString(" ")
		if a.Namespace != "" {
			sb.WriteString(a.Namespace + ":")
		}
		sb.WriteString(a.Key)
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(a.Val))
		sb.WriteString(`"`)
	}
	sb.WriteString(">")

	s := sb.String()
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
