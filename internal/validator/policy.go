package validator

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Action is what the validator does with an external reference matched by a rule.
type Action int

const (
	// Deny rejects the document unless the host is allow-listed.
	Deny Action = iota
	// CountResource counts the reference against MaxExternalResources
	// unless the host is allow-listed.
	CountResource
	// CountLink counts the distinct target against MaxExternalLinks.
	CountLink
	// Nested validates the attribute value as a document of its own,
	// sharing the enclosing document's counters.
	Nested
)

func (a Action) String() string {
	switch a {
	case Deny:
		return "deny"
	case CountResource:
		return "count_resource"
	case CountLink:
		return "count_link"
	case Nested:
		return "nested"
	default:
		return "unknown"
	}
}

// Rule binds an element attribute holding URLs to an Action. Local
// references (relative paths, fragments, data: and blob: URIs) never match.
type Rule struct {
	Element string
	Attr    string
	// When, if set, must hold for the element before the rule applies.
	When func(n *html.Node) bool
	// Extract, if set, pulls URLs out of the attribute value. The default
	// treats the whole value as one URL.
	Extract func(val string) []string
	Action  Action
	What    string
	// Document marks attributes that load their target as a document. A
	// data: URL of an HTML or SVG type there is validated like srcdoc.
	Document bool
}

// DefaultRules is the resource-locality policy for self-contained documents.
// Inline <script> and <style> bodies are not inspected here; only references
// that make the browser fetch or navigate off-origin are.
var DefaultRules = []Rule{
	{Element: "script", Attr: "src", Action: Deny, What: "external script"},
	{Element: "script", Attr: "href", Action: Deny, What: "external script"},
	{Element: "link", Attr: "href", When: relIs("stylesheet", "preload", "modulepreload", "prefetch", "import", "manifest"), Action: Deny, What: "external stylesheet or preload"},
	{Element: "link", Attr: "href", When: relIs("icon", "shortcut", "apple-touch-icon"), Action: CountResource, What: "external icon"},
	{Element: "base", Attr: "href", Action: Deny, What: "off-origin base URL"},
	{Element: "meta", Attr: "content", When: httpEquiv("refresh"), Extract: refreshURL, Action: Deny, What: "off-origin meta refresh"},

	{Element: "img", Attr: "src", Action: CountResource, What: "external image"},
	{Element: "img", Attr: "srcset", Extract: srcsetURLs, Action: CountResource, What: "external image"},
	{Element: "source", Attr: "src", Action: CountResource, What: "external media"},
	{Element: "source", Attr: "srcset", Extract: srcsetURLs, Action: CountResource, What: "external media"},
	{Element: "audio", Attr: "src", Action: CountResource, What: "external media"},
	{Element: "video", Attr: "src", Action: CountResource, What: "external media"},
	{Element: "video", Attr: "poster", Action: CountResource, What: "external media"},
	{Element: "track", Attr: "src", Action: CountResource, What: "external media"},
	{Element: "iframe", Attr: "src", Action: CountResource, What: "external frame", Document: true},
	{Element: "iframe", Attr: "srcdoc", Action: Nested, What: "inline frame document"},
	{Element: "embed", Attr: "src", Action: CountResource, What: "external embed", Document: true},
	{Element: "object", Attr: "data", Action: CountResource, What: "external object", Document: true},
	{Element: "input", Attr: "src", Action: CountResource, What: "external image"},
	{Element: "image", Attr: "href", Action: CountResource, What: "external image"},
	{Element: "use", Attr: "href", Action: CountResource, What: "external SVG reference"},

	{Element: "a", Attr: "href", Action: CountLink, What: "external link"},
	{Element: "area", Attr: "href", Action: CountLink, What: "external link"},
	{Element: "form", Attr: "action", Action: CountLink, What: "external form target"},
}

// attr returns the value of the first attribute named key, ignoring namespace
// so xlink:href and href both match "href".
func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func relIs(values ...string) func(n *html.Node) bool {
	return func(n *html.Node) bool {
		rel, ok := attr(n, "rel")
		if !ok {
			return false
		}
		for _, token := range strings.Fields(strings.ToLower(rel)) {
			for _, v := range values {
				if token == v {
					return true
				}
			}
		}
		return false
	}
}

func httpEquiv(value string) func(n *html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, "http-equiv")
		return ok && strings.EqualFold(strings.TrimSpace(v), value)
	}
}

var refreshURLPattern = regexp.MustCompile(`(?i)^\s*\d*(?:\.\d*)?\s*[;,]?\s*(?:url\s*=\s*)?['"]?([^'"]*)['"]?\s*$`)

// refreshURL extracts the target of a meta refresh ("5; url=https://...").
func refreshURL(val string) []string {
	m := refreshURLPattern.FindStringSubmatch(val)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return nil
	}
	return []string{m[1]}
}

// srcsetURLs extracts the candidate URLs from a srcset attribute.
func srcsetURLs(val string) []string {
	var urls []string
	for _, candidate := range strings.Split(val, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}

var (
	cssImportPattern = regexp.MustCompile(`(?i)@import\s+(?:url\(\s*)?['"]?([^'")\s;]+)['"]?\s*\)?[^;]*;?`)
	cssURLPattern    = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")]+)['"]?\s*\)`)
)

// cssReferences splits the references in a stylesheet or style attribute
// into @import targets and other url() references.
func cssReferences(css string) (imports, urls []string) {
	for _, m := range cssImportPattern.FindAllStringSubmatch(css, -1) {
		imports = append(imports, m[1])
	}
	rest := cssImportPattern.ReplaceAllString(css, "")
	for _, m := range cssURLPattern.FindAllStringSubmatch(rest, -1) {
		urls = append(urls, m[1])
	}
	return imports, urls
}

// indexRules groups rules by element name for lookup during the walk.
func indexRules(rules []Rule) map[string][]Rule {
	idx := make(map[string][]Rule, len(rules))
	for _, r := range rules {
		name := strings.ToLower(r.Element)
		idx[name] = append(idx[name], r)
	}
	return idx
}
