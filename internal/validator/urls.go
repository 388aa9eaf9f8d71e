package validator

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// urlClass says whether a reference makes the browser reach outside the
// document's own origin.
type urlClass int

const (
	urlLocal urlClass = iota
	urlExternal
)

var externalSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ftp":   true,
	"ws":    true,
	"wss":   true,
}

// cleanURL strips what browsers strip before resolving a URL: surrounding
// whitespace and control characters, embedded tabs and newlines.
func cleanURL(raw string) string {
	raw = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, raw)
	return strings.TrimFunc(raw, func(r rune) bool {
		return r <= ' '
	})
}

// parseReference classifies raw and, for external references, returns the
// parsed URL with a lower-cased host.
func parseReference(raw string) (urlClass, *url.URL) {
	ref := strings.ReplaceAll(cleanURL(raw), `\`, "/")
	if ref == "" || strings.HasPrefix(ref, "#") {
		return urlLocal, nil
	}

	protocolRelative := strings.HasPrefix(ref, "//")
	if protocolRelative {
		ref = "https:" + ref
	}

	u, err := url.Parse(ref)
	if err != nil {
		if scheme, _, ok := strings.Cut(strings.ToLower(ref), ":"); ok && externalSchemes[scheme] {
			return urlExternal, &url.URL{Scheme: scheme}
		}
		return urlLocal, nil
	}

	if !externalSchemes[strings.ToLower(u.Scheme)] {
		return urlLocal, nil
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return urlExternal, u
}

var documentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"image/svg+xml":         true,
}

// dataDocument returns the markup carried by a data: URL whose media type is
// a document type. ok is false for any other reference.
func dataDocument(raw string) (markup string, ok bool, err error) {
	ref := cleanURL(raw)
	if len(ref) < len("data:") || !strings.EqualFold(ref[:len("data:")], "data:") {
		return "", false, nil
	}
	meta, payload, found := strings.Cut(ref[len("data:"):], ",")
	if !found {
		return "", false, nil
	}

	params := strings.Split(meta, ";")
	if !documentTypes[strings.ToLower(strings.TrimSpace(params[0]))] {
		return "", false, nil
	}

	encoded := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			encoded = true
		}
	}
	if !encoded {
		s, err := url.PathUnescape(payload)
		return s, true, err
	}

	payload = strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, payload)
	if unescaped, err := url.PathUnescape(payload); err == nil {
		payload = unescaped
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	return string(b), true, err
}

// linkKey normalizes an external link target so the same destination written
// two ways is counted once.
func linkKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	k.User = nil
	if k.Path == "" {
		k.Path = "/"
	}
	return k.String()
}

// hostSet matches hostnames exactly, or by suffix for entries written with a
// leading dot (".example.com" matches "cdn.example.com").
type hostSet struct {
	exact    map[string]bool
	suffixes []string
}

func newHostSet(hosts []string) hostSet {
	hs := hostSet{exact: make(map[string]bool)}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case strings.HasPrefix(h, "."):
			hs.suffixes = append(hs.suffixes, h)
		default:
			hs.exact[h] = true
		}
	}
	return hs
}

func (hs hostSet) contains(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if hs.exact[host] {
		return true
	}
	for _, s := range hs.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}
