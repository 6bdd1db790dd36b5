package patterns

import (
	"net/url"
)

// NormalizePagePattern reduces a page URL to its escaped path, dropping scheme,
// host, query and fragment. Encoded delimiters such as %3F stay encoded. A URL
// that cannot be parsed is returned unchanged with ok=false so the caller can
// count it and still group on the raw value.
func NormalizePagePattern(raw string) (pattern string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}
	if u.Opaque != "" {
		// mailto:, javascript: and friends have no path to key on
		return raw, false
	}
	path := u.EscapedPath()
	if path == "" {
		return "/", true
	}
	return path, true
}
