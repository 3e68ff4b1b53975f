package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ResolveURL makes ref absolute against base and drops the fragment.
// Scheme and host are lowercased; path and query are left untouched because
// listing sites use them as identity.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		r = b.ResolveReference(r)
	}
	if !r.IsAbs() {
		return "", fmt.Errorf("reference %q is not absolute", ref)
	}
	r.Scheme = strings.ToLower(r.Scheme)
	r.Host = strings.ToLower(r.Host)
	r.Fragment = ""
	return r.String(), nil
}

// IsPDFURL reports whether the URL path names a PDF document.
func IsPDFURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}
