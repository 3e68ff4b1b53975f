package crawler

import (
	"net/url"
	"slices"
	"strings"
)

// DomainBlocklist matches link hosts against exact names and suffix wildcards
// ("*.example.org" or ".example.org"). A nil blocklist blocks nothing.
type DomainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainBlocklist compiles patterns. It returns nil when no usable pattern is given.
func NewDomainBlocklist(patterns []string) *DomainBlocklist {
	b := &DomainBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."), strings.HasPrefix(value, "."):
			suffix := strings.TrimLeft(strings.TrimPrefix(value, "*"), ".")
			if suffix != "" && !slices.Contains(b.suffixes, suffix) {
				b.suffixes = append(b.suffixes, suffix)
			}
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

// BlocksHost reports whether host matches a pattern.
func (b *DomainBlocklist) BlocksHost(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Blocks reports whether the host of rawURL matches a pattern. Unparseable
// URLs are not blocked.
func (b *DomainBlocklist) Blocks(rawURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return b.BlocksHost(u.Hostname())
}
