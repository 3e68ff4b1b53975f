package crawler

import (
	"strconv"
	"strings"
)

// Default URL template placeholders.
const (
	DefaultPagePlaceholder    = "{page}"
	DefaultKeywordPlaceholder = "{keyword}"
)

// TargetOptions describes where a crawl starts.
type TargetOptions struct {
	SearchURL          string
	StartURLs          []string
	Keywords           []string
	KeywordPlaceholder string
}

// BuildTargets expands the configured start URLs or search template into walk targets.
// Explicit start URLs win. A search URL with a keyword placeholder yields one target
// per keyword; otherwise the search URL is the only target.
func BuildTargets(opts TargetOptions) []Target {
	if len(opts.StartURLs) > 0 {
		out := make([]Target, 0, len(opts.StartURLs))
		for _, u := range opts.StartURLs {
			u = strings.TrimSpace(u)
			if u != "" {
				out = append(out, Target{URL: u})
			}
		}
		return out
	}
	if strings.TrimSpace(opts.SearchURL) == "" {
		return nil
	}
	placeholder := opts.KeywordPlaceholder
	if placeholder == "" {
		placeholder = DefaultKeywordPlaceholder
	}
	if !strings.Contains(opts.SearchURL, placeholder) {
		return []Target{{URL: opts.SearchURL}}
	}
	out := make([]Target, 0, len(opts.Keywords))
	for _, kw := range opts.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, Target{
			URL:     strings.ReplaceAll(opts.SearchURL, placeholder, EncodeKeyword(kw)),
			Keyword: kw,
		})
	}
	return out
}

// EncodeKeyword encodes a search keyword the way listing search forms expect.
func EncodeKeyword(keyword string) string {
	return strings.ReplaceAll(keyword, " ", "+")
}

// PageURL substitutes the page number into a URL template. The second result is
// false when the template has no page placeholder, i.e. the target is a single page.
func PageURL(template, placeholder string, page int) (string, bool) {
	if placeholder == "" {
		placeholder = DefaultPagePlaceholder
	}
	if !strings.Contains(template, placeholder) {
		return template, false
	}
	return strings.ReplaceAll(template, placeholder, strconv.Itoa(page)), true
}
