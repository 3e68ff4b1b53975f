package parser

import (
	"bytes"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
)

// NormalizeTime parses a timestamp in any common layout and renders it as
// RFC 3339. Zone-less input is taken as UTC. Unparseable input is returned trimmed so nothing is lost.
func NormalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format(time.RFC3339)
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return raw
	}
	return t.Format(time.RFC3339)
}

func readabilityText(body []byte, pageURL string) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(body), parseURLOrZero(pageURL))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}
