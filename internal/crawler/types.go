// Package crawler defines core types shared across subsystems.
package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Keyed is implemented by every record kind the document store persists.
type Keyed interface {
	Key() string
}

// LinkRecord is a detail-page reference discovered on a listing page.
type LinkRecord struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	PageURL   string `json:"page_url"`
	Page      int    `json:"page"`
	Keyword   string `json:"keyword,omitempty"`
	Author    string `json:"author,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Key returns the dedup key.
func (l LinkRecord) Key() string { return l.URL }

// ExtractionPath names the cascade branch that produced an article's text.
type ExtractionPath string

// Cascade branches.
const (
	PathHTML    ExtractionPath = "html"
	PathPDFText ExtractionPath = "pdf_text"
	PathPDFOCR  ExtractionPath = "pdf_ocr"
)

// ExtractionOutput is what the extraction cascade (or a detail parser) yields for one URL.
type ExtractionOutput struct {
	Text       Text
	Categories []string
	Time       string
	PDFURL     string
	Path       ExtractionPath
}

// ArticleRecord is a LinkRecord enriched with extracted content.
type ArticleRecord struct {
	LinkRecord
	Text       Text           `json:"text"`
	Categories []string       `json:"categories,omitempty"`
	Time       string         `json:"time,omitempty"`
	PDFURL     string         `json:"pdf_url,omitempty"`
	Extraction ExtractionPath `json:"extraction,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// Key returns the dedup key.
func (a ArticleRecord) Key() string { return a.URL }

// NewArticle copies the identity fields of link and attaches the extraction output.
// It is the only place articles are built, so identity fields never drift from the link.
func NewArticle(link LinkRecord, out ExtractionOutput, fetchedAt time.Time) ArticleRecord {
	article := ArticleRecord{
		LinkRecord: link,
		Text:       append(Text(nil), out.Text...),
		Time:       out.Time,
		PDFURL:     out.PDFURL,
		Extraction: out.Path,
		FetchedAt:  fetchedAt,
	}
	if len(out.Categories) > 0 {
		article.Categories = append([]string(nil), out.Categories...)
	}
	return article
}

// Text is extracted body text. OCR output keeps one entry per page; every other
// path produces a single entry. A single entry is encoded as a JSON string.
type Text []string

// String joins the pages with blank lines.
func (t Text) String() string {
	return strings.Join(t, "\n\n")
}

// IsBlank reports whether the text holds nothing but whitespace.
func (t Text) IsBlank() bool {
	for _, page := range t {
		if strings.TrimSpace(page) != "" {
			return false
		}
	}
	return true
}

// MarshalJSON encodes a single page as a string and multiple pages as an array.
func (t Text) MarshalJSON() ([]byte, error) {
	switch len(t) {
	case 0:
		return []byte(`""`), nil
	case 1:
		return json.Marshal(t[0])
	default:
		return json.Marshal([]string(t))
	}
}

// UnmarshalJSON accepts either a string or an array of strings.
func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = nil
		return nil
	}
	if trimmed[0] == '[' {
		var pages []string
		if err := json.Unmarshal(trimmed, &pages); err != nil {
			return fmt.Errorf("decode text pages: %w", err)
		}
		*t = pages
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return fmt.Errorf("decode text: %w", err)
	}
	if single == "" {
		*t = nil
		return nil
	}
	*t = Text{single}
	return nil
}

// Target is one start URL (or URL template) walked by the frontier.
type Target struct {
	URL     string
	Keyword string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Render  bool
	WaitFor string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Title        string
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the media type of the response without parameters.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	ct := r.Headers.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// NotFound reports whether the server said the page does not exist.
func (r FetchResponse) NotFound() bool {
	return r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone
}

// Phase names a pipeline stage.
type Phase string

// Pipeline phases.
const (
	PhaseLinks    Phase = "links"
	PhaseArticles Phase = "articles"
)

// PhaseSummary is reported once per phase after the snapshot has been written.
type PhaseSummary struct {
	RunID      string        `json:"run_id"`
	Phase      Phase         `json:"phase"`
	Site       string        `json:"site"`
	Discovered int           `json:"discovered"`
	Total      int           `json:"total"`
	Duplicates int           `json:"duplicates"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Attributes returns message attributes for routing a published summary.
func (s PhaseSummary) Attributes() map[string]string {
	return map[string]string{
		"run_id": s.RunID,
		"phase":  string(s.Phase),
		"site":   s.Site,
	}
}
