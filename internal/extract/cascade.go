// Package extract implements the extraction cascade: HTML detail parsing,
// direct PDF text extraction and the OCR fallback for scanned documents.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/hash/sha256"
	"github.com/JakeFAU/docfetcher/internal/metrics"
)

// TextExtractor reads the embedded text layer of a PDF, one string per page.
type TextExtractor interface {
	ExtractText(data []byte) ([]string, error)
}

// OCR recognizes the text of an image-only PDF, one string per page.
type OCR interface {
	Run(ctx context.Context, pdf []byte) (crawler.Text, error)
}

// DefaultFallbackMarkers are substrings that direct extraction emits for
// scanned documents without a usable text layer.
var DefaultFallbackMarkers = []string{
	"(cid:",
	"���",
}

// Config tunes the cascade.
type Config struct {
	// FallbackMarkers switch a document to OCR when found in its direct text.
	FallbackMarkers []string
	// OCROnBlankText also switches to OCR when the text layer is empty.
	OCROnBlankText bool
	// ArchiveDocuments stores fetched PDFs under {ArchivePrefix}/{sha256}.pdf.
	ArchiveDocuments bool
	ArchivePrefix    string
	// Render and WaitFor are passed to the fetcher for HTML detail pages.
	Render  bool
	WaitFor string
}

// Cascade implements crawler.Extractor.
type Cascade struct {
	fetcher crawler.Fetcher
	parser  crawler.Parser
	text    TextExtractor
	ocr     OCR
	archive crawler.BlobStore
	hasher  crawler.Hasher
	cfg     Config
	logger  *zap.Logger
}

var _ crawler.Extractor = (*Cascade)(nil)

// New constructs a Cascade. ocr and archive may be nil. Archived documents are
// named by their SHA-256 digest unless WithHasher says otherwise.
func New(
	fetcher crawler.Fetcher,
	parser crawler.Parser,
	text TextExtractor,
	ocr OCR,
	archive crawler.BlobStore,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackMarkers == nil {
		cfg.FallbackMarkers = DefaultFallbackMarkers
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "documents"
	}
	c := &Cascade{
		fetcher: fetcher,
		parser:  parser,
		text:    text,
		ocr:     ocr,
		archive: archive,
		hasher:  sha256.New(),
		cfg:     cfg,
		logger:  logger.Named("extract"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option customizes a Cascade.
type Option func(*Cascade)

// WithHasher replaces the digest used for archive object names.
func WithHasher(h crawler.Hasher) Option {
	return func(c *Cascade) {
		if h != nil {
			c.hasher = h
		}
	}
}

// Extract runs the cascade for url. A nil result means extraction was
// impossible; the reason is logged and never returned.
func (c *Cascade) Extract(ctx context.Context, url string) (out *crawler.ExtractionOutput) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("extraction panicked", zap.String("url", url), zap.Any("panic", r))
			metrics.ObserveSkip("extract", "panic")
			out = nil
		}
	}()

	out, err := c.extract(ctx, url)
	if err != nil {
		c.logger.Warn("extraction impossible",
			zap.String("url", url),
			zap.String("reason", reason(err)),
			zap.Error(err),
		)
		metrics.ObserveSkip("extract", reason(err))
		return nil
	}
	return out
}

func (c *Cascade) extract(ctx context.Context, url string) (*crawler.ExtractionOutput, error) {
	if crawler.IsPDFURL(url) {
		return c.fromBinary(ctx, url, nil)
	}

	page, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Render: c.cfg.Render, WaitFor: c.cfg.WaitFor})
	if err != nil {
		return nil, err
	}
	if isPDFResponse(page) {
		return c.fromBinaryBody(ctx, url, page.Body, nil)
	}
	if c.parser == nil {
		return nil, fmt.Errorf("%w: no parser for html page", crawler.ErrExtractionImpossible)
	}
	parsed, err := c.parser.ParseDetail(page)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("%w: not a detail page", crawler.ErrExtractionImpossible)
	}
	if parsed.PDFURL != "" {
		return c.fromBinary(ctx, parsed.PDFURL, parsed)
	}
	parsed.Path = crawler.PathHTML
	return parsed, nil
}

// fromBinary fetches a PDF reference. meta carries HTML metadata found on the
// page that referenced the document.
func (c *Cascade) fromBinary(ctx context.Context, pdfURL string, meta *crawler.ExtractionOutput) (*crawler.ExtractionOutput, error) {
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pdfURL})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d for %s", crawler.ErrFetch, resp.StatusCode, pdfURL)
	}
	return c.fromBinaryBody(ctx, pdfURL, resp.Body, meta)
}

func (c *Cascade) fromBinaryBody(ctx context.Context, pdfURL string, body []byte, meta *crawler.ExtractionOutput) (*crawler.ExtractionOutput, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty document %s", crawler.ErrExtractionImpossible, pdfURL)
	}
	c.archiveDocument(ctx, pdfURL, body)

	out := &crawler.ExtractionOutput{PDFURL: pdfURL}
	if meta != nil {
		out.Categories = meta.Categories
		out.Time = meta.Time
	}

	pages, err := c.text.ExtractText(body)
	if err != nil {
		c.logger.Info("direct text extraction failed, trying ocr", zap.String("url", pdfURL), zap.Error(err))
	} else {
		direct := strings.Join(pages, "\n")
		if !c.needsOCR(direct) {
			out.Text = crawler.Text{direct}
			out.Path = crawler.PathPDFText
			return out, nil
		}
		c.logger.Info("text layer unusable, falling back to ocr", zap.String("url", pdfURL))
	}

	if c.ocr == nil {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crawler.ErrParse, err)
		}
		return nil, fmt.Errorf("%w: ocr is disabled", crawler.ErrExtractionImpossible)
	}
	text, err := c.ocr.Run(ctx, body)
	if err != nil {
		return nil, err
	}
	out.Text = text
	out.Path = crawler.PathPDFOCR
	return out, nil
}

func (c *Cascade) needsOCR(text string) bool {
	for _, marker := range c.cfg.FallbackMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return c.cfg.OCROnBlankText && strings.TrimSpace(text) == ""
}

func (c *Cascade) archiveDocument(ctx context.Context, pdfURL string, body []byte) {
	if !c.cfg.ArchiveDocuments || c.archive == nil {
		return
	}
	digest, err := c.hasher.Hash(body)
	if err != nil {
		c.logger.Warn("hash document failed", zap.String("url", pdfURL), zap.Error(err))
		return
	}
	path := sha256.ObjectPath(c.cfg.ArchivePrefix, digest, "pdf")
	uri, err := c.archive.PutObject(ctx, path, "application/pdf", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("archive document failed", zap.String("url", pdfURL), zap.Error(err))
		return
	}
	c.logger.Debug("archived document", zap.String("url", pdfURL), zap.String("uri", uri))
}

func isPDFResponse(resp crawler.FetchResponse) bool {
	if resp.ContentType() == "application/pdf" {
		return true
	}
	return bytes.HasPrefix(resp.Body, []byte("%PDF-"))
}

func reason(err error) string {
	switch {
	case errors.Is(err, crawler.ErrFetch):
		return "fetch"
	case errors.Is(err, crawler.ErrOCR):
		return "ocr"
	case errors.Is(err, crawler.ErrParse):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "impossible"
	}
}
