package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

// Site implements crawler.Parser by interpreting a Descriptor with goquery.
type Site struct {
	desc   Descriptor
	logger *zap.Logger
}

var _ crawler.Parser = (*Site)(nil)

// NewSite validates desc and returns a parser for it.
func NewSite(desc Descriptor, logger *zap.Logger) (*Site, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Site{desc: desc, logger: logger.Named("parser").With(zap.String("site", desc.Name))}, nil
}

// Descriptor returns the descriptor the parser was built from.
func (s *Site) Descriptor() Descriptor {
	return s.desc
}

// ParseListing extracts link rows in document order. A not-found response is
// the end of pagination and yields crawler.ErrNoSuchPage.
func (s *Site) ParseListing(page crawler.FetchResponse) ([]crawler.LinkRecord, error) {
	if page.NotFound() {
		return nil, crawler.ErrNoSuchPage
	}
	if page.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d for %s", crawler.ErrFetch, page.StatusCode, page.URL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrParse, page.URL, err)
	}

	sel := s.desc.Listing
	scope := doc.Selection
	if sel.Container != "" {
		scope = doc.Find(sel.Container).First()
		if scope.Length() == 0 {
			return nil, fmt.Errorf("%w: %s: container %q not found", crawler.ErrParse, page.URL, sel.Container)
		}
	}

	var links []crawler.LinkRecord
	scope.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		anchor := item.Find(sel.Link).First()
		href, ok := anchor.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs, err := crawler.ResolveURL(page.URL, href)
		if err != nil {
			s.logger.Debug("skipping unresolvable link", zap.String("href", href), zap.Error(err))
			return
		}
		title := anchor.Text()
		if sel.Title != "" {
			if t := item.Find(sel.Title).First(); t.Length() > 0 {
				title = t.Text()
			}
		}
		link := crawler.LinkRecord{
			URL:   abs,
			Title: collapseSpace(title),
		}
		if sel.Author != "" {
			link.Author = collapseSpace(item.Find(sel.Author).First().Text())
		}
		if sel.Timestamp != "" {
			link.Timestamp = NormalizeTime(textOrAttr(item.Find(sel.Timestamp).First(), sel.TimestampAttr))
		}
		links = append(links, link)
	})
	return links, nil
}

// ParseDetail extracts the body, categories, time and PDF reference of a
// detail page. It returns nil when the page is not a recognizable detail page.
func (s *Site) ParseDetail(page crawler.FetchResponse) (*crawler.ExtractionOutput, error) {
	if page.NotFound() {
		return nil, nil
	}
	if page.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d for %s", crawler.ErrFetch, page.StatusCode, page.URL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrParse, page.URL, err)
	}

	sel := s.desc.Detail
	meta := doc.Selection
	if sel.Meta != "" {
		meta = doc.Find(sel.Meta).First()
		if meta.Length() == 0 && sel.RequireMeta {
			return nil, nil
		}
	}

	out := &crawler.ExtractionOutput{Path: crawler.PathHTML}
	if sel.Content != "" {
		content := doc.Find(sel.Content).First()
		if content.Length() == 0 && sel.RequireMeta {
			return nil, nil
		}
		if text := paragraphText(content, sel.Paragraphs); text != "" {
			out.Text = crawler.Text{text}
		}
	}
	if sel.Categories != "" {
		meta.Find(sel.Categories).Each(func(_ int, a *goquery.Selection) {
			if c := collapseSpace(a.Text()); c != "" {
				out.Categories = append(out.Categories, c)
			}
		})
	}
	if sel.Time != "" {
		out.Time = NormalizeTime(textOrAttr(meta.Find(sel.Time).First(), sel.TimeAttr))
	}
	if sel.PDFLink != "" {
		if href, ok := doc.Find(sel.PDFLink).First().Attr("href"); ok {
			if abs, err := crawler.ResolveURL(page.URL, href); err == nil {
				out.PDFURL = abs
			}
		}
	}

	if out.Text.IsBlank() && out.PDFURL == "" && sel.Readability {
		if text := readabilityText(page.Body, page.URL); text != "" {
			s.logger.Debug("selectors found no text, used readability", zap.String("url", page.URL))
			out.Text = crawler.Text{text}
		}
	}
	if out.Text.IsBlank() && out.PDFURL == "" {
		return nil, nil
	}
	return out, nil
}

func paragraphText(content *goquery.Selection, paragraphs string) string {
	if content.Length() == 0 {
		return ""
	}
	if paragraphs == "" {
		return strings.TrimSpace(content.Text())
	}
	var parts []string
	content.Find(paragraphs).Each(func(_ int, p *goquery.Selection) {
		parts = append(parts, p.Text())
	})
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func textOrAttr(sel *goquery.Selection, attr string) string {
	if sel.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := sel.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapseSpace(sel.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseURLOrZero(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
