// Package parser turns listing and detail pages into records using per-site
// CSS selector descriptors. One generic Site interprets any Descriptor, so
// adding a source means adding data, not code.
package parser

import (
	"fmt"
	"strings"
)

// ListingSelectors locate link rows on a listing page.
type ListingSelectors struct {
	// Container narrows the search; empty means the whole document.
	Container string `mapstructure:"container" json:"container,omitempty"`
	Item      string `mapstructure:"item" json:"item"`
	// Title is matched inside the item; empty falls back to the link text.
	Title string `mapstructure:"title" json:"title,omitempty"`
	Link  string `mapstructure:"link" json:"link"`
	// Author and Timestamp are optional per-row fields.
	Author        string `mapstructure:"author" json:"author,omitempty"`
	Timestamp     string `mapstructure:"timestamp" json:"timestamp,omitempty"`
	TimestampAttr string `mapstructure:"timestamp_attr" json:"timestamp_attr,omitempty"`
}

// DetailSelectors locate the body and metadata on a detail page.
type DetailSelectors struct {
	Content    string `mapstructure:"content" json:"content"`
	Paragraphs string `mapstructure:"paragraphs" json:"paragraphs,omitempty"`
	// Meta scopes Categories and Time; empty means the whole document.
	Meta        string `mapstructure:"meta" json:"meta,omitempty"`
	RequireMeta bool   `mapstructure:"require_meta" json:"require_meta,omitempty"`
	Categories  string `mapstructure:"categories" json:"categories,omitempty"`
	Time        string `mapstructure:"time" json:"time,omitempty"`
	TimeAttr    string `mapstructure:"time_attr" json:"time_attr,omitempty"`
	// PDFLink finds an indirect reference to the binary version of the document.
	PDFLink string `mapstructure:"pdf_link" json:"pdf_link,omitempty"`
	// Readability enables the readability fallback when the selectors yield no text.
	Readability bool `mapstructure:"readability" json:"readability,omitempty"`
}

// Descriptor is the declarative description of one source site.
type Descriptor struct {
	Name string `mapstructure:"name" json:"name"`
	// Render asks the fetcher for a headless rendering of listing and detail pages.
	Render bool `mapstructure:"render" json:"render,omitempty"`
	// WaitFor is the element the headless fetcher waits for before capturing.
	WaitFor string           `mapstructure:"wait_for" json:"wait_for,omitempty"`
	Listing ListingSelectors `mapstructure:"listing" json:"listing"`
	Detail  DetailSelectors  `mapstructure:"detail" json:"detail"`
}

// Validate checks that the selectors required for parsing are present.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("site name is required")
	}
	if d.Listing.Item == "" || d.Listing.Link == "" {
		return fmt.Errorf("site %s: listing.item and listing.link are required", d.Name)
	}
	if d.Detail.Content == "" && d.Detail.PDFLink == "" && !d.Detail.Readability {
		return fmt.Errorf("site %s: detail needs content, pdf_link or readability", d.Name)
	}
	return nil
}

// BIS describes the central bankers' speeches index on bis.org. The listing is
// rendered client side, so pages are fetched headless.
func BIS() Descriptor {
	return Descriptor{
		Name:    "bis",
		Render:  true,
		WaitFor: "table.documentList",
		Listing: ListingSelectors{
			Container: "table.documentList",
			Item:      "tr.item",
			Title:     "div.title a",
			Link:      "div.title a[href]",
			Author:    "div.authorlnk a",
			Timestamp: "td.item_date",
		},
		Detail: DetailSelectors{
			Content:     "#cmsContent",
			Paragraphs:  "p",
			Time:        "#center .date",
			PDFLink:     `a.pdftitle_link[href], a[href$=".pdf"]`,
			Readability: true,
		},
	}
}

// KhmerTimes describes the Khmer Times search result and article pages.
func KhmerTimes() Descriptor {
	return Descriptor{
		Name: "khmertimes",
		Listing: ListingSelectors{
			Container: "section.section-category",
			Item:      "article",
			Title:     "h2.item-title",
			Link:      "a[href]",
		},
		Detail: DetailSelectors{
			Content:     "div.entry-content",
			Paragraphs:  "p",
			Meta:        "div.entry-meta",
			RequireMeta: true,
			Categories:  `a[rel="tag"]`,
			Time:        "time.entry-time",
			TimeAttr:    "datetime",
		},
	}
}

// Builtins returns the descriptors shipped with the binary.
func Builtins() []Descriptor {
	return []Descriptor{BIS(), KhmerTimes()}
}
