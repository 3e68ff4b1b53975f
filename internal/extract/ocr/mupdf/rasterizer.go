// Package mupdf rasterizes PDF pages with MuPDF through go-fitz.
package mupdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"

	"github.com/JakeFAU/docfetcher/internal/extract/ocr"
)

// DefaultDPI is a resolution Tesseract handles well for body text.
const DefaultDPI = 300

// Rasterizer implements ocr.Rasterizer.
type Rasterizer struct {
	DPI float64
}

var _ ocr.Rasterizer = Rasterizer{}

// New returns a Rasterizer rendering at dpi (DefaultDPI when <= 0).
func New(dpi float64) Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return Rasterizer{DPI: dpi}
}

// Rasterize renders each page and hands it to fn before rendering the next,
// so only one page image is alive at a time.
func (r Rasterizer) Rasterize(ctx context.Context, pdf []byte, fn ocr.PageFunc) error {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer doc.Close() //nolint:errcheck // read-only document

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(n, dpi)
		if err != nil {
			return fmt.Errorf("render page %d: %w", n+1, err)
		}
		if err := fn(n, img); err != nil {
			return err
		}
	}
	return nil
}
