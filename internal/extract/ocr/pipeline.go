// Package ocr recovers text from image-only PDFs: every page is rasterized,
// deskewed and run through optical character recognition.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

// PageFunc receives each rasterized page in page order (zero based).
type PageFunc func(page int, img image.Image) error

// Rasterizer renders the pages of a PDF document to images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, fn PageFunc) error
}

// Recognizer turns a page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Options tunes the pipeline.
type Options struct {
	// Deskew straightens every page before recognition.
	Deskew bool
}

// Pipeline chains rasterization, deskew and recognition.
type Pipeline struct {
	raster Rasterizer
	recog  Recognizer
	opts   Options
	logger *zap.Logger
}

// NewPipeline builds a Pipeline.
func NewPipeline(raster Rasterizer, recog Recognizer, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{raster: raster, recog: recog, opts: opts, logger: logger.Named("ocr")}
}

// Run returns the recognized text of every page in page order. Any failure
// fails the whole document with crawler.ErrOCR.
func (p *Pipeline) Run(ctx context.Context, pdf []byte) (crawler.Text, error) {
	if p == nil || p.raster == nil || p.recog == nil {
		return nil, fmt.Errorf("%w: pipeline is not configured", crawler.ErrOCR)
	}
	var pages crawler.Text
	err := p.raster.Rasterize(ctx, pdf, func(page int, img image.Image) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.opts.Deskew {
			var angle float64
			img, angle = Deskew(img)
			if angle != 0 {
				p.logger.Debug("deskewed page", zap.Int("page", page+1), zap.Float64("angle", angle))
			}
		}
		text, err := p.recog.Recognize(ctx, img)
		if err != nil {
			return fmt.Errorf("recognize page %d: %w", page+1, err)
		}
		pages = append(pages, strings.TrimSpace(text))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrOCR, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", crawler.ErrOCR)
	}
	return pages, nil
}
