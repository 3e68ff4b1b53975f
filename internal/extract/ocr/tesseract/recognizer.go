// Package tesseract recognizes page images with Tesseract through gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/JakeFAU/docfetcher/internal/extract/ocr"
)

// Recognizer implements ocr.Recognizer. Each call uses its own Tesseract
// client, so one Recognizer is safe for concurrent workers.
type Recognizer struct {
	Languages []string
}

var _ ocr.Recognizer = Recognizer{}

// New returns a Recognizer for the given Tesseract language codes ("eng" when empty).
func New(languages ...string) Recognizer {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return Recognizer{Languages: languages}
}

// Recognize runs OCR over img.
func (r Recognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close() //nolint:errcheck // releases the tesseract handle

	if len(r.Languages) > 0 {
		if err := client.SetLanguage(r.Languages...); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
