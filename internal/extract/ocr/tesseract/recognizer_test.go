package tesseract

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToEnglish(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"eng"}, New().Languages)
	require.Equal(t, []string{"eng", "khm"}, New("eng", "khm").Languages)
}

func TestRecognizeHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Recognize(ctx, image.NewGray(image.Rect(0, 0, 1, 1)))
	require.ErrorIs(t, err, context.Canceled)
}
