package mupdf

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docfetcher/internal/testutil"
)

func TestRasterizeEveryPage(t *testing.T) {
	t.Parallel()

	var sizes []image.Rectangle
	err := New(72).Rasterize(context.Background(), testutil.MinimalPDF("one", "two"), func(page int, img image.Image) error {
		require.Equal(t, len(sizes), page)
		sizes = append(sizes, img.Bounds())
		return nil
	})
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	require.Equal(t, 612, sizes[0].Dx())
	require.Equal(t, 792, sizes[0].Dy())
}

func TestRasterizeStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0
	err := New(36).Rasterize(context.Background(), testutil.MinimalPDF("a", "b", "c"), func(int, image.Image) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestRasterizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	err := New(0).Rasterize(context.Background(), []byte("nope"), func(int, image.Image) error { return nil })
	require.Error(t, err)
	require.Equal(t, float64(DefaultDPI), New(0).DPI)
}
