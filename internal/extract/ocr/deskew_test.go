package ocr

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func rotatedRect(w, h, deg, cx, cy float64) []point {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	var pts []point
	for x := -w / 2; x <= w/2; x += 2 {
		for y := -h / 2; y <= h/2; y += 2 {
			pts = append(pts, point{cx + x*cos - y*sin, cy + x*sin + y*cos})
		}
	}
	return pts
}

func TestMinAreaAngle(t *testing.T) {
	t.Parallel()

	for _, deg := range []float64{0, 3, -7.5, 12, -30, 44} {
		got := minAreaAngle(rotatedRect(400, 120, deg, 500, 500))
		require.InDelta(t, deg, got, 0.5, "angle %v", deg)
	}
}

func TestMinAreaAngleFoldsQuarterTurns(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 5, minAreaAngle(rotatedRect(120, 400, 95, 300, 300)), 0.5)
	require.InDelta(t, 0, minAreaAngle(rotatedRect(120, 400, 90, 300, 300)), 0.5)
}

func TestConvexHullOfSquare(t *testing.T) {
	t.Parallel()

	pts := []point{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {1, 1}, {1, 0}}
	hull := convexHull(pts)
	require.Len(t, hull, 4)
}

func TestNormalizeAngle(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0, normalizeAngle(90), 1e-9)
	require.InDelta(t, -10, normalizeAngle(80), 1e-9)
	require.InDelta(t, 45, normalizeAngle(-45), 1e-9)
	require.InDelta(t, 10, normalizeAngle(-170), 1e-9)
}

// drawTiltedBlock paints a dark rectangle tilted by deg on a white page.
func drawTiltedBlock(deg float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 400, 400))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, p := range rotatedRect(240, 60, deg, 200, 200) {
		img.Set(int(math.Round(p.x)), int(math.Round(p.y)), color.Black)
		img.Set(int(math.Round(p.x))+1, int(math.Round(p.y)), color.Black)
		img.Set(int(math.Round(p.x)), int(math.Round(p.y))+1, color.Black)
	}
	return img
}

func TestEstimateSkewOnImage(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 6, EstimateSkew(drawTiltedBlock(6)), 1.0)
	require.InDelta(t, -4, EstimateSkew(drawTiltedBlock(-4)), 1.0)
}

func TestDeskewStraightensImage(t *testing.T) {
	t.Parallel()

	fixed, angle := Deskew(drawTiltedBlock(8))
	require.InDelta(t, 8, angle, 1.0)
	require.InDelta(t, 0, EstimateSkew(fixed), 1.5)
}

func TestDeskewLeavesBlankPage(t *testing.T) {
	t.Parallel()

	blank := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	for i := range blank.Pix {
		blank.Pix[i] = 255
	}
	out, angle := Deskew(blank)
	require.Zero(t, angle)
	require.Equal(t, blank, out)
}
