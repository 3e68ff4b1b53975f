package ocr

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// maxSkewPoints bounds the foreground sample fed to the hull computation.
const maxSkewPoints = 200_000

// minCorrection is the smallest rotation, in degrees, worth resampling for.
const minCorrection = 0.1

type point struct{ x, y float64 }

// Deskew rotates img so that its text block is axis aligned and returns the
// corrected image together with the applied angle in degrees.
func Deskew(img image.Image) (image.Image, float64) {
	angle := EstimateSkew(img)
	if math.Abs(angle) < minCorrection {
		return img, 0
	}
	return imaging.Rotate(img, angle, color.White), angle
}

// EstimateSkew returns the rotation of the minimum-area rectangle enclosing
// the foreground pixels, normalized to (-45, 45] degrees. Positive values mean
// the content is tilted clockwise on screen.
func EstimateSkew(img image.Image) float64 {
	pts := foreground(img, maxSkewPoints)
	if len(pts) < 3 {
		return 0
	}
	return minAreaAngle(pts)
}

// foreground collects dark pixels using an Otsu threshold, subsampling rows
// and columns evenly when the image holds more than limit candidates.
func foreground(img image.Image, limit int) []point {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	threshold := otsu(gray)

	stride := 1
	if area := b.Dx() * b.Dy(); area > limit && limit > 0 {
		stride = int(math.Ceil(math.Sqrt(float64(area) / float64(limit))))
	}
	var pts []point
	for y := b.Min.Y; y < b.Max.Y; y += stride {
		for x := b.Min.X; x < b.Max.X; x += stride {
			i := gray.PixOffset(x, y)
			if gray.Pix[i] <= threshold {
				pts = append(pts, point{float64(x), float64(y)})
			}
		}
	}
	return pts
}

// otsu picks the gray level that maximizes between-class variance. Pages that
// are almost blank still get a threshold below paper white.
func otsu(gray *image.NRGBA) uint8 {
	var hist [256]int
	b := gray.Bounds()
	total := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[gray.Pix[gray.PixOffset(x, y)]]++
			total++
		}
	}
	if total == 0 {
		return 127
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}
	var (
		sumB, best float64
		wB         int
		level      = 127
	)
	for i := 0; i < 256; i++ {
		wB += hist[i]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * hist[i])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = i
		}
	}
	if level >= 250 {
		level = 127
	}
	return uint8(level)
}

// minAreaAngle runs rotating calipers over the convex hull of pts.
func minAreaAngle(pts []point) float64 {
	hull := convexHull(pts)
	if len(hull) < 3 {
		return 0
	}
	bestArea := math.Inf(1)
	bestAngle := 0.0
	for i := range hull {
		p, q := hull[i], hull[(i+1)%len(hull)]
		theta := math.Atan2(q.y-p.y, q.x-p.x)
		cos, sin := math.Cos(theta), math.Sin(theta)
		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, h := range hull {
			u := h.x*cos + h.y*sin
			v := -h.x*sin + h.y*cos
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		if area := (maxU - minU) * (maxV - minV); area < bestArea {
			bestArea = area
			bestAngle = theta
		}
	}
	return normalizeAngle(bestAngle * 180 / math.Pi)
}

// normalizeAngle folds a rectangle edge direction into (-45, 45].
func normalizeAngle(deg float64) float64 {
	for deg > 45 {
		deg -= 90
	}
	for deg <= -45 {
		deg += 90
	}
	return deg
}

// convexHull returns the hull in counter-clockwise order (Andrew's monotone chain).
func convexHull(pts []point) []point {
	sorted := append([]point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].x != sorted[j].x {
			return sorted[i].x < sorted[j].x
		}
		return sorted[i].y < sorted[j].y
	})
	if len(sorted) < 3 {
		return sorted
	}
	cross := func(o, a, b point) float64 {
		return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
	}
	hull := make([]point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
