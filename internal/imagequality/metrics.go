// Package imagequality computes scan-quality metrics from rendered page
// pixmaps: contrast, sharpness and skew. The metrics feed the bad_scan
// struggle rule and the diagnostics sidecar; they are advisory and never
// block processing.
package imagequality

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// maxAnalysisWidth bounds the pixmap size before metric computation. A
// 300-DPI A4 render is ~2480px wide; metrics are stable at a quarter of
// that and the Laplacian pass is quadratic in pixel count.
const maxAnalysisWidth = 640

// Compute derives image-quality metrics from a rendered page pixmap. The
// dpi argument records the render resolution; it is reported, not measured.
// A nil or degenerate image yields nil rather than an error: diagnostics
// must never fail a page.
func Compute(img image.Image, dpi int) *types.ImageQuality {
	if img == nil {
		return nil
	}
	bounds := img.Bounds()
	if bounds.Dx() < 8 || bounds.Dy() < 8 {
		return nil
	}

	gray := downscaleGray(img, maxAnalysisWidth)

	return &types.ImageQuality{
		DPI:       dpi,
		Contrast:  contrast(gray),
		BlurScore: laplacianVariance(gray),
		SkewAngle: estimateSkew(gray),
	}
}

// downscaleGray converts to grayscale and caps the width, preserving aspect
// ratio. Uses approximate bilinear scaling; metric precision does not need
// Lanczos quality.
func downscaleGray(img image.Image, maxWidth int) *image.Gray {
	grayImg := imaging.Grayscale(img)
	bounds := grayImg.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > maxWidth {
		scale := float64(maxWidth) / float64(width)
		dst := image.NewNRGBA(image.Rect(0, 0, maxWidth, int(float64(height)*scale)))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), grayImg, bounds, xdraw.Over, nil)
		grayImg = dst
	}

	out := image.NewGray(grayImg.Bounds())
	for y := grayImg.Bounds().Min.Y; y < grayImg.Bounds().Max.Y; y++ {
		for x := grayImg.Bounds().Min.X; x < grayImg.Bounds().Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(grayImg.At(x, y)))
		}
	}
	return out
}

// contrast is the standard deviation of gray levels normalized to [0,1].
// Clean text on white paper sits well above 0.1; washed-out scans fall
// under it.
func contrast(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return 0
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum += float64(gray.GrayAt(x, y).Y)
		}
	}
	mean := sum / n

	var variance float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			d := float64(gray.GrayAt(x, y).Y) - mean
			variance += d * d
		}
	}
	return math.Sqrt(variance/n) / 255.0
}

// laplacianVariance measures sharpness: the variance of the 4-neighbour
// Laplacian response. Sharp text yields values in the hundreds; defocused
// scans fall below 50.
func laplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
	}

	responses := make([]float64, 0, (w-2)*(h-2))
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			responses = append(responses, lap)
			sum += lap
		}
	}
	mean := sum / float64(len(responses))
	var variance float64
	for _, r := range responses {
		d := r - mean
		variance += d * d
	}
	return variance / float64(len(responses))
}

// estimateSkew probes rotation angles in [-5°, +5°] and returns the angle
// whose horizontal projection profile has the highest variance. Text lines
// aligned with the raster produce sharply alternating row sums; the best
// angle negated is the page's skew.
func estimateSkew(gray *image.Gray) float64 {
	best, bestScore := 0.0, projectionVariance(gray)
	for angle := -5.0; angle <= 5.0; angle += 0.5 {
		if angle == 0 {
			continue
		}
		rotated := imaging.Rotate(gray, angle, color.White)
		score := projectionVariance(toGray(rotated))
		if score > bestScore {
			bestScore = score
			best = angle
		}
	}
	return -best
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

// projectionVariance is the variance of per-row dark-pixel counts.
func projectionVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	h := bounds.Dy()
	if h == 0 {
		return 0
	}

	rows := make([]float64, h)
	for y := 0; y < h; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, bounds.Min.Y+y).Y < 128 {
				rows[y]++
			}
		}
	}

	var sum float64
	for _, r := range rows {
		sum += r
	}
	mean := sum / float64(h)
	var variance float64
	for _, r := range rows {
		d := r - mean
		variance += d * d
	}
	return variance / float64(h)
}
