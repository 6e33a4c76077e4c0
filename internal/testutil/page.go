// Package testutil renders synthetic page images so the scan-quality
// metrics can be exercised without real scans.
package testutil

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PageConfig describes a synthetic scanned page. The zero value is not
// usable; start from DefaultPage.
type PageConfig struct {
	Lines  []string
	Width  int
	Height int
	// Skew rotates the page counter-clockwise, in degrees.
	Skew float64
	// Blur applies a gaussian blur with this sigma; zero leaves the page
	// sharp.
	Blur float64
	// Ink and Paper are the text and background gray levels. A small gap
	// between them produces a washed-out page.
	Ink   uint8
	Paper uint8
}

// DefaultPage returns a crisp black-on-white page with enough text lines
// for the projection-based metrics to latch onto.
func DefaultPage() PageConfig {
	return PageConfig{
		Lines: []string{
			"The critique of pure reason is a treatise on method,",
			"not a system of the science itself; but it marks out",
			"the whole plan of the science, both with regard to its",
			"limits and with regard to its entire internal structure.",
			"For pure speculative reason has this peculiarity about",
			"it, that it can and should measure its own capacity.",
		},
		Width:  640,
		Height: 480,
		Ink:    0,
		Paper:  255,
	}
}

// RenderPage rasterizes the configured page. Text lines are spaced evenly
// down the page so row projections alternate between ink and paper.
func RenderPage(cfg PageConfig) image.Image {
	paper := color.NRGBA{cfg.Paper, cfg.Paper, cfg.Paper, 255}
	img := image.NewNRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{paper}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{color.NRGBA{cfg.Ink, cfg.Ink, cfg.Ink, 255}},
		Face: face,
	}

	lineHeight := face.Metrics().Height.Ceil() * 2
	margin := lineHeight
	for i, line := range cfg.Lines {
		y := margin + (i+1)*lineHeight
		if y >= cfg.Height-margin {
			break
		}
		drawer.Dot = fixed.P(margin, y)
		drawer.DrawString(line)
	}

	var out image.Image = img
	if cfg.Skew != 0 {
		out = imaging.Rotate(out, cfg.Skew, paper)
	}
	if cfg.Blur > 0 {
		out = imaging.Blur(out, cfg.Blur)
	}
	return out
}
