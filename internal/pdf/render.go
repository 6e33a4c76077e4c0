package pdf

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Renderer rasterizes a single PDF page to a pixmap. Implementations shell
// out; rendering is not done in-process.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int) (image.Image, error)
}

// PopplerRenderer renders pages through the pdftoppm binary.
type PopplerRenderer struct {
	Binary string
}

// NewPopplerRenderer returns a renderer using pdftoppm from PATH unless a
// binary path is given.
func NewPopplerRenderer(binary string) *PopplerRenderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &PopplerRenderer{Binary: binary}
}

// RenderPage rasterizes the 0-indexed page at the given DPI.
func (r *PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int) (image.Image, error) {
	tempDir, err := os.MkdirTemp("", "scholardoc-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	prefix := filepath.Join(tempDir, "page")
	pageNum := strconv.Itoa(pageIndex + 1)

	cmd := exec.CommandContext(ctx, r.Binary,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", pageNum,
		"-l", pageNum,
		"-singlefile",
		pdfPath, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed on %q page %d: %w: %s", pdfPath, pageIndex, err, out)
	}

	f, err := os.Open(prefix + ".png") //nolint:gosec // path built above
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no output for %q page %d: %w", pdfPath, pageIndex, err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}
