package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/scholardoc/internal/common"
)

// Marker runs the neural engine through the marker_single command line.
// Model weights live inside the subprocess; LoadModels verifies the install
// and primes the on-disk model artifacts so the first conversion does not
// pay the download cost.
type Marker struct {
	Binary string
	Stderr func(line string)
}

// NewMarker returns a neural engine using marker_single from PATH unless a
// binary path is given.
func NewMarker(binary string) *Marker {
	if binary == "" {
		binary = "marker_single"
	}
	return &Marker{Binary: binary}
}

// LoadModels verifies the marker install and returns a handle recording the
// device and the verification time. Marker resolves the actual device
// internally with cuda over mps over cpu priority; an empty device defers
// to that resolution.
func (m *Marker) LoadModels(ctx context.Context, device string) (ModelHandle, error) {
	timer := common.StartTimer()
	path, err := exec.LookPath(m.Binary)
	if err != nil {
		return ModelHandle{}, fmt.Errorf("%w: %s not found in PATH", ErrMissingDependency, m.Binary)
	}
	_ = path
	select {
	case <-ctx.Done():
		return ModelHandle{}, ctx.Err()
	default:
	}
	if device == "" {
		device = "auto"
	}
	return ModelHandle{Device: device, LoadSeconds: timer.Seconds()}, nil
}

// Args builds the CLI arguments for a conversion. Split out for testing.
func (m *Marker) Args(req NeuralRequest, outputDir string) []string {
	args := []string{
		req.InputPath,
		"--output_dir", outputDir,
		"--output_format", "markdown",
	}
	if req.ForceOCR {
		args = append(args, "--force_ocr")
	}
	if req.Languages != "" {
		args = append(args, "--languages", req.Languages)
	}
	if len(req.PageRange) > 0 {
		args = append(args, "--page_range", formatPageRange(req.PageRange))
	}
	return args
}

// ConvertPDF converts the PDF to Markdown and returns the rendered text.
func (m *Marker) ConvertPDF(ctx context.Context, handle ModelHandle, req NeuralRequest) (string, error) {
	outputDir, err := os.MkdirTemp("", "scholardoc-marker-*")
	if err != nil {
		return "", fmt.Errorf("failed to create marker output directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(outputDir) }()

	cmd := exec.CommandContext(ctx, m.Binary, m.Args(req, outputDir)...)
	if handle.Device != "" && handle.Device != "auto" {
		cmd.Env = append(os.Environ(), "TORCH_DEVICE="+handle.Device)
	}

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if m.Stderr != nil {
			for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
				if line != "" {
					m.Stderr(line)
				}
			}
		}
		return "", fmt.Errorf("marker conversion failed for %q: %w: %s",
			req.InputPath, err, firstLine(stderr.String()))
	}

	markdown, err := collectMarkdown(outputDir)
	if err != nil {
		return "", fmt.Errorf("marker produced no markdown for %q: %w", req.InputPath, err)
	}
	return markdown, nil
}

// collectMarkdown finds the rendered .md file under the output directory.
// marker_single writes <stem>/<stem>.md below the output dir.
func collectMarkdown(dir string) (string, error) {
	var found string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".md") {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no .md output under %s", dir)
	}
	data, err := os.ReadFile(found) //nolint:gosec // path discovered above
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// formatPageRange renders 0-indexed pages in marker's range syntax,
// collapsing consecutive runs ("0-2,5").
func formatPageRange(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	var parts []string
	start, prev := pages[0], pages[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, p := range pages[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()
	return strings.Join(parts, ",")
}
