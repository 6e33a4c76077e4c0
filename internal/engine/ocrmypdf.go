package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ocrmypdf CLI exit codes (see ocrmypdf.exceptions.ExitCode).
const (
	exitOK                = 0
	exitMissingDependency = 3
	exitAlreadyDoneOCR    = 6
)

// OCRmyPDF runs the fast engine through the ocrmypdf command line.
type OCRmyPDF struct {
	Binary string
	// Stderr receives the subprocess's stderr line by line, typically the
	// worker's log forwarder. Nil discards it.
	Stderr func(line string)
}

// NewOCRmyPDF returns a fast engine using ocrmypdf from PATH unless a
// binary path is given.
func NewOCRmyPDF(binary string) *OCRmyPDF {
	if binary == "" {
		binary = "ocrmypdf"
	}
	return &OCRmyPDF{Binary: binary}
}

// Args builds the CLI arguments for a request. Split out for testing.
func (o *OCRmyPDF) Args(req FastRequest) []string {
	args := []string{
		"--redo-ocr",
		"--clean",
		"--output-type", "pdfa",
		"--jobs", strconv.Itoa(max(1, req.Jobs)),
		"--tesseract-timeout", strconv.FormatFloat(req.TesseractTimeout, 'f', -1, 64),
		"--skip-big", strconv.Itoa(req.SkipBig),
	}
	if req.Languages != "" {
		// tesseract joins multiple languages with '+'.
		args = append(args, "-l", strings.ReplaceAll(req.Languages, ",", "+"))
	}
	return append(args, req.InputPath, req.OutputPath)
}

// OCR rewrites the input PDF with a fresh text layer. Exit code 6 (a prior
// OCR layer exists) maps to ErrPriorOCRFound, which callers count as
// success; exit code 3 maps to ErrMissingDependency.
func (o *OCRmyPDF) OCR(ctx context.Context, req FastRequest) error {
	cmd := exec.CommandContext(ctx, o.Binary, o.Args(req)...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	err := cmd.Run()
	if o.Stderr != nil {
		for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
			if line != "" {
				o.Stderr(line)
			}
		}
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case exitAlreadyDoneOCR:
			return fmt.Errorf("%w: %s", ErrPriorOCRFound, req.InputPath)
		case exitMissingDependency:
			return fmt.Errorf("%w: %s", ErrMissingDependency, firstLine(stderr.String()))
		}
		return fmt.Errorf("ocrmypdf failed on %q (exit %d): %s",
			req.InputPath, exitErr.ExitCode(), firstLine(stderr.String()))
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s not found in PATH", ErrMissingDependency, o.Binary)
	}
	return fmt.Errorf("ocrmypdf failed on %q: %w", req.InputPath, err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
