// Package engine defines the ports to the external OCR engines and their
// subprocess-backed implementations. Both engines are external
// collaborators; nothing in this package loads model weights in-process.
package engine

import (
	"context"
	"errors"
)

// ErrPriorOCRFound is returned by the fast engine when the input already
// carries an OCR layer. Callers treat it as success: re-OCR was unnecessary.
var ErrPriorOCRFound = errors.New("prior OCR layer found")

// ErrMissingDependency indicates the engine binary or one of its runtime
// dependencies is not installed.
var ErrMissingDependency = errors.New("missing engine dependency")

// FastRequest configures one fast-engine run over a whole file.
type FastRequest struct {
	InputPath  string
	OutputPath string
	// Languages in the engine's native format, e.g. "eng+fra".
	Languages string
	// Jobs bounds the engine's internal parallelism for this file.
	Jobs int
	// TesseractTimeout is the per-page OCR timeout in seconds.
	TesseractTimeout float64
	// SkipBig skips images above this many megapixels.
	SkipBig int
}

// FastEngine is the Phase 1 OCR port: rewrite a PDF with a fresh text
// layer. Implementations shell out to ocrmypdf.
type FastEngine interface {
	OCR(ctx context.Context, req FastRequest) error
}

// ModelHandle is an opaque reference to a loaded neural model set, valid
// until the model cache evicts it.
type ModelHandle struct {
	Device      string
	LoadSeconds float64
}

// NeuralRequest configures one neural conversion over a combined PDF.
type NeuralRequest struct {
	InputPath string
	// Languages as comma-separated codes in the engine's format, e.g. "en,fr".
	Languages string
	ForceOCR  bool
	// PageRange restricts conversion to these 0-indexed pages; nil means all.
	PageRange []int
}

// NeuralEngine is the Phase 2 OCR port: convert a PDF to Markdown with the
// heavyweight model stack. Implementations shell out to marker.
type NeuralEngine interface {
	LoadModels(ctx context.Context, device string) (ModelHandle, error)
	ConvertPDF(ctx context.Context, handle ModelHandle, req NeuralRequest) (string, error)
}

// WordData is the per-word OCR data port feeding the confidence signal.
type WordData interface {
	// ImageToData OCRs a rendered page image file and returns word-level
	// text/confidence records.
	ImageToData(ctx context.Context, imagePath, languages string) ([]Word, error)
}

// Word is one recognized word with its confidence in [0,100].
type Word struct {
	Text string
	Conf int
}
