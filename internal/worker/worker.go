// Package worker implements the Phase 1 per-file contract: extract the
// existing text layer, score it, and either keep the input verbatim or
// re-OCR the whole file with the fast engine and flag the pages that still
// score below threshold. A worker never fails upward; every outcome is a
// FileResult.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/scholardoc/internal/common"
	"github.com/MeKo-Tech/scholardoc/internal/diagnostics"
	"github.com/MeKo-Tech/scholardoc/internal/engine"
	"github.com/MeKo-Tech/scholardoc/internal/events"
	"github.com/MeKo-Tech/scholardoc/internal/imagequality"
	"github.com/MeKo-Tech/scholardoc/internal/pdf"
	"github.com/MeKo-Tech/scholardoc/internal/postprocess"
	"github.com/MeKo-Tech/scholardoc/internal/quality"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

const (
	// skipBigMegapixels skips re-OCR of images above this size.
	skipBigMegapixels = 100

	// defaultTesseractTimeout is the fast engine's per-page timeout.
	defaultTesseractTimeout = 600.0

	// diagnosticsDPI is the render resolution for scan-quality metrics.
	// The blur cutoff in the struggle classifier assumes 300-DPI renders.
	diagnosticsDPI = 300
)

// Config carries the per-run options a worker needs.
type Config struct {
	Threshold      float64
	ForceTesseract bool
	// Languages in fast-engine format, e.g. "eng+fra+deu".
	Languages string
	// JobsPerFile bounds the fast engine's internal parallelism.
	JobsPerFile int
	// TesseractTimeout in seconds; zero means the default.
	TesseractTimeout float64
	// Diagnostics enables page rendering, scan-quality metrics and the
	// confidence signal.
	Diagnostics bool
}

// Worker processes one file at a time. Safe for reuse across files but not
// for concurrent calls; the scheduler runs one worker per goroutine.
type Worker struct {
	ID       int
	Config   Config
	Fast     engine.FastEngine
	Analyzer *quality.Analyzer
	FinalDir string
	WorkDir  string
	Logger   *slog.Logger

	// Callback receives per-page quality events; nil discards them.
	Callback events.Callback

	// Renderer and Words are used only in diagnostics mode; either may be
	// nil, disabling the image-based signals.
	Renderer pdf.Renderer
	Words    engine.WordData

	// Extract reads per-page text from a PDF, overridable in tests.
	// Defaults to pdf.ExtractTextByPage.
	Extract func(path string) ([]string, error)
}

func (w *Worker) extract(path string) ([]string, error) {
	if w.Extract != nil {
		return w.Extract(path)
	}
	return pdf.ExtractTextByPage(path)
}

func (w *Worker) callback() events.Callback {
	if w.Callback != nil {
		return w.Callback
	}
	return events.NullCallback{}
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// ProcessFile runs the Phase 1 contract on one PDF. It always returns a
// FileResult; engine errors become a failed result with a bounded error
// chain, never a panic or an error return.
func (w *Worker) ProcessFile(ctx context.Context, inputPath string) types.FileResult {
	total := common.StartTimer()
	sw := common.NewStopwatch()
	name := filepath.Base(inputPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	log := w.logger().With("file", name)

	fail := func(err error, pageCount int) types.FileResult {
		log.Error("file processing failed", "error", err)
		fr := types.NewFailedFileResult(name, errorString(err), total.Seconds())
		fr.PageCount = pageCount
		fr.PhaseTimings = sw.Timings()
		return fr
	}

	pageTexts, err := w.extract(inputPath)
	sw.Lap("extract_text")
	if err != nil {
		return fail(fmt.Errorf("failed to read %q: %w", inputPath, err), 0)
	}
	pageCount := len(pageTexts)

	results, imgQuality := w.scorePages(ctx, inputPath, pageTexts)
	sw.Lap("analyze_quality")

	if !w.Config.ForceTesseract && noneFlagged(results) {
		outputPath := filepath.Join(w.FinalDir, stem+".pdf")
		if err := copyFile(inputPath, outputPath); err != nil {
			return fail(fmt.Errorf("failed to copy verbatim output: %w", err), pageCount)
		}
		if err := w.writeText(stem, pageTexts); err != nil {
			return fail(err, pageCount)
		}
		log.Info("existing text layer is good, kept verbatim",
			"pages", pageCount, "quality", meanScore(results))
		return w.buildResult(name, types.EngineExisting, outputPath,
			pageTexts, results, imgQuality, sw.Timings(), total)
	}

	// Existing text is not good enough (or re-OCR is forced): run the
	// fast engine over the whole file.
	workDir := filepath.Join(w.WorkDir, stem)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return fail(fmt.Errorf("failed to create work directory: %w", err), pageCount)
	}
	ocrPath := filepath.Join(workDir, stem+"_tesseract.pdf")

	timeout := w.Config.TesseractTimeout
	if timeout <= 0 {
		timeout = defaultTesseractTimeout
	}

	sw.Skip()
	err = w.Fast.OCR(ctx, engine.FastRequest{
		InputPath:        inputPath,
		OutputPath:       ocrPath,
		Languages:        w.Config.Languages,
		Jobs:             w.Config.JobsPerFile,
		TesseractTimeout: timeout,
		SkipBig:          skipBigMegapixels,
	})
	sw.Lap("tesseract")

	switch {
	case err == nil:
	case errors.Is(err, engine.ErrPriorOCRFound):
		// The file already carries an OCR layer; keep the input as the
		// OCR output.
		log.Info("prior OCR layer found, re-OCR unnecessary")
		ocrPath = inputPath
	default:
		return fail(fmt.Errorf("fast OCR failed: %w", err), pageCount)
	}

	ocrTexts, err := w.extract(ocrPath)
	sw.Lap("tess_extract")
	if err != nil {
		return fail(fmt.Errorf("failed to read OCR output %q: %w", ocrPath, err), pageCount)
	}
	if len(ocrTexts) > pageCount {
		pageCount = len(ocrTexts)
	}

	ocrResults, ocrImgQuality := w.scorePages(ctx, ocrPath, ocrTexts)
	sw.Lap("tess_analyze")

	outputPath := filepath.Join(w.FinalDir, stem+".pdf")
	if ocrPath == inputPath {
		err = copyFile(inputPath, outputPath)
	} else {
		err = os.Rename(ocrPath, outputPath)
		if err != nil {
			err = copyFile(ocrPath, outputPath)
		}
	}
	if err != nil {
		return fail(fmt.Errorf("failed to write final PDF: %w", err), pageCount)
	}
	if err := w.writeText(stem, ocrTexts); err != nil {
		return fail(err, pageCount)
	}

	fr := w.buildResult(name, types.EngineTesseract, outputPath,
		ocrTexts, ocrResults, ocrImgQuality, sw.Timings(), total)
	if n := len(fr.FlaggedPages()); n > 0 {
		log.Info("fast OCR complete, pages flagged for neural pass",
			"pages", pageCount, "flagged", n, "quality", fr.QualityScore)
	} else {
		log.Info("fast OCR complete", "pages", pageCount, "quality", fr.QualityScore)
	}
	return fr
}

// scorePages runs the quality compositor over every page. In diagnostics
// mode each page is additionally rendered for scan-quality metrics and the
// word-confidence signal; failures there degrade to text-only scoring.
func (w *Worker) scorePages(ctx context.Context, pdfPath string, pageTexts []string) ([]quality.Result, []*types.ImageQuality) {
	imgQuality := make([]*types.ImageQuality, len(pageTexts))
	if !w.Config.Diagnostics || w.Renderer == nil {
		return w.Analyzer.AnalyzePages(pageTexts, nil, w.Config.Diagnostics), imgQuality
	}

	confPerPage := make([][]quality.WordConfidence, len(pageTexts))
	for i := range pageTexts {
		img, err := w.Renderer.RenderPage(ctx, pdfPath, i, diagnosticsDPI)
		if err != nil {
			w.logger().Debug("page render failed, skipping image diagnostics",
				"file", filepath.Base(pdfPath), "page", i, "error", err)
			continue
		}
		imgQuality[i] = imagequality.Compute(img, diagnosticsDPI)
		confPerPage[i] = w.wordConfidence(ctx, img)
	}
	return w.Analyzer.AnalyzePages(pageTexts, confPerPage, true), imgQuality
}

// wordConfidence writes the rendered page to a temp PNG and reads back
// word-level confidence records. Returns nil when the data engine is
// unavailable, leaving the confidence signal absent.
func (w *Worker) wordConfidence(ctx context.Context, img image.Image) []quality.WordConfidence {
	if w.Words == nil {
		return nil
	}
	tmp, err := os.CreateTemp(w.WorkDir, "page-*.png")
	if err != nil {
		return nil
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return nil
	}
	if err := tmp.Close(); err != nil {
		return nil
	}

	words, err := w.Words.ImageToData(ctx, tmp.Name(), w.Config.Languages)
	if err != nil {
		w.logger().Debug("word confidence extraction failed", "error", err)
		return nil
	}
	conf := make([]quality.WordConfidence, len(words))
	for i, wd := range words {
		conf[i] = quality.WordConfidence{Text: wd.Text, Conf: wd.Conf}
	}
	return conf
}

func noneFlagged(results []quality.Result) bool {
	for _, r := range results {
		if r.Flagged {
			return false
		}
	}
	return true
}

func meanScore(results []quality.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// writeText writes final/{stem}.txt with the postprocessed page texts
// joined by blank lines, atomically.
func (w *Worker) writeText(stem string, pageTexts []string) error {
	content := postprocess.Apply(strings.Join(pageTexts, "\n\n"), nil)
	tmp, err := os.CreateTemp(w.FinalDir, stem+"-*.txt.tmp")
	if err != nil {
		return fmt.Errorf("failed to write text output: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write text output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write text output: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(w.FinalDir, stem+".txt"))
}

// buildResult assembles the FileResult from per-page scores.
func (w *Worker) buildResult(
	name string,
	eng types.Engine,
	outputPath string,
	pageTexts []string,
	results []quality.Result,
	imgQuality []*types.ImageQuality,
	timings map[string]float64,
	total common.Timer,
) types.FileResult {
	pages := make([]types.PageResult, len(results))
	for i, qr := range results {
		status := types.StatusGood
		if qr.Flagged {
			status = types.StatusFlagged
		}
		if qr.GrayZone {
			// Pages this close to the cutoff deserve attention; surface
			// them so UIs can show the borderline scores.
			w.callback().OnProgress(events.ProgressEvent{
				Phase:    types.PhaseQuality,
				File:     name,
				Page:     i,
				WorkerID: w.ID,
				Message: fmt.Sprintf("gray zone: score %.3f near threshold %.2f",
					qr.Score, w.Analyzer.Threshold()),
			})
		}
		pg := types.PageResult{
			PageNumber:   i,
			Status:       status,
			QualityScore: qr.Score,
			Engine:       eng,
			Flagged:      qr.Flagged,
			Text:         pageTexts[i],
		}
		d := diagnostics.Build(qr, w.Analyzer.Threshold())
		if w.Config.Diagnostics {
			d.TesseractText = pageTexts[i]
			if i < len(imgQuality) && imgQuality[i] != nil {
				d.ImageQuality = imgQuality[i]
				d.StruggleCategories = diagnostics.ClassifyStruggle(diagnostics.StruggleInput{
					SignalScores: qr.SignalScores,
					Composite:    qr.Score,
					Threshold:    w.Analyzer.Threshold(),
					ImageQuality: imgQuality[i],
				})
			}
		}
		pg.Diagnostics = d
		pages[i] = pg
	}

	fr := types.FileResult{
		Filename:     name,
		Success:      true,
		Engine:       eng,
		PageCount:    len(pages),
		Pages:        pages,
		OutputPath:   outputPath,
		TimeSeconds:  total.Seconds(),
		PhaseTimings: timings,
	}
	fr.RecomputeQuality()
	return fr
}

// errorString renders the full wrapped chain plus the innermost cause,
// bounded so sidecars stay readable.
func errorString(err error) string {
	const maxLen = 2000
	s := fmt.Sprintf("%T: %v", err, err)
	if root := errors.Unwrap(err); root != nil {
		for {
			next := errors.Unwrap(root)
			if next == nil {
				break
			}
			root = next
		}
		s += fmt.Sprintf(" (cause: %T: %v)", root, root)
	}
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src) //nolint:gosec // paths are operator-supplied inputs
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
