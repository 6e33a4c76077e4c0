// Package pipeline is the two-phase scheduler: parallel per-file fast OCR
// workers feed a single cross-file neural batch pass over the pages that
// scored below threshold. The scheduler owns the output directory layout,
// the logging listener and the event stream.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/MeKo-Tech/scholardoc/internal/batchplan"
	"github.com/MeKo-Tech/scholardoc/internal/common"
	"github.com/MeKo-Tech/scholardoc/internal/config"
	"github.com/MeKo-Tech/scholardoc/internal/engine"
	"github.com/MeKo-Tech/scholardoc/internal/environment"
	"github.com/MeKo-Tech/scholardoc/internal/events"
	"github.com/MeKo-Tech/scholardoc/internal/logging"
	"github.com/MeKo-Tech/scholardoc/internal/modelcache"
	"github.com/MeKo-Tech/scholardoc/internal/pdf"
	"github.com/MeKo-Tech/scholardoc/internal/quality"
	"github.com/MeKo-Tech/scholardoc/internal/sidecar"
	"github.com/MeKo-Tech/scholardoc/internal/types"
	"github.com/MeKo-Tech/scholardoc/internal/version"
	"github.com/MeKo-Tech/scholardoc/internal/worker"
)

// Pipeline runs the full two-phase OCR pass over a set of input PDFs.
type Pipeline struct {
	cfg      config.Config
	callback events.Callback

	fast     engine.FastEngine
	neural   engine.NeuralEngine
	words    engine.WordData
	renderer pdf.Renderer
	checker  *environment.Checker
	cache    *modelcache.Cache

	// numCPU is overridable in tests to pin pool arithmetic.
	numCPU int
	// extract and splice override the pdfcpu-backed defaults in tests.
	extract func(string) ([]string, error)
	splice  batchplan.Splicer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCallback attaches an event callback.
func WithCallback(cb events.Callback) Option {
	return func(p *Pipeline) { p.callback = cb }
}

// WithFastEngine replaces the default ocrmypdf engine.
func WithFastEngine(e engine.FastEngine) Option {
	return func(p *Pipeline) { p.fast = e }
}

// WithNeuralEngine replaces the default marker engine.
func WithNeuralEngine(e engine.NeuralEngine) Option {
	return func(p *Pipeline) { p.neural = e }
}

// WithChecker replaces the environment checker.
func WithChecker(c *environment.Checker) Option {
	return func(p *Pipeline) { p.checker = c }
}

// WithModelCache replaces the process-wide model cache.
func WithModelCache(c *modelcache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithRenderer sets the page renderer used in diagnostics mode.
func WithRenderer(r pdf.Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// WithWordData sets the word-confidence extractor used in diagnostics mode.
func WithWordData(w engine.WordData) Option {
	return func(p *Pipeline) { p.words = w }
}

// WithTextExtractor overrides per-page text extraction.
func WithTextExtractor(fn func(string) ([]string, error)) Option {
	return func(p *Pipeline) { p.extract = fn }
}

// WithPageSplicer overrides the page splicer that assembles neural
// sub-batch PDFs.
func WithPageSplicer(fn batchplan.Splicer) Option {
	return func(p *Pipeline) { p.splice = fn }
}

// New builds a pipeline from configuration. The external engines default
// to their PATH-resolved subprocess implementations.
func New(cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		callback: events.NullCallback{},
		fast:     engine.NewOCRmyPDF(""),
		neural:   engine.NewMarker(""),
		words:    engine.NewTesseract(""),
		renderer: pdf.NewPopplerRenderer(""),
		checker:  environment.NewChecker(),
		numCPU:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = modelcache.Instance(p.neural, modelcache.CPUAccelerator{})
	}
	return p
}

// Run processes the input files and returns the batch result. The returned
// error covers setup failures only; per-file failures are carried inside
// the result.
func (p *Pipeline) Run(ctx context.Context, inputFiles []string) (*types.BatchResult, error) {
	total := common.StartTimer()

	tessLangs, suryaLangs, err := p.cfg.LanguagePair()
	if err != nil {
		return nil, err
	}

	if err := p.checker.Validate(ctx, tessLangs); err != nil {
		return nil, err
	}

	finalDir := filepath.Join(p.cfg.OutputDir, "final")
	workDir := filepath.Join(p.cfg.OutputDir, "work")
	logDir := filepath.Join(p.cfg.OutputDir, "logs")
	for _, dir := range []string{finalDir, workDir, logDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %q: %w", dir, err)
		}
	}

	listener, err := logging.Start(logDir, p.cfg.Verbose)
	if err != nil {
		return nil, err
	}
	defer listener.Stop()
	log := listener.Logger()

	if o, ok := p.fast.(*engine.OCRmyPDF); ok && o.Stderr == nil {
		o.Stderr = func(line string) { listener.ForwardSubprocessLine("ocrmypdf", line) }
	}

	p.checker.LogStartupDiagnostics(ctx, log, tessLangs)

	cb := events.NewMultiCallback(p.callback, events.NewLoggingCallback(log))

	phaseTimings := map[string]float64{}
	phaseOne := common.StartTimer()
	results := p.runPhaseOne(ctx, inputFiles, tessLangs, finalDir, workDir, listener, cb)
	phaseTimings[types.PhaseTesseract] = phaseOne.Seconds()

	if p.cfg.Pipeline.ForceSurya {
		for _, fr := range results {
			for i := range fr.Pages {
				fr.Pages[i].Flagged = true
				fr.Pages[i].Status = types.StatusFlagged
			}
		}
	}

	sourcePaths := make(map[string]string, len(inputFiles))
	for _, path := range inputFiles {
		sourcePaths[filepath.Base(path)] = path
	}
	flagged := batchplan.Collect(results, sourcePaths)
	if len(flagged) > 0 {
		phaseTwo := common.StartTimer()
		p.runPhaseTwo(ctx, flagged, suryaLangs, finalDir, workDir, log, cb)
		phaseTimings[types.PhaseSurya] = phaseTwo.Seconds()
	}

	for _, fr := range results {
		fr.SortPages()
		fr.Engine = types.ComputeEngineFromPages(fr.Pages)
		fr.RecomputeQuality()
	}

	p.writeSidecars(results, finalDir, log)
	p.cleanup(finalDir, workDir, log)

	batch := &types.BatchResult{
		Files:        make([]types.FileResult, len(results)),
		TotalTime:    total.Seconds(),
		PhaseTimings: phaseTimings,
	}
	for i, fr := range results {
		batch.Files[i] = *fr
	}
	batch.Summarize()

	log.Info("pipeline complete",
		"successful", batch.Successful,
		"failed", batch.Failed,
		"total_time", batch.TotalTime,
		"output", finalDir)
	return batch, nil
}

// poolSize returns the Phase 1 worker count and per-file job budget so
// that pool * jobs never oversubscribes the CPU.
func (p *Pipeline) poolSize(fileCount int) (workers, jobsPerFile int) {
	workers = p.cfg.Pipeline.MaxWorkers
	if fileCount < workers {
		workers = fileCount
	}
	if p.numCPU < workers {
		workers = p.numCPU
	}
	if workers < 1 {
		workers = 1
	}
	jobsPerFile = p.numCPU / workers
	if jobsPerFile < 1 {
		jobsPerFile = 1
	}
	return workers, jobsPerFile
}

type fileJob struct {
	index int
	path  string
}

type fileOutcome struct {
	index  int
	result types.FileResult
}

// runPhaseOne dispatches one job per input file to a bounded worker pool
// and collects the results, enforcing the per-file timeout.
func (p *Pipeline) runPhaseOne(
	ctx context.Context,
	inputFiles []string,
	tessLangs string,
	finalDir, workDir string,
	listener *logging.Listener,
	cb events.Callback,
) []*types.FileResult {
	total := len(inputFiles)
	cb.OnPhase(events.PhaseEvent{
		Phase:      types.PhaseTesseract,
		Status:     events.StatusStarted,
		FilesCount: total,
	})

	workers, jobsPerFile := p.poolSize(total)
	timeout := time.Duration(p.cfg.Pipeline.Timeout) * time.Second

	jobs := make(chan fileJob, total)
	outcomes := make(chan fileOutcome, total)

	for id := 1; id <= workers; id++ {
		go p.phaseOneWorker(ctx, id, jobsPerFile, tessLangs, finalDir, workDir,
			timeout, listener, cb, jobs, outcomes)
	}
	for i, path := range inputFiles {
		jobs <- fileJob{index: i, path: path}
	}
	close(jobs)

	results := make([]*types.FileResult, total)
	for done := 1; done <= total; done++ {
		out := <-outcomes
		fr := out.result
		results[out.index] = &fr
		cb.OnProgress(events.ProgressEvent{
			Phase:   types.PhaseTesseract,
			Current: done,
			Total:   total,
			File:    fr.Filename,
			Message: fmt.Sprintf("%d/%d", done, total),
		})
	}

	cb.OnPhase(events.PhaseEvent{
		Phase:      types.PhaseTesseract,
		Status:     events.StatusCompleted,
		FilesCount: total,
	})
	return results
}

func (p *Pipeline) phaseOneWorker(
	ctx context.Context,
	id, jobsPerFile int,
	tessLangs, finalDir, workDir string,
	timeout time.Duration,
	listener *logging.Listener,
	cb events.Callback,
	jobs <-chan fileJob,
	outcomes chan<- fileOutcome,
) {
	log, err := listener.WorkerLogger(id)
	if err != nil {
		log = listener.Logger()
	}

	w := &worker.Worker{
		ID: id,
		Config: worker.Config{
			Threshold:      p.cfg.Pipeline.QualityThreshold,
			ForceTesseract: p.cfg.Pipeline.ForceTesseract,
			Languages:      tessLangs,
			JobsPerFile:    jobsPerFile,
			Diagnostics:    p.cfg.Pipeline.Diagnostics,
		},
		Fast:     p.fast,
		Analyzer: p.newAnalyzer(log),
		FinalDir: finalDir,
		WorkDir:  workDir,
		Logger:   log,
		Callback: cb,
		Renderer: p.renderer,
		Words:    p.words,
		Extract:  p.extract,
	}

	for job := range jobs {
		outcomes <- fileOutcome{index: job.index, result: p.processWithTimeout(ctx, w, job.path, timeout)}
	}
}

// processWithTimeout bounds one file's Phase 1 work. On timeout a failed
// FileResult is synthesized; the in-flight engine call runs to completion
// in the background and its result is discarded.
func (p *Pipeline) processWithTimeout(
	ctx context.Context,
	w *worker.Worker,
	path string,
	timeout time.Duration,
) types.FileResult {
	done := make(chan types.FileResult, 1)
	timer := common.StartTimer()
	go func() {
		done <- w.ProcessFile(ctx, path)
	}()

	select {
	case fr := <-done:
		return fr
	case <-time.After(timeout):
		return types.NewFailedFileResult(
			filepath.Base(path),
			fmt.Sprintf("timed out after %.0fs", timeout.Seconds()),
			timer.Seconds(),
		)
	case <-ctx.Done():
		return types.NewFailedFileResult(
			filepath.Base(path),
			fmt.Sprintf("canceled: %v", ctx.Err()),
			timer.Seconds(),
		)
	}
}

// runPhaseTwo loads the neural models through the cache and hands the
// flagged pages to the batch planner. Phase 2 failures never fail the run;
// affected pages keep their Phase 1 values.
func (p *Pipeline) runPhaseTwo(
	ctx context.Context,
	flagged []batchplan.FlaggedPage,
	suryaLangs, finalDir, workDir string,
	log *slog.Logger,
	cb events.Callback,
) {
	files := map[string]struct{}{}
	for _, fp := range flagged {
		files[fp.File.Filename] = struct{}{}
	}
	cb.OnPhase(events.PhaseEvent{
		Phase:      types.PhaseSurya,
		Status:     events.StatusStarted,
		FilesCount: len(files),
		Detail:     fmt.Sprintf("%d flagged pages", len(flagged)),
	})
	defer cb.OnPhase(events.PhaseEvent{
		Phase:      types.PhaseSurya,
		Status:     events.StatusCompleted,
		FilesCount: len(files),
	})

	cb.OnModel(events.ModelEvent{ModelName: "surya", Status: events.StatusLoading})
	handle, err := p.cache.GetModels(ctx, p.cfg.Pipeline.Device)
	if err != nil {
		log.Warn("model load failed, flagged pages keep fast-engine output", "error", err)
		return
	}
	cb.OnModel(events.ModelEvent{
		ModelName:   "surya",
		Status:      events.StatusReady,
		TimeSeconds: handle.LoadSeconds,
	})

	planner := &batchplan.Planner{
		Neural:       &handleConverter{neural: p.neural, handle: handle},
		Cache:        p.cache,
		Analyzer:     p.newAnalyzer(log),
		Languages:    suryaLangs,
		WorkDir:      workDir,
		FinalDir:     finalDir,
		MaxBatchSize: p.cfg.Pipeline.BatchSize,
		Accelerated:  handle.Device != "cpu",
		Logger:       log,
		Callback:     cb,
		Splice:       p.splice,
	}

	updated, err := planner.Run(ctx, flagged)
	if err != nil {
		log.Warn("neural batch pass aborted", "error", err)
		return
	}
	log.Info("neural batch pass complete", "pages_updated", updated, "pages_flagged", len(flagged))

	// Record Phase 2 timing metadata on every touched file.
	for _, fp := range flagged {
		if fp.File.PhaseTimings == nil {
			fp.File.PhaseTimings = map[string]float64{}
		}
		fp.File.PhaseTimings["surya_model_load"] = handle.LoadSeconds
	}
}

// handleConverter binds a loaded model handle to the neural engine's
// conversion call.
type handleConverter struct {
	neural engine.NeuralEngine
	handle engine.ModelHandle
}

func (h *handleConverter) ConvertPDF(ctx context.Context, req engine.NeuralRequest) (string, error) {
	return h.neural.ConvertPDF(ctx, h.handle, req)
}

func (p *Pipeline) newAnalyzer(log *slog.Logger) *quality.Analyzer {
	analyzer, err := quality.NewAnalyzer(
		p.cfg.Pipeline.QualityThreshold,
		p.cfg.Pipeline.CustomVocab,
		quality.WithMaxSamples(p.cfg.Pipeline.MaxSamples),
	)
	if err != nil {
		// Only a bad custom vocab file reaches here; score without it.
		log.Warn("custom vocabulary unavailable", "error", err)
		analyzer, _ = quality.NewAnalyzer(
			p.cfg.Pipeline.QualityThreshold, "",
			quality.WithMaxSamples(p.cfg.Pipeline.MaxSamples))
	}
	return analyzer
}

func (p *Pipeline) writeSidecars(results []*types.FileResult, finalDir string, log *slog.Logger) {
	for _, fr := range results {
		if !fr.Success || fr.OutputPath == "" {
			continue
		}
		if err := sidecar.WriteMetadata(finalDir, fr, version.Version); err != nil {
			log.Warn("failed to write metadata sidecar", "file", fr.Filename, "error", err)
		}
		if p.cfg.Pipeline.Diagnostics {
			if err := sidecar.WriteDiagnostics(finalDir, fr, version.Version); err != nil {
				log.Warn("failed to write diagnostics sidecar", "file", fr.Filename, "error", err)
			}
		}
	}
}

func (p *Pipeline) cleanup(finalDir, workDir string, log *slog.Logger) {
	if !p.cfg.Pipeline.ExtractText {
		entries, err := os.ReadDir(finalDir)
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
					_ = os.Remove(filepath.Join(finalDir, e.Name()))
				}
			}
		}
	}

	if p.cfg.Pipeline.KeepIntermediates {
		log.Info("keeping work directory", "dir", workDir)
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		log.Warn("failed to remove work directory", "dir", workDir, "error", err)
	}
}
