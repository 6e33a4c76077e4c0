package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scholardoc/internal/config"
	"github.com/MeKo-Tech/scholardoc/internal/engine"
	"github.com/MeKo-Tech/scholardoc/internal/environment"
	"github.com/MeKo-Tech/scholardoc/internal/events"
	"github.com/MeKo-Tech/scholardoc/internal/modelcache"
	"github.com/MeKo-Tech/scholardoc/internal/pdf"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

const cleanPage = "The critique of pure reason investigates the conditions " +
	"under which knowledge of objects is possible at all, and whether " +
	"metaphysics can ever present itself as a science."

const garbledPage = "xqz jkl vwpp qqqqq zzzzz mmnnn ptkd wxyz grfh " +
	"bnmk xxzj qpfm zzgh qqpx wvrtk lkjh mnbv qwrt zxcv plmn " +
	"xqz jkl vwpp qqqqq zzzzz mmnnn ptkd wxyz grfh bnmk xxzj qpfm"

type fakeFast struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	calls []engine.FastRequest
}

func (f *fakeFast) OCR(_ context.Context, req engine.FastRequest) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(req.OutputPath, []byte("%PDF-ocr"), 0o600)
}

func (f *fakeFast) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeNeural serves both the neural engine and the page splicer so the
// markdown it returns always has one part per spliced page.
type fakeNeural struct {
	mu        sync.Mutex
	loadErr   error
	convErr   error
	loads     int
	converts  []engine.NeuralRequest
	pageCount map[string]int
}

func newFakeNeural() *fakeNeural {
	return &fakeNeural{pageCount: map[string]int{}}
}

func (f *fakeNeural) LoadModels(_ context.Context, device string) (engine.ModelHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return engine.ModelHandle{}, f.loadErr
	}
	if device == "" {
		device = "cpu"
	}
	return engine.ModelHandle{Device: device}, nil
}

func (f *fakeNeural) ConvertPDF(_ context.Context, _ engine.ModelHandle, req engine.NeuralRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converts = append(f.converts, req)
	if f.convErr != nil {
		return "", f.convErr
	}
	parts := make([]string, f.pageCount[req.InputPath])
	for i := range parts {
		parts[i] = cleanPage
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

func (f *fakeNeural) splice(refs []pdf.PageRef, dst string) error {
	f.mu.Lock()
	f.pageCount[dst] = len(refs)
	f.mu.Unlock()
	return os.WriteFile(dst, []byte("%PDF-batch"), 0o600)
}

type staticLangs []string

func (s staticLangs) ListLanguages(context.Context) ([]string, error) { return s, nil }

// extractor maps PDF paths (or base names) to page texts.
type extractor map[string][]string

func (e extractor) extract(path string) ([]string, error) {
	if texts, ok := e[path]; ok {
		return texts, nil
	}
	if texts, ok := e[filepath.Base(path)]; ok {
		return texts, nil
	}
	return nil, errors.New("unknown path " + path)
}

type recorder struct {
	mu       sync.Mutex
	phases   []events.PhaseEvent
	progress []events.ProgressEvent
	models   []events.ModelEvent
}

func (r *recorder) OnPhase(e events.PhaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, e)
}

func (r *recorder) OnProgress(e events.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
}

func (r *recorder) OnModel(e events.ModelEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, e)
}

type testEnv struct {
	cfg    config.Config
	fast   *fakeFast
	neural *fakeNeural
	rec    *recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Pipeline.Languages = "en,de"
	cfg.Pipeline.MaxWorkers = 2
	cfg.Pipeline.Timeout = 30
	cfg.Pipeline.ExtractText = true
	return &testEnv{
		cfg:    cfg,
		fast:   &fakeFast{},
		neural: newFakeNeural(),
		rec:    &recorder{},
	}
}

func (e *testEnv) build(t *testing.T, ex extractor) *Pipeline {
	t.Helper()
	checker := &environment.Checker{
		LookPath:  func(string) (string, error) { return "/usr/bin/fake", nil },
		TempDir:   t.TempDir(),
		Languages: staticLangs{"eng", "deu"},
	}
	return New(e.cfg,
		WithCallback(e.rec),
		WithFastEngine(e.fast),
		WithNeuralEngine(e.neural),
		WithChecker(checker),
		WithModelCache(modelcache.New(e.neural, modelcache.CPUAccelerator{}, time.Minute)),
		WithTextExtractor(ex.extract),
		WithPageSplicer(e.neural.splice),
	)
}

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-input"), 0o600))
	return path
}

func TestRunTwoPhaseHappyPath(t *testing.T) {
	env := newTestEnv(t)
	inDir := t.TempDir()
	hegel := writeInput(t, inDir, "hegel.pdf")
	kant := writeInput(t, inDir, "kant.pdf")

	p := env.build(t, extractor{
		hegel:                {cleanPage, cleanPage},
		kant:                 {garbledPage, cleanPage},
		"kant_tesseract.pdf": {garbledPage, cleanPage},
	})

	batch, err := p.Run(context.Background(), []string{kant, hegel})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.TotalFiles)
	assert.Equal(t, 2, batch.Successful)
	assert.Zero(t, batch.Failed)
	require.Len(t, batch.Files, 2)
	// Files come back sorted by name.
	assert.Equal(t, "hegel.pdf", batch.Files[0].Filename)
	assert.Equal(t, "kant.pdf", batch.Files[1].Filename)

	assert.Equal(t, types.EngineExisting, batch.Files[0].Engine)

	// kant's garbled page went through the neural pass.
	kantResult := batch.Files[1]
	require.Len(t, kantResult.Pages, 2)
	assert.Equal(t, types.EngineSurya, kantResult.Pages[0].Engine)
	assert.False(t, kantResult.Pages[0].Flagged)
	assert.Equal(t, types.EngineTesseract, kantResult.Pages[1].Engine)
	assert.Equal(t, types.EngineMixed, kantResult.Engine)

	require.Equal(t, 1, env.neural.loads)
	require.Len(t, env.neural.converts, 1)
	assert.True(t, env.neural.converts[0].ForceOCR)
	assert.Equal(t, "en,de", env.neural.converts[0].Languages)

	assert.Contains(t, batch.PhaseTimings, types.PhaseTesseract)
	assert.Contains(t, batch.PhaseTimings, types.PhaseSurya)

	finalDir := filepath.Join(env.cfg.OutputDir, "final")
	for _, name := range []string{"hegel.pdf", "kant.pdf", "hegel.json", "kant.json", "hegel.txt", "kant.txt"} {
		_, err := os.Stat(filepath.Join(finalDir, name))
		assert.NoError(t, err, "missing %s", name)
	}

	_, err = os.Stat(filepath.Join(env.cfg.OutputDir, "work"))
	assert.True(t, os.IsNotExist(err), "work directory must be removed")
}

func TestRunEventOrdering(t *testing.T) {
	env := newTestEnv(t)
	inDir := t.TempDir()
	input := writeInput(t, inDir, "scan.pdf")

	p := env.build(t, extractor{
		input:                {garbledPage},
		"scan_tesseract.pdf": {garbledPage},
	})
	_, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	require.Len(t, env.rec.phases, 4)
	assert.Equal(t, types.PhaseTesseract, env.rec.phases[0].Phase)
	assert.Equal(t, events.StatusStarted, env.rec.phases[0].Status)
	assert.Equal(t, 1, env.rec.phases[0].FilesCount)
	assert.Equal(t, types.PhaseTesseract, env.rec.phases[1].Phase)
	assert.Equal(t, events.StatusCompleted, env.rec.phases[1].Status)
	assert.Equal(t, types.PhaseSurya, env.rec.phases[2].Phase)
	assert.Equal(t, events.StatusStarted, env.rec.phases[2].Status)
	assert.Equal(t, types.PhaseSurya, env.rec.phases[3].Phase)
	assert.Equal(t, events.StatusCompleted, env.rec.phases[3].Status)

	require.Len(t, env.rec.models, 2)
	assert.Equal(t, events.StatusLoading, env.rec.models[0].Status)
	assert.Equal(t, events.StatusReady, env.rec.models[1].Status)

	var tessProgress, suryaProgress int
	for _, e := range env.rec.progress {
		switch e.Phase {
		case types.PhaseTesseract:
			tessProgress++
			assert.Equal(t, 1, e.Total)
		case types.PhaseSurya:
			suryaProgress++
		}
	}
	assert.Equal(t, 1, tessProgress, "one progress event per file")
	assert.GreaterOrEqual(t, suryaProgress, 1, "one progress event per sub-batch")
}

func TestRunCleanTextSkipsPhaseTwo(t *testing.T) {
	env := newTestEnv(t)
	inDir := t.TempDir()
	input := writeInput(t, inDir, "clean.pdf")

	p := env.build(t, extractor{input: {cleanPage, cleanPage}})
	batch, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Successful)
	assert.Equal(t, types.EngineExisting, batch.Files[0].Engine)
	assert.Zero(t, env.fast.callCount(), "verbatim path must not run the fast engine")
	assert.Zero(t, env.neural.loads, "no flagged pages, no model load")
	assert.Len(t, env.rec.phases, 2, "only the tesseract phase runs")
	assert.Empty(t, env.rec.models)
	assert.NotContains(t, batch.PhaseTimings, types.PhaseSurya)
}

func TestRunForceSuryaFlagsEveryPage(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.ForceSurya = true
	inDir := t.TempDir()
	input := writeInput(t, inDir, "force.pdf")

	p := env.build(t, extractor{input: {cleanPage, cleanPage}})
	batch, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	require.Len(t, env.neural.converts, 1)
	for _, pg := range batch.Files[0].Pages {
		assert.Equal(t, types.EngineSurya, pg.Engine)
	}
}

func TestRunForceSuryaModelFailureLeavesPagesFlagged(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.ForceSurya = true
	env.neural.loadErr = errors.New("weights missing")
	inDir := t.TempDir()
	input := writeInput(t, inDir, "force.pdf")

	p := env.build(t, extractor{input: {cleanPage, cleanPage}})
	batch, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	// Pages forced into Phase 2 that never got there stay consistently
	// flagged: status and flag must agree.
	for _, pg := range batch.Files[0].Pages {
		assert.True(t, pg.Flagged)
		assert.Equal(t, types.StatusFlagged, pg.Status)
	}
}

func TestRunPerEngineLanguageOverrides(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.LangsTesseract = "eng"
	env.cfg.Pipeline.LangsSurya = "en"
	inDir := t.TempDir()
	input := writeInput(t, inDir, "scan.pdf")

	p := env.build(t, extractor{
		input:                {garbledPage},
		"scan_tesseract.pdf": {garbledPage},
	})
	_, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	require.GreaterOrEqual(t, env.fast.callCount(), 1)
	assert.Equal(t, "eng", env.fast.calls[0].Languages)
	require.Len(t, env.neural.converts, 1)
	assert.Equal(t, "en", env.neural.converts[0].Languages)
}

func TestRunPerFileTimeoutSynthesizesFailure(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.Timeout = 1
	env.fast.delay = 3 * time.Second
	inDir := t.TempDir()
	input := writeInput(t, inDir, "slow.pdf")

	p := env.build(t, extractor{input: {garbledPage}})
	batch, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Files, 1)
	fr := batch.Files[0]
	assert.False(t, fr.Success)
	assert.Equal(t, "slow.pdf", fr.Filename)
	assert.Contains(t, fr.Error, "timed out after 1s")
	assert.Equal(t, types.EngineNone, fr.Engine)
}

func TestRunModelLoadFailureKeepsPhaseOneResults(t *testing.T) {
	env := newTestEnv(t)
	env.neural.loadErr = errors.New("weights missing")
	inDir := t.TempDir()
	input := writeInput(t, inDir, "scan.pdf")

	p := env.build(t, extractor{
		input:                {garbledPage},
		"scan_tesseract.pdf": {garbledPage},
	})
	batch, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err, "model load failure must not fail the run")

	fr := batch.Files[0]
	require.True(t, fr.Success)
	assert.Equal(t, types.EngineTesseract, fr.Engine)
	assert.True(t, fr.Pages[0].Flagged, "flagged page keeps Phase 1 state")
	assert.Empty(t, env.neural.converts)
}

func TestRunEnvironmentFailure(t *testing.T) {
	env := newTestEnv(t)
	p := env.build(t, extractor{})
	p.checker.LookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := p.Run(context.Background(), []string{"whatever.pdf"})
	require.Error(t, err)
	var envErr *environment.Error
	assert.ErrorAs(t, err, &envErr)
	assert.Empty(t, env.rec.phases, "no phase events before validation passes")
}

func TestRunFailedExtractionCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	inDir := t.TempDir()
	good := writeInput(t, inDir, "good.pdf")
	bad := writeInput(t, inDir, "bad.pdf")

	// bad.pdf has no extractor entry, so Phase 1 fails it.
	p := env.build(t, extractor{good: {cleanPage}})
	batch, err := p.Run(context.Background(), []string{good, bad})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Successful)
	assert.Equal(t, 1, batch.Failed)
	require.Equal(t, "bad.pdf", batch.Files[0].Filename)
	assert.False(t, batch.Files[0].Success)

	// Failed files get no sidecar.
	_, err = os.Stat(filepath.Join(env.cfg.OutputDir, "final", "bad.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.cfg.OutputDir, "final", "good.json"))
	assert.NoError(t, err)
}

func TestRunCleanupHonorsFlags(t *testing.T) {
	t.Run("txt removed without extract_text", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Pipeline.ExtractText = false
		inDir := t.TempDir()
		input := writeInput(t, inDir, "doc.pdf")

		p := env.build(t, extractor{input: {cleanPage}})
		_, err := p.Run(context.Background(), []string{input})
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(env.cfg.OutputDir, "final", "doc.txt"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(env.cfg.OutputDir, "final", "doc.pdf"))
		assert.NoError(t, err)
	})

	t.Run("work dir kept with keep_intermediates", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Pipeline.KeepIntermediates = true
		inDir := t.TempDir()
		input := writeInput(t, inDir, "doc.pdf")

		p := env.build(t, extractor{input: {cleanPage}})
		_, err := p.Run(context.Background(), []string{input})
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(env.cfg.OutputDir, "work"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestRunDiagnosticsSidecar(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.Diagnostics = true
	inDir := t.TempDir()
	input := writeInput(t, inDir, "diag.pdf")

	p := env.build(t, extractor{input: {cleanPage}})
	// The renderer is nil-equivalent here; image signals degrade silently.
	p.renderer = nil

	_, err := p.Run(context.Background(), []string{input})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(env.cfg.OutputDir, "final", "diag.diagnostics.json"))
	assert.NoError(t, err)
}

func TestPoolSize(t *testing.T) {
	p := New(config.DefaultConfig())
	p.numCPU = 8
	p.cfg.Pipeline.MaxWorkers = 4

	workers, jobs := p.poolSize(10)
	assert.Equal(t, 4, workers)
	assert.Equal(t, 2, jobs)

	// Fewer files than workers shrinks the pool and widens per-file jobs.
	workers, jobs = p.poolSize(1)
	assert.Equal(t, 1, workers)
	assert.Equal(t, 8, jobs)

	// Workers never exceed cores.
	p.cfg.Pipeline.MaxWorkers = 32
	workers, jobs = p.poolSize(32)
	assert.Equal(t, 8, workers)
	assert.Equal(t, 1, jobs)
}
