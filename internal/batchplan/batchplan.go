// Package batchplan implements the Phase 2 cross-file batch pass: flagged
// pages from every input file are collected into one ordered list, split
// into memory-safe sub-batches, spliced into combined PDFs and sent through
// the neural engine. Results are mapped back to their source pages via the
// batch index.
package batchplan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/MeKo-Tech/scholardoc/internal/diagnostics"
	"github.com/MeKo-Tech/scholardoc/internal/engine"
	"github.com/MeKo-Tech/scholardoc/internal/events"
	"github.com/MeKo-Tech/scholardoc/internal/modelcache"
	"github.com/MeKo-Tech/scholardoc/internal/pdf"
	"github.com/MeKo-Tech/scholardoc/internal/postprocess"
	"github.com/MeKo-Tech/scholardoc/internal/quality"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

const (
	gib = 1 << 30

	// memoryThresholdBytes marks the run as memory constrained when less
	// is available.
	memoryThresholdBytes = 4 * gib

	// perPageEstimateGiB is the working-set estimate for one page of
	// neural OCR.
	perPageEstimateGiB = 0.7

	// cpuPageCap bounds sub-batch size on non-accelerated systems.
	cpuPageCap = 32
)

// FlaggedPage tracks the origin of one flagged page so neural results can
// be mapped back to the correct source file. BatchIndex is the page's
// position in the run-wide combined ordering, unique and sequential from
// zero.
type FlaggedPage struct {
	File            *types.FileResult
	SourcePath      string
	SourcePageIndex int
	BatchIndex      int
}

// Converter runs the neural engine on a combined PDF.
type Converter interface {
	ConvertPDF(ctx context.Context, req engine.NeuralRequest) (string, error)
}

// Splicer builds a combined PDF from page references. The production
// implementation is pdf.CombinePages.
type Splicer func(refs []pdf.PageRef, dst string) error

// Planner executes the Phase 2 batch pass.
type Planner struct {
	Neural   Converter
	Cache    *modelcache.Cache
	Analyzer *quality.Analyzer
	// Languages as comma-separated neural-engine codes, e.g. "en,fr".
	Languages    string
	WorkDir      string
	FinalDir     string
	MaxBatchSize int
	Accelerated  bool
	Logger       *slog.Logger
	Callback     events.Callback

	// AvailableBytes probes free system memory. Defaults to gopsutil.
	AvailableBytes func() (uint64, error)
	// Splice defaults to pdf.CombinePages.
	Splice Splicer
}

func (p *Planner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Planner) callback() events.Callback {
	if p.Callback != nil {
		return p.Callback
	}
	return events.NullCallback{}
}

func (p *Planner) availableBytes() (uint64, error) {
	if p.AvailableBytes != nil {
		return p.AvailableBytes()
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

func (p *Planner) splice() Splicer {
	if p.Splice != nil {
		return p.Splice
	}
	return pdf.CombinePages
}

// Collect gathers flagged pages across all file results in traversal order
// and assigns sequential batch indices. sourcePaths maps FileResult
// filenames to the input PDF paths.
func Collect(results []*types.FileResult, sourcePaths map[string]string) []FlaggedPage {
	var pages []FlaggedPage
	for _, fr := range results {
		src, ok := sourcePaths[fr.Filename]
		if !ok {
			continue
		}
		for _, pg := range fr.Pages {
			if !pg.Flagged {
				continue
			}
			pages = append(pages, FlaggedPage{
				File:            fr,
				SourcePath:      src,
				SourcePageIndex: pg.PageNumber,
				BatchIndex:      len(pages),
			})
		}
	}
	return pages
}

// SafeBatchSize derives the largest sub-batch the system can hold: half the
// available memory divided by the per-page estimate, capped on CPU-only
// systems, never below one page.
func SafeBatchSize(availableBytes uint64, accelerated bool) int {
	safe := int(0.5 * float64(availableBytes) / (perPageEstimateGiB * gib))
	if !accelerated && safe > cpuPageCap {
		safe = cpuPageCap
	}
	if safe < 1 {
		safe = 1
	}
	return safe
}

// Split partitions pages into sub-batches of at most size, keeping the
// original batch indices intact.
func Split(pages []FlaggedPage, size int) [][]FlaggedPage {
	if size < 1 {
		size = 1
	}
	var batches [][]FlaggedPage
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		batches = append(batches, pages[start:end])
	}
	return batches
}

var (
	horizontalRule = regexp.MustCompile(`(?m)^[ \t]*(?:-{3,}|\*{3,}|_{3,})[ \t]*$`)
	doubleBlank    = regexp.MustCompile(`\n[ \t]*\n[ \t]*\n+`)
)

// SplitMarkdown divides the neural engine's combined Markdown into one
// string per page. It tries horizontal-rule separators first, then double
// blank lines. When neither yields the expected count, all text goes to
// the first page and ok is false.
func SplitMarkdown(markdown string, pageCount int) (pages []string, ok bool) {
	if pageCount == 1 {
		return []string{strings.TrimSpace(markdown)}, true
	}

	parts := horizontalRule.Split(markdown, -1)
	if trimmed := trimAll(parts); len(trimmed) == pageCount {
		return trimmed, true
	}

	parts = doubleBlank.Split(markdown, -1)
	if trimmed := trimAll(parts); len(trimmed) == pageCount {
		return trimmed, true
	}

	pages = make([]string, pageCount)
	pages[0] = strings.TrimSpace(markdown)
	return pages, false
}

func trimAll(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Run executes the batch pass over the flagged pages. Sub-batch failures
// are logged and skipped; the affected pages keep their Phase 1 values.
// Returns the number of pages successfully reprocessed.
func (p *Planner) Run(ctx context.Context, pages []FlaggedPage) (int, error) {
	if len(pages) == 0 {
		return 0, nil
	}

	available, err := p.availableBytes()
	if err != nil {
		p.logger().Warn("memory probe failed, assuming constrained", "error", err)
		available = memoryThresholdBytes
	}
	if available < memoryThresholdBytes {
		p.logger().Warn("memory constrained",
			"available_gib", float64(available)/gib)
	}

	size := SafeBatchSize(available, p.Accelerated)
	if p.MaxBatchSize > 0 && p.MaxBatchSize < size {
		size = p.MaxBatchSize
	}
	batches := Split(pages, size)
	p.logger().Info("cross-file batch plan",
		"pages", len(pages),
		"sub_batches", len(batches),
		"batch_size", size)

	updated := 0
	touched := map[*types.FileResult]struct{}{}
	for i, sub := range batches {
		n, err := p.runSubBatch(ctx, i, sub)
		if err != nil {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			p.logger().Warn("sub-batch failed, keeping fast-engine output",
				"sub_batch", i+1,
				"of", len(batches),
				"pages", len(sub),
				"error", err)
		} else {
			updated += n
			for _, fp := range sub {
				touched[fp.File] = struct{}{}
			}
		}

		p.callback().OnProgress(events.ProgressEvent{
			Phase:   types.PhaseSurya,
			Current: i + 1,
			Total:   len(batches),
			Message: fmt.Sprintf("sub-batch %d/%d", i+1, len(batches)),
		})

		if i < len(batches)-1 && p.Cache != nil {
			p.Cache.CleanupBetweenDocuments()
		}
	}

	for fr := range touched {
		if err := p.rewriteText(fr); err != nil {
			p.logger().Warn("failed to rewrite text file",
				"file", fr.Filename, "error", err)
		}
	}
	return updated, nil
}

func (p *Planner) runSubBatch(ctx context.Context, idx int, sub []FlaggedPage) (int, error) {
	if len(sub) == 0 {
		return 0, nil
	}

	refs := make([]pdf.PageRef, len(sub))
	for i, fp := range sub {
		refs[i] = pdf.PageRef{Source: fp.SourcePath, PageIndex: fp.SourcePageIndex}
	}

	combined := filepath.Join(p.WorkDir, fmt.Sprintf("surya_batch_%03d.pdf", idx))
	if err := p.splice()(refs, combined); err != nil {
		return 0, fmt.Errorf("failed to build combined PDF: %w", err)
	}
	defer os.Remove(combined)

	markdown, err := p.Neural.ConvertPDF(ctx, engine.NeuralRequest{
		InputPath: combined,
		Languages: p.Languages,
		ForceOCR:  true,
	})
	if err != nil {
		return 0, fmt.Errorf("neural conversion failed: %w", err)
	}

	pageTexts, ok := SplitMarkdown(markdown, len(sub))
	if !ok {
		p.logger().Warn("could not split markdown into pages, "+
			"assigning all text to first page",
			"sub_batch", idx+1, "pages", len(sub))
	}

	updated := 0
	for i, fp := range sub {
		if i >= len(pageTexts) || pageTexts[i] == "" {
			continue
		}
		if p.updatePage(fp, pageTexts[i]) {
			updated++
		}
	}
	return updated, nil
}

// updatePage overwrites a page with the neural text and re-scores it.
func (p *Planner) updatePage(fp FlaggedPage, text string) bool {
	var page *types.PageResult
	for i := range fp.File.Pages {
		if fp.File.Pages[i].PageNumber == fp.SourcePageIndex {
			page = &fp.File.Pages[i]
			break
		}
	}
	if page == nil {
		return false
	}

	counters := postprocess.NewCounters()
	clean := postprocess.Apply(text, counters)
	res := p.Analyzer.Analyze(clean, nil, false)
	if res.GrayZone {
		p.callback().OnProgress(events.ProgressEvent{
			Phase: types.PhaseQuality,
			File:  fp.File.Filename,
			Page:  fp.SourcePageIndex,
			Message: fmt.Sprintf("gray zone: score %.3f near threshold %.2f",
				res.Score, p.Analyzer.Threshold()),
		})
	}

	if page.Diagnostics != nil && page.Diagnostics.TesseractText != "" {
		page.Diagnostics.EngineDiff = diagnostics.CompareEngines(page.Diagnostics.TesseractText, clean)
	}

	page.Text = clean
	page.Engine = types.EngineSurya
	page.QualityScore = res.Score
	page.Flagged = res.Flagged
	if res.Flagged {
		page.Status = types.StatusFlagged
		if page.Diagnostics != nil {
			page.Diagnostics.AddStruggle(types.StruggleSuryaInsufficient)
		}
	} else {
		page.Status = types.StatusGood
	}
	if page.Diagnostics != nil {
		// The re-score runs without confidence data, so the weight
		// vector changes with the scores; keep them paired.
		page.Diagnostics.SignalScores = res.SignalScores
		page.Diagnostics.SignalDetails = res.SignalDetails
		page.Diagnostics.CompositeWeights = res.Weights
		page.Diagnostics.PostprocessCounts = counters
	}
	return true
}

// rewriteText rebuilds final/{stem}.txt from the file's page texts. The
// write is atomic (temp file + rename) so readers never see a partial
// file.
func (p *Planner) rewriteText(fr *types.FileResult) error {
	stem := strings.TrimSuffix(fr.Filename, filepath.Ext(fr.Filename))
	path := filepath.Join(p.FinalDir, stem+".txt")

	texts := make([]string, len(fr.Pages))
	for i, pg := range fr.Pages {
		texts[i] = pg.Text
	}
	content := strings.Join(texts, "\n\n")

	tmp, err := os.CreateTemp(p.FinalDir, stem+"-*.txt.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
