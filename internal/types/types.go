// Package types defines the result tree produced by the OCR pipeline:
// BatchResult -> FileResult -> PageResult, plus the per-signal quality
// result shared with the quality analyzer.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Engine identifies which OCR engine produced the text for a page or file.
type Engine string

const (
	EngineExisting  Engine = "existing"
	EngineTesseract Engine = "tesseract"
	EngineSurya     Engine = "surya"
	EngineMixed     Engine = "mixed"
	EngineNone      Engine = "none"
)

// Valid reports whether e is one of the known engine values.
func (e Engine) Valid() bool {
	switch e {
	case EngineExisting, EngineTesseract, EngineSurya, EngineMixed, EngineNone:
		return true
	default:
		return false
	}
}

// PageStatus is the quality status of a processed page.
type PageStatus string

const (
	StatusGood    PageStatus = "good"
	StatusFlagged PageStatus = "flagged"
	StatusFailed  PageStatus = "failed"
)

// Phase names used in events and phase timings.
const (
	PhaseTesseract = "tesseract"
	PhaseQuality   = "quality"
	PhaseSurya     = "surya"
)

// SignalResult is the output of a single quality signal scorer.
type SignalResult struct {
	Name    string         `json:"name"`
	Score   float64        `json:"score"`
	Passed  bool           `json:"passed"`
	Details map[string]any `json:"details,omitempty"`
}

// PageResult holds the outcome for a single page of an input file.
// Page numbers are 0-indexed and dense within a file.
type PageResult struct {
	PageNumber   int              `json:"page_number"`
	Status       PageStatus       `json:"status"`
	QualityScore float64          `json:"quality_score"`
	Engine       Engine           `json:"engine"`
	Flagged      bool             `json:"flagged"`
	Text         string           `json:"text,omitempty"`
	Diagnostics  *PageDiagnostics `json:"diagnostics,omitempty"`
}

// FileResult holds the outcome for a single input file.
type FileResult struct {
	Filename     string             `json:"filename"`
	Success      bool               `json:"success"`
	Engine       Engine             `json:"engine"`
	QualityScore float64            `json:"quality_score"`
	PageCount    int                `json:"page_count"`
	Pages        []PageResult       `json:"pages"`
	Error        string             `json:"error,omitempty"`
	OutputPath   string             `json:"output_path,omitempty"`
	TimeSeconds  float64            `json:"time_seconds"`
	PhaseTimings map[string]float64 `json:"phase_timings,omitempty"`
}

// FlaggedPages returns the pages flagged for quality issues, in page order.
func (f *FileResult) FlaggedPages() []PageResult {
	var flagged []PageResult
	for _, p := range f.Pages {
		if p.Flagged {
			flagged = append(flagged, p)
		}
	}
	return flagged
}

// PageScores returns the quality scores of all pages in page order.
func (f *FileResult) PageScores() []float64 {
	scores := make([]float64, len(f.Pages))
	for i, p := range f.Pages {
		scores[i] = p.QualityScore
	}
	return scores
}

// RecomputeQuality refreshes the file-level quality score as the mean of
// the current per-page scores. No-op for files without pages.
func (f *FileResult) RecomputeQuality() {
	if len(f.Pages) == 0 {
		return
	}
	var sum float64
	for _, p := range f.Pages {
		sum += p.QualityScore
	}
	f.QualityScore = sum / float64(len(f.Pages))
}

// SortPages orders pages by page number ascending.
func (f *FileResult) SortPages() {
	sort.Slice(f.Pages, func(i, j int) bool {
		return f.Pages[i].PageNumber < f.Pages[j].PageNumber
	})
}

// BatchResult aggregates the results of one pipeline run.
type BatchResult struct {
	Files        []FileResult       `json:"files"`
	TotalFiles   int                `json:"total_files"`
	Successful   int                `json:"successful"`
	Failed       int                `json:"failed"`
	TotalTime    float64            `json:"total_time"`
	PhaseTimings map[string]float64 `json:"phase_timings,omitempty"`
}

// Summarize sorts files by filename and refreshes the aggregate counters
// from the file list. Call before returning a BatchResult to the caller.
func (b *BatchResult) Summarize() {
	sort.Slice(b.Files, func(i, j int) bool {
		return b.Files[i].Filename < b.Files[j].Filename
	})
	b.TotalFiles = len(b.Files)
	b.Successful = 0
	b.Failed = 0
	for _, f := range b.Files {
		if f.Success {
			b.Successful++
		} else {
			b.Failed++
		}
	}
}

// batchJSON is the serialized shape of a BatchResult: a summary block plus
// the per-file list.
type batchJSON struct {
	Summary struct {
		TotalFiles   int                `json:"total_files"`
		Successful   int                `json:"successful"`
		Failed       int                `json:"failed"`
		TotalTime    float64            `json:"total_time"`
		PhaseTimings map[string]float64 `json:"phase_timings,omitempty"`
	} `json:"summary"`
	Files []FileResult `json:"files"`
}

// MarshalJSON serializes the batch result with a summary envelope.
func (b BatchResult) MarshalJSON() ([]byte, error) {
	var out batchJSON
	out.Summary.TotalFiles = b.TotalFiles
	out.Summary.Successful = b.Successful
	out.Summary.Failed = b.Failed
	out.Summary.TotalTime = b.TotalTime
	out.Summary.PhaseTimings = b.PhaseTimings
	out.Files = b.Files
	return json.Marshal(out)
}

// UnmarshalJSON restores a batch result from its summary envelope form.
func (b *BatchResult) UnmarshalJSON(data []byte) error {
	var in batchJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b.Files = in.Files
	b.TotalFiles = in.Summary.TotalFiles
	b.Successful = in.Summary.Successful
	b.Failed = in.Summary.Failed
	b.TotalTime = in.Summary.TotalTime
	b.PhaseTimings = in.Summary.PhaseTimings
	return nil
}

// ComputeEngineFromPages determines the file-level engine from per-page
// engines, ignoring EngineNone: a single surviving value wins, multiple
// values yield EngineMixed, and no surviving values yield EngineNone.
func ComputeEngineFromPages(pages []PageResult) Engine {
	seen := make(map[Engine]struct{}, 3)
	for _, p := range pages {
		if p.Engine != EngineNone {
			seen[p.Engine] = struct{}{}
		}
	}
	switch len(seen) {
	case 0:
		return EngineNone
	case 1:
		for e := range seen {
			return e
		}
	}
	return EngineMixed
}

// NewFailedFileResult builds the FileResult recorded when a file could not
// be processed at all. Output path stays empty and the engine is none.
func NewFailedFileResult(filename, errMsg string, elapsed float64) FileResult {
	return FileResult{
		Filename:     filename,
		Success:      false,
		Engine:       EngineNone,
		QualityScore: 0,
		PageCount:    0,
		Pages:        []PageResult{},
		Error:        errMsg,
		TimeSeconds:  elapsed,
		PhaseTimings: map[string]float64{},
	}
}

// Validate checks the structural invariants of a FileResult: dense sorted
// page numbers, page count agreement, and failure implying no output path.
func (f *FileResult) Validate() error {
	if f.PageCount != len(f.Pages) {
		return fmt.Errorf("page_count %d does not match pages length %d", f.PageCount, len(f.Pages))
	}
	for i, p := range f.Pages {
		if p.PageNumber != i {
			return fmt.Errorf("page %d has page_number %d, want dense ordering", i, p.PageNumber)
		}
		if p.QualityScore < 0 || p.QualityScore > 1 {
			return fmt.Errorf("page %d quality_score %f out of [0,1]", i, p.QualityScore)
		}
	}
	if !f.Success {
		if f.OutputPath != "" {
			return fmt.Errorf("failed file %s has output_path set", f.Filename)
		}
		if f.Error == "" {
			return fmt.Errorf("failed file %s has no error", f.Filename)
		}
	}
	return nil
}
