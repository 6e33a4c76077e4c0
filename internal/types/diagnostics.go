package types

import "sort"

// Disagreement records the absolute gap between two quality signals.
type Disagreement struct {
	SignalA   string  `json:"signal_a"`
	SignalB   string  `json:"signal_b"`
	Magnitude float64 `json:"magnitude"`
	Flagged   bool    `json:"flagged"`
}

// ImageQuality holds scan-quality metrics for a rendered page pixmap.
// Present only when diagnostics mode is on and rendering succeeded.
type ImageQuality struct {
	DPI       int     `json:"dpi"`
	Contrast  float64 `json:"contrast"`
	BlurScore float64 `json:"blur_score"`
	SkewAngle float64 `json:"skew_angle"`
}

// Substitution is one old-word to new-word replacement in an engine diff.
type Substitution struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// DiffSummary counts the changes in an EngineDiff.
type DiffSummary struct {
	Additions     int `json:"additions"`
	Deletions     int `json:"deletions"`
	Substitutions int `json:"substitutions"`
}

// EngineDiff is a word-level comparison between two engines' text for the
// same page, typically tesseract vs surya output.
type EngineDiff struct {
	Additions     []string       `json:"additions"`
	Deletions     []string       `json:"deletions"`
	Substitutions []Substitution `json:"substitutions"`
	Summary       DiffSummary    `json:"summary"`
}

// PageDiagnostics is attached to every page after Phase 1. The gated
// fields are populated only when diagnostics mode is on.
type PageDiagnostics struct {
	SignalScores          map[string]float64        `json:"signal_scores"`
	SignalDetails         map[string]map[string]any `json:"signal_details,omitempty"`
	CompositeWeights      map[string]float64        `json:"composite_weights"`
	SignalDisagreements   []Disagreement            `json:"signal_disagreements,omitempty"`
	HasSignalDisagreement bool                      `json:"has_signal_disagreement"`
	PostprocessCounts     map[string]int            `json:"postprocess_counts,omitempty"`
	StruggleCategories    []string                  `json:"struggle_categories"`

	ImageQuality  *ImageQuality `json:"image_quality,omitempty"`
	TesseractText string        `json:"tesseract_text,omitempty"`
	EngineDiff    *EngineDiff   `json:"engine_diff,omitempty"`
}

// AddStruggle inserts a struggle category, keeping the list sorted and
// duplicate-free. The set is unordered semantically; sorting makes the
// serialized form deterministic.
func (d *PageDiagnostics) AddStruggle(category string) {
	for _, c := range d.StruggleCategories {
		if c == category {
			return
		}
	}
	d.StruggleCategories = append(d.StruggleCategories, category)
	sort.Strings(d.StruggleCategories)
}

// HasStruggle reports whether the category is present.
func (d *PageDiagnostics) HasStruggle(category string) bool {
	for _, c := range d.StruggleCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Struggle category names, each set by an independent rule.
const (
	StruggleBadScan            = "bad_scan"
	StruggleCharacterConfusion = "character_confusion"
	StruggleVocabularyMiss     = "vocabulary_miss"
	StruggleLayoutError        = "layout_error"
	StruggleLanguageConfusion  = "language_confusion"
	StruggleSignalDisagreement = "signal_disagreement"
	StruggleGrayZone           = "gray_zone"
	StruggleSuryaInsufficient  = "surya_insufficient"
)

// Quality signal names.
const (
	SignalGarbled    = "garbled"
	SignalDictionary = "dictionary"
	SignalConfidence = "confidence"
)
