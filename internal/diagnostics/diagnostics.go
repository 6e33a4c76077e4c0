// Package diagnostics builds per-page diagnostic data: signal disagreement
// detection, struggle classification and word-level engine diffs.
package diagnostics

import (
	"math"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MeKo-Tech/scholardoc/internal/quality"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// DisagreementThreshold flags a signal pair whose scores diverge more than
// this. Calibration against ground truth is future work.
const DisagreementThreshold = 0.3

// ComputeDisagreements returns the pairwise score gaps for every unordered
// signal pair, magnitudes rounded to 4 decimals. All pairs are returned, not
// only the flagged ones, so consumers can apply their own cutoffs.
func ComputeDisagreements(scores map[string]float64) []types.Disagreement {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []types.Disagreement
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			magnitude := math.Round(math.Abs(scores[names[i]]-scores[names[j]])*10000) / 10000
			out = append(out, types.Disagreement{
				SignalA:   names[i],
				SignalB:   names[j],
				Magnitude: magnitude,
				Flagged:   magnitude > DisagreementThreshold,
			})
		}
	}
	return out
}

// HasDisagreement reports whether any pair exceeds the threshold.
func HasDisagreement(disagreements []types.Disagreement) bool {
	for _, d := range disagreements {
		if d.Flagged {
			return true
		}
	}
	return false
}

// StruggleInput carries everything the struggle classifier looks at.
type StruggleInput struct {
	SignalScores map[string]float64
	Composite    float64
	Threshold    float64
	ImageQuality *types.ImageQuality
	Engine       types.Engine
	SuryaScore   *float64
}

// ClassifyStruggle runs every category rule independently and returns the
// sorted set of categories that fire. May be empty.
func ClassifyStruggle(in StruggleInput) []string {
	garbled, hasGarbled := in.SignalScores[types.SignalGarbled]
	if !hasGarbled {
		garbled = 1.0
	}
	dictionary, hasDict := in.SignalScores[types.SignalDictionary]
	if !hasDict {
		dictionary = 1.0
	}
	confidence, hasConfidence := in.SignalScores[types.SignalConfidence]

	var categories []string
	add := func(c string) { categories = append(categories, c) }

	switch {
	case in.ImageQuality != nil:
		if in.ImageQuality.BlurScore < 50 || in.ImageQuality.Contrast < 0.1 {
			add(types.StruggleBadScan)
		}
	case hasConfidence && confidence < 0.3 && garbled < 0.4:
		add(types.StruggleBadScan)
	}

	// Characters recognized but wrong, e.g. 'rn' read as 'm'.
	if garbled < 0.7 && dictionary > 0.5 {
		add(types.StruggleCharacterConfusion)
	}

	// Characters right, words unknown: foreign terms or jargon.
	if dictionary < 0.6 && garbled > 0.7 {
		add(types.StruggleVocabularyMiss)
	}

	if hasConfidence && confidence > 0.7 && in.Composite < in.Threshold {
		add(types.StruggleLayoutError)
	}

	if dictionary < 0.4 && garbled > 0.4 && garbled < 0.7 {
		add(types.StruggleLanguageConfusion)
	}

	if hasConfidence {
		if math.Abs(garbled-confidence) > DisagreementThreshold ||
			math.Abs(garbled-dictionary) > DisagreementThreshold ||
			math.Abs(dictionary-confidence) > DisagreementThreshold {
			add(types.StruggleSignalDisagreement)
		}
	} else if math.Abs(garbled-dictionary) > DisagreementThreshold {
		add(types.StruggleSignalDisagreement)
	}

	if math.Abs(in.Composite-in.Threshold) < quality.GrayZone {
		add(types.StruggleGrayZone)
	}

	if in.Engine == types.EngineSurya && in.SuryaScore != nil && *in.SuryaScore < in.Threshold {
		add(types.StruggleSuryaInsufficient)
	}

	sort.Strings(categories)
	return categories
}

// Build assembles the always-captured diagnostics from a quality result.
// Postprocess counts are filled by the caller once post-processing has run;
// the gated fields stay empty until diagnostics mode adds them.
func Build(qr quality.Result, threshold float64) *types.PageDiagnostics {
	disagreements := ComputeDisagreements(qr.SignalScores)
	return &types.PageDiagnostics{
		SignalScores:          qr.SignalScores,
		SignalDetails:         qr.SignalDetails,
		CompositeWeights:      qr.Weights,
		SignalDisagreements:   disagreements,
		HasSignalDisagreement: HasDisagreement(disagreements),
		PostprocessCounts:     map[string]int{},
		StruggleCategories: ClassifyStruggle(StruggleInput{
			SignalScores: qr.SignalScores,
			Composite:    qr.Score,
			Threshold:    threshold,
		}),
	}
}

// CompareEngines computes a word-level diff between two engines' text for
// the same page. Runs of changed words on both sides pair up as one
// substitution; one-sided runs are additions or deletions.
func CompareEngines(tesseractText, suryaText string) *types.EngineDiff {
	wordsA := strings.Fields(tesseractText)
	wordsB := strings.Fields(suryaText)

	dmp := diffmatchpatch.New()
	encodedA, encodedB, wordList := dmp.DiffLinesToChars(
		strings.Join(wordsA, "\n"), strings.Join(wordsB, "\n"))
	diffs := dmp.DiffMain(encodedA, encodedB, false)
	diffs = dmp.DiffCharsToLines(diffs, wordList)

	diff := &types.EngineDiff{
		Additions:     []string{},
		Deletions:     []string{},
		Substitutions: []types.Substitution{},
	}

	decode := func(text string) []string {
		return strings.Fields(strings.ReplaceAll(text, "\n", " "))
	}

	for i := 0; i < len(diffs); i++ {
		switch diffs[i].Type {
		case diffmatchpatch.DiffDelete:
			old := decode(diffs[i].Text)
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				diff.Substitutions = append(diff.Substitutions, types.Substitution{
					Old: strings.Join(old, " "),
					New: strings.Join(decode(diffs[i+1].Text), " "),
				})
				i++
				continue
			}
			diff.Deletions = append(diff.Deletions, old...)
		case diffmatchpatch.DiffInsert:
			diff.Additions = append(diff.Additions, decode(diffs[i].Text)...)
		case diffmatchpatch.DiffEqual:
		}
	}

	diff.Summary = types.DiffSummary{
		Additions:     len(diff.Additions),
		Deletions:     len(diff.Deletions),
		Substitutions: len(diff.Substitutions),
	}
	return diff
}
