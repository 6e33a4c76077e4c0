package quality

import (
	"math"
	"strings"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// WordConfidence is one word-level OCR confidence record as produced by the
// per-word data extractor (tesseract tsv output).
type WordConfidence struct {
	Text string `json:"text"`
	Conf int    `json:"conf"`
}

// ConfidenceSignal scores OCR confidence from word-level data. The score is
// a length-weighted mean of conf/100 so long words dominate short noise.
type ConfidenceSignal struct {
	floor float64
}

func NewConfidenceSignal() *ConfidenceSignal {
	return &ConfidenceSignal{floor: FloorConfidence}
}

// Score computes the weighted mean confidence. With no usable words the
// signal is neutral at 0.5 rather than failing the page.
func (c *ConfidenceSignal) Score(data []WordConfidence) types.SignalResult {
	valid := make([]WordConfidence, 0, len(data))
	for _, w := range data {
		if w.Conf > 0 && strings.TrimSpace(w.Text) != "" {
			valid = append(valid, w)
		}
	}
	if len(valid) == 0 {
		return types.SignalResult{
			Name:    types.SignalConfidence,
			Score:   0.5,
			Passed:  true,
			Details: map[string]any{"word_count": 0, "reason": "no_data"},
		}
	}

	var totalWeight, weightedSum float64
	minConf := valid[0].Conf
	var lowConfWords []string
	for _, w := range valid {
		weight := float64(max(1, len(w.Text)))
		totalWeight += weight
		weightedSum += float64(w.Conf) * weight
		if w.Conf < minConf {
			minConf = w.Conf
		}
		if w.Conf < 30 && len(lowConfWords) < 20 {
			lowConfWords = append(lowConfWords, w.Text)
		}
	}

	meanConf := weightedSum / totalWeight
	normalized := meanConf / 100.0

	return types.SignalResult{
		Name:   types.SignalConfidence,
		Score:  normalized,
		Passed: normalized >= c.floor,
		Details: map[string]any{
			"word_count":     len(valid),
			"mean_conf":      math.Round(meanConf*100) / 100,
			"min_conf":       minConf,
			"low_conf_words": lowConfWords,
		},
	}
}
