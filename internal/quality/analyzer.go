// Package quality scores OCR text with a composite of three signals:
// garbled-pattern detection, dictionary coverage and per-word OCR
// confidence. A page is flagged when the weighted composite falls below the
// quality threshold or any single signal drops under its floor.
package quality

import "github.com/MeKo-Tech/scholardoc/internal/types"

// Per-signal floors. A page is flagged outright when any available signal
// scores below its floor, regardless of the composite.
const (
	FloorConfidence = 0.3
	FloorGarbled    = 0.5
	FloorDictionary = 0.4
)

// GrayZone is the half-width of the band around the threshold in which a
// page is close enough to the cutoff to deserve attention.
const GrayZone = 0.05

// DefaultThreshold is the page flagging cutoff when none is configured.
const DefaultThreshold = 0.85

// Result is the outcome of composite quality analysis for one page.
type Result struct {
	Score          float64
	Flagged        bool
	GrayZone       bool
	GarbledCount   int
	TotalWords     int
	SampleIssues   []string
	SampleContext  []string
	SignalScores   map[string]float64
	SignalDetails  map[string]map[string]any
	Weights        map[string]float64
	ConfidenceMean float64
	HasConfidence  bool
}

// Analyzer combines the three signals into a composite page score.
type Analyzer struct {
	threshold  float64
	floors     map[string]float64
	garbled    *GarbledSignal
	dictionary *DictionarySignal
	confidence *ConfidenceSignal
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFloors overrides the per-signal floor map.
func WithFloors(floors map[string]float64) Option {
	return func(a *Analyzer) {
		for name, floor := range floors {
			a.floors[name] = floor
		}
	}
}

// WithMaxSamples bounds the offending-token samples kept in details.
func WithMaxSamples(n int) Option {
	return func(a *Analyzer) { a.garbled = NewGarbledSignal(n) }
}

// NewAnalyzer builds an analyzer with the bundled word list, optionally
// merged with a custom vocabulary file.
func NewAnalyzer(threshold float64, customVocabPath string, opts ...Option) (*Analyzer, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	dict, err := NewDictionarySignal(customVocabPath)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		threshold: threshold,
		floors: map[string]float64{
			types.SignalConfidence: FloorConfidence,
			types.SignalGarbled:    FloorGarbled,
			types.SignalDictionary: FloorDictionary,
		},
		garbled:    NewGarbledSignal(10),
		dictionary: dict,
		confidence: NewConfidenceSignal(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Threshold returns the flagging cutoff.
func (a *Analyzer) Threshold() float64 { return a.threshold }

// Analyze scores text with every available signal. confData nil means no
// confidence data could be gathered; the compositor reweights over the two
// text signals. A non-nil empty slice means confidence ran and found no
// words, which scores a neutral 0.5.
func (a *Analyzer) Analyze(text string, confData []WordConfidence, collectContext bool) Result {
	garbledResult := a.garbled.Score(text, collectContext)
	dictResult := a.dictionary.Score(text)

	signals := map[string]types.SignalResult{
		types.SignalGarbled:    garbledResult,
		types.SignalDictionary: dictResult,
	}
	hasConfidence := confData != nil
	if hasConfidence {
		signals[types.SignalConfidence] = a.confidence.Score(confData)
	}

	weights := weightsFor(hasConfidence)
	composite := combine(signals, weights)

	floorFail := false
	for name, s := range signals {
		if s.Score < a.floors[name] {
			floorFail = true
			break
		}
	}

	// Extreme confidence overrides the text signals in either direction.
	if hasConfidence {
		conf := signals[types.SignalConfidence].Score
		if conf > 0.95 && composite < 0.9 {
			composite = 0.9
		} else if conf < 0.2 && composite > 0.3 {
			composite = 0.3
		}
	}

	res := Result{
		Score:         composite,
		Flagged:       composite < a.threshold || floorFail,
		GrayZone:      abs(composite-a.threshold) < GrayZone,
		SignalScores:  make(map[string]float64, len(signals)),
		SignalDetails: make(map[string]map[string]any, len(signals)),
		Weights:       weights,
		HasConfidence: hasConfidence,
	}
	for name, s := range signals {
		res.SignalScores[name] = s.Score
		res.SignalDetails[name] = s.Details
	}

	if gc, ok := garbledResult.Details["garbled_count"].(int); ok {
		res.GarbledCount = gc
	}
	if tw, ok := garbledResult.Details["total_words"].(int); ok {
		res.TotalWords = tw
	}
	if issues, ok := garbledResult.Details["sample_issues"].([]string); ok {
		res.SampleIssues = issues
	}
	if ctx, ok := garbledResult.Details["sample_context"].([]string); ok {
		res.SampleContext = ctx
	}
	if hasConfidence {
		if mean, ok := signals[types.SignalConfidence].Details["mean_conf"].(float64); ok {
			res.ConfidenceMean = mean
		}
	}
	return res
}

// AnalyzePages scores each page independently. confPerPage may be nil, or a
// slice of per-page confidence data aligned with pageTexts.
func (a *Analyzer) AnalyzePages(pageTexts []string, confPerPage [][]WordConfidence, collectContext bool) []Result {
	results := make([]Result, len(pageTexts))
	for i, text := range pageTexts {
		var conf []WordConfidence
		if i < len(confPerPage) {
			conf = confPerPage[i]
		}
		results[i] = a.Analyze(text, conf, collectContext)
	}
	return results
}

// FlaggedPageIndices returns the 0-indexed pages that fail the threshold.
func (a *Analyzer) FlaggedPageIndices(pageTexts []string) []int {
	var flagged []int
	for i, r := range a.AnalyzePages(pageTexts, nil, false) {
		if r.Flagged {
			flagged = append(flagged, i)
		}
	}
	return flagged
}

func weightsFor(hasConfidence bool) map[string]float64 {
	if hasConfidence {
		return map[string]float64{
			types.SignalGarbled:    0.4,
			types.SignalDictionary: 0.3,
			types.SignalConfidence: 0.3,
		}
	}
	return map[string]float64{
		types.SignalGarbled:    0.55,
		types.SignalDictionary: 0.45,
	}
}

func combine(signals map[string]types.SignalResult, weights map[string]float64) float64 {
	var totalWeight, sum float64
	for name, s := range signals {
		w, ok := weights[name]
		if !ok {
			continue
		}
		totalWeight += w
		sum += s.Score * w
	}
	if totalWeight == 0 {
		return 0.5
	}
	return sum / totalWeight
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
