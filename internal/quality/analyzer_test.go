package quality

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

const cleanText = `The question of the meaning of being must be formulated in a way
that makes the history of philosophy itself a problem for thought. Every
interpretation of the world rests on an understanding of being that remains
mostly unexamined, and the task of a critical philosophy is to bring that
understanding into view without reducing it to a mere catalogue of opinions.`

const garbledText = `Th3 qxzkjw of bzzzng mxxst be fffffformulated in a wvy tht
mks th hstry of qqqq xjkzt a prblm fr thght. Evry ntrprttn zzzzkk rsts on an
ndrstndng of bng tht rmns mstly nxmnd, bcdfgjk qwrtzp xcvbnm lkjhgf mnbvcx
zxcvbn asdfgh qwerty dfghjk cvbnml xswqaz plmokn ijnuhb ygvtfc rdxesz`

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(DefaultThreshold, "")
	require.NoError(t, err)
	return a
}

func TestGarbledSignal(t *testing.T) {
	g := NewGarbledSignal(10)

	t.Run("short text scores perfect", func(t *testing.T) {
		r := g.Score("short snippet", false)
		assert.Equal(t, 1.0, r.Score)
		assert.True(t, r.Passed)
		assert.Equal(t, 0, r.Details["total_words"])
	})

	t.Run("clean text scores high", func(t *testing.T) {
		r := g.Score(cleanText, false)
		assert.GreaterOrEqual(t, r.Score, 0.9)
	})

	t.Run("garbage scores low", func(t *testing.T) {
		r := g.Score(garbledText, false)
		assert.Less(t, r.Score, 0.5)
		assert.False(t, r.Passed)
		assert.NotEmpty(t, r.Details["sample_issues"])
	})

	t.Run("ratio doubling", func(t *testing.T) {
		// 50 words, 10 garbled: score = 1 - 2*(10/50) = 0.6.
		words := make([]string, 0, 50)
		for i := 0; i < 40; i++ {
			words = append(words, "philosophy")
		}
		for i := 0; i < 10; i++ {
			words = append(words, "bcdfgjklmn")
		}
		r := g.Score(strings.Join(words, " "), false)
		assert.InDelta(t, 0.6, r.Score, 1e-9)
	})

	t.Run("german compounds pass the cluster check", func(t *testing.T) {
		text := strings.Repeat("Grundsätzlichkeit Wissenschaftlichkeit Selbstverständlich ", 4)
		r := g.Score(text, false)
		assert.Equal(t, 1.0, r.Score)
	})

	t.Run("philosophy whitelist", func(t *testing.T) {
		text := strings.Repeat("Dasein Zuhandenheit aletheia phronesis altérité ", 4)
		r := g.Score(text, false)
		assert.Equal(t, 1.0, r.Score)
	})

	t.Run("reference apparatus ignored", func(t *testing.T) {
		text := strings.Repeat("pp. 123-145 ISBN 978-0-123 (12) [3] §42 1927 xiv ", 3)
		r := g.Score(text, false)
		assert.Equal(t, 1.0, r.Score)
	})

	t.Run("context collection", func(t *testing.T) {
		r := g.Score(garbledText, true)
		contexts, ok := r.Details["sample_context"].([]string)
		require.True(t, ok)
		require.NotEmpty(t, contexts)
		assert.True(t, strings.HasPrefix(contexts[0], "..."))
	})
}

func TestDictionarySignal(t *testing.T) {
	d, err := NewDictionarySignal("")
	require.NoError(t, err)

	t.Run("empty text is neutral", func(t *testing.T) {
		r := d.Score("   ")
		assert.Equal(t, 1.0, r.Score)
		assert.True(t, r.Passed)
	})

	t.Run("known words score high", func(t *testing.T) {
		r := d.Score("the question concerning philosophy and history of being and time")
		assert.Greater(t, r.Score, 0.8)
	})

	t.Run("character soup scores low", func(t *testing.T) {
		r := d.Score("xzxzxzxz bcdfgklm qqqqqwrt zzzzkkkk mmmmnnnn xzxzxzxz bcdfgklm qqqqqwrt")
		assert.Less(t, r.Score, FloorDictionary)
		assert.False(t, r.Passed)
	})

	t.Run("affixed nonsense is never known", func(t *testing.T) {
		// Plausible-looking inventions must not hit the word list; at
		// best they count as structured unknowns at half weight.
		r := d.Score(strings.Repeat("abandonly goroutinesly gopkged abcdefly goptered ", 6))
		details := r.Details
		assert.Equal(t, 0, details["known_count"])
		assert.LessOrEqual(t, r.Score, 0.5)
	})

	t.Run("structured unknowns count half", func(t *testing.T) {
		// Plausible pseudo-words out of the list: 0.5 each.
		r := d.Score("brimbleton vastorine meludian cortaver")
		details := r.Details
		assert.Equal(t, 0, details["known_count"])
		assert.Equal(t, 4, details["unknown_structured"])
		assert.InDelta(t, 0.5, r.Score, 1e-9)
	})

	t.Run("custom vocabulary merges", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vocab.txt")
		require.NoError(t, os.WriteFile(path, []byte("brimbleton\nvastorine\n"), 0o600))
		custom, err := NewDictionarySignal(path)
		require.NoError(t, err)
		assert.True(t, custom.Known("Brimbleton"))
		assert.False(t, custom.Known("meludian"))
	})
}

func TestStructuralValidity(t *testing.T) {
	valid := []string{"being", "ab", "Dasein", "hermeneutic", "qua"}
	invalid := []string{
		"bcdfgklmn",  // no vowels
		"aeiouaeiou", // all vowels, long
		"worrrrd",    // repeat run
		"xzxzxzxz",   // alternating
		"ababababab", // alternating, low unique ratio
	}
	for _, w := range valid {
		assert.True(t, isStructurallyValid(w), w)
	}
	for _, w := range invalid {
		assert.False(t, isStructurallyValid(w), w)
	}
}

func TestConfidenceSignal(t *testing.T) {
	c := NewConfidenceSignal()

	t.Run("no data is neutral", func(t *testing.T) {
		r := c.Score(nil)
		assert.Equal(t, 0.5, r.Score)
		assert.True(t, r.Passed)
		assert.Equal(t, "no_data", r.Details["reason"])
	})

	t.Run("zero conf filtered", func(t *testing.T) {
		r := c.Score([]WordConfidence{{Text: "x", Conf: 0}, {Text: " ", Conf: 90}})
		assert.Equal(t, 0.5, r.Score)
	})

	t.Run("length weighted mean", func(t *testing.T) {
		r := c.Score([]WordConfidence{
			{Text: "phenomenology", Conf: 90}, // weight 13
			{Text: "a", Conf: 10},             // weight 1
		})
		want := (90.0*13 + 10.0*1) / 14 / 100
		assert.InDelta(t, want, r.Score, 1e-9)
		assert.Equal(t, 10, r.Details["min_conf"])
	})

	t.Run("low confidence words sampled", func(t *testing.T) {
		r := c.Score([]WordConfidence{{Text: "blurry", Conf: 12}, {Text: "clear", Conf: 95}})
		low, ok := r.Details["low_conf_words"].([]string)
		require.True(t, ok)
		assert.Equal(t, []string{"blurry"}, low)
	})
}

func TestAnalyzerComposite(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("weights without confidence", func(t *testing.T) {
		r := a.Analyze(cleanText, nil, false)
		assert.False(t, r.HasConfidence)
		assert.Equal(t, map[string]float64{
			types.SignalGarbled:    0.55,
			types.SignalDictionary: 0.45,
		}, r.Weights)
		assert.NotContains(t, r.SignalScores, types.SignalConfidence)
	})

	t.Run("weights with confidence", func(t *testing.T) {
		conf := highConfidenceData(80)
		r := a.Analyze(cleanText, conf, false)
		assert.True(t, r.HasConfidence)
		assert.Equal(t, 0.4, r.Weights[types.SignalGarbled])
		assert.Equal(t, 0.3, r.Weights[types.SignalConfidence])
		assert.Contains(t, r.SignalScores, types.SignalConfidence)
	})

	t.Run("empty confidence slice still counts as present", func(t *testing.T) {
		r := a.Analyze(cleanText, []WordConfidence{}, false)
		assert.True(t, r.HasConfidence)
		assert.Equal(t, 0.5, r.SignalScores[types.SignalConfidence])
	})

	t.Run("high confidence short circuit", func(t *testing.T) {
		r := a.Analyze(garbledText, highConfidenceData(99), false)
		assert.GreaterOrEqual(t, r.Score, 0.9)
	})

	t.Run("low confidence short circuit", func(t *testing.T) {
		r := a.Analyze(cleanText, highConfidenceData(10), false)
		assert.LessOrEqual(t, r.Score, 0.3)
		assert.True(t, r.Flagged)
	})

	t.Run("floor failure flags despite composite", func(t *testing.T) {
		// Confidence 0.25 is under its 0.3 floor but above the 0.2
		// short-circuit, so only the floor rule can flag this page.
		r := a.Analyze(cleanText, highConfidenceData(25), false)
		assert.True(t, r.Flagged)
	})

	t.Run("garbage flags", func(t *testing.T) {
		r := a.Analyze(garbledText, nil, false)
		assert.True(t, r.Flagged)
		assert.Less(t, r.Score, a.Threshold())
	})

	t.Run("clean text passes", func(t *testing.T) {
		r := a.Analyze(cleanText, nil, false)
		assert.False(t, r.Flagged, "score %f", r.Score)
	})

	t.Run("gray zone detection", func(t *testing.T) {
		a2, err := NewAnalyzer(0.5, "")
		require.NoError(t, err)
		// Find a text whose composite lands within 0.05 of 0.5 by
		// mixing known and soup words; the exact value matters less
		// than the band check being consistent with the score.
		r := a2.Analyze(cleanText, nil, false)
		assert.Equal(t, abs(r.Score-0.5) < GrayZone, r.GrayZone)
	})
}

func TestAnalyzePages(t *testing.T) {
	a := newTestAnalyzer(t)
	results := a.AnalyzePages([]string{cleanText, garbledText}, nil, false)
	require.Len(t, results, 2)
	assert.False(t, results[0].Flagged)
	assert.True(t, results[1].Flagged)

	flagged := a.FlaggedPageIndices([]string{cleanText, garbledText, cleanText})
	assert.Equal(t, []int{1}, flagged)
}

func highConfidenceData(conf int) []WordConfidence {
	words := strings.Fields("the question concerning technology and other essays")
	data := make([]WordConfidence, len(words))
	for i, w := range words {
		data[i] = WordConfidence{Text: w, Conf: conf}
	}
	return data
}
