package postprocess

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestDehyphenate(t *testing.T) {
	counters := NewCounters()

	out := Dehyphenate("the pheno-\nmenology of spirit", counters)
	assert.Equal(t, "the phenomenology of spirit", out)
	assert.Equal(t, 1, counters[CountDehyphenations])

	t.Run("protected compound keeps hyphen", func(t *testing.T) {
		out := Dehyphenate("the Heidegger-\nJaspers correspondence", nil)
		assert.Equal(t, "the Heidegger-Jaspers correspondence", out)
	})

	t.Run("soft hyphen break", func(t *testing.T) {
		out := Dehyphenate("philo­\nsophy", nil)
		assert.Equal(t, "philosophy", out)
	})

	t.Run("mid-line hyphens untouched", func(t *testing.T) {
		out := Dehyphenate("a well-known argument", nil)
		assert.Equal(t, "a well-known argument", out)
	})
}

func TestJoinParagraphs(t *testing.T) {
	counters := NewCounters()
	text := "first line\nsecond line\n\nnew paragraph\ncontinues here"
	out := JoinParagraphs(text, counters)
	assert.Equal(t, "first line second line\n\nnew paragraph continues here", out)
	assert.Equal(t, 2, counters[CountParagraphJoins])

	t.Run("single paragraph", func(t *testing.T) {
		assert.Equal(t, "just one line", JoinParagraphs("just one line", nil))
	})

	t.Run("triple blank lines collapse to one boundary", func(t *testing.T) {
		out := JoinParagraphs("a\n\n\n\nb", nil)
		assert.Equal(t, "a\n\nb", out)
	})
}

func TestNormalizeUnicode(t *testing.T) {
	counters := NewCounters()

	out := NormalizeUnicode("diﬀerence in eﬃciency", counters)
	assert.Equal(t, "difference in efficiency", out)
	assert.Equal(t, 1, counters[CountUnicodeNorms])

	t.Run("soft hyphens removed", func(t *testing.T) {
		assert.Equal(t, "philosophy", NormalizeUnicode("philo­sophy", nil))
	})

	t.Run("combining accents composed", func(t *testing.T) {
		// e + combining acute becomes the precomposed é.
		assert.Equal(t, "é", NormalizeUnicode("é", nil))
	})

	t.Run("clean text not counted", func(t *testing.T) {
		c := NewCounters()
		NormalizeUnicode("already clean", c)
		assert.Equal(t, 0, c[CountUnicodeNorms])
	})
}

func TestNormalizePunctuation(t *testing.T) {
	counters := NewCounters()

	out := NormalizePunctuation("“quoted”  text , with ‘smart’ marks .", counters)
	assert.Equal(t, `"quoted" text, with 'smart' marks.`, out)
	assert.Equal(t, 1, counters[CountPunctuationFixes])
}

func TestApplyChain(t *testing.T) {
	counters := NewCounters()
	text := "the pheno-\nmenology of “spirit”\nwas written\n\nin Jena"
	out := Apply(text, counters)
	assert.Equal(t, "the phenomenology of \"spirit\" was written\n\nin Jena", out)
	assert.Positive(t, counters[CountDehyphenations])
	assert.Positive(t, counters[CountParagraphJoins])
	assert.Positive(t, counters[CountPunctuationFixes])
}

func TestApplyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	wordGen := gen.OneConstOf(
		"being", "time", "pheno-\nmenology", "“quote”", "étude",
		"diﬀerent", "first\nsecond", "a\n\nb", "x  y", "plain",
	)
	textGen := gen.SliceOf(wordGen).Map(func(words []string) string {
		out := ""
		for i, w := range words {
			if i > 0 {
				out += " "
			}
			out += w
		}
		return out
	})

	properties.Property("second application is a no-op", prop.ForAll(
		func(text string) bool {
			once := Apply(text, nil)
			twice := Apply(once, nil)
			return once == twice
		},
		textGen,
	))

	properties.TestingRun(t)
}

func TestNilCountersSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		Apply("any - text\nwith “stuff”", nil)
	})
}
