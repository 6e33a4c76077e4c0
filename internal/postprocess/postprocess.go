// Package postprocess cleans OCR output text: line-break dehyphenation,
// paragraph joining, Unicode normalization and punctuation fixes. Each
// transform optionally increments a counter map that ends up in page
// diagnostics.
package postprocess

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Counter keys.
const (
	CountDehyphenations   = "dehyphenations"
	CountParagraphJoins   = "paragraph_joins"
	CountUnicodeNorms     = "unicode_normalizations"
	CountPunctuationFixes = "punctuation_fixes"
)

// NewCounters returns a counter map with every key present at zero so the
// diagnostics sidecar always carries the full set.
func NewCounters() map[string]int {
	return map[string]int{
		CountDehyphenations:   0,
		CountParagraphJoins:   0,
		CountUnicodeNorms:     0,
		CountPunctuationFixes: 0,
	}
}

// hyphenBreak matches a word fragment hyphenated across a line break.
var hyphenBreak = regexp.MustCompile(`(\p{L}+)[-\x{00AD}]\n(\p{L}+)`)

// protectedTerms keeps intentional hyphens intact when the joined halves
// form a known compound, e.g. "Heidegger-Jaspers" split across lines.
var protectedTerms = map[string]struct{}{
	"heidegger-jaspers":    {},
	"husserl-archiv":       {},
	"sein-zum-tode":        {},
	"in-der-welt-sein":     {},
	"merleau-ponty":        {},
	"subjekt-objekt":       {},
	"leib-seele":           {},
	"a-priori":             {},
	"post-kantian":         {},
	"neo-kantian":          {},
	"quasi-transcendental": {},
}

// Dehyphenate rejoins words split by a line-break hyphen. Compounds in the
// term whitelist keep their hyphen (without the break); everything else is
// merged into one word.
func Dehyphenate(text string, counters map[string]int) string {
	return hyphenBreak.ReplaceAllStringFunc(text, func(match string) string {
		parts := hyphenBreak.FindStringSubmatch(match)
		left, right := parts[1], parts[2]
		joined := strings.ToLower(left + "-" + right)
		if counters != nil {
			counters[CountDehyphenations]++
		}
		if _, ok := protectedTerms[joined]; ok {
			return left + "-" + right
		}
		return left + right
	})
}

// JoinParagraphs replaces single newlines inside paragraphs with spaces
// while keeping blank-line paragraph boundaries.
func JoinParagraphs(text string, counters map[string]int) string {
	paragraphs := regexp.MustCompile(`\n{2,}`).Split(text, -1)
	for i, p := range paragraphs {
		lines := strings.Split(p, "\n")
		if len(lines) > 1 {
			joined := make([]string, 0, len(lines))
			for _, l := range lines {
				l = strings.TrimRight(l, " \t")
				if l != "" {
					joined = append(joined, l)
				}
			}
			if len(joined) > 1 && counters != nil {
				counters[CountParagraphJoins] += len(joined) - 1
			}
			paragraphs[i] = strings.Join(joined, " ")
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

var ligatures = strings.NewReplacer(
	"ﬀ", "ff", "ﬁ", "fi", "ﬂ", "fl", "ﬃ", "ffi", "ﬄ", "ffl", "ﬅ", "ft", "ﬆ", "st",
)

// NormalizeUnicode applies NFC, expands typographic ligatures and strips
// soft hyphens.
func NormalizeUnicode(text string, counters map[string]int) string {
	out := norm.NFC.String(text)
	out = ligatures.Replace(out)
	out = strings.ReplaceAll(out, "­", "")
	if out != text && counters != nil {
		counters[CountUnicodeNorms]++
	}
	return out
}

var (
	multiSpace       = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunct = regexp.MustCompile(` +([.,;:!?])`)
)

var smartQuotes = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
)

// NormalizePunctuation substitutes smart quotes, collapses repeated spaces
// and removes space before closing punctuation.
func NormalizePunctuation(text string, counters map[string]int) string {
	out := smartQuotes.Replace(text)
	out = multiSpace.ReplaceAllString(out, " ")
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	if out != text && counters != nil {
		counters[CountPunctuationFixes]++
	}
	return out
}

// Apply chains all transforms in order. counters may be nil.
func Apply(text string, counters map[string]int) string {
	out := Dehyphenate(text, counters)
	out = JoinParagraphs(out, counters)
	out = NormalizeUnicode(out, counters)
	out = NormalizePunctuation(out, counters)
	return out
}
