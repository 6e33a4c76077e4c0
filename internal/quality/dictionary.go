package quality

import (
	"bufio"
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

//go:embed data/wordlist.txt
var wordlistData string

// Punctuation stripped from tokens before dictionary lookup, including the
// typographic marks OCR engines emit.
const dictPunctCutset = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~–—‘’“”…"

var vowels = map[rune]struct{}{}

func init() {
	for _, r := range "aeiouyàáâãäåèéêëìíîïòóôõöùúûüæœ" {
		vowels[r] = struct{}{}
	}
}

// DictionarySignal scores text by word-list coverage. Tokens fall into
// three buckets: known words count 1.0, unknown-but-structured words count
// 0.5, structurally invalid words count 0.
type DictionarySignal struct {
	words map[string]struct{}
	floor float64
}

// NewDictionarySignal loads the bundled word list, optionally merging a
// custom vocabulary file (one word per line).
func NewDictionarySignal(customVocabPath string) (*DictionarySignal, error) {
	words := make(map[string]struct{}, 8192)
	loadWords(strings.NewReader(wordlistData), words)

	if customVocabPath != "" {
		f, err := os.Open(customVocabPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open custom vocabulary %q: %w", customVocabPath, err)
		}
		defer func() { _ = f.Close() }()
		loadWords(f, words)
	}

	return &DictionarySignal{words: words, floor: FloorDictionary}, nil
}

func loadWords(r interface{ Read([]byte) (int, error) }, into map[string]struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w != "" {
			into[strings.ToLower(w)] = struct{}{}
		}
	}
}

// Known reports whether the word is in the merged word list.
func (d *DictionarySignal) Known(word string) bool {
	_, ok := d.words[strings.ToLower(word)]
	return ok
}

// Score classifies every token and returns the weighted coverage score.
// Empty or all-numeric text is unscoreable and returns 1.0.
func (d *DictionarySignal) Score(text string) types.SignalResult {
	emptyResult := types.SignalResult{
		Name:   types.SignalDictionary,
		Score:  1.0,
		Passed: true,
		Details: map[string]any{
			"known_count": 0, "unknown_structured": 0, "unknown_garbled": 0, "total": 0,
		},
	}
	if strings.TrimSpace(text) == "" {
		return emptyResult
	}

	var known, structured, garbled, total int
	for _, token := range strings.Fields(text) {
		word := stripPunct(token)

		runes := []rune(word)
		if len(runes) < 3 || !containsLetter(runes) {
			continue
		}
		total++
		if d.Known(word) {
			known++
		} else if isStructurallyValid(word) {
			structured++
		} else {
			garbled++
		}
	}

	if total == 0 {
		return emptyResult
	}

	score := (float64(known) + 0.5*float64(structured)) / float64(total)
	score = math.Round(math.Min(1, math.Max(0, score))*10000) / 10000

	return types.SignalResult{
		Name:   types.SignalDictionary,
		Score:  score,
		Passed: score >= d.floor,
		Details: map[string]any{
			"known_count":        known,
			"unknown_structured": structured,
			"unknown_garbled":    garbled,
			"total":              total,
		},
	}
}

func stripPunct(word string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(dictPunctCutset, r) {
			return -1
		}
		return r
	}, word)
}

func containsLetter(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isStructurallyValid checks whether an out-of-dictionary word looks like a
// plausible word rather than character soup: reasonable vowel ratio, no long
// repeated or alternating rune runs, enough distinct runes for its length.
func isStructurallyValid(word string) bool {
	lower := []rune(strings.ToLower(word))
	length := len(lower)
	if length < 2 {
		return true
	}

	vowelCount := 0
	for _, r := range lower {
		if _, ok := vowels[r]; ok {
			vowelCount++
		}
	}
	ratio := float64(vowelCount) / float64(length)
	if ratio < 0.1 && length > 3 {
		return false
	}
	if ratio > 0.9 && length > 4 {
		return false
	}

	if hasRepeatRun(lower, 4) {
		return false
	}
	if hasAlternatingRun(lower, 3) {
		return false
	}

	if length > 6 {
		unique := make(map[rune]struct{}, length)
		for _, r := range lower {
			unique[r] = struct{}{}
		}
		if float64(len(unique))/float64(length) < 0.3 {
			return false
		}
	}
	return true
}

// hasRepeatRun reports whether any rune appears n or more times in a row.
func hasRepeatRun(runes []rune, n int) bool {
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// hasAlternatingRun reports whether a two-rune unit repeats n or more times
// consecutively (e.g. "xzxzxz").
func hasAlternatingRun(runes []rune, n int) bool {
	if len(runes) < 2*n {
		return false
	}
	for start := 0; start+2*n <= len(runes); start++ {
		a, b := runes[start], runes[start+1]
		ok := true
		for k := 1; k < n; k++ {
			if runes[start+2*k] != a || runes[start+2*k+1] != b {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
