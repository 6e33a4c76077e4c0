package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// garbledPattern pairs a precompiled regex with the issue label reported in
// sample details.
type garbledPattern struct {
	re   *regexp.Regexp
	kind string
}

var garbledPatterns = []garbledPattern{
	{regexp.MustCompile(`(?i)[bcdfghjklmnpqrstvwxz]{6,}`), "consonant_cluster"},
	{regexp.MustCompile(`[^\w\s.,;:!?'"\-–—…*()]{3,}`), "symbol_run"},
	{regexp.MustCompile(`\b[A-Z][a-z]+[A-Z][a-z]*\b`), "weird_case"},
	{regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`), "control_char"},
}

// validPatterns match structural tokens that are legitimate despite failing
// word heuristics: page numbers, year ranges, roman numerals, ISBN codes,
// footnote markers, section signs and similar reference apparatus.
var validPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^\d{1,4}[-–—]+\d{1,4}$`),
	regexp.MustCompile(`(?i)^[ivxlcdm]+$`),
	regexp.MustCompile(`^\d{4}$`),
	regexp.MustCompile(`^[A-Z]\d+$`),
	regexp.MustCompile(`^\d+[a-z]?$`),
	regexp.MustCompile(`(?i)^ISBN`),
	regexp.MustCompile(`^\d{1,3}\.\d`),
	regexp.MustCompile(`^[A-Z]{2,4}\d`),
	regexp.MustCompile(`(?i)^pp?\.\s*\d`),
	regexp.MustCompile(`^\(\d+\)$`),
	regexp.MustCompile(`^\[\d+\]$`),
	regexp.MustCompile(`^§\d`),
	regexp.MustCompile(`^\d+[a-z]?[-–—]+\d+[a-z]?$`),
	regexp.MustCompile(`^[\d][\d\-–—]+[\d]$`),
	regexp.MustCompile(`^\d[\d.\-–—/]+\d$`),
}

var heideggerTerms = []string{
	"erschlossenheit", "befindlichkeit", "geworfenheit", "eigentlichkeit",
	"uneigentlichkeit", "vorhandenheit", "zuhandenheit", "mitsein", "dasein",
	"zeitlichkeit", "geschichtlichkeit", "weltlichkeit", "sorge", "schuld",
	"entschlossenheit", "wiederholung", "augenblick", "vorlaufen",
	"gewesenheit", "gegenwärtigen", "gewärtigen", "verstehen", "auslegung",
	"rede", "gerede", "neugier", "zweideutigkeit", "verfallenheit",
	"angst", "furcht", "langeweile", "stimmung", "befindlich",
	"lichtung", "gestell", "ereignis", "kehre", "gelassenheit",
	"grundstimmung", "unverborgenheit", "seinsgeschichte",
}

var kantTerms = []string{
	"vernunft", "verstand", "anschauung", "urteilskraft", "pflicht",
	"kategorisch", "imperativ", "transzendental", "apriorisch", "erkenntnis",
	"erscheinung", "noumenon", "ding", "einbildungskraft", "sinnlichkeit",
	"empfindung", "wahrnehmung",
}

var hegelTerms = []string{
	"geist", "aufhebung", "dialektik", "synthese", "entfremdung",
	"selbstbewusstsein", "absolut", "vermittlung", "wirklichkeit",
}

var husserlTerms = []string{
	"intentionalität", "epoché", "reduktion", "lebenswelt",
	"noesis", "noema", "konstitution", "evidenz",
}

var germanPhilosophyTerms = []string{
	"wissenschaft", "grundlegung", "weltanschauung", "vorstellung",
	"bestimmung", "begrifflichkeit", "zusammenhang", "beziehung",
	"freiheit", "wahrheit", "sein", "seiende", "nichts", "wesen",
	"bedeutung", "sinn", "zweck", "grund", "ursache", "wirkung",
	"vorurteil", "bildung", "erfahrung", "geschichte", "natur", "kultur",
	"gesellschaft", "gemeinschaft", "freundschaft", "eigenschaft",
	"grundsätzlichkeit", "freundlichkeit", "möglichkeit", "notwendigkeit",
	"widerspruch", "gegensatz", "einheit", "vielheit", "allgemeinheit",
	"besonderheit", "einzelheit", "substanz", "subjekt", "objekt",
	"bewusstsein", "unbewusstes", "trieb", "wille", "macht",
}

var frenchTerms = []string{
	"autrement", "visage", "infini", "totalité", "altérité",
	"jouissance", "fécondité", "proximité", "responsabilité",
	"substitution", "signification", "conscience", "différence",
	"présence", "absence", "parole", "écriture", "discours",
}

var greekTerms = []string{
	"aletheia", "phronesis", "episteme", "techne", "theoria", "praxis",
	"ousia", "eidos", "logos", "nous", "psyche", "pneuma",
	"arche", "telos", "dynamis", "energeia", "entelecheia",
	"eudaimonia", "arete", "sophia", "doxa", "noesis",
}

var validShort = map[string]struct{}{}

var validTerms = map[string]struct{}{}

// germanSuffixes exempt a word from the consonant-cluster check: compounds
// like "Grundsätzlichkeit" carry long clusters legitimately.
var germanSuffixes = []string{"keit", "heit", "ung", "schaft", "lich", "isch", "tum", "nis"}

func init() {
	for _, group := range [][]string{
		germanPhilosophyTerms, heideggerTerms, kantTerms, hegelTerms,
		husserlTerms, frenchTerms, greekTerms,
	} {
		for _, w := range group {
			validTerms[w] = struct{}{}
		}
	}
	shorts := []string{
		"a", "i", "à", "y", "ô", "le", "la", "de", "du", "un", "en",
		"et", "ou", "au", "il", "je", "tu", "on", "ce", "se", "ne",
		"the", "of", "to", "in", "is", "it", "an", "as", "at", "be",
		"by", "or", "so", "we", "if", "my", "up", "no", "do",
		"ad", "ex", "ab",
	}
	for _, w := range shorts {
		validShort[w] = struct{}{}
	}
}

const tokenPunctCutset = ".,;:!?()[]{}\"'-–—"

// GarbledSignal detects OCR garbage by pattern-matching individual tokens
// against known corruption shapes, with whitelists for the philosophical
// vocabulary this pipeline's corpus actually contains.
type GarbledSignal struct {
	maxSamples int
}

// NewGarbledSignal returns a garbled-text signal keeping at most maxSamples
// offending tokens in its details.
func NewGarbledSignal(maxSamples int) *GarbledSignal {
	if maxSamples <= 0 {
		maxSamples = 10
	}
	return &GarbledSignal{maxSamples: maxSamples}
}

// Score classifies every whitespace token and returns the garbled signal.
// Text under 100 characters is too short to judge and scores 1.0.
func (g *GarbledSignal) Score(text string, collectContext bool) types.SignalResult {
	clean := func(garbled, total int, issues, contexts []string) types.SignalResult {
		score := 1.0
		if total > 0 {
			ratio := float64(garbled) / float64(total)
			score = 1.0 - ratio*2
			if score < 0 {
				score = 0
			}
		}
		return types.SignalResult{
			Name:   types.SignalGarbled,
			Score:  score,
			Passed: score >= FloorGarbled,
			Details: map[string]any{
				"garbled_count":  garbled,
				"total_words":    total,
				"sample_issues":  issues,
				"sample_context": contexts,
			},
		}
	}

	if len(strings.TrimSpace(text)) < 100 {
		return clean(0, 0, []string{}, []string{})
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return clean(0, 0, []string{}, []string{})
	}

	garbled := 0
	issues := []string{}
	contexts := []string{}

	for idx, word := range words {
		token := strings.Trim(word, tokenPunctCutset)
		if len([]rune(token)) < 2 {
			continue
		}
		lower := strings.ToLower(token)
		if _, ok := validShort[lower]; ok {
			continue
		}
		if matchesAny(validPatterns, token) {
			continue
		}
		if _, ok := validTerms[lower]; ok {
			continue
		}

		issueType := classifyToken(token, lower)
		if issueType == "" {
			continue
		}

		garbled++
		if len(issues) < g.maxSamples {
			issues = append(issues, fmt.Sprintf("%s (%s)", token, issueType))
			if collectContext {
				start := max(0, idx-5)
				end := min(len(words), idx+6)
				contexts = append(contexts, "..."+strings.Join(words[start:end], " ")+"...")
			}
		}
	}

	return clean(garbled, len(words), issues, contexts)
}

// classifyToken returns the issue label for a garbled token, or "" if the
// token looks clean.
func classifyToken(token, lower string) string {
	runes := []rune(token)
	alpha := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if len(runes) > 4 && float64(alpha)/float64(len(runes)) < 0.3 {
		return "low_alpha"
	}

	hasGermanSuffix := false
	for _, suffix := range germanSuffixes {
		if strings.HasSuffix(lower, suffix) {
			hasGermanSuffix = true
			break
		}
	}
	for _, p := range garbledPatterns {
		if p.kind == "consonant_cluster" && hasGermanSuffix {
			continue
		}
		if p.re.MatchString(token) {
			return p.kind
		}
	}
	return ""
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
