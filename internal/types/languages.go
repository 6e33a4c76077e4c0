package types

import (
	"fmt"
	"strings"
)

// Language maps one canonical ISO 639-1 code to the per-engine codes the
// external OCR engines expect.
type Language struct {
	ISO       string
	Tesseract string
	Surya     string
}

// languages is the canonical set supported by the pipeline, keyed by ISO
// 639-1 code. The academic corpus this pipeline targets is dominated by
// English, French, German, Greek and Latin.
var languages = map[string]Language{
	"en": {ISO: "en", Tesseract: "eng", Surya: "en"},
	"fr": {ISO: "fr", Tesseract: "fra", Surya: "fr"},
	"de": {ISO: "de", Tesseract: "deu", Surya: "de"},
	"el": {ISO: "el", Tesseract: "ell", Surya: "el"},
	"la": {ISO: "la", Tesseract: "lat", Surya: "la"},
}

// Default comma-separated language strings, one per engine format.
const (
	DefaultTesseractLangs = "eng,fra,ell,lat,deu"
	DefaultSuryaLangs     = "en,fr,el,la,de"
)

// ResolveLanguages converts a comma-separated list of ISO 639-1 codes into
// the tesseract and surya forms. Engine-native codes (e.g. "eng") are
// accepted and mapped back to their canonical language. Unknown codes are
// an error listing every unrecognized entry.
func ResolveLanguages(iso string) (tesseract, surya string, err error) {
	if strings.TrimSpace(iso) == "" {
		return DefaultTesseractLangs, DefaultSuryaLangs, nil
	}

	byTesseract := make(map[string]Language, len(languages))
	for _, l := range languages {
		byTesseract[l.Tesseract] = l
	}

	var tessCodes, suryaCodes, unknown []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(iso, ",") {
		code := strings.ToLower(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		lang, ok := languages[code]
		if !ok {
			lang, ok = byTesseract[code]
		}
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		if seen[lang.ISO] {
			continue
		}
		seen[lang.ISO] = true
		tessCodes = append(tessCodes, lang.Tesseract)
		suryaCodes = append(suryaCodes, lang.Surya)
	}

	if len(unknown) > 0 {
		return "", "", fmt.Errorf("unsupported language codes: %s (supported: en, fr, de, el, la)",
			strings.Join(unknown, ", "))
	}
	if len(tessCodes) == 0 {
		return DefaultTesseractLangs, DefaultSuryaLangs, nil
	}
	return strings.Join(tessCodes, ","), strings.Join(suryaCodes, ","), nil
}

// TesseractLanguageList splits a tesseract language string into its codes.
func TesseractLanguageList(langs string) []string {
	var out []string
	for _, c := range strings.Split(langs, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
