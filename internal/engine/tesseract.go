package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Tesseract extracts word-level OCR data through the tesseract CLI's TSV
// output, feeding the confidence quality signal.
type Tesseract struct {
	Binary string
}

// NewTesseract returns a word-data extractor using tesseract from PATH
// unless a binary path is given.
func NewTesseract(binary string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{Binary: binary}
}

// ImageToData OCRs the image and returns every word with a positive
// confidence. Languages use tesseract's plus-joined format ("eng+fra").
func (t *Tesseract) ImageToData(ctx context.Context, imagePath, languages string) ([]Word, error) {
	args := []string{imagePath, "stdout"}
	if languages != "" {
		args = append(args, "-l", strings.ReplaceAll(languages, ",", "+"))
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return nil, fmt.Errorf("%w: %s not found in PATH", ErrMissingDependency, t.Binary)
		}
		return nil, fmt.Errorf("tesseract failed on %q: %w: %s", imagePath, err, firstLine(stderr.String()))
	}
	return ParseTSV(string(out)), nil
}

// ParseTSV extracts word-level records from tesseract's TSV output. Only
// level-5 (word) rows with positive confidence and non-empty text survive.
func ParseTSV(tsv string) []Word {
	var words []Word
	scanner := bufio.NewScanner(strings.NewReader(tsv))
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			// Header row.
			first = false
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}
		level, err := strconv.Atoi(fields[0])
		if err != nil || level != 5 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf <= 0 {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}
		words = append(words, Word{Text: text, Conf: int(conf)})
	}
	return words
}

// ListLanguages queries the installed language packs.
func (t *Tesseract) ListLanguages(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, t.Binary, "--list-langs")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("tesseract --list-langs failed: %w", err)
	}

	var langs []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// The first line is a banner ("List of available languages ...").
		if line == "" || strings.Contains(line, " ") {
			continue
		}
		langs = append(langs, line)
	}
	return langs, nil
}
