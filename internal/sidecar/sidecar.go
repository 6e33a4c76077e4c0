// Package sidecar writes the per-file JSON artifacts next to the output
// PDF: {stem}.json with the file's result metadata (no page text) and
// {stem}.diagnostics.json with the full per-page diagnostics. Writes are
// atomic so partially written sidecars never appear.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// fileMetadata is the {stem}.json document: the FileResult with page text
// and per-page diagnostics stripped, plus the pipeline version.
type fileMetadata struct {
	PipelineVersion string `json:"pipeline_version"`
	types.FileResult
}

// diagnosticsDoc is the {stem}.diagnostics.json document.
type diagnosticsDoc struct {
	Filename        string            `json:"filename"`
	PipelineVersion string            `json:"pipeline_version"`
	Pages           []pageDiagnostics `json:"pages"`
}

type pageDiagnostics struct {
	PageNumber   int                    `json:"page_number"`
	Status       types.PageStatus       `json:"status"`
	QualityScore float64                `json:"quality_score"`
	Engine       types.Engine           `json:"engine"`
	Flagged      bool                   `json:"flagged"`
	Diagnostics  *types.PageDiagnostics `json:"diagnostics,omitempty"`
}

// Stem derives the sidecar base name from the result's output path,
// falling back to the input filename.
func Stem(fr *types.FileResult) string {
	name := fr.Filename
	if fr.OutputPath != "" {
		name = filepath.Base(fr.OutputPath)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// WriteMetadata writes final/{stem}.json. Page text and diagnostics are
// dropped; the diagnostics sidecar carries those.
func WriteMetadata(finalDir string, fr *types.FileResult, version string) error {
	meta := fileMetadata{PipelineVersion: version, FileResult: *fr}
	meta.Pages = make([]types.PageResult, len(fr.Pages))
	for i, pg := range fr.Pages {
		pg.Text = ""
		pg.Diagnostics = nil
		meta.Pages[i] = pg
	}
	return writeJSON(filepath.Join(finalDir, Stem(fr)+".json"), meta)
}

// WriteDiagnostics writes final/{stem}.diagnostics.json with every page's
// diagnostics block.
func WriteDiagnostics(finalDir string, fr *types.FileResult, version string) error {
	doc := diagnosticsDoc{
		Filename:        fr.Filename,
		PipelineVersion: version,
		Pages:           make([]pageDiagnostics, len(fr.Pages)),
	}
	for i, pg := range fr.Pages {
		doc.Pages[i] = pageDiagnostics{
			PageNumber:   pg.PageNumber,
			Status:       pg.Status,
			QualityScore: pg.QualityScore,
			Engine:       pg.Engine,
			Flagged:      pg.Flagged,
			Diagnostics:  pg.Diagnostics,
		}
	}
	return writeJSON(filepath.Join(finalDir, Stem(fr)+".diagnostics.json"), doc)
}

// writeJSON marshals v with indentation and writes it atomically via a
// temp file and rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}
