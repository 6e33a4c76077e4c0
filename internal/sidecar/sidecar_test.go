package sidecar

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

func sampleResult() *types.FileResult {
	return &types.FileResult{
		Filename:   "husserl.pdf",
		Success:    true,
		Engine:     types.EngineMixed,
		PageCount:  2,
		OutputPath: "/out/final/husserl.pdf",
		Pages: []types.PageResult{
			{
				PageNumber:   0,
				Status:       types.StatusGood,
				QualityScore: 0.95,
				Engine:       types.EngineTesseract,
				Text:         "the idea of phenomenology",
				Diagnostics: &types.PageDiagnostics{
					SignalScores:       map[string]float64{"garbled": 1.0},
					StruggleCategories: []string{},
				},
			},
			{
				PageNumber:   1,
				Status:       types.StatusGood,
				QualityScore: 0.91,
				Engine:       types.EngineSurya,
				Text:         "logical investigations",
				Diagnostics: &types.PageDiagnostics{
					SignalScores:       map[string]float64{"garbled": 0.9},
					StruggleCategories: []string{types.StruggleGrayZone},
				},
			},
		},
		QualityScore: 0.93,
	}
}

func TestWriteMetadataStripsTextAndDiagnostics(t *testing.T) {
	dir := t.TempDir()
	fr := sampleResult()
	require.NoError(t, WriteMetadata(dir, fr, "1.2.3"))

	data, err := os.ReadFile(filepath.Join(dir, "husserl.json"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "1.2.3", doc["pipeline_version"])
	assert.Equal(t, "husserl.pdf", doc["filename"])
	assert.Equal(t, "mixed", doc["engine"])

	pages, ok := doc["pages"].([]any)
	require.True(t, ok)
	require.Len(t, pages, 2)
	page := pages[0].(map[string]any)
	_, hasText := page["text"]
	assert.False(t, hasText, "page text must not appear in metadata sidecar")
	_, hasDiag := page["diagnostics"]
	assert.False(t, hasDiag, "diagnostics live in their own sidecar")

	// The in-memory result keeps its text.
	assert.NotEmpty(t, fr.Pages[0].Text)
}

func TestWriteDiagnostics(t *testing.T) {
	dir := t.TempDir()
	fr := sampleResult()
	require.NoError(t, WriteDiagnostics(dir, fr, "1.2.3"))

	data, err := os.ReadFile(filepath.Join(dir, "husserl.diagnostics.json"))
	require.NoError(t, err)

	var doc diagnosticsDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "husserl.pdf", doc.Filename)
	require.Len(t, doc.Pages, 2)
	require.NotNil(t, doc.Pages[1].Diagnostics)
	assert.Equal(t, []string{types.StruggleGrayZone}, doc.Pages[1].Diagnostics.StruggleCategories)
	assert.Equal(t, types.EngineSurya, doc.Pages[1].Engine)
}

func TestStemPrefersOutputPath(t *testing.T) {
	fr := &types.FileResult{Filename: "in.pdf", OutputPath: "/out/final/renamed.pdf"}
	assert.Equal(t, "renamed", Stem(fr))

	fr = &types.FileResult{Filename: "in.pdf"}
	assert.Equal(t, "in", Stem(fr))
}

func TestWriteMetadataAtomic(t *testing.T) {
	dir := t.TempDir()
	fr := sampleResult()
	require.NoError(t, WriteMetadata(dir, fr, "1"))
	// A second write replaces the file without leaving temp debris.
	require.NoError(t, WriteMetadata(dir, fr, "2"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "husserl.json", entries[0].Name())
}
