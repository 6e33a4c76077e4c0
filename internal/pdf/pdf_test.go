package pdf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPagesRejectsBadInput(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.pdf")

	t.Run("empty selection", func(t *testing.T) {
		err := ExtractPages("in.pdf", nil, dst)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no pages")
	})

	t.Run("negative index", func(t *testing.T) {
		err := ExtractPages("in.pdf", []int{-1}, dst)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		err := ExtractPages(filepath.Join(t.TempDir(), "nope.pdf"), []int{0}, dst)
		require.Error(t, err)
	})
}

func TestCombinePagesRejectsEmpty(t *testing.T) {
	err := CombinePages(nil, filepath.Join(t.TempDir(), "out.pdf"))
	require.Error(t, err)
}

func TestPageCountMissingFile(t *testing.T) {
	_, err := PageCount(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}

func TestExtractTextMissingFile(t *testing.T) {
	_, err := ExtractTextByPage(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)

	_, err = ExtractPageText(filepath.Join(t.TempDir(), "missing.pdf"), 0)
	require.Error(t, err)
}
