package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageRef identifies a single page of a source PDF, 0-indexed.
type PageRef struct {
	Source    string
	PageIndex int
}

// PageCount returns the number of pages in a PDF.
func PageCount(filename string) (int, error) {
	n, err := api.PageCountFile(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %q: %w", filename, err)
	}
	return n, nil
}

// ExtractPages writes the selected 0-indexed pages of src, in the given
// order of appearance in src, to dst as a new PDF.
func ExtractPages(src string, indices []int, dst string) error {
	if len(indices) == 0 {
		return fmt.Errorf("no pages selected from %q", src)
	}
	selected := make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 {
			return fmt.Errorf("negative page index %d for %q", idx, src)
		}
		selected[i] = strconv.Itoa(idx + 1)
	}
	if err := api.TrimFile(src, dst, selected, nil); err != nil {
		return fmt.Errorf("failed to extract pages from %q: %w", src, err)
	}
	return nil
}

// CombinePages splices pages from multiple PDFs into one document, in ref
// order. Each source is trimmed at most once: refs are grouped into runs of
// consecutive refs sharing a source, and each run becomes one intermediate
// before the final merge.
func CombinePages(refs []PageRef, dst string) error {
	if len(refs) == 0 {
		return fmt.Errorf("no pages to combine into %q", dst)
	}

	tempDir, err := os.MkdirTemp("", "scholardoc-combine-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var parts []string
	for start := 0; start < len(refs); {
		end := start
		for end+1 < len(refs) && refs[end+1].Source == refs[start].Source {
			end++
		}
		indices := make([]int, 0, end-start+1)
		for _, ref := range refs[start : end+1] {
			indices = append(indices, ref.PageIndex)
		}
		part := filepath.Join(tempDir, fmt.Sprintf("part_%03d.pdf", len(parts)))
		if err := ExtractPages(refs[start].Source, indices, part); err != nil {
			return err
		}
		parts = append(parts, part)
		start = end + 1
	}

	if len(parts) == 1 {
		return copyFile(parts[0], dst)
	}
	if err := api.MergeCreateFile(parts, dst, false, nil); err != nil {
		return fmt.Errorf("failed to merge %d parts into %q: %w", len(parts), dst, err)
	}
	return nil
}

// ReplacePages writes orig to dst with the 0-indexed pages in indices
// replaced by the pages of replacement, taken in order. replacement must
// have exactly len(indices) pages.
func ReplacePages(orig, replacement string, indices []int, dst string) error {
	total, err := PageCount(orig)
	if err != nil {
		return err
	}
	replCount, err := PageCount(replacement)
	if err != nil {
		return err
	}
	if replCount != len(indices) {
		return fmt.Errorf("replacement %q has %d pages, need %d", replacement, replCount, len(indices))
	}

	replaceAt := make(map[int]int, len(indices))
	for rank, idx := range indices {
		if idx < 0 || idx >= total {
			return fmt.Errorf("page index %d out of range for %q (%d pages)", idx, orig, total)
		}
		replaceAt[idx] = rank
	}

	refs := make([]PageRef, 0, total)
	for i := 0; i < total; i++ {
		if rank, ok := replaceAt[i]; ok {
			refs = append(refs, PageRef{Source: replacement, PageIndex: rank})
		} else {
			refs = append(refs, PageRef{Source: orig, PageIndex: i})
		}
	}
	return CombinePages(refs, dst)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src) //nolint:gosec // paths are pipeline-internal
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %q: %w", dst, err)
	}
	return nil
}
