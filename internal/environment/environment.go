// Package environment validates external dependencies before a run starts:
// the OCR binaries, tesseract language packs and a writable temp
// directory. All problems are collected into one error so the operator can
// fix everything at once.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/MeKo-Tech/scholardoc/internal/engine"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// Error aggregates every environment problem found during validation.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("environment validation failed:")
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// LanguageLister queries the installed tesseract language packs.
type LanguageLister interface {
	ListLanguages(ctx context.Context) ([]string, error)
}

// Checker validates the runtime environment.
type Checker struct {
	// LookPath resolves a binary name, overridable in tests.
	LookPath func(string) (string, error)
	// TempDir is the directory probed for writability.
	TempDir string
	// Languages lists tesseract packs; nil uses the tesseract CLI.
	Languages LanguageLister
}

// NewChecker returns a checker with the real PATH lookup and temp dir.
func NewChecker() *Checker {
	return &Checker{
		LookPath:  exec.LookPath,
		TempDir:   os.TempDir(),
		Languages: engine.NewTesseract(""),
	}
}

// Validate checks every prerequisite and returns a single *Error listing
// all problems, or nil when the environment is usable. langsTesseract is
// the comma-separated tesseract language string.
func (c *Checker) Validate(ctx context.Context, langsTesseract string) error {
	var problems []string

	if _, err := c.LookPath("tesseract"); err != nil {
		problems = append(problems, "tesseract not found on PATH. "+
			"Install: brew install tesseract (macOS) or apt install tesseract-ocr (Linux)")
	} else {
		problems = append(problems, c.checkLanguagePacks(ctx, langsTesseract)...)
	}

	if _, err := c.LookPath("ocrmypdf"); err != nil {
		problems = append(problems, "ocrmypdf not found on PATH. "+
			"Install: pip install ocrmypdf or apt install ocrmypdf (Linux)")
	}

	if err := c.checkTempDir(); err != nil {
		problems = append(problems, fmt.Sprintf("temp directory (%s) is not writable: %v", c.TempDir, err))
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

func (c *Checker) checkLanguagePacks(ctx context.Context, langsTesseract string) []string {
	available, err := c.Languages.ListLanguages(ctx)
	if err != nil {
		return []string{fmt.Sprintf("failed to query tesseract languages: %v", err)}
	}
	installed := make(map[string]struct{}, len(available))
	for _, l := range available {
		installed[l] = struct{}{}
	}

	var problems []string
	for _, lang := range types.TesseractLanguageList(langsTesseract) {
		if _, ok := installed[lang]; !ok {
			problems = append(problems, fmt.Sprintf(
				"tesseract language pack %q not installed. "+
					"Install: brew install tesseract-lang (macOS) or apt install tesseract-ocr-%s (Linux)",
				lang, lang))
		}
	}
	return problems
}

func (c *Checker) checkTempDir() error {
	f, err := os.CreateTemp(c.TempDir, "scholardoc-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// LogStartupDiagnostics records system and dependency details. It never
// fails; missing pieces are logged as warnings.
func (c *Checker) LogStartupDiagnostics(ctx context.Context, logger *slog.Logger, langsTesseract string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("startup diagnostics",
		"go_version", runtime.Version(),
		"platform", runtime.GOOS+"/"+runtime.GOARCH,
		"tmpdir", c.TempDir,
		"requested_languages", langsTesseract,
	)

	if path, err := c.LookPath("tesseract"); err != nil {
		logger.Warn("tesseract not found on PATH")
	} else {
		logger.Info("tesseract located", "path", path)
		if langs, err := c.Languages.ListLanguages(ctx); err != nil {
			logger.Warn("failed to list tesseract languages", "error", err)
		} else {
			logger.Info("tesseract languages available", "languages", strings.Join(langs, ","))
		}
	}
	if path, err := c.LookPath("ocrmypdf"); err != nil {
		logger.Warn("ocrmypdf not found on PATH")
	} else {
		logger.Info("ocrmypdf located", "path", path)
	}
}
