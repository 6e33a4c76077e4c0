// Package config defines the scholardoc configuration tree and its loader.
// Configuration merges defaults, an optional YAML file, SCHOLARDOC_*
// environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Pipeline: PipelineConfig{
			QualityThreshold: 0.85,
			Languages:        "en,fr,el,la,de",
			MaxWorkers:       4,
			Timeout:          1800,
			BatchSize:        50,
			MaxSamples:       20,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     200,
			TimeoutSec:      3600,
			ShutdownTimeout: 10,
		},
	}
}

// ValidationError aggregates every configuration problem found, so the
// operator can fix all of them at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration:")
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// Validate checks the configuration and returns a *ValidationError listing
// every problem, or nil.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		add("invalid log level %q (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	p := &c.Pipeline
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		add("quality_threshold %.2f out of range [0,1]", p.QualityThreshold)
	}
	if p.MaxWorkers <= 0 {
		add("max_workers %d must be positive", p.MaxWorkers)
	}
	if p.Timeout <= 0 {
		add("timeout %d must be positive seconds", p.Timeout)
	}
	if p.BatchSize <= 0 {
		add("batch_size %d must be positive", p.BatchSize)
	}
	if p.MaxSamples < 0 {
		add("max_samples %d must not be negative", p.MaxSamples)
	}
	if _, _, err := types.ResolveLanguages(p.Languages); err != nil {
		add("languages: %v", err)
	}
	switch p.Device {
	case "", "cpu", "cuda", "mps", "auto":
	default:
		add("device %q not recognized (use cpu, cuda, mps or auto)", p.Device)
	}

	s := &c.Server
	if s.Port <= 0 || s.Port > 65535 {
		add("server port %d out of range", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		add("server max_upload_mb %d must be positive", s.MaxUploadMB)
	}
	if s.TimeoutSec <= 0 {
		add("server timeout_sec %d must be positive", s.TimeoutSec)
	}
	if s.RequestsPerMinute < 0 {
		add("server requests_per_minute %d must not be negative", s.RequestsPerMinute)
	}
	if s.MaxDataPerDayMB < 0 {
		add("server max_data_per_day_mb %d must not be negative", s.MaxDataPerDayMB)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// LanguagePair resolves the configured ISO codes into both engines' native
// language strings. Per-engine overrides take precedence when set.
func (c *Config) LanguagePair() (tesseract, surya string, err error) {
	tesseract, surya, err = types.ResolveLanguages(c.Pipeline.Languages)
	if err != nil {
		return "", "", err
	}
	if v := strings.TrimSpace(c.Pipeline.LangsTesseract); v != "" {
		tesseract = v
	}
	if v := strings.TrimSpace(c.Pipeline.LangsSurya); v != "" {
		surya = v
	}
	return tesseract, surya, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
