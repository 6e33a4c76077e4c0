package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 0.85, cfg.Pipeline.QualityThreshold, 1e-9)
	assert.Equal(t, "en,fr,el,la,de", cfg.Pipeline.Languages)
	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 1800, cfg.Pipeline.Timeout)
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.Pipeline.QualityThreshold = 1.5
	cfg.Pipeline.MaxWorkers = 0
	cfg.Pipeline.Languages = "en,xx"
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 5)
	assert.Contains(t, err.Error(), "log level")
	assert.Contains(t, err.Error(), "quality_threshold")
	assert.Contains(t, err.Error(), "max_workers")
	assert.Contains(t, err.Error(), `"xx"`)
	assert.Contains(t, err.Error(), "port")
}

func TestValidateDevice(t *testing.T) {
	cfg := DefaultConfig()
	for _, device := range []string{"", "cpu", "cuda", "mps", "auto"} {
		cfg.Pipeline.Device = device
		assert.NoError(t, cfg.Validate(), "device %q", device)
	}
	cfg.Pipeline.Device = "tpu"
	assert.Error(t, cfg.Validate())
}

func TestLanguagePair(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Languages = "en,de"
	tess, surya, err := cfg.LanguagePair()
	require.NoError(t, err)
	assert.Equal(t, "eng,deu", tess)
	assert.Equal(t, "en,de", surya)
}

func TestLanguagePairPerEngineOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Languages = "en,de"
	cfg.Pipeline.LangsTesseract = "eng,grc"

	tess, surya, err := cfg.LanguagePair()
	require.NoError(t, err)
	assert.Equal(t, "eng,grc", tess, "override wins over the resolved list")
	assert.Equal(t, "en,de", surya, "unset override keeps the resolved list")

	cfg.Pipeline.LangsSurya = "en"
	_, surya, err = cfg.LanguagePair()
	require.NoError(t, err)
	assert.Equal(t, "en", surya)
}
