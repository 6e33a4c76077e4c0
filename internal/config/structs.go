package config

// Config is the complete configuration for the scholardoc pipeline. It is
// loaded from configuration files, environment variables and command-line
// flags, in increasing precedence.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Input selection
	InputDir string `mapstructure:"input_dir" yaml:"input_dir" json:"input_dir"`
	// Files is an explicit list relative to InputDir; empty means every
	// *.pdf under InputDir.
	Files     []string `mapstructure:"files" yaml:"files" json:"files"`
	Recursive bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`

	// OutputDir is the root output directory; the pipeline creates
	// final/, work/ and logs/ below it.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`

	// Pipeline behavior
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Server configuration (for the serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// PipelineConfig contains the two-phase OCR pipeline settings.
type PipelineConfig struct {
	// QualityThreshold is the page flagging cutoff in [0,1].
	QualityThreshold float64 `mapstructure:"quality_threshold" yaml:"quality_threshold" json:"quality_threshold"`

	// ForceTesseract skips the existing-text shortcut and always runs
	// the fast engine.
	ForceTesseract bool `mapstructure:"force_tesseract" yaml:"force_tesseract" json:"force_tesseract"`

	// ForceSurya treats every page as flagged regardless of score.
	ForceSurya bool `mapstructure:"force_surya" yaml:"force_surya" json:"force_surya"`

	// Languages as comma-separated ISO 639-1 codes, e.g. "en,fr,el,la,de".
	// Resolved into both engines' native code sets.
	Languages string `mapstructure:"languages" yaml:"languages" json:"languages"`

	// LangsTesseract and LangsSurya override the resolved per-engine code
	// lists when set, in each engine's native format (e.g. "eng,fra" and
	// "en,fr"). Useful for language packs outside the canonical ISO map.
	LangsTesseract string `mapstructure:"langs_tesseract" yaml:"langs_tesseract" json:"langs_tesseract"`
	LangsSurya     string `mapstructure:"langs_surya" yaml:"langs_surya" json:"langs_surya"`

	// MaxWorkers bounds Phase 1 parallelism.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`

	// Timeout is the per-file Phase 1 timeout in seconds.
	Timeout int `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// BatchSize caps pages per Phase 2 sub-batch.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`

	// Diagnostics enables the gated diagnostics: image quality metrics,
	// engine diffs and the diagnostics sidecars.
	Diagnostics bool `mapstructure:"diagnostics" yaml:"diagnostics" json:"diagnostics"`

	// ExtractText keeps the per-page .txt files in final/.
	ExtractText bool `mapstructure:"extract_text" yaml:"extract_text" json:"extract_text"`

	// KeepIntermediates preserves work/ after the run.
	KeepIntermediates bool `mapstructure:"keep_intermediates" yaml:"keep_intermediates" json:"keep_intermediates"`

	// CustomVocab is an optional word-list file merged into the
	// dictionary signal's vocabulary.
	CustomVocab string `mapstructure:"custom_vocab" yaml:"custom_vocab" json:"custom_vocab"`

	// MaxSamples bounds the garbled-token samples kept per page.
	MaxSamples int `mapstructure:"max_samples" yaml:"max_samples" json:"max_samples"`

	// Device forces the neural engine device ("cpu", "cuda", "mps");
	// empty lets the engine choose.
	Device string `mapstructure:"device" yaml:"device" json:"device"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// RequestsPerMinute limits OCR requests per client IP; zero disables
	// rate limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`

	// MaxDataPerDayMB caps uploaded bytes per client IP per day; zero
	// disables the quota.
	MaxDataPerDayMB int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}
