// Package events defines the progress event stream the pipeline emits and
// the callback interface front-ends implement to observe a run.
package events

import "log/slog"

// Phase status values.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusLoading   = "loading"
	StatusReady     = "ready"
)

// PhaseEvent marks the start or completion of a pipeline phase.
type PhaseEvent struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"`
	FilesCount int    `json:"files_count,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ProgressEvent reports incremental progress within a phase.
type ProgressEvent struct {
	Phase      string  `json:"phase"`
	Current    int     `json:"current,omitempty"`
	Total      int     `json:"total,omitempty"`
	File       string  `json:"file,omitempty"`
	Page       int     `json:"page,omitempty"`
	TotalPages int     `json:"total_pages,omitempty"`
	WorkerID   int     `json:"worker_id,omitempty"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`
	Message    string  `json:"message"`
}

// ModelEvent reports neural model lifecycle transitions.
type ModelEvent struct {
	ModelName   string  `json:"model_name"`
	Status      string  `json:"status"`
	TimeSeconds float64 `json:"time_seconds,omitempty"`
}

// Callback receives pipeline events. Implementations must be safe for
// concurrent use; Phase 1 workers report progress in parallel.
type Callback interface {
	OnPhase(e PhaseEvent)
	OnProgress(e ProgressEvent)
	OnModel(e ModelEvent)
}

// NullCallback discards all events.
type NullCallback struct{}

func (NullCallback) OnPhase(PhaseEvent)       {}
func (NullCallback) OnProgress(ProgressEvent) {}
func (NullCallback) OnModel(ModelEvent)       {}

// LoggingCallback writes events to a structured logger.
type LoggingCallback struct {
	Logger *slog.Logger
}

// NewLoggingCallback logs events to the given logger, or the default one.
func NewLoggingCallback(logger *slog.Logger) *LoggingCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingCallback{Logger: logger}
}

func (l *LoggingCallback) OnPhase(e PhaseEvent) {
	l.Logger.Info("phase",
		"phase", e.Phase, "status", e.Status, "files_count", e.FilesCount, "detail", e.Detail)
}

func (l *LoggingCallback) OnProgress(e ProgressEvent) {
	l.Logger.Info("progress",
		"phase", e.Phase, "current", e.Current, "total", e.Total,
		"file", e.File, "message", e.Message)
}

func (l *LoggingCallback) OnModel(e ModelEvent) {
	l.Logger.Info("model",
		"model", e.ModelName, "status", e.Status, "time_seconds", e.TimeSeconds)
}

// MultiCallback fans every event out to several callbacks in order.
type MultiCallback struct {
	callbacks []Callback
}

func NewMultiCallback(callbacks ...Callback) *MultiCallback {
	return &MultiCallback{callbacks: callbacks}
}

func (m *MultiCallback) OnPhase(e PhaseEvent) {
	for _, c := range m.callbacks {
		c.OnPhase(e)
	}
}

func (m *MultiCallback) OnProgress(e ProgressEvent) {
	for _, c := range m.callbacks {
		c.OnProgress(e)
	}
}

func (m *MultiCallback) OnModel(e ModelEvent) {
	for _, c := range m.callbacks {
		c.OnModel(e)
	}
}
