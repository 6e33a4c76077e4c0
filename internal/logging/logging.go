// Package logging runs the pipeline's log plumbing: a record queue with a
// background dispatcher fanning out to the console and a rotating file
// under output_dir/logs, plus per-worker log files. Worker goroutines and
// engine subprocess stderr feed the same queue, so output stays serialized
// no matter how many workers run.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	pipelineLogName = "pipeline.log"
	maxLogSizeMB    = 10
	maxLogBackups   = 3
	queueDepth      = 1024
)

// Listener owns the record queue and the background dispatcher. Start it
// before dispatching workers and stop it on every exit path; records still
// queued at Stop are flushed first.
type Listener struct {
	queue    chan record
	handler  slog.Handler
	fileSink io.WriteCloser
	logDir   string

	stopOnce sync.Once
	finished chan struct{}

	// sendMu guards queue sends against Stop closing the channel. Records
	// arriving after Stop are dropped.
	sendMu  sync.RWMutex
	stopped bool

	mu          sync.Mutex
	workerFiles map[int]io.WriteCloser
}

type record struct {
	rec slog.Record
}

// queueHandler is a slog.Handler that forwards records to the listener's
// queue instead of writing them itself.
type queueHandler struct {
	l     *Listener
	attrs []slog.Attr
	group string
}

func (h *queueHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

func (h *queueHandler) Handle(_ context.Context, rec slog.Record) error {
	r := rec.Clone()
	if len(h.attrs) > 0 {
		r.AddAttrs(h.attrs...)
	}
	h.l.sendMu.RLock()
	defer h.l.sendMu.RUnlock()
	if h.l.stopped {
		return nil
	}
	h.l.queue <- record{rec: r}
	return nil
}

func (h *queueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &queueHandler{l: h.l, attrs: merged, group: h.group}
}

func (h *queueHandler) WithGroup(name string) slog.Handler {
	return &queueHandler{l: h.l, attrs: h.attrs, group: name}
}

// Start creates the log directory, opens the rotating pipeline.log sink
// and launches the dispatcher. verbose lowers the console level to debug.
func Start(logDir string, verbose bool) (*Listener, error) {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", logDir, err)
	}

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, pipelineLogName),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	l := &Listener{
		queue: make(chan record, queueDepth),
		handler: fanoutHandler{
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
			slog.NewTextHandler(fileSink, &slog.HandlerOptions{Level: slog.LevelDebug}),
		},
		fileSink:    fileSink,
		logDir:      logDir,
		finished:    make(chan struct{}),
		workerFiles: make(map[int]io.WriteCloser),
	}

	go l.dispatch()
	return l, nil
}

// Logger returns a logger whose records flow through the queue.
func (l *Listener) Logger() *slog.Logger {
	return slog.New(&queueHandler{l: l})
}

// WorkerLogger returns a logger for one Phase 1 worker: records go through
// the shared queue and additionally to logs/worker_N.log.
func (l *Listener) WorkerLogger(workerID int) (*slog.Logger, error) {
	path := filepath.Join(l.logDir, fmt.Sprintf("worker_%d.log", workerID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path built above
	if err != nil {
		return nil, fmt.Errorf("failed to open worker log %q: %w", path, err)
	}

	l.mu.Lock()
	l.workerFiles[workerID] = f
	l.mu.Unlock()

	workerHandler := fanoutHandler{
		&queueHandler{l: l, attrs: []slog.Attr{slog.Int("worker_id", workerID)}},
		slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	return slog.New(workerHandler), nil
}

// ForwardSubprocessLine injects one line of engine subprocess stderr into
// the queue, tagged with its origin.
func (l *Listener) ForwardSubprocessLine(source, line string) {
	l.Logger().Debug(line, "subprocess", source)
}

func (l *Listener) dispatch() {
	for r := range l.queue {
		_ = l.handler.Handle(context.Background(), r.rec)
	}
	close(l.finished)
}

// Stop flushes queued records and closes every sink. Safe to call more
// than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.sendMu.Lock()
		l.stopped = true
		l.sendMu.Unlock()

		close(l.queue)
		// Wait for the dispatcher to drain queued records before the
		// sinks close underneath it.
		<-l.finished

		l.mu.Lock()
		for _, f := range l.workerFiles {
			_ = f.Close()
		}
		l.workerFiles = map[int]io.WriteCloser{}
		l.mu.Unlock()

		_ = l.fileSink.Close()
	})
}

// fanoutHandler duplicates records across handlers, each applying its own
// level filter.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
