package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/scholardoc/internal/types"
	"github.com/MeKo-Tech/scholardoc/internal/version"
)

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode health response", "error", err)
	}
}

// ocrHandler accepts one or more uploaded PDFs under the "pdf" form field
// and runs the full two-phase pipeline over them. The response is the
// batch result JSON.
func (s *Server) ocrHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxBytes := int64(s.cfg.Server.MaxUploadMB) * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["pdf"]
	if len(files) == 0 {
		s.writeErrorResponse(w, "No PDF file provided", http.StatusBadRequest)
		return
	}

	uploadDir, err := os.MkdirTemp("", "scholardoc-upload-*")
	if err != nil {
		s.writeErrorResponse(w, "Failed to stage uploads", http.StatusInternalServerError)
		return
	}
	defer func() { _ = os.RemoveAll(uploadDir) }()

	inputs, err := s.stageUploads(uploadDir, files)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch, status, err := s.runBatch(r.Context(), inputs)
	if err != nil {
		ocrRunsTotal.WithLabelValues("error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("OCR processing failed: %v", err), status)
		return
	}

	ocrRunsTotal.WithLabelValues("success").Inc()
	ocrRunDuration.Observe(batch.TotalTime)
	ocrFilesProcessed.WithLabelValues("success").Add(float64(batch.Successful))
	ocrFilesProcessed.WithLabelValues("failed").Add(float64(batch.Failed))
	for _, fr := range batch.Files {
		ocrPagesFlagged.Observe(float64(len(fr.FlaggedPages())))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(batch); err != nil {
		s.logger.Error("failed to encode batch response", "error", err)
	}
}

// stageUploads writes each uploaded PDF into dir and returns the staged
// paths. Filenames are flattened to their base name; duplicates error out
// rather than silently overwriting.
func (s *Server) stageUploads(dir string, files []*multipart.FileHeader) ([]string, error) {
	seen := make(map[string]struct{}, len(files))
	inputs := make([]string, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "" || name == "." || !strings.EqualFold(filepath.Ext(name), ".pdf") {
			return nil, fmt.Errorf("invalid upload filename %q", fh.Filename)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate upload filename %q", name)
		}
		seen[name] = struct{}{}

		uploadSizeBytes.Observe(float64(fh.Size))

		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %q", name)
		}
		dst := filepath.Join(dir, name)
		out, err := os.Create(dst) //nolint:gosec // dst is a fresh temp dir plus a sanitized base name
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("failed to stage upload %q", name)
		}
		_, err = io.Copy(out, src)
		_ = src.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stage upload %q", name)
		}
		inputs = append(inputs, dst)
	}
	return inputs, nil
}

// runBatch executes one pipeline pass under the run mutex with the
// request timeout applied. Progress goes to websocket subscribers.
func (s *Server) runBatch(ctx context.Context, inputs []string) (*types.BatchResult, int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	outDir, err := os.MkdirTemp("", "scholardoc-run-*")
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to create output directory: %w", err)
	}
	if s.keepOutput {
		s.logger.Info("run output retained", "dir", outDir)
	} else {
		defer func() { _ = os.RemoveAll(outDir) }()
	}

	cfg := s.cfg
	cfg.OutputDir = outDir

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.TimeoutSec)*time.Second)
	defer cancel()

	runner := s.newRunner(cfg, s.hub)
	result, err := runner.Run(runCtx, inputs)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return result, http.StatusOK, nil
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		s.logger.Error("failed to write error response", "error", err)
	}
}
