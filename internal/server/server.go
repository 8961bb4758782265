package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/meetrec/internal/metrics"
	"github.com/audiolibrelab/meetrec/internal/recorder"
	"github.com/audiolibrelab/meetrec/internal/wav"
)

// Controller is the part of *recorder.Session the server drives
type Controller interface {
	Snapshot() recorder.Snapshot
	Report() *recorder.Report
	Stop()
}

// Server exposes the status of a running recording over HTTP
type Server struct {
	session   Controller
	metrics   *metrics.Metrics
	outputDir string
	log       *slog.Logger
	mux       *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Session   recorder.Snapshot `json:"session"`
	Pipelines []PipelineStatus  `json:"results,omitempty"`
}

// PipelineStatus is the final outcome of one pipeline
type PipelineStatus struct {
	Pipeline  string `json:"pipeline"`
	Outcome   string `json:"outcome"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
	Error     string `json:"error,omitempty"`
}

// FileInfo contains information about a recorded file
type FileInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Channels     int       `json:"channels,omitempty"`
	SampleRate   int       `json:"sample_rate,omitempty"`
	Duration     string    `json:"duration,omitempty"`
	Valid        bool      `json:"valid"`
	Problem      string    `json:"problem,omitempty"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files           []FileInfo `json:"files"`
	TotalCount      int        `json:"total_count"`
	OutputDirectory string     `json:"output_directory"`
}

func New(session Controller, m *metrics.Metrics, outputDir string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		session:   session,
		metrics:   m,
		outputDir: outputDir,
		log:       log,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/status", s.withMetrics("/status", s.handleStatus))
	s.mux.HandleFunc("/stop", s.withMetrics("/stop", s.handleStop))
	s.mux.HandleFunc("/api/files", s.withMetrics("/api/files", s.handleFiles))
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if m != nil {
		// no request metrics for the metrics endpoint itself
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server listening", "url", fmt.Sprintf("http://%s", ln.Addr()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
}

// handleStatus returns the live session snapshot, plus the per-pipeline
// outcomes once the session is finalized
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	snap := s.session.Snapshot()
	response := StatusResponse{
		Status:  snap.State.String(),
		Message: statusMessage(snap),
		Session: snap,
	}
	if report := s.session.Report(); report != nil {
		for _, p := range report.Pipelines() {
			ps := PipelineStatus{
				Pipeline:  string(p.Role),
				Outcome:   p.String(),
				Path:      p.Path,
				Size:      p.Size,
				SizeHuman: formatBytes(p.Size),
			}
			if p.Err != nil {
				ps.Error = p.Err.Error()
			}
			response.Pipelines = append(response.Pipelines, ps)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStop asks the session to stop; finalization happens asynchronously
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	state := s.session.Snapshot().State
	if state != recorder.StateRecording {
		s.sendErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("Session is %s, nothing to stop", state),
			"operation", "stop_recording")
		return
	}

	s.log.Info("Stop requested over HTTP", "remote", r.RemoteAddr)
	s.session.Stop()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Stopping recording",
	})
}

// handleFiles lists the WAV files of the output directory with their header
// details, newest first
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	if s.outputDir == "" {
		s.sendErrorResponse(w, http.StatusInternalServerError, "No output directory configured")
		return
	}

	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read output directory: %v", err),
			"directory", s.outputDir)
		return
	}

	files := []FileInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.log.Warn("Failed to get file info", "file", entry.Name(), "error", err)
			continue
		}

		fi := FileInfo{
			Name:         entry.Name(),
			Path:         filepath.Join(s.outputDir, entry.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		}
		if wi, err := wav.Inspect(fi.Path); err != nil {
			fi.Problem = err.Error()
		} else {
			fi.Channels = wi.Channels
			fi.SampleRate = wi.SampleRate
			fi.Duration = wi.Duration.Round(time.Millisecond).String()
			fi.Valid = wi.Consistent()
			if !fi.Valid {
				fi.Problem = fmt.Sprintf("header declares %d bytes, body has %d", wi.Declared, wi.Body)
			}
		}
		files = append(files, fi)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FilesResponse{
		Files:           files,
		TotalCount:      len(files),
		OutputDirectory: s.outputDir,
	})
}

func statusMessage(snap recorder.Snapshot) string {
	switch snap.State {
	case recorder.StateRecording:
		return fmt.Sprintf("Recording in progress - %s", snap.Elapsed.Round(time.Second))
	case recorder.StateStopping:
		return "Finalizing files"
	case recorder.StateFinalized:
		return "Recording finished"
	default:
		return ""
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	s.log.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}
