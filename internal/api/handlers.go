// ABOUTME: HTTP handlers for hikmaai-sentinel scan sessions, history and health
// ABOUTME: Scans run in the background; clients poll the session or stream its events

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/history"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/observability"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/scan"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// DefaultMaxFileSize bounds multipart uploads.
const DefaultMaxFileSize = 32 << 20

// ScanService is the workflow surface the API drives.
type ScanService interface {
	Start(ctx context.Context, target types.ScanTarget) (types.Session, error)
	Get(id string) (types.Session, bool)
	Wait(ctx context.Context, id string) (types.Session, error)
	Cancel(id string) error
	Subscribe(id string) (<-chan scan.Event, func(), error)
	Metrics() *observability.ScanMetrics
}

// HealthCheck reports on one dependency. Check returns a short detail string.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) (string, error)
}

// HandlerConfig holds configuration for API handlers.
type HandlerConfig struct {
	Scans ScanService

	// History is optional; history routes answer 503 without it.
	History history.Recorder

	// UploadDir stages multipart uploads until the session finishes.
	UploadDir   string
	MaxFileSize int64

	Checks []HealthCheck

	// AllowedOrigins for the event stream; empty allows same-origin only.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	scans       ScanService
	history     history.Recorder
	uploadDir   string
	maxFileSize int64
	checks      []HealthCheck
	stream      *eventStreamer
	logger      *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "api"))

	return &Handler{
		scans:       cfg.Scans,
		history:     cfg.History,
		uploadDir:   cfg.UploadDir,
		maxFileSize: cfg.MaxFileSize,
		checks:      cfg.Checks,
		stream:      newEventStreamer(cfg.AllowedOrigins, logger),
		logger:      logger,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/scans", h.HandleCreateScan)
	mux.HandleFunc("GET /api/v1/scans/{id}", h.HandleGetScan)
	mux.HandleFunc("DELETE /api/v1/scans/{id}", h.HandleCancelScan)
	mux.HandleFunc("GET /api/v1/scans/{id}/events", h.HandleScanEvents)
	mux.HandleFunc("GET /api/v1/history", h.HandleListHistory)
	mux.HandleFunc("GET /api/v1/history/lookup", h.HandleLookupHistory)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
}

// Routes returns the API mux wrapped in correlation and logging middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return observability.CorrelationMiddleware(LoggingMiddleware(h.logger)(mux))
}

// scanRequest is the JSON body of POST /api/v1/scans.
type scanRequest struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

// scanAccepted is the 202 body for a started session.
type scanAccepted struct {
	SessionID string              `json:"session_id"`
	Status    types.SessionStatus `json:"status"`
	ScanType  types.TargetKind    `json:"scan_type"`
	Target    string              `json:"target"`
}

// HandleCreateScan starts a scan from a multipart upload ("file" field) or a
// JSON body {"type": "url"|"file"|"phone", "target": "..."}. JSON file
// targets must be gs:// URIs; local files are only accepted as uploads.
// POST /api/v1/scans
func (h *Handler) HandleCreateScan(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.createFromUpload(w, r)
		return
	}

	var req scanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	target, err := types.ParseTarget(req.Type, req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid target: %v", err))
		return
	}
	if target.Kind() == types.TargetKindFile && !strings.HasPrefix(target.Value(), "gs://") {
		writeError(w, http.StatusBadRequest, "file targets must be uploaded or given as gs:// URIs")
		return
	}

	h.start(w, r, target, "")
}

func (h *Handler) createFromUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parsing form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading file: %v", err))
		return
	}
	defer file.Close()

	path, dir, err := h.stageUpload(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	target, err := types.NewFileTarget(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid target: %v", err))
		return
	}
	h.start(w, r, target, dir)
}

// stageUpload writes the upload into its own directory, keeping the
// original base name because it is forwarded to the analysis service.
func (h *Handler) stageUpload(src io.Reader, filename string) (string, string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating upload dir: %w", err)
	}
	dir, err := os.MkdirTemp(h.uploadDir, "upload-*")
	if err != nil {
		return "", "", fmt.Errorf("creating upload dir: %w", err)
	}

	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "upload.bin"
	}
	path := filepath.Join(dir, name)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("creating staged file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("saving file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("saving file: %w", err)
	}
	return path, dir, nil
}

// start launches the session. stagedDir, when set, is removed once the
// session is finished.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, target types.ScanTarget, stagedDir string) {
	sess, err := h.scans.Start(r.Context(), target)
	if err != nil {
		if stagedDir != "" {
			_ = os.RemoveAll(stagedDir)
		}
		status := http.StatusInternalServerError
		if errors.Is(err, scan.ErrServiceClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, fmt.Sprintf("starting scan: %v", err))
		return
	}

	if stagedDir != "" {
		go func() {
			_, _ = h.scans.Wait(context.Background(), sess.ID)
			if err := os.RemoveAll(stagedDir); err != nil {
				h.logger.Warn("failed to remove staged upload", slog.String("error", err.Error()))
			}
		}()
	}

	w.Header().Set("Location", "/api/v1/scans/"+sess.ID)
	writeJSON(w, http.StatusAccepted, scanAccepted{
		SessionID: sess.ID,
		Status:    sess.Status,
		ScanType:  sess.ScanType,
		Target:    sess.Target,
	})
}

// HandleGetScan returns the session state, including the result once finished.
// GET /api/v1/scans/{id}
func (h *Handler) HandleGetScan(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.scans.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "scan session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleCancelScan cancels a running session.
// DELETE /api/v1/scans/{id}
func (h *Handler) HandleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch err := h.scans.Cancel(id); {
	case errors.Is(err, scan.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "scan session not found")
	case errors.Is(err, scan.ErrSessionFinished):
		writeError(w, http.StatusConflict, "scan session already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"session_id": id,
			"status":     "cancelling",
		})
	}
}

// HandleScanEvents upgrades to a WebSocket and streams session events.
// GET /api/v1/scans/{id}/events
func (h *Handler) HandleScanEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, unsubscribe, err := h.scans.Subscribe(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "scan session not found")
		return
	}
	defer unsubscribe()

	h.stream.serve(w, r, events, func() (scan.Event, bool) {
		sess, ok := h.scans.Get(id)
		return scan.Event{
			SessionID: sess.ID,
			Type:      scan.EventStatus,
			Status:    sess.Status,
			Result:    sess.Result,
			At:        time.Now().UTC(),
		}, ok
	})
}

// HandleListHistory returns recent outcomes, newest first.
// GET /api/v1/history?limit=N
func (h *Handler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	limit := history.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	outcomes, err := h.history.ListOutcomes(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("listing history: %v", err))
		return
	}
	if outcomes == nil {
		outcomes = []*types.ScanOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(outcomes),
		"outcomes": outcomes,
	})
}

// HandleLookupHistory returns the newest outcome for one target.
// GET /api/v1/history/lookup?type=url&target=...
func (h *Handler) HandleLookupHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	q := r.URL.Query()
	target, err := types.ParseTarget(q.Get("type"), q.Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid target: %v", err))
		return
	}

	outcome, err := h.history.LookupTarget(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("looking up target: %v", err))
		return
	}
	if outcome == nil {
		writeError(w, http.StatusNotFound, "no outcome recorded for target")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// HandleHealth reports dependency checks and workflow metrics.
// GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(h.checks))

	for _, c := range h.checks {
		detail, err := c.Check(r.Context())
		if err != nil {
			status = "degraded"
			checks[c.Name] = fmt.Sprintf("error: %v", err)
			continue
		}
		checks[c.Name] = "ok"
		if detail != "" {
			checks[c.Name] = "ok (" + detail + ")"
		}
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}
	if h.scans != nil {
		m := h.scans.Metrics()
		body["metrics"] = m.Snapshot()
		body["latency"] = m.LatencyPercentiles()
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
