package trainerd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/GoSim-25-26J-441/evolution-core/internal/metrics"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// maxCreateBody bounds POST /v1/runs; price series are the bulk of it
const maxCreateBody = 32 << 20

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
	limiter  *rate.Limiter
}

// NewHTTPServer builds the REST surface. prom may be nil, in which case
// /metrics is not served.
func NewHTTPServer(store *RunStore, executor *RunExecutor, prom *metrics.Prometheus) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/runs", s.handleRuns)
	s.mux.HandleFunc("/v1/runs/", s.handleRunByID)
	if prom != nil {
		s.mux.Handle("/metrics", prom.Handler())
	}

	return s
}

// SetRateLimit caps mutating requests (create, start, stop) across all
// clients. A non-positive limit removes the cap.
func (s *HTTPServer) SetRateLimit(limit rate.Limit, burst int) {
	if limit <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(limit, max(burst, 1))
}

func (s *HTTPServer) Handler() http.Handler {
	if s.limiter == nil {
		return s.mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRuns handles /v1/runs
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// runRoute is one suffix under /v1/runs/{id}
type runRoute struct {
	suffix  string
	method  string
	handler func(w http.ResponseWriter, r *http.Request, runID string)
}

// handleRunByID handles /v1/runs/{id} and its actions and sub-resources
func (s *HTTPServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	// longer suffixes first so /metrics/timeseries is not taken for /metrics
	routes := []runRoute{
		{":start", http.MethodPost, s.handleStartRun},
		{":stop", http.MethodPost, s.handleStopRun},
		{"/metrics/timeseries", http.MethodGet, s.handleTimeSeries},
		{"/progress", http.MethodGet, s.handleProgress},
		{"/trades", http.MethodGet, s.handleTrades},
		{"/weights", http.MethodGet, s.handleWeights},
		{"/metrics", http.MethodGet, s.handleGetRunMetrics},
	}
	for _, route := range routes {
		if !strings.HasSuffix(path, route.suffix) {
			continue
		}
		runID := strings.TrimSuffix(path, route.suffix)
		if runID == "" {
			s.writeError(w, http.StatusBadRequest, "run ID is required")
			return
		}
		if r.Method != route.method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		route.handler(w, r, runID)
		return
	}

	if strings.Contains(path, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleGetRun(w, r, path)
}

// handleCreateRun handles POST /v1/runs
func (s *HTTPServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string    `json:"run_id,omitempty"`
		Input *RunInput `json:"input"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Input == nil {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	rec, err := s.store.Create(req.RunID, *req.Input)
	if err != nil {
		s.writeError(w, httpStatus(err), err.Error())
		return
	}

	logger.Info("run created (HTTP)", "run_id", rec.Run.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{"run": rec.Run})
}

// handleListRuns handles GET /v1/runs with pagination and status filtering
func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 50
	if parsed, err := strconv.Atoi(query.Get("limit")); err == nil && parsed > 0 {
		limit = min(parsed, 1000)
	}
	offset := 0
	if parsed, err := strconv.Atoi(query.Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	var status models.RunStatus
	if raw := query.Get("status"); raw != "" {
		parsed, ok := parseRunStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		status = parsed
	}

	recs := s.store.List(limit, offset, status)
	runs := make([]*models.Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(runs),
		},
	})
}

func parseRunStatus(raw string) (models.RunStatus, bool) {
	status := models.RunStatus(strings.ToLower(raw))
	switch status {
	case models.RunStatusPending, models.RunStatusRunning, models.RunStatusCompleted,
		models.RunStatusFailed, models.RunStatusCancelled:
		return status, true
	}
	return "", false
}

// handleGetRun handles GET /v1/runs/{id}
func (s *HTTPServer) handleGetRun(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run})
}

// handleStartRun handles POST /v1/runs/{id}:start
func (s *HTTPServer) handleStartRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Start(runID)
	if err != nil {
		s.writeError(w, httpStatus(err), err.Error())
		return
	}
	logger.Info("run started (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

// handleStopRun handles POST /v1/runs/{id}:stop
func (s *HTTPServer) handleStopRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		s.writeError(w, httpStatus(err), err.Error())
		return
	}
	logger.Info("run cancelled (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

// handleProgress handles GET /v1/runs/{id}/progress
func (s *HTTPServer) handleProgress(w http.ResponseWriter, r *http.Request, runID string) {
	points, err := s.store.Progress(r.Context(), runID)
	if err != nil {
		s.writeError(w, httpStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"progress": points,
	})
}

// handleGetRunMetrics handles GET /v1/runs/{id}/metrics
func (s *HTTPServer) handleGetRunMetrics(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if rec.Run.Metrics == nil {
		s.writeError(w, http.StatusPreconditionFailed, "metrics not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"metrics": rec.Run.Metrics})
}

// handleTimeSeries handles GET /v1/runs/{id}/metrics/timeseries?metric=name
func (s *HTTPServer) handleTimeSeries(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	names := rec.Collector.GetMetricNames()
	if name := r.URL.Query().Get("metric"); name != "" {
		names = []string{name}
	}

	series := make(map[string]any, len(names))
	for _, name := range names {
		points := rec.Collector.GetTimeSeries(name, nil)
		if len(points) == 0 {
			continue
		}
		series[name] = map[string]any{
			"points":      points,
			"aggregation": rec.Collector.GetAggregation(name, nil),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":           runID,
		"series":           series,
		"duration_seconds": rec.Collector.Duration().Seconds(),
	})
}

// handleTrades handles GET /v1/runs/{id}/trades; ?format=text returns the
// console report instead of JSON.
func (s *HTTPServer) handleTrades(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if rec.TradeLog == nil {
		s.writeError(w, http.StatusPreconditionFailed, "trade log not available")
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(rec.TradeLog.String() + "\n")); err != nil {
			logger.Error("failed to write trade report", "run_id", runID, "error", err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"trades": rec.TradeLog,
	})
}

// handleWeights handles GET /v1/runs/{id}/weights, the zip archive of the
// latest checkpoint or final weights.
func (s *HTTPServer) handleWeights(w http.ResponseWriter, r *http.Request, runID string) {
	archive, ok, err := s.store.Weights(r.Context(), runID)
	if err != nil {
		s.writeError(w, httpStatus(err), err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusPreconditionFailed, "weights not available")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+runID+`-weights.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(archive); err != nil {
		logger.Error("failed to write weights", "run_id", runID, "error", err)
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunExists):
		return http.StatusConflict
	case errors.Is(err, ErrRunTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
