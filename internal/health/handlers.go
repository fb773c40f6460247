package health

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/wyrmiyu/logs2eca/internal/watch"
)

// writeError writes an HTTP error response with a JSON body containing an
// "error" field.
func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Server holds the dependencies needed by the status handlers.
type Server struct {
	loop StatusSource
	hist History
}

// NewServer creates a new Server reporting on the given loop.  hist may be
// nil, in which case GET /history answers 404.
func NewServer(loop StatusSource, hist History) *Server {
	return &Server{loop: loop, hist: hist}
}

// healthResponse is the body returned by GET /healthz.
type healthResponse struct {
	Status       string  `json:"status"`
	UptimeS      float64 `json:"uptime_s"`
	ActionCount  int64   `json:"action_count"`
	HistoryCount int64   `json:"history_count,omitempty"`
}

// handleHealthz responds to GET /healthz.
//
// Returns HTTP 200 with a small JSON body as long as the process is serving
// requests, so init systems and monitoring probes can verify liveness without
// parsing the full status document.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Snapshot()

	resp := healthResponse{Status: "ok", ActionCount: snap.ActionCount}
	if started, err := time.Parse(time.RFC3339, snap.StartedAt); err == nil {
		resp.UptimeS = time.Since(started).Seconds()
	}
	if s.hist != nil {
		resp.HistoryCount = s.hist.Count()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStatus responds to GET /status.
//
// Returns HTTP 200 with the loop's full Status document: the watched file,
// the pattern, whether a file handle is currently held, the read offset and
// the timestamps of the most recent event and match.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.loop.Snapshot())
}

// handleHistory responds to GET /history.
//
// Supported query parameters:
//
//	limit – maximum number of triggers to return (default 100, max 1000)
//
// Returns HTTP 404 when trigger history is not enabled, HTTP 400 when limit
// is malformed, and HTTP 200 with a JSON array of Trigger objects ordered
// newest first on success.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusNotFound, "trigger history is not enabled")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	triggers, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query trigger history")
		return
	}

	// Ensure we always return a JSON array, not null.
	if triggers == nil {
		triggers = []watch.Trigger{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(triggers)
}
