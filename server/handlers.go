package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/telemetry"
)

// HandleHealthz responds to liveness probes by checking database
// connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the database must answer and the module
// data tables must exist (migrations ran).
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	var one int
	err := h.db.QueryRowContext(r.Context(), `SELECT 1 FROM module_data LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a small operational summary.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"channel":        h.channel,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// HandleAdminCommand accepts {"line": "<module> <command> [args...]"} and
// enqueues it for execution on the dispatch goroutine. The response only
// acknowledges acceptance; results show up in the logs.
func (h *Handlers) HandleAdminCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Line string `json:"line"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil || json.Unmarshal(body, &req) != nil || strings.TrimSpace(req.Line) == "" {
		http.Error(w, "expected JSON body with non-empty \"line\"", http.StatusBadRequest)
		return
	}
	e := event.New(event.KindAdmin)
	e.Message = req.Line
	h.inbox.Enqueue(e)

	telemetry.LoggerWithCorr(r.Context()).Info("admin command accepted", "line", req.Line)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
