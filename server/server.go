// Package server exposes the bot's HTTP surface: health, status, metrics,
// and the admin command endpoint. Admin mutations are not executed here;
// they are enqueued as admin events so policy maps stay single-writer on
// the dispatch goroutine.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/telemetry"
)

// Enqueuer is the inbound queue the admin endpoint produces into.
type Enqueuer interface {
	Enqueue(e *event.Event)
}

// Handlers carries the endpoint dependencies.
type Handlers struct {
	db      *sql.DB
	inbox   Enqueuer
	channel string
	started time.Time
}

// NewHandlers builds the handler set.
func NewHandlers(db *sql.DB, inbox Enqueuer, channel string) *Handlers {
	return &Handlers{db: db, inbox: inbox, channel: channel, started: time.Now()}
}

// NewMux returns the HTTP handler with all routes.
func NewMux(h *Handlers) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.Handle("/admin/command", adminAuth(http.HandlerFunc(h.HandleAdminCommand)))
	return correlationMiddleware(mux)
}

// correlationMiddleware tags each request context with a correlation id for
// consistent logging.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := telemetry.WithCorrelation(r.Context(), id)
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth requires the ADMIN_TOKEN bearer token when one is configured.
// With no token set, the endpoint is open (local development).
func adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := os.Getenv("ADMIN_TOKEN")
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until ctx is canceled.
func Start(ctx context.Context, addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", slog.Any("err", err))
		}
	}()
}
