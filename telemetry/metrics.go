// Package telemetry provides Prometheus metrics, correlation-id aware
// logging helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsDispatched *prometheus.CounterVec
	PermissionDenied prometheus.Counter
	CooldownBlocked  prometheus.Counter
	CooldownQueued   prometheus.Counter
	HandlerPanics    prometheus.Counter
	MessagesSent     prometheus.Counter
	StoreFlushFailed prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	QueueDepthGauge     prometheus.Gauge
	ScheduledFiresGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_events_dispatched_total", Help: "Events delivered to handlers, by kind"}, []string{"kind"})
		PermissionDenied = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_permission_denied_total", Help: "Command events dropped by the permission gate"})
		CooldownBlocked = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_cooldown_blocked_total", Help: "Command events dropped by the cooldown gate"})
		CooldownQueued = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_cooldown_queued_total", Help: "Command events deferred for delayed re-delivery"})
		HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_handler_panics_total", Help: "Handler invocations recovered from panic"})
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_messages_sent_total", Help: "Outbound chat messages"})
		StoreFlushFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_store_flush_failed_total", Help: "Module data flushes that failed"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_dispatch_duration_seconds", Help: "Time spent delivering one event to all handlers", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_inbound_queue_depth", Help: "Events waiting in the inbound queue"})
		ScheduledFiresGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_scheduled_fires", Help: "Delayed re-deliveries and timers pending in the scheduler"})
	})
}

// SetQueueDepth records the current inbound queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetScheduledFires records the scheduler's pending callback count.
func SetScheduledFires(n int) {
	if ScheduledFiresGauge != nil {
		ScheduledFiresGauge.Set(float64(n))
	}
}

// CountDispatched bumps the per-kind dispatch counter.
func CountDispatched(kind string) {
	if EventsDispatched != nil {
		EventsDispatched.WithLabelValues(kind).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
