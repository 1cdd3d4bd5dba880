package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/cooldown"
	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/permission"
	"github.com/patchbay-tv/chatbot/telemetry"
)

// DefaultQueueSize is the inbound channel capacity when config leaves it
// unset. Bursts past it spill to the overflow segment rather than
// dropping or blocking producers.
const DefaultQueueSize = 256

// ShutdownHook is a module teardown callback, run in registration order
// after the sentinel drains the queue.
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// LoopConfig wires the loop's collaborators.
type LoopConfig struct {
	Registry    *Registry
	Permissions *permission.Gate
	Cooldowns   *cooldown.Gate
	Admin       *admin.Registry
	QueueSize   int
}

// Loop is the single consumer over the inbound event queue. All gate state
// and handler execution live on its goroutine; producers only enqueue.
type Loop struct {
	inbox chan *event.Event
	cfg   LoopConfig
	hooks []ShutdownHook
	done  chan struct{}
	log   *slog.Logger

	mu       sync.Mutex
	overflow []*event.Event
}

// NewLoop builds a loop with its inbound queue.
func NewLoop(cfg LoopConfig) *Loop {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		inbox: make(chan *event.Event, size),
		cfg:   cfg,
		done:  make(chan struct{}),
		log:   slog.Default().With(slog.String("component", "dispatch")),
	}
}

// Enqueue puts an event on the inbound queue. Safe from any goroutine and
// never blocks: handlers run on the consumer goroutine and may enqueue
// follow-up events, so a full channel spills to an overflow segment the
// loop folds back in before its next receive.
func (l *Loop) Enqueue(e *event.Event) {
	l.mu.Lock()
	if len(l.overflow) == 0 {
		select {
		case l.inbox <- e:
			depth := len(l.inbox)
			l.mu.Unlock()
			telemetry.SetQueueDepth(depth)
			return
		default:
		}
	}
	l.overflow = append(l.overflow, e)
	depth := len(l.inbox) + len(l.overflow)
	l.mu.Unlock()
	telemetry.SetQueueDepth(depth)
}

// refill moves overflowed events into the channel as capacity opens.
// Arrival order holds because Enqueue appends to a non-empty overflow
// instead of racing past it into the channel.
func (l *Loop) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.overflow) > 0 {
		select {
		case l.inbox <- l.overflow[0]:
			l.overflow[0] = nil
			l.overflow = l.overflow[1:]
		default:
			return
		}
	}
}

// OnShutdown appends a teardown hook; hooks run in registration order when
// the shutdown sentinel is consumed.
func (l *Loop) OnShutdown(name string, fn func(ctx context.Context) error) {
	l.hooks = append(l.hooks, ShutdownHook{Name: name, Fn: fn})
}

// Shutdown enqueues the sentinel. Events already ahead of it are still
// dispatched; the loop then runs every hook exactly once and exits.
func (l *Loop) Shutdown() {
	l.Enqueue(event.New(event.KindShutdown))
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run consumes the inbound queue one event at a time, in arrival order,
// until the shutdown sentinel (or ctx cancellation, which skips the queue
// drain). It never returns early on handler failure.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.log.Warn("dispatch loop canceled; skipping queue drain")
			l.runShutdownHooks()
			return
		case e := <-l.inbox:
			l.refill()
			telemetry.SetQueueDepth(len(l.inbox))
			if e.Kind == event.KindShutdown {
				l.runShutdownHooks()
				return
			}
			l.process(ctx, e)
		}
	}
}

func (l *Loop) process(ctx context.Context, e *event.Event) {
	spanCtx, span := telemetry.StartSpan(ctx, "dispatch", "dispatch.event",
		attribute.String("event.kind", string(e.Kind)),
		attribute.String("event.command", e.Command))
	defer span.End()

	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		switch e.Kind {
		case event.KindChatCommand:
			l.processCommand(e)
		case event.KindAdmin:
			telemetry.RecordError(span, l.processAdmin(spanCtx, e))
		default:
			telemetry.CountDispatched(string(e.Kind))
			l.cfg.Registry.Dispatch(e)
		}
	})
}

// processCommand applies the gates in fixed order: permission, then
// cooldown, then handler delivery, then stamp-on-success.
func (l *Loop) processCommand(e *event.Event) {
	if l.cfg.Permissions != nil && !l.cfg.Permissions.Allow(e) {
		// Silent drop: filtered commands must look identical to unknown
		// ones from chat.
		if telemetry.PermissionDenied != nil {
			telemetry.PermissionDenied.Inc()
		}
		l.log.Debug("command denied by permission gate",
			slog.String("command", e.Command),
			slog.String("user_id", e.UserID))
		return
	}
	if l.cfg.Cooldowns != nil {
		decision, wait := l.cfg.Cooldowns.Check(e)
		switch decision {
		case cooldown.Block:
			l.log.Debug("command blocked by cooldown gate",
				slog.String("command", e.Command),
				slog.Duration("wait", wait))
			return
		case cooldown.Queue:
			// Re-delivery is armed inside the gate; drop from this cycle.
			return
		}
	}

	telemetry.CountDispatched(string(e.Kind))
	handled := l.cfg.Registry.Dispatch(e)
	if handled && l.cfg.Cooldowns != nil {
		l.cfg.Cooldowns.Stamp(e.Command, e.UserID)
	}
}

func (l *Loop) processAdmin(ctx context.Context, e *event.Event) error {
	if l.cfg.Admin == nil {
		return nil
	}
	telemetry.CountDispatched(string(e.Kind))
	out, err := l.cfg.Admin.Execute(ctx, e.Message)
	if err != nil {
		l.log.Warn("admin command failed", slog.String("line", e.Message), slog.Any("err", err))
		return err
	}
	l.log.Info("admin command executed", slog.String("line", e.Message), slog.String("result", out))
	return nil
}

func (l *Loop) runShutdownHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, hook := range l.hooks {
		if err := hook.Fn(ctx); err != nil {
			l.log.Error("shutdown hook failed", slog.String("module", hook.Name), slog.Any("err", err))
		}
	}
	l.log.Info("dispatch loop stopped", slog.Int("shutdown_hooks", len(l.hooks)))
}
