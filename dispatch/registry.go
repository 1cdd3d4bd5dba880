// Package dispatch contains the handler registry and the single-consumer
// event loop that serializes all event delivery.
package dispatch

import (
	"log/slog"

	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/telemetry"
)

// Result is a handler's outcome. Handled means the handler produced a
// visible effect; it feeds the cooldown stamp decision and nothing else,
// and dispatch never stops at the first Handled.
type Result int

const (
	NotHandled Result = iota
	Handled
)

// HandlerFunc is a module callback for one event kind. It runs on the
// dispatch goroutine and may enqueue follow-up events.
type HandlerFunc func(e *event.Event) Result

type subscription struct {
	name string
	fn   HandlerFunc
}

// Registry maps event kinds to their ordered callback lists. Registration
// happens at startup (module load order); there is no unregister path.
// Duplicate registration means duplicate invocation.
type Registry struct {
	handlers map[event.Kind][]subscription
	log      *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[event.Kind][]subscription{},
		log:      slog.Default().With(slog.String("component", "dispatch")),
	}
}

// Register appends fn to the kind's list. name identifies the handler in
// logs and panic reports.
func (r *Registry) Register(kind event.Kind, name string, fn HandlerFunc) {
	r.handlers[kind] = append(r.handlers[kind], subscription{name: name, fn: fn})
}

// Dispatch invokes every registered callback for e.Kind in registration
// order and returns true when any reported Handled. A panicking handler is
// recovered and logged; the remaining handlers still run.
func (r *Registry) Dispatch(e *event.Event) bool {
	handled := false
	for _, sub := range r.handlers[e.Kind] {
		if r.invoke(sub, e) == Handled {
			handled = true
		}
	}
	return handled
}

func (r *Registry) invoke(sub subscription, e *event.Event) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			if telemetry.HandlerPanics != nil {
				telemetry.HandlerPanics.Inc()
			}
			r.log.Error("handler panicked",
				slog.String("handler", sub.name),
				slog.String("kind", string(e.Kind)),
				slog.String("command", e.Command),
				slog.Any("panic", rec))
			res = NotHandled
		}
	}()
	return sub.fn(e)
}
