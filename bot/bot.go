// Package bot defines the module contract and the context object handed to
// every module. The context is constructed once at startup and passed by
// reference; there is no global bot instance.
package bot

import (
	"context"
	"log/slog"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/sched"
	"github.com/patchbay-tv/chatbot/telemetry"
	"github.com/patchbay-tv/chatbot/twitchapi"
)

// Enqueuer puts an event on the inbound queue; safe from any goroutine.
type Enqueuer interface {
	Enqueue(e *event.Event)
}

// Sink sends an outbound chat message, fire-and-forget. The core never
// awaits delivery confirmation.
type Sink interface {
	Say(text string)
}

// DataStore is the per-module blob and counter store.
type DataStore interface {
	GetInto(ctx context.Context, moduleID string, v any) (bool, error)
	Put(ctx context.Context, moduleID string, v any) error
	PutAsync(moduleID string, v any)
	GetCounter(ctx context.Context, name string) (int64, error)
	SetCounter(ctx context.Context, name string, value int64) error
	IncrCounter(ctx context.Context, name string, delta int64) (int64, error)
}

// Context carries every collaborator a module may touch. Modules receive it
// in Setup and keep the reference.
type Context struct {
	Channel  string
	Events   Enqueuer
	Registry *dispatch.Registry
	Sched    *sched.Scheduler
	Store    DataStore
	Admin    *admin.Registry
	Chat     Sink
	Helix    *twitchapi.HelixClient
	Log      *slog.Logger
}

// Say sends text to chat when a sink is wired; silently drops otherwise
// (tests, or startup before the transport connects).
func (c *Context) Say(text string) {
	if c.Chat == nil || text == "" {
		return
	}
	c.Chat.Say(text)
	if telemetry.MessagesSent != nil {
		telemetry.MessagesSent.Inc()
	}
}

// Logger returns the context logger, defaulting to slog.Default.
func (c *Context) Logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// Module is the contract every feature module implements. Setup runs once
// at registration and wires event subscriptions and admin commands;
// Shutdown flushes persisted state. The core never inspects module
// internals.
type Module interface {
	Name() string
	Setup(c *Context) error
	Shutdown(ctx context.Context) error
}

// Register runs a module's Setup and wires its Shutdown hook into the
// loop's ordered teardown.
func Register(c *Context, loop *dispatch.Loop, m Module) error {
	if err := m.Setup(c); err != nil {
		return err
	}
	loop.OnShutdown(m.Name(), m.Shutdown)
	return nil
}
