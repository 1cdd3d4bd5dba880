// Package cooldown implements the per-command rate-limit gate. It is the
// only component that schedules delayed re-delivery of a rejected event:
// commands whose policy sets queue=true are re-enqueued after the remaining
// wait instead of being dropped.
//
// The runtime clock maps are owned by the dispatch goroutine. The scheduler
// callback that re-delivers a queued event only enqueues into the inbound
// queue; the clocks were already pre-stamped synchronously before the timer
// was armed.
package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/telemetry"
)

// ModuleID keys the gate's blob in the module data store.
const ModuleID = "cooldown"

// Decision is the gate's verdict for a command event.
type Decision int

const (
	Pass Decision = iota
	Block
	Queue
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case Block:
		return "block"
	case Queue:
		return "queue"
	}
	return "unknown"
}

// Override selects per-command notification behavior. The zero value
// (inherit) falls through to the global toggle.
type Override string

const (
	NotifyInherit Override = "inherit"
	NotifyOn      Override = "on"
	NotifyOff     Override = "off"
)

// ParseOverride validates a user-supplied override name.
func ParseOverride(s string) (Override, bool) {
	switch Override(strings.ToLower(strings.TrimSpace(s))) {
	case NotifyInherit, "":
		return NotifyInherit, true
	case NotifyOn:
		return NotifyOn, true
	case NotifyOff:
		return NotifyOff, true
	}
	return "", false
}

// Policy is a command's rate limit. Durations are stored as whole seconds.
type Policy struct {
	GlobalSeconds int      `json:"global"`
	UserSeconds   int      `json:"user"`
	Queue         bool     `json:"queue,omitempty"`
	Notify        Override `json:"notify,omitempty"`
}

func (p Policy) global() time.Duration { return time.Duration(p.GlobalSeconds) * time.Second }
func (p Policy) user() time.Duration   { return time.Duration(p.UserSeconds) * time.Second }

// runtime tracks last-fire clocks for one command.
type runtime struct {
	Global time.Time            `json:"global"`
	Users  map[string]time.Time `json:"users,omitempty"`
}

type state struct {
	Commands       map[string]Policy   `json:"commands"`
	DefaultSeconds int                 `json:"default_cooldown,omitempty"`
	Notifications  *bool               `json:"notifications,omitempty"`
	Runtimes       map[string]*runtime `json:"runtimes,omitempty"`
}

// BlobStore is the slice of the module data store the gate uses.
type BlobStore interface {
	GetInto(ctx context.Context, moduleID string, v any) (bool, error)
	Put(ctx context.Context, moduleID string, v any) error
	PutAsync(moduleID string, v any)
}

// ChatSender delivers the cooldown notice; best-effort.
type ChatSender interface {
	Say(text string)
}

// Config wires the gate's collaborators.
type Config struct {
	Store BlobStore
	// Schedule arms a one-shot delayed callback (the core scheduler).
	Schedule func(d time.Duration, fn func())
	// Enqueue puts a re-delivered event back on the inbound queue. It must
	// be safe to call from the scheduler goroutine.
	Enqueue func(e *event.Event)
	Sender  ChatSender
	// Now is the gate's clock; defaults to time.Now. Tests inject a fake.
	Now func() time.Time
	// SweepEvery bounds runtime map growth; entries older than their own
	// window are dropped. Defaults to 5 minutes.
	SweepEvery time.Duration
}

// Gate evaluates and stamps command cooldowns.
type Gate struct {
	cfg       Config
	data      state
	log       *slog.Logger
	lastSweep time.Time
}

// Load restores persisted policy and runtime clocks.
func Load(ctx context.Context, cfg Config) (*Gate, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 5 * time.Minute
	}
	g := &Gate{
		cfg:  cfg,
		data: state{Commands: map[string]Policy{}, Runtimes: map[string]*runtime{}},
		log:  slog.Default().With(slog.String("component", "cooldown")),
	}
	if cfg.Store != nil {
		if _, err := cfg.Store.GetInto(ctx, ModuleID, &g.data); err != nil {
			return nil, fmt.Errorf("load cooldown state: %w", err)
		}
		if g.data.Commands == nil {
			g.data.Commands = map[string]Policy{}
		}
		if g.data.Runtimes == nil {
			g.data.Runtimes = map[string]*runtime{}
		}
	}
	g.lastSweep = cfg.Now()
	return g, nil
}

// Check applies the cooldown policy to a command event. Queue decisions
// pre-stamp the clocks to now+wait and arm re-delivery of a copy flagged to
// skip this gate; the caller drops the event from the current cycle.
func (g *Gate) Check(e *event.Event) (Decision, time.Duration) {
	if e.Kind != event.KindChatCommand {
		return Pass, 0
	}
	if e.BypassCooldowns || e.IsBroadcaster {
		return Pass, 0
	}
	pol, ok := g.policyFor(e.Command)
	if !ok {
		return Pass, 0
	}

	now := g.cfg.Now()
	rt := g.data.Runtimes[e.Command]
	var userRemaining, globalRemaining time.Duration
	if rt != nil {
		if !rt.Global.IsZero() {
			globalRemaining = pol.global() - now.Sub(rt.Global)
		}
		if last, ok := rt.Users[e.UserID]; ok {
			userRemaining = pol.user() - now.Sub(last)
		}
	}
	wait := userRemaining
	if globalRemaining > wait {
		wait = globalRemaining
	}
	// Zero or negative wait means not limited (or clock skew between check
	// and stamp); never arm a negative-delay timer.
	if wait <= 0 {
		return Pass, 0
	}

	if !pol.Queue {
		if telemetry.CooldownBlocked != nil {
			telemetry.CooldownBlocked.Inc()
		}
		if g.notifyEnabled(pol) && g.cfg.Sender != nil {
			secs := int(math.Ceil(wait.Seconds()))
			g.cfg.Sender.Say(fmt.Sprintf("@%s: Command !%s is on cooldown. (%ds)", e.DisplayName, e.Command, secs))
		}
		return Block, wait
	}

	// Pre-stamp to the future fire time so a burst of queued requests does
	// not collide on the same wait.
	g.stampAt(e.Command, e.UserID, now.Add(wait))
	g.flushAsync()
	if telemetry.CooldownQueued != nil {
		telemetry.CooldownQueued.Inc()
	}
	requeued := e.Requeued()
	g.cfg.Schedule(wait, func() { g.cfg.Enqueue(requeued) })
	g.log.Debug("command queued on cooldown",
		slog.String("command", e.Command),
		slog.String("user_id", e.UserID),
		slog.Duration("wait", wait))
	return Queue, wait
}

// Stamp records a successful, handled invocation at the current time. The
// dispatch loop calls it only when at least one handler reported Handled,
// so no-op commands never start a cooldown window.
func (g *Gate) Stamp(command, userID string) {
	g.stampAt(command, userID, g.cfg.Now())
	g.flushAsync()
	g.maybeSweep()
}

func (g *Gate) stampAt(command, userID string, t time.Time) {
	rt := g.data.Runtimes[command]
	if rt == nil {
		rt = &runtime{}
		g.data.Runtimes[command] = rt
	}
	rt.Global = t
	if rt.Users == nil {
		rt.Users = map[string]time.Time{}
	}
	rt.Users[userID] = t
}

// LastFire returns the runtime clocks for a command; zero times mean the
// command has not fired.
func (g *Gate) LastFire(command, userID string) (global, user time.Time) {
	rt := g.data.Runtimes[command]
	if rt == nil {
		return time.Time{}, time.Time{}
	}
	return rt.Global, rt.Users[userID]
}

func (g *Gate) policyFor(command string) (Policy, bool) {
	// An explicit entry wins wholly, even with zero fields; the process
	// default only covers commands with no entry at all.
	if pol, ok := g.data.Commands[command]; ok {
		return pol, true
	}
	if g.data.DefaultSeconds > 0 {
		return Policy{GlobalSeconds: g.data.DefaultSeconds, Notify: NotifyInherit}, true
	}
	return Policy{}, false
}

func (g *Gate) notifyEnabled(pol Policy) bool {
	switch pol.Notify {
	case NotifyOn:
		return true
	case NotifyOff:
		return false
	default:
		return g.notificationsDefault()
	}
}

func (g *Gate) notificationsDefault() bool {
	if g.data.Notifications == nil {
		return true
	}
	return *g.data.Notifications
}

// SetPolicy assigns a command's rate limit.
func (g *Gate) SetPolicy(command string, pol Policy) {
	g.data.Commands[strings.ToLower(command)] = pol
	g.flushAsync()
}

// DeletePolicy removes a command's rate limit and its runtime clocks.
// A re-delivery already armed for the command still fires; the requeued
// event simply passes as a normal bypass-cooldowns event.
func (g *Gate) DeletePolicy(command string) bool {
	command = strings.ToLower(command)
	if _, ok := g.data.Commands[command]; !ok {
		return false
	}
	delete(g.data.Commands, command)
	delete(g.data.Runtimes, command)
	g.flushAsync()
	return true
}

// Policy returns the explicit policy for a command.
func (g *Gate) Policy(command string) (Policy, bool) {
	pol, ok := g.data.Commands[strings.ToLower(command)]
	return pol, ok
}

// SetDefault sets the process-wide default cooldown in seconds; zero
// disables it.
func (g *Gate) SetDefault(seconds int) {
	g.data.DefaultSeconds = seconds
	g.flushAsync()
}

// Default returns the process-wide default cooldown in seconds.
func (g *Gate) Default() int { return g.data.DefaultSeconds }

// SetNotifications toggles the global cooldown-notice setting.
func (g *Gate) SetNotifications(on bool) {
	g.data.Notifications = &on
	g.flushAsync()
}

// Sweep drops runtime entries older than their own cooldown window to
// bound memory. It must run on the dispatch goroutine.
func (g *Gate) Sweep() {
	now := g.cfg.Now()
	for command, rt := range g.data.Runtimes {
		pol, managed := g.policyFor(command)
		if !managed {
			delete(g.data.Runtimes, command)
			continue
		}
		for userID, last := range rt.Users {
			if now.Sub(last) >= pol.user() {
				delete(rt.Users, userID)
			}
		}
		if len(rt.Users) == 0 && (rt.Global.IsZero() || now.Sub(rt.Global) >= pol.global()) {
			delete(g.data.Runtimes, command)
		}
	}
	g.lastSweep = now
}

func (g *Gate) maybeSweep() {
	if g.cfg.Now().Sub(g.lastSweep) >= g.cfg.SweepEvery {
		g.Sweep()
	}
}

// Shutdown sweeps expired entries and flushes synchronously.
func (g *Gate) Shutdown(ctx context.Context) error {
	g.Sweep()
	if g.cfg.Store == nil {
		return nil
	}
	return g.cfg.Store.Put(ctx, ModuleID, &g.data)
}

func (g *Gate) flushAsync() {
	if g.cfg.Store != nil {
		g.cfg.Store.PutAsync(ModuleID, &g.data)
	}
}

// RegisterAdmin wires the gate's admin command surface.
func (g *Gate) RegisterAdmin(reg *admin.Registry) {
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "set",
		Usage:       "cooldown set <command> <global_seconds> <user_seconds> [queue] [on/off/inherit]",
		Description: "Set the global and per-user cooldowns for a command",
		MinArgs:     3,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			global, err := strconv.Atoi(args[1])
			if err != nil || global < 0 {
				return "", fmt.Errorf("invalid global cooldown %q", args[1])
			}
			user, err := strconv.Atoi(args[2])
			if err != nil || user < 0 {
				return "", fmt.Errorf("invalid user cooldown %q", args[2])
			}
			pol := Policy{GlobalSeconds: global, UserSeconds: user, Notify: NotifyInherit}
			rest := args[3:]
			if len(rest) > 0 && strings.EqualFold(rest[0], "queue") {
				pol.Queue = true
				rest = rest[1:]
			}
			if len(rest) > 0 {
				ov, ok := ParseOverride(rest[0])
				if !ok {
					return "", fmt.Errorf("invalid notification override %q", rest[0])
				}
				pol.Notify = ov
			}
			g.SetPolicy(name, pol)
			return fmt.Sprintf("cooldown set for !%s (global: %ds, user: %ds, queue: %t)", name, global, user, pol.Queue), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "delete",
		Usage:       "cooldown delete <command>",
		Description: "Delete the cooldown for a command",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			if !g.DeletePolicy(name) {
				return "", fmt.Errorf("cooldown for !%s not set", name)
			}
			return fmt.Sprintf("cooldown for !%s removed", name), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "default",
		Usage:       "cooldown default <seconds>",
		Description: "Set the default global cooldown applied to commands without one",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			secs, err := strconv.Atoi(args[0])
			if err != nil || secs < 0 {
				return "", fmt.Errorf("invalid default cooldown %q", args[0])
			}
			g.SetDefault(secs)
			return fmt.Sprintf("default cooldown set to %ds", secs), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "notifications",
		Usage:       "cooldown notifications <on/off>",
		Description: "Enable or disable cooldown notices in chat",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			switch strings.ToLower(args[0]) {
			case "on":
				g.SetNotifications(true)
			case "off":
				g.SetNotifications(false)
			default:
				return "", fmt.Errorf("expected on or off, got %q", args[0])
			}
			return "cooldown notifications turned " + strings.ToLower(args[0]), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "list",
		Usage:       "cooldown list",
		Description: "List command cooldowns",
		Run: func(_ context.Context, _ []string) (string, error) {
			var b strings.Builder
			for cmd, pol := range g.data.Commands {
				fmt.Fprintf(&b, "!%s: global %ds, user %ds, queue %t, notify %s\n", cmd, pol.GlobalSeconds, pol.UserSeconds, pol.Queue, pol.Notify)
			}
			fmt.Fprintf(&b, "default: %ds", g.data.DefaultSeconds)
			return b.String(), nil
		},
	})
}
