// Package event defines the immutable event values that flow through the
// bot's inbound queue, and the helpers that construct them from raw chat
// input. Events are never mutated after construction; handlers that want a
// variant build a new one with Derive.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the event variants.
type Kind string

const (
	KindChatCommand     Kind = "CHATCOMMAND"
	KindChatMessage     Kind = "CHATMESSAGE"
	KindTimer           Kind = "TIMER"
	KindStreamStatus    Kind = "STREAMSTATUS"
	KindFirstMessage    Kind = "FIRSTMESSAGE"
	KindSubscription    Kind = "SUBSCRIPTION"
	KindBits            Kind = "BITS"
	KindPointRedemption Kind = "POINTREDEMPTION"
	KindHost            Kind = "HOST"
	KindRaid            Kind = "RAID"

	// KindAdmin carries admin-surface mutations through the inbound queue so
	// that policy maps are only ever written from the dispatch goroutine.
	KindAdmin Kind = "ADMIN"

	// KindShutdown is the sentinel that terminates the dispatch loop.
	KindShutdown Kind = "SHUTDOWN"
)

// Event is a single occurrence delivered through the dispatch loop. Fields
// not applicable to a given kind are left at their zero value.
type Event struct {
	ID   uuid.UUID
	Kind Kind
	At   time.Time

	// Command is the normalized command token: first "!"-prefixed token of
	// the raw chat text, lower-cased, leading "!" stripped. Empty means the
	// event is not a command.
	Command string
	// Message is the text after the command token (or the full chat line for
	// non-command kinds). Args is its whitespace split.
	Message string
	Args    []string

	DisplayName   string
	UserID        string
	IsVIP         bool
	IsMod         bool
	IsBroadcaster bool

	BypassPermissions bool
	BypassCooldowns   bool

	// Attrs carries extra named attributes set by the producer or by the
	// handler that synthesized a derived event (bits used, sub tier, viewer
	// count). Treat as read-only after construction.
	Attrs map[string]any
}

// Sender describes the capability flags of a chat user as reported by the
// transport. Transports normalize IsMod to true for broadcasters; the gates
// do not re-apply that rule.
type Sender struct {
	DisplayName   string
	UserID        string
	IsVIP         bool
	IsMod         bool
	IsBroadcaster bool
}

// New returns a bare event of the given kind stamped with a fresh ID.
func New(kind Kind) *Event {
	return &Event{ID: uuid.New(), Kind: kind, At: time.Now()}
}

// ParseCommand extracts the normalized command name and the remaining
// message from a raw chat line. It returns ("", "") when the line is not a
// command.
func ParseCommand(raw string) (command, rest string) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "!") {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	command = strings.ToLower(strings.TrimPrefix(parts[0], "!"))
	if command == "" {
		return "", ""
	}
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return command, rest
}

// NewChatCommand builds a ChatCommand event from an already-normalized
// command name and its argument text.
func NewChatCommand(command, message string, from Sender) *Event {
	e := New(KindChatCommand)
	e.Command = strings.ToLower(strings.TrimSpace(command))
	e.Message = message
	e.Args = fields(message)
	e.DisplayName = from.DisplayName
	e.UserID = from.UserID
	e.IsVIP = from.IsVIP
	e.IsMod = from.IsMod
	e.IsBroadcaster = from.IsBroadcaster
	return e
}

// NewChatMessage builds a plain ChatMessage event.
func NewChatMessage(message string, from Sender) *Event {
	e := New(KindChatMessage)
	e.Message = message
	e.Args = fields(message)
	e.DisplayName = from.DisplayName
	e.UserID = from.UserID
	e.IsVIP = from.IsVIP
	e.IsMod = from.IsMod
	e.IsBroadcaster = from.IsBroadcaster
	return e
}

// Derive returns a new ChatCommand event that copies the sender identity of
// base and overlays the given command, message and extra attributes. The
// derived event always bypasses the permission gate: synthetic events are
// triggered by configuration, not by the sender's own role. Attrs of the
// base event are copied first so overlays win.
func Derive(base *Event, command, message string, attrs map[string]any) *Event {
	e := NewChatCommand(command, message, Sender{
		DisplayName:   base.DisplayName,
		UserID:        base.UserID,
		IsVIP:         base.IsVIP,
		IsMod:         base.IsMod,
		IsBroadcaster: base.IsBroadcaster,
	})
	e.BypassPermissions = true
	if len(base.Attrs) > 0 || len(attrs) > 0 {
		e.Attrs = make(map[string]any, len(base.Attrs)+len(attrs))
		for k, v := range base.Attrs {
			e.Attrs[k] = v
		}
		for k, v := range attrs {
			e.Attrs[k] = v
		}
	}
	return e
}

// Requeued returns a copy of e flagged to skip the cooldown gate, used when
// the cooldown gate schedules delayed re-delivery. All other fields,
// including BypassPermissions, are preserved.
func (e *Event) Requeued() *Event {
	cp := *e
	cp.ID = uuid.New()
	cp.BypassCooldowns = true
	return &cp
}

func fields(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
