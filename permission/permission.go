// Package permission implements the per-command access policy gate. A
// command event must pass it before dispatch; the gate is silent on deny so
// filtered commands are indistinguishable from unknown ones.
//
// Policy mutations run only on the dispatch goroutine (admin events are
// routed through the inbound queue), so the maps need no locking.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/event"
)

// ModuleID keys the gate's blob in the module data store.
const ModuleID = "permission"

// Level is a single exclusive access tier. A command requires exactly one
// tier; "mod" does not imply "broadcaster" or vice versa at the gate
// (transports normalize is_mod for broadcasters upstream).
type Level string

const (
	LevelAll         Level = "all"
	LevelVIP         Level = "vip"
	LevelMod         Level = "mod"
	LevelBroadcaster Level = "broadcaster"
)

// ParseLevel validates a user-supplied tier name.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelAll:
		return LevelAll, true
	case LevelVIP:
		return LevelVIP, true
	case LevelMod:
		return LevelMod, true
	case LevelBroadcaster:
		return LevelBroadcaster, true
	}
	return "", false
}

// BlobStore is the slice of the module data store the gate uses.
type BlobStore interface {
	GetInto(ctx context.Context, moduleID string, v any) (bool, error)
	Put(ctx context.Context, moduleID string, v any) error
	PutAsync(moduleID string, v any)
}

type state struct {
	Commands map[string]Level `json:"commands"`
	Default  Level            `json:"default,omitempty"`
}

// Gate evaluates command events against the policy map.
type Gate struct {
	store BlobStore
	data  state
	log   *slog.Logger
}

// Load restores persisted policy, falling back to an empty map with the
// "all" default.
func Load(ctx context.Context, st BlobStore) (*Gate, error) {
	g := &Gate{
		store: st,
		data:  state{Commands: map[string]Level{}},
		log:   slog.Default().With(slog.String("component", "permission")),
	}
	if st != nil {
		if _, err := st.GetInto(ctx, ModuleID, &g.data); err != nil {
			return nil, fmt.Errorf("load permission policy: %w", err)
		}
		if g.data.Commands == nil {
			g.data.Commands = map[string]Level{}
		}
	}
	return g, nil
}

// Allow reports whether the command event may be dispatched. Non-command
// events are not gated and always pass.
func (g *Gate) Allow(e *event.Event) bool {
	if e.Kind != event.KindChatCommand {
		return true
	}
	if e.BypassPermissions {
		return true
	}
	lvl, ok := g.data.Commands[e.Command]
	if !ok {
		lvl = g.Default()
	}
	switch lvl {
	case LevelBroadcaster:
		return e.IsBroadcaster
	case LevelMod:
		return e.IsMod
	case LevelVIP:
		return e.IsVIP || e.IsMod || e.IsBroadcaster
	default:
		return true
	}
}

// Default returns the process-wide fallback tier ("all" when unset).
func (g *Gate) Default() Level {
	if g.data.Default == "" {
		return LevelAll
	}
	return g.data.Default
}

// Set assigns the tier for a command and flushes lazily.
func (g *Gate) Set(command string, lvl Level) {
	g.data.Commands[strings.ToLower(command)] = lvl
	g.flush()
}

// Delete removes a command's explicit policy; it falls back to the default.
func (g *Gate) Delete(command string) bool {
	command = strings.ToLower(command)
	if _, ok := g.data.Commands[command]; !ok {
		return false
	}
	delete(g.data.Commands, command)
	g.flush()
	return true
}

// SetDefault changes the fallback tier.
func (g *Gate) SetDefault(lvl Level) {
	g.data.Default = lvl
	g.flush()
}

// Policies returns a copy of the explicit per-command tiers.
func (g *Gate) Policies() map[string]Level {
	out := make(map[string]Level, len(g.data.Commands))
	for k, v := range g.data.Commands {
		out[k] = v
	}
	return out
}

// Shutdown flushes policy synchronously.
func (g *Gate) Shutdown(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	return g.store.Put(ctx, ModuleID, &g.data)
}

func (g *Gate) flush() {
	if g.store != nil {
		g.store.PutAsync(ModuleID, &g.data)
	}
}

// RegisterAdmin wires the gate's admin command surface.
func (g *Gate) RegisterAdmin(reg *admin.Registry) {
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "set",
		Usage:       "permission set <command> <all/vip/mod/broadcaster>",
		Description: "Set the access tier for a command",
		MinArgs:     2,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			lvl, ok := ParseLevel(args[1])
			if !ok {
				return "", fmt.Errorf("unknown tier %q", args[1])
			}
			g.Set(name, lvl)
			return fmt.Sprintf("permission for !%s set to %s", name, lvl), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "delete",
		Usage:       "permission delete <command>",
		Description: "Remove the explicit tier for a command",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			if !g.Delete(name) {
				return "", fmt.Errorf("permission for !%s does not exist", name)
			}
			return fmt.Sprintf("permission for !%s deleted", name), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "default",
		Usage:       "permission default <all/vip/mod/broadcaster>",
		Description: "Set the fallback tier for commands without an explicit policy",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			lvl, ok := ParseLevel(args[0])
			if !ok {
				return "", fmt.Errorf("unknown tier %q", args[0])
			}
			g.SetDefault(lvl)
			return fmt.Sprintf("default permission set to %s", lvl), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "list",
		Usage:       "permission list",
		Description: "List explicit command tiers and the default",
		Run: func(_ context.Context, _ []string) (string, error) {
			var b strings.Builder
			for cmd, lvl := range g.data.Commands {
				fmt.Fprintf(&b, "!%s: %s\n", cmd, lvl)
			}
			fmt.Fprintf(&b, "default: %s", g.Default())
			return b.String(), nil
		},
	})
}
