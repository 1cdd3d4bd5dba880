// Package alias maps one chat command to a sequence of other commands,
// each optionally delayed. Steps are re-injected through the inbound queue
// as derived events with bypass_permissions set, so an alias configured by
// the broadcaster works for any sender the alias itself admits.
package alias

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/bot"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
)

// ModuleID keys the module's blob in the data store.
const ModuleID = "alias"

type step struct {
	Command string `json:"command"`
	Message string `json:"message,omitempty"`
	DelayMS int    `json:"delay_ms,omitempty"`
}

type data struct {
	Aliases map[string][]step `json:"aliases"`
}

// Module expands aliases into derived command events.
type Module struct {
	c    *bot.Context
	data data
}

// New returns an empty alias table; Setup loads persisted state.
func New() *Module { return &Module{} }

func (m *Module) Name() string { return ModuleID }

// Setup loads the alias table and wires the chat handler and admin surface.
func (m *Module) Setup(c *bot.Context) error {
	m.c = c
	m.data = data{Aliases: map[string][]step{}}
	if _, err := c.Store.GetInto(context.Background(), ModuleID, &m.data); err != nil {
		return fmt.Errorf("load alias table: %w", err)
	}
	if m.data.Aliases == nil {
		m.data.Aliases = map[string][]step{}
	}

	c.Registry.Register(event.KindChatCommand, ModuleID, m.handleCommand)
	m.registerAdmin(c.Admin)
	return nil
}

func (m *Module) handleCommand(e *event.Event) dispatch.Result {
	steps, ok := m.data.Aliases[e.Command]
	if !ok {
		return dispatch.NotHandled
	}
	for _, s := range steps {
		if s.Command == e.Command {
			// An alias must not re-trigger itself.
			continue
		}
		message := s.Message
		if message == "" {
			message = e.Message
		}
		derived := event.Derive(e, s.Command, message, map[string]any{"alias": e.Command})
		if s.DelayMS <= 0 {
			m.c.Events.Enqueue(derived)
			continue
		}
		m.c.Sched.After(time.Duration(s.DelayMS)*time.Millisecond, func() {
			m.c.Events.Enqueue(derived)
		})
	}
	return dispatch.Handled
}

// Shutdown flushes the alias table synchronously.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.c.Store.Put(ctx, ModuleID, &m.data)
}

func (m *Module) registerAdmin(reg *admin.Registry) {
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "add",
		Usage:       `alias add <alias> <command> [delay_ms] ["message"]`,
		Description: "Append a command to an alias sequence",
		MinArgs:     2,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			s := step{Command: admin.CommandToken(args[1])}
			rest := args[2:]
			if len(rest) > 0 {
				delay, err := strconv.Atoi(rest[0])
				if err != nil || delay < 0 {
					return "", fmt.Errorf("invalid delay %q", rest[0])
				}
				s.DelayMS = delay
				rest = rest[1:]
			}
			if len(rest) > 0 {
				s.Message = strings.Join(rest, " ")
			}
			m.data.Aliases[name] = append(m.data.Aliases[name], s)
			m.c.Store.PutAsync(ModuleID, &m.data)
			return fmt.Sprintf("!%s now triggers !%s (%d step(s))", name, s.Command, len(m.data.Aliases[name])), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "delete",
		Usage:       "alias delete <alias>",
		Description: "Remove an alias and all its steps",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			if _, ok := m.data.Aliases[name]; !ok {
				return "", fmt.Errorf("!%s is not registered as an alias", name)
			}
			delete(m.data.Aliases, name)
			m.c.Store.PutAsync(ModuleID, &m.data)
			return fmt.Sprintf("alias !%s deleted", name), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "list",
		Usage:       "alias list",
		Description: "List aliases and their sequences",
		Run: func(_ context.Context, _ []string) (string, error) {
			names := make([]string, 0, len(m.data.Aliases))
			for name := range m.data.Aliases {
				names = append(names, name)
			}
			sort.Strings(names)
			var b strings.Builder
			for _, name := range names {
				fmt.Fprintf(&b, "!%s:", name)
				for _, s := range m.data.Aliases[name] {
					fmt.Fprintf(&b, " !%s(%dms)", s.Command, s.DelayMS)
				}
				b.WriteString("\n")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})
}
