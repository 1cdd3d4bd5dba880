// Package attachments maps channel happenings (bits, subscriptions, raids)
// to configured chat commands. When a mapped happening arrives the module
// derives a synthetic command event carrying the happening's attributes and
// re-injects it through the inbound queue.
package attachments

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/bot"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
)

// ModuleID keys the module's blob in the data store.
const ModuleID = "attachments"

// attachable maps the admin-facing names to the event kinds that may carry
// an attachment.
var attachable = map[string]event.Kind{
	"bits":          event.KindBits,
	"subscription":  event.KindSubscription,
	"raid":          event.KindRaid,
	"first_message": event.KindFirstMessage,
}

type data struct {
	// Commands maps an attachable name to the command fired when the
	// corresponding event occurs.
	Commands map[string]string `json:"commands"`
}

// Module re-injects happenings as command events.
type Module struct {
	c    *bot.Context
	data data
}

// New returns an empty attachment table; Setup loads persisted state.
func New() *Module { return &Module{} }

func (m *Module) Name() string { return ModuleID }

// Setup loads the table and registers a handler per attachable kind.
func (m *Module) Setup(c *bot.Context) error {
	m.c = c
	m.data = data{Commands: map[string]string{}}
	if _, err := c.Store.GetInto(context.Background(), ModuleID, &m.data); err != nil {
		return fmt.Errorf("load attachment table: %w", err)
	}
	if m.data.Commands == nil {
		m.data.Commands = map[string]string{}
	}

	for _, kind := range attachable {
		c.Registry.Register(kind, ModuleID, m.handleEvent)
	}
	m.registerAdmin(c.Admin)
	return nil
}

func (m *Module) handleEvent(e *event.Event) dispatch.Result {
	name := nameOf(e.Kind)
	command, ok := m.data.Commands[name]
	if !ok || command == "" {
		return dispatch.NotHandled
	}
	derived := event.Derive(e, command, e.Message, map[string]any{"source": name})
	m.c.Events.Enqueue(derived)
	return dispatch.Handled
}

// Shutdown flushes the attachment table synchronously.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.c.Store.Put(ctx, ModuleID, &m.data)
}

func nameOf(kind event.Kind) string {
	for name, k := range attachable {
		if k == kind {
			return name
		}
	}
	return ""
}

func (m *Module) registerAdmin(reg *admin.Registry) {
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "set",
		Usage:       "attachments set <kind> <command>",
		Description: "Fire a command when a kind of event occurs (bits, subscription, raid, first_message)",
		MinArgs:     2,
		Run: func(_ context.Context, args []string) (string, error) {
			kind := strings.ToLower(args[0])
			if _, ok := attachable[kind]; !ok {
				return "", fmt.Errorf("unknown event kind %q", args[0])
			}
			command := admin.CommandToken(args[1])
			m.data.Commands[kind] = command
			m.c.Store.PutAsync(ModuleID, &m.data)
			return fmt.Sprintf("%s now fires !%s", kind, command), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "clear",
		Usage:       "attachments clear <kind>",
		Description: "Remove the attachment for an event kind",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			kind := strings.ToLower(args[0])
			if _, ok := m.data.Commands[kind]; !ok {
				return "", fmt.Errorf("nothing attached to %q", args[0])
			}
			delete(m.data.Commands, kind)
			m.c.Store.PutAsync(ModuleID, &m.data)
			return fmt.Sprintf("%s detached", kind), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "list",
		Usage:       "attachments list",
		Description: "List event attachments",
		Run: func(_ context.Context, _ []string) (string, error) {
			kinds := make([]string, 0, len(m.data.Commands))
			for kind := range m.data.Commands {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)
			lines := make([]string, 0, len(kinds))
			for _, kind := range kinds {
				lines = append(lines, fmt.Sprintf("%s -> !%s", kind, m.data.Commands[kind]))
			}
			return strings.Join(lines, "\n"), nil
		},
	})
}
