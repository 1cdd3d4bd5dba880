// Package commands implements the static text command table: a chat
// command mapped to a templated response. Templates may reference
// {sender}, {args}, and {count} (per-command use counter).
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/bot"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
)

// ModuleID keys the module's blob in the data store.
const ModuleID = "basic_commands"

type entry struct {
	Response string `json:"response"`
}

type data struct {
	Commands map[string]entry `json:"commands"`
}

// Module is the command table.
type Module struct {
	c    *bot.Context
	data data
}

// New returns an empty command table; Setup loads persisted state.
func New() *Module { return &Module{} }

func (m *Module) Name() string { return ModuleID }

// Setup loads the table and wires the chat handler and admin surface.
func (m *Module) Setup(c *bot.Context) error {
	m.c = c
	m.data = data{Commands: map[string]entry{}}
	if _, err := c.Store.GetInto(context.Background(), ModuleID, &m.data); err != nil {
		return fmt.Errorf("load command table: %w", err)
	}
	if m.data.Commands == nil {
		m.data.Commands = map[string]entry{}
	}

	c.Registry.Register(event.KindChatCommand, ModuleID, m.handleCommand)
	m.registerAdmin(c.Admin)
	return nil
}

func (m *Module) handleCommand(e *event.Event) dispatch.Result {
	ent, ok := m.data.Commands[e.Command]
	if !ok {
		return dispatch.NotHandled
	}
	m.c.Say(m.render(ent.Response, e))
	return dispatch.Handled
}

func (m *Module) render(template string, e *event.Event) string {
	out := strings.ReplaceAll(template, "{sender}", e.DisplayName)
	out = strings.ReplaceAll(out, "{args}", e.Message)
	if strings.Contains(out, "{count}") {
		n, err := m.c.Store.IncrCounter(context.Background(), "cmd_"+e.Command, 1)
		if err != nil {
			m.c.Logger().Warn("command counter failed", slog.String("command", e.Command), slog.Any("err", err))
		}
		out = strings.ReplaceAll(out, "{count}", strconv.FormatInt(n, 10))
	}
	return out
}

// Shutdown flushes the table synchronously.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.c.Store.Put(ctx, ModuleID, &m.data)
}

func (m *Module) registerAdmin(reg *admin.Registry) {
	reg.MustRegister(admin.Command{
		Module:      "commands",
		Name:        "add",
		Usage:       `commands add <command> "<response>"`,
		Description: "Add or replace a text command",
		MinArgs:     2,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			response := strings.Join(args[1:], " ")
			m.data.Commands[name] = entry{Response: response}
			m.c.Store.PutAsync(ModuleID, &m.data)
			return fmt.Sprintf("command !%s added", name), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      "commands",
		Name:        "delete",
		Usage:       "commands delete <command>",
		Description: "Remove a text command",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			name := admin.CommandToken(args[0])
			if _, ok := m.data.Commands[name]; !ok {
				return "", fmt.Errorf("command !%s does not exist", name)
			}
			delete(m.data.Commands, name)
			m.c.Store.PutAsync(ModuleID, &m.data)
			return fmt.Sprintf("command !%s deleted", name), nil
		},
	})
	reg.MustRegister(admin.Command{
		Module:      "commands",
		Name:        "list",
		Usage:       "commands list",
		Description: "List text commands",
		Run: func(_ context.Context, _ []string) (string, error) {
			names := make([]string, 0, len(m.data.Commands))
			for name := range m.data.Commands {
				names = append(names, "!"+name)
			}
			sort.Strings(names)
			return strings.Join(names, " "), nil
		},
	})
}
