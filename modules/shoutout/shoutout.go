// Package shoutout implements !so <login>: resolves the target via Helix
// and posts a configurable shoutout line. Typically gated mod-only through
// the permission module.
package shoutout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/bot"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
)

// ModuleID keys the module's blob in the data store.
const ModuleID = "shoutout"

// Command is the chat trigger.
const Command = "so"

const defaultTemplate = "Check out {name} at https://twitch.tv/{login} !"

type data struct {
	Template string `json:"template,omitempty"`
}

// Module posts shoutout lines.
type Module struct {
	c    *bot.Context
	data data
}

// New returns the module; Setup loads the persisted template.
func New() *Module { return &Module{} }

func (m *Module) Name() string { return ModuleID }

// Setup wires the chat handler and admin surface.
func (m *Module) Setup(c *bot.Context) error {
	m.c = c
	if _, err := c.Store.GetInto(context.Background(), ModuleID, &m.data); err != nil {
		return fmt.Errorf("load shoutout config: %w", err)
	}
	c.Registry.Register(event.KindChatCommand, ModuleID, m.handleCommand)
	m.registerAdmin(c.Admin)
	return nil
}

func (m *Module) handleCommand(e *event.Event) dispatch.Result {
	if e.Command != Command {
		return dispatch.NotHandled
	}
	if len(e.Args) == 0 {
		return dispatch.NotHandled
	}
	login := strings.ToLower(strings.TrimPrefix(e.Args[0], "@"))
	name := e.Args[0]

	if m.c.Helix != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		user, err := m.c.Helix.GetUser(ctx, login)
		cancel()
		if err != nil {
			m.c.Logger().Warn("shoutout user lookup failed", slog.String("login", login), slog.Any("err", err))
		} else {
			login = user.Login
			name = user.DisplayName
		}
	}

	template := m.data.Template
	if template == "" {
		template = defaultTemplate
	}
	out := strings.ReplaceAll(template, "{login}", login)
	out = strings.ReplaceAll(out, "{name}", name)
	m.c.Say(out)
	return dispatch.Handled
}

// Shutdown flushes the template synchronously.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.c.Store.Put(ctx, ModuleID, &m.data)
}

func (m *Module) registerAdmin(reg *admin.Registry) {
	reg.MustRegister(admin.Command{
		Module:      ModuleID,
		Name:        "message",
		Usage:       `shoutout message "<template>"`,
		Description: "Set the shoutout template ({name}, {login})",
		MinArgs:     1,
		Run: func(_ context.Context, args []string) (string, error) {
			m.data.Template = strings.Join(args, " ")
			m.c.Store.PutAsync(ModuleID, &m.data)
			return "shoutout template updated", nil
		},
	})
}
