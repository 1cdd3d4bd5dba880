// Package admin defines the typed admin-command records modules register at
// setup, and the shared tokenizer that replaces per-module regex parsing.
// Admin commands mutate gate policy and module configuration; they execute
// on the dispatch goroutine only (routed there as admin events) so those
// maps stay single-writer.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Command is one admin action, addressed as "<module> <name> [args...]".
type Command struct {
	Module      string
	Name        string
	Usage       string
	Description string
	// MinArgs is the number of required arguments after the command name.
	MinArgs int
	Run     func(ctx context.Context, args []string) (string, error)
}

// Registry holds the admin command table. Registration happens during
// startup (module Setup), execution on the dispatch goroutine; neither is
// concurrent with the other.
type Registry struct {
	cmds map[string]map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cmds: map[string]map[string]Command{}}
}

// Register adds cmd; a duplicate (module, name) pair is an error because it
// would silently shadow another module's surface.
func (r *Registry) Register(cmd Command) error {
	if cmd.Module == "" || cmd.Name == "" || cmd.Run == nil {
		return fmt.Errorf("admin command needs module, name and run func")
	}
	byName := r.cmds[cmd.Module]
	if byName == nil {
		byName = map[string]Command{}
		r.cmds[cmd.Module] = byName
	}
	if _, exists := byName[cmd.Name]; exists {
		return fmt.Errorf("admin command %s %s already registered", cmd.Module, cmd.Name)
	}
	byName[cmd.Name] = cmd
	return nil
}

// MustRegister is Register for startup wiring, where a duplicate is a
// programming error.
func (r *Registry) MustRegister(cmd Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// Execute tokenizes line as "<module> <name> [args...]" and runs the
// matching command.
func (r *Registry) Execute(ctx context.Context, line string) (string, error) {
	tokens := Tokenize(line)
	if len(tokens) < 2 {
		return "", fmt.Errorf("expected: <module> <command> [args...]")
	}
	byName, ok := r.cmds[tokens[0]]
	if !ok {
		return "", fmt.Errorf("unknown module %q", tokens[0])
	}
	cmd, ok := byName[tokens[1]]
	if !ok {
		return "", fmt.Errorf("unknown command %q for module %q", tokens[1], tokens[0])
	}
	args := tokens[2:]
	if len(args) < cmd.MinArgs {
		return "", fmt.Errorf("usage: %s", cmd.Usage)
	}
	return cmd.Run(ctx, args)
}

// Usage lists registered commands, sorted, for help output.
func (r *Registry) Usage() []string {
	var out []string
	for _, byName := range r.cmds {
		for _, cmd := range byName {
			u := cmd.Usage
			if u == "" {
				u = cmd.Module + " " + cmd.Name
			}
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Tokenize splits an admin line on whitespace, honoring double quotes so
// response templates with spaces survive as one argument.
func Tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.TrimSpace(line) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// CommandToken normalizes a user-typed command reference: lower-cased with
// any leading "!" stripped, matching how events carry command names.
func CommandToken(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "!"))
}
