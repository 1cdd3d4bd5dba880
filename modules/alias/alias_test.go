package alias

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/bot"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/sched"
)

type fakeStore struct {
	blobs map[string]json.RawMessage
}

func newFakeStore() *fakeStore { return &fakeStore{blobs: map[string]json.RawMessage{}} }

func (s *fakeStore) GetInto(_ context.Context, moduleID string, v any) (bool, error) {
	raw, ok := s.blobs[moduleID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (s *fakeStore) Put(_ context.Context, moduleID string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.blobs[moduleID] = raw
	return nil
}

func (s *fakeStore) PutAsync(moduleID string, v any) { _ = s.Put(context.Background(), moduleID, v) }

func (s *fakeStore) GetCounter(context.Context, string) (int64, error) { return 0, nil }

func (s *fakeStore) SetCounter(context.Context, string, int64) error { return nil }

func (s *fakeStore) IncrCounter(context.Context, string, int64) (int64, error) {
	return 0, nil
}

type captureInbox struct {
	events []*event.Event
}

func (c *captureInbox) Enqueue(e *event.Event) { c.events = append(c.events, e) }

func setup(t *testing.T, st *fakeStore) (*bot.Context, *captureInbox) {
	t.Helper()
	inbox := &captureInbox{}
	c := &bot.Context{
		Events:   inbox,
		Registry: dispatch.NewRegistry(),
		Sched:    sched.New(),
		Store:    st,
		Admin:    admin.NewRegistry(),
	}
	if err := New().Setup(c); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return c, inbox
}

func TestAliasExpandsImmediately(t *testing.T) {
	st := newFakeStore()
	st.blobs[ModuleID] = json.RawMessage(`{"aliases":{"brb":[{"command":"timeout","message":"5"}]}}`)
	c, inbox := setup(t, st)

	src := event.NewChatCommand("brb", "", event.Sender{DisplayName: "alice", UserID: "1", IsMod: true})
	handled := c.Registry.Dispatch(src)
	if !handled {
		t.Fatal("alias must report handled")
	}
	if len(inbox.events) != 1 {
		t.Fatalf("enqueued %d events", len(inbox.events))
	}
	d := inbox.events[0]
	if d.Command != "timeout" || d.Message != "5" {
		t.Errorf("derived = (%q, %q)", d.Command, d.Message)
	}
	if !d.BypassPermissions {
		t.Error("derived step must bypass the permission gate")
	}
	if d.BypassCooldowns {
		t.Error("derived step must still face the cooldown gate")
	}
	if d.UserID != "1" || !d.IsMod {
		t.Error("sender identity not carried to the derived step")
	}
	if d.Attrs["alias"] != "brb" {
		t.Errorf("attrs = %v", d.Attrs)
	}
}

func TestAliasDelayedStepUsesScheduler(t *testing.T) {
	st := newFakeStore()
	st.blobs[ModuleID] = json.RawMessage(`{"aliases":{"combo":[{"command":"one"},{"command":"two","delay_ms":500}]}}`)
	c, inbox := setup(t, st)

	c.Registry.Dispatch(event.NewChatCommand("combo", "", event.Sender{}))
	if len(inbox.events) != 1 || inbox.events[0].Command != "one" {
		t.Fatalf("immediate events = %v", inbox.events)
	}
	if c.Sched.Pending() != 1 {
		t.Errorf("Pending = %d, want the delayed step armed", c.Sched.Pending())
	}
}

func TestAliasSkipsSelfReference(t *testing.T) {
	st := newFakeStore()
	st.blobs[ModuleID] = json.RawMessage(`{"aliases":{"loop":[{"command":"loop"},{"command":"safe"}]}}`)
	c, inbox := setup(t, st)

	c.Registry.Dispatch(event.NewChatCommand("loop", "", event.Sender{}))
	if len(inbox.events) != 1 || inbox.events[0].Command != "safe" {
		t.Errorf("events = %v; self-referencing step must be skipped", inbox.events)
	}
}

func TestAliasFallsBackToSourceMessage(t *testing.T) {
	st := newFakeStore()
	st.blobs[ModuleID] = json.RawMessage(`{"aliases":{"fw":[{"command":"target"}]}}`)
	c, inbox := setup(t, st)

	c.Registry.Dispatch(event.NewChatCommand("fw", "passed along", event.Sender{}))
	if len(inbox.events) != 1 || inbox.events[0].Message != "passed along" {
		t.Errorf("events = %v", inbox.events)
	}
}

func TestAdminAddDelete(t *testing.T) {
	c, inbox := setup(t, newFakeStore())
	ctx := context.Background()

	if _, err := c.Admin.Execute(ctx, "alias add greet hello 0"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := c.Admin.Execute(ctx, `alias add greet announce 250 "big welcome"`); err != nil {
		t.Fatalf("add second step: %v", err)
	}
	c.Registry.Dispatch(event.NewChatCommand("greet", "", event.Sender{}))
	if len(inbox.events) != 1 || inbox.events[0].Command != "hello" {
		t.Fatalf("events = %v", inbox.events)
	}
	if c.Sched.Pending() != 1 {
		t.Errorf("Pending = %d", c.Sched.Pending())
	}

	if _, err := c.Admin.Execute(ctx, "alias add bad step notanumber"); err == nil {
		t.Error("invalid delay must error")
	}

	if _, err := c.Admin.Execute(ctx, "alias delete greet"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.Registry.Dispatch(event.NewChatCommand("greet", "", event.Sender{})) {
		t.Error("deleted alias still handled")
	}
}
