package bot

import (
	"context"
	"fmt"
	"testing"

	"github.com/patchbay-tv/chatbot/dispatch"
)

type fakeSink struct {
	says []string
}

func (f *fakeSink) Say(text string) { f.says = append(f.says, text) }

func TestSayIsNilSafe(t *testing.T) {
	c := &Context{}
	c.Say("dropped") // must not panic without a sink

	sink := &fakeSink{}
	c.Chat = sink
	c.Say("")
	c.Say("hello")
	if len(sink.says) != 1 || sink.says[0] != "hello" {
		t.Errorf("says = %v", sink.says)
	}
}

type stubModule struct {
	name     string
	setupErr error
	setups   int
}

func (m *stubModule) Name() string { return m.name }

func (m *stubModule) Setup(*Context) error { m.setups++; return m.setupErr }

func (m *stubModule) Shutdown(context.Context) error { return nil }

func TestRegisterWiresShutdown(t *testing.T) {
	c := &Context{Registry: dispatch.NewRegistry()}
	loop := dispatch.NewLoop(dispatch.LoopConfig{Registry: c.Registry})
	c.Events = loop

	m := &stubModule{name: "stub"}
	if err := Register(c, loop, m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if m.setups != 1 {
		t.Errorf("setups = %d", m.setups)
	}

	go loop.Run(context.Background())
	loop.Shutdown()
	<-loop.Done()
}

func TestRegisterPropagatesSetupError(t *testing.T) {
	c := &Context{Registry: dispatch.NewRegistry()}
	loop := dispatch.NewLoop(dispatch.LoopConfig{Registry: c.Registry})

	m := &stubModule{name: "bad", setupErr: fmt.Errorf("nope")}
	if err := Register(c, loop, m); err == nil {
		t.Error("Setup failure must surface from Register")
	}
}
