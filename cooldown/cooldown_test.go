package cooldown

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/patchbay-tv/chatbot/event"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeSender struct {
	says []string
}

func (s *fakeSender) Say(text string) { s.says = append(s.says, text) }

type armed struct {
	wait time.Duration
	fn   func()
}

type harness struct {
	clock    *fakeClock
	sender   *fakeSender
	gate     *Gate
	armed    []armed
	enqueued []*event.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		sender: &fakeSender{},
	}
	g, err := Load(context.Background(), Config{
		Schedule: func(d time.Duration, fn func()) { h.armed = append(h.armed, armed{wait: d, fn: fn}) },
		Enqueue:  func(e *event.Event) { h.enqueued = append(h.enqueued, e) },
		Sender:   h.sender,
		Now:      h.clock.Now,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h.gate = g
	return h
}

func cmd(name, userID string) *event.Event {
	return event.NewChatCommand(name, "", event.Sender{DisplayName: userID, UserID: userID})
}

func TestUnmanagedCommandNeverLimited(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		if d, _ := h.gate.Check(cmd("free", "u1")); d != Pass {
			t.Fatalf("check %d: decision = %s, want pass", i, d)
		}
		h.gate.Stamp("free", "u1")
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 10})

	// Check never stamps; only Stamp starts a window.
	if d, _ := h.gate.Check(cmd("join", "u1")); d != Pass {
		t.Fatalf("first check = %s, want pass", d)
	}
	if d, _ := h.gate.Check(cmd("join", "u1")); d != Pass {
		t.Fatalf("second check without stamp = %s, want pass", d)
	}

	h.gate.Stamp("join", "u1")
	if d, _ := h.gate.Check(cmd("join", "u1")); d != Block {
		t.Fatalf("check inside window = %s, want block", d)
	}
	h.clock.Advance(10 * time.Second)
	if d, _ := h.gate.Check(cmd("join", "u1")); d != Pass {
		t.Fatalf("check after window = %s, want pass", d)
	}
}

func TestGlobalCooldownBlocksOtherUsers(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 10})
	h.gate.Stamp("join", "u1")
	h.clock.Advance(time.Second)

	d, wait := h.gate.Check(cmd("join", "u2"))
	if d != Block {
		t.Fatalf("decision = %s, want block", d)
	}
	if wait != 9*time.Second {
		t.Errorf("wait = %s, want 9s", wait)
	}
}

func TestUserCooldownIsPerUser(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("roll", Policy{UserSeconds: 30})
	h.gate.Stamp("roll", "u1")
	h.clock.Advance(time.Second)

	if d, _ := h.gate.Check(cmd("roll", "u1")); d != Block {
		t.Error("stamped user must be blocked")
	}
	if d, _ := h.gate.Check(cmd("roll", "u2")); d != Pass {
		t.Error("other users must pass a per-user cooldown")
	}
}

func TestBroadcasterAndBypassPass(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 60})
	h.gate.Stamp("join", "u1")

	bc := cmd("join", "streamer")
	bc.IsBroadcaster = true
	if d, _ := h.gate.Check(bc); d != Pass {
		t.Error("broadcaster must pass inside a window")
	}

	by := cmd("join", "u2")
	by.BypassCooldowns = true
	if d, _ := h.gate.Check(by); d != Pass {
		t.Error("bypass_cooldowns must pass inside a window")
	}
}

func TestBlockNotice(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 10})
	h.gate.Stamp("join", "u1")
	h.clock.Advance(1500 * time.Millisecond)

	h.gate.Check(cmd("join", "alice"))
	if len(h.sender.says) != 1 {
		t.Fatalf("says = %v, want one notice", h.sender.says)
	}
	// Remaining 8.5s rounds up to 9.
	want := "@alice: Command !join is on cooldown. (9s)"
	if h.sender.says[0] != want {
		t.Errorf("notice = %q, want %q", h.sender.says[0], want)
	}
}

func TestNotificationOverrides(t *testing.T) {
	cases := []struct {
		name       string
		global     *bool
		override   Override
		wantNotice bool
	}{
		{"inherit with default on", nil, NotifyInherit, true},
		{"inherit with global off", boolPtr(false), NotifyInherit, false},
		{"on overrides global off", boolPtr(false), NotifyOn, true},
		{"off overrides default on", nil, NotifyOff, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.global != nil {
				h.gate.SetNotifications(*tc.global)
			}
			h.gate.SetPolicy("join", Policy{GlobalSeconds: 10, Notify: tc.override})
			h.gate.Stamp("join", "u1")
			h.gate.Check(cmd("join", "u2"))
			if got := len(h.sender.says) > 0; got != tc.wantNotice {
				t.Errorf("notice sent = %t, want %t", got, tc.wantNotice)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestQueueArmsRedelivery(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 5, Queue: true})
	h.gate.Stamp("join", "u1")
	h.clock.Advance(2 * time.Second)

	d, wait := h.gate.Check(cmd("join", "u2"))
	if d != Queue {
		t.Fatalf("decision = %s, want queue", d)
	}
	if wait != 3*time.Second {
		t.Errorf("wait = %s, want 3s", wait)
	}
	if len(h.armed) != 1 || h.armed[0].wait != wait {
		t.Fatalf("armed = %+v, want one timer at %s", h.armed, wait)
	}
	if len(h.sender.says) != 0 {
		t.Errorf("queue must not send a notice, got %v", h.sender.says)
	}

	// Firing the timer re-enqueues a copy that skips the gate.
	h.armed[0].fn()
	if len(h.enqueued) != 1 {
		t.Fatalf("enqueued = %d events, want 1", len(h.enqueued))
	}
	re := h.enqueued[0]
	if !re.BypassCooldowns {
		t.Error("re-delivered event must carry bypass_cooldowns")
	}
	if d, _ := h.gate.Check(re); d != Pass {
		t.Error("re-delivered event must never be re-gated")
	}
}

func TestQueuePreStampsSerializesBurst(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 5, Queue: true})
	h.gate.Stamp("join", "u1")

	_, wait1 := h.gate.Check(cmd("join", "u2"))
	_, wait2 := h.gate.Check(cmd("join", "u3"))
	if wait2 <= wait1 {
		t.Errorf("burst waits = %s then %s; pre-stamp must push the second fire later", wait1, wait2)
	}
}

func TestWaitElapsedPasses(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 5, Queue: true})
	h.gate.Stamp("join", "u1")
	h.clock.Advance(5 * time.Second)

	if d, _ := h.gate.Check(cmd("join", "u2")); d != Pass {
		t.Error("exactly-elapsed window must pass, not arm a zero timer")
	}
	if len(h.armed) != 0 {
		t.Error("no timer may be armed for a non-positive wait")
	}
}

func TestDefaultCooldown(t *testing.T) {
	h := newHarness(t)
	h.gate.SetDefault(10)
	h.gate.Stamp("anything", "u1")
	if d, _ := h.gate.Check(cmd("anything", "u2")); d != Block {
		t.Error("default cooldown must cover unmanaged commands")
	}

	// An explicit zero policy opts the command out of the default.
	h.gate.SetPolicy("free", Policy{})
	h.gate.Stamp("free", "u1")
	if d, _ := h.gate.Check(cmd("free", "u2")); d != Pass {
		t.Error("explicit zero policy must override the default")
	}
}

func TestDeletePolicyClearsRuntime(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 60})
	h.gate.Stamp("join", "u1")
	if !h.gate.DeletePolicy("join") {
		t.Fatal("DeletePolicy returned false")
	}
	if global, _ := h.gate.LastFire("join", "u1"); !global.IsZero() {
		t.Error("runtime clocks must be dropped with the policy")
	}
	if d, _ := h.gate.Check(cmd("join", "u2")); d != Pass {
		t.Error("deleted policy must stop limiting")
	}
}

func TestSweepDropsExpiredRuntimes(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 5, UserSeconds: 5})
	h.gate.Stamp("join", "u1")
	h.gate.Stamp("other", "u2") // no policy, zero default

	h.clock.Advance(6 * time.Second)
	h.gate.Sweep()

	if global, user := h.gate.LastFire("join", "u1"); !global.IsZero() || !user.IsZero() {
		t.Error("expired runtime must be swept")
	}
	if global, _ := h.gate.LastFire("other", "u2"); !global.IsZero() {
		t.Error("unmanaged runtime must be swept")
	}
}

func TestSweepKeepsLiveRuntimes(t *testing.T) {
	h := newHarness(t)
	h.gate.SetPolicy("join", Policy{GlobalSeconds: 60})
	h.gate.Stamp("join", "u1")
	h.clock.Advance(time.Second)
	h.gate.Sweep()
	if d, _ := h.gate.Check(cmd("join", "u2")); d != Block {
		t.Error("sweep must not drop a live window")
	}
}

func TestParseOverride(t *testing.T) {
	for _, s := range []string{"on", "off", "inherit", "", " ON "} {
		if _, ok := ParseOverride(s); !ok {
			t.Errorf("ParseOverride(%q) rejected", s)
		}
	}
	if _, ok := ParseOverride("maybe"); ok {
		t.Error("ParseOverride must reject unknown values")
	}
}

func TestDecisionString(t *testing.T) {
	for d, want := range map[Decision]string{Pass: "pass", Block: "block", Queue: "queue"} {
		if got := fmt.Sprint(d); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", d, got, want)
		}
	}
}
