package store

import (
	"context"
	"testing"
	"time"

	"github.com/patchbay-tv/chatbot/testutil"
)

type payload struct {
	Greeting string         `json:"greeting"`
	Counts   map[string]int `json:"counts,omitempty"`
}

func TestPutGetRoundtrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s, err := New(db, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	var missing payload
	found, err := s.GetInto(ctx, "store_test_missing", &missing)
	if err != nil {
		t.Fatalf("GetInto missing: %v", err)
	}
	if found {
		t.Error("missing module data must report found=false")
	}

	in := payload{Greeting: "hi", Counts: map[string]int{"a": 1}}
	if err := s.Put(ctx, "store_test_blob", &in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var out payload
	found, err = s.GetInto(ctx, "store_test_blob", &out)
	if err != nil || !found {
		t.Fatalf("GetInto: found=%t err=%v", found, err)
	}
	if out.Greeting != "hi" || out.Counts["a"] != 1 {
		t.Errorf("roundtrip mismatch: %+v", out)
	}

	// Upsert replaces.
	in.Greeting = "bye"
	if err := s.Put(ctx, "store_test_blob", &in); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	if _, err := s.GetInto(ctx, "store_test_blob", &out); err != nil {
		t.Fatal(err)
	}
	if out.Greeting != "bye" {
		t.Errorf("update not applied: %+v", out)
	}
}

func TestPutAsyncFlushes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s, err := New(db, 2)
	if err != nil {
		t.Fatal(err)
	}
	s.PutAsync("store_test_async", &payload{Greeting: "async"})
	s.Close() // drains the pool

	s2, err := New(db, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	var out payload
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	found, err := s2.GetInto(ctx, "store_test_async", &out)
	if err != nil || !found || out.Greeting != "async" {
		t.Errorf("async flush not visible: found=%t err=%v out=%+v", found, err, out)
	}
}

func TestCounters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s, err := New(db, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.SetCounter(ctx, "store_test_counter", 0); err != nil {
		t.Fatalf("SetCounter: %v", err)
	}
	v, err := s.IncrCounter(ctx, "store_test_counter", 2)
	if err != nil || v != 2 {
		t.Fatalf("IncrCounter = (%d, %v), want 2", v, err)
	}
	v, err = s.IncrCounter(ctx, "store_test_counter", 3)
	if err != nil || v != 5 {
		t.Fatalf("IncrCounter = (%d, %v), want 5", v, err)
	}
	v, err = s.GetCounter(ctx, "store_test_counter")
	if err != nil || v != 5 {
		t.Fatalf("GetCounter = (%d, %v), want 5", v, err)
	}
	if v, err := s.GetCounter(ctx, "store_test_counter_unset"); err != nil || v != 0 {
		t.Errorf("unset counter = (%d, %v), want 0", v, err)
	}
}
