package state

import (
	"context"
	"testing"
	"time"
)

type noteDraft struct {
	Notes []string `json:"notes"`
}

func (d *noteDraft) Kind() string { return "note" }

func (d *noteDraft) Clone() Draft {
	out := *d
	out.Notes = append([]string(nil), d.Notes...)
	return &out
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	draft := &noteDraft{Notes: []string{"a"}}
	if err := store.Set(ctx, 1, &Session{State: "writing", Draft: draft}); err != nil {
		t.Fatalf("set: %v", err)
	}
	draft.Notes[0] = "mutated"

	got, err := store.Get(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.Draft.(*noteDraft).Notes[0] != "a" {
		t.Fatalf("store aliased caller draft")
	}
	got.Draft.(*noteDraft).Notes[0] = "changed"
	again, _ := store.Get(ctx, 1)
	if again.Draft.(*noteDraft).Notes[0] != "a" {
		t.Fatalf("store aliased returned draft")
	}
	if again.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt should be stamped")
	}
}

func TestMemoryStoreClearAndMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	if s, err := store.Get(ctx, 9); s != nil || err != nil {
		t.Fatalf("missing session = %v, %v", s, err)
	}
	_ = store.Set(ctx, 9, &Session{State: "x"})
	_ = store.Clear(ctx, 9)
	if s, _ := store.Get(ctx, 9); s != nil {
		t.Fatalf("session survived clear")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Set(ctx, 1, &Session{State: "a", UpdatedAt: base})
	_ = store.Set(ctx, 2, &Session{State: "b", UpdatedAt: base.Add(25 * time.Minute)})

	removed := store.Sweep(base.Add(31*time.Minute), 30*time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s, _ := store.Get(ctx, 1); s != nil {
		t.Fatalf("stale session still present")
	}
	if s, _ := store.Get(ctx, 2); s == nil {
		t.Fatalf("fresh session was swept")
	}
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	_ = store.Set(ctx, 3, &Session{State: "a"})

	now = now.Add(2 * time.Minute)
	if s, _ := store.Get(ctx, 3); s != nil {
		t.Fatalf("expired session returned")
	}
	if store.Len() != 0 {
		t.Fatalf("expired session not removed")
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(0)
	_ = store.Set(context.Background(), 1, &Session{State: "a", UpdatedAt: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, store, 5*time.Millisecond, time.Minute)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("sweeper never removed the stale session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestSessionHelpers(t *testing.T) {
	var nilSession *Session
	if nilSession.Active() || nilSession.Clone() != nil {
		t.Fatalf("nil session helpers misbehave")
	}
	if (&Session{State: StateIdle}).Active() {
		t.Fatalf("idle session reported active")
	}
	if !(&Session{State: "awaiting_token"}).Active() {
		t.Fatalf("wizard session reported inactive")
	}
}
