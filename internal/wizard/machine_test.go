package wizard

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/telegramtest"
)

type pairDraft struct {
	A *int
	B *int
}

func (d *pairDraft) Kind() string { return "pair" }

func (d *pairDraft) Clone() state.Draft {
	out := &pairDraft{}
	if d.A != nil {
		v := *d.A
		out.A = &v
	}
	if d.B != nil {
		v := *d.B
		out.B = &v
	}
	return out
}

type otherDraft struct{}

func (otherDraft) Kind() string { return "other" }

func (o otherDraft) Clone() state.Draft { return o }

const (
	stA state.State = "awaiting_a"
	stB state.State = "awaiting_b"
)

func newPairMachine(t *testing.T) (*Machine, *state.MemoryStore, *telegramtest.Transport, *[]pairDraft) {
	t.Helper()
	store := state.NewMemoryStore(0)
	tr := telegramtest.New()
	m := New(store, tr)
	var committed []pairDraft

	m.Add(stA, Step{Handle: func(ctx context.Context, turn *Turn) error {
		d, err := DraftAs[*pairDraft](turn.Session)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(turn.Event.Text)
		if err != nil {
			turn.Retry("number please")
			return nil
		}
		d.A = &n
		turn.Say("now b")
		turn.Goto(stB)
		return nil
	}})
	m.Add(stB, Step{
		Require: func(d state.Draft) error {
			if pd, ok := d.(*pairDraft); !ok || pd.A == nil {
				return errors.New("a missing")
			}
			return nil
		},
		Handle: func(ctx context.Context, turn *Turn) error {
			d, err := DraftAs[*pairDraft](turn.Session)
			if err != nil {
				return err
			}
			if turn.Event.Command == "/boom" {
				return errors.New("storage exploded")
			}
			n, err := strconv.Atoi(turn.Event.Text)
			if err != nil || n < *d.A {
				// Poison the clone to prove it is discarded.
				d.A = nil
				turn.Retry("b must be >= a")
				return nil
			}
			d.B = &n
			committed = append(committed, *d)
			turn.Say("done")
			turn.Done()
			return nil
		},
	})
	m.Own("/done")
	return m, store, tr, &committed
}

func text(user int64, s string) event.Event {
	return event.Event{UserID: user, ChatID: user, Text: s}
}

func TestMachineHappyPath(t *testing.T) {
	m, store, tr, committed := newPairMachine(t)
	ctx := context.Background()
	if err := m.Start(ctx, 1, 1, stA, &pairDraft{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, in := range []string{"3", "5"} {
		if err := m.Handle(ctx, text(1, in)); err != nil {
			t.Fatalf("handle %q: %v", in, err)
		}
	}
	if len(*committed) != 1 || *(*committed)[0].A != 3 || *(*committed)[0].B != 5 {
		t.Fatalf("committed = %+v", *committed)
	}
	if s, _ := store.Get(ctx, 1); s != nil {
		t.Fatalf("session should be cleared after Done")
	}
	if tr.LastText(1) != "done" {
		t.Fatalf("last reply = %q", tr.LastText(1))
	}
}

func TestMachineRetryKeepsStateAndDraft(t *testing.T) {
	m, store, tr, _ := newPairMachine(t)
	ctx := context.Background()
	_ = m.Start(ctx, 1, 1, stA, &pairDraft{})
	_ = m.Handle(ctx, text(1, "x"))
	s, _ := store.Get(ctx, 1)
	if s == nil || s.State != stA || s.Draft.(*pairDraft).A != nil {
		t.Fatalf("after bad input session = %+v", s)
	}

	_ = m.Handle(ctx, text(1, "10"))
	_ = m.Handle(ctx, text(1, "4"))
	s, _ = store.Get(ctx, 1)
	if s.State != stB {
		t.Fatalf("state = %q, want %q", s.State, stB)
	}
	if d := s.Draft.(*pairDraft); d.A == nil || *d.A != 10 || d.B != nil {
		t.Fatalf("draft after rejected b = %+v", d)
	}
	if tr.LastText(1) != "b must be >= a" {
		t.Fatalf("reply = %q", tr.LastText(1))
	}
}

func TestMachineFailsClosedOnMissingPrerequisite(t *testing.T) {
	m, store, tr, _ := newPairMachine(t)
	ctx := context.Background()
	_ = m.Start(ctx, 1, 1, stB, &pairDraft{})
	err := m.Handle(ctx, text(1, "5"))
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v, want ErrInconsistent", err)
	}
	if s, _ := store.Get(ctx, 1); s != nil {
		t.Fatalf("session should be cleared")
	}
	if tr.LastText(1) != InconsistentText {
		t.Fatalf("reply = %q", tr.LastText(1))
	}
}

func TestMachineFailsClosedOnWrongDraft(t *testing.T) {
	m, store, tr, _ := newPairMachine(t)
	ctx := context.Background()
	_ = m.Start(ctx, 1, 1, stA, otherDraft{})
	if err := m.Handle(ctx, text(1, "5")); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v", err)
	}
	if s, _ := store.Get(ctx, 1); s != nil || tr.LastText(1) != InconsistentText {
		t.Fatalf("expected cleared session and restart notice")
	}
}

func TestMachineUnknownStateFailsClosed(t *testing.T) {
	m, store, tr, _ := newPairMachine(t)
	ctx := context.Background()
	_ = store.Set(ctx, 1, &state.Session{State: "retired_state", Draft: &pairDraft{}})
	if err := m.Handle(ctx, text(1, "x")); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v", err)
	}
	if tr.LastText(1) != InconsistentText {
		t.Fatalf("reply = %q", tr.LastText(1))
	}
}

func TestMachineStepErrorApologises(t *testing.T) {
	m, store, tr, _ := newPairMachine(t)
	ctx := context.Background()
	one := 1
	_ = m.Start(ctx, 1, 1, stB, &pairDraft{A: &one})
	err := m.Handle(ctx, event.Event{UserID: 1, ChatID: 1, Text: "/boom", Command: "/boom"})
	if err == nil || errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v", err)
	}
	if s, _ := store.Get(ctx, 1); s != nil {
		t.Fatalf("session should be reset")
	}
	if tr.LastText(1) != ApologyText {
		t.Fatalf("reply = %q", tr.LastText(1))
	}
}

func TestMachineActiveCancelOwns(t *testing.T) {
	m, _, _, _ := newPairMachine(t)
	ctx := context.Background()
	if ok, _ := m.Active(ctx, 1); ok {
		t.Fatalf("no session yet")
	}
	_ = m.Start(ctx, 1, 1, stA, &pairDraft{})
	if ok, _ := m.Active(ctx, 1); !ok {
		t.Fatalf("session should be active")
	}
	if had, _ := m.Cancel(ctx, 1); !had {
		t.Fatalf("cancel should report an existing session")
	}
	if had, _ := m.Cancel(ctx, 1); had {
		t.Fatalf("second cancel should find nothing")
	}
	if !m.Owns("/done") || m.Owns("/start") {
		t.Fatalf("ownership mismatch")
	}
	if !m.Handles(stA) || m.Handles("nope") {
		t.Fatalf("Handles mismatch")
	}
}

func TestMachineDeleteInput(t *testing.T) {
	store := state.NewMemoryStore(0)
	tr := telegramtest.New()
	m := New(store, tr)
	m.Add("secret", Step{Handle: func(ctx context.Context, turn *Turn) error {
		turn.DeleteInput()
		turn.Done()
		return nil
	}})
	ctx := context.Background()
	_ = m.Start(ctx, 1, 1, "secret", nil)
	_ = m.Handle(ctx, event.Event{UserID: 1, ChatID: 1, MessageID: 77, Text: "token"})
	if dels := tr.Deletes(); len(dels) != 1 || dels[0].MessageID != 77 {
		t.Fatalf("deletes = %+v", dels)
	}
}
