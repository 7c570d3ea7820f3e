// Package wizard runs multi-step conversations over a session store.
//
// Each turn works on a clone of the user's session. The clone is committed
// only when the step advances or stays put; a rejected input leaves the
// stored state and draft exactly as they were.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/state"
)

// User-facing texts for aborted sessions.
const (
	InconsistentText = "❌ Error in process. Start over."
	ApologyText      = "⚠️ Something went wrong. Please start over with /start."
)

// ErrInconsistent marks a session whose draft cannot be in its state.
var ErrInconsistent = errors.New("wizard: inconsistent session")

// Step handles input in one state.
type Step struct {
	// Require checks that earlier steps filled the draft. Optional.
	Require func(d state.Draft) error
	Handle  func(ctx context.Context, t *Turn) error
}

// Machine dispatches turns to steps by session state.
type Machine struct {
	store state.Store
	tr    chat.Transport
	now   func() time.Time

	mu    sync.RWMutex
	steps map[state.State]Step
	owned map[string]struct{}
}

// New builds an empty machine.
func New(store state.Store, tr chat.Transport) *Machine {
	return &Machine{
		store: store,
		tr:    tr,
		now:   time.Now,
		steps: make(map[state.State]Step),
		owned: make(map[string]struct{}),
	}
}

// Add registers the step for st. Registering a state twice panics.
func (m *Machine) Add(st state.State, step Step) {
	if step.Handle == nil {
		panic(fmt.Sprintf("wizard: nil handler for state %q", st))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.steps[st]; dup {
		panic(fmt.Sprintf("wizard: state %q registered twice", st))
	}
	m.steps[st] = step
}

// Own claims commands or callback keys that only make sense inside a session.
func (m *Machine) Own(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.owned[k] = struct{}{}
	}
}

// Owns reports whether key was claimed with Own.
func (m *Machine) Owns(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owned[key]
	return ok
}

// Handles reports whether st has a registered step.
func (m *Machine) Handles(st state.State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.steps[st]
	return ok
}

// Active reports whether the user has a session in progress.
func (m *Machine) Active(ctx context.Context, userID int64) (bool, error) {
	s, err := m.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.Active(), nil
}

// Session returns the user's stored session, or nil.
func (m *Machine) Session(ctx context.Context, userID int64) (*state.Session, error) {
	return m.store.Get(ctx, userID)
}

// Start opens a session in st with draft, replacing any previous one, and
// sends the prompts.
func (m *Machine) Start(ctx context.Context, userID, chatID int64, st state.State, draft state.Draft, prompts ...chat.Message) error {
	s := &state.Session{State: st, Draft: draft, UpdatedAt: m.now()}
	if err := m.store.Set(ctx, userID, s); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logger.Wizard.DebugContext(ctx, "session started",
		slog.String("event", "wizard.start"),
		slog.String("state", string(st)),
		slog.String("kind", kindOf(draft)),
	)
	return m.send(ctx, chatID, prompts)
}

// Cancel clears the user's session and reports whether one existed.
func (m *Machine) Cancel(ctx context.Context, userID int64) (bool, error) {
	s, err := m.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !s.Active() {
		return false, nil
	}
	if err := m.store.Clear(ctx, userID); err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	return true, nil
}

// Handle runs one turn for ev.
func (m *Machine) Handle(ctx context.Context, ev event.Event) error {
	sess, err := m.store.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !sess.Active() {
		return nil
	}

	m.mu.RLock()
	step, ok := m.steps[sess.State]
	m.mu.RUnlock()
	if !ok {
		return m.abort(ctx, ev, sess, fmt.Errorf("%w: no step for state %q", ErrInconsistent, sess.State))
	}
	if step.Require != nil {
		if err := step.Require(sess.Draft); err != nil {
			return m.abort(ctx, ev, sess, fmt.Errorf("%w: %s: %v", ErrInconsistent, sess.State, err))
		}
	}

	t := &Turn{Event: ev, Session: sess.Clone(), next: sess.State}
	if err := step.Handle(ctx, t); err != nil {
		return m.abort(ctx, ev, sess, err)
	}

	switch t.outcome {
	case outcomeDone:
		err = m.store.Clear(ctx, ev.UserID)
	case outcomeRetry:
		kept := sess.Clone()
		kept.UpdatedAt = m.now()
		err = m.store.Set(ctx, ev.UserID, kept)
	default:
		t.Session.State = t.next
		t.Session.UpdatedAt = m.now()
		err = m.store.Set(ctx, ev.UserID, t.Session)
	}
	if err != nil {
		return m.abort(ctx, ev, sess, fmt.Errorf("commit session: %w", err))
	}

	logger.Wizard.DebugContext(ctx, "turn",
		slog.String("event", "wizard.turn"),
		slog.String("from", string(sess.State)),
		slog.String("to", string(t.next)),
		slog.String("outcome", t.outcome.String()),
	)

	if t.deleteInput && ev.MessageID != 0 {
		if err := m.tr.Delete(ctx, chat.Ref{ChatID: ev.ChatID, MessageID: ev.MessageID}); err != nil {
			logger.Wizard.WarnContext(ctx, "delete input failed",
				slog.String("event", "wizard.delete_input"),
				logger.Err(err),
			)
		}
	}
	if t.answer != nil && ev.IsCallback() {
		_ = m.tr.Answer(ctx, ev.CallbackID, t.answer.text, t.answer.alert)
	}
	return m.send(ctx, ev.ChatID, t.replies)
}

// abort clears the session after a failed turn and tells the user.
func (m *Machine) abort(ctx context.Context, ev event.Event, sess *state.Session, cause error) error {
	if err := m.store.Clear(ctx, ev.UserID); err != nil {
		logger.Wizard.ErrorContext(ctx, "clear after failure",
			slog.String("event", "wizard.abort"),
			logger.Err(err),
		)
	}
	text := ApologyText
	if errors.Is(cause, ErrInconsistent) {
		text = InconsistentText
	}
	logger.Wizard.WarnContext(ctx, "session aborted",
		slog.String("event", "wizard.abort"),
		slog.String("state", string(sess.State)),
		slog.String("kind", kindOf(sess.Draft)),
		logger.Err(cause),
	)
	if _, err := m.tr.Send(ctx, ev.ChatID, chat.Text(text)); err != nil {
		logger.Wizard.WarnContext(ctx, "abort notice failed", logger.Err(err))
	}
	return cause
}

func (m *Machine) send(ctx context.Context, chatID int64, msgs []chat.Message) error {
	for _, msg := range msgs {
		if _, err := m.tr.Send(ctx, chatID, msg); err != nil {
			return fmt.Errorf("wizard reply: %w", err)
		}
	}
	return nil
}

func kindOf(d state.Draft) string {
	if d == nil {
		return ""
	}
	return d.Kind()
}
