package wizard

import (
	"fmt"

	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/core/telegram/state"
)

type outcome int

const (
	outcomeStay outcome = iota
	outcomeRetry
	outcomeDone
)

func (o outcome) String() string {
	switch o {
	case outcomeRetry:
		return "retry"
	case outcomeDone:
		return "done"
	}
	return "advance"
}

type callbackAnswer struct {
	text  string
	alert bool
}

// Turn is one step invocation. Session is a private clone the step may
// mutate freely; the machine decides whether it is kept.
type Turn struct {
	Event   event.Event
	Session *state.Session

	next        state.State
	outcome     outcome
	replies     []chat.Message
	answer      *callbackAnswer
	deleteInput bool
}

// Reply queues a message to the user, sent after the session is committed.
func (t *Turn) Reply(msg chat.Message) {
	t.replies = append(t.replies, msg)
}

// Say queues an HTML text reply.
func (t *Turn) Say(text string, kb ...keyboard.Inline) {
	t.Reply(chat.Text(text, kb...))
}

// Answer sets the callback answer shown to the user.
func (t *Turn) Answer(text string, alert bool) {
	t.answer = &callbackAnswer{text: text, alert: alert}
}

// Goto advances the session to st.
func (t *Turn) Goto(st state.State) {
	t.next = st
	t.outcome = outcomeStay
}

// Retry rejects the input: draft changes are dropped and the state is kept.
func (t *Turn) Retry(text string, kb ...keyboard.Inline) {
	t.outcome = outcomeRetry
	if text != "" {
		t.Say(text, kb...)
	}
}

// Done ends the conversation and clears the session.
func (t *Turn) Done() {
	t.outcome = outcomeDone
}

// DeleteInput removes the user's message once the turn completes.
func (t *Turn) DeleteInput() {
	t.deleteInput = true
}

// State returns the state the turn started in.
func (t *Turn) State() state.State {
	return t.Session.State
}

// DraftAs returns the session draft as T, or ErrInconsistent.
func DraftAs[T state.Draft](s *state.Session) (T, error) {
	var zero T
	if s == nil || s.Draft == nil {
		return zero, fmt.Errorf("%w: missing draft", ErrInconsistent)
	}
	d, ok := s.Draft.(T)
	if !ok {
		return zero, fmt.Errorf("%w: draft is %s", ErrInconsistent, s.Draft.Kind())
	}
	return d, nil
}
