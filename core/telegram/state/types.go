// Package state keeps per-user conversation sessions for multi-step flows.
// It knows nothing about the flows themselves: a session is a state tag plus
// an opaque Draft owned by whichever flow started it.
package state

import (
	"context"
	"errors"
	"time"
)

// State identifies a step of a conversation.
type State string

// StateIdle means no conversation is in progress.
const StateIdle State = "idle"

// Draft is the typed payload a flow accumulates across turns.
type Draft interface {
	// Kind names the variant so stores can encode it.
	Kind() string
	// Clone returns a deep copy.
	Clone() Draft
}

// Session is the stored conversation of one user.
type Session struct {
	State     State
	Draft     Draft
	UpdatedAt time.Time
}

// Clone returns a copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Draft != nil {
		out.Draft = s.Draft.Clone()
	}
	return &out
}

// Active reports whether the session is in a non-idle state.
func (s *Session) Active() bool {
	return s != nil && s.State != "" && s.State != StateIdle
}

// Store persists sessions by user. Get returns nil, nil when there is none.
// Implementations store and return copies.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Set(ctx context.Context, userID int64, s *Session) error
	Clear(ctx context.Context, userID int64) error
}

// ErrUnknownKind is returned when a stored draft kind has no registered decoder.
var ErrUnknownKind = errors.New("state: unknown draft kind")
