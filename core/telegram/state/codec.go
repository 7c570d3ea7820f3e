package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Codec encodes sessions with a kind discriminator so drafts of different
// flows can share one store.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]func() Draft
}

// NewCodec returns a codec with no registered kinds.
func NewCodec() *Codec {
	return &Codec{factories: make(map[string]func() Draft)}
}

// Register binds kind to a constructor returning a pointer the JSON decoder can fill.
func (c *Codec) Register(kind string, factory func() Draft) {
	c.mu.Lock()
	c.factories[kind] = factory
	c.mu.Unlock()
}

type envelope struct {
	State     State           `json:"state"`
	Kind      string          `json:"kind,omitempty"`
	Draft     json.RawMessage `json:"draft,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Encode serializes s.
func (c *Codec) Encode(s *Session) ([]byte, error) {
	env := envelope{State: s.State, UpdatedAt: s.UpdatedAt}
	if s.Draft != nil {
		raw, err := json.Marshal(s.Draft)
		if err != nil {
			return nil, fmt.Errorf("encode draft %s: %w", s.Draft.Kind(), err)
		}
		env.Kind = s.Draft.Kind()
		env.Draft = raw
	}
	return json.Marshal(env)
}

// Decode restores a session encoded by Encode.
func (c *Codec) Decode(data []byte) (*Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	s := &Session{State: env.State, UpdatedAt: env.UpdatedAt}
	if env.Kind == "" {
		return s, nil
	}

	c.mu.RLock()
	factory, ok := c.factories[env.Kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	d := factory()
	if err := json.Unmarshal(env.Draft, d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", env.Kind, err)
	}
	s.Draft = d
	return s, nil
}
