// Package telegramtest provides in-memory fakes of the chat surface.
package telegramtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/m3rciful/botmaker/core/telegram/chat"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID  int64
	Channel string
	Msg     chat.Message
	Ref     chat.Ref
	Notify  bool
}

// Answer is one recorded callback answer.
type Answer struct {
	CallbackID string
	Text       string
	Alert      bool
}

// Transport records every call and serves canned membership data.
type Transport struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	edits   []Sent
	deletes []chat.Ref
	answers []Answer

	// Members maps channel -> user -> status.
	Members map[string]map[int64]string
	// Kinds maps channel -> chat kind; missing channels fail to resolve.
	Kinds map[string]string
	// SendErr, when set, may fail sends to particular chats.
	SendErr func(chatID int64) error
}

var _ chat.Transport = (*Transport)(nil)

// New returns an empty fake.
func New() *Transport {
	return &Transport{
		Members: make(map[string]map[int64]string),
		Kinds:   make(map[string]string),
	}
}

func (t *Transport) record(s Sent) chat.Ref {
	t.nextID++
	s.Ref = chat.Ref{ChatID: s.ChatID, MessageID: t.nextID}
	t.sent = append(t.sent, s)
	return s.Ref
}

// Send records msg.
func (t *Transport) Send(_ context.Context, chatID int64, msg chat.Message) (chat.Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		if err := t.SendErr(chatID); err != nil {
			return chat.Ref{}, err
		}
	}
	return t.record(Sent{ChatID: chatID, Msg: msg}), nil
}

// Post records msg as sent to channel.
func (t *Transport) Post(_ context.Context, channel string, msg chat.Message) (chat.Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record(Sent{Channel: channel, Msg: msg}), nil
}

// Edit records an edit.
func (t *Transport) Edit(_ context.Context, ref chat.Ref, msg chat.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.edits = append(t.edits, Sent{ChatID: ref.ChatID, Msg: msg, Ref: ref})
	return nil
}

// Delete records a deletion.
func (t *Transport) Delete(_ context.Context, ref chat.Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes = append(t.deletes, ref)
	return nil
}

// Answer records a callback answer.
func (t *Transport) Answer(_ context.Context, callbackID, text string, alert bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers = append(t.answers, Answer{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

// MemberStatus serves Members; unknown users are "left".
func (t *Transport) MemberStatus(_ context.Context, channel string, userID int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.Members[channel]
	if !ok {
		return "", fmt.Errorf("chat member %s: chat not found", channel)
	}
	if st, ok := users[userID]; ok {
		return st, nil
	}
	return chat.StatusLeft, nil
}

// ChatKind serves Kinds.
func (t *Transport) ChatKind(_ context.Context, channel string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if k, ok := t.Kinds[channel]; ok {
		return k, nil
	}
	return "", errors.New("telegram: chat not found (400)")
}

// Notify records msg synchronously.
func (t *Transport) Notify(_ context.Context, chatID int64, msg chat.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Sent{ChatID: chatID, Msg: msg, Notify: true})
	return nil
}

// SetMember sets the status of user in channel.
func (t *Transport) SetMember(channel string, userID int64, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Members[channel] == nil {
		t.Members[channel] = make(map[int64]string)
	}
	t.Members[channel][userID] = status
}

// Sent returns a copy of every send, post and notify so far.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// SentTo returns messages sent or notified to chatID.
func (t *Transport) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range t.Sent() {
		if s.Channel == "" && s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the latest message sent to chatID.
func (t *Transport) Last(chatID int64) (chat.Message, bool) {
	msgs := t.SentTo(chatID)
	if len(msgs) == 0 {
		return chat.Message{}, false
	}
	return msgs[len(msgs)-1].Msg, true
}

// LastText returns the text of the latest message to chatID, or "".
func (t *Transport) LastText(chatID int64) string {
	m, _ := t.Last(chatID)
	return m.Text
}

// Contains reports whether any message to chatID contains substr.
func (t *Transport) Contains(chatID int64, substr string) bool {
	for _, s := range t.SentTo(chatID) {
		if strings.Contains(s.Msg.Text, substr) {
			return true
		}
	}
	return false
}

// Posts returns messages posted to channels.
func (t *Transport) Posts() []Sent {
	var out []Sent
	for _, s := range t.Sent() {
		if s.Channel != "" {
			out = append(out, s)
		}
	}
	return out
}

// Edits returns recorded edits.
func (t *Transport) Edits() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.edits...)
}

// Deletes returns recorded deletions.
func (t *Transport) Deletes() []chat.Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chat.Ref(nil), t.deletes...)
}

// Answers returns recorded callback answers.
func (t *Transport) Answers() []Answer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Answer(nil), t.answers...)
}

// LastAnswer returns the latest callback answer.
func (t *Transport) LastAnswer() (Answer, bool) {
	a := t.Answers()
	if len(a) == 0 {
		return Answer{}, false
	}
	return a[len(a)-1], true
}

// Reset forgets recorded traffic but keeps canned data.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent, t.edits, t.deletes, t.answers = nil, nil, nil, nil
}
