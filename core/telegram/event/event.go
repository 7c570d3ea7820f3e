// Package event flattens telebot updates into a transport-neutral value
// that routers and flows can consume without touching tele.Context.
package event

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Event is one inbound interaction.
type Event struct {
	UpdateID  int
	UserID    int64
	ChatID    int64
	MessageID int
	Username  string
	FirstName string

	// Text is the raw message text or media caption.
	Text string
	// Command is the lowercased "/name" without any @bot suffix.
	Command string
	// Payload is whatever follows the command.
	Payload string

	CallbackID  string
	CallbackKey string
	CallbackArg string

	PhotoID string
	VideoID string
}

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

// IsCommand reports whether the event is a slash command.
func (e Event) IsCommand() bool { return e.Command != "" }

// IsCallback reports whether the event came from an inline button.
func (e Event) IsCallback() bool { return e.CallbackID != "" }

// HasMedia reports whether the message carries a photo or video.
func (e Event) HasMedia() bool { return e.PhotoID != "" || e.VideoID != "" }

// SplitCommand splits text like "/start@my_bot 42" into "/start" and "42".
// Non-command text yields empty strings.
func SplitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(head, '@'); at > 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// FromContext converts a telebot context into an Event.
func FromContext(c tele.Context) Event {
	ev := Event{UpdateID: c.Update().ID}
	if u := c.Sender(); u != nil {
		ev.UserID = u.ID
		ev.Username = u.Username
		ev.FirstName = u.FirstName
	}
	if ch := c.Chat(); ch != nil {
		ev.ChatID = ch.ID
	}

	if cb := c.Callback(); cb != nil {
		ev.CallbackID = cb.ID
		ev.CallbackKey, ev.CallbackArg = ParseCallbackData(cb)
		if cb.Message != nil {
			ev.MessageID = cb.Message.ID
		}
		return ev
	}

	msg := c.Message()
	if msg == nil {
		return ev
	}
	ev.MessageID = msg.ID
	ev.Text = msg.Text
	switch {
	case msg.Photo != nil:
		ev.PhotoID = msg.Photo.FileID
		ev.Text = msg.Caption
	case msg.Video != nil:
		ev.VideoID = msg.Video.FileID
		ev.Text = msg.Caption
	}
	if msg.Photo == nil && msg.Video == nil {
		ev.Command, ev.Payload = SplitCommand(msg.Text)
	}
	return ev
}
