// Package chat declares the outbound surface that flows use to talk to
// Telegram. The production implementation lives in core/telegram; tests use
// an in-memory fake.
package chat

import (
	"context"

	"github.com/m3rciful/botmaker/core/telegram/keyboard"
)

// ParseHTML is the only parse mode the bots emit.
const ParseHTML = "HTML"

// Message is an outbound message. PhotoID or VideoID turn Text into a caption.
type Message struct {
	Text           string
	Keyboard       keyboard.Inline
	ParseMode      string
	PhotoID        string
	VideoID        string
	DisablePreview bool
}

// Text builds an HTML text message.
func Text(text string, kb ...keyboard.Inline) Message {
	m := Message{Text: text, ParseMode: ParseHTML}
	if len(kb) > 0 {
		m.Keyboard = kb[0]
	}
	return m
}

// Ref identifies a sent message.
type Ref struct {
	ChatID    int64
	MessageID int
}

// Member statuses reported by MemberStatus.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// IsMember reports whether status counts as joined.
func IsMember(status string) bool {
	switch status {
	case StatusCreator, StatusAdministrator, StatusMember:
		return true
	}
	return false
}

// KindChannel is the ChatKind of a broadcast channel.
const KindChannel = "channel"

// Transport is what handlers need from the chat platform.
type Transport interface {
	Send(ctx context.Context, chatID int64, msg Message) (Ref, error)
	// Post sends to a channel addressed by "@username".
	Post(ctx context.Context, channel string, msg Message) (Ref, error)
	Edit(ctx context.Context, ref Ref, msg Message) error
	Delete(ctx context.Context, ref Ref) error
	// Answer acknowledges a callback query, optionally as an alert.
	Answer(ctx context.Context, callbackID, text string, alert bool) error
	MemberStatus(ctx context.Context, channel string, userID int64) (string, error)
	ChatKind(ctx context.Context, channel string) (string, error)
	// Notify queues a best-effort send and returns immediately.
	Notify(ctx context.Context, chatID int64, msg Message) error
}

// BotProfile is what getMe reports about a bot token.
type BotProfile struct {
	ID        int64
	Username  string
	FirstName string
}

// TokenValidator checks a bot token against the platform.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (BotProfile, error)
}

// Show replaces the message a button was pressed on. With no message to
// edit, or when the edit fails, msg is sent as a new message instead.
func Show(ctx context.Context, tr Transport, chatID int64, messageID int, msg Message) error {
	if messageID != 0 {
		if err := tr.Edit(ctx, Ref{ChatID: chatID, MessageID: messageID}, msg); err == nil {
			return nil
		}
	}
	_, err := tr.Send(ctx, chatID, msg)
	return err
}
