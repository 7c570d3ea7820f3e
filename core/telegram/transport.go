package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/middleware"
	tgsender "github.com/m3rciful/botmaker/core/telegram/sender"
)

// channelRecipient addresses a public chat by "@username".
type channelRecipient string

func (r channelRecipient) Recipient() string { return string(r) }

// BotTransport implements chat.Transport over a telebot bot.
type BotTransport struct {
	bot        *tele.Bot
	dispatcher *tgsender.Dispatcher
}

var _ chat.Transport = (*BotTransport)(nil)

// NewBotTransport wraps bot. A nil dispatcher makes Notify synchronous.
func NewBotTransport(bot *tele.Bot, dispatcher *tgsender.Dispatcher) *BotTransport {
	return &BotTransport{bot: bot, dispatcher: dispatcher}
}

func sendOptions(msg chat.Message) []any {
	opts := &tele.SendOptions{}
	if msg.ParseMode != "" {
		opts.ParseMode = tele.ParseMode(msg.ParseMode)
	}
	if markup := msg.Keyboard.Markup(); markup != nil {
		opts.ReplyMarkup = markup
	}
	out := []any{opts}
	if msg.DisablePreview {
		out = append(out, tele.NoPreview)
	}
	return out
}

func payload(msg chat.Message) any {
	switch {
	case msg.PhotoID != "":
		return &tele.Photo{File: tele.File{FileID: msg.PhotoID}, Caption: msg.Text}
	case msg.VideoID != "":
		return &tele.Video{File: tele.File{FileID: msg.VideoID}, Caption: msg.Text}
	}
	return msg.Text
}

func (t *BotTransport) deliver(ctx context.Context, to tele.Recipient, msg chat.Message) (chat.Ref, error) {
	if err := ctx.Err(); err != nil {
		return chat.Ref{}, err
	}
	sent, err := t.bot.Send(to, payload(msg), sendOptions(msg)...)
	if err != nil {
		return chat.Ref{}, err
	}
	middleware.CountMessage(ctx, len(msg.Keyboard) > 0)
	ref := chat.Ref{MessageID: sent.ID}
	if sent.Chat != nil {
		ref.ChatID = sent.Chat.ID
	}
	return ref, nil
}

// Send delivers msg to a private chat.
func (t *BotTransport) Send(ctx context.Context, chatID int64, msg chat.Message) (chat.Ref, error) {
	ref, err := t.deliver(ctx, tele.ChatID(chatID), msg)
	if err != nil {
		return ref, fmt.Errorf("send to %d: %w", chatID, err)
	}
	if ref.ChatID == 0 {
		ref.ChatID = chatID
	}
	return ref, nil
}

// Post delivers msg to a channel addressed by "@username".
func (t *BotTransport) Post(ctx context.Context, channel string, msg chat.Message) (chat.Ref, error) {
	ref, err := t.deliver(ctx, channelRecipient(channel), msg)
	if err != nil {
		return ref, fmt.Errorf("post to %s: %w", channel, err)
	}
	return ref, nil
}

func stored(ref chat.Ref) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}

// Edit replaces the text and keyboard of a sent message.
func (t *BotTransport) Edit(ctx context.Context, ref chat.Ref, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Edit(stored(ref), msg.Text, sendOptions(msg)...); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit message %d: %w", ref.MessageID, err)
	}
	middleware.CountMessage(ctx, len(msg.Keyboard) > 0)
	return nil
}

// Delete removes a message.
func (t *BotTransport) Delete(ctx context.Context, ref chat.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.bot.Delete(stored(ref)); err != nil {
		return fmt.Errorf("delete message %d: %w", ref.MessageID, err)
	}
	return nil
}

// Answer acknowledges a callback query.
func (t *BotTransport) Answer(ctx context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	resp := &tele.CallbackResponse{Text: text, ShowAlert: alert}
	if err := t.bot.Respond(&tele.Callback{ID: callbackID}, resp); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	middleware.MarkAnswered(ctx)
	return nil
}

// MemberStatus returns the user's status in channel.
func (t *BotTransport) MemberStatus(ctx context.Context, channel string, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := t.bot.ChatMemberOf(channelRecipient(channel), tele.ChatID(userID))
	if err != nil {
		return "", fmt.Errorf("chat member %s/%d: %w", channel, userID, err)
	}
	return string(member.Role), nil
}

// ChatKind returns the type of the chat behind "@username".
func (t *BotTransport) ChatKind(ctx context.Context, channel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := t.bot.ChatByUsername(channel)
	if err != nil {
		return "", fmt.Errorf("resolve chat %s: %w", channel, err)
	}
	return string(c.Type), nil
}

// Notify queues msg on the dispatcher. When the queue refuses the job the
// message is sent inline instead.
func (t *BotTransport) Notify(ctx context.Context, chatID int64, msg chat.Message) error {
	run := func(ctx context.Context) error {
		_, err := t.Send(ctx, chatID, msg)
		return err
	}
	if t.dispatcher == nil {
		return run(ctx)
	}
	err := t.dispatcher.Enqueue(ctx, "notify", chatID, run)
	if errors.Is(err, tgsender.ErrQueueFull) || errors.Is(err, tgsender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.Int64("target", chatID),
			logger.Err(err),
		)
		return run(ctx)
	}
	return err
}
