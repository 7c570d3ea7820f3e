package maker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/format"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/internal/records"
)

const (
	dateLayout     = "2006-01-02 15:04:05"
	maxConfigShown = 3000
)

var errNoSuchBot = errors.New("maker: bot not found")

// missingChannel returns the first gate channel the user has not joined.
// Lookup failures count as not joined.
func (a *App) missingChannel(ctx context.Context, userID int64) (gateChannel, bool) {
	for _, ch := range a.gate {
		status, err := a.transport.MemberStatus(ctx, ch.Username, userID)
		if err != nil {
			logger.Warn(ctx, "maker", "gate.lookup",
				slog.String("channel", ch.Username),
				logger.Err(err),
			)
			return ch, true
		}
		if !chat.IsMember(status) {
			return ch, true
		}
	}
	return gateChannel{}, false
}

func joinKeyboard(ch gateChannel) keyboard.Inline {
	return keyboard.Rows(
		keyboard.Link("➡️ Join Channel", ch.Link),
		keyboard.Callback("✅ Continue", KeyCheckSubscription),
	)
}

func (a *App) start(ctx context.Context, ev event.Event) error {
	if _, created, err := records.Touch(ctx, a.records, ev.UserID, ev.Username, ev.FirstName, a.now); err != nil {
		return fmt.Errorf("register user: %w", err)
	} else if created {
		logger.Info(ctx, "maker", "user.registered", slog.Int64("user_id", ev.UserID))
	}

	if ch, missing := a.missingChannel(ctx, ev.UserID); missing {
		first := ev.FirstName
		if first == "" {
			first = "User"
		}
		user := ev.Username
		if user == "" {
			user = "User"
		}
		text := fmt.Sprintf("👋 Hello %s (@%s)!\n\nPlease join our main channel %s for updates and announcements before continuing using the bot.",
			format.Escape(first), format.Escape(user), format.Link(ch.Link, ch.Username))
		return a.show(ctx, ev, text, joinKeyboard(ch))
	}
	text := fmt.Sprintf("✅ Welcome back to BotMaker, @%s!\n\n"+
		"I can help you create and manage your Telegram bots without coding.\n\n"+
		"Please select an option from the menu below:", format.Escape(displayName(ev)))
	return a.show(ctx, ev, text, MainMenu())
}

func (a *App) checkSubscription(ctx context.Context, ev event.Event) error {
	if ch, missing := a.missingChannel(ctx, ev.UserID); missing {
		a.answer(ctx, ev, fmt.Sprintf("⚠️ Please join the channel %s first!", ch.Username), true)
		return nil
	}
	a.answer(ctx, ev, "", false)
	if _, _, err := records.Touch(ctx, a.records, ev.UserID, ev.Username, ev.FirstName, a.now); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	text := fmt.Sprintf("✅ Welcome to BotMaker, @%s!\n\n"+
		"Thank you for joining the channel.\n\n"+
		"I can help you create and manage your Telegram bots without coding.\n\n"+
		"Please select an option from the menu below:", format.Escape(displayName(ev)))
	return a.show(ctx, ev, text, MainMenu())
}

func (a *App) createBot(ctx context.Context, ev event.Event) error {
	capped, err := a.flow.CapReached(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if capped {
		return a.show(ctx, ev, a.flow.CapText(), MainMenu())
	}
	return a.show(ctx, ev, "Please select a bot template to start:", a.flow.TemplateMenu())
}

func (a *App) backToMain(ctx context.Context, ev event.Event) error {
	if _, err := a.machine.Cancel(ctx, ev.UserID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	text := fmt.Sprintf("🤖 Welcome back to BotMaker, @%s!\n\nPlease select an option from the menu below:",
		format.Escape(displayName(ev)))
	return a.show(ctx, ev, text, MainMenu())
}

func (a *App) cancel(ctx context.Context, ev event.Event) error {
	cancelled, err := a.machine.Cancel(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if !cancelled {
		return a.show(ctx, ev, "There is nothing to cancel.", MainMenu())
	}
	return a.show(ctx, ev, "❌ Operation cancelled.", MainMenu())
}

// userBots loads the caller's bots; an unknown user has none.
func (a *App) userBots(ctx context.Context, userID int64) (*records.UserRecord, error) {
	u, err := a.loadUser(ctx, userID)
	if errors.Is(err, records.ErrNotFound) {
		return &records.UserRecord{ID: userID}, nil
	}
	return u, err
}

func (a *App) myBots(ctx context.Context, ev event.Event) error {
	u, err := a.userBots(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if len(u.Bots) == 0 {
		return a.show(ctx, ev, "You haven't created any bots with me yet.\n\nWould you like to create one now?",
			keyboard.Rows(keyboard.Callback("🤖 Create a bot", KeyCreateBot), backToMain()))
	}
	buttons := make([]keyboard.Button, 0, len(u.Bots)+1)
	for _, b := range u.Bots {
		label := fmt.Sprintf("%s (%s) - %s", b.BotName, b.BotUsername, b.Status)
		buttons = append(buttons, keyboard.Callback(label, KeyBotInfo, b.BotUsername))
	}
	buttons = append(buttons, backToMain())
	return a.show(ctx, ev, fmt.Sprintf("Here are the bots you've created (Total: %d):", len(u.Bots)), keyboard.Rows(buttons...))
}

func (a *App) botInfo(ctx context.Context, ev event.Event) error {
	u, err := a.userBots(ctx, ev.UserID)
	if err != nil {
		return err
	}
	i := u.BotIndex(ev.CallbackArg)
	if ev.CallbackArg == "" || i < 0 {
		return a.show(ctx, ev, "Error: Could not find details for this bot.\n\n"+
			"It might have been deleted or there was an issue retrieving its data.", MainMenu())
	}
	b := u.Bots[i]
	config := b.ConfigDetails
	if config == "" {
		config = "Configuration not available."
	}
	text := fmt.Sprintf("🤖 <b>Bot Details</b>\n\n"+
		"<b>Name:</b> %s\n<b>Username:</b> %s\n<b>Status:</b> %s\n<b>Requested:</b> %s\n\n<b>Configuration:</b>\n%s",
		format.Escape(b.BotName), format.Escape(b.BotUsername), format.Escape(string(b.Status)),
		b.CreationRequestDate.Format(dateLayout), format.Pre("yaml", format.Truncate(config, maxConfigShown, "...")))
	kb := keyboard.Rows(
		keyboard.Callback("🛠️ Edit Bot (Recreates)", KeyEditWarn, b.BotUsername),
		keyboard.Callback("🗑️ Delete Bot", KeyDeleteWarn, b.BotUsername),
		keyboard.Callback("🔙 Back to My Bots", KeyMyBots),
	)
	return a.show(ctx, ev, text, kb)
}

func (a *App) editWarn(ctx context.Context, ev event.Event) error {
	name := ev.CallbackArg
	text := fmt.Sprintf("<b>WARNING!</b> Editing bot <b>%s</b> means its current settings and record will be <b>deleted</b> from My Bots.\n\n"+
		"You will then be guided to create it again from scratch (you'll need its API token, etc.). This action cannot be undone.\n\n"+
		"Are you sure you want to proceed?", format.Escape(name))
	return a.show(ctx, ev, text, keyboard.Inline{{
		keyboard.Callback("⚠️ Yes, Delete & Recreate", KeyEditConfirm, name),
		keyboard.Callback("❌ Cancel", KeyBotInfo, name),
	}})
}

// removeBot deletes the caller's bot named in the callback.
func (a *App) removeBot(ctx context.Context, ev event.Event) error {
	if ev.CallbackArg == "" {
		return errNoSuchBot
	}
	_, err := a.records.Update(ctx, ev.UserID, func(u *records.UserRecord, found bool) error {
		if !found || !u.RemoveBot(ev.CallbackArg) {
			return errNoSuchBot
		}
		return nil
	})
	if err == nil {
		logger.Info(ctx, "maker", "bot.deleted",
			slog.Int64("user_id", ev.UserID),
			slog.String("bot", ev.CallbackArg),
		)
	}
	return err
}

func (a *App) editConfirm(ctx context.Context, ev event.Event) error {
	err := a.removeBot(ctx, ev)
	if errors.Is(err, errNoSuchBot) {
		a.answer(ctx, ev, "Error: Could not remove the bot for editing. It might have already been deleted.", true)
		return a.show(ctx, ev, "Could not find the bot to edit. Please check 'My Bots' again.", MainMenu())
	}
	if err != nil {
		return fmt.Errorf("delete bot for edit: %w", err)
	}
	a.answer(ctx, ev, "Bot deleted. Starting recreation...", false)
	text := fmt.Sprintf("Bot %s has been removed.\n\nLet's set up the new configuration. Please select a bot template to start:",
		format.Escape(ev.CallbackArg))
	return a.show(ctx, ev, text, a.flow.TemplateMenu())
}

func (a *App) deleteWarn(ctx context.Context, ev event.Event) error {
	name := ev.CallbackArg
	text := fmt.Sprintf("⚠️ <b>Are you sure you want to delete the bot %s?</b>\n\n"+
		"This action cannot be undone and will remove its record from 'My Bots'.", format.Escape(name))
	return a.show(ctx, ev, text, keyboard.Inline{{
		keyboard.Callback("✅ Yes, Delete", KeyDeleteConfirm, name),
		keyboard.Callback("❌ No, Cancel", KeyBotInfo, name),
	}})
}

func (a *App) deleteConfirm(ctx context.Context, ev event.Event) error {
	back := keyboard.Rows(keyboard.Callback("🔙 Back to My Bots", KeyMyBots))
	name := format.Escape(ev.CallbackArg)
	err := a.removeBot(ctx, ev)
	if errors.Is(err, errNoSuchBot) {
		return a.show(ctx, ev, fmt.Sprintf("❌ Could not delete bot %s.\n\nIt might have already been removed.", name), back)
	}
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return a.show(ctx, ev, fmt.Sprintf("🗑️ Bot %s has been successfully deleted.", name), back)
}

func (a *App) myAccount(ctx context.Context, ev event.Event) error {
	u, err := a.userBots(ctx, ev.UserID)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("👤 <b>Account Information</b>\n\n")
	fmt.Fprintf(&b, "<b>User ID:</b> <code>%d</code>\n", ev.UserID)
	if u.Username != "" && u.Username != records.UnknownName {
		fmt.Fprintf(&b, "<b>Username:</b> %s\n", format.Escape(format.Handle(u.Username)))
	} else {
		b.WriteString("<b>Username:</b> Not Set\n")
	}
	registered := "Unknown"
	if !u.RegistrationDate.IsZero() {
		registered = u.RegistrationDate.Format(dateLayout)
	}
	fmt.Fprintf(&b, "<b>Registration Date:</b> %s\n", registered)
	fmt.Fprintf(&b, "<b>Bots Created:</b> %d / %d\n\n", u.LiveBots(), a.maxBots)
	if a.support != "" {
		fmt.Fprintf(&b, "For support, contact %s\n", format.Escape(format.Handle(a.support)))
	}
	if a.mainLink != "" {
		fmt.Fprintf(&b, "Updates Channel: %s", format.Link(a.mainLink, a.mainName))
	}
	return a.show(ctx, ev, strings.TrimRight(b.String(), "\n"), keyboard.Rows(backToMain()))
}
