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
	"github.com/m3rciful/botmaker/internal/botcreate"
	"github.com/m3rciful/botmaker/internal/records"
)

// transition is one admin decision on a bot request.
type transition struct {
	to      records.BotStatus
	pending string
	// owner and admin build the texts for the requester and the admin.
	owner func(bot string) string
	admin func(bot string, ownerID int64) string
	// next, when set, gives the admin the follow-up buttons.
	next func(payload string) keyboard.Inline
}

var approve = transition{
	to:      records.BotApproved,
	pending: "Processing approval...",
	owner: func(bot string) string {
		return fmt.Sprintf("🎉 Good news!\n\nYour bot creation request for <b>%s</b> has been <b>approved</b>.\n\n"+
			"It is now being processed and should be ready within 1-12 hours. I will notify you when it's active.", bot)
	},
	admin: func(bot string, ownerID int64) string {
		return fmt.Sprintf("✅ Bot <b>%s</b> (User: %d) <b>approved</b>.\nUser notified. Use buttons when deployed or to cancel.", bot, ownerID)
	},
	next: func(payload string) keyboard.Inline {
		return keyboard.Rows(
			keyboard.Callback("✅ Mark as Active", botcreate.KeyDone, payload),
			keyboard.Callback("❌ Cancel Approval", botcreate.KeyCancel, payload),
		)
	},
}

var decline = transition{
	to:      records.BotDeclined,
	pending: "Processing decline...",
	owner: func(bot string) string {
		return fmt.Sprintf("❌ Regarding your bot request for <b>%s</b>:\n\n"+
			"Unfortunately, your request has been <b>declined</b>.\n\n"+
			"Please review your setup info or contact support. You can try creating a bot again later.", bot)
	},
	admin: func(bot string, ownerID int64) string {
		return fmt.Sprintf("❌ Bot request for <b>%s</b> (User: %d) <b>declined</b>.\nUser notified.", bot, ownerID)
	},
}

var activate = transition{
	to:      records.BotActive,
	pending: "Marking as active...",
	owner: func(bot string) string {
		return fmt.Sprintf("🚀 Great news!\n\nYour bot <b>%s</b> is now <b>Active</b> and ready to use!\n\nYou can start interacting with it.", bot)
	},
	admin: func(bot string, ownerID int64) string {
		return fmt.Sprintf("✅ Bot <b>%s</b> (User: %d) marked <b>Active</b>.\nUser notified.", bot, ownerID)
	},
}

var cancelBot = transition{
	to:      records.BotCancelled,
	pending: "Cancelling approval/development...",
	owner: func(bot string) string {
		return fmt.Sprintf("⚠️ Regarding your bot <b>%s</b>:\n\n"+
			"The approval/development has been <b>cancelled</b> by administration.\n\n"+
			"Contact support if needed. You may try creating it again later.", bot)
	},
	admin: func(bot string, ownerID int64) string {
		return fmt.Sprintf("❌ Approval/Development for <b>%s</b> (User: %d) <b>cancelled</b>.\nUser notified.", bot, ownerID)
	},
}

// statusError reports a bot that is not in a state the decision applies to.
type statusError struct {
	from records.BotStatus
}

func (e statusError) Error() string { return "maker: bot is " + string(e.from) }

// review builds the handler of one admin decision. The owner is notified
// after the status change is stored.
func (a *App) review(tr transition) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		ownerID, bot, err := botcreate.ParseAdminPayload(ev)
		if err != nil {
			a.answer(ctx, ev, "Malformed request.", true)
			return err
		}
		a.answer(ctx, ev, tr.pending, false)

		_, err = a.records.Update(ctx, ownerID, func(u *records.UserRecord, found bool) error {
			if !found {
				return errNoSuchBot
			}
			i := u.BotIndex(bot)
			if i < 0 {
				return errNoSuchBot
			}
			if from := u.Bots[i].Status; !from.CanBecome(tr.to) {
				return statusError{from: from}
			}
			u.Bots[i].Status = tr.to
			return nil
		})
		name := format.Escape(bot)
		var se statusError
		switch {
		case errors.Is(err, errNoSuchBot):
			return a.show(ctx, ev, fmt.Sprintf("❌ Error: Could not find bot request for %s from user %d.", name, ownerID))
		case errors.As(err, &se):
			return a.show(ctx, ev, fmt.Sprintf("⚠️ Bot %s (User %d) is already <b>%s</b>.", name, ownerID, se.from))
		case err != nil:
			return fmt.Errorf("set bot status: %w", err)
		}

		logger.Info(ctx, "maker", "bot.status",
			slog.Int64("owner_id", ownerID),
			slog.String("bot", bot),
			slog.String("status", string(tr.to)),
		)
		if err := a.transport.Notify(ctx, ownerID, chat.Text(tr.owner(name))); err != nil {
			logger.Error(ctx, "maker", "bot.notify_owner",
				slog.Int64("owner_id", ownerID),
				logger.Err(err),
			)
			_, _ = a.transport.Send(ctx, ev.ChatID, chat.Text(fmt.Sprintf("⚠️ Failed to notify user %d about %s.\nError: %s",
				ownerID, name, format.Escape(err.Error()))))
		}
		var kb keyboard.Inline
		if tr.next != nil {
			kb = tr.next(botcreate.AdminPayload(ownerID, bot))
		}
		return a.show(ctx, ev, tr.admin(name, ownerID), kb)
	}
}

func (a *App) stats(ctx context.Context, ev event.Event) error {
	users, err := a.records.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	byStatus := make(map[records.BotStatus]int)
	total := 0
	for _, u := range users {
		for _, b := range u.Bots {
			byStatus[b.Status]++
			total++
		}
	}
	var b strings.Builder
	b.WriteString("📊 <b>BotMaker Statistics</b> 📊\n\n")
	fmt.Fprintf(&b, "👥 <b>Total Registered Users:</b> %d\n", len(users))
	fmt.Fprintf(&b, "🤖 <b>Total Bots Created/Requested:</b> %d\n", total)
	for _, st := range []records.BotStatus{records.BotPending, records.BotApproved, records.BotActive, records.BotDeclined, records.BotCancelled} {
		fmt.Fprintf(&b, "   • %s: %d\n", st, byStatus[st])
	}
	return a.show(ctx, ev, strings.TrimRight(b.String(), "\n"))
}
