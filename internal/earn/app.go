// Package earn is the generated referral bot: must-join channels, a
// referral reward, task links and withdrawals of the earned balance.
package earn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/botmaker/core/config"
	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/commands"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/format"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/broadcast"
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/withdraw"
	"github.com/m3rciful/botmaker/internal/wizard"
)

// Callback keys.
const (
	KeyVerify    = "verify_membership"
	KeyMainMenu  = withdraw.KeyMainMenu
	KeyReferrals = "referrals"
	KeyTasks     = "tasks"
	KeyWithdraw  = "withdraw"
)

// DeniedText answers admin commands sent by anyone else.
const DeniedText = "❌ You don't have permission to use this command."

// Options wire an App.
type Options struct {
	Records   records.Store
	Transport chat.Transport
	Sessions  state.Store
	// Broadcasts delivers broadcast messages. Nil means Transport.
	Broadcasts broadcast.Sender

	AdminID   int64
	Earn      config.EarnConfig
	Broadcast config.BroadcastConfig

	Now   func() time.Time
	NewID func() string
}

// App holds the handlers of one earn bot.
type App struct {
	records   records.Store
	transport chat.Transport
	machine   *wizard.Machine
	withdraw  *withdraw.Flow
	console   *broadcast.Console

	adminID int64
	cfg     config.EarnConfig
	now     func() time.Time
}

// New builds the app and its conversation machine.
func New(opts Options) *App {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &App{
		records:   opts.Records,
		transport: opts.Transport,
		machine:   wizard.New(opts.Sessions, opts.Transport),
		adminID:   opts.AdminID,
		cfg:       opts.Earn,
		now:       now,
	}
	a.withdraw = &withdraw.Flow{
		Records:        opts.Records,
		Transport:      opts.Transport,
		Currency:       opts.Earn.Currency,
		Min:            opts.Earn.MinWithdrawal,
		Max:            opts.Earn.MaxWithdrawal,
		PaymentChannel: opts.Earn.PaymentChannel,
		BotUsername:    opts.Earn.BotUsername,
		MainMenu:       MainMenu(),
		Now:            opts.Now,
		NewID:          opts.NewID,
	}
	a.withdraw.Attach(a.machine)

	out := opts.Broadcasts
	if out == nil {
		out = opts.Transport
	}
	a.console = &broadcast.Console{
		Records:   opts.Records,
		Transport: opts.Transport,
		Engine: broadcast.NewEngine(out, broadcast.Options{
			Interval:         time.Duration(opts.Broadcast.IntervalMS) * time.Millisecond,
			ProgressEvery:    opts.Broadcast.ProgressEvery,
			ProgressInterval: time.Duration(opts.Broadcast.ProgressSeconds) * time.Second,
		}),
	}
	a.console.Attach(a.machine)
	return a
}

// Machine is the conversation machine the router feeds.
func (a *App) Machine() *wizard.Machine { return a.machine }

// Console is the broadcast console, exposed for shutdown.
func (a *App) Console() *broadcast.Console { return a.console }

// Commands returns the slash commands of the bot. Admin commands check the
// sender themselves so strangers get the bot's own refusal.
func (a *App) Commands() map[string]commands.Command {
	return map[string]commands.Command{
		"/start":               {Handler: a.start, Description: "Start the bot"},
		"/cancel":              {Handler: a.cancel, Description: "Cancel the current operation"},
		"/stats":               {Handler: a.adminOnly(a.stats), Description: "Bot statistics", Hidden: true},
		broadcast.CmdBroadcast: {Handler: a.adminOnly(a.console.Begin), Description: "Message every user", Hidden: true},
		broadcast.CmdStop:      {Handler: a.adminOnly(a.console.Stop), Description: "Stop the running broadcast", Hidden: true},
	}
}

// Callbacks returns the inline button handlers of the bot.
func (a *App) Callbacks() map[string]commands.Callback {
	return map[string]commands.Callback{
		KeyVerify:    {Handler: a.verify},
		KeyMainMenu:  {Handler: a.mainMenu},
		KeyReferrals: {Handler: a.referrals},
		KeyTasks:     {Handler: a.tasks},
		KeyWithdraw:  {Handler: a.startWithdraw},

		broadcast.KeyConfirm: {Handler: a.console.Confirm, AdminOnly: true},
		broadcast.KeyCancel:  {Handler: a.console.Dismiss, AdminOnly: true},
	}
}

func (a *App) adminOnly(h event.Handler) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		if a.adminID == 0 || ev.UserID != a.adminID {
			_, err := a.transport.Send(ctx, ev.ChatID, chat.Text(DeniedText))
			return err
		}
		return h(ctx, ev)
	}
}

// MainMenu is the keyboard under every top-level message.
func MainMenu() keyboard.Inline {
	return keyboard.Inline{
		{keyboard.Callback("👥 Referrals", KeyReferrals), keyboard.Callback("📝 Tasks", KeyTasks)},
		{keyboard.Callback("💰 Withdraw", KeyWithdraw)},
	}
}

func backKeyboard() keyboard.Inline {
	return keyboard.Rows(keyboard.Callback("🔙 Back to Menu", KeyMainMenu))
}

func (a *App) channelsKeyboard() keyboard.Inline {
	buttons := make([]keyboard.Button, 0, len(a.cfg.MustJoinChannels))
	for _, ch := range a.cfg.MustJoinChannels {
		buttons = append(buttons, keyboard.Link(ch.Name, ch.URL))
	}
	kb := keyboard.NPerRow(2, buttons...)
	return append(kb, []keyboard.Button{keyboard.Callback("✅ Verify Membership", KeyVerify)})
}

func (a *App) tasksKeyboard() keyboard.Inline {
	buttons := make([]keyboard.Button, 0, len(a.cfg.Tasks))
	for _, task := range a.cfg.Tasks {
		label := fmt.Sprintf("%s (+%s %s)", task.Name, format.Amount(task.Reward), a.cfg.Currency)
		buttons = append(buttons, keyboard.Link(label, task.URL))
	}
	kb := keyboard.NPerRow(2, buttons...)
	return append(kb, []keyboard.Button{keyboard.Callback("🔙 Back to Menu", KeyMainMenu)})
}

func (a *App) money(v float64) string {
	return format.Amount(v) + " " + a.cfg.Currency
}

// handle is the @name greeting users; users without one get a stand-in.
func handle(ev event.Event) string {
	if ev.Username != "" {
		return "@" + ev.Username
	}
	return "@user" + strconv.FormatInt(ev.UserID, 10)
}

func (a *App) show(ctx context.Context, ev event.Event, text string, kb ...keyboard.Inline) error {
	msg := chat.Text(text, kb...)
	if !ev.IsCallback() {
		_, err := a.transport.Send(ctx, ev.ChatID, msg)
		return err
	}
	return chat.Show(ctx, a.transport, ev.ChatID, ev.MessageID, msg)
}

// balance reads the caller's balance; unknown users have none.
func (a *App) balance(ctx context.Context, userID int64) (*records.UserRecord, error) {
	u, err := a.records.GetUser(ctx, userID)
	if errors.Is(err, records.ErrNotFound) {
		return &records.UserRecord{ID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return u, nil
}

func (a *App) start(ctx context.Context, ev event.Event) error {
	_, created, err := records.Touch(ctx, a.records, ev.UserID, ev.Username, ev.FirstName, a.now)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	if created {
		logger.Info(ctx, "earn", "user.registered", slog.Int64("user_id", ev.UserID))
	}
	if ref, err := strconv.ParseInt(strings.TrimSpace(ev.Payload), 10, 64); err == nil {
		if err := a.creditReferral(ctx, ev, ref); err != nil {
			logger.Error(ctx, "earn", "referral.credit",
				slog.Int64("referrer_id", ref),
				logger.Err(err),
			)
		}
	}
	text := fmt.Sprintf("👋 Hello, %s!\n\nPlease join our channels and groups to continue:", format.Escape(handle(ev)))
	return a.show(ctx, ev, text, a.channelsKeyboard())
}

// creditReferral pays the referrer once per referee. A user can be
// referred only once and never by themselves.
func (a *App) creditReferral(ctx context.Context, ev event.Event, referrer int64) error {
	if referrer <= 0 || referrer == ev.UserID {
		return nil
	}
	if _, err := a.records.GetUser(ctx, referrer); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil
		}
		return err
	}

	claimed := false
	_, err := a.records.Update(ctx, ev.UserID, func(u *records.UserRecord, found bool) error {
		if !found || u.ReferredBy != 0 {
			return records.ErrUnchanged
		}
		u.ReferredBy = referrer
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return err
	}

	credited := false
	_, err = a.records.Update(ctx, referrer, func(u *records.UserRecord, found bool) error {
		if !found || u.HasReferral(ev.UserID) {
			return records.ErrUnchanged
		}
		u.Referrals = append(u.Referrals, ev.UserID)
		u.Balance += a.cfg.ReferralReward
		credited = true
		return nil
	})
	if err != nil || !credited {
		return err
	}
	if err := a.records.UpdateStats(ctx, func(s *records.Stats) error {
		s.TotalReferrals++
		return nil
	}); err != nil {
		logger.Warn(ctx, "earn", "referral.stats", logger.Err(err))
	}

	logger.Info(ctx, "earn", "referral.credited",
		slog.Int64("referrer_id", referrer),
		slog.Int64("user_id", ev.UserID),
	)
	text := fmt.Sprintf("🎉 Congratulations! You have a new referral: %s\nYou earned %s!",
		format.Escape(handle(ev)), a.money(a.cfg.ReferralReward))
	return a.transport.Notify(ctx, referrer, chat.Text(text))
}

// checkTarget is the chat a must-join link is verified against.
func checkTarget(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		url = url[i+1:]
	}
	return format.Handle(url)
}

func (a *App) joinedAll(ctx context.Context, userID int64) bool {
	for _, ch := range a.cfg.MustJoinChannels {
		if !ch.Check {
			continue
		}
		target := checkTarget(ch.URL)
		status, err := a.transport.MemberStatus(ctx, target, userID)
		if err != nil {
			logger.Warn(ctx, "earn", "verify.lookup",
				slog.String("channel", target),
				logger.Err(err),
			)
			return false
		}
		if !chat.IsMember(status) {
			return false
		}
	}
	return true
}

func (a *App) verify(ctx context.Context, ev event.Event) error {
	if !a.joinedAll(ctx, ev.UserID) {
		return a.transport.Answer(ctx, ev.CallbackID,
			"❌ You need to join all the required channels to continue or the bot may not be an admin in the Telegram channel.", true)
	}
	u, err := a.balance(ctx, ev.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("✅ Verification successful!\n\n👋 Welcome to %s, %s!\n\n💰 Your Balance: %s\n\nPlease select an option below:",
		format.Escape(a.cfg.BotName), format.Escape(handle(ev)), a.money(u.Balance))
	return a.show(ctx, ev, text, MainMenu())
}

func (a *App) mainMenu(ctx context.Context, ev event.Event) error {
	if _, err := a.machine.Cancel(ctx, ev.UserID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	u, err := a.balance(ctx, ev.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("👋 Welcome back, %s!\n\n💰 Your Balance: %s\n\nPlease select an option below:",
		format.Escape(handle(ev)), a.money(u.Balance))
	return a.show(ctx, ev, text, MainMenu())
}

// ReferralLink is the deep link that credits userID.
func (a *App) ReferralLink(userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", strings.TrimPrefix(a.cfg.BotUsername, "@"), userID)
}

func (a *App) referrals(ctx context.Context, ev event.Event) error {
	u, err := a.balance(ctx, ev.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("👥 Your Referrals: %d\n\n💰 Earn %s for each new referral!\n\n🔗 Your Referral Link:\n%s\n\n"+
		"Share this link with friends and earn money when they join!",
		len(u.Referrals), a.money(a.cfg.ReferralReward), a.ReferralLink(ev.UserID))
	return a.show(ctx, ev, text, backKeyboard())
}

func (a *App) tasks(ctx context.Context, ev event.Event) error {
	return a.show(ctx, ev, "📝 Available Tasks\n\nComplete these tasks to earn rewards:", a.tasksKeyboard())
}

func (a *App) startWithdraw(ctx context.Context, ev event.Event) error {
	if !a.cfg.WithdrawalEnabled {
		return a.transport.Answer(ctx, ev.CallbackID, "❌ Withdrawals are currently disabled.", true)
	}
	u, err := a.balance(ctx, ev.UserID)
	if err != nil {
		return err
	}
	return a.withdraw.Begin(ctx, ev, u.Balance)
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

// Fallback answers any text outside a conversation with the main menu.
func (a *App) Fallback(ctx context.Context, ev event.Event) error {
	u, err := a.balance(ctx, ev.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("👋 Hi %s!\n\n💰 Your Balance: %s\n\nPlease select an option below:",
		format.Escape(handle(ev)), a.money(u.Balance))
	return a.show(ctx, ev, text, MainMenu())
}

func (a *App) stats(ctx context.Context, ev event.Event) error {
	users, err := a.records.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	st, err := a.records.Stats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	var outstanding float64
	for _, u := range users {
		outstanding += u.Balance
	}
	var b strings.Builder
	b.WriteString("📊 Bot Statistics\n\n")
	fmt.Fprintf(&b, "👤 Total Users: %d\n", len(users))
	fmt.Fprintf(&b, "✅ Active Users (Did not block): %d\n", len(users)-st.BlockedUsers)
	fmt.Fprintf(&b, "🚫 Blocked Users: %d\n", st.BlockedUsers)
	fmt.Fprintf(&b, "🔄 Total Referrals: %d\n", st.TotalReferrals)
	fmt.Fprintf(&b, "💎 Total Payouts: %s\n", a.money(outstanding))
	if !st.StartDate.IsZero() {
		days := int(a.now().Sub(st.StartDate).Hours() / 24)
		fmt.Fprintf(&b, "⏳ Bot Running For: %d days", days)
	}
	return a.show(ctx, ev, strings.TrimRight(b.String(), "\n"))
}
