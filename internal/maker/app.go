// Package maker is the BotMaker bot: a subscription gate, a main menu
// over the user's requested bots, the creation wizard and the admin
// review of every request.
package maker

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/botmaker/core/config"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/commands"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/format"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/botcreate"
	"github.com/m3rciful/botmaker/internal/broadcast"
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/wizard"
)

// Menu and management callback keys.
const (
	KeyCheckSubscription = "check_subscription"
	KeyCreateBot         = "create_bot"
	KeyMyBots            = "my_bots"
	KeyMyAccount         = "my_account"
	KeyBotInfo           = "bot_info"
	KeyEditWarn          = "edit_bot_warn"
	KeyEditConfirm       = "confirm_edit_recreate"
	KeyDeleteWarn        = "delete_bot"
	KeyDeleteConfirm     = "confirm_delete"
)

// Options wire an App.
type Options struct {
	Records   records.Store
	Transport chat.Transport
	Sessions  state.Store
	Tokens    chat.TokenValidator
	// Broadcasts delivers broadcast messages. Nil means Transport.
	Broadcasts broadcast.Sender

	AdminID   int64
	Maker     config.MakerConfig
	Broadcast config.BroadcastConfig

	Now   func() time.Time
	NewID func() string
}

// gateChannel is one channel a user must join before using the bot.
type gateChannel struct {
	Username string
	Link     string
}

// App holds the handlers of the BotMaker bot.
type App struct {
	records   records.Store
	transport chat.Transport
	machine   *wizard.Machine
	flow      *botcreate.Flow
	console   *broadcast.Console

	adminID  int64
	maxBots  int
	gate     []gateChannel
	mainName string
	mainLink string
	support  string

	now func() time.Time
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
		maxBots:   opts.Maker.MaxBots,
		mainName:  opts.Maker.ChannelUsername,
		mainLink:  opts.Maker.ChannelLink,
		support:   opts.Maker.SupportContact,
		now:       now,
	}
	a.gate = gateChannels(opts.Maker)

	a.flow = &botcreate.Flow{
		Records:   opts.Records,
		Transport: opts.Transport,
		Tokens:    opts.Tokens,
		AdminID:   opts.AdminID,
		MaxBots:   opts.Maker.MaxBots,
		Templates: opts.Maker.Templates,
		MainMenu:  MainMenu(),
		Now:       opts.Now,
		NewID:     opts.NewID,
	}
	a.flow.Attach(a.machine)

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

func gateChannels(m config.MakerConfig) []gateChannel {
	var out []gateChannel
	seen := make(map[string]bool)
	add := func(username, link string) {
		username = format.Handle(username)
		if username == "" || seen[username] {
			return
		}
		seen[username] = true
		if link == "" {
			link = "https://t.me/" + username[1:]
		}
		out = append(out, gateChannel{Username: username, Link: link})
	}
	add(m.ChannelUsername, m.ChannelLink)
	for _, ch := range m.RequiredChannels {
		add(ch, "")
	}
	return out
}

// Machine is the conversation machine the router feeds.
func (a *App) Machine() *wizard.Machine { return a.machine }

// Console is the broadcast console, exposed for shutdown.
func (a *App) Console() *broadcast.Console { return a.console }

// Commands returns the slash commands of the bot.
func (a *App) Commands() map[string]commands.Command {
	return map[string]commands.Command{
		"/start":               {Handler: a.start, Description: "Open the main menu"},
		"/cancel":              {Handler: a.cancel, Description: "Cancel the current operation"},
		"/stats":               {Handler: a.stats, Description: "Bot statistics", AdminOnly: true, Hidden: true},
		broadcast.CmdBroadcast: {Handler: a.console.Begin, Description: "Message every user", AdminOnly: true, Hidden: true},
		broadcast.CmdStop:      {Handler: a.console.Stop, Description: "Stop the running broadcast", AdminOnly: true, Hidden: true},
	}
}

// Callbacks returns the inline button handlers of the bot.
func (a *App) Callbacks() map[string]commands.Callback {
	return map[string]commands.Callback{
		KeyCheckSubscription:    {Handler: a.checkSubscription},
		KeyCreateBot:            {Handler: a.createBot},
		KeyMyBots:               {Handler: a.myBots},
		KeyMyAccount:            {Handler: a.myAccount},
		KeyBotInfo:              {Handler: a.botInfo},
		KeyEditWarn:             {Handler: a.editWarn},
		KeyEditConfirm:          {Handler: a.editConfirm},
		KeyDeleteWarn:           {Handler: a.deleteWarn},
		KeyDeleteConfirm:        {Handler: a.deleteConfirm},
		botcreate.KeyBackToMain: {Handler: a.backToMain},
		botcreate.KeyTemplate:   {Handler: a.flow.Begin},
		botcreate.KeyAdminHelp:  {Handler: a.flow.ShowAdminHelp},

		botcreate.KeyApprove: {Handler: a.review(approve), AdminOnly: true},
		botcreate.KeyDecline: {Handler: a.review(decline), AdminOnly: true},
		botcreate.KeyDone:    {Handler: a.review(activate), AdminOnly: true},
		botcreate.KeyCancel:  {Handler: a.review(cancelBot), AdminOnly: true},

		broadcast.KeyConfirm: {Handler: a.console.Confirm, AdminOnly: true},
		broadcast.KeyCancel:  {Handler: a.console.Dismiss, AdminOnly: true},
	}
}

// MainMenu is the keyboard under every top-level message.
func MainMenu() keyboard.Inline {
	return keyboard.Rows(
		keyboard.Callback("🤖 Create bot", KeyCreateBot),
		keyboard.Callback("🔍 My bots", KeyMyBots),
		keyboard.Callback("👤 My account", KeyMyAccount),
	)
}

func backToMain() keyboard.Button {
	return keyboard.Callback("🔙 Back to Main Menu", botcreate.KeyBackToMain)
}

// show replaces the pressed message, or sends a new one for commands.
func (a *App) show(ctx context.Context, ev event.Event, text string, kb ...keyboard.Inline) error {
	msg := chat.Text(text, kb...)
	msg.DisablePreview = true
	if !ev.IsCallback() {
		_, err := a.transport.Send(ctx, ev.ChatID, msg)
		return err
	}
	return chat.Show(ctx, a.transport, ev.ChatID, ev.MessageID, msg)
}

func (a *App) answer(ctx context.Context, ev event.Event, text string, alert bool) {
	_ = a.transport.Answer(ctx, ev.CallbackID, text, alert)
}

// displayName is the @handle shown in greetings.
func displayName(ev event.Event) string {
	if ev.Username != "" {
		return ev.Username
	}
	if ev.FirstName != "" {
		return ev.FirstName
	}
	return "User"
}

func (a *App) loadUser(ctx context.Context, id int64) (*records.UserRecord, error) {
	u, err := a.records.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}
