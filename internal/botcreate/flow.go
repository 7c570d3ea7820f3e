// Package botcreate is the conversation that collects the settings of a
// new earn bot and files it for admin review.
package botcreate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/format"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/botconfig"
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/wizard"
)

// Conversation states in order.
const (
	StateToken          state.State = "awaiting_token"
	StateName           state.State = "awaiting_name"
	StatePaymentChannel state.State = "awaiting_payment_channel"
	StatePaymentAdmin   state.State = "awaiting_payment_channel_admin_confirm"
	StateMustJoin       state.State = "awaiting_must_join_channels"
	StateMustJoinAdmin  state.State = "awaiting_must_join_admin_confirm"
	StateMandatory      state.State = "awaiting_mandatory_choice"
	StateMinWithdrawal  state.State = "awaiting_min_withdrawal"
	StateMaxWithdrawal  state.State = "awaiting_max_withdrawal"
	StateReferralReward state.State = "awaiting_referral_reward"
)

// Commands and callback keys the flow emits or consumes.
const (
	CmdDone = "/done"

	KeyTemplate         = "template"
	KeyBackToMain       = "back_to_main"
	KeyAdminHelp        = "show_admin_instructions"
	KeyPaymentAdminDone = "payment_channel_admin_done"
	KeyMustJoinAdmin    = "must_join_admin_done"
	KeyMustJoinYes      = "must_join_yes"
	KeyMustJoinNo       = "must_join_no"

	KeyApprove = "approve_bot"
	KeyDecline = "decline_bot"
	KeyDone    = "bot_done"
	KeyCancel  = "bot_cancel"
)

// FollowStepText answers buttons pressed out of turn.
const FollowStepText = "Please follow the current step in the bot creation process."

// errCapReached aborts a commit when the cap was hit by a concurrent run.
var errCapReached = errors.New("botcreate: bot cap reached")

// Flow wires the creation conversation to its collaborators.
type Flow struct {
	Records   records.Store
	Transport chat.Transport
	Tokens    chat.TokenValidator
	AdminID   int64
	MaxBots   int
	Templates []string
	// MainMenu is attached to messages that leave the flow.
	MainMenu keyboard.Inline

	Now   func() time.Time
	NewID func() string

	m *wizard.Machine
}

func (f *Flow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Flow) newID() string {
	if f.NewID != nil {
		return f.NewID()
	}
	return uuid.NewString()
}

// Attach registers the flow's steps on m.
func (f *Flow) Attach(m *wizard.Machine) {
	f.m = m
	m.Own(CmdDone, KeyPaymentAdminDone, KeyMustJoinAdmin, KeyMustJoinYes, KeyMustJoinNo)

	m.Add(StateToken, wizard.Step{Handle: f.onText(f.handleToken)})
	m.Add(StateName, wizard.Step{Require: require(hasToken), Handle: f.onText(f.handleName)})
	m.Add(StatePaymentChannel, wizard.Step{Require: require(hasToken, hasName), Handle: f.onText(f.handlePaymentChannel)})
	m.Add(StatePaymentAdmin, wizard.Step{Require: require(hasToken, hasName, hasPayment), Handle: f.handlePaymentAdmin})
	m.Add(StateMustJoin, wizard.Step{Require: require(hasToken, hasName, hasPayment), Handle: f.mustJoin(f.handleLink)})
	m.Add(StateMustJoinAdmin, wizard.Step{Require: require(hasToken, hasName, hasPayment, hasPending), Handle: f.mustJoin(f.handleMustJoinAdmin)})
	m.Add(StateMandatory, wizard.Step{Require: require(hasToken, hasName, hasPayment, hasPending), Handle: f.mustJoin(f.handleMandatory)})
	m.Add(StateMinWithdrawal, wizard.Step{Require: require(hasToken, hasName, hasPayment), Handle: f.onText(f.handleMin)})
	m.Add(StateMaxWithdrawal, wizard.Step{Require: require(hasToken, hasName, hasPayment, hasMin), Handle: f.onText(f.handleMax)})
	m.Add(StateReferralReward, wizard.Step{Require: require(hasToken, hasName, hasPayment, hasMin, hasMax), Handle: f.onText(f.handleReward)})
}

func hasToken(d *Draft) error {
	if d.Token == "" || d.BotUsername == "" {
		return errors.New("token missing")
	}
	return nil
}

func hasName(d *Draft) error {
	if d.BotName == "" {
		return errors.New("bot name missing")
	}
	return nil
}

func hasPayment(d *Draft) error {
	if d.PaymentChannel == "" {
		return errors.New("payment channel missing")
	}
	return nil
}

func hasPending(d *Draft) error {
	if d.Pending == nil {
		return errors.New("no pending channel")
	}
	return nil
}

func hasMin(d *Draft) error {
	if d.MinWithdrawal == nil {
		return errors.New("min withdrawal missing")
	}
	return nil
}

func hasMax(d *Draft) error {
	if d.MaxWithdrawal == nil {
		return errors.New("max withdrawal missing")
	}
	return nil
}

func require(checks ...func(*Draft) error) func(state.Draft) error {
	return func(sd state.Draft) error {
		d, ok := sd.(*Draft)
		if !ok {
			if sd == nil {
				return errors.New("no draft")
			}
			return fmt.Errorf("draft is %s", sd.Kind())
		}
		for _, check := range checks {
			if err := check(d); err != nil {
				return err
			}
		}
		return nil
	}
}

type stepFunc func(ctx context.Context, t *wizard.Turn, d *Draft) error

// onText adapts a step that consumes a text message. Buttons pressed out
// of turn get a reminder and leave the session untouched.
func (f *Flow) onText(h stepFunc) func(context.Context, *wizard.Turn) error {
	return func(ctx context.Context, t *wizard.Turn) error {
		d, err := wizard.DraftAs[*Draft](t.Session)
		if err != nil {
			return err
		}
		if t.Event.IsCallback() {
			t.Answer(FollowStepText, true)
			t.Retry("")
			return nil
		}
		return h(ctx, t, d)
	}
}

// mustJoin adapts the must-join states: /done leaves the loop from any of
// them, dropping an unfinished pending channel.
func (f *Flow) mustJoin(h stepFunc) func(context.Context, *wizard.Turn) error {
	return func(ctx context.Context, t *wizard.Turn) error {
		d, err := wizard.DraftAs[*Draft](t.Session)
		if err != nil {
			return err
		}
		if t.Event.Command == CmdDone {
			d.Pending = nil
			t.Goto(StateMinWithdrawal)
			t.Say("👍 Channels/Links stage complete.\n\nNow, what should be the <b>minimum withdrawal amount</b> (e.g., <code>100</code>)?")
			return nil
		}
		return h(ctx, t, d)
	}
}

func cancelKeyboard() keyboard.Inline {
	return keyboard.Rows(keyboard.Callback("🔙 Cancel Creation", KeyBackToMain))
}

// TemplateMenu lists the configured templates.
func (f *Flow) TemplateMenu() keyboard.Inline {
	buttons := make([]keyboard.Button, 0, len(f.Templates)+1)
	for i, name := range f.Templates {
		buttons = append(buttons, keyboard.Callback(name, KeyTemplate, strconv.Itoa(i)))
	}
	buttons = append(buttons, keyboard.Callback("🔙 Back to Main Menu", KeyBackToMain))
	return keyboard.Rows(buttons...)
}

// CapText is shown when a user already has the maximum of live bots.
func (f *Flow) CapText() string {
	return fmt.Sprintf("⚠️ You have reached the maximum limit of <b>%d bots!</b>", f.MaxBots)
}

// CapReached reports whether the user may not start another bot.
func (f *Flow) CapReached(ctx context.Context, userID int64) (bool, error) {
	u, err := f.Records.GetUser(ctx, userID)
	if errors.Is(err, records.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return u.LiveBots() >= f.MaxBots, nil
}

// Begin starts a creation run for the template chosen in ev. The cap is
// checked first; no session exists for a rejected user.
func (f *Flow) Begin(ctx context.Context, ev event.Event) error {
	idx, err := strconv.Atoi(ev.CallbackArg)
	if err != nil || idx < 0 || idx >= len(f.Templates) {
		_, err := f.Transport.Send(ctx, ev.ChatID, chat.Text("Invalid template selected. Please try again.", f.MainMenu))
		return err
	}
	capped, err := f.CapReached(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if capped {
		_, err := f.Transport.Send(ctx, ev.ChatID, chat.Text(f.CapText(), f.MainMenu))
		return err
	}

	template := f.Templates[idx]
	logger.Wizard.InfoContext(ctx, "bot creation started",
		slog.String("event", "botcreate.begin"),
		slog.String("template", template),
	)
	prompt := "Great! Let's start configuring your bot.\n\n" +
		"Please send me the <b>API token</b> for the bot you want to create.\n\n" +
		"To get a token:\n" +
		"1. Open a chat with @BotFather on Telegram.\n" +
		"2. Send the <code>/newbot</code> command.\n" +
		"3. Follow the instructions to choose a name and username.\n" +
		"4. @BotFather will provide the API token. <b>Copy the token and paste it here.</b>"
	return f.m.Start(ctx, ev.UserID, ev.ChatID, StateToken, &Draft{Template: template}, chat.Text(prompt, cancelKeyboard()))
}

func (f *Flow) handleToken(ctx context.Context, t *wizard.Turn, d *Draft) error {
	token := strings.TrimSpace(t.Event.Text)
	if !LooksLikeToken(token) {
		t.Retry("⚠️ This doesn't look like a valid bot token.\nPlease get the token from @BotFather and paste it here.")
		return nil
	}
	t.DeleteInput()

	profile, err := f.Tokens.Validate(ctx, token)
	if err != nil {
		logger.Wizard.InfoContext(ctx, "token rejected",
			slog.String("event", "botcreate.token"),
			logger.Err(err),
		)
		t.Retry("❌ <b>Invalid bot token.</b>\n\nPlease double-check from @BotFather or click Cancel.", cancelKeyboard())
		return nil
	}
	if profile.Username == "" {
		t.Retry("❌ Token is valid, but could not retrieve bot username. This is unusual. Please try another token or contact support.", cancelKeyboard())
		return nil
	}

	d.Token = token
	d.BotUsername = format.Handle(profile.Username)
	t.Goto(StateName)
	t.Say(fmt.Sprintf("✅ Bot token is valid for %s!\n(Username automatically detected).\n\n"+
		"Now, please enter the <b>display name</b> for your bot (e.g., 'My Awesome Bot'):", format.Bold(d.BotUsername)))
	return nil
}

func adminHelpKeyboard(extra ...keyboard.Button) keyboard.Inline {
	buttons := append(slices.Clone(extra), keyboard.Callback("❓ How to make bot admin?", KeyAdminHelp))
	return keyboard.Rows(buttons...)
}

func (f *Flow) handleName(ctx context.Context, t *wizard.Turn, d *Draft) error {
	name, ok := ValidName(t.Event.Text)
	if !ok {
		if name == "" {
			t.Retry("⚠️ Bot name cannot be empty. Please enter a name.")
		} else {
			t.Retry(fmt.Sprintf("⚠️ Bot name too long (max %d chars). Shorter name please.", MaxNameLen))
		}
		return nil
	}
	d.BotName = name
	t.Goto(StatePaymentChannel)
	t.Say(fmt.Sprintf("👍 Bot name: %s\nBot Username: %s\n\n"+
		"Please enter the link to your <b>Payment Proof Channel</b> (must be a public Telegram Channel, e.g., <code>https://t.me/MyPaymentProofs</code>).\n\n"+
		"<i>Your new bot (%s) <b>must</b> be an <b>administrator</b> in this channel for it to work.</i>",
		format.Bold(name), format.Bold(d.BotUsername), format.Bold(d.BotUsername)), adminHelpKeyboard())
	return nil
}

func (f *Flow) handlePaymentChannel(ctx context.Context, t *wizard.Turn, d *Draft) error {
	link := strings.TrimSpace(t.Event.Text)
	if _, ok := ChannelUsername(link); !ok {
		t.Retry("⚠️ Invalid link format or not a public Telegram Channel link.\n\n" +
			"Please provide a direct link like <code>https://t.me/YourChannelName</code> (not a group invite link like t.me/joinchat/... or t.me/+...).")
		return nil
	}
	d.PaymentChannel = link
	t.Goto(StatePaymentAdmin)
	t.Say(fmt.Sprintf("🔗 Payment channel set to: %s\n\n"+
		"❗ <b>Crucial:</b> Please ensure your new bot (%s) is an <b>administrator</b> in this payment channel (%s) with rights to post messages.\n\n"+
		"Click 'Done, Bot is Admin' after you've set this up.",
		format.Escape(link), format.Bold(d.BotUsername), format.Code(link)),
		adminHelpKeyboard(keyboard.Callback("✅ Done, Bot is Admin", KeyPaymentAdminDone)))
	return nil
}

func mustJoinIntro() string {
	return "🔗 Payment channel noted.\n\n" +
		"Now, let's add <b>Must Join Channels/Links</b>.\n\n" +
		"Send me the link (e.g., <code>https://t.me/MyUpdateChannel</code> or <code>https://example.com</code>) for each you want users to join.\n\n" +
		"If it's a public Telegram Channel, I'll ask if it's mandatory. For mandatory checks to work, your new bot must be an <b>admin</b> there.\n" +
		"For Telegram Groups or any non-Telegram web links, they'll be added directly without a mandatory check or admin prompt.\n\n" +
		"When you have added all, type <code>/done</code>."
}

func (f *Flow) handlePaymentAdmin(ctx context.Context, t *wizard.Turn) error {
	if _, err := wizard.DraftAs[*Draft](t.Session); err != nil {
		return err
	}
	ev := t.Event
	switch {
	case ev.IsCallback() && ev.CallbackKey == KeyPaymentAdminDone:
		t.Goto(StateMustJoin)
		t.Say(mustJoinIntro())
	case ev.IsCallback():
		t.Answer(FollowStepText, true)
		t.Retry("")
	default:
		t.Retry("Please click 'Done, Bot is Admin' for the Payment Channel, or contact support if stuck.")
	}
	return nil
}

func (f *Flow) handleLink(ctx context.Context, t *wizard.Turn, d *Draft) error {
	ev := t.Event
	if ev.IsCallback() {
		t.Answer(FollowStepText, true)
		t.Retry("")
		return nil
	}
	if d.Pending != nil {
		t.Retry("⚠️ Please complete the admin/mandatory choice for the previous channel/link first before adding another, or type <code>/done</code>.")
		return nil
	}
	link := strings.TrimSpace(ev.Text)
	if !ValidLink(link) {
		t.Retry("⚠️ Invalid link format.\n\nPlease send a valid web link (starting with http:// or https://) or a Telegram link (e.g., t.me/channelname).")
		return nil
	}

	if ident, ok := ChannelUsername(link); ok {
		kind, err := f.Transport.ChatKind(ctx, ident)
		if err != nil {
			logger.Wizard.DebugContext(ctx, "chat lookup failed",
				slog.String("event", "botcreate.must_join"),
				slog.String("chat", ident),
				logger.Err(err),
			)
		}
		if err == nil && kind == chat.KindChannel {
			d.Pending = &PendingChannel{URL: link, Identifier: ident}
			t.Goto(StateMustJoinAdmin)
			t.Say(fmt.Sprintf("Identified as Public Telegram Channel: %s\n\n"+
				"For the 'mandatory join' option to work effectively, your new bot (%s) needs to be an <b>administrator</b> in %s.\n\n"+
				"Click 'Done, Bot is Admin' after setting this up (if you plan to make it mandatory).",
				format.Escape(link), format.Bold(d.BotUsername), format.Code(ident)),
				adminHelpKeyboard(keyboard.Callback("✅ Done, Bot is Admin", KeyMustJoinAdmin)))
			return nil
		}
	}

	d.Channels = append(d.Channels, botconfig.Channel{
		Name: fmt.Sprintf("Link %d", len(d.Channels)+1),
		URL:  link,
	})
	kind := "External web link"
	if IsTelegramLink(link) {
		kind = "Telegram link (group/private)"
	}
	t.Goto(StateMustJoin)
	t.Say(fmt.Sprintf("%s added: %s\n(This type of link will not have a mandatory join check performed by the bot).\n\n"+
		"Send another link, or type <code>/done</code> to continue.", kind, format.Escape(link)))
	return nil
}

func (f *Flow) handleMustJoinAdmin(ctx context.Context, t *wizard.Turn, d *Draft) error {
	ev := t.Event
	switch {
	case ev.IsCallback() && ev.CallbackKey == KeyMustJoinAdmin:
		t.Goto(StateMandatory)
		t.Say(fmt.Sprintf("Okay, for Public Channel: %s\n\n"+
			"❓ <b>Should joining this be MANDATORY for users?</b>\n"+
			"<i>(Remember: This only works effectively if your new bot is an admin there!)</i>", format.Escape(d.Pending.URL)),
			keyboard.Inline{{
				keyboard.Callback("✅ Yes (Mandatory)", KeyMustJoinYes),
				keyboard.Callback("❌ No (Optional)", KeyMustJoinNo),
			}})
	case ev.IsCallback():
		t.Answer(FollowStepText, true)
		t.Retry("")
	default:
		t.Retry("Please click 'Done, Bot is Admin' for the Public Channel you sent, or type <code>/done</code> to skip and proceed.")
	}
	return nil
}

func (f *Flow) handleMandatory(ctx context.Context, t *wizard.Turn, d *Draft) error {
	ev := t.Event
	if !ev.IsCallback() {
		t.Retry("Please choose 'Yes' or 'No' for whether joining the channel should be mandatory, using the buttons provided.")
		return nil
	}
	if ev.CallbackKey != KeyMustJoinYes && ev.CallbackKey != KeyMustJoinNo {
		t.Answer(FollowStepText, true)
		t.Retry("")
		return nil
	}
	mandatory := ev.CallbackKey == KeyMustJoinYes
	d.Channels = append(d.Channels, botconfig.Channel{
		Name:  fmt.Sprintf("Channel %d", len(d.Channels)+1),
		URL:   d.Pending.URL,
		Check: mandatory,
	})
	url := d.Pending.URL
	d.Pending = nil
	t.Goto(StateMustJoin)

	verdict := "It will be a MANDATORY join."
	if !mandatory {
		verdict = "It will <b>NOT</b> be a MANDATORY join."
	}
	t.Say(fmt.Sprintf("Link added: %s\n%s\n\nPlease send another channel/group/web link, or type <code>/done</code> to continue.",
		format.Escape(url), verdict))
	return nil
}

func (f *Flow) handleMin(ctx context.Context, t *wizard.Turn, d *Draft) error {
	v, err := ParseAmount(t.Event.Text)
	switch {
	case errors.Is(err, errNegative):
		t.Retry("⚠️ Minimum withdrawal cannot be negative.\nE.g., <code>100</code>.")
		return nil
	case err != nil:
		t.Retry("⚠️ Invalid number for min withdrawal.\nE.g., <code>100</code>.")
		return nil
	}
	d.MinWithdrawal = &v
	t.Goto(StateMaxWithdrawal)
	t.Say(fmt.Sprintf("Min withdrawal: <b>%.2f</b>\n\n<b>Max withdrawal amount</b> per request? (e.g., <code>1000</code>)", v))
	return nil
}

func (f *Flow) handleMax(ctx context.Context, t *wizard.Turn, d *Draft) error {
	v, err := ParseAmount(t.Event.Text)
	switch {
	case errors.Is(err, errNegative):
		t.Retry("⚠️ Max withdrawal cannot be negative.\nE.g., <code>1000</code>.")
		return nil
	case err != nil:
		t.Retry("⚠️ Invalid number for max withdrawal.\nE.g., <code>1000</code>.")
		return nil
	}
	if v < *d.MinWithdrawal {
		t.Retry(fmt.Sprintf("⚠️ Max withdrawal (<b>%.2f</b>) must be >= min withdrawal (<b>%.2f</b>).\nRe-enter max amount.", v, *d.MinWithdrawal))
		return nil
	}
	d.MaxWithdrawal = &v
	t.Goto(StateReferralReward)
	t.Say(fmt.Sprintf("Max withdrawal: <b>%.2f</b>\n\nFinally, <b>referral reward amount</b>? (e.g., <code>5</code>, or <code>0</code> for no reward)", v))
	return nil
}

func (f *Flow) handleReward(ctx context.Context, t *wizard.Turn, d *Draft) error {
	v, err := ParseAmount(t.Event.Text)
	switch {
	case errors.Is(err, errNegative):
		t.Retry("⚠️ Referral reward cannot be negative.\nE.g., <code>5</code> or <code>0</code>.")
		return nil
	case err != nil:
		t.Retry("⚠️ Invalid number for referral reward.\nE.g., <code>5</code> or <code>0</code>.")
		return nil
	}
	return f.commit(ctx, t, d, v)
}

// Config builds the artifact for a finished draft.
func (f *Flow) Config(d *Draft, reward float64) botconfig.Config {
	return botconfig.Config{
		BotToken:          d.Token,
		AdminID:           f.AdminID,
		ReferralReward:    reward,
		MinWithdrawal:     format.Deref(d.MinWithdrawal, 0),
		MaxWithdrawal:     format.Deref(d.MaxWithdrawal, 0),
		WithdrawalEnabled: true,
		MustJoinChannels:  slices.Clone(d.Channels),
		Tasks:             botconfig.DefaultTasks(),
		PaymentChannel:    d.PaymentChannel,
		BotUsername:       d.BotUsername,
		BotName:           d.BotName,
	}
}

func (f *Flow) commit(ctx context.Context, t *wizard.Turn, d *Draft, reward float64) error {
	ev := t.Event
	cfg := f.Config(d, reward)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", wizard.ErrInconsistent, err)
	}
	doc, err := botconfig.Marshal(cfg, ev.UserID)
	if err != nil {
		return err
	}

	entry := records.BotEntry{
		ID:                  f.newID(),
		BotName:             d.BotName,
		BotUsername:         d.BotUsername,
		Template:            d.Template,
		Status:              records.BotPending,
		CreationRequestDate: f.now().UTC(),
		ConfigDetails:       string(doc),
	}
	_, err = f.Records.Update(ctx, ev.UserID, func(u *records.UserRecord, found bool) error {
		if !found {
			*u = *records.NewUser(ev.UserID, ev.Username, ev.FirstName, f.now().UTC())
		}
		if u.LiveBots() >= f.MaxBots {
			return errCapReached
		}
		u.Bots = append(u.Bots, entry)
		return nil
	})
	if errors.Is(err, errCapReached) {
		t.Say(f.CapText(), f.MainMenu)
		t.Done()
		return nil
	}
	if err != nil {
		return fmt.Errorf("save bot request: %w", err)
	}

	logger.Wizard.InfoContext(ctx, "bot request filed",
		slog.String("event", "botcreate.commit"),
		slog.String("bot", d.BotUsername),
		slog.String("bot_id", entry.ID),
		slog.Int("channels", len(cfg.MustJoinChannels)),
	)
	t.Done()
	t.Say(summaryText(cfg), f.MainMenu)

	if err := f.notifyAdmin(ctx, ev, entry); err != nil {
		logger.Wizard.ErrorContext(ctx, "admin notification failed",
			slog.String("event", "botcreate.notify_admin"),
			logger.Err(err),
		)
		t.Say("⚠️ Issue notifying admin. Contact support if bot isn't approved soon.")
	}
	return nil
}

func summaryText(cfg botconfig.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>Configuration Complete!</b>\n\n"+
		"Request for bot <b>%s (%s)</b> submitted for review.\n"+
		"Notification upon approval (1-12 hours).\n\n"+
		"⚠️ <b>IMPORTANT REMINDERS for %s to work correctly:</b>\n",
		format.Escape(cfg.BotName), format.Escape(cfg.BotUsername), format.Escape(cfg.BotUsername))
	fmt.Fprintf(&b, "1. Your Payment Proof Channel (%s) needs %s as an <b>admin with post rights</b>.\n",
		format.Code(cfg.PaymentChannel), format.Escape(cfg.BotUsername))
	for _, ch := range cfg.MustJoinChannels {
		if ch.Check {
			fmt.Fprintf(&b, "2. For any 'Mandatory Join' Public Telegram Channels you made (e.g., %s...), %s must be an <b>admin</b> there to check memberships.\n",
				format.Escape(ch.URL), format.Escape(cfg.BotUsername))
			break
		}
	}
	b.WriteString("Failure to grant these admin rights may cause your bot to not function as expected.")
	return b.String()
}

// AdminPayload encodes the owner and bot of an admin action button.
func AdminPayload(ownerID int64, botUsername string) string {
	return strconv.FormatInt(ownerID, 10) + ":" + botUsername
}

// ParseAdminPayload decodes AdminPayload.
func ParseAdminPayload(ev event.Event) (int64, string, error) {
	parts, err := ev.ArgParts(":", 2)
	if err != nil {
		return 0, "", fmt.Errorf("admin payload %q: %w", ev.CallbackArg, err)
	}
	owner, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || parts[1] == "" {
		return 0, "", fmt.Errorf("admin payload %q: malformed", ev.CallbackArg)
	}
	return owner, parts[1], nil
}

func (f *Flow) notifyAdmin(ctx context.Context, ev event.Event, entry records.BotEntry) error {
	if f.AdminID == 0 {
		return errors.New("no admin configured")
	}
	who := fmt.Sprintf("%s (%s, ID: <code>%d</code>)",
		format.Escape(orNA(ev.FirstName)), format.Escape(format.Handle(orNA(ev.Username))), ev.UserID)
	text := fmt.Sprintf("🆕 <b>New Bot Creation Request</b>\n\n"+
		"<b>From:</b> %s\n<b>Bot Name:</b> %s\n<b>Bot Username:</b> %s\n\n<b>Configuration:</b>\n",
		who, format.Escape(entry.BotName), format.Escape(entry.BotUsername))
	const tail = "\n...(truncated)"
	config := format.Pre("yaml", entry.ConfigDetails)
	if len(text)+len(config) > format.MaxMessageLen {
		// Cutting inside the escaped block would break the markup.
		budget := format.MaxMessageLen - len(text) - len(tail) - len(`<pre><code class="language-yaml"></code></pre>`)
		config = format.Pre("yaml", format.Truncate(entry.ConfigDetails, budget/2, "")) + tail
	}
	payload := AdminPayload(ev.UserID, entry.BotUsername)
	kb := keyboard.Inline{{
		keyboard.Callback("✅ Approve", KeyApprove, payload),
		keyboard.Callback("❌ Decline", KeyDecline, payload),
	}}
	return f.Transport.Notify(ctx, f.AdminID, chat.Text(text+config, kb))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// ShowAdminHelp explains how to make the new bot an administrator. While
// the user is at an admin confirmation step the confirm button is repeated.
func (f *Flow) ShowAdminHelp(ctx context.Context, ev event.Event) error {
	text := "<b>How to make your new bot an Administrator:</b>\n\n" +
		"1. Open the Telegram Channel/Group where the bot needs admin rights.\n" +
		"2. Go to Channel/Group Info.\n" +
		"3. Tap on 'Administrators' (or 'Edit' then 'Administrators').\n" +
		"4. Tap 'Add Admin'.\n" +
		"5. Search for your new bot's username (e.g., <code>@YourNewBot_bot</code> that you are creating).\n" +
		"6. Select your bot.\n" +
		"7. Grant necessary permissions (e.g., 'Post messages' for payment channels; for mandatory join checks, the bot needs to be able to see members, which is usually default for admins).\n" +
		"8. Save the changes.\n\n" +
		"Once done, you can proceed with the setup here."

	var kb keyboard.Inline
	if f.m != nil {
		sess, err := f.m.Session(ctx, ev.UserID)
		if err == nil && sess.Active() {
			switch sess.State {
			case StatePaymentAdmin:
				kb = adminHelpKeyboard(keyboard.Callback("✅ Done, Bot is Admin", KeyPaymentAdminDone))
			case StateMustJoinAdmin:
				kb = adminHelpKeyboard(keyboard.Callback("✅ Done, Bot is Admin", KeyMustJoinAdmin))
			}
		}
	}
	_, err := f.Transport.Send(ctx, ev.ChatID, chat.Text(text, kb))
	return err
}
