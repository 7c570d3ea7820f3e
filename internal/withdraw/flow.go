// Package withdraw is the conversation that turns part of an earn bot
// balance into a pending withdrawal request.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
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
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/wizard"
)

// Conversation states in order.
const (
	StateAmount  state.State = "withdraw_awaiting_amount"
	StateAccount state.State = "withdraw_awaiting_account"
	StateWallet  state.State = "withdraw_awaiting_wallet"
)

// KeyMainMenu returns to the earn bot menu.
const KeyMainMenu = "main_menu"

var errInsufficient = errors.New("withdraw: insufficient balance")

// Flow wires the withdrawal conversation to its collaborators.
type Flow struct {
	Records   records.Store
	Transport chat.Transport

	Currency       string
	Min            float64
	Max            float64 // 0 means no upper bound
	PaymentChannel string
	BotUsername    string

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

func (f *Flow) money(v float64) string {
	return format.Amount(v) + " " + f.Currency
}

func backKeyboard() keyboard.Inline {
	return keyboard.Rows(keyboard.Callback("🔙 Back to Menu", KeyMainMenu))
}

// Attach registers the flow's steps on m.
func (f *Flow) Attach(m *wizard.Machine) {
	f.m = m
	m.Add(StateAmount, wizard.Step{Require: isDraft, Handle: f.text(f.handleAmount)})
	m.Add(StateAccount, wizard.Step{Require: needAmount, Handle: f.text(f.handleAccount)})
	m.Add(StateWallet, wizard.Step{Require: needAccount, Handle: f.text(f.handleWallet)})
}

func isDraft(sd state.Draft) error {
	if _, ok := sd.(*Draft); !ok {
		return errors.New("not a withdrawal draft")
	}
	return nil
}

func needAmount(sd state.Draft) error {
	d, ok := sd.(*Draft)
	if !ok {
		return errors.New("not a withdrawal draft")
	}
	if d.Amount == nil {
		return errors.New("amount missing")
	}
	return nil
}

func needAccount(sd state.Draft) error {
	if err := needAmount(sd); err != nil {
		return err
	}
	if sd.(*Draft).Account == "" {
		return errors.New("account missing")
	}
	return nil
}

type stepFunc func(ctx context.Context, t *wizard.Turn, d *Draft) error

func (f *Flow) text(h stepFunc) func(context.Context, *wizard.Turn) error {
	return func(ctx context.Context, t *wizard.Turn) error {
		d, err := wizard.DraftAs[*Draft](t.Session)
		if err != nil {
			return err
		}
		if t.Event.IsCallback() {
			t.Answer("Please finish or cancel the withdrawal first.", true)
			t.Retry("")
			return nil
		}
		return h(ctx, t, d)
	}
}

// Begin shows the balance and asks for an amount.
func (f *Flow) Begin(ctx context.Context, ev event.Event, balance float64) error {
	text := fmt.Sprintf("💰 Withdrawal\n\nYour Balance: %s\n\nMinimum Withdrawal: %s\nPlease enter the amount you want to withdraw:",
		f.money(balance), f.money(f.Min))
	return f.m.Start(ctx, ev.UserID, ev.ChatID, StateAmount, &Draft{}, chat.Text(text, backKeyboard()))
}

// ParseAmount reads a positive finite number.
func ParseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

func (f *Flow) handleAmount(ctx context.Context, t *wizard.Turn, d *Draft) error {
	amount, ok := ParseAmount(t.Event.Text)
	if !ok {
		t.Retry("❌ Please enter a valid number.", backKeyboard())
		return nil
	}
	if amount < f.Min {
		t.Retry(fmt.Sprintf("❌ Minimum withdrawal amount is %s.", f.money(f.Min)), backKeyboard())
		return nil
	}
	if f.Max > 0 && amount > f.Max {
		t.Retry(fmt.Sprintf("❌ Maximum withdrawal amount is %s.", f.money(f.Max)), backKeyboard())
		return nil
	}
	u, err := f.Records.GetUser(ctx, t.Event.UserID)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		return fmt.Errorf("load balance: %w", err)
	}
	var balance float64
	if u != nil {
		balance = u.Balance
	}
	if amount > balance {
		t.Retry(fmt.Sprintf("❌ Insufficient balance. Your balance is %s.", f.money(balance)), backKeyboard())
		return nil
	}
	d.Amount = &amount
	t.Goto(StateAccount)
	t.Say(fmt.Sprintf("Please enter your %s address:", f.Currency))
	return nil
}

func (f *Flow) handleAccount(ctx context.Context, t *wizard.Turn, d *Draft) error {
	account := strings.TrimSpace(t.Event.Text)
	if account == "" {
		t.Retry(fmt.Sprintf("Please enter your %s address:", f.Currency))
		return nil
	}
	d.Account = account
	t.Goto(StateWallet)
	t.Say("Please send the name of your wallet:")
	return nil
}

func (f *Flow) handleWallet(ctx context.Context, t *wizard.Turn, d *Draft) error {
	wallet := strings.TrimSpace(t.Event.Text)
	if wallet == "" {
		t.Retry("Please send the name of your wallet:")
		return nil
	}
	return f.commit(ctx, t, d, wallet)
}

func (f *Flow) commit(ctx context.Context, t *wizard.Turn, d *Draft, wallet string) error {
	ev := t.Event
	amount := *d.Amount
	req := records.WithdrawalRequest{
		ID:            f.newID(),
		Amount:        amount,
		AccountNumber: d.Account,
		BankName:      wallet,
		Date:          f.now().UTC(),
		Status:        records.WithdrawalPending,
	}
	u, err := f.Records.Update(ctx, ev.UserID, func(u *records.UserRecord, found bool) error {
		if !found || amount > u.Balance {
			return errInsufficient
		}
		u.Balance -= amount
		u.Withdrawals = append(u.Withdrawals, req)
		return nil
	})
	if errors.Is(err, errInsufficient) {
		t.Done()
		t.Say("❌ Insufficient balance. Please try the withdrawal again.", f.MainMenu)
		return nil
	}
	if err != nil {
		return fmt.Errorf("save withdrawal: %w", err)
	}
	t.Done()

	if err := f.Records.UpdateStats(ctx, func(s *records.Stats) error {
		s.Withdrawals++
		s.TotalWithdrawalAmount += amount
		return nil
	}); err != nil {
		logger.Store.WarnContext(ctx, "withdrawal stats not updated",
			slog.String("event", "withdraw.stats"),
			logger.Err(err),
		)
	}
	logger.Wizard.InfoContext(ctx, "withdrawal requested",
		slog.String("event", "withdraw.commit"),
		slog.String("withdrawal_id", req.ID),
		slog.Float64("amount", amount),
	)

	if err := f.announce(ctx, ev, u, req); err != nil {
		logger.Wizard.ErrorContext(ctx, "payment channel post failed",
			slog.String("event", "withdraw.announce"),
			slog.String("channel", f.PaymentChannel),
			logger.Err(err),
		)
	}

	text := fmt.Sprintf("✅ Withdrawal Request Submitted!\n\n"+
		"💎 Amount: %s\n🏦 Wallet: %s\n💳 %s Address: %s\n⏱️ Processing Time: 1-12 hours\n\n"+
		"Your payment will be processed soon. Looting, having multiple accounts, or any form of cheating will result in your withdrawal not being approved. "+
		"You can check status in our payment channel:\n%s",
		f.money(amount), format.Escape(wallet), f.Currency, format.Escape(d.Account), format.Escape(f.PaymentChannel))
	var buttons []keyboard.Button
	if strings.HasPrefix(f.PaymentChannel, "http") {
		buttons = append(buttons, keyboard.Link("📢 Payment Channel", f.PaymentChannel))
	}
	buttons = append(buttons, keyboard.Callback("🔙 Back to Menu", KeyMainMenu))
	t.Say(text, keyboard.Rows(buttons...))
	return nil
}

// ChannelTarget turns a payment channel setting into a Post address.
func ChannelTarget(channel string) string {
	channel = strings.TrimSpace(channel)
	if i := strings.Index(channel, "t.me/"); i >= 0 {
		return format.Handle(strings.Trim(channel[i+len("t.me/"):], "/"))
	}
	return channel
}

func (f *Flow) announce(ctx context.Context, ev event.Event, u *records.UserRecord, req records.WithdrawalRequest) error {
	target := ChannelTarget(f.PaymentChannel)
	if target == "" {
		return errors.New("no payment channel configured")
	}
	name := ev.Username
	if name == "" {
		name = "user" + strconv.FormatInt(ev.UserID, 10)
	}
	refs := 0
	if u != nil {
		refs = len(u.Referrals)
	}
	text := fmt.Sprintf("💰 New Withdrawal Request!\n\n"+
		"👤 User: %s (ID: %d)\n🏦 Wallet: %s\n💳 Address: %s\n💎 Amount: %s\n👥 Total Referrals: %d\n\nBot: %s",
		format.Escape(format.Handle(name)), ev.UserID, format.Escape(req.BankName), format.Code(req.AccountNumber),
		f.money(req.Amount), refs, format.Escape(f.BotUsername))
	_, err := f.Transport.Post(ctx, target, chat.Text(text))
	return err
}
