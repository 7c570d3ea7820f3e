package botcreate

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/botconfig"
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/telegramtest"
	"github.com/m3rciful/botmaker/internal/wizard"
)

const (
	testUser  int64 = 100
	testAdmin int64 = 1
	goodToken       = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZabcd"
)

type harness struct {
	flow  *Flow
	m     *wizard.Machine
	store *state.MemoryStore
	recs  *records.FileStore
	tr    *telegramtest.Transport
	msgID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	recs, err := records.OpenFile(filepath.Join(t.TempDir(), "database.json"))
	if err != nil {
		t.Fatalf("open records: %v", err)
	}
	tr := telegramtest.New()
	tr.Kinds["@newschannel"] = chat.KindChannel
	tr.Kinds["@chatgroup"] = "supergroup"

	store := state.NewMemoryStore(0)
	m := wizard.New(store, tr)
	f := &Flow{
		Records:   recs,
		Transport: tr,
		Tokens:    telegramtest.Validator{goodToken: {ID: 5, Username: "earn_bot"}},
		AdminID:   testAdmin,
		MaxBots:   10,
		Templates: []string{"STAR BOT"},
		Now:       func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
		NewID:     func() string { return "bot-id-1" },
	}
	f.Attach(m)
	return &harness{flow: f, m: m, store: store, recs: recs, tr: tr}
}

func (h *harness) text(t *testing.T, s string) {
	t.Helper()
	h.msgID++
	ev := event.Event{UserID: testUser, ChatID: testUser, MessageID: h.msgID, Text: s, Username: "alice", FirstName: "Alice"}
	ev.Command, ev.Payload = event.SplitCommand(s)
	if err := h.m.Handle(context.Background(), ev); err != nil {
		t.Fatalf("text %q: %v", s, err)
	}
}

func (h *harness) press(t *testing.T, key string) {
	t.Helper()
	ev := event.Event{UserID: testUser, ChatID: testUser, CallbackID: "cb-" + key, CallbackKey: key}
	if err := h.m.Handle(context.Background(), ev); err != nil {
		t.Fatalf("press %q: %v", key, err)
	}
}

func (h *harness) begin(t *testing.T) {
	t.Helper()
	ev := event.Event{UserID: testUser, ChatID: testUser, CallbackID: "cb-tpl", CallbackKey: KeyTemplate, CallbackArg: "0"}
	if err := h.flow.Begin(context.Background(), ev); err != nil {
		t.Fatalf("begin: %v", err)
	}
}

func (h *harness) session(t *testing.T) *state.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), testUser)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func (h *harness) wantState(t *testing.T, want state.State) *Draft {
	t.Helper()
	s := h.session(t)
	if s == nil {
		t.Fatalf("no session, want state %q", want)
	}
	if s.State != want {
		t.Fatalf("state = %q, want %q", s.State, want)
	}
	return s.Draft.(*Draft)
}

// toMinWithdrawal walks the flow up to the min withdrawal prompt with no links.
func (h *harness) toMinWithdrawal(t *testing.T) {
	t.Helper()
	h.begin(t)
	h.text(t, goodToken)
	h.text(t, "My Earn Bot")
	h.text(t, "https://t.me/proofs_channel")
	h.press(t, KeyPaymentAdminDone)
	h.text(t, "/done")
	h.wantState(t, StateMinWithdrawal)
}

func TestFullRunFilesPendingBot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.begin(t)
	h.wantState(t, StateToken)

	h.text(t, goodToken)
	d := h.wantState(t, StateName)
	if d.BotUsername != "@earn_bot" || d.Token != goodToken {
		t.Fatalf("token step draft = %+v", d)
	}
	if dels := h.tr.Deletes(); len(dels) != 1 || dels[0].MessageID != h.msgID {
		t.Fatalf("token message not deleted: %+v", dels)
	}

	h.text(t, "  My Earn Bot  ")
	h.text(t, "https://t.me/proofs_channel")
	h.wantState(t, StatePaymentAdmin)
	h.press(t, KeyPaymentAdminDone)
	h.wantState(t, StateMustJoin)

	h.text(t, "https://example.com/join")
	h.text(t, "https://t.me/newschannel")
	h.wantState(t, StateMustJoinAdmin)
	h.press(t, KeyMustJoinAdmin)
	h.wantState(t, StateMandatory)
	h.press(t, KeyMustJoinYes)
	h.text(t, "t.me/chatgroup")
	d = h.wantState(t, StateMustJoin)
	if len(d.Channels) != 3 {
		t.Fatalf("channels = %+v", d.Channels)
	}

	h.text(t, "/done")
	h.text(t, "1,000")
	h.text(t, "5000")
	h.text(t, "2.5")

	if s := h.session(t); s != nil {
		t.Fatalf("session should be cleared, got %+v", s)
	}
	u, err := h.recs.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(u.Bots) != 1 {
		t.Fatalf("bots = %+v", u.Bots)
	}
	b := u.Bots[0]
	if b.Status != records.BotPending || b.ID != "bot-id-1" || b.BotUsername != "@earn_bot" || b.BotName != "My Earn Bot" || b.Template != "STAR BOT" {
		t.Fatalf("entry = %+v", b)
	}

	cfg, err := botconfig.Parse([]byte(b.ConfigDetails))
	if err != nil {
		t.Fatalf("parse stored config: %v", err)
	}
	want := botconfig.Config{
		BotToken:          goodToken,
		AdminID:           testAdmin,
		ReferralReward:    2.5,
		MinWithdrawal:     1000,
		MaxWithdrawal:     5000,
		WithdrawalEnabled: true,
		MustJoinChannels: []botconfig.Channel{
			{Name: "Link 1", URL: "https://example.com/join"},
			{Name: "Channel 2", URL: "https://t.me/newschannel", Check: true},
			{Name: "Link 3", URL: "t.me/chatgroup"},
		},
		Tasks:          botconfig.DefaultTasks(),
		PaymentChannel: "https://t.me/proofs_channel",
		BotUsername:    "@earn_bot",
		BotName:        "My Earn Bot",
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("config mismatch\n got: %+v\nwant: %+v", cfg, want)
	}

	notes := h.tr.SentTo(testAdmin)
	if len(notes) != 1 || !notes[0].Notify {
		t.Fatalf("admin notifications = %+v", notes)
	}
	approve, ok := notes[0].Msg.Keyboard.Find(KeyApprove)
	if !ok || approve.Data != "100:@earn_bot" {
		t.Fatalf("approve button = %+v", approve)
	}
	if !h.tr.Contains(testUser, "Configuration Complete") {
		t.Fatalf("user did not get a summary")
	}
}

func TestMaxBelowMinKeepsMin(t *testing.T) {
	h := newHarness(t)
	h.toMinWithdrawal(t)
	h.text(t, "50")
	h.text(t, "10")
	d := h.wantState(t, StateMaxWithdrawal)
	if d.MinWithdrawal == nil || *d.MinWithdrawal != 50 || d.MaxWithdrawal != nil {
		t.Fatalf("draft = %+v", d)
	}
	if !strings.Contains(h.tr.LastText(testUser), "must be >= min withdrawal") {
		t.Fatalf("reply = %q", h.tr.LastText(testUser))
	}
	h.text(t, "50")
	d = h.wantState(t, StateReferralReward)
	if *d.MaxWithdrawal != 50 {
		t.Fatalf("max = %v", *d.MaxWithdrawal)
	}
}

func TestNonNumericLeavesSessionUnchanged(t *testing.T) {
	for _, st := range []state.State{StateMinWithdrawal, StateMaxWithdrawal, StateReferralReward} {
		h := newHarness(t)
		h.toMinWithdrawal(t)
		if st != StateMinWithdrawal {
			h.text(t, "10")
		}
		if st == StateReferralReward {
			h.text(t, "20")
		}
		before := h.session(t)
		for _, junk := range []string{"abc", "-5", "", "1.2.3", "NaN"} {
			h.text(t, junk)
		}
		after := h.session(t)
		if after.State != before.State || !reflect.DeepEqual(after.Draft, before.Draft) {
			t.Fatalf("%s: session changed\nbefore %+v\nafter  %+v", st, before, after)
		}
	}
}

func TestCapRejectsBeforeSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := records.NewUser(testUser, "alice", "Alice", time.Now())
	for i := 0; i < 10; i++ {
		u.Bots = append(u.Bots, records.BotEntry{BotUsername: "@b" + string(rune('a'+i)), Status: records.BotActive})
	}
	if err := h.recs.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.begin(t)
	if s := h.session(t); s != nil {
		t.Fatalf("session created despite cap: %+v", s)
	}
	if !strings.Contains(h.tr.LastText(testUser), "maximum limit of <b>10 bots!</b>") {
		t.Fatalf("reply = %q", h.tr.LastText(testUser))
	}

	// Declined entries do not count.
	u.Bots[0].Status = records.BotDeclined
	if err := h.recs.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.begin(t)
	h.wantState(t, StateToken)
}

func TestPendingChannelBlocksNewLinkAndDoneDropsIt(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	h.text(t, goodToken)
	h.text(t, "Bot")
	h.text(t, "t.me/proofs_channel")
	h.press(t, KeyPaymentAdminDone)
	h.text(t, "https://t.me/newschannel")
	h.wantState(t, StateMustJoinAdmin)

	h.text(t, "https://example.com")
	d := h.wantState(t, StateMustJoinAdmin)
	if len(d.Channels) != 0 || d.Pending == nil {
		t.Fatalf("draft = %+v", d)
	}

	h.press(t, KeyMustJoinAdmin)
	h.text(t, "/done")
	d = h.wantState(t, StateMinWithdrawal)
	if d.Pending != nil || len(d.Channels) != 0 {
		t.Fatalf("pending channel survived /done: %+v", d)
	}
}

func TestTokenRejections(t *testing.T) {
	h := newHarness(t)
	h.begin(t)

	h.text(t, "short:token")
	h.wantState(t, StateToken)
	if len(h.tr.Deletes()) != 0 {
		t.Fatalf("malformed token should not be deleted")
	}

	h.text(t, "987654321:ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ")
	d := h.wantState(t, StateToken)
	if d.Token != "" {
		t.Fatalf("rejected token stored")
	}
	if len(h.tr.Deletes()) != 1 {
		t.Fatalf("token-shaped message should be deleted")
	}
	if !strings.Contains(h.tr.LastText(testUser), "Invalid bot token") {
		t.Fatalf("reply = %q", h.tr.LastText(testUser))
	}
}

func TestNameValidation(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	h.text(t, goodToken)
	h.text(t, "   ")
	h.wantState(t, StateName)
	h.text(t, strings.Repeat("é", MaxNameLen+1))
	h.wantState(t, StateName)
	h.text(t, strings.Repeat("é", MaxNameLen))
	h.wantState(t, StatePaymentChannel)
}

func TestOutOfTurnButtonIsAnswered(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	h.press(t, KeyMustJoinYes)
	h.wantState(t, StateToken)
	a, ok := h.tr.LastAnswer()
	if !ok || a.Text != FollowStepText || !a.Alert {
		t.Fatalf("answer = %+v", a)
	}
}

func TestMissingPrerequisiteFailsClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	draft := &Draft{Token: goodToken, BotUsername: "@earn_bot", BotName: "x", PaymentChannel: "t.me/proofs_channel"}
	if err := h.store.Set(ctx, testUser, &state.Session{State: StateMaxWithdrawal, Draft: draft}); err != nil {
		t.Fatalf("set: %v", err)
	}
	ev := event.Event{UserID: testUser, ChatID: testUser, Text: "10"}
	if err := h.m.Handle(ctx, ev); err == nil {
		t.Fatalf("expected an error")
	}
	if h.session(t) != nil {
		t.Fatalf("session should be cleared")
	}
	if h.tr.LastText(testUser) != wizard.InconsistentText {
		t.Fatalf("reply = %q", h.tr.LastText(testUser))
	}
}

func TestShowAdminHelpRepeatsConfirmButton(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	h.text(t, goodToken)
	h.text(t, "Bot")
	h.text(t, "https://t.me/proofs_channel")
	ev := event.Event{UserID: testUser, ChatID: testUser, CallbackID: "cb", CallbackKey: KeyAdminHelp}
	if err := h.flow.ShowAdminHelp(context.Background(), ev); err != nil {
		t.Fatalf("help: %v", err)
	}
	msg, _ := h.tr.Last(testUser)
	if _, ok := msg.Keyboard.Find(KeyPaymentAdminDone); !ok {
		t.Fatalf("confirm button missing: %+v", msg.Keyboard)
	}
}

func TestParseAdminPayload(t *testing.T) {
	owner, bot, err := ParseAdminPayload(event.Event{CallbackArg: AdminPayload(42, "@x_bot")})
	if err != nil || owner != 42 || bot != "@x_bot" {
		t.Fatalf("got %d %q %v", owner, bot, err)
	}
	for _, bad := range []string{"", "42", "abc:@x", "42:"} {
		if _, _, err := ParseAdminPayload(event.Event{CallbackArg: bad}); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
