package maker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/botmaker/core/config"
	tg "github.com/m3rciful/botmaker/core/telegram"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/router"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/botcreate"
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/telegramtest"
)

const (
	admin     int64 = 1
	alice     int64 = 100
	goodToken       = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZabcd"
)

var clock = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	app      *App
	d        *router.Dispatcher
	tr       *telegramtest.Transport
	recs     *records.FileStore
	sessions *state.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	recs, err := records.OpenFile(filepath.Join(t.TempDir(), "database.json"))
	if err != nil {
		t.Fatalf("open records: %v", err)
	}
	tr := telegramtest.New()
	sessions := state.NewMemoryStore(0)
	app := New(Options{
		Records:   recs,
		Transport: tr,
		Sessions:  sessions,
		Tokens:    telegramtest.Validator{goodToken: {ID: 5, Username: "earn_bot"}},
		AdminID:   admin,
		Maker: config.MakerConfig{
			ChannelUsername: "tenoco",
			ChannelLink:     "https://t.me/tenoco",
			SupportContact:  "tenocobot",
			MaxBots:         10,
			Templates:       []string{"STAR BOT"},
		},
		Now:   func() time.Time { return clock },
		NewID: func() string { return "bot-id" },
	})
	d := router.New(tg.NewRegistry(), app.Machine(), router.Options{AdminID: admin, Transport: tr})
	if err := d.Register(app.Commands(), app.Callbacks()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &harness{app: app, d: d, tr: tr, recs: recs, sessions: sessions}
}

func (h *harness) send(t *testing.T, user int64, text string) {
	t.Helper()
	ev := event.Event{UserID: user, ChatID: user, MessageID: 7, Text: text, Username: "alice", FirstName: "Alice"}
	ev.Command, ev.Payload = event.SplitCommand(text)
	if err := h.d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
}

func (h *harness) press(t *testing.T, user int64, key, arg string) {
	t.Helper()
	ev := event.Event{
		UserID: user, ChatID: user, MessageID: 50, Username: "alice", FirstName: "Alice",
		CallbackID: "cb-" + key, CallbackKey: key, CallbackArg: arg,
	}
	if err := h.d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("press %q: %v", key, err)
	}
}

func (h *harness) lastEdit(t *testing.T) chat.Message {
	t.Helper()
	edits := h.tr.Edits()
	if len(edits) == 0 {
		t.Fatalf("no edits")
	}
	return edits[len(edits)-1].Msg
}

func (h *harness) putBots(t *testing.T, owner int64, bots ...records.BotEntry) {
	t.Helper()
	u := records.NewUser(owner, "alice", "Alice", clock)
	u.Bots = bots
	if err := h.recs.PutUser(context.Background(), u); err != nil {
		t.Fatalf("put user: %v", err)
	}
}

func (h *harness) botStatus(t *testing.T, owner int64, bot string) records.BotStatus {
	t.Helper()
	u, err := h.recs.GetUser(context.Background(), owner)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	i := u.BotIndex(bot)
	if i < 0 {
		t.Fatalf("bot %s missing", bot)
	}
	return u.Bots[i].Status
}

func TestStartGatesAndRegistersOnce(t *testing.T) {
	h := newHarness(t)
	h.tr.Members["@tenoco"] = map[int64]string{}

	h.send(t, alice, "/start")
	msg, _ := h.tr.Last(alice)
	if !strings.Contains(msg.Text, "Please join our main channel") {
		t.Fatalf("gate text = %q", msg.Text)
	}
	if b, ok := msg.Keyboard.Find(KeyCheckSubscription); !ok || b.Text != "✅ Continue" {
		t.Fatalf("continue button missing: %+v", msg.Keyboard)
	}
	u, err := h.recs.GetUser(context.Background(), alice)
	if err != nil {
		t.Fatalf("user not registered: %v", err)
	}
	if !u.RegistrationDate.Equal(clock) {
		t.Fatalf("registration = %v", u.RegistrationDate)
	}

	h.press(t, alice, KeyCheckSubscription, "")
	if a, _ := h.tr.LastAnswer(); !a.Alert || !strings.Contains(a.Text, "@tenoco") {
		t.Fatalf("answer = %+v", a)
	}

	h.tr.SetMember("@tenoco", alice, chat.StatusMember)
	h.press(t, alice, KeyCheckSubscription, "")
	if got := h.lastEdit(t); !strings.HasPrefix(got.Text, "✅ Welcome to BotMaker, @alice!") {
		t.Fatalf("welcome = %q", got.Text)
	}

	later := event.Event{UserID: alice, ChatID: alice, Text: "/start", Command: "/start", Username: "alice2"}
	h.app.now = func() time.Time { return clock.Add(48 * time.Hour) }
	if err := h.d.Dispatch(context.Background(), later); err != nil {
		t.Fatalf("second start: %v", err)
	}
	u, _ = h.recs.GetUser(context.Background(), alice)
	if !u.RegistrationDate.Equal(clock) || u.Username != "alice2" {
		t.Fatalf("after second start: %+v", u)
	}
	if !strings.HasPrefix(h.tr.LastText(alice), "✅ Welcome back to BotMaker, @alice2!") {
		t.Fatalf("member start = %q", h.tr.LastText(alice))
	}
}

func TestCreateBotRunsWizardThroughRouter(t *testing.T) {
	h := newHarness(t)
	h.press(t, alice, KeyCreateBot, "")
	if _, ok := h.lastEdit(t).Keyboard.Find(botcreate.KeyTemplate); !ok {
		t.Fatalf("template menu missing")
	}
	h.press(t, alice, botcreate.KeyTemplate, "0")
	h.send(t, alice, goodToken)

	s, err := h.sessions.Get(context.Background(), alice)
	if err != nil || s == nil {
		t.Fatalf("session = %v, %v", s, err)
	}
	if s.State != botcreate.StateName {
		t.Fatalf("state = %q", s.State)
	}

	h.press(t, alice, botcreate.KeyBackToMain, "")
	if s, _ := h.sessions.Get(context.Background(), alice); s != nil {
		t.Fatalf("back to main left session %+v", s)
	}
	if _, ok := h.lastEdit(t).Keyboard.Find(KeyMyBots); !ok {
		t.Fatalf("main menu missing after back")
	}
}

func TestCreateBotCapAtEntry(t *testing.T) {
	h := newHarness(t)
	bots := make([]records.BotEntry, 10)
	for i := range bots {
		bots[i] = records.BotEntry{BotUsername: "@b" + string(rune('a'+i)) + "_bot", Status: records.BotActive}
	}
	h.putBots(t, alice, bots...)

	h.press(t, alice, KeyCreateBot, "")
	if !strings.Contains(h.lastEdit(t).Text, "maximum limit of <b>10 bots!</b>") {
		t.Fatalf("cap text = %q", h.lastEdit(t).Text)
	}
	if active, _ := h.app.Machine().Active(context.Background(), alice); active {
		t.Fatalf("capped user got a session")
	}
}

func TestMyBotsInfoAndDelete(t *testing.T) {
	h := newHarness(t)
	h.press(t, alice, KeyMyBots, "")
	if !strings.HasPrefix(h.lastEdit(t).Text, "You haven't created any bots") {
		t.Fatalf("empty list = %q", h.lastEdit(t).Text)
	}

	h.putBots(t, alice, records.BotEntry{
		BotName: "Earn", BotUsername: "@earn_bot", Status: records.BotPending,
		CreationRequestDate: clock, ConfigDetails: "bot_token: x <y>",
	})
	h.press(t, alice, KeyMyBots, "")
	list := h.lastEdit(t)
	b, ok := list.Keyboard.Find(KeyBotInfo)
	if !ok || b.Text != "Earn (@earn_bot) - Pending" || b.Data != "@earn_bot" {
		t.Fatalf("bot button = %+v", b)
	}

	h.press(t, alice, KeyBotInfo, "@earn_bot")
	info := h.lastEdit(t).Text
	if !strings.Contains(info, "<b>Status:</b> Pending") || !strings.Contains(info, "x &lt;y&gt;") {
		t.Fatalf("info = %q", info)
	}

	h.press(t, alice, KeyDeleteConfirm, "@earn_bot")
	if !strings.Contains(h.lastEdit(t).Text, "successfully deleted") {
		t.Fatalf("delete = %q", h.lastEdit(t).Text)
	}
	h.press(t, alice, KeyDeleteConfirm, "@earn_bot")
	if !strings.Contains(h.lastEdit(t).Text, "Could not delete") {
		t.Fatalf("second delete = %q", h.lastEdit(t).Text)
	}
}

func TestEditRecreateRemovesAndOffersTemplates(t *testing.T) {
	h := newHarness(t)
	h.putBots(t, alice, records.BotEntry{BotName: "Earn", BotUsername: "@earn_bot", Status: records.BotActive})

	h.press(t, alice, KeyEditConfirm, "@earn_bot")
	if _, ok := h.lastEdit(t).Keyboard.Find(botcreate.KeyTemplate); !ok {
		t.Fatalf("template menu missing: %q", h.lastEdit(t).Text)
	}
	u, _ := h.recs.GetUser(context.Background(), alice)
	if len(u.Bots) != 0 {
		t.Fatalf("bot kept: %+v", u.Bots)
	}
}

func TestAdminLifecycle(t *testing.T) {
	h := newHarness(t)
	h.putBots(t, alice, records.BotEntry{BotName: "Earn", BotUsername: "@earn_bot", Status: records.BotPending})
	payload := botcreate.AdminPayload(alice, "@earn_bot")

	h.press(t, alice, botcreate.KeyApprove, payload)
	if a, _ := h.tr.LastAnswer(); a.Text != router.UnauthorizedText {
		t.Fatalf("non-admin answer = %+v", a)
	}
	if st := h.botStatus(t, alice, "@earn_bot"); st != records.BotPending {
		t.Fatalf("status changed by non-admin: %s", st)
	}

	h.press(t, admin, botcreate.KeyApprove, payload)
	if st := h.botStatus(t, alice, "@earn_bot"); st != records.BotApproved {
		t.Fatalf("status = %s", st)
	}
	notes := h.tr.SentTo(alice)
	if len(notes) != 1 || !notes[0].Notify || !strings.Contains(notes[0].Msg.Text, "<b>approved</b>") {
		t.Fatalf("owner notes = %+v", notes)
	}
	if b, ok := h.lastEdit(t).Keyboard.Find(botcreate.KeyDone); !ok || b.Data != payload {
		t.Fatalf("done button = %+v", b)
	}

	h.press(t, admin, botcreate.KeyApprove, payload)
	if !strings.Contains(h.lastEdit(t).Text, "is already <b>Approved</b>") {
		t.Fatalf("repeat approve = %q", h.lastEdit(t).Text)
	}

	h.press(t, admin, botcreate.KeyDone, payload)
	if st := h.botStatus(t, alice, "@earn_bot"); st != records.BotActive {
		t.Fatalf("status = %s", st)
	}
	if !strings.Contains(h.tr.LastText(alice), "now <b>Active</b>") {
		t.Fatalf("owner note = %q", h.tr.LastText(alice))
	}

	h.press(t, admin, botcreate.KeyDecline, botcreate.AdminPayload(alice, "@missing_bot"))
	if !strings.Contains(h.lastEdit(t).Text, "Could not find bot request") {
		t.Fatalf("missing bot = %q", h.lastEdit(t).Text)
	}
}

func TestDeclineKeepsHistoryAndFreesSlot(t *testing.T) {
	h := newHarness(t)
	h.putBots(t, alice, records.BotEntry{BotUsername: "@earn_bot", Status: records.BotPending})
	h.press(t, admin, botcreate.KeyDecline, botcreate.AdminPayload(alice, "@earn_bot"))

	u, _ := h.recs.GetUser(context.Background(), alice)
	if len(u.Bots) != 1 || u.Bots[0].Status != records.BotDeclined || u.LiveBots() != 0 {
		t.Fatalf("after decline: %+v", u.Bots)
	}
	if !strings.Contains(h.tr.LastText(alice), "<b>declined</b>") {
		t.Fatalf("owner note = %q", h.tr.LastText(alice))
	}
}

func TestStatsCountsBotsByStatus(t *testing.T) {
	h := newHarness(t)
	h.putBots(t, alice,
		records.BotEntry{BotUsername: "@a_bot", Status: records.BotPending},
		records.BotEntry{BotUsername: "@b_bot", Status: records.BotActive},
	)
	h.putBots(t, 200)

	h.send(t, alice, "/stats")
	if h.tr.LastText(alice) != router.UnauthorizedText {
		t.Fatalf("non-admin stats = %q", h.tr.LastText(alice))
	}

	h.send(t, admin, "/stats")
	text := h.tr.LastText(admin)
	for _, want := range []string{"Total Registered Users:</b> 2", "Total Bots Created/Requested:</b> 2", "Pending: 1", "Active: 1", "Declined: 0"} {
		if !strings.Contains(text, want) {
			t.Fatalf("stats missing %q in %q", want, text)
		}
	}
}

func TestCancelCommand(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "/cancel")
	if !strings.Contains(h.tr.LastText(alice), "nothing to cancel") {
		t.Fatalf("idle cancel = %q", h.tr.LastText(alice))
	}
	h.press(t, alice, botcreate.KeyTemplate, "0")
	h.send(t, alice, "/cancel")
	if !strings.Contains(h.tr.LastText(alice), "Operation cancelled") {
		t.Fatalf("cancel = %q", h.tr.LastText(alice))
	}
	if active, _ := h.app.Machine().Active(context.Background(), alice); active {
		t.Fatalf("session survived /cancel")
	}
}

func TestMyAccount(t *testing.T) {
	h := newHarness(t)
	h.putBots(t, alice,
		records.BotEntry{BotUsername: "@a_bot", Status: records.BotActive},
		records.BotEntry{BotUsername: "@b_bot", Status: records.BotDeclined},
	)
	h.press(t, alice, KeyMyAccount, "")
	text := h.lastEdit(t).Text
	for _, want := range []string{"<code>100</code>", "@alice", "2024-03-01 10:00:00", "Bots Created:</b> 1 / 10", "@tenocobot"} {
		if !strings.Contains(text, want) {
			t.Fatalf("account missing %q in %q", want, text)
		}
	}
}
