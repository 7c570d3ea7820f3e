package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/core/telegram/middleware"
)

const testToken = "123456:TEST"

type fakeAPI struct {
	mu      sync.Mutex
	methods []string
	bodies  []string
	replies map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.methods = append(f.methods, method)
	f.bodies = append(f.bodies, string(body))
	reply, ok := f.replies[method]
	f.mu.Unlock()

	if !ok {
		reply = `{"ok":true,"result":true}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, reply)
}

func newTestTransport(t *testing.T, replies map[string]string) (*BotTransport, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{replies: replies}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	bot, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: testToken, Offline: true, Client: srv.Client()})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	return NewBotTransport(bot, nil), api
}

func TestBotTransportSend(t *testing.T) {
	tr, api := newTestTransport(t, map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":77,"type":"private"}}}`,
	})
	ctx := middleware.WithCounters(context.Background())
	msg := chat.Text("<b>hi</b>", keyboard.Rows(keyboard.Callback("Go", "my_bots")))
	ref, err := tr.Send(ctx, 77, msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref.ChatID != 77 || ref.MessageID != 5 {
		t.Fatalf("ref = %+v", ref)
	}
	if len(api.methods) != 1 || api.methods[0] != "sendMessage" {
		t.Fatalf("methods = %v", api.methods)
	}
	if !strings.Contains(api.bodies[0], "HTML") || !strings.Contains(api.bodies[0], "my_bots") {
		t.Fatalf("body = %s", api.bodies[0])
	}
	if n, kb := middleware.CountersFrom(ctx); n != 1 || !kb {
		t.Fatalf("counters = %d, %v", n, kb)
	}
}

func TestBotTransportSendPhoto(t *testing.T) {
	tr, api := newTestTransport(t, map[string]string{
		"sendPhoto": `{"ok":true,"result":{"message_id":6,"date":0,"chat":{"id":1,"type":"private"},` +
			`"photo":[{"file_id":"file-1","file_unique_id":"u1","width":1,"height":1}],"caption":"cap"}}`,
	})
	msg := chat.Message{Text: "cap", PhotoID: "file-1", ParseMode: chat.ParseHTML}
	ref, err := tr.Send(context.Background(), 1, msg)
	if err != nil {
		t.Fatalf("send photo: %v", err)
	}
	if ref.MessageID != 6 {
		t.Fatalf("ref = %+v", ref)
	}
	if len(api.methods) != 1 || api.methods[0] != "sendPhoto" {
		t.Fatalf("methods = %v", api.methods)
	}
	body := api.bodies[0]
	if !strings.Contains(body, `"caption":"cap"`) || !strings.Contains(body, `"parse_mode":"HTML"`) || !strings.Contains(body, "file-1") {
		t.Fatalf("body = %s", body)
	}
}

func TestBotTransportBlockedError(t *testing.T) {
	tr, _ := newTestTransport(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
	})
	_, err := tr.Send(context.Background(), 1, chat.Text("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("err = %v", err)
	}
}

func TestBotTransportMemberStatus(t *testing.T) {
	tr, _ := newTestTransport(t, map[string]string{
		"getChatMember": `{"ok":true,"result":{"status":"administrator","user":{"id":9,"is_bot":false,"first_name":"A"}}}`,
		"getChat":       `{"ok":true,"result":{"id":-100,"type":"channel","title":"News","username":"news"}}`,
	})
	status, err := tr.MemberStatus(context.Background(), "@news", 9)
	if err != nil || status != chat.StatusAdministrator {
		t.Fatalf("status = %q, %v", status, err)
	}
	kind, err := tr.ChatKind(context.Background(), "@news")
	if err != nil || kind != chat.KindChannel {
		t.Fatalf("kind = %q, %v", kind, err)
	}
}

func TestBotTransportRespectsCancelledContext(t *testing.T) {
	tr, api := newTestTransport(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Send(ctx, 1, chat.Text("x")); err == nil {
		t.Fatalf("expected context error")
	}
	if len(api.methods) != 0 {
		t.Fatalf("no request should be made, got %v", api.methods)
	}
}

func TestTokenChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "/botgood:") {
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"Earn","username":"earn_bot"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	checker := &TokenChecker{APIURL: srv.URL, Client: srv.Client()}
	profile, err := checker.Validate(context.Background(), "good:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if profile.Username != "earn_bot" || profile.ID != 99 {
		t.Fatalf("profile = %+v", profile)
	}
	if _, err := checker.Validate(context.Background(), "bad:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err == nil {
		t.Fatalf("expected unauthorized error")
	}
}
