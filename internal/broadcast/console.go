package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/event"
	"github.com/m3rciful/botmaker/core/telegram/format"
	"github.com/m3rciful/botmaker/core/telegram/keyboard"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/records"
	"github.com/m3rciful/botmaker/internal/wizard"
)

// Commands and callback keys of the admin console.
const (
	CmdBroadcast = "/broadcast"
	CmdStop      = "/stopbroadcast"
	KeyConfirm   = "confirm_broadcast"
	KeyCancel    = "cancel_broadcast"
)

// StateContent waits for the message to broadcast.
const StateContent state.State = "broadcast_awaiting_content"

// Kind is the draft discriminator used by session codecs.
const Kind = "broadcast"

const previewLimit = 1000

// Draft marks a capture session. It carries no answers.
type Draft struct{}

// Kind implements state.Draft.
func (*Draft) Kind() string { return Kind }

// Clone implements state.Draft.
func (*Draft) Clone() state.Draft { return &Draft{} }

// RegisterKinds teaches a session codec to decode capture drafts.
func RegisterKinds(c *state.Codec) {
	c.Register(Kind, func() state.Draft { return &Draft{} })
}

// Console is the admin surface: capture, preview, confirm, stop.
// Content is staged per admin and at most one run is active.
type Console struct {
	Records   records.Store
	Transport chat.Transport
	Engine    *Engine

	m *wizard.Machine

	mu      sync.Mutex
	staged  map[int64]Content
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Attach registers the capture step on m.
func (c *Console) Attach(m *wizard.Machine) {
	c.m = m
	m.Add(StateContent, wizard.Step{Handle: c.capture})
}

func (c *Console) reply(ctx context.Context, chatID int64, text string, kb ...keyboard.Inline) error {
	_, err := c.Transport.Send(ctx, chatID, chat.Text(text, kb...))
	return err
}

// Running reports whether a broadcast is in progress.
func (c *Console) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Begin handles /broadcast.
func (c *Console) Begin(ctx context.Context, ev event.Event) error {
	if c.Running() {
		return c.reply(ctx, ev.ChatID, "⚠️ A broadcast is already running. Use <code>/stopbroadcast</code> to stop it.")
	}
	prompt := "Admin, send the message to broadcast (text, photo/video with caption).\nType <code>/cancel</code> to abort."
	return c.m.Start(ctx, ev.UserID, ev.ChatID, StateContent, &Draft{}, chat.Text(prompt))
}

func (c *Console) capture(ctx context.Context, t *wizard.Turn) error {
	if _, err := wizard.DraftAs[*Draft](t.Session); err != nil {
		return err
	}
	ev := t.Event
	if ev.IsCallback() {
		t.Answer("Send the broadcast message or type /cancel.", true)
		t.Retry("")
		return nil
	}
	content := Content{Text: ev.Text, PhotoID: ev.PhotoID, VideoID: ev.VideoID}
	if content.Empty() {
		t.Done()
		t.Say("Broadcast cancelled: No content (text, photo, video).")
		return nil
	}

	users, err := c.Records.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("count recipients: %w", err)
	}

	c.mu.Lock()
	if c.staged == nil {
		c.staged = make(map[int64]Content)
	}
	c.staged[ev.UserID] = content
	c.mu.Unlock()

	t.Done()
	preview := chat.Text(previewText(content, len(users)), keyboard.Inline{{
		keyboard.Callback("✅ Confirm & Send", KeyConfirm),
		keyboard.Callback("❌ Cancel Broadcast", KeyCancel),
	}})
	preview.PhotoID = content.PhotoID
	preview.VideoID = content.VideoID
	t.Reply(preview)
	return nil
}

func previewText(content Content, users int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Broadcast Preview</b>\n(To %d users)\n\n", users)
	if content.PhotoID != "" {
		b.WriteString("[Photo Attached]\n")
	}
	if content.VideoID != "" {
		b.WriteString("[Video Attached]\n")
	}
	if content.Text == "" {
		b.WriteString("(No text caption)\n\n")
		return b.String()
	}
	b.WriteString("<b>Text/Caption:</b>\n")
	b.WriteString(format.Escape(format.Truncate(content.Text, previewLimit, "...")))
	b.WriteString("\n\n")
	return b.String()
}

func (c *Console) take(adminID int64) (Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.staged[adminID]
	delete(c.staged, adminID)
	return content, ok
}

// Staged reports whether adminID has content awaiting confirmation.
func (c *Console) Staged(adminID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.staged[adminID]
	return ok
}

// Dismiss handles cancel_broadcast. Nothing is sent.
func (c *Console) Dismiss(ctx context.Context, ev event.Event) error {
	c.take(ev.UserID)
	_ = c.Transport.Answer(ctx, ev.CallbackID, "Broadcast cancelled.", false)
	logger.Broadcast.InfoContext(ctx, "broadcast dismissed", slog.String("event", "broadcast.dismiss"))
	return c.Transport.Edit(ctx, chat.Ref{ChatID: ev.ChatID, MessageID: ev.MessageID},
		chat.Text("✅ Broadcast has been cancelled by Admin."))
}

// Confirm handles confirm_broadcast: the staged content is sent to every
// user in the background.
func (c *Console) Confirm(ctx context.Context, ev event.Event) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return c.Transport.Answer(ctx, ev.CallbackID, "A broadcast is already running.", true)
	}
	content, ok := c.staged[ev.UserID]
	if !ok {
		c.mu.Unlock()
		_ = c.Transport.Answer(ctx, ev.CallbackID, "Error: No broadcast data found. Please start over with /broadcast.", true)
		return c.Transport.Edit(ctx, chat.Ref{ChatID: ev.ChatID, MessageID: ev.MessageID},
			chat.Text("Broadcast data lost or expired. Please use /broadcast again."))
	}
	delete(c.staged, ev.UserID)

	users, err := c.Records.ListUsers(ctx)
	if err != nil {
		// Keep the content so the admin can retry the confirmation.
		c.staged[ev.UserID] = content
		c.mu.Unlock()
		return fmt.Errorf("list recipients: %w", err)
	}
	recipients := make([]int64, 0, len(users))
	for _, u := range users {
		recipients = append(recipients, u.ID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.running = true
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	_ = c.Transport.Answer(ctx, ev.CallbackID, "Commencing broadcast...", false)
	if ev.MessageID != 0 {
		if err := c.Transport.Edit(ctx, chat.Ref{ChatID: ev.ChatID, MessageID: ev.MessageID},
			chat.Text("🚀 Initiating broadcast to all users. This may take some time...")); err != nil {
			logger.Broadcast.DebugContext(ctx, "preview edit failed", logger.Err(err))
		}
	}
	logger.Broadcast.InfoContext(ctx, "broadcast started",
		slog.String("event", "broadcast.start"),
		slog.Int("recipients", len(recipients)),
	)

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.running = false
			c.cancel = nil
			c.mu.Unlock()
			cancel()
		}()
		c.run(runCtx, ev.ChatID, content, recipients)
	}()
	return nil
}

// Stop handles /stopbroadcast.
func (c *Console) Stop(ctx context.Context, ev event.Event) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return c.reply(ctx, ev.ChatID, "No broadcast is running.")
	}
	cancel()
	return c.reply(ctx, ev.ChatID, "🛑 Stopping broadcast...")
}

// Wait blocks until the running broadcast, if any, has finished.
func (c *Console) Wait() {
	c.wg.Wait()
}

// Shutdown stops a running broadcast and waits for it.
func (c *Console) Shutdown() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func statusText(r Report) string {
	return fmt.Sprintf("Broadcasting...\n\nProcessed: %d / %d\nSent: %d\nFailed: %d\nBlocked: %d",
		r.Processed(), r.Total, r.Sent, r.Failed, r.Blocked)
}

// FinalText is the summary posted when a run ends.
func FinalText(r Report) string {
	head := "✅ <b>Broadcast Complete!</b>"
	if r.Cancelled {
		head = "🛑 <b>Broadcast Stopped.</b>"
	}
	return fmt.Sprintf("%s\n\nProcessed: %d / %d\nSent: %d\nFailed: %d\nBlocked/Inactive: %d",
		head, r.Processed(), r.Total, r.Sent, r.Failed, r.Blocked)
}

func (c *Console) run(ctx context.Context, adminChat int64, content Content, recipients []int64) {
	// Status edits must outlive a stop request.
	statusCtx := context.WithoutCancel(ctx)
	status, err := c.Transport.Send(statusCtx, adminChat, chat.Text(fmt.Sprintf(
		"🚀 Broadcasting started...\n\nProcessed: 0 / %d\nSent: 0\nFailed: 0\nBlocked: 0", len(recipients))))
	haveStatus := err == nil
	if err != nil {
		logger.Broadcast.WarnContext(ctx, "status message failed", logger.Err(err))
	}

	report := c.Engine.Run(ctx, content, recipients, func(r Report) {
		if !haveStatus {
			return
		}
		if err := c.Transport.Edit(statusCtx, status, chat.Text(statusText(r))); err != nil {
			logger.Broadcast.DebugContext(ctx, "status edit failed", logger.Err(err))
		}
	})

	final := chat.Text(FinalText(report))
	if !haveStatus || c.Transport.Edit(statusCtx, status, final) != nil {
		if _, err := c.Transport.Send(statusCtx, adminChat, final); err != nil {
			logger.Broadcast.WarnContext(ctx, "final summary failed", logger.Err(err))
		}
	}
	if err := c.markBlocked(statusCtx, report.BlockedIDs); err != nil {
		logger.Broadcast.ErrorContext(ctx, "blocked users not recorded",
			slog.String("event", "broadcast.mark_blocked"),
			logger.Err(err),
		)
	}
}

// markBlocked flags unreachable users and refreshes the blocked counter.
func (c *Console) markBlocked(ctx context.Context, ids []int64) error {
	var errs []error
	for _, id := range ids {
		_, err := c.Records.Update(ctx, id, func(u *records.UserRecord, found bool) error {
			if !found || u.Blocked {
				return records.ErrUnchanged
			}
			u.Blocked = true
			return nil
		})
		if err != nil && !errors.Is(err, records.ErrNotFound) {
			errs = append(errs, fmt.Errorf("mark %d: %w", id, err))
		}
	}
	users, err := c.Records.ListUsers(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	blocked := 0
	for _, u := range users {
		if u.Blocked {
			blocked++
		}
	}
	if err := c.Records.UpdateStats(ctx, func(s *records.Stats) error {
		s.BlockedUsers = blocked
		return nil
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
