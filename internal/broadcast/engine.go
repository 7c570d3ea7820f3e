// Package broadcast delivers one admin message to every known user and
// guards it behind a preview and confirmation step.
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/sender"
)

// Content is what the admin asked to broadcast. A photo or video turns
// Text into its caption.
type Content struct {
	Text    string `json:"text,omitempty"`
	PhotoID string `json:"photo_id,omitempty"`
	VideoID string `json:"video_id,omitempty"`
}

// Empty reports whether there is nothing to send.
func (c Content) Empty() bool {
	return c.Text == "" && c.PhotoID == "" && c.VideoID == ""
}

// Message renders c for delivery.
func (c Content) Message() chat.Message {
	m := chat.Text(c.Text)
	m.PhotoID = c.PhotoID
	m.VideoID = c.VideoID
	m.DisablePreview = true
	return m
}

// Report summarizes a run.
type Report struct {
	Total     int
	Sent      int
	Failed    int
	Blocked   int
	Cancelled bool
	// BlockedIDs lists recipients that will never accept a message again.
	BlockedIDs []int64
}

// Processed counts recipients that got their one attempt.
func (r Report) Processed() int { return r.Sent + r.Failed + r.Blocked }

// Sender is the part of the chat transport a run needs.
type Sender interface {
	Send(ctx context.Context, chatID int64, msg chat.Message) (chat.Ref, error)
}

// Options tunes pacing and progress reporting.
type Options struct {
	// Interval separates consecutive sends. Zero sends back to back.
	Interval time.Duration
	// ProgressEvery emits progress after this many recipients.
	ProgressEvery int
	// ProgressInterval emits progress when this much time has passed.
	ProgressInterval time.Duration
}

// Engine sends one message to many recipients, one attempt each.
type Engine struct {
	out  Sender
	opts Options
	now  func() time.Time
}

// NewEngine returns an engine delivering through out.
func NewEngine(out Sender, opts Options) *Engine {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 2 * time.Second
	}
	return &Engine{out: out, opts: opts, now: time.Now}
}

// Run delivers content to recipients in order. progress, when non-nil, is
// called with a snapshot every ProgressEvery recipients or ProgressInterval,
// whichever comes first. Cancelling ctx stops the run before the next send.
func (e *Engine) Run(ctx context.Context, content Content, recipients []int64, progress func(Report)) Report {
	limit := rate.Inf
	if e.opts.Interval > 0 {
		limit = rate.Every(e.opts.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)
	msg := content.Message()

	r := Report{Total: len(recipients)}
	lastProgress := e.now()
	start := lastProgress

	for i, id := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			r.Cancelled = true
			break
		}
		_, err := e.out.Send(ctx, id, msg)
		switch {
		case err == nil:
			r.Sent++
		case ctx.Err() != nil:
			// The send was cut short by cancellation, not by the recipient.
			r.Failed++
			r.Cancelled = true
		case sender.IsBlocked(err):
			r.Blocked++
			r.BlockedIDs = append(r.BlockedIDs, id)
			logger.Broadcast.DebugContext(ctx, "recipient unreachable",
				slog.String("event", "broadcast.blocked"),
				slog.Int64("target", id),
				slog.String("delivery", sender.DeliveryKind(err)),
			)
		default:
			r.Failed++
			logger.Broadcast.WarnContext(ctx, "delivery failed",
				slog.String("event", "broadcast.fail"),
				slog.Int64("target", id),
				slog.String("error_kind", sender.ErrorKind(err)),
				logger.Err(err),
			)
		}
		if r.Cancelled {
			break
		}

		done := i + 1
		if progress != nil && done < len(recipients) {
			if done%e.opts.ProgressEvery == 0 || e.now().Sub(lastProgress) >= e.opts.ProgressInterval {
				progress(r)
				lastProgress = e.now()
			}
		}
	}

	logger.Broadcast.InfoContext(ctx, "broadcast finished",
		slog.String("event", "broadcast.done"),
		slog.Int("total", r.Total),
		slog.Int("sent", r.Sent),
		slog.Int("failed", r.Failed),
		slog.Int("blocked", r.Blocked),
		slog.Bool("cancelled", r.Cancelled),
		slog.Duration("elapsed", logger.RoundMS(time.Since(start))),
	)
	return r
}
