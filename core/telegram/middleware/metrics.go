package middleware

import (
	"context"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	tghelpers "github.com/m3rciful/botmaker/core/telegram/helpers"
)

type countersKey struct{}

// Counters tracks what a handler sent in reply to one update.
type Counters struct {
	messages atomic.Int32
	keyboard atomic.Bool
	answered atomic.Bool
}

// WithCounters attaches fresh counters to ctx.
func WithCounters(ctx context.Context) context.Context {
	return context.WithValue(ctx, countersKey{}, &Counters{})
}

// CountMessage records one outbound message on the counters carried by ctx.
func CountMessage(ctx context.Context, hasKeyboard bool) {
	cnt, ok := ctx.Value(countersKey{}).(*Counters)
	if !ok {
		return
	}
	cnt.messages.Add(1)
	if hasKeyboard {
		cnt.keyboard.Store(true)
	}
}

// MarkAnswered records that the callback query of the update was answered.
func MarkAnswered(ctx context.Context) {
	if cnt, ok := ctx.Value(countersKey{}).(*Counters); ok {
		cnt.answered.Store(true)
	}
}

// Answered reports whether MarkAnswered was called for ctx.
func Answered(ctx context.Context) bool {
	cnt, ok := ctx.Value(countersKey{}).(*Counters)
	return ok && cnt.answered.Load()
}

// CountersFrom reads message count and keyboard presence from ctx.
func CountersFrom(ctx context.Context) (int, bool) {
	cnt, ok := ctx.Value(countersKey{}).(*Counters)
	if !ok {
		return 0, false
	}
	return int(cnt.messages.Load()), cnt.keyboard.Load()
}

// MessageMetricsMiddleware seeds per-update counters into the stored context.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		if _, ok := ctx.Value(countersKey{}).(*Counters); !ok {
			tghelpers.StoreContext(c, WithCounters(ctx))
		}
		return next(c)
	}
}

// GetCounters reads the counters of the update c.
func GetCounters(c tele.Context) (int, bool) {
	return CountersFrom(tghelpers.BuildContext(c))
}
