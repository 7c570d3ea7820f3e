package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/logger"
	tghelpers "github.com/m3rciful/botmaker/core/telegram/helpers"
)

// RateLimitOptions configures the per-user limiter.
type RateLimitOptions struct {
	PerSecond float64
	Burst     int
	// Exclude lists update kinds ("callback", "message") that bypass the limiter.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// IdleEvict drops limiters of users unseen for this long; 0 keeps them for 10 minutes.
	IdleEvict time.Duration
}

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter holds one token bucket per user.
type RateLimiter struct {
	opts     RateLimitOptions
	mu       sync.Mutex
	limiters map[int64]*userLimiter
	lastGC   time.Time
}

// NewRateLimiter builds a limiter; PerSecond <= 0 disables it.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.IdleEvict <= 0 {
		opts.IdleEvict = 10 * time.Minute
	}
	return &RateLimiter{opts: opts, limiters: make(map[int64]*userLimiter)}
}

// Allow consumes one token for userID at now.
func (l *RateLimiter) Allow(userID int64, now time.Time) bool {
	if l.opts.PerSecond <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.opts.IdleEvict {
		for id, ul := range l.limiters {
			if now.Sub(ul.seen) > l.opts.IdleEvict {
				delete(l.limiters, id)
			}
		}
		l.lastGC = now
	}

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rate.Limit(l.opts.PerSecond), l.opts.Burst)}
		l.limiters[userID] = ul
	}
	ul.seen = now
	return ul.lim.AllowN(now, 1)
}

// Middleware drops updates from users above their rate.
func (l *RateLimiter) Middleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		user := c.Sender()
		if user == nil || l.opts.PerSecond <= 0 {
			return next(c)
		}

		upd := c.Update()
		kind := "other"
		switch {
		case upd.Callback != nil:
			kind = "callback"
		case upd.Message != nil:
			kind = "message"
		}
		if _, skip := l.opts.Exclude[kind]; skip {
			return next(c)
		}

		if l.Allow(user.ID, time.Now()) {
			return next(c)
		}

		ctx := tghelpers.BuildContext(c)
		logger.TG.WarnContext(ctx, "rate limit",
			slog.String("event", "tg.rate_limit"),
			slog.String("kind", kind),
		)
		if l.opts.OnLimited != nil {
			_ = l.opts.OnLimited(c)
		}
		return nil
	}
}
