package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/botmaker/core/config"
	"github.com/m3rciful/botmaker/core/telegram/middleware"
)

// DefaultMiddlewares builds the shared middleware chain for bots.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
		{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	}

	if cfg != nil && cfg.RateLimit.PerSecond > 0 {
		ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, t := range cfg.RateLimit.ExcludeUpdates {
			ex[strings.ToLower(t)] = struct{}{}
		}
		limiter := middleware.NewRateLimiter(middleware.RateLimitOptions{
			PerSecond: cfg.RateLimit.PerSecond,
			Burst:     cfg.RateLimit.Burst,
			Exclude:   ex,
			OnLimited: onLimited,
		})
		mws = append(mws, Middleware{Name: "rate_limit", Use: limiter.Middleware})
	}
	return mws
}
