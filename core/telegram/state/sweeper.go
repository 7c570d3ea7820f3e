package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/botmaker/core/logger"
)

// Sweeper removes idle sessions.
type Sweeper interface {
	Sweep(now time.Time, idle time.Duration) int
}

// RunSweeper calls Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval, idle time.Duration) {
	if s == nil || interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now, idle); n > 0 {
				logger.Session.Info("idle sessions expired",
					slog.String("event", "session.sweep"),
					slog.Int("removed", n),
					slog.Duration("idle", idle),
				)
			}
		}
	}
}
