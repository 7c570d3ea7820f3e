package middleware

import (
	"context"

	"github.com/m3rciful/botmaker/core/telegram/event"
)

// IsAdmin reports whether userID is the configured admin. A zero admin ID
// matches nobody.
func IsAdmin(adminID, userID int64) bool {
	return adminID != 0 && userID == adminID
}

// AdminOnly wraps h so that only the admin reaches it; everyone else gets reject.
func AdminOnly(adminID int64, h, reject event.Handler) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		if !IsAdmin(adminID, ev.UserID) {
			if reject != nil {
				return reject(ctx, ev)
			}
			return nil
		}
		return h(ctx, ev)
	}
}
