package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/logger"
	tghelpers "github.com/m3rciful/botmaker/core/telegram/helpers"
)

// PanicText is sent to the user whose update made a handler panic.
const PanicText = "⚠️ Something went wrong. Please try again or use /start."

// RecoverMiddleware logs a handler panic with its stack and tells the user
// instead of crashing the bot. A pressed button is answered so the client
// stops its spinner.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx := tghelpers.BuildContext(c)
			logger.TG.ErrorContext(ctx, "panic recovered",
				slog.String("event", "tg.panic"),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			if c.Callback() != nil {
				_ = c.Respond(&tele.CallbackResponse{Text: PanicText, ShowAlert: true})
			} else if c.Chat() != nil {
				_ = c.Send(PanicText)
			}
			err = nil
		}()
		return next(c)
	}
}
