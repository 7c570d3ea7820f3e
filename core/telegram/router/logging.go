package router

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/middleware"
	tgsender "github.com/m3rciful/botmaker/core/telegram/sender"
)

func logHandlerSummary(ctx context.Context, handlerName string, start time.Time, err error, extras ...slog.Attr) {
	msgs, kb := middleware.CountersFrom(ctx)

	status, level := "ok", slog.LevelInfo
	if err != nil {
		status, level = "fail", slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", handlerName),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	if err != nil {
		attrs = append(attrs,
			logger.Err(err),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	attrs = append(attrs, extras...)
	logger.LogEvent(ctx, logger.Component("tg"), level, "handler.handled", attrs...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

// deriveErrorCode prefers an explicit Code() method, then the transport
// classification, then the error's type name.
func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	if c, ok := err.(coder); ok {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	if kind := tgsender.ErrorKind(err); kind != "unknown" {
		return strings.ToUpper(kind)
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
