package logger

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var tokenRe = regexp.MustCompile(`[0-9]{6,}:[A-Za-z0-9_-]{30,}`)

// contextHandler decorates a builtin slog handler with request metadata carried
// in ctx and scrubs bot tokens from string attributes.
type contextHandler struct {
	next slog.Handler
}

func newHandler(w io.Writer, format logFormat, level slog.Leveler) *contextHandler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(timeFormatMillis))
			case slog.MessageKey:
				if a.Value.String() == "" {
					return slog.Attr{}
				}
				return slog.String("msg", a.Value.String())
			}
			return a
		},
	}
	var base slog.Handler
	if format == formatKV {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}
	return &contextHandler{next: base}
}

// Enabled reports whether the wrapped handler processes level.
func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle appends context identifiers, redacts tokens and forwards the record.
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	out.AddAttrs(contextAttrs(ctx)...)
	return h.next.Handle(ctx, out)
}

// WithAttrs returns a handler that always includes attrs.
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &contextHandler{next: h.next.WithAttrs(clean)}
}

// WithGroup returns a handler that nests subsequent attrs under name.
func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{next: h.next.WithGroup(name)}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if rid := RIDFrom(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	if id := UpdateIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int("update_id", id))
	}
	if id := UserIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int64("user_id", id))
	}
	if id := ChatIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int64("chat_id", id))
	}
	if name := HandlerFrom(ctx); name != "" {
		attrs = append(attrs, slog.String("handler", name))
	}
	return attrs
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); tokenRe.MatchString(s) {
			return slog.String(a.Key, Redact(s))
		}
	case slog.KindGroup:
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = redactAttr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindDuration:
		return slog.Int64(strings.TrimSuffix(a.Key, "_ms")+"_ms", RoundMS(a.Value.Duration()).Milliseconds())
	}
	return a
}

// Redact masks anything that looks like a Telegram bot token.
func Redact(s string) string {
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		if i := strings.IndexByte(tok, ':'); i > 0 {
			return tok[:i] + ":<redacted>"
		}
		return "<redacted>"
	})
}

// Took returns rounded duration since start for compact logging.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}
