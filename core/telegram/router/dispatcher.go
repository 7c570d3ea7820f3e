// Package router decides which handler serves an inbound event: the
// conversation machine of a user in the middle of a flow, a registered
// command or callback, or a fallback.
package router

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/logger"
	tg "github.com/m3rciful/botmaker/core/telegram"
	"github.com/m3rciful/botmaker/core/telegram/chat"
	"github.com/m3rciful/botmaker/core/telegram/commands"
	"github.com/m3rciful/botmaker/core/telegram/event"
	tghelpers "github.com/m3rciful/botmaker/core/telegram/helpers"
	"github.com/m3rciful/botmaker/core/telegram/middleware"
)

// Default replies.
const (
	UnauthorizedText = "⛔ Unauthorized"
	NotFoundText     = "Action not recognized"
	StaleText        = "⌛ This session has expired. Please start again."
	UnknownText      = "❓ Unrecognized command. Use /start to see the menu."
)

// FSM is the conversation machine the dispatcher feeds.
type FSM interface {
	// Active reports whether the user has a live session.
	Active(ctx context.Context, userID int64) (bool, error)
	// Owns reports whether a command or callback key belongs to the machine.
	Owns(key string) bool
	Handle(ctx context.Context, ev event.Event) error
}

// Options customises fallbacks. Nil handlers get the default replies.
type Options struct {
	AdminID   int64
	Transport chat.Transport

	Unauthorized event.Handler
	Unknown      event.Handler
	NotFound     event.Handler
	Stale        event.Handler
}

// Dispatcher routes events between the FSM and the registry.
type Dispatcher struct {
	reg  *tg.Registry
	fsm  FSM
	opts Options
}

// New builds a dispatcher. fsm may be nil for bots without flows.
func New(reg *tg.Registry, fsm FSM, opts Options) *Dispatcher {
	if reg == nil {
		reg = tg.NewRegistry()
	}
	d := &Dispatcher{reg: reg, fsm: fsm, opts: opts}
	if d.opts.Unauthorized == nil {
		d.opts.Unauthorized = d.replyWith(UnauthorizedText, true)
	}
	if d.opts.Unknown == nil {
		d.opts.Unknown = d.replyWith(UnknownText, false)
	}
	if d.opts.NotFound == nil {
		d.opts.NotFound = d.replyWith(NotFoundText, true)
	}
	if d.opts.Stale == nil {
		d.opts.Stale = d.replyWith(StaleText, true)
	}
	return d
}

func (d *Dispatcher) replyWith(text string, alert bool) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		if d.opts.Transport == nil {
			return nil
		}
		if ev.IsCallback() {
			return d.opts.Transport.Answer(ctx, ev.CallbackID, text, alert)
		}
		_, err := d.opts.Transport.Send(ctx, ev.ChatID, chat.Text(text))
		return err
	}
}

func (d *Dispatcher) active(ctx context.Context, userID int64) bool {
	if d.fsm == nil {
		return false
	}
	ok, err := d.fsm.Active(ctx, userID)
	if err != nil {
		logger.Session.WarnContext(ctx, "session lookup failed",
			slog.String("event", "router.session"),
			logger.Err(err),
		)
		return false
	}
	return ok
}

func (d *Dispatcher) owns(key string) bool {
	return d.fsm != nil && d.fsm.Owns(key)
}

func (d *Dispatcher) guard(adminOnly bool, h event.Handler) event.Handler {
	if !adminOnly {
		return h
	}
	return middleware.AdminOnly(d.opts.AdminID, h, d.opts.Unauthorized)
}

// Route picks the handler for ev and a name for logging.
func (d *Dispatcher) Route(ctx context.Context, ev event.Event) (string, event.Handler) {
	switch {
	case ev.IsCallback():
		return d.routeCallback(ctx, ev)
	case ev.IsCommand():
		return d.routeCommand(ctx, ev)
	}
	if d.active(ctx, ev.UserID) {
		return "fsm", d.fsm.Handle
	}
	if ev.HasMedia() {
		return "unexpected_media", d.opts.Unknown
	}
	return "unknown_text", d.opts.Unknown
}

func (d *Dispatcher) routeCommand(ctx context.Context, ev event.Event) (string, event.Handler) {
	live := d.active(ctx, ev.UserID)
	if live && d.owns(ev.Command) {
		return "fsm" + ev.Command, d.fsm.Handle
	}
	if key, cmd, ok := d.reg.LookupCommand(ev.Command); ok {
		return "cmd." + normalizeHandlerName(key), d.guard(cmd.AdminOnly, cmd.Handler)
	}
	if live {
		return "fsm", d.fsm.Handle
	}
	return "unknown_command", d.opts.Unknown
}

func (d *Dispatcher) routeCallback(ctx context.Context, ev event.Event) (string, event.Handler) {
	name := "callback." + normalizeHandlerName(ev.CallbackKey)
	if d.owns(ev.CallbackKey) {
		if d.active(ctx, ev.UserID) {
			return "fsm." + normalizeHandlerName(ev.CallbackKey), d.fsm.Handle
		}
		if cb, ok := d.reg.GetCallback(ev.CallbackKey); ok {
			return name, d.guard(cb.AdminOnly, cb.Handler)
		}
		return name + ".stale", d.opts.Stale
	}
	if cb, ok := d.reg.GetCallback(ev.CallbackKey); ok {
		return name, d.guard(cb.AdminOnly, cb.Handler)
	}
	return name + ".not_found", d.opts.NotFound
}

// Dispatch routes and runs ev.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) error {
	_, h := d.Route(ctx, ev)
	return h(ctx, ev)
}

// Register adds commands and callbacks to the underlying registry.
func (d *Dispatcher) Register(cmds map[string]commands.Command, cbs map[string]commands.Callback) error {
	for name, cmd := range cmds {
		if err := d.reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}
	for key, cb := range cbs {
		if err := d.reg.RegisterCallback(key, cb); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handle(c tele.Context) error {
	start := time.Now()
	ctx := tghelpers.BuildContext(c)
	ev := event.FromContext(c)

	name, h := d.Route(ctx, ev)
	ctx = tghelpers.WithHandler(c, name)
	err := h(ctx, ev)

	var extras []slog.Attr
	if ev.IsCallback() {
		extras = append(extras, slog.String("cb_key", ev.CallbackKey))
		if !middleware.Answered(ctx) && d.opts.Transport != nil {
			_ = d.opts.Transport.Answer(ctx, ev.CallbackID, "", false)
		}
	}
	logHandlerSummary(ctx, name, start, err, extras...)
	return nil
}

// Routes binds the dispatcher to every update kind the bots consume.
func (d *Dispatcher) Routes() []tg.Route {
	endpoints := []string{tele.OnText, tele.OnPhoto, tele.OnVideo, tele.OnDocument, tele.OnCallback}
	routes := make([]tg.Route, 0, len(endpoints))
	for _, ep := range endpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: d.handle})
	}
	return routes
}
