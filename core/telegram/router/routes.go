package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	tg "github.com/m3rciful/pizzabot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// Handlers are the update handlers of a bot. Nil handlers are not routed.
type Handlers struct {
	Text     tele.HandlerFunc
	Callback tele.HandlerFunc
	Location tele.HandlerFunc
	Checkout tele.HandlerFunc
	Payment  tele.HandlerFunc
}

// CommandRoutes binds every registered command to its endpoint.
func CommandRoutes(reg *tg.Registry) []tg.Route {
	if reg == nil {
		return nil
	}
	routes := make([]tg.Route, 0, len(reg.Commands()))
	for cmd, def := range reg.Commands() {
		routes = append(routes, tg.Route{
			Endpoint: cmd,
			Handler:  Summarized(normalizeHandlerName(cmd), def.Handler),
		})
	}
	return routes
}

// Routes builds command and update routes. Text that matches a registered
// command alias is served by the command handler.
func Routes(reg *tg.Registry, h Handlers) []tg.Route {
	routes := CommandRoutes(reg)

	if h.Text != nil {
		text := h.Text
		routes = append(routes, tg.Route{
			Endpoint: tele.OnText,
			Handler: func(c tele.Context) error {
				start := time.Now()
				if reg != nil {
					if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
						return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
							return cmd.Handler(c)
						})
					}
				}
				return handleWithSummary(c, "text", start, "", "", func() error { return text(c) })
			},
		})
	}
	if h.Callback != nil {
		cb := h.Callback
		routes = append(routes, tg.Route{
			Endpoint: tele.OnCallback,
			Handler: func(c tele.Context) error {
				start := time.Now()
				if c.Callback() == nil {
					return nil
				}
				verb := callbackVerb(c.Callback().Data)
				return handleWithSummary(c, "callback."+normalizeHandlerName(verb), start, "", "", func() error {
					return cb(c)
				}, slog.String("cb_key", verb))
			},
		})
	}
	if h.Location != nil {
		routes = append(routes, tg.Route{Endpoint: tele.OnLocation, Handler: Summarized("location", h.Location)})
	}
	if h.Checkout != nil {
		routes = append(routes, tg.Route{Endpoint: tele.OnCheckout, Handler: Summarized("pre_checkout", h.Checkout)})
	}
	if h.Payment != nil {
		routes = append(routes, tg.Route{Endpoint: tele.OnPayment, Handler: Summarized("payment", h.Payment)})
	}

	logger.Info(logger.Background(), "tg.wire", "complete",
		slog.Int("routes", len(routes)),
	)
	return routes
}

// Summarized wraps a handler with the per-update summary log line.
func Summarized(name string, h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		return handleWithSummary(c, name, time.Now(), "", "", func() error { return h(c) })
	}
}
