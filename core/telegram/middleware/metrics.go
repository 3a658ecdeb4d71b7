package middleware

import (
	"context"
	"sync/atomic"

	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

type countersKey struct{}

// SendCounters tracks outbound messages produced while handling one update.
type SendCounters struct {
	messages atomic.Int32
	keyboard atomic.Bool
}

// RecordSend counts one delivered message on the counters carried by ctx, if any.
func RecordSend(ctx context.Context, withKeyboard bool) {
	if ctx == nil {
		return
	}
	sc, _ := ctx.Value(countersKey{}).(*SendCounters)
	if sc == nil {
		return
	}
	sc.messages.Add(1)
	if withKeyboard {
		sc.keyboard.Store(true)
	}
}

// MessageMetricsMiddleware attaches fresh send counters to the update context.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := context.WithValue(tghelpers.BuildContext(c), countersKey{}, &SendCounters{})
		tghelpers.StoreContext(c, ctx)
		return next(c)
	}
}

// GetCounters reads message count and keyboard presence flags from context.
func GetCounters(c tele.Context) (int, bool) {
	ctx, ok := tghelpers.ContextFrom(c)
	if !ok {
		return 0, false
	}
	sc, _ := ctx.Value(countersKey{}).(*SendCounters)
	if sc == nil {
		return 0, false
	}
	return int(sc.messages.Load()), sc.keyboard.Load()
}
