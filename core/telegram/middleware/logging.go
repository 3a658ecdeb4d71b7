package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// recentUpdates keeps a short-lived set of processed update IDs to avoid double logging.
var (
	recentMu     sync.Mutex
	recentUpdate = make(map[int]time.Time)
	keepFor      = 10 * time.Second
)

func alreadyLogged(updateID int) bool {
	now := time.Now()
	recentMu.Lock()
	defer recentMu.Unlock()
	for id, ts := range recentUpdate {
		if now.Sub(ts) > keepFor {
			delete(recentUpdate, id)
		}
	}
	if _, ok := recentUpdate[updateID]; ok {
		return true
	}
	recentUpdate[updateID] = now
	return false
}

// LoggerMiddleware stores the request context with rid and logs one receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		userID := tghelpers.SenderID(c)
		updateID := int64(upd.ID)

		rid := logger.BuildRID(config.FrontTelegram, updateID, userID)
		c.Set("rid", rid)

		ctx := logger.WithRID(logger.Background(), rid)
		ctx = logger.WithEventMeta(ctx, config.FrontTelegram, updateID, userID)
		ctx = logger.WithLogger(ctx, logger.Component(logger.CompTelegram))
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug("update.received") && !alreadyLogged(upd.ID) {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.String("kind", updateKind(upd)),
			}
			if user := c.Sender(); user != nil && user.Username != "" {
				attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
			}
			switch {
			case upd.Callback != nil:
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(upd.Callback.Data, 256)))
			case upd.Message != nil:
				if t := c.Text(); t != "" {
					attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
				}
			}
			logger.LogEvent(ctx, logger.Component(logger.CompTelegram), slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.PreCheckoutQuery != nil:
		return "pre_checkout"
	case upd.Message != nil && upd.Message.Payment != nil:
		return "payment"
	case upd.Message != nil && upd.Message.Location != nil:
		return "location"
	case upd.Message != nil:
		return "message"
	default:
		return "other"
	}
}
