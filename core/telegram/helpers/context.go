package helpers

import (
	"context"
	"strconv"

	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "logger_ctx"

// StoreContext attaches reusable context to tele.Context for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom telegram context if previously stored by middleware.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if v := c.Get(contextKey); v != nil {
		if ctx, ok := v.(context.Context); ok {
			return ctx, true
		}
	}
	return nil, false
}

// SenderID returns the Telegram user id as the string form used for session keys.
func SenderID(c tele.Context) string {
	if c == nil {
		return ""
	}
	if user := c.Sender(); user != nil && user.ID != 0 {
		return strconv.FormatInt(user.ID, 10)
	}
	if chat := c.Chat(); chat != nil && chat.ID != 0 {
		return strconv.FormatInt(chat.ID, 10)
	}
	return ""
}

// BuildContext constructs a context.Context from tele.Context,
// enriching it with RID and update/user metadata for consistent service logging.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	if c == nil {
		return context.Background()
	}

	updateID := int64(c.Update().ID)
	userID := SenderID(c)

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(config.FrontTelegram, updateID, userID)
	}

	ctx := context.Background()
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithEventMeta(ctx, config.FrontTelegram, updateID, userID)
	ctx = logger.WithLogger(ctx, logger.Component(logger.CompTelegram))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler enriches stored context with handler metadata for downstream logs.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}
