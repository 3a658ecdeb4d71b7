package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/pizzabot/core/logger"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware catches panics in handlers and prevents the bot from crashing.
// The panic is reported at ERROR so it reaches the operator channel.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(tghelpers.BuildContext(c), logger.CompTelegram, "panic",
					slog.String("status", "fail"),
					slog.String("err", fmt.Sprint(r)),
					slog.String("err_code", "PANIC"),
					slog.String("stack", string(debug.Stack())),
				)
				err = nil
			}
		}()
		return next(c)
	}
}
