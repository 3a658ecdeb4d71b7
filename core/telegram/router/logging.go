package router

import (
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"
	"github.com/m3rciful/pizzabot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

func handleWithSummary(c tele.Context, handlerName string, start time.Time, statusOverride, outcomeOverride string, fn func() error, extras ...slog.Attr) error {
	tghelpers.WithHandler(c, handlerName)
	err := fn()
	logHandlerSummary(c, handlerName, start, statusOverride, outcomeOverride, err, extras...)
	return err
}

// logHandlerSummary writes one line per handled update. Failures are logged at
// WARN: the conversation layer already reports them at ERROR.
func logHandlerSummary(c tele.Context, handlerName string, start time.Time, statusOverride, outcomeOverride string, err error, extras ...slog.Attr) {
	ctx := tghelpers.WithHandler(c, handlerName)
	msgs, kb := middleware.GetCounters(c)

	status := statusOverride
	if status == "" {
		status = logger.Status(err)
	}
	outcome := outcomeOverride
	if outcome == "" {
		if err != nil {
			outcome = "fail"
		} else {
			outcome = "ok"
		}
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", handlerName),
		slog.String("outcome", outcome),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrorCode(err)),
			slog.String("cause", handlerName),
		)
	}
	attrs = append(attrs, extras...)
	logger.LogEvent(ctx, logger.Component(logger.CompTelegram), level, "handler.handled", attrs...)
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

// callbackVerb returns the first word of callback data, or "product" for bare ids.
func callbackVerb(data string) string {
	data = strings.TrimSpace(strings.TrimPrefix(data, "\f"))
	head, _, found := strings.Cut(data, " ")
	switch {
	case head == "":
		return "unknown"
	case found:
		return head
	case strings.IndexFunc(head, func(r rune) bool { return r == '-' || (r >= '0' && r <= '9') }) >= 0:
		return "product"
	default:
		return head
	}
}
