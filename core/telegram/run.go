package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"
	tgsender "github.com/m3rciful/pizzabot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const defaultLongPollSeconds = 10

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config
	// Bot is built from Config when nil.
	Bot      *tele.Bot
	Registry *Registry

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// BuildPoller returns a long poller or a webhook listener according to the run mode.
func BuildPoller(cfg *coreconfig.Config) tele.Poller {
	if strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeWebhook) {
		return &tele.Webhook{
			Listen:   fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port),
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
	}
	return &tele.LongPoller{Timeout: time.Duration(longPollSeconds(cfg)) * time.Second}
}

func longPollSeconds(cfg *coreconfig.Config) int {
	if cfg.Telegram.LongPollTimeoutSeconds > 0 {
		return cfg.Telegram.LongPollTimeoutSeconds
	}
	return defaultLongPollSeconds
}

// BuildBot creates a bot with the configured poller and a retrying HTTP client.
// The client timeout leaves room for the long-poll window.
func BuildBot(cfg *coreconfig.Config, token string) (*tele.Bot, error) {
	start := time.Now()
	poller := BuildPoller(cfg)
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: poller,
		Client: netutil.NewHTTPClient(netutil.ClientOptions{
			Timeout: time.Duration(longPollSeconds(cfg)+20) * time.Second,
			Retries: 3,
		}),
		OnError: func(err error, c tele.Context) {
			ctx := logger.Background()
			if c != nil {
				ctx = tghelpers.BuildContext(c)
			}
			logger.Error(ctx, logger.CompTelegram, "bot.error",
				slog.String("status", "fail"),
				slog.String("err", tgsender.SanitizeError(err)),
				slog.String("err_code", logger.ErrorCode(err)),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	switch p := poller.(type) {
	case *tele.Webhook:
		logger.Info(logger.Background(), logger.CompTelegram, "mode",
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Duration("duration", logger.Took(start)),
		)
	default:
		logger.Info(logger.Background(), logger.CompTelegram, "mode",
			slog.String("mode", "polling"),
			slog.Int("timeout_seconds", longPollSeconds(cfg)),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return bot, nil
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	cfg := opts.Config

	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	bot := opts.Bot
	if bot == nil {
		var err error
		if bot, err = BuildBot(cfg, cfg.Telegram.Token); err != nil {
			return err
		}
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	tghelpers.SetDispatcher(dispatcher)
	defer func() {
		dispatcher.Close()
		tghelpers.SetDispatcher(nil)
	}()

	rt := Runtime{Bot: bot, Dispatcher: dispatcher, Registry: reg}

	if !opts.DisableWebhookCleanup && cfg.Telegram.RunMode == coreconfig.RunModeLongpoll {
		if err := bot.RemoveWebhook(false); err != nil {
			logger.Warn(ctx, logger.CompTelegram, "delete_webhook",
				slog.String("status", "fail"),
				slog.String("mode", "polling"),
				slog.String("err", tgsender.SanitizeError(err)),
			)
		} else {
			logger.Info(ctx, logger.CompTelegram, "delete_webhook",
				slog.String("status", "ok"),
				slog.String("mode", "polling"),
			)
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use == nil {
			continue
		}
		bot.Use(mw.Use)
	}

	for _, route := range opts.Routes {
		if route.Endpoint == nil || route.Handler == nil {
			continue
		}
		bot.Handle(route.Endpoint, route.Handler)
	}

	InitBotCommands(bot, reg)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
