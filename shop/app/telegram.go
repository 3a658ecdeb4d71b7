package app

import (
	"context"
	"log/slog"

	"github.com/m3rciful/pizzabot/core/bootstrap"
	corecmd "github.com/m3rciful/pizzabot/core/cmd"
	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	tg "github.com/m3rciful/pizzabot/core/telegram"
	"github.com/m3rciful/pizzabot/shop/telegrambot"

	tele "gopkg.in/telebot.v4"
)

// Telegram is the polling (or Telegram webhook) front process.
type Telegram struct {
	svc *Services
}

// NewTelegram bootstraps logging and sessions and builds the shared services.
func NewTelegram(ctx context.Context, cfg *config.Config) (corecmd.App, error) {
	svc, err := bootstrapServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Telegram{svc: svc}, nil
}

func bootstrapServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	svc, err := NewServices(cfg, res.Sessions)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	return svc, nil
}

// Run serves updates until ctx is done.
func (a *Telegram) Run(ctx context.Context, ready func()) error {
	cfg := a.svc.Config
	bot, err := tg.BuildBot(cfg, cfg.Telegram.Token)
	if err != nil {
		_ = a.svc.Close(ctx)
		return err
	}

	sink := telegrambot.NewSink(bot)
	front := telegrambot.New(a.svc.Machine(config.FrontTelegram, sink), sink, a.svc.Payments)
	reg := front.Registry()

	return tg.RunTelegram(ctx, tg.RunOptions{
		Config:      cfg,
		Bot:         bot,
		Registry:    reg,
		Middlewares: tg.DefaultMiddlewares(cfg, nil),
		Routes:      front.Routes(reg),
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			// The dispatcher is wired by now, so alerts have a queue.
			installMonitor(ctx, cfg, rt.Bot)
			if ready != nil {
				ready()
			}
			return nil
		},
		OnStop: func(ctx context.Context, _ tg.Runtime) error {
			logger.SetAlertHook(nil)
			return a.svc.Close(ctx)
		},
	})
}

// installMonitor routes ERROR summaries to the admin chat. The monitor token
// wins; otherwise fallback is used, or an offline bot on the main token.
func installMonitor(ctx context.Context, cfg *config.Config, fallback *tele.Bot) {
	if cfg.Telegram.AdminID == 0 {
		return
	}
	var sender tg.AlertSender
	token := cfg.Telegram.MonitorToken
	if token == "" && fallback != nil {
		sender = fallback
	} else {
		if token == "" {
			token = cfg.Telegram.Token
		}
		mon, err := tg.NewMonitorBot(token)
		if err != nil {
			logger.Warn(ctx, logger.CompApp, "monitor",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			return
		}
		sender = mon
	}
	tg.NewMonitor(sender, cfg.Telegram.AdminID).Install()
	logger.Info(ctx, logger.CompApp, "monitor", slog.String("status", "ok"))
}
