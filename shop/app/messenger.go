package app

import (
	"context"
	"time"

	corecmd "github.com/m3rciful/pizzabot/core/cmd"
	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"
	tghelpers "github.com/m3rciful/pizzabot/core/telegram/helpers"
	tgsender "github.com/m3rciful/pizzabot/core/telegram/sender"
	"github.com/m3rciful/pizzabot/shop/messenger"
)

// Messenger is the Facebook webhook front process.
type Messenger struct {
	svc *Services
}

// NewMessenger bootstraps logging and sessions and builds the shared services.
func NewMessenger(ctx context.Context, cfg *config.Config) (corecmd.App, error) {
	svc, err := bootstrapServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Messenger{svc: svc}, nil
}

// Run serves the webhook until ctx is done.
func (a *Messenger) Run(ctx context.Context, ready func()) error {
	cfg := a.svc.Config
	defer func() { _ = a.svc.Close(context.WithoutCancel(ctx)) }()

	// Operator alerts still leave through Telegram, off the request path.
	dispatcher := tgsender.NewDispatcher(tgsender.Options{QueueSize: 64, Workers: 1})
	tghelpers.SetDispatcher(dispatcher)
	defer func() {
		logger.SetAlertHook(nil)
		dispatcher.Close()
		tghelpers.SetDispatcher(nil)
	}()
	installMonitor(ctx, cfg, nil)

	graph := messenger.NewGraph(cfg.Messenger.GraphURL, cfg.Messenger.PageToken,
		netutil.NewHTTPClient(netutil.ClientOptions{Timeout: 15 * time.Second}))
	sink := messenger.NewSink(graph)
	handler := messenger.NewHandler(a.svc.Machine(config.FrontMessenger, sink), cfg.Messenger.VerifyToken)

	return messenger.Serve(ctx, cfg.Messenger.Listen, handler.Router(), ready)
}
