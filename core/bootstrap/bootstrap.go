package bootstrap

import (
	"context"
	"fmt"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/session"
)

// Options control the generic bootstrap pipeline shared between fronts.
type Options struct {
	Config *coreconfig.Config

	LoggerInit  func(*coreconfig.Config) error
	OpenSession func(context.Context, *coreconfig.Config) (session.Store, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Sessions session.Store
}

// Close releases the session store.
func (r *Result) Close() error {
	if r == nil || r.Sessions == nil {
		return nil
	}
	return r.Sessions.Close()
}

// Run initializes the logger and opens the session store. Postgres sessions
// apply their migrations while opening.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	open := opts.OpenSession
	if open == nil {
		open = session.Open
	}
	store, err := open(ctx, opts.Config)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: session store initialization failed: %w", err)
	}

	return &Result{Sessions: store}, nil
}
