package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/telegram/sender"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

// Enqueue hands run to the dispatcher. Without a dispatcher, or when its queue
// is full or closed, run executes inline and its error is returned.
func Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, logger.CompSender, "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// TryEnqueue hands run to the dispatcher and reports whether it was accepted.
// It never runs inline, so callers on the logging path are never blocked.
func TryEnqueue(ctx context.Context, action, endpoint string, run func() error) bool {
	disp := currentDispatcher()
	if disp == nil {
		return false
	}
	return disp.Enqueue(ctx, action, endpoint, run) == nil
}
