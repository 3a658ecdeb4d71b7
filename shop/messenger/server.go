package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

// Serve runs the webhook server on addr until ctx is done, then shuts down gracefully.
// ready is called once the listener is bound.
func Serve(ctx context.Context, addr string, handler http.Handler, ready func()) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("messenger: listen %s: %w", addr, err)
	}
	logger.Info(ctx, logger.CompMessenger, "listen",
		slog.String("status", "ok"),
		slog.String("addr", ln.Addr().String()),
	)
	if ready != nil {
		ready()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("messenger: shutdown: %w", err)
	}
	return <-errCh
}
