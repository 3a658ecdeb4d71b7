// Package session persists one conversation state name per chat user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/logger"
)

// ErrStoreUnavailable reports that the backend could not be reached or answered with a failure.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store is a durable string map keyed by front-qualified user ids.
// Writes to one key are last-writer-wins; there is no compare-and-set.
type Store interface {
	// Get returns the stored state and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set overwrites the state stored under key.
	Set(ctx context.Context, key, state string) error
	Ping(ctx context.Context) error
	Close() error
}

// Key returns the storage key for a user on the given front, e.g. "telegramid_42".
func Key(front, userID string) string {
	return front + "id_" + userID
}

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("session %s: %v", e.op, e.err)
}

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// Code reports the stable error code used in logs.
func (e *unavailableError) Code() string { return "STORE_UNAVAILABLE" }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{op: op, err: err}
}

// Open builds the store selected by cfg.Session.Backend and verifies it answers.
func Open(ctx context.Context, cfg *coreconfig.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session: nil config")
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	var (
		store Store
		err   error
	)
	switch backend {
	case coreconfig.BackendMemory:
		store = NewMemoryStore()
	case coreconfig.BackendRedis:
		store, err = OpenRedis(ctx, cfg.Session.RedisURL)
	case coreconfig.BackendSQLite:
		store, err = OpenSQLite(ctx, cfg.Session.SQLitePath)
	case coreconfig.BackendPostgres:
		store, err = OpenPostgres(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Session.Backend)
	}
	if err != nil {
		logger.Error(ctx, logger.CompSession, "open",
			slog.String("status", "fail"),
			slog.String("backend", backend),
			slog.String("err", err.Error()),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		return nil, err
	}
	logger.Info(ctx, logger.CompSession, "open",
		slog.String("status", "ok"),
		slog.String("backend", backend),
	)
	return store, nil
}
