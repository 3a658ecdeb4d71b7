package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/database"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sessions (
	session_key TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore keeps states in a sessions table on postgres or sqlite.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore wraps an open database that already has the sessions table.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// OpenSQLite opens (creating when needed) a single-file session database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: create sqlite dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}
	return NewSQLStore(db), nil
}

// OpenPostgres connects through the shared database package and applies migrations.
func OpenPostgres(ctx context.Context, cfg coreconfig.DatabaseConfig) (*SQLStore, error) {
	if err := database.RunMigrations(ctx, cfg); err != nil {
		return nil, unavailable("migrate", err)
	}
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, unavailable("open", err)
	}
	return NewSQLStore(db), nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var state string
	err := s.db.GetContext(ctx, &state, s.db.Rebind(`SELECT state FROM sessions WHERE session_key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return state, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, state string) error {
	query := s.db.Rebind(`INSERT INTO sessions (session_key, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT (session_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query, key, state, s.now().UTC())
	return unavailable("set", err)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return unavailable("ping", s.db.PingContext(ctx))
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
