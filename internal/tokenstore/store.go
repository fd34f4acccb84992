// Package tokenstore caches the Particle access token in a local SQLite
// database so restarts do not need a fresh password login.
package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/besir660/ruuvi-particle/internal/particle"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("tokenstore: no stored credentials")

const timeLayout = time.RFC3339Nano

// Entry is the cached session. Username is the account the token was issued
// for; it is empty when the token came from configuration.
type Entry struct {
	Username string
	particle.Credentials
	UpdatedAt time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	traceLogger *slog.Logger
}

// WithSQLTrace logs every statement (without its arguments) to logger at
// debug level.
func WithSQLTrace(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = slog.Default()
		}
		o.traceLogger = logger
	}
}

// Open opens (creating if needed) the database at path and brings its schema
// up to date.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if o.traceLogger != nil {
		db = sql.OpenDB(newTraceConnector(dsn, o.traceLogger))
	} else if db, err = sql.Open("sqlite3", dsn); err != nil {
		return nil, fmt.Errorf("tokenstore open: %w", err)
	}
	// One writer process; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore ping: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore migrate: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the stored entry.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.AccessToken) == "" {
		return errors.New("tokenstore: empty access token")
	}

	var expiresAt sql.NullString
	if !e.ExpiresAt.IsZero() {
		expiresAt = sql.NullString{String: e.ExpiresAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO particle_credentials (id, username, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username      = excluded.username,
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			updated_at    = excluded.updated_at
	`, e.Username, e.AccessToken, e.RefreshToken, expiresAt, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("tokenstore save: %w", err)
	}
	return nil
}

// Load returns the stored entry or ErrNotFound.
func (s *Store) Load(ctx context.Context) (Entry, error) {
	var (
		e         Entry
		expiresAt sql.NullString
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, access_token, refresh_token, expires_at, updated_at
		FROM particle_credentials
		WHERE id = 1
	`).Scan(&e.Username, &e.AccessToken, &e.RefreshToken, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("tokenstore load: %w", err)
	}

	if expiresAt.Valid {
		if e.ExpiresAt, err = time.Parse(timeLayout, expiresAt.String); err != nil {
			return Entry{}, fmt.Errorf("tokenstore load: expires_at: %w", err)
		}
	}
	if e.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Entry{}, fmt.Errorf("tokenstore load: updated_at: %w", err)
	}
	return e, nil
}

// Clear removes the stored entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM particle_credentials`); err != nil {
		return fmt.Errorf("tokenstore clear: %w", err)
	}
	return nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("tokenstore: empty path")
	}

	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
