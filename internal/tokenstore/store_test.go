package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/besir660/ruuvi-particle/internal/particle"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "tokens.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestLoad_Empty(t *testing.T) {
	s, _ := openTemp(t)

	_, err := s.Load(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveLoad(t *testing.T) {
	s, _ := openTemp(t)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	expires := time.Date(2027, 1, 17, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, s.Save(ctx, Entry{
		Username: "me@example.com",
		Credentials: particle.Credentials{
			AccessToken:  "tok-1",
			RefreshToken: "ref-1",
			ExpiresAt:    expires,
		},
	}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", got.Username)
	assert.Equal(t, "tok-1", got.AccessToken)
	assert.Equal(t, "ref-1", got.RefreshToken)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.True(t, now.Equal(got.UpdatedAt))

	require.NoError(t, s.Save(ctx, Entry{Credentials: particle.Credentials{AccessToken: "tok-2"}}))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.AccessToken)
	assert.Empty(t, got.Username)
	assert.Empty(t, got.RefreshToken)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestSave_RejectsEmptyToken(t *testing.T) {
	s, _ := openTemp(t)

	err := s.Save(context.Background(), Entry{Credentials: particle.Credentials{AccessToken: " "}})
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Entry{Credentials: particle.Credentials{AccessToken: "tok"}}))
	require.NoError(t, s.Clear(ctx))

	_, err := s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpen_ReopenKeepsDataAndMigrations(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Entry{Credentials: particle.Credentials{AccessToken: "persisted"}}))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.AccessToken)

	var n int
	require.NoError(t, s2.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+migrationsTable).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in      string
		version string
		name    string
		ok      bool
	}{
		{in: "0001_credentials.sql", version: "0001", name: "credentials", ok: true},
		{in: "0010_add_index.sql", version: "0010", name: "add_index", ok: true},
		{in: "1_short.sql", ok: false},
		{in: "0001_credentials.txt", ok: false},
		{in: "README.md", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN("file:tokens.db?mode=rwc")
	require.NoError(t, err)
	assert.Equal(t, "file:tokens.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dsn)

	dsn, err = buildDSN("tokens.db")
	require.NoError(t, err)
	assert.Equal(t, "file:tokens.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dsn)

	_, err = buildDSN("  ")
	assert.Error(t, err)
}

func TestOpen_WithSQLTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	s, err := Open(ctx, filepath.Join(t.TempDir(), "traced.db"), WithSQLTrace(logger))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, Entry{Credentials: particle.Credentials{AccessToken: "super-secret-token"}}))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", got.AccessToken)

	out := buf.String()
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS particle_credentials")
	assert.Contains(t, out, "INSERT INTO particle_credentials")
	assert.Contains(t, out, "op=query")
	assert.NotContains(t, out, "super-secret-token")
}
