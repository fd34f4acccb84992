package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/besir660/ruuvi-particle/internal/particle"
	"github.com/besir660/ruuvi-particle/internal/tokenstore"
)

// TokenStore is the credential cache used by Session. *tokenstore.Store
// implements it.
type TokenStore interface {
	Load(ctx context.Context) (tokenstore.Entry, error)
	Save(ctx context.Context, e tokenstore.Entry) error
}

// Session resolves and renews the access token the gateway publishes with.
type Session struct {
	base     *particle.Client
	store    TokenStore // may be nil
	username string
	password string
	now      func() time.Time

	mu sync.Mutex // serializes logins
}

func NewSession(base *particle.Client, store TokenStore, username, password string) *Session {
	return &Session{
		base:     base,
		store:    store,
		username: username,
		password: password,
		now:      time.Now,
	}
}

func (s *Session) canLogin() bool {
	return s.username != "" && s.password != ""
}

// Bootstrap returns a client for the first usable token: envToken, then the
// token store, then a password login. The chosen token is checked by listing
// devices; if that fails and a login is configured, a fresh token is used.
func (s *Session) Bootstrap(ctx context.Context, envToken string) (*particle.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, source := s.initial(ctx, envToken)
	if client == nil {
		if !s.canLogin() {
			return nil, errors.New("no usable Particle credentials")
		}
		return s.Refresh(ctx)
	}

	devices, err := client.ListDevices(ctx)
	if err == nil {
		slog.Info("particle: token accepted", "source", source, "devices", len(devices))
		return client, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if s.canLogin() {
		slog.Warn("particle: token check failed, logging in", "source", source, "error", err)
		return s.Refresh(ctx)
	}

	var loginErr *particle.LoginError
	if errors.As(err, &loginErr) {
		return nil, fmt.Errorf("particle token from %s rejected: %w", source, err)
	}
	slog.Warn("particle: token check failed, continuing", "source", source, "error", err)
	return client, nil
}

func (s *Session) initial(ctx context.Context, envToken string) (*particle.Client, string) {
	if envToken != "" {
		return s.base.WithAccessToken(envToken), "env"
	}
	if s.store == nil {
		return nil, ""
	}

	e, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, tokenstore.ErrNotFound):
		return nil, ""
	case err != nil:
		slog.Warn("particle: token store unreadable", "error", err)
		return nil, ""
	case e.Expired(s.now()):
		slog.Info("particle: stored token expired", "expires_at", e.ExpiresAt)
		return nil, ""
	case s.username != "" && e.Username != "" && e.Username != s.username:
		slog.Info("particle: stored token belongs to another account", "stored", e.Username)
		return nil, ""
	}
	return s.base.WithAccessToken(e.AccessToken), "store"
}

// Refresh performs a password login and stores the new token. Each call
// returns a new client; existing clients are not changed.
func (s *Session) Refresh(ctx context.Context) (*particle.Client, error) {
	if !s.canLogin() {
		return nil, errors.New("particle login not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, creds, err := s.base.Login(ctx, s.username, s.password)
	if err != nil {
		return nil, err
	}
	slog.Info("particle: logged in", "username", s.username, "expires_at", creds.ExpiresAt)

	if s.store != nil {
		if err := s.store.Save(ctx, tokenstore.Entry{Username: s.username, Credentials: creds}); err != nil {
			slog.Warn("particle: could not store token", "error", err)
		}
	}
	return client, nil
}
