package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/besir660/ruuvi-particle/internal/particle"
	"github.com/besir660/ruuvi-particle/internal/tokenstore"
)

const invalidCreds = `{"error":"invalid_grant","error_description":"User credentials are invalid"}`

// fakeCloud accepts validToken on /v1/devices and hands out loginToken on
// /oauth/token.
type fakeCloud struct {
	validToken string
	loginToken string
	loginOK    bool

	logins  atomic.Int32
	devices atomic.Int32
}

func (f *fakeCloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/oauth/token":
		f.logins.Add(1)
		if !f.loginOK {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(invalidCreds))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"` + f.loginToken + `","expires_in":3600,"refresh_token":"r"}`))
	case "/v1/devices":
		f.devices.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(invalidCreds))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type memStore struct {
	entry   *tokenstore.Entry
	saved   []tokenstore.Entry
	loadErr error
}

func (m *memStore) Load(context.Context) (tokenstore.Entry, error) {
	if m.loadErr != nil {
		return tokenstore.Entry{}, m.loadErr
	}
	if m.entry == nil {
		return tokenstore.Entry{}, tokenstore.ErrNotFound
	}
	return *m.entry, nil
}

func (m *memStore) Save(_ context.Context, e tokenstore.Entry) error {
	m.saved = append(m.saved, e)
	m.entry = &e
	return nil
}

func newBase(t *testing.T, cloud *fakeCloud) *particle.Client {
	t.Helper()
	srv := httptest.NewServer(cloud)
	t.Cleanup(srv.Close)
	return particle.NewClient(particle.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestBootstrap_EnvToken(t *testing.T) {
	cloud := &fakeCloud{validToken: "env-tok"}
	s := NewSession(newBase(t, cloud), nil, "", "")

	c, err := s.Bootstrap(context.Background(), "env-tok")
	require.NoError(t, err)
	assert.Equal(t, "env-tok", c.AccessToken())
	assert.Equal(t, int32(0), cloud.logins.Load())
	assert.Equal(t, int32(1), cloud.devices.Load())
}

func TestBootstrap_StoredToken(t *testing.T) {
	cloud := &fakeCloud{validToken: "stored"}
	store := &memStore{entry: &tokenstore.Entry{
		Credentials: particle.Credentials{AccessToken: "stored", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	s := NewSession(newBase(t, cloud), store, "", "")

	c, err := s.Bootstrap(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "stored", c.AccessToken())
	assert.Empty(t, store.saved)
}

func TestBootstrap_ExpiredStoredTokenLogsIn(t *testing.T) {
	cloud := &fakeCloud{validToken: "fresh", loginToken: "fresh", loginOK: true}
	store := &memStore{entry: &tokenstore.Entry{
		Username:    "me@example.com",
		Credentials: particle.Credentials{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	s := NewSession(newBase(t, cloud), store, "me@example.com", "pw")

	c, err := s.Bootstrap(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.AccessToken())
	assert.Equal(t, int32(1), cloud.logins.Load())
	assert.Equal(t, int32(0), cloud.devices.Load())
	require.Len(t, store.saved, 1)
	assert.Equal(t, "me@example.com", store.saved[0].Username)
	assert.Equal(t, "fresh", store.saved[0].AccessToken)
}

func TestBootstrap_StoredTokenForOtherAccount(t *testing.T) {
	cloud := &fakeCloud{validToken: "fresh", loginToken: "fresh", loginOK: true}
	store := &memStore{entry: &tokenstore.Entry{
		Username:    "someone@else.com",
		Credentials: particle.Credentials{AccessToken: "theirs"},
	}}
	s := NewSession(newBase(t, cloud), store, "me@example.com", "pw")

	c, err := s.Bootstrap(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.AccessToken())
}

func TestBootstrap_RejectedTokenFallsBackToLogin(t *testing.T) {
	cloud := &fakeCloud{validToken: "fresh", loginToken: "fresh", loginOK: true}
	store := &memStore{}
	s := NewSession(newBase(t, cloud), store, "me@example.com", "pw")

	c, err := s.Bootstrap(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.AccessToken())
	assert.Equal(t, int32(1), cloud.logins.Load())
	assert.Len(t, store.saved, 1)
}

func TestBootstrap_RejectedTokenWithoutLogin(t *testing.T) {
	cloud := &fakeCloud{validToken: "other"}
	s := NewSession(newBase(t, cloud), nil, "", "")

	_, err := s.Bootstrap(context.Background(), "stale")
	var loginErr *particle.LoginError
	assert.True(t, errors.As(err, &loginErr))
}

func TestBootstrap_NothingUsable(t *testing.T) {
	cloud := &fakeCloud{}
	s := NewSession(newBase(t, cloud), &memStore{}, "", "")

	_, err := s.Bootstrap(context.Background(), "")
	assert.Error(t, err)
	assert.Equal(t, int32(0), cloud.devices.Load())
}

func TestBootstrap_UnreadableStoreFallsBackToLogin(t *testing.T) {
	cloud := &fakeCloud{validToken: "fresh", loginToken: "fresh", loginOK: true}
	store := &memStore{loadErr: errors.New("disk I/O error")}
	s := NewSession(newBase(t, cloud), store, "me@example.com", "pw")

	c, err := s.Bootstrap(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.AccessToken())
}

func TestRefresh_InvalidCredentials(t *testing.T) {
	cloud := &fakeCloud{loginOK: false}
	store := &memStore{}
	s := NewSession(newBase(t, cloud), store, "me@example.com", "wrong")

	_, err := s.Refresh(context.Background())
	var loginErr *particle.LoginError
	require.True(t, errors.As(err, &loginErr))
	assert.Empty(t, store.saved)
}

func TestRefresh_NotConfigured(t *testing.T) {
	s := NewSession(particle.NewClient(particle.Options{}), nil, "", "")

	_, err := s.Refresh(context.Background())
	assert.Error(t, err)
}

func TestBootstrap_CanceledContext(t *testing.T) {
	cloud := &fakeCloud{validToken: "env-tok"}
	s := NewSession(newBase(t, cloud), nil, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := s.Bootstrap(ctx, "env-tok")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, c)
	assert.Equal(t, int32(0), cloud.devices.Load())
}

func TestBootstrap_CanceledDuringTokenCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	base := particle.NewClient(particle.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	s := NewSession(base, nil, "", "")

	c, err := s.Bootstrap(ctx, "env-tok")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, c)
}
