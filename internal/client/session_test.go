package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
)

// fakeAPI accepts bearer "fresh" on /things and rotates "stale" to "fresh"
// when the refresh token is "good".
type fakeAPI struct {
	refreshes atomic.Int32
	things    atomic.Int32
	current   string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		var in struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.RefreshToken != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"REFRESH_TOKEN_INVALID","message":"invalid refresh token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"accessToken":"` + f.current + `","expiresIn":"15m"}`))
	})
	mux.HandleFunc("/things", func(w http.ResponseWriter, r *http.Request) {
		f.things.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"TOKEN_EXPIRED","message":"token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"count":3}`))
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		switch {
		case in.Username == "locked":
			w.Header().Set("Retry-After", "900")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"too many","retryAfter":900}`))
		case in.Password != "pw":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"AUTHENTICATION_FAILED","message":"invalid username or password"}`))
		default:
			_, _ = w.Write([]byte(`{"user":{"id":1,"username":"alice","role":"member"},"accessToken":"fresh","refreshToken":"good","expiresIn":"15m"}`))
		}
	})
	return mux
}

func newSession(t *testing.T, issued string, onLogout func()) (*Session, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{current: issued}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewSession(SessionOpts{BaseURL: srv.URL, HTTPClient: srv.Client(), OnLogout: onLogout}), api
}

func TestSessionRefreshesOnceOn401(t *testing.T) {
	s, api := newSession(t, "fresh", nil)
	s.SetTokens(Tokens{Access: "stale", Refresh: "good"})

	var out struct{ Count int }
	require.NoError(t, s.Do(context.Background(), http.MethodGet, "/things", nil, &out))
	require.Equal(t, 3, out.Count)
	require.EqualValues(t, 1, api.refreshes.Load())
	require.EqualValues(t, 2, api.things.Load())
	require.Equal(t, "fresh", s.AccessToken())
	require.Equal(t, "good", s.Tokens().Refresh)
}

func TestSessionFailedRefreshForcesLogout(t *testing.T) {
	var loggedOut atomic.Int32
	s, api := newSession(t, "fresh", func() { loggedOut.Add(1) })
	s.SetTokens(Tokens{Access: "stale", Refresh: "revoked"})

	err := s.Do(context.Background(), http.MethodGet, "/things", nil, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.EqualValues(t, 1, loggedOut.Load())
	require.False(t, s.LoggedIn())
	require.Equal(t, Tokens{}, s.Tokens())
	require.EqualValues(t, 1, api.things.Load())
}

func TestSessionRetriesOnlyOnce(t *testing.T) {
	s, api := newSession(t, "still-stale", nil)
	s.SetTokens(Tokens{Access: "stale", Refresh: "good"})

	err := s.Do(context.Background(), http.MethodGet, "/things", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "TOKEN_EXPIRED", apiErr.Code)
	require.EqualValues(t, 1, api.refreshes.Load())
	require.EqualValues(t, 2, api.things.Load())
}

func TestSessionLogin(t *testing.T) {
	s, _ := newSession(t, "fresh", nil)
	ctx := context.Background()

	res, err := s.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.Equal(t, "alice", res.User.Username)
	require.Equal(t, "15m", res.ExpiresIn)
	require.Equal(t, Tokens{Access: "fresh", Refresh: "good"}, s.Tokens())

	_, err = s.Login(ctx, "alice", "nope")
	require.ErrorIs(t, err, domainauth.ErrAuthenticationFailed)

	_, err = s.Login(ctx, "locked", "pw")
	var rl *domainauth.RateLimitedError
	require.True(t, errors.As(err, &rl))
	require.EqualValues(t, 900, rl.RetryAfterSeconds())
}
