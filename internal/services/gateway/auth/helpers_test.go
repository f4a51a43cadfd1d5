package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/NordCoder/Warden/internal/domain/user"
	"github.com/NordCoder/Warden/internal/repository/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	clock     *fakeClock
	users     *memory.Users
	refresh   *memory.RefreshTokens
	blacklist *memory.Blacklist
	attempts  *memory.LoginAttempts
	tokens    *TokenService
	limiter   *RateLimitService
	uc        *Usecase
	router    *mux.Router
	alice     *user.User
	admin     *user.User
}

const (
	alicePassword = "correct horse"
	adminPassword = "admin secret"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	e := &testEnv{
		clock:     newClock(),
		users:     memory.NewUsers(),
		refresh:   memory.NewRefreshTokens(),
		blacklist: memory.NewBlacklist(),
		attempts:  memory.NewLoginAttempts(),
	}

	var err error
	e.tokens, err = NewTokenService(e.refresh, e.blacklist, TokenConfig{
		Secret:     []byte("test-secret"),
		Issuer:     "warden",
		Audience:   "warden-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
		Now:        e.clock.Now,
	}, zap.NewNop())
	require.NoError(t, err)

	e.limiter = NewRateLimitService(e.attempts, RateLimitConfig{Now: e.clock.Now}, zap.NewNop())
	e.uc = NewUsecase(e.users, e.tokens, e.limiter, memory.Transactor{}, zap.NewNop())

	cleanup := NewCleanup(e.tokens, e.limiter, CleanupConfig{}, zap.NewNop())
	e.router = mux.NewRouter()
	NewController(e.uc, cleanup, ControllerOpts{Logger: zap.NewNop(), TrustProxy: true}).Register(e.router)

	e.alice, err = e.users.Create(ctx, "alice", alicePassword, "member")
	require.NoError(t, err)
	e.admin, err = e.users.Create(ctx, "root", adminPassword, user.RoleAdmin)
	require.NoError(t, err)
	return e
}

type call struct {
	method string
	path   string
	body   any
	token  string
	ip     string
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ip != "" {
		req.Header.Set("X-Forwarded-For", c.ip)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) login(t *testing.T, username, password string) loginResponse {
	t.Helper()
	rec := e.do(t, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   map[string]string{"username": username, "password": password},
		ip:     "10.0.0.1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[loginResponse](t, rec)
}
