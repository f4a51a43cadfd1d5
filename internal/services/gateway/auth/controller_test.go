package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
)

func TestLogin_IssuesTokenPair(t *testing.T) {
	e := newTestEnv(t)

	resp := e.login(t, "alice", alicePassword)
	require.Len(t, strings.Split(resp.AccessToken, "."), 3)
	require.GreaterOrEqual(t, len(resp.RefreshToken), 43)
	require.Equal(t, "15m", resp.ExpiresIn)
	require.Equal(t, "alice", resp.User.Username)
	require.Equal(t, e.alice.ID, resp.User.ID)

	rec := e.do(t, call{method: http.MethodGet, path: "/auth/me", token: resp.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[meResponse](t, rec)
	require.Equal(t, e.alice.ID, me.User.ID)
}

func TestLogin_BadCredentialsAndBody(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: map[string]string{"username": "alice", "password": "nope"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeAuthFailed, decodeBody[errorBody](t, rec).Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: map[string]string{"username": "alice"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeValidation, decodeBody[errorBody](t, rec).Code)
}

func TestLogin_UsernameLockoutEvenWithCorrectPassword(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 5; i++ {
		rec := e.do(t, call{method: http.MethodPost, path: "/auth/login",
			body: map[string]string{"username": "alice", "password": "wrong"},
			ip:   fmt.Sprintf("10.1.0.%d", i)})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := e.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: map[string]string{"username": "alice", "password": alicePassword},
		ip:   "10.2.0.1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody[rateLimitedBody](t, rec)
	require.Equal(t, int64(900), body.RetryAfter)
	require.Equal(t, "900", rec.Header().Get("Retry-After"))
	require.NotEmpty(t, body.Message)

	e.clock.Advance(15 * time.Minute)
	e.login(t, "alice", alicePassword)
}

func TestLogin_IPLockoutAcrossUsernames(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 10; i++ {
		rec := e.do(t, call{method: http.MethodPost, path: "/auth/login",
			body: map[string]string{"username": fmt.Sprintf("ghost%d", i), "password": "x"},
			ip:   "203.0.113.50"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := e.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: map[string]string{"username": "alice", "password": alicePassword},
		ip:   "203.0.113.50"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	e.login(t, "alice", alicePassword)
}

// Attempts rejected by the limiter are recorded as failures, so probing during
// a lockout pushes the reset further out. This keeps the lockout self-reinforcing.
func TestLogin_RejectedAttemptsExtendLockout(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.uc.Login(ctx, LoginInput{Username: "alice", Password: "wrong", IP: "10.0.0.1"})
		require.ErrorIs(t, err, domainauth.ErrAuthenticationFailed)
	}

	e.clock.Advance(10 * time.Minute)
	_, err := e.uc.Login(ctx, LoginInput{Username: "alice", Password: alicePassword, IP: "10.0.0.1"})
	var rl *domainauth.RateLimitedError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 5*time.Minute, rl.RetryAfter)

	// the original failures have aged out but the probe recorded at +10m still counts
	e.clock.Advance(5 * time.Minute)
	for i := 0; i < 4; i++ {
		require.NoError(t, e.limiter.RecordLoginAttempt(ctx, "10.0.0.9", "alice", false, ""))
	}
	_, err = e.uc.Login(ctx, LoginInput{Username: "alice", Password: alicePassword, IP: "10.0.0.1"})
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 10*time.Minute, rl.RetryAfter)
}

func TestRefresh_ReusableAndRevokedByLogoutAll(t *testing.T) {
	e := newTestEnv(t)
	resp := e.login(t, "alice", alicePassword)

	for i := 0; i < 2; i++ {
		rec := e.do(t, call{method: http.MethodPost, path: "/auth/refresh",
			body: map[string]string{"refreshToken": resp.RefreshToken}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decodeBody[refreshResponse](t, rec)
		require.Equal(t, "15m", out.ExpiresIn)
		require.NotEqual(t, resp.AccessToken, out.AccessToken)
	}

	rec := e.do(t, call{method: http.MethodPost, path: "/auth/logout-all", token: resp.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), decodeBody[map[string]int64](t, rec)["revoked"])

	rec = e.do(t, call{method: http.MethodPost, path: "/auth/refresh",
		body: map[string]string{"refreshToken": resp.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeRefreshTokenInvalid, decodeBody[errorBody](t, rec).Code)
}

func TestLogout_RevokesAccessAndOwnRefreshToken(t *testing.T) {
	e := newTestEnv(t)
	resp := e.login(t, "alice", alicePassword)

	rec := e.do(t, call{method: http.MethodPost, path: "/auth/logout", token: resp.AccessToken,
		body: map[string]string{"refreshToken": resp.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, call{method: http.MethodGet, path: "/auth/me", token: resp.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeTokenRevoked, decodeBody[errorBody](t, rec).Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/auth/refresh",
		body: map[string]string{"refreshToken": resp.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_WithoutBodyAndForeignRefreshToken(t *testing.T) {
	e := newTestEnv(t)
	alice := e.login(t, "alice", alicePassword)
	admin := e.login(t, "root", adminPassword)

	rec := e.do(t, call{method: http.MethodPost, path: "/auth/logout", token: alice.AccessToken,
		body: map[string]string{"refreshToken": admin.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/auth/refresh",
		body: map[string]string{"refreshToken": admin.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/auth/logout", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBearer_ErrorCodes(t *testing.T) {
	e := newTestEnv(t)
	resp := e.login(t, "alice", alicePassword)

	rec := e.do(t, call{method: http.MethodGet, path: "/auth/me"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeAuthRequired, decodeBody[errorBody](t, rec).Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/auth/me", token: "a.b.c"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeTokenInvalid, decodeBody[errorBody](t, rec).Code)

	e.clock.Advance(16 * time.Minute)
	rec = e.do(t, call{method: http.MethodGet, path: "/auth/me", token: resp.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeTokenExpired, decodeBody[errorBody](t, rec).Code)
}

func TestAdmin_RoleGateAndMonitoring(t *testing.T) {
	e := newTestEnv(t)
	alice := e.login(t, "alice", alicePassword)
	admin := e.login(t, "root", adminPassword)

	rec := e.do(t, call{method: http.MethodGet, path: "/admin/security/top-ips", token: alice.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, CodeForbidden, decodeBody[errorBody](t, rec).Code)

	for i := 0; i < 10; i++ {
		e.do(t, call{method: http.MethodPost, path: "/auth/login",
			body: map[string]string{"username": "mallory", "password": "x"}, ip: "192.0.2.66"})
	}

	rec = e.do(t, call{method: http.MethodGet, path: "/admin/security/top-ips?limit=5", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	top := decodeBody[map[string][]domainauth.AttackingIP](t, rec)["ips"]
	require.Len(t, top, 1)
	require.Equal(t, "192.0.2.66", top[0].IPAddress)

	rec = e.do(t, call{method: http.MethodGet, path: "/admin/security/failed-attempts?limit=3", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[map[string][]domainauth.LoginAttempt](t, rec)["attempts"], 3)

	rec = e.do(t, call{method: http.MethodGet, path: "/admin/security/rate-limit/192.0.2.66", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[domainauth.RateLimitStatus](t, rec)
	require.True(t, st.IsRateLimited)
	require.Equal(t, 10, st.FailedAttempts)

	rec = e.do(t, call{method: http.MethodDelete, path: "/admin/security/rate-limit/192.0.2.66", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/admin/security/rate-limit/192.0.2.66", token: admin.AccessToken})
	require.False(t, decodeBody[domainauth.RateLimitStatus](t, rec).IsRateLimited)

	rec = e.do(t, call{method: http.MethodGet, path: "/admin/realtime", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decodeBody[map[string]int](t, rec)["connectedClients"])
}

func TestAdmin_CleanupTrigger(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.login(t, "root", adminPassword)

	_, err := e.tokens.IssueRefreshToken(ctx, e.alice.ID, "", "")
	require.NoError(t, err)
	require.NoError(t, e.blacklist.Add(ctx, &domainauth.BlacklistEntry{TokenJTI: "gone", ExpiresAt: e.clock.Now().Add(-time.Second)}))

	e.clock.Advance(8 * 24 * time.Hour)
	admin := e.login(t, "root", adminPassword)

	rec := e.do(t, call{method: http.MethodPost, path: "/admin/security/cleanup", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[CleanupReport](t, rec)
	// alice's token, the first admin login's token and the blacklist row
	require.Equal(t, int64(3), rep.Tokens)
	require.Equal(t, 1, e.refresh.Len())
}

func TestFormatTTL(t *testing.T) {
	require.Equal(t, "15m", FormatTTL(15*time.Minute))
	require.Equal(t, "2h", FormatTTL(2*time.Hour))
	require.Equal(t, "7d", FormatTTL(7*24*time.Hour))
	require.Equal(t, "1m30s", FormatTTL(90*time.Second))
}
