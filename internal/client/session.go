package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
	"github.com/NordCoder/Warden/internal/obs"
)

// ErrSessionExpired is returned once a silent refresh has failed and the
// session has been logged out.
var ErrSessionExpired = errors.New("session expired, login required")

type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Tokens struct {
	Access  string
	Refresh string
}

type LoginResult struct {
	User         user.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    string    `json:"expiresIn"`
}

type SessionOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	// OnLogout runs after tokens are cleared by a failed refresh.
	OnLogout func()
	Logger   *zap.Logger
}

// Session is safe for concurrent use. Concurrent 401s trigger one refresh.
type Session struct {
	base     string
	hc       *http.Client
	onLogout func()
	log      *zap.Logger

	mu        sync.RWMutex
	tokens    Tokens
	refreshMu sync.Mutex
}

func NewSession(o SessionOpts) *Session {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Session{
		base:     strings.TrimRight(o.BaseURL, "/"),
		hc:       hc,
		onLogout: o.OnLogout,
		log:      obs.Component(o.Logger, "client.session"),
	}
}

func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *Session) AccessToken() string { return s.Tokens().Access }

func (s *Session) SetTokens(t Tokens) {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
}

func (s *Session) LoggedIn() bool { return s.AccessToken() != "" }

// Login maps 429 to *domainauth.RateLimitedError and 400/401 to
// domainauth.ErrAuthenticationFailed.
func (s *Session) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := s.call(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		var rl *rateLimited
		var apiErr *APIError
		switch {
		case errors.As(err, &rl):
			return nil, &domainauth.RateLimitedError{RetryAfter: time.Duration(rl.RetryAfter) * time.Second}
		case errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized):
			return nil, fmt.Errorf("%w: %s", domainauth.ErrAuthenticationFailed, apiErr.Message)
		}
		return nil, err
	}
	s.SetTokens(Tokens{Access: out.AccessToken, Refresh: out.RefreshToken})
	return &out, nil
}

// Do performs an authenticated call. A 401 triggers exactly one refresh and
// one retry; a failed refresh logs the session out.
func (s *Session) Do(ctx context.Context, method, path string, body, out any) error {
	access := s.AccessToken()
	err := s.call(ctx, method, path, access, body, out)
	if !isUnauthorized(err) {
		return err
	}
	if err := s.refreshAfter(ctx, access); err != nil {
		return err
	}
	return s.call(ctx, method, path, s.AccessToken(), body, out)
}

// Refresh exchanges the refresh token for a new access token.
func (s *Session) Refresh(ctx context.Context) error {
	return s.refreshAfter(ctx, s.AccessToken())
}

func (s *Session) refreshAfter(ctx context.Context, stale string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	t := s.Tokens()
	if t.Access != stale && t.Access != "" {
		return nil
	}
	if t.Refresh == "" {
		s.forceLogout("no refresh token")
		return ErrSessionExpired
	}

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	err := s.call(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": t.Refresh}, &out)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.forceLogout(err.Error())
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	s.mu.Lock()
	s.tokens.Access = out.AccessToken
	s.mu.Unlock()
	s.log.Debug("access token refreshed")
	return nil
}

// Logout revokes server side when possible and always clears local tokens.
func (s *Session) Logout(ctx context.Context) error {
	t := s.Tokens()
	defer s.SetTokens(Tokens{})
	if t.Access == "" {
		return nil
	}
	body := map[string]string{}
	if t.Refresh != "" {
		body["refreshToken"] = t.Refresh
	}
	return s.call(ctx, http.MethodPost, "/auth/logout", t.Access, body, nil)
}

func (s *Session) forceLogout(reason string) {
	s.SetTokens(Tokens{})
	s.log.Info("forced logout", zap.String("reason", reason))
	if s.onLogout != nil {
		s.onLogout()
	}
}

type rateLimited struct {
	RetryAfter int64 `json:"retryAfter"`
	Message    string
}

func (e *rateLimited) Error() string {
	return "rate limited: retry after " + strconv.FormatInt(e.RetryAfter, 10) + "s"
}

func (s *Session) call(ctx context.Context, method, path, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		rl := &rateLimited{}
		_ = json.Unmarshal(raw, rl)
		if rl.RetryAfter == 0 {
			rl.RetryAfter, _ = strconv.ParseInt(resp.Header.Get("Retry-After"), 10, 64)
		}
		return rl
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
