package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/obs"
)

const (
	defaultMonitorLimit = 50
	maxMonitorLimit     = 500
)

type RateLimitConfig struct {
	Window              time.Duration
	MaxIPFailures       int
	MaxUsernameFailures int
	Now                 func() time.Time
}

// RateLimitService counts failed logins per IP and per username over a
// trailing window evaluated at query time.
type RateLimitService struct {
	cfg      RateLimitConfig
	attempts domainauth.LoginAttemptRepo
	log      *zap.Logger
}

func NewRateLimitService(attempts domainauth.LoginAttemptRepo, cfg RateLimitConfig, log *zap.Logger) *RateLimitService {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MaxIPFailures <= 0 {
		cfg.MaxIPFailures = 10
	}
	if cfg.MaxUsernameFailures <= 0 {
		cfg.MaxUsernameFailures = 5
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RateLimitService{cfg: cfg, attempts: attempts, log: obs.Component(log, "ratelimit")}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *RateLimitService) CheckRateLimit(ctx context.Context, ip, username string) (domainauth.RateLimitResult, error) {
	now := s.cfg.Now()
	since := now.Add(-s.cfg.Window)

	byIP, err := s.attempts.CountByIP(ctx, ip, since)
	if err != nil {
		return domainauth.RateLimitResult{}, fmt.Errorf("count attempts by ip: %w", err)
	}
	var byUser domainauth.AttemptCounts
	if name := normalizeUsername(username); name != "" {
		byUser, err = s.attempts.CountByUsername(ctx, name, since)
		if err != nil {
			return domainauth.RateLimitResult{}, fmt.Errorf("count attempts by username: %w", err)
		}
	}

	res := domainauth.RateLimitResult{
		IPFailedCount:       byIP.Failed,
		UsernameFailedCount: byUser.Failed,
	}
	if byIP.Failed >= s.cfg.MaxIPFailures {
		res.IsRateLimited = true
		res.TimeUntilReset = s.untilReset(byIP, now, res.TimeUntilReset)
	}
	if byUser.Failed >= s.cfg.MaxUsernameFailures {
		res.IsRateLimited = true
		res.TimeUntilReset = s.untilReset(byUser, now, res.TimeUntilReset)
	}
	return res, nil
}

// untilReset is the time left before the oldest failure on an axis leaves the
// window; the larger value wins when both axes are limiting.
func (s *RateLimitService) untilReset(c domainauth.AttemptCounts, now time.Time, cur time.Duration) time.Duration {
	if c.OldestFailure == nil {
		return cur
	}
	d := c.OldestFailure.Add(s.cfg.Window).Sub(now)
	if d < 0 {
		d = 0
	}
	if d > cur {
		return d
	}
	return cur
}

func (s *RateLimitService) RecordLoginAttempt(ctx context.Context, ip, username string, success bool, userAgent string) error {
	err := s.attempts.Insert(ctx, &domainauth.LoginAttempt{
		IPAddress:   ip,
		Username:    normalizeUsername(username),
		Success:     success,
		AttemptedAt: s.cfg.Now(),
		UserAgent:   userAgent,
	})
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

func (s *RateLimitService) GetRateLimitStatus(ctx context.Context, ip string) (*domainauth.RateLimitStatus, error) {
	now := s.cfg.Now()
	c, err := s.attempts.CountByIP(ctx, ip, now.Add(-s.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("count attempts by ip: %w", err)
	}
	st := &domainauth.RateLimitStatus{
		IPAddress:       ip,
		FailedAttempts:  c.Failed,
		SuccessAttempts: c.Succeeded,
		IsRateLimited:   c.Failed >= s.cfg.MaxIPFailures,
	}
	if st.IsRateLimited {
		st.TimeUntilResetMs = s.untilReset(c, now, 0).Milliseconds()
	}
	return st, nil
}

func (s *RateLimitService) GetRecentFailedAttempts(ctx context.Context, limit int) ([]*domainauth.LoginAttempt, error) {
	out, err := s.attempts.ListFailed(ctx, s.cfg.Now().Add(-s.cfg.Window), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list failed attempts: %w", err)
	}
	return out, nil
}

func (s *RateLimitService) GetTopAttackingIPs(ctx context.Context, limit int) ([]*domainauth.AttackingIP, error) {
	out, err := s.attempts.TopFailedIPs(ctx, s.cfg.Now().Add(-s.cfg.Window), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("top attacking ips: %w", err)
	}
	return out, nil
}

// ClearRateLimit drops the IP's attempts inside the active window only.
func (s *RateLimitService) ClearRateLimit(ctx context.Context, ip string) (int64, error) {
	n, err := s.attempts.DeleteByIP(ctx, ip, s.cfg.Now().Add(-s.cfg.Window))
	if err != nil {
		return 0, fmt.Errorf("clear rate limit for %s: %w", ip, err)
	}
	s.log.Info("rate limit cleared", zap.String("ip", ip), zap.Int64("deleted", n))
	return n, nil
}

func (s *RateLimitService) CleanupOldAttempts(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < s.cfg.Window {
		retention = s.cfg.Window
	}
	n, err := s.attempts.DeleteOlderThan(ctx, s.cfg.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete old login attempts: %w", err)
	}
	cleanupDeleted.WithLabelValues("login_attempts").Add(float64(n))
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultMonitorLimit
	case limit > maxMonitorLimit:
		return maxMonitorLimit
	default:
		return limit
	}
}
