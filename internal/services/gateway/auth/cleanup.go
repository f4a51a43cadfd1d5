package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/NordCoder/Warden/internal/obs"
	"github.com/NordCoder/Warden/internal/obs/retry"
)

type CleanupConfig struct {
	Schedule         string
	AttemptRetention time.Duration
	// Retryable marks store errors worth a second attempt; nil never retries.
	Retryable func(error) bool
}

type CleanupReport struct {
	Tokens   int64 `json:"tokens"`
	Attempts int64 `json:"attempts"`
}

// Cleanup purges expired tokens and aged login attempts on a cron schedule
// and on demand.
type Cleanup struct {
	tokens  *TokenService
	limiter *RateLimitService
	cfg     CleanupConfig
	log     *zap.Logger
}

func NewCleanup(tokens *TokenService, limiter *RateLimitService, cfg CleanupConfig, log *zap.Logger) *Cleanup {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.AttemptRetention <= 0 {
		cfg.AttemptRetention = 30 * 24 * time.Hour
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return false }
	}
	return &Cleanup{tokens: tokens, limiter: limiter, cfg: cfg, log: obs.Component(log, "cleanup")}
}

func (c *Cleanup) RunOnce(ctx context.Context) (CleanupReport, error) {
	var rep CleanupReport

	err := retry.Do(ctx, func() error {
		n, err := c.tokens.CleanupExpiredTokens(ctx)
		rep.Tokens = n
		return err
	}, retry.OnceIf("cleanup_tokens", c.cfg.Retryable, c.log))
	if err != nil {
		cleanupRuns.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("token cleanup: %w", err)
	}

	err = retry.Do(ctx, func() error {
		n, err := c.limiter.CleanupOldAttempts(ctx, c.cfg.AttemptRetention)
		rep.Attempts = n
		return err
	}, retry.OnceIf("cleanup_attempts", c.cfg.Retryable, c.log))
	if err != nil {
		cleanupRuns.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("login attempt cleanup: %w", err)
	}

	cleanupRuns.WithLabelValues("ok").Inc()
	return rep, nil
}

// Start runs the schedule until ctx is cancelled and waits for a running job.
func (c *Cleanup) Start(ctx context.Context) error {
	sched := cron.New()
	_, err := sched.AddFunc(c.cfg.Schedule, func() {
		rep, err := c.RunOnce(ctx)
		if err != nil {
			c.log.Error("scheduled cleanup failed", zap.Error(err))
			return
		}
		c.log.Info("scheduled cleanup done", zap.Int64("tokens", rep.Tokens), zap.Int64("attempts", rep.Attempts))
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", c.cfg.Schedule, err)
	}

	sched.Start()
	c.log.Info("cleanup scheduled", zap.String("schedule", c.cfg.Schedule))
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}
