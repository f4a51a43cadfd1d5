package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/repository/memory"
)

var errTransient = errors.New("connection reset")

type flakyBlacklist struct {
	*memory.Blacklist
	failures atomic.Int32
}

func (f *flakyBlacklist) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, errTransient
	}
	return f.Blacklist.DeleteExpired(ctx, now)
}

func newCleanupFixture(t *testing.T, failures int32) (*Cleanup, *flakyBlacklist, *fakeClock) {
	t.Helper()
	clock := newClock()
	bl := &flakyBlacklist{Blacklist: memory.NewBlacklist()}
	bl.failures.Store(failures)

	tokens, err := NewTokenService(memory.NewRefreshTokens(), bl, TokenConfig{Secret: []byte("s"), Now: clock.Now}, zap.NewNop())
	require.NoError(t, err)
	limiter := NewRateLimitService(memory.NewLoginAttempts(), RateLimitConfig{Now: clock.Now}, zap.NewNop())

	c := NewCleanup(tokens, limiter, CleanupConfig{
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	}, zap.NewNop())
	return c, bl, clock
}

func TestCleanup_RetriesTransientOnce(t *testing.T) {
	c, bl, clock := newCleanupFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, bl.Add(ctx, &domainauth.BlacklistEntry{TokenJTI: "j", ExpiresAt: clock.Now().Add(-time.Minute)}))

	rep, err := c.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), rep.Tokens)
}

func TestCleanup_GivesUpAfterSecondFailure(t *testing.T) {
	c, _, _ := newCleanupFixture(t, 2)

	_, err := c.RunOnce(context.Background())
	require.ErrorIs(t, err, errTransient)
}

func TestCleanup_StartRejectsBadSchedule(t *testing.T) {
	c, _, _ := newCleanupFixture(t, 0)
	c.cfg.Schedule = "not a schedule"

	require.Error(t, c.Start(context.Background()))
}

func TestCleanup_StartStopsWithContext(t *testing.T) {
	c, _, _ := newCleanupFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup scheduler did not stop")
	}
}
