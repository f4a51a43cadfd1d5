package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLoginAttemptsWindowAndRanking(t *testing.T) {
	ctx := context.Background()
	s := NewLoginAttempts()

	add := func(ip, name string, ok bool, ago time.Duration) {
		require.NoError(t, s.Insert(ctx, &auth.LoginAttempt{IPAddress: ip, Username: name, Success: ok, AttemptedAt: t0.Add(-ago)}))
	}
	add("a", "alice", false, time.Minute)
	add("a", "bob", false, 2*time.Minute)
	add("b", "alice", false, 3*time.Minute)
	add("a", "alice", true, 0)
	add("a", "alice", false, time.Hour)

	since := t0.Add(-15 * time.Minute)
	c, err := s.CountByIP(ctx, "a", since)
	require.NoError(t, err)
	require.Equal(t, 2, c.Failed)
	require.Equal(t, 1, c.Succeeded)
	require.Equal(t, t0.Add(-2*time.Minute), *c.OldestFailure)

	top, err := s.TopFailedIPs(ctx, since, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "a", top[0].IPAddress)
	require.Equal(t, 2, top[0].FailedCount)
	require.Equal(t, 2, top[0].UsernameCount)

	failed, err := s.ListFailed(ctx, since, 2)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	require.True(t, failed[0].AttemptedAt.After(failed[1].AttemptedAt))

	n, err := s.DeleteByIP(ctx, "a", since)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Equal(t, 2, s.Len())

	n, err = s.DeleteOlderThan(ctx, since)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestBlacklistIdempotentAdd(t *testing.T) {
	ctx := context.Background()
	b := NewBlacklist()
	e := &auth.BlacklistEntry{TokenJTI: "j", ExpiresAt: t0, Reason: auth.ReasonLogout}
	require.NoError(t, b.Add(ctx, e))
	require.NoError(t, b.Add(ctx, &auth.BlacklistEntry{TokenJTI: "j", ExpiresAt: t0.Add(time.Hour)}))
	require.Equal(t, 1, b.Len())

	n, err := b.DeleteExpired(ctx, t0.Add(-time.Second))
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = b.DeleteExpired(ctx, t0)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := NewUsers()
	u, err := s.Create(ctx, "Alice", "pw", "member")
	require.NoError(t, err)

	_, err = s.Create(ctx, "alice", "x", "member")
	require.ErrorIs(t, err, user.ErrExists)

	got, err := s.Authenticate(ctx, "ALICE", "pw")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate(ctx, "alice", "nope")
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)

	_, err = s.GetByID(ctx, 99)
	require.ErrorIs(t, err, user.ErrNotFound)
}
