package auth

import (
	"context"
	"time"
)

type RefreshTokenRepo interface {
	Create(ctx context.Context, t *RefreshToken) error
	ListActive(ctx context.Context, now time.Time) ([]*RefreshToken, error)
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
	Revoke(ctx context.Context, id int64) error
	RevokeAllByUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type BlacklistRepo interface {
	// Add is a no-op when the jti is already present.
	Add(ctx context.Context, e *BlacklistEntry) error
	Exists(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type LoginAttemptRepo interface {
	Insert(ctx context.Context, a *LoginAttempt) error
	CountByIP(ctx context.Context, ip string, since time.Time) (AttemptCounts, error)
	CountByUsername(ctx context.Context, username string, since time.Time) (AttemptCounts, error)
	ListFailed(ctx context.Context, since time.Time, limit int) ([]*LoginAttempt, error)
	TopFailedIPs(ctx context.Context, since time.Time, limit int) ([]*AttackingIP, error)
	DeleteByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type Transactor interface {
	WithTx(ctx context.Context, function func(ctx context.Context) error) error
}
