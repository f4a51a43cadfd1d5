package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Warden/internal/domain/auth"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const (
	qRTCreate = `
INSERT INTO refresh_tokens(user_id, token_hash, expires_at, device_info, ip_address, is_revoked)
VALUES ($1, $2, $3, $4, $5, FALSE)
RETURNING id, created_at;
`
	qRTListActive = `
SELECT id, user_id, token_hash, expires_at, device_info, ip_address, last_used_at, is_revoked, created_at
FROM refresh_tokens
WHERE expires_at > $1 AND is_revoked = FALSE;
`
	qRTTouch = `
UPDATE refresh_tokens SET last_used_at = $2 WHERE id = $1;
`
	qRTRevoke = `
UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = $1;
`
	qRTRevokeAll = `
UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE;
`
	qRTDeleteExpired = `
DELETE FROM refresh_tokens WHERE expires_at <= $1;
`
)

func (r *RefreshTokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.queryer(ctx).QueryRow(ctx, qRTCreate,
		t.UserID, t.TokenHash, t.ExpiresAt, nullable(t.DeviceInfo), nullable(t.IPAddress),
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create refresh: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) ListActive(ctx context.Context, now time.Time) ([]*auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.queryer(ctx).Query(ctx, qRTListActive, now)
	if err != nil {
		return nil, fmt.Errorf("list active refresh: %w", err)
	}
	defer rows.Close()

	var out []*auth.RefreshToken
	for rows.Next() {
		var (
			t              auth.RefreshToken
			device, ipAddr *string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &device, &ipAddr,
			&t.LastUsedAt, &t.IsRevoked, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refresh: %w", err)
		}
		t.DeviceInfo, t.IPAddress = deref(device), deref(ipAddr)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *RefreshTokenRepo) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.queryer(ctx).Exec(ctx, qRTTouch, id, at); err != nil {
		return fmt.Errorf("touch refresh: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.queryer(ctx).Exec(ctx, qRTRevoke, id); err != nil {
		return fmt.Errorf("revoke refresh: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllByUser(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.queryer(ctx).Exec(ctx, qRTRevokeAll, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.queryer(ctx).Exec(ctx, qRTDeleteExpired, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh: %w", err)
	}
	return tag.RowsAffected(), nil
}
