package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Warden/internal/domain/auth"
)

var _ auth.BlacklistRepo = (*BlacklistRepo)(nil)

type BlacklistRepo struct{ db *DB }

func NewBlacklistRepo(db *DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

const (
	qBLInsert = `
INSERT INTO blacklisted_tokens(token_jti, user_id, expires_at, reason)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_jti) DO NOTHING;
`
	qBLExists = `
SELECT EXISTS(SELECT 1 FROM blacklisted_tokens WHERE token_jti = $1);
`
	qBLDeleteExpired = `
DELETE FROM blacklisted_tokens WHERE expires_at <= $1;
`
)

func (r *BlacklistRepo) Add(ctx context.Context, e *auth.BlacklistEntry) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.queryer(ctx).Exec(ctx, qBLInsert, e.TokenJTI, e.UserID, e.ExpiresAt, nullable(e.Reason)); err != nil {
		return fmt.Errorf("blacklist insert: %w", err)
	}
	return nil
}

func (r *BlacklistRepo) Exists(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ok bool
	if err := r.db.queryer(ctx).QueryRow(ctx, qBLExists, jti).Scan(&ok); err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return ok, nil
}

func (r *BlacklistRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.queryer(ctx).Exec(ctx, qBLDeleteExpired, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired blacklist: %w", err)
	}
	return tag.RowsAffected(), nil
}
