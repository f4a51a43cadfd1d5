package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Warden/internal/domain/auth"
)

var _ auth.LoginAttemptRepo = (*LoginAttemptRepo)(nil)

type LoginAttemptRepo struct{ db *DB }

func NewLoginAttemptRepo(db *DB) *LoginAttemptRepo { return &LoginAttemptRepo{db: db} }

const (
	qLAInsert = `
INSERT INTO login_attempts(ip_address, username, success, attempted_at, user_agent)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;
`
	qLACountByIP = `
SELECT COUNT(*) FILTER (WHERE NOT success),
       COUNT(*) FILTER (WHERE success),
       MIN(attempted_at) FILTER (WHERE NOT success)
FROM login_attempts
WHERE ip_address = $1 AND attempted_at > $2;
`
	qLACountByUsername = `
SELECT COUNT(*) FILTER (WHERE NOT success),
       COUNT(*) FILTER (WHERE success),
       MIN(attempted_at) FILTER (WHERE NOT success)
FROM login_attempts
WHERE username = $1 AND attempted_at > $2;
`
	qLAListFailed = `
SELECT id, ip_address, username, success, attempted_at, user_agent
FROM login_attempts
WHERE success = FALSE AND attempted_at > $1
ORDER BY attempted_at DESC
LIMIT $2;
`
	qLATopIPs = `
SELECT ip_address, COUNT(*) AS failed, COUNT(DISTINCT username), MAX(attempted_at)
FROM login_attempts
WHERE success = FALSE AND attempted_at > $1
GROUP BY ip_address
ORDER BY failed DESC, MAX(attempted_at) DESC
LIMIT $2;
`
	qLADeleteByIP = `
DELETE FROM login_attempts WHERE ip_address = $1 AND attempted_at > $2;
`
	qLADeleteOlder = `
DELETE FROM login_attempts WHERE attempted_at < $1;
`
)

func (r *LoginAttemptRepo) Insert(ctx context.Context, a *auth.LoginAttempt) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.queryer(ctx).QueryRow(ctx, qLAInsert,
		a.IPAddress, a.Username, a.Success, a.AttemptedAt, nullable(a.UserAgent),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

func (r *LoginAttemptRepo) CountByIP(ctx context.Context, ip string, since time.Time) (auth.AttemptCounts, error) {
	return r.count(ctx, qLACountByIP, ip, since)
}

func (r *LoginAttemptRepo) CountByUsername(ctx context.Context, username string, since time.Time) (auth.AttemptCounts, error) {
	return r.count(ctx, qLACountByUsername, username, since)
}

func (r *LoginAttemptRepo) count(ctx context.Context, q, key string, since time.Time) (auth.AttemptCounts, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c auth.AttemptCounts
	if err := r.db.queryer(ctx).QueryRow(ctx, q, key, since).Scan(&c.Failed, &c.Succeeded, &c.OldestFailure); err != nil {
		return auth.AttemptCounts{}, fmt.Errorf("count login attempts: %w", err)
	}
	return c, nil
}

func (r *LoginAttemptRepo) ListFailed(ctx context.Context, since time.Time, limit int) ([]*auth.LoginAttempt, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.queryer(ctx).Query(ctx, qLAListFailed, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed attempts: %w", err)
	}
	defer rows.Close()

	var out []*auth.LoginAttempt
	for rows.Next() {
		var (
			a  auth.LoginAttempt
			ua *string
		)
		if err := rows.Scan(&a.ID, &a.IPAddress, &a.Username, &a.Success, &a.AttemptedAt, &ua); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.UserAgent = deref(ua)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *LoginAttemptRepo) TopFailedIPs(ctx context.Context, since time.Time, limit int) ([]*auth.AttackingIP, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.queryer(ctx).Query(ctx, qLATopIPs, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top failed ips: %w", err)
	}
	defer rows.Close()

	var out []*auth.AttackingIP
	for rows.Next() {
		var ip auth.AttackingIP
		if err := rows.Scan(&ip.IPAddress, &ip.FailedCount, &ip.UsernameCount, &ip.LastAttempt); err != nil {
			return nil, fmt.Errorf("scan ip: %w", err)
		}
		out = append(out, &ip)
	}
	return out, rows.Err()
}

func (r *LoginAttemptRepo) DeleteByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.queryer(ctx).Exec(ctx, qLADeleteByIP, ip, since)
	if err != nil {
		return 0, fmt.Errorf("clear attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *LoginAttemptRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.queryer(ctx).Exec(ctx, qLADeleteOlder, before)
	if err != nil {
		return 0, fmt.Errorf("purge attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
