package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
)

var _ user.Directory = (*UserRepo)(nil)

// UserRepo is the directory view over the application's users table.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const (
	qUserByID = `
SELECT id, username, role
FROM users
WHERE id = $1 AND is_active = TRUE;`

	qUserCredByUsername = `
SELECT id, username, role, password_hash
FROM users
WHERE lower(username) = lower($1) AND is_active = TRUE;`

	qUserInsert = `
INSERT INTO users (username, password_hash, role, is_active)
VALUES ($1, $2, $3, TRUE)
RETURNING id;`
)

func (r *UserRepo) Authenticate(ctx context.Context, username, password string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		u    user.User
		hash string
	)
	err := r.db.queryer(ctx).QueryRow(ctx, qUserCredByUsername, username).Scan(&u.ID, &u.Username, &u.Role, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("user by username: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, auth.ErrAuthenticationFailed
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := r.db.queryer(ctx).QueryRow(ctx, qUserByID, id).Scan(&u.ID, &u.Username, &u.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return &u, nil
}

// Create is used by seeding and tests; the project app owns user management.
func (r *UserRepo) Create(ctx context.Context, username, password, role string) (*user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	u := &user.User{Username: username, Role: role}
	if err := r.db.queryer(ctx).QueryRow(ctx, qUserInsert, username, string(hash), role).Scan(&u.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, user.ErrExists
		}
		return nil, fmt.Errorf("user insert: %w", err)
	}
	return u, nil
}
