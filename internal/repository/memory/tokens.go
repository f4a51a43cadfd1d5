// Package memory holds mutex-guarded in-process stores used for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Warden/internal/domain/auth"
)

var (
	_ auth.RefreshTokenRepo = (*RefreshTokens)(nil)
	_ auth.BlacklistRepo    = (*Blacklist)(nil)
	_ auth.Transactor       = Transactor{}
)

type RefreshTokens struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*auth.RefreshToken
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{rows: make(map[int64]*auth.RefreshToken)}
}

func (s *RefreshTokens) Create(_ context.Context, t *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	s.rows[t.ID] = &cp
	return nil
}

func (s *RefreshTokens) ListActive(_ context.Context, now time.Time) ([]*auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.RefreshToken, 0, len(s.rows))
	for _, t := range s.rows {
		if t.ExpiresAt.After(now) && !t.IsRevoked {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *RefreshTokens) TouchLastUsed(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.rows[id]; ok {
		at := at
		t.LastUsedAt = &at
	}
	return nil
}

func (s *RefreshTokens) Revoke(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.rows[id]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (s *RefreshTokens) RevokeAllByUser(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.rows {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.rows {
		if !t.ExpiresAt.After(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored row; used by tests to inspect state.
func (s *RefreshTokens) Get(id int64) (*auth.RefreshToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (s *RefreshTokens) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

type Blacklist struct {
	mu   sync.RWMutex
	rows map[string]*auth.BlacklistEntry
}

func NewBlacklist() *Blacklist {
	return &Blacklist{rows: make(map[string]*auth.BlacklistEntry)}
}

func (b *Blacklist) Add(_ context.Context, e *auth.BlacklistEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rows[e.TokenJTI]; ok {
		return nil
	}
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	b.rows[e.TokenJTI] = &cp
	return nil
}

func (b *Blacklist) Exists(_ context.Context, jti string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.rows[jti]
	return ok, nil
}

func (b *Blacklist) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for jti, e := range b.rows {
		if !e.ExpiresAt.After(now) {
			delete(b.rows, jti)
			n++
		}
	}
	return n, nil
}

func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Transactor runs the function inline; the memory stores have no rollback.
type Transactor struct{}

func (Transactor) WithTx(ctx context.Context, function func(ctx context.Context) error) error {
	return function(ctx)
}
