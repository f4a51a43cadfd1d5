package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Warden/internal/domain/auth"
)

var _ auth.LoginAttemptRepo = (*LoginAttempts)(nil)

type LoginAttempts struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*auth.LoginAttempt
}

func NewLoginAttempts() *LoginAttempts { return &LoginAttempts{} }

func (s *LoginAttempts) Insert(_ context.Context, a *auth.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	a.ID = s.nextID
	cp := *a
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *LoginAttempts) CountByIP(_ context.Context, ip string, since time.Time) (auth.AttemptCounts, error) {
	return s.count(func(a *auth.LoginAttempt) bool { return a.IPAddress == ip }, since), nil
}

func (s *LoginAttempts) CountByUsername(_ context.Context, username string, since time.Time) (auth.AttemptCounts, error) {
	return s.count(func(a *auth.LoginAttempt) bool { return a.Username == username }, since), nil
}

func (s *LoginAttempts) count(match func(*auth.LoginAttempt) bool, since time.Time) auth.AttemptCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c auth.AttemptCounts
	for _, a := range s.rows {
		if !a.AttemptedAt.After(since) || !match(a) {
			continue
		}
		if a.Success {
			c.Succeeded++
			continue
		}
		c.Failed++
		if c.OldestFailure == nil || a.AttemptedAt.Before(*c.OldestFailure) {
			at := a.AttemptedAt
			c.OldestFailure = &at
		}
	}
	return c
}

func (s *LoginAttempts) ListFailed(_ context.Context, since time.Time, limit int) ([]*auth.LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*auth.LoginAttempt
	for _, a := range s.rows {
		if !a.Success && a.AttemptedAt.After(since) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LoginAttempts) TopFailedIPs(_ context.Context, since time.Time, limit int) ([]*auth.AttackingIP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIP := make(map[string]*auth.AttackingIP)
	users := make(map[string]map[string]struct{})
	for _, a := range s.rows {
		if a.Success || !a.AttemptedAt.After(since) {
			continue
		}
		ip, ok := byIP[a.IPAddress]
		if !ok {
			ip = &auth.AttackingIP{IPAddress: a.IPAddress}
			byIP[a.IPAddress] = ip
			users[a.IPAddress] = make(map[string]struct{})
		}
		ip.FailedCount++
		users[a.IPAddress][a.Username] = struct{}{}
		if a.AttemptedAt.After(ip.LastAttempt) {
			ip.LastAttempt = a.AttemptedAt
		}
	}

	out := make([]*auth.AttackingIP, 0, len(byIP))
	for addr, ip := range byIP {
		ip.UsernameCount = len(users[addr])
		out = append(out, ip)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedCount != out[j].FailedCount {
			return out[i].FailedCount > out[j].FailedCount
		}
		return out[i].LastAttempt.After(out[j].LastAttempt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LoginAttempts) DeleteByIP(_ context.Context, ip string, since time.Time) (int64, error) {
	return s.deleteWhere(func(a *auth.LoginAttempt) bool {
		return a.IPAddress == ip && a.AttemptedAt.After(since)
	}), nil
}

func (s *LoginAttempts) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	return s.deleteWhere(func(a *auth.LoginAttempt) bool { return a.AttemptedAt.Before(before) }), nil
}

func (s *LoginAttempts) deleteWhere(drop func(*auth.LoginAttempt) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	var n int64
	for _, a := range s.rows {
		if drop(a) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.rows = kept
	return n
}

func (s *LoginAttempts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
