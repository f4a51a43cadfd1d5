package memory

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
)

var _ user.Directory = (*Users)(nil)

type Users struct {
	mu     sync.RWMutex
	nextID int64
	byName map[string]*storedUser
	byID   map[int64]*storedUser
}

type storedUser struct {
	user.User
	hash []byte
}

func NewUsers() *Users {
	return &Users{
		byName: make(map[string]*storedUser),
		byID:   make(map[int64]*storedUser),
	}
}

func (s *Users) Create(_ context.Context, username, password, role string) (*user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if _, ok := s.byName[key]; ok {
		return nil, user.ErrExists
	}
	s.nextID++
	u := &storedUser{User: user.User{ID: s.nextID, Username: username, Role: role}, hash: hash}
	s.byName[key] = u
	s.byID[u.ID] = u

	out := u.User
	return &out, nil
}

func (s *Users) Authenticate(_ context.Context, username, password string) (*user.User, error) {
	s.mu.RLock()
	u, ok := s.byName[strings.ToLower(username)]
	s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrAuthenticationFailed
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return nil, auth.ErrAuthenticationFailed
	}
	out := u.User
	return &out, nil
}

func (s *Users) GetByID(_ context.Context, id int64) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	out := u.User
	return &out, nil
}
