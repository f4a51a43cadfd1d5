package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	config "github.com/NordCoder/Warden/internal/config/warden"
	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
	"github.com/NordCoder/Warden/internal/repository/memory"
	pg "github.com/NordCoder/Warden/internal/repository/postgres"
	"github.com/NordCoder/Warden/internal/repository/redis"
)

type userStore interface {
	user.Directory
	Create(ctx context.Context, username, password, role string) (*user.User, error)
}

type stores struct {
	users     userStore
	refresh   domainauth.RefreshTokenRepo
	blacklist domainauth.BlacklistRepo
	attempts  domainauth.LoginAttemptRepo
	tx        domainauth.Transactor

	health    func(context.Context) error
	retryable func(error) bool
	closers   []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func initStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	var s *stores
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; state is lost on restart")
		s = &stores{
			users:     memory.NewUsers(),
			refresh:   memory.NewRefreshTokens(),
			blacklist: memory.NewBlacklist(),
			attempts:  memory.NewLoginAttempts(),
			tx:        memory.Transactor{},
		}
	case config.StoragePostgres:
		db, err := pg.NewDB(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		s = &stores{
			users:     pg.NewUserRepo(db),
			refresh:   pg.NewRefreshTokenRepo(db),
			blacklist: pg.NewBlacklistRepo(db),
			attempts:  pg.NewLoginAttemptRepo(db),
			tx:        pg.NewTransactor(db, logger),
			health:    db.Ping,
			retryable: pg.IsTransient,
			closers:   []func(){db.Close},
		}
	default:
		return nil, config.ErrBadStorage
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.blacklist = redis.NewBlacklistCache(client, s.blacklist, cfg.Redis, logger)
		s.closers = append(s.closers, func() { _ = client.Close() })
		logger.Info("blacklist cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	return s, nil
}

// bootstrapAdmin makes sure the configured admin account exists.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, users userStore, logger *zap.Logger) error {
	b := cfg.Bootstrap
	if b.AdminUsername == "" || b.AdminPassword == "" {
		return nil
	}
	u, err := users.Create(ctx, b.AdminUsername, b.AdminPassword, user.RoleAdmin)
	switch {
	case errors.Is(err, user.ErrExists):
		logger.Info("admin account already present", zap.String("username", b.AdminUsername))
		return nil
	case err != nil:
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("admin account created", zap.String("username", u.Username), zap.Int64("id", u.ID))
	return nil
}
