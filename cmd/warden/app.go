package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	config "github.com/NordCoder/Warden/internal/config/warden"
	"github.com/NordCoder/Warden/internal/repository/kafka"
	"github.com/NordCoder/Warden/internal/services/gateway/auth"
	"github.com/NordCoder/Warden/internal/services/gateway/realtime"
)

type app struct {
	cfg      *config.Config
	log      *zap.Logger
	stores   *stores
	tokens   *auth.TokenService
	limiter  *auth.RateLimitService
	usecase  *auth.Usecase
	cleanup  *auth.Cleanup
	registry *realtime.Registry
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := initStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(st.refresh, st.blacklist, cfg.Auth.AsTokenConfig(), logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	limiter := auth.NewRateLimitService(st.attempts, cfg.RateLimit.AsRateLimitConfig(), logger)
	uc := auth.NewUsecase(st.users, tokens, limiter, st.tx, logger)
	cleanup := auth.NewCleanup(tokens, limiter, auth.CleanupConfig{
		Schedule:         cfg.Cleanup.Schedule,
		AttemptRetention: cfg.RateLimit.AttemptRetention,
		Retryable:        st.retryable,
	}, logger)

	if err := bootstrapAdmin(ctx, cfg, st.users, logger); err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      logger,
		stores:   st,
		tokens:   tokens,
		limiter:  limiter,
		usecase:  uc,
		cleanup:  cleanup,
		registry: realtime.NewRegistry(tokens, cfg.Realtime.AsRegistryConfig(), logger),
	}, nil
}

// consumer returns nil when change-event ingest is disabled.
func (a *app) consumer(ctx context.Context) *kafka.Consumer {
	if !a.cfg.Kafka.Enable {
		return nil
	}
	kc := a.cfg.Kafka.ConsumerConfig
	return kafka.BootstrapConsumer(ctx, &kc, a.cfg.Kafka.Partitions, a.log)
}

func (a *app) Close() {
	a.registry.Close()
	a.stores.Close()
}

func (a *app) String() string {
	return fmt.Sprintf("warden storage=%s kafka=%t redis=%t", a.cfg.Storage.Driver, a.cfg.Kafka.Enable, a.cfg.Redis.Enabled)
}
