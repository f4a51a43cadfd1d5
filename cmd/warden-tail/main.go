// Command warden-tail logs in and prints the change events pushed to the
// session, debouncing bursts of updates per entity.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/NordCoder/Warden/internal/client"
	config "github.com/NordCoder/Warden/internal/config/tail"
	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/event"
	"github.com/NordCoder/Warden/internal/obs"
)

func main() {
	cfgPath := flag.String("config", "", "path to the YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	logger, err := obs.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("tail", zap.Error(err))
	}
}

const maxRejections = 3

// run re-logs in after an auth rejection and stops on any other stream end.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	session := client.NewSession(client.SessionOpts{
		BaseURL:  cfg.BaseURL,
		OnLogout: func() { logger.Warn("session expired") },
		Logger:   logger,
	})
	d := client.NewDebouncer(cfg.Debounce)
	defer d.Stop()
	show := client.Coalesce(d, func(m event.Message) {
		logger.Info("event",
			zap.String("type", string(m.Type)),
			zap.Time("at", m.Timestamp),
			zap.ByteString("payload", m.Payload),
		)
	})

	rejections := 0
	for {
		if !session.LoggedIn() {
			res, err := session.Login(ctx, cfg.Username, cfg.Password)
			if err != nil {
				var rl *domainauth.RateLimitedError
				if errors.As(err, &rl) {
					logger.Error("login rate limited", zap.Duration("retry_after", rl.RetryAfter))
				}
				return err
			}
			logger.Info("logged in", zap.String("user", res.User.Username), zap.String("expires_in", res.ExpiresIn))
		}

		stream := client.NewStream(client.StreamOpts{
			URL:       cfg.WSURL,
			Token:     session.AccessToken,
			OnMessage: show,
			OnConnect: func() { logger.Info("stream connected") },
			Logger:    logger,
		})
		err := stream.Run(ctx)
		var authErr *domainauth.ConnectionAuthError
		if !errors.As(err, &authErr) {
			_ = session.Logout(context.Background())
			return err
		}
		rejections++
		if rejections > maxRejections {
			return err
		}
		logger.Info("stream rejected, renewing credentials", zap.Int("code", authErr.Code))
		if err := session.Refresh(ctx); err != nil {
			logger.Info("refresh failed, logging in again", zap.Error(err))
		}
	}
}
