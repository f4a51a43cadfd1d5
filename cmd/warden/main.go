package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	config "github.com/NordCoder/Warden/internal/config/warden"
	"github.com/NordCoder/Warden/internal/obs"
	"github.com/NordCoder/Warden/internal/repository/kafka"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("WARDEN_CONFIG"), "path to the YAML config")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting warden", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	a, err := buildApp(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer a.Close()
	logger.Info("app ready", zap.Stringer("app", a))

	if cfg.Server.MetricsAddr != "" {
		ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, a.stores.health, logger)
		defer func() { _ = ms.Close() }()
	}

	httpSrv := a.httpServer()
	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		if err := serveHTTP(httpSrv, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Shutdown does not track hijacked sockets.
		a.registry.Close()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		return httpSrv.Shutdown(shCtx)
	})

	if cfg.Cleanup.Enable {
		g.Go(func() error { return a.cleanup.Start(gctx) })
	}

	if consumer := a.consumer(gctx); consumer != nil {
		g.Go(func() error {
			defer func() { _ = consumer.Close() }()
			return consumer.Consume(gctx, kafka.ChangeEventHandler(a.registry, nil, logger))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("run", zap.Error(err))
	}
	logger.Info("bye")
}
