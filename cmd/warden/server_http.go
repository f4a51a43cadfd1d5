package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/NordCoder/Warden/internal/obs"
	"github.com/NordCoder/Warden/internal/services/gateway/auth"
)

func (a *app) handler() http.Handler {
	r := mux.NewRouter()

	ctrl := auth.NewController(a.usecase, a.cleanup, auth.ControllerOpts{
		Logger:     a.log,
		TrustProxy: a.cfg.Server.TrustProxy,
		Realtime:   a.registry,
	})
	ctrl.Register(r)

	r.Handle("/ws", a.registry).Methods(http.MethodGet)
	r.Handle("/healthz", obs.HealthHandler(a.stores.health)).Methods(http.MethodGet)
	if a.cfg.Server.MetricsAddr == "" {
		r.Handle("/metrics", obs.MetricsMux(a.stores.health)).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return obs.HTTPHandler(c.Handler(r), "warden.http")
}

func (a *app) httpServer() *http.Server {
	return &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           a.handler(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}
}

func serveHTTP(srv *http.Server, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}
