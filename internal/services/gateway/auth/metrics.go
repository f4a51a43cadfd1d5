package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_auth_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	verifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_auth_token_verify_failures_total",
		Help: "Rejected token verifications by reason.",
	}, []string{"reason"})
	cleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_auth_cleanup_deleted_total",
		Help: "Rows removed by cleanup, by kind.",
	}, []string{"kind"})
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_auth_cleanup_runs_total",
		Help: "Cleanup runs by result.",
	}, []string{"result"})
)
