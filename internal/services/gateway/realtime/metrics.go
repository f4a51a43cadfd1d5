package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_realtime_connections",
		Help: "Open realtime connections.",
	})
	authRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_realtime_auth_rejections_total",
		Help: "Connections closed during authentication, by close code.",
	}, []string{"code"})
	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_realtime_messages_total",
		Help: "Outbound messages by type.",
	}, []string{"type"})
	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_realtime_send_failures_total",
		Help: "Writes that failed and pruned their connection.",
	})
	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_realtime_superseded_total",
		Help: "Connections replaced by a newer one for the same user.",
	})
	inboundDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_realtime_inbound_dropped_total",
		Help: "Inbound client messages not relayed, by reason.",
	}, []string{"reason"})
)
