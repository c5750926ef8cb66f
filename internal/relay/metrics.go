package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the relay counters exposed on /metrics.
type Metrics struct {
	rooms        prometheus.Gauge
	members      prometheus.Gauge
	relayed      *prometheus.CounterVec
	dropped      prometheus.Counter
	kicked       prometheus.Counter
	rateLimited  prometheus.Counter
	signalPeers  prometheus.Gauge
	signals      *prometheus.CounterVec
	unknownPeers prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "proximity", Subsystem: "relay", Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "proximity", Subsystem: "relay", Name: "members",
			Help: "Members across all rooms.",
		}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proximity", Subsystem: "relay", Name: "messages_total",
			Help: "Room messages handled, by type.",
		}, []string{"type"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "proximity", Subsystem: "relay", Name: "dropped_total",
			Help: "Sends dropped because a member queue was full.",
		}),
		kicked: f.NewCounter(prometheus.CounterOpts{
			Namespace: "proximity", Subsystem: "relay", Name: "kicked_total",
			Help: "Members disconnected by the backpressure policy.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: "proximity", Subsystem: "relay", Name: "rate_limited_total",
			Help: "Call intentions rejected by the rate limiter.",
		}),
		signalPeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "proximity", Subsystem: "signal", Name: "peers",
			Help: "Open signalling sockets.",
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proximity", Subsystem: "signal", Name: "messages_total",
			Help: "Signalling messages routed, by type.",
		}, []string{"type"}),
		unknownPeers: f.NewCounter(prometheus.CounterOpts{
			Namespace: "proximity", Subsystem: "signal", Name: "unknown_peer_total",
			Help: "Signalling messages addressed to an unknown peer.",
		}),
	}
}
