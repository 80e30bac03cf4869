// Package metrics provides Prometheus instrumentation for chatguard. It
// exposes counters for moderation outcomes, a histogram for chat pipeline
// latency, and a gauge for attached host connections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts inbound events by kind: "chat", "command",
	// "emote", "whisper", "reply".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_events_total",
		Help: "Total moderation events processed",
	}, []string{"kind"})

	// VerdictsTotal counts scoring verdicts: "allow", "warn", "kick".
	VerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_verdicts_total",
		Help: "Spam scoring verdicts",
	}, []string{"verdict"})

	// MessagesSuppressed counts messages dropped without broadcast
	// (muted sender, missing speak permission).
	MessagesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatguard_messages_suppressed_total",
		Help: "Messages suppressed before broadcast",
	})

	// MessagesBroadcast counts messages that made it to broadcast.
	MessagesBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatguard_messages_broadcast_total",
		Help: "Messages formatted and broadcast",
	})

	// TagsStripped counts messages that carried markup the sanitizer removed.
	TagsStripped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatguard_tags_stripped_total",
		Help: "Messages with formatting markup removed",
	})

	// AdminOps counts admin mutations by operation and outcome.
	AdminOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_admin_ops_total",
		Help: "Admin operations by outcome",
	}, []string{"op", "outcome"}) // outcome = "ok", "error"

	// ChatLatency records the end-to-end chat pipeline latency in seconds.
	ChatLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatguard_chat_latency_seconds",
		Help:    "Chat event processing latency in seconds",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
	})

	// HostConnections tracks attached game-server connections.
	HostConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatguard_host_connections",
		Help: "Current number of attached host connections",
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		VerdictsTotal,
		MessagesSuppressed,
		MessagesBroadcast,
		TagsStripped,
		AdminOps,
		ChatLatency,
		HostConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
