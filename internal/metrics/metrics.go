package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics (ops server)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosttext_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghosttext_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Channel metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_messages_sent_total",
			Help: "Total messages sent",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_send_failures_total",
			Help: "Total send attempts rejected by the store",
		},
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_decrypt_failures_total",
			Help: "Total messages that failed authenticated decryption",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghosttext_active_subscriptions",
			Help: "Live channel subscriptions held by this process",
		},
	)

	PresenceRegistrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_presence_registrations_total",
			Help: "Total presence records registered",
		},
	)

	// Sweeper metrics
	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_sweep_runs_total",
			Help: "Total expiry sweep runs",
		},
	)

	MessagesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_messages_expired_total",
			Help: "Total messages deleted by the expiry sweeper",
		},
	)

	StalePresencePruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosttext_stale_presence_pruned_total",
			Help: "Total stale presence records pruned",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghosttext_sweep_duration_seconds",
			Help:    "Expiry sweep duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghosttext_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
