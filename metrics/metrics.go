package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arenaclient_matches_started_total",
			Help: "Matches admitted by the coordinator",
		},
	)

	MatchesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arenaclient_matches_completed_total",
			Help: "Matches finished, by outcome",
		},
		[]string{"outcome", "reason"},
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arenaclient_match_duration_seconds",
			Help:    "Wall time from launch to result",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arenaclient_active_sessions",
			Help: "Sessions currently registered",
		},
	)

	StrikesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arenaclient_strikes_total",
			Help: "Per-step budget violations recorded",
		},
	)

	ConnectionsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arenaclient_connections_total",
			Help: "Accepted connections, by peer kind",
		},
		[]string{"kind"}, // supervisor|bot|rejected
	)
)

func init() {
	prometheus.MustRegister(MatchesStarted)
	prometheus.MustRegister(MatchesCompleted)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(StrikesIssued)
	prometheus.MustRegister(ConnectionsClassified)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
