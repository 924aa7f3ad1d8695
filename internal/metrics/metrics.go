package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_refresh_runs_total",
		Help: "Refresh attempts per platform and outcome",
	}, []string{"platform", "status"})

	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Outbound statistics provider requests by status code",
	}, []string{"platform", "status"})

	UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Outbound statistics provider request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform", "endpoint"})

	ReadServes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_read_serves_total",
		Help: "Public top-N reads by the cache tier that served them",
	}, []string{"platform", "source"})

	NewEntrantsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_new_entrants_total",
		Help: "New entrants detected per platform",
	}, []string{"platform"})

	AvatarLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_cache_lookups_total",
		Help: "Avatar cache lookups by result (hit, stale, miss)",
	}, []string{"platform", "result"})
)

// MustRegister registers all collectors with the given registerer.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		RefreshRuns,
		UpstreamRequests,
		UpstreamDuration,
		ReadServes,
		NewEntrantsFound,
		AvatarLookups,
	)
}

// Handler returns the HTTP handler that exposes registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
