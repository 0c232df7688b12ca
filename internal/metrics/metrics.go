package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scheduleguard"

var (
	once sync.Once

	conflictScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_scans_total",
			Help:      "Count of conflict scans by outcome.",
		},
		[]string{"outcome"},
	)

	conflictsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_found_total",
			Help:      "Count of conflicting bookings by reason.",
		},
		[]string{"reason"},
	)

	unverifiedScans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_scan_unverified_total",
			Help:      "Count of saves that proceeded without a conflict check because a fetch failed.",
		},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Count of conflict resolutions by strategy.",
		},
		[]string{"strategy"},
	)

	persistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Count of failed schedule updates by kind.",
		},
		[]string{"kind"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_fetch_duration_seconds",
			Help:      "Duration of the concurrent order and bookings fetch.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(conflictScans, conflictsFound, unverifiedScans, resolutions,
			persistFailures, backendDuration, httpRequests)
	})
}

func IncScan(outcome string) {
	conflictScans.WithLabelValues(outcome).Inc()
}

func IncConflict(reason string) {
	conflictsFound.WithLabelValues(reason).Inc()
}

func IncUnverified() {
	unverifiedScans.Inc()
}

func IncResolution(strategy string) {
	resolutions.WithLabelValues(strategy).Inc()
}

func IncPersistFailure(kind string) {
	persistFailures.WithLabelValues(kind).Inc()
}

func ObserveFetch(result string, d time.Duration) {
	backendDuration.WithLabelValues(result).Observe(d.Seconds())
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}
