package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_cycles_total",
			Help: "Total number of reconciliation cycles started",
		},
	)

	cycleFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_cycle_failures_total",
			Help: "Total number of failed reconciliation phases",
		},
		[]string{"phase"},
	)

	referencesRegisteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_references_registered_total",
			Help: "Total number of remote records created for new (actor, day) pairs",
		},
	)

	recordsPushedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_records_pushed_total",
			Help: "Total number of aggregate records pushed to the remote store",
		},
	)

	eventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_events_recorded_total",
			Help: "Total number of activity events recorded",
		},
		[]string{"type"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logsync_remote_call_duration_seconds",
			Help:    "Remote store call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)
)

func CycleStarted() {
	cyclesTotal.Inc()
}

func PhaseFailed(phase string) {
	cycleFailuresTotal.WithLabelValues(phase).Inc()
}

func ReferencesRegistered(n int) {
	referencesRegisteredTotal.Add(float64(n))
}

func RecordsPushed(n int) {
	recordsPushedTotal.Add(float64(n))
}

func EventRecorded(eventType string) {
	eventsRecordedTotal.WithLabelValues(eventType).Inc()
}

func ObserveRemoteCall(op string, start time.Time) {
	remoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
