package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openflux_samples_total",
			Help: "Machine counter samples by result",
		},
		[]string{"result"}, // ok | fetch_failed | apply_failed
	)

	connectionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openflux_connection_failures_total",
			Help: "Ticks on which a whole connection was skipped",
		},
	)

	ticksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openflux_ticks_skipped_total",
			Help: "Sampling ticks skipped because the previous tick was still running",
		},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openflux_tick_duration_seconds",
			Help:    "Wall time of one full sampling tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweepDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openflux_sweep_deleted_rows_total",
			Help: "Rollup rows removed by retention sweeps, per tier",
		},
		[]string{"tier"}, // hourly | daily
	)
)

func init() {
	prometheus.MustRegister(
		samplesTotal,
		connectionFailures,
		ticksSkipped,
		tickDuration,
		sweepDeleted,
	)
}
