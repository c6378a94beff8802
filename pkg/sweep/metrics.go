package sweep

import "github.com/prometheus/client_golang/prometheus"

var (
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vnad_tick_duration_seconds",
		Help:    "Duration of one channel state machine tick",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	sweepsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vnad_sweeps_completed_total",
		Help: "Number of sweeps run to completion",
	})

	pointsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vnad_points_processed_total",
		Help: "Number of sweep points processed through the chain",
	})

	publishBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vnad_event_queue_busy_total",
		Help: "Number of event publishes deferred by a full queue",
	})

	pointErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vnad_point_errors_total",
		Help: "Number of sweep points aborted by a processing error",
	})
)

func init() {
	prometheus.MustRegister(tickDuration, sweepsCompleted, pointsProcessed, publishBusy, pointErrors)
}
