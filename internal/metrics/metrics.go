package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fishfish"

var (
	// APICalls counts raw FishFish API calls.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_calls_total",
		Help:      "Raw FishFish API call counts.",
	}, []string{"endpoint", "status"})

	// APIDuration records FishFish API latency.
	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_duration_seconds",
		Help:      "FishFish API call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"endpoint"})

	// TokenExchanges counts session token exchange attempts by outcome.
	TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_exchanges_total",
		Help:      "Session token exchange attempts by outcome.",
	}, []string{"status"})

	// FeedConnected is 1 while the realtime feed holds a live connection.
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_connected",
		Help:      "1 while the realtime feed holds a live connection.",
	})

	// FeedReconnects counts reconnect attempts after an abnormal close.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_reconnects_total",
		Help:      "Reconnect attempts after an abnormal feed close.",
	})

	// FeedEvents counts applied realtime events per kind.
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_events_total",
		Help:      "Applied realtime events per kind.",
	}, []string{"kind"})

	// FeedEventsDropped counts feed messages discarded without application.
	FeedEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_events_dropped_total",
		Help:      "Feed messages discarded without cache application.",
	}, []string{"reason"})

	// ResyncDuration records full cache resync duration.
	ResyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resync_duration_seconds",
		Help:      "Full cache resync duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
	})

	// EventsFiltered counts mirror events rejected per filter stage.
	EventsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_filtered_total",
		Help:      "Mirror events rejected per filter stage.",
	}, []string{"stage", "reason"})

	// JobsEnqueued counts mirror jobs placed into the worker channel.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Mirror jobs placed into worker channel.",
	}, []string{"action"})

	// JobsDropped counts mirror jobs discarded without a store write.
	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dropped_total",
		Help:      "Mirror jobs discarded without a store write.",
	}, []string{"reason"})

	// JobsProcessed counts worker completions.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Worker job completions.",
	}, []string{"action", "status"})

	// WorkerQueueDepth tracks current job channel length.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current job channel buffer depth.",
	})

	// MirroredRecords tracks records held in the local mirror per kind.
	MirroredRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mirrored_records",
		Help:      "Records held in the local bbolt mirror per kind.",
	}, []string{"kind"})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})
)
