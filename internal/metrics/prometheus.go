package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Store metrics
	RowsMutatedTotal   *prometheus.CounterVec
	MutateBatchesTotal *prometheus.CounterVec
	MutateDuration     *prometheus.HistogramVec
	RowsReadTotal      *prometheus.CounterVec
	BytesWrittenTotal  *prometheus.CounterVec
	BytesReadTotal     *prometheus.CounterVec
	StoreErrorsTotal   *prometheus.CounterVec

	// Ingest metrics
	VideosWrittenTotal  prometheus.Counter
	VideoWriteDuration  prometheus.Histogram
	ShardsFinishedTotal prometheus.Counter
	IngestPoolQueued    prometheus.Gauge
	IngestPoolActive    prometheus.Gauge

	// Sampling metrics
	SamplesEmittedTotal *prometheus.CounterVec
	LookupRetriesTotal  prometheus.Counter
	SampleDuration      *prometheus.HistogramVec
	QueueDepth          prometheus.Gauge
}

// NewMetrics creates metrics and registers them with reg. A nil reg uses a
// private registry, which keeps repeated construction in tests safe.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RowsMutatedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_rows_mutated_total",
				Help: "Total number of rows written, by column family",
			},
			[]string{"family"},
		),

		MutateBatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_mutate_batches_total",
				Help: "Total number of mutate calls",
			},
			[]string{"family", "status"},
		),

		MutateDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "avstore_mutate_duration_seconds",
				Help:    "Duration of mutate calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"family"},
		),

		RowsReadTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_rows_read_total",
				Help: "Total number of rows read, by column family",
			},
			[]string{"family"},
		),

		BytesWrittenTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_bytes_written_total",
				Help: "Total cell bytes written, by column family",
			},
			[]string{"family"},
		),

		BytesReadTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_bytes_read_total",
				Help: "Total cell bytes read, by column family",
			},
			[]string{"family"},
		),

		StoreErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_store_errors_total",
				Help: "Total number of store errors",
			},
			[]string{"operation", "code"},
		),

		VideosWrittenTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "avstore_videos_written_total",
				Help: "Total number of videos written",
			},
		),

		VideoWriteDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "avstore_video_write_duration_seconds",
				Help:    "Duration of writing one video",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		ShardsFinishedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "avstore_shards_finished_total",
				Help: "Total number of shards marked finished",
			},
		),

		SamplesEmittedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avstore_samples_emitted_total",
				Help: "Total number of correspondence examples emitted",
			},
			[]string{"class"},
		),

		LookupRetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "avstore_metadata_lookup_retries_total",
				Help: "Total number of retried random video metadata lookups",
			},
		),

		SampleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "avstore_sample_duration_seconds",
				Help:    "Duration of drawing one example set",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"keys_only"},
		),

		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "avstore_sample_queue_depth",
				Help: "Serialized samples waiting in the hand-off queue",
			},
		),

		IngestPoolQueued: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "avstore_ingest_pool_queued_tasks",
				Help: "Videos waiting for an ingest worker",
			},
		),

		IngestPoolActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "avstore_ingest_pool_active_workers",
				Help: "Ingest workers currently writing a video",
			},
		),
	}
}

// RecordMutate records one mutate call of rows cells totalling bytes
func (m *Metrics) RecordMutate(family string, rows, bytes int, duration float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MutateBatchesTotal.WithLabelValues(family, status).Inc()
	m.MutateDuration.WithLabelValues(family).Observe(duration)
	if err == nil {
		m.RowsMutatedTotal.WithLabelValues(family).Add(float64(rows))
		m.BytesWrittenTotal.WithLabelValues(family).Add(float64(bytes))
	}
}

// RecordRead records rows read from a column family
func (m *Metrics) RecordRead(family string, rows, bytes int) {
	m.RowsReadTotal.WithLabelValues(family).Add(float64(rows))
	m.BytesReadTotal.WithLabelValues(family).Add(float64(bytes))
}

// RecordStoreError records a failed store operation
func (m *Metrics) RecordStoreError(operation, code string) {
	m.StoreErrorsTotal.WithLabelValues(operation, code).Inc()
}

// RecordVideoWritten records a completed video write
func (m *Metrics) RecordVideoWritten(duration float64) {
	m.VideosWrittenTotal.Inc()
	m.VideoWriteDuration.Observe(duration)
}

// RecordShardFinished records a shard marked finished
func (m *Metrics) RecordShardFinished() {
	m.ShardsFinishedTotal.Inc()
}

// RecordSample records one emitted example of class
func (m *Metrics) RecordSample(class string) {
	m.SamplesEmittedTotal.WithLabelValues(class).Inc()
}

// RecordSampleDuration records the time to draw one example set
func (m *Metrics) RecordSampleDuration(keysOnly bool, duration float64) {
	label := "false"
	if keysOnly {
		label = "true"
	}
	m.SampleDuration.WithLabelValues(label).Observe(duration)
}

// RecordLookupRetry records a retried metadata lookup
func (m *Metrics) RecordLookupRetry() {
	m.LookupRetriesTotal.Inc()
}

// UpdateQueueDepth sets the hand-off queue depth
func (m *Metrics) UpdateQueueDepth(depth int64) {
	m.QueueDepth.Set(float64(depth))
}

// UpdateIngestPool sets ingest pool occupancy
func (m *Metrics) UpdateIngestPool(queued, active int) {
	m.IngestPoolQueued.Set(float64(queued))
	m.IngestPoolActive.Set(float64(active))
}
