package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMutate("audio", 3, 3000, 0.01, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "avstore_rows_mutated_total")
	assert.Contains(t, names, "avstore_mutate_batches_total")
}

func TestNewMetrics_NilRegistryIsPrivate(t *testing.T) {
	// Two instances must not collide on a shared default registry.
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestMetrics_RecordMutate(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordMutate("video_frames", 32, 32*96*96*3, 0.2, nil)
	m.RecordMutate("video_frames", 5, 100, 0.1, errors.New("unavailable"))

	assert.Equal(t, 32.0, testutil.ToFloat64(m.RowsMutatedTotal.WithLabelValues("video_frames")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutateBatchesTotal.WithLabelValues("video_frames", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutateBatchesTotal.WithLabelValues("video_frames", "error")))
}

func TestMetrics_RecordSample(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordSample("positive_same")
	m.RecordSample("positive_same")
	m.RecordSample("negative_same")
	m.RecordLookupRetry()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesEmittedTotal.WithLabelValues("positive_same")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesEmittedTotal.WithLabelValues("negative_same")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupRetriesTotal))
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics(nil)

	// Just verify it doesn't panic
	m.UpdateQueueDepth(12)
	m.UpdateIngestPool(3, 2)
	m.RecordVideoWritten(1.5)
	m.RecordShardFinished()
	m.RecordRead("audio", 2, 2000)
	m.RecordStoreError("read_row", "NOT_FOUND")
	m.RecordSampleDuration(true, 0.01)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShardsFinishedTotal))
}
