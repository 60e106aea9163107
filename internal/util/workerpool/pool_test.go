package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, workers int) *WorkerPool {
	t.Helper()
	p := NewWorkerPool(&Config{Name: "test", MaxWorkers: workers, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

func TestNewWorkerPool_Defaults(t *testing.T) {
	p := newTestPool(t, 0)
	stats := p.Stats()
	assert.Equal(t, 4, stats.MaxWorkers)
	assert.Equal(t, 8, stats.QueueSize)
}

func TestBatch_RunsEveryTask(t *testing.T) {
	p := newTestPool(t, 3)
	b := p.NewBatch(context.Background())

	var ran int32
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Go("task", func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}))
	}

	require.NoError(t, b.Wait())
	assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
	assert.Equal(t, uint64(20), p.Stats().CompletedTasks)
}

func TestBatch_ReturnsFirstError(t *testing.T) {
	p := newTestPool(t, 1)
	b := p.NewBatch(context.Background())

	boom := errors.New("boom")
	require.NoError(t, b.Go("ok", func(context.Context) error { return nil }))
	require.NoError(t, b.Go("bad", func(context.Context) error { return boom }))
	require.NoError(t, b.Go("worse", func(context.Context) error { return errors.New("later") }))

	err := b.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task bad")
}

func TestBatch_RecoversPanics(t *testing.T) {
	p := newTestPool(t, 2)
	b := p.NewBatch(context.Background())

	require.NoError(t, b.Go("panics", func(context.Context) error { panic("frame decoder") }))

	err := b.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task panicked")
	assert.Equal(t, uint64(1), p.Stats().FailedTasks)
}

func TestBatch_CanceledContext(t *testing.T) {
	p := newTestPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := p.NewBatch(ctx)
	// Either the submit or the task itself observes the cancellation.
	_ = b.Go("canceled", func(context.Context) error { return nil })
	assert.ErrorIs(t, b.Wait(), context.Canceled)
}

func TestSubmit_StoppedPool(t *testing.T) {
	p := NewWorkerPool(&Config{Name: "stopped", MaxWorkers: 1})
	require.NoError(t, p.Stop(time.Second))

	err := p.SubmitWithContext(context.Background(), Task{ID: "late", Fn: func(context.Context) error { return nil }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is stopped")
	assert.Equal(t, uint64(1), p.Stats().RejectedTasks)

	b := p.NewBatch(context.Background())
	assert.Error(t, b.Go("late", func(context.Context) error { return nil }))
	assert.Error(t, b.Wait())
}

func TestSubmit_QueueFull(t *testing.T) {
	p := newTestPool(t, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	ctx := context.Background()

	require.NoError(t, p.SubmitWithContext(ctx, Task{ID: "blocker", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	// One worker busy and a queue of two.
	noop := func(context.Context) error { return nil }
	require.NoError(t, p.SubmitWithContext(ctx, Task{ID: "q1", Fn: noop}))
	require.NoError(t, p.SubmitWithContext(ctx, Task{ID: "q2", Fn: noop}))

	full, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := p.SubmitWithContext(full, Task{ID: "q3", Fn: noop})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), p.Stats().RejectedTasks)

	close(release)
}
