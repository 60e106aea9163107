// Package queue hands serialized correspondence samples to consumers in other
// processes through a Redis list.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/metrics"
	"github.com/devrev/avcorr/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey is the list samples are pushed to
const DefaultKey = "avcorr:samples"

// Sample is one serialized example as read back from the queue
type Sample struct {
	AudioKeys         []string
	FrameKeys         []string
	AudioSampleBounds [2]int
	Labels            model.Labels
	Raw               string
}

// Config holds Redis queue configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// MaxLen trims the list to its newest MaxLen entries after each push.
	// Zero keeps everything.
	MaxLen int64
}

// RedisSampleQueue pushes serialized samples onto a Redis list
type RedisSampleQueue struct {
	client  *redis.Client
	key     string
	maxLen  int64
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRedisSampleQueue connects to Redis and checks the connection
func NewRedisSampleQueue(cfg Config, m *metrics.Metrics, logger *zap.Logger) (*RedisSampleQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Unavailable(fmt.Sprintf("failed to connect to Redis at %s", cfg.Addr), err)
	}

	return newQueue(client, cfg, m, logger), nil
}

func newQueue(client *redis.Client, cfg Config, m *metrics.Metrics, logger *zap.Logger) *RedisSampleQueue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSampleQueue{
		client:  client,
		key:     cfg.Key,
		maxLen:  cfg.MaxLen,
		metrics: m,
		logger:  logger,
	}
}

// Key returns the Redis list key
func (q *RedisSampleQueue) Key() string { return q.key }

// Push appends every emitted example of set, in class order, and returns the
// list length afterwards.
func (q *RedisSampleQueue) Push(ctx context.Context, set model.ExampleSet) (int64, error) {
	var values []interface{}
	for _, s := range []*model.AVCorrespondenceSample{set.PositiveSame, set.NegativeSame, set.NegativeDifferent} {
		if s == nil {
			continue
		}
		data, err := s.Serialize()
		if err != nil {
			return 0, errors.InternalError("failed to serialize sample", err)
		}
		values = append(values, data)
	}
	if len(values) == 0 {
		return q.Len(ctx)
	}

	pipe := q.client.TxPipeline()
	push := pipe.RPush(ctx, q.key, values...)
	if q.maxLen > 0 {
		pipe.LTrim(ctx, q.key, -q.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Unavailable("failed to push samples", err)
	}

	depth := push.Val()
	if q.maxLen > 0 && depth > q.maxLen {
		depth = q.maxLen
	}
	q.metrics.UpdateQueueDepth(depth)
	q.logger.Debug("Pushed samples",
		zap.String("key", q.key),
		zap.Int("count", len(values)),
		zap.Int64("depth", depth))
	return depth, nil
}

// Pop removes the oldest sample, waiting up to timeout for one to arrive. An
// empty queue after timeout yields a NotFound error. A zero timeout blocks
// until ctx is done.
func (q *RedisSampleQueue) Pop(ctx context.Context, timeout time.Duration) (Sample, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return Sample{}, errors.NewStoreError(errors.ErrCodeNotFound, "sample queue "+q.key+" is empty", nil)
	}
	if err != nil {
		return Sample{}, errors.Unavailable("failed to pop sample", err)
	}

	// BLPOP replies with [key, value].
	raw := res[1]
	audioKeys, frameKeys, bounds, labels, err := model.DeserializeKeys([]byte(raw))
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		AudioKeys:         audioKeys,
		FrameKeys:         frameKeys,
		AudioSampleBounds: bounds,
		Labels:            labels,
		Raw:               raw,
	}, nil
}

// Len returns the number of queued samples
func (q *RedisSampleQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, errors.Unavailable("failed to read queue length", err)
	}
	q.metrics.UpdateQueueDepth(n)
	return n, nil
}

// Ping checks the Redis connection
func (q *RedisSampleQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (q *RedisSampleQueue) Close() error {
	return q.client.Close()
}
