// Package selection writes raw audio/video data into a wide-column table and
// samples labelled audio/video correspondence examples back out of it.
package selection

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/metadata"
	"github.com/devrev/avcorr/internal/model"
	"github.com/devrev/avcorr/internal/store"
	"github.com/devrev/avcorr/internal/util/workerpool"
	"github.com/devrev/avcorr/internal/video"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds raw selection settings
type Config struct {
	// AudioBlockSize is the number of audio samples stored per audio row.
	AudioBlockSize int
	// FrameBatchSize bounds the number of frame rows sent per mutate call.
	FrameBatchSize int
	// MaxMutationsPerSecond throttles row writes. Zero disables throttling.
	MaxMutationsPerSecond float64
	// MaxLookupRetries bounds RandomVideoMeta draws that hit unwritten videos.
	MaxLookupRetries int
}

// DefaultConfig returns the default raw selection settings
func DefaultConfig() Config {
	return Config{
		AudioBlockSize:   model.DefaultAudioBlockSize,
		FrameBatchSize:   32,
		MaxLookupRetries: 10,
	}
}

// RawVideoSelection reads and writes the audio, meta and video_frames families
// of one table prefix.
type RawVideoSelection struct {
	meta    *metadata.Store
	table   store.Table
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRawVideoSelection creates a raw selection over meta's table. rng seeds
// every sampler drawn from the selection; nil seeds from the clock.
func NewRawVideoSelection(meta *metadata.Store, cfg Config, rng *rand.Rand, logger *zap.Logger) (*RawVideoSelection, error) {
	if meta == nil {
		return nil, errors.InvalidArgumentf("metadata store is required")
	}
	def := DefaultConfig()
	if cfg.AudioBlockSize <= 0 {
		cfg.AudioBlockSize = def.AudioBlockSize
	}
	if cfg.FrameBatchSize <= 0 {
		cfg.FrameBatchSize = def.FrameBatchSize
	}
	if cfg.MaxLookupRetries <= 0 {
		cfg.MaxLookupRetries = def.MaxLookupRetries
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RawVideoSelection{
		meta:   meta,
		table:  meta.Table(),
		cfg:    cfg,
		rng:    rng,
		logger: logger,
	}
	if cfg.MaxMutationsPerSecond > 0 {
		burst := cfg.FrameBatchSize
		if int(cfg.MaxMutationsPerSecond) > burst {
			burst = int(cfg.MaxMutationsPerSecond)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxMutationsPerSecond), burst)
	}
	return s, nil
}

// Metadata returns the metadata store the selection writes through
func (s *RawVideoSelection) Metadata() *metadata.Store { return s.meta }

// Config returns the effective settings
func (s *RawVideoSelection) Config() Config { return s.cfg }

// Describe reports the table, prefix and families in use
func (s *RawVideoSelection) Describe() metadata.Description { return s.meta.Describe() }

// newRand derives an independent random source so concurrent samplers never
// share one.
func (s *RawVideoSelection) newRand() *rand.Rand {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return rand.New(rand.NewSource(s.rng.Int63()))
}

// WriteAV stores one video: its metadata and audio blocks in one mutate call,
// then its frames in batches of FrameBatchSize. audioBlockSize <= 0 uses the
// configured block size.
//
// The three kinds of write are not atomic. A failure part way leaves the
// metadata row pointing at frames that may not exist; shards are only sampled
// once marked finished, which WriteShard does after every video succeeded.
func (s *RawVideoSelection) WriteAV(ctx context.Context, frames *video.Video, audio []byte, shardID, videoID, audioBlockSize int) error {
	if frames == nil {
		return errors.InvalidArgumentf("frames are required")
	}
	if audioBlockSize <= 0 {
		audioBlockSize = s.cfg.AudioBlockSize
	}

	start := time.Now()
	meta, err := model.NewVideoMeta(frames.Len(), len(audio), videoID, shardID, audioBlockSize)
	if err != nil {
		return err
	}

	enc := s.meta.Encoder()
	prefix := s.meta.Prefix()
	numBlocks := (len(audio) + audioBlockSize - 1) / audioBlockSize

	// Every frame and audio block key must fit the key space before the
	// metadata row is written.
	if _, err := enc.FrameKey(prefix, shardID, videoID, frames.Len()-1); err != nil {
		return err
	}
	if _, err := enc.AudioKey(prefix, shardID, videoID, numBlocks-1); err != nil {
		return err
	}

	metaMut, err := s.meta.VideoMetaMutation(meta)
	if err != nil {
		return err
	}

	muts := make([]*store.Mutation, 0, numBlocks+1)
	muts = append(muts, metaMut)
	for i := 0; i < numBlocks; i++ {
		lo := i * audioBlockSize
		hi := lo + audioBlockSize
		if hi > len(audio) {
			hi = len(audio)
		}
		key, err := enc.AudioKey(prefix, shardID, videoID, i)
		if err != nil {
			return err
		}
		muts = append(muts, store.NewMutation(key).Set(metadata.FamilyAudio, metadata.FamilyAudio, audio[lo:hi]))
	}
	if err := s.mutate(ctx, metadata.FamilyAudio, muts); err != nil {
		return fmt.Errorf("failed to write metadata and audio of video %d/%d: %w", shardID, videoID, err)
	}

	batch := make([]*store.Mutation, 0, s.cfg.FrameBatchSize)
	it := frames.Iterator()
	for it.Next() {
		key, err := enc.FrameKey(prefix, shardID, videoID, it.Index())
		if err != nil {
			return err
		}
		batch = append(batch, store.NewMutation(key).Set(metadata.FamilyVideoFrames, metadata.FamilyVideoFrames, it.Frame().Pix))
		if len(batch) >= s.cfg.FrameBatchSize {
			if err := s.mutate(ctx, metadata.FamilyVideoFrames, batch); err != nil {
				return fmt.Errorf("failed to write frames of video %d/%d: %w", shardID, videoID, err)
			}
			batch = make([]*store.Mutation, 0, s.cfg.FrameBatchSize)
		}
	}
	if len(batch) > 0 {
		if err := s.mutate(ctx, metadata.FamilyVideoFrames, batch); err != nil {
			return fmt.Errorf("failed to write frames of video %d/%d: %w", shardID, videoID, err)
		}
	}

	duration := time.Since(start)
	s.meta.Metrics().RecordVideoWritten(duration.Seconds())
	s.logger.Debug("Wrote video",
		zap.String("prefix", prefix),
		zap.Int("shard_id", shardID),
		zap.Int("video_id", videoID),
		zap.Int("frames", frames.Len()),
		zap.Int("audio_blocks", numBlocks),
		zap.Duration("duration", duration))
	return nil
}

func (s *RawVideoSelection) mutate(ctx context.Context, family string, muts []*store.Mutation) error {
	if s.limiter != nil {
		for n := len(muts); n > 0; {
			k := n
			if k > s.limiter.Burst() {
				k = s.limiter.Burst()
			}
			if err := s.limiter.WaitN(ctx, k); err != nil {
				return err
			}
			n -= k
		}
	}
	return s.meta.Mutate(ctx, family, muts)
}

// WriteShard writes every source as one video of shardID on pool. The shard
// is marked started first and finished with its video count only after every
// video was written.
func (s *RawVideoSelection) WriteShard(ctx context.Context, pool *workerpool.WorkerPool, shardID, numShards int, sources []VideoSource) (model.VideoShardMeta, error) {
	if pool == nil {
		return model.VideoShardMeta{}, errors.InvalidArgumentf("worker pool is required")
	}
	started, err := model.NewVideoShardMeta(0, model.ShardStatusStarted, shardID, numShards)
	if err != nil {
		return model.VideoShardMeta{}, err
	}
	if err := s.meta.SetShardMeta(ctx, started); err != nil {
		return model.VideoShardMeta{}, err
	}

	s.logger.Info("Writing shard",
		zap.String("prefix", s.meta.Prefix()),
		zap.Int("shard_id", shardID),
		zap.Int("num_shards", numShards),
		zap.Int("videos", len(sources)))

	m := s.meta.Metrics()
	b := pool.NewBatch(ctx)
	for i, src := range sources {
		videoID := i
		src := src
		err := b.Go(src.Name(), func(ctx context.Context) error {
			stats := pool.Stats()
			m.UpdateIngestPool(stats.QueuedTasks, stats.ActiveWorkers)

			frames, audio, err := src.Load(ctx)
			if err != nil {
				return err
			}
			return s.WriteAV(ctx, frames, audio, shardID, videoID, 0)
		})
		if err != nil {
			break
		}
	}
	if err := b.Wait(); err != nil {
		s.logger.Error("Shard write failed, leaving shard unfinished",
			zap.Int("shard_id", shardID),
			zap.Error(err))
		return started, err
	}
	m.UpdateIngestPool(0, 0)

	finished, err := started.Finish(len(sources))
	if err != nil {
		return started, err
	}
	if err := s.meta.SetShardMeta(ctx, finished); err != nil {
		return started, err
	}
	m.RecordShardFinished()
	return finished, nil
}

// RandomVideoMeta draws a shard from shards and a video uniformly from it,
// then looks its metadata up. Draws that land on an unwritten video are
// retried up to MaxLookupRetries times; any other error is returned as is.
func (s *RawVideoSelection) RandomVideoMeta(ctx context.Context, rng *rand.Rand, shards map[string]model.VideoShardMeta) (model.VideoMeta, error) {
	if len(shards) == 0 {
		return model.VideoMeta{}, errors.InvalidArgumentf("no shards to sample from")
	}
	if rng == nil {
		return model.VideoMeta{}, errors.InvalidArgumentf("random source is required")
	}

	keys := make([]string, 0, len(shards))
	for k, m := range shards {
		if m.NumVideos() > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return model.VideoMeta{}, errors.InvalidArgumentf("no shard holds any video")
	}
	sort.Strings(keys)

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxLookupRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.VideoMeta{}, err
		}
		shard := shards[keys[rng.Intn(len(keys))]]
		videoID := rng.Intn(shard.NumVideos())

		s.logger.Debug("Sampled video",
			zap.Int("shard_id", shard.ShardID()),
			zap.Int("video_id", videoID))

		vm, err := s.meta.LookupVideoMetadata(ctx, s.meta.Prefix(), shard.ShardID(), videoID)
		if err == nil {
			return vm, nil
		}
		if !errors.IsNotFound(err) {
			return model.VideoMeta{}, err
		}
		lastErr = err
		s.meta.Metrics().RecordLookupRetry()
		s.logger.Info("Failed fetching metadata for video, will retry",
			zap.Int("shard_id", shard.ShardID()),
			zap.Int("video_id", videoID),
			zap.Int("attempt", attempt+1))
	}
	return model.VideoMeta{}, errors.NewStoreError(errors.ErrCodeNotFound,
		fmt.Sprintf("no written video found after %d draws", s.cfg.MaxLookupRetries), lastErr)
}
