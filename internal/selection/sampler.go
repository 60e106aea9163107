package selection

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/metadata"
	"github.com/devrev/avcorr/internal/model"
	"github.com/devrev/avcorr/internal/sampler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Example class names
const (
	ClassPositiveSame      = "positive_same"
	ClassNegativeSame      = "negative_same"
	ClassNegativeDifferent = "negative_different"
)

// SampleOptions configures a correspondence sampler
type SampleOptions struct {
	FramesPerVideo int
	// MaxNumSamples stops the sampler after that many example sets. Zero or
	// less samples forever.
	MaxNumSamples int
	MaxFrameShift int
	MaxFrameSkip  int
	// KeysOnly skips fetching frame and audio payloads.
	KeysOnly bool
	// EmitNegativeDifferent adds the different-video negative to every set.
	EmitNegativeDifferent bool
	// NumShards limits sampling to shards [0, NumShards). Zero or less uses
	// every finished shard.
	NumShards int
	// FetchConcurrency bounds concurrent row reads per example set.
	FetchConcurrency int
	// LazyMetadata draws videos through per-draw metadata lookups instead of
	// loading every video's metadata up front.
	LazyMetadata bool
}

// Sampler is a pull iterator over correspondence example sets. A Sampler is
// not safe for concurrent use; draw one per goroutine.
type Sampler struct {
	sel  *RawVideoSelection
	opts SampleOptions
	rng  *rand.Rand

	loaded  bool
	videos  []model.VideoMeta
	shards  map[string]model.VideoShardMeta
	emitted int
}

// SampleAVCorrespondenceExamples returns a sampler of example sets. Video
// metadata is loaded on the first call to Next and kept for the sampler's
// lifetime.
func (s *RawVideoSelection) SampleAVCorrespondenceExamples(opts SampleOptions) (*Sampler, error) {
	if opts.FramesPerVideo <= 0 {
		return nil, errors.InvalidArgumentf("frames per video must be positive, saw %d", opts.FramesPerVideo)
	}
	if opts.MaxFrameShift < 0 || opts.MaxFrameSkip < 0 {
		return nil, errors.InvalidArgumentf("max frame shift and skip must be non-negative, saw %d and %d",
			opts.MaxFrameShift, opts.MaxFrameSkip)
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 8
	}
	return &Sampler{
		sel:  s,
		opts: opts,
		rng:  s.newRand(),
	}, nil
}

// Emitted returns the number of example sets returned so far
func (it *Sampler) Emitted() int { return it.emitted }

// Next draws one example set. It returns io.EOF once MaxNumSamples sets were
// returned.
func (it *Sampler) Next(ctx context.Context) (model.ExampleSet, error) {
	if it.opts.MaxNumSamples > 0 && it.emitted >= it.opts.MaxNumSamples {
		return model.ExampleSet{}, io.EOF
	}
	if err := it.load(ctx); err != nil {
		return model.ExampleSet{}, err
	}

	start := time.Now()
	v0, err := it.pickVideo(ctx)
	if err != nil {
		return model.ExampleSet{}, err
	}
	v1, err := it.pickVideo(ctx)
	if err != nil {
		return model.ExampleSet{}, err
	}

	// Frames and aligned audio from v0, a second audio window from v0 and
	// an audio window from v1.
	f00, a00, m00, err := it.sample(v0)
	if err != nil {
		return model.ExampleSet{}, err
	}
	_, a01, m01, err := it.sample(v0)
	if err != nil {
		return model.ExampleSet{}, err
	}
	_, a10, m10, err := it.sample(v1)
	if err != nil {
		return model.ExampleSet{}, err
	}

	kf00, err := it.frameKeys(v0, f00)
	if err != nil {
		return model.ExampleSet{}, err
	}
	ka00, abm00, err := it.audioKeys(v0, a00)
	if err != nil {
		return model.ExampleSet{}, err
	}
	ka01, abm01, err := it.audioKeys(v0, a01)
	if err != nil {
		return model.ExampleSet{}, err
	}
	ka10, abm10, err := it.audioKeys(v1, a10)
	if err != nil {
		return model.ExampleSet{}, err
	}

	positiveSame, err := model.NewAVCorrespondenceSample(nil, nil,
		model.Labels{SameVideo: 1, Overlap: 1},
		model.CorrespondenceMeta{
			VideoSource:     v0,
			AudioSource:     v0,
			VideoSampleMeta: &m00,
			AudioSampleMeta: &m00,
			AudioKeys:       ka00,
			FrameKeys:       kf00,
			AudioBlockMeta:  &abm00,
		})
	if err != nil {
		return model.ExampleSet{}, err
	}
	negativeSame, err := model.NewAVCorrespondenceSample(nil, nil,
		model.Labels{SameVideo: 1, Overlap: 0},
		model.CorrespondenceMeta{
			VideoSource:     v0,
			AudioSource:     v0,
			VideoSampleMeta: &m00,
			AudioSampleMeta: &m01,
			AudioKeys:       ka01,
			FrameKeys:       kf00,
			AudioBlockMeta:  &abm01,
		})
	if err != nil {
		return model.ExampleSet{}, err
	}
	negativeDifferent, err := model.NewAVCorrespondenceSample(nil, nil,
		model.Labels{SameVideo: 0, Overlap: 0},
		model.CorrespondenceMeta{
			VideoSource:     v0,
			AudioSource:     v1,
			VideoSampleMeta: &m00,
			AudioSampleMeta: &m10,
			AudioKeys:       ka10,
			FrameKeys:       kf00,
			AudioBlockMeta:  &abm10,
		})
	if err != nil {
		return model.ExampleSet{}, err
	}

	set := model.ExampleSet{
		PositiveSame: positiveSame,
		NegativeSame: negativeSame,
	}
	if it.opts.EmitNegativeDifferent {
		set.NegativeDifferent = negativeDifferent
	}

	if !it.opts.KeysOnly {
		set, err = it.fetch(ctx, set)
		if err != nil {
			return model.ExampleSet{}, err
		}
	}

	m := it.sel.meta.Metrics()
	for class := range set.Examples() {
		m.RecordSample(class)
	}
	m.RecordSampleDuration(it.opts.KeysOnly, time.Since(start).Seconds())

	it.emitted++
	return set, nil
}

func (it *Sampler) load(ctx context.Context) error {
	if it.loaded {
		return nil
	}
	meta := it.sel.meta
	if it.opts.LazyMetadata {
		shards, err := meta.LookupShardMetadata(ctx, it.opts.NumShards, true)
		if err != nil {
			return err
		}
		if len(shards) == 0 {
			return errors.NewStoreError(errors.ErrCodeNotFound, "no finished shards under prefix "+meta.Prefix(), nil)
		}
		it.shards = shards
	} else {
		videos, err := meta.LookupAllVideoMetadata(ctx, it.opts.NumShards)
		if err != nil {
			return err
		}
		if len(videos) == 0 {
			return errors.NewStoreError(errors.ErrCodeNotFound, "no videos in finished shards under prefix "+meta.Prefix(), nil)
		}
		it.videos = videos
	}

	it.sel.logger.Info("Loaded sampling metadata",
		zap.String("prefix", meta.Prefix()),
		zap.Int("videos", len(it.videos)),
		zap.Int("shards", len(it.shards)),
		zap.Bool("lazy", it.opts.LazyMetadata))
	it.loaded = true
	return nil
}

// pickVideo draws uniformly with replacement.
func (it *Sampler) pickVideo(ctx context.Context) (model.VideoMeta, error) {
	if it.opts.LazyMetadata {
		return it.sel.RandomVideoMeta(ctx, it.rng, it.shards)
	}
	return it.videos[it.rng.Intn(len(it.videos))], nil
}

func (it *Sampler) sample(v model.VideoMeta) ([]int, []int, model.SampleMeta, error) {
	avs, err := sampler.NewAVSamplable(v.VideoLength(), v.AudioLength(), it.rng)
	if err != nil {
		return nil, nil, model.SampleMeta{}, err
	}
	return avs.SampleAVPair(it.opts.FramesPerVideo, it.opts.MaxFrameShift, it.opts.MaxFrameSkip)
}

func (it *Sampler) frameKeys(v model.VideoMeta, indices []int) ([]string, error) {
	enc := it.sel.meta.Encoder()
	keys := make([]string, len(indices))
	for i, idx := range indices {
		key, err := enc.FrameKey(it.sel.meta.Prefix(), v.ShardID(), v.VideoID(), idx)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// audioKeys returns the keys of the blocks covering indices, which must be
// contiguous.
func (it *Sampler) audioKeys(v model.VideoMeta, indices []int) ([]string, model.AudioBlockMeta, error) {
	abm, err := sampler.AudioBlocksForIndices(indices[0], indices[len(indices)-1]+1, v.AudioBlockSize())
	if err != nil {
		return nil, model.AudioBlockMeta{}, err
	}
	enc := it.sel.meta.Encoder()
	keys := make([]string, abm.NumQueryBlocks)
	for i := range keys {
		key, err := enc.AudioKey(it.sel.meta.Prefix(), v.ShardID(), v.VideoID(), abm.MinQueryBlock+i)
		if err != nil {
			return nil, model.AudioBlockMeta{}, err
		}
		keys[i] = key
	}
	return keys, abm, nil
}

// fetch fills every example of set with its frame and audio payloads. The
// frame window is shared by all examples and read once.
func (it *Sampler) fetch(ctx context.Context, set model.ExampleSet) (model.ExampleSet, error) {
	frames, err := it.sel.fetchCells(ctx, metadata.FamilyVideoFrames, set.PositiveSame.Meta().FrameKeys, it.opts.FetchConcurrency)
	if err != nil {
		return model.ExampleSet{}, err
	}

	withData := func(s *model.AVCorrespondenceSample) (*model.AVCorrespondenceSample, error) {
		if s == nil {
			return nil, nil
		}
		audio, err := it.sel.fetchAudio(ctx, s.Meta().AudioKeys, *s.Meta().AudioBlockMeta, it.opts.FetchConcurrency)
		if err != nil {
			return nil, err
		}
		return s.WithData(frames, audio), nil
	}

	var out model.ExampleSet
	if out.PositiveSame, err = withData(set.PositiveSame); err != nil {
		return model.ExampleSet{}, err
	}
	if out.NegativeSame, err = withData(set.NegativeSame); err != nil {
		return model.ExampleSet{}, err
	}
	if out.NegativeDifferent, err = withData(set.NegativeDifferent); err != nil {
		return model.ExampleSet{}, err
	}
	return out, nil
}

// fetchCells reads the family cell of every key, in key order.
func (s *RawVideoSelection) fetchCells(ctx context.Context, family string, keys []string, concurrency int) ([][]byte, error) {
	out := make([][]byte, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			row, err := s.table.ReadRow(gctx, key)
			if err != nil {
				return err
			}
			value, ok := row.Value(family, family)
			if !ok {
				return errors.CorruptedData("row "+key+" has no "+family+" cell", nil)
			}
			out[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.meta.Metrics().RecordStoreError("fetch_"+family, errors.GetCode(err).String())
		return nil, err
	}

	n := 0
	for _, v := range out {
		n += len(v)
	}
	s.meta.Metrics().RecordRead(family, len(keys), n)
	return out, nil
}

// fetchAudio concatenates the audio blocks and cuts the queried window.
func (s *RawVideoSelection) fetchAudio(ctx context.Context, keys []string, abm model.AudioBlockMeta, concurrency int) ([]byte, error) {
	blocks, err := s.fetchCells(ctx, metadata.FamilyAudio, keys, concurrency)
	if err != nil {
		return nil, err
	}
	var all []byte
	for _, b := range blocks {
		all = append(all, b...)
	}

	lo, hi := abm.QueryStart, abm.QueryEnd
	if hi > len(all) {
		hi = len(all)
	}
	if lo >= hi {
		return nil, errors.CorruptedData("audio query returned no samples", nil).
			WithDetail("query_start", abm.QueryStart).
			WithDetail("query_end", abm.QueryEnd).
			WithDetail("fetched", len(all))
	}
	return all[lo:hi], nil
}
