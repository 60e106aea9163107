// Package metadata persists shard and video metadata records in a
// wide-column table under lexicographically encoded keys.
package metadata

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/keys"
	"github.com/devrev/avcorr/internal/metrics"
	"github.com/devrev/avcorr/internal/model"
	"github.com/devrev/avcorr/internal/store"
	"go.uber.org/zap"
)

// Column families. Every cell's qualifier equals its family name except in
// the example family.
const (
	FamilyAudio       = "audio"
	FamilyMeta        = "meta"
	FamilyVideoFrames = "video_frames"
	FamilyTFExample   = "tfexample"
	QualifierExample  = "example"
)

// RawFamilies are the families of a raw audio/video table.
var RawFamilies = []string{FamilyAudio, FamilyMeta, FamilyVideoFrames}

// Description summarises what a selection reads and writes.
type Description struct {
	Table           string   `json:"table_name"`
	Prefix          string   `json:"row_key_prefix"`
	ColumnFamilies  []string `json:"column_families"`
	ColumnFamily    string   `json:"column_family,omitempty"`
	ColumnQualifier string   `json:"column_qualifier,omitempty"`
}

// Store reads and writes shard and video metadata of one table prefix.
type Store struct {
	table   store.Table
	prefix  string
	enc     *keys.Encoder
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStore wraps table. prefix must be train, eval or test.
func NewStore(table store.Table, prefix string, enc *keys.Encoder, m *metrics.Metrics, logger *zap.Logger) (*Store, error) {
	if table == nil {
		return nil, errors.InvalidArgumentf("table is required")
	}
	if err := keys.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if enc == nil {
		enc = keys.DefaultEncoder
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		table:   table,
		prefix:  prefix,
		enc:     enc,
		metrics: m,
		logger:  logger,
	}, nil
}

func (s *Store) Prefix() string            { return s.prefix }
func (s *Store) Encoder() *keys.Encoder    { return s.enc }
func (s *Store) Table() store.Table        { return s.table }
func (s *Store) Metrics() *metrics.Metrics { return s.metrics }

// Describe reports the table, prefix and families in use.
func (s *Store) Describe() Description {
	return Description{
		Table:          s.table.Name(),
		Prefix:         s.prefix,
		ColumnFamilies: s.table.Families(),
	}
}

// SetShardMeta writes meta under the shard metadata key of its shard.
func (s *Store) SetShardMeta(ctx context.Context, meta model.VideoShardMeta) error {
	key, err := s.enc.ShardMetaKey(s.prefix, meta.ShardID())
	if err != nil {
		return err
	}
	mut, err := metaMutation(key, meta)
	if err != nil {
		return err
	}
	if err := s.Mutate(ctx, FamilyMeta, []*store.Mutation{mut}); err != nil {
		return err
	}

	s.logger.Info("Wrote shard metadata",
		zap.String("key", key),
		zap.Int("num_videos", meta.NumVideos()),
		zap.String("status", string(meta.Status())))
	return nil
}

// VideoMetaMutation builds the write of meta under its video metadata key.
func (s *Store) VideoMetaMutation(meta model.VideoMeta) (*store.Mutation, error) {
	key, err := s.enc.VideoMetaKey(s.prefix, meta.ShardID(), meta.VideoID())
	if err != nil {
		return nil, err
	}
	return metaMutation(key, meta)
}

func metaMutation(key string, v interface{}) (*store.Mutation, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.InternalError("failed to encode metadata", err)
	}
	return store.NewMutation(key).Set(FamilyMeta, FamilyMeta, data), nil
}

// LookupShardMetadata scans shard metadata for shards [0, numShards) and
// returns it keyed by row key. numShards <= 0 scans every shard.
//
// The scan stops once as many rows have been read as the last record's
// num_shards, which guards against a store iterating past the shards that
// exist.
func (s *Store) LookupShardMetadata(ctx context.Context, numShards int, ignoreUnfinished bool) (map[string]model.VideoShardMeta, error) {
	rng := store.NewRange(s.enc.ShardMetaFirstKey(s.prefix), s.enc.ShardMetaLastKey(s.prefix, numShards))
	if numShards <= 0 {
		start, end := s.enc.ShardMetaRange(s.prefix)
		rng = store.NewRange(start, end)
	}

	out := make(map[string]model.VideoShardMeta)
	var (
		read    int
		scanErr error
	)
	err := s.table.ReadRows(ctx, rng, func(r *store.Row) bool {
		read++
		data, err := metaCell(r)
		if err != nil {
			scanErr = err
			return false
		}
		meta, err := model.ParseVideoShardMeta(data)
		if err != nil {
			scanErr = err
			return false
		}
		s.metrics.RecordRead(FamilyMeta, 1, len(data))

		if ignoreUnfinished && !meta.Finished() {
			return true
		}
		key, err := s.enc.ShardMetaKey(s.prefix, meta.ShardID())
		if err != nil {
			scanErr = err
			return false
		}
		out[key] = meta
		return read < meta.NumShards()
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		s.recordError("lookup_shard_metadata", err)
		return nil, err
	}
	return out, nil
}

// LookupVideoMetadata reads the metadata of one video. A video that was never
// written yields a NotFound error.
func (s *Store) LookupVideoMetadata(ctx context.Context, prefix string, shardID, videoID int) (model.VideoMeta, error) {
	key, err := s.enc.VideoMetaKey(prefix, shardID, videoID)
	if err != nil {
		return model.VideoMeta{}, err
	}

	s.logger.Debug("Looking up video metadata",
		zap.String("key", key),
		zap.Int("shard_id", shardID),
		zap.Int("video_id", videoID))

	row, err := s.table.ReadRow(ctx, key)
	if err != nil {
		s.recordError("lookup_video_metadata", err)
		return model.VideoMeta{}, err
	}
	data, err := metaCell(row)
	if err != nil {
		return model.VideoMeta{}, err
	}
	s.metrics.RecordRead(FamilyMeta, 1, len(data))
	return model.ParseVideoMeta(data)
}

// LookupAllVideoMetadata returns the metadata of every video in every
// finished shard among [0, numShards). numShards <= 0 considers every shard.
func (s *Store) LookupAllVideoMetadata(ctx context.Context, numShards int) ([]model.VideoMeta, error) {
	shards, err := s.LookupShardMetadata(ctx, numShards, true)
	if err != nil {
		return nil, err
	}

	var all []model.VideoMeta
	for _, shard := range sortedShards(shards) {
		start, end := s.enc.VideoMetaRange(s.prefix, shard.ShardID())

		var scanErr error
		err := s.table.ReadRows(ctx, store.NewRange(start, end), func(r *store.Row) bool {
			data, err := metaCell(r)
			if err != nil {
				scanErr = err
				return false
			}
			vm, err := model.ParseVideoMeta(data)
			if err != nil {
				scanErr = err
				return false
			}
			s.metrics.RecordRead(FamilyMeta, 1, len(data))
			all = append(all, vm)
			return true
		})
		if err == nil {
			err = scanErr
		}
		if err != nil {
			s.recordError("lookup_all_video_metadata", err)
			return nil, err
		}
	}

	s.logger.Debug("Loaded video metadata",
		zap.String("prefix", s.prefix),
		zap.Int("shards", len(shards)),
		zap.Int("videos", len(all)))

	return all, nil
}

// RowsAtLeast reports whether the table holds at least minRows rows under
// this store's prefix.
func (s *Store) RowsAtLeast(ctx context.Context, minRows int) (bool, error) {
	return RowsAtLeast(ctx, s.table, s.prefix, minRows)
}

// RowsAtLeast reports whether table holds at least minRows rows whose keys
// start with prefix.
func RowsAtLeast(ctx context.Context, table store.Table, prefix string, minRows int) (bool, error) {
	if minRows <= 0 {
		return true, nil
	}
	n := 0
	err := table.ReadRows(ctx, store.PrefixRange(prefix), func(*store.Row) bool {
		n++
		return n < minRows
	})
	if err != nil {
		return false, err
	}
	return n >= minRows, nil
}

// Mutate applies muts and records them against family.
func (s *Store) Mutate(ctx context.Context, family string, muts []*store.Mutation) error {
	start := time.Now()
	err := s.table.MutateRows(ctx, muts)
	s.metrics.RecordMutate(family, len(muts), mutationBytes(muts), time.Since(start).Seconds(), err)
	if err != nil {
		s.recordError("mutate_rows", err)
	}
	return err
}

func (s *Store) recordError(op string, err error) {
	s.metrics.RecordStoreError(op, errors.GetCode(err).String())
}

func metaCell(r *store.Row) ([]byte, error) {
	data, ok := r.Value(FamilyMeta, FamilyMeta)
	if !ok {
		return nil, errors.CorruptedData("row "+r.Key+" has no meta cell", nil)
	}
	return data, nil
}

func mutationBytes(muts []*store.Mutation) int {
	n := 0
	for _, m := range muts {
		for _, c := range m.Cells {
			n += len(c.Value)
		}
	}
	return n
}

func sortedShards(shards map[string]model.VideoShardMeta) []model.VideoShardMeta {
	out := make([]model.VideoShardMeta, 0, len(shards))
	for _, m := range shards {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID() < out[j].ShardID() })
	return out
}
