package metadata

import (
	"context"
	"fmt"
	"testing"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/keys"
	"github.com/devrev/avcorr/internal/model"
	"github.com/devrev/avcorr/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, prefix string) *Store {
	t.Helper()
	tbl, err := store.NewMemoryClient(zap.NewNop()).OpenTable(context.Background(), "raw", RawFamilies)
	require.NoError(t, err)
	s, err := NewStore(tbl, prefix, nil, nil, zap.NewNop())
	require.NoError(t, err)
	return s
}

func shardMeta(t *testing.T, numVideos int, status model.ShardStatus, shardID, numShards int) model.VideoShardMeta {
	t.Helper()
	m, err := model.NewVideoShardMeta(numVideos, status, shardID, numShards)
	require.NoError(t, err)
	return m
}

func writeVideoMeta(t *testing.T, s *Store, shardID, videoID int) model.VideoMeta {
	t.Helper()
	vm, err := model.NewVideoMeta(10+videoID, 1000*(videoID+1), videoID, shardID, model.DefaultAudioBlockSize)
	require.NoError(t, err)
	mut, err := s.VideoMetaMutation(vm)
	require.NoError(t, err)
	require.NoError(t, s.Mutate(context.Background(), FamilyMeta, []*store.Mutation{mut}))
	return vm
}

func TestNewStore_Validation(t *testing.T) {
	tbl, err := store.NewMemoryClient(nil).OpenTable(context.Background(), "raw", RawFamilies)
	require.NoError(t, err)

	_, err = NewStore(nil, "train", nil, nil, nil)
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = NewStore(tbl, "validation", nil, nil, nil)
	assert.True(t, errors.IsInvalidArgument(err))

	s, err := NewStore(tbl, "eval", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, keys.DefaultEncoder, s.Encoder())
	assert.Equal(t, Description{
		Table:          "raw",
		Prefix:         "eval",
		ColumnFamilies: RawFamilies,
	}, s.Describe())
}

func TestShardMeta_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "train")

	written := shardMeta(t, 1, model.ShardStatusFinished, 0, 1)
	require.NoError(t, s.SetShardMeta(ctx, written))

	got, err := s.LookupShardMetadata(ctx, 0, false)
	require.NoError(t, err)

	lex, err := keys.LexIndex(0)
	require.NoError(t, err)
	key := "train_meta_" + lex
	assert.Equal(t, "train_meta_aaaa", key)

	require.Contains(t, got, key)
	assert.Equal(t, written.AsDict(), got[key].AsDict())
}

func TestLookupShardMetadata_IgnoreUnfinished(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "train")

	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 3, model.ShardStatusFinished, 0, 3)))
	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 0, model.ShardStatusStarted, 1, 3)))
	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 5, model.ShardStatusFinished, 2, 3)))

	tests := []struct {
		name             string
		numShards        int
		ignoreUnfinished bool
		wantKeys         []string
	}{
		{
			name:      "all shards",
			numShards: 3,
			wantKeys:  []string{"train_meta_aaaa", "train_meta_aaab", "train_meta_aaac"},
		},
		{
			name:             "finished only",
			numShards:        3,
			ignoreUnfinished: true,
			wantKeys:         []string{"train_meta_aaaa", "train_meta_aaac"},
		},
		{
			name:      "bounded by num shards",
			numShards: 2,
			wantKeys:  []string{"train_meta_aaaa", "train_meta_aaab"},
		},
		{
			name:      "unbounded",
			numShards: 0,
			wantKeys:  []string{"train_meta_aaaa", "train_meta_aaab", "train_meta_aaac"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LookupShardMetadata(ctx, tt.numShards, tt.ignoreUnfinished)
			require.NoError(t, err)
			var gotKeys []string
			for k := range got {
				gotKeys = append(gotKeys, k)
			}
			assert.ElementsMatch(t, tt.wantKeys, gotKeys)
		})
	}
}

func TestLookupShardMetadata_StopsAtDeclaredShardCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "eval")

	// A stale record past the declared count is never reached.
	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 1, model.ShardStatusFinished, 0, 1)))
	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 1, model.ShardStatusFinished, 1, 2)))

	got, err := s.LookupShardMetadata(ctx, 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "eval_meta_aaaa")
}

func TestLookupShardMetadata_Prefixes(t *testing.T) {
	ctx := context.Background()
	tbl, err := store.NewMemoryClient(nil).OpenTable(ctx, "raw", RawFamilies)
	require.NoError(t, err)

	train, err := NewStore(tbl, "train", nil, nil, nil)
	require.NoError(t, err)
	eval, err := NewStore(tbl, "eval", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, train.SetShardMeta(ctx, shardMeta(t, 1, model.ShardStatusFinished, 0, 1)))

	got, err := eval.LookupShardMetadata(ctx, 0, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLookupShardMetadata_Malformed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "train")

	require.NoError(t, s.Table().MutateRows(ctx, []*store.Mutation{
		store.NewMutation("train_meta_aaaa").Set(FamilyMeta, FamilyMeta, []byte("{not json")),
	}))

	_, err := s.LookupShardMetadata(ctx, 1, false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
}

func TestLookupVideoMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "train")

	written := writeVideoMeta(t, s, 2, 7)

	got, err := s.LookupVideoMetadata(ctx, "train", 2, 7)
	require.NoError(t, err)
	assert.Equal(t, written, got)
	assert.Equal(t, written.AsDict(), got.AsDict())

	_, err = s.LookupVideoMetadata(ctx, "train", 2, 8)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = s.LookupVideoMetadata(ctx, "train", 2, 10000)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestLookupVideoMetadata_RoundTripMinimal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "test")

	vm, err := model.NewVideoMeta(1, 1, 0, 0, 1000)
	require.NoError(t, err)
	mut, err := s.VideoMetaMutation(vm)
	require.NoError(t, err)
	require.NoError(t, s.Mutate(ctx, FamilyMeta, []*store.Mutation{mut}))

	got, err := s.LookupVideoMetadata(ctx, "test", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, vm.AsDict(), got.AsDict())
}

func TestLookupAllVideoMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "train")

	var want []model.VideoMeta
	for video := 0; video < 3; video++ {
		want = append(want, writeVideoMeta(t, s, 0, video))
	}
	for video := 0; video < 2; video++ {
		want = append(want, writeVideoMeta(t, s, 2, video))
	}
	// Shard 1 never finished.
	writeVideoMeta(t, s, 1, 0)

	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 3, model.ShardStatusFinished, 0, 3)))
	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 0, model.ShardStatusStarted, 1, 3)))
	require.NoError(t, s.SetShardMeta(ctx, shardMeta(t, 2, model.ShardStatusFinished, 2, 3)))

	got, err := s.LookupAllVideoMetadata(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLookupAllVideoMetadata_NoShards(t *testing.T) {
	s := newTestStore(t, "train")
	got, err := s.LookupAllVideoMetadata(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRowsAtLeast(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "train")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Table().MutateRows(ctx, []*store.Mutation{
			store.NewMutation(fmt.Sprintf("train_row_%d", i)).Set(FamilyMeta, FamilyMeta, []byte("x")),
		}))
	}

	tests := []struct {
		min  int
		want bool
	}{
		{0, true},
		{1, true},
		{3, true},
		{4, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("min=%d", tt.min), func(t *testing.T) {
			got, err := s.RowsAtLeast(ctx, tt.min)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
