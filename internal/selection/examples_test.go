package selection

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/metadata"
	"github.com/devrev/avcorr/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newExampleSelection(t *testing.T, prefix string) *ExampleSelection {
	t.Helper()
	tbl, err := store.NewMemoryClient(zap.NewNop()).OpenTable(context.Background(), "examples",
		[]string{metadata.FamilyTFExample})
	require.NoError(t, err)
	sel, err := NewExampleSelection(tbl, prefix, rand.New(rand.NewSource(1)), nil, zap.NewNop())
	require.NoError(t, err)
	return sel
}

func TestRandomKey(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pattern := regexp.MustCompile(`^raw_[a-z]{4}$`)
	for i := 0; i < 50; i++ {
		assert.Regexp(t, pattern, RandomKey(rng, "raw_", 4))
	}
	assert.Equal(t, "raw_", RandomKey(rng, "raw_", 0))
}

func TestNewExampleSelection_RequiresFamily(t *testing.T) {
	tbl, err := store.NewMemoryClient(nil).OpenTable(context.Background(), "raw", metadata.RawFamilies)
	require.NoError(t, err)

	_, err = NewExampleSelection(tbl, "train_", nil, nil, nil)
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = NewExampleSelection(nil, "train_", nil, nil, nil)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestExampleSelection_Describe(t *testing.T) {
	sel := newExampleSelection(t, "train_")
	assert.Equal(t, metadata.Description{
		Table:           "examples",
		Prefix:          "train_",
		ColumnFamilies:  []string{metadata.FamilyTFExample},
		ColumnFamily:    "tfexample",
		ColumnQualifier: "example",
	}, sel.Describe())
}

func TestExampleSelection_LoadAndIterate(t *testing.T) {
	ctx := context.Background()
	sel := newExampleSelection(t, "train_")

	var examples []Example
	for i := 0; i < 5; i++ {
		examples = append(examples, Example{"index": i, "label": "cat"})
	}

	tests := []struct {
		name      string
		opts      LoadOptions
		wantCount int
	}{
		{name: "drains source", opts: LoadOptions{PrefixTagLength: 12}, wantCount: 5},
		{name: "bounded", opts: LoadOptions{PrefixTagLength: 12, MaxNumExamples: 3, LogEvery: 1}, wantCount: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := sel.LoadFromSource(ctx, NewSliceSource(examples), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, n)
		})
	}

	var keys []string
	seen := map[float64]int{}
	err := sel.IterateExamples(ctx, func(key string, ex Example) bool {
		keys = append(keys, key)
		assert.Equal(t, "cat", ex["label"])
		seen[ex["index"].(float64)]++
		return true
	})
	require.NoError(t, err)
	assert.Len(t, keys, 8)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "train_"))
		assert.Len(t, k, len("train_")+12)
	}
	assert.Equal(t, 2, seen[0])
	assert.Equal(t, 1, seen[4])

	ok, err := sel.RowsAtLeast(ctx, 8)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sel.RowsAtLeast(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExampleSelection_IterateStopsEarly(t *testing.T) {
	ctx := context.Background()
	sel := newExampleSelection(t, "eval_")
	_, err := sel.LoadFromSource(ctx, NewSliceSource([]Example{{"a": 1}, {"a": 2}, {"a": 3}}),
		LoadOptions{PrefixTagLength: 10})
	require.NoError(t, err)

	calls := 0
	require.NoError(t, sel.IterateExamples(ctx, func(string, Example) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls)
}

func TestExampleSelection_MalformedRow(t *testing.T) {
	ctx := context.Background()
	sel := newExampleSelection(t, "test_")
	require.NoError(t, sel.table.MutateRows(ctx, []*store.Mutation{
		store.NewMutation("test_zzzz").Set(metadata.FamilyTFExample, metadata.QualifierExample, []byte("not json")),
	}))

	err := sel.IterateExamples(ctx, func(string, Example) bool { return true })
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
}

func TestSamplerSource(t *testing.T) {
	ctx := context.Background()
	raw := newSelection(t, newTable(t), Config{}, 2)
	writeShard(t, raw, 0, 1, 2, 12)

	it, err := raw.SampleAVCorrespondenceExamples(SampleOptions{FramesPerVideo: 3, MaxNumSamples: 2})
	require.NoError(t, err)

	sel := newExampleSelection(t, "train_")
	n, err := sel.LoadFromSource(ctx, NewSamplerSource(it), LoadOptions{PrefixTagLength: 16})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	labels := map[[2]float64]int{}
	require.NoError(t, sel.IterateExamples(ctx, func(_ string, ex Example) bool {
		labels[[2]float64{ex["same_video"].(float64), ex["overlap"].(float64)}]++
		assert.Len(t, ex["video"], 3)
		return true
	}))
	assert.Equal(t, map[[2]float64]int{{1, 1}: 2, {1, 0}: 2}, labels)
}
