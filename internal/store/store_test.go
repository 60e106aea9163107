package store

import (
	"context"
	"testing"

	"cloud.google.com/go/bigtable/bttest"
	"github.com/devrev/avcorr/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var testFamilies = []string{"audio", "meta", "video_frames"}

func newBigtableTestClient(t *testing.T) Client {
	t.Helper()

	srv, err := bttest.NewServer("localhost:0")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := NewBigtableClient(context.Background(), "proj", "inst", zap.NewNop(), option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newPebbleTestClient(t *testing.T) Client {
	t.Helper()
	client, err := NewPebbleClient(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func backends() map[string]func(*testing.T) Client {
	return map[string]func(*testing.T) Client{
		"memory":   func(t *testing.T) Client { return NewMemoryClient(zap.NewNop()) },
		"pebble":   newPebbleTestClient,
		"bigtable": newBigtableTestClient,
	}
}

func openTestTable(t *testing.T, c Client) Table {
	t.Helper()
	tbl, err := c.OpenTable(context.Background(), "avtest", testFamilies)
	require.NoError(t, err)
	return tbl
}

func writeRows(t *testing.T, tbl Table, keys ...string) {
	t.Helper()
	muts := make([]*Mutation, 0, len(keys))
	for _, k := range keys {
		muts = append(muts, NewMutation(k).Set("meta", "meta", []byte(k)))
	}
	require.NoError(t, tbl.MutateRows(context.Background(), muts))
}

func collectKeys(t *testing.T, tbl Table, rng RowRange) []string {
	t.Helper()
	var keys []string
	err := tbl.ReadRows(context.Background(), rng, func(r *Row) bool {
		keys = append(keys, r.Key)
		return true
	})
	require.NoError(t, err)
	return keys
}

func TestTable_ReadWrite(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tbl := openTestTable(t, newClient(t))

			assert.Equal(t, "avtest", tbl.Name())
			assert.Equal(t, testFamilies, tbl.Families())

			err := tbl.MutateRows(ctx, []*Mutation{
				NewMutation("train_0_meta_aaaa").Set("meta", "meta", []byte(`{"video_length":1}`)),
				NewMutation("train_0_0_audio_aaaa").Set("audio", "audio", []byte{1, 2, 3}),
			})
			require.NoError(t, err)

			row, err := tbl.ReadRow(ctx, "train_0_0_audio_aaaa")
			require.NoError(t, err)
			assert.Equal(t, "train_0_0_audio_aaaa", row.Key)
			val, ok := row.Value("audio", "audio")
			require.True(t, ok)
			assert.Equal(t, []byte{1, 2, 3}, val)

			_, ok = row.Value("meta", "meta")
			assert.False(t, ok)
		})
	}
}

func TestTable_LastWriteWins(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tbl := openTestTable(t, newClient(t))

			require.NoError(t, tbl.MutateRows(ctx, []*Mutation{NewMutation("k").Set("meta", "meta", []byte("v1"))}))
			require.NoError(t, tbl.MutateRows(ctx, []*Mutation{NewMutation("k").Set("meta", "meta", []byte("v2"))}))

			row, err := tbl.ReadRow(ctx, "k")
			require.NoError(t, err)
			val, _ := row.Value("meta", "meta")
			assert.Equal(t, []byte("v2"), val)
			assert.Len(t, row.Cells, 1)
		})
	}
}

func TestTable_ReadRowNotFound(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			tbl := openTestTable(t, newClient(t))

			_, err := tbl.ReadRow(context.Background(), "train_9_meta_aaaa")
			require.Error(t, err)
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestTable_RejectsUndeclaredFamily(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			tbl := openTestTable(t, newClient(t))

			err := tbl.MutateRows(context.Background(), []*Mutation{
				NewMutation("k").Set("tfexample", "example", []byte("x")),
			})
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestTable_ReadRows(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			tbl := openTestTable(t, newClient(t))
			writeRows(t, tbl,
				"train_meta_aaac",
				"train_meta_aaaa",
				"train_0_meta_aaaa",
				"train_meta_aaab",
				"eval_meta_aaaa",
			)

			tests := []struct {
				name string
				rng  RowRange
				want []string
			}{
				{
					name: "bounded range excludes end",
					rng:  NewRange("train_meta_aaaa", "train_meta_aaac"),
					want: []string{"train_meta_aaaa", "train_meta_aaab"},
				},
				{
					name: "prefix",
					rng:  PrefixRange("train_meta_"),
					want: []string{"train_meta_aaaa", "train_meta_aaab", "train_meta_aaac"},
				},
				{
					name: "open start",
					rng:  NewRange("", "train_meta_"),
					want: []string{"eval_meta_aaaa", "train_0_meta_aaaa"},
				},
				{
					name: "unbounded",
					rng:  InfiniteRange(),
					want: []string{
						"eval_meta_aaaa",
						"train_0_meta_aaaa",
						"train_meta_aaaa",
						"train_meta_aaab",
						"train_meta_aaac",
					},
				},
				{
					name: "empty",
					rng:  PrefixRange("test_"),
					want: nil,
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					assert.Equal(t, tt.want, collectKeys(t, tbl, tt.rng))
				})
			}
		})
	}
}

func TestTable_ReadRowsStopsEarly(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			tbl := openTestTable(t, newClient(t))
			writeRows(t, tbl, "a_1", "a_2", "a_3")

			var seen []string
			err := tbl.ReadRows(context.Background(), PrefixRange("a_"), func(r *Row) bool {
				seen = append(seen, r.Key)
				return len(seen) < 2
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a_1", "a_2"}, seen)
		})
	}
}

func TestClient_ReopenAddsFamilies(t *testing.T) {
	for name, newClient := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newClient(t)
			openTestTable(t, c)

			tbl, err := c.OpenTable(ctx, "avtest", []string{"tfexample"})
			require.NoError(t, err)
			assert.Contains(t, tbl.Families(), "tfexample")
			assert.Contains(t, tbl.Families(), "meta")

			require.NoError(t, tbl.MutateRows(ctx, []*Mutation{
				NewMutation("ex_abcd").Set("tfexample", "example", []byte("x")),
			}))
		})
	}
}

func TestMutation_Validation(t *testing.T) {
	fs, err := newFamilySet(testFamilies)
	require.NoError(t, err)

	tests := []struct {
		name string
		muts []*Mutation
	}{
		{name: "nil mutation", muts: []*Mutation{nil}},
		{name: "empty row key", muts: []*Mutation{NewMutation("").Set("meta", "meta", nil)}},
		{name: "no cells", muts: []*Mutation{NewMutation("k")}},
		{name: "nul in row key", muts: []*Mutation{NewMutation("a\x00b").Set("meta", "meta", nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fs.check("avtest", tt.muts)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}

	_, err = newFamilySet([]string{"bad:family"})
	assert.Error(t, err)
}

func TestRowRange(t *testing.T) {
	assert.Equal(t, RowRange{Start: "train_meta_", End: "train_meta`"}, PrefixRange("train_meta_"))
	assert.Equal(t, RowRange{}, PrefixRange(""))
	assert.Equal(t, "b", prefixSuccessor("a\xff"))

	r := NewRange("b", "d")
	assert.True(t, r.Contains("b"))
	assert.True(t, r.Contains("c"))
	assert.False(t, r.Contains("d"))
	assert.False(t, r.Contains("a"))
	assert.True(t, InfiniteRange().Contains("zzz"))
}

func TestCassandra_Bucketing(t *testing.T) {
	assert.Equal(t, "train", bucketOf("train_0_meta_aaaa"))
	assert.Equal(t, "ex", bucketOf("ex"))

	_, err := NewCassandraClient(CassandraConfig{}, zap.NewNop())
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = NewCassandraClient(CassandraConfig{Hosts: []string{"127.0.0.1"}, Keyspace: "bad-name"}, zap.NewNop())
	assert.True(t, errors.IsInvalidArgument(err))
}
