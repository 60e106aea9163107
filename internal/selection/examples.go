package selection

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/metadata"
	"github.com/devrev/avcorr/internal/metrics"
	"github.com/devrev/avcorr/internal/model"
	"github.com/devrev/avcorr/internal/store"
	"go.uber.org/zap"
)

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz"

// Example is one training example as a feature name to value mapping.
type Example map[string]interface{}

// ExampleSource yields examples and io.EOF once exhausted.
type ExampleSource interface {
	Next(ctx context.Context) (Example, error)
}

// SliceSource yields a fixed list of examples.
type SliceSource struct {
	examples []Example
	next     int
}

// NewSliceSource creates a source over examples.
func NewSliceSource(examples []Example) *SliceSource {
	return &SliceSource{examples: examples}
}

func (s *SliceSource) Next(context.Context) (Example, error) {
	if s.next >= len(s.examples) {
		return nil, io.EOF
	}
	ex := s.examples[s.next]
	s.next++
	return ex, nil
}

// SamplerSource turns every example of every set drawn from a sampler into
// an Example.
type SamplerSource struct {
	sampler *Sampler
	pending []Example
}

// NewSamplerSource wraps sampler. The sampler must fetch payloads.
func NewSamplerSource(sampler *Sampler) *SamplerSource {
	return &SamplerSource{sampler: sampler}
}

func (s *SamplerSource) Next(ctx context.Context) (Example, error) {
	for len(s.pending) == 0 {
		set, err := s.sampler.Next(ctx)
		if err != nil {
			return nil, err
		}
		for _, class := range []string{ClassPositiveSame, ClassNegativeSame, ClassNegativeDifferent} {
			if sample := set.Examples()[class]; sample != nil {
				s.pending = append(s.pending, ExampleFromSample(sample))
			}
		}
	}
	ex := s.pending[0]
	s.pending = s.pending[1:]
	return ex, nil
}

// ExampleFromSample flattens a fetched sample into training features.
func ExampleFromSample(sample *model.AVCorrespondenceSample) Example {
	labels := sample.Labels()
	return Example{
		"video":      sample.Video(),
		"audio":      sample.Audio(),
		"same_video": labels.SameVideo,
		"overlap":    labels.Overlap,
	}
}

// LoadOptions controls LoadFromSource
type LoadOptions struct {
	// PrefixTagLength is the number of random letters appended to the prefix.
	PrefixTagLength int
	// MaxNumExamples stops after that many writes. Zero or less drains the
	// source.
	MaxNumExamples int
	LogEvery       int
}

// DefaultLoadOptions returns the default load settings
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{PrefixTagLength: 4, LogEvery: 100}
}

// ExampleSelection stores serialized examples in the tfexample family under
// random keys, so that a prefix scan returns them in shuffled order.
type ExampleSelection struct {
	table   store.Table
	prefix  string
	metrics *metrics.Metrics
	logger  *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewExampleSelection wraps table, which must declare the tfexample family.
func NewExampleSelection(table store.Table, prefix string, rng *rand.Rand, m *metrics.Metrics, logger *zap.Logger) (*ExampleSelection, error) {
	if table == nil {
		return nil, errors.InvalidArgumentf("table is required")
	}
	declared := false
	for _, f := range table.Families() {
		if f == metadata.FamilyTFExample {
			declared = true
		}
	}
	if !declared {
		return nil, errors.InvalidArgumentf("table %s does not declare column family %s",
			table.Name(), metadata.FamilyTFExample)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExampleSelection{
		table:   table,
		prefix:  prefix,
		metrics: m,
		logger:  logger,
		rng:     rng,
	}, nil
}

// Describe reports the table, prefix, family and qualifier in use
func (s *ExampleSelection) Describe() metadata.Description {
	return metadata.Description{
		Table:           s.table.Name(),
		Prefix:          s.prefix,
		ColumnFamilies:  s.table.Families(),
		ColumnFamily:    metadata.FamilyTFExample,
		ColumnQualifier: metadata.QualifierExample,
	}
}

// RowsAtLeast reports whether at least minRows examples are stored.
func (s *ExampleSelection) RowsAtLeast(ctx context.Context, minRows int) (bool, error) {
	return metadata.RowsAtLeast(ctx, s.table, s.prefix, minRows)
}

// RandomKey appends length letters drawn uniformly from a-z to prefix.
func RandomKey(rng *rand.Rand, prefix string, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = keyAlphabet[rng.Intn(len(keyAlphabet))]
	}
	return prefix + string(b)
}

func (s *ExampleSelection) randomKey(length int) string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return RandomKey(s.rng, s.prefix, length)
}

// LoadFromSource writes examples from src under random keys and returns the
// number written. Two examples drawing the same key overwrite each other.
func (s *ExampleSelection) LoadFromSource(ctx context.Context, src ExampleSource, opts LoadOptions) (int, error) {
	if opts.PrefixTagLength <= 0 {
		opts.PrefixTagLength = DefaultLoadOptions().PrefixTagLength
	}

	written := 0
	for opts.MaxNumExamples <= 0 || written < opts.MaxNumExamples {
		ex, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}

		data, err := json.Marshal(ex)
		if err != nil {
			return written, errors.InvalidArgument("failed to encode example", err)
		}
		key := s.randomKey(opts.PrefixTagLength)

		start := time.Now()
		err = s.table.MutateRows(ctx, []*store.Mutation{
			store.NewMutation(key).Set(metadata.FamilyTFExample, metadata.QualifierExample, data),
		})
		s.metrics.RecordMutate(metadata.FamilyTFExample, 1, len(data), time.Since(start).Seconds(), err)
		if err != nil {
			s.metrics.RecordStoreError("load_examples", errors.GetCode(err).String())
			return written, err
		}

		if opts.LogEvery > 0 && written%opts.LogEvery == 0 {
			s.logger.Info("Generated examples", zap.Int("count", written))
		}
		written++
	}

	s.logger.Info("Finished generating examples",
		zap.String("prefix", s.prefix),
		zap.Int("count", written))
	return written, nil
}

// IterateExamples calls fn with every stored example under the prefix in key
// order until fn returns false.
func (s *ExampleSelection) IterateExamples(ctx context.Context, fn func(key string, ex Example) bool) error {
	var scanErr error
	err := s.table.ReadRows(ctx, store.PrefixRange(s.prefix), func(r *store.Row) bool {
		data, ok := r.Value(metadata.FamilyTFExample, metadata.QualifierExample)
		if !ok {
			scanErr = errors.CorruptedData("row "+r.Key+" has no example cell", nil)
			return false
		}
		var ex Example
		if err := json.Unmarshal(data, &ex); err != nil {
			scanErr = errors.CorruptedData("malformed example in row "+r.Key, err)
			return false
		}
		s.metrics.RecordRead(metadata.FamilyTFExample, 1, len(data))
		return fn(r.Key, ex)
	})
	if err == nil {
		err = scanErr
	}
	return err
}
