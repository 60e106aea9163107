package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/devrev/avcorr/internal/config"
	"github.com/devrev/avcorr/internal/keys"
	"github.com/devrev/avcorr/internal/metadata"
	"github.com/devrev/avcorr/internal/metrics"
	"github.com/devrev/avcorr/internal/queue"
	"github.com/devrev/avcorr/internal/selection"
	"github.com/devrev/avcorr/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"
)

// app holds everything a command needs, built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   store.Client
	table    store.Table
	sel      *selection.RawVideoSelection
	runID    string
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", runID))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	client, err := newStoreClient(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	table, err := client.OpenTable(ctx, cfg.Store.Table, metadata.RawFamilies)
	if err != nil {
		client.Close()
		return nil, err
	}

	enc, err := keys.NewEncoder(cfg.Keys.MaxSuffix)
	if err != nil {
		client.Close()
		return nil, err
	}
	meta, err := metadata.NewStore(table, cfg.Store.Prefix, enc, m, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	seed := cfg.Sample.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sel, err := selection.NewRawVideoSelection(meta, selection.Config{
		AudioBlockSize:        cfg.Write.AudioBlockSize,
		FrameBatchSize:        cfg.Write.FrameBatchSize,
		MaxMutationsPerSecond: cfg.Write.MaxMutationsPerSecond,
		MaxLookupRetries:      cfg.Sample.MaxLookupRetries,
	}, rand.New(rand.NewSource(seed)), logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("backend", cfg.Store.Backend),
		zap.String("table", cfg.Store.Table),
		zap.String("prefix", cfg.Store.Prefix),
		zap.Int64("seed", seed))
	warnEphemeral(cfg.Store, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		client:   client,
		table:    table,
		sel:      sel,
		runID:    runID,
	}, nil
}

func (a *app) sampleOptions() selection.SampleOptions {
	s := a.cfg.Sample
	return selection.SampleOptions{
		FramesPerVideo:        s.FramesPerVideo,
		MaxFrameShift:         s.MaxFrameShift,
		MaxFrameSkip:          s.MaxFrameSkip,
		EmitNegativeDifferent: s.EmitNegativeDifferent,
		NumShards:             s.NumShards,
		FetchConcurrency:      s.FetchConcurrency,
		LazyMetadata:          s.LazyMetadata,
	}
}

func (a *app) newQueue() (*queue.RedisSampleQueue, error) {
	r := a.cfg.Redis
	return queue.NewRedisSampleQueue(queue.Config{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Key:      r.Key,
		MaxLen:   r.MaxLen,
	}, a.metrics, a.logger)
}

func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn("Failed to close store client", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// warnEphemeral flags the memory backend, whose rows are gone once the
// process exits.
func warnEphemeral(cfg config.StoreConfig, logger *zap.Logger) bool {
	if cfg.Backend != config.BackendMemory {
		return false
	}
	logger.Warn("Using the memory store backend, nothing is persisted after exit",
		zap.String("table", cfg.Table),
		zap.String("hint", "set store.backend to pebble, bigtable or cassandra"))
	return true
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func newStoreClient(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Client, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryClient(logger), nil
	case config.BackendPebble:
		c, err := store.NewPebbleClient(cfg.PebbleDir, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendBigtable:
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		c, err := store.NewBigtableClient(ctx, cfg.Project, cfg.Instance, logger, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendCassandra:
		c, err := store.NewCassandraClient(store.CassandraConfig{
			Hosts:       cfg.Cassandra.Hosts,
			Keyspace:    cfg.Cassandra.Keyspace,
			Consistency: cfg.Cassandra.Consistency,
			Timeout:     cfg.Cassandra.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
