package config

import (
	"fmt"
	"os"
	"time"

	"github.com/devrev/avcorr/internal/keys"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendMemory    = "memory"
	BackendPebble    = "pebble"
	BackendBigtable  = "bigtable"
	BackendCassandra = "cassandra"
)

// Config represents the complete configuration of avstore
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Keys    KeysConfig    `yaml:"keys"`
	Write   WriteConfig   `yaml:"write"`
	Sample  SampleConfig  `yaml:"sample"`
	Redis   RedisConfig   `yaml:"redis"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects and configures the table backend
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Table   string `yaml:"table"`
	Prefix  string `yaml:"prefix"`

	// Bigtable
	Project         string `yaml:"project"`
	Instance        string `yaml:"instance"`
	CredentialsFile string `yaml:"credentials_file"`

	// Pebble
	PebbleDir string `yaml:"pebble_dir"`

	// Cassandra
	Cassandra CassandraConfig `yaml:"cassandra"`
}

// CassandraConfig holds Cassandra connection settings
type CassandraConfig struct {
	Hosts       []string      `yaml:"hosts"`
	Keyspace    string        `yaml:"keyspace"`
	Consistency string        `yaml:"consistency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// KeysConfig holds row key encoding settings
type KeysConfig struct {
	MaxSuffix int `yaml:"max_suffix"`
}

// WriteConfig holds ingest settings
type WriteConfig struct {
	AudioBlockSize        int           `yaml:"audio_block_size"`
	FrameBatchSize        int           `yaml:"frame_batch_size"`
	MaxMutationsPerSecond float64       `yaml:"max_mutations_per_second"`
	IngestWorkers         int           `yaml:"ingest_workers"`
	FrameWidth            int           `yaml:"frame_width"`
	FrameHeight           int           `yaml:"frame_height"`
	Greyscale             bool          `yaml:"greyscale"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// SampleConfig holds correspondence sampling settings
type SampleConfig struct {
	FramesPerVideo        int   `yaml:"frames_per_video"`
	MaxFrameShift         int   `yaml:"max_frame_shift"`
	MaxFrameSkip          int   `yaml:"max_frame_skip"`
	MaxLookupRetries      int   `yaml:"max_lookup_retries"`
	EmitNegativeDifferent bool  `yaml:"emit_negative_different"`
	FetchConcurrency      int   `yaml:"fetch_concurrency"`
	NumShards             int   `yaml:"num_shards"`
	LazyMetadata          bool  `yaml:"lazy_metadata"`
	Seed                  int64 `yaml:"seed"`
}

// RedisConfig holds sample queue settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"max_len"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxSamples      int           `yaml:"max_samples"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file. An empty path uses defaults.
// Environment variables override file values.
func LoadConfig(filePath string) (*Config, error) {
	var cfg Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Override with environment variables (these take precedence)
	if err := applyEnvironmentOverrides(&cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "av_raw"
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = keys.PrefixTrain
	}
	if cfg.Store.PebbleDir == "" {
		cfg.Store.PebbleDir = "/var/lib/avstore"
	}
	if cfg.Store.Cassandra.Keyspace == "" {
		cfg.Store.Cassandra.Keyspace = "avstore"
	}
	if cfg.Store.Cassandra.Consistency == "" {
		cfg.Store.Cassandra.Consistency = "QUORUM"
	}
	if cfg.Store.Cassandra.Timeout == 0 {
		cfg.Store.Cassandra.Timeout = 10 * time.Second
	}

	if cfg.Keys.MaxSuffix == 0 {
		cfg.Keys.MaxSuffix = keys.DefaultMaxSuffix
	}

	if cfg.Write.AudioBlockSize == 0 {
		cfg.Write.AudioBlockSize = 1000
	}
	if cfg.Write.FrameBatchSize == 0 {
		cfg.Write.FrameBatchSize = 32
	}
	if cfg.Write.IngestWorkers == 0 {
		cfg.Write.IngestWorkers = 4
	}
	if cfg.Write.FrameWidth == 0 && cfg.Write.FrameHeight == 0 {
		cfg.Write.FrameWidth = 96
		cfg.Write.FrameHeight = 96
	}
	if cfg.Write.ShutdownTimeout == 0 {
		cfg.Write.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Sample.FramesPerVideo == 0 {
		cfg.Sample.FramesPerVideo = 15
	}
	if cfg.Sample.MaxLookupRetries == 0 {
		cfg.Sample.MaxLookupRetries = 10
	}
	if cfg.Sample.FetchConcurrency == 0 {
		cfg.Sample.FetchConcurrency = 8
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = "avcorr:samples"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxSamples == 0 {
		cfg.Server.MaxSamples = 1000
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPebble:
	case BackendBigtable:
		if c.Store.Project == "" || c.Store.Instance == "" {
			return fmt.Errorf("store.project and store.instance are required for the bigtable backend")
		}
	case BackendCassandra:
		if len(c.Store.Cassandra.Hosts) == 0 {
			return fmt.Errorf("store.cassandra.hosts is required for the cassandra backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of %s, %s, %s, %s, saw %q",
			BackendMemory, BackendPebble, BackendBigtable, BackendCassandra, c.Store.Backend)
	}
	if err := keys.ValidatePrefix(c.Store.Prefix); err != nil {
		return fmt.Errorf("store.prefix: %w", err)
	}
	if c.Keys.MaxSuffix <= 0 {
		return fmt.Errorf("keys.max_suffix must be positive")
	}
	if c.Write.AudioBlockSize <= 0 {
		return fmt.Errorf("write.audio_block_size must be positive")
	}
	if c.Write.FrameBatchSize <= 0 {
		return fmt.Errorf("write.frame_batch_size must be positive")
	}
	if c.Write.MaxMutationsPerSecond < 0 {
		return fmt.Errorf("write.max_mutations_per_second must not be negative")
	}
	if (c.Write.FrameWidth > 0) != (c.Write.FrameHeight > 0) {
		return fmt.Errorf("write.frame_width and write.frame_height must be set together")
	}
	if c.Sample.FramesPerVideo <= 0 {
		return fmt.Errorf("sample.frames_per_video must be positive")
	}
	if c.Sample.MaxFrameShift < 0 || c.Sample.MaxFrameSkip < 0 {
		return fmt.Errorf("sample.max_frame_shift and sample.max_frame_skip must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, saw %q", c.Logging.Format)
	}
	return nil
}
