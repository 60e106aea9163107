package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "AVSTORE_"

// applyEnvironmentOverrides applies AVSTORE_* environment variables to cfg
func applyEnvironmentOverrides(cfg *Config) error {
	// Store configuration
	setString("STORE_BACKEND", &cfg.Store.Backend)
	setString("STORE_TABLE", &cfg.Store.Table)
	setString("STORE_PREFIX", &cfg.Store.Prefix)
	setString("STORE_PROJECT", &cfg.Store.Project)
	setString("STORE_INSTANCE", &cfg.Store.Instance)
	setString("STORE_CREDENTIALS_FILE", &cfg.Store.CredentialsFile)
	setString("STORE_PEBBLE_DIR", &cfg.Store.PebbleDir)
	if hosts := os.Getenv(envPrefix + "CASSANDRA_HOSTS"); hosts != "" {
		cfg.Store.Cassandra.Hosts = strings.Split(hosts, ",")
	}
	setString("CASSANDRA_KEYSPACE", &cfg.Store.Cassandra.Keyspace)

	// Sampling configuration
	if err := setInt("SAMPLE_FRAMES_PER_VIDEO", &cfg.Sample.FramesPerVideo); err != nil {
		return err
	}
	if err := setInt64("SAMPLE_SEED", &cfg.Sample.Seed); err != nil {
		return err
	}

	// Write configuration
	if err := setInt("WRITE_INGEST_WORKERS", &cfg.Write.IngestWorkers); err != nil {
		return err
	}

	// Redis configuration
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)

	// Server configuration
	if err := setInt("SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}

	// Logging configuration
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	return nil
}

func setString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func setInt(name string, dst *int) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}

func setInt64(name string, dst *int64) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}
