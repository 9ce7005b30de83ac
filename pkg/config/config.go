// Package config loads engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"
)

const (
	// BackendMemory keeps all blobs in process memory.
	BackendMemory = "memory"
	// BackendLocal stores blobs as files under a root directory.
	BackendLocal = "local"
)

// Config is the top-level engine configuration.
type Config struct {
	// Workers bounds per-level operator parallelism. Zero means
	// GOMAXPROCS.
	Workers int `json:"workers,omitempty"`
	// IterationCap bounds nested fixed-point loops in recursive regions.
	IterationCap int `json:"iterationCap,omitempty"`
	// Storage configures the durability layer. Nil disables journaling
	// and checkpoints.
	Storage *StorageConfig `json:"storage,omitempty"`
	// LogLevel is the zap verbosity (0 is info, higher is more verbose).
	LogLevel int `json:"logLevel,omitempty"`
}

// StorageConfig configures the blob store, WAL and checkpoint manager.
type StorageConfig struct {
	// Backend selects the blob store implementation: "memory" or
	// "local".
	Backend string `json:"backend"`
	// Path is the blob store root for the "local" backend.
	Path string `json:"path,omitempty"`
	// RetryInterval is the initial backoff between transient blob store
	// retries.
	RetryInterval time.Duration `json:"retryInterval,omitempty"`
	// RetryMax is the number of retries before an operation escalates to
	// an IO error.
	RetryMax int `json:"retryMax,omitempty"`
	// CheckpointsKept is the number of recent checkpoints GC retains.
	CheckpointsKept uint64 `json:"checkpointsKept,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		IterationCap: 1000,
		Storage: &StorageConfig{
			Backend:         BackendMemory,
			RetryInterval:   50 * time.Millisecond,
			RetryMax:        5,
			CheckpointsKept: 2,
		},
	}
}

// Load reads and validates a YAML configuration file, filling unset fields
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.IterationCap < 0 {
		return fmt.Errorf("iterationCap must be non-negative, got %d", c.IterationCap)
	}

	if c.Storage != nil {
		switch c.Storage.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Storage.Path == "" {
				return fmt.Errorf("storage backend %q requires a path", BackendLocal)
			}
		default:
			return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
		}
		if c.Storage.RetryMax < 0 {
			return fmt.Errorf("retryMax must be non-negative, got %d", c.Storage.RetryMax)
		}
	}

	return nil
}
