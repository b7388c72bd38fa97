// Package config provides YAML configuration loading and validation for the
// filetail agent. Every tunable has a spec-mandated default, so the config
// file itself is optional: LoadConfig with an empty path returns defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the filetail agent.
type Config struct {
	// Root is the directory the agent recursively watches and tails.
	Root string `yaml:"root"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn",
	// "error", or "critical". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// ReadBufferSize bounds each tailer read, in bytes. Defaults to 1 MiB.
	// Only the watch subcommand passes it to its tailers; the agent
	// subcommand's tailers use the tailer package default.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// MinReadInterval is the minimum time between two reads of the same
	// file that are both triggered by FileUpdated signals (reads that
	// drain an unfinished buffer because the prior read did not reach EOF
	// are not subject to this cooldown). Defaults to 60s. Only the watch
	// subcommand passes it to its tailers; the agent subcommand's tailers
	// use the tailer package default.
	MinReadInterval time.Duration `yaml:"min_read_interval"`

	// MaxWordLength bounds both an emitted word and the carry buffer
	// retained between chunks. Defaults to 4096 bytes.
	MaxWordLength int `yaml:"max_word_length"`

	// WorkerCount sizes the process-wide I/O worker pool. Defaults to 4.
	WorkerCount int `yaml:"worker_count"`

	// FilterInitialCapacity is the starting capacity of each per-file
	// cuckoo filter, in items. Defaults to 100000.
	FilterInitialCapacity uint `yaml:"filter_initial_capacity"`

	// FilterFalsePositiveRate is the target false-positive probability of
	// each per-file cuckoo filter. Defaults to 0.001.
	FilterFalsePositiveRate float64 `yaml:"filter_false_positive_rate"`

	// FilterSeed deterministically seeds the cuckoo filter library's
	// internal PRNG so that filter construction is reproducible across
	// runs with identical input. Defaults to 1.
	FilterSeed int64 `yaml:"filter_seed"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug":    true,
	"info":     true,
	"warn":     true,
	"warning":  true,
	"error":    true,
	"critical": true,
}

// Default tunables, applied by applyDefaults when a field is left zero.
const (
	DefaultReadBufferSize          = 1 << 20 // 1 MiB
	DefaultMinReadInterval         = 60 * time.Second
	DefaultMaxWordLength           = 4096
	DefaultWorkerCount             = 4
	DefaultFilterInitialCapacity   = 100_000
	DefaultFilterFalsePositiveRate = 0.001
	DefaultFilterSeed              = 1
	DefaultLogLevel                = "info"
)

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all fields. If path is empty, LoadConfig skips the
// read and returns an all-defaults Config for the given root.
func LoadConfig(path, root string) (*Config, error) {
	cfg := Config{Root: root}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
		}
		if cfg.Root == "" {
			cfg.Root = root
		}
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with their spec-mandated
// defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MinReadInterval <= 0 {
		cfg.MinReadInterval = DefaultMinReadInterval
	}
	if cfg.MaxWordLength <= 0 {
		cfg.MaxWordLength = DefaultMaxWordLength
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.FilterInitialCapacity == 0 {
		cfg.FilterInitialCapacity = DefaultFilterInitialCapacity
	}
	if cfg.FilterFalsePositiveRate <= 0 {
		cfg.FilterFalsePositiveRate = DefaultFilterFalsePositiveRate
	}
	if cfg.FilterSeed == 0 {
		cfg.FilterSeed = DefaultFilterSeed
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Root == "" {
		errs = append(errs, errors.New("root is required"))
	} else if info, err := os.Stat(cfg.Root); err != nil {
		errs = append(errs, fmt.Errorf("root %q: %w", cfg.Root, err))
	} else if !info.IsDir() {
		errs = append(errs, fmt.Errorf("root %q is not a directory", cfg.Root))
	}

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error, critical", cfg.LogLevel))
	}
	if cfg.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("read_buffer_size must be positive"))
	}
	if cfg.WorkerCount <= 0 {
		errs = append(errs, errors.New("worker_count must be positive"))
	}
	if cfg.FilterFalsePositiveRate <= 0 || cfg.FilterFalsePositiveRate >= 1 {
		errs = append(errs, errors.New("filter_false_positive_rate must be in (0, 1)"))
	}

	return errors.Join(errs...)
}
