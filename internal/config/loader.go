package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDir      = ".tracepoint"
	configFileName = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	path string
}

// NewLoader creates a loader for the default config location
// (~/.tracepoint/config.yaml), or for path if non-empty.
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, configDir, configFileName)
	}
	return &Loader{path: path}, nil
}

// Load loads configuration, merging the file (if present) over defaults
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	fileCfg, samplingSet, err := l.loadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if fileCfg != nil {
		cfg = mergeConfigs(cfg, fileCfg, samplingSet)
	}

	cfg.Sanitize()
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Zero is a meaningful sampling rate (sample nothing), so a plain
	// float64 field cannot tell "set to 0" from "absent". A pointer
	// decode of just that key reports presence.
	var keys struct {
		Session struct {
			SamplingRate *float64 `yaml:"sampling_rate"`
		} `yaml:"session"`
	}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, false, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, keys.Session.SamplingRate != nil, nil
}

// mergeConfigs merges two configurations, with override taking precedence.
// Zero values in the override fall back to the base, except the sampling
// rate, which overrides whenever the file set it (samplingSet).
func mergeConfigs(base, override *Config, samplingSet bool) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Ingest: Ingest{
			URL:    coalesce(override.Ingest.URL, base.Ingest.URL),
			APIKey: coalesce(override.Ingest.APIKey, base.Ingest.APIKey),
		},
		Batching: Batching{
			IntervalMS:       coalesceInt64(override.Batching.IntervalMS, base.Batching.IntervalMS),
			MaxEventsInBatch: coalesceInt(override.Batching.MaxEventsInBatch, base.Batching.MaxEventsInBatch),
			MaxRetries:       coalesceInt(override.Batching.MaxRetries, base.Batching.MaxRetries),
			FlushTimeoutMS:   coalesceInt64(override.Batching.FlushTimeoutMS, base.Batching.FlushTimeoutMS),
		},
		Session: Session{
			EndThresholdMS: coalesceInt64(override.Session.EndThresholdMS, base.Session.EndThresholdMS),
			SamplingRate:   base.Session.SamplingRate,
		},
		Storage: Storage{
			DBPath:         coalesce(override.Storage.DBPath, base.Storage.DBPath),
			MaxDiskUsageMB: coalesceInt64(override.Storage.MaxDiskUsageMB, base.Storage.MaxDiskUsageMB),
			EventTTLHours:  coalesceInt64(override.Storage.EventTTLHours, base.Storage.EventTTLHours),
			QueueSize:      coalesceInt(override.Storage.QueueSize, base.Storage.QueueSize),
		},
		Logging: Logging{
			Level: coalesce(override.Logging.Level, base.Logging.Level),
			File:  coalesce(override.Logging.File, base.Logging.File),
		},
	}

	if samplingSet {
		result.Session.SamplingRate = override.Session.SamplingRate
	}

	return result
}

func coalesce(override, base string) string {
	if override != "" {
		return override
	}
	return base
}

func coalesceInt(override, base int) int {
	if override != 0 {
		return override
	}
	return base
}

func coalesceInt64(override, base int64) int64 {
	if override != 0 {
		return override
	}
	return base
}
