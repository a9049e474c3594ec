package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	loader, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := DefaultConfig()
	if cfg.Batching.IntervalMS != def.Batching.IntervalMS {
		t.Errorf("Expected default interval %d, got %d", def.Batching.IntervalMS, cfg.Batching.IntervalMS)
	}
	if cfg.Logging.Level != def.Logging.Level {
		t.Errorf("Expected default log level %q, got %q", def.Logging.Level, cfg.Logging.Level)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `version: "1"
ingest:
  url: https://ingest.example.com
  api_key: test-key
batching:
  interval_ms: 10000
session:
  sampling_rate: 0.25
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ingest.URL != "https://ingest.example.com" {
		t.Errorf("Ingest URL not loaded, got %q", cfg.Ingest.URL)
	}
	if cfg.Ingest.APIKey != "test-key" {
		t.Errorf("API key not loaded, got %q", cfg.Ingest.APIKey)
	}
	if cfg.Batching.IntervalMS != 10000 {
		t.Errorf("Interval not overridden, got %d", cfg.Batching.IntervalMS)
	}
	if cfg.Session.SamplingRate != 0.25 {
		t.Errorf("Sampling rate not overridden, got %v", cfg.Session.SamplingRate)
	}

	// Knobs absent from the file keep their defaults
	def := DefaultConfig()
	if cfg.Batching.MaxEventsInBatch != def.Batching.MaxEventsInBatch {
		t.Errorf("Expected default batch size %d, got %d", def.Batching.MaxEventsInBatch, cfg.Batching.MaxEventsInBatch)
	}
	if cfg.Session.EndThresholdMS != def.Session.EndThresholdMS {
		t.Errorf("Expected default threshold %d, got %d", def.Session.EndThresholdMS, cfg.Session.EndThresholdMS)
	}
}

func TestLoadZeroSamplingRateHonored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	// 0.0 means sample nothing and must not fall back to the default
	content := `session:
  sampling_rate: 0.0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.SamplingRate != 0 {
		t.Errorf("Configured sampling rate 0.0 came back as %v", cfg.Session.SamplingRate)
	}
}

func TestLoadAbsentSamplingRateKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `batching:
  interval_ms: 10000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.SamplingRate != DefaultConfig().Session.SamplingRate {
		t.Errorf("Absent sampling rate should keep default, got %v", cfg.Session.SamplingRate)
	}
}

func TestLoadSanitizesBadKnobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `session:
  sampling_rate: 7.5
batching:
  interval_ms: -1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.SamplingRate != 1.0 {
		t.Errorf("Bad sampling rate not clamped, got %v", cfg.Session.SamplingRate)
	}
	if cfg.Batching.IntervalMS != DefaultConfig().Batching.IntervalMS {
		t.Errorf("Bad interval not clamped, got %d", cfg.Batching.IntervalMS)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("batching: [not a map"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}
