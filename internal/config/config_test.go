package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Batching.IntervalMS <= 0 {
		t.Error("Default batching interval should be positive")
	}
	if cfg.Batching.MaxEventsInBatch <= 0 {
		t.Error("Default max events in batch should be positive")
	}
	if cfg.Session.EndThresholdMS <= 0 {
		t.Error("Default session end threshold should be positive")
	}
	if cfg.Session.SamplingRate != 1.0 {
		t.Errorf("Default sampling rate should be 1.0, got %v", cfg.Session.SamplingRate)
	}
	if cfg.Storage.MaxDiskUsageMB <= 0 {
		t.Error("Default disk quota should be positive")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		check  func(*testing.T, *Config)
	}{
		{
			name:   "negative batching interval reset",
			mutate: func(c *Config) { c.Batching.IntervalMS = -5 },
			check: func(t *testing.T, c *Config) {
				if c.Batching.IntervalMS != DefaultConfig().Batching.IntervalMS {
					t.Errorf("interval not reset, got %d", c.Batching.IntervalMS)
				}
			},
		},
		{
			name:   "zero batch size reset",
			mutate: func(c *Config) { c.Batching.MaxEventsInBatch = 0 },
			check: func(t *testing.T, c *Config) {
				if c.Batching.MaxEventsInBatch != DefaultConfig().Batching.MaxEventsInBatch {
					t.Errorf("batch size not reset, got %d", c.Batching.MaxEventsInBatch)
				}
			},
		},
		{
			name:   "sampling rate above one reset",
			mutate: func(c *Config) { c.Session.SamplingRate = 1.5 },
			check: func(t *testing.T, c *Config) {
				if c.Session.SamplingRate != 1.0 {
					t.Errorf("sampling rate not reset, got %v", c.Session.SamplingRate)
				}
			},
		},
		{
			name:   "negative sampling rate reset",
			mutate: func(c *Config) { c.Session.SamplingRate = -0.1 },
			check: func(t *testing.T, c *Config) {
				if c.Session.SamplingRate != 1.0 {
					t.Errorf("sampling rate not reset, got %v", c.Session.SamplingRate)
				}
			},
		},
		{
			name:   "zero sampling rate is valid",
			mutate: func(c *Config) { c.Session.SamplingRate = 0 },
			check: func(t *testing.T, c *Config) {
				if c.Session.SamplingRate != 0 {
					t.Errorf("valid zero sampling rate was changed to %v", c.Session.SamplingRate)
				}
			},
		},
		{
			name:   "zero disk quota reset",
			mutate: func(c *Config) { c.Storage.MaxDiskUsageMB = 0 },
			check: func(t *testing.T, c *Config) {
				if c.Storage.MaxDiskUsageMB != DefaultConfig().Storage.MaxDiskUsageMB {
					t.Errorf("disk quota not reset, got %d", c.Storage.MaxDiskUsageMB)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			cfg.Sanitize()
			tt.check(t, cfg)
		})
	}
}
