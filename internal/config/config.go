package config

// Config represents the complete pipeline configuration snapshot.
// The pipeline reads it once at init and never mutates it.
type Config struct {
	Version  string   `yaml:"version"`
	Ingest   Ingest   `yaml:"ingest"`
	Batching Batching `yaml:"batching"`
	Session  Session  `yaml:"session"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
}

// Ingest contains the remote ingestion endpoint settings
type Ingest struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Batching contains export batching and retry settings
type Batching struct {
	IntervalMS       int64 `yaml:"interval_ms"`
	MaxEventsInBatch int   `yaml:"max_events_in_batch"`
	MaxRetries       int   `yaml:"max_retries"`
	FlushTimeoutMS   int64 `yaml:"flush_timeout_ms"`
}

// Session contains session lifecycle settings
type Session struct {
	EndThresholdMS int64   `yaml:"end_threshold_ms"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// Storage contains local persistence settings
type Storage struct {
	DBPath         string `yaml:"db_path"`
	MaxDiskUsageMB int64  `yaml:"max_disk_usage_mb"`
	EventTTLHours  int64  `yaml:"event_ttl_hours"`
	QueueSize      int    `yaml:"queue_size"`
}

// Logging contains SDK logger settings
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Batching: Batching{
			IntervalMS:       30000,
			MaxEventsInBatch: 500,
			MaxRetries:       3,
			FlushTimeoutMS:   5000,
		},
		Session: Session{
			EndThresholdMS: 60000,
			SamplingRate:   1.0,
		},
		Storage: Storage{
			MaxDiskUsageMB: 100,
			EventTTLHours:  360,
			QueueSize:      1024,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Sanitize clamps out-of-range knobs back to their defaults so a bad
// config file can never stall the exporter or disable persistence.
func (c *Config) Sanitize() {
	def := DefaultConfig()

	if c.Batching.IntervalMS <= 0 {
		c.Batching.IntervalMS = def.Batching.IntervalMS
	}
	if c.Batching.MaxEventsInBatch <= 0 {
		c.Batching.MaxEventsInBatch = def.Batching.MaxEventsInBatch
	}
	if c.Batching.MaxRetries < 0 {
		c.Batching.MaxRetries = def.Batching.MaxRetries
	}
	if c.Batching.FlushTimeoutMS <= 0 {
		c.Batching.FlushTimeoutMS = def.Batching.FlushTimeoutMS
	}
	if c.Session.EndThresholdMS <= 0 {
		c.Session.EndThresholdMS = def.Session.EndThresholdMS
	}
	if c.Session.SamplingRate < 0 || c.Session.SamplingRate > 1 {
		c.Session.SamplingRate = def.Session.SamplingRate
	}
	if c.Storage.MaxDiskUsageMB <= 0 {
		c.Storage.MaxDiskUsageMB = def.Storage.MaxDiskUsageMB
	}
	if c.Storage.EventTTLHours <= 0 {
		c.Storage.EventTTLHours = def.Storage.EventTTLHours
	}
	if c.Storage.QueueSize <= 0 {
		c.Storage.QueueSize = def.Storage.QueueSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
