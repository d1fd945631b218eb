// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default execution settings
	defaultStageTimeout     = 30 * time.Second
	defaultConcurrencyLimit = 8

	// Default breaker settings
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 30 * time.Second

	// Default retry settings
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 500 * time.Millisecond

	// Default dead-letter settings
	defaultReplayInitialDelay = time.Minute
	defaultReplayMaxDelay     = time.Hour
	defaultReplayMaxAttempts  = 5
	defaultSweepSchedule      = "*/5 * * * *"

	// Default event settings
	defaultEventQueueCapacity = 1024

	// Default monitoring settings
	defaultMetricsPrefix = "orca"
	defaultJobName       = "orca"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"
)

// Config represents the complete engine configuration
type Config struct {
	Execution  ExecutionConfig  `yaml:"execution"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Events     EventsConfig     `yaml:"events"`
	Store      StoreConfig      `yaml:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ExecutionConfig bounds stage execution
type ExecutionConfig struct {
	// StageTimeout is the per-stage deadline enforced by the timeout interceptor
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// ConcurrencyLimit caps the number of stages running at once per run (0 = unbounded)
	ConcurrencyLimit int `yaml:"concurrency_limit"`
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold int `yaml:"threshold"`
	// Cooldown is how long an open breaker waits before allowing a trial execution
	Cooldown time.Duration `yaml:"cooldown"`
}

// RetryConfig holds in-run retry settings for retryable stage failures
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// DeadLetterConfig holds failure capture and replay settings
type DeadLetterConfig struct {
	// Table is the DynamoDB table holding dead-letter entries; empty selects the in-memory queue
	Table string `yaml:"table"`
	// InitialDelay is the wait before a new entry becomes eligible for replay
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay caps the exponential replay backoff
	MaxDelay time.Duration `yaml:"max_delay"`
	// MaxAttempts is the replay budget before an entry is abandoned
	MaxAttempts int `yaml:"max_attempts"`
	// SweepSchedule is the cron spec for replay sweeps (5 fields)
	SweepSchedule string `yaml:"sweep_schedule"`
}

// EventsConfig holds wide-event delivery settings
type EventsConfig struct {
	// QueueCapacity bounds the store sink's in-memory queue
	QueueCapacity int `yaml:"queue_capacity"`
}

// StoreConfig holds run and event persistence settings
type StoreConfig struct {
	// PostgresURL selects the Postgres store; empty selects the in-memory store
	PostgresURL string `yaml:"postgres_url"`
}

// MonitoringConfig holds metrics settings
type MonitoringConfig struct {
	// RemoteWriteURL enables push mode when set; otherwise metrics are scrape-only
	RemoteWriteURL string `yaml:"remote_write_url"`
	MetricsPrefix  string `yaml:"metrics_prefix"`
	JobName        string `yaml:"jobname"`
}

// LoggingConfig defines logging behavior settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Execution.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive")
	}
	if c.Execution.ConcurrencyLimit < 0 {
		return fmt.Errorf("concurrency limit must not be negative")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.DeadLetter.MaxAttempts <= 0 {
		return fmt.Errorf("dead-letter max attempts must be positive")
	}
	if c.DeadLetter.InitialDelay > c.DeadLetter.MaxDelay {
		return fmt.Errorf("dead-letter initial delay must not exceed max delay")
	}
	if c.Events.QueueCapacity <= 0 {
		return fmt.Errorf("event queue capacity must be positive")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Execution.StageTimeout == 0 {
		c.Execution.StageTimeout = defaultStageTimeout
	}
	if c.Execution.ConcurrencyLimit == 0 {
		c.Execution.ConcurrencyLimit = defaultConcurrencyLimit
	}
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = defaultBreakerThreshold
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = defaultBreakerCooldown
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = defaultRetryAttempts
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = defaultRetryBackoff
	}
	if c.DeadLetter.InitialDelay == 0 {
		c.DeadLetter.InitialDelay = defaultReplayInitialDelay
	}
	if c.DeadLetter.MaxDelay == 0 {
		c.DeadLetter.MaxDelay = defaultReplayMaxDelay
	}
	if c.DeadLetter.MaxAttempts == 0 {
		c.DeadLetter.MaxAttempts = defaultReplayMaxAttempts
	}
	if c.DeadLetter.SweepSchedule == "" {
		c.DeadLetter.SweepSchedule = defaultSweepSchedule
	}
	if c.Events.QueueCapacity == 0 {
		c.Events.QueueCapacity = defaultEventQueueCapacity
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
