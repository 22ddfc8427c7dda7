package core

import (
	"fmt"
	"strings"
	"time"
)

type WebhookConfig struct {
	Secret           string `koanf:"secret" mapstructure:"secret"`
	PreviousSecret   string `koanf:"previous_secret" mapstructure:"previous_secret"`
	SignatureHeader  string `koanf:"signature_header" mapstructure:"signature_header"`
	TimestampHeader  string `koanf:"timestamp_header" mapstructure:"timestamp_header"`
	FreshnessWindowMS int64 `koanf:"freshness_window_ms" mapstructure:"freshness_window_ms"`
}

func (c WebhookConfig) FreshnessWindow() time.Duration {
	if c.FreshnessWindowMS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.FreshnessWindowMS) * time.Millisecond
}

type ConnectorConfig struct {
	Workers          int   `koanf:"workers" mapstructure:"workers"`
	MaxAttempts      int   `koanf:"max_attempts" mapstructure:"max_attempts"`
	BatchSize        int   `koanf:"batch_size" mapstructure:"batch_size"`
	InitialBackoffMS int64 `koanf:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int64 `koanf:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	SubmitTimeoutMS  int64 `koanf:"submit_timeout_ms" mapstructure:"submit_timeout_ms"`
	PollIntervalMS   int64 `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	LeaseTimeoutMS   int64 `koanf:"lease_timeout_ms" mapstructure:"lease_timeout_ms"`
}

func (c ConnectorConfig) InitialBackoff() time.Duration {
	if c.InitialBackoffMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c ConnectorConfig) MaxBackoff() time.Duration {
	if c.MaxBackoffMS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

func (c ConnectorConfig) SubmitTimeout() time.Duration {
	if c.SubmitTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SubmitTimeoutMS) * time.Millisecond
}

// LeaseTimeout bounds how long a claimed job may sit in-flight before a
// dispatch pass may reclaim it as a crashed attempt.
func (c ConnectorConfig) LeaseTimeout() time.Duration {
	if c.LeaseTimeoutMS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LeaseTimeoutMS) * time.Millisecond
}

func (c ConnectorConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

type StorageConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	HTTPAddr    string          `koanf:"http_addr" mapstructure:"http_addr"`
	Webhook     WebhookConfig   `koanf:"webhook" mapstructure:"webhook"`
	Connector   ConnectorConfig `koanf:"connector" mapstructure:"connector"`
	Storage     StorageConfig   `koanf:"storage" mapstructure:"storage"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "claims-pipeline",
		HTTPAddr:    ":8080",
		Webhook: WebhookConfig{
			SignatureHeader:   "x-relay-signature",
			TimestampHeader:   "x-relay-timestamp",
			FreshnessWindowMS: (5 * time.Minute).Milliseconds(),
		},
		Connector: ConnectorConfig{
			Workers:          4,
			MaxAttempts:      5,
			BatchSize:        25,
			InitialBackoffMS: (2 * time.Second).Milliseconds(),
			MaxBackoffMS:     (5 * time.Minute).Milliseconds(),
			SubmitTimeoutMS:  (30 * time.Second).Milliseconds(),
			PollIntervalMS:   (5 * time.Second).Milliseconds(),
			LeaseTimeoutMS:   (5 * time.Minute).Milliseconds(),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "file:claims_pipeline.db?cache=shared&_fk=1",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Connector.Workers < 0 {
		return fmt.Errorf("core: connector.workers must not be negative")
	}
	if c.Connector.MaxAttempts < 0 {
		return fmt.Errorf("core: connector.max_attempts must not be negative")
	}
	switch strings.TrimSpace(strings.ToLower(c.Storage.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}
