package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent ragrelay configuration stored as
// config.toml in the .ragrelay/ directory. The TOML layout uses sections for
// logical grouping.
//
// The upstream API key is deliberately absent: it is a secret and is only
// ever read from the environment (see InitViper).
type Config struct {
	Version     int               `toml:"version"`
	Relay       RelayConfig       `toml:"relay"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Client      ClientConfig      `toml:"client"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// RelayConfig holds settings for the `ragrelay serve` HTTP relay.
type RelayConfig struct {
	Listen string `toml:"listen,omitempty"`

	// HealthTimeout is a Go duration string, e.g. "15s".
	HealthTimeout string `toml:"health_timeout,omitempty"`

	// StreamIdleTimeout aborts a chat stream whose upstream sends nothing for
	// this long. A Go duration string.
	StreamIdleTimeout string `toml:"stream_idle_timeout,omitempty"`

	// MaxUploadMB bounds inbound request bodies, in MiB.
	MaxUploadMB uint `toml:"max_upload_mb,omitempty"`
}

// UpstreamConfig points the relay at the RAG backend.
type UpstreamConfig struct {
	BaseURL string `toml:"base_url,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running relay
// (ragrelay chat, upload, stats, health). RelayTarget is a full URL.
type ClientConfig struct {
	RelayTarget string `toml:"relay_target,omitempty"`

	// TopK is the retrieval depth sent with each chat message. 0 lets the
	// backend decide.
	TopK uint `toml:"top_k,omitempty"`
}

// EventStreamConfig configures relay event publishing. An empty broker list
// disables publishing.
type EventStreamConfig struct {
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// HealthTimeoutDuration parses HealthTimeout, falling back to the default
// when it is empty.
func (r RelayConfig) HealthTimeoutDuration() (time.Duration, error) {
	if r.HealthTimeout == "" {
		return defaultHealthTimeout, nil
	}
	d, err := time.ParseDuration(r.HealthTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid relay.health_timeout: %w", err)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"relay.listen": {
		get: func(c *Config) string { return c.Relay.Listen },
		set: func(c *Config, v string) error { c.Relay.Listen = v; return nil },
	},
	"relay.health_timeout": {
		get: func(c *Config) string { return c.Relay.HealthTimeout },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for relay.health_timeout: %w", err)
			}
			if d <= 0 {
				return fmt.Errorf("invalid value for relay.health_timeout: must be positive, got %s", v)
			}
			c.Relay.HealthTimeout = v
			return nil
		},
	},
	"relay.stream_idle_timeout": {
		get: func(c *Config) string { return c.Relay.StreamIdleTimeout },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for relay.stream_idle_timeout: %w", err)
			}
			if d <= 0 {
				return fmt.Errorf("invalid value for relay.stream_idle_timeout: must be positive, got %s", v)
			}
			c.Relay.StreamIdleTimeout = v
			return nil
		},
	},
	"relay.max_upload_mb": {
		get: func(c *Config) string {
			if c.Relay.MaxUploadMB == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Relay.MaxUploadMB), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid value for relay.max_upload_mb: %w", err)
			}
			c.Relay.MaxUploadMB = uint(n)
			return nil
		},
	},
	"upstream.base_url": {
		get: func(c *Config) string { return c.Upstream.BaseURL },
		set: func(c *Config, v string) error { c.Upstream.BaseURL = v; return nil },
	},
	"client.relay_target": {
		get: func(c *Config) string { return c.Client.RelayTarget },
		set: func(c *Config, v string) error { c.Client.RelayTarget = v; return nil },
	},
	"client.top_k": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Client.TopK), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid value for client.top_k: %w", err)
			}
			c.Client.TopK = uint(n)
			return nil
		},
	},
	"eventstream.kafka_brokers": {
		get: func(c *Config) string { return c.EventStream.KafkaBrokers },
		set: func(c *Config, v string) error { c.EventStream.KafkaBrokers = v; return nil },
	},
	"eventstream.kafka_topic": {
		get: func(c *Config) string { return c.EventStream.KafkaTopic },
		set: func(c *Config, v string) error { c.EventStream.KafkaTopic = v; return nil },
	},
}
