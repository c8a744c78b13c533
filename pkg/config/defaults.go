package config

import "time"

const (
	defaultRelayListen   = ":3000"
	defaultHealthTimeout     = 15 * time.Second
	defaultStreamIdleTimeout = 2 * time.Minute
	defaultMaxUploadMB       = 50

	defaultClientRelayTarget = "http://localhost:3000"

	defaultKafkaTopic = "ragrelay.relay"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. There is no default
// upstream base URL: the relay refuses to forward until one is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Relay: RelayConfig{
			Listen:        defaultRelayListen,
			HealthTimeout:     defaultHealthTimeout.String(),
			StreamIdleTimeout: defaultStreamIdleTimeout.String(),
			MaxUploadMB:       defaultMaxUploadMB,
		},
		Client: ClientConfig{
			RelayTarget: defaultClientRelayTarget,
		},
		EventStream: EventStreamConfig{
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
