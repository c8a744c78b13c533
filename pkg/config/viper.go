package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/ragrelay/pkg/dotdir"
)

// Viper keys that never appear in config.toml.
const (
	// KeyUpstreamAPIKey holds the secret sent to the RAG backend as x-api-key.
	KeyUpstreamAPIKey = "upstream.api_key"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the RAGRELAY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (RAGRELAY_RELAY_LISTEN, RAGRELAY_UPSTREAM_BASE_URL, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
//
// The upstream base URL also honors NEXT_PUBLIC_API_BASE and the API key is
// read from RAGRELAY_UPSTREAM_API_KEY or RENDER_API_KEY, in that order.
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	v.AddConfigPath(target)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("RAGRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("upstream.base_url", "RAGRELAY_UPSTREAM_BASE_URL", "NEXT_PUBLIC_API_BASE"); err != nil {
		return nil, fmt.Errorf("binding upstream.base_url env: %w", err)
	}
	if err := v.BindEnv(KeyUpstreamAPIKey, "RAGRELAY_UPSTREAM_API_KEY", "RENDER_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding %s env: %w", KeyUpstreamAPIKey, err)
	}

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("relay.listen", d.Relay.Listen)
	v.SetDefault("relay.health_timeout", d.Relay.HealthTimeout)
	v.SetDefault("relay.stream_idle_timeout", d.Relay.StreamIdleTimeout)
	v.SetDefault("relay.max_upload_mb", d.Relay.MaxUploadMB)

	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)

	v.SetDefault("client.relay_target", d.Client.RelayTarget)
	v.SetDefault("client.top_k", d.Client.TopK)

	v.SetDefault("eventstream.kafka_brokers", d.EventStream.KafkaBrokers)
	v.SetDefault("eventstream.kafka_topic", d.EventStream.KafkaTopic)
}
