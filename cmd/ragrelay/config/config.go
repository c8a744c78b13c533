// Package configcmder provides the config command for managing persistent
// ragrelay configuration stored in the .ragrelay/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent ragrelay configuration.

Configuration is stored as config.toml in the .ragrelay/ directory and
provides default values for command flags. CLI flags and RAGRELAY_*
environment variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  relay.listen, relay.health_timeout, relay.stream_idle_timeout,
  relay.max_upload_mb,
  upstream.base_url,
  client.relay_target, client.top_k,
  eventstream.kafka_brokers, eventstream.kafka_topic

The upstream API key is not a config key. Set it in the environment with
RAGRELAY_UPSTREAM_API_KEY (or RENDER_API_KEY) when running "ragrelay serve".

Use subcommands to get, set, or list configuration values:
  ragrelay config set <key> <value>    Set a configuration value
  ragrelay config get <key>            Get a configuration value
  ragrelay config list                 List all configuration values

Examples:
  ragrelay config set upstream.base_url https://rag.example.com
  ragrelay config set relay.health_timeout 30s
  ragrelay config get client.relay_target
  ragrelay config list`

const configShortDesc string = "Manage persistent ragrelay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
