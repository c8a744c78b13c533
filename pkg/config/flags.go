package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --relay
// on "ragrelay chat", "ragrelay upload" and "ragrelay stats").
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "upstream.base_url").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen            = "listen"
	FlagUpstream          = "upstream"
	FlagHealthTimeout     = "health-timeout"
	FlagStreamIdleTimeout = "stream-idle-timeout"
	FlagMaxUploadMB       = "max-upload-mb"
	FlagRelayTarget       = "relay"
	FlagTopK              = "top-k"
	FlagKafkaBrokers      = "kafka-brokers"
	FlagKafkaTopic        = "kafka-topic"
)

// Flags is the registry shared by every ragrelay command.
var Flags = FlagSet{
	FlagListen:            {Name: "listen", Shorthand: "l", ViperKey: "relay.listen", Description: "Address for the relay to listen on"},
	FlagUpstream:          {Name: "upstream", Shorthand: "u", ViperKey: "upstream.base_url", Description: "Base URL of the RAG backend"},
	FlagHealthTimeout:     {Name: "health-timeout", ViperKey: "relay.health_timeout", Description: "Upper bound for upstream health probes"},
	FlagStreamIdleTimeout: {Name: "stream-idle-timeout", ViperKey: "relay.stream_idle_timeout", Description: "Abort a chat stream after the backend is silent this long"},
	FlagMaxUploadMB:       {Name: "max-upload-mb", ViperKey: "relay.max_upload_mb", Description: "Largest accepted request body, in MiB"},
	FlagRelayTarget:       {Name: "relay", Shorthand: "r", ViperKey: "client.relay_target", Description: "Relay URL used by client commands"},
	FlagTopK:              {Name: "top-k", Shorthand: "k", ViperKey: "client.top_k", Description: "Number of passages to retrieve (0 lets the backend decide)"},
	FlagKafkaBrokers:      {Name: "kafka-brokers", ViperKey: "eventstream.kafka_brokers", Description: "Comma separated Kafka brokers for relay events (empty disables)"},
	FlagKafkaTopic:        {Name: "kafka-topic", ViperKey: "eventstream.kafka_topic", Description: "Kafka topic for relay events"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
