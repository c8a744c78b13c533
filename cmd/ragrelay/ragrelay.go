// Package ragrelaycmder is the root ragrelay command.
package ragrelaycmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/chat"
	configcmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/config"
	healthcmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/health"
	servecmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/serve"
	statscmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/stats"
	uploadcmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/upload"
	versioncmder "github.com/papercomputeco/ragrelay/cmd/version"
)

const ragrelayLongDesc string = `ragrelay is a same-origin relay for a remote RAG backend.

The relay holds the backend's API key and forwards chat, stats, upload and
health requests to it. Chat answers stream back unmodified as server-sent
events.

Run the relay:
  ragrelay serve            Run the relay server

Talk to a running relay:
  ragrelay chat             Interactive chat with citations
  ragrelay upload <file>    Upload a document for ingestion
  ragrelay stats            Show retrieval statistics
  ragrelay health           Probe the relay and the backend`

const ragrelayShortDesc string = "ragrelay - RAG backend relay"

func NewRagrelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ragrelay",
		Short:        ragrelayShortDesc,
		Long:         ragrelayLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .ragrelay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(uploadcmder.NewUploadCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(healthcmder.NewHealthCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
