// Package statscmder provides the stats command that prints the backend's
// retrieval statistics.
package statscmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ragrelay/pkg/cliui"
	"github.com/papercomputeco/ragrelay/pkg/config"
	"github.com/papercomputeco/ragrelay/pkg/logger"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/ragclient"
)

type statsCommander struct {
	relayTarget string
	jsonOutput  bool
	debug       bool
	out         io.Writer
}

const statsLongDesc string = `Show retrieval statistics from the RAG backend.

The statistics are whatever the backend reports (document and chunk counts,
index details) and are printed as key/value pairs, or as raw JSON with
--json.

Examples:
  ragrelay stats
  ragrelay stats --json`

const statsShortDesc string = "Show retrieval statistics"

func NewStatsCmd() *cobra.Command {
	cmder := &statsCommander{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagRelayTarget})
			cmder.relayTarget = v.GetString("client.relay_target")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)
	cmd.Flags().BoolVar(&cmder.jsonOutput, "json", false, "Print the raw JSON object")

	return cmd
}

func (c *statsCommander) run(ctx context.Context) error {
	client := ragclient.NewClient(c.relayTarget, ragclient.WithLogger(
		logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr)),
	))

	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}

	if c.jsonOutput {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	printStats(c.out, stats)
	return nil
}

// printStats lists an object's fields one per line. Any other JSON value is
// printed indented as the backend sent it.
func printStats(w io.Writer, raw rag.Stats) {
	var stats map[string]any
	if err := json.Unmarshal(raw, &stats); err != nil || stats == nil {
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "  ", "  "); err != nil {
			out.Reset()
			out.Write(raw)
		}
		fmt.Fprintf(w, "\n  %s\n\n", out.String())
		return
	}

	keys := make([]string, 0, len(stats))
	width := 0
	for k := range stats {
		keys = append(keys, k)
		width = max(width, len(k)+1)
	}
	slices.Sort(keys)

	fmt.Fprintln(w)
	if len(keys) == 0 {
		fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render("The backend reported no statistics."))
		return
	}

	for _, k := range keys {
		cliui.KeyValue(w, k+":", formatValue(stats[k]), width)
	}
	fmt.Fprintln(w)
}

// formatValue prints scalars as-is and nested values as compact JSON.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, bool:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
