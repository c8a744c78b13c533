// Package healthcmder provides the health command that checks the relay and
// the RAG backend behind it.
package healthcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ragrelay/pkg/cliui"
	"github.com/papercomputeco/ragrelay/pkg/config"
	"github.com/papercomputeco/ragrelay/pkg/logger"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/ragclient"
)

type healthCommander struct {
	relayTarget   string
	healthTimeout string
	debug         bool
	out           io.Writer
}

const healthLongDesc string = `Check the relay and the RAG backend.

First pings the relay itself, then asks it to probe the backend's health
endpoint. A backend that does not answer in time is reported as a timeout
(it may be waking up); one that cannot be reached at all is reported as a
network error.

Examples:
  ragrelay health
  ragrelay health --relay http://localhost:8080`

const healthShortDesc string = "Check the relay and the RAG backend"

func NewHealthCmd() *cobra.Command {
	cmder := &healthCommander{}

	cmd := &cobra.Command{
		Use:   "health",
		Short: healthShortDesc,
		Long:  healthLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, []string{
				config.FlagRelayTarget,
				config.FlagHealthTimeout,
			})
			cmder.relayTarget = v.GetString("client.relay_target")
			cmder.healthTimeout = v.GetString("relay.health_timeout")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagHealthTimeout, &cmder.healthTimeout)

	return cmd
}

func (c *healthCommander) run(ctx context.Context) error {
	timeout, err := time.ParseDuration(c.healthTimeout)
	if err != nil {
		return fmt.Errorf("invalid health timeout %q: %w", c.healthTimeout, err)
	}

	// The relay's own probe is bounded by the same timeout, so leave it room
	// to answer with a report.
	client := ragclient.NewClient(c.relayTarget,
		ragclient.WithHealthTimeout(timeout+5*time.Second),
		ragclient.WithLogger(logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr))),
	)

	fmt.Fprintln(c.out)
	err = cliui.Step(c.out, "Relay "+c.relayTarget, func() error {
		_, pingErr := client.Ping(ctx)
		return pingErr
	})
	if err != nil {
		fmt.Fprintln(c.out)
		return fmt.Errorf("relay not reachable: %w", err)
	}

	var report *rag.HealthReport
	err = cliui.Step(c.out, "Backend", func() error {
		var healthErr error
		report, healthErr = client.Health(ctx)
		return healthErr
	})

	fmt.Fprintln(c.out)
	if report != nil {
		printReport(c.out, report)
	}

	switch {
	case errors.Is(err, ragclient.ErrTimeout):
		return fmt.Errorf("backend timed out: %w", err)
	case errors.Is(err, ragclient.ErrUnreachable):
		return fmt.Errorf("backend unreachable: %w", err)
	case err != nil:
		return err
	case !report.UpstreamOK:
		return fmt.Errorf("backend answered with status %d", report.UpstreamStatus)
	}
	return nil
}

func printReport(w io.Writer, report *rag.HealthReport) {
	status := ""
	if report.UpstreamStatus != 0 {
		status = strconv.Itoa(report.UpstreamStatus)
	}

	cliui.KeyValue(w, "Status:", status, 9)
	cliui.KeyValue(w, "Elapsed:", cliui.FormatDuration(time.Duration(report.TimeMs)*time.Millisecond), 9)
	if report.BodySnippet != "" {
		cliui.KeyValue(w, "Body:", report.BodySnippet, 9)
	}
	if report.Error != "" {
		cliui.KeyValue(w, "Error:", report.Error, 9)
	}
	if report.Hint != "" {
		cliui.KeyValue(w, "Hint:", report.Hint, 9)
	}
	fmt.Fprintln(w)
}
