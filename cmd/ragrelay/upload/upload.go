// Package uploadcmder provides the upload command that sends a document to
// the RAG backend through the relay.
package uploadcmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ragrelay/pkg/cliui"
	"github.com/papercomputeco/ragrelay/pkg/config"
	"github.com/papercomputeco/ragrelay/pkg/logger"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/ragclient"
)

type uploadCommander struct {
	relayTarget string
	debug       bool
	out         io.Writer
}

const uploadLongDesc string = `Upload a document for ingestion.

The file is sent to the relay as multipart form data and forwarded to the
backend unchanged. The backend's answer (file name, size, type and
ingestion status) is printed when it accepts the document.

Examples:
  ragrelay upload handbook.pdf
  ragrelay upload notes.md --relay http://localhost:8080`

const uploadShortDesc string = "Upload a document to the RAG backend"

func NewUploadCmd() *cobra.Command {
	cmder := &uploadCommander{}

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: uploadShortDesc,
		Long:  uploadLongDesc,
		Args:  cobra.ExactArgs(1),
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
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context(), args[0])
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)

	return cmd
}

func (c *uploadCommander) run(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	client := ragclient.NewClient(c.relayTarget, ragclient.WithLogger(
		logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr)),
	))

	var resp *rag.UploadResponse
	fmt.Fprintln(c.out)
	err = cliui.Step(c.out, "Uploading "+filepath.Base(path), func() error {
		var uploadErr error
		resp, uploadErr = client.Upload(ctx, path, f)
		return uploadErr
	})
	if err != nil {
		return err
	}

	mimeType := ""
	if resp.MimeType != nil {
		mimeType = *resp.MimeType
	}

	fmt.Fprintln(c.out)
	cliui.KeyValue(c.out, "File:", resp.Filename, 8)
	cliui.KeyValue(c.out, "Size:", strconv.FormatInt(resp.SizeBytes, 10)+" bytes", 8)
	cliui.KeyValue(c.out, "Type:", mimeType, 8)
	cliui.KeyValue(c.out, "Status:", resp.Status, 8)
	fmt.Fprintln(c.out)

	return nil
}
