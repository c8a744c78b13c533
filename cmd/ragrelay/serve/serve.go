// Package servecmder provides the serve command that runs the relay.
package servecmder

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/ragrelay/pkg/config"
	"github.com/papercomputeco/ragrelay/pkg/eventstream"
	"github.com/papercomputeco/ragrelay/pkg/eventstream/kafka"
	"github.com/papercomputeco/ragrelay/pkg/eventstream/nop"
	"github.com/papercomputeco/ragrelay/pkg/logger"
	"github.com/papercomputeco/ragrelay/relay"
)

type serveCommander struct {
	listen        string
	upstream      string
	healthTimeout string
	idleTimeout   string
	maxUploadMB   uint
	kafkaBrokers  string
	kafkaTopic    string
	logFile       string
	debug         bool

	viper  *viper.Viper
	logger *slog.Logger
}

var serveFlags = []string{
	config.FlagListen,
	config.FlagUpstream,
	config.FlagHealthTimeout,
	config.FlagStreamIdleTimeout,
	config.FlagMaxUploadMB,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run the relay server.

The relay forwards requests to the RAG backend at the configured upstream
base URL and injects the backend API key. The key is read from the
RAGRELAY_UPSTREAM_API_KEY environment variable (or RENDER_API_KEY) and is
never stored in config.toml.

Routes:
  POST /api/chat      Streamed chat answer (server-sent events)
  GET  /api/stats     Retrieval statistics
  POST /api/upload    Multipart document upload (field "file")
  GET  /api/health    Upstream health probe
  GET  /api/ping      Relay liveness

Changes to upstream.base_url in config.toml are picked up without a restart.

Examples:
  RAGRELAY_UPSTREAM_API_KEY=... ragrelay serve --upstream https://rag.example.com
  ragrelay serve --listen :8080 --log-file relay.log
  ragrelay serve --kafka-brokers localhost:9092`

const serveShortDesc string = "Run the relay server"

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)
			cmder.viper = v
			cmder.resolve()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagHealthTimeout, &cmder.healthTimeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamIdleTimeout, &cmder.idleTimeout)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxUploadMB, &cmder.maxUploadMB)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.kafkaTopic)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

// resolve reads the flag > env > file > default values out of viper.
func (c *serveCommander) resolve() {
	c.listen = c.viper.GetString("relay.listen")
	c.upstream = c.viper.GetString("upstream.base_url")
	c.healthTimeout = c.viper.GetString("relay.health_timeout")
	c.idleTimeout = c.viper.GetString("relay.stream_idle_timeout")
	c.maxUploadMB = c.viper.GetUint("relay.max_upload_mb")
	c.kafkaBrokers = c.viper.GetString("eventstream.kafka_brokers")
	c.kafkaTopic = c.viper.GetString("eventstream.kafka_topic")
}

// upstreamSettings returns the upstream the relay should use right now.
func (c *serveCommander) upstreamSettings() relay.Upstream {
	return relay.Upstream{
		BaseURL: c.viper.GetString("upstream.base_url"),
		APIKey:  c.viper.GetString(config.KeyUpstreamAPIKey),
	}
}

func (c *serveCommander) run() error {
	closeLog, err := c.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	healthTimeout, err := time.ParseDuration(c.healthTimeout)
	if err != nil {
		return fmt.Errorf("invalid health timeout %q: %w", c.healthTimeout, err)
	}
	idleTimeout, err := time.ParseDuration(c.idleTimeout)
	if err != nil {
		return fmt.Errorf("invalid stream idle timeout %q: %w", c.idleTimeout, err)
	}

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}

	upstream := c.upstreamSettings()
	if !upstream.Configured() {
		c.logger.Warn("upstream not configured, relay routes will answer 500",
			"has_base_url", upstream.BaseURL != "",
			"has_api_key", upstream.APIKey != "",
		)
	}

	r, err := relay.New(relay.Config{
		ListenAddr:        c.listen,
		Upstream:          upstream,
		HealthTimeout:     healthTimeout,
		StreamIdleTimeout: idleTimeout,
		MaxBodyBytes:      int(c.maxUploadMB) << 20,
		Publisher:         publisher,
	}, c.logger)
	if err != nil {
		_ = publisher.Close()
		return fmt.Errorf("creating relay: %w", err)
	}
	defer r.Close()

	c.watchConfig(r)

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)

	go func() {
		if err := r.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}

// setupLogger builds a pretty stdout logger and, with --log-file, fans out
// JSON records to the file as well.
func (c *serveCommander) setupLogger() (func(), error) {
	stdout := logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
	)

	if c.logFile == "" {
		c.logger = stdout
		return func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(
		logger.WithDebug(c.debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	)
	c.logger = logger.Multi(stdout, file)

	return func() { _ = f.Close() }, nil
}

func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	brokers := kafka.ParseBrokers(c.kafkaBrokers)
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	p, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   c.kafkaTopic,
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	c.logger.Info("publishing relay events to kafka",
		"brokers", brokers,
		"topic", c.kafkaTopic,
	)
	return p, nil
}

// watchConfig swaps the relay's upstream when config.toml changes.
func (c *serveCommander) watchConfig(r *relay.Relay) {
	if c.viper.ConfigFileUsed() == "" {
		c.logger.Debug("no config file in use, not watching for changes")
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c.applyUpstream(r, e.Name)
	})
	c.viper.WatchConfig()
}

func (c *serveCommander) applyUpstream(r *relay.Relay, source string) {
	if err := r.SetUpstream(c.upstreamSettings()); err != nil {
		c.logger.Error("ignoring config change", "file", source, "error", err)
	}
}
