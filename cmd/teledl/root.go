package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/internal/common/logger"
	"github.com/rizkirmdhn/teledl/internal/common/messaging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "teledl",
		Short: "Download media from Telegraph pages",
		Long: `teledl downloads the images and videos of a Telegraph (telegra.ph) page.

Files are fetched concurrently and written atomically. Files that already exist
are skipped, so an interrupted run can simply be repeated. Images can be
recompressed to WebP on the way.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDownload,
	}

	persistent := rootCmd.PersistentFlags()
	persistent.String("config", "", "Config file (default ./config.json)")
	persistent.BoolP("explicit", "e", false, "Verbose progress logging")
	persistent.Bool("json", false, "JSON logs and a JSON report on stdout")
	persistent.String("source", config.SourceAPI, "Page source: api, html or auto")
	persistent.Bool("dedupe", false, "Drop repeated media sources")

	flags := rootCmd.Flags()
	flags.StringP("link", "l", "", "Telegraph page URL or slug (required)")
	flags.StringP("folder", "f", ".", "Destination folder")
	flags.StringP("mode", "m", "ordered", "File naming: ordered (index prefix) or fast (remote name)")
	flags.BoolP("compress", "c", false, "Recompress images to WebP")
	flags.IntP("workers", "w", 50, "Number of concurrent downloads")
	flags.Int("transcode-workers", 0, "Number of concurrent image encodes (default number of CPUs)")
	flags.String("encoder", config.EncoderNative, "WebP encoder: native or ffmpeg")
	flags.Int("quality", 80, "WebP quality (1-100)")
	flags.DurationP("timeout", "t", 0, "Connect and response header timeout (default 30s)")
	flags.Float64("rate-limit", 0, "Requests per second per host (0 = unlimited)")
	flags.Bool("by-title", false, "Download into a sub folder named after the page title")
	flags.BoolP("progress", "p", false, "Show a progress bar")
	flags.Bool("publish", false, "Publish events to RabbitMQ")

	rootCmd.MarkFlagRequired("link")

	rootCmd.AddCommand(newListCmd(), newVersionCmd())
	return rootCmd
}

// loadConfig loads the config with cmd's flags on top. --explicit decides
// the log level: info when set, errors only otherwise.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	explicit, _ := cmd.Flags().GetBool("explicit")
	if explicit {
		cfg.App.LogLevel = int(logrus.InfoLevel)
	} else {
		cfg.App.LogLevel = int(logrus.ErrorLevel)
	}

	log := logger.New(cfg)
	log.SetOutput(cmd.ErrOrStderr())
	return cfg, log, nil
}

func runDownload(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	link, _ := cmd.Flags().GetString("link")
	opts, err := app.OptionsFromConfig(cfg, link)
	if err != nil {
		return err
	}

	pipeline, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	var sinks []events.Sink
	if explicit, _ := cmd.Flags().GetBool("explicit"); explicit {
		sinks = append(sinks, events.LogSink{Log: log})
	}
	if cfg.Downloader.Progress {
		sinks = append(sinks, events.NewProgressSink(cmd.ErrOrStderr()))
	}
	if cfg.RabbitMq.Publish {
		client, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer client.Close()
		sinks = append(sinks, events.PublisherSink{Client: client, Exchange: cfg.RabbitMq.Exchange.Log, Log: log})
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.Run(ctx, uuid.New().String(), opts, events.Multi(sinks...))
	if err != nil {
		return err
	}

	if cfg.App.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}

	return report.Err()
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "teledl %s (commit: %s)\n", version, commit)
		},
	}
}
