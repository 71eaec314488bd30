// Package main provides the entrypoint for fluxpull, which downloads the
// FLUXNET product of one ICOS station and stores it as CSV.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/fluxpull/fluxpull/internal/config"
	"github.com/fluxpull/fluxpull/internal/export"
	"github.com/fluxpull/fluxpull/internal/fluxnet"
	"github.com/fluxpull/fluxpull/internal/fluxnet/icos"
	"github.com/fluxpull/fluxpull/internal/notify"
	"github.com/fluxpull/fluxpull/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "fluxpull"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxpull: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log, os.Stderr)

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("fluxpull failed")
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}

func run(cfg config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("station", cfg.ICOS.Station).
		Str("product_label", cfg.ICOS.ProductLabel).
		Msg("starting fluxpull")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	provider := icos.NewClient(icos.ClientConfig{
		AuthURL:   cfg.ICOS.AuthURL,
		MetaURL:   cfg.ICOS.MetaURL,
		DataURL:   cfg.ICOS.DataURL,
		Timeout:   cfg.ICOS.Timeout,
		UserAgent: serviceName + "/" + Version,
		Logger:    log,
	})

	sink, closeSink, err := newSink(ctx, cfg.Output, log)
	if err != nil {
		return err
	}
	defer closeSink()

	var notifier fluxnet.Notifier
	if cfg.PubSub.Topic != "" {
		publisher, err := notify.NewPublisher(ctx, notify.PublisherConfig{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.Topic,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close pubsub publisher")
			}
		}()
		notifier = publisher
	}

	svc, err := fluxnet.NewService(fluxnet.ServiceConfig{
		Provider: provider,
		Sink:     sink,
		Notifier: notifier,
		Console:  os.Stdout,
		Logger:   log,
		Tracer:   tp.Tracer,
		Meter:    tp.Meter,
	})
	if err != nil {
		return err
	}

	result, err := svc.FetchAndSave(ctx, fluxnet.Request{
		StationCode:  cfg.ICOS.Station,
		ProductLabel: cfg.ICOS.ProductLabel,
		Token:        cfg.ICOS.Token,
		FileName:     cfg.FileName(),
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", result.RunID).
		Str("location", result.Location).
		Int("rows", result.Rows).
		Msg("fluxpull finished")
	return nil
}

func newSink(ctx context.Context, cfg config.OutputConfig, log zerolog.Logger) (fluxnet.Sink, func(), error) {
	if cfg.GCSBucket == "" {
		return export.NewLocalSink(export.LocalConfig{Dir: cfg.Dir, Logger: log}), func() {}, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init cloud storage: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close cloud storage client")
		}
	}

	return export.NewGCSSink(client, export.GCSConfig{
		Bucket: cfg.GCSBucket,
		Prefix: cfg.GCSPrefix,
		Logger: log,
	}), closeFn, nil
}
