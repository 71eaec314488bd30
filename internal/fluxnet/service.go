package fluxnet

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fluxpull/fluxpull/internal/fluxnet"

// Provider is the remote data repository.
type Provider interface {
	// Authenticate establishes a session with the bearer token.
	Authenticate(ctx context.Context, token string) error

	// GetStation looks up a station by its code.
	GetStation(ctx context.Context, code string) (*Station, error)

	// StationProducts lists the data products published by the station.
	StationProducts(ctx context.Context, station *Station) (ProductListing, error)

	// FetchObject downloads the tabular data object identified by uri.
	FetchObject(ctx context.Context, uri string) (*Table, error)
}

// Sink persists a table under a name and returns where it was written.
type Sink interface {
	Write(ctx context.Context, name string, table *Table) (string, error)
}

// Notifier announces a completed export.
type Notifier interface {
	NotifyExported(ctx context.Context, result *Result) error
}

// ServiceConfig holds configuration for the fetch service.
type ServiceConfig struct {
	Provider Provider
	Sink     Sink

	// Notifier is optional.
	Notifier Notifier

	// Console receives the human readable status lines (default: stdout).
	Console io.Writer

	Logger zerolog.Logger

	// Tracer and Meter default to the global OpenTelemetry providers.
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Request selects what to fetch. Empty fields take the package defaults.
type Request struct {
	StationCode  string
	ProductLabel string
	Token        string
	FileName     string
}

// Result describes a completed run.
type Result struct {
	RunID      string
	Station    *Station
	Product    Product
	Rows       int
	Columns    []string
	Location   string
	FinishedAt time.Time
}

// Service runs the authenticate, lookup, select, fetch, transform and persist pipeline.
type Service struct {
	provider Provider
	sink     Sink
	notifier Notifier
	console  io.Writer
	logger   zerolog.Logger
	tracer   trace.Tracer

	rowsWritten  metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// NewService creates a new fetch service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: provider", ErrMissingParameter)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: sink", ErrMissingParameter)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	rowsWritten, err := meter.Int64Counter("fluxpull.rows_written",
		metric.WithDescription("Data rows written to the sink"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rows counter: %w", err)
	}
	stepDuration, err := meter.Float64Histogram("fluxpull.step.duration",
		metric.WithDescription("Duration of each pipeline step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create step histogram: %w", err)
	}

	return &Service{
		provider:     cfg.Provider,
		sink:         cfg.Sink,
		notifier:     cfg.Notifier,
		console:      console,
		logger:       cfg.Logger,
		tracer:       tracer,
		rowsWritten:  rowsWritten,
		stepDuration: stepDuration,
	}, nil
}

// FetchAndSave runs the whole pipeline once. It stops at the first failing step.
func (s *Service) FetchAndSave(ctx context.Context, req Request) (*Result, error) {
	req = withDefaults(req)
	if req.Token == "" {
		return nil, fmt.Errorf("%w: token", ErrMissingParameter)
	}

	result := &Result{RunID: uuid.NewString()}
	logger := s.logger.With().
		Str("run_id", result.RunID).
		Str("station", req.StationCode).
		Logger()

	ctx, span := s.tracer.Start(ctx, "fluxnet.FetchAndSave", trace.WithAttributes(
		attribute.String("fluxnet.station", req.StationCode),
		attribute.String("fluxnet.product_label", req.ProductLabel),
	))
	defer span.End()

	err := s.step(ctx, "authenticate", func(ctx context.Context) error {
		return s.provider.Authenticate(ctx, req.Token)
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("authenticate: %w", err))
	}
	logger.Debug().Msg("authenticated")

	err = s.step(ctx, "get_station", func(ctx context.Context) error {
		station, err := s.provider.GetStation(ctx, req.StationCode)
		if err == nil && station == nil {
			err = ErrStationNotFound
		}
		result.Station = station
		return err
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("get station %s: %w", req.StationCode, err))
	}
	fmt.Fprintf(s.console, "\n%s\n\n", result.Station.Info())

	err = s.step(ctx, "select_product", func(ctx context.Context) error {
		listing, err := s.provider.StationProducts(ctx, result.Station)
		if err != nil {
			return err
		}
		if matches := listing.Filter(req.ProductLabel); len(matches) > 1 {
			logger.Warn().
				Int("matches", len(matches)).
				Str("label", req.ProductLabel).
				Msg("several products share the label, using the first")
		}
		result.Product, err = listing.Select(req.ProductLabel)
		return err
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("select product: %w", err))
	}
	fmt.Fprintf(s.console, "\n%s\n\n", result.Product.DObj)
	span.SetAttributes(attribute.String("fluxnet.dobj", result.Product.DObj))

	var table *Table
	err = s.step(ctx, "fetch_object", func(ctx context.Context) error {
		var err error
		table, err = s.provider.FetchObject(ctx, result.Product.DObj)
		if err == nil && table == nil {
			err = ErrEmptyTable
		}
		return err
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("fetch object %s: %w", result.Product.DObj, err))
	}
	logger.Info().
		Str("dobj", result.Product.DObj).
		Int("rows", table.Len()).
		Int("columns", len(table.Columns)).
		Msg("data object fetched")

	err = s.step(ctx, "transform", func(context.Context) error {
		return Transform(table)
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("transform: %w", err))
	}

	err = s.step(ctx, "persist", func(ctx context.Context) error {
		location, err := s.sink.Write(ctx, req.FileName, table)
		result.Location = location
		return err
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("persist: %w", err))
	}

	result.Rows = table.Len()
	result.Columns = table.Columns
	result.FinishedAt = time.Now()
	s.rowsWritten.Add(ctx, int64(result.Rows), metric.WithAttributes(
		attribute.String("fluxnet.station", req.StationCode),
	))

	logger.Info().
		Str("location", result.Location).
		Int("rows", result.Rows).
		Msg("dataset written")

	if s.notifier != nil {
		err = s.step(ctx, "notify", func(ctx context.Context) error {
			return s.notifier.NotifyExported(ctx, result)
		})
		if err != nil {
			return nil, s.fail(span, fmt.Errorf("notify: %w", err))
		}
	}

	return result, nil
}

// Transform renames the FLUXNET timestamp column to time and makes it the index.
func Transform(t *Table) error {
	if err := t.RenameColumn(TimestampColumn, TimeIndex); err != nil {
		return err
	}
	return t.SetIndex(TimeIndex)
}

func (s *Service) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "fluxnet."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.stepDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("step", name),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func (s *Service) fail(span trace.Span, err error) error {
	span.SetStatus(codes.Error, err.Error())
	return err
}

func withDefaults(req Request) Request {
	if req.StationCode == "" {
		req.StationCode = DefaultStationCode
	}
	if req.ProductLabel == "" {
		req.ProductLabel = DefaultProductLabel
	}
	if req.FileName == "" {
		req.FileName = OutputFileName(req.StationCode)
	}
	return req
}
