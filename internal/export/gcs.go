package export

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
)

// GCSConfig holds configuration for the Cloud Storage sink.
type GCSConfig struct {
	Bucket string

	// Prefix is prepended to object names, e.g. "exp_raw/ICOS".
	Prefix string

	Logger zerolog.Logger
}

// GCSSink writes tables as CSV objects into a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewGCSSink creates a Cloud Storage sink. The caller owns client.
func NewGCSSink(client *storage.Client, cfg GCSConfig) *GCSSink {
	return &GCSSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: cfg.Logger,
	}
}

// ObjectName returns the object name used for name.
func (s *GCSSink) ObjectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Write uploads the table, replacing any existing object of the same name.
func (s *GCSSink) Write(ctx context.Context, name string, table *fluxnet.Table) (string, error) {
	object := s.ObjectName(name)
	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("object", object).
		Msg("uploading dataset")

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"

	if err := table.WriteCSV(w); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, object, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
