// Package config loads fluxpull configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
	"github.com/fluxpull/fluxpull/internal/fluxnet/icos"
)

// FileEnv names the variable holding the optional YAML config path.
const FileEnv = "CONFIG_FILE"

// ErrMissingToken is returned by Validate when no ICOS token is configured.
var ErrMissingToken = errors.New("ICOS_TOKEN is not set")

// Config is the complete fluxpull configuration.
type Config struct {
	Env        string        `yaml:"env"`
	RunTimeout time.Duration `yaml:"run_timeout"`

	ICOS      ICOSConfig      `yaml:"icos"`
	Output    OutputConfig    `yaml:"output"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ICOSConfig selects the station, product and portal endpoints.
type ICOSConfig struct {
	Token        string        `yaml:"token"`
	Station      string        `yaml:"station"`
	ProductLabel string        `yaml:"product_label"`
	AuthURL      string        `yaml:"auth_url"`
	MetaURL      string        `yaml:"meta_url"`
	DataURL      string        `yaml:"data_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// OutputConfig selects where the CSV goes. A non-empty GCSBucket replaces the
// local directory.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	File      string `yaml:"file"`
	GCSBucket string `yaml:"gcs_bucket"`
	GCSPrefix string `yaml:"gcs_prefix"`
}

// PubSubConfig enables the export notification when Topic is set.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
}

// LogConfig controls the zerolog root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Env:        "development",
		RunTimeout: 5 * time.Minute,
		ICOS: ICOSConfig{
			Station:      fluxnet.DefaultStationCode,
			ProductLabel: fluxnet.DefaultProductLabel,
			AuthURL:      icos.DefaultAuthURL,
			MetaURL:      icos.DefaultMetaURL,
			DataURL:      icos.DefaultDataURL,
			Timeout:      60 * time.Second,
		},
		Output: OutputConfig{
			Dir: "../../data/exp_raw/ICOS",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"APP_ENV":                     &cfg.Env,
		"ICOS_TOKEN":                  &cfg.ICOS.Token,
		"ICOS_STATION":                &cfg.ICOS.Station,
		"ICOS_PRODUCT_LABEL":          &cfg.ICOS.ProductLabel,
		"ICOS_AUTH_URL":               &cfg.ICOS.AuthURL,
		"ICOS_META_URL":               &cfg.ICOS.MetaURL,
		"ICOS_DATA_URL":               &cfg.ICOS.DataURL,
		"OUTPUT_DIR":                  &cfg.Output.Dir,
		"OUTPUT_FILE":                 &cfg.Output.File,
		"OUTPUT_GCS_BUCKET":           &cfg.Output.GCSBucket,
		"OUTPUT_GCS_PREFIX":           &cfg.Output.GCSPrefix,
		"GCP_PROJECT_ID":              &cfg.PubSub.ProjectID,
		"PUBSUB_TOPIC":                &cfg.PubSub.Topic,
		"LOG_LEVEL":                   &cfg.Log.Level,
		"LOG_FORMAT":                  &cfg.Log.Format,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &cfg.Telemetry.OTLPEndpoint,
	}
	for key, field := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*field = v
		}
	}

	durations := map[string]*time.Duration{
		"RUN_TIMEOUT":  &cfg.RunTimeout,
		"ICOS_TIMEOUT": &cfg.ICOS.Timeout,
	}
	for key, field := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: parse %s: %w", key, err)
			}
			*field = d
		}
	}

	if v, ok := os.LookupEnv("OTEL_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: parse OTEL_ENABLED: %w", err)
		}
		cfg.Telemetry.Enabled = enabled
	}
	return nil
}

// Validate reports configuration that cannot produce a run.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ICOS.Token) == "" {
		return ErrMissingToken
	}
	if c.ICOS.Station == "" {
		return errors.New("ICOS_STATION is empty")
	}
	if c.ICOS.ProductLabel == "" {
		return errors.New("ICOS_PRODUCT_LABEL is empty")
	}
	if c.Output.GCSBucket == "" && c.Output.Dir == "" {
		return errors.New("either OUTPUT_DIR or OUTPUT_GCS_BUCKET must be set")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return errors.New("PUBSUB_TOPIC requires GCP_PROJECT_ID")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// FileName returns the configured output file name or the station default.
func (c Config) FileName() string {
	if c.Output.File != "" {
		return c.Output.File
	}
	return fluxnet.OutputFileName(c.ICOS.Station)
}
