// Package notify announces completed exports on Google Cloud Pub/Sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
)

// JobType tags every message published by fluxpull.
const JobType = "fluxnet_exported"

// PublisherConfig holds configuration for the Pub/Sub publisher.
type PublisherConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger

	// ClientOptions are passed to the Pub/Sub client, e.g. to target an emulator.
	ClientOptions []option.ClientOption
}

// ExportedMessage is the JSON payload announcing a written dataset.
type ExportedMessage struct {
	JobType    string    `json:"job_type"`
	RunID      string    `json:"run_id"`
	Station    string    `json:"station"`
	StationURI string    `json:"station_uri,omitempty"`
	DObj       string    `json:"dobj"`
	FileName   string    `json:"file_name,omitempty"`
	Location   string    `json:"location"`
	Rows       int       `json:"rows"`
	Columns    []string  `json:"columns"`
	ExportedAt time.Time `json:"exported_at"`
}

// NewExportedMessage builds the payload for a completed run.
func NewExportedMessage(result *fluxnet.Result) ExportedMessage {
	msg := ExportedMessage{
		JobType:    JobType,
		RunID:      result.RunID,
		DObj:       result.Product.DObj,
		FileName:   result.Product.FileName,
		Location:   result.Location,
		Rows:       result.Rows,
		Columns:    result.Columns,
		ExportedAt: result.FinishedAt.UTC(),
	}
	if result.Station != nil {
		msg.Station = result.Station.ID
		msg.StationURI = result.Station.URI
	}
	return msg
}

// Attributes returns the message attributes used for subscription filters.
func (m ExportedMessage) Attributes() map[string]string {
	return map[string]string{
		"job_type": m.JobType,
		"station":  m.Station,
	}
}

// Publisher publishes ExportedMessage documents to a topic.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewPublisher creates a new Pub/Sub publisher.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &Publisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}, nil
}

// NotifyExported publishes the run result and waits for the server ack.
func (p *Publisher) NotifyExported(ctx context.Context, result *fluxnet.Result) error {
	msg := NewExportedMessage(result)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	id, err := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: msg.Attributes(),
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	p.logger.Info().
		Str("topic", p.topic).
		Str("message_id", id).
		Str("run_id", msg.RunID).
		Msg("export notification published")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
