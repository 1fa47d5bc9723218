// Package kafka publishes model run lifecycle events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/gfs-forecast-service/internal/config"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
)

const eventRunActivated = "run_activated"

// RunActivated is the payload published whenever a new model run becomes
// active.
type RunActivated struct {
	EventType string           `json:"event_type"`
	Run       modelrun.Summary `json:"run"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces run events to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	loc    *time.Location
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, loc: cfg.LocalTimezone, logger: logger.With("component", "kafka_writer")}
}

// PublishActivated announces that state is now serving requests.
func (w *Writer) PublishActivated(ctx context.Context, state *modelrun.State) error {
	msg, err := serializeToMessage(RunActivated{
		EventType: eventRunActivated,
		Run:       state.Summary(w.loc),
	})
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventRunActivated, err)
	}
	w.logger.Debug("run activated event published", "cycle", state.Run().ID())
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an event into a Kafka message keyed by cycle,
// so every event of one run lands on the same partition.
func serializeToMessage(event RunActivated) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", event.EventType, err)
	}
	return kafkago.Message{
		Key:   []byte(event.Run.Cycle),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "built_at", Value: []byte(event.Run.BuiltAt.Format(time.RFC3339))},
		},
	}, nil
}
