package trainerd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// Event types published by the executor
const (
	EventProgress  = "progress"
	EventTrade     = "trade"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// Event is one message on the training event stream
type Event struct {
	Type           string             `json:"type"`
	RunID          string             `json:"run_id"`
	At             time.Time          `json:"at"`
	Iteration      int                `json:"iteration,omitempty"`
	Reward         *float64           `json:"reward,omitempty"`
	ElapsedSeconds float64            `json:"elapsed_seconds,omitempty"`
	Trade          *models.TradeEvent `json:"trade,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// EventSink receives training events
type EventSink interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopSink drops every event
type NopSink struct{}

func (NopSink) Publish(context.Context, ...Event) error { return nil }

func (NopSink) Close() error { return nil }

// KafkaSink writes events as JSON to a Kafka topic, keyed by run ID so that
// one run's events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaSink) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msg, err := encodeEvent(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func encodeEvent(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return kafka.Message{
		Key:   []byte(e.RunID),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}

// NewEventSink builds the sink for the events section; nil or no brokers means NopSink
func NewEventSink(cfg *config.Events) EventSink {
	if cfg == nil || len(cfg.KafkaBrokers) == 0 {
		return NopSink{}
	}
	return NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
}
