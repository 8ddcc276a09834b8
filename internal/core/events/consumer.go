package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// KafkaConsumer replays events forwarded by KafkaForwarder onto a local bus.
// Messages are committed after the bus handled them, even when a handler
// failed, so a poison message never blocks the partition.
type KafkaConsumer struct {
	reader MessageReader
	bus    *EventBus
	logger *slog.Logger
}

func NewKafkaConsumer(reader MessageReader, bus *EventBus, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, bus: bus, logger: logger}
}

// Run blocks until ctx is cancelled or the reader fails.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		event, err := DecodeMessage(msg)
		if err != nil {
			c.logger.Warn("dropping undecodable event", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			mctx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &msg.Headers})
			if err := c.bus.PublishSync(mctx, event); err != nil {
				c.logger.Error("consumed event handler failed", "event_type", event.EventType(), "event_id", event.EventID(), "error", err)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit kafka message: %w", err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// DecodeMessage rebuilds the typed event named by the event-type header.
func DecodeMessage(msg kafka.Message) (Event, error) {
	var eventType string
	for _, h := range msg.Headers {
		if h.Key == "event-type" {
			eventType = string(h.Value)
		}
	}

	var event Event
	switch eventType {
	case EventTypeOrderFulfilled:
		event = &OrderFulfilledEvent{}
	case EventTypeOrderFailed:
		event = &OrderFailedEvent{}
	case EventTypeVendorCredentialRefreshed:
		event = &VendorCredentialRefreshedEvent{}
	case "":
		return nil, errors.New("missing event-type header")
	default:
		event = &BaseEvent{}
	}

	if err := json.Unmarshal(msg.Value, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	if event.EventType() != eventType {
		return nil, fmt.Errorf("event type mismatch: header %q, body %q", eventType, event.EventType())
	}
	return event, nil
}
