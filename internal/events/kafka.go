package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "secondbrain.thoughts"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by user id so one user's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher connects lazily; the first Publish dials the brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cleaned := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cleaned...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: topic}, nil
}

func (p *KafkaPublisher) Topic() string { return p.topic }

func (p *KafkaPublisher) Publish(ctx context.Context, event *ExtractionEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
		Time: event.EmittedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", event.EventType, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
