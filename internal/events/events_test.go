package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher()
	require.ErrorIs(t, p.Publish(context.Background(), nil), ErrNilEvent)
	require.NoError(t, p.Publish(context.Background(), NewExtractionEvent(EventTypeThoughtsExtracted, "u1", nil)))
	require.NoError(t, p.Close())
}

func TestNewExtractionEvent(t *testing.T) {
	ev := NewExtractionEvent(EventTypeThoughtsExtracted, "u1", nil)
	assert.Equal(t, SchemaVersionV1, ev.SchemaVersion)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, []string{}, ev.ThoughtIDs)
	assert.False(t, ev.EmittedAt.IsZero())
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: DefaultTopic}

	ev := NewExtractionEvent(EventTypeThoughtsExtracted, "u42", []string{"t1", "t2"})
	ev.ConversationID = "c1"
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "u42", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, EventTypeThoughtsExtracted, string(msg.Headers[0].Value))

	var decoded ExtractionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, []string{"t1", "t2"}, decoded.ThoughtIDs)
	assert.Equal(t, "c1", decoded.ConversationID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}, topic: DefaultTopic}
	err := p.Publish(context.Background(), NewExtractionEvent(EventTypeThoughtsExtracted, "u1", nil))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, p.Publish(context.Background(), nil), ErrNilEvent)
}

func TestNewKafkaPublisherValidatesBrokers(t *testing.T) {
	_, err := NewKafkaPublisher([]string{" ", ""}, "")
	require.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, p.Topic())
}
