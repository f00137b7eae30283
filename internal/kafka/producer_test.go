package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishJSON(t *testing.T) {
	writer := &recordingWriter{}
	p := &Producer{Writer: writer, Topic: "ticketly.checkin.audit"}

	err := p.PublishJSON(context.Background(), "E1", map[string]string{"event_type": "TICKET_ADMITTED"})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, []byte("E1"), msg.Key)

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "TICKET_ADMITTED", body["event_type"])

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestPublishJSON_PropagatesWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{Writer: &recordingWriter{err: boom}, Topic: "t"}

	err := p.PublishJSON(context.Background(), "k", struct{}{})
	assert.ErrorIs(t, err, boom)
}

func TestPublishJSON_RejectsUnencodableValue(t *testing.T) {
	writer := &recordingWriter{}
	p := &Producer{Writer: writer, Topic: "t"}

	err := p.PublishJSON(context.Background(), "k", make(chan int))
	assert.Error(t, err)
	assert.Empty(t, writer.messages)
}

func TestNewProducerConfiguresAsyncWriter(t *testing.T) {
	var reported error
	p := NewProducer([]string{"localhost:9092"}, "ticketly.checkin.audit", func(err error) { reported = err })

	writer, ok := p.Writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, writer.Async)
	assert.Equal(t, "ticketly.checkin.audit", writer.Topic)

	writer.Completion(nil, errors.New("timeout"))
	assert.ErrorContains(t, reported, "ticketly.checkin.audit")
}
