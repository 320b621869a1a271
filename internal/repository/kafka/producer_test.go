package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func newTestProducer(w writer) *Producer {
	return &Producer{w: w, topic: "session-events", log: zap.NewNop()}
}

func TestSessionEvents_PublishEvent(t *testing.T) {
	w := &fakeWriter{}
	pub := NewSessionEventsKafka(newTestProducer(w))

	ev := auth.Event{
		Kind:    auth.EventTokenReuse,
		UserID:  42,
		Session: "5c1e0cfa-7a0e-4a59-9a39-4b0c0d4f8f11",
		TokenID: 7,
		Revoked: 2,
		At:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, pub.PublishEvent(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	assert.Equal(t, "42", string(w.msgs[0].Key))

	var got auth.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev, got)
}

func TestProducer_PublishError(t *testing.T) {
	boom := errors.New("broker down")
	p := newTestProducer(&fakeWriter{err: boom})

	err := p.Publish(context.Background(), []byte("k"), []byte("v"))
	require.ErrorIs(t, err, boom)
}
