package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/kafka"
)

var _ kafka.SessionEvents = (*SessionEventsKafka)(nil)

// SessionEventsKafka publishes security events as JSON keyed by user id, so
// all events of one user stay ordered.
type SessionEventsKafka struct {
	p *Producer
}

func NewSessionEventsKafka(p *Producer) *SessionEventsKafka { return &SessionEventsKafka{p: p} }

func (e *SessionEventsKafka) PublishEvent(ctx context.Context, ev auth.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	return e.p.Publish(ctx, KeyFromInt64(ev.UserID), value)
}
