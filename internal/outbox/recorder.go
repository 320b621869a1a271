package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/outbox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var _ auth.EventRecorder = (*Recorder)(nil)

// Recorder turns security events into outbox rows. Called inside a
// transaction, the row commits or rolls back together with the revocation.
type Recorder struct {
	repo  outbox.Repository
	newID func() string
}

func NewRecorder(repo outbox.Repository) *Recorder {
	return &Recorder{repo: repo, newID: func() string { return uuid.NewString() }}
}

func (r *Recorder) Record(ctx context.Context, e auth.Event) error {
	kind, err := kindOf(e.Kind)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return r.repo.Enqueue(ctx, outbox.Message{
		IdempotencyKey: r.newID(),
		Kind:           kind,
		Data:           data,
		Status:         outbox.StatusCreated,
		Traceparent:    carrier.Get("traceparent"),
		Tracestate:     carrier.Get("tracestate"),
		Baggage:        carrier.Get("baggage"),
	})
}

func kindOf(k auth.EventKind) (outbox.Kind, error) {
	switch k {
	case auth.EventSessionRevoked:
		return outbox.KindSessionRevoked, nil
	case auth.EventUserRevoked:
		return outbox.KindUserRevoked, nil
	case auth.EventTokenReuse:
		return outbox.KindTokenReuse, nil
	default:
		return 0, fmt.Errorf("unsupported event kind: %q", k)
	}
}
