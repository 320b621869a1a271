package memory

import (
	"context"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"go.uber.org/zap"
)

var _ auth.EventRecorder = (*EventRecorder)(nil)

// EventRecorder keeps events next to the data so a rolled back transaction
// drops them too. There is no publisher behind it.
type EventRecorder struct {
	db  *DB
	log *zap.Logger
}

func NewEventRecorder(db *DB, log *zap.Logger) *EventRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventRecorder{db: db, log: log}
}

func (r *EventRecorder) Record(ctx context.Context, e auth.Event) error {
	err := r.db.write(ctx, func(st *state) error {
		st.events = append(st.events, e)
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Debug("security event recorded",
		zap.String("kind", string(e.Kind)),
		zap.Int64("user_id", e.UserID),
		zap.String("session", e.Session),
		zap.Int64("revoked", e.Revoked),
	)
	return nil
}
