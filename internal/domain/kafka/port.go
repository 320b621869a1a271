package kafka

import (
	"context"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
)

type SessionEvents interface {
	PublishEvent(ctx context.Context, e auth.Event) error
}
