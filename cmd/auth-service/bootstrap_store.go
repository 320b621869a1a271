package main

import (
	"context"
	"fmt"

	config "github.com/NordCoder/sessiongate/internal/config/auth-service"
	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	domainoutbox "github.com/NordCoder/sessiongate/internal/domain/outbox"
	"github.com/NordCoder/sessiongate/internal/domain/user"
	"github.com/NordCoder/sessiongate/internal/obs"
	"github.com/NordCoder/sessiongate/internal/outbox"
	"github.com/NordCoder/sessiongate/internal/repository/memory"
	pg "github.com/NordCoder/sessiongate/internal/repository/postgres"
	"go.uber.org/zap"
)

type store struct {
	users  user.Repo
	tokens domainauth.RefreshTokenRepo
	tx     domainauth.Transactor
	events domainauth.EventRecorder
	outbox domainoutbox.Repository // nil unless events go through the outbox
	health map[string]obs.HealthFunc
	close  func()
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		db := memory.NewDB()
		logger.Warn("memory store: tokens are lost on restart")
		return &store{
			users:  memory.NewUserRepo(db),
			tokens: memory.NewRefreshTokenRepo(db),
			tx:     memory.NewTransactor(db),
			events: memory.NewEventRecorder(db, logger),
			health: map[string]obs.HealthFunc{"store": db.Ping},
			close:  func() {},
		}, nil

	case config.DriverPostgres:
		db, err := pg.NewDB(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		st := &store{
			users:  pg.NewUserRepo(db),
			tokens: pg.NewRefreshTokenRepo(db),
			tx:     pg.NewTransactor(db, logger),
			events: logEvents{log: logger},
			health: map[string]obs.HealthFunc{"db": db.Ping},
			close:  db.Close,
		}
		if cfg.Outbox.Enable {
			repo := pg.NewOutboxRepo(db)
			st.outbox = repo
			st.events = outbox.NewRecorder(repo)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// logEvents is used when no outbox is configured: events are only logged.
type logEvents struct{ log *zap.Logger }

func (l logEvents) Record(ctx context.Context, e domainauth.Event) error {
	obs.WithTrace(ctx, l.log).Info("security event",
		zap.String("kind", string(e.Kind)),
		zap.Int64("user_id", e.UserID),
		zap.String("session", e.Session),
		zap.Int64("revoked", e.Revoked),
	)
	return nil
}
