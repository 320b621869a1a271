package memory

import (
	"context"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
)

var _ auth.Transactor = (*Transactor)(nil)

type Transactor struct{ db *DB }

func NewTransactor(db *DB) *Transactor { return &Transactor{db: db} }

// WithTx runs function against a private copy of the state. The copy is
// committed only if function returns nil; nested calls join the outer
// transaction.
func (t *Transactor) WithTx(ctx context.Context, function func(ctx context.Context) error) error {
	if txFrom(ctx, t.db) != nil {
		return function(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	t.db.mu.Lock()
	work := &tx{db: t.db, st: t.db.st.clone()}
	t.db.mu.Unlock()

	if err := function(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	t.db.commit(work.st)
	return nil
}
