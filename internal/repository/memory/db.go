// Package memory keeps users and refresh tokens in process memory. It mirrors
// the postgres repositories, including transactions: a transaction holds an
// exclusive lock and writes to a private copy of the state, which replaces the
// committed state on commit. Readers outside the transaction only ever see
// committed state.
package memory

import (
	"context"
	"sync"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/user"
)

type state struct {
	tokens       map[int64]auth.RefreshToken
	fingerprints map[string]int64
	users        map[int64]user.User
	usernames    map[string]int64
	events       []auth.Event
	tokenSeq     int64
	userSeq      int64
}

func newState() *state {
	return &state{
		tokens:       make(map[int64]auth.RefreshToken),
		fingerprints: make(map[string]int64),
		users:        make(map[int64]user.User),
		usernames:    make(map[string]int64),
	}
}

func (s *state) clone() *state {
	c := &state{
		tokens:       make(map[int64]auth.RefreshToken, len(s.tokens)),
		fingerprints: make(map[string]int64, len(s.fingerprints)),
		users:        make(map[int64]user.User, len(s.users)),
		usernames:    make(map[string]int64, len(s.usernames)),
		events:       append([]auth.Event(nil), s.events...),
		tokenSeq:     s.tokenSeq,
		userSeq:      s.userSeq,
	}
	for k, v := range s.tokens {
		c.tokens[k] = copyToken(v)
	}
	for k, v := range s.fingerprints {
		c.fingerprints[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.usernames {
		c.usernames[k] = v
	}
	return c
}

type DB struct {
	txMu sync.Mutex // held for the whole of a transaction or a lone write
	mu   sync.Mutex // guards st
	st   *state
}

func NewDB() *DB {
	return &DB{st: newState()}
}

// Events returns the security events committed so far.
func (db *DB) Events() []auth.Event {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]auth.Event(nil), db.st.events...)
}

func (db *DB) Ping(ctx context.Context) error { return ctx.Err() }

type txKey struct{}

// tx is the working copy of one transaction.
type tx struct {
	db *DB
	mu sync.Mutex
	st *state
}

func txFrom(ctx context.Context, db *DB) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	if t == nil || t.db != db {
		return nil
	}
	return t
}

func (db *DB) read(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t := txFrom(ctx, db); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return fn(t.st)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.st)
}

// write applies fn inside the transaction carried by ctx, or as a
// transaction of its own.
func (db *DB) write(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t := txFrom(ctx, db); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return fn(t.st)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	work := db.st.clone()
	db.mu.Unlock()

	if err := fn(work); err != nil {
		return err
	}
	db.commit(work)
	return nil
}

func (db *DB) commit(st *state) {
	db.mu.Lock()
	db.st = st
	db.mu.Unlock()
}

func copyToken(t auth.RefreshToken) auth.RefreshToken {
	if t.ReplacedBy != nil {
		id := *t.ReplacedBy
		t.ReplacedBy = &id
	}
	return t
}
