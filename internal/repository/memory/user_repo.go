package memory

import (
	"context"
	"time"

	"github.com/NordCoder/sessiongate/internal/domain/user"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct{ db *DB }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Create(ctx context.Context, u *user.User) error {
	return r.db.write(ctx, func(st *state) error {
		if _, ok := st.usernames[u.Username]; ok {
			return user.ErrUsernameTaken
		}
		st.userSeq++
		u.ID = st.userSeq
		if u.Role == "" {
			u.Role = user.RoleUser
		}
		now := time.Now().UTC()
		u.CreatedAt, u.UpdatedAt = now, now
		st.users[u.ID] = *u
		st.usernames[u.Username] = u.ID
		return nil
	})
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	var out *user.User
	err := r.db.read(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	var out *user.User
	err := r.db.read(ctx, func(st *state) error {
		id, ok := st.usernames[username]
		if !ok {
			return user.ErrNotFound
		}
		u := st.users[id]
		out = &u
		return nil
	})
	return out, err
}
