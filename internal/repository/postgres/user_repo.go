package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/sessiongate/internal/domain/user"
	"github.com/jackc/pgx/v5"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const (
	qUserInsert = `
INSERT INTO users (username, name, password_hash, role)
VALUES ($1, $2, $3, $4)
RETURNING id, username, name, password_hash, role, created_at, updated_at;`

	qUserByID = `
SELECT id, username, name, password_hash, role, created_at, updated_at
FROM users
WHERE id = $1;`

	qUserByUsername = `
SELECT id, username, name, password_hash, role, created_at, updated_at
FROM users
WHERE username = $1;`
)

func (r *UserRepo) Create(ctx context.Context, u *user.User) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	role := u.Role
	if role == "" {
		role = user.RoleUser
	}
	row := r.db.execQueryer(ctx).QueryRow(ctx, qUserInsert, u.Username, u.Name, u.Password, string(role))
	if err := scanUser(row, u); err != nil {
		if isUniqueViolation(err) {
			return user.ErrUsernameTaken
		}
		return fmt.Errorf("user insert: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByID, id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByUsername, username), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanUser(row pgx.Row, out *user.User) error {
	var role string
	if err := row.Scan(&out.ID, &out.Username, &out.Name, &out.Password, &role, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.ErrNotFound
		}
		return err
	}
	out.Role = user.Role(role)
	return nil
}
