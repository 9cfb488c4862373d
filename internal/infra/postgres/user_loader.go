package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"attempt-ledger/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// UserLoader reads profiles from the users table.
type UserLoader struct {
	pool *pgxpool.Pool
}

func NewUserLoader(pool *pgxpool.Pool) *UserLoader {
	return &UserLoader{pool: pool}
}

func (l *UserLoader) LoadUser(ctx context.Context, userID string) (domain.User, error) {
	return l.load(ctx, `SELECT id, username, age, sex FROM users WHERE id = $1`, userID)
}

func (l *UserLoader) LoadUserByName(ctx context.Context, username string) (domain.User, error) {
	return l.load(ctx, `SELECT id, username, age, sex FROM users WHERE username = $1`, username)
}

func (l *UserLoader) load(ctx context.Context, query, arg string) (domain.User, error) {
	var (
		u   domain.User
		age sql.NullInt32
		sex sql.NullString
	)
	err := l.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &age, &sex)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %q: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, classify("load user", err)
	}
	if age.Valid {
		a := int(age.Int32)
		u.Age = &a
	}
	u.Sex = sex.String
	return u, nil
}
