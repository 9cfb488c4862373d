package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"attempt-ledger/internal/domain"
)

// UserLoader reads profiles from the users table.
type UserLoader struct {
	db *DB
}

func NewUserLoader(db *DB) *UserLoader {
	return &UserLoader{db: db}
}

func (l *UserLoader) LoadUser(ctx context.Context, userID string) (domain.User, error) {
	return l.load(ctx, `SELECT id, username, age, sex FROM users WHERE id = ?`, userID)
}

func (l *UserLoader) LoadUserByName(ctx context.Context, username string) (domain.User, error) {
	return l.load(ctx, `SELECT id, username, age, sex FROM users WHERE username = ?`, username)
}

// PutUser inserts or replaces a profile (seeding and tests).
func (l *UserLoader) PutUser(ctx context.Context, u domain.User) error {
	var age interface{}
	if u.Age != nil {
		age = *u.Age
	}
	_, err := l.db.db.ExecContext(ctx,
		`INSERT INTO users (id, username, age, sex) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username, age = excluded.age, sex = excluded.sex`,
		u.ID, u.Username, age, u.Sex,
	)
	return err
}

func (l *UserLoader) load(ctx context.Context, query, arg string) (domain.User, error) {
	var (
		u   domain.User
		age sql.NullInt64
		sex sql.NullString
	)
	err := l.db.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &age, &sex)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %q: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, err
	}
	if age.Valid {
		a := int(age.Int64)
		u.Age = &a
	}
	u.Sex = sex.String
	return u, nil
}
