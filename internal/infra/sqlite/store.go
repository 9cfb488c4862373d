package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a single-node SQLite database holding round records and user profiles.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		path = "ledger.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite has a single writer, and the ledger relies on
	// transactions for the same user and test never interleaving.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &DB{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS round_records (
			user_id TEXT NOT NULL,
			test_number INTEGER NOT NULL CHECK (test_number BETWEEN 1 AND 4),
			attempt_number INTEGER NOT NULL CHECK (attempt_number >= 1),
			round_number INTEGER NOT NULL CHECK (round_number BETWEEN 1 AND 5),
			score REAL NOT NULL CHECK (score >= 0),
			correct_words TEXT NOT NULL DEFAULT '[]',
			incorrect_words TEXT NOT NULL DEFAULT '[]',
			submission_time_unix INTEGER NOT NULL,
			PRIMARY KEY (user_id, test_number, attempt_number, round_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_round_records_test_time ON round_records(test_number, submission_time_unix);`,
		`CREATE INDEX IF NOT EXISTS idx_round_records_time ON round_records(submission_time_unix);`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			age INTEGER,
			sex TEXT
		);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
