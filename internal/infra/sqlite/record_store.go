package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/domain"
	"github.com/mattn/go-sqlite3"
)

// RecordStore implements app.RecordStore on SQLite.
type RecordStore struct {
	db *DB
}

func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// InTx runs fn in a transaction. The database has a single connection, so
// transactions are serialized for every key, not only the given one.
func (s *RecordStore) InTx(ctx context.Context, _ string, _ int, fn func(tx app.RecordTx) error) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&recordTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *RecordStore) Find(ctx context.Context, filter domain.RecordFilter) ([]domain.RoundRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TestNumber != 0 {
		where = append(where, "test_number = ?")
		args = append(args, filter.TestNumber)
	}
	if filter.Window != nil {
		where = append(where, "submission_time_unix >= ?", "submission_time_unix < ?")
		args = append(args, filter.Window.Start.UnixNano(), filter.Window.End.UnixNano())
	}

	query := `SELECT user_id, test_number, attempt_number, round_number, score,
		correct_words, incorrect_words, submission_time_unix
		FROM round_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY user_id, test_number, attempt_number, round_number"

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("find", err)
	}
	defer rows.Close()

	out := make([]domain.RoundRecord, 0)
	for rows.Next() {
		var (
			rec                  domain.RoundRecord
			correctRaw, wrongRaw string
			submittedNs          int64
		)
		if err := rows.Scan(&rec.UserID, &rec.TestNumber, &rec.AttemptNumber, &rec.RoundNumber, &rec.Score,
			&correctRaw, &wrongRaw, &submittedNs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(correctRaw), &rec.CorrectWords); err != nil {
			return nil, fmt.Errorf("decode correct words: %w", err)
		}
		if err := json.Unmarshal([]byte(wrongRaw), &rec.IncorrectWords); err != nil {
			return nil, fmt.Errorf("decode incorrect words: %w", err)
		}
		rec.SubmissionTime = time.Unix(0, submittedNs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find", err)
	}
	return out, nil
}

type recordTx struct {
	tx *sql.Tx
}

func (t *recordTx) MaxAttempt(ctx context.Context, userID string, testNumber int) (int, error) {
	var highest int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) FROM round_records WHERE user_id = ? AND test_number = ?`,
		userID, testNumber,
	).Scan(&highest)
	if err != nil {
		return 0, classify("max attempt", err)
	}
	return highest, nil
}

func (t *recordTx) Insert(ctx context.Context, rec domain.RoundRecord) error {
	return t.write(ctx, rec, "")
}

func (t *recordTx) Upsert(ctx context.Context, rec domain.RoundRecord) error {
	return t.write(ctx, rec, ` ON CONFLICT (user_id, test_number, attempt_number, round_number) DO UPDATE SET
		score = excluded.score,
		correct_words = excluded.correct_words,
		incorrect_words = excluded.incorrect_words,
		submission_time_unix = excluded.submission_time_unix`)
}

func (t *recordTx) write(ctx context.Context, rec domain.RoundRecord, onConflict string) error {
	correct, err := json.Marshal(nonNil(rec.CorrectWords))
	if err != nil {
		return err
	}
	wrong, err := json.Marshal(nonNil(rec.IncorrectWords))
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO round_records
			(user_id, test_number, attempt_number, round_number, score, correct_words, incorrect_words, submission_time_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`+onConflict,
		rec.UserID, rec.TestNumber, rec.AttemptNumber, rec.RoundNumber, rec.Score,
		string(correct), string(wrong), rec.SubmissionTime.UnixNano(),
	)
	if err != nil {
		return classify("write round record", err)
	}
	return nil
}

func nonNil(words []string) []string {
	if words == nil {
		return []string{}
	}
	return words
}

func classify(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.Code == sqlite3.ErrBusy,
			sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w (%v)", op, domain.ErrConflict, sqliteErr)
		case sqliteErr.Code == sqlite3.ErrCantOpen,
			sqliteErr.Code == sqlite3.ErrIoErr:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, sqliteErr)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
