package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// RecordStore keeps round records in Postgres.
//
// Writers for one (user, test) are serialized with a transaction-scoped
// advisory lock; the unique constraint uq_round_records_attempt_round is the
// backstop should two writers still pick the same attempt number.
type RecordStore struct {
	pool *pgxpool.Pool
}

func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

func (s *RecordStore) InTx(ctx context.Context, userID string, testNumber int, fn func(tx app.RecordTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2::int)`, userID, testNumber); err != nil {
		return classify("lock", err)
	}
	if err := fn(&recordTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *RecordStore) Find(ctx context.Context, filter domain.RecordFilter) ([]domain.RoundRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.TestNumber != 0 {
		add("test_number = $%d", filter.TestNumber)
	}
	if filter.Window != nil {
		add("submission_time >= $%d", filter.Window.Start)
		add("submission_time < $%d", filter.Window.End)
	}

	query := `SELECT user_id, test_number, attempt_number, round_number, score,
		correct_words, incorrect_words, submission_time
		FROM round_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY user_id, test_number, attempt_number, round_number"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("find", err)
	}
	defer rows.Close()

	out := make([]domain.RoundRecord, 0)
	for rows.Next() {
		var (
			rec                  domain.RoundRecord
			correctRaw, wrongRaw []byte
		)
		if err := rows.Scan(&rec.UserID, &rec.TestNumber, &rec.AttemptNumber, &rec.RoundNumber, &rec.Score,
			&correctRaw, &wrongRaw, &rec.SubmissionTime); err != nil {
			return nil, fmt.Errorf("scan round record: %w", err)
		}
		if err := decodeWords(correctRaw, &rec.CorrectWords); err != nil {
			return nil, err
		}
		if err := decodeWords(wrongRaw, &rec.IncorrectWords); err != nil {
			return nil, err
		}
		rec.SubmissionTime = rec.SubmissionTime.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find", err)
	}
	return out, nil
}

type recordTx struct {
	tx pgx.Tx
}

func (t *recordTx) MaxAttempt(ctx context.Context, userID string, testNumber int) (int, error) {
	var highest int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) FROM round_records WHERE user_id = $1 AND test_number = $2`,
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
	return t.write(ctx, rec, ` ON CONFLICT ON CONSTRAINT uq_round_records_attempt_round DO UPDATE SET
		score = EXCLUDED.score,
		correct_words = EXCLUDED.correct_words,
		incorrect_words = EXCLUDED.incorrect_words,
		submission_time = EXCLUDED.submission_time`)
}

func (t *recordTx) write(ctx context.Context, rec domain.RoundRecord, onConflict string) error {
	correct, err := encodeWords(rec.CorrectWords)
	if err != nil {
		return err
	}
	wrong, err := encodeWords(rec.IncorrectWords)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO round_records
			(user_id, test_number, attempt_number, round_number, score, correct_words, incorrect_words, submission_time)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)`+onConflict,
		rec.UserID, rec.TestNumber, rec.AttemptNumber, rec.RoundNumber, rec.Score, correct, wrong, rec.SubmissionTime.UTC(),
	)
	if err != nil {
		return classify("write round record", err)
	}
	return nil
}

func encodeWords(words []string) (string, error) {
	if words == nil {
		words = []string{}
	}
	raw, err := json.Marshal(words)
	if err != nil {
		return "", fmt.Errorf("encode words: %w", err)
	}
	return string(raw), nil
}

func decodeWords(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode words: %w", err)
	}
	return nil
}

// classify maps driver errors onto the ledger's error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation, serializationFailure, deadlockDetected:
			return fmt.Errorf("%s: %w (%s)", op, domain.ErrConflict, pgErr.Message)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
