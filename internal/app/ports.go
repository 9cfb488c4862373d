package app

import (
	"context"

	"attempt-ledger/internal/domain"
)

// RecordStore abstracts durable storage of round records (memory, Postgres, SQLite).
type RecordStore interface {
	// InTx runs fn in a transaction that is serialized against every other InTx
	// call for the same (userID, testNumber). If fn returns an error nothing fn
	// wrote is kept.
	InTx(ctx context.Context, userID string, testNumber int, fn func(tx RecordTx) error) error
	// Find returns records matching filter. It reads committed data only.
	Find(ctx context.Context, filter domain.RecordFilter) ([]domain.RoundRecord, error)
}

// RecordTx is the write side available inside RecordStore.InTx.
type RecordTx interface {
	// MaxAttempt returns the highest stored attempt number, 0 if none.
	MaxAttempt(ctx context.Context, userID string, testNumber int) (int, error)
	// Insert stores a record whose key must not exist yet; a duplicate key
	// yields domain.ErrConflict.
	Insert(ctx context.Context, rec domain.RoundRecord) error
	// Upsert replaces score, words and submission time of an existing key or inserts it.
	Upsert(ctx context.Context, rec domain.RoundRecord) error
}

// UserDirectory resolves profiles owned by the identity service.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUserByName(ctx context.Context, username string) (domain.User, error)
}

// Notifier receives completion signals. Delivery is at-least-once.
type Notifier interface {
	Notify(ctx context.Context, signal domain.CompletionSignal) error
}
