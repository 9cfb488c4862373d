package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attempt-ledger/internal/domain"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts bounds how many times a write is tried when it keeps
// losing the attempt-number race.
const DefaultMaxAttempts = 3

// Ledger assigns attempt numbers and writes round records.
type Ledger struct {
	store       RecordStore
	maxAttempts int
	now         func() time.Time
}

func NewLedger(store RecordStore, maxAttempts int) *Ledger {
	return NewLedgerWithClock(store, maxAttempts, time.Now)
}

// NewLedgerWithClock is used by tests for deterministic signal timestamps.
func NewLedgerWithClock(store RecordStore, maxAttempts int, now func() time.Time) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Ledger{store: store, maxAttempts: maxAttempts, now: now}
}

// Record resolves the attempt for sub and stores it as one transaction.
// A CompletionSignal is returned only once a round 5 write has committed.
func (l *Ledger) Record(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	if err := sub.Validate(); err != nil {
		return domain.Receipt{}, err
	}

	for try := 1; try <= l.maxAttempts; try++ {
		attempt, err := l.recordOnce(ctx, sub)
		if err == nil {
			receipt := domain.Receipt{AttemptNumber: attempt, RoundFive: sub.RoundNumber == domain.RoundsPerAttempt}
			if receipt.RoundFive {
				receipt.Signal = &domain.CompletionSignal{
					UserID:        sub.UserID,
					TestNumber:    sub.TestNumber,
					AttemptNumber: attempt,
					RecordedAt:    l.now(),
				}
			}
			return receipt, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Receipt{}, err
		}
		log.Debug().
			Str("user_id", sub.UserID).
			Int("test_number", sub.TestNumber).
			Int("round_number", sub.RoundNumber).
			Int("try", try).
			Msg("attempt resolution lost a race, retrying")
	}

	log.Warn().
		Str("user_id", sub.UserID).
		Int("test_number", sub.TestNumber).
		Int("max_attempts", l.maxAttempts).
		Msg("attempt resolution retries exhausted")
	return domain.Receipt{}, fmt.Errorf("record round %d: %w", sub.RoundNumber, domain.ErrTransient)
}

func (l *Ledger) recordOnce(ctx context.Context, sub domain.Submission) (int, error) {
	var attempt int
	err := l.store.InTx(ctx, sub.UserID, sub.TestNumber, func(tx RecordTx) error {
		maxAttempt, err := tx.MaxAttempt(ctx, sub.UserID, sub.TestNumber)
		if err != nil {
			return err
		}
		attempt = ResolveAttempt(maxAttempt, sub.RoundNumber)

		rec := domain.RoundRecord{
			UserID:         sub.UserID,
			TestNumber:     sub.TestNumber,
			AttemptNumber:  attempt,
			RoundNumber:    sub.RoundNumber,
			Score:          sub.Score,
			CorrectWords:   nonNil(sub.CorrectWords),
			IncorrectWords: nonNil(sub.IncorrectWords),
			SubmissionTime: sub.SubmissionTime,
		}
		// A round 1 always opens a fresh attempt, so its key must not exist;
		// if it does, another writer took this attempt number first.
		if sub.RoundNumber == 1 {
			return tx.Insert(ctx, rec)
		}
		return tx.Upsert(ctx, rec)
	})
	return attempt, err
}

func nonNil(words []string) []string {
	if words == nil {
		return []string{}
	}
	return words
}
