package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attempt-ledger/internal/domain"
	"github.com/rs/zerolog/log"
)

// SubmissionService is the inbound boundary for scored rounds: it validates,
// records through the Ledger and forwards completion signals.
type SubmissionService struct {
	ledger   *Ledger
	users    UserDirectory
	notifier Notifier
	now      func() time.Time
}

func NewSubmissionService(ledger *Ledger, users UserDirectory, notifier Notifier) *SubmissionService {
	return &SubmissionService{ledger: ledger, users: users, notifier: notifier, now: time.Now}
}

// WithClock replaces the clock used for submissions without a timestamp.
func (s *SubmissionService) WithClock(now func() time.Time) *SubmissionService {
	s.now = now
	return s
}

// Submit records one round. Notification failures are logged and do not undo
// the committed write; a retried submission may notify again.
func (s *SubmissionService) Submit(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	if sub.SubmissionTime.IsZero() {
		sub.SubmissionTime = s.now()
	}
	sub.SubmissionTime = sub.SubmissionTime.UTC()
	if err := sub.Validate(); err != nil {
		return domain.Receipt{}, err
	}

	receipt, err := s.ledger.Record(ctx, sub)
	if err != nil {
		return domain.Receipt{}, err
	}
	log.Info().
		Str("user_id", sub.UserID).
		Int("test_number", sub.TestNumber).
		Int("attempt_number", receipt.AttemptNumber).
		Int("round_number", sub.RoundNumber).
		Float64("score", sub.Score).
		Msg("round recorded")

	if receipt.Signal != nil && s.notifier != nil {
		s.describe(ctx, receipt.Signal)
		if err := s.notifier.Notify(ctx, *receipt.Signal); err != nil {
			log.Error().Err(err).
				Str("user_id", sub.UserID).
				Int("test_number", sub.TestNumber).
				Int("attempt_number", receipt.AttemptNumber).
				Msg("completion notification failed")
		}
	}
	return receipt, nil
}

func (s *SubmissionService) describe(ctx context.Context, signal *domain.CompletionSignal) {
	name := signal.UserID
	if s.users != nil {
		user, err := s.users.GetUser(ctx, signal.UserID)
		if err == nil && user.Username != "" {
			name = user.Username
			signal.Username = user.Username
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("user_id", signal.UserID).Msg("user lookup for notification failed")
		}
	}
	signal.Message = fmt.Sprintf("%s completed Test %d (Attempt %d)", name, signal.TestNumber, signal.AttemptNumber)
}

// Notifiers fans a signal out to every notifier, returning the joined errors.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, signal domain.CompletionSignal) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.Notify(ctx, signal); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
