package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"attempt-ledger/internal/domain"
	"github.com/jackc/pgconn"
)

func TestClassifyMapsConstraintViolations(t *testing.T) {
	for _, code := range []string{uniqueViolation, serializationFailure, deadlockDetected} {
		err := classify("write", fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "boom"}))
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("code %s: expected conflict, got %v", code, err)
		}
	}
}

func TestClassifyKeepsOtherErrors(t *testing.T) {
	err := classify("write", &pgconn.PgError{Code: "23514", Message: "check violation"})
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("check violation must not be retried, got %v", err)
	}

	err = classify("find", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to pass through, got %v", err)
	}
	if classify("noop", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestWordsCodec(t *testing.T) {
	raw, err := encodeWords(nil)
	if err != nil || raw != "[]" {
		t.Fatalf("expected empty array, got %q %v", raw, err)
	}
	var words []string
	if err := decodeWords([]byte(`["a","b"]`), &words); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(words) != 2 || words[1] != "b" {
		t.Fatalf("unexpected words %v", words)
	}
	if err := decodeWords(nil, &words); err != nil || words == nil || len(words) != 0 {
		t.Fatalf("expected empty slice, got %v %v", words, err)
	}
}
