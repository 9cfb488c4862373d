package memory

import (
	"context"
	"sort"
	"sync"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/domain"
)

type recordKey struct {
	userID     string
	testNumber int
	attempt    int
	round      int
}

type testKey struct {
	userID     string
	testNumber int
}

func keyOf(r domain.RoundRecord) recordKey {
	return recordKey{userID: r.UserID, testNumber: r.TestNumber, attempt: r.AttemptNumber, round: r.RoundNumber}
}

// RecordStore is an in-memory implementation of app.RecordStore.
// Writers for the same (user, test) are serialized by a per-key mutex; staged
// writes become visible to Find only when the transaction commits.
type RecordStore struct {
	locksMu sync.Mutex
	locks   map[testKey]*sync.Mutex

	mu      sync.RWMutex
	records map[recordKey]domain.RoundRecord
	// maxAttempt tracks the highest committed attempt per (user, test).
	maxAttempt map[testKey]int
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		locks:      make(map[testKey]*sync.Mutex),
		records:    make(map[recordKey]domain.RoundRecord),
		maxAttempt: make(map[testKey]int),
	}
}

func (s *RecordStore) keyLock(k testKey) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *RecordStore) InTx(ctx context.Context, userID string, testNumber int, fn func(tx app.RecordTx) error) error {
	lock := s.keyLock(testKey{userID: userID, testNumber: testNumber})
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &recordTx{store: s, staged: make(map[recordKey]domain.RoundRecord)}
	if err := fn(tx); err != nil {
		return err
	}
	// A caller that gave up before commit must not see its write land.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx.staged)
	return nil
}

func (s *RecordStore) commit(staged map[recordKey]domain.RoundRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range staged {
		s.records[k] = rec
		tk := testKey{userID: k.userID, testNumber: k.testNumber}
		if k.attempt > s.maxAttempt[tk] {
			s.maxAttempt[tk] = k.attempt
		}
	}
}

func (s *RecordStore) Find(ctx context.Context, filter domain.RecordFilter) ([]domain.RoundRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.RoundRecord, 0)
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.TestNumber != b.TestNumber {
			return a.TestNumber < b.TestNumber
		}
		if a.AttemptNumber != b.AttemptNumber {
			return a.AttemptNumber < b.AttemptNumber
		}
		return a.RoundNumber < b.RoundNumber
	})
	return out, nil
}

// Len reports the number of committed records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

type recordTx struct {
	store  *RecordStore
	staged map[recordKey]domain.RoundRecord
}

func (t *recordTx) MaxAttempt(_ context.Context, userID string, testNumber int) (int, error) {
	t.store.mu.RLock()
	highest := t.store.maxAttempt[testKey{userID: userID, testNumber: testNumber}]
	t.store.mu.RUnlock()
	for k := range t.staged {
		if k.userID == userID && k.testNumber == testNumber && k.attempt > highest {
			highest = k.attempt
		}
	}
	return highest, nil
}

func (t *recordTx) exists(k recordKey) bool {
	if _, ok := t.staged[k]; ok {
		return true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.records[k]
	return ok
}

func (t *recordTx) Insert(_ context.Context, rec domain.RoundRecord) error {
	k := keyOf(rec)
	if t.exists(k) {
		return domain.ErrConflict
	}
	t.staged[k] = cloneRecord(rec)
	return nil
}

func (t *recordTx) Upsert(_ context.Context, rec domain.RoundRecord) error {
	t.staged[keyOf(rec)] = cloneRecord(rec)
	return nil
}

func cloneRecord(r domain.RoundRecord) domain.RoundRecord {
	r.CorrectWords = append([]string(nil), r.CorrectWords...)
	r.IncorrectWords = append([]string(nil), r.IncorrectWords...)
	if r.CorrectWords == nil {
		r.CorrectWords = []string{}
	}
	if r.IncorrectWords == nil {
		r.IncorrectWords = []string{}
	}
	return r
}
