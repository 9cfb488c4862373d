package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/domain"
	"attempt-ledger/internal/infra/memory"
	"golang.org/x/sync/errgroup"
)

func age(n int) *int { return &n }

func newGatewayFixture(t *testing.T) (*app.QueryGateway, *app.Ledger) {
	t.Helper()
	store := memory.NewRecordStore()
	users := memory.NewUserDirectory(memory.NewStaticUserLoader(
		domain.User{ID: "u-alice", Username: "alice", Age: age(31), Sex: "female"},
		domain.User{ID: "u-bob", Username: "bob", Age: age(27), Sex: "male"},
	), time.Minute)
	return app.NewQueryGateway(store, users), app.NewLedger(store, 0)
}

func recordAttempt(t *testing.T, ledger *app.Ledger, user string, test int, scores []float64, start time.Time) {
	t.Helper()
	for i, s := range scores {
		sub := submission(user, test, i+1, s, start.Add(time.Duration(i)*time.Minute))
		if _, err := ledger.Record(context.Background(), sub); err != nil {
			t.Fatalf("record %s round %d: %v", user, i+1, err)
		}
	}
}

func TestGatewaySelfScope(t *testing.T) {
	ctx := context.Background()
	gw, ledger := newGatewayFixture(t)
	recordAttempt(t, ledger, "u-alice", 1, []float64{80, 70, 90, 85, 95}, base)
	recordAttempt(t, ledger, "u-alice", 1, []float64{10, 10}, base.Add(time.Hour))
	recordAttempt(t, ledger, "u-bob", 1, []float64{1, 1, 1, 1, 1}, base)

	views, err := gw.Query(ctx, app.Query{Scope: app.ScopeSelf, UserID: "u-alice"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected alice's 2 attempts, got %d", len(views))
	}
	if views[0].AttemptNumber != 2 || views[1].AttemptNumber != 1 {
		t.Fatalf("expected most recent attempt first, got %d then %d", views[0].AttemptNumber, views[1].AttemptNumber)
	}
	if views[0].Username != "" {
		t.Fatalf("self rows must not carry profile fields")
	}
	total, ok := views[1].TotalScore.Value()
	if !views[1].Approved || !ok || total != 420 {
		t.Fatalf("expected approved 420, got %+v", views[1])
	}

	approved, err := gw.Query(ctx, app.Query{Scope: app.ScopeSelf, UserID: "u-alice", Filters: domain.Filters{ApprovedOnly: true}})
	if err != nil {
		t.Fatalf("approved query: %v", err)
	}
	if len(approved) != 1 || approved[0].AttemptNumber != 1 {
		t.Fatalf("expected only attempt 1, got %+v", approved)
	}
}

func TestGatewaySelfRejectsUsernameFilter(t *testing.T) {
	gw, _ := newGatewayFixture(t)
	_, err := gw.Query(context.Background(), app.Query{
		Scope:   app.ScopeSelf,
		UserID:  "u-alice",
		Filters: domain.Filters{Username: "bob"},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGatewayAdminScope(t *testing.T) {
	ctx := context.Background()
	gw, ledger := newGatewayFixture(t)
	recordAttempt(t, ledger, "u-bob", 2, []float64{1, 2, 3, 4, 5}, base)
	recordAttempt(t, ledger, "u-alice", 2, []float64{5, 5, 5, 5, 5}, base)
	recordAttempt(t, ledger, "u-alice", 1, []float64{5, 5}, base)

	views, err := gw.Query(ctx, app.Query{Scope: app.ScopeAdmin})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(views))
	}
	if views[0].Username != "alice" || views[0].TestNumber != 1 || views[2].Username != "bob" {
		t.Fatalf("unexpected admin order: %+v", views)
	}
	if views[2].Age == nil || *views[2].Age != 27 || views[2].Sex != "male" {
		t.Fatalf("expected bob's profile on row, got %+v", views[2])
	}

	byName, err := gw.Query(ctx, app.Query{Scope: app.ScopeAdmin, Filters: domain.Filters{Username: "alice", ApprovedOnly: true}})
	if err != nil {
		t.Fatalf("query by name: %v", err)
	}
	if len(byName) != 1 || byName[0].TestNumber != 2 {
		t.Fatalf("expected alice's approved test 2 attempt, got %+v", byName)
	}

	unknown, err := gw.Query(ctx, app.Query{Scope: app.ScopeAdmin, Filters: domain.Filters{Username: "mallory"}})
	if err != nil || len(unknown) != 0 {
		t.Fatalf("expected empty result for unknown username, got %v %v", unknown, err)
	}
}

func TestGatewayFilterWindow(t *testing.T) {
	ctx := context.Background()
	gw, ledger := newGatewayFixture(t)
	day := time.Date(2025, 4, 12, 0, 0, 0, 0, time.UTC)
	recordAttempt(t, ledger, "u-alice", 2, []float64{1}, day.Add(-time.Minute))
	recordAttempt(t, ledger, "u-alice", 2, []float64{2}, day.Add(12*time.Hour))
	recordAttempt(t, ledger, "u-alice", 2, []float64{3}, day.Add(24*time.Hour))
	recordAttempt(t, ledger, "u-alice", 1, []float64{4}, day.Add(12*time.Hour))

	filters, err := domain.ParseFilters(domain.RawFilters{TestNumber: "2", TestTime: "2025-04-12"})
	if err != nil {
		t.Fatalf("parse filters: %v", err)
	}
	views, err := gw.Query(ctx, app.Query{Scope: app.ScopeSelf, UserID: "u-alice", Filters: filters})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 1 || views[0].AttemptNumber != 2 || views[0].TestNumber != 2 {
		t.Fatalf("expected only the in-window attempt, got %+v", views)
	}
	if !filters.Window.Contains(views[0].TestTime) {
		t.Fatalf("row outside window: %v", views[0].TestTime)
	}
}

func TestGatewayDetail(t *testing.T) {
	ctx := context.Background()
	gw, ledger := newGatewayFixture(t)
	recordAttempt(t, ledger, "u-alice", 3, []float64{1, 1, 1, 1, 1}, base)
	recordAttempt(t, ledger, "u-alice", 1, []float64{2, 2, 2, 2, 2}, base)
	recordAttempt(t, ledger, "u-alice", 1, []float64{2, 2, 2}, base)

	views, err := gw.Detail(ctx, "alice", domain.Filters{})
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(views) != 2 || views[0].TestNumber != 1 || views[1].TestNumber != 3 {
		t.Fatalf("expected approved attempts by test, got %+v", views)
	}
	if views[0].Username != "alice" {
		t.Fatalf("expected profile on detail rows")
	}

	if _, err := gw.Detail(ctx, "mallory", domain.Filters{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGatewayStorageFailure(t *testing.T) {
	gw := app.NewQueryGateway(&failingStore{err: domain.ErrStorageUnavailable}, memory.NewUserDirectory(memory.NewStaticUserLoader(), time.Minute))
	_, err := gw.Query(context.Background(), app.Query{Scope: app.ScopeAdmin})
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

// blockingStore holds Find open until released or until its ctx is done.
type blockingStore struct {
	*memory.RecordStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Find(ctx context.Context, filter domain.RecordFilter) ([]domain.RoundRecord, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.RecordStore.Find(ctx, filter)
}

func TestGatewaySharedQuerySurvivesCallerCancel(t *testing.T) {
	inner := memory.NewRecordStore()
	users := memory.NewUserDirectory(memory.NewStaticUserLoader(
		domain.User{ID: "u-alice", Username: "alice"},
	), time.Minute)
	recordAttempt(t, app.NewLedger(inner, 0), "u-alice", 1, []float64{1, 2, 3, 4, 5}, base)

	store := &blockingStore{RecordStore: inner, entered: make(chan struct{}), release: make(chan struct{})}
	gw := app.NewQueryGateway(store, users)
	q := app.Query{Scope: app.ScopeAdmin}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := gw.Query(firstCtx, q)
		firstErr <- err
	}()
	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("first query never reached the store")
	}

	type result struct {
		views []domain.AttemptView
		err   error
	}
	second := make(chan result, 1)
	go func() {
		views, err := gw.Query(context.Background(), q)
		second <- result{views, err}
	}()
	// let the second caller join the in-flight scan
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller must see its own cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(store.release)
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("live caller must not inherit another caller's cancellation: %v", r.err)
		}
		if len(r.views) != 1 || !r.views[0].Approved || r.views[0].Username != "alice" {
			t.Fatalf("unexpected views %+v", r.views)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("live caller did not return")
	}
}

func TestGatewayConcurrentIdenticalQueries(t *testing.T) {
	gw, ledger := newGatewayFixture(t)
	recordAttempt(t, ledger, "u-alice", 2, []float64{5, 5, 5, 5, 5}, base)

	g, ctx := errgroup.WithContext(context.Background())
	results := make([][]domain.AttemptView, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			views, err := gw.Query(ctx, app.Query{Scope: app.ScopeSelf, UserID: "u-alice"})
			results[i] = views
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("query: %v", err)
	}
	for i, views := range results {
		if len(views) != 1 || views[0].TestNumber != 2 {
			t.Fatalf("caller %d got %+v", i, views)
		}
	}
	// Callers receive independent slices.
	results[0][0].AttemptNumber = 99
	if results[1][0].AttemptNumber != 1 {
		t.Fatalf("shared result leaked between callers")
	}
}
