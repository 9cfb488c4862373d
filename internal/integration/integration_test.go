package integration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/domain"
	"attempt-ledger/internal/infra/postgres"
	infraredis "attempt-ledger/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

func TestLedgerEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	pool := migrateAndConnect(t, ctx, pgURL)
	defer pool.Close()
	seedUsers(t, ctx, pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewRecordStore(pool)
	users := infraredis.NewUserDirectory(redisClient, postgres.NewUserLoader(pool), 5*time.Minute)
	publisher := infraredis.NewCompletionPublisher(redisClient, 10)
	service := app.NewSubmissionService(app.NewLedger(store, 0), users, publisher)
	gateway := app.NewQueryGateway(store, users)

	day := time.Date(2025, 4, 12, 10, 0, 0, 0, time.UTC)
	for i, score := range []float64{80, 85, 90, 80, 85} {
		_, err := service.Submit(ctx, domain.Submission{
			UserID:         "u-alice",
			TestNumber:     1,
			RoundNumber:    i + 1,
			Score:          score,
			CorrectWords:   []string{"apple"},
			SubmissionTime: day.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("round %d: %v", i+1, err)
		}
	}
	// Replaying round 3 overwrites in place.
	if _, err := service.Submit(ctx, domain.Submission{UserID: "u-alice", TestNumber: 1, RoundNumber: 3, Score: 90, SubmissionTime: day.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	filters, err := domain.ParseFilters(domain.RawFilters{Username: "alice", TestTime: "2025-04-12", Approved: "Yes"})
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	views, err := gateway.Query(ctx, app.Query{Scope: app.ScopeAdmin, Filters: filters})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one approved attempt, got %+v", views)
	}
	total, ok := views[0].TotalScore.Value()
	if !ok || total != 420 || views[0].Username != "alice" || views[0].Age == nil || *views[0].Age != 31 {
		t.Fatalf("unexpected view %+v", views[0])
	}

	recent, err := publisher.Recent(ctx, "u-alice", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Message != "alice completed Test 1 (Attempt 1)" {
		t.Fatalf("unexpected notifications %+v", recent)
	}
}

func TestConcurrentFirstRoundsGetDistinctAttempts(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	pool := migrateAndConnect(t, ctx, pgURL)
	defer pool.Close()

	ledger := app.NewLedger(postgres.NewRecordStore(pool), 0)
	const n = 16
	attempts := make([]int, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			r, err := ledger.Record(gctx, domain.Submission{
				UserID:         "u-race",
				TestNumber:     2,
				RoundNumber:    1,
				SubmissionTime: time.Now().UTC(),
			})
			attempts[i] = r.AttemptNumber
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("record: %v", err)
	}
	sort.Ints(attempts)
	for i, a := range attempts {
		if a != i+1 {
			t.Fatalf("expected attempts 1..%d, got %v", n, attempts)
		}
	}
}

func migrateAndConnect(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	if _, err := postgres.Migrate(ctx, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	return pool
}

func seedUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, `INSERT INTO users (id, username, age, sex) VALUES ('u-alice', 'alice', 31, 'female')`); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "ledger", "POSTGRES_PASSWORD": "ledgerpass", "POSTGRES_DB": "ledger"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://ledger:ledgerpass@%s:%s/ledger?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
