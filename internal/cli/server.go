package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/config"
	"attempt-ledger/internal/domain"
	"attempt-ledger/internal/infra/memory"
	"attempt-ledger/internal/infra/postgres"
	infraredis "attempt-ledger/internal/infra/redis"
	"attempt-ledger/internal/infra/sqlite"
	transport "attempt-ledger/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the ledger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// userLoader is satisfied by every identity-store adapter.
type userLoader interface {
	LoadUser(ctx context.Context, userID string) (domain.User, error)
	LoadUserByName(ctx context.Context, username string) (domain.User, error)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" && cfg.Log.Level != "" {
		setupLogger(cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		store  app.RecordStore
		loader userLoader
	)
	driver := cfg.StorageDriver()
	switch driver {
	case config.DriverPostgres:
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewRecordStore(pool)
		loader = postgres.NewUserLoader(pool)
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlite.NewRecordStore(db)
		sqliteUsers := sqlite.NewUserLoader(db)
		for _, u := range seedUsers(cfg) {
			if err := sqliteUsers.PutUser(ctx, u); err != nil {
				return fmt.Errorf("seed user %s: %w", u.ID, err)
			}
		}
		loader = sqliteUsers
	case config.DriverMemory:
		store = memory.NewRecordStore()
		loader = memory.NewStaticUserLoader(seedUsers(cfg)...)
	default:
		return fmt.Errorf("unknown storage driver %q", driver)
	}
	log.Info().Str("driver", driver).Msg("record store ready")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	usersTTL := config.TTLDuration(cfg.Users.TTL, 10*time.Minute)
	var users app.UserDirectory
	if redisClient != nil {
		users = infraredis.NewUserDirectory(redisClient, loader, usersTTL)
	} else {
		users = memory.NewUserDirectory(loader, usersTTL)
	}

	// Without Redis the hub is the only sink. With Redis every instance
	// publishes, and each relays the shared channel into its local hub.
	hub := memory.NewCompletionHub()
	var (
		notifier  app.Notifier = hub
		publisher *infraredis.CompletionPublisher
	)
	if redisClient != nil {
		publisher = infraredis.NewCompletionPublisher(redisClient, cfg.Redis.NotificationCap)
		notifier = publisher
		go func() {
			err := publisher.Subscribe(ctx, func(s domain.CompletionSignal) {
				_ = hub.Notify(ctx, s)
			})
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("completion relay stopped")
			}
		}()
	}

	ledger := app.NewLedger(store, cfg.Ledger.MaxAttempts)
	api := transport.NewAPI(
		app.NewSubmissionService(ledger, users, notifier),
		app.NewQueryGateway(store, users),
	)
	if publisher != nil {
		api.WithNotifications(publisher)
	}

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("GET /ws/completions", transport.NewWSHandler(hub).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting attempt ledger")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func seedUsers(cfg config.Config) []domain.User {
	out := make([]domain.User, 0, len(cfg.Users.Seed))
	for _, u := range cfg.Users.Seed {
		out = append(out, domain.User{ID: u.ID, Username: u.Username, Age: u.Age, Sex: u.Sex})
	}
	return out
}
