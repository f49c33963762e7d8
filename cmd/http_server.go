package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/audit"
	auditPostgres "github.com/frahmantamala/employee-management/internal/audit/postgres"
	"github.com/frahmantamala/employee-management/internal/auth"
	"github.com/frahmantamala/employee-management/internal/core/events"
	"github.com/frahmantamala/employee-management/internal/transport/middleware"
	"github.com/frahmantamala/employee-management/internal/transport/rest"
	"github.com/frahmantamala/employee-management/internal/user"
	userPostgres "github.com/frahmantamala/employee-management/internal/user/postgres"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Redis    redis.UniversalClient
	EventBus *events.EventBus
	Router   *chi.Mux
	Logger   *slog.Logger

	closers []func() error
}

func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Error("close error", "error", err)
		}
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		deps.Logger.Error("failed to set up routes", "error", err)
		deps.Close()
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "env", deps.Config.App.Env)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.EventBus.Drain(ctx); err != nil {
			deps.Logger.Warn("event bus did not drain", "error", err)
		}
		deps.Close()
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) error {
	cfg := deps.Config
	lg := deps.Logger

	tokens, err := auth.NewJWTTokenGenerator(
		cfg.Security.JWTSecret,
		cfg.Security.JWTRefreshSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	)
	if err != nil {
		return err
	}
	if cfg.Security.UsesRefreshFallback() {
		lg.Warn("JWT_REFRESH_SECRET is not set; refresh tokens are signed with the access secret")
	}

	// audit: events -> sinks
	auditRepo := auditPostgres.NewAuditRepository(deps.DB)
	sink, err := auditSink(deps, auditRepo)
	if err != nil {
		return err
	}
	auditService := audit.NewService(auditRepo, lg, sink)
	auditService.RegisterEventHandlers(deps.EventBus)

	userService := user.NewService(userPostgres.NewUserRepository(deps.Gorm), cfg.Security.BCryptCost, deps.EventBus, lg)

	authOpts := []auth.ServiceOption{auth.WithLogoutRevocation(cfg.Security.LogoutRevokesSessions)}
	if cfg.Security.RotationTracking {
		if deps.Redis != nil {
			authOpts = append(authOpts, auth.WithRotationStore(auth.NewRedisRotationStore(deps.Redis, cfg.Redis.KeyPrefix)))
		} else {
			lg.Warn("rotation tracking without redis keeps the ledger in process memory")
			authOpts = append(authOpts, auth.WithRotationStore(auth.NewMemoryRotationStore()))
		}
	}
	authService := auth.NewService(userService, tokens, deps.EventBus, lg, authOpts...)

	doc := loadOpenAPI(cfg.Server.OpenAPISpec, lg)

	return rest.RegisterAllRoutes(deps.Router, rest.Dependencies{
		DB:             deps.DB,
		Redis:          deps.Redis,
		AuthHandler:    auth.NewHandler(authService, auth.NewCookieConfig(cfg)),
		UserHandler:    user.NewHandler(userService),
		AuditHandler:   audit.NewHandler(auditService),
		RBAC:           auth.NewRBACAuthorization(lg),
		RateLimiter:    middleware.NewRateLimiter(cfg.Redis.RateLimit, deps.Redis, cfg.Redis.KeyPrefix, lg),
		OpenAPI:        doc,
		OpenAPIPath:    cfg.Server.OpenAPISpec,
		AllowedOrigins: cfg.Server.Origins(),
		Logger:         lg,
	})
}

// auditSink writes straight to postgres unless the broker is enabled, in
// which case records are queued for `worker audit`.
func auditSink(deps *Dependencies, repo *auditPostgres.AuditRepository) (audit.Sink, error) {
	if !deps.Config.Broker.Enabled {
		return repo, nil
	}
	publisher, err := audit.DialAMQP(deps.Config.Broker.URL, deps.Config.Broker.Queue)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, publisher.Close)
	deps.Logger.Info("audit records forwarded to broker", "queue", deps.Config.Broker.Queue)
	return publisher, nil
}

func loadOpenAPI(path string, lg *slog.Logger) *openapi3.T {
	if path == "" {
		return nil
	}
	doc, err := middleware.LoadOpenAPI(context.Background(), path)
	if err != nil {
		lg.Warn("openapi request validation disabled", "path", path, "error", err)
		return nil
	}
	return doc
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps := &Dependencies{
		Config:   config,
		Logger:   lg,
		DB:       db,
		EventBus: events.NewEventBus(lg),
		Router:   chi.NewRouter(),
	}
	deps.closers = append(deps.closers, db.Close)

	deps.Gorm, err = initGorm(db)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	if config.Redis.Enabled {
		deps.Redis, err = initRedis(config.Redis)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		deps.closers = append(deps.closers, deps.Redis.Close)
	}

	return deps, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx connection pool.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func initRedis(cfg internal.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
