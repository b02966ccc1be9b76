package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/holovitals/synccore/internal/config"
	"github.com/holovitals/synccore/internal/domain/bulkexport"
	"github.com/holovitals/synccore/internal/domain/conflict"
	"github.com/holovitals/synccore/internal/domain/connection"
	"github.com/holovitals/synccore/internal/domain/identity"
	"github.com/holovitals/synccore/internal/domain/resource"
	"github.com/holovitals/synccore/internal/domain/syncrun"
	"github.com/holovitals/synccore/internal/domain/webhook"
	"github.com/holovitals/synccore/internal/platform/db"
	"github.com/holovitals/synccore/internal/platform/middleware"
	"github.com/holovitals/synccore/internal/platform/notification"
	"github.com/holovitals/synccore/internal/platform/phi"
	"github.com/holovitals/synccore/internal/platform/provider"
	"github.com/holovitals/synccore/internal/platform/telemetry"
)

// sourcePriorities ranks vendors for SOURCE_PRIORITY conflict resolution.
// Higher rank wins; unlisted vendors default to zero and rank below every
// listed one.
var sourcePriorities = map[string]int{
	"epic":    100,
	"cerner":  50,
	"sandbox": 10,
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "sync-server",
		Short: "Clinical record synchronization server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	phiKey, err := keyFromConfig(cfg.PHIEncryptionKey, cfg.IsDev(), logger, "PHI_ENCRYPTION_KEY")
	if err != nil {
		logger.Fatal().Err(err).Msg("phi encryption key")
	}
	enc, err := phi.NewEncryptor(phiKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("create encryptor")
	}

	signingKey, err := keyFromConfig(cfg.ChallengeSigningKey, cfg.IsDev(), logger, "CHALLENGE_SIGNING_KEY")
	if err != nil {
		logger.Fatal().Err(err).Msg("challenge signing key")
	}

	notifier := notification.NewNotifier(logger, 100)

	connRepo := connection.NewRepoPG(pool)
	resourceRepo := resource.NewRepoPG(pool)
	conflictRepo := conflict.NewRepoPG(pool)
	identityRepo := identity.NewRepoPG(pool)
	challengeRepo := identity.NewChallengeRepoPG(pool)
	webhookRepo := webhook.NewRepoPG(pool)
	runRepo := syncrun.NewRepoPG(pool)
	bulkRepo := bulkexport.NewRepoPG(pool)

	connSvc := connection.NewService(connRepo, notifier, cfg.SyncFailureThreshold, logger)
	engine := conflict.NewEngine(conflictRepo, resourceRepo, sourcePriorities, logger,
		conflict.WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		}))
	identitySvc, err := identity.NewService(identityRepo, challengeRepo, enc, identity.Options{
		SigningKey: signingKey,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create identity service")
	}
	webhookSvc := webhook.NewService(webhookRepo,
		webhook.WithDeliveryDefaults(cfg.WebhookDefaultAttempts, 0, cfg.WebhookDefaultTimeout))
	dispatcher := webhook.NewDispatcher(webhookRepo, notifier, logger)

	registry := provider.NewRegistry()
	if cfg.IsDev() {
		registry.Register(provider.NewSandboxAdapter("sandbox"))
	}

	tracker := bulkexport.NewTracker(bulkRepo, registry, bulkexport.Options{
		PollInterval: cfg.BulkExportPollInterval,
		MaxWait:      cfg.BulkExportMaxWait,
	}, logger)

	orch := syncrun.NewOrchestrator(runRepo, resourceRepo, connSvc, identitySvc, engine,
		registry, tracker, dispatcher, syncrun.Options{
			Retry: provider.RetryPolicy{
				CallTimeout: cfg.AdapterTimeout,
				MaxRetries:  cfg.AdapterMaxRetries,
				Backoff:     2 * time.Second,
				RateLimit:   rate.Limit(cfg.AdapterRateLimitRPS),
				Burst:       int(cfg.AdapterRateLimitRPS) * 2,
			},
		}, logger)

	scheduler := syncrun.NewScheduler(orch, cfg.SchedulerInterval, logger)
	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	scheduler.Start(schedCtx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(telemetry.HTTPMetrics())
	telemetry.RegisterHandler(e)

	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unreachable")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")
	connection.NewHandler(connSvc).RegisterRoutes(api)
	conflict.NewHandler(engine).RegisterRoutes(api)
	identity.NewHandler(identitySvc, connSvc).RegisterRoutes(api)
	webhook.NewHandler(webhookSvc).RegisterRoutes(api)
	syncrun.NewHandler(orch, runRepo).RegisterRoutes(api)
	bulkexport.NewHandler(orch, bulkRepo).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	schedCancel()
	scheduler.Stop()
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	return nil
}

// keyFromConfig decodes a hex key from config. In development a missing key
// is replaced with a random one so the server still boots; production
// requires it (enforced by config validation).
func keyFromConfig(hexKey string, dev bool, logger zerolog.Logger, name string) ([]byte, error) {
	if hexKey == "" {
		if !dev {
			return nil, fmt.Errorf("%s is required", name)
		}
		key := make([]byte, 32)
		if _, err := cryptorand.Read(key); err != nil {
			return nil, err
		}
		logger.Warn().Str("key", name).Msg("using ephemeral development key; encrypted data will not survive restart")
		return key, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes, got %d", name, len(key))
	}
	return key, nil
}
