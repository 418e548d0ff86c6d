package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
	"github.com/TechCorp07/klara-test-sub001/internal/domain/connection"
	"github.com/TechCorp07/klara-test-sub001/internal/domain/measurement"
	syncdomain "github.com/TechCorp07/klara-test-sub001/internal/domain/sync"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/audit"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/auth"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/clinical"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/db"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/middleware"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/secrets"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthsync-server",
		Short: "Wearable health data synchronization server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the background sync scheduler",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
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

// syncCmd runs one scheduler pass from the command line, for cron-style
// deployments that do not keep the serve process running.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass over all due connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app, err := buildApp(cfg, pool, logger)
			if err != nil {
				return err
			}
			app.syncSvc.SyncDue(ctx)
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app holds the wired domain services.
type app struct {
	connSvc        *connection.Service
	connHandler    *connection.Handler
	measureSvc     *measurement.Service
	measureHandler *measurement.Handler
	syncSvc        *syncdomain.Service
	syncHandler    *syncdomain.Handler
	scheduler      *syncdomain.Scheduler
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	var enc secrets.Encryptor = secrets.Plaintext{}
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		enc, err = secrets.NewFieldEncryptor(key)
		if err != nil {
			return nil, err
		}
	} else if !cfg.IsDev() {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required outside development")
	}

	registry := provider.NewRegistry(cfg, logger)

	connRepo := connection.NewRepositoryPG(pool, enc)
	connSvc := connection.NewService(connRepo, registry,
		connection.NewStateStore(connection.DefaultStateTTL),
		audit.NewConsentRecorderPG(pool), logger,
		cfg.MinSyncFrequencyHrs, cfg.MaxSyncFrequencyHrs)

	measureRepo := measurement.NewRepositoryPG(pool, enc)
	measureSvc := measurement.NewService(measureRepo, clinical.NewSinkPG(pool), logger)

	logRepo := syncdomain.NewRepositoryPG(pool)
	syncSvc := syncdomain.NewService(connRepo, connSvc, logRepo, registry,
		measurement.NewNormalizer(logger), measureSvc, logger, cfg.DefaultLookbackDays)

	return &app{
		connSvc:        connSvc,
		connHandler:    connection.NewHandler(connSvc, registry),
		measureSvc:     measureSvc,
		measureHandler: measurement.NewHandler(measureSvc),
		syncSvc:        syncSvc,
		syncHandler:    syncdomain.NewHandler(syncSvc),
		scheduler: syncdomain.NewScheduler(syncSvc, measureSvc, logger,
			cfg.SyncIntervalMinutes, cfg.MeasurementRetention, cfg.SyncLogRetention),
	}, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app, err := buildApp(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	apiV1 := e.Group("/api/v1")
	app.connHandler.RegisterRoutes(apiV1)
	app.measureHandler.RegisterRoutes(apiV1)
	app.syncHandler.RegisterRoutes(apiV1)

	schedCtx, stopScheduler := context.WithCancel(ctx)
	go app.scheduler.Start(schedCtx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
