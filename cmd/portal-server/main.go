package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careline/portal/internal/config"
	"github.com/careline/portal/internal/domain/invitation"
	"github.com/careline/portal/internal/domain/messaging"
	"github.com/careline/portal/internal/domain/notification"
	"github.com/careline/portal/internal/domain/patient"
	"github.com/careline/portal/internal/domain/portal"
	"github.com/careline/portal/internal/domain/scheduling"
	"github.com/careline/portal/internal/domain/task"
	"github.com/careline/portal/internal/platform/apperror"
	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/internal/platform/db"
	"github.com/careline/portal/internal/platform/identity"
	"github.com/careline/portal/internal/platform/jobs"
	"github.com/careline/portal/internal/platform/metrics"
	"github.com/careline/portal/internal/platform/middleware"
	templates "github.com/careline/portal/internal/platform/notification"
	"github.com/careline/portal/internal/platform/webhook"
	"github.com/careline/portal/migrations"
)

const (
	functionsPrefix = "/functions/v1"
	scanTimeout     = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
	bodyLimit       = "1M"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Clinic patient portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the notification scan job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one notification scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
			defer cancel()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			scanner, err := newScanner(cfg, pool, identity.NewRoleStore(pool), logger)
			if err != nil {
				return err
			}
			n, err := scanner.Scan(ctx)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			fmt.Printf("Created %d notification(s).\n", n)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	})

	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// setup loads and validates configuration and builds the process logger.
func setup() (*config.Config, zerolog.Logger, error) {
	logger := newLogger(os.Getenv("ENV"))
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, newLogger(cfg.Env), nil
}

func newIdentityProvider(cfg *config.Config, pool *pgxpool.Pool) identity.Provider {
	if cfg.ResolvedIdentityProvider() == "supabase" {
		return identity.NewSupabaseProvider(cfg.SupabaseURL, cfg.ServiceRoleKey, nil)
	}
	return identity.NewLocalProvider(pool)
}

func jwtConfig(cfg *config.Config, roles auth.RoleLookup, logger zerolog.Logger) auth.JWTConfig {
	return auth.JWTConfig{
		SigningKey: []byte(cfg.JWTSecret),
		Audience:   "authenticated",
		Roles:      roles,
		Logger:     logger,
	}
}

// apiAuth authenticates /api/v1. Development lets anonymous requests in as
// staff so the API can be exercised without a token.
func apiAuth(cfg *config.Config, jwtCfg auth.JWTConfig) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// apiCORS applies the configured origins everywhere except the function
// endpoints, which answer with their own wildcard headers.
func apiCORS(cfg *config.Config) echomw.CORSConfig {
	return echomw.CORSConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, functionsPrefix+"/")
		},
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "apikey"},
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func newScanner(cfg *config.Config, pool *pgxpool.Pool, roles notification.RecipientSource, logger zerolog.Logger) (*notification.Scanner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return notification.NewScanner(
		roles,
		notification.NewEventSourcePG(pool),
		notification.NewRepoPG(pool),
		templates.NewTemplateEngine(),
		logger,
		notification.WithLocation(loc),
	), nil
}

// scanTrigger runs the scan through the runner so an HTTP trigger never
// overlaps a scheduled run. A trigger that lands on a running scan reports
// zero; the running scan creates the alerts.
func scanTrigger(runner *jobs.Runner, logger zerolog.Logger) notification.ScanFunc {
	return func(ctx context.Context) (int, error) {
		n, ran, err := runner.RunOnce(ctx)
		if !ran {
			logger.Info().Int64("skipped_ticks", runner.Skipped()).Msg("notification scan already running, trigger skipped")
			return 0, nil
		}
		return n, err
	}
}

func runServer() error {
	cfg, logger, err := setup()
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	roleStore := identity.NewRoleStore(pool)
	jwtCfg := jwtConfig(cfg, roleStore, logger)
	serviceAuth := auth.ServiceKeyOrJWT(cfg.ServiceRoleKey, jwtCfg)

	// Outbound SMS webhooks
	dispatcher := webhook.NewDispatcher(cfg.SMSWebhookURL, cfg.SMSWebhookSecret, logger,
		webhook.WithMaxRetries(cfg.WebhookRetries),
		webhook.WithQueueSize(cfg.WebhookQueueSize),
	)
	if !cfg.WebhookEnabled() {
		logger.Warn().Msg("SMS_WEBHOOK_URL not set, invitation and message SMS will not be sent")
	}
	// Stopped by Shutdown below so the queue drains after the signal.
	dispatcher.Start(context.Background())

	// Repositories
	patientRepo := patient.NewRepoPG(pool)
	invitationRepo := invitation.NewRepoPG(pool)
	appointmentRepo := scheduling.NewRepoPG(pool)
	taskRepo := task.NewRepoPG(pool)
	messageRepo := messaging.NewRepoPG(pool)
	notificationRepo := notification.NewRepoPG(pool)

	// Services
	patientSvc := patient.NewService(patientRepo)
	invitationSvc := invitation.NewService(
		patientRepo,
		invitationRepo,
		newIdentityProvider(cfg, pool),
		roleStore,
		dispatcher,
		invitation.Config{AppBaseURL: cfg.AppBaseURL, TTL: cfg.InvitationTTL},
		logger,
		invitation.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		}),
	)
	schedulingSvc := scheduling.NewService(appointmentRepo, logger)
	taskSvc := task.NewService(taskRepo)
	messagingSvc := messaging.NewService(messageRepo, patientRepo, dispatcher, logger)
	portalSvc := portal.NewService(patientSvc, schedulingSvc, messagingSvc)
	notificationSvc := notification.NewService(notificationRepo)

	// Notification scan job
	scanner, err := newScanner(cfg, pool, roleStore, logger)
	if err != nil {
		return err
	}
	runner := jobs.NewRunner("notification-scan", cfg.ScanInterval, scanner.Scan, logger,
		jobs.WithTimeout(scanTimeout))
	runner.Start(ctx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(apiCORS(cfg)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Function endpoints carry their own CORS headers and preflight handling.
	fn := e.Group(functionsPrefix, middleware.FunctionCORS())
	createAuth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return serviceAuth(auth.RequireRole(auth.RoleStaff, auth.RoleService)(next))
	}
	invitationHandler := invitation.NewHandler(invitationSvc, createAuth)
	invitationHandler.RegisterFunctionRoutes(fn, middleware.RateLimit(rateLimitConfig(cfg)))
	notificationHandler := notification.NewHandler(notificationSvc, scanTrigger(runner, logger), logger)
	notificationHandler.RegisterFunctionRoutes(fn, serviceAuth)
	messagingHandler := messaging.NewHandler(messagingSvc)
	messagingHandler.RegisterInboundRoutes(fn, middleware.SignedWebhook(cfg.SMSWebhookSecret, serviceAuth))

	api := e.Group("/api/v1", apiAuth(cfg, jwtCfg))

	patient.NewHandler(patientSvc).RegisterRoutes(api)
	invitationHandler.RegisterRoutes(api)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(api)
	task.NewHandler(taskSvc).RegisterRoutes(api)
	messagingHandler.RegisterRoutes(api)
	notificationHandler.RegisterRoutes(api)
	portal.NewHandler(portalSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("webhook queue not drained")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
