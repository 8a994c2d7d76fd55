package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/healthvault/registrar/internal/config"
	"github.com/healthvault/registrar/internal/domain/beneficiary"
	"github.com/healthvault/registrar/internal/domain/registration"
	"github.com/healthvault/registrar/internal/platform/auth"
	"github.com/healthvault/registrar/internal/platform/blobstore"
	"github.com/healthvault/registrar/internal/platform/db"
	"github.com/healthvault/registrar/internal/platform/events"
	"github.com/healthvault/registrar/internal/platform/metrics"
	"github.com/healthvault/registrar/internal/platform/middleware"
	"github.com/healthvault/registrar/internal/platform/notification"
	"github.com/healthvault/registrar/internal/platform/session"
	"github.com/healthvault/registrar/internal/platform/wizard"
)

const (
	defaultBodyLimit = 1 << 20
	shutdownTimeout  = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "registrar-server",
		Short: "Hospital registration wizard and review API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registration API server",
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
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.UsesPostgres() {
		return errors.New("DATABASE_URL is not set; registrations are kept in memory and need no migrations")
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, os.DirFS(dir)))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect wizard schemas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file.yaml ...]",
		Short: "Validate the built-in schemas and any extra schema files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkSchemas(cmd.OutOrStdout(), args)
		},
	})
	return cmd
}

// checkSchemas compiles the embedded schemas plus every file in paths and
// prints a one-line summary per schema. The first defect aborts the check.
func checkSchemas(w io.Writer, paths []string) error {
	describe(w, registration.HospitalSchema())

	forms, err := beneficiary.LoadForms()
	if err != nil {
		return fmt.Errorf("beneficiary forms: %w", err)
	}
	for _, kind := range beneficiary.Kinds {
		describe(w, forms[kind])
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		s, err := wizard.LoadSchema(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		describe(w, s)
	}
	return nil
}

func describe(w io.Writer, s *wizard.Schema) {
	sections := make([]string, 0, len(s.Steps))
	for _, st := range s.Steps {
		sections = append(sections, st.Section)
	}
	fmt.Fprintf(w, "ok  %-28s %d step(s) [%s] lists=%s\n", s.Name, s.StepCount(), strings.Join(sections, " > "), s.ListPolicy)
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage operator tokens",
	}
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an operator token with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := issueOperatorToken(cfg, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().String("subject", "", "Operator user id")
	issueCmd.Flags().StringSlice("role", []string{auth.RoleReviewer}, "Role to grant (repeatable)")
	issueCmd.Flags().Duration("ttl", 8*time.Hour, "Token lifetime")
	cmd.AddCommand(issueCmd)
	return cmd
}

func issueOperatorToken(cfg *config.Config, subject string, roles []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("--subject is required")
	}
	if cfg.AuthSigningKey == "" {
		return "", fmt.Errorf("AUTH_SIGNING_KEY is not set")
	}
	for _, r := range roles {
		switch r {
		case auth.RoleAdmin, auth.RoleReviewer, auth.RoleStaff:
		default:
			return "", fmt.Errorf("unknown role %q", r)
		}
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	return auth.IssueToken(operatorJWTConfig(cfg), subject, roles, ttl)
}

func operatorJWTConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     "registrar",
		Audience:   "registrar-operators",
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}

// operatorAuth picks the middleware for the operator routes. Development
// without a signing key falls back to the permissive dev middleware.
func operatorAuth(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(operatorJWTConfig(cfg))
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// buildPublisher always logs events and fans them out to Kafka and the
// webhook when configured. Health checkers for the remote sinks are added
// to checks.
func buildPublisher(cfg *config.Config, logger zerolog.Logger, checks map[string]db.Checker) (events.Publisher, error) {
	pubs := events.Multi{events.LogPublisher{Logger: logger.With().Str("component", "events").Logger()}}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, kp)
		checks["kafka"] = kp
	}
	if cfg.WebhookURL != "" {
		pubs = append(pubs, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return pubs, nil
}

func buildWallet(cfg *config.Config) *auth.WalletVerifier {
	if cfg.WalletSigningKey == "" {
		return nil
	}
	return auth.NewWalletVerifier([]byte(cfg.WalletSigningKey), cfg.WalletIssuer)
}

// janitorInterval sweeps a few times per idle window, but not more often
// than every ten seconds.
func janitorInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > 10*time.Second {
		return d
	}
	return 10 * time.Second
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]db.Checker{}

	// Registration storage
	var (
		pool *pgxpool.Pool
		repo registration.Repository
	)
	if cfg.UsesPostgres() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		checks["postgres"] = pool
		repo = registration.NewPGRepo(pool)
		logger.Info().Msg("connected to database")
	} else {
		repo = registration.NewMemoryRepo()
		logger.Warn().Msg("DATABASE_URL not set, registrations are kept in memory")
	}

	// Session contexts
	var sessions session.Store
	if cfg.RedisURL != "" {
		var client *redis.Client
		client, err = session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		rs := session.NewRedisStore(client, cfg.SessionTTL)
		checks["redis"] = rs
		sessions = rs
		logger.Info().Msg("connected to redis")
	} else {
		sessions = session.NewMemoryStore(cfg.SessionTTL)
	}

	publisher, err := buildPublisher(cfg, logger, checks)
	if err != nil {
		return err
	}
	defer publisher.Close()

	wallet := buildWallet(cfg)
	if wallet == nil {
		logger.Warn().Msg("WALLET_SIGNING_KEY not set, account attachment is disabled")
	}

	reg := metrics.NewRegistry()
	mailer := notification.NewMailer(
		notification.LogEmailSender{Logger: logger.With().Str("component", "mail").Logger()},
		notification.NewTemplateEngine(),
	)
	blobs := blobstore.NewInMemoryBlobStore(cfg.MaxUploadBytes)

	regSvc, err := registration.NewService(registration.Deps{
		Repo:      repo,
		Sessions:  sessions,
		Publisher: publisher,
		Mailer:    mailer,
		Wallet:    wallet,
		Blobs:     blobs,
		Metrics:   registration.NewMetrics(reg),
		Logger:    logger,
	}, registration.Settings{
		SubmitTimeout: cfg.SubmitTimeout,
		NoticeTTL:     cfg.NoticeTTL,
		IdleTTL:       cfg.SessionTTL,
	})
	if err != nil {
		return err
	}

	forms, err := beneficiary.LoadForms()
	if err != nil {
		return err
	}
	benSvc := beneficiary.NewService(beneficiary.NewMemoryRepo(), forms, publisher, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(defaultBodyLimit, cfg.MaxUploadBytes))
	e.Use(metrics.NewHTTPMetrics(reg).Middleware())

	e.GET("/health", db.HealthHandler(pool, checks))
	e.GET("/metrics", metrics.Handler(reg))

	public := e.Group("/api/v1")
	operators := e.Group("/api/v1", operatorAuth(cfg))

	registration.NewHandler(regSvc).RegisterRoutes(public, operators)
	beneficiary.NewHandler(benSvc).RegisterRoutes(operators)
	blobstore.NewBlobHandler(blobs).RegisterRoutes(operators.Group("", auth.RequireRole(auth.RoleReviewer)))

	addr := ":" + cfg.Port
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return regSvc.RunJanitor(gctx, janitorInterval(cfg.SessionTTL))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
