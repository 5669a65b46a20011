package main

import (
	"context"
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

	"github.com/openimagingdata/ipl/internal/config"
	"github.com/openimagingdata/ipl/internal/domain/findinginfo"
	"github.com/openimagingdata/ipl/internal/domain/problemlist"
	"github.com/openimagingdata/ipl/internal/platform/auth"
	"github.com/openimagingdata/ipl/internal/platform/cache"
	"github.com/openimagingdata/ipl/internal/platform/db"
	"github.com/openimagingdata/ipl/internal/platform/mapping"
	"github.com/openimagingdata/ipl/internal/platform/metrics"
	"github.com/openimagingdata/ipl/internal/platform/middleware"
	"github.com/openimagingdata/ipl/internal/platform/reportstore"
	"github.com/openimagingdata/ipl/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ipl-server",
		Short: "Imaging problem list API server and tools",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(eflCmd())
	rootCmd.AddCommand(iplCmd())
	rootCmd.AddCommand(findingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the problem list API server",
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
			schema, _ := cmd.Flags().GetString("schema")
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS, schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

// openPool connects to DATABASE_URL for the CLI commands that need it.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

// deps are the collaborators the HTTP server is assembled from.
type deps struct {
	records  problemlist.RecordRepository
	pool     *pgxpool.Pool
	cache    cache.Cache
	reports  reportstore.Store
	mappings *mapping.Store
	catalog  *findinginfo.Catalog
	metrics  *metrics.Collectors
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise server")
	}
	defer cleanup()

	if cfg.WatchMappings && (cfg.RegionMappingFile != "" || cfg.ExamTypeMappingFile != "") {
		w, err := mapping.NewWatcher(d.mappings, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("mapping hot reload disabled")
		} else {
			go w.Run(ctx)
			logger.Info().Msg("watching mapping files for changes")
		}
	}

	e, err := newServer(cfg, d, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("data_source", cfg.DataSource).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildDeps connects the record source, cache, report store and mapping
// tables selected by cfg. The returned cleanup releases connections.
func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, func(), error) {
	d := &deps{metrics: metrics.NewCollectors(nil)}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.DataSource {
	case config.DataSourcePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect to database: %w", err)
		}
		closers = append(closers, pool.Close)
		d.pool = pool
		d.records = problemlist.NewRecordRepoPG(pool)
		logger.Info().Msg("connected to database")
	case config.DataSourceHTTP:
		d.records = problemlist.NewRecordRepoHTTP(cfg.RemoteDataURL, cfg.RequestTimeout)
	default:
		d.records = problemlist.NewRecordRepoFile(cfg.DataDir)
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { rc.Close() })
		d.cache = rc
	} else {
		d.cache = cache.NewMemory(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	if cfg.ReportStore == config.ReportStoreMinio {
		rs, err := reportstore.NewMinio(ctx, reportstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("connect to report store: %w", err)
		}
		d.reports = rs
	}

	store, err := mapping.NewStore(cfg.RegionMappingFile, cfg.ExamTypeMappingFile, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("load mappings: %w", err)
	}
	store.SetObserver(d.metrics)
	d.mappings = store

	if cfg.FindingInfoFile != "" {
		defs, err := findinginfo.LoadDefinitions(cfg.FindingInfoFile)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("load finding info: %w", err)
		}
		d.catalog = findinginfo.NewCatalog(defs)
		if cfg.RegionMappingFile == "" {
			store.SetRegionTable(findinginfo.RegionTable(defs))
		}
		logger.Info().Int("findings", d.catalog.Len()).Msg("loaded finding info")
	}

	return d, cleanup, nil
}

// authMiddleware picks the authentication middleware for the resolved
// auth mode. Public paths skip authentication in every mode.
func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch mode := cfg.ResolvedAuthMode(); mode {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware(auth.AuthSkipper), nil
	case config.AuthModeExternal:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}), nil
	case config.AuthModeStatic:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

func newServer(cfg *config.Config, d *deps, logger zerolog.Logger) (*echo.Echo, error) {
	vocab, err := problemlist.ParseVocabulary(cfg.StatusVocabulary)
	if err != nil {
		return nil, err
	}
	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	svc := problemlist.NewService(d.records, vocab, logger)
	if d.cache != nil {
		svc.SetCache(d.cache, cfg.CacheTTL)
	}
	if d.reports != nil {
		svc.SetReportStore(d.reports)
	}
	if d.mappings != nil {
		svc.SetRegionTables(d.mappings)
		svc.SetExamTypes(d.mappings)
	}
	if d.metrics != nil {
		svc.SetRecorder(d.metrics)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if d.metrics != nil {
		e.Use(d.metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{HSTS: cfg.IsProduction()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-None-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	}
	e.Use(authMW)
	e.Use(middleware.Audit(logger, "/api/v1/", nil))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg), middleware.ETag())

	problemlist.NewHandler(svc).RegisterRoutes(apiV1)
	findinginfo.NewHandler(d.catalog).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":      "ok",
			"version":     version,
			"data_source": cfg.DataSource,
			"vocabulary":  string(vocab),
		})
	})
	if d.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.pool))
	}
	if d.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))
	}

	return e, nil
}
