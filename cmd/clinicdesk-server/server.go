package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/config"
	"github.com/clinicdesk/clinicdesk/internal/domain/catalog"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/domain/staff"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/blobstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/logging"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/platform/validation"
)

const defaultBodyLimit = "1M"

// app holds everything the router needs.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	metrics     *metrics.Collector
	tokens      *auth.TokenIssuer
	revocations auth.RevocationStore
	catalog     *catalog.Service
	patients    *patient.Service
	staff       *staff.Service
	// readiness serves /health/db.
	readiness echo.HandlerFunc
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(defaultBodyLimit, middleware.FormatBytes(a.cfg.PhotoMaxBytes)))
	if a.cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))
	}

	// Auth middleware
	jwtCfg := a.tokens.JWTConfig(a.revocations)
	if a.cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Audit middleware
	e.Use(middleware.Audit(a.logger, a.metrics))

	// Health and metrics
	e.GET("/health", db.LivenessHandler(version))
	if a.readiness != nil {
		e.GET("/health/db", a.readiness)
	}
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	staff.NewHandler(a.staff).RegisterRoutes(apiV1, middleware.RateLimit(middleware.LoginRateLimitConfig()))
	catalog.NewHandler(a.catalog).RegisterRoutes(apiV1)
	patient.NewHandler(a.patients).RegisterRoutes(apiV1)

	return e
}

func newRevocationStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.RevocationStore, func(), error) {
	if cfg.RedisURL == "" {
		store := auth.NewMemoryRevocationStore()
		logger.Warn().Msg("REDIS_URL not set; token revocations are kept in memory")
		return store, store.Close, nil
	}
	rdb, err := auth.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRedisRevocationStore(rdb), func() { rdb.Close() }, nil
}

func newPhotoStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
	case "memory", "":
		return blobstore.NewMemoryStore(cfg.PhotoMaxBytes), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// watchPool exports pool gauges until ctx is done.
func watchPool(ctx context.Context, pool *pgxpool.Pool, m *metrics.Collector, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		s := db.GetPoolStats(pool)
		m.SetPoolConns(s.TotalConns, s.IdleConns, s.AcquiredConns)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, Env: cfg.Env, File: cfg.LogFile})
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	revocations, closeRevocations, err := newRevocationStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer closeRevocations()

	photos, err := newPhotoStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise photo storage")
		return err
	}

	secret := cfg.JWTSecret
	if secret == "" {
		// Only reachable in development; Validate requires JWT_SECRET otherwise.
		secret = "clinicdesk-development-secret-do-not-use"
	}
	tokens := auth.NewTokenIssuer(cfg.JWTIssuer, []byte(secret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	collector := metrics.New()

	// Services
	catalogSvc := catalog.NewService(
		catalog.NewRepoPG(pool, catalog.KindRegion),
		catalog.NewRepoPG(pool, catalog.KindDiseaseType),
	)

	patientSvc := patient.NewService(
		patient.NewPatientRepoPG(pool),
		patient.NewAppointmentRepoPG(pool),
		patient.NewPaymentRepoPG(pool),
		db.NewTransactor(pool),
	)
	patientSvc.SetRefChecker(catalogSvc)
	patientSvc.SetPhotoStore(photos)
	patientSvc.SetRecorder(collector)
	patientSvc.SetLocation(loc)
	patientSvc.SetLogger(logger.With().Str("component", "patient").Logger())

	staffSvc := staff.NewService(staff.NewUserRepoPG(pool), tokens, revocations)
	staffSvc.SetRecorder(collector)
	staffSvc.SetLogger(logger.With().Str("component", "staff").Logger())

	e := newEcho(&app{
		cfg:         cfg,
		logger:      logger,
		metrics:     collector,
		tokens:      tokens,
		revocations: revocations,
		catalog:     catalogSvc,
		patients:    patientSvc,
		staff:       staffSvc,
		readiness:   db.ReadinessHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }),
	})

	go watchPool(ctx, pool, collector, 15*time.Second)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
