package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/config"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/health"
	"flash-sale-reservation-service/internal/http/handler"
	"flash-sale-reservation-service/internal/http/middleware"
	"flash-sale-reservation-service/internal/http/router"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/payment"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/security"
	"flash-sale-reservation-service/internal/service"
)

// App owns every long-lived resource the service runs on. Build wires the
// graph once; Run drives it until a signal or a fatal server error.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Reaper        *service.Reaper
	Observability *observability.Runtime

	db    *gorm.DB
	redis redis.UniversalClient
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.SaleWindow{}, &domain.LineItem{}, &domain.Reservation{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	users := repository.NewUserRepository(db)
	sales := repository.NewSaleRepository(db)
	reservations := repository.NewReservationRepository(db)

	jwtManager := security.NewJWTManager(cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret)
	sessions := service.NewRedisSessionStore(redisClient, "session")
	clk := clock.System()

	authSvc := service.NewAuthService(users, sessions, jwtManager, clk, service.AuthConfig{
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		RotationGrace: cfg.Auth.RotationGrace,
		ContextPepper: cfg.Auth.ContextPepper,
	})
	google := service.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, cfg.Auth.GoogleRedirectURL)

	gateway := payment.NewHTTPGateway(cfg.Payment.BaseURL, cfg.Payment.Secret, cfg.Payment.Timeout)
	notifier := service.NewRedisNotifier(redisClient, "events")

	saleSvc := service.NewSaleService(sales, reservations, clk)
	reservationSvc := service.NewReservationService(
		sales, reservations,
		service.NewRedisParticipationCache(redisClient, "participated"),
		gateway, notifier, clk,
		cfg.Sale.HoldDuration, cfg.Payment.CallbackURL,
	)
	settlementSvc := service.NewSettlementService(reservations, sales, gateway, notifier, clk, cfg.Payment.WebhookSecret)
	reaper := service.NewReaper(reservations, sales, notifier, clk,
		cfg.Sale.ReaperInterval, cfg.Sale.WindowSweepEvery, cfg.Sale.ReaperBatchSize)

	// Shared counters so every replica throttles the same buyer.
	redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, "ratelimit")
	globalLimiter := middleware.NewScopedRateLimiter(redisLimiter,
		cfg.Server.APIRateLimitRPM, time.Minute, middleware.FailOpen, "api", nil)
	authLimiter := middleware.NewScopedRateLimiter(redisLimiter,
		cfg.Auth.LoginRateLimitRPM, time.Minute, middleware.FailClosed, "auth", nil)
	reserveLimiter := middleware.NewScopedRateLimiter(redisLimiter,
		cfg.Sale.ReserveRateLimitRPM, time.Minute, middleware.FailClosed, "reserve", middleware.UserOrIPKeyFunc)

	readiness := health.NewProbeRunner(2*time.Second, 5*time.Second,
		health.NewDatabaseChecker(db),
		health.NewRedisChecker(redisClient),
	)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(authSvc, google),
		SaleHandler:        handler.NewSaleHandler(saleSvc),
		ReservationHandler: handler.NewReservationHandler(reservationSvc, settlementSvc),
		WebhookHandler:     handler.NewWebhookHandler(settlementSvc),
		Authenticator:      authSvc,

		CORSOrigins:         cfg.Server.CORSOrigins,
		APIRateLimitRPM:     cfg.Server.APIRateLimitRPM,
		AuthRateLimitRPM:    cfg.Auth.LoginRateLimitRPM,
		ReserveRateLimitRPM: cfg.Sale.ReserveRateLimitRPM,
		GlobalRateLimiter:   globalLimiter.Middleware(),
		AuthRateLimiter:     authLimiter.Middleware(),
		ReserveRateLimiter:  reserveLimiter.Middleware(),

		Readiness:      readiness,
		EnableOTelHTTP: cfg.OTEL.EnableOTelHTTP,
	})

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           http.TimeoutHandler(h, cfg.Server.RequestTimeout, "request timed out"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Reaper:        reaper,
		Observability: runtime,
		db:            db,
		redis:         redisClient,
	}, nil
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests and flushes telemetry before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "profile", a.Config.Server.Profile)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.Reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reaper: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down", "timeout", a.Config.Server.ShutdownTimeout)
		drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Observability.Shutdown(flushCtx); err != nil {
		a.Logger.Warn("observability shutdown", "error", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	switch cfg.Database.Driver {
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.Database.PostgresDSN()), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(cfg.Database.Path+"?_busy_timeout=5000&_journal_mode=WAL"), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		// under reservation bursts.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
