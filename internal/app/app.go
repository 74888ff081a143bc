package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/throttlecove/throttlecove/internal/config"
	"github.com/throttlecove/throttlecove/internal/http/handler"
	"github.com/throttlecove/throttlecove/internal/http/middleware"
	"github.com/throttlecove/throttlecove/internal/http/router"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/repository"
	"github.com/throttlecove/throttlecove/internal/security"
	"github.com/throttlecove/throttlecove/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *gorm.DB
	Server        *http.Server
	Sessions      repository.SessionRepository
	Observability *observability.Runtime
}

// New wires the whole service: stores, hasher, token issuer, lockout
// policy, auth service, handlers, router and the HTTP server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := repository.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)

	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	issuer := security.NewTokenIssuer(cfg.JWTIssuer, cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	lockout := service.NewLockoutPolicy(users, cfg.MaxLoginAttempts, cfg.LockoutDuration)
	auth := service.NewAuthService(users, sessions, hasher, issuer, lockout, cfg.RefreshTokenPepper)

	var limiter middleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		limiter = middleware.NewRedisFixedWindowLimiter(client, "throttlecove")
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}

	h := router.New(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth),
		AdminHandler:     handler.NewAdminHandler(sessions),
		TokenIssuer:      issuer,
		RateLimiter:      limiter,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		ReadyCheck: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
		EnableOTelHTTP: cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Server:        server,
		Sessions:      sessions,
		Observability: runtime,
	}, nil
}

// Run serves HTTP and sweeps expired sessions until ctx is cancelled, then
// shuts both down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.Config.SessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				removed, err := a.Sessions.CleanupExpired()
				if err != nil {
					a.Logger.Error("session sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					a.Logger.Info("session sweep", "removed", removed)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := a.Server.Shutdown(shutdownCtx)
		if obsErr := a.Observability.Shutdown(shutdownCtx); obsErr != nil {
			a.Logger.Warn("observability shutdown", "error", obsErr)
		}
		return err
	})

	return g.Wait()
}
