package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chantier-intranet/internal/accounts"
	"chantier-intranet/internal/audit"
	"chantier-intranet/internal/auth"
	"chantier-intranet/internal/config"
	"chantier-intranet/internal/gateway"
	"chantier-intranet/internal/httpapi"
	"chantier-intranet/internal/obs"
	"chantier-intranet/internal/ratelimit"
	"chantier-intranet/internal/rbac"
	"chantier-intranet/internal/resources"
	"chantier-intranet/pkg/logger"
	"chantier-intranet/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.JWTSecret == config.InsecureDefaultJWTSecret {
		log.Warn("JWT_SECRET not set, using insecure default")
	}

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics := obs.NewMetrics()

	var store ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = ratelimit.NewRedisStore(rdb, "rl", time.Now)
	default:
		store = ratelimit.NewMemoryStore(time.Now)
	}
	limiter := ratelimit.New(store, map[ratelimit.Scope]ratelimit.Policy{
		ratelimit.ScopeLogin: {Limit: cfg.RateLimit.Login.Limit, Window: cfg.RateLimit.Login.Window},
		ratelimit.ScopeAPI:   {Limit: cfg.RateLimit.API.Limit, Window: cfg.RateLimit.API.Window},
	}, log)
	go ratelimit.RunSweeper(rootCtx, limiter, cfg.RateLimit.SweepInterval, log)

	directory := accounts.NewPostgresRepo(db)
	resourceRepo := resources.NewRepository(db)
	owners := rbac.NewRegistry()
	resourceRepo.RegisterOwners(owners)

	auditRepo := audit.NewPostgresRepo(db)
	recorder := audit.NewRecorder(auditRepo, log,
		audit.WithTimeout(cfg.Gateway.AuditTimeout),
		audit.WithFailureObserver(metrics),
	)

	cookie := auth.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}
	gw, err := gateway.New(gateway.Deps{
		Limiter:          limiter,
		Tokens:           tokens,
		Directory:        directory,
		Authorizer:       rbac.NewAuthorizer(owners),
		Audit:            recorder,
		Observer:         metrics,
		Log:              log,
		Cookie:           cookie,
		DirectoryTimeout: cfg.Gateway.DirectoryTimeout,
	})
	if err != nil {
		log.Error("gateway init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Tokens:      tokens,
		Credentials: directory,
		Resources:   resourceRepo,
		AuditLog:    auditRepo,
		Audit:       recorder,
		Cookie:      cookie,
	}

	// Gin router
	r := gin.New()
	// Rate-limit keys come from ClientIP; only listed proxies may set X-Forwarded-For.
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		log.Error("trusted proxies invalid", "err", err)
		os.Exit(1)
	}
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())

	registerRoutes(r, gw, h, metrics, func(ctx context.Context) error {
		return utils.HealthCheck(ctx, db, 2*time.Second)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "rate_limit_backend", cfg.RateLimit.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
