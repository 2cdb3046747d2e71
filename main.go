package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/handlers"
	"github.com/ceolin/mobilidade/backend/go-services/internal/config"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/handler"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/repository"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/service"
	"github.com/ceolin/mobilidade/backend/go-services/internal/oidc"
	"github.com/ceolin/mobilidade/backend/go-services/internal/storage"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/metrics"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, cleanup := newRouter(ctx, cfg)
	defer cleanup()

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("document gateway listening on %s (store=%s path=%s)", addr, cfg.Store.Backend, cfg.Store.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown: %v", err)
	}
}

// newRouter wires the gateway. A store that cannot be configured does not
// stop the server: every gateway request then reports the configuration error.
func newRouter(ctx context.Context, cfg *config.Config) (*gin.Engine, func()) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	r := gin.New()
	r.Use(middleware.RequestID(), gin.Logger(), gin.Recovery(), middleware.CORS(cfg.CORS.AllowedOrigins))

	checks := map[string]handlers.Check{}

	// Redis is only needed here for the shared rate limiter
	var rdb *redis.Client
	if cfg.RateLimit.Enabled && cfg.RateLimit.UseRedis && cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", cfg.Redis.Addr(), err)
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if cfg.RateLimit.Enabled {
		if rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	gateway, storeCheck := newGateway(ctx, cfg, &closers)
	checks["store"] = storeCheck

	var writeGuards []gin.HandlerFunc
	if cfg.Auth.ProtectWrites {
		verifier, err := oidc.FromConfig(ctx, cfg.Auth)
		switch {
		case err != nil:
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
			checks["oidc"] = func(context.Context) error { return err }
			writeGuards = append(writeGuards, unavailable("token verification is not available"))
		case verifier == nil:
			checks["oidc"] = func(context.Context) error { return errors.New("no verifier configured") }
			writeGuards = append(writeGuards, unavailable("token verification is not configured"))
		default:
			writeGuards = append(writeGuards, middleware.AuthMiddleware(verifier))
		}
	}
	gateway.Register(r, writeGuards...)

	handlers.RegisterSwagger(r)
	handlers.RegisterHealth(r, checks)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, cleanup
}

// newGateway opens the store and builds the handler, or an Unconfigured
// handler carrying the configuration error. The returned check reports
// whether the store can currently serve requests.
func newGateway(ctx context.Context, cfg *config.Config, closers *[]func()) (*handler.Handler, handlers.Check) {
	store, closeStore, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Errorf("document store is not configured: %v", err)
		return handler.Unconfigured(err), func(context.Context) error { return err }
	}
	*closers = append(*closers, closeStore)
	check := func(context.Context) error { return nil }
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		check = p.Ping
	}

	opts := []service.Option{
		service.WithShapeValidation(cfg.Store.ValidateShape),
		service.WithCommitPrefix(cfg.Store.CommitMessage),
	}
	if cfg.MinIO.Enabled {
		archive, err := storage.NewSnapshotArchive(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("snapshot archive disabled: %v", err)
		} else {
			opts = append(opts, service.WithArchiver(archive))
			logger.Infof("archiving snapshots to minio bucket %s", cfg.MinIO.Bucket)
		}
	}
	svc := service.New(store, cfg.Store.Path, opts...)
	return handler.New(svc, cfg.Store.Timeout), check
}

func unavailable(msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": msg})
	}
}
