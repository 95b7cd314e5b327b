package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/kidguard-api/api/swagger"
	"github.com/noah-isme/kidguard-api/internal/handler"
	"github.com/noah-isme/kidguard-api/internal/middleware"
	"github.com/noah-isme/kidguard-api/internal/repository"
	"github.com/noah-isme/kidguard-api/internal/service"
	"github.com/noah-isme/kidguard-api/pkg/cache"
	"github.com/noah-isme/kidguard-api/pkg/config"
	"github.com/noah-isme/kidguard-api/pkg/database"
	"github.com/noah-isme/kidguard-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/kidguard-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/kidguard-api/pkg/middleware/requestid"
)

// @title KidGuard Pickup API
// @version 1.0.0
// @description School pickup authorization: guardian registry and single-use pickup tokens
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	linkRepo := repository.NewGuardianshipRepository(db)
	pickupRepo := repository.NewPickupRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Pickup.HistoryCacheTTL, logr, cacheRepo.Enabled())
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:            cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Expiry:            cfg.JWT.Expiration,
		SeedAdminEmail:    cfg.Seed.AdminEmail,
		SeedAdminPassword: cfg.Seed.AdminPassword,
	})
	userSvc := service.NewUserService(userRepo, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	registrySvc := service.NewGuardianshipService(linkRepo, userRepo, studentRepo, validate, logr, service.GuardianshipConfig{
		AdminBypass: cfg.Pickup.AdminLinkBypass,
	})
	pickupSvc := service.NewPickupService(pickupRepo, linkRepo, cacheSvc, metricsSvc, validate, logr, service.PickupConfig{
		TokenTTL:           cfg.Pickup.TokenTTL,
		RateLimitPerMinute: cfg.Pickup.RateLimitPerMinute,
		HistoryCacheTTL:    cfg.Pickup.HistoryCacheTTL,
	})

	checks := map[string]handler.Pinger{"postgres": db}
	if cacheRepo.Enabled() {
		checks["redis"] = handler.PingFunc(cacheRepo.Ping)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metricsSvc))
	}

	handler.Register(r, cfg.APIPrefix, handler.Handlers{
		Auth:     handler.NewAuthHandler(authSvc),
		Users:    handler.NewUserHandler(userSvc),
		Students: handler.NewStudentHandler(studentSvc),
		Guardian: handler.NewGuardianHandler(registrySvc),
		Pickup:   handler.NewPickupHandler(pickupSvc),
		Metrics:  handler.NewMetricsHandler(metricsSvc, checks),
	}, authSvc, cfg.Metrics.Enabled)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
