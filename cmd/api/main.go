package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/db"
	apihttp "taskboard/internal/http"
	"taskboard/internal/realtime"
	"taskboard/internal/repository"
	"taskboard/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("db schema", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)
	taskRepo := repository.NewPgTaskRepository(pool)

	var authLimiter service.AuthRateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			authLimiter = service.NewRedisAuthRateLimiter(redisClient, time.Minute, 10)
		}
		cancel()
	}

	tokenSvc := service.NewTokenService(cfg.JWTSecret, time.Duration(cfg.JWTTTLHours)*time.Hour)

	var googleVerifier service.GoogleTokenVerifier
	if cfg.GoogleClientID != "" {
		googleVerifier = service.NewGoogleTokenVerifier(cfg.GoogleClientID)
	} else {
		logger.Warn("google client id not configured, google login disabled")
	}

	var githubExchanger service.GitHubExchanger
	if cfg.GitHubClientID != "" {
		githubExchanger = service.NewGitHubExchanger(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)
	} else {
		logger.Warn("github client id not configured, github login disabled")
	}

	identitySvc := service.NewIdentityService(logger, userRepo, googleVerifier, githubExchanger, authLimiter)

	registry := realtime.NewLocalRegistry()
	fanout := realtime.NewFanout(logger, registry)
	gateway := realtime.NewGateway(logger, tokenSvc, userRepo, taskRepo, registry, cfg.AllowedOrigins)

	taskSvc := service.NewTaskService(logger, taskRepo, userRepo, fanout)

	authHandler := apihttp.NewAuthHandler(logger, identitySvc, tokenSvc)
	taskHandler := apihttp.NewTaskHandler(logger, taskSvc)
	router := apihttp.NewRouter(logger, tokenSvc, authHandler, taskHandler, gateway)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
