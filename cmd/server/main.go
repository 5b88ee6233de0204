package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"booking-engine/internal/app"
	"booking-engine/internal/calendar"
	"booking-engine/internal/config"
	"booking-engine/internal/events"
	"booking-engine/internal/logging"
	"booking-engine/internal/ratelimit"
	"booking-engine/internal/server"
	"booking-engine/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "booking-engine")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	var ready []app.ReadyCheck

	var limiter ratelimit.Store = ratelimit.NewMemory(cfg.RateLimitPerMin)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimitPerMin, "booking:rl")
		ready = append(ready, app.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var publisher events.Publisher = events.Nop{}
	if brokers := config.List(cfg.KafkaBrokers); len(brokers) > 0 {
		kp, err := events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		publisher = kp
		ready = append(ready, app.ReadyCheck{Name: "kafka", Check: events.ReadyCheck(brokers)})
	}
	defer func() { _ = publisher.Close() }()

	oauthCfg := calendar.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	if oauthCfg == nil {
		logger.Info("Google Calendar integration disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	a := app.New(store, logger, app.Options{
		DuplicateWindow: cfg.DuplicateWindow,
		ProposalTTL:     cfg.ProposalTTL,
		Auth:            app.AuthConfig{JWTSecret: cfg.JWTSecret, StaticTokens: config.List(cfg.StaticTokens)},
		CORSOrigins:     config.List(cfg.CORSAllowedOrigins),
		TrustedProxies:  config.List(cfg.TrustedProxies),
		Calendar:        calendar.NewSyncer(oauthCfg, store, logger),
		Events:          publisher,
		Limiter:         limiter,
		Ready:           ready,
	})

	if err := server.Run(ctx, a.Router(), cfg.AppPort, logger); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
}
