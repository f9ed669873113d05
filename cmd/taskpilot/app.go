package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/dispatcher"
	"taskpilot/internal/email"
	apihttp "taskpilot/internal/http"
	"taskpilot/internal/queue"
	"taskpilot/internal/repository"
	"taskpilot/internal/service"
)

// app agrupa las conexiones de proceso; se construye una vez por comando.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	queue  queue.Queue
}

func bootstrap() (*app, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) connectDB(ctx context.Context) error {
	pool, err := db.NewPool(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := db.Ping(pingCtx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("db ping: %w", err)
	}
	a.pool = pool
	return nil
}

// connectRedis es opcional: sin redis los stores quedan en memoria de proceso.
func (a *app) connectRedis(ctx context.Context) {
	if a.cfg.RedisAddr == "" {
		a.logger.Warn("redis not configured, using in-process stores")
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis ping failed, using in-process stores", zap.Error(err))
		_ = client.Close()
		return
	}
	a.redis = client
}

func (a *app) openQueue() error {
	switch a.cfg.QueueBackend {
	case config.QueueBackendRedis:
		if a.redis == nil {
			return errors.New("queue backend redis requires a reachable REDIS_ADDR")
		}
		a.queue = queue.NewRedisQueue(a.redis, a.logger)
	case config.QueueBackendNATS:
		q, err := queue.NewNATSQueue(a.cfg.NATSURL, a.logger, a.dispatcherConfig().RetryBudget()+a.cfg.MailTimeout)
		if err != nil {
			return fmt.Errorf("nats queue: %w", err)
		}
		a.queue = q
	case config.QueueBackendMemory, "":
		if !a.cfg.EmbedDispatcher {
			a.logger.Warn("memory queue without embedded dispatcher: jobs will not be delivered")
		}
		a.queue = queue.NewMemoryQueue()
	default:
		return fmt.Errorf("unknown queue backend %q", a.cfg.QueueBackend)
	}
	a.logger.Info("email queue ready", zap.String("backend", a.cfg.QueueBackend))
	return nil
}

func (a *app) services() (*service.AuthService, *service.UserService) {
	cfg := a.cfg
	users := repository.NewPgUserRepository(a.pool, cfg.StoreTimeout)
	hasher := service.NewBcryptHasher(cfg.BcryptCost)

	var (
		tokens   repository.VerificationTokenRepository
		sessions service.SessionStore
		limiter  service.RequestLimiter
	)
	if a.redis != nil {
		tokens = repository.NewRedisVerificationTokenRepository(a.redis, cfg.StoreTimeout)
		sessions = service.NewRedisSessionStore(a.redis, cfg.StoreTimeout)
		limiter = service.NewRedisRequestLimiter(a.redis, cfg.AuthRateWindow, cfg.AuthRateMax)
	} else {
		tokens = repository.NewMemoryVerificationTokenRepository()
		sessions = service.NewMemorySessionStore()
		limiter = service.NewMemoryRequestLimiter(cfg.AuthRateWindow, cfg.AuthRateMax)
	}

	authSvc := service.NewAuthService(
		a.logger,
		users,
		tokens,
		service.NewTokenCodec(service.StaticSecret(cfg.JWTSecret)),
		hasher,
		a.queue,
		sessions,
		limiter,
		service.AuthConfig{
			VerificationTTL: cfg.VerificationTTL,
			SessionTTL:      cfg.SessionTTL,
			EnqueueTimeout:  cfg.StoreTimeout,
		},
	)
	userSvc := service.NewUserService(a.logger, users, hasher)
	return authSvc, userSvc
}

func (a *app) transport() email.Transport {
	cfg := a.cfg
	if cfg.SMTPHost != "" {
		t, err := email.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS, cfg.MailTimeout)
		if err == nil {
			return t
		}
		a.logger.Warn("smtp transport init failed", zap.Error(err))
	}
	if cfg.IsDevelopment() {
		return email.NewLogTransport(a.logger)
	}
	return email.NewDisabledTransport("email transport not configured")
}

func (a *app) dispatcher() (*dispatcher.Dispatcher, error) {
	renderer, err := email.NewRenderer(a.cfg.FrontendURL)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(
		a.logger,
		a.queue,
		renderer,
		a.transport(),
		dispatcher.NewMetrics(nil),
		a.dispatcherConfig(),
	), nil
}

func (a *app) dispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Workers:       a.cfg.MailWorkers,
		RatePerSecond: a.cfg.MailRatePerSecond,
		MaxAttempts:   a.cfg.MailMaxAttempts,
		RetryBase:     a.cfg.MailRetryBase,
		SendTimeout:   a.cfg.MailTimeout,
	}
}

func (a *app) readinessChecks() map[string]apihttp.CheckFunc {
	checks := map[string]apihttp.CheckFunc{}
	if a.pool != nil {
		pool := a.pool
		checks["postgres"] = func(ctx context.Context) error { return db.Ping(ctx, pool) }
	}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

func (a *app) close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
