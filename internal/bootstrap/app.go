package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"mediassist/internal/app"
	"mediassist/internal/backend"
	"mediassist/internal/cache"
	"mediassist/internal/config"
	"mediassist/internal/model"
	mysqlClient "mediassist/internal/platform/mysql"
	rabbitmqClient "mediassist/internal/platform/rabbitmq"
	redisClient "mediassist/internal/platform/redis"
	"mediassist/internal/repository"
	"mediassist/internal/worker"
)

const janitorInterval = time.Minute

type App struct {
	Config         *config.Config
	MySQL          *gorm.DB
	Redis          *redis.Client
	MQConn         *amqp.Connection
	EventPublisher *rabbitmqClient.EventPublisher
	EventWorker    *worker.EventPersistWorker
	Backend        *backend.Client

	AuthService      *app.AuthService
	AssistantService *app.AssistantService

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, StartedAt: time.Now()}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(),
		&model.Profile{},
		&model.AssistantSession{},
		&model.ChatMessage{},
		&model.ScanRecord{},
	)
	if err != nil {
		return nil, err
	}
	a.MySQL = mysqlDB

	redisCli, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.EventQueue)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.MQConn = mqConn

	a.EventWorker = worker.NewEventPersistWorker(mqConn, repository.NewEventRepository(mysqlDB), cfg.RabbitMQ.EventQueue)
	if err := a.EventWorker.Start(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("start event worker failed: %w", err)
	}
	a.EventPublisher = rabbitmqClient.NewEventPublisher(mqConn, cfg.RabbitMQ.EventQueue)

	a.Backend = backend.NewClient(cfg.Backend.BaseURL, cfg.BackendTimeout())

	a.AuthService = app.NewAuthService(
		repository.NewProfileRepository(mysqlDB),
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	a.AssistantService = app.NewAssistantService(app.AssistantDeps{
		Backend:   a.Backend,
		Store:     cache.NewRedisSessionStore(redisCli, cfg.SessionIDTTL()),
		Publisher: a.EventPublisher,
		Scans:     repository.NewScanRecordRepository(mysqlDB),
		Sessions:  repository.NewSessionRepository(mysqlDB),
		Messages:  repository.NewMessageRepository(mysqlDB),
	}, app.AssistantConfig{
		StoreKey:        cfg.Assistant.SessionKey,
		Greeting:        cfg.Assistant.Greeting,
		NotificationTTL: cfg.NotificationTTL(),
		MaxScanBytes:    cfg.Assistant.MaxScanBytes,
		PreviewEdge:     cfg.Assistant.PreviewMaxEdge,
		IdleTTL:         cfg.IdleSessionTTL(),
	})
	a.AssistantService.StartJanitor(janitorInterval)

	slog.Info("bootstrap complete", "backend", cfg.Backend.BaseURL)
	return a, nil
}

// Close releases resources in reverse start order.
func (a *App) Close() error {
	var closeErr error
	if a.AssistantService != nil {
		a.AssistantService.Close()
	}
	if a.EventPublisher != nil {
		if err := a.EventPublisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
