package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/msgsearch-go/internal/config"
	"github.com/aihub/msgsearch-go/internal/consul"
	"github.com/aihub/msgsearch-go/internal/database"
	"github.com/aihub/msgsearch-go/internal/di"
	"github.com/aihub/msgsearch-go/internal/kafka"
	"github.com/aihub/msgsearch-go/internal/logger"
	"github.com/aihub/msgsearch-go/internal/semantic"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks    []func() error
	serviceRegistry *consul.ServiceRegistry
}

// Init bootstraps configuration, logger, the vector index and other shared
// infrastructure components required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	// Initialize Redis (optional). Failure degrades the embedding cache to
	// an in-process cache instead of blocking the app.
	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis, embedding cache degrades to in-process", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			return database.CloseRedis()
		})
	}

	// Build the dependency graph.
	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		return nil, err
	}

	// Ensure the vector collection exists with the expected schema before
	// serving any traffic. A schema mismatch is fatal here.
	err := container.Invoke(func(index semantic.VectorIndex) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return index.EnsureCollection(ctx)
	})
	if err != nil {
		logger.Error("failed to ensure vector collection", zap.Error(err))
		return nil, err
	}

	// Initialize Kafka (optional). Failure shouldn't block the app.
	if config.AppConfig.Kafka.Enabled {
		if err := app.initKafka(); err != nil {
			logger.Warn("Failed to initialize Kafka, ingestion falls back to HTTP only", zap.Error(err))
		}
	}

	// Register service with Consul.
	if config.AppConfig.Consul.Enabled {
		registry, err := consul.NewServiceRegistry(config.AppConfig.Consul, logger.GetLogger())
		if err != nil {
			logger.Warn("Failed to create Consul registry", zap.Error(err))
		} else if err := registry.Register(config.AppConfig.Server); err != nil {
			logger.Warn("Failed to register service with Consul", zap.Error(err))
		} else {
			app.serviceRegistry = registry
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				return registry.Deregister()
			})
		}
	}

	return app, nil
}

// initKafka wires the ingestion pipeline to the message event topics.
func (a *App) initKafka() error {
	cfg := config.AppConfig.Kafka

	producer, err := kafka.NewProducer(cfg.Brokers)
	if err != nil {
		return err
	}
	a.cleanupTasks = append(a.cleanupTasks, producer.Close)

	var pipeline *semantic.IngestionPipeline
	if err := di.Invoke(func(p *semantic.IngestionPipeline) {
		pipeline = p
	}); err != nil {
		return err
	}

	topics := []string{cfg.MessagesTopic, cfg.RetryTopic, cfg.DeletesTopic}
	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, topics)
	if err != nil {
		return err
	}

	ingestHandler := kafka.IngestHandler(pipeline, producer, cfg.RetryTopic)
	consumer.RegisterHandler(cfg.MessagesTopic, ingestHandler)
	consumer.RegisterHandler(cfg.RetryTopic, ingestHandler)
	consumer.RegisterHandler(cfg.DeletesTopic, kafka.DeleteHandler(pipeline))
	consumer.Start()

	a.cleanupTasks = append(a.cleanupTasks, consumer.Close)
	return nil
}

// Shutdown runs cleanup tasks in reverse registration order.
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("cleanup task failed", zap.Error(err))
		}
	}
	logger.Sync()
}
