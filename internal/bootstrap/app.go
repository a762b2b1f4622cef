// Package bootstrap builds the whole dependency graph once, at startup.
// Every component receives its collaborators through its constructor; nothing
// reaches for globals.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/config"
	"docchat/internal/model"
	"docchat/internal/pkg/logger"
	"docchat/internal/platform/mysql"
	"docchat/internal/platform/qdrant"
	"docchat/internal/platform/rabbitmq"
	redisplatform "docchat/internal/platform/redis"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
	httptransport "docchat/internal/transport/http"
	"docchat/internal/transport/http/handler"
	"docchat/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	Router *gin.Engine

	db     *gorm.DB
	rdb    *redisv9.Client
	mqConn *amqp.Connection
	worker *worker.MessagePersistWorker
}

// New assembles the application: config, logger, storage, broker, vector
// index, the retrieval core and the HTTP router.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	db, err := mysql.New(ctx, cfg.MySQLDSN(), cfg.MySQL.MaxIdleConns, cfg.MySQL.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("init mysql failed: %w", err)
	}
	if err := db.AutoMigrate(&model.ChatSession{}, &model.Document{}, &model.ChatMessage{}); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	rdb, err := redisplatform.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("init redis failed: %w", err)
	}

	mqConn, err := rabbitmq.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("init rabbitmq failed: %w", err)
	}

	qdrantClient := qdrant.New(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Timeout:    time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
	})

	llmClient := ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second)
	embedClient := ai.NewOpenAICompatibleClient(time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second)

	embedder := retrieval.NewAPIEmbedder(embedClient, ai.EmbeddingConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimension,
	}, cfg.Embedding.Dimension, cfg.Embedding.BatchSize, log)

	retriever := retrieval.NewRetriever(embedder, qdrantClient, retrieval.Config{
		ChunkTargetTokens:    cfg.Retrieval.ChunkTargetTokens,
		ChunkOverlapFraction: cfg.Retrieval.ChunkOverlapFraction,
		TopK:                 cfg.Retrieval.TopK,
		MMRLambda:            cfg.Retrieval.MMRLambda,
		OverfetchFactor:      cfg.Retrieval.OverfetchFactor,
	}, log)

	sessionRepo := repository.NewChatSessionRepository(db)
	messageRepo := repository.NewChatMessageRepository(db)
	docRepo := repository.NewDocumentRepository(db)

	historyCache := cache.NewHistoryCache(rdb,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	publisher := rabbitmq.NewMessagePublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue)

	persistWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue, log)
	if err := persistWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start persist worker failed: %w", err)
	}

	chatService := app.NewChatService(
		sessionRepo,
		messageRepo,
		retriever,
		llmClient,
		publisher,
		historyCache,
		ai.ChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		},
		cfg.LLM.MaxRetries,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.SessionTTLMinute)*time.Minute,
		log,
	)
	documentService := app.NewDocumentService(sessionRepo, docRepo, retriever, log)

	router := httptransport.NewRouter(
		httptransport.RouterConfig{
			GinMode:   cfg.App.GinMode,
			JWTSecret: cfg.Auth.JWTSecret,
		},
		handler.NewHealthHandler(db, rdb, mqConn, qdrantClient),
		handler.NewChatHandler(chatService),
		handler.NewDocumentHandler(documentService, cfg.Upload.MaxFileMB),
	)

	return &App{
		Config: cfg,
		Logger: log,
		Router: router,
		db:     db,
		rdb:    rdb,
		mqConn: mqConn,
		worker: persistWorker,
	}, nil
}

// Close releases external resources in reverse dependency order.
func (a *App) Close() error {
	if a.worker != nil {
		a.worker.Close()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.mqConn != nil && !a.mqConn.IsClosed() {
		record(a.mqConn.Close())
	}
	if a.rdb != nil {
		record(a.rdb.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			record(sqlDB.Close())
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return firstErr
}
