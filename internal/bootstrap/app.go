package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/config"
	"gopherai-rag/internal/index"
	"gopherai-rag/internal/logging"
	mysqlClient "gopherai-rag/internal/platform/mysql"
	rabbitmqClient "gopherai-rag/internal/platform/rabbitmq"
	redisClient "gopherai-rag/internal/platform/redis"
	"gopherai-rag/internal/repository"
	"gopherai-rag/internal/websearch"
	"gopherai-rag/internal/worker"
)

// App holds the wired process. MySQL, Redis and MQConn are nil when the
// corresponding backend is disabled or was unreachable at startup.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Cache        *cache.Cache
	Index        *index.Index
	Generator    *ai.OpenAICompatibleClient
	RAG          *app.RAGService
	Ingest       *app.IngestService
	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config failed: %w", err)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	a.Cache = a.openCache(ctx)
	a.MySQL = a.openMySQL(ctx)
	a.MQConn = a.openRabbitMQ(ctx)

	embedder := app.NewCachedEmbedder(
		a.newEmbedder(),
		a.Cache,
		cfg.Embedding.Provider+":"+cfg.Embedding.Model,
		seconds(cfg.Cache.EmbeddingTTLSeconds),
		logger,
	)
	a.Index = index.Open(index.Config{
		Path:         cfg.Index.Path,
		Dimension:    cfg.Embedding.Dimension,
		MaxResults:   cfg.Index.MaxResults,
		DisplayChars: cfg.Index.DisplayChars,
	}, embedder, index.WithLogger(logger.With("component", "index")))

	a.Generator = ai.NewOpenAICompatibleClient(ai.GeneratorConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     seconds(cfg.LLM.TimeoutSeconds),
		MaxRetries:  cfg.LLM.MaxRetries,
	}, logger.With("component", "generator"))

	var web app.WebSearcher
	if cfg.WebSearch.Enabled {
		web = websearch.New(websearch.Config{
			DuckDuckGoURL:     cfg.WebSearch.DuckDuckGoURL,
			WikipediaURL:      cfg.WebSearch.WikipediaURL,
			UserAgent:         cfg.WebSearch.UserAgent,
			Timeout:           seconds(cfg.WebSearch.TimeoutSeconds),
			RequestsPerSecond: cfg.WebSearch.RequestsPerSecond,
		}, logger.With("component", "websearch"))
	}

	a.RAG = app.NewRAGService(a.Generator, a.Index, web, a.Cache, app.RAGConfig{
		ClassifierThreshold: cfg.RAG.ClassifierThreshold,
		RelevanceThreshold:  cfg.RAG.RelevanceThreshold,
		KBFloor:             cfg.RAG.KBFloor,
		MinWebSources:       cfg.RAG.MinWebSources,
		MinSearchResults:    cfg.RAG.MinSearchResults,
		MaxContextTokens:    cfg.RAG.MaxContextTokens,
		WebResults:          cfg.RAG.WebResults,
		SearchLimit:         cfg.RAG.SearchLimit,
		MaxSources:          cfg.RAG.MaxSources,
		ResultTTL:           seconds(cfg.Cache.ResultTTLSeconds),
		SearchTTL:           seconds(cfg.Cache.SearchTTLSeconds),
	}, logger.With("component", "rag"))

	var publisher app.JobPublisher
	if a.MQConn != nil {
		publisher = rabbitmqClient.NewJobPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
	}
	var records app.IngestRecorder
	if a.MySQL != nil {
		records = repository.NewIngestRecordRepository(a.MySQL)
	}
	a.Ingest = app.NewIngestService(a.Index, publisher, records, logger.With("component", "ingest"))

	if a.MQConn != nil {
		a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Ingest, cfg.RabbitMQ.IngestQueue, logger.With("component", "worker"))
		if err := a.IngestWorker.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("start ingest worker failed: %w", err)
		}
	}

	logger.Info("application wired",
		"cache", a.Cache.Available(),
		"mysql", a.MySQL != nil,
		"rabbitmq", a.MQConn != nil,
		"web_search", cfg.WebSearch.Enabled,
		"index_rows", a.Index.Size(),
	)
	return a, nil
}

// openCache never fails: an unreachable redis leaves the cache in degraded
// mode, where every call is a miss.
func (a *App) openCache(ctx context.Context) *cache.Cache {
	cfg := a.Config
	cacheCfg := cache.Config{
		DefaultTTL:           seconds(cfg.Cache.DefaultTTLSeconds),
		CompressionThreshold: cfg.Cache.CompressionThreshold,
		SlowOp:               time.Duration(cfg.Cache.SlowOpMillis) * time.Millisecond,
	}
	logger := a.Logger.With("component", "cache")

	switch strings.ToLower(cfg.Cache.Backend) {
	case "memory":
		return cache.New(cache.NewMemoryBackend(), cacheCfg, cache.WithLogger(logger))
	case "none":
		return cache.New(nil, cacheCfg, cache.WithLogger(logger))
	}

	client, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", "addr", cfg.Redis.Addr, "error", err)
		return cache.New(nil, cacheCfg, cache.WithLogger(logger))
	}
	a.Redis = client
	return cache.New(redisClient.NewStore(client), cacheCfg, cache.WithLogger(logger))
}

func (a *App) openMySQL(ctx context.Context) *gorm.DB {
	dsn := a.Config.MySQLDSN()
	if dsn == "" {
		return nil
	}
	db, err := mysqlClient.New(ctx, dsn)
	if err != nil {
		a.Logger.Warn("mysql unavailable, ingest records disabled", "error", err)
		return nil
	}
	return db
}

func (a *App) openRabbitMQ(ctx context.Context) *amqp.Connection {
	if a.Config.RabbitMQ.URL == "" {
		return nil
	}
	conn, err := rabbitmqClient.New(ctx, a.Config.RabbitMQ.URL, a.Config.RabbitMQ.IngestQueue)
	if err != nil {
		a.Logger.Warn("rabbitmq unavailable, ingesting inline", "error", err)
		return nil
	}
	return conn
}

func (a *App) newEmbedder() index.Embedder {
	cfg := a.Config
	if strings.EqualFold(cfg.Embedding.Provider, "hash") {
		return ai.NewHashEmbedder(cfg.Embedding.Dimension)
	}
	return ai.NewOpenAIEmbedder(ai.EmbeddingConfig{
		BaseURL:   cfg.EmbeddingBaseURL(),
		APIKey:    cfg.EmbeddingAPIKey(),
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   seconds(cfg.LLM.TimeoutSeconds),
	}, a.Logger.With("component", "embedder"))
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
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

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
