// Package app assembles the components shared by the chat server and the
// standalone task processor from a Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"go-chatroom/internal/config"
	"go-chatroom/internal/db"
	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/external"
	"go-chatroom/internal/queue"
	"go-chatroom/internal/store"
	"go-chatroom/internal/task"
)

// Task families.
const (
	FamilyArticle = "article"
	FamilyNews    = "news"
	FamilyZhihu   = "zhihu"
	FamilyAI      = "ai"
)

const redisPrefix = "chat:"

// OpenBackend connects the store backend selected by cfg.StoreBackend.
func OpenBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("✅ connected to redis", "addr", cfg.RedisAddr)
		return store.NewRedisBackend(client, redisPrefix), nil

	case "postgres":
		database, err := db.NewDatabase(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		if err := database.AutoMigrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("✅ connected to postgres, schema initialized")
		return store.NewPostgresBackend(database), nil

	default:
		logger.Warn("using in-memory store, state is lost on restart")
		return store.NewMemoryBackend(), nil
	}
}

// TaskServices builds one service per task family over the external
// collaborators named in cfg.
func TaskServices(cfg config.Config, backend store.Backend, logger *slog.Logger) []*task.Service {
	client := &http.Client{Timeout: 2 * time.Minute}

	gen := external.NewOllama(cfg.OllamaURL, cfg.OllamaModel, client)
	providers := make(map[string]task.Generator, len(cfg.AIModels))
	for provider, model := range cfg.AIModels {
		providers[provider] = gen.WithModel(model)
	}
	pub := external.NewHTTPPublisher(cfg.PublishURL, client)
	news := external.NewHTTPNews(cfg.NewsURLs, client, logger)
	topics := external.NewHTTPTopics(cfg.TopicsURL, client)

	svc := func(family string, executors map[string]task.Executor) *task.Service {
		return task.NewService(family, executors, backend.Namespace("task:"+family), logger)
	}
	return []*task.Service{
		svc(FamilyArticle, map[string]task.Executor{
			task.CommandArticle: task.NewArticleExecutor(gen, pub, task.PublishPolicy()),
		}),
		svc(FamilyNews, map[string]task.Executor{
			task.CommandNews: task.NewNewsExecutor(news, gen),
		}),
		svc(FamilyZhihu, map[string]task.Executor{
			task.CommandZhihuHot:     task.NewZhihuHotExecutor(topics),
			task.CommandZhihuArticle: task.NewZhihuArticleExecutor(gen),
		}),
		svc(FamilyAI, map[string]task.Executor{
			task.CommandAIChat: task.NewAIChatExecutor(gen, providers),
		}),
	}
}

// ConnectNATS returns nil, nil unless the NATS transport is selected.
func ConnectNATS(cfg config.Config, name string, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.DispatchTransport != "nats" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("✅ connected to nats", "url", cfg.NATSURL)
	return nc, nil
}

// NewDispatcher picks the transport rooms delegate through. local hands
// tasks to target in-process.
func NewDispatcher(cfg config.Config, target dispatch.Submitter, nc *nats.Conn) (dispatch.Dispatcher, error) {
	switch cfg.DispatchTransport {
	case "http":
		return dispatch.NewHTTPDispatcher(cfg.DispatchURL, nil), nil
	case "nats":
		if nc == nil {
			return nil, fmt.Errorf("nats transport selected without a connection")
		}
		return dispatch.NewNATSDispatcher(nc), nil
	default:
		return dispatch.Local{Target: target}, nil
	}
}

// QueueManagers builds one durable queue per service.
func QueueManagers(cfg config.Config, backend store.Backend, services []*task.Service, logger *slog.Logger) []*queue.Manager {
	managers := make([]*queue.Manager, 0, len(services))
	for _, svc := range services {
		managers = append(managers, queue.NewManager(svc, backend.Namespace("queue:"+svc.Family()), logger,
			queue.WithAutoDrain(cfg.QueueAutoDrain)))
	}
	return managers
}
