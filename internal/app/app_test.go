package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chatroom/internal/config"
	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/logging"
	"go-chatroom/internal/store"
	"go-chatroom/internal/task"
)

func TestOpenBackendMemory(t *testing.T) {
	b, err := OpenBackend(context.Background(), config.Default(), logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryBackend{}, b)
	require.NoError(t, b.Close())
}

func TestOpenBackendRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.StoreBackend = "redis"
	cfg.RedisAddr = mr.Addr()

	b, err := OpenBackend(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Namespace("room:general").Put(context.Background(), "k", "v"))
	assert.NotEmpty(t, mr.Keys())
	for _, k := range mr.Keys() {
		assert.Contains(t, k, redisPrefix)
	}
}

func TestOpenBackendRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.StoreBackend = "redis"
	cfg.RedisAddr = addr

	_, err := OpenBackend(context.Background(), cfg, logging.Discard())
	assert.ErrorContains(t, err, "connect to redis")
}

func TestTaskServicesCoverEveryCommand(t *testing.T) {
	cfg := config.Default()
	cfg.AIModels = map[string]string{"qwen": "qwen2"}
	services := TaskServices(cfg, store.NewMemoryBackend(), logging.Discard())

	router, err := task.NewRouter(services...)
	require.NoError(t, err)

	want := map[string]string{
		task.CommandArticle:      FamilyArticle,
		task.CommandNews:         FamilyNews,
		task.CommandZhihuHot:     FamilyZhihu,
		task.CommandZhihuArticle: FamilyZhihu,
		task.CommandAIChat:       FamilyAI,
	}
	for cmd, family := range want {
		svc, ok := router.ForCommand(cmd)
		require.True(t, ok, cmd)
		assert.Equal(t, family, svc.Family(), cmd)
	}
}

func TestNewDispatcher(t *testing.T) {
	router, err := task.NewRouter()
	require.NoError(t, err)

	cfg := config.Default()
	d, err := NewDispatcher(cfg, router, nil)
	require.NoError(t, err)
	assert.IsType(t, dispatch.Local{}, d)

	cfg.DispatchTransport = "http"
	d, err = NewDispatcher(cfg, router, nil)
	require.NoError(t, err)
	assert.IsType(t, &dispatch.HTTPDispatcher{}, d)

	cfg.DispatchTransport = "nats"
	_, err = NewDispatcher(cfg, router, nil)
	assert.Error(t, err)
}

func TestConnectNATSSkippedForOtherTransports(t *testing.T) {
	nc, err := ConnectNATS(config.Default(), "test", logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, nc)
}

func TestQueueManagers(t *testing.T) {
	backend := store.NewMemoryBackend()
	services := TaskServices(config.Default(), backend, logging.Discard())
	managers := QueueManagers(config.Default(), backend, services, logging.Discard())
	require.Len(t, managers, len(services))

	for i, m := range managers {
		assert.Equal(t, services[i].Family(), m.Family())
		m.Stop()
	}
}
