package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"ADMIN_SECRET": "admin",
		"JWT_SECRET":   "jwt",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "local", cfg.DispatchTransport)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 20, cfg.HistoryPage)
	assert.Equal(t, 3, cfg.QueueAutoDrain)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"ADMIN_SECRET":       "admin",
		"JWT_SECRET":         "jwt",
		"STORE_BACKEND":      "Redis",
		"DISPATCH_TRANSPORT": "nats",
		"HEARTBEAT_TIMEOUT":  "45s",
		"HISTORY_PAGE":       "50",
		"QUEUE_AUTODRAIN":    "0",
		"NEWS_URLS":          "http://a/feed, ,http://b/feed",
		"AI_MODELS":          "gemini=gemma2, kimi = qwen2",
		"CALLBACK_SECRET":    "shh",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "nats", cfg.DispatchTransport)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 50, cfg.HistoryPage)
	assert.Equal(t, 0, cfg.QueueAutoDrain)
	assert.Equal(t, []string{"http://a/feed", "http://b/feed"}, cfg.NewsURLs)
	assert.Equal(t, map[string]string{"gemini": "gemma2", "kimi": "qwen2"}, cfg.AIModels)
	assert.Equal(t, "shh", cfg.CallbackSecret)
}

func TestLoadReportsMissingRequired(t *testing.T) {
	_, err := load(envMap(map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_SECRET")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadPostgresNeedsDSN(t *testing.T) {
	_, err := load(envMap(map[string]string{
		"ADMIN_SECRET":  "admin",
		"JWT_SECRET":    "jwt",
		"STORE_BACKEND": "postgres",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoadReportsInvalidValues(t *testing.T) {
	_, err := load(envMap(map[string]string{
		"ADMIN_SECRET":       "admin",
		"JWT_SECRET":         "jwt",
		"STORE_BACKEND":      "etcd",
		"HEARTBEAT_INTERVAL": "soon",
		"HISTORY_PAGE":       "0",
		"AI_MODELS":          "gemini",
	}))
	require.Error(t, err)
	for _, key := range []string{"STORE_BACKEND", "HEARTBEAT_INTERVAL", "HISTORY_PAGE", "AI_MODELS"} {
		assert.Contains(t, err.Error(), key)
	}
}
