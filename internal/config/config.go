package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration for the chat server.
type Config struct {
	Addr string

	StoreBackend string // memory | redis | postgres
	RedisAddr    string
	DBDSN        string

	AdminSecret string
	JWTSecret   string
	CronSecret  string

	DispatchTransport string // local | http | nats
	DispatchURL       string
	NATSURL           string
	CallbackURL       string // chat server base URL, used by a standalone processor
	CallbackSecret    string // shared secret for the task callback endpoint, empty = open

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	AuthGrace         time.Duration
	HistoryPage       int

	OllamaURL   string
	OllamaModel string
	AIModels    map[string]string // provider -> ollama model override
	PublishURL  string
	NewsURLs    []string
	TopicsURL   string

	QueueSchedule   string
	ResultRetention time.Duration
	QueueAutoDrain  int

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		Addr:              ":8080",
		StoreBackend:      "memory",
		RedisAddr:         "localhost:6379",
		DispatchTransport: "local",
		DispatchURL:       "http://localhost:8080",
		NATSURL:           "nats://localhost:4222",
		CallbackURL:       "http://localhost:8080",
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  120 * time.Second,
		AuthGrace:         500 * time.Millisecond,
		HistoryPage:       20,
		OllamaURL:         "http://localhost:11434",
		OllamaModel:       "llama3",
		PublishURL:        "http://localhost:8787",
		TopicsURL:         "http://localhost:8787",
		QueueSchedule:     "*/30 * * * *",
		ResultRetention:   7 * 24 * time.Hour,
		QueueAutoDrain:    3,
		LogLevel:          "info",
		LogFormat:         "text",
		ShutdownTimeout:   30 * time.Second,
	}
}

// Load parses configuration values from the process environment.
//
// Every missing required variable and every invalid value is collected so a
// single error reports all of them.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	var missing, invalid []string

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	required := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		} else {
			missing = append(missing, key)
		}
	}
	duration := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			invalid = append(invalid, key)
			return
		}
		*dst = d
	}
	integer := func(key string, dst *int, min int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < min {
			invalid = append(invalid, key)
			return
		}
		*dst = n
	}
	list := func(key string, dst *[]string) {
		var out []string
		for _, part := range strings.Split(getenv(key), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
	pairs := func(key string, dst *map[string]string) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		out := make(map[string]string)
		for _, part := range strings.Split(v, ",") {
			k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(val) == "" {
				invalid = append(invalid, key)
				return
			}
			out[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		*dst = out
	}
	oneOf := func(key string, dst *string, allowed ...string) {
		v := strings.ToLower(strings.TrimSpace(getenv(key)))
		if v == "" {
			return
		}
		for _, a := range allowed {
			if v == a {
				*dst = v
				return
			}
		}
		invalid = append(invalid, key)
	}

	str("CHAT_ADDR", &cfg.Addr)
	oneOf("STORE_BACKEND", &cfg.StoreBackend, "memory", "redis", "postgres")
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("DB_DSN", &cfg.DBDSN)
	required("ADMIN_SECRET", &cfg.AdminSecret)
	required("JWT_SECRET", &cfg.JWTSecret)
	str("CRON_SECRET", &cfg.CronSecret)
	oneOf("DISPATCH_TRANSPORT", &cfg.DispatchTransport, "local", "http", "nats")
	str("DISPATCH_URL", &cfg.DispatchURL)
	str("NATS_URL", &cfg.NATSURL)
	str("CALLBACK_URL", &cfg.CallbackURL)
	str("CALLBACK_SECRET", &cfg.CallbackSecret)
	duration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	duration("HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout)
	duration("AUTH_GRACE", &cfg.AuthGrace)
	integer("HISTORY_PAGE", &cfg.HistoryPage, 1)
	str("OLLAMA_URL", &cfg.OllamaURL)
	str("OLLAMA_MODEL", &cfg.OllamaModel)
	pairs("AI_MODELS", &cfg.AIModels)
	str("PUBLISH_URL", &cfg.PublishURL)
	list("NEWS_URLS", &cfg.NewsURLs)
	str("TOPICS_URL", &cfg.TopicsURL)
	str("QUEUE_SCHEDULE", &cfg.QueueSchedule)
	duration("RESULT_RETENTION", &cfg.ResultRetention)
	integer("QUEUE_AUTODRAIN", &cfg.QueueAutoDrain, 0)
	oneOf("LOG_LEVEL", &cfg.LogLevel, "debug", "info", "warn", "error")
	oneOf("LOG_FORMAT", &cfg.LogFormat, "text", "json")
	duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if cfg.StoreBackend == "postgres" && cfg.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}
