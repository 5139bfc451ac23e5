package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading worker.
type Config struct {
	AppName  string
	AppEnv   string
	OpsPort  string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	QueueKey     string
	EventChannel string
	WorkerID     string
	WorkerSlots  int
	MaxAttempts  int
	DequeueWait  time.Duration
	LeaseTTL     time.Duration

	ContentBaseURL    string
	ContentRepository string
	ContentRef        string
	ContentToken      string
	ContentTimeout    time.Duration
	RubricCacheTTL    time.Duration

	PromptTemplatePath string
	DefaultLanguage    string

	AIProviders     []string
	ProviderTimeout time.Duration
	GeminiAPIKey    string
	GeminiModel     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
}

// HTTPAddress returns the address the ops listener should bind.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.OpsPort, ":") {
		return c.OpsPort
	}

	return fmt.Sprintf(":%s", c.OpsPort)
}

// IsProduction reports whether logs should be emitted as JSON.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("ops.port", "9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("queue.key", "cs4all:grading_queue")
	v.SetDefault("events.channel", "cs4all")
	v.SetDefault("worker.slots", 2)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.dequeue_wait", "5s")
	v.SetDefault("worker.lease_ttl", "30s")
	v.SetDefault("content.base_url", "https://api.github.com")
	v.SetDefault("content.ref", "main")
	v.SetDefault("content.timeout", "15s")
	v.SetDefault("rubric.cache_ttl", "10m")
	v.SetDefault("prompt.language", "Vietnamese")
	v.SetDefault("ai.providers", "gemini,openai")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("openai.model", "gpt-4o-mini")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		OpsPort:            v.GetString("ops.port"),
		LogLevel:           strings.ToLower(v.GetString("log.level")),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		QueueKey:           v.GetString("queue.key"),
		EventChannel:       v.GetString("events.channel"),
		WorkerID:           v.GetString("worker.id"),
		WorkerSlots:        v.GetInt("worker.slots"),
		MaxAttempts:        v.GetInt("worker.max_attempts"),
		ContentBaseURL:     v.GetString("content.base_url"),
		ContentRepository:  v.GetString("content.repository"),
		ContentRef:         v.GetString("content.ref"),
		ContentToken:       v.GetString("content.token"),
		PromptTemplatePath: v.GetString("prompt.template_path"),
		DefaultLanguage:    v.GetString("prompt.language"),
		AIProviders:        splitList(v.GetString("ai.providers")),
		GeminiAPIKey:       v.GetString("gemini.api_key"),
		GeminiModel:        v.GetString("gemini.model"),
		OpenAIAPIKey:       v.GetString("openai.api_key"),
		OpenAIModel:        v.GetString("openai.model"),
		OpenAIBaseURL:      v.GetString("openai.base_url"),
	}
	durations["worker.dequeue_wait"] = &cfg.DequeueWait
	durations["worker.lease_ttl"] = &cfg.LeaseTTL
	durations["content.timeout"] = &cfg.ContentTimeout
	durations["rubric.cache_ttl"] = &cfg.RubricCacheTTL
	durations["ai.timeout"] = &cfg.ProviderTimeout

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = parsed
	}

	if cfg.WorkerSlots <= 0 {
		cfg.WorkerSlots = 2
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}

	return cfg, nil
}

// ValidateWorker checks the settings the consumer cannot start without.
func (c Config) ValidateWorker() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.ContentRepository == "" {
		return fmt.Errorf("content repository must be provided")
	}

	if len(c.EnabledProviders()) == 0 {
		return fmt.Errorf("at least one ai provider api key must be provided")
	}

	return nil
}

// ValidateStore checks the connection settings shared by every command.
func (c Config) ValidateStore() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url must be provided")
	}

	if c.RedisURL == "" {
		return fmt.Errorf("redis url must be provided")
	}

	return nil
}

// EnabledProviders returns the configured provider order, skipping providers without a key.
func (c Config) EnabledProviders() []string {
	enabled := make([]string, 0, len(c.AIProviders))
	for _, name := range c.AIProviders {
		switch name {
		case "gemini":
			if c.GeminiAPIKey != "" {
				enabled = append(enabled, name)
			}
		case "openai":
			if c.OpenAIAPIKey != "" {
				enabled = append(enabled, name)
			}
		}
	}
	return enabled
}

// defaultWorkerID names this process's in-flight list; it must differ
// between replicas sharing a queue.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "grader"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
