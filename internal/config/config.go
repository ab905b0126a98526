package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AgentGemini       = "gemini"
	AgentOpenAICompat = "openai_compat"
	AgentRemote       = "remote"

	IDStrategySequence = "sequence"
	IDStrategyRandom   = "random"
)

var (
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrShortJWTSecret     = errors.New("JWT_SECRET must be at least 32 characters")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingAgentAPIKey = errors.New("AGENT_API_KEY is required for the gemini agent")
	ErrMissingAgentURL    = errors.New("AGENT_BASE_URL is required for this agent kind")
	ErrInvalidIDStrategy  = errors.New("ID_STRATEGY must be 'sequence' or 'random'")
)

type Config struct {
	HTTP   HTTPConfig
	DB     DBConfig
	Redis  RedisConfig
	Rate   RateConfig
	IDs    IDConfig
	Auth   AuthConfig
	Agent  AgentConfig
	Client ClientConfig
	Log    LogConfig
}

type HTTPConfig struct {
	ListenAddr     string
	PublicBaseURL  string
	HealthPath     string
	MetricsPath    string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateConfig struct {
	PerHour int64
}

type IDConfig struct {
	Strategy    string
	LockTTL     time.Duration
	MaxAttempts int
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type AgentConfig struct {
	Kind            string
	Model           string
	PromptingModel  string
	PromptingTemp   float64
	ImageModel      string
	ImagesPerPrompt int
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	Temperature     float64
	HistoryLimit    int
	MaxToolRounds   int
	FanoutLimit     int
}

type ClientConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

type LogConfig struct {
	Level string
}

// Load reads the process environment. A .env file in the working directory, when
// present, fills variables that are not already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:     mustEnv("HTTP_LISTEN_ADDR", ":8000"),
			PublicBaseURL:  strings.TrimSuffix(mustEnv("PUBLIC_BASE_URL", "http://localhost:8000"), "/"),
			HealthPath:     mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:    mustEnv("METRICS_PATH", "/metrics"),
			AllowedOrigins: mustList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:8501"}),
			ReadTimeout:    mustDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   mustDuration("HTTP_WRITE_TIMEOUT", 3*time.Minute),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:agentchat.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Rate: RateConfig{
			PerHour: mustInt64("RATE_LIMIT_PER_HOUR", 60),
		},
		IDs: IDConfig{
			Strategy:    strings.ToLower(mustEnv("ID_STRATEGY", IDStrategySequence)),
			LockTTL:     mustDuration("ID_LOCK_TTL", 5*time.Second),
			MaxAttempts: mustInt("ID_MAX_ATTEMPTS", 5),
		},
		Auth: AuthConfig{
			JWTSecret: mustEnv("JWT_SECRET", ""),
			TokenTTL:  mustDuration("JWT_TTL", 30*time.Minute),
		},
		Agent: AgentConfig{
			Kind:            strings.ToLower(mustEnv("AGENT_KIND", AgentGemini)),
			Model:           mustEnv("AGENT_MODEL", "gemini-2.5-pro"),
			PromptingModel:  mustEnv("AGENT_PROMPTING_MODEL", "gemini-2.5-pro"),
			PromptingTemp:   mustFloat("AGENT_PROMPTING_TEMPERATURE", 0.05),
			ImageModel:      mustEnv("AGENT_IMAGE_MODEL", "imagen-3.0-generate-002"),
			ImagesPerPrompt: mustInt("AGENT_IMAGES_PER_PROMPT", 1),
			APIKey:          mustEnv("AGENT_API_KEY", ""),
			BaseURL:         mustEnv("AGENT_BASE_URL", ""),
			Timeout:         mustDuration("AGENT_TIMEOUT", 60*time.Second),
			Temperature:     mustFloat("AGENT_TEMPERATURE", 0.7),
			HistoryLimit:    mustInt("AGENT_HISTORY_LIMIT", 0),
			MaxToolRounds:   mustInt("AGENT_MAX_TOOL_ROUNDS", 8),
			FanoutLimit:     mustInt("AGENT_FANOUT_LIMIT", 4),
		},
		Client: ClientConfig{
			Timeout:     mustDuration("HTTP_CLIENT_TIMEOUT", 60*time.Second),
			MaxRetries:  mustInt("HTTP_MAX_RETRIES", 2),
			BackoffBase: mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.Auth.JWTSecret) < 32 {
		return ErrShortJWTSecret
	}
	if c.DB.DSN == "" {
		return ErrMissingDatabaseDSN
	}
	if c.IDs.Strategy != IDStrategySequence && c.IDs.Strategy != IDStrategyRandom {
		return ErrInvalidIDStrategy
	}
	switch c.Agent.Kind {
	case AgentGemini:
		if c.Agent.APIKey == "" {
			return ErrMissingAgentAPIKey
		}
	case AgentOpenAICompat, AgentRemote:
		if c.Agent.BaseURL == "" {
			return ErrMissingAgentURL
		}
	default:
		return fmt.Errorf("unsupported AGENT_KIND %q", c.Agent.Kind)
	}
	if c.IDs.MaxAttempts < 1 {
		c.IDs.MaxAttempts = 1
	}
	if c.Agent.MaxToolRounds < 1 {
		c.Agent.MaxToolRounds = 1
	}
	if c.Agent.FanoutLimit < 1 {
		c.Agent.FanoutLimit = 1
	}
	if c.Agent.ImagesPerPrompt < 1 {
		c.Agent.ImagesPerPrompt = 1
	}
	return nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func mustList(key string, def []string) []string {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	out := make([]string, 0)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
