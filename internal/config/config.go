package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the StudyCoach server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Generator GeneratorConfig
	Jobs      JobsConfig
	Billing   BillingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type GeneratorConfig struct {
	Provider string
	Timeout  time.Duration
	OpenAI   OpenAIConfig
	Gemini   GeminiConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// JobsConfig tunes the job runner and watchdog. The processing timeout is
// the cutoff after which a job stuck in processing is force-failed.
type JobsConfig struct {
	MaxRepairPasses     int
	MaxTransientRetries int
	ProcessingTimeout   time.Duration
	WatchdogInterval    time.Duration
}

// BillingConfig covers webhook verification and event deduplication.
type BillingConfig struct {
	WebhookSecret      string
	SignatureTolerance time.Duration
	EventRetention     time.Duration
}

var validProviders = map[string]bool{
	"openai": true,
	"gemini": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("STUDYCOACH_PORT", 8080),
			Env:  envString("STUDYCOACH_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Generator: GeneratorConfig{
			Provider: os.Getenv("GENERATOR_PROVIDER"),
			Timeout:  envDurationSecs("GENERATOR_TIMEOUT_SECS", 60*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			Gemini: GeminiConfig{
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			},
		},
		Jobs: JobsConfig{
			MaxRepairPasses:     envInt("JOB_MAX_REPAIR_PASSES", 2),
			MaxTransientRetries: envInt("JOB_MAX_TRANSIENT_RETRIES", 2),
			ProcessingTimeout:   envDuration("JOB_PROCESSING_TIMEOUT", 5*time.Minute),
			WatchdogInterval:    envDuration("JOB_WATCHDOG_INTERVAL", time.Minute),
		},
		Billing: BillingConfig{
			WebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SignatureTolerance: envDuration("WEBHOOK_SIGNATURE_TOLERANCE", 5*time.Minute),
			EventRetention:     envDuration("WEBHOOK_EVENT_RETENTION", 72*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Generator.Provider == "" {
		return fmt.Errorf("GENERATOR_PROVIDER is required")
	}
	if !validProviders[c.Generator.Provider] {
		return fmt.Errorf("GENERATOR_PROVIDER must be one of openai, gemini, mock; got %q", c.Generator.Provider)
	}

	if c.Generator.Provider == "openai" && c.Generator.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when GENERATOR_PROVIDER is openai")
	}
	if c.Generator.Provider == "gemini" && c.Generator.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when GENERATOR_PROVIDER is gemini")
	}

	if c.Billing.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	if c.Jobs.MaxRepairPasses < 0 {
		return fmt.Errorf("JOB_MAX_REPAIR_PASSES must be >= 0, got %d", c.Jobs.MaxRepairPasses)
	}
	if c.Jobs.ProcessingTimeout <= 0 {
		return fmt.Errorf("JOB_PROCESSING_TIMEOUT must be positive, got %s", c.Jobs.ProcessingTimeout)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
