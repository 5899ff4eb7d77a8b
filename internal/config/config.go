package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
	"github.com/davidbz/conductor/internal/provider/openai"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config represents the orchestrator configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       observability.LogConfig
	Metrics   observability.MetricsConfig
	OpenAI    openai.Config
	Storage   StorageConfig
	Redis     RedisConfig
	Breaker   BreakerConfig
	Selector  SelectorConfig
	Registry  RegistryConfig
	Embedding EmbeddingConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"30"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// StorageConfig selects where breaker states, metrics, costs and chunks live.
type StorageConfig struct {
	Driver     string `env:"STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH"    envDefault:"conductor.db"`
}

// RedisConfig moves the embedding cache to Redis when URL is set.
type RedisConfig struct {
	URL       string `env:"REDIS_URL"`
	Password  string `env:"REDIS_PASSWORD"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"conductor:"`
}

// BreakerConfig contains circuit breaker defaults for new models.
type BreakerConfig struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	Timeout          time.Duration `env:"BREAKER_TIMEOUT"           envDefault:"60s"`
	RecentFailures   int           `env:"BREAKER_RECENT_FAILURES"   envDefault:"10"`
}

// Settings converts the config into domain breaker settings.
func (c BreakerConfig) Settings() domain.BreakerSettings {
	return domain.BreakerSettings{
		FailureThreshold: c.FailureThreshold,
		Timeout:          c.Timeout,
		RecentFailures:   c.RecentFailures,
	}
}

// SelectorConfig tunes model selection.
type SelectorConfig struct {
	DefaultStrategy string        `env:"SELECTOR_DEFAULT_STRATEGY" envDefault:"balanced"`
	HighComplexity  float64       `env:"SELECTOR_HIGH_COMPLEXITY"  envDefault:"0.7"`
	HistoryWindow   time.Duration `env:"SELECTOR_HISTORY_WINDOW"   envDefault:"720h"`
	MinSamples      int           `env:"SELECTOR_MIN_SAMPLES"      envDefault:"5"`
	MaxFallbacks    int           `env:"SELECTOR_MAX_FALLBACKS"    envDefault:"2"`
}

// Settings converts the config into domain selector settings.
func (c SelectorConfig) Settings() domain.SelectorSettings {
	return domain.SelectorSettings{
		DefaultStrategy: domain.Strategy(c.DefaultStrategy),
		HighComplexity:  c.HighComplexity,
		HistoryWindow:   c.HistoryWindow,
		MinSamples:      c.MinSamples,
		MaxFallbacks:    c.MaxFallbacks,
	}
}

// RegistryConfig points at an optional YAML model catalog.
type RegistryConfig struct {
	CatalogPath string `env:"MODEL_CATALOG_PATH"`
	Watch       bool   `env:"MODEL_CATALOG_WATCH" envDefault:"true"`
}

// EmbeddingConfig contains embedding cache settings.
type EmbeddingConfig struct {
	Dimension int `env:"EMBEDDING_DIMENSION" envDefault:"1536"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*observability.LogConfig
	*observability.MetricsConfig
	*openai.Config
	*StorageConfig
	*RedisConfig
	*BreakerConfig
	*SelectorConfig
	*RegistryConfig
	*EmbeddingConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	return &cfg
}

// Validate rejects values the services would otherwise silently replace with defaults.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if _, err := domain.ParseStrategy(c.Selector.DefaultStrategy); err != nil {
		return fmt.Errorf("SELECTOR_DEFAULT_STRATEGY: %w", err)
	}
	if c.Selector.HighComplexity < 0 || c.Selector.HighComplexity > 1 {
		return fmt.Errorf("SELECTOR_HIGH_COMPLEXITY must be within [0,1], got %v", c.Selector.HighComplexity)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Timeout <= 0 {
		return fmt.Errorf("BREAKER_TIMEOUT must be positive, got %s", c.Breaker.Timeout)
	}
	if c.Metrics.Endpoint != "" && c.Metrics.Interval <= 0 {
		return fmt.Errorf("OTEL_METRIC_INTERVAL must be positive, got %s", c.Metrics.Interval)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION cannot be negative, got %d", c.Embedding.Dimension)
	}
	return nil
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Log,
		&cfg.Metrics,
		&cfg.OpenAI,
		&cfg.Storage,
		&cfg.Redis,
		&cfg.Breaker,
		&cfg.Selector,
		&cfg.Registry,
		&cfg.Embedding,
	}
}
