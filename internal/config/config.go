package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	WebSearch WebSearchConfig `yaml:"websearch" mapstructure:"websearch"`
	TechStack TechStackConfig `yaml:"techstack" mapstructure:"techstack"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Ranker    RankerConfig    `yaml:"ranker" mapstructure:"ranker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the uplift analyzer.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// WebSearchConfig holds the web search adapter's API settings.
type WebSearchConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// TechStackConfig holds the tech-stack detection adapter's API settings.
type TechStackConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ScoringConfig configures Stage-1 scoring and the shortlist builder.
type ScoringConfig struct {
	ProfilePath       string  `yaml:"profile_path" mapstructure:"profile_path"`
	Mode              string  `yaml:"mode" mapstructure:"mode"` // "absolute" or "percentile"
	TargetSize        int     `yaml:"target_size" mapstructure:"target_size"`
	RevenueSweetLow   float64 `yaml:"revenue_sweet_low" mapstructure:"revenue_sweet_low"`
	RevenueSweetHigh  float64 `yaml:"revenue_sweet_high" mapstructure:"revenue_sweet_high"`
	RevenueTaperSpan  float64 `yaml:"revenue_taper_span" mapstructure:"revenue_taper_span"`
	ContributionFloor float64 `yaml:"contribution_floor" mapstructure:"contribution_floor"`
}

// QueueConfig configures the enrichment job queue and worker pool.
type QueueConfig struct {
	MaxRetries       int            `yaml:"max_retries" mapstructure:"max_retries"`
	Workers          int            `yaml:"workers" mapstructure:"workers"`
	JobTimeoutSecs   int            `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	BackoffBaseMS    int            `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMaxSecs   int            `yaml:"backoff_max_secs" mapstructure:"backoff_max_secs"`
	SourceRatePerSec map[string]int `yaml:"source_rate_per_sec" mapstructure:"source_rate_per_sec"`
}

// EnrichConfig configures adapter fan-out behavior.
type EnrichConfig struct {
	AdapterTimeoutSecs int `yaml:"adapter_timeout_secs" mapstructure:"adapter_timeout_secs"`
	BreakerFailures    int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs   int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RankerConfig configures the composite blend.
type RankerConfig struct {
	FinancialWeight    float64 `yaml:"financial_weight" mapstructure:"financial_weight"`
	UpliftWeight       float64 `yaml:"uplift_weight" mapstructure:"uplift_weight"`
	StrategicFitWeight float64 `yaml:"strategic_fit_weight" mapstructure:"strategic_fit_weight"`
	TopK               int     `yaml:"top_k" mapstructure:"top_k"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SOURCING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("websearch.base_url", "https://s.jina.ai")
	v.SetDefault("techstack.base_url", "https://api.builtwith.com/v21/api.json")
	v.SetDefault("scoring.mode", "percentile")
	v.SetDefault("scoring.target_size", 160)
	v.SetDefault("scoring.revenue_sweet_low", 10_000_000)
	v.SetDefault("scoring.revenue_sweet_high", 100_000_000)
	v.SetDefault("scoring.revenue_taper_span", 150_000_000)
	v.SetDefault("scoring.contribution_floor", 0.1)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.job_timeout_secs", 120)
	v.SetDefault("queue.backoff_base_ms", 500)
	v.SetDefault("queue.backoff_max_secs", 30)
	v.SetDefault("enrich.adapter_timeout_secs", 30)
	v.SetDefault("enrich.breaker_failures", 5)
	v.SetDefault("enrich.breaker_reset_secs", 30)
	v.SetDefault("ranker.financial_weight", 0.5)
	v.SetDefault("ranker.uplift_weight", 0.3)
	v.SetDefault("ranker.strategic_fit_weight", 0.2)
	v.SetDefault("ranker.top_k", 50)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
