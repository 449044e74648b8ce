package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine and its surfaces.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Engine    EngineConfig    `mapstructure:"engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug      bool          `mapstructure:"debug"`
	LogLevel   string        `mapstructure:"log_level"`
	MaxRunTime time.Duration `mapstructure:"max_run_time"`
}

// EngineConfig contains the tuning knobs for one research run. The engine
// receives this struct at construction time; nothing reads it globally.
type EngineConfig struct {
	SpeedMode          bool `mapstructure:"speed_mode"`
	ParallelProcessing bool `mapstructure:"parallel_processing"`

	MaxSearchQueries       int `mapstructure:"max_search_queries"`
	SourcesPerSearch       int `mapstructure:"sources_per_search"`
	MaxSourcesToScrape     int `mapstructure:"max_sources_to_scrape"`
	MaxSourcesToSynthesize int `mapstructure:"max_sources_to_synthesize"`
	MaxSourcesToCheck      int `mapstructure:"max_sources_to_check"`

	MinContentLength int `mapstructure:"min_content_length"`
	MinSummaryLength int `mapstructure:"min_summary_length"`

	MaxRetries          int     `mapstructure:"max_retries"`
	MaxSearchAttempts   int     `mapstructure:"max_search_attempts"`
	MinAnswerConfidence float64 `mapstructure:"min_answer_confidence"`

	ContextPreviewChars int `mapstructure:"context_preview_chars"`
	CharBudget          int `mapstructure:"char_budget"`
	SourceFloorChars    int `mapstructure:"source_floor_chars"`
	SourceCeilingChars  int `mapstructure:"source_ceiling_chars"`

	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxSteps     int           `mapstructure:"max_steps"`
}

// LLMConfig contains the model gateway configuration.
type LLMConfig struct {
	Provider LLMProviderConfig `mapstructure:"provider"`
	Routing  LLMRoutingConfig  `mapstructure:"routing"`
}

// LLMProviderConfig represents a single LLM provider configuration.
type LLMProviderConfig struct {
	Type    string              `mapstructure:"type"` // openai-compatible
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Timeout time.Duration       `mapstructure:"timeout"`
	Models  map[string]LLMModel `mapstructure:"models"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig maps the two gateway tiers onto configured models.
type LLMRoutingConfig struct {
	Fast    string `mapstructure:"fast"`
	Quality string `mapstructure:"quality"`
}

// SearchConfig contains web search provider settings.
type SearchConfig struct {
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// FetchConfig contains page fetch settings.
type FetchConfig struct {
	Fetcher  string        `mapstructure:"fetcher"` // http or chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
	Cache    CacheConfig   `mapstructure:"cache"`
}

// CacheConfig contains the redis page cache settings.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig contains run archive settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("quester")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("QUESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.max_run_time", "5m")

	// Engine defaults
	v.SetDefault("engine.speed_mode", false)
	v.SetDefault("engine.parallel_processing", true)
	v.SetDefault("engine.max_search_queries", 5)
	v.SetDefault("engine.sources_per_search", 8)
	v.SetDefault("engine.max_sources_to_scrape", 5)
	v.SetDefault("engine.max_sources_to_synthesize", 12)
	v.SetDefault("engine.max_sources_to_check", 10)
	v.SetDefault("engine.min_content_length", 200)
	v.SetDefault("engine.min_summary_length", 20)
	v.SetDefault("engine.max_retries", 2)
	v.SetDefault("engine.max_search_attempts", 3)
	v.SetDefault("engine.min_answer_confidence", 0.7)
	v.SetDefault("engine.context_preview_chars", 500)
	v.SetDefault("engine.char_budget", 100000)
	v.SetDefault("engine.source_floor_chars", 2000)
	v.SetDefault("engine.source_ceiling_chars", 15000)
	v.SetDefault("engine.fetch_timeout", "8s")
	v.SetDefault("engine.max_steps", 60)

	// LLM defaults
	v.SetDefault("llm.provider.type", "openai")
	v.SetDefault("llm.provider.timeout", "90s")
	v.SetDefault("llm.routing.fast", "gpt-5-nano")
	v.SetDefault("llm.routing.quality", "gpt-5")
	v.SetDefault("llm.provider.models.gpt-5-nano.name", "gpt-5-nano")
	v.SetDefault("llm.provider.models.gpt-5-nano.max_tokens", 4096)
	v.SetDefault("llm.provider.models.gpt-5-nano.temperature", 0.2)
	v.SetDefault("llm.provider.models.gpt-5.name", "gpt-5")
	v.SetDefault("llm.provider.models.gpt-5.max_tokens", 8192)
	v.SetDefault("llm.provider.models.gpt-5.temperature", 0.3)

	// Search defaults
	v.SetDefault("search.max_results", 8)
	v.SetDefault("search.timeout", "15s")

	// Fetch defaults
	v.SetDefault("fetch.fetcher", "http")
	v.SetDefault("fetch.timeout", "8s")
	v.SetDefault("fetch.max_chars", 20000)
	v.SetDefault("fetch.cache.enabled", false)
	v.SetDefault("fetch.cache.addr", "localhost:6379")
	v.SetDefault("fetch.cache.db", 0)
	v.SetDefault("fetch.cache.ttl", "24h")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.periodic_logs", false)

	// Storage defaults
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
}

func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		v.Set("llm.provider.api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		v.Set("search.serper_api_key", apiKey)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		v.Set("search.brave_api_key", apiKey)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		v.Set("fetch.cache.addr", addr)
		v.Set("fetch.cache.enabled", true)
	}
}

func validateConfig(cfg *Config) error {
	if len(cfg.LLM.Provider.Models) == 0 {
		return fmt.Errorf("at least one LLM model must be configured")
	}
	for _, tier := range []string{cfg.LLM.Routing.Fast, cfg.LLM.Routing.Quality} {
		if tier == "" {
			return fmt.Errorf("llm routing must name both fast and quality models")
		}
		if _, ok := cfg.LLM.Provider.Models[tier]; !ok {
			return fmt.Errorf("routing model %q not found in provider models", tier)
		}
	}
	if cfg.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive")
	}
	if cfg.Engine.CharBudget <= 0 {
		return fmt.Errorf("engine.char_budget must be positive")
	}
	if cfg.Engine.SourceFloorChars > cfg.Engine.SourceCeilingChars {
		return fmt.Errorf("engine.source_floor_chars exceeds source_ceiling_chars")
	}
	return nil
}
