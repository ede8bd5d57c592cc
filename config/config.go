// Package config loads the typed application configuration via viper.
// Values come from a config file (json/yaml), overridden by DEEPSCOUT_*
// environment variables; every knob has a default so a bare environment
// still yields a runnable config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mohammad-safakhou/deepscout/internal/llm"
)

// Config holds all configuration for the research system.
type Config struct {
	LLM         LLMConfig         `mapstructure:"llm"`
	Search      SearchConfig      `mapstructure:"search"`
	Scrape      ScrapeConfig      `mapstructure:"scrape"`
	Costs       CostsConfig       `mapstructure:"costs"`
	Checkpoints CheckpointsConfig `mapstructure:"checkpoints"`
	Report      ReportConfig      `mapstructure:"report"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Server      ServerConfig      `mapstructure:"server"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ProviderConfig is one LLM vendor endpoint.
type ProviderConfig struct {
	Type     string `mapstructure:"type"` // openai or anthropic
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	TimeoutS int    `mapstructure:"timeout_s"`
}

// ModelConfig binds a routing role to a provider, a model ID and pricing.
type ModelConfig struct {
	Provider string         `mapstructure:"provider"`
	Model    string         `mapstructure:"model"`
	Price    llm.ModelPrice `mapstructure:"price"`
}

// ModelsConfig names the three routing slots.
type ModelsConfig struct {
	Primary  ModelConfig `mapstructure:"primary"`
	Fallback ModelConfig `mapstructure:"fallback"`
	Budget   ModelConfig `mapstructure:"budget"`
}

// LLMConfig contains provider endpoints and model routing.
type LLMConfig struct {
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Models      ModelsConfig              `mapstructure:"models"`
	Temperature float64                   `mapstructure:"temperature"`
	MaxTokens   int                       `mapstructure:"max_tokens"`
	TimeoutS    int                       `mapstructure:"timeout_s"`
}

// SearchConfig tunes the web search stage.
type SearchConfig struct {
	ProviderChain    []string `mapstructure:"provider_chain"`
	BraveAPIKey      string   `mapstructure:"brave_api_key"`
	SerperAPIKey     string   `mapstructure:"serper_api_key"`
	MaxResults       int      `mapstructure:"max_results"`
	Depth            string   `mapstructure:"depth"`
	MinScore         float64  `mapstructure:"min_score"`
	MaxConcurrent    int      `mapstructure:"max_concurrent"`
	InterCallDelayMS int      `mapstructure:"inter_call_delay_ms"`
	TimeoutS         int      `mapstructure:"timeout_s"`
}

// ScrapeConfig tunes extraction and quality gating.
type ScrapeConfig struct {
	QualityReject         float64 `mapstructure:"quality_reject"`
	QualityAccept         float64 `mapstructure:"quality_accept"`
	TimeoutS              int     `mapstructure:"timeout_s"`
	MaxConcurrent         int     `mapstructure:"max_concurrent"`
	MaxContentChars       int     `mapstructure:"max_content_chars"`
	FreshnessHalfLifeDays int     `mapstructure:"freshness_half_life_days"`
	JSFallback            bool    `mapstructure:"js_fallback"`
}

// CostsConfig caps run spend and sets degradation thresholds.
type CostsConfig struct {
	MaxPerRun      float64 `mapstructure:"max_per_run"`
	MaxTokens      int64   `mapstructure:"max_tokens"`
	MaxTimeS       int64   `mapstructure:"max_time_s"`
	WarnFraction   float64 `mapstructure:"warn_fraction"`
	ReduceFraction float64 `mapstructure:"reduce_fraction"`
	CacheFraction  float64 `mapstructure:"cache_fraction"`
	MaxLLMCalls    int     `mapstructure:"max_llm_calls"`
}

// CheckpointsConfig locates run state on disk.
type CheckpointsConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxKeep int    `mapstructure:"max_keep"`
}

// ReportConfig shapes the final report.
type ReportConfig struct {
	MaxWords  int    `mapstructure:"max_words"`
	OutputDir string `mapstructure:"output_dir"`
}

// CacheConfig configures the provider-response cache.
type CacheConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	TTLH      int    `mapstructure:"ttl_h"`
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

// Configured reports whether any Postgres endpoint was provided at all.
func (p PostgresConfig) Configured() bool {
	return p.URL != "" || (p.Host != "" && p.DBName != "")
}

// DSN builds the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// StorageConfig groups persistence backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ServerConfig contains the session API settings.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// APITokens are bcrypt hashes of accepted bearer API tokens.
	APITokens []string `mapstructure:"api_tokens"`
}

// TelemetryConfig toggles metrics and tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Durations derived from the *_s / *_ms integer knobs.
func (c LLMConfig) Timeout() time.Duration       { return time.Duration(c.TimeoutS) * time.Second }
func (p ProviderConfig) Timeout() time.Duration  { return time.Duration(p.TimeoutS) * time.Second }
func (s SearchConfig) Timeout() time.Duration    { return time.Duration(s.TimeoutS) * time.Second }
func (s SearchConfig) InterCallDelay() time.Duration {
	return time.Duration(s.InterCallDelayMS) * time.Millisecond
}
func (s ScrapeConfig) Timeout() time.Duration { return time.Duration(s.TimeoutS) * time.Second }
func (c CacheConfig) TTL() time.Duration      { return time.Duration(c.TTLH) * time.Hour }

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout_s", 120)

	v.SetDefault("search.provider_chain", []string{"brave"})
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.depth", "advanced")
	v.SetDefault("search.min_score", 0.3)
	v.SetDefault("search.max_concurrent", 3)
	v.SetDefault("search.inter_call_delay_ms", 500)
	v.SetDefault("search.timeout_s", 15)

	v.SetDefault("scrape.quality_reject", 0.3)
	v.SetDefault("scrape.quality_accept", 0.7)
	v.SetDefault("scrape.timeout_s", 30)
	v.SetDefault("scrape.max_concurrent", 4)
	v.SetDefault("scrape.max_content_chars", 500000)
	v.SetDefault("scrape.freshness_half_life_days", 180)
	v.SetDefault("scrape.js_fallback", false)

	v.SetDefault("costs.max_per_run", 2.00)
	v.SetDefault("costs.warn_fraction", 0.80)
	v.SetDefault("costs.reduce_fraction", 0.80)
	v.SetDefault("costs.cache_fraction", 0.95)
	v.SetDefault("costs.max_llm_calls", 50)

	v.SetDefault("checkpoints.dir", "checkpoints")
	v.SetDefault("checkpoints.max_keep", 5)

	v.SetDefault("report.max_words", 10000)
	v.SetDefault("report.output_dir", "reports")

	v.SetDefault("cache.ttl_h", 24)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("telemetry.enabled", true)
}

// Load reads the config file at path (or searches ./config and the working
// directory when path is empty) and overlays DEEPSCOUT_* env vars. A missing
// file is fine; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DEEPSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Costs.MaxPerRun < 0 {
		return fmt.Errorf("costs.max_per_run cannot be negative")
	}
	for name, frac := range map[string]float64{
		"costs.warn_fraction":   c.Costs.WarnFraction,
		"costs.reduce_fraction": c.Costs.ReduceFraction,
		"costs.cache_fraction":  c.Costs.CacheFraction,
	} {
		if frac <= 0 || frac > 1 {
			return fmt.Errorf("%s must be in (0,1], got %g", name, frac)
		}
	}
	if c.Scrape.QualityReject >= c.Scrape.QualityAccept {
		return fmt.Errorf("scrape.quality_reject (%g) must be below scrape.quality_accept (%g)",
			c.Scrape.QualityReject, c.Scrape.QualityAccept)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be in [0,1], got %g", c.Search.MinScore)
	}
	switch c.Search.Depth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("search.depth must be basic or advanced, got %q", c.Search.Depth)
	}
	if c.Checkpoints.MaxKeep < 1 {
		return fmt.Errorf("checkpoints.max_keep must be at least 1")
	}
	for _, p := range c.LLM.Providers {
		switch p.Type {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("unknown llm provider type %q", p.Type)
		}
	}
	return nil
}

// Pricing flattens the model routing into the router's pricing table.
func (c LLMConfig) Pricing() llm.Pricing {
	p := llm.Pricing{}
	for _, m := range []ModelConfig{c.Models.Primary, c.Models.Fallback, c.Models.Budget} {
		if m.Model != "" {
			p[m.Model] = m.Price
		}
	}
	return p
}
