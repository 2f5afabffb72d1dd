package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Research ResearchConfig `mapstructure:"research"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig describes the completion oracle endpoint
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai-compatible
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2], got %v", l.Temperature)
	}
	return nil
}

// SearchConfig selects and tunes the web search provider
type SearchConfig struct {
	Provider string `mapstructure:"provider"` // duckduckgo, brave, serper
	APIKey   string `mapstructure:"api_key"`
	TopK     int    `mapstructure:"top_k"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "duckduckgo":
	case "brave", "serper":
		if strings.TrimSpace(s.APIKey) == "" {
			return fmt.Errorf("search.api_key required for provider %q", s.Provider)
		}
	default:
		return fmt.Errorf("unsupported search provider %q", s.Provider)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive")
	}
	return nil
}

// FetchConfig tunes page fetching and extraction
type FetchConfig struct {
	Fetcher      string        `mapstructure:"fetcher"` // http, chromedp
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxChars     int           `mapstructure:"max_chars"`
	MinTextChars int           `mapstructure:"min_text_chars"`
	Concurrency  int           `mapstructure:"concurrency"`
	PerHostDelay time.Duration `mapstructure:"per_host_delay"`
	UserAgents   []string      `mapstructure:"user_agents"`
}

func (f FetchConfig) Validate() error {
	if f.Fetcher != "http" && f.Fetcher != "chromedp" {
		return fmt.Errorf("unsupported fetcher %q", f.Fetcher)
	}
	if f.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	return nil
}

// SafetyConfig tunes the URL validator and robots checker
type SafetyConfig struct {
	MaxURLLength     int           `mapstructure:"max_url_length"`
	AllowedPorts     []int         `mapstructure:"allowed_ports"`
	RobotsErrorTTL   time.Duration `mapstructure:"robots_error_ttl"`
	ResolveHosts     bool          `mapstructure:"resolve_hosts"`
	MaxEvalMagnitude float64       `mapstructure:"max_eval_magnitude"`
}

// ResearchConfig tunes the orchestration loop
type ResearchConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations"`
	InitialSubQueries int           `mapstructure:"initial_sub_queries"`
	CoverageWords     int           `mapstructure:"coverage_words"`
	CoverageHosts     int           `mapstructure:"coverage_hosts"`
	MaxContextWords   int           `mapstructure:"max_context_words"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
}

func (r ResearchConfig) Validate() error {
	if r.MaxIterations <= 0 {
		return fmt.Errorf("research.max_iterations must be positive")
	}
	if r.InitialSubQueries <= 0 {
		return fmt.Errorf("research.initial_sub_queries must be positive")
	}
	return nil
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig selects the session history store
type StorageConfig struct {
	History string      `mapstructure:"history"` // inmemory, redis
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

func (s StorageConfig) Validate() error {
	switch s.History {
	case "inmemory":
		return nil
	case "redis":
		return s.Redis.Validate()
	default:
		return fmt.Errorf("unsupported history store %q", s.History)
	}
}

func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.default_timeout", 30*time.Second)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.base_url", "http://127.0.0.1:8080/v1")
	viper.SetDefault("llm.model", "jan-v1-4b")
	viper.SetDefault("llm.temperature", 0.6)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.timeout", 120*time.Second)

	viper.SetDefault("search.provider", "duckduckgo")
	viper.SetDefault("search.top_k", 5)

	viper.SetDefault("fetch.fetcher", "http")
	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.max_chars", 20000)
	viper.SetDefault("fetch.min_text_chars", 100)
	viper.SetDefault("fetch.concurrency", 8)
	viper.SetDefault("fetch.per_host_delay", 2*time.Second)
	viper.SetDefault("fetch.user_agents", defaultUserAgents)

	viper.SetDefault("safety.max_url_length", 2048)
	viper.SetDefault("safety.allowed_ports", []int{80, 443})
	viper.SetDefault("safety.robots_error_ttl", 5*time.Minute)
	viper.SetDefault("safety.resolve_hosts", true)
	viper.SetDefault("safety.max_eval_magnitude", 1e10)

	viper.SetDefault("research.max_iterations", 3)
	viper.SetDefault("research.initial_sub_queries", 3)
	viper.SetDefault("research.coverage_words", 3000)
	viper.SetDefault("research.coverage_hosts", 4)
	viper.SetDefault("research.max_context_words", 3000)
	viper.SetDefault("research.run_timeout", 10*time.Minute)

	viper.SetDefault("server.address", ":8099")

	viper.SetDefault("storage.history", "inmemory")
	viper.SetDefault("storage.redis.host", "127.0.0.1")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("storage.redis.timeout", 5*time.Second)
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// LoadConfig loads config from file, falling back to defaults when no file exists.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("JANDIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Defaults and environment are enough to run.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every sub-config that has constraints.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Fetch.Validate(); err != nil {
		return err
	}
	if err := c.Research.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}
