package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STUDYCHAT_OLLAMA_MODEL
const EnvPrefix = "STUDYCHAT"

// Config holds all application configuration
type Config struct {
	Provider string        `mapstructure:"provider" validate:"oneof=ollama gemini openai"`
	Ollama   OllamaConfig  `mapstructure:"ollama"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
	SearXNG  SearXNGConfig `mapstructure:"searxng"`
	Crawler  CrawlerConfig `mapstructure:"crawler"`
	Storage  StorageConfig `mapstructure:"storage"`
	History  HistoryConfig `mapstructure:"history"`
	Session  SessionConfig `mapstructure:"session"`
	Log      LogConfig     `mapstructure:"log"`
}

// OllamaConfig configures the local Ollama provider
type OllamaConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Model   string        `mapstructure:"model" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// GeminiConfig configures the Gemini provider
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// OpenAIConfig configures any OpenAI-compatible provider
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `mapstructure:"model" validate:"required"`
}

// SearXNGConfig configures web search for grounding
type SearXNGConfig struct {
	URL        string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxResults int           `mapstructure:"max_results" validate:"min=1,max=10"`
}

// CrawlerConfig configures page fetching for grounding
type CrawlerConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxWorkers     int           `mapstructure:"max_workers" validate:"min=1"`
	MaxContentSize int64         `mapstructure:"max_content_size" validate:"min=1024"`
	UserAgent      string        `mapstructure:"user_agent" validate:"required"`
}

// StorageConfig selects the persistent store
type StorageConfig struct {
	Backend  string `mapstructure:"backend" validate:"oneof=file bolt sqlite redis memory"`
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
}

// HistoryConfig tunes the conversation history
type HistoryConfig struct {
	MaxConversations int           `mapstructure:"max_conversations" validate:"min=0"`
	SearchCacheTTL   time.Duration `mapstructure:"search_cache_ttl" validate:"min=0"`
}

// SessionConfig tunes live sessions
type SessionConfig struct {
	WebSearch     string        `mapstructure:"web_search" validate:"oneof=off on auto"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout" validate:"min=0"`
	CallTimeout   time.Duration `mapstructure:"call_timeout" validate:"min=0"`
}

// LogConfig configures the log file
type LogConfig struct {
	File    string `mapstructure:"file" validate:"required"`
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Console bool   `mapstructure:"console"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	dataDir := expandHome("~/.study-chat")
	return &Config{
		Provider: "ollama",
		Ollama: OllamaConfig{
			URL:     "http://localhost:11434",
			Model:   "llama3.2-vision",
			Timeout: 120 * time.Second,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		SearXNG: SearXNGConfig{
			URL:        "http://localhost:9090",
			Timeout:    10 * time.Second,
			MaxResults: 5,
		},
		Crawler: CrawlerConfig{
			Timeout:        15 * time.Second,
			MaxWorkers:     5,
			MaxContentSize: 5 * 1024 * 1024, // 5 MB
			UserAgent:      "study-chat/1.0",
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    dataDir,
		},
		History: HistoryConfig{
			MaxConversations: 100,
			SearchCacheTTL:   5 * time.Minute,
		},
		Session: SessionConfig{
			WebSearch:     "auto",
			StreamTimeout: 120 * time.Second,
			CallTimeout:   30 * time.Second,
		},
		Log: LogConfig{
			File:  filepath.Join(dataDir, "study-chat.log"),
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider", d.Provider)

	v.SetDefault("ollama.url", d.Ollama.URL)
	v.SetDefault("ollama.model", d.Ollama.Model)
	v.SetDefault("ollama.timeout", d.Ollama.Timeout)

	v.SetDefault("gemini.api_key", d.Gemini.APIKey)
	v.SetDefault("gemini.model", d.Gemini.Model)
	v.SetDefault("gemini.base_url", d.Gemini.BaseURL)

	v.SetDefault("openai.api_key", d.OpenAI.APIKey)
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.model", d.OpenAI.Model)

	v.SetDefault("searxng.url", d.SearXNG.URL)
	v.SetDefault("searxng.timeout", d.SearXNG.Timeout)
	v.SetDefault("searxng.max_results", d.SearXNG.MaxResults)

	v.SetDefault("crawler.timeout", d.Crawler.Timeout)
	v.SetDefault("crawler.max_workers", d.Crawler.MaxWorkers)
	v.SetDefault("crawler.max_content_size", d.Crawler.MaxContentSize)
	v.SetDefault("crawler.user_agent", d.Crawler.UserAgent)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.redis_url", d.Storage.RedisURL)

	v.SetDefault("history.max_conversations", d.History.MaxConversations)
	v.SetDefault("history.search_cache_ttl", d.History.SearchCacheTTL)

	v.SetDefault("session.web_search", d.Session.WebSearch)
	v.SetDefault("session.stream_timeout", d.Session.StreamTimeout)
	v.SetDefault("session.call_timeout", d.Session.CallTimeout)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
}

// Load builds the configuration from defaults, an optional YAML file and
// STUDYCHAT_* environment variables, in increasing priority. A .env file in
// the working directory is loaded into the environment first. An empty
// configPath searches ./config.yaml and ~/.study-chat/config.yaml.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(expandHome("~/.study-chat"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v, NewConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	switch c.Provider {
	case "ollama":
		if c.Ollama.URL == "" {
			return fmt.Errorf("invalid config: ollama.url is required for the ollama provider")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("invalid config: gemini.api_key is required for the gemini provider")
		}
	case "openai":
		if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
			return fmt.Errorf("invalid config: openai.api_key is required unless openai.base_url points at a local server")
		}
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("invalid config: storage.redis_url is required for the redis backend")
	}
	if (c.Storage.Backend == "file" || c.Storage.Backend == "bolt" || c.Storage.Backend == "sqlite") && c.Storage.Path == "" {
		return fmt.Errorf("invalid config: storage.path is required for the %s backend", c.Storage.Backend)
	}
	return nil
}

// expandHome expands the ~ in file paths to the user's home directory
func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		return home + rest
	}
	return path
}
