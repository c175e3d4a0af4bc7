// Package config holds server configuration loaded from a YAML file and environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM provider names accepted in NOVA_LLM_PROVIDER.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// LLM provider
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	BedrockRegion   string `yaml:"bedrock_region"`

	// Side-effect lookups
	WeatherBaseURL string `yaml:"weather_base_url"`
	NewsFeedCount  int    `yaml:"news_feed_count"`

	// Optional SurrealDB turn archive. Disabled when URL is empty.
	ArchiveURL       string `yaml:"archive_url"`
	ArchiveNamespace string `yaml:"archive_namespace"`
	ArchiveDatabase  string `yaml:"archive_database"`
	ArchiveUser      string `yaml:"archive_user"`
	ArchivePass      string `yaml:"archive_pass"`

	// Data directory for user event logs
	DataDir string `yaml:"data_dir"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from an optional YAML file (NOVA_CONFIG_FILE),
// then applies environment variable overrides on top.
func Load() Config {
	cfg := Config{
		Port:             "3001",
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     120 * time.Second, // long for streamed LLM responses
		LLMProvider:      ProviderOpenAI,
		LLMModel:         "deepseek-chat",
		OllamaHost:       "http://localhost:11434",
		OpenAIBaseURL:    "https://api.deepseek.com",
		BedrockRegion:    "us-east-1",
		WeatherBaseURL:   "https://wttr.in",
		NewsFeedCount:    5,
		ArchiveNamespace: "nova",
		ArchiveDatabase:  "conversations",
		ArchiveUser:      "root",
		ArchivePass:      "root",
		DataDir:          "data",
		LogFile:          "/tmp/nova.log",
		LogLevel:         slog.LevelInfo,
	}

	if path := os.Getenv("NOVA_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			slog.Warn("failed to load config file, using defaults", "file", path, "error", err)
		}
	}

	cfg.Port = getEnv("NOVA_PORT", cfg.Port)
	cfg.LLMProvider = getEnv("NOVA_LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = getEnv("NOVA_LLM_MODEL", cfg.LLMModel)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("NOVA_OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.BedrockRegion = getEnv("NOVA_BEDROCK_REGION", cfg.BedrockRegion)
	cfg.WeatherBaseURL = getEnv("NOVA_WEATHER_BASE_URL", cfg.WeatherBaseURL)
	cfg.ArchiveURL = getEnv("NOVA_ARCHIVE_URL", cfg.ArchiveURL)
	cfg.ArchiveNamespace = getEnv("NOVA_ARCHIVE_NAMESPACE", cfg.ArchiveNamespace)
	cfg.ArchiveDatabase = getEnv("NOVA_ARCHIVE_DATABASE", cfg.ArchiveDatabase)
	cfg.ArchiveUser = getEnv("NOVA_ARCHIVE_USER", cfg.ArchiveUser)
	cfg.ArchivePass = getEnv("NOVA_ARCHIVE_PASS", cfg.ArchivePass)
	cfg.DataDir = getEnv("NOVA_DATA_DIR", cfg.DataDir)
	cfg.LogFile = getEnv("NOVA_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = parseLogLevel(getEnv("NOVA_LOG_LEVEL", "INFO"))

	return cfg
}

// ArchiveEnabled reports whether a SurrealDB turn archive is configured.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveURL != ""
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
