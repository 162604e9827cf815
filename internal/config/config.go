// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Port           string
	DBPath         string
	QuestionsFile  string
	AllowedOrigins []string
	MaxStage       int
	LLM            LLMConfig
	ChatLog        ChatLogConfig
}

// ChatLogConfig controls NDJSON chat logging.
type ChatLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// LLMConfig controls the Anthropic connection and model catalog.
type LLMConfig struct {
	APIKey          string
	BaseURL         string
	MaxTokens       int
	ReasoningBudget int
	Timeout         time.Duration
	HaikuModel      string
	SonnetModel     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/deduction.db"),
		QuestionsFile:  getEnv("QUESTIONS_FILE", "./data/questions.csv"),
		AllowedOrigins: splitOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		MaxStage:       getEnvInt("MAX_STAGE", 3),
		LLM: LLMConfig{
			APIKey:          getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 1024),
			ReasoningBudget: getEnvInt("LLM_REASONING_BUDGET", 4096),
			Timeout:         time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 600)) * time.Second,
			HaikuModel:      getEnv("CLAUDE_35_MODEL", "claude-3-5-haiku-latest"),
			SonnetModel:     getEnv("CLAUDE_37_MODEL", "claude-3-7-sonnet-latest"),
		},
		ChatLog: ChatLogConfig{
			Enabled:   getEnvBool("CHAT_LOG_ENABLED", false),
			Dir:       getEnv("CHAT_LOG_DIR", "./data/logs/chats"),
			QueueSize: getEnvInt("CHAT_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxStage < 1 {
		return fmt.Errorf("MAX_STAGE must be >= 1")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("LLM_MAX_TOKENS must be >= 1")
	}
	if c.ChatLog.Enabled {
		if c.ChatLog.Dir == "" {
			return fmt.Errorf("CHAT_LOG_DIR cannot be empty")
		}
		if c.ChatLog.QueueSize <= 0 {
			return fmt.Errorf("CHAT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

func splitOrigins(value string) []string {
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
