// Package config loads the chat gateway configuration from the environment,
// optionally layered over a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Route classes used by the rate limiter.
const (
	RouteGeneral = "general"
	RouteChat    = "chat"
	RouteScene   = "scene"
	RouteMedia   = "media"
)

// BreakerConfig configures one upstream circuit breaker.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// LLMConfig selects and configures the upstream model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// LimitsConfig bounds the chat input accepted before classification.
type LimitsConfig struct {
	MaxMessages     int `yaml:"max_messages"`
	MaxTotalChars   int `yaml:"max_total_chars"`
	MaxMessageChars int `yaml:"max_message_chars"`
}

// RateLimitConfig holds the shared window and the per-route ceilings.
type RateLimitConfig struct {
	Window time.Duration  `yaml:"window"`
	Limits map[string]int `yaml:"limits"`
}

type Config struct {
	Port string `yaml:"port"`

	LLM LLMConfig `yaml:"llm"`

	PlannerTimeout    time.Duration `yaml:"planner_timeout"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`

	LLMBreaker BreakerConfig   `yaml:"llm_breaker"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`

	ConfirmTTL        time.Duration `yaml:"confirm_ttl"`
	PaginationTTL     time.Duration `yaml:"pagination_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ListWindow        int           `yaml:"list_window"`

	Limits LimitsConfig `yaml:"limits"`

	JWTSecret string `yaml:"jwt_secret"`

	WardrobeDBPath string `yaml:"wardrobe_db_path"`
	AuditDBPath    string `yaml:"audit_db_path"`
	RedisAddr      string `yaml:"redis_addr"`
	EventsChannel  string `yaml:"events_channel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:              "8080",
		LLM:               LLMConfig{Provider: "mock"},
		PlannerTimeout:    8 * time.Second,
		CompletionTimeout: 60 * time.Second,
		ToolTimeout:       5 * time.Second,
		LLMBreaker:        BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
			Limits: map[string]int{
				RouteGeneral: 120,
				RouteChat:    30,
				RouteScene:   10,
				RouteMedia:   10,
			},
		},
		ConfirmTTL:        5 * time.Minute,
		PaginationTTL:     30 * time.Minute,
		HeartbeatInterval: 15 * time.Second,
		ListWindow:        20,
		Limits: LimitsConfig{
			MaxMessages:     40,
			MaxTotalChars:   16000,
			MaxMessageChars: 4000,
		},
		WardrobeDBPath: "./wardrobe.db",
		AuditDBPath:    "./chat_audit.db",
		RedisAddr:      "localhost:6379",
		EventsChannel:  "wardrobe_events",
	}
}

// ConfigFromEnv builds the configuration: defaults, then the YAML file named by
// CHAT_GATEWAY_CONFIG (if any), then individual environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CHAT_GATEWAY_CONFIG")); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getenv("CHAT_GATEWAY_PORT", cfg.Port)

	cfg.LLM.Provider = strings.ToLower(getenv("LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.BaseURL = getenv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getenv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getenv("LLM_MODEL_NAME", cfg.LLM.Model)

	cfg.PlannerTimeout = getenvDuration("PLANNER_TIMEOUT", cfg.PlannerTimeout)
	cfg.CompletionTimeout = getenvDuration("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	cfg.ToolTimeout = getenvDuration("TOOL_TIMEOUT", cfg.ToolTimeout)

	cfg.LLMBreaker.Threshold = getenvInt("LLM_BREAKER_THRESHOLD", cfg.LLMBreaker.Threshold)
	cfg.LLMBreaker.Cooldown = getenvDuration("LLM_BREAKER_COOLDOWN", cfg.LLMBreaker.Cooldown)

	cfg.RateLimit.Window = getenvDuration("RATE_WINDOW", cfg.RateLimit.Window)
	if cfg.RateLimit.Limits == nil {
		cfg.RateLimit.Limits = map[string]int{}
	}
	for _, class := range []string{RouteGeneral, RouteChat, RouteScene, RouteMedia} {
		key := "RATE_LIMIT_" + strings.ToUpper(class)
		cfg.RateLimit.Limits[class] = getenvInt(key, cfg.RateLimit.Limits[class])
	}

	cfg.ConfirmTTL = getenvDuration("CONFIRM_TTL", cfg.ConfirmTTL)
	cfg.PaginationTTL = getenvDuration("PAGINATION_TTL", cfg.PaginationTTL)
	cfg.HeartbeatInterval = getenvDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.ListWindow = getenvInt("LIST_WINDOW", cfg.ListWindow)

	cfg.Limits.MaxMessages = getenvInt("MAX_MESSAGES", cfg.Limits.MaxMessages)
	cfg.Limits.MaxTotalChars = getenvInt("MAX_TOTAL_CHARS", cfg.Limits.MaxTotalChars)
	cfg.Limits.MaxMessageChars = getenvInt("MAX_MESSAGE_CHARS", cfg.Limits.MaxMessageChars)

	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.WardrobeDBPath = getenv("WARDROBE_DB_PATH", cfg.WardrobeDBPath)
	cfg.AuditDBPath = getenv("AUDIT_DB_PATH", cfg.AuditDBPath)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.EventsChannel = getenv("WARDROBE_EVENTS_CHANNEL", cfg.EventsChannel)

	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML document at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the gateway cannot run with.
func (c Config) Validate() error {
	switch {
	case c.LLMBreaker.Threshold <= 0:
		return fmt.Errorf("llm breaker threshold must be positive")
	case c.RateLimit.Window <= 0:
		return fmt.Errorf("rate limit window must be positive")
	case c.ConfirmTTL <= 0 || c.PaginationTTL <= 0:
		return fmt.Errorf("confirm and pagination TTLs must be positive")
	case c.ListWindow <= 0:
		return fmt.Errorf("list window must be positive")
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeat interval must be positive")
	}
	for class, limit := range c.RateLimit.Limits {
		if limit <= 0 {
			return fmt.Errorf("rate limit for %q must be positive", class)
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return fallback
	}
	return i
}

// getenvDuration accepts Go durations ("15s") or bare milliseconds ("1500").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		if ms <= 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
