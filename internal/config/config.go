// Package config provides configuration for the auto-reply engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xiaot623/autoreply/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	TransportWhatsmeow = "whatsmeow"
	TransportTwilio    = "twilio"
	TransportMock      = "mock"

	DriverSQLite     = "sqlite"
	DriverPostgres   = "postgres"
	DriverGormSQLite = "gorm-sqlite"
)

// DefaultFallbackReply is sent when generation fails.
const DefaultFallbackReply = "Sorry, I can't reply right now. I'll get back to you soon."

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort      int
	APIRateLimit  float64 // requests per second per client on /v1, 0 disables
	PublicBaseURL string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Transport
	Transport             string
	WhatsmeowStoreDSN     string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioFrom            string
	TwilioValidateWebhook bool

	// Text completion
	LLMProvider string
	LLMBaseURL  string
	LLMAPIKey   string
	GenAIAPIKey string

	// Timeouts
	LLMTimeout        time.Duration
	SendTimeout       time.Duration
	DisconnectTimeout time.Duration
	TypingMaxDuration time.Duration
	PairingTimeout    time.Duration

	// Automation
	FallbackReply string
	PolicyFile    string
	Defaults      domain.AutomationConfig

	// Status relay
	RedisURL string

	// Logging
	LogLevel  string
	LogFormat string

	ConfigFile string
}

// fileConfig is the optional YAML overlay.
type fileConfig struct {
	FallbackReply string                  `yaml:"fallback_reply"`
	Defaults      domain.AutomationConfig `yaml:"automation_defaults"`
}

// Load loads configuration from .env, environment variables and the optional
// YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		APIRateLimit:          getEnvFloat("API_RATE_LIMIT", 20),
		PublicBaseURL:         getEnv("PUBLIC_BASE_URL", ""),
		DatabaseDriver:        getEnv("DATABASE_DRIVER", DriverSQLite),
		DatabaseURL:           getEnv("DATABASE_URL", "file:autoreply.db?_journal_mode=WAL&_busy_timeout=5000"),
		Transport:             getEnv("TRANSPORT", TransportWhatsmeow),
		WhatsmeowStoreDSN:     getEnv("WHATSMEOW_STORE_DSN", "file:whatsmeow.db?_foreign_keys=on"),
		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:            getEnv("TWILIO_WHATSAPP_FROM", ""),
		TwilioValidateWebhook: getEnvBool("TWILIO_VALIDATE_WEBHOOK", true),
		LLMProvider:           getEnv("LLM_PROVIDER", "openai"),
		LLMBaseURL:            getEnv("LLM_BASE_URL", "http://localhost:11434"),
		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		GenAIAPIKey:           getEnv("GENAI_API_KEY", ""),
		LLMTimeout:            time.Duration(getEnvInt("LLM_TIMEOUT_MS", 60000)) * time.Millisecond,
		SendTimeout:           time.Duration(getEnvInt("SEND_TIMEOUT_MS", 30000)) * time.Millisecond,
		DisconnectTimeout:     time.Duration(getEnvInt("DISCONNECT_TIMEOUT_MS", 10000)) * time.Millisecond,
		TypingMaxDuration:     time.Duration(getEnvInt("TYPING_MAX_DURATION_MS", 5000)) * time.Millisecond,
		PairingTimeout:        time.Duration(getEnvInt("PAIRING_TIMEOUT_MS", 180000)) * time.Millisecond,
		FallbackReply:         getEnv("FALLBACK_REPLY", DefaultFallbackReply),
		PolicyFile:            getEnv("POLICY_FILE", ""),
		Defaults:              domain.DefaultAutomationConfig(),
		RedisURL:              getEnv("REDIS_URL", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		ConfigFile:            getEnv("CONFIG_FILE", ""),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used by tests and the mock runtime.
func Default() *Config {
	return &Config{
		HTTPPort:          8080,
		DatabaseDriver:    DriverSQLite,
		DatabaseURL:       ":memory:",
		Transport:         TransportMock,
		LLMProvider:       "mock",
		LLMTimeout:        60 * time.Second,
		SendTimeout:       30 * time.Second,
		DisconnectTimeout: 10 * time.Second,
		TypingMaxDuration: 5 * time.Second,
		PairingTimeout:    3 * time.Minute,
		FallbackReply:     DefaultFallbackReply,
		Defaults:          domain.DefaultAutomationConfig(),
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	overlay := fileConfig{FallbackReply: c.FallbackReply, Defaults: c.Defaults}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	// The environment still wins over the file for the fallback text.
	if os.Getenv("FALLBACK_REPLY") == "" {
		c.FallbackReply = overlay.FallbackReply
	}
	c.Defaults = overlay.Defaults
	return nil
}

// Validate checks the settings the engine cannot start without.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWhatsmeow, TransportMock:
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			return fmt.Errorf("twilio transport requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_WHATSAPP_FROM")
		}
	default:
		return fmt.Errorf("unknown transport: %s", c.Transport)
	}

	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres, DriverGormSQLite:
	default:
		return fmt.Errorf("unknown database driver: %s", c.DatabaseDriver)
	}

	if strings.TrimSpace(c.FallbackReply) == "" {
		return fmt.Errorf("FALLBACK_REPLY must not be empty")
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("automation defaults: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
