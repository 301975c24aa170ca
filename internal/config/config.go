// Package config provides YAML-based configuration loading for signalbox.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Log          LogConfig          `yaml:"log"`
	Messenger    MessengerConfig    `yaml:"messenger"`
	Zalo         ZaloConfig         `yaml:"zalo"`
	Chatbots     ChatbotsConfig     `yaml:"chatbots"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Cache        CacheConfig        `yaml:"cache"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// ServerConfig controls the webhook HTTP listener.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MessengerConfig holds the Meta app settings. An empty AppSecret disables
// signature verification (local development only).
type MessengerConfig struct {
	AppSecret   string `yaml:"app_secret"`
	VerifyToken string `yaml:"verify_token"`
	GraphURL    string `yaml:"graph_url"`
	APIVersion  string `yaml:"api_version"`
}

// ZaloConfig holds the Zalo OA app settings. An empty SecretKey disables
// signature verification (local development only).
type ZaloConfig struct {
	AppID      string `yaml:"app_id"`
	SecretKey  string `yaml:"secret_key"`
	OpenAPIURL string `yaml:"openapi_url"`
}

// ChatbotsConfig lists the downstream chatbot integrations.
type ChatbotsConfig struct {
	Mobile  ChatbotConfig `yaml:"mobile"`
	Custom  ChatbotConfig `yaml:"custom"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChatbotConfig is a single chatbot chat endpoint.
type ChatbotConfig struct {
	URL string `yaml:"url"`
}

// PipelineConfig tunes the webhook pipeline.
type PipelineConfig struct {
	DefaultPauseTTL time.Duration `yaml:"default_pause_ttl"`
	BotSentTTL      time.Duration `yaml:"bot_sent_ttl"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	SendRate        float64       `yaml:"send_rate"` // outbound sends per second
	SendBurst       int           `yaml:"send_burst"`
}

// CacheConfig selects the TTL cache backend. "memory" is per-process; "db"
// shares pause and echo state across receiver instances.
type CacheConfig struct {
	Backend string `yaml:"backend"`
}

// CredentialsConfig holds the key used to decrypt stored chatbot API keys.
type CredentialsConfig struct {
	MasterKey string `yaml:"master_key"` // base64, 32 bytes
}

// HousekeepingConfig schedules periodic cleanup of expired rows.
type HousekeepingConfig struct {
	Schedule       string        `yaml:"schedule"` // 5-field cron expression
	EventRetention time.Duration `yaml:"event_retention"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, unmarshals YAML bytes and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "signalbox.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Messenger.GraphURL == "" {
		c.Messenger.GraphURL = "https://graph.facebook.com"
	}
	if c.Messenger.APIVersion == "" {
		c.Messenger.APIVersion = "v21.0"
	}
	if c.Zalo.OpenAPIURL == "" {
		c.Zalo.OpenAPIURL = "https://openapi.zalo.me"
	}

	if c.Chatbots.Timeout == 0 {
		c.Chatbots.Timeout = 25 * time.Second
	}

	if c.Pipeline.DefaultPauseTTL == 0 {
		c.Pipeline.DefaultPauseTTL = 10 * time.Minute
	}
	if c.Pipeline.BotSentTTL == 0 {
		c.Pipeline.BotSentTTL = 5 * time.Minute
	}
	if c.Pipeline.SendTimeout == 0 {
		c.Pipeline.SendTimeout = 10 * time.Second
	}
	if c.Pipeline.SendRate == 0 {
		c.Pipeline.SendRate = 20
	}
	if c.Pipeline.SendBurst == 0 {
		c.Pipeline.SendBurst = 5
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}

	if c.Housekeeping.Schedule == "" {
		c.Housekeeping.Schedule = "*/15 * * * *"
	}
	if c.Housekeeping.EventRetention == 0 {
		c.Housekeeping.EventRetention = 7 * 24 * time.Hour
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if c.Chatbots.Timeout < time.Second || c.Chatbots.Timeout > time.Minute {
		errs = append(errs, fmt.Sprintf("chatbots.timeout %s must be between 1s and 1m", c.Chatbots.Timeout))
	}
	if c.Pipeline.DefaultPauseTTL < 0 {
		errs = append(errs, "pipeline.default_pause_ttl must not be negative")
	}
	if c.Pipeline.BotSentTTL < 0 {
		errs = append(errs, "pipeline.bot_sent_ttl must not be negative")
	}
	if c.Pipeline.SendTimeout < 0 {
		errs = append(errs, "pipeline.send_timeout must not be negative")
	}
	if c.Pipeline.SendRate < 0 {
		errs = append(errs, "pipeline.send_rate must not be negative")
	}

	switch c.Cache.Backend {
	case "memory", "db":
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q must be memory or db", c.Cache.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
