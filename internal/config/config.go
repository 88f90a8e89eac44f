// Package config provides YAML-based configuration loading for Junction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Junction configuration, loaded from junction.yaml.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Server    ServerConfig    `yaml:"server"`
	Directory DirectoryConfig `yaml:"directory"`
	LLM       LLMConfig       `yaml:"llm"`
	Payment   PaymentConfig   `yaml:"payment"`
	Tools     ToolsConfig     `yaml:"tools"`
	Log       LogConfig       `yaml:"log"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Chat      ChatConfig      `yaml:"chat"`
}

// AgentConfig describes this agent's identity and routing policy.
type AgentConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	PublicURL     string `yaml:"public_url"`
	ServiceCharge int    `yaml:"service_charge"`
	MaxDepth      int    `yaml:"max_depth"`
	SystemPrompt  string `yaml:"system_prompt"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	Registry     bool          `yaml:"registry"`
}

// DirectoryConfig selects and configures the agent directory backend.
type DirectoryConfig struct {
	Backend  string        `yaml:"backend"`
	Path     string        `yaml:"path"`
	URL      string        `yaml:"url"`
	RedisURL string        `yaml:"redis_url"`
	MySQL    MySQLConfig   `yaml:"mysql"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Watch    bool          `yaml:"watch"`
}

// MySQLConfig holds connection settings for the MySQL directory backend.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Improve   bool   `yaml:"improve"`
}

// PaymentConfig configures the payment gate and its settlement service.
type PaymentConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SettlementURL string        `yaml:"settlement_url"`
	Network       string        `yaml:"network"`
	Asset         string        `yaml:"asset"`
	PayTo         string        `yaml:"pay_to"`
	ReplayCache   int           `yaml:"replay_cache"`
	ReplayTTL     time.Duration `yaml:"replay_ttl"`
}

// ToolsConfig holds credentials for tool-server registries.
type ToolsConfig struct {
	SmitheryAPIKey string        `yaml:"smithery_api_key"`
	Timeout        time.Duration `yaml:"timeout"` // bounds one #provider:server query
}

// LogConfig controls structured logging and conversation logs.
type LogConfig struct {
	Level           string `yaml:"level"`
	Format          string `yaml:"format"`
	Sink            string `yaml:"sink"`
	ConversationDir string `yaml:"conversation_dir"`
}

// HeartbeatConfig schedules directory re-announcements.
type HeartbeatConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// ChatConfig configures the optional Slack or Discord bridge.
type ChatConfig struct {
	Platform  string `yaml:"platform"`
	ChannelID string `yaml:"channel_id"`
	BotToken  string `yaml:"bot_token"`
	AppToken  string `yaml:"app_token"`
}

// Directory backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
	BackendHTTP   = "http"
)

// Load reads a YAML config file from path, applies .env and environment
// overrides, and returns a validated Config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes into a validated Config. The environment is
// not consulted.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, env func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets and identity from the environment.
func (c *Config) applyEnv(env func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Agent.ID, "JUNCTION_AGENT_ID")
	set(&c.Agent.PublicURL, "JUNCTION_PUBLIC_URL")
	set(&c.Tools.SmitheryAPIKey, "SMITHERY_API_KEY")
	if v, ok := env("JUNCTION_SERVICE_CHARGE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.ServiceCharge = n
		}
	}

	switch c.LLM.Provider {
	case "anthropic":
		set(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
	case "openai":
		set(&c.LLM.APIKey, "OPENAI_API_KEY")
	}

	switch c.Chat.Platform {
	case "slack":
		set(&c.Chat.BotToken, "SLACK_BOT_TOKEN")
		set(&c.Chat.AppToken, "SLACK_APP_TOKEN")
	case "discord":
		set(&c.Chat.BotToken, "DISCORD_BOT_TOKEN")
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Agent.Name == "" {
		c.Agent.Name = c.Agent.ID
	}
	if c.Agent.MaxDepth == 0 {
		c.Agent.MaxDepth = 1
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":6000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.SendTimeout == 0 {
		c.Server.SendTimeout = 30 * time.Second
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 2 * time.Minute
	}
	if c.Agent.PublicURL == "" {
		host := c.Server.Listen
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		c.Agent.PublicURL = "http://" + host
	}
	if c.Directory.Backend == "" {
		c.Directory.Backend = BackendFile
	}
	if c.Directory.Path == "" {
		switch c.Directory.Backend {
		case BackendFile:
			c.Directory.Path = "registry.json"
		case BackendSQLite:
			c.Directory.Path = "junction.db"
		}
	}
	if c.Directory.MySQL.Host == "" {
		c.Directory.MySQL.Host = "127.0.0.1"
	}
	if c.Directory.MySQL.Port == 0 {
		c.Directory.MySQL.Port = 3306
	}
	if c.Directory.MySQL.User == "" {
		c.Directory.MySQL.User = "root"
	}
	if c.Directory.MySQL.Database == "" {
		c.Directory.MySQL.Database = "junction"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.Model = "claude-3-5-sonnet-20241022"
		case "openai":
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if c.Payment.Network == "" {
		c.Payment.Network = "base"
	}
	if c.Payment.Asset == "" {
		c.Payment.Asset = "0x833589fCD6eDb6E08f4c7C32D4f71b54bda02913"
	}
	if c.Payment.PayTo == "" {
		c.Payment.PayTo = "0x0000000000000000000000000000000000000000"
	}
	if c.Payment.ReplayCache == 0 {
		c.Payment.ReplayCache = 4096
	}
	if c.Payment.ReplayTTL == 0 {
		c.Payment.ReplayTTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Sink == "" {
		c.Log.Sink = "jsonl"
	}
	if c.Log.ConversationDir == "" {
		c.Log.ConversationDir = "conversation_logs"
	}
	if c.Heartbeat.Schedule == "" {
		c.Heartbeat.Schedule = "*/5 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Agent.ID == "" {
		errs = append(errs, "agent.id is required")
	} else if strings.ContainsAny(c.Agent.ID, " \t\n@#/:") {
		errs = append(errs, "agent.id must not contain whitespace or routing characters")
	}
	if c.Agent.ServiceCharge < 0 {
		errs = append(errs, "agent.service_charge must be non-negative")
	}
	if c.Agent.MaxDepth < 0 {
		errs = append(errs, "agent.max_depth must be non-negative")
	}

	switch c.Directory.Backend {
	case BackendFile, BackendSQLite:
	case BackendMySQL:
		if c.Directory.MySQL.Database == "" {
			errs = append(errs, "directory.mysql.database is required")
		}
	case BackendRedis:
		if c.Directory.RedisURL == "" {
			errs = append(errs, "directory.redis_url is required for the redis backend")
		}
	case BackendHTTP:
		if c.Directory.URL == "" {
			errs = append(errs, "directory.url is required for the http backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("directory.backend %q is not supported", c.Directory.Backend))
	}

	switch c.LLM.Provider {
	case "none":
	case "anthropic", "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Sprintf("llm.api_key is required for provider %s", c.LLM.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.Improve && c.LLM.Provider == "none" {
		errs = append(errs, "llm.improve requires an llm provider")
	}

	if c.Payment.Enabled && c.Payment.SettlementURL == "" {
		errs = append(errs, "payment.settlement_url is required when payment is enabled")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	switch c.Log.Sink {
	case "jsonl", "db", "none":
	default:
		errs = append(errs, fmt.Sprintf("log.sink %q is not supported", c.Log.Sink))
	}

	switch c.Chat.Platform {
	case "":
	case "slack":
		if c.Chat.BotToken == "" || c.Chat.AppToken == "" {
			errs = append(errs, "chat: slack requires bot_token and app_token")
		}
	case "discord":
		if c.Chat.BotToken == "" {
			errs = append(errs, "chat: discord requires bot_token")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported", c.Chat.Platform))
	}
	if c.Chat.Platform != "" && c.Chat.ChannelID == "" {
		errs = append(errs, "chat.channel_id is required when a chat platform is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AgentURL returns the address peers should use to reach this agent.
func (c *Config) AgentURL() string {
	return strings.TrimRight(c.Agent.PublicURL, "/")
}
