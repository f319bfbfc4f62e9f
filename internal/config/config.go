// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Session() SessionConfig
	LLM() LLMModelConfig
	Drafter() DrafterConfig
	Browser() BrowserConfig
	Automation() AutomationConfig
	Database() DatabaseConfig
	Redis() RedisConfig

	SetBrowserHeadless(bool)
	SetLLMAPIKey(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	SessionCfg    SessionConfig    `mapstructure:"session" yaml:"session"`
	LLMCfg        LLMModelConfig   `mapstructure:"llm" yaml:"llm"`
	DrafterCfg    DrafterConfig    `mapstructure:"drafter" yaml:"drafter"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	AutomationCfg AutomationConfig `mapstructure:"automation" yaml:"automation"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	RedisCfg      RedisConfig      `mapstructure:"redis" yaml:"redis"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Session() SessionConfig       { return c.SessionCfg }
func (c *Config) LLM() LLMModelConfig          { return c.LLMCfg }
func (c *Config) Drafter() DrafterConfig       { return c.DrafterCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Automation() AutomationConfig { return c.AutomationCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Redis() RedisConfig           { return c.RedisCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetLLMAPIKey(k string)     { c.LLMCfg.APIKey = k }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP and WebSocket front door.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	SecretKey       string        `mapstructure:"secret_key" yaml:"-"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ChatRateLimit is the sustained number of chat turns per second allowed per client address.
	// Zero disables limiting.
	ChatRateLimit  float64  `mapstructure:"chat_rate_limit" yaml:"chat_rate_limit"`
	ChatBurst      int      `mapstructure:"chat_burst" yaml:"chat_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Session store backends.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// SessionConfig controls how conversation sessions are kept.
type SessionConfig struct {
	Store           string        `mapstructure:"store" yaml:"store"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	KeyPrefix       string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the text generation model.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// DrafterConfig tunes email content generation.
type DrafterConfig struct {
	// StructuredOutput requests schema-constrained JSON before falling back to the labeled text format.
	StructuredOutput bool          `mapstructure:"structured_output" yaml:"structured_output"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BrowserConfig holds settings for the automated browser.
type BrowserConfig struct {
	Headless   bool           `mapstructure:"headless" yaml:"headless"`
	DisableGPU bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath   string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent  string         `mapstructure:"user_agent" yaml:"user_agent"`
	Stealth    bool           `mapstructure:"stealth" yaml:"stealth"`
	Args       []string       `mapstructure:"args" yaml:"args"`
	Viewport   map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// AutomationConfig describes the webmail send flow timings.
type AutomationConfig struct {
	SignInURL string `mapstructure:"sign_in_url" yaml:"sign_in_url"`
	MailHost  string `mapstructure:"mail_host" yaml:"mail_host"`
	// ElementTimeout bounds each selector attempt when looking up an element.
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	InboxTimeout   time.Duration `mapstructure:"inbox_timeout" yaml:"inbox_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	Delays         DelayConfig   `mapstructure:"delays" yaml:"delays"`
}

// DelayConfig holds the fixed settle times between flow steps.
type DelayConfig struct {
	PageLoad      time.Duration `mapstructure:"page_load" yaml:"page_load"`
	AfterLogin    time.Duration `mapstructure:"after_login" yaml:"after_login"`
	AfterPassword time.Duration `mapstructure:"after_password" yaml:"after_password"`
	AfterInbox    time.Duration `mapstructure:"after_inbox" yaml:"after_inbox"`
	AfterCompose  time.Duration `mapstructure:"after_compose" yaml:"after_compose"`
	AfterSend     time.Duration `mapstructure:"after_send" yaml:"after_send"`
}

// DatabaseConfig holds the database connection details for send history.
// An empty URL disables history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// RedisConfig holds the connection details for the redis session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mailpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.address", "0.0.0.0:5000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.chat_rate_limit", 2.0)
	v.SetDefault("server.chat_burst", 5)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// -- Session --
	v.SetDefault("session.store", SessionStoreMemory)
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.cleanup_interval", "1m")
	v.SetDefault("session.key_prefix", "mailpilot:session:")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.0-flash-exp")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1024)

	// -- Drafter --
	v.SetDefault("drafter.structured_output", true)
	v.SetDefault("drafter.timeout", "90s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})

	// -- Automation --
	v.SetDefault("automation.sign_in_url", "https://accounts.google.com/signin/v2/identifier?service=mail&continue=https://mail.google.com")
	v.SetDefault("automation.mail_host", "mail.google.com")
	v.SetDefault("automation.element_timeout", "10s")
	v.SetDefault("automation.inbox_timeout", "20s")
	v.SetDefault("automation.run_timeout", "5m")
	v.SetDefault("automation.delays.page_load", "2s")
	v.SetDefault("automation.delays.after_login", "3s")
	v.SetDefault("automation.delays.after_password", "5s")
	v.SetDefault("automation.delays.after_inbox", "3s")
	v.SetDefault("automation.delays.after_compose", "2s")
	v.SetDefault("automation.delays.after_send", "2s")

	// -- Redis --
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix("MAILPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets also honour the bare names used by existing deployments.
	v.BindEnv("server.secret_key", "MAILPILOT_SERVER_SECRET_KEY", "SECRET_KEY")
	v.BindEnv("llm.api_key", "MAILPILOT_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("redis.password", "MAILPILOT_REDIS_PASSWORD")
	v.BindEnv("database.url", "MAILPILOT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.ServerCfg.ChatRateLimit < 0 {
		return fmt.Errorf("server.chat_rate_limit must not be negative")
	}
	if c.ServerCfg.ChatRateLimit > 0 && c.ServerCfg.ChatBurst <= 0 {
		return fmt.Errorf("server.chat_burst must be a positive integer when rate limiting is enabled")
	}
	if err := c.SessionCfg.Validate(); err != nil {
		return fmt.Errorf("session configuration invalid: %w", err)
	}
	if c.SessionCfg.Store == SessionStoreRedis && c.RedisCfg.Addr == "" {
		return fmt.Errorf("redis.addr is required when session.store is %q", SessionStoreRedis)
	}
	if c.LLMCfg.Provider != ProviderGemini {
		return fmt.Errorf("unsupported llm.provider '%s'. Supported: [%s]", c.LLMCfg.Provider, ProviderGemini)
	}
	if err := c.AutomationCfg.Validate(); err != nil {
		return fmt.Errorf("automation configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the session settings.
func (s *SessionConfig) Validate() error {
	switch s.Store {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("store must be one of [%s, %s], got %q", SessionStoreMemory, SessionStoreRedis, s.Store)
	}
	if s.TTL <= 0 {
		return fmt.Errorf("ttl must be a positive duration")
	}
	if s.Store == SessionStoreMemory && s.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be a positive duration")
	}
	return nil
}

// Validate checks the automation settings.
func (a *AutomationConfig) Validate() error {
	if a.SignInURL == "" {
		return fmt.Errorf("sign_in_url is required")
	}
	if a.MailHost == "" {
		return fmt.Errorf("mail_host is required")
	}
	if a.ElementTimeout <= 0 {
		return fmt.Errorf("element_timeout must be a positive duration")
	}
	if a.InboxTimeout <= 0 {
		return fmt.Errorf("inbox_timeout must be a positive duration")
	}
	if a.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be a positive duration")
	}
	return nil
}
