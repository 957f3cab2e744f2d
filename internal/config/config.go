package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the service.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Chat    ChatConfig
	Auth    AuthConfig
	Session SessionConfig
	Gate    GateConfig
	AI      AIConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	addr, err := normaliseAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadChat reads only the chat exchange settings, for tools that do not
// run the server.
func LoadChat() (ChatConfig, error) {
	var cfg ChatConfig
	if err := env.Parse(&cfg); err != nil {
		return ChatConfig{}, fmt.Errorf("parse chat config: %w", err)
	}
	return cfg, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	Addr        string   `env:"-"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// ChatConfig points the exchange client at the inference endpoint.
type ChatConfig struct {
	Endpoint string        `env:"CHAT_ENDPOINT" envDefault:"https://floatchat-backend-ig0f.onrender.com/chat"`
	Timeout  time.Duration `env:"CHAT_TIMEOUT" envDefault:"30s"`
	Retries  int           `env:"CHAT_RETRIES" envDefault:"0"`
	Backoff  time.Duration `env:"CHAT_RETRY_BACKOFF" envDefault:"500ms"`
	Greeting string        `env:"CHAT_GREETING" envDefault:"🌊 Hello! I'm FloatChat AI — your ocean & ecology assistant. Ask me about marine life, sustainability, or research topics!"`
}

// AuthConfig locates the hosted authentication service.
type AuthConfig struct {
	SupabaseURL string `env:"SUPABASE_URL"`
	AnonKey     string `env:"SUPABASE_ANON_KEY"`
	JWTSecret   string `env:"SUPABASE_JWT_SECRET"`
}

// Enabled reports whether the authentication service is configured.
func (c AuthConfig) Enabled() bool {
	return c.SupabaseURL != "" && c.AnonKey != ""
}

// SessionConfig controls the browser session cookie and its backing store.
type SessionConfig struct {
	CookieName    string        `env:"SESSION_COOKIE" envDefault:"fc_session"`
	TTL           time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	Secure        bool          `env:"SESSION_SECURE" envDefault:"false"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
}

// GateConfig tunes the session gate.
type GateConfig struct {
	Timeout    time.Duration `env:"GATE_TIMEOUT" envDefault:"5s"`
	Watch      bool          `env:"GATE_WATCH" envDefault:"false"`
	SignInPath string        `env:"GATE_SIGNIN_PATH" envDefault:"/login"`
}

// AIConfig configures the optional local inference endpoint.
type AIConfig struct {
	APIKey      string   `env:"ARK_API_KEY"`
	AccessKey   string   `env:"ARK_ACCESS_KEY"`
	SecretKey   string   `env:"ARK_SECRET_KEY"`
	Model       string   `env:"ARK_MODEL"`
	BaseURL     string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature *float32 `env:"ARK_TEMPERATURE"`
	MaxTokens   *int     `env:"ARK_MAX_TOKENS"`
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and ARK_MODEL, or an AK/SK pair")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Chat.Endpoint) == "" {
		return fmt.Errorf("CHAT_ENDPOINT must not be empty")
	}
	if c.Chat.Retries < 0 {
		return fmt.Errorf("invalid CHAT_RETRIES value %d: must be >= 0", c.Chat.Retries)
	}
	if c.Chat.Timeout < 0 {
		return fmt.Errorf("invalid CHAT_TIMEOUT value %s", c.Chat.Timeout)
	}
	if !strings.HasPrefix(c.Gate.SignInPath, "/") {
		return fmt.Errorf("invalid GATE_SIGNIN_PATH value %q: must start with /", c.Gate.SignInPath)
	}
	return nil
}

// normaliseAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func normaliseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
