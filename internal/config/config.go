// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port           string         `mapstructure:"port"`
	FrontendURL    string         `mapstructure:"frontend_url"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	DB             DBConfig       `mapstructure:"db"`
	Conversation   ConvConfig     `mapstructure:"conversation"`
	JWT            JWTConfig      `mapstructure:"jwt"`
	Session        SessionConfig  `mapstructure:"session"`
	Realtime       RealtimeConfig `mapstructure:"realtime"`
	RateLimit      RateLimit      `mapstructure:"rate_limit"`
	Upload         UploadConfig   `mapstructure:"upload"`
	Agent          AgentConfig    `mapstructure:"agent"`
	LLM            LLMConfig      `mapstructure:"llm"`
	Tools          ToolsConfig    `mapstructure:"tools"`
}

// DBConfig selects the session store.
type DBConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
}

// ConvConfig selects the durable conversation log.
type ConvConfig struct {
	Driver          string `mapstructure:"driver"` // "sql", "mongo" or "memory"
	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`
}

// JWTConfig controls bearer token validation.
type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	Algorithm string `mapstructure:"algorithm"`
}

// SessionConfig controls session lifetime and the context window.
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	WindowSize    int           `mapstructure:"window_size"`
	Retention     time.Duration `mapstructure:"retention"`
}

// RealtimeConfig controls the websocket protocol.
type RealtimeConfig struct {
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	PingTimeout   time.Duration `mapstructure:"ping_timeout"`
	QueueDepth    int           `mapstructure:"queue_depth"`
	MaxEventBytes int64         `mapstructure:"max_event_bytes"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// RateLimit controls inbound message throttling.
type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// UploadConfig constrains résumé uploads.
type UploadConfig struct {
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// AgentConfig controls classification, dispatch and composition.
type AgentConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	ToolBudget       int           `mapstructure:"tool_budget"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
	DispatchDeadline time.Duration `mapstructure:"dispatch_deadline"`
	ClassifyTimeout  time.Duration `mapstructure:"classify_timeout"`
	ComposeTimeout   time.Duration `mapstructure:"compose_timeout"`
	TurnTimeout      time.Duration `mapstructure:"turn_timeout"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	SkillMapFile     string        `mapstructure:"skill_map_file"`
}

// LLMConfig selects the text-generation backend.
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"` // "openai", "grpc" or "none"
	OpenAIAPIKey string  `mapstructure:"openai_api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
	GrpcAddr     string  `mapstructure:"grpc_addr"`
}

// ToolsConfig points at the capability backend.
type ToolsConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("frontend_url", "")
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "./data/assistant.db")
	v.SetDefault("db.url", "")

	v.SetDefault("conversation.driver", "sql")
	v.SetDefault("conversation.mongo_uri", "")
	v.SetDefault("conversation.mongo_database", "jobmato")
	v.SetDefault("conversation.mongo_collection", "chatsessions")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.algorithm", "HS256")

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.sweep_interval", 5*time.Minute)
	v.SetDefault("session.window_size", 10)
	v.SetDefault("session.retention", 30*24*time.Hour)

	v.SetDefault("realtime.ping_interval", 25*time.Second)
	v.SetDefault("realtime.ping_timeout", 60*time.Second)
	v.SetDefault("realtime.queue_depth", 8)
	v.SetDefault("realtime.max_event_bytes", 64<<10)
	v.SetDefault("realtime.write_timeout", 10*time.Second)

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Hour)

	v.SetDefault("upload.max_file_size", 10<<20)
	v.SetDefault("upload.allowed_extensions", []string{".pdf", ".doc", ".docx"})

	v.SetDefault("agent.max_message_length", 1000)
	v.SetDefault("agent.tool_budget", 4)
	v.SetDefault("agent.tool_timeout", 5*time.Second)
	v.SetDefault("agent.dispatch_deadline", 12*time.Second)
	v.SetDefault("agent.classify_timeout", 8*time.Second)
	v.SetDefault("agent.compose_timeout", 15*time.Second)
	v.SetDefault("agent.turn_timeout", 30*time.Second)
	v.SetDefault("agent.min_confidence", 0.6)
	v.SetDefault("agent.skill_map_file", "")

	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.grpc_addr", "")

	v.SetDefault("tools.base_url", "https://backend-v1.jobmato.com")
}

// Load reads configuration from defaults, an optional CONFIG_FILE, and the environment.
// Environment variables use the upper-cased key with dots replaced by underscores
// (SESSION_TTL, AGENT_TOOL_BUDGET, ...).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Familiar names used by existing deployments.
	aliases := map[string][]string{
		"db.url":                        {"DB_URL", "DATABASE_URL"},
		"conversation.mongo_uri":        {"CONVERSATION_MONGO_URI", "MONGODB_URI"},
		"llm.openai_api_key":            {"LLM_OPENAI_API_KEY", "OPENAI_API_KEY"},
		"tools.base_url":                {"TOOLS_BASE_URL", "JOBMATO_BASE_URL"},
		"jwt.secret":                    {"JWT_SECRET", "JWT_SECRET_KEY"},
		"conversation.mongo_database":   {"CONVERSATION_MONGO_DATABASE", "MONGODB_DATABASE"},
		"conversation.mongo_collection": {"CONVERSATION_MONGO_COLLECTION", "MONGODB_COLLECTION"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.JWT.Algorithm != "HS256" {
		return fmt.Errorf("JWT_ALGORITHM %q is not supported", c.JWT.Algorithm)
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER %q is not supported", c.DB.Driver)
	}

	switch c.Conversation.Driver {
	case "sql", "memory":
	case "mongo":
		if c.Conversation.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo conversation driver")
		}
	default:
		return fmt.Errorf("CONVERSATION_DRIVER %q is not supported", c.Conversation.Driver)
	}

	switch c.LLM.Provider {
	case "none":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "grpc":
		if c.LLM.GrpcAddr == "" {
			return fmt.Errorf("LLM_GRPC_ADDR is required for the grpc provider")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.WindowSize <= 0 {
		return fmt.Errorf("SESSION_WINDOW_SIZE must be > 0")
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.PingTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("REALTIME_PING_TIMEOUT must exceed REALTIME_PING_INTERVAL")
	}
	if c.Realtime.QueueDepth <= 0 {
		return fmt.Errorf("REALTIME_QUEUE_DEPTH must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Agent.ToolBudget <= 0 {
		return fmt.Errorf("AGENT_TOOL_BUDGET must be > 0")
	}
	if c.Agent.MaxMessageLength <= 0 {
		return fmt.Errorf("AGENT_MAX_MESSAGE_LENGTH must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
