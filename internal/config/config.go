package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	History HistoryConfig
	Session SessionConfig
	Log     LogConfig
	Web     WebConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider string        `mapstructure:"provider"` // responses | chat_completions
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HistoryConfig holds the message log configuration
type HistoryConfig struct {
	DBPath    string `mapstructure:"db_path"`
	QueueSize int    `mapstructure:"queue_size"`
}

// SessionConfig holds the in-memory session policy
type SessionConfig struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	RecentPrompts int           `mapstructure:"recent_prompts"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WebConfig holds the static UI configuration
type WebConfig struct {
	StaticDir string `mapstructure:"static_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("llm.provider", "responses")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("history.db_path", "chat.db")
	v.SetDefault("history.queue_size", 256)
	v.SetDefault("session.max_entries", 12)
	v.SetDefault("session.recent_prompts", 5)
	v.SetDefault("session.idle_ttl", time.Duration(0))
	v.SetDefault("session.sweep_schedule", "@every 5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("web.static_dir", "public")
}

// Load reads configuration from path, or from CONFIG_PATH, or from
// ./config.yaml, layering CHATPROXY_* environment variables on top.
// A missing ./config.yaml is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("chatproxy")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "CHATPROXY_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
