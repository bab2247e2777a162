package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address            string `mapstructure:"address"`
	JWTSecret          string `mapstructure:"jwt_secret"`
	ProgressStream     bool   `mapstructure:"progress_stream_enabled"`
	ArticlePreview     bool   `mapstructure:"article_preview_enabled"`
	AllowAnonymousRead bool   `mapstructure:"allow_anonymous_read"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required")
	}
	return nil
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai only, for now
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig defines which model handles each class of agent work
type LLMRoutingConfig struct {
	Decision     string `mapstructure:"decision"`     // triage/clarification routing
	Placement    string `mapstructure:"placement"`    // link/mention placement agents
	Conversation string `mapstructure:"conversation"` // multi-turn refinement
	Research     string `mapstructure:"research"`     // deep research
	Fallback     string `mapstructure:"fallback"`
}

// Model returns the routed model for a task class, falling back when unset.
func (r LLMRoutingConfig) Model(task string) string {
	pick := func(m string) string {
		if strings.TrimSpace(m) != "" {
			return m
		}
		return r.Fallback
	}
	switch task {
	case "decision":
		return pick(r.Decision)
	case "placement":
		return pick(r.Placement)
	case "conversation":
		return pick(r.Conversation)
	case "research":
		return pick(r.Research)
	default:
		return r.Fallback
	}
}

// AgentsConfig contains agent execution settings
type AgentsConfig struct {
	AgentTimeout       time.Duration `mapstructure:"agent_timeout"`
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	RelevantParagraphs int           `mapstructure:"relevant_paragraphs"`
}

// SearchConfig contains web search settings for the research agent
type SearchConfig struct {
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// FetchConfig controls headless page fetching for agent context
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// RetentionConfig controls the stale-session sweeper
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	CronSpec string        `mapstructure:"cron_spec"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("server.progress_stream_enabled", true)
	viper.SetDefault("server.article_preview_enabled", true)
	viper.SetDefault("agents.agent_timeout", "120s")
	viper.SetDefault("agents.max_concurrent", 4)
	viper.SetDefault("agents.relevant_paragraphs", 5)
	viper.SetDefault("fetch.timeout", "20s")
	viper.SetDefault("fetch.max_chars", 8000)
	viper.SetDefault("retention.cron_spec", "0 * * * *")
	viper.SetDefault("retention.max_age", "6h")
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("search.timeout", "10s")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("LINKFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
