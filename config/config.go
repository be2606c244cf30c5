package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Campaign   CampaignConfig   `mapstructure:"campaign"`
	Credits    CreditsConfig    `mapstructure:"credits"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StreamConfig describes the inbound event stream consumer group.
type StreamConfig struct {
	Key      string        `mapstructure:"key"`
	Group    string        `mapstructure:"group"`
	Consumer string        `mapstructure:"consumer"`
	Count    int64         `mapstructure:"count"`
	Block    time.Duration `mapstructure:"block"`
}

// CampaignConfig tunes the batch executor.
type CampaignConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	Tick       time.Duration `mapstructure:"tick"`
	QuietHours string        `mapstructure:"quiet_hours"` // "startHour-endHour", 24h local
}

// CreditsConfig controls wallet creation and per-message cost.
type CreditsConfig struct {
	Currency         string `mapstructure:"currency"`
	FreeTrialCredits int64  `mapstructure:"free_trial_credits"`
	MessageCost      int64  `mapstructure:"message_cost"`
}

// WhatsAppConfig selects and configures the send transport.
type WhatsAppConfig struct {
	Provider string `mapstructure:"provider"` // dialog360, cloud

	Dialog360BaseURL string `mapstructure:"dialog360_base_url"`
	Dialog360APIKey  string `mapstructure:"dialog360_api_key"`

	CloudBaseURL string `mapstructure:"cloud_base_url"`
	CloudToken   string `mapstructure:"cloud_token"`
	CloudPhoneID string `mapstructure:"cloud_phone_id"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig selects and configures the reply generator.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, ollama
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ModerationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: MM_ (Metered Messaging).
// Nested keys use underscore: MM_DATABASE_HOST, MM_STREAM_GROUP, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "metered_messaging")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("stream.key", "wh_inbound_queue")
	v.SetDefault("stream.group", "grp1")
	v.SetDefault("stream.consumer", "c1")
	v.SetDefault("stream.count", 10)
	v.SetDefault("stream.block", "5s")
	v.SetDefault("campaign.batch_size", 50)
	v.SetDefault("campaign.tick", "30s")
	v.SetDefault("campaign.quiet_hours", "21-08")
	v.SetDefault("credits.currency", "INR")
	v.SetDefault("credits.free_trial_credits", 0)
	v.SetDefault("credits.message_cost", 1)
	v.SetDefault("whatsapp.provider", "dialog360")
	v.SetDefault("whatsapp.dialog360_base_url", "https://waba.360dialog.io")
	v.SetDefault("whatsapp.dialog360_api_key", "")
	v.SetDefault("whatsapp.cloud_base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("whatsapp.cloud_token", "")
	v.SetDefault("whatsapp.cloud_phone_id", "")
	v.SetDefault("whatsapp.timeout", "20s")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("moderation.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: MM_DATABASE_HOST -> database.host
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
