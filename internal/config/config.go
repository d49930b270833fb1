package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds application configuration
type Config struct {
	Env            string
	Port           string
	LogLevel       string
	FrontendURL    string
	AllowedOrigins []string

	// Timeout applied to every outbound provider call
	HTTPTimeout time.Duration

	// How long a participant stays bound to a room without activity
	SessionTTL time.Duration

	JWTSecret string

	MySQL   MySQLConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Spotify SpotifyConfig
}

type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Load reads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("frontend_url", "/")
	v.SetDefault("allowed_origins", "http://localhost:5173")
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("session_ttl", "24h")
	v.SetDefault("mysql_host", "localhost")
	v.SetDefault("mysql_port", "3306")
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "jukebox-room-events")
	v.SetDefault("kafka_group_id", "jukebox")

	cfg := &Config{
		Env:            v.GetString("env"),
		Port:           v.GetString("port"),
		LogLevel:       v.GetString("log_level"),
		FrontendURL:    v.GetString("frontend_url"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		HTTPTimeout:    v.GetDuration("http_timeout"),
		SessionTTL:     v.GetDuration("session_ttl"),
		JWTSecret:      v.GetString("jwt_secret"),
		MySQL: MySQLConfig{
			Host:     v.GetString("mysql_host"),
			Port:     v.GetString("mysql_port"),
			User:     v.GetString("mysql_user"),
			Password: v.GetString("mysql_password"),
			Database: v.GetString("mysql_database"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis_host"),
			Port:     v.GetString("redis_port"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka_brokers")),
			Topic:   v.GetString("kafka_topic"),
			GroupID: v.GetString("kafka_group_id"),
		},
		Spotify: SpotifyConfig{
			ClientID:     v.GetString("spotify_client_id"),
			ClientSecret: v.GetString("spotify_client_secret"),
			RedirectURI:  v.GetString("spotify_redirect_uri"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Production reports whether the service runs with ENV=production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.Spotify.ClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}
	if c.Spotify.ClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}
	if c.Spotify.RedirectURI == "" {
		missing = append(missing, "SPOTIFY_REDIRECT_URI")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: HTTP_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: SESSION_TTL must be positive", ErrInvalidConfig)
	}
	return nil
}
