package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Realtime transports understood by the agent.
const (
	TransportWebsocket = "websocket"
	TransportAMQP      = "amqp"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	Agent        AgentConfig
	Realtime     RealtimeConfig
	Calendar     CalendarConfig
	QueryCache   QueryCacheConfig
	Modification ModificationConfig
	CORS         CORSConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// AgentConfig identifies the single user this agent synchronises for.
type AgentConfig struct {
	UserID            string
	Role              string
	SessionWindowDays int
}

// RealtimeConfig selects and configures the push event transport.
type RealtimeConfig struct {
	Transport      string
	URL            string
	Token          string
	AMQPExchange   string
	AMQPQueue      string
	AMQPRoutingKey []string
	Workers        int
}

// CalendarConfig configures the device calendar bridge and resync cadence.
type CalendarConfig struct {
	BridgeURL    string
	WriteTimeout time.Duration
	ResyncCron   string
}

// QueryCacheConfig tunes background refetches.
type QueryCacheConfig struct {
	RefetchTimeout time.Duration
}

// ModificationConfig carries pricing fallbacks for the modification workflow.
type ModificationConfig struct {
	DefaultUnitPrice int64
}

// CORSConfig lists the companion UI origins allowed to call the local API.
type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Agent = AgentConfig{
		UserID:            v.GetString("AGENT_USER_ID"),
		Role:              strings.ToUpper(v.GetString("AGENT_ROLE")),
		SessionWindowDays: v.GetInt("SESSION_WINDOW_DAYS"),
	}

	cfg.Realtime = RealtimeConfig{
		Transport:      strings.ToLower(v.GetString("REALTIME_TRANSPORT")),
		URL:            v.GetString("REALTIME_URL"),
		Token:          v.GetString("REALTIME_TOKEN"),
		AMQPExchange:   v.GetString("REALTIME_AMQP_EXCHANGE"),
		AMQPQueue:      v.GetString("REALTIME_AMQP_QUEUE"),
		AMQPRoutingKey: splitAndTrim(v.GetString("REALTIME_AMQP_ROUTING_KEYS")),
		Workers:        v.GetInt("REALTIME_WORKERS"),
	}

	cfg.Calendar = CalendarConfig{
		BridgeURL:    v.GetString("CALENDAR_BRIDGE_URL"),
		WriteTimeout: parseDuration(v.GetString("CALENDAR_WRITE_TIMEOUT"), 5*time.Second),
		ResyncCron:   v.GetString("CALENDAR_RESYNC_CRON"),
	}

	cfg.QueryCache = QueryCacheConfig{
		RefetchTimeout: parseDuration(v.GetString("REFETCH_TIMEOUT"), 10*time.Second),
	}

	cfg.Modification = ModificationConfig{
		DefaultUnitPrice: v.GetInt64("MODIFICATION_DEFAULT_UNIT_PRICE"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8787)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "class_scheduling")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AGENT_USER_ID", "")
	v.SetDefault("AGENT_ROLE", "STUDENT")
	v.SetDefault("SESSION_WINDOW_DAYS", 90)

	v.SetDefault("REALTIME_TRANSPORT", TransportWebsocket)
	v.SetDefault("REALTIME_URL", "ws://localhost:3000/realtime")
	v.SetDefault("REALTIME_TOKEN", "")
	v.SetDefault("REALTIME_AMQP_EXCHANGE", "class.events")
	v.SetDefault("REALTIME_AMQP_QUEUE", "")
	v.SetDefault("REALTIME_AMQP_ROUTING_KEYS", "enrollment.#,refund.#,session.#")
	v.SetDefault("REALTIME_WORKERS", 1)

	v.SetDefault("CALENDAR_BRIDGE_URL", "")
	v.SetDefault("CALENDAR_WRITE_TIMEOUT", "5s")
	v.SetDefault("CALENDAR_RESYNC_CRON", "@every 15m")

	v.SetDefault("REFETCH_TIMEOUT", "10s")

	// Product has not confirmed a fallback price; zero keeps unpriced diffs neutral.
	v.SetDefault("MODIFICATION_DEFAULT_UNIT_PRICE", 0)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
