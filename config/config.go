package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	DefaultTimezone   string `mapstructure:"DEFAULT_TIMEZONE"`

	// Storage.
	BookingStore  string `mapstructure:"BOOKING_STORE"` // mongo | postgres | memory
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	// TenantsFile seeds tenants from JSON instead of reading them from MongoDB.
	TenantsFile string `mapstructure:"TENANTS_FILE"`

	// Serialization of booking commits.
	LockBackend string        `mapstructure:"LOCK_BACKEND"` // redis | postgres | local
	LockTTL     time.Duration `mapstructure:"LOCK_TTL"`

	// Redis configuration.
	RedisAddr           string `mapstructure:"REDIS_ADDR"`
	RedisPassword       string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB        int    `mapstructure:"REDIS_CACHE_DB"`
	RedisConversationDB int    `mapstructure:"REDIS_CONVERSATION_DB"`
	RedisLockDB         int    `mapstructure:"REDIS_LOCK_DB"`
	RedisQueueDB        int    `mapstructure:"REDIS_QUEUE_DB"`

	// Availability.
	AvailabilityCacheTTL time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`

	// Conversation.
	ConversationTTLSeconds int           `mapstructure:"CONVERSATION_TTL_SECONDS"`
	ConfirmTimeoutMinutes  int           `mapstructure:"CONFIRM_TIMEOUT_MINUTES"`
	MinConfidence          float64       `mapstructure:"MIN_CONFIDENCE"`
	AdaptiveThreshold      bool          `mapstructure:"ADAPTIVE_THRESHOLD"`
	SweepInterval          time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepMode              string        `mapstructure:"SWEEP_MODE"` // ticker | asynq
	SweepRatePerSec        float64       `mapstructure:"SWEEP_RATE_PER_SEC"`

	// Booking events.
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	// Tracing.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var AppConfig Config

// LoadConfig reads config.yaml (if any) and the environment.
func LoadConfig() (*Config, error) {
	v := viper.New()
	// Look for a config file named "config.yaml" in the current and "config" directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	// Automatically use environment variables where available.
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Println("No config file found, using environment variables only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	AppConfig = cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	v.SetDefault("DEFAULT_TIMEZONE", "Europe/Rome")

	v.SetDefault("BOOKING_STORE", "mongo")
	v.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "tablebook")
	v.SetDefault("POSTGRES_URL", "postgres://localhost:5432/tablebook")
	v.SetDefault("TENANTS_FILE", "")

	v.SetDefault("LOCK_BACKEND", "redis")
	v.SetDefault("LOCK_TTL", 10*time.Second)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_CACHE_DB", 0)
	v.SetDefault("REDIS_CONVERSATION_DB", 1)
	v.SetDefault("REDIS_LOCK_DB", 2)
	v.SetDefault("REDIS_QUEUE_DB", 3)

	v.SetDefault("AVAILABILITY_CACHE_TTL", 10*time.Minute)

	v.SetDefault("CONVERSATION_TTL_SECONDS", 1800)
	v.SetDefault("CONFIRM_TIMEOUT_MINUTES", 20)
	v.SetDefault("MIN_CONFIDENCE", 0.6)
	v.SetDefault("ADAPTIVE_THRESHOLD", true)
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("SWEEP_MODE", "ticker")
	v.SetDefault("SWEEP_RATE_PER_SEC", 50.0)

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "tablebook.events")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	switch c.BookingStore {
	case "mongo", "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown BOOKING_STORE %q", c.BookingStore)
	}
	switch c.LockBackend {
	case "redis", "postgres", "local":
	default:
		return fmt.Errorf("config: unknown LOCK_BACKEND %q", c.LockBackend)
	}
	if c.LockBackend == "postgres" && c.BookingStore != "postgres" {
		return errors.New("config: LOCK_BACKEND=postgres requires BOOKING_STORE=postgres")
	}
	switch c.SweepMode {
	case "ticker", "asynq":
	default:
		return fmt.Errorf("config: unknown SWEEP_MODE %q", c.SweepMode)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: MIN_CONFIDENCE must be within [0,1], got %v", c.MinConfidence)
	}
	return nil
}

// ConversationTTL clamps the sliding conversation expiry to 5..60 minutes.
func (c Config) ConversationTTL() time.Duration {
	ttl := time.Duration(c.ConversationTTLSeconds) * time.Second
	if ttl < 5*time.Minute {
		return 5 * time.Minute
	}
	if ttl > time.Hour {
		return time.Hour
	}
	return ttl
}

// ConfirmTimeout is how long a pending action may wait for confirmation.
func (c Config) ConfirmTimeout() time.Duration {
	if c.ConfirmTimeoutMinutes <= 0 {
		return 20 * time.Minute
	}
	return time.Duration(c.ConfirmTimeoutMinutes) * time.Minute
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}
