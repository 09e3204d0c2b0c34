package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/niciki/system-design/internal/pkg/retry"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
	CacheBackendNone   = "none"
)

type DatabaseConfig struct {
	User            string        `env:"POSTGRES_USER"`
	Password        string        `env:"POSTGRES_PASSWORD"`
	Host            string        `env:"POSTGRES_HOST" envDefault:"postgres"`
	Port            string        `env:"POSTGRES_PORT" envDefault:"5432"`
	Name            string        `env:"POSTGRES_DB" envDefault:"orders_db"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	PoolSize        int           `env:"DB_POOL_SIZE" envDefault:"10"`
	AcquireTimeout  time.Duration `env:"DB_ACQUIRE_TIMEOUT" envDefault:"3s"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	RunMigrations   bool          `env:"DB_RUN_MIGRATIONS" envDefault:"true"`
	TraceSQL        bool          `env:"DB_TRACE_SQL" envDefault:"false"`
}

func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Addr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"500ms"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"500ms"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"1"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
}

type CacheConfig struct {
	Backend        string        `env:"CACHE_BACKEND" envDefault:"redis"`
	OrderTTL       time.Duration `env:"CACHE_ORDER_TTL" envDefault:"3600s"`
	ListTTL        time.Duration `env:"CACHE_LIST_TTL" envDefault:"300s"`
	MemoryCapacity int           `env:"CACHE_MEMORY_CAPACITY" envDefault:"10000"`
	WarmLimit      int           `env:"CACHE_WARM_LIMIT" envDefault:"0"`

	BreakerThreshold   int           `env:"CACHE_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"CACHE_BREAKER_OPEN_TIMEOUT" envDefault:"10s"`
	BreakerHalfOpen    int           `env:"CACHE_BREAKER_HALF_OPEN" envDefault:"1"`
}

type KafkaConfig struct {
	Enabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"order-commands"`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"orders_group"`
}

type AuthConfig struct {
	ServiceURL string        `env:"AUTH_SERVICE_URL" envDefault:"http://auth:8000"`
	Timeout    time.Duration `env:"AUTH_TIMEOUT" envDefault:"3s"`
}

type HTTPConfig struct {
	Port            string        `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Config struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`

	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Startup  retry.Policy `envPrefix:"STARTUP_RETRY_"`
}

type ProducerConfig struct {
	Kafka        KafkaConfig
	Interval     time.Duration `env:"PRODUCER_INTERVAL" envDefault:"1s"`
	Count        int           `env:"PRODUCER_COUNT" envDefault:"0"`
	BadDataRate  float64       `env:"PRODUCER_BAD_DATA_RATE" envDefault:"0.1"`
	MaxClientID  int           `env:"PRODUCER_MAX_CLIENT_ID" envDefault:"100"`
	WriteTimeout time.Duration `env:"PRODUCER_WRITE_TIMEOUT" envDefault:"5s"`
}

// loadDotEnv preloads ENV_FILE (default .env) without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.Database.User == "" || c.Database.Password == "" {
			return fmt.Errorf("database credentials required for the %s store backend", StoreBackendPostgres)
		}
		if c.Database.PoolSize < 1 {
			return fmt.Errorf("DB_POOL_SIZE must be positive, got %d", c.Database.PoolSize)
		}
		if c.Database.AcquireTimeout <= 0 {
			return fmt.Errorf("DB_ACQUIRE_TIMEOUT must be positive, got %s", c.Database.AcquireTimeout)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendMemory, CacheBackendNone:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Cache.OrderTTL <= 0 || c.Cache.ListTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic required when KAFKA_ENABLED is set")
	}
	return nil
}

func LoadProducerConfig() (*ProducerConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &ProducerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.BadDataRate < 0 || cfg.BadDataRate > 1 {
		return nil, fmt.Errorf("PRODUCER_BAD_DATA_RATE must be within [0, 1], got %v", cfg.BadDataRate)
	}
	return cfg, nil
}
