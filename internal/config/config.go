package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"arcadepay/pkg/idgen"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Events    EventsConfig    `mapstructure:"events"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// WorkerID seeds the snowflake generator behind transaction numbers and
	// event ids. Instances sharing a database need distinct values.
	WorkerID int64 `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

const (
	EventsKafka = "kafka"
	EventsNATS  = "nats"
	EventsNone  = "none"
)

type EventsConfig struct {
	Provider string `mapstructure:"provider"`
	// Topic is the Kafka topic or the NATS subject ledger events go to.
	Topic string `mapstructure:"topic"`
}

const (
	LockLocal = "local"
	LockRedis = "redis"
)

type LedgerConfig struct {
	Lock           string        `mapstructure:"lock"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

type OutboxConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetryCount int           `mapstructure:"max_retry_count"`
}

type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type AdminConfig struct {
	AllowReset bool `mapstructure:"allow_reset"`
}

type CatalogItem struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Cost string `mapstructure:"cost"`
}

type CatalogConfig struct {
	EnforcePrices bool          `mapstructure:"enforce_prices"`
	Items         []CatalogItem `mapstructure:"items"`
}

type SeedConfig struct {
	DemoCard bool `mapstructure:"demo_card"`
}

const envPrefix = "ARCADEPAY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "arcadepay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.provider", EventsNone)
	v.SetDefault("events.topic", "arcadepay.ledger-events")

	v.SetDefault("ledger.lock", LockLocal)
	v.SetDefault("ledger.lock_ttl", 10*time.Second)
	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("ledger.retry_base_delay", 5*time.Millisecond)
	v.SetDefault("ledger.retry_max_delay", 200*time.Millisecond)

	v.SetDefault("outbox.interval", 500*time.Millisecond)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retry_count", 5)

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", time.Minute)

	v.SetDefault("admin.allow_reset", false)
	v.SetDefault("catalog.enforce_prices", false)
	v.SetDefault("seed.demo_card", false)
}

// LoadConfig reads the yaml file at path, then applies ARCADEPAY_* environment
// overrides (server.port -> ARCADEPAY_SERVER_PORT). A missing file is not an
// error; defaults and the environment are enough to run.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Events.Provider {
	case EventsKafka, EventsNATS, EventsNone:
	default:
		return fmt.Errorf("config: unknown events.provider %q", c.Events.Provider)
	}
	switch c.Ledger.Lock {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("config: unknown ledger.lock %q", c.Ledger.Lock)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Server.WorkerID < 0 || c.Server.WorkerID > idgen.MaxWorkerID {
		return fmt.Errorf("config: server.worker_id must be within 0-%d, got %d", idgen.MaxWorkerID, c.Server.WorkerID)
	}
	if c.Events.Provider != EventsNone && strings.TrimSpace(c.Events.Topic) == "" {
		return errors.New("config: events.topic is empty")
	}
	if c.Events.Provider == EventsKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.brokers is empty")
	}
	return nil
}
