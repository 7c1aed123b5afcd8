package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string         `yaml:"service_name"`
	HTTP        HTTPConfig     `yaml:"http"`
	GRPC        GRPCConfig     `yaml:"grpc"`
	MySQL       MySQLConfig    `yaml:"mysql"`
	Redis       RedisConfig    `yaml:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Tracing     TracingConfig  `yaml:"tracing"`
	Log         LogConfig      `yaml:"log"`
	Checkout    CheckoutConfig `yaml:"checkout"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	Addr             string        `yaml:"addr"`
	PoolSize         int           `yaml:"pool_size"`
	StockSnapshotTTL time.Duration `yaml:"stock_snapshot_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type CheckoutConfig struct {
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	PlaceTimeout   time.Duration `yaml:"place_timeout"`
}

func Default() Config {
	return Config{
		ServiceName: "kit-ledger",
		HTTP:        HTTPConfig{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		GRPC:        GRPCConfig{Addr: ":50051"},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/kitledger?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			PoolSize:         100,
			StockSnapshotTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "ledger-events",
		},
		Tracing: TracingConfig{JaegerEndpoint: "http://localhost:14268/api/traces"},
		Log:     LogConfig{Level: "info"},
		Checkout: CheckoutConfig{
			IdempotencyTTL: 24 * time.Hour,
			PlaceTimeout:   10 * time.Second,
		},
	}
}

// Load reads the YAML file named by LEDGER_CONFIG, if any, on top of the
// defaults and then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := getEnv("LEDGER_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := Parse(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func Parse(raw []byte, cfg *Config) error {
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return errors.Wrap(err, "parse config")
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = getEnv("GRPC_ADDR", c.GRPC.Addr)
	c.MySQL.DSN = getEnv("MYSQL_DSN", c.MySQL.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
		c.Kafka.Enabled = true
	}
	if v, err := strconv.ParseBool(getEnv("MYSQL_MIGRATE", "")); err == nil {
		c.MySQL.Migrate = v
	}
	if v, err := strconv.ParseBool(getEnv("TRACING_ENABLED", "")); err == nil {
		c.Tracing.Enabled = v
	}
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.MySQL.DSN == "" {
		return errors.New("mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Checkout.IdempotencyTTL <= 0 {
		return errors.New("checkout.idempotency_ttl must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
