package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/fjod/trophythreads/internal/checkout"
	"github.com/fjod/trophythreads/internal/poller"
	"github.com/fjod/trophythreads/internal/publisher"
)

type DBConfig struct {
	Driver         string        `yaml:"driver"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Name           string        `yaml:"name"`
	SQLitePath     string        `yaml:"sqlite_path"`
	MigrationsPath string        `yaml:"migrations_path"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	GRPCPort        string        `yaml:"grpc_port"`
	LogLevel        string        `yaml:"log_level"`
	DB              DBConfig      `yaml:"db"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	KafkaBrokers    []string      `yaml:"kafka_brokers"`
	KafkaTopic      string        `yaml:"kafka_topic"`
	KafkaGroupID    string        `yaml:"kafka_group_id"`
	CSVPath         string        `yaml:"csv_path"`
	MongoURI        string        `yaml:"mongo_uri"`
	MongoDBName     string        `yaml:"mongo_db_name"`
	Fees            checkout.Fees `yaml:"fees"`
	HandleTTL       time.Duration `yaml:"handle_ttl"`
	CartCacheTTL    time.Duration `yaml:"cart_cache_ttl"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPPort: "8080",
		GRPCPort: "50060",
		LogLevel: "info",
		DB: DBConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "postgres",
			Name:           "trophythreads",
			SQLitePath:     "trophythreads.db",
			MigrationsPath: "internal/repository/migrations",
			LockTimeout:    5 * time.Second,
		},
		RedisAddr:       "localhost:6379",
		KafkaTopic:      publisher.DefaultTopic,
		KafkaGroupID:    poller.DefaultGroupID,
		CSVPath:         "merchandise.csv",
		MongoDBName:     "trophythreads",
		Fees:            checkout.DefaultFees(),
		HandleTTL:       30 * time.Minute,
		CartCacheTTL:    10 * time.Minute,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		HealthInterval:  15 * time.Second,
	}
}

// loadConfig layers defaults, then the optional CONFIG_FILE, then env vars.
func loadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = getEnv("GRPC_PORT", cfg.GRPCPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = getEnv("DB_NAME", cfg.DB.Name)
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.MigrationsPath = getEnv("MIGRATIONS_PATH", cfg.DB.MigrationsPath)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.CSVPath = getEnv("MERCHANDISE_CSV", cfg.CSVPath)
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDBName = getEnv("MONGO_DB_NAME", cfg.MongoDBName)

	var err error
	if cfg.DB.Port, err = getEnvInt("DB_PORT", cfg.DB.Port); err != nil {
		return nil, err
	}
	if cfg.Fees.Shipping, err = getEnvInt64("SHIPPING_FEE", cfg.Fees.Shipping); err != nil {
		return nil, err
	}
	if cfg.Fees.Service, err = getEnvInt64("SERVICE_FEE", cfg.Fees.Service); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_LOCK_TIMEOUT", &cfg.DB.LockTimeout},
		{"HANDLE_TTL", &cfg.HandleTTL},
		{"CART_CACHE_TTL", &cfg.CartCacheTTL},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"HEALTH_INTERVAL", &cfg.HealthInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Fees.Shipping < 0 || c.Fees.Service < 0 {
		return fmt.Errorf("fees must not be negative")
	}
	if c.HandleTTL <= 0 {
		return fmt.Errorf("HANDLE_TTL must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
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
