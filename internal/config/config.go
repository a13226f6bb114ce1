package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service binaries.
type Config struct {
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	LLM         LLMConfig      `yaml:"llm"`
	Queue       QueueConfig    `yaml:"queue"`
	Worker      WorkerConfig   `yaml:"worker"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseConfig selects the storage backend. URL is a PostgreSQL
// connection string for "postgres" and a file path for "sqlite".
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	Mock        bool          `yaml:"mock"`
}

type QueueConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisURL      string `yaml:"redis_url"`
	Stream        string `yaml:"stream"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	BatchSize   int           `yaml:"batch_size"`
	Block       time.Duration `yaml:"block"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Default returns the built-in settings before any file or env override.
func Default() Config {
	return Config{
		Environment: "local",
		LogLevel:    "info",
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   120 * time.Second,
			RequestTimeout: 90 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			URL:             "call_insights.db",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
		},
		LLM: LLMConfig{
			Model:       "gpt-4-turbo-preview",
			Temperature: 0.1,
			MaxTokens:   250,
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			Timeout:     60 * time.Second,
		},
		Queue: QueueConfig{
			RedisURL:      "redis://localhost:6379/0",
			Stream:        "transcripts",
			ConsumerGroup: "insight-workers",
			ConsumerName:  "worker-1",
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			BatchSize:   10,
			Block:       5 * time.Second,
		},
	}
}

// Load reads .env, then the YAML file at CONFIG_PATH, then environment
// variables. Later sources win. A missing or broken file is only fatal with
// STRICT_CONFIG=true.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	path := getEnv("CONFIG_PATH", "config.yaml")
	if err := loadFile(path, &cfg); err != nil {
		if getEnvAsBool("STRICT_CONFIG", false) {
			return cfg, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty config file")
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	cfg.Database.Driver = strings.ToLower(getEnv("DB_DRIVER", cfg.Database.Driver))
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = getEnvAsInt("DB_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = getEnvAsInt("DB_MIN_CONNS", cfg.Database.MinConns)
	cfg.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", cfg.Database.MaxConnLifetime)

	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("OPENAI_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxTokens = getEnvAsInt("LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.MaxAttempts = getEnvAsInt("LLM_MAX_ATTEMPTS", cfg.LLM.MaxAttempts)
	cfg.LLM.BaseDelay = getEnvAsDuration("LLM_BASE_DELAY", cfg.LLM.BaseDelay)
	cfg.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.Mock = getEnvAsBool("USE_MOCK_LLM", cfg.LLM.Mock)
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(f)
		}
	}

	cfg.Queue.Enabled = getEnvAsBool("QUEUE_ENABLED", cfg.Queue.Enabled)
	cfg.Queue.RedisURL = getEnv("REDIS_URL", cfg.Queue.RedisURL)
	cfg.Queue.Stream = getEnv("QUEUE_STREAM", cfg.Queue.Stream)
	cfg.Queue.ConsumerGroup = getEnv("QUEUE_CONSUMER_GROUP", cfg.Queue.ConsumerGroup)
	cfg.Queue.ConsumerName = getEnv("QUEUE_CONSUMER_NAME", cfg.Queue.ConsumerName)

	cfg.Worker.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.BatchSize = getEnvAsInt("WORKER_BATCH_SIZE", cfg.Worker.BatchSize)
	cfg.Worker.Block = getEnvAsDuration("WORKER_BLOCK", cfg.Worker.Block)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver %q (want %s or %s)", c.Database.Driver, DriverPostgres, DriverSQLite)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.LLM.MaxAttempts <= 0 {
		return fmt.Errorf("llm max_attempts must be positive, got %d", c.LLM.MaxAttempts)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if !c.LLM.Mock && c.LLM.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required unless USE_MOCK_LLM=true")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}

// Addr returns the server listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
