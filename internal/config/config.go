// Package config loads flowgate's configuration from config.yaml with
// FLOWGATE_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/flowgate/internal/auth"
	"github.com/sungwon/flowgate/internal/credentials"
	"github.com/sungwon/flowgate/internal/dlq"
	"github.com/sungwon/flowgate/internal/payload"
	"github.com/sungwon/flowgate/internal/processing"
	"github.com/sungwon/flowgate/internal/queue"
	"github.com/sungwon/flowgate/internal/queuestore"
	"github.com/sungwon/flowgate/internal/storage"
	"github.com/sungwon/flowgate/internal/vm"
)

// Config holds all application configuration.
type Config struct {
	Queue       QueueConfig       `mapstructure:"queue"`
	Store       queuestore.Config `mapstructure:"store"`
	Dispatch    vm.Config         `mapstructure:"dispatch"`
	Bridges     []BridgeConfig    `mapstructure:"bridges"`
	Processing  processing.Config `mapstructure:"processing"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	DLQ         dlq.Config        `mapstructure:"dlq"`
	Payload     payload.Config    `mapstructure:"payload"`
	API         APIConfig         `mapstructure:"api"`
	Auth        auth.Config       `mapstructure:"auth"`
	Database    storage.Config    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// QueueConfig holds the default queue policy and per-name overrides.
type QueueConfig struct {
	Default queue.Config            `mapstructure:"default"`
	Queues  map[string]queue.Config `mapstructure:"queues"`
}

// BridgeConfig runs a receiver on an endpoint that moves each message to
// Target in the same session.
type BridgeConfig struct {
	vm.ReceiverConfig `mapstructure:",squash"`
	Target            string `mapstructure:"target"`
}

// CredentialsConfig holds the refresh coordinator settings.
type CredentialsConfig struct {
	credentials.Config `mapstructure:",squash"`
	Store              string                      `mapstructure:"store"` // "memory" or "redis"
	KeyPrefix          string                      `mapstructure:"key_prefix"`
	Transport          credentials.TransportConfig `mapstructure:"transport"`
}

// APIConfig holds admin API server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds the shared Redis client configuration. An empty
// address disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix FLOWGATE_ override file values.
// For example, FLOWGATE_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("FLOWGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-section constraints the component constructors
// cannot see on their own.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Queue.Default.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue.default: %w", err))
	}
	for name, qc := range c.Queue.Queues {
		if err := qc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("queue.queues.%s: %w", name, err))
		}
		if qc.Persistent && c.Store.Type == "" {
			errs = append(errs, fmt.Errorf("queue.queues.%s: persistent queue requires store.type", name))
		}
	}
	if c.Queue.Default.Persistent && c.Store.Type == "" {
		errs = append(errs, errors.New("queue.default: persistent queues require store.type"))
	}
	if err := c.Processing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Store.Type == "postgres" && c.Database.URL == "" {
		errs = append(errs, errors.New("store.type postgres requires database.url"))
	}
	needsRedis := c.Store.Type == "redis" || c.DLQ.Type == "redis" || c.Credentials.Store == "redis"
	if needsRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis-backed components require redis.addr"))
	}
	for i, b := range c.Bridges {
		if b.Endpoint == "" || b.Target == "" {
			errs = append(errs, fmt.Errorf("bridges[%d]: endpoint and target are required", i))
		}
		if _, err := vm.ParseTxPolicy(b.TxPolicy); err != nil {
			errs = append(errs, fmt.Errorf("bridges[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
