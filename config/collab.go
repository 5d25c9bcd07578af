package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CollabConfig holds collaboration server configuration.
type CollabConfig struct {
	ListenAddr      string      `json:"listen_addr" yaml:"listen_addr" validate:"required"`
	MaxConnections  int         `json:"max_connections" yaml:"max_connections" validate:"gte=0"`
	PingInterval    int         `json:"ping_interval_seconds" yaml:"ping_interval_seconds" validate:"gte=1"`
	WriteTimeout    int         `json:"write_timeout_seconds" yaml:"write_timeout_seconds" validate:"gte=1"`
	ReadBufferSize  int         `json:"read_buffer_size" yaml:"read_buffer_size" validate:"gte=1"`
	WriteBufferSize int         `json:"write_buffer_size" yaml:"write_buffer_size" validate:"gte=1"`
	MaxMessageSize  int64       `json:"max_message_size" yaml:"max_message_size" validate:"gte=1"`
	SendBufferSize  int         `json:"send_buffer_size" yaml:"send_buffer_size" validate:"gte=1"`
	AllowedOrigins  []string    `json:"allowed_origins" yaml:"allowed_origins"`
	AuthorizeJoins  bool        `json:"authorize_joins" yaml:"authorize_joins"`
	AuthTimeout     int         `json:"auth_timeout_seconds" yaml:"auth_timeout_seconds" validate:"gte=1"`
	LogLevel        string      `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogPretty       bool        `json:"log_pretty" yaml:"log_pretty"`
	Redis           RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds connection settings for the Redis permission store.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" validate:"required"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns the default collaboration server configuration.
// The hub falls back to these values for zero Settings.
func DefaultConfig() *CollabConfig {
	return &CollabConfig{
		ListenAddr:      ":3000",
		MaxConnections:  1000,
		PingInterval:    30,
		WriteTimeout:    10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  64 * 1024,
		SendBufferSize:  256,
		AuthTimeout:     5,
		LogLevel:        "info",
		Redis:           DefaultRedisConfig(),
	}
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "collab:",
	}
}

// Load builds a configuration from defaults, an optional YAML file and
// environment overrides, then validates it.
func Load(path string) (*CollabConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables. Unparseable
// numeric or boolean values are ignored.
func (c *CollabConfig) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	if addr := os.Getenv("COLLAB_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if v := os.Getenv("COLLAB_AUTHORIZE_JOINS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AuthorizeJoins = b
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c *CollabConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// PingPeriod is the interval between server pings.
func (c *CollabConfig) PingPeriod() time.Duration { return time.Duration(c.PingInterval) * time.Second }

// WriteDeadline bounds a single frame write.
func (c *CollabConfig) WriteDeadline() time.Duration { return time.Duration(c.WriteTimeout) * time.Second }

// AuthDeadline bounds one join permission lookup.
func (c *CollabConfig) AuthDeadline() time.Duration { return time.Duration(c.AuthTimeout) * time.Second }

// PongWait is how long the read side waits for any frame or pong.
func (c *CollabConfig) PongWait() time.Duration { return 2 * c.PingPeriod() }
