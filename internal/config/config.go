// Package config manages server configuration from defaults, an
// optional config.yaml file and TELEMOCK_-prefixed environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Updates  UpdatesConfig  `mapstructure:"updates"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Actions  ActionsConfig  `mapstructure:"actions"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig sets the listen address.
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required,gt=0,lte=65535"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// UpdatesConfig bounds getUpdates behavior.
type UpdatesConfig struct {
	// DefaultLimit applies when getUpdates names no limit.
	DefaultLimit int `mapstructure:"default_limit" validate:"required,gt=0,lte=100"`
	// MaxLongPoll caps the timeout parameter of getUpdates.
	MaxLongPoll time.Duration `mapstructure:"max_long_poll" validate:"required"`
}

// WebhookConfig bounds push delivery and its retry schedule.
type WebhookConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"       validate:"required"`
	RetryCeiling int           `mapstructure:"retry_ceiling" validate:"gte=0"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"  validate:"required"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"   validate:"required"`
}

// ActionsConfig controls chat action expiry.
type ActionsConfig struct {
	TTL           time.Duration `mapstructure:"ttl"            validate:"required"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required"`
}

// DatabaseConfig points the file store at its SQLite DSN. The default
// is an in-memory database; state is meant to vanish on restart.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Webhook.BackoffCap < c.Webhook.BackoffBase {
		return fmt.Errorf("invalid configuration: webhook.backoff_cap below webhook.backoff_base")
	}
	return nil
}
