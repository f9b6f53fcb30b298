package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads and validates configuration in order of precedence:
// defaults, then the YAML file at path (optional), then TELEMOCK_*
// environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TELEMOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults and env cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("updates.default_limit", DefaultUpdatesLimit)
	v.SetDefault("updates.max_long_poll", DefaultMaxLongPoll)

	v.SetDefault("webhook.timeout", DefaultWebhookTimeout)
	v.SetDefault("webhook.retry_ceiling", DefaultWebhookRetryCeiling)
	v.SetDefault("webhook.backoff_base", DefaultWebhookBackoffBase)
	v.SetDefault("webhook.backoff_cap", DefaultWebhookBackoffCap)

	v.SetDefault("actions.ttl", DefaultActionTTL)
	v.SetDefault("actions.sweep_interval", DefaultActionSweepInterval)

	v.SetDefault("database.dsn", DefaultDatabaseDSN)
}
