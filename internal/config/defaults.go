package config

import "time"

// Default values for optional configuration parameters.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 9000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultUpdatesLimit = 100              // Bot API getUpdates default
	DefaultMaxLongPoll  = 50 * time.Second // Bot API timeout ceiling

	DefaultWebhookTimeout      = 30 * time.Second
	DefaultWebhookRetryCeiling = 3
	DefaultWebhookBackoffBase  = 500 * time.Millisecond
	DefaultWebhookBackoffCap   = 10 * time.Second

	DefaultActionTTL           = 5 * time.Second // chat actions show for at most 5s
	DefaultActionSweepInterval = 30 * time.Second

	DefaultDatabaseDSN = "file::memory:?cache=shared"
)
