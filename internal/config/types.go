package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "30s", "2m").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    StorageConfig    `json:"storage"`
	Media      MediaConfig      `json:"media"`
	Delivery   DeliveryConfig   `json:"delivery"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminID is the only user allowed to operate the bot.
	AdminID int64 `json:"admin_id"`
	// GroupID is the chat templates are delivered to.
	GroupID       int64 `json:"group_id"`
	GroupThreadID int   `json:"group_thread_id,omitempty"`
	// GroupLog receives WARN+ log lines when logging.telegram is enabled.
	GroupLog    int64  `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	APIURL      string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Timezone daily triggers are evaluated in (IANA name). Empty uses the
	// host zone.
	Timezone string `json:"timezone,omitempty"`
	// DeliveryTimeout bounds one delivery attempt. Default 30s.
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
}

// TaskEngineConfig controls the workers that run deliveries.
//
// Defaults: workers 2, queue_size 64, history_size 100, retry_max 2.
type TaskEngineConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	// RetryMax is a pointer so an explicit 0 disables retries.
	RetryMax *int `json:"retry_max,omitempty"`
}

// StorageConfig selects the template store.
//
//	"storage": { "driver": "sqlite", "path": "./data/templates.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type MediaConfig struct {
	Dir string `json:"dir,omitempty"`
}

type DeliveryConfig struct {
	// RatePerSec caps sends to the group; 0 means unlimited.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	// SendTestOnStart sends the test message after startup. Default true.
	SendTestOnStart *bool `json:"send_test_on_start,omitempty"`
}

func (d DeliveryConfig) TestOnStart() bool {
	return d.SendTestOnStart == nil || *d.SendTestOnStart
}
