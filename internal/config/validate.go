package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"templatebot/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvBotToken))
	}
	if cfg.Telegram.AdminID == 0 {
		add(fmt.Errorf("telegram.admin_id is required (or set %s)", EnvAdminID))
	}
	if cfg.Telegram.GroupID == 0 {
		add(fmt.Errorf("telegram.group_id is required (or set %s)", EnvGroupID))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.GroupLog == 0 {
		add(errors.New("logging.telegram.enabled requires telegram.group_log"))
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout)
	add(err)
	_, err = ParseDurationField("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay)
	add(err)
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(cfg.Logging.Telegram.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lv))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file", "memory":
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required for postgres (or set %s)", EnvDatabaseURL))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		add(errors.New("task_engine: sizes must be >= 0"))
	}
	if cfg.TaskEngine.RetryMax != nil && *cfg.TaskEngine.RetryMax < 0 {
		add(errors.New("task_engine.retry_max must be >= 0"))
	}
	if cfg.Delivery.RatePerSec < 0 {
		add(errors.New("delivery.rate_per_sec must be >= 0"))
	}
	return errors.Join(errs...)
}
