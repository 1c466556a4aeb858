package app

import (
	"path/filepath"
	"strings"
	"time"

	"templatebot/internal/config"
	"templatebot/internal/delivery"
	"templatebot/internal/media"
	"templatebot/internal/storage"
	"templatebot/internal/task/engine"
	"templatebot/internal/task/scheduler"
	kit "templatebot/internal/transport"
	telegram "templatebot/internal/transport/telegram/adapter"
	"templatebot/pkg/logx"
)

const (
	defaultPollTimeout     = 10 * time.Second
	defaultDeliveryTimeout = 30 * time.Second
	defaultBusyTimeout     = time.Second
	defaultSQLitePath      = "data/templates.db"
	defaultRetryMax        = 2
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.GroupLog != 0,
			ChatID:     cfg.Telegram.GroupLog,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultSQLitePath
		}
	case "file":
		if path == "" {
			path = filepath.Join(filepath.Dir(defaultSQLitePath), "templates.json")
		}
	}
	return storage.Config{Driver: driver, Path: path, DSN: strings.TrimSpace(sc.DSN), BusyTimeout: busy}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	timeout, err := config.ParseDurationOrDefault("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout, defaultDeliveryTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	retry := defaultRetryMax
	if te.RetryMax != nil {
		retry = *te.RetryMax
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: timeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       retry,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout, defaultDeliveryTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), Timeout: timeout}, nil
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{
		Destination: kit.ChatTarget{ChatID: cfg.Telegram.GroupID, ThreadID: cfg.Telegram.GroupThreadID},
		RatePerSec:  cfg.Delivery.RatePerSec,
		Burst:       1,
	}
}

func mediaDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Media.Dir); d != "" {
		return d
	}
	return media.DefaultDir
}
