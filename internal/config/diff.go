package config

import (
	"reflect"
	"sort"
	"strings"

	"templatebot/pkg/logx"
)

// Sections that cannot be applied without a restart.
var restartSections = map[string]bool{
	"telegram.token": true,
	"storage":        true,
	"task_engine":    true,
	"media":          true,
}

// SummarizeConfigChange returns the changed sections (sorted), safe log
// attrs (secrets are never included), and the subset of changed sections
// that need a restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token {
		changed = append(changed, "telegram.token")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""))
	}
	ot.Token, nt.Token = "", ""
	if ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.admin_id", nt.AdminID),
			logx.Int64("telegram.group_id", nt.GroupID),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.group_log_set", nt.GroupLog != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.delivery_timeout", newCfg.Scheduler.DeliveryTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
		)
	}

	ost, ns := oldCfg.Storage, newCfg.Storage
	if ost.Driver != ns.Driver || ost.Path != ns.Path || ost.BusyTimeout != ns.BusyTimeout || ost.DSN != ns.DSN {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.dsn_set", ns.DSN != ""),
		)
	}

	if oldCfg.Media != newCfg.Media {
		changed = append(changed, "media")
		attrs = append(attrs, logx.String("media.dir", newCfg.Media.Dir))
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs, logx.Any("delivery.rate_per_sec", newCfg.Delivery.RatePerSec))
	}

	sort.Strings(changed)
	var restart []string
	for _, c := range changed {
		if restartSections[c] {
			restart = append(restart, c)
		}
	}
	return changed, attrs, restart
}
