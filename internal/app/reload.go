package app

import (
	"context"
	"strings"

	"templatebot/internal/config"
	"templatebot/pkg/logx"
)

// reloadLoop applies published configs. Logging, the scheduler timezone,
// the delivery destination and the operator id change live; the rest is
// logged as needing a restart.
func (a *App) reloadLoop(c context.Context) {
	lastApplied := a.cfgm.Get()
	updates := a.cfgm.Updates()
	for {
		select {
		case <-c.Done():
			return
		case newCfg := <-updates:
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	a.delivery.Apply(mapDeliveryConfig(newCfg))

	if prev := a.cmdm.Owner(); prev != newCfg.Telegram.AdminID {
		a.cmdm.SetOwner(newCfg.Telegram.AdminID)
		if removed := a.conv.Abort(prev); removed {
			a.log.Info("session of previous operator dropped", logx.Int64("operator", prev))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
