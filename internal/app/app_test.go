package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templatebot/internal/config"
	"templatebot/internal/conversation"
	"templatebot/internal/delivery"
	"templatebot/internal/eventbus"
	"templatebot/internal/storage"
	"templatebot/internal/task/scheduler"
	kit "templatebot/internal/transport"
	"templatebot/internal/transport/telegram/router"
	"templatebot/pkg/logx"
)

func intPtr(v int) *int { return &v }

func TestMapStorageConfigDefaults(t *testing.T) {
	t.Parallel()

	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultSQLitePath, sc.Path)
	assert.Equal(t, defaultBusyTimeout, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "Postgres", DSN: " postgres://db "}})
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, "postgres://db", sc.DSN)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{BusyTimeout: "later"}})
	assert.Error(t, err)
}

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()

	ec, err := mapEngineConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultDeliveryTimeout, ec.DefaultTimeout)
	assert.Equal(t, defaultRetryMax, ec.RetryMax)

	ec, err = mapEngineConfig(&config.Config{
		Scheduler:  config.SchedulerConfig{DeliveryTimeout: "5s"},
		TaskEngine: config.TaskEngineConfig{Workers: 3, RetryMax: intPtr(0), MaxQueueDelay: "1m"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ec.DefaultTimeout)
	assert.Equal(t, 0, ec.RetryMax)
	assert.Equal(t, 3, ec.Workers)
	assert.Equal(t, time.Minute, ec.MaxQueueDelay)
}

func TestMapLogConfigNeedsLogChat(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Logging: config.LoggingConfig{Telegram: config.LoggingTelegram{Enabled: true}}}
	assert.False(t, mapLogConfig(cfg).Telegram.Enabled)

	cfg.Telegram.GroupLog = -42
	lc := mapLogConfig(cfg)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(-42), lc.Telegram.ChatID)
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()
	dc := mapDeliveryConfig(&config.Config{
		Telegram: config.TelegramConfig{GroupID: -100, GroupThreadID: 3},
		Delivery: config.DeliveryConfig{RatePerSec: 0.5},
	})
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 3}, dc.Destination)
	assert.InDelta(t, 0.5, dc.RatePerSec, 1e-9)
	assert.Equal(t, "custom", mediaDir(&config.Config{Media: config.MediaConfig{Dir: "custom"}}))
}

type nopSink struct{}

func (nopSink) Deliver(context.Context, kit.ChatTarget, delivery.Content) error { return nil }

type nopMedia struct{}

func (nopMedia) Save(context.Context, kit.Media) (string, error) { return "", nil }
func (nopMedia) Release(string) error                            { return nil }

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	logs, log := logx.New(logx.Config{Level: "error"})
	t.Cleanup(func() { _ = logs.Close() })

	store := storage.NewMemory()
	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, nil, log, bus)
	del := delivery.New(mapDeliveryConfig(cfg), store, nopSink{}, log, bus)
	conv := conversation.New(conversation.Deps{Store: store, Scheduler: sched, Media: nopMedia{}, Jobs: del, Log: log, Bus: bus})
	return &App{
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    store,
		sched:    sched,
		delivery: del,
		conv:     conv,
		cmdm:     router.NewCommandManager(log, nil, cfg.Telegram.AdminID, router.Options{}),
	}
}

func TestApplyConfigSwitchesOperatorAndTimezone(t *testing.T) {
	t.Parallel()

	oldCfg := &config.Config{Telegram: config.TelegramConfig{AdminID: 1, GroupID: -1}, Scheduler: config.SchedulerConfig{Timezone: "UTC"}}
	a := newTestApp(t, oldCfg)

	a.conv.Begin(context.Background(), 1, conversation.FlowAdd)
	_, ok := a.conv.Session(1)
	require.True(t, ok)

	newCfg := &config.Config{Telegram: config.TelegramConfig{AdminID: 2, GroupID: -1}, Scheduler: config.SchedulerConfig{Timezone: "Europe/Berlin"}}
	a.applyConfig(oldCfg, newCfg)

	assert.Equal(t, int64(2), a.cmdm.Owner())
	assert.Equal(t, "Europe/Berlin", a.sched.Location().String())
	_, ok = a.conv.Session(1)
	assert.False(t, ok, "session of the old operator is dropped")
}
