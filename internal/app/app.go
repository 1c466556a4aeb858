package app

import (
	"context"
	"fmt"
	"time"

	"templatebot/internal/config"
	"templatebot/internal/conversation"
	"templatebot/internal/delivery"
	"templatebot/internal/eventbus"
	"templatebot/internal/media"
	"templatebot/internal/runtime/supervisor"
	"templatebot/internal/storage"
	"templatebot/internal/task/engine"
	"templatebot/internal/task/scheduler"
	kit "templatebot/internal/transport"
	telegram "templatebot/internal/transport/telegram/adapter"
	"templatebot/internal/transport/telegram/router"
	"templatebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine   *engine.Service
	sched    *scheduler.Service
	delivery *delivery.Service
	conv     *conversation.Engine
	cmdm     *router.CommandManager

	updates      chan kit.Update
	dispatchDone chan struct{}
}

// New loads and validates the config, then builds every component. Nothing
// runs until Start.
func New(cfgm *config.ConfigManager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgm.Path(), err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))

	ad, err := telegram.New(adCfg, log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(ad)

	store, err := storage.Open(storeCfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver))

	bus := eventbus.New()
	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(schedCfg, engineSvc, log, bus)
	deliverySvc := delivery.New(mapDeliveryConfig(cfg), store, delivery.AdapterSink{Adapter: ad}, log, bus)
	mediaStore := media.New(mediaDir(cfg), ad, log)

	conv := conversation.New(conversation.Deps{
		Store:     store,
		Scheduler: schedSvc,
		Media:     mediaStore,
		Jobs:      deliverySvc,
		Log:       log,
		Bus:       bus,
	})

	cmdm := router.NewCommandManager(log, ad, cfg.Telegram.AdminID, router.Options{})
	cmdm.SetRegistry(router.BotCommands(conv, deliverySvc), router.ConversationHandler(conv))

	return &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		engine:   engineSvc,
		sched:    schedSvc,
		delivery: deliverySvc,
		conv:     conv,
		cmdm:     cmdm,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)

	// engine before scheduler so the first firing has workers
	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.dispatchDone = make(chan struct{})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		defer close(a.dispatchDone)
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if err := a.cmdm.PublishMenu(a.sup.Context()); err != nil {
		a.log.Warn("menu publish failed", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("config.watch", func(c context.Context) {
		if err := a.cfgm.Watch(c); err != nil {
			a.log.Warn("config watcher stopped; live reload disabled", logx.Err(err))
		}
	})

	if a.cfgm.Get().Delivery.TestOnStart() {
		a.sup.Go0("delivery.startup_test", func(c context.Context) {
			tctx, cancel := context.WithTimeout(c, 30*time.Second)
			defer cancel()
			_ = a.delivery.SendTest(tctx)
		})
	}

	a.log.Info("app started", logx.Int64("admin_id", a.cmdm.Owner()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "router", 3*time.Second, func(c context.Context) error {
		if a.dispatchDone == nil {
			return nil
		}
		select {
		case <-a.dispatchDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// in-flight deliveries get the rest of their timeout
	a.step(ctx, "taskengine", 35*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log, etc.)
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it eventually returns.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
