package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chimebot/internal/agenda"
	"chimebot/internal/config"
	"chimebot/internal/glossary"
	rtsup "chimebot/internal/runtime/supervisor"
	"chimebot/internal/storage"
	kit "chimebot/internal/transport"
	telegram "chimebot/internal/transport/telegram/adapter"
	"chimebot/internal/transport/telegram/router"
	logx "chimebot/pkg/logx"
)

// Feature names accepted in the config "features" map.
const (
	featReminders = "reminders"
	featTasks     = "tasks"
	featGlossary  = "glossary"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter kit.Adapter

	agenda *agenda.Service
	gloss  *glossary.Service

	cmdm *router.CommandManager

	updates chan kit.Update

	startedAt time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	// An omitted storage section means the file driver next to the binary.
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "file"
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			cfg.Storage.Path = "./chimebot_store"
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// The adapter exists before the log service so token errors surface on
	// the console even when file logging is misconfigured.
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	interval, err := cfg.Agenda.Interval()
	if err != nil {
		return nil, err
	}
	agendaSvc, err := agenda.New(agenda.Config{
		Interval:    interval,
		DefaultChat: cfg.Telegram.ChatID,
		QueueSize:   cfg.Agenda.QueueSize,
		RatePerSec:  cfg.Agenda.RatePerSec,
		Workers:     cfg.Agenda.Workers,
	}, store, ad, agenda.SystemClock{}, log.With(logx.String("comp", "agenda")))
	if err != nil {
		return nil, err
	}

	glossSvc, err := glossary.New(store, log.With(logx.String("comp", "glossary")))
	if err != nil {
		return nil, err
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfg.Telegram.OwnerUserIDs)

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		adapter:   ad,
		agenda:    agendaSvc,
		gloss:     glossSvc,
		cmdm:      cmdm,
		updates:   make(chan kit.Update, 256),
		startedAt: time.Now(),
	}
	cmdm.SetRegistry(a.buildRegistry(cfg))
	return a, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// buildRegistry assembles the command set honoring the feature toggles.
// /ping and /help are always on.
func (a *App) buildRegistry(cfg *config.Config) []router.Command {
	cmds := []router.Command{
		{
			Route:       "ping",
			Description: "check the bot is alive",
			Usage:       "/ping",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				up := time.Since(a.startedAt).Round(time.Second)
				_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("🏓 Pong! up %s", up), nil)
				return nil
			},
		},
	}
	if cfg.FeatureEnabled(featReminders) {
		cmds = append(cmds, agenda.ReminderCommands(a.agenda)...)
	}
	if cfg.FeatureEnabled(featTasks) {
		cmds = append(cmds, agenda.TaskCommands(a.agenda)...)
	}
	if cfg.FeatureEnabled(featGlossary) {
		cmds = append(cmds, glossary.Commands(a.gloss)...)
	}
	return cmds
}

var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done closes when the run context ends, by Stop or by a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return closedDone
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error the supervisor saw, nil before Start.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reload candidates validate with env overrides layered on, the shape
	// that would actually run. A file without telegram.token stays fine as
	// long as CHIMEBOT_TOKEN is set.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		eff := *cfg
		if err := config.ApplyEnv(&eff); err != nil {
			return err
		}
		return config.Validate(&eff)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.agenda.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.startReloadLoop()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// startReloadLoop subscribes to config snapshots and applies them until the
// run context ends. Bursts coalesce down to the newest snapshot.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = drainLatest(sub, next)
				last = a.applyConfig(last, next)
			}
		}
	})
}

// drainLatest empties whatever else is buffered in sub and returns the
// newest snapshot seen.
func drainLatest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case next := <-sub:
			if next != nil {
				cur = next
			}
		default:
			return cur
		}
	}
}

// applyConfig applies one snapshot and returns it as the new baseline.
// Logging, owners and feature toggles take effect live; the read-once
// sections only get called out.
func (a *App) applyConfig(prev, next *config.Config) *config.Config {
	sections, attrs, flipped := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload carried no effective change")
		return next
	}

	for _, s := range sections {
		switch s {
		case "agenda", "storage", "telegram":
			a.log.Warn("config section needs a restart to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(loggingConfig(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	if len(flipped) > 0 {
		a.cmdm.SetRegistry(a.buildRegistry(next))
		a.log.Info("feature toggles applied", logx.Any("features", flipped))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	return next
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Agenda drains first so a final tick can still send, then the adapter,
	// then storage once nothing writes anymore.
	a.stopStep(ctx, "agenda", 3*time.Second, a.agenda.Stop)
	a.stopStep(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.stopStep(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.stopStep(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stopStep runs one shutdown action inside its own time box. A hung
// component gets logged and left behind instead of blocking the sequence.
// The box never extends past the caller's deadline.
func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	sctx := ctx
	cancel := context.CancelFunc(func() {})
	if limit > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		if limit > 0 {
			sctx, cancel = context.WithTimeout(ctx, limit)
		}
	}
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("stop %s: panic: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		switch {
		case err != nil:
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err), logx.Duration("took", took))
		case took >= 500*time.Millisecond:
			a.log.Info("stop step done", logx.String("step", name), logx.Duration("took", took))
		default:
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", took))
		}
	case <-sctx.Done():
		a.log.Warn("stop step overran its deadline, moving on",
			logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Warn("stop step finished late",
				logx.String("step", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
