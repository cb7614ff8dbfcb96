package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/adapters/telegram"
	"postbot/internal/history"
	"postbot/internal/kit"
	"postbot/internal/schedule"
	"postbot/pkg/logx"
)

// App owns the process-level wiring: config, logging, the Telegram
// adapter, the router, the scheduler registry, the publish journal and
// the daily prune sweep. Editor behavior is registered from the
// outside via Router().
type App struct {
	cfgm    *ConfigManager
	logSvc  *logx.Service
	log     logx.Logger
	adapter *telegram.Adapter
	router  *Router
	sched   *schedule.Registry
	journal *history.Journal
	cron    *cron.Cron
	sup     *Supervisor

	updates chan kit.Update
}

func NewApp(configPath string) (*App, error) {
	cfgm := NewConfigManager(configPath)
	// The validator also injects TELEGRAM_BOT_TOKEN, so the token can
	// stay out of the config file.
	cfgm.SetValidator(func(_ context.Context, c *Config) error {
		if tok := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); tok != "" {
			c.Telegram.Token = tok
		}
		return validateConfig(c)
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, _ := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	reqTimeout, _ := parseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 30*time.Second)
	boot := logx.NewConsole(cfg.Logging.Level)

	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		RequestTimeout: reqTimeout,
	}, boot)
	if err != nil {
		return nil, err
	}

	relaySend := func(ctx context.Context, chatID int64, text string) error {
		_, err := adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text,
			&kit.SendOptions{DisablePreview: true})
		return err
	}
	logSvc, log := logx.New(logxConfig(cfg), relaySend)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var journal *history.Journal
	if cfg.History.Enabled {
		journal, err = history.Open(history.Config{Path: cfg.History.Path},
			log.With(logx.String("comp", "history")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
	}

	publishTimeout, _ := parseDurationOrDefault("editor.publish_timeout", cfg.Editor.PublishTimeout, 30*time.Second)
	sched := schedule.New(schedule.Config{PublishTimeout: publishTimeout},
		log.With(logx.String("comp", "schedule")))

	router := NewRouter(log.With(logx.String("comp", "router")), adapter, cfgm, cfg.Telegram.OwnerUserID)

	return &App{
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log,
		adapter: adapter,
		router:  router,
		sched:   sched,
		journal: journal,
		updates: make(chan kit.Update, 128),
	}, nil
}

func (a *App) Router() *Router               { return a.router }
func (a *App) Adapter() kit.Adapter          { return a.adapter }
func (a *App) Scheduler() *schedule.Registry { return a.sched }
func (a *App) Journal() *history.Journal     { return a.journal }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Config() *Config               { return a.cfgm.Get() }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = NewSupervisor(ctx,
		WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		WithCancelOnError(true),
	)
	run := a.sup.Context()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	me := a.adapter.Self()
	a.log.Info("bot online",
		logx.Int64("bot_id", me.ID),
		logx.String("username", me.Username),
		logx.String("channel", cfg.Telegram.Channel),
	)

	a.sched.Start(run)

	a.sup.Go("router.dispatch", func(ctx context.Context) error {
		return a.router.DispatchLoop(ctx, a.updates)
	})
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})
	a.sup.Go0("config.reload", func(ctx context.Context) {
		sub := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(next)
			}
		}
	})

	if a.journal != nil {
		a.startPrune(cfg)
	}
	return nil
}

func (a *App) applyReload(cfg *Config) {
	a.logSvc.Apply(logxConfig(cfg))
	if cfg.Logging.Relay.Enabled {
		a.logSvc.SetRelayTarget(cfg.Logging.Relay.ChatID)
	} else {
		a.logSvc.SetRelayTarget(0)
	}
	a.router.SetOwner(cfg.Telegram.OwnerUserID)
	a.log.Info("config applied",
		logx.String("level", cfg.Logging.Level),
		logx.Int64("owner", cfg.Telegram.OwnerUserID),
	)
}

func (a *App) startPrune(cfg *Config) {
	retention, err := parseDurationField("history.retention", cfg.History.Retention)
	if err != nil || retention <= 0 {
		return
	}
	loc := time.UTC
	if z, err := time.LoadLocation(cfg.Editor.Timezone); err == nil {
		loc = z
	}
	hh, mm, ok := parsePruneAt(cfg.History.PruneAt)
	if !ok {
		hh, mm = 4, 0
	}

	a.cron = cron.New(cron.WithLocation(loc))
	spec := fmt.Sprintf("%d %d * * *", mm, hh)
	_, err = a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.journal.Prune(ctx, retention)
		if err != nil {
			a.log.Warn("history prune failed", logx.Err(err))
			return
		}
		a.log.Info("history pruned", logx.Int64("removed", n))
	})
	if err != nil {
		a.log.Warn("history prune not scheduled", logx.Err(err))
		return
	}
	a.cron.Start()
}

// Stop shuts the app down in dependency order, every step bounded by
// the caller's ctx.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.cron != nil {
		step("cron", func() error {
			stopped := a.cron.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		})
	}
	step("scheduler", func() error { a.sched.Stop(ctx); return nil })
	step("adapter", func() error { return a.adapter.Stop(ctx) })
	if a.sup != nil {
		step("supervisor", func() error {
			a.sup.Cancel()
			return a.sup.Wait(ctx)
		})
	}
	if a.journal != nil {
		step("journal", func() error { return a.journal.Close() })
	}
	step("logging", func() error { return a.logSvc.Close() })

	return errors.Join(errs...)
}

// Wait blocks until a supervised goroutine fails or ctx ends.
func (a *App) Wait(ctx context.Context) error {
	if a.sup == nil {
		<-ctx.Done()
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-a.sup.Context().Done():
		return a.sup.Err()
	}
}

func logxConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Relay: logx.RelayConfig{
			Enabled:    cfg.Logging.Relay.Enabled,
			ChatID:     cfg.Logging.Relay.ChatID,
			MinLevel:   cfg.Logging.Relay.MinLevel,
			RatePerSec: cfg.Logging.Relay.RatePerSec,
		},
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if cfg.Telegram.OwnerUserID == 0 {
		return errors.New("telegram.owner_user_id is required")
	}
	if strings.TrimSpace(cfg.Telegram.Channel) == "" {
		return errors.New("telegram.channel is required")
	}
	if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := parseDurationField("telegram.request_timeout", cfg.Telegram.RequestTimeout); err != nil {
		return err
	}
	if _, err := parseDurationField("editor.publish_timeout", cfg.Editor.PublishTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Editor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("editor.timezone: %w", err)
		}
	}
	if cfg.History.Enabled {
		if strings.TrimSpace(cfg.History.Path) == "" {
			return errors.New("history.path is required when history is enabled")
		}
		if _, err := parseDurationField("history.retention", cfg.History.Retention); err != nil {
			return err
		}
		if at := strings.TrimSpace(cfg.History.PruneAt); at != "" {
			if _, _, ok := parsePruneAt(at); !ok {
				return fmt.Errorf("history.prune_at: invalid HH:MM %q", at)
			}
		}
	}
	return nil
}

func parsePruneAt(s string) (hh, mm int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
