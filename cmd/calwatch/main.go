package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"calwatch/internal/config"
	"calwatch/internal/engine"
	"calwatch/internal/flow"
	"calwatch/internal/ics"
	appLog "calwatch/internal/log"
	"calwatch/internal/notify"
	"calwatch/internal/scheduler"
	"calwatch/internal/settings"
	"calwatch/internal/store"
	"calwatch/internal/telemetry"
	"calwatch/internal/tokens"
	"calwatch/internal/triggers"
	"calwatch/internal/web"
)

var version = "0.1.0-dev"

func main() {
	// .env is optional.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "calwatch",
		Usage:   "Watch iCalendar feeds, publish event tokens and fire triggers.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultPath, EnvVars: []string{"CALWATCH_CONFIG"}, Usage: "Path to config file"},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
		},
		Commands: []*cli.Command{
			runCommand(),
			syncCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("calwatch failed", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the daemon: scheduled refresh, trigger scan and HTTP API.",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := setup(c)
			if err != nil {
				return err
			}
			defer d.close()

			sched := scheduler.New(scheduler.Config{
				RefreshSpec: d.cfg.RefreshCron,
				ScanSpec:    d.cfg.ScanCron,
				Location:    d.cfg.Location(),
			}, d.engine, d.settings)

			watcher, err := config.Watch(d.configPath, func(cfg *config.Config) {
				if err := config.ApplySettings(cfg, d.settings); err != nil {
					appLog.Error("apply reloaded settings failed", err)
					d.reporter.Capture(err, "op", "apply_settings")
				}
			})
			if err != nil {
				appLog.Warn("config watcher unavailable, changes need a restart", "err", err)
			} else {
				defer watcher.Close()
			}

			errCh := make(chan error, 2)
			go func() { errCh <- sched.Start(ctx) }()
			go func() { errCh <- web.NewServer(d.cfg, d.engine, d.tokens).Serve(ctx) }()

			var runErr error
			select {
			case <-ctx.Done():
				appLog.Info("signal received, shutting down")
			case runErr = <-errCh:
				stop()
			}
			sched.Stop()
			appLog.Info("calwatch exiting")
			return runErr
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Refresh all calendars once and print the result.",
		Action: func(c *cli.Context) error {
			d, err := setup(c)
			if err != nil {
				return err
			}
			defer d.close()

			d.engine.LoadFormat()
			res, err := d.engine.Refresh(c.Context, true)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// daemon bundles the wired components of one process.
type daemon struct {
	configPath string
	cfg        *config.Config
	settings   *settings.SQLite
	reporter   telemetry.Reporter
	tokens     *flow.TokenRegistry
	engine     *engine.Engine
	closers    []func()
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func setup(c *cli.Context) (*daemon, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if l := c.String("listen"); l != "" {
		cfg.Listen = l
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	appLog.Info("calwatch starting", "version", version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"scan", cfg.ScanCron,
		"calendars", len(cfg.Calendars),
		"subscriptions", len(cfg.Subscriptions),
		"telegram", cfg.Telegram.Enabled(),
		"sentry", cfg.SentryDSN != "",
	)

	d := &daemon{configPath: path, cfg: cfg}

	db, err := settings.OpenSQLite(cfg.SettingsDB)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	d.settings = db
	d.closers = append(d.closers, func() { _ = db.Close() })

	if err := config.ApplySettings(cfg, db); err != nil {
		d.close()
		return nil, fmt.Errorf("apply settings: %w", err)
	}

	d.reporter = telemetry.Log{}
	if cfg.SentryDSN != "" {
		s, err := telemetry.NewSentry(cfg.SentryDSN, "calwatch@"+version)
		if err != nil {
			appLog.Error("sentry init failed, reporting to log only", err)
		} else {
			d.reporter = s
			d.closers = append(d.closers, s.Close)
		}
	}

	notifiers := notify.Multi{notify.Log{}}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			appLog.Error("telegram init failed, notifications go to log only", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	st := store.New()
	cards := flow.NewCards(notifiers)
	if err := triggers.RegisterListeners(cards, st.FilterByName); err != nil {
		d.close()
		return nil, err
	}
	var subErrs []error
	for _, sub := range cfg.Subscriptions {
		if err := cards.Subscribe(sub); err != nil {
			subErrs = append(subErrs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}
	if err := errors.Join(subErrs...); err != nil {
		appLog.Error("some subscriptions were ignored", err)
	}

	d.tokens = flow.NewTokenRegistry()
	projector := tokens.NewProjector(d.tokens, d.reporter, tokens.Format{Date: cfg.DateFormat, Time: cfg.TimeFormat})
	if err := projector.RegisterGlobal(); err != nil {
		d.close()
		return nil, fmt.Errorf("register tokens: %w", err)
	}

	d.engine = engine.New(engine.Options{
		Settings:  db,
		Fetcher:   ics.NewFetcher(cfg.CacheDir, cfg.FetchTimeout),
		Store:     st,
		Projector: projector,
		Cards:     cards,
		Reporter:  d.reporter,
		Location:  cfg.Location(),
	})
	return d, nil
}
