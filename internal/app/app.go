// Package app assembles the bot: config, logging, storage, the agent, the
// transports, and the handler set.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"hitbot/internal/agent"
	"hitbot/internal/auth"
	"hitbot/internal/config"
	"hitbot/internal/handler"
	"hitbot/internal/httpapi"
	"hitbot/internal/reporting"
	"hitbot/internal/slack"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	report reporting.Reporter

	store  storage.Store
	agent  *agent.Agent
	sender *slack.Service
	api    *httpapi.Server

	watch struct {
		cancel context.CancelFunc
		done   chan struct{}
	}
}

func New(cfgPath string) (*App, error) {
	a := &App{}

	a.cfgMgr = config.NewManager(cfgPath, logx.Nop())
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	a.logSvc = logSvc
	a.log = log

	a.report = reporting.Nop()
	if cfg.Sentry.DSN != "" {
		rep, err := reporting.NewSentry(cfg.Sentry.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("init sentry: %w", err)
		}
		a.report = rep
	}

	store, err := storage.Open(cfg.StorageConfig(), log)
	if errors.Is(err, storage.ErrDisabled) {
		return nil, fmt.Errorf("storage is required, set storage.driver")
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.agent = agent.New(store, cfg.Location(), log, a.report)
	a.sender = slack.New(cfg.SlackConfig(), slack.NewClient(cfg.Slack.Token), log)
	a.api = httpapi.New(cfg.HTTPConfig(), a.agent.Put, log)

	handler.InstallAll(handler.Deps{
		Proxy:  a.agent.Proxy(),
		Games:  store,
		Notify: a.sender,
		Auth:   auth.New(cfg.AuthConfig()),
		Cfg:    cfg.HandlerGameConfig(),
		Log:    log,
	})

	// Live reloads only retune logging; everything else applies on restart.
	a.cfgMgr.OnChange(func(next *config.Config) {
		a.logSvc.Apply(next.LogxConfig())
	})

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.sender.Start(ctx); err != nil {
		return fmt.Errorf("start slack sender: %w", err)
	}
	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}
	if err := a.agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	a.watch.cancel = cancel
	a.watch.done = make(chan struct{})
	go func() {
		defer close(a.watch.done)
		if err := a.cfgMgr.Watch(wctx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("hitbot up")
	return nil
}

// Stop tears the app down in dependency order: intake first, then the
// agent, then delivery and storage.
func (a *App) Stop(ctx context.Context) error {
	// Intake surfaces shut down in parallel; nothing new reaches the queue
	// after this.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.api.Stop(gctx) })
	g.Go(func() error {
		if a.watch.cancel != nil {
			a.watch.cancel()
			<-a.watch.done
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		a.log.Warn("http api stop", logx.Err(err))
	}

	if err := a.agent.Stop(ctx); err != nil {
		a.log.Warn("agent stop", logx.Err(err))
	}
	a.sender.Stop(ctx)

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}
	a.report.Flush(2 * time.Second)
	a.logSvc.Close()
	return nil
}
