// Package app wires together every subsystem the hibernator needs at
// runtime: it loads configuration, opens the store, builds one controller
// per configured site, and starts the controller loops and the front-door
// listener. One struct built by New, started by Start, torn down by Stop,
// with main.go owning process signals and calling across that boundary.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nginx-hibernator/hibernator/internal/api"
	"github.com/nginx-hibernator/hibernator/internal/config"
	"github.com/nginx-hibernator/hibernator/internal/controller"
	"github.com/nginx-hibernator/hibernator/internal/dispatcher"
	"github.com/nginx-hibernator/hibernator/internal/edge"
	"github.com/nginx-hibernator/hibernator/internal/env"
	"github.com/nginx-hibernator/hibernator/internal/logger"
	"github.com/nginx-hibernator/hibernator/internal/registry"
	"github.com/nginx-hibernator/hibernator/internal/store"
	"github.com/nginx-hibernator/hibernator/internal/waitpage"
	"github.com/nginx-hibernator/hibernator/pkg/container"
	"github.com/nginx-hibernator/hibernator/pkg/profiler"
)

const defaultConfigPath = "/etc/hibernator/hibernator.toml"

// Application owns every long-lived component built from one loaded config:
// the store, the per-site controllers, and the dispatcher listening for
// traffic. It is built once by New and is safe to Start and Stop exactly
// once each.
type Application struct {
	startTime time.Time
	logger    *logger.StyledLogger

	cfg        *config.Config
	store      *store.Store
	sites      *registry.Sites
	dispatcher *dispatcher.Dispatcher

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New loads configuration (from HIBERNATOR_CONFIG_PATH, default
// /etc/hibernator/hibernator.toml), opens the store, and constructs one
// SiteController per configured site. A failure here is a permanent
// configuration or store error, and the caller is expected to treat it as
// fatal.
func New(startTime time.Time, styledLogger *logger.StyledLogger) (*Application, error) {
	cfgPath := env.GetEnvOrDefault("HIBERNATOR_CONFIG_PATH", defaultConfigPath)

	styledLogger.Info("Loading configuration", "path", cfgPath, "containerised", container.IsContainerised())

	if env.GetEnvBoolOrDefault("HIBERNATOR_PROFILE", false) {
		profiler.InitialiseProfiler()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(cfg.TopLevel.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	waitPage, err := waitpage.Load(cfg.TopLevel.WaitPagePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading wait page: %w", err)
	}

	slogLogger := styledLogger.GetUnderlying()

	probe := edge.NewHealthProbe(2 * time.Second)
	runner := edge.NewServiceRunner()
	reloader := edge.NewEdgeReloader()

	entries := make([]*registry.Entry, 0, len(cfg.Sites))
	for _, site := range cfg.Sites {
		ctrl, err := controller.New(site, db, runner, reloader, probe, slogLogger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating controller for site %q: %w", site.Name, err)
		}
		entries = append(entries, &registry.Entry{Config: site, Controller: ctrl})
	}

	sites := registry.New(entries)
	apiHandler := api.New(sites, db, slogLogger)
	disp := dispatcher.New(sites, db, waitPage, apiHandler, slogLogger)

	return &Application{
		startTime:  startTime,
		logger:     styledLogger,
		cfg:        cfg,
		store:      db,
		sites:      sites,
		dispatcher: disp,
	}, nil
}

// Start launches every SiteController's Run loop and the dispatcher's
// listener in the background and returns immediately; errors surfacing
// after Start returns are logged, not returned; the components run until
// the context is cancelled.
func (a *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	group, groupCtx := errgroup.WithContext(runCtx)

	for _, entry := range a.sites.All() {
		entry := entry
		group.Go(func() error {
			entry.Controller.Run(groupCtx)
			return nil
		})
		a.logger.InfoWithSite("controller started", entry.Config.Name)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.TopLevel.HibernatorPort)
	group.Go(func() error {
		return a.dispatcher.ListenAndServe(groupCtx, addr)
	})

	go func() {
		defer close(a.done)
		if err := group.Wait(); err != nil {
			a.logger.Error("component exited with error", "error", err)
		}
	}()

	return nil
}

// Stop cancels every running component and waits for them to exit (bounded
// by ctx), then closes the store.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	return a.store.Close()
}
