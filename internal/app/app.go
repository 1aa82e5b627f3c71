// Package app assembles the delegates, the site context and the cron runner
// from a config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/coredelegate/internal/config"
	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/course"
	"github.com/user/coredelegate/internal/cron"
	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/fileuploader"
	"github.com/user/coredelegate/internal/navigation"
	"github.com/user/coredelegate/internal/question"
	"github.com/user/coredelegate/internal/siteplugins"
	"github.com/user/coredelegate/internal/sites"
	"github.com/user/coredelegate/internal/state"
	"github.com/user/coredelegate/internal/types"
)

const historyLimit = 200

// App is a fully wired client.
type App struct {
	Config *config.Config

	Sites   *sites.Manager
	Network *sites.Network
	Router  *navigation.Router
	History *navigation.History

	Links      *contentlinks.Delegate
	Resolver   *contentlinks.Resolver
	Modules    *course.ModuleDelegate
	Blocks     *course.BlockDelegate
	Questions  *question.Delegate
	Behaviours *question.BehaviourDelegate
	FilePicker *fileuploader.Delegate

	Cron    *cron.Delegate
	Runner  *cron.Runner
	Journal *state.RunJournal

	configPath string
	logger     *slog.Logger
	closers    []io.Closer

	mu  sync.Mutex
	ctx context.Context
}

// New builds the app from cfg. configPath is re-read by the site info job;
// it may be empty.
func New(cfg *config.Config, configPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{
		Config:     cfg,
		configPath: configPath,
		logger:     logger,
		ctx:        context.Background(),
	}

	a.Sites = sites.NewManager(SitesFromConfig(cfg.Sites), logger)
	if cfg.CurrentSite != "" {
		id, ok := a.findSite(cfg.CurrentSite)
		if !ok {
			return nil, fmt.Errorf("current site %q: %w", cfg.CurrentSite, sites.ErrUnknownSite)
		}
		if err := a.Sites.Login(id); err != nil {
			return nil, err
		}
	}
	a.Network = sites.NewNetwork(cfg.Network.Online, cfg.Network.Wifi)

	a.History = navigation.NewHistory(historyLimit, logger)
	a.Router = navigation.NewRouter()
	a.Router.Register("", a.History.Sink)

	a.Links = contentlinks.New(a.Sites, logger)
	a.Resolver = contentlinks.NewResolver(a.Links, a.Router, cfg.Links.ChoiceTTL(), logger)
	a.Modules = course.NewModuleDelegate(a.Sites, logger)
	a.Blocks = course.NewBlockDelegate(a.Sites, logger)
	a.Questions = question.NewDelegate(a.Sites, logger)
	a.Behaviours = question.NewBehaviourDelegate(a.Sites, logger)
	a.FilePicker = fileuploader.NewDelegate(a.Sites, logger)

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.Journal = state.NewRunJournal(cfg.DataDir)
	a.Cron = cron.NewDelegate(cron.Options{
		MinInterval:     cfg.Cron.MinInterval(),
		DefaultInterval: cfg.Cron.DefaultInterval(),
		Logger:          logger,
	})
	var retry *cron.RetryPolicy
	if cfg.Cron.RetryMultiplier > 0 {
		retry = &cron.RetryPolicy{
			InitialDelay: a.Cron.MinInterval(),
			Multiplier:   cfg.Cron.RetryMultiplier,
			MaxDelay:     cfg.Cron.DefaultInterval(),
		}
	}
	a.Runner = cron.NewRunner(a.Cron, cron.RunnerOptions{
		Store:          store,
		Network:        a.Network,
		Journal:        a.Journal,
		SyncOnlyOnWifi: cfg.Cron.SyncOnlyOnWifi,
		MaxTimeProcess: cfg.Cron.MaxTimeProcess(),
		Retry:          retry,
		Logger:         logger,
	})

	a.Sites.Subscribe(a.onSiteEvent)
	a.Network.OnChange(func(online, _ bool) {
		if online {
			a.Runner.StartNetworkHandlers()
		}
	})
	return a, nil
}

func (a *App) openStore() (types.LastRunStore, error) {
	switch a.Config.Cron.Store {
	case "", "json":
		return state.NewFileLastRunStore(a.Config.LastRunPath()), nil
	case "sqlite":
		s, err := state.OpenSQLite(a.Config.DatabasePath())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cron store %q", a.Config.Cron.Store)
	}
}

// findSite accepts a site ID or a site URL.
func (a *App) findSite(ref string) (types.SiteID, bool) {
	if _, ok := a.Sites.Site(types.SiteID(ref)); ok {
		return types.SiteID(ref), true
	}
	want := types.NormalizeSiteURL(ref)
	for _, s := range a.Sites.Sites() {
		if types.NormalizeSiteURL(s.URL) == want {
			return s.ID, true
		}
	}
	return "", false
}

// SitesFromConfig converts the configured sites.
func SitesFromConfig(cfgs []config.SiteConfig) []types.Site {
	out := make([]types.Site, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, types.Site{
			ID:               types.SiteID(c.ID),
			URL:              c.URL,
			Username:         c.Username,
			Version:          c.Version,
			DisabledFeatures: c.DisabledFeatures,
		})
	}
	return out
}

// RegisterDefaults registers the built-in handlers, the addon manifest and
// the site jobs.
func (a *App) RegisterDefaults() error {
	hs, err := course.LinkHandlers(a.Router)
	if err != nil {
		return fmt.Errorf("course link handlers: %w", err)
	}
	for _, h := range hs {
		if err := a.Links.Register(h); err != nil {
			return err
		}
	}

	if _, err := a.LoadAddons(); err != nil {
		return err
	}

	if a.configPath != "" {
		if err := a.Cron.Register(sites.NewInfoCronHandler(a.Sites, a.loadSites)); err != nil {
			return err
		}
	}
	if a.Config.ManifestPath() != "" {
		if err := a.Cron.Register(&addonsCronHandler{a: a}); err != nil {
			return err
		}
	}
	return nil
}

// LoadAddons registers the handlers declared in the addon manifest.
// Handlers already registered under the same name are replaced.
func (a *App) LoadAddons() (int, error) {
	path := a.Config.ManifestPath()
	if path == "" {
		return 0, nil
	}
	m, err := siteplugins.Load(path)
	if err != nil {
		return 0, err
	}
	n, err := siteplugins.Apply(m, siteplugins.Targets{
		Sites:      a.Sites,
		Navigator:  a.Router,
		Links:      a.Links,
		Modules:    a.Modules,
		Blocks:     a.Blocks,
		Questions:  a.Questions,
		FilePicker: a.FilePicker,
	})
	if err != nil {
		return n, fmt.Errorf("apply addon manifest %s: %w", path, err)
	}
	a.logger.Info("addon manifest loaded", "path", path, "handlers", n)
	return n, nil
}

func (a *App) loadSites(context.Context) ([]types.Site, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	return SitesFromConfig(cfg.Sites), nil
}

// onSiteEvent refreshes the handlers when the site context changes. Pending
// link choices belong to the previous session and are dropped.
func (a *App) onSiteEvent(ev sites.Event) {
	if ev.Kind == sites.EventLogin || ev.Kind == sites.EventLogout {
		a.Resolver.Invalidate()
	}
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	go func() {
		if err := a.UpdateHandlers(ctx); err != nil {
			a.logger.Warn("failed to update handlers", "event", ev.Kind, "error", err)
		}
	}()
}

// UpdateHandlers re-probes the handlers of every delegate.
func (a *App) UpdateHandlers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, fn := range []func(context.Context) error{
		a.Links.UpdateHandlers,
		a.Modules.UpdateHandlers,
		a.Blocks.UpdateHandlers,
		a.Questions.UpdateHandlers,
		a.Behaviours.UpdateHandlers,
		a.FilePicker.UpdateHandlers,
	} {
		g.Go(func() error { return fn(ctx) })
	}
	return g.Wait()
}

// Start probes the handlers and starts the cron runner. The runner stops
// when ctx is cancelled or Close is called.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	if err := a.UpdateHandlers(ctx); err != nil {
		return err
	}
	a.Runner.Start(ctx)
	a.logger.Info("app started",
		"sites", len(a.Sites.Sites()),
		"current_site", a.Sites.CurrentSiteID(),
		"cron_jobs", len(a.Cron.Names()),
	)
	return nil
}

func (a *App) Close() error {
	a.Runner.Stop()
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Inventory lists the handlers of every delegate keyed by delegate name.
func (a *App) Inventory() map[string][]delegate.Info {
	return map[string][]delegate.Info{
		a.Links.Registry().Name():      a.Links.Registry().Describe(),
		a.Modules.Registry().Name():    a.Modules.Registry().Describe(),
		a.Blocks.Registry().Name():     a.Blocks.Registry().Describe(),
		a.Questions.Registry().Name():  a.Questions.Registry().Describe(),
		a.Behaviours.Registry().Name(): a.Behaviours.Registry().Describe(),
		a.FilePicker.Registry().Name(): a.FilePicker.Registry().Describe(),
	}
}

// addonsCronHandler reloads the addon manifest so edits take effect without
// a restart.
type addonsCronHandler struct {
	a *App
}

func (h *addonsCronHandler) Name() string            { return "AddonManifestCronHandler" }
func (h *addonsCronHandler) Interval() time.Duration { return 15 * time.Minute }
func (h *addonsCronHandler) IsSync() bool            { return false }
func (h *addonsCronHandler) UsesNetwork() bool       { return false }
func (h *addonsCronHandler) CanManualSync() bool     { return true }

func (h *addonsCronHandler) Execute(ctx context.Context, _ types.SiteID, _ bool) error {
	if _, err := h.a.LoadAddons(); err != nil {
		return err
	}
	return h.a.UpdateHandlers(ctx)
}
