// Package cron registers background jobs and runs them on their intervals.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/user/coredelegate/internal/types"
)

const (
	DefaultInterval = time.Hour
	MinInterval     = 4 * time.Minute
	MaxTimeProcess  = 2 * time.Minute
)

var (
	ErrInvalidHandler   = errors.New("invalid cron handler")
	ErrUnknownHandler   = errors.New("unknown cron handler")
	ErrOffline          = errors.New("device is offline")
	ErrSyncRequiresWifi = errors.New("sync only allowed on wifi")
)

// Handler is a background job. Execute may be retried after a failure, so
// running it twice must be safe. An empty siteID means every site.
type Handler interface {
	Name() string
	Execute(ctx context.Context, siteID types.SiteID, force bool) error
}

// IntervalProvider sets how often a job runs. Without it a job runs hourly.
type IntervalProvider interface {
	Interval() time.Duration
}

// SpecProvider schedules a job with a cron expression instead of an interval.
type SpecProvider interface {
	Spec() string
}

// SyncReporter tells whether a job synchronizes data. Sync jobs can be
// restricted to wifi. Jobs are sync unless they say otherwise.
type SyncReporter interface {
	IsSync() bool
}

// NetworkUser tells whether a job needs a connection. Defaults to true.
type NetworkUser interface {
	UsesNetwork() bool
}

// ManualSyncer tells whether a job runs on a manual "sync now". Defaults to
// the job's IsSync.
type ManualSyncer interface {
	CanManualSync() bool
}

type Options struct {
	MinInterval     time.Duration
	DefaultInterval time.Duration
	Logger          *slog.Logger
}

// Delegate holds the registered cron handlers.
type Delegate struct {
	minInterval     time.Duration
	defaultInterval time.Duration
	logger          *slog.Logger

	mu        sync.RWMutex
	handlers  map[string]Handler
	order     []string
	listeners []func(name string)
}

func NewDelegate(opts Options) *Delegate {
	if opts.MinInterval <= 0 {
		opts.MinInterval = MinInterval
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Delegate{
		minInterval:     opts.MinInterval,
		defaultInterval: opts.DefaultInterval,
		logger:          opts.Logger.With("component", "cron"),
		handlers:        make(map[string]Handler),
	}
}

// Register adds h. A handler with the same name is replaced.
func (d *Delegate) Register(h Handler) error {
	if h == nil || h.Name() == "" {
		return ErrInvalidHandler
	}
	name := h.Name()

	d.mu.Lock()
	if _, ok := d.handlers[name]; ok {
		d.logger.Debug("replacing cron handler", "handler", name)
	} else {
		d.order = append(d.order, name)
	}
	d.handlers[name] = h
	listeners := slices.Clone(d.listeners)
	d.mu.Unlock()

	d.logger.Debug("registered cron handler", "handler", name)
	for _, fn := range listeners {
		fn(name)
	}
	return nil
}

func (d *Delegate) Unregister(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; !ok {
		return false
	}
	delete(d.handlers, name)
	d.order = slices.DeleteFunc(d.order, func(n string) bool { return n == name })
	return true
}

// Subscribe calls fn with the name of every handler registered from now on.
func (d *Delegate) Subscribe(fn func(name string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Delegate) Handler(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Names returns the handler names in registration order.
func (d *Delegate) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

// Interval returns how often the job runs, never less than the minimum.
func (d *Delegate) Interval(name string) time.Duration {
	h, ok := d.Handler(name)
	if !ok {
		return d.defaultInterval
	}
	p, ok := h.(IntervalProvider)
	if !ok {
		return d.defaultInterval
	}
	iv := p.Interval()
	if iv <= 0 {
		return d.defaultInterval
	}
	return max(iv, d.minInterval)
}

// MinInterval is the shortest interval and the retry delay after a skip.
func (d *Delegate) MinInterval() time.Duration {
	return d.minInterval
}

func (d *Delegate) IsSync(name string) bool {
	h, ok := d.Handler(name)
	if !ok {
		return false
	}
	if s, ok := h.(SyncReporter); ok {
		return s.IsSync()
	}
	return true
}

func (d *Delegate) UsesNetwork(name string) bool {
	h, ok := d.Handler(name)
	if !ok {
		return false
	}
	if n, ok := h.(NetworkUser); ok {
		return n.UsesNetwork()
	}
	return true
}

func (d *Delegate) IsManualSync(name string) bool {
	h, ok := d.Handler(name)
	if !ok {
		return false
	}
	if m, ok := h.(ManualSyncer); ok {
		return m.CanManualSync()
	}
	return d.IsSync(name)
}

// Spec returns the job's cron expression, if it has one.
func (d *Delegate) Spec(name string) string {
	h, ok := d.Handler(name)
	if !ok {
		return ""
	}
	if s, ok := h.(SpecProvider); ok {
		return s.Spec()
	}
	return ""
}

func (d *Delegate) HasSyncHandlers() bool {
	return slices.ContainsFunc(d.Names(), d.IsSync)
}

func (d *Delegate) HasManualSyncHandlers() bool {
	return slices.ContainsFunc(d.Names(), d.IsManualSync)
}

// Info describes a registered job.
type Info struct {
	Name        string        `json:"name"`
	Interval    time.Duration `json:"interval"`
	Spec        string        `json:"spec,omitempty"`
	IsSync      bool          `json:"is_sync"`
	UsesNetwork bool          `json:"uses_network"`
	ManualSync  bool          `json:"manual_sync"`
}

func (d *Delegate) Describe() []Info {
	names := d.Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		out = append(out, Info{
			Name:        name,
			Interval:    d.Interval(name),
			Spec:        d.Spec(name),
			IsSync:      d.IsSync(name),
			UsesNetwork: d.UsesNetwork(name),
			ManualSync:  d.IsManualSync(name),
		})
	}
	return out
}

func (i Info) String() string {
	return fmt.Sprintf("%s every %s sync=%t network=%t manual=%t", i.Name, i.Interval, i.IsSync, i.UsesNetwork, i.ManualSync)
}
