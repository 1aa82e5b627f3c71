// Package delegate implements the capability registry shared by every
// handler-plugin domain: registration, enablement probing and dispatch to
// the best matching handler.
package delegate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/user/coredelegate/internal/types"
)

var ErrInvalidHandler = errors.New("invalid handler")

// Handler is the contract every registered handler satisfies.
type Handler interface {
	Name() string
	IsEnabled(ctx context.Context) (bool, error)
}

// Prioritized handlers win over lower priorities for the same type key.
// Handlers that don't implement it have priority 0.
type Prioritized interface {
	Priority() int
}

// Keyed handlers answer for a discriminator other than their name.
type Keyed interface {
	TypeKey() string
}

// Enablement is the cached result of a handler's enablement probe.
type Enablement int

const (
	EnablementUnknown Enablement = iota
	EnablementEnabled
	EnablementDisabled
)

func (e Enablement) String() string {
	switch e {
	case EnablementEnabled:
		return "enabled"
	case EnablementDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Options configures a Registry.
type Options struct {
	// Name identifies the delegate in logs and metrics.
	Name string
	// FeaturePrefix is prepended to a handler name to build the site
	// feature that disables it. Empty means handlers can't be disabled
	// by site configuration.
	FeaturePrefix string
	Sites         types.SiteProvider
	Logger        *slog.Logger
}

// Info describes a registered handler.
type Info struct {
	Name       string     `json:"name"`
	TypeKey    string     `json:"type_key"`
	Priority   int        `json:"priority"`
	Enablement Enablement `json:"-"`
	Enabled    string     `json:"enabled"`
}

type entry[H Handler] struct {
	handler  H
	name     string
	key      string
	priority int
	seq      uint64 // registration slot, reused on overwrite
	id       uint64 // unique per Register call
	state    Enablement
}

type probeResult struct {
	enabled   bool
	cancelled bool
}

// Registry holds the handlers of one capability domain.
type Registry[H Handler] struct {
	name          string
	featurePrefix string
	sites         types.SiteProvider
	logger        *slog.Logger

	mu         sync.RWMutex
	entries    map[string]*entry[H]
	typeIndex  map[string]map[string]struct{}
	seq        uint64
	nextID     uint64
	gen        uint64
	updating   chan struct{}
	def        H
	hasDefault bool
	listeners  []func()

	probes singleflight.Group
}

// New creates an empty registry.
func New[H Handler](opts Options) *Registry[H] {
	initMetrics()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[H]{
		name:          opts.Name,
		featurePrefix: opts.FeaturePrefix,
		sites:         opts.Sites,
		logger:        logger.With("delegate", opts.Name),
		entries:       make(map[string]*entry[H]),
		typeIndex:     make(map[string]map[string]struct{}),
	}
}

// Name returns the delegate name.
func (r *Registry[H]) Name() string {
	return r.name
}

// SetDefault sets the handler used by Execute when no enabled handler
// answers for a type key.
func (r *Registry[H]) SetDefault(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = h
	r.hasDefault = true
}

// Register stores h under its name. A handler with the same name is
// replaced and h takes over its registration slot. If the registry was
// already updated, h is probed right away in the background.
func (r *Registry[H]) Register(h H) error {
	if isNil(h) {
		return ErrInvalidHandler
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidHandler)
	}
	key := name
	if k, ok := any(h).(Keyed); ok && k.TypeKey() != "" {
		key = k.TypeKey()
	}
	priority := 0
	if p, ok := any(h).(Prioritized); ok {
		priority = p.Priority()
	}

	r.mu.Lock()
	r.nextID++
	e := &entry[H]{handler: h, name: name, key: key, priority: priority, id: r.nextID}
	if old, ok := r.entries[name]; ok {
		e.seq = old.seq
		r.unindex(old)
		r.logger.Debug("replacing handler", "handler", name)
	} else {
		r.seq++
		e.seq = r.seq
	}
	r.entries[name] = e
	r.index(e)
	probeNow := r.gen > 0
	gen := r.gen
	count := len(r.entries)
	r.mu.Unlock()

	handlersRegistered.WithLabelValues(r.name).Set(float64(count))
	r.logger.Debug("registered handler", "handler", name, "type_key", key, "priority", priority)

	if probeNow {
		go r.resolve(context.Background(), e, gen)
	}
	return nil
}

// Unregister removes the handler with the given name.
func (r *Registry[H]) Unregister(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
		r.unindex(e)
	}
	count := len(r.entries)
	r.mu.Unlock()

	handlersRegistered.WithLabelValues(r.name).Set(float64(count))
	return ok
}

func isNil(h any) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func (r *Registry[H]) index(e *entry[H]) {
	names, ok := r.typeIndex[e.key]
	if !ok {
		names = make(map[string]struct{})
		r.typeIndex[e.key] = names
	}
	names[e.name] = struct{}{}
}

func (r *Registry[H]) unindex(e *entry[H]) {
	names := r.typeIndex[e.key]
	delete(names, e.name)
	if len(names) == 0 {
		delete(r.typeIndex, e.key)
	}
}

// OnUpdated registers fn to run after every completed UpdateHandlers.
func (r *Registry[H]) OnUpdated(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// UpdateHandlers invalidates every cached enablement and probes all handlers
// in parallel. Probe failures disable the failing handler; they are never
// returned. The only error is ctx's.
func (r *Registry[H]) UpdateHandlers(ctx context.Context) error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	for _, e := range r.entries {
		e.state = EnablementUnknown
	}
	done := make(chan struct{})
	r.updating = done
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("updating handlers", "count", len(snapshot), "generation", gen)

	var g errgroup.Group
	for _, e := range snapshot {
		g.Go(func() error {
			r.resolve(ctx, e, gen)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	if r.updating == done {
		r.updating = nil
	}
	close(done)
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Ready waits for an in-flight UpdateHandlers to finish.
func (r *Registry[H]) Ready(ctx context.Context) error {
	r.mu.RLock()
	done := r.updating
	r.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve returns whether e is enabled, probing it if its state is unknown.
// Concurrent callers for the same entry and generation share one probe.
func (r *Registry[H]) resolve(ctx context.Context, e *entry[H], gen uint64) bool {
	r.mu.RLock()
	state := e.state
	r.mu.RUnlock()
	switch state {
	case EnablementEnabled:
		return true
	case EnablementDisabled:
		return false
	}

	key := strconv.FormatUint(e.id, 10) + "/" + strconv.FormatUint(gen, 10)
	for {
		v, _, _ := r.probes.Do(key, func() (any, error) {
			res := r.probe(ctx, e)
			if !res.cancelled {
				r.apply(e, gen, res.enabled)
			}
			return res, nil
		})
		res := v.(probeResult)
		if !res.cancelled {
			return res.enabled
		}
		// The shared probe ran under another caller's context, which was
		// cancelled. Probe again while ours is still live.
		if ctx.Err() != nil {
			return false
		}
		r.mu.RLock()
		state = e.state
		r.mu.RUnlock()
		if state != EnablementUnknown {
			return state == EnablementEnabled
		}
	}
}

func (r *Registry[H]) apply(e *entry[H], gen uint64, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Results of an older generation or a replaced entry are stale.
	if r.gen != gen || r.entries[e.name] != e {
		return
	}
	if enabled {
		e.state = EnablementEnabled
	} else {
		e.state = EnablementDisabled
	}
}

func (r *Registry[H]) probe(ctx context.Context, e *entry[H]) (res probeResult) {
	if r.featureDisabled(e.name) {
		r.logger.Debug("handler disabled by site", "handler", e.name)
		return probeResult{}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("handler enablement probe panicked", "handler", e.name, "panic", p)
			probeFailures.WithLabelValues(r.name).Inc()
			res = probeResult{}
		}
	}()

	enabled, err := e.handler.IsEnabled(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return probeResult{cancelled: true}
		}
		r.logger.Warn("handler enablement probe failed", "handler", e.name, "error", err)
		probeFailures.WithLabelValues(r.name).Inc()
		return probeResult{}
	}
	return probeResult{enabled: enabled}
}

func (r *Registry[H]) featureDisabled(name string) bool {
	if r.sites == nil || r.featurePrefix == "" {
		return false
	}
	siteID := r.sites.CurrentSiteID()
	if siteID == "" {
		return false
	}
	return r.sites.IsFeatureDisabled(siteID, r.featurePrefix+name)
}

// IsFeatureDisabled reports whether the handler registered under name is
// disabled by the current site's configuration.
func (r *Registry[H]) IsFeatureDisabled(name string) bool {
	return r.featureDisabled(name)
}

func (r *Registry[H]) snapshotLocked() []*entry[H] {
	out := make([]*entry[H], 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry[H]) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// byPriority orders entries by priority descending, then registration order.
func byPriority[H Handler](es []*entry[H]) {
	slices.SortStableFunc(es, func(a, b *entry[H]) int {
		if a.priority != b.priority {
			return cmp.Compare(b.priority, a.priority)
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

func (r *Registry[H]) candidates(typeKey string) []*entry[H] {
	r.mu.RLock()
	names := r.typeIndex[typeKey]
	out := make([]*entry[H], 0, len(names))
	for name := range names {
		out = append(out, r.entries[name])
	}
	r.mu.RUnlock()
	byPriority(out)
	return out
}

// HandlersFor returns every handler registered for typeKey, enabled or not,
// highest priority first.
func (r *Registry[H]) HandlersFor(typeKey string) []H {
	es := r.candidates(typeKey)
	out := make([]H, len(es))
	for i, e := range es {
		out[i] = e.handler
	}
	return out
}

// GetHandler returns the enabled handler for typeKey with the highest
// priority, ties going to the earliest registered. Handlers whose probe is
// in flight are awaited.
func (r *Registry[H]) GetHandler(ctx context.Context, typeKey string) (H, bool) {
	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()

	for _, e := range r.candidates(typeKey) {
		if r.resolve(ctx, e, gen) {
			return e.handler, true
		}
	}
	var zero H
	return zero, false
}

// HasHandler reports whether a handler is registered for typeKey. With
// enabledOnly it only looks at cached enablement and never probes.
func (r *Registry[H]) HasHandler(typeKey string, enabledOnly bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.typeIndex[typeKey] {
		if !enabledOnly || r.entries[name].state == EnablementEnabled {
			return true
		}
	}
	return false
}

// Handler returns the handler registered under name, enabled or not.
func (r *Registry[H]) Handler(name string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		var zero H
		return zero, false
	}
	return e.handler, true
}

// Enablement returns the cached enablement of the named handler.
func (r *Registry[H]) Enablement(name string) Enablement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.state
	}
	return EnablementUnknown
}

// IsHandlerEnabled reports whether the named handler is known to be enabled.
func (r *Registry[H]) IsHandlerEnabled(name string) bool {
	return r.Enablement(name) == EnablementEnabled
}

// Len returns the number of registered handlers.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handlers returns every registered handler in registration order.
func (r *Registry[H]) Handlers() []H {
	r.mu.RLock()
	snapshot := r.snapshotLocked()
	r.mu.RUnlock()

	out := make([]H, len(snapshot))
	for i, e := range snapshot {
		out[i] = e.handler
	}
	return out
}

// Describe lists the registered handlers in registration order.
func (r *Registry[H]) Describe() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := r.snapshotLocked()
	out := make([]Info, len(snapshot))
	for i, e := range snapshot {
		out[i] = Info{
			Name:       e.name,
			TypeKey:    e.key,
			Priority:   e.priority,
			Enablement: e.state,
			Enabled:    e.state.String(),
		}
	}
	return out
}

// enabledEntries snapshots the registry and returns the enabled entries by
// priority. Unknown entries are probed in parallel.
func (r *Registry[H]) enabledEntries(ctx context.Context) []*entry[H] {
	r.mu.RLock()
	gen := r.gen
	snapshot := r.snapshotLocked()
	r.mu.RUnlock()

	enabled := make([]bool, len(snapshot))
	var g errgroup.Group
	for i, e := range snapshot {
		g.Go(func() error {
			enabled[i] = r.resolve(ctx, e, gen)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*entry[H], 0, len(snapshot))
	for i, e := range snapshot {
		if enabled[i] {
			out = append(out, e)
		}
	}
	byPriority(out)
	return out
}

// EnabledHandlers returns the enabled handlers, highest priority first.
func (r *Registry[H]) EnabledHandlers(ctx context.Context) []H {
	es := r.enabledEntries(ctx)
	out := make([]H, len(es))
	for i, e := range es {
		out[i] = e.handler
	}
	return out
}

func (r *Registry[H]) defaultHandler() (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def, r.hasDefault
}
