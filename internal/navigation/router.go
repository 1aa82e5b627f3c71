// internal/navigation/router.go
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/coredelegate/internal/types"
)

// ErrNoSink is returned when no sink is registered for a route.
var ErrNoSink = errors.New("no navigation sink")

// ExternalRoute is the route used for URLs opened outside the app.
const ExternalRoute = "external"

// Sink performs navigations for the routes under its prefix.
type Sink func(ctx context.Context, siteID types.SiteID, route string, params map[string]string) error

// Router routes navigations to the sink registered for the longest
// matching route prefix (e.g. "course/", "user/").
type Router struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		sinks: make(map[string]Sink),
	}
}

// Register adds a sink for routes starting with prefix. An empty prefix
// catches every route.
func (r *Router) Register(prefix string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[prefix] = sink
}

func (r *Router) match(route string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best, found := "", false
	for prefix := range r.sinks {
		if strings.HasPrefix(route, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return nil, false
	}
	return r.sinks[best], true
}

// Navigate hands the navigation to the matching sink.
func (r *Router) Navigate(ctx context.Context, siteID types.SiteID, route string, params map[string]string) error {
	sink, ok := r.match(route)
	if !ok {
		return fmt.Errorf("%w for route: %s", ErrNoSink, route)
	}
	return sink(ctx, siteID, route, params)
}

// OpenExternal navigates to ExternalRoute with the URL as "url" param.
func (r *Router) OpenExternal(ctx context.Context, url string) error {
	return r.Navigate(ctx, "", ExternalRoute, map[string]string{"url": url})
}

// Visit is a navigation kept by a History.
type Visit struct {
	At     time.Time         `json:"at"`
	SiteID types.SiteID      `json:"site_id,omitempty"`
	Route  string            `json:"route"`
	Params map[string]string `json:"params,omitempty"`
}

// History is a sink that logs navigations and keeps the latest ones.
type History struct {
	logger *slog.Logger
	limit  int

	mu     sync.Mutex
	visits []Visit
}

func NewHistory(limit int, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 100
	}
	return &History{logger: logger.With("component", "navigation"), limit: limit}
}

func (h *History) Sink(_ context.Context, siteID types.SiteID, route string, params map[string]string) error {
	h.logger.Info("navigate", "site", siteID, "route", route, "params", params)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.visits = append(h.visits, Visit{At: time.Now(), SiteID: siteID, Route: route, Params: params})
	if len(h.visits) > h.limit {
		h.visits = h.visits[len(h.visits)-h.limit:]
	}
	return nil
}

// Visits returns the kept navigations, oldest first.
func (h *History) Visits() []Visit {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Visit, len(h.visits))
	copy(out, h.visits)
	return out
}
