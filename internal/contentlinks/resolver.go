package contentlinks

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

var (
	// ErrChoiceExpired is returned when choosing a site for a choice that
	// expired, was cancelled or was discarded by a site switch.
	ErrChoiceExpired = errors.New("site choice expired")
	ErrInvalidSite   = errors.New("site not offered for this link")
)

// State is where a link resolution stands.
type State int

const (
	StateResolving State = iota
	StateAwaitingSiteChoice
	StateDispatched
	StateUnhandled
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAwaitingSiteChoice:
		return "awaiting_site_choice"
	case StateDispatched:
		return "dispatched"
	case StateUnhandled:
		return "unhandled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ResolveOptions struct {
	CourseID int64
	Username string
	// SiteID, when among the sites of the chosen action, is used directly
	// instead of asking.
	SiteID types.SiteID
	// OpenExternally controls whether unhandled URLs are passed to the
	// external opener.
	OpenExternally bool
}

// Resolution is the outcome of Resolve or Choose.
type Resolution struct {
	State    State          `json:"state"`
	URL      string         `json:"url"`
	Handler  string         `json:"handler,omitempty"`
	Message  string         `json:"message,omitempty"`
	Icon     string         `json:"icon,omitempty"`
	SiteID   types.SiteID   `json:"site_id,omitempty"`
	ChoiceID types.ChoiceID `json:"choice_id,omitempty"`
	Sites    []types.SiteID `json:"sites,omitempty"`
}

type pendingChoice struct {
	url       string
	cand      Candidate
	expiresAt time.Time
}

// Resolver drives a URL from resolution to a dispatched action, asking for a
// site when the action can run in several.
type Resolver struct {
	links  *Delegate
	opener types.ExternalOpener
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	pending map[types.ChoiceID]*pendingChoice
	// epoch counts Invalidate calls. A Resolve that started in an older
	// epoch must not leave a choice behind.
	epoch uint64
}

func NewResolver(links *Delegate, opener types.ExternalOpener, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		links:   links,
		opener:  opener,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With("component", "resolver"),
		pending: make(map[types.ChoiceID]*pendingChoice),
	}
}

// Resolve finds the action for url and runs it when a single site applies.
// With several sites it stores a pending choice to complete with Choose.
func (r *Resolver) Resolve(ctx context.Context, url string, opts ResolveOptions) (Resolution, error) {
	res := Resolution{State: StateResolving, URL: url}
	r.sweep()
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()

	cands, err := r.links.GetActionsFor(ctx, url, opts.CourseID, opts.Username)
	if err != nil {
		return res, err
	}
	cand, ok := FirstValidAction(cands)
	if !ok {
		res.State = StateUnhandled
		if opts.OpenExternally && r.opener != nil {
			if err := r.opener.OpenExternal(ctx, url); err != nil {
				return res, fmt.Errorf("open %s externally: %w", url, err)
			}
		}
		r.logger.Debug("link unhandled", "url", url)
		return res, nil
	}

	res.Handler = cand.Handler
	res.Message = cand.Action.Message
	res.Icon = cand.Action.Icon

	sites := cand.Action.Sites
	if opts.SiteID != "" && slices.Contains(sites, opts.SiteID) {
		sites = []types.SiteID{opts.SiteID}
	}
	if len(sites) == 1 {
		return r.dispatch(ctx, res, cand, sites[0])
	}

	id := types.NewChoiceID()
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		r.logger.Debug("site changed while resolving, dropping choice", "url", url)
		res.State = StateUnhandled
		return res, ErrChoiceExpired
	}
	r.pending[id] = &pendingChoice{url: url, cand: cand, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()

	res.State = StateAwaitingSiteChoice
	res.ChoiceID = id
	res.Sites = slices.Clone(sites)
	r.logger.Debug("link awaiting site choice", "url", url, "handler", cand.Handler, "sites", len(sites))
	return res, nil
}

// Choose completes a pending choice by running its action in siteID.
func (r *Resolver) Choose(ctx context.Context, id types.ChoiceID, siteID types.SiteID) (Resolution, error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok && !r.now().Before(p.expiresAt) {
		delete(r.pending, id)
		ok = false
	}
	if !ok {
		r.mu.Unlock()
		return Resolution{State: StateUnhandled}, ErrChoiceExpired
	}
	if !slices.Contains(p.cand.Action.Sites, siteID) {
		r.mu.Unlock()
		return Resolution{State: StateAwaitingSiteChoice, URL: p.url, ChoiceID: id, Sites: slices.Clone(p.cand.Action.Sites)}, ErrInvalidSite
	}
	delete(r.pending, id)
	r.mu.Unlock()

	res := Resolution{
		URL:     p.url,
		Handler: p.cand.Handler,
		Message: p.cand.Action.Message,
		Icon:    p.cand.Action.Icon,
	}
	return r.dispatch(ctx, res, p.cand, siteID)
}

func (r *Resolver) dispatch(ctx context.Context, res Resolution, cand Candidate, siteID types.SiteID) (Resolution, error) {
	res.SiteID = siteID
	if err := runAction(ctx, cand.Action, siteID); err != nil {
		return res, fmt.Errorf("run %s action for site %s: %w", cand.Handler, siteID, err)
	}
	res.State = StateDispatched
	r.logger.Info("link dispatched", "url", res.URL, "handler", cand.Handler, "site", siteID)
	return res, nil
}

func runAction(ctx context.Context, a Action, siteID types.SiteID) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return a.Run(ctx, siteID)
}

// Cancel discards a pending choice.
func (r *Resolver) Cancel(id types.ChoiceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// Invalidate discards every pending choice. It is called when the current
// site changes or the user logs out.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	n := len(r.pending)
	clear(r.pending)
	r.epoch++
	r.mu.Unlock()
	if n > 0 {
		r.logger.Debug("discarded pending site choices", "count", n)
	}
}

// Pending returns the number of choices waiting for a site.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Resolver) sweep() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		if !now.Before(p.expiresAt) {
			delete(r.pending, id)
		}
	}
}
