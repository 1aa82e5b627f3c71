package contentlinks

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

// Delegate holds the content-link handlers. Several handlers may match the
// same URL, so lookups go through every registered handler rather than a
// type key.
type Delegate struct {
	reg    *delegate.Registry[Handler]
	sites  types.SiteProvider
	logger *slog.Logger
}

func New(sites types.SiteProvider, logger *slog.Logger) *Delegate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegate{
		reg:    delegate.New[Handler](delegate.Options{Name: "CoreContentLinksDelegate", Logger: logger}),
		sites:  sites,
		logger: logger.With("component", "contentlinks"),
	}
}

// Register adds h, replacing any handler with the same name.
func (d *Delegate) Register(h Handler) error {
	return d.reg.Register(h)
}

// Registry exposes the underlying registry for inventory and updates.
func (d *Delegate) Registry() *delegate.Registry[Handler] {
	return d.reg
}

func (d *Delegate) UpdateHandlers(ctx context.Context) error {
	return d.reg.UpdateHandlers(ctx)
}

// GetActionsFor returns the actions every enabled handler offers for url,
// highest priority first. A URL nobody handles yields an empty list.
func (d *Delegate) GetActionsFor(ctx context.Context, url string, courseID int64, username string) ([]Candidate, error) {
	if url == "" {
		return []Candidate{}, nil
	}

	var siteIDs []types.SiteID
	if d.sites != nil {
		siteIDs = d.sites.SitesForURL(url, username)
	}
	if len(siteIDs) == 0 {
		return []Candidate{}, nil
	}
	params := ExtractURLParams(url)

	// Handlers registered while this lookup runs are not considered.
	handlers := d.reg.Handlers()

	perHandler := make([][]Candidate, len(handlers))
	var g errgroup.Group
	for i, h := range handlers {
		g.Go(func() error {
			perHandler[i] = d.handlerActions(ctx, h, siteIDs, url, params, courseID)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type ranked struct {
		seq  int
		cand Candidate
	}
	var all []ranked
	for i, cs := range perHandler {
		for _, c := range cs {
			all = append(all, ranked{seq: i, cand: c})
		}
	}
	slices.SortStableFunc(all, func(a, b ranked) int {
		if a.cand.Priority != b.cand.Priority {
			return cmp.Compare(b.cand.Priority, a.cand.Priority)
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]Candidate, len(all))
	for i, r := range all {
		out[i] = r.cand
	}
	return out, nil
}

// handlerActions runs one handler's match, enablement and action pipeline.
// Any failure in it only drops this handler's actions.
func (d *Delegate) handlerActions(ctx context.Context, h Handler, siteIDs []types.SiteID, url string, params map[string]string, courseID int64) (out []Candidate) {
	name := h.Name()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Warn("link handler panicked", "handler", name, "url", url, "panic", p)
			out = nil
		}
	}()

	if d.reg.Enablement(name) == delegate.EnablementDisabled {
		return nil
	}
	re := h.Pattern()
	if re == nil || !re.MatchString(url) {
		return nil
	}

	enabled := d.enabledSites(ctx, h, siteIDs, url, params, courseID)
	if len(enabled) == 0 {
		return nil
	}

	actions, err := h.GetActions(ctx, enabled, url, params, courseID)
	if err != nil {
		d.logger.Warn("link handler failed to get actions", "handler", name, "url", url, "error", err)
		return nil
	}

	for _, a := range actions {
		if a.Message == "" {
			a.Message = DefaultMessage
		}
		if a.Icon == "" {
			a.Icon = DefaultIcon
		}
		if len(a.Sites) == 0 {
			a.Sites = slices.Clone(enabled)
		}
		out = append(out, Candidate{Handler: name, Priority: h.Priority(), Action: a})
	}
	return out
}

func (d *Delegate) enabledSites(ctx context.Context, h Handler, siteIDs []types.SiteID, url string, params map[string]string, courseID int64) []types.SiteID {
	var out []types.SiteID
	for _, siteID := range siteIDs {
		if f := h.FeatureName(); f != "" && d.sites != nil && d.sites.IsFeatureDisabled(siteID, f) {
			continue
		}
		ok, err := h.IsEnabledForSite(ctx, siteID, url, params, courseID)
		if err != nil {
			d.logger.Warn("link handler enablement check failed", "handler", h.Name(), "site", siteID, "error", err)
			continue
		}
		if ok {
			out = append(out, siteID)
		}
	}
	return out
}

// CanHandle reports whether some enabled handler offers a valid action for url.
func (d *Delegate) CanHandle(ctx context.Context, url string, courseID int64, username string) (bool, error) {
	cands, err := d.GetActionsFor(ctx, url, courseID, username)
	if err != nil {
		return false, err
	}
	_, ok := FirstValidAction(cands)
	return ok, nil
}

// FirstValidAction returns the first candidate that can run in some site.
func FirstValidAction(cands []Candidate) (Candidate, bool) {
	for _, c := range cands {
		if c.Action.Run != nil && len(c.Action.Sites) > 0 {
			return c, true
		}
	}
	return Candidate{}, false
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s(%d): %s", c.Handler, c.Priority, c.Action.Message)
}
