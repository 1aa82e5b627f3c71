package sites

import (
	"context"
	"fmt"
	"time"

	"github.com/user/coredelegate/internal/types"
)

// Loader returns the current site list from its source of truth.
type Loader func(ctx context.Context) ([]types.Site, error)

// InfoCronHandler refreshes the site list periodically so that changes to
// a site's version or disabled features reach the delegates.
type InfoCronHandler struct {
	m    *Manager
	load Loader
}

func NewInfoCronHandler(m *Manager, load Loader) *InfoCronHandler {
	return &InfoCronHandler{m: m, load: load}
}

func (h *InfoCronHandler) Name() string            { return "CoreSiteInfoCronHandler" }
func (h *InfoCronHandler) Interval() time.Duration { return time.Hour }
func (h *InfoCronHandler) IsSync() bool            { return false }
func (h *InfoCronHandler) UsesNetwork() bool       { return false }

// Execute reloads every site, or only siteID when set.
func (h *InfoCronHandler) Execute(ctx context.Context, siteID types.SiteID, _ bool) error {
	sites, err := h.load(ctx)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}
	if siteID == "" {
		h.m.Reload(sites)
		return nil
	}
	for _, s := range sites {
		if withID(s).ID == siteID {
			h.m.Add(s)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownSite, siteID)
}
