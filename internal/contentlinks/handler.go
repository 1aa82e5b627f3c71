// Package contentlinks turns URLs met in content into in-app actions.
package contentlinks

import (
	"context"
	"regexp"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

const (
	DefaultMessage = "core.view"
	DefaultIcon    = "eye"
)

// Handler treats the URLs matching its pattern.
type Handler interface {
	delegate.Handler
	Pattern() *regexp.Regexp
	Priority() int
	// FeatureName is the site feature that disables the handler, if any.
	FeatureName() string
	IsEnabledForSite(ctx context.Context, siteID types.SiteID, url string, params map[string]string, courseID int64) (bool, error)
	GetActions(ctx context.Context, siteIDs []types.SiteID, url string, params map[string]string, courseID int64) ([]Action, error)
}

// Action is something a link can do. Running it is the side effect
// (usually a navigation).
type Action struct {
	Message string
	Icon    string
	// Sites the action can run in. Filled with the handler's enabled sites
	// when left empty.
	Sites []types.SiteID
	Run   func(ctx context.Context, siteID types.SiteID) error
}

// Candidate is an action together with the handler that produced it.
type Candidate struct {
	Handler  string
	Priority int
	Action   Action
}

// HandlerBase carries the common handler fields. Embed it and implement
// GetActions.
type HandlerBase struct {
	HandlerName string
	Regexp      *regexp.Regexp
	Prio        int
	Feature     string
}

func (b *HandlerBase) Name() string            { return b.HandlerName }
func (b *HandlerBase) Pattern() *regexp.Regexp { return b.Regexp }
func (b *HandlerBase) Priority() int           { return b.Prio }
func (b *HandlerBase) FeatureName() string     { return b.Feature }

func (b *HandlerBase) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

func (b *HandlerBase) IsEnabledForSite(context.Context, types.SiteID, string, map[string]string, int64) (bool, error) {
	return true, nil
}
