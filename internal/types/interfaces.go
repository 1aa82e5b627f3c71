package types

import (
	"context"
	"time"
)

// SiteProvider exposes the current site/user context that handlers use to
// decide enablement.
type SiteProvider interface {
	CurrentSiteID() SiteID
	Site(id SiteID) (*Site, bool)
	SitesForURL(url, username string) []SiteID
	IsFeatureDisabled(id SiteID, feature string) bool
}

// Navigator performs in-app navigation on behalf of resolved link actions.
type Navigator interface {
	Navigate(ctx context.Context, siteID SiteID, route string, params map[string]string) error
}

// ExternalOpener opens a URL outside the app, used when no handler treats it.
type ExternalOpener interface {
	OpenExternal(ctx context.Context, url string) error
}

// LastRunStore keeps cron job bookkeeping. A job that never ran has a zero
// last run time.
type LastRunStore interface {
	LastRun(ctx context.Context, name string) (time.Time, error)
	SetLastRun(ctx context.Context, name string, at time.Time) error
}

// NetworkStatus reports the connection the device is on.
type NetworkStatus interface {
	IsOnline() bool
	IsWifi() bool
}

// RunJournal records cron executions.
type RunJournal interface {
	Append(ctx context.Context, rec *RunRecord) error
	Tail(ctx context.Context, job string, limit int) ([]*RunRecord, error)
}
