package types

import "time"

// Site is an account on one LMS site known to the client.
type Site struct {
	ID               SiteID   `json:"id"`
	URL              string   `json:"url"`
	Username         string   `json:"username"`
	Version          string   `json:"version,omitempty"`
	DisabledFeatures []string `json:"disabled_features,omitempty"`
}

// IsFeatureDisabled reports whether the site lists feature as disabled.
// A trailing "*" in a disabled entry disables every feature with that prefix.
func (s *Site) IsFeatureDisabled(feature string) bool {
	for _, f := range s.DisabledFeatures {
		if f == feature {
			return true
		}
		if n := len(f); n > 0 && f[n-1] == '*' && len(feature) >= n-1 && feature[:n-1] == f[:n-1] {
			return true
		}
	}
	return false
}

// RunStatus is the outcome of one cron execution.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
	RunSkipped   RunStatus = "skipped"
)

// RunRecord is one entry of a cron job's execution journal.
type RunRecord struct {
	Seq        int64     `json:"seq"`
	Job        string    `json:"job"`
	SiteID     SiteID    `json:"site_id,omitempty"`
	Forced     bool      `json:"forced,omitempty"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
