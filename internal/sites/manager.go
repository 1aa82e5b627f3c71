// Package sites keeps the accounts the client knows and the one in use,
// and tells subscribers when that changes.
package sites

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/user/coredelegate/internal/types"
)

var ErrUnknownSite = errors.New("unknown site")

type EventKind string

const (
	EventLogin       EventKind = "login"
	EventLogout      EventKind = "logout"
	EventSiteUpdated EventKind = "site_updated"
	EventSiteRemoved EventKind = "site_removed"
)

// Event is a change of the site context. SiteID is empty for a logout
// with no site.
type Event struct {
	Kind   EventKind    `json:"kind"`
	SiteID types.SiteID `json:"site_id,omitempty"`
}

// Manager is the in-memory site list. It implements types.SiteProvider.
type Manager struct {
	logger *slog.Logger

	mu        sync.RWMutex
	sites     map[types.SiteID]types.Site
	order     []types.SiteID
	current   types.SiteID
	listeners []func(Event)
}

func NewManager(sites []types.Site, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger: logger.With("component", "sites"),
		sites:  make(map[types.SiteID]types.Site),
	}
	for _, s := range sites {
		m.put(s)
	}
	return m
}

func withID(s types.Site) types.Site {
	if s.ID == "" {
		s.ID = types.NewSiteID(s.URL, s.Username)
	}
	return s
}

func (m *Manager) put(s types.Site) (types.Site, bool) {
	s = withID(s)
	old, exists := m.sites[s.ID]
	if !exists {
		m.order = append(m.order, s.ID)
	}
	m.sites[s.ID] = s
	changed := exists && !sameSite(old, s)
	return s, changed
}

func sameSite(a, b types.Site) bool {
	return a.URL == b.URL && a.Username == b.Username && a.Version == b.Version &&
		slices.Equal(a.DisabledFeatures, b.DisabledFeatures)
}

// Subscribe calls fn after every site event.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(ev Event) {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()

	m.logger.Info("site event", "kind", ev.Kind, "site", ev.SiteID)
	for _, fn := range listeners {
		fn(ev)
	}
}

// Add stores a site, or updates it if its ID is known, and returns its ID.
func (m *Manager) Add(s types.Site) types.SiteID {
	m.mu.Lock()
	s, changed := m.put(s)
	m.mu.Unlock()

	if changed {
		m.emit(Event{Kind: EventSiteUpdated, SiteID: s.ID})
	}
	return s.ID
}

// Remove forgets a site. Removing the current site logs out.
func (m *Manager) Remove(id types.SiteID) error {
	m.mu.Lock()
	if _, ok := m.sites[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSite, id)
	}
	delete(m.sites, id)
	m.order = slices.DeleteFunc(m.order, func(s types.SiteID) bool { return s == id })
	wasCurrent := m.current == id
	if wasCurrent {
		m.current = ""
	}
	m.mu.Unlock()

	if wasCurrent {
		m.emit(Event{Kind: EventLogout, SiteID: id})
	}
	m.emit(Event{Kind: EventSiteRemoved, SiteID: id})
	return nil
}

// Reload replaces the site list. Sites whose data changed get a
// site-updated event; sites no longer listed are removed.
func (m *Manager) Reload(sites []types.Site) {
	keep := make(map[types.SiteID]bool, len(sites))
	var updated []types.SiteID

	m.mu.Lock()
	for _, s := range sites {
		s, changed := m.put(s)
		keep[s.ID] = true
		if changed {
			updated = append(updated, s.ID)
		}
	}
	var gone []types.SiteID
	for _, id := range m.order {
		if !keep[id] {
			gone = append(gone, id)
		}
	}
	m.mu.Unlock()

	for _, id := range updated {
		m.emit(Event{Kind: EventSiteUpdated, SiteID: id})
	}
	for _, id := range gone {
		_ = m.Remove(id)
	}
}

// Login makes id the current site.
func (m *Manager) Login(id types.SiteID) error {
	m.mu.Lock()
	if _, ok := m.sites[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSite, id)
	}
	prev := m.current
	m.current = id
	m.mu.Unlock()

	if prev != "" && prev != id {
		m.emit(Event{Kind: EventLogout, SiteID: prev})
	}
	m.emit(Event{Kind: EventLogin, SiteID: id})
	return nil
}

// Logout leaves the current site, if any.
func (m *Manager) Logout() {
	m.mu.Lock()
	prev := m.current
	m.current = ""
	m.mu.Unlock()

	if prev != "" {
		m.emit(Event{Kind: EventLogout, SiteID: prev})
	}
}

func (m *Manager) CurrentSiteID() types.SiteID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) Site(id types.SiteID) (*types.Site, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[id]
	if !ok {
		return nil, false
	}
	s.DisabledFeatures = slices.Clone(s.DisabledFeatures)
	return &s, true
}

// Sites returns every site in the order they were added.
func (m *Manager) Sites() []types.Site {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Site, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sites[id])
	}
	return out
}

func (m *Manager) IsFeatureDisabled(id types.SiteID, feature string) bool {
	s, ok := m.Site(id)
	if !ok {
		return false
	}
	return s.IsFeatureDisabled(feature)
}

var (
	httpRe     = regexp.MustCompile(`(?i)^https?://`)
	absoluteRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
	wwwRe      = regexp.MustCompile(`(?i)^(https?://)?(www\.)?`)
)

func stripSchemeAndWWW(u string) string {
	return strings.TrimRight(strings.ToLower(wwwRe.ReplaceAllString(u, "")), "/")
}

// ContainsURL reports whether url belongs to the site at siteURL.
func ContainsURL(siteURL, url string) bool {
	site := stripSchemeAndWWW(siteURL)
	if site == "" {
		return false
	}
	target := strings.ToLower(wwwRe.ReplaceAllString(url, ""))
	return target == site || strings.HasPrefix(target, site+"/") || strings.HasPrefix(target, site+"?")
}

// SitesForURL returns the sites url belongs to, limited to username's
// accounts when username is set. The current site wins when it matches.
// Relative URLs belong to the current site.
func (m *Manager) SitesForURL(url, username string) []types.SiteID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := func(s types.Site) bool {
		return ContainsURL(s.URL, url) && (username == "" || s.Username == username)
	}
	if cur, ok := m.sites[m.current]; ok && matches(cur) {
		return []types.SiteID{cur.ID}
	}

	if !httpRe.MatchString(url) {
		if absoluteRe.MatchString(url) || m.current == "" {
			return nil
		}
		return []types.SiteID{m.current}
	}

	var ids []types.SiteID
	for _, id := range m.order {
		if matches(m.sites[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}
