package contentlinks

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/coredelegate/internal/types"
)

// LinkSpec declares a link handler without code. Matching URLs navigate to
// Route, where "{param}" placeholders are replaced by URL parameters.
type LinkSpec struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Priority int    `yaml:"priority"`
	Feature  string `yaml:"feature"`
	Route    string `yaml:"route"`
	Message  string `yaml:"message"`
	Icon     string `yaml:"icon"`
	// Required URL parameters; without them the handler offers no action.
	Required []string `yaml:"required"`
	// Params maps navigation parameter names to URL parameter names.
	Params map[string]string `yaml:"params"`
}

// ManifestHandler is a link handler built from a LinkSpec.
type ManifestHandler struct {
	HandlerBase
	spec LinkSpec
	nav  types.Navigator
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

func NewManifestHandler(spec LinkSpec, nav types.Navigator) (*ManifestHandler, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("link handler without name")
	}
	if spec.Pattern == "" {
		return nil, fmt.Errorf("link handler %s: empty pattern", spec.Name)
	}
	if spec.Route == "" {
		return nil, fmt.Errorf("link handler %s: empty route", spec.Name)
	}
	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("link handler %s: %w", spec.Name, err)
	}
	return &ManifestHandler{
		HandlerBase: HandlerBase{HandlerName: spec.Name, Regexp: re, Prio: spec.Priority, Feature: spec.Feature},
		spec:        spec,
		nav:         nav,
	}, nil
}

func (h *ManifestHandler) Spec() LinkSpec {
	return h.spec
}

func (h *ManifestHandler) GetActions(_ context.Context, _ []types.SiteID, _ string, params map[string]string, courseID int64) ([]Action, error) {
	for _, p := range h.spec.Required {
		if params[p] == "" {
			return nil, nil
		}
	}

	navParams := make(map[string]string, len(h.spec.Params)+1)
	for to, from := range h.spec.Params {
		if v, ok := params[from]; ok {
			navParams[to] = v
		}
	}
	if _, ok := navParams["courseId"]; !ok && courseID > 0 {
		navParams["courseId"] = strconv.FormatInt(courseID, 10)
	}

	missing := false
	route := placeholderRe.ReplaceAllStringFunc(h.spec.Route, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := navParams[key]; ok {
			return v
		}
		if v, ok := params[key]; ok {
			return v
		}
		missing = true
		return m
	})
	if missing {
		return nil, fmt.Errorf("route %s: unresolved placeholder", h.spec.Route)
	}

	return []Action{{
		Message: h.spec.Message,
		Icon:    h.spec.Icon,
		Run: func(ctx context.Context, siteID types.SiteID) error {
			return h.nav.Navigate(ctx, siteID, route, navParams)
		},
	}}, nil
}

type linkManifest struct {
	Links []LinkSpec `yaml:"links"`
}

// ParseManifest builds the handlers declared under "links:" in a YAML
// document.
func ParseManifest(data []byte, nav types.Navigator) ([]*ManifestHandler, error) {
	var m linkManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse link manifest: %w", err)
	}
	return BuildHandlers(m.Links, nav)
}

// BuildHandlers creates a handler per spec. Names must be unique.
func BuildHandlers(specs []LinkSpec, nav types.Navigator) ([]*ManifestHandler, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]*ManifestHandler, 0, len(specs))
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate link handler %s", spec.Name)
		}
		seen[spec.Name] = true
		h, err := NewManifestHandler(spec, nav)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
