package course

import (
	"context"
	"sync"
	"testing"

	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/types"
)

type urlSites struct {
	fakeSites
}

func (s *urlSites) SitesForURL(string, string) []types.SiteID { return []types.SiteID{"s1"} }

type recordingNav struct {
	mu     sync.Mutex
	routes []string
	params []map[string]string
}

func (n *recordingNav) Navigate(_ context.Context, _ types.SiteID, route string, params map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
	n.params = append(n.params, params)
	return nil
}

func TestCourseLinkHandlers(t *testing.T) {
	ctx := context.Background()
	nav := &recordingNav{}
	hs, err := LinkHandlers(nav)
	if err != nil {
		t.Fatal(err)
	}
	links := contentlinks.New(&urlSites{}, nil)
	for _, h := range hs {
		if err := links.Register(h); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		url   string
		route string
	}{
		{"https://site/course/view.php?id=5&section=2", "course/5"},
		{"https://site/user/index.php?id=42", "course/42/participants"},
		{"https://site/mod/forum/index.php?id=9", "course/9/modules"},
	}
	for _, tt := range tests {
		cands, err := links.GetActionsFor(ctx, tt.url, 0, "")
		if err != nil {
			t.Fatalf("%s: %v", tt.url, err)
		}
		c, ok := contentlinks.FirstValidAction(cands)
		if !ok {
			t.Fatalf("%s: no action", tt.url)
		}
		if err := c.Action.Run(ctx, "s1"); err != nil {
			t.Fatal(err)
		}
		if got := nav.routes[len(nav.routes)-1]; got != tt.route {
			t.Errorf("%s: route = %q, want %q", tt.url, got, tt.route)
		}
	}
	if nav.params[1]["courseId"] != "42" {
		t.Errorf("participants courseId = %q", nav.params[1]["courseId"])
	}
	if nav.params[0]["sectionId"] != "2" {
		t.Errorf("course sectionId = %q", nav.params[0]["sectionId"])
	}

	cands, err := links.GetActionsFor(ctx, "https://site/course/view.php", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("a course link without id has no action: %+v", cands)
	}
}
