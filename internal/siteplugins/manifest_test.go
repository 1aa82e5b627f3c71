package siteplugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/course"
	"github.com/user/coredelegate/internal/fileuploader"
	"github.com/user/coredelegate/internal/question"
	"github.com/user/coredelegate/internal/types"
)

const testManifest = `
links:
  - name: AddonModCertificateLinkHandler
    pattern: '/mod/certificate/view\.php.*([?&]id=\d+)'
    route: 'mod_certificate/{id}'
    required: [id]
modules:
  - name: AddonModCertificate
    modname: certificate
    icon: certificate
    route: 'course/{courseId}/certificate/{moduleId}'
    download: false
  - name: AddonModNewThing
    modname: newthing
    min_version: "4.3"
blocks:
  - name: AddonBlockLevelUp
    block: xp
    title: Level up!
    component: AddonBlockLevelUpComponent
qtypes:
  - name: AddonQtypeOrdering
    qtype: ordering
    component: AddonQtypeOrderingComponent
    required: [order]
pickers:
  - name: AddonScanner
    priority: 50
    title: Scan document
    icon: scan
    mimetypes: ["image/*", "application/pdf"]
`

type fakeSites struct {
	site types.Site
}

func (s *fakeSites) CurrentSiteID() types.SiteID { return s.site.ID }

func (s *fakeSites) Site(id types.SiteID) (*types.Site, bool) {
	if id != s.site.ID {
		return nil, false
	}
	site := s.site
	return &site, true
}

func (s *fakeSites) SitesForURL(string, string) []types.SiteID   { return []types.SiteID{s.site.ID} }
func (s *fakeSites) IsFeatureDisabled(types.SiteID, string) bool { return false }

func (s *fakeSites) Navigate(context.Context, types.SiteID, string, map[string]string) error {
	return nil
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"4.1", "4.1", 0},
		{"4.1", "4.1.0", 0},
		{"3.11.2", "4.0", -1},
		{"4.10", "4.9", 1},
		{"", "3.5", -1},
		{"4.1+", "4.1", 0},
		{"3.11.2+", "3.11.1", 1},
		{"3.11.2+ (Build: 20230424)", "3.11.2", 0},
		{"4.0.1 (Build: 20221128)", "4.1", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "addons.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Links)+len(m.Modules)+len(m.Blocks)+len(m.QTypes)+len(m.Pickers) != 0 {
		t.Errorf("expected empty manifest, got %+v", m)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addons.yaml")
	if err := os.WriteFile(path, []byte("links: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	sites := &fakeSites{site: types.Site{ID: "s1", URL: "https://site", Version: "4.1"}}
	targets := Targets{
		Sites:      sites,
		Navigator:  sites,
		Links:      contentlinks.New(sites, nil),
		Modules:    course.NewModuleDelegate(sites, nil),
		Blocks:     course.NewBlockDelegate(sites, nil),
		Questions:  question.NewDelegate(sites, nil),
		FilePicker: fileuploader.NewDelegate(sites, nil),
	}

	m, err := Parse([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	n, err := Apply(m, targets)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("registered %d handlers, want 6", n)
	}

	data, ok := targets.Modules.GetModuleDataFor(ctx, "certificate", &course.Module{ID: 9, Name: "Cert"}, 3, 0).Value()
	if !ok || data.Route != "course/3/certificate/9" || data.DownloadButton() {
		t.Errorf("certificate data = %+v", data)
	}

	// The site is older than the handler requires.
	data, _ = targets.Modules.GetModuleDataFor(ctx, "newthing", &course.Module{Name: "New", ModName: "newthing"}, 3, 0).Value()
	if !data.Unsupported {
		t.Errorf("newthing should be unsupported on 4.1: %+v", data)
	}

	blocks := targets.Blocks.GetBlocksData(ctx, []course.Block{{Name: "xp"}}, "course", 3)
	if len(blocks) != 1 || blocks[0].Title != "Level up!" {
		t.Errorf("blocks = %+v", blocks)
	}

	q := &question.Question{Type: "ordering"}
	if c := targets.Questions.GetComponentForQuestion(ctx, q); c != "AddonQtypeOrderingComponent" {
		t.Errorf("component = %q", c)
	}
	if r := targets.Questions.IsCompleteResponse(ctx, q, question.Answers{"order": "1,2"}, "mod_quiz", 1); r != question.ResponseComplete {
		t.Errorf("complete = %d", r)
	}

	pickers := targets.FilePicker.GetHandlers(ctx, []string{"application/pdf", "text/plain"})
	if len(pickers) != 1 || pickers[0].Priority != 50 || len(pickers[0].Mimetypes) != 1 {
		t.Errorf("pickers = %+v", pickers)
	}

	cands, err := targets.Links.GetActionsFor(ctx, "https://site/mod/certificate/view.php?id=4", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Handler != "AddonModCertificateLinkHandler" {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestApplyRejectsModuleWithoutModname(t *testing.T) {
	m := &Manifest{Modules: []ModuleSpec{{Addon: Addon{Name: "Broken"}}}}
	if _, err := Apply(m, Targets{Modules: course.NewModuleDelegate(nil, nil)}); err == nil {
		t.Fatal("expected error")
	}
}
