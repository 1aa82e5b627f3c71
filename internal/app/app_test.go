package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/coredelegate/internal/config"
	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/course"
	"github.com/user/coredelegate/internal/types"
)

const schoolURL = "https://school.example.com"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Sites = []config.SiteConfig{
		{URL: schoolURL, Username: "student", Version: "4.1"},
		{URL: schoolURL, Username: "teacher", Version: "4.1"},
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.RegisterDefaults())
	require.NoError(t, a.Start(context.Background()))
	return a
}

func TestResolveDispatchesToHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.CurrentSite = schoolURL
	a := newTestApp(t, cfg)

	res, err := a.Resolver.Resolve(context.Background(), schoolURL+"/course/view.php?id=5", contentlinks.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, contentlinks.StateDispatched, res.State)
	assert.Equal(t, "CoreCourseLinkHandler", res.Handler)

	visits := a.History.Visits()
	require.Len(t, visits, 1)
	assert.Equal(t, "course/5", visits[0].Route)
	assert.Equal(t, a.Sites.CurrentSiteID(), visits[0].SiteID)
}

func TestLoginExpiresPendingChoices(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	res, err := a.Resolver.Resolve(ctx, schoolURL+"/course/view.php?id=5", contentlinks.ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, contentlinks.StateAwaitingSiteChoice, res.State)
	require.Len(t, res.Sites, 2)

	require.NoError(t, a.Sites.Login(res.Sites[0]))

	_, err = a.Resolver.Choose(ctx, res.ChoiceID, res.Sites[0])
	assert.ErrorIs(t, err, contentlinks.ErrChoiceExpired)
	assert.Empty(t, a.History.Visits())
}

func TestUnknownCurrentSite(t *testing.T) {
	cfg := testConfig(t)
	cfg.CurrentSite = "https://elsewhere.example.com"
	_, err := New(cfg, "", nil)
	assert.Error(t, err)
}

func TestAddonManifestIsApplied(t *testing.T) {
	cfg := testConfig(t)
	cfg.CurrentSite = schoolURL
	cfg.Links.Manifest = "addons.yaml"
	manifest := `
modules:
  - name: AddonModCertificate
    modname: certificate
    route: 'course/{courseId}/certificate/{moduleId}'
`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "addons.yaml"), []byte(manifest), 0644))

	a := newTestApp(t, cfg)

	inv := a.Inventory()
	var names []string
	for _, info := range inv[a.Modules.Registry().Name()] {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "AddonModCertificate")
	assert.Contains(t, a.Cron.Names(), "AddonManifestCronHandler")

	data, ok := a.Modules.GetModuleDataFor(context.Background(), "certificate", &course.Module{ID: 2, Name: "Cert"}, 7, 0).Value()
	require.True(t, ok)
	assert.Equal(t, "course/7/certificate/2", data.Route)
}

func TestSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Store = "sqlite"
	a, err := New(cfg, "", nil)
	require.NoError(t, err)
	assert.FileExists(t, cfg.DatabasePath())
	assert.NoError(t, a.Close())
}

func TestUnknownStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Store = "redis"
	_, err := New(cfg, "", nil)
	assert.Error(t, err)
}

func TestSiteInfoJobNeedsConfigPath(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, "config.json")
	require.NoError(t, config.Save(path, cfg))

	a, err := New(cfg, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.RegisterDefaults())
	assert.Contains(t, a.Cron.Names(), "CoreSiteInfoCronHandler")

	// The job picks up sites added to the config file.
	cfg.Sites = append(cfg.Sites, config.SiteConfig{URL: "https://new.example.com", Username: "student"})
	require.NoError(t, config.Save(path, cfg))
	require.NoError(t, a.Runner.ForceExecution(context.Background(), "CoreSiteInfoCronHandler", ""))
	assert.Len(t, a.Sites.Sites(), 3)
	assert.NotEmpty(t, a.Sites.SitesForURL("https://new.example.com/course/view.php?id=1", ""))
}

func TestSitesFromConfig(t *testing.T) {
	got := SitesFromConfig([]config.SiteConfig{{ID: "x", URL: schoolURL, DisabledFeatures: []string{"a"}}})
	require.Len(t, got, 1)
	assert.Equal(t, types.SiteID("x"), got[0].ID)
	assert.Equal(t, []string{"a"}, got[0].DisabledFeatures)
}
