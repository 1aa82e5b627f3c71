package contentlinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/coredelegate/internal/types"
)

type fakeOpener struct {
	opened []string
}

func (o *fakeOpener) OpenExternal(_ context.Context, url string) error {
	o.opened = append(o.opened, url)
	return nil
}

func twoSites() *fakeSites {
	return &fakeSites{byURL: map[string][]types.SiteID{"https://site": {"s1", "s2"}}}
}

func newTestResolver(t *testing.T, sites *fakeSites) (*Resolver, *fakeNavigator, *fakeOpener) {
	t.Helper()
	nav := &fakeNavigator{}
	opener := &fakeOpener{}
	d := New(sites, nil)
	require.NoError(t, d.Register(newLinkHandler("course", `/course/view\.php`, 0, nav)))
	return NewResolver(d, opener, time.Minute, nil), nav, opener
}

func TestResolveSingleSiteDispatches(t *testing.T) {
	ctx := context.Background()
	r, nav, _ := newTestResolver(t, oneSite())

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateDispatched, res.State)
	assert.Equal(t, types.SiteID("site1"), res.SiteID)
	assert.Equal(t, "course", res.Handler)
	require.Len(t, nav.Calls(), 1)
	assert.Equal(t, 0, r.Pending())
}

func TestResolveSeveralSitesAwaitsChoice(t *testing.T) {
	ctx := context.Background()
	r, nav, _ := newTestResolver(t, twoSites())

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingSiteChoice, res.State)
	assert.Equal(t, []types.SiteID{"s1", "s2"}, res.Sites)
	require.NotEmpty(t, res.ChoiceID)
	assert.Empty(t, nav.Calls())

	_, err = r.Choose(ctx, res.ChoiceID, "s3")
	assert.ErrorIs(t, err, ErrInvalidSite)
	assert.Equal(t, 1, r.Pending(), "a wrong site keeps the choice open")

	done, err := r.Choose(ctx, res.ChoiceID, "s2")
	require.NoError(t, err)
	assert.Equal(t, StateDispatched, done.State)
	assert.Equal(t, types.SiteID("s2"), done.SiteID)
	calls := nav.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.SiteID("s2"), calls[0].siteID)

	_, err = r.Choose(ctx, res.ChoiceID, "s2")
	assert.ErrorIs(t, err, ErrChoiceExpired, "a choice is used once")
}

func TestResolvePreferredSite(t *testing.T) {
	ctx := context.Background()
	r, nav, _ := newTestResolver(t, twoSites())

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{SiteID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, StateDispatched, res.State)
	assert.Equal(t, types.SiteID("s2"), nav.Calls()[0].siteID)
}

func TestResolveUnhandledOpensExternally(t *testing.T) {
	ctx := context.Background()
	r, nav, opener := newTestResolver(t, oneSite())

	res, err := r.Resolve(ctx, "https://site/mod/wiki/view.php?id=9", ResolveOptions{OpenExternally: true})
	require.NoError(t, err)
	assert.Equal(t, StateUnhandled, res.State)
	assert.Equal(t, []string{"https://site/mod/wiki/view.php?id=9"}, opener.opened)
	assert.Empty(t, nav.Calls())

	res, err = r.Resolve(ctx, "https://elsewhere/course/view.php?id=1", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateUnhandled, res.State)
	assert.Len(t, opener.opened, 1, "opener is only used when asked")
}

func TestSiteSwitchDiscardsPendingChoices(t *testing.T) {
	ctx := context.Background()
	r, nav, _ := newTestResolver(t, twoSites())

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingSiteChoice, res.State)

	r.Invalidate()

	_, err = r.Choose(ctx, res.ChoiceID, "s1")
	assert.ErrorIs(t, err, ErrChoiceExpired)
	assert.Empty(t, nav.Calls())
}

func TestSiteSwitchDuringResolveLeavesNoChoice(t *testing.T) {
	ctx := context.Background()
	nav := &fakeNavigator{}
	d := New(twoSites(), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	h := newLinkHandler("course", `/course/view\.php`, 0, nav)
	actions := h.actions
	h.actions = func(siteIDs []types.SiteID, params map[string]string, courseID int64) ([]Action, error) {
		close(entered)
		<-release
		return actions(siteIDs, params, courseID)
	}
	require.NoError(t, d.Register(h))
	r := NewResolver(d, nil, time.Minute, nil)

	type outcome struct {
		res Resolution
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
		done <- outcome{res, err}
	}()

	<-entered
	r.Invalidate()
	close(release)

	out := <-done
	assert.ErrorIs(t, out.err, ErrChoiceExpired)
	assert.Equal(t, StateUnhandled, out.res.State)
	assert.Equal(t, 0, r.Pending())
	assert.Empty(t, nav.Calls())
}

func TestChoiceExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t, twoSites())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = r.Choose(ctx, res.ChoiceID, "s1")
	assert.ErrorIs(t, err, ErrChoiceExpired)
	assert.Equal(t, 0, r.Pending())
}

func TestCancelChoice(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t, twoSites())

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
	require.NoError(t, err)

	assert.True(t, r.Cancel(res.ChoiceID))
	assert.False(t, r.Cancel(res.ChoiceID))
	_, err = r.Choose(ctx, res.ChoiceID, "s1")
	assert.ErrorIs(t, err, ErrChoiceExpired)
}

func TestDispatchErrorIsReported(t *testing.T) {
	ctx := context.Background()
	r, nav, _ := newTestResolver(t, oneSite())
	nav.err = errors.New("no route")

	res, err := r.Resolve(ctx, "https://site/course/view.php?id=2", ResolveOptions{})
	require.Error(t, err)
	assert.NotEqual(t, StateDispatched, res.State)
}

func TestStateText(t *testing.T) {
	b, err := StateAwaitingSiteChoice.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "awaiting_site_choice", string(b))
}
