package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/coredelegate/internal/types"
)

type testJob struct {
	name     string
	interval time.Duration
	notSync  bool
	local    bool
	run      func(ctx context.Context) error
	calls    atomic.Int32
}

func (j *testJob) Name() string            { return j.name }
func (j *testJob) Interval() time.Duration { return j.interval }
func (j *testJob) IsSync() bool            { return !j.notSync }
func (j *testJob) UsesNetwork() bool       { return !j.local }

func (j *testJob) Execute(ctx context.Context, _ types.SiteID, _ bool) error {
	j.calls.Add(1)
	if j.run != nil {
		return j.run(ctx)
	}
	return nil
}

type noManualJob struct {
	*testJob
}

func (noManualJob) CanManualSync() bool { return false }

type specJob struct {
	*testJob
	spec string
}

func (j specJob) Spec() string { return j.spec }

type bareJob struct {
	name string
}

func (j bareJob) Name() string { return j.name }

func (bareJob) Execute(context.Context, types.SiteID, bool) error { return nil }

func TestIntervalContract(t *testing.T) {
	d := NewDelegate(Options{})
	require.NoError(t, d.Register(&testJob{name: "short", interval: time.Second}))
	require.NoError(t, d.Register(&testJob{name: "long", interval: 3 * time.Hour}))
	require.NoError(t, d.Register(&testJob{name: "zero"}))
	require.NoError(t, d.Register(bareJob{name: "bare"}))

	assert.Equal(t, MinInterval, d.Interval("short"), "clamped to the minimum")
	assert.Equal(t, 3*time.Hour, d.Interval("long"))
	assert.Equal(t, DefaultInterval, d.Interval("zero"))
	assert.Equal(t, DefaultInterval, d.Interval("bare"))
	assert.Equal(t, DefaultInterval, d.Interval("missing"))
}

func TestHandlerDefaults(t *testing.T) {
	d := NewDelegate(Options{})
	require.NoError(t, d.Register(bareJob{name: "bare"}))
	require.NoError(t, d.Register(&testJob{name: "local", local: true, notSync: true}))
	require.NoError(t, d.Register(noManualJob{&testJob{name: "auto"}}))

	assert.True(t, d.IsSync("bare"))
	assert.True(t, d.UsesNetwork("bare"))
	assert.True(t, d.IsManualSync("bare"))

	assert.False(t, d.IsSync("local"))
	assert.False(t, d.UsesNetwork("local"))
	assert.False(t, d.IsManualSync("local"), "manual sync follows IsSync")

	assert.True(t, d.IsSync("auto"))
	assert.False(t, d.IsManualSync("auto"))

	assert.False(t, d.IsSync("missing"))
	assert.True(t, d.HasSyncHandlers())
	assert.True(t, d.HasManualSyncHandlers())
}

func TestRegisterReplacesAndNotifies(t *testing.T) {
	d := NewDelegate(Options{})
	var mu sync.Mutex
	var seen []string
	d.Subscribe(func(name string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, name)
	})

	first := &testJob{name: "a", interval: time.Hour}
	second := &testJob{name: "a", interval: 2 * time.Hour}
	require.NoError(t, d.Register(first))
	require.NoError(t, d.Register(&testJob{name: "b"}))
	require.NoError(t, d.Register(second))

	assert.Equal(t, []string{"a", "b"}, d.Names())
	h, ok := d.Handler("a")
	require.True(t, ok)
	assert.Same(t, second, h)
	assert.Equal(t, []string{"a", "b", "a"}, seen)

	assert.ErrorIs(t, d.Register(nil), ErrInvalidHandler)
	assert.ErrorIs(t, d.Register(bareJob{}), ErrInvalidHandler)

	assert.True(t, d.Unregister("a"))
	assert.False(t, d.Unregister("a"))
	assert.Equal(t, []string{"b"}, d.Names())
}

func TestDescribe(t *testing.T) {
	d := NewDelegate(Options{})
	require.NoError(t, d.Register(specJob{&testJob{name: "nightly"}, "0 3 * * *"}))

	infos := d.Describe()
	require.Len(t, infos, 1)
	assert.Equal(t, "0 3 * * *", infos[0].Spec)
	assert.Equal(t, DefaultInterval, infos[0].Interval)
	assert.Contains(t, infos[0].String(), "nightly every 1h0m0s")
}

// A simulated clock drives the jobs using only the intervals the delegate
// reports.
func TestSimulatedScheduleFollowsIntervals(t *testing.T) {
	ctx := context.Background()
	d := NewDelegate(Options{MinInterval: time.Millisecond})
	h1 := &testJob{name: "handler1", interval: 1000 * time.Millisecond}
	h2 := &testJob{name: "handler2", interval: 3000 * time.Millisecond}
	require.NoError(t, d.Register(h1))
	require.NoError(t, d.Register(h2))

	window := 3000 * time.Millisecond
	next := map[string]time.Duration{}
	for _, name := range d.Names() {
		next[name] = d.Interval(name)
	}
	for now := time.Duration(0); now <= window; now += time.Millisecond {
		for _, name := range d.Names() {
			if now < next[name] {
				continue
			}
			h, _ := d.Handler(name)
			require.NoError(t, h.Execute(ctx, "", false))
			next[name] = now + d.Interval(name)
		}
	}

	assert.Equal(t, int32(3), h1.calls.Load())
	assert.Equal(t, int32(1), h2.calls.Load())
}
