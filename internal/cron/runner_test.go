package cron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/coredelegate/internal/types"
)

type memStore struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[string]time.Time)}
}

func (s *memStore) LastRun(_ context.Context, name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name], nil
}

func (s *memStore) SetLastRun(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[name] = at
	return nil
}

type fakeNetwork struct {
	online atomic.Bool
	wifi   atomic.Bool
}

func newFakeNetwork(online, wifi bool) *fakeNetwork {
	n := &fakeNetwork{}
	n.online.Store(online)
	n.wifi.Store(wifi)
	return n
}

func (n *fakeNetwork) IsOnline() bool { return n.online.Load() }
func (n *fakeNetwork) IsWifi() bool   { return n.wifi.Load() }

type memJournal struct {
	mu   sync.Mutex
	recs []*types.RunRecord
}

func (j *memJournal) Append(_ context.Context, rec *types.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.Seq = int64(len(j.recs) + 1)
	j.recs = append(j.recs, rec)
	return nil
}

func (j *memJournal) Tail(_ context.Context, job string, limit int) ([]*types.RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*types.RunRecord
	for _, r := range j.recs {
		if r.Job == job {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (j *memJournal) statuses(job string) []types.RunStatus {
	recs, _ := j.Tail(context.Background(), job, 0)
	out := make([]types.RunStatus, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Status)
	}
	return out
}

type runnerFixture struct {
	d       *Delegate
	r       *Runner
	store   *memStore
	network *fakeNetwork
	journal *memJournal
}

func newRunnerFixture(t *testing.T, opts RunnerOptions) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		d:       NewDelegate(Options{MinInterval: 5 * time.Millisecond}),
		store:   newMemStore(),
		network: newFakeNetwork(true, true),
		journal: &memJournal{},
	}
	opts.Store = f.store
	opts.Network = f.network
	opts.Journal = f.journal
	if opts.Retry == nil {
		opts.Retry = &RetryPolicy{InitialDelay: 10 * time.Millisecond, Multiplier: 1}
	}
	f.r = NewRunner(f.d, opts)
	t.Cleanup(f.r.Stop)
	return f
}

func TestRunnerRunsDueJobs(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	job := &testJob{name: "sync", interval: 20 * time.Millisecond}
	require.NoError(t, f.d.Register(job))

	f.r.Start(context.Background())

	require.Eventually(t, func() bool { return job.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	last, err := f.store.LastRun(context.Background(), "sync")
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestRunnerSkipsJobsNotYetDue(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	job := &testJob{name: "hourly", interval: time.Hour}
	require.NoError(t, f.d.Register(job))
	require.NoError(t, f.store.SetLastRun(context.Background(), "hourly", time.Now()))

	f.r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), job.calls.Load())
	st := f.r.Status(context.Background())
	require.Len(t, st, 1)
	assert.True(t, st[0].Scheduled)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st[0].NextRun, time.Minute)
}

func TestTimeToNext(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.r.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, f.d.Register(&testJob{name: "hourly", interval: time.Hour}))
	require.NoError(t, f.d.Register(specJob{&testJob{name: "nightly"}, "0 3 * * *"}))
	require.NoError(t, f.d.Register(specJob{&testJob{name: "broken", interval: time.Hour}, "not a schedule"}))

	assert.Equal(t, time.Duration(0), f.r.timeToNext(ctx, "hourly"), "never run means due")

	require.NoError(t, f.store.SetLastRun(ctx, "hourly", now.Add(-10*time.Minute)))
	assert.Equal(t, 50*time.Minute, f.r.timeToNext(ctx, "hourly"))

	assert.Equal(t, 17*time.Hour, f.r.timeToNext(ctx, "nightly"))

	require.NoError(t, f.store.SetLastRun(ctx, "broken", now))
	assert.Equal(t, time.Hour, f.r.timeToNext(ctx, "broken"), "invalid schedules fall back to the interval")
}

func TestRunnerRetriesFailures(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	var failures atomic.Int32
	job := &testJob{name: "flaky", interval: time.Hour}
	job.run = func(context.Context) error {
		if failures.Add(1) <= 2 {
			return errors.New("server unavailable")
		}
		return nil
	}
	require.NoError(t, f.d.Register(job))

	f.r.Start(context.Background())

	require.Eventually(t, func() bool { return job.calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(f.journal.statuses("flaky")) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.RunStatus{types.RunFailed, types.RunFailed, types.RunSucceeded}, f.journal.statuses("flaky"))

	st := f.r.Status(context.Background())
	require.Len(t, st, 1)
	assert.Equal(t, 0, st[0].Failures)
	assert.Empty(t, st[0].LastError)
}

func TestTimeoutCountsAsSuccess(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{MaxTimeProcess: 20 * time.Millisecond})
	job := &testJob{name: "slow"}
	job.run = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	require.NoError(t, f.d.Register(job))

	require.NoError(t, f.r.ForceExecution(context.Background(), "slow", ""))

	last, _ := f.store.LastRun(context.Background(), "slow")
	assert.False(t, last.IsZero())
	assert.Equal(t, []types.RunStatus{types.RunTimedOut}, f.journal.statuses("slow"))
}

func TestPanicIsFailure(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	job := &testJob{name: "broken"}
	job.run = func(context.Context) error { panic("boom") }
	require.NoError(t, f.d.Register(job))

	err := f.r.ForceExecution(context.Background(), "broken", "site1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	recs, _ := f.journal.Tail(context.Background(), "broken", 1)
	require.Len(t, recs, 1)
	assert.Equal(t, types.RunFailed, recs[0].Status)
	assert.Equal(t, types.SiteID("site1"), recs[0].SiteID)
	assert.True(t, recs[0].Forced)
}

func TestUnknownJob(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	assert.ErrorIs(t, f.r.ForceExecution(context.Background(), "nope", ""), ErrUnknownHandler)
}

func TestOfflineStopsNetworkJobs(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	f.network.online.Store(false)
	remote := &testJob{name: "remote", interval: 20 * time.Millisecond}
	local := &testJob{name: "local", interval: 20 * time.Millisecond, local: true}
	require.NoError(t, f.d.Register(remote))
	require.NoError(t, f.d.Register(local))

	err := f.r.ForceExecution(context.Background(), "remote", "")
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, int32(0), remote.calls.Load())

	f.r.Start(context.Background())
	require.Eventually(t, func() bool { return local.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), remote.calls.Load())

	f.network.online.Store(true)
	f.r.StartNetworkHandlers()
	require.Eventually(t, func() bool { return remote.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSyncRequiresWifi(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{SyncOnlyOnWifi: true})
	f.network.wifi.Store(false)
	syncJob := &testJob{name: "sync"}
	other := &testJob{name: "other", notSync: true}
	require.NoError(t, f.d.Register(syncJob))
	require.NoError(t, f.d.Register(other))
	ctx := context.Background()

	assert.ErrorIs(t, f.r.execute(ctx, "sync", false, ""), ErrSyncRequiresWifi)
	assert.Equal(t, int32(0), syncJob.calls.Load())

	require.NoError(t, f.r.execute(ctx, "other", false, ""))
	assert.Equal(t, int32(1), other.calls.Load())

	require.NoError(t, f.r.ForceExecution(ctx, "sync", ""), "forced runs ignore the wifi restriction")
	assert.Equal(t, int32(1), syncJob.calls.Load())

	f.r.SetSyncOnlyOnWifi(false)
	require.NoError(t, f.r.execute(ctx, "sync", false, ""))
	assert.Equal(t, int32(2), syncJob.calls.Load())
}

func TestExecutionsAreSerialized(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	var running, peak atomic.Int32
	work := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, f.d.Register(&testJob{name: name, run: work}))
	}

	require.NoError(t, f.r.ForceSyncExecution(context.Background(), ""))
	assert.Equal(t, int32(1), peak.Load())
}

func TestForceSyncExecutionRunsManualJobs(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	manual := &testJob{name: "manual"}
	notSync := &testJob{name: "cleanup", notSync: true}
	auto := &testJob{name: "auto"}
	require.NoError(t, f.d.Register(manual))
	require.NoError(t, f.d.Register(notSync))
	require.NoError(t, f.d.Register(noManualJob{auto}))

	require.NoError(t, f.r.ForceSyncExecution(context.Background(), "site1"))

	assert.Equal(t, int32(1), manual.calls.Load())
	assert.Equal(t, int32(0), notSync.calls.Load())
	assert.Equal(t, int32(0), auto.calls.Load())
}

func TestForceSyncExecutionReportsFailure(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	ok := &testJob{name: "ok"}
	bad := &testJob{name: "bad", run: func(context.Context) error { return errors.New("denied") }}
	require.NoError(t, f.d.Register(ok))
	require.NoError(t, f.d.Register(bad))

	err := f.r.ForceSyncExecution(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Equal(t, int32(1), ok.calls.Load())
}

func TestRegisterWhileRunningSchedules(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{})
	f.r.Start(context.Background())

	job := &testJob{name: "late", interval: time.Hour}
	require.NoError(t, f.d.Register(job))

	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsExecution(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{MaxTimeProcess: time.Minute})
	started := make(chan struct{})
	job := &testJob{name: "long"}
	job.run = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	require.NoError(t, f.d.Register(job))
	f.r.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		f.r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	last, _ := f.store.LastRun(context.Background(), "long")
	assert.True(t, last.IsZero(), "a cancelled run is not a success")
}
