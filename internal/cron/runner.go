package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	robfig "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/user/coredelegate/internal/types"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

var errTimedOut = errors.New("cron handler timed out")

type RunnerOptions struct {
	Store   types.LastRunStore
	Network types.NetworkStatus
	// Journal, if set, records every execution.
	Journal        types.RunJournal
	SyncOnlyOnWifi bool
	MaxTimeProcess time.Duration
	Retry          *RetryPolicy
	Logger         *slog.Logger
}

type jobState struct {
	scheduled bool
	hasEntry  bool
	entry     robfig.EntryID
	token     uint64
	inFlight  bool
	nextRun   time.Time
	failures  int
	lastErr   string
}

// Runner executes the delegate's jobs on their intervals. Executions are
// serialized: one job runs at a time.
type Runner struct {
	d              *Delegate
	store          types.LastRunStore
	network        types.NetworkStatus
	journal        types.RunJournal
	syncOnlyOnWifi atomic.Bool
	maxTime        time.Duration
	retry          *RetryPolicy
	logger         *slog.Logger
	sem            *semaphore.Weighted
	now            func() time.Time

	mu      sync.Mutex
	cron    *robfig.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	jobs    map[string]*jobState
}

func NewRunner(d *Delegate, opts RunnerOptions) *Runner {
	initMetrics()

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxTimeProcess <= 0 {
		opts.MaxTimeProcess = MaxTimeProcess
	}
	if opts.Retry == nil {
		opts.Retry = &RetryPolicy{InitialDelay: d.MinInterval(), Multiplier: 1, MaxDelay: d.defaultInterval}
	}
	logger := opts.Logger.With("component", "cron_runner")
	cl := cronLogger{logger}

	r := &Runner{
		d:       d,
		store:   opts.Store,
		network: opts.Network,
		journal: opts.Journal,
		maxTime: opts.MaxTimeProcess,
		retry:   opts.Retry,
		logger:  logger,
		sem:     semaphore.NewWeighted(1),
		now:     time.Now,
		cron: robfig.New(
			robfig.WithParser(cronParser),
			robfig.WithLogger(cl),
			robfig.WithChain(robfig.Recover(cl)),
		),
		ctx:  context.Background(),
		jobs: make(map[string]*jobState),
	}
	r.syncOnlyOnWifi.Store(opts.SyncOnlyOnWifi)

	// Handlers registered while running are scheduled right away; a
	// replaced handler is rescheduled.
	d.Subscribe(func(name string) {
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		if started {
			r.StartHandler(name)
		}
	})
	return r
}

// Start schedules every registered job and starts the timers.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	for _, name := range r.d.Names() {
		r.StartHandler(name)
	}
	r.cron.Start()
	r.logger.Info("cron runner started", "jobs", len(r.d.Names()))
}

// Stop cancels running executions and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()

	<-r.cron.Stop().Done()

	r.mu.Lock()
	for _, st := range r.jobs {
		if st.hasEntry {
			r.cron.Remove(st.entry)
			st.hasEntry = false
		}
		st.scheduled = false
		st.nextRun = time.Time{}
	}
	r.mu.Unlock()
	r.logger.Info("cron runner stopped")
}

// SetSyncOnlyOnWifi changes whether sync jobs may run on limited connections.
func (r *Runner) SetSyncOnlyOnWifi(v bool) {
	r.syncOnlyOnWifi.Store(v)
}

func (r *Runner) job(name string) *jobState {
	st, ok := r.jobs[name]
	if !ok {
		st = &jobState{}
		r.jobs[name] = st
	}
	return st
}

// StartHandler schedules the next execution of a job.
func (r *Runner) StartHandler(name string) {
	if _, ok := r.d.Handler(name); !ok {
		return
	}
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.job(name).scheduled = true
	r.mu.Unlock()

	r.scheduleNext(name, -1)
}

// StopHandler cancels the scheduled execution of a job.
func (r *Runner) StopHandler(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.job(name)
	st.scheduled = false
	st.nextRun = time.Time{}
	if st.hasEntry {
		r.cron.Remove(st.entry)
		st.hasEntry = false
	}
}

// StartNetworkHandlers restarts the jobs that need a connection. Call it
// when the device comes back online.
func (r *Runner) StartNetworkHandlers() {
	for _, name := range r.d.Names() {
		if r.d.UsesNetwork(name) {
			r.StartHandler(name)
		}
	}
}

// timeToNext is the delay until a job is due, based on its last run.
func (r *Runner) timeToNext(ctx context.Context, name string) time.Duration {
	now := r.now()
	if spec := r.d.Spec(name); spec != "" {
		sched, err := cronParser.Parse(spec)
		if err == nil {
			return sched.Next(now).Sub(now)
		}
		r.logger.Error("invalid cron schedule", "handler", name, "schedule", spec, "error", err)
	}

	var last time.Time
	if r.store != nil {
		var err error
		last, err = r.store.LastRun(ctx, name)
		if err != nil {
			r.logger.Warn("failed to read last execution", "handler", name, "error", err)
		}
	}
	return max(last.Add(r.d.Interval(name)).Sub(now), 0)
}

// scheduleNext replaces a job's pending execution with one after delay.
// A negative delay means "when due".
func (r *Runner) scheduleNext(name string, delay time.Duration) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if delay < 0 {
		delay = r.timeToNext(ctx, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.job(name)
	if !r.started || !st.scheduled {
		return
	}
	if st.hasEntry {
		r.cron.Remove(st.entry)
	}
	st.token++
	token := st.token
	at := r.now().Add(delay)
	st.entry = r.cron.Schedule(&onceSchedule{at: at}, robfig.FuncJob(func() {
		r.fire(name, token)
	}))
	st.hasEntry = true
	st.nextRun = at
	r.logger.Debug("scheduled cron job", "handler", name, "in", delay)
}

func (r *Runner) fire(name string, token uint64) {
	r.mu.Lock()
	st := r.job(name)
	if st.token != token || !st.scheduled || st.inFlight {
		r.mu.Unlock()
		return
	}
	if st.hasEntry {
		r.cron.Remove(st.entry)
		st.hasEntry = false
	}
	ctx := r.ctx
	r.mu.Unlock()

	if err := r.execute(ctx, name, false, ""); err != nil {
		r.logger.Debug("scheduled cron job did not complete", "handler", name, "error", err)
	}
}

// ForceExecution runs a job now, skipping the wifi restriction.
func (r *Runner) ForceExecution(ctx context.Context, name string, siteID types.SiteID) error {
	return r.execute(ctx, name, true, siteID)
}

// ForceSyncExecution runs every job that takes part in manual sync.
func (r *Runner) ForceSyncExecution(ctx context.Context, siteID types.SiteID) error {
	var g errgroup.Group
	for _, name := range r.d.Names() {
		if !r.d.IsManualSync(name) {
			continue
		}
		g.Go(func() error {
			return r.execute(ctx, name, true, siteID)
		})
	}
	return g.Wait()
}

func (r *Runner) execute(ctx context.Context, name string, force bool, siteID types.SiteID) error {
	h, ok := r.d.Handler(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}

	if r.d.UsesNetwork(name) && r.network != nil && !r.network.IsOnline() {
		// Offline: stop until StartNetworkHandlers.
		r.StopHandler(name)
		r.record(ctx, name, siteID, force, types.RunSkipped, ErrOffline, time.Now())
		return fmt.Errorf("%s: %w", name, ErrOffline)
	}
	if !force && r.d.IsSync(name) && r.syncOnlyOnWifi.Load() && r.network != nil && !r.network.IsWifi() {
		r.scheduleNext(name, r.d.MinInterval())
		r.record(ctx, name, siteID, force, types.RunSkipped, ErrSyncRequiresWifi, time.Now())
		return fmt.Errorf("%s: %w", name, ErrSyncRequiresWifi)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	r.setInFlight(name, true)
	defer r.setInFlight(name, false)

	r.logger.Debug("executing cron job", "handler", name, "site", siteID, "force", force)
	start := time.Now()
	err := r.runHandler(ctx, h, siteID, force)
	jobDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil || errors.Is(err, errTimedOut):
		status := types.RunSucceeded
		if err != nil {
			status = types.RunTimedOut
			r.logger.Warn("cron job timed out", "handler", name, "after", r.maxTime)
		}
		r.succeeded(ctx, name)
		r.record(ctx, name, siteID, force, status, nil, start)
		return nil
	case ctx.Err() != nil:
		r.record(ctx, name, siteID, force, types.RunFailed, ctx.Err(), start)
		return ctx.Err()
	default:
		r.logger.Warn("cron job failed", "handler", name, "error", err)
		r.failed(name, err)
		r.record(ctx, name, siteID, force, types.RunFailed, err, start)
		return fmt.Errorf("cron job %s: %w", name, err)
	}
}

// runHandler runs h bounded by the max processing time. Running past it is
// reported as errTimedOut.
func (r *Runner) runHandler(ctx context.Context, h Handler, siteID types.SiteID, force bool) error {
	execCtx, cancel := context.WithTimeout(ctx, r.maxTime)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- h.Execute(execCtx, siteID, force)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return errTimedOut
		}
		return err
	case <-execCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return errTimedOut
	}
}

func (r *Runner) setInFlight(name string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job(name).inFlight = v
}

func (r *Runner) succeeded(ctx context.Context, name string) {
	now := r.now()
	if r.store != nil {
		if err := r.store.SetLastRun(ctx, name, now); err != nil {
			r.logger.Warn("failed to store last execution", "handler", name, "error", err)
		}
	}
	jobLastSuccess.WithLabelValues(name).Set(float64(now.Unix()))

	r.mu.Lock()
	st := r.job(name)
	st.failures = 0
	st.lastErr = ""
	r.mu.Unlock()

	r.scheduleNext(name, -1)
}

func (r *Runner) failed(name string, err error) {
	r.mu.Lock()
	st := r.job(name)
	st.failures++
	st.lastErr = err.Error()
	delay := r.retry.NextDelay(st.failures)
	r.mu.Unlock()

	r.scheduleNext(name, delay)
}

func (r *Runner) record(ctx context.Context, name string, siteID types.SiteID, force bool, status types.RunStatus, err error, start time.Time) {
	jobRunsTotal.WithLabelValues(name, string(status)).Inc()
	if r.journal == nil {
		return
	}
	rec := &types.RunRecord{
		Job:        name,
		SiteID:     siteID,
		Forced:     force,
		Status:     status,
		StartedAt:  start,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// The journal outlives a cancelled execution.
	if jerr := r.journal.Append(context.WithoutCancel(ctx), rec); jerr != nil {
		r.logger.Warn("failed to journal cron run", "handler", name, "error", jerr)
	}
}

// JobStatus is a job's scheduling state.
type JobStatus struct {
	Info
	Scheduled bool      `json:"scheduled"`
	InFlight  bool      `json:"in_flight"`
	NextRun   time.Time `json:"next_run,omitzero"`
	LastRun   time.Time `json:"last_run,omitzero"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

func (r *Runner) Status(ctx context.Context) []JobStatus {
	infos := r.d.Describe()
	out := make([]JobStatus, 0, len(infos))
	for _, info := range infos {
		js := JobStatus{Info: info}
		if r.store != nil {
			if last, err := r.store.LastRun(ctx, info.Name); err == nil {
				js.LastRun = last
			}
		}
		r.mu.Lock()
		if st, ok := r.jobs[info.Name]; ok {
			js.Scheduled = st.scheduled
			js.InFlight = st.inFlight
			js.NextRun = st.nextRun
			js.Failures = st.failures
			js.LastError = st.lastErr
		}
		r.mu.Unlock()
		out = append(out, js)
	}
	return out
}

// onceSchedule fires a single time at a fixed instant.
type onceSchedule struct {
	at   time.Time
	used atomic.Bool
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.used.Swap(true) {
		return time.Time{}
	}
	if s.at.Before(t) {
		return t
	}
	return s.at
}

// cronLogger routes the cron library's logs to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
