// Package agent ties the refresh pipeline together and publishes the
// resulting state.
//
// Refresh builds a fresh snapshot, reconciles it with the last good one,
// persists it and publishes it. An account-level failure keeps the last
// good snapshot on display, marks the cloud degraded or unreachable and
// forces a local probe run.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/normalize"
	"github.com/helloworlde/meshkeeper/internal/queue"
	"github.com/helloworlde/meshkeeper/internal/reconcile"
	"github.com/helloworlde/meshkeeper/internal/scheduler"
	"github.com/helloworlde/meshkeeper/internal/throughput"
)

type Builder interface {
	Build(ctx context.Context) (*models.AccountSnapshot, error)
}

type SnapshotStore interface {
	LoadSnapshot() (*models.AccountSnapshot, error)
	SaveSnapshot(snap *models.AccountSnapshot) error
}

type Prober interface {
	Run(ctx context.Context, force bool) (models.OfflineProbeSnapshot, bool)
}

type Metrics interface {
	RecordRefresh(duration time.Duration, err error)
	SetCloudReachability(state string)
}

type Options struct {
	Builder Builder
	Queue   *queue.Queue
	Store   SnapshotStore
	Probes  Prober
	Metrics Metrics
	Logger  logger.Logger
	Now     func() time.Time

	Foreground      time.Duration
	Background      time.Duration
	ConfirmModerate bool

	// Throughput enables the interface sampler; nil disables it.
	Throughput *throughput.Options
}

type Agent struct {
	builder         Builder
	queue           *queue.Queue
	store           SnapshotStore
	probes          Prober
	metrics         Metrics
	log             logger.Logger
	now             func() time.Time
	confirmModerate bool
	scheduler       *scheduler.Scheduler
	sampler         *throughput.Sampler

	refreshMu sync.Mutex

	pubMu sync.Mutex
	state atomic.Pointer[State]

	subsMu sync.Mutex
	subs   map[int]chan State
	nextID int
}

func New(opts Options) *Agent {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &Agent{
		builder:         opts.Builder,
		queue:           opts.Queue,
		store:           opts.Store,
		probes:          opts.Probes,
		metrics:         opts.Metrics,
		log:             log.With("component", "agent"),
		now:             now,
		confirmModerate: opts.ConfirmModerate,
		subs:            make(map[int]chan State),
	}
	a.scheduler = scheduler.New(scheduler.Options{
		Foreground: opts.Foreground,
		Background: opts.Background,
		Tick:       a.tick,
		Logger:     log,
	})
	if opts.Throughput != nil {
		topts := *opts.Throughput
		topts.OnSample = a.RecordThroughput
		if topts.Logger == nil {
			topts.Logger = log
		}
		a.sampler = throughput.New(topts)
	}

	initial := &State{Cloud: models.CloudUnknown, Mode: a.scheduler.Mode()}
	if a.queue != nil {
		initial.Queue = a.queue.List()
	}
	a.state.Store(initial)
	return a
}

// State returns the current published state.
func (a *Agent) State() State {
	return *a.state.Load()
}

// Subscribe delivers every published state on the returned channel. Slow
// readers only see the newest state. cancel releases the subscription.
func (a *Agent) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	a.subsMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	a.subsMu.Unlock()

	return ch, func() {
		a.subsMu.Lock()
		defer a.subsMu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
}

func (a *Agent) publish(mutate func(*State)) State {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	cur := a.state.Load()
	next := *cur
	mutate(&next)
	next.Version = cur.Version + 1
	a.state.Store(&next)

	if next.Cloud != cur.Cloud && a.metrics != nil {
		a.metrics.SetCloudReachability(string(next.Cloud))
	}

	a.subsMu.Lock()
	for _, ch := range a.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
	a.subsMu.Unlock()
	return next
}

func (a *Agent) tick(ctx context.Context) {
	if err := a.Refresh(ctx); err != nil {
		a.log.Debugf("refresh: %v", err)
	}
}

// Refresh runs one refresh cycle. Cycles never overlap.
func (a *Agent) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	started := a.now()
	fresh, err := a.builder.Build(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if a.metrics != nil {
		a.metrics.RecordRefresh(a.now().Sub(started), err)
	}
	if err != nil {
		a.degrade(ctx, err)
		return err
	}

	merged := reconcile.Reconcile(fresh, a.State().Snapshot)
	a.applyThroughput(merged)
	if a.store != nil {
		if err := a.store.SaveSnapshot(merged); err != nil {
			a.log.Warnf("persist snapshot: %v", err)
		}
	}
	a.publish(func(s *State) {
		s.Snapshot = merged
		s.Cloud = models.CloudReachable
		s.LastError = ""
		s.LastSuccess = a.now()
	})
	a.log.Debugf("refreshed %d networks in %s", len(merged.Networks), a.now().Sub(started))

	if a.queue != nil && hasPending(a.queue.List()) {
		if _, err := a.queue.ReplayPending(ctx); err != nil {
			a.log.Warnf("replay queued actions: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		a.publishQueue()
	}

	if lacksHealth(merged) {
		a.RunProbes(ctx, false)
	}
	return nil
}

func (a *Agent) degrade(ctx context.Context, err error) {
	cloud := models.CloudUnreachable
	if a.State().Snapshot != nil {
		cloud = models.CloudDegraded
	}
	a.log.Warnf("refresh failed, cloud %s: %v", cloud, err)
	a.publish(func(s *State) {
		s.Cloud = cloud
		s.LastError = errors.Message(err)
	})
	a.RunProbes(ctx, true)
}

func hasPending(entries []models.QueuedAction) bool {
	for _, e := range entries {
		if e.Status == models.QueueStatusPending {
			return true
		}
	}
	return false
}

func lacksHealth(snap *models.AccountSnapshot) bool {
	for _, n := range snap.Networks {
		if n.Health == nil {
			return true
		}
	}
	return false
}

// applyThroughput fills the realtime summary from the local sampler for
// networks the cloud reported no client telemetry for. A counter-derived
// summary carried over from the previous snapshot is replaced too.
func (a *Agent) applyThroughput(snap *models.AccountSnapshot) {
	sample := a.State().Throughput
	if sample == nil {
		return
	}
	for i := range snap.Networks {
		rt := snap.Networks[i].Realtime
		if rt == nil || rt.Source == models.RealtimeSourceInterfaceCounters {
			snap.Networks[i].Realtime = normalize.RealtimeFromSample(*sample)
		}
	}
}

// RecordThroughput publishes a new local throughput sample.
func (a *Agent) RecordThroughput(sample models.ThroughputSample) {
	a.publish(func(s *State) { s.Throughput = &sample })
}

// RunProbes runs the local probe suite and publishes its result.
func (a *Agent) RunProbes(ctx context.Context, force bool) *models.OfflineProbeSnapshot {
	if a.probes == nil {
		return nil
	}
	snap, ran := a.probes.Run(ctx, force)
	if !ran || ctx.Err() != nil {
		return a.State().Probes
	}
	a.publish(func(s *State) { s.Probes = &snap })
	return &snap
}

// SubmitAction executes an action, queueing it when the cloud is out of
// reach. Risky actions need confirmed set.
func (a *Agent) SubmitAction(ctx context.Context, action models.Action, confirmed bool) (models.ExecutionResult, error) {
	if queue.RequiresConfirmation(action, a.confirmModerate) && !confirmed {
		return models.ExecutionResult{}, errors.ErrConfirmationRequired
	}
	res := a.queue.Execute(ctx, action, a.State().CloudReachable())
	a.publishQueue()
	return res, nil
}

// Submit resolves a request against the current snapshot and submits it.
func (a *Agent) Submit(ctx context.Context, req queue.Request, confirmed bool) (models.ExecutionResult, error) {
	action, err := queue.FromRequest(a.State().Snapshot, req)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	return a.SubmitAction(ctx, action, confirmed)
}

// ReplayQueuedActions retries every queued action, including failed ones.
func (a *Agent) ReplayQueuedActions(ctx context.Context) (queue.ReplaySummary, error) {
	summary, err := a.queue.ReplayAll(ctx)
	a.publishQueue()
	return summary, err
}

func (a *Agent) RemoveQueuedAction(id string) error {
	if err := a.queue.Remove(id); err != nil {
		return err
	}
	a.publishQueue()
	return nil
}

func (a *Agent) publishQueue() {
	if a.queue == nil {
		return
	}
	entries := a.queue.List()
	a.publish(func(s *State) { s.Queue = entries })
}

// SetVisibility switches the polling mode from UI visibility.
func (a *Agent) SetVisibility(popoverOpen, windowVisible bool) scheduler.Mode {
	a.scheduler.SetVisibility(popoverOpen, windowVisible)
	mode := a.scheduler.Mode()
	if a.State().Mode != mode {
		a.publish(func(s *State) { s.Mode = mode })
	}
	return mode
}

// Restore publishes the persisted snapshot so it can be shown before the
// first refresh completes.
func (a *Agent) Restore() error {
	if a.store == nil {
		return nil
	}
	snap, err := a.store.LoadSnapshot()
	if err != nil || snap == nil {
		return err
	}
	a.publish(func(s *State) {
		if s.Snapshot == nil {
			s.Snapshot = snap
		}
	})
	a.log.Infof("restored snapshot from %s", snap.FetchedAt.Format(time.RFC3339))
	return nil
}

// Run restores persisted state, starts the scheduler and the sampler and
// blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Restore(); err != nil {
		a.log.Warnf("restore snapshot: %v", err)
	}

	var wg sync.WaitGroup
	if a.sampler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sampler.Run(ctx)
		}()
	}
	a.scheduler.Start(ctx)

	<-ctx.Done()
	a.scheduler.Stop()
	wg.Wait()
	return nil
}
