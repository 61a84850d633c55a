// Package queue executes mutating actions against the cloud and keeps the
// ones that could not be delivered for a later replay.
//
// An entry is pending until a replay delivers it, at which point it is
// removed. A replay that fails marks the entry failed; failed entries are
// only retried by ReplayAll or dropped by Remove.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helloworlde/meshkeeper/internal/client"
	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
)

var validate = validator.New()

// Storage persists the queue as a whole.
type Storage interface {
	LoadQueue() ([]models.QueuedAction, error)
	SaveQueue(entries []models.QueuedAction) error
}

type Metrics interface {
	SetQueueDepth(pending, failed int)
	RecordActionOutcome(kind, outcome string)
}

type Options struct {
	Caller  client.Caller
	Storage Storage
	Metrics Metrics
	Logger  logger.Logger
	Now     func() time.Time
	NewID   func() string
}

type Queue struct {
	caller  client.Caller
	storage Storage
	metrics Metrics
	log     logger.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	entries []models.QueuedAction

	// replayMu keeps two replays from delivering the same entry twice.
	replayMu sync.Mutex
}

// ReplaySummary lists the entries a replay delivered and the ones that
// failed again.
type ReplaySummary struct {
	Replayed []models.QueuedAction `json:"replayed"`
	Failed   []models.QueuedAction `json:"failed"`
}

// New loads persisted entries. Storage may be nil for a process-local queue.
func New(opts Options) (*Queue, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	q := &Queue{
		caller:  opts.Caller,
		storage: opts.Storage,
		metrics: opts.Metrics,
		log:     log.With("component", "queue"),
		now:     now,
		newID:   newID,
	}
	if q.storage != nil {
		entries, err := q.storage.LoadQueue()
		if err != nil {
			return nil, fmt.Errorf("load action queue: %w", err)
		}
		q.entries = entries
	}
	q.mu.Lock()
	q.reportDepthLocked()
	q.mu.Unlock()
	return q, nil
}

// Execute delivers the action now when the cloud is reachable, queues it
// when it is not and the action may be replayed later, and rejects it
// otherwise. A failed delivery of a queue-eligible action is queued too.
func (q *Queue) Execute(ctx context.Context, action models.Action, cloudReachable bool) models.ExecutionResult {
	res := q.execute(ctx, action, cloudReachable)
	if q.metrics != nil {
		q.metrics.RecordActionOutcome(string(action.Kind), string(res.Outcome))
	}
	return res
}

func (q *Queue) execute(ctx context.Context, action models.Action, cloudReachable bool) models.ExecutionResult {
	if err := validate.Struct(action); err != nil {
		return models.ExecutionResult{Outcome: models.OutcomeRejected, Message: "invalid action: " + err.Error()}
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = q.now()
	}

	if !cloudReachable {
		if !action.QueueEligible {
			return models.ExecutionResult{
				Outcome: models.OutcomeRejected,
				Message: fmt.Sprintf("%s needs the cloud and cannot be queued", action.Label),
			}
		}
		return q.enqueue(action, "")
	}

	err := q.deliver(ctx, action)
	if err == nil {
		q.log.Infof("action %s delivered: %s", action.Kind, action.Label)
		return models.ExecutionResult{Outcome: models.OutcomeSuccess}
	}
	q.log.Warnf("action %s failed: %v", action.Kind, err)
	if action.QueueEligible {
		return q.enqueue(action, errors.Message(err))
	}
	return models.ExecutionResult{Outcome: models.OutcomeFailed, Message: errors.Message(err)}
}

func (q *Queue) deliver(ctx context.Context, action models.Action) error {
	if q.caller == nil {
		return fmt.Errorf("no cloud client configured")
	}
	var body interface{}
	if len(action.Body) > 0 {
		body = action.Body
	}
	_, err := q.caller.Call(ctx, action.Method, action.Endpoint, body, true)
	return err
}

func (q *Queue) enqueue(action models.Action, lastError string) models.ExecutionResult {
	entry := models.QueuedAction{
		ID:        q.newID(),
		Action:    action,
		Status:    models.QueueStatusPending,
		LastError: lastError,
		UpdatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	if err := q.persistLocked(); err != nil {
		q.entries = q.entries[:len(q.entries)-1]
		q.reportDepthLocked()
		return models.ExecutionResult{Outcome: models.OutcomeFailed, Message: err.Error()}
	}
	q.log.Infof("queued %s (%s)", action.Label, entry.ID)
	return models.ExecutionResult{Outcome: models.OutcomeQueued, Message: lastError, QueuedID: entry.ID}
}

// ReplayPending delivers every pending entry in creation order. Failed
// entries are left alone.
func (q *Queue) ReplayPending(ctx context.Context) (ReplaySummary, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()
	return q.replay(ctx)
}

// ReplayAll moves failed entries back to pending and replays the queue.
func (q *Queue) ReplayAll(ctx context.Context) (ReplaySummary, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	q.mu.Lock()
	changed := false
	for i := range q.entries {
		if q.entries[i].Status == models.QueueStatusFailed {
			q.entries[i].Status = models.QueueStatusPending
			q.entries[i].UpdatedAt = q.now()
			changed = true
		}
	}
	var err error
	if changed {
		err = q.persistLocked()
	}
	q.mu.Unlock()
	if err != nil {
		return ReplaySummary{}, err
	}
	return q.replay(ctx)
}

func (q *Queue) replay(ctx context.Context) (ReplaySummary, error) {
	var summary ReplaySummary
	for _, entry := range q.pending() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		err := q.deliver(ctx, entry.Action)

		q.mu.Lock()
		idx := q.indexLocked(entry.ID)
		if idx < 0 {
			// removed while the call was in flight
			q.mu.Unlock()
			continue
		}
		cur := q.entries[idx]
		cur.Attempts++
		cur.UpdatedAt = q.now()
		if err == nil {
			cur.Status = models.QueueStatusReplayed
			cur.LastError = ""
			q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
			summary.Replayed = append(summary.Replayed, cur)
		} else {
			cur.Status = models.QueueStatusFailed
			cur.LastError = errors.Message(err)
			q.entries[idx] = cur
			summary.Failed = append(summary.Failed, cur)
		}
		perr := q.persistLocked()
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.RecordActionOutcome(string(cur.Action.Kind), replayOutcome(err))
		}
		if perr != nil {
			return summary, perr
		}
	}
	if len(summary.Replayed)+len(summary.Failed) > 0 {
		q.log.Infof("replay finished: %d delivered, %d failed", len(summary.Replayed), len(summary.Failed))
	}
	return summary, nil
}

func replayOutcome(err error) string {
	if err != nil {
		return string(models.OutcomeFailed)
	}
	return string(models.QueueStatusReplayed)
}

func (q *Queue) pending() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedAction, 0, len(q.entries))
	for _, e := range q.entries {
		if e.Status == models.QueueStatusPending {
			out = append(out, e)
		}
	}
	return out
}

// Remove drops an entry regardless of its status.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return errors.ErrActionNotFound
	}
	removed := q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	if err := q.persistLocked(); err != nil {
		q.entries = append(q.entries[:idx], append([]models.QueuedAction{removed}, q.entries[idx:]...)...)
		q.reportDepthLocked()
		return err
	}
	return nil
}

// List returns a copy of the queue in creation order.
func (q *Queue) List() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedAction, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.entries {
		if q.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) persistLocked() error {
	q.reportDepthLocked()
	if q.storage == nil {
		return nil
	}
	snapshot := make([]models.QueuedAction, len(q.entries))
	copy(snapshot, q.entries)
	if err := q.storage.SaveQueue(snapshot); err != nil {
		q.log.Errorf("persist action queue: %v", err)
		return fmt.Errorf("persist action queue: %w", err)
	}
	return nil
}

func (q *Queue) reportDepthLocked() {
	if q.metrics == nil {
		return
	}
	pending, failed := 0, 0
	for _, e := range q.entries {
		switch e.Status {
		case models.QueueStatusPending:
			pending++
		case models.QueueStatusFailed:
			failed++
		}
	}
	q.metrics.SetQueueDepth(pending, failed)
}
