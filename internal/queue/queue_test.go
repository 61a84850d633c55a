package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
)

type call struct {
	Method   string
	Endpoint string
	Body     string
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeCaller) Call(_ context.Context, method, pathOrURL string, body interface{}, _ bool) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := call{Method: method, Endpoint: pathOrURL}
	if raw, ok := body.(json.RawMessage); ok {
		c.Body = string(raw)
	}
	f.calls = append(f.calls, c)
	return nil, f.err
}

func (f *fakeCaller) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCaller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memStorage struct {
	mu      sync.Mutex
	entries []models.QueuedAction
	saves   int
	err     error
}

func (m *memStorage) LoadQueue() ([]models.QueuedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.QueuedAction, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStorage) SaveQueue(entries []models.QueuedAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.entries = entries
	return nil
}

type depthMetrics struct {
	pending, failed int
	outcomes        map[string]int
}

func (d *depthMetrics) SetQueueDepth(pending, failed int) { d.pending, d.failed = pending, failed }
func (d *depthMetrics) RecordActionOutcome(kind, outcome string) {
	if d.outcomes == nil {
		d.outcomes = map[string]int{}
	}
	d.outcomes[kind+"/"+outcome]++
}

func testNetwork() *models.Network {
	name := "Home"
	return &models.Network{
		ID:        "network_a",
		SourceURL: "/2.2/networks/1001",
		Name:      &name,
		Clients: []models.Client{
			{ID: "client_1", SourceURL: "/2.2/networks/1001/devices/c1"},
		},
		Devices: []models.Device{
			{ID: "device_1", SourceURL: "/2.2/eeros/501"},
		},
		Profiles: []models.Profile{
			{ID: "profile_1", SourceURL: "/2.2/networks/1001/profiles/7001", BlockedApps: []string{"tiktok"}},
		},
	}
}

func newQueue(t *testing.T, caller *fakeCaller, storage *memStorage) *Queue {
	t.Helper()
	seq := 0
	q, err := New(Options{
		Caller:  caller,
		Storage: storage,
		Logger:  logger.Discard(),
		Now:     func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("q%d", seq)
		},
	})
	require.NoError(t, err)
	return q
}

func TestUnreachableRejectsNonEligibleActions(t *testing.T) {
	caller := &fakeCaller{}
	storage := &memStorage{}
	q := newQueue(t, caller, storage)
	n := testNetwork()

	for _, build := range []func() (models.Action, error){
		func() (models.Action, error) { return RebootNetwork(n) },
		func() (models.Action, error) { return RebootDevice(n, &n.Devices[0]) },
		func() (models.Action, error) { return RunSpeedTest(n) },
	} {
		action, err := build()
		require.NoError(t, err)
		res := q.Execute(context.Background(), action, false)
		assert.Equal(t, models.OutcomeRejected, res.Outcome)
		assert.NotEmpty(t, res.Message)
	}

	assert.Empty(t, q.List())
	assert.Empty(t, storage.entries)
	assert.Zero(t, caller.count())
}

func TestUnreachableQueuesEligibleActions(t *testing.T) {
	caller := &fakeCaller{}
	storage := &memStorage{}
	q := newQueue(t, caller, storage)
	n := testNetwork()

	action, err := PauseClient(n, &n.Clients[0], true)
	require.NoError(t, err)
	res := q.Execute(context.Background(), action, false)

	assert.Equal(t, models.OutcomeQueued, res.Outcome)
	assert.Equal(t, "q1", res.QueuedID)
	require.Len(t, storage.entries, 1)
	assert.Equal(t, models.QueueStatusPending, storage.entries[0].Status)
	assert.False(t, storage.entries[0].Action.CreatedAt.IsZero())
	assert.Zero(t, caller.count())
}

func TestReachableDeliversAction(t *testing.T) {
	caller := &fakeCaller{}
	metrics := &depthMetrics{}
	q, err := New(Options{Caller: caller, Metrics: metrics, Logger: logger.Discard()})
	require.NoError(t, err)
	n := testNetwork()

	action, err := SetGuestNetwork(n, false)
	require.NoError(t, err)
	res := q.Execute(context.Background(), action, true)

	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	require.Len(t, caller.calls, 1)
	assert.Equal(t, call{Method: http.MethodPut, Endpoint: "/2.2/networks/1001/guestnetwork", Body: `{"enabled":false}`}, caller.calls[0])
	assert.Equal(t, 1, metrics.outcomes["set_guest_network/success"])
	assert.Empty(t, q.List())
}

func TestFailedDeliveryFallsBack(t *testing.T) {
	caller := &fakeCaller{err: errors.NewServerError(http.StatusServiceUnavailable, "down")}
	q := newQueue(t, caller, &memStorage{})
	n := testNetwork()

	pause, err := PauseProfile(n, &n.Profiles[0], true)
	require.NoError(t, err)
	res := q.Execute(context.Background(), pause, true)
	assert.Equal(t, models.OutcomeQueued, res.Outcome)
	assert.Equal(t, "down", res.Message)

	reboot, err := RebootNetwork(n)
	require.NoError(t, err)
	res = q.Execute(context.Background(), reboot, true)
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, "down", res.Message)

	require.Len(t, q.List(), 1)
	assert.Equal(t, "down", q.List()[0].LastError)
}

func TestInvalidActionRejected(t *testing.T) {
	q := newQueue(t, &fakeCaller{}, &memStorage{})
	res := q.Execute(context.Background(), models.Action{Kind: models.ActionPauseClient, Method: "FETCH", Endpoint: "/x"}, false)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Contains(t, res.Message, "invalid action")
	assert.Empty(t, q.List())
}

func TestReplayConverges(t *testing.T) {
	caller := &fakeCaller{}
	storage := &memStorage{}
	metrics := &depthMetrics{}
	seq := 0
	q, err := New(Options{
		Caller: caller, Storage: storage, Metrics: metrics, Logger: logger.Discard(),
		NewID: func() string { seq++; return fmt.Sprintf("q%d", seq) },
	})
	require.NoError(t, err)
	n := testNetwork()

	var actions []models.Action
	for _, build := range []func() (models.Action, error){
		func() (models.Action, error) { return PauseClient(n, &n.Clients[0], true) },
		func() (models.Action, error) { return SetNetworkFeature(n, FeatureAdBlock, true) },
		func() (models.Action, error) { return BlockApplication(n, &n.Profiles[0], "youtube", true) },
	} {
		a, err := build()
		require.NoError(t, err)
		actions = append(actions, a)
		require.Equal(t, models.OutcomeQueued, q.Execute(context.Background(), a, false).Outcome)
	}
	assert.Equal(t, 3, metrics.pending)

	summary, err := q.ReplayPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Replayed, 3)
	assert.Empty(t, summary.Failed)
	assert.Empty(t, q.List())
	assert.Empty(t, storage.entries)
	assert.Equal(t, 0, metrics.pending)

	require.Len(t, caller.calls, 3)
	for i, a := range actions {
		assert.Equal(t, a.Endpoint, caller.calls[i].Endpoint, "creation order")
		assert.Equal(t, models.QueueStatusReplayed, summary.Replayed[i].Status)
		assert.Equal(t, 1, summary.Replayed[i].Attempts)
	}
}

func TestReplayFailureWaitsForExplicitRetry(t *testing.T) {
	caller := &fakeCaller{}
	q := newQueue(t, caller, &memStorage{})
	n := testNetwork()

	a, err := PauseClient(n, &n.Clients[0], true)
	require.NoError(t, err)
	q.Execute(context.Background(), a, false)

	caller.fail(errors.NewServerError(http.StatusBadGateway, "bad gateway"))
	summary, err := q.ReplayPending(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	entry := q.List()[0]
	assert.Equal(t, models.QueueStatusFailed, entry.Status)
	assert.Equal(t, "bad gateway", entry.LastError)
	assert.Equal(t, 1, entry.Attempts)

	caller.fail(nil)
	summary, err = q.ReplayPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Replayed, "failed entries are not replayed automatically")
	assert.Equal(t, 1, caller.count())

	summary, err = q.ReplayAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Replayed, 1)
	assert.Empty(t, q.List())
}

func TestRemove(t *testing.T) {
	storage := &memStorage{}
	q := newQueue(t, &fakeCaller{}, storage)
	n := testNetwork()
	a, err := SetGuestNetwork(n, true)
	require.NoError(t, err)
	res := q.Execute(context.Background(), a, false)

	assert.ErrorIs(t, q.Remove("missing"), errors.ErrActionNotFound)
	require.NoError(t, q.Remove(res.QueuedID))
	assert.Empty(t, q.List())
	assert.Empty(t, storage.entries)
}

func TestRemoveKeepsEntryWhenPersistFails(t *testing.T) {
	storage := &memStorage{}
	q := newQueue(t, &fakeCaller{}, storage)
	n := testNetwork()
	a, err := SetGuestNetwork(n, true)
	require.NoError(t, err)
	res := q.Execute(context.Background(), a, false)

	storage.err = fmt.Errorf("disk full")
	assert.Error(t, q.Remove(res.QueuedID))
	assert.Len(t, q.List(), 1)
}

func TestQueueSurvivesRestart(t *testing.T) {
	storage := &memStorage{}
	q := newQueue(t, &fakeCaller{}, storage)
	n := testNetwork()
	a, err := PauseClient(n, &n.Clients[0], false)
	require.NoError(t, err)
	q.Execute(context.Background(), a, false)

	restarted := newQueue(t, &fakeCaller{}, storage)
	require.Len(t, restarted.List(), 1)
	assert.Equal(t, models.ActionPauseClient, restarted.List()[0].Action.Kind)
}

func TestRequiresConfirmation(t *testing.T) {
	cases := []struct {
		risk            models.RiskLevel
		confirmModerate bool
		want            bool
	}{
		{models.RiskLow, true, false},
		{models.RiskModerate, true, true},
		{models.RiskModerate, false, false},
		{models.RiskHigh, false, true},
	}
	for _, tc := range cases {
		got := RequiresConfirmation(models.Action{Risk: tc.risk}, tc.confirmModerate)
		assert.Equal(t, tc.want, got, "%s confirm=%v", tc.risk, tc.confirmModerate)
	}
}
