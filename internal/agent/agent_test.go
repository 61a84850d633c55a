package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helloworlde/meshkeeper/internal/builder"
	"github.com/helloworlde/meshkeeper/internal/client"
	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/mockcloud"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/queue"
	"github.com/helloworlde/meshkeeper/internal/scheduler"
	"github.com/helloworlde/meshkeeper/internal/store"
)

type tokens map[string]string

func (s tokens) Get(key string) (string, error) { return s[key], nil }
func (s tokens) Put(key, token string) error    { s[key] = token; return nil }
func (s tokens) Delete(key string) error        { delete(s, key); return nil }

type countingProber struct {
	forced, unforced atomic.Int32
}

func (p *countingProber) Run(_ context.Context, force bool) (models.OfflineProbeSnapshot, bool) {
	if force {
		p.forced.Add(1)
	} else {
		p.unforced.Add(1)
	}
	ok := models.ProbeResult{Success: true}
	return models.OfflineProbeSnapshot{Gateway: ok, Route: ok, CheckedAt: time.Now()}, true
}

type fixture struct {
	cloud  *mockcloud.Server
	agent  *Agent
	probes *countingProber
	state  *store.StateStore
	queue  *queue.Queue
}

func newFixture(t *testing.T, blobs store.BlobStore) *fixture {
	t.Helper()
	cloud := mockcloud.New(nil, logger.Discard())
	srv := httptest.NewServer(cloud)
	t.Cleanup(srv.Close)

	f, err := client.NewFetcher(client.Options{
		BaseURL:      mockcloud.BaseURL(srv.URL),
		Account:      "test",
		Tokens:       tokens{"session:test": cloud.IssueToken()},
		Logger:       logger.Discard(),
		HTTPClient:   srv.Client(),
		CandidateTTL: time.Minute,
	})
	require.NoError(t, err)

	if blobs == nil {
		blobs = store.NewMemoryStore()
	}
	state := store.NewStateStore(blobs, "test")
	q, err := queue.New(queue.Options{Caller: f, Storage: state, Logger: logger.Discard()})
	require.NoError(t, err)
	probes := &countingProber{}

	a := New(Options{
		Builder:         builder.New(builder.Options{Fetcher: f, Logger: logger.Discard(), MaxDetailFetches: 10}),
		Queue:           q,
		Store:           state,
		Probes:          probes,
		Logger:          logger.Discard(),
		Foreground:      time.Hour,
		Background:      time.Hour,
		ConfirmModerate: true,
	})
	return &fixture{cloud: cloud, agent: a, probes: probes, state: state, queue: q}
}

func TestRefreshPublishesReachableSnapshot(t *testing.T) {
	fx := newFixture(t, nil)
	before := fx.agent.State()
	assert.Equal(t, models.CloudUnknown, before.Cloud)

	require.NoError(t, fx.agent.Refresh(context.Background()))
	st := fx.agent.State()
	assert.Greater(t, st.Version, before.Version)
	assert.Equal(t, models.CloudReachable, st.Cloud)
	require.NotNil(t, st.Snapshot)
	require.Len(t, st.Snapshot.Networks, 1)
	assert.False(t, st.LastSuccess.IsZero())

	saved, err := fx.state.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, st.Snapshot.Networks[0].ID, saved.Networks[0].ID)
}

func TestAccountFailureKeepsPreviousSnapshot(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.agent.Refresh(context.Background()))
	prev := fx.agent.State().Snapshot
	forcedBefore := fx.probes.forced.Load()

	fx.cloud.Fail("/2.2/account", http.StatusInternalServerError, "boom")
	err := fx.agent.Refresh(context.Background())
	require.Error(t, err)
	code, ok := errors.ServerCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, code)

	st := fx.agent.State()
	assert.Equal(t, models.CloudDegraded, st.Cloud)
	assert.Same(t, prev, st.Snapshot)
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, forcedBefore+1, fx.probes.forced.Load(), "a failed account fetch forces the probes")
	require.NotNil(t, st.Probes)
	assert.Equal(t, models.LANHealthOK, st.LocalHealth())
}

func TestAccountWithoutNetworkListKeepsSnapshot(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.agent.Refresh(context.Background()))
	prev := fx.agent.State().Snapshot
	require.Len(t, prev.Networks, 1)

	fx.cloud.Update(func(f *mockcloud.Fixture) { f.OmitNetworkList = true })
	err := fx.agent.Refresh(context.Background())
	assert.True(t, errors.IsInvalidPayload(err))

	st := fx.agent.State()
	assert.Equal(t, models.CloudDegraded, st.Cloud)
	assert.Same(t, prev, st.Snapshot)
	assert.Equal(t, "account payload has no networks", st.LastError)

	saved, err := fx.state.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, saved.Networks, 1)
	assert.Equal(t, prev.Networks[0].ID, saved.Networks[0].ID)
}

func TestFailureWithoutSnapshotIsUnreachable(t *testing.T) {
	fx := newFixture(t, nil)
	fx.cloud.Fail("/2.2/account", http.StatusBadGateway, "")

	require.Error(t, fx.agent.Refresh(context.Background()))
	st := fx.agent.State()
	assert.Equal(t, models.CloudUnreachable, st.Cloud)
	assert.Nil(t, st.Snapshot)
	assert.Equal(t, int32(1), fx.probes.forced.Load())
}

func TestCancelledRefreshNeverPublishes(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := fx.agent.State().Version
	assert.ErrorIs(t, fx.agent.Refresh(ctx), context.Canceled)
	assert.Equal(t, before, fx.agent.State().Version)
}

func TestSubmitActionNeedsConfirmation(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.agent.Refresh(context.Background()))
	n := fx.agent.State().Snapshot.Networks[0]

	req := queue.Request{Kind: models.ActionRebootNetwork, NetworkID: n.ID}
	_, err := fx.agent.Submit(context.Background(), req, false)
	assert.ErrorIs(t, err, errors.ErrConfirmationRequired)
	assert.Empty(t, fx.cloud.Mutations())

	res, err := fx.agent.Submit(context.Background(), req, true)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	require.Len(t, fx.cloud.Mutations(), 1)
	assert.True(t, strings.HasSuffix(fx.cloud.Mutations()[0].Path, "/reboot"))
}

func TestOfflineActionsReplayAfterRecovery(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.agent.Refresh(context.Background()))
	n := fx.agent.State().Snapshot.Networks[0]
	var clientID string
	for _, c := range n.Clients {
		if strings.HasSuffix(c.SourceURL, "/devices/c2") {
			clientID = c.ID
		}
	}
	require.NotEmpty(t, clientID)

	fx.cloud.Fail("*", http.StatusServiceUnavailable, "offline")
	require.Error(t, fx.agent.Refresh(context.Background()))
	require.Equal(t, models.CloudDegraded, fx.agent.State().Cloud)

	res, err := fx.agent.Submit(context.Background(), queue.Request{
		Kind: models.ActionPauseClient, NetworkID: n.ID, ClientID: clientID, Enabled: true,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeQueued, res.Outcome)

	res, err = fx.agent.Submit(context.Background(), queue.Request{Kind: models.ActionRunSpeedTest, NetworkID: n.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Len(t, fx.agent.State().Queue, 1)

	fx.cloud.ClearFailures()
	require.NoError(t, fx.agent.Refresh(context.Background()))
	assert.Empty(t, fx.agent.State().Queue, "pending actions replay after a good refresh")
	require.Len(t, fx.cloud.Mutations(), 1)
	assert.Equal(t, "/2.2/networks/1001/devices/c2", fx.cloud.Mutations()[0].Path)
}

func TestRemoveQueuedAction(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.agent.Refresh(context.Background()))
	n := fx.agent.State().Snapshot.Networks[0]

	fx.cloud.Fail("*", http.StatusServiceUnavailable, "offline")
	res, err := fx.agent.Submit(context.Background(), queue.Request{Kind: models.ActionSetGuestNetwork, NetworkID: n.ID}, true)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeQueued, res.Outcome)

	assert.ErrorIs(t, fx.agent.RemoveQueuedAction("nope"), errors.ErrActionNotFound)
	require.NoError(t, fx.agent.RemoveQueuedAction(res.QueuedID))
	assert.Empty(t, fx.agent.State().Queue)
}

func TestReplayQueuedActionsRetriesFailed(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.agent.Refresh(context.Background()))
	n := fx.agent.State().Snapshot.Networks[0]

	fx.cloud.Fail("*", http.StatusServiceUnavailable, "offline")
	_, err := fx.agent.Submit(context.Background(), queue.Request{Kind: models.ActionSetGuestNetwork, NetworkID: n.ID, Enabled: true}, true)
	require.NoError(t, err)
	summary, err := fx.agent.ReplayQueuedActions(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, models.QueueStatusFailed, fx.agent.State().Queue[0].Status)

	fx.cloud.ClearFailures()
	summary, err = fx.agent.ReplayQueuedActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Replayed, 1)
	assert.Empty(t, fx.agent.State().Queue)
}

func TestSubscribeSeesNewestState(t *testing.T) {
	fx := newFixture(t, nil)
	ch, cancel := fx.agent.Subscribe()
	defer cancel()

	fx.agent.SetVisibility(true, false)
	fx.agent.SetVisibility(false, true)
	fx.agent.SetVisibility(false, false)

	st := <-ch
	assert.Equal(t, scheduler.ModeBackground, st.Mode)
	assert.Equal(t, fx.agent.State().Version, st.Version)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestSetVisibilityPublishesMode(t *testing.T) {
	fx := newFixture(t, nil)
	assert.Equal(t, scheduler.ModeForeground, fx.agent.SetVisibility(true, false))
	assert.Equal(t, scheduler.ModeForeground, fx.agent.State().Mode)
	v := fx.agent.State().Version
	fx.agent.SetVisibility(false, true)
	assert.Equal(t, v, fx.agent.State().Version, "unchanged mode publishes nothing")
}

func TestThroughputFillsMissingRealtime(t *testing.T) {
	fx := newFixture(t, nil)
	fx.agent.RecordThroughput(models.ThroughputSample{Interface: "eth0", DownloadMbps: 42, UploadMbps: 4})

	snap := &models.AccountSnapshot{Networks: []models.Network{
		{ID: "a"},
		{ID: "b", Realtime: &models.RealtimeSummary{DownloadMbps: 1, Source: models.RealtimeSourceClientTelemetry}},
	}}
	fx.agent.applyThroughput(snap)
	require.NotNil(t, snap.Networks[0].Realtime)
	assert.Equal(t, 42.0, snap.Networks[0].Realtime.DownloadMbps)
	assert.Equal(t, models.RealtimeSourceInterfaceCounters, snap.Networks[0].Realtime.Source)
	assert.Equal(t, 1.0, snap.Networks[1].Realtime.DownloadMbps)
}

func TestRunRestoresAndRefreshes(t *testing.T) {
	blobs := store.NewMemoryStore()
	name := "Cached"
	require.NoError(t, store.NewStateStore(blobs, "test").SaveSnapshot(&models.AccountSnapshot{
		FetchedAt: time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC),
		Networks:  []models.Network{{ID: "network_cached", Name: &name}},
	}))
	fx := newFixture(t, blobs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fx.agent.State().Cloud == models.CloudReachable
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	st := fx.agent.State()
	require.Len(t, st.Snapshot.Networks, 1, "networks missing from the fresh account are dropped")
	assert.NotEqual(t, "network_cached", st.Snapshot.Networks[0].ID)
}

func TestRestorePublishesCachedSnapshot(t *testing.T) {
	blobs := store.NewMemoryStore()
	require.NoError(t, store.NewStateStore(blobs, "test").SaveSnapshot(&models.AccountSnapshot{
		FetchedAt: time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC),
		Networks:  []models.Network{{ID: "network_cached"}},
	}))
	fx := newFixture(t, blobs)

	require.NoError(t, fx.agent.Restore())
	st := fx.agent.State()
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, "network_cached", st.Snapshot.Networks[0].ID)
	assert.Equal(t, models.CloudUnknown, st.Cloud)
	assert.Equal(t, 24*time.Hour, st.SnapshotAge(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)))
}
