package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
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
)

type tokens map[string]string

func (s tokens) Get(key string) (string, error) { return s[key], nil }
func (s tokens) Put(key, token string) error    { s[key] = token; return nil }
func (s tokens) Delete(key string) error        { delete(s, key); return nil }

func liveSnapshot(t *testing.T) (*mockcloud.Server, *client.Fetcher, *models.AccountSnapshot) {
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

	snap, err := builder.New(builder.Options{Fetcher: f, Logger: logger.Discard(), MaxDetailFetches: 10}).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Networks, 1)
	return cloud, f, snap
}

func clientByURLSuffix(n *models.Network, suffix string) *models.Client {
	for i := range n.Clients {
		if strings.HasSuffix(n.Clients[i].SourceURL, suffix) {
			return &n.Clients[i]
		}
	}
	return nil
}

func TestActionsAgainstCloud(t *testing.T) {
	cloud, f, snap := liveSnapshot(t)
	n := &snap.Networks[0]
	q, err := New(Options{Caller: f, Logger: logger.Discard()})
	require.NoError(t, err)

	c1 := clientByURLSuffix(n, "/devices/c1")
	require.NotNil(t, c1)
	require.NotEmpty(t, n.Profiles)

	reqs := []Request{
		{Kind: models.ActionPauseClient, NetworkID: n.ID, ClientID: c1.ID, Enabled: true},
		{Kind: models.ActionBlockApplication, NetworkID: n.ID, ProfileID: n.Profiles[0].ID, App: "youtube", Enabled: true},
		{Kind: models.ActionSetFeature, NetworkID: n.ID, Feature: FeatureAdBlock, Enabled: true},
		{Kind: models.ActionRunSpeedTest, NetworkID: n.ID},
	}
	for _, req := range reqs {
		action, err := FromRequest(snap, req)
		require.NoError(t, err, req.Kind)
		res := q.Execute(context.Background(), action, true)
		assert.Equal(t, models.OutcomeSuccess, res.Outcome, "%s: %s", req.Kind, res.Message)
	}

	muts := cloud.Mutations()
	require.Len(t, muts, 4)
	assert.Equal(t, "/2.2/networks/1001/devices/c1", muts[0].Path)
	assert.Equal(t, true, muts[0].Body["paused"])
	assert.Equal(t, []interface{}{"tiktok", "youtube"}, muts[1].Body["blocked_applications"])
	assert.Equal(t, "/2.2/networks/1001/dns_policies/network", muts[2].Path)
	assert.Equal(t, http.MethodPost, muts[3].Method)
	assert.Equal(t, "/2.2/networks/1001/speedtest", muts[3].Path)
}

func TestQueuedActionReplaysAfterOutage(t *testing.T) {
	cloud, f, snap := liveSnapshot(t)
	n := &snap.Networks[0]
	q, err := New(Options{Caller: f, Logger: logger.Discard()})
	require.NoError(t, err)

	action, err := SetGuestNetwork(n, false)
	require.NoError(t, err)

	cloud.Fail("/2.2/networks/1001/guestnetwork", http.StatusServiceUnavailable, "maintenance")
	res := q.Execute(context.Background(), action, true)
	require.Equal(t, models.OutcomeQueued, res.Outcome)
	assert.Equal(t, "maintenance", res.Message)
	assert.Empty(t, cloud.Mutations())

	cloud.ClearFailures()
	summary, err := q.ReplayPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Replayed, 1)
	require.Len(t, cloud.Mutations(), 1)
	assert.Equal(t, false, cloud.Mutations()[0].Body["enabled"])
}

func TestFromRequestErrors(t *testing.T) {
	snap := &models.AccountSnapshot{Networks: []models.Network{*testNetwork()}}

	_, err := FromRequest(snap, Request{NetworkID: "network_a"})
	assert.True(t, errors.IsInvalidPayload(err))

	_, err = FromRequest(snap, Request{Kind: models.ActionRebootNetwork, NetworkID: "nope"})
	assert.Error(t, err)

	_, err = FromRequest(snap, Request{Kind: models.ActionPauseClient, NetworkID: "network_a", ClientID: "client_9"})
	assert.EqualError(t, err, "client not found")

	_, err = FromRequest(snap, Request{Kind: models.ActionSetFeature, NetworkID: "network_a", Feature: "turbo"})
	assert.EqualError(t, err, `unknown feature "turbo"`)

	_, err = FromRequest(snap, Request{Kind: "warp", NetworkID: "network_a"})
	assert.Error(t, err)
}

func TestActionRiskAndEligibility(t *testing.T) {
	n := testNetwork()
	cases := []struct {
		build    func() (models.Action, error)
		risk     models.RiskLevel
		eligible bool
		endpoint string
	}{
		{func() (models.Action, error) { return PauseClient(n, &n.Clients[0], true) }, models.RiskLow, true, "/2.2/networks/1001/devices/c1"},
		{func() (models.Action, error) { return PauseProfile(n, &n.Profiles[0], true) }, models.RiskModerate, true, "/2.2/networks/1001/profiles/7001"},
		{func() (models.Action, error) { return SetNetworkFeature(n, FeatureWPA3, true) }, models.RiskModerate, true, "/2.2/networks/1001"},
		{func() (models.Action, error) { return SetGuestNetwork(n, true) }, models.RiskModerate, true, "/2.2/networks/1001/guestnetwork"},
		{func() (models.Action, error) { return BlockApplication(n, &n.Profiles[0], "tiktok", false) }, models.RiskLow, true, "/2.2/networks/1001/profiles/7001/dns_policies/applications"},
		{func() (models.Action, error) { return RebootDevice(n, &n.Devices[0]) }, models.RiskHigh, false, "/2.2/eeros/501/reboot"},
		{func() (models.Action, error) { return RebootNetwork(n) }, models.RiskHigh, false, "/2.2/networks/1001/reboot"},
		{func() (models.Action, error) { return RunSpeedTest(n) }, models.RiskLow, false, "/2.2/networks/1001/speedtest"},
	}
	for _, tc := range cases {
		a, err := tc.build()
		require.NoError(t, err)
		assert.Equal(t, tc.risk, a.Risk, a.Kind)
		assert.Equal(t, tc.eligible, a.QueueEligible, a.Kind)
		assert.Equal(t, tc.endpoint, a.Endpoint, a.Kind)
		assert.NoError(t, validate.Struct(a))
	}
}

func TestUnblockSendsRemainingList(t *testing.T) {
	n := testNetwork()
	a, err := BlockApplication(n, &n.Profiles[0], "tiktok", false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocked_applications":[]}`, string(a.Body))
}
