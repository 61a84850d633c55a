package probe

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
)

const routeTable = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
wlan0	00000000	FE01A8C0	0003	0	0	600	00000000	0	0	0
eth0	00000000	0104A8C0	0003	0	0	100	00000000	0	0	0
eth0	0004A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
`

func writeProc(t *testing.T, name, content string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", name), []byte(content), 0o644))
	return root
}

func result(success bool) models.ProbeResult {
	msg := "ok"
	if !success {
		msg = "failed"
	}
	return models.ProbeResult{Success: success, Message: msg}
}

func stubProbers(gateway, route, dns, ntp bool, gatewaySeen *string) *Probers {
	return &Probers{
		Route: func(context.Context) (RouteInfo, models.ProbeResult) {
			if !route {
				return RouteInfo{}, result(false)
			}
			return RouteInfo{Interface: "eth0", Gateway: "192.168.4.1"}, result(true)
		},
		Gateway: func(_ context.Context, addr string) models.ProbeResult {
			if gatewaySeen != nil {
				*gatewaySeen = addr
			}
			return result(gateway)
		},
		DNS: func(context.Context) models.ProbeResult { return result(dns) },
		NTP: func(context.Context) models.ProbeResult { return result(ntp) },
	}
}

func TestDefaultRoutePicksLowestMetric(t *testing.T) {
	info, err := DefaultRoute(writeProc(t, "route", routeTable))
	require.NoError(t, err)
	assert.Equal(t, RouteInfo{Interface: "eth0", Gateway: "192.168.4.1"}, info)
}

func TestDefaultRouteMissing(t *testing.T) {
	table := "Iface\tDestination\tGateway \tFlags\tRefCnt\tUse\tMetric\tMask\t\tMTU\tWindow\tIRTT\n" +
		"eth0\t0004A8C0\t00000000\t0001\t0\t0\t100\t00FFFFFF\t0\t0\t0\n"
	_, err := DefaultRoute(writeProc(t, "route", table))
	assert.EqualError(t, err, "no default route")
}

func TestNTPFailureNeverDowngrades(t *testing.T) {
	s := New(Options{Probers: stubProbers(true, true, true, false, nil), Logger: logger.Discard()})
	snap, ran := s.Run(context.Background(), false)
	require.True(t, ran)
	assert.False(t, snap.NTP.Success)
	assert.Equal(t, models.LANHealthOK, snap.Label())
}

func TestHealthLabelRule(t *testing.T) {
	cases := []struct {
		gateway, route bool
		want           string
	}{
		{true, true, models.LANHealthOK},
		{true, false, models.LANHealthDegraded},
		{false, true, models.LANHealthDegraded},
		{false, false, models.LANHealthDown},
	}
	for _, tc := range cases {
		s := New(Options{Probers: stubProbers(tc.gateway, tc.route, false, false, nil), Logger: logger.Discard()})
		snap, _ := s.Run(context.Background(), true)
		assert.Equal(t, tc.want, snap.Label(), "gateway=%v route=%v", tc.gateway, tc.route)
	}
}

func TestGatewayComesFromRouteUnlessConfigured(t *testing.T) {
	var seen string
	s := New(Options{Probers: stubProbers(true, true, true, true, &seen), Logger: logger.Discard()})
	snap, _ := s.Run(context.Background(), true)
	assert.Equal(t, "192.168.4.1", seen)
	assert.Equal(t, "eth0", snap.RouteInterface)
	assert.Equal(t, ProbeGateway, snap.Gateway.Name)

	s = New(Options{Gateway: "10.0.0.1", Probers: stubProbers(true, true, true, true, &seen), Logger: logger.Discard()})
	s.Run(context.Background(), true)
	assert.Equal(t, "10.0.0.1", seen)
}

func TestRunIsRateLimited(t *testing.T) {
	var runs atomic.Int32
	probers := stubProbers(true, true, true, true, nil)
	dns := probers.DNS
	probers.DNS = func(ctx context.Context) models.ProbeResult {
		runs.Add(1)
		return dns(ctx)
	}
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := New(Options{
		Probers:     probers,
		MinInterval: 30 * time.Second,
		Logger:      logger.Discard(),
		Now:         func() time.Time { return now },
	})
	assert.Nil(t, s.Last())

	_, ran := s.Run(context.Background(), false)
	assert.True(t, ran)
	first := s.Last()
	require.NotNil(t, first)

	snap, ran := s.Run(context.Background(), false)
	assert.False(t, ran)
	assert.Equal(t, *first, snap)
	assert.Equal(t, int32(1), runs.Load())

	_, ran = s.Run(context.Background(), true)
	assert.True(t, ran, "forced runs bypass the limit")
	assert.Equal(t, int32(2), runs.Load())

	now = now.Add(31 * time.Second)
	_, ran = s.Run(context.Background(), false)
	assert.True(t, ran)
	assert.Equal(t, int32(3), runs.Load())
}

type probeMetrics struct{ seen map[string]bool }

func (m *probeMetrics) RecordProbe(name string, success bool, _ *float64) { m.seen[name] = success }

func TestRunRecordsMetrics(t *testing.T) {
	m := &probeMetrics{seen: map[string]bool{}}
	s := New(Options{Probers: stubProbers(true, false, true, false, nil), Metrics: m, Logger: logger.Discard()})
	s.Run(context.Background(), true)
	assert.Equal(t, map[string]bool{"gateway": true, "route": false, "dns": true, "ntp": false}, m.seen)
}

func TestGatewayProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	_, open, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, refused, err := net.SplitHostPort(closed.Addr().String())
	require.NoError(t, err)
	closed.Close()

	got := gatewayProber([]string{open}, time.Second)(context.Background(), "127.0.0.1")
	assert.True(t, got.Success, got.Message)
	require.NotNil(t, got.LatencyMS)

	got = gatewayProber([]string{refused}, time.Second)(context.Background(), "127.0.0.1")
	assert.True(t, got.Success, "a refused connection proves the host is up: %s", got.Message)

	got = gatewayProber([]string{open}, time.Second)(context.Background(), "")
	assert.False(t, got.Success)
	assert.Equal(t, "no gateway address", got.Message)
}

func TestRouteProberReportsInterface(t *testing.T) {
	info, res := routeProber(writeProc(t, "route", routeTable))(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, "eth0", info.Interface)
	assert.Equal(t, "default via 192.168.4.1 dev eth0", res.Message)

	_, res = routeProber(t.TempDir())(context.Background())
	assert.False(t, res.Success)
}
