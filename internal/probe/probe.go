// Package probe checks the local network when the cloud cannot be reached.
//
// The gateway and route probes decide the LAN health label. DNS and NTP are
// informational; NTP in particular is blocked on many networks and never
// downgrades the label.
package probe

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
)

// Probers can be replaced in tests.
type Probers struct {
	Route   func(ctx context.Context) (RouteInfo, models.ProbeResult)
	Gateway func(ctx context.Context, gateway string) models.ProbeResult
	DNS     func(ctx context.Context) models.ProbeResult
	NTP     func(ctx context.Context) models.ProbeResult
}

type Metrics interface {
	RecordProbe(name string, success bool, latencyMS *float64)
}

type Options struct {
	// Gateway overrides the address detected from the default route.
	Gateway      string
	DNSName      string
	NTPServer    string
	Timeout      time.Duration
	MinInterval  time.Duration
	ProcRoot     string
	GatewayPorts []string

	Probers *Probers
	Metrics Metrics
	Logger  logger.Logger
	Now     func() time.Time
}

type Suite struct {
	probers Probers
	gateway string
	metrics Metrics
	log     logger.Logger
	now     func() time.Time
	limiter *rate.Limiter

	runMu sync.Mutex

	mu   sync.RWMutex
	last *models.OfflineProbeSnapshot
}

func New(opts Options) *Suite {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	procRoot := opts.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	ports := opts.GatewayPorts
	if len(ports) == 0 {
		ports = []string{"80", "443", "53"}
	}
	dnsName := opts.DNSName
	if dnsName == "" {
		dnsName = "example.com"
	}
	ntpServer := opts.NTPServer
	if ntpServer == "" {
		ntpServer = "pool.ntp.org"
	}

	p := Probers{
		Route:   routeProber(procRoot),
		Gateway: gatewayProber(ports, timeout),
		DNS:     dnsProber(dnsName, timeout),
		NTP:     ntpProber(ntpServer, timeout),
	}
	if o := opts.Probers; o != nil {
		if o.Route != nil {
			p.Route = o.Route
		}
		if o.Gateway != nil {
			p.Gateway = o.Gateway
		}
		if o.DNS != nil {
			p.DNS = o.DNS
		}
		if o.NTP != nil {
			p.NTP = o.NTP
		}
	}

	return &Suite{
		probers: p,
		gateway: opts.Gateway,
		metrics: opts.Metrics,
		log:     log.With("component", "probe"),
		now:     now,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Last returns the most recent snapshot, nil before the first run.
func (s *Suite) Last() *models.OfflineProbeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run executes the probes unless the previous run was too recent, in which
// case the cached snapshot is returned and ran is false. force bypasses the
// limit.
func (s *Suite) Run(ctx context.Context, force bool) (snap models.OfflineProbeSnapshot, ran bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	allowed := s.limiter.AllowN(s.now(), 1)
	if last := s.Last(); last != nil && !allowed && !force {
		return *last, false
	}

	snap = s.run(ctx)
	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	s.log.Infof("local health %s (gateway=%t route=%t dns=%t ntp=%t)",
		snap.Label(), snap.Gateway.Success, snap.Route.Success, snap.DNS.Success, snap.NTP.Success)
	return snap, true
}

func (s *Suite) run(ctx context.Context) models.OfflineProbeSnapshot {
	route, routeResult := s.probers.Route(ctx)
	gateway := s.gateway
	if gateway == "" {
		gateway = route.Gateway
	}

	snap := models.OfflineProbeSnapshot{
		Route:          routeResult,
		RouteInterface: route.Interface,
		RouteGateway:   route.Gateway,
	}
	var g errgroup.Group
	g.Go(func() error {
		snap.Gateway = s.probers.Gateway(ctx, gateway)
		return nil
	})
	g.Go(func() error {
		snap.DNS = s.probers.DNS(ctx)
		return nil
	})
	g.Go(func() error {
		snap.NTP = s.probers.NTP(ctx)
		return nil
	})
	_ = g.Wait()
	snap.CheckedAt = s.now()
	snap.Gateway.Name, snap.DNS.Name, snap.Route.Name, snap.NTP.Name = ProbeGateway, ProbeDNS, ProbeRoute, ProbeNTP

	for _, r := range []models.ProbeResult{snap.Gateway, snap.DNS, snap.Route, snap.NTP} {
		if !r.Success {
			s.log.Debugf("probe %s failed: %s", r.Name, r.Message)
		}
		if s.metrics != nil {
			s.metrics.RecordProbe(r.Name, r.Success, r.LatencyMS)
		}
	}
	return snap
}
