package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	"github.com/prometheus/procfs"

	"github.com/helloworlde/meshkeeper/internal/models"
)

const (
	ProbeGateway = "gateway"
	ProbeDNS     = "dns"
	ProbeRoute   = "route"
	ProbeNTP     = "ntp"

	rtfUp = 0x1
)

// RouteInfo describes the default route.
type RouteInfo struct {
	Interface string
	Gateway   string
}

func ok(name, message string, started time.Time) models.ProbeResult {
	ms := float64(time.Since(started).Microseconds()) / 1000
	return models.ProbeResult{Name: name, Success: true, Message: message, LatencyMS: &ms}
}

func fail(name string, err error) models.ProbeResult {
	return models.ProbeResult{Name: name, Success: false, Message: err.Error()}
}

// DefaultRoute reads the kernel routing table under procRoot and returns
// the lowest-metric default route that is up.
func DefaultRoute(procRoot string) (RouteInfo, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return RouteInfo{}, fmt.Errorf("open %s: %w", procRoot, err)
	}
	routes, err := fs.NetRoute()
	if err != nil {
		return RouteInfo{}, fmt.Errorf("read routing table: %w", err)
	}

	var defaults []procfs.NetRouteLine
	for _, r := range routes {
		if r.Destination == 0 && r.Mask == 0 && r.Flags&rtfUp != 0 {
			defaults = append(defaults, r)
		}
	}
	if len(defaults) == 0 {
		return RouteInfo{}, fmt.Errorf("no default route")
	}
	sort.SliceStable(defaults, func(i, j int) bool { return defaults[i].Metric < defaults[j].Metric })

	r := defaults[0]
	info := RouteInfo{Interface: r.Iface}
	if r.Gateway != 0 {
		g := r.Gateway
		info.Gateway = net.IPv4(byte(g), byte(g>>8), byte(g>>16), byte(g>>24)).String()
	}
	return info, nil
}

func routeProber(procRoot string) func(ctx context.Context) (RouteInfo, models.ProbeResult) {
	return func(ctx context.Context) (RouteInfo, models.ProbeResult) {
		started := time.Now()
		info, err := DefaultRoute(procRoot)
		if err != nil {
			return RouteInfo{}, fail(ProbeRoute, err)
		}
		msg := "default dev " + info.Interface
		if info.Gateway != "" {
			msg = fmt.Sprintf("default via %s dev %s", info.Gateway, info.Interface)
		}
		return info, ok(ProbeRoute, msg, started)
	}
}

// gatewayProber dials the gateway on a few well-known ports. A refused
// connection means the host answered, which is all this probe asks.
func gatewayProber(ports []string, timeout time.Duration) func(ctx context.Context, gateway string) models.ProbeResult {
	return func(ctx context.Context, gateway string) models.ProbeResult {
		if gateway == "" {
			return fail(ProbeGateway, fmt.Errorf("no gateway address"))
		}
		started := time.Now()
		var lastErr error
		for _, port := range ports {
			dialer := net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(gateway, port))
			if err == nil {
				conn.Close()
				return ok(ProbeGateway, fmt.Sprintf("%s answered on %s", gateway, port), started)
			}
			if stderrors.Is(err, syscall.ECONNREFUSED) {
				return ok(ProbeGateway, fmt.Sprintf("%s refused %s", gateway, port), started)
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return fail(ProbeGateway, lastErr)
	}
}

func dnsProber(name string, timeout time.Duration) func(ctx context.Context) models.ProbeResult {
	var resolver net.Resolver
	return func(ctx context.Context) models.ProbeResult {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		started := time.Now()
		addrs, err := resolver.LookupHost(ctx, name)
		if err != nil {
			return fail(ProbeDNS, err)
		}
		return ok(ProbeDNS, fmt.Sprintf("%s resolved to %d addresses", name, len(addrs)), started)
	}
}

func ntpProber(server string, timeout time.Duration) func(ctx context.Context) models.ProbeResult {
	return func(ctx context.Context) models.ProbeResult {
		if err := ctx.Err(); err != nil {
			return fail(ProbeNTP, err)
		}
		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
		if err != nil {
			return fail(ProbeNTP, err)
		}
		if err := resp.Validate(); err != nil {
			return fail(ProbeNTP, err)
		}
		ms := float64(resp.RTT.Microseconds()) / 1000
		return models.ProbeResult{
			Name:      ProbeNTP,
			Success:   true,
			Message:   fmt.Sprintf("%s offset %s", server, resp.ClockOffset.Round(time.Millisecond)),
			LatencyMS: &ms,
		}
	}
}
