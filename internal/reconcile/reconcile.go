// Package reconcile merges a freshly built snapshot with the last known good
// one so that partial responses never erase facts learned earlier.
//
// Every optional field resolves to fresh when fresh is known and to previous
// otherwise. Row collections are unioned: fresh rows first in fresh order,
// then rows only the previous snapshot had, in their previous order. Derived
// aggregates are recomputed from the merged rows.
package reconcile

import (
	"strings"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/normalize"
)

// Reconcile returns the merged snapshot. Networks missing from fresh are
// dropped. A nil fresh snapshot yields prev unchanged.
func Reconcile(fresh, prev *models.AccountSnapshot) *models.AccountSnapshot {
	if fresh == nil {
		return prev
	}
	out := &models.AccountSnapshot{
		FetchedAt: fresh.FetchedAt,
		Networks:  make([]models.Network, 0, len(fresh.Networks)),
	}
	for i := range fresh.Networks {
		f := &fresh.Networks[i]
		out.Networks = append(out.Networks, Network(f, prev.Network(f.ID)))
	}
	return out
}

// Network merges one network. prev may be nil.
func Network(fresh, prev *models.Network) models.Network {
	if prev == nil {
		prev = &models.Network{}
	}
	n := models.Network{
		ID:        fresh.ID,
		SourceURL: pickURL(fresh.SourceURL, prev.SourceURL),
		Name:      pickStr(fresh.Name, prev.Name),
		Nickname:  pickStr(fresh.Nickname, prev.Nickname),
		Status:    pickStr(fresh.Status, prev.Status),

		Features:     mergeFeatures(fresh.Features, prev.Features),
		GuestNetwork: mergeGuest(fresh.GuestNetwork, prev.GuestNetwork),
		Health:       mergeHealth(fresh.Health, prev.Health),
		Diagnostics:  mergeDiagnostics(fresh.Diagnostics, prev.Diagnostics),
		Updates:      mergeUpdates(fresh.Updates, prev.Updates),
		Speed:        mergeSpeed(fresh.Speed, prev.Speed),
		Support:      mergeSupport(fresh.Support, prev.Support),
		Routing:      mergeRouting(fresh.Routing, prev.Routing),
		Security:     mergeSecurity(fresh.Security, prev.Security),
		Mesh:         pick(fresh.Mesh, prev.Mesh),
		Radio:        mergeRadio(fresh.Radio, prev.Radio),
		Realtime:     pick(fresh.Realtime, prev.Realtime),
		Usage:        mergeUsage(fresh.Usage, prev.Usage),

		Clients:  mergeClients(fresh.Clients, prev.Clients),
		Devices:  mergeDevices(fresh.Devices, prev.Devices),
		Profiles: mergeProfiles(fresh.Profiles, prev.Profiles),
	}

	normalize.LinkClients(&n)
	normalize.Recount(&n)
	return n
}

func pick[T any](fresh, prev *T) *T {
	if fresh != nil {
		return fresh
	}
	return prev
}

// pickStr treats a blank string as unknown.
func pickStr(fresh, prev *string) *string {
	if fresh != nil && strings.TrimSpace(*fresh) != "" {
		return fresh
	}
	if prev != nil && strings.TrimSpace(*prev) != "" {
		return prev
	}
	return fresh
}

func pickURL(fresh, prev string) string {
	if strings.TrimSpace(fresh) != "" {
		return fresh
	}
	return prev
}

func pickSlice[T any](fresh, prev []T) []T {
	if len(fresh) > 0 {
		return fresh
	}
	return prev
}

func pickMap[K comparable, V any](fresh, prev map[K]V) map[K]V {
	if len(fresh) > 0 {
		return fresh
	}
	return prev
}

func mergeFeatures(f, p models.Features) models.Features {
	return models.Features{
		AdBlock:      pick(f.AdBlock, p.AdBlock),
		MalwareBlock: pick(f.MalwareBlock, p.MalwareBlock),
		BandSteering: pick(f.BandSteering, p.BandSteering),
		UPnP:         pick(f.UPnP, p.UPnP),
		WPA3:         pick(f.WPA3, p.WPA3),
		Thread:       pick(f.Thread, p.Thread),
		SQM:          pick(f.SQM, p.SQM),
		IPv6Upstream: pick(f.IPv6Upstream, p.IPv6Upstream),
	}
}

func mergeGuest(f, p *models.GuestNetwork) *models.GuestNetwork {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.GuestNetwork{
		Enabled:  pick(f.Enabled, p.Enabled),
		Name:     pickStr(f.Name, p.Name),
		Password: pickStr(f.Password, p.Password),
	}
}

func mergeHealth(f, p *models.HealthSummary) *models.HealthSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.HealthSummary{
		Internet: pickStr(f.Internet, p.Internet),
		Eeros:    pickStr(f.Eeros, p.Eeros),
	}
}

func mergeDiagnostics(f, p *models.DiagnosticSummary) *models.DiagnosticSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.DiagnosticSummary{
		Status:    pickStr(f.Status, p.Status),
		CheckedAt: pick(f.CheckedAt, p.CheckedAt),
	}
}

func mergeUpdates(f, p *models.UpdateSummary) *models.UpdateSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.UpdateSummary{
		CurrentVersion:  pickStr(f.CurrentVersion, p.CurrentVersion),
		TargetVersion:   pickStr(f.TargetVersion, p.TargetVersion),
		UpdateAvailable: pick(f.UpdateAvailable, p.UpdateAvailable),
		UpdateRequired:  pick(f.UpdateRequired, p.UpdateRequired),
	}
}

func mergeSpeed(f, p *models.SpeedSummary) *models.SpeedSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.SpeedSummary{
		DownMbps:   pick(f.DownMbps, p.DownMbps),
		UpMbps:     pick(f.UpMbps, p.UpMbps),
		MeasuredAt: pick(f.MeasuredAt, p.MeasuredAt),
	}
}

func mergeSupport(f, p *models.SupportSummary) *models.SupportSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.SupportSummary{
		Phone: pickStr(f.Phone, p.Phone),
		URL:   pickStr(f.URL, p.URL),
	}
}

func mergeRouting(f, p *models.RoutingSummary) *models.RoutingSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.RoutingSummary{
		WANIP:          pickStr(f.WANIP, p.WANIP),
		GatewayIP:      pickStr(f.GatewayIP, p.GatewayIP),
		SubnetMask:     pickStr(f.SubnetMask, p.SubnetMask),
		PrefixLength:   pick(f.PrefixLength, p.PrefixLength),
		DHCPPoolStart:  pickStr(f.DHCPPoolStart, p.DHCPPoolStart),
		DHCPPoolEnd:    pickStr(f.DHCPPoolEnd, p.DHCPPoolEnd),
		Reservations:   pick(f.Reservations, p.Reservations),
		PortForwards:   pick(f.PortForwards, p.PortForwards),
		ConnectionType: pickStr(f.ConnectionType, p.ConnectionType),
	}
}

func mergeSecurity(f, p *models.SecuritySummary) *models.SecuritySummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.SecuritySummary{
		DNSPolicyMode: pickStr(f.DNSPolicyMode, p.DNSPolicyMode),
		FirewallOn:    pick(f.FirewallOn, p.FirewallOn),
	}
}

func mergeRadio(f, p *models.RadioSummary) *models.RadioSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	bands := unionBy(f.Bands, p.Bands, func(b models.RadioBand) []string {
		return []string{b.Band}
	}, func(fb, pb models.RadioBand) models.RadioBand {
		return models.RadioBand{
			Band:           fb.Band,
			Channel:        pick(fb.Channel, pb.Channel),
			UtilizationPct: pick(fb.UtilizationPct, pb.UtilizationPct),
		}
	})
	return &models.RadioSummary{Bands: bands}
}

func mergeWindow(f, p *models.UsageWindow) *models.UsageWindow {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.UsageWindow{
		DownloadMB: pick(f.DownloadMB, p.DownloadMB),
		UploadMB:   pick(f.UploadMB, p.UploadMB),
	}
}

func mergeUsage(f, p *models.UsageSummary) *models.UsageSummary {
	if f == nil || p == nil {
		return pick(f, p)
	}
	return &models.UsageSummary{
		Day:   mergeWindow(f.Day, p.Day),
		Week:  mergeWindow(f.Week, p.Week),
		Month: mergeWindow(f.Month, p.Month),
	}
}

func mergeSource(f, p *models.ClientSource) *models.ClientSource {
	if f == nil || p == nil {
		return pick(f, p)
	}
	deviceID := pickStr(f.DeviceID, p.DeviceID)
	if f.DeviceID == nil && movedSource(f, p) {
		// attached elsewhere now; resolved again against the merged devices
		deviceID = nil
	}
	return &models.ClientSource{
		DeviceID:  deviceID,
		DeviceURL: pickStr(f.DeviceURL, p.DeviceURL),
		Location:  pickStr(f.Location, p.Location),
	}
}

func movedSource(f, p *models.ClientSource) bool {
	if f.DeviceURL != nil && p.DeviceURL != nil && *f.DeviceURL != *p.DeviceURL {
		return true
	}
	return f.DeviceURL == nil && f.Location != nil && p.Location != nil && *f.Location != *p.Location
}
