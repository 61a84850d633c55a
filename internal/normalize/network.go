package normalize

import (
	"strings"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// NetworkInput carries the raw pieces fetched for one network.
type NetworkInput struct {
	Ref         interface{}
	Body        interface{}
	Enrichments map[string]interface{}
	FetchedAt   time.Time
}

func (in NetworkInput) get(name string) interface{} {
	if in.Enrichments == nil {
		return nil
	}
	return in.Enrichments[name]
}

// Network assembles a typed network. It fails only when the network has no
// identity at all; every other missing field stays absent.
func Network(in NetworkInput) (*models.Network, error) {
	body := in.Body
	if _, ok := body.(map[string]interface{}); !ok {
		return nil, errors.NewInvalidPayloadError("network body is not an object", nil)
	}

	id := NetworkID(body)
	if id == "" {
		id = NetworkID(in.Ref)
	}
	if id == "" {
		return nil, errors.NewInvalidPayloadError("network has no url, id or name", nil)
	}

	n := &models.Network{
		ID:        id,
		SourceURL: firstNonBlank(resourceURL(body), resourceURL(in.Ref)),
		Name:      firstPtr(utils.FirstString(body, "name"), utils.FirstString(in.Ref, "name")),
		Nickname:  utils.FirstString(body, "nickname_label", "nickname", "display_name"),
		Status:    utils.FirstString(body, "status", "health.internet.status", "connection.status"),
	}

	n.Features = features(body, in.get(ResThread))
	n.GuestNetwork = guestNetwork(body, in.get(ResGuestNetwork))
	n.Health = health(body)
	n.Diagnostics = diagnostics(body, in.get(ResDiagnostics))
	n.Support = support(body, in.get(ResSupport))
	n.Speed = speed(body, in.get(ResSpeedTest))
	n.Routing = routing(body, in.get(ResRouting), in.get(ResReservations), in.get(ResForwards))
	n.Security = security(body)
	n.Radio = radio(in.get(ResChannelUtil))
	n.Usage = usageSummary(
		in.get(UsageKey(ScopeNetwork, PeriodDay)),
		in.get(UsageKey(ScopeNetwork, PeriodWeek)),
		in.get(UsageKey(ScopeNetwork, PeriodMonth)),
	)

	n.Devices = Devices(utils.AsList(in.get(ResNodes)), usageIndex(in, ScopeNodes))
	n.Clients = Clients(utils.AsList(in.get(ResClients)), usageIndex(in, ScopeDevices))
	n.Profiles = Profiles(utils.AsList(in.get(ResProfiles)))
	n.Updates = updates(body, in.get(ResUpdates), n.Devices)

	LinkClients(n)
	Recount(n)
	n.Realtime = Realtime(n.Clients, in.FetchedAt)

	return n, nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPtr[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func features(body, thread interface{}) models.Features {
	return models.Features{
		AdBlock: utils.FirstBool(body,
			"premium_dns.ad_block_settings.enabled", "premium_dns.dns_policies.ad_block", "ad_block", "adblock"),
		MalwareBlock: utils.FirstBool(body,
			"premium_dns.dns_policies.block_malware", "dns_policies.block_malware", "malware_block"),
		BandSteering: utils.FirstBool(body, "band_steering", "band_steering_enabled"),
		UPnP:         utils.FirstBool(body, "upnp", "upnp_enabled"),
		WPA3:         utils.FirstBool(body, "wpa3", "wpa3_enabled"),
		Thread:       firstPtr(utils.FirstBool(thread, "enabled", "thread_enabled"), utils.FirstBool(body, "thread", "thread.enabled")),
		SQM:          utils.FirstBool(body, "sqm", "sqm.enabled", "smart_queue_management"),
		IPv6Upstream: utils.FirstBool(body, "ipv6_upstream", "ipv6.upstream", "ipv6_enabled"),
	}
}

func guestNetwork(body, detail interface{}) *models.GuestNetwork {
	g := &models.GuestNetwork{
		Enabled:  firstPtr(utils.FirstBool(detail, "enabled"), utils.FirstBool(body, "guest_network.enabled", "guest_network_enabled", "guestNetworkEnabled")),
		Name:     firstPtr(utils.FirstString(detail, "name"), utils.FirstString(body, "guest_network.name")),
		Password: firstPtr(utils.FirstString(detail, "password"), utils.FirstString(body, "guest_network.password")),
	}
	if g.Enabled == nil && g.Name == nil && g.Password == nil {
		return nil
	}
	return g
}

func health(body interface{}) *models.HealthSummary {
	h := &models.HealthSummary{
		Internet: utils.FirstString(body, "health.internet.status", "health.internet"),
		Eeros:    utils.FirstString(body, "health.eero_network.status", "health.eeros.status", "health.mesh"),
	}
	if h.Internet == nil && h.Eeros == nil {
		return nil
	}
	return h
}

func diagnostics(body, detail interface{}) *models.DiagnosticSummary {
	d := &models.DiagnosticSummary{
		Status:    firstPtr(utils.FirstString(detail, "status", "result"), utils.FirstString(body, "diagnostics.status")),
		CheckedAt: firstPtr(firstTime(detail, "date", "completed", "checked_at"), firstTime(body, "diagnostics.date")),
	}
	if d.Status == nil && d.CheckedAt == nil {
		return nil
	}
	return d
}

func support(body, detail interface{}) *models.SupportSummary {
	s := &models.SupportSummary{
		Phone: firstPtr(utils.FirstString(detail, "support_phone", "phone"), utils.FirstString(body, "support.phone")),
		URL:   firstPtr(utils.FirstString(detail, "contact_url", "help_url", "url"), utils.FirstString(body, "support.url")),
	}
	if s.Phone == nil && s.URL == nil {
		return nil
	}
	return s
}

func speed(body, detail interface{}) *models.SpeedSummary {
	// speed test history arrives newest first
	if rows := utils.AsList(detail); len(rows) > 0 {
		detail = rows[0]
	}
	s := &models.SpeedSummary{
		DownMbps: firstPtr(
			utils.FirstFloat(detail, "down_mbps", "down.value", "download_mbps"),
			utils.FirstFloat(body, "speed.down.value", "speed.down_mbps"),
		),
		UpMbps: firstPtr(
			utils.FirstFloat(detail, "up_mbps", "up.value", "upload_mbps"),
			utils.FirstFloat(body, "speed.up.value", "speed.up_mbps"),
		),
		MeasuredAt: firstPtr(firstTime(detail, "date", "completed"), firstTime(body, "speed.date")),
	}
	if s.DownMbps == nil && s.UpMbps == nil && s.MeasuredAt == nil {
		return nil
	}
	return s
}

func routing(body, detail, reservations, forwards interface{}) *models.RoutingSummary {
	r := &models.RoutingSummary{
		WANIP:          firstPtr(utils.FirstString(detail, "wan_ip"), utils.FirstString(body, "wan_ip", "ip_settings.wan_ip")),
		GatewayIP:      firstPtr(utils.FirstString(detail, "gateway_ip", "gateway"), utils.FirstString(body, "gateway_ip", "lease.dhcp.router", "ip_settings.gateway")),
		SubnetMask:     firstPtr(utils.FirstString(detail, "subnet_mask"), utils.FirstString(body, "ip_settings.subnet_mask", "lease.dhcp.mask", "dhcp.custom.subnet_mask", "subnet_mask")),
		DHCPPoolStart:  firstPtr(utils.FirstString(detail, "dhcp.start_ip"), utils.FirstString(body, "dhcp.custom.start_ip", "dhcp.start_ip")),
		DHCPPoolEnd:    firstPtr(utils.FirstString(detail, "dhcp.end_ip"), utils.FirstString(body, "dhcp.custom.end_ip", "dhcp.end_ip")),
		ConnectionType: firstPtr(utils.FirstString(detail, "connection_type", "mode"), utils.FirstString(body, "connection.mode", "wan_type", "connection_type")),
	}
	if r.SubnetMask != nil {
		if n, err := utils.SubNetMaskToLen(*r.SubnetMask); err == nil {
			r.PrefixLength = &n
		}
	}

	resList := firstList(reservations, utils.FirstList(detail, "reservations"))
	if resList != nil {
		n := len(resList)
		r.Reservations = &n
	}
	fwdList := firstList(forwards, utils.FirstList(detail, "forwards"))
	if fwdList != nil {
		n := len(fwdList)
		r.PortForwards = &n
	}

	if *r == (models.RoutingSummary{}) {
		return nil
	}
	return r
}

// firstList treats a fetched-but-empty list as a known zero count, and a
// missing resource as unknown.
func firstList(primary interface{}, fallback []interface{}) []interface{} {
	switch v := primary.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		if l := utils.FirstList(v, "data", "reservations", "forwards", "list"); l != nil {
			return l
		}
		return []interface{}{}
	}
	return fallback
}

func security(body interface{}) *models.SecuritySummary {
	s := &models.SecuritySummary{
		DNSPolicyMode: utils.FirstString(body, "dns.mode", "dns.parent.mode"),
		FirewallOn:    utils.FirstBool(body, "firewall.enabled", "firewall"),
	}
	if s.DNSPolicyMode == nil && s.FirewallOn == nil {
		return nil
	}
	return s
}

func radio(detail interface{}) *models.RadioSummary {
	rows := utils.FirstList(detail, "utilization", "bands", "channels")
	if rows == nil {
		rows = utils.AsList(detail)
	}
	var bands []models.RadioBand
	for _, row := range rows {
		band := utils.FirstString(row, "band", "frequency", "radio")
		if band == nil {
			continue
		}
		bands = append(bands, models.RadioBand{
			Band:           *band,
			Channel:        utils.FirstInt(row, "channel", "control_channel"),
			UtilizationPct: utils.FirstFloat(row, "utilization", "utilization_pct", "busy_pct"),
		})
	}
	if len(bands) == 0 {
		return nil
	}
	return &models.RadioSummary{Bands: bands}
}

func updates(body, detail interface{}, devices []models.Device) *models.UpdateSummary {
	current := firstPtr(
		utils.FirstString(detail, "current_firmware", "current_version"),
		utils.FirstString(body, "updates.current_firmware", "updates.current_version"),
	)
	if current == nil {
		for _, d := range devices {
			if d.Gateway != nil && *d.Gateway && d.Firmware != nil {
				current = d.Firmware
				break
			}
		}
	}

	u := &models.UpdateSummary{
		CurrentVersion:  current,
		TargetVersion:   firstPtr(utils.FirstString(detail, "target_firmware", "target_version"), utils.FirstString(body, "updates.target_firmware")),
		UpdateAvailable: firstPtr(utils.FirstBool(detail, "has_update", "update_available"), utils.FirstBool(body, "updates.has_update")),
		UpdateRequired:  firstPtr(utils.FirstBool(detail, "update_required", "requires_update"), utils.FirstBool(body, "updates.update_required")),
	}
	if u.UpdateAvailable == nil && u.CurrentVersion != nil && u.TargetVersion != nil {
		u.UpdateAvailable = newerVersion(*u.CurrentVersion, *u.TargetVersion)
	}
	if *u == (models.UpdateSummary{}) {
		return nil
	}
	return u
}

// newerVersion reports whether target is newer than current, or nil when
// either string is not a version.
func newerVersion(current, target string) *bool {
	cv, err := version.NewVersion(strings.TrimPrefix(strings.TrimSpace(current), "v"))
	if err != nil {
		return nil
	}
	tv, err := version.NewVersion(strings.TrimPrefix(strings.TrimSpace(target), "v"))
	if err != nil {
		return nil
	}
	newer := tv.GreaterThan(cv)
	return &newer
}

func firstTime(v interface{}, paths ...string) *time.Time {
	for _, p := range paths {
		s := utils.FirstString(v, p)
		if s == nil {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, *s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}
