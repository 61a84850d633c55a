package models

import (
	"encoding/json"
	"time"
)

// AccountSnapshot is the complete view of an account at one point in time.
// It is never mutated after publication; refreshes produce a new value.
type AccountSnapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Networks  []Network `json:"networks"`
}

// Network returns the network with the given derived id.
func (s *AccountSnapshot) Network(id string) *Network {
	if s == nil {
		return nil
	}
	for i := range s.Networks {
		if s.Networks[i].ID == id {
			return &s.Networks[i]
		}
	}
	return nil
}

// Age reports how old the snapshot is relative to now.
func (s *AccountSnapshot) Age(now time.Time) time.Duration {
	if s == nil || s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

type Network struct {
	ID        string  `json:"id"`
	SourceURL string  `json:"source_url,omitempty"`
	Name      *string `json:"name,omitempty"`
	Nickname  *string `json:"nickname,omitempty"`
	Status    *string `json:"status,omitempty"`

	Features     Features           `json:"features"`
	GuestNetwork *GuestNetwork      `json:"guest_network,omitempty"`
	Health       *HealthSummary     `json:"health,omitempty"`
	Diagnostics  *DiagnosticSummary `json:"diagnostics,omitempty"`
	Updates      *UpdateSummary     `json:"updates,omitempty"`
	Speed        *SpeedSummary      `json:"speed,omitempty"`
	Support      *SupportSummary    `json:"support,omitempty"`
	Routing      *RoutingSummary    `json:"routing,omitempty"`
	Security     *SecuritySummary   `json:"security,omitempty"`
	Mesh         *MeshSummary       `json:"mesh,omitempty"`
	Radio        *RadioSummary      `json:"radio,omitempty"`
	Realtime     *RealtimeSummary   `json:"realtime,omitempty"`
	Usage        *UsageSummary      `json:"usage,omitempty"`

	ConnectedClients int       `json:"connected_clients"`
	Clients          []Client  `json:"clients"`
	Profiles         []Profile `json:"profiles"`
	Devices          []Device  `json:"devices"`
}

// DisplayName prefers the user-set nickname over the account name.
func (n *Network) DisplayName() string {
	if n.Nickname != nil && *n.Nickname != "" {
		return *n.Nickname
	}
	if n.Name != nil && *n.Name != "" {
		return *n.Name
	}
	return n.ID
}

func (n *Network) Client(id string) *Client {
	for i := range n.Clients {
		if n.Clients[i].ID == id {
			return &n.Clients[i]
		}
	}
	return nil
}

func (n *Network) Device(id string) *Device {
	for i := range n.Devices {
		if n.Devices[i].ID == id {
			return &n.Devices[i]
		}
	}
	return nil
}

func (n *Network) Profile(id string) *Profile {
	for i := range n.Profiles {
		if n.Profiles[i].ID == id {
			return &n.Profiles[i]
		}
	}
	return nil
}

// Features holds tri-state toggles; nil means the account did not report it.
type Features struct {
	AdBlock      *bool `json:"ad_block,omitempty"`
	MalwareBlock *bool `json:"malware_block,omitempty"`
	BandSteering *bool `json:"band_steering,omitempty"`
	UPnP         *bool `json:"upnp,omitempty"`
	WPA3         *bool `json:"wpa3,omitempty"`
	Thread       *bool `json:"thread,omitempty"`
	SQM          *bool `json:"sqm,omitempty"`
	IPv6Upstream *bool `json:"ipv6_upstream,omitempty"`
}

// Known returns the reported toggles keyed by feature name.
func (f Features) Known() map[string]bool {
	out := map[string]bool{}
	for name, v := range map[string]*bool{
		"ad_block":      f.AdBlock,
		"block_malware": f.MalwareBlock,
		"band_steering": f.BandSteering,
		"upnp":          f.UPnP,
		"wpa3":          f.WPA3,
		"thread":        f.Thread,
		"sqm":           f.SQM,
		"ipv6_upstream": f.IPv6Upstream,
	} {
		if v != nil {
			out[name] = *v
		}
	}
	return out
}

type GuestNetwork struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Name     *string `json:"name,omitempty"`
	Password *string `json:"password,omitempty"`
}

type HealthSummary struct {
	Internet *string `json:"internet,omitempty"`
	Eeros    *string `json:"eeros,omitempty"`
}

type DiagnosticSummary struct {
	Status    *string    `json:"status,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

type UpdateSummary struct {
	CurrentVersion  *string `json:"current_version,omitempty"`
	TargetVersion   *string `json:"target_version,omitempty"`
	UpdateAvailable *bool   `json:"update_available,omitempty"`
	UpdateRequired  *bool   `json:"update_required,omitempty"`
}

type SpeedSummary struct {
	DownMbps   *float64   `json:"down_mbps,omitempty"`
	UpMbps     *float64   `json:"up_mbps,omitempty"`
	MeasuredAt *time.Time `json:"measured_at,omitempty"`
}

type SupportSummary struct {
	Phone *string `json:"phone,omitempty"`
	URL   *string `json:"url,omitempty"`
}

type RoutingSummary struct {
	WANIP          *string `json:"wan_ip,omitempty"`
	GatewayIP      *string `json:"gateway_ip,omitempty"`
	SubnetMask     *string `json:"subnet_mask,omitempty"`
	PrefixLength   *int    `json:"prefix_length,omitempty"`
	DHCPPoolStart  *string `json:"dhcp_pool_start,omitempty"`
	DHCPPoolEnd    *string `json:"dhcp_pool_end,omitempty"`
	Reservations   *int    `json:"reservations,omitempty"`
	PortForwards   *int    `json:"port_forwards,omitempty"`
	ConnectionType *string `json:"connection_type,omitempty"`
}

type SecuritySummary struct {
	DNSPolicyMode *string `json:"dns_policy_mode,omitempty"`
	FirewallOn    *bool   `json:"firewall_on,omitempty"`
}

type MeshSummary struct {
	TotalNodes    int     `json:"total_nodes"`
	OnlineNodes   int     `json:"online_nodes"`
	GatewayID     *string `json:"gateway_id,omitempty"`
	WiredBackhaul int     `json:"wired_backhaul"`
}

type RadioSummary struct {
	Bands []RadioBand `json:"bands"`
}

type RadioBand struct {
	Band           string   `json:"band"`
	Channel        *int     `json:"channel,omitempty"`
	UtilizationPct *float64 `json:"utilization_pct,omitempty"`
}

// Realtime throughput sources.
const (
	RealtimeSourceClientTelemetry   = "client_telemetry"
	RealtimeSourceInterfaceCounters = "interface_counters"
)

// RealtimeSummary values are derived from non-decreasing counters and are
// never negative.
type RealtimeSummary struct {
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	Source       string    `json:"source"`
	SampledAt    time.Time `json:"sampled_at"`
}

type UsageWindow struct {
	DownloadMB *float64 `json:"download_mb,omitempty"`
	UploadMB   *float64 `json:"upload_mb,omitempty"`
}

type UsageSummary struct {
	Day   *UsageWindow `json:"day,omitempty"`
	Week  *UsageWindow `json:"week,omitempty"`
	Month *UsageWindow `json:"month,omitempty"`
}

type ClientSource struct {
	DeviceID  *string `json:"device_id,omitempty"`
	DeviceURL *string `json:"device_url,omitempty"`
	Location  *string `json:"location,omitempty"`
}

type Client struct {
	ID        string  `json:"id"`
	SourceURL string  `json:"source_url,omitempty"`
	MAC       *string `json:"mac,omitempty"`
	IP        *string `json:"ip,omitempty"`
	Name      *string `json:"name,omitempty"`
	Connected *bool   `json:"connected,omitempty"`
	Paused    *bool   `json:"paused,omitempty"`
	Guest     *bool   `json:"guest,omitempty"`
	Wireless  *bool   `json:"wireless,omitempty"`

	SignalDBM     *float64 `json:"signal_dbm,omitempty"`
	RxRateMbps    *float64 `json:"rx_rate_mbps,omitempty"`
	TxRateMbps    *float64 `json:"tx_rate_mbps,omitempty"`
	Channel       *int     `json:"channel,omitempty"`
	Band          *string  `json:"band,omitempty"`
	UsageDownMbps *float64 `json:"usage_down_mbps,omitempty"`
	UsageUpMbps   *float64 `json:"usage_up_mbps,omitempty"`

	Usage     *UsageSummary `json:"usage,omitempty"`
	Source    *ClientSource `json:"source,omitempty"`
	ProfileID *string       `json:"profile_id,omitempty"`
}

// IsConnected treats unknown as disconnected.
func (c *Client) IsConnected() bool {
	return c.Connected != nil && *c.Connected
}

type EthernetPort struct {
	Interface    string   `json:"interface"`
	Port         string   `json:"port"`
	Carrier      *bool    `json:"carrier,omitempty"`
	SpeedMbps    *float64 `json:"speed_mbps,omitempty"`
	Peers        *int     `json:"peers,omitempty"`
	NeighborName *string  `json:"neighbor_name,omitempty"`
	NeighborMAC  *string  `json:"neighbor_mac,omitempty"`
}

// Key identifies a port across refreshes.
func (p EthernetPort) Key() string {
	return p.Interface + "|" + p.Port
}

type Device struct {
	ID               string         `json:"id"`
	SourceURL        string         `json:"source_url,omitempty"`
	MAC              *string        `json:"mac,omitempty"`
	Serial           *string        `json:"serial,omitempty"`
	Model            *string        `json:"model,omitempty"`
	Location         *string        `json:"location,omitempty"`
	Gateway          *bool          `json:"gateway,omitempty"`
	Online           *bool          `json:"online,omitempty"`
	Status           *string        `json:"status,omitempty"`
	Firmware         *string        `json:"firmware,omitempty"`
	Backhaul         *string        `json:"backhaul,omitempty"`
	Ports            []EthernetPort `json:"ports,omitempty"`
	ConnectedClients int            `json:"connected_clients"`
	Usage            *UsageSummary  `json:"usage,omitempty"`
}

type ProfileApp struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Blocked bool   `json:"blocked"`
}

type Profile struct {
	ID          string          `json:"id"`
	SourceURL   string          `json:"source_url,omitempty"`
	Name        *string         `json:"name,omitempty"`
	Paused      *bool           `json:"paused,omitempty"`
	Filters     map[string]bool `json:"filters,omitempty"`
	BlockedApps []string        `json:"blocked_apps,omitempty"`
	Apps        []ProfileApp    `json:"apps,omitempty"`
	ClientIDs   []string        `json:"client_ids,omitempty"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

type ActionKind string

const (
	ActionPauseClient      ActionKind = "pause_client"
	ActionPauseProfile     ActionKind = "pause_profile"
	ActionSetFeature       ActionKind = "set_feature"
	ActionSetGuestNetwork  ActionKind = "set_guest_network"
	ActionBlockApplication ActionKind = "block_application"
	ActionRebootDevice     ActionKind = "reboot_device"
	ActionRebootNetwork    ActionKind = "reboot_network"
	ActionRunSpeedTest     ActionKind = "run_speed_test"
)

// Action is a mutating request against the cloud API.
type Action struct {
	Kind          ActionKind      `json:"kind" validate:"required"`
	NetworkID     string          `json:"network_id,omitempty"`
	ClientID      string          `json:"client_id,omitempty"`
	DeviceID      string          `json:"device_id,omitempty"`
	ProfileID     string          `json:"profile_id,omitempty"`
	Endpoint      string          `json:"endpoint" validate:"required"`
	Method        string          `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Body          json.RawMessage `json:"body,omitempty"`
	Label         string          `json:"label"`
	Risk          RiskLevel       `json:"risk" validate:"omitempty,oneof=low moderate high"`
	QueueEligible bool            `json:"queue_eligible"`
	CreatedAt     time.Time       `json:"created_at"`
}

type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusReplayed QueueStatus = "replayed"
	QueueStatusFailed   QueueStatus = "failed"
)

type QueuedAction struct {
	ID        string      `json:"id"`
	Action    Action      `json:"action"`
	Status    QueueStatus `json:"status"`
	LastError string      `json:"last_error,omitempty"`
	Attempts  int         `json:"attempts"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeQueued   Outcome = "queued"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

type ExecutionResult struct {
	Outcome  Outcome `json:"outcome"`
	Message  string  `json:"message,omitempty"`
	QueuedID string  `json:"queued_id,omitempty"`
}

type ProbeResult struct {
	Name      string   `json:"name"`
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	LatencyMS *float64 `json:"latency_ms,omitempty"`
}

const (
	LANHealthOK       = "LAN OK"
	LANHealthDegraded = "LAN Degraded"
	LANHealthDown     = "LAN Down"
)

type OfflineProbeSnapshot struct {
	CheckedAt      time.Time   `json:"checked_at"`
	Gateway        ProbeResult `json:"gateway"`
	DNS            ProbeResult `json:"dns"`
	NTP            ProbeResult `json:"ntp"`
	Route          ProbeResult `json:"route"`
	RouteInterface string      `json:"route_interface,omitempty"`
	RouteGateway   string      `json:"route_gateway,omitempty"`
}

// HealthLabel derives LAN health from the gateway and route probes only.
func HealthLabel(gateway, route ProbeResult) string {
	switch {
	case gateway.Success && route.Success:
		return LANHealthOK
	case gateway.Success || route.Success:
		return LANHealthDegraded
	default:
		return LANHealthDown
	}
}

func (s *OfflineProbeSnapshot) Label() string {
	return HealthLabel(s.Gateway, s.Route)
}

type CloudReachability string

const (
	CloudUnknown     CloudReachability = "unknown"
	CloudReachable   CloudReachability = "reachable"
	CloudDegraded    CloudReachability = "degraded"
	CloudUnreachable CloudReachability = "unreachable"
)

// ThroughputSample is a smoothed local interface rate.
type ThroughputSample struct {
	Interface    string    `json:"interface"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	SampledAt    time.Time `json:"sampled_at"`
}
