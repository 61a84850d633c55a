package normalize

import (
	"strconv"
	"strings"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// Devices normalizes mesh node rows.
func Devices(rows []interface{}, usage UsageIndex) []models.Device {
	out := make([]models.Device, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		d, ok := Device(row)
		if !ok || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		if usage != nil {
			d.Usage = usage.lookup(row)
		}
		out = append(out, d)
	}
	return out
}

func Device(row interface{}) (models.Device, bool) {
	id := DeviceID(row)
	if id == "" {
		return models.Device{}, false
	}

	d := models.Device{
		ID:        id,
		SourceURL: resourceURL(row),
		Serial:    utils.FirstString(row, "serial", "serial_number"),
		Model:     utils.FirstString(row, "model", "model_number"),
		Location:  utils.FirstString(row, "location", "name"),
		Gateway:   utils.FirstBool(row, "gateway", "is_gateway"),
		Status:    utils.FirstString(row, "status", "state"),
		Firmware:  utils.FirstString(row, "os_version", "firmware_version", "os"),
		Backhaul:  backhaul(row),
		Ports:     Ports(row),
	}
	if mac := DeviceMAC(row); mac != "" {
		d.MAC = &mac
	}
	d.Online = firstPtr(utils.FirstBool(row, "online", "connected", "is_online"), statusOnline(d.Status))
	return d, true
}

// statusOnline maps traffic-light node states to online/offline.
func statusOnline(status *string) *bool {
	if status == nil {
		return nil
	}
	var v bool
	switch strings.ToLower(*status) {
	case "green", "yellow", "online", "connected", "up":
		v = true
	case "red", "offline", "disconnected", "down":
		v = false
	default:
		return nil
	}
	return &v
}

func backhaul(row interface{}) *string {
	if t := utils.FirstString(row, "connection_type", "backhaul_type", "mesh_backhaul"); t != nil {
		v := strings.ToLower(*t)
		return &v
	}
	if wired := utils.FirstBool(row, "wired"); wired != nil {
		v := "wireless"
		if *wired {
			v = "wired"
		}
		return &v
	}
	return nil
}

// Ports reads per-port ethernet status. A port with several neighbors is
// reported once with its peer count.
func Ports(row interface{}) []models.EthernetPort {
	list := utils.FirstList(row, "ethernet_status.statuses", "ethernet_ports", "ports")
	if len(list) == 0 {
		return nil
	}

	index := make(map[string]int, len(list))
	var out []models.EthernetPort
	for _, raw := range list {
		iface := str(utils.FirstString(raw, "interfaceNumber", "interface", "interface_number"))
		port := str(utils.FirstString(raw, "port_name", "port", "label"))
		if iface == "" && port == "" {
			continue
		}
		p := models.EthernetPort{
			Interface:    iface,
			Port:         port,
			Carrier:      utils.FirstBool(raw, "hasCarrier", "has_carrier", "carrier", "link"),
			SpeedMbps:    portSpeed(raw),
			NeighborName: utils.FirstString(raw, "neighbor.metadata.location", "neighbor.name", "neighbor_name"),
		}
		if mac := utils.NormalizeMAC(str(utils.FirstString(raw, "neighbor.metadata.mac", "neighbor.mac", "neighbor_mac"))); mac != "" {
			p.NeighborMAC = &mac
		}

		peers := 0
		if p.NeighborName != nil || p.NeighborMAC != nil {
			peers = 1
		}
		if n := utils.FirstInt(raw, "peer_count", "peers"); n != nil {
			peers = *n
		}

		if i, ok := index[p.Key()]; ok {
			merged := out[i]
			total := peers
			if merged.Peers != nil {
				total += *merged.Peers
			}
			merged.Peers = &total
			merged.Carrier = firstPtr(merged.Carrier, p.Carrier)
			merged.SpeedMbps = firstPtr(merged.SpeedMbps, p.SpeedMbps)
			out[i] = merged
			continue
		}
		p.Peers = &peers
		index[p.Key()] = len(out)
		out = append(out, p)
	}
	return out
}

// portSpeed accepts numeric Mbps or link labels such as "P1000" and "1Gbps".
func portSpeed(raw interface{}) *float64 {
	if v := utils.FirstFloat(raw, "speed_mbps"); v != nil {
		return v
	}
	s := utils.FirstString(raw, "speed", "link_speed")
	if s == nil {
		return nil
	}
	label := strings.ToUpper(strings.TrimSpace(*s))
	label = strings.TrimPrefix(label, "P")
	mult := 1.0
	switch {
	case strings.HasSuffix(label, "GBPS"):
		label, mult = strings.TrimSuffix(label, "GBPS"), 1000
	case strings.HasSuffix(label, "MBPS"):
		label = strings.TrimSuffix(label, "MBPS")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(label), 64)
	if err != nil {
		return nil
	}
	f *= mult
	return &f
}
