package normalize

import (
	"strings"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// Clients normalizes client rows, dropping rows without any identity and
// keeping the first row per derived id.
func Clients(rows []interface{}, usage UsageIndex) []models.Client {
	out := make([]models.Client, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		c, ok := Client(row)
		if !ok || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if usage != nil {
			c.Usage = usage.lookup(row)
		}
		out = append(out, c)
	}
	return out
}

// Client normalizes one client row.
func Client(row interface{}) (models.Client, bool) {
	id := ClientID(row)
	if id == "" {
		return models.Client{}, false
	}

	c := models.Client{
		ID:        id,
		SourceURL: resourceURL(row),
		IP:        utils.FirstString(row, "ip", "ipv4", "ips.0", "ip_address"),
		Name:      utils.FirstString(row, "nickname", "display_name", "hostname", "name", "manufacturer"),
		Connected: utils.FirstBool(row, "connected", "is_connected", "online", "status"),
		Paused:    utils.FirstBool(row, "paused", "is_paused"),
		Guest:     utils.FirstBool(row, "is_guest", "guest"),
		Wireless:  utils.FirstBool(row, "wireless", "is_wireless"),
		SignalDBM: utils.FirstFloat(row, "connectivity.signal", "signal", "signal_strength", "rssi"),
		RxRateMbps: firstPtr(
			utils.FirstFloat(row, "connectivity.rx_rate_info.rate_mbps", "rx_rate_mbps"),
			bpsToMbps(utils.FirstFloat(row, "connectivity.rx_rate_info.rate_bps", "rx_rate_bps")),
			utils.FirstFloat(row, "connectivity.rx_bitrate", "rx_rate"),
		),
		TxRateMbps: firstPtr(
			utils.FirstFloat(row, "connectivity.tx_rate_info.rate_mbps", "tx_rate_mbps"),
			bpsToMbps(utils.FirstFloat(row, "connectivity.tx_rate_info.rate_bps", "tx_rate_bps")),
			utils.FirstFloat(row, "connectivity.tx_bitrate", "tx_rate"),
		),
		Channel:       utils.FirstInt(row, "channel", "connectivity.channel"),
		Band:          band(row),
		UsageDownMbps: nonNegative(utils.FirstFloat(row, "usage.down_mbps", "usageDownMbps", "usage.down", "usage_down_mbps")),
		UsageUpMbps:   nonNegative(utils.FirstFloat(row, "usage.up_mbps", "usageUpMbps", "usage.up", "usage_up_mbps")),
		ProfileID:     profileRef(row),
	}
	if mac := ClientMAC(row); mac != "" {
		c.MAC = &mac
	}

	src := &models.ClientSource{
		DeviceURL: utils.FirstString(row, "source.url", "source.eero_url", "eero.url"),
		Location:  utils.FirstString(row, "source.location", "source.name", "eero.location"),
	}
	if src.DeviceURL != nil || src.Location != nil {
		c.Source = src
	}
	return c, true
}

func band(row interface{}) *string {
	raw := utils.FirstString(row, "interface.frequency", "frequency", "band", "connectivity.frequency")
	if raw == nil {
		return nil
	}
	v := strings.ToLower(*raw)
	var b string
	switch {
	case strings.HasPrefix(v, "2.4"), v == "2":
		b = "2.4GHz"
	case strings.HasPrefix(v, "5"):
		b = "5GHz"
	case strings.HasPrefix(v, "6"):
		b = "6GHz"
	default:
		b = *raw
	}
	return &b
}

func profileRef(row interface{}) *string {
	p := utils.FirstMap(row, "profile")
	if p == nil {
		return nil
	}
	if id := ProfileID(p); id != "" {
		return &id
	}
	return nil
}

func bpsToMbps(v *float64) *float64 {
	if v == nil {
		return nil
	}
	m := *v / 1e6
	return &m
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}
