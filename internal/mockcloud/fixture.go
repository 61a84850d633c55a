package mockcloud

import (
	"fmt"
	"sort"
)

// Client is one end-user device in the fake account.
type Client struct {
	ID        string
	MAC       string
	IP        string
	Hostname  string
	Connected bool
	Paused    bool
	Wireless  bool
	NodeID    string
	ProfileID string
	Signal    float64
	DownMbps  float64
	UpMbps    float64
	DayMB     float64
}

// Port is one ethernet port of a node.
type Port struct {
	Interface int
	Name      string
	Carrier   bool
	Speed     string
	Neighbors []string
}

// Node is one mesh unit.
type Node struct {
	ID        string
	MAC       string
	Serial    string
	Model     string
	Location  string
	Gateway   bool
	Status    string
	OSVersion string
	Wired     bool
	Ports     []Port
	Reboots   int
}

type Profile struct {
	ID      string
	Name    string
	Paused  bool
	Blocked []string
}

// Network is the mutable state of one fake network.
type Network struct {
	ID             string
	Name           string
	Status         string
	GuestEnabled   bool
	GuestName      string
	Features       map[string]bool
	TargetFirmware string
	Reboots        int
	SpeedTests     int
	Clients        []*Client
	Nodes          []*Node
	Profiles       []*Profile
}

// Fixture holds every network in the account.
type Fixture struct {
	AccountName string
	Networks    []*Network
	// OmitNetworkList leaves the networks key out of the account payload.
	OmitNetworkList bool
}

// DefaultFixture is one network with two nodes, three clients and a profile.
func DefaultFixture() *Fixture {
	return &Fixture{
		AccountName: "Test Household",
		Networks: []*Network{{
			ID:             "1001",
			Name:           "Home",
			Status:         "connected",
			GuestEnabled:   true,
			GuestName:      "Home Guest",
			TargetFirmware: "v7.2.1",
			Features: map[string]bool{
				"band_steering": true,
				"upnp":          true,
				"wpa3":          false,
				"sqm":           false,
				"ipv6_upstream": true,
				"thread":        false,
				"ad_block":      false,
				"block_malware": true,
			},
			Nodes: []*Node{
				{
					ID: "501", MAC: "30:34:22:00:05:01", Serial: "GGC1UC0000000501", Model: "eero Pro 6E",
					Location: "Living Room", Gateway: true, Status: "green", OSVersion: "v7.1.0", Wired: true,
					Ports: []Port{
						{Interface: 0, Name: "1", Carrier: true, Speed: "P1000", Neighbors: []string{"Modem"}},
						{Interface: 1, Name: "2", Carrier: true, Speed: "P1000", Neighbors: []string{"Switch", "NAS"}},
					},
				},
				{
					ID: "502", MAC: "30:34:22:00:05:02", Serial: "GGC1UC0000000502", Model: "eero 6+",
					Location: "Office", Status: "green", OSVersion: "v7.1.0",
				},
			},
			Clients: []*Client{
				{
					ID: "c1", MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.4.20", Hostname: "laptop",
					Connected: true, Wireless: true, NodeID: "501", ProfileID: "7001",
					Signal: -52, DownMbps: 12.0, UpMbps: 1.5, DayMB: 820,
				},
				{
					ID: "c2", MAC: "aa:bb:cc:dd:ee:02", IP: "192.168.4.21", Hostname: "tablet",
					Connected: true, Wireless: true, NodeID: "502", ProfileID: "7001",
					Signal: -61, DownMbps: 3.25, UpMbps: 0.5, DayMB: 240,
				},
				{
					ID: "c3", MAC: "aa:bb:cc:dd:ee:03", IP: "192.168.4.22", Hostname: "printer",
					NodeID: "502",
				},
			},
			Profiles: []*Profile{
				{ID: "7001", Name: "Kids", Blocked: []string{"tiktok"}},
			},
		}},
	}
}

func (f *Fixture) network(id string) *Network {
	for _, n := range f.Networks {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (n *Network) client(id string) *Client {
	for _, c := range n.Clients {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (n *Network) node(id string) *Node {
	for _, d := range n.Nodes {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (n *Network) profile(id string) *Profile {
	for _, p := range n.Profiles {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func networkURL(id string) string {
	return fmt.Sprintf("%s/networks/%s", apiPrefix, id)
}

func nodeURL(id string) string {
	return fmt.Sprintf("%s/eeros/%s", apiPrefix, id)
}

func (f *Fixture) renderAccount() map[string]interface{} {
	refs := make([]interface{}, 0, len(f.Networks))
	for _, n := range f.Networks {
		refs = append(refs, map[string]interface{}{
			"url":  networkURL(n.ID),
			"name": n.Name,
		})
	}
	if f.OmitNetworkList {
		return map[string]interface{}{"name": f.AccountName}
	}
	return map[string]interface{}{
		"name": f.AccountName,
		"networks": map[string]interface{}{
			"count": len(refs),
			"data":  refs,
		},
	}
}

func (n *Network) renderBody() map[string]interface{} {
	base := networkURL(n.ID)
	resources := map[string]interface{}{}
	for _, name := range []string{
		"devices", "profiles", "eeros", "reservations", "forwards", "routing",
		"diagnostics", "updates", "support", "speedtest", "channel_utilization",
		"thread", "guestnetwork", "data_usage",
	} {
		resources[name] = base + "/" + name
	}
	return map[string]interface{}{
		"url":    base,
		"name":   n.Name,
		"status": n.Status,
		"guest_network": map[string]interface{}{
			"enabled": n.GuestEnabled,
			"name":    n.GuestName,
		},
		"band_steering": n.Features["band_steering"],
		"upnp":          n.Features["upnp"],
		"wpa3":          n.Features["wpa3"],
		"sqm":           n.Features["sqm"],
		"ipv6_upstream": n.Features["ipv6_upstream"],
		"premium_dns": map[string]interface{}{
			"dns_policies": map[string]interface{}{
				"ad_block":      n.Features["ad_block"],
				"block_malware": n.Features["block_malware"],
			},
		},
		"health": map[string]interface{}{
			"internet":     map[string]interface{}{"status": "connected"},
			"eero_network": map[string]interface{}{"status": "connected"},
		},
		"ip_settings": map[string]interface{}{
			"subnet_mask": "255.255.252.0",
			"wan_ip":      "203.0.113.10",
		},
		"resources": resources,
	}
}

// renderClient renders one client row. Live usage is only included when
// withUsage is set, mirroring list variants that omit telemetry.
func (n *Network) renderClient(c *Client, withUsage bool) map[string]interface{} {
	row := map[string]interface{}{
		"url":       fmt.Sprintf("%s/devices/%s", networkURL(n.ID), c.ID),
		"mac":       c.MAC,
		"ip":        c.IP,
		"hostname":  c.Hostname,
		"connected": c.Connected,
		"paused":    c.Paused,
		"wireless":  c.Wireless,
		"is_guest":  false,
	}
	if node := n.node(c.NodeID); node != nil {
		row["source"] = map[string]interface{}{
			"url":      nodeURL(node.ID),
			"location": node.Location,
		}
	}
	if c.ProfileID != "" {
		row["profile"] = map[string]interface{}{
			"url": fmt.Sprintf("%s/profiles/%s", networkURL(n.ID), c.ProfileID),
		}
	}
	if withUsage && c.Connected {
		row["usage"] = map[string]interface{}{
			"down_mbps": c.DownMbps,
			"up_mbps":   c.UpMbps,
		}
		row["connectivity"] = map[string]interface{}{
			"signal":    c.Signal,
			"frequency": "5",
		}
	}
	return row
}

func (n *Network) renderNode(d *Node) map[string]interface{} {
	statuses := make([]interface{}, 0, len(d.Ports))
	for _, p := range d.Ports {
		if len(p.Neighbors) == 0 {
			statuses = append(statuses, map[string]interface{}{
				"interfaceNumber": p.Interface,
				"port_name":       p.Name,
				"hasCarrier":      p.Carrier,
				"speed":           p.Speed,
			})
			continue
		}
		for _, nb := range p.Neighbors {
			statuses = append(statuses, map[string]interface{}{
				"interfaceNumber": p.Interface,
				"port_name":       p.Name,
				"hasCarrier":      p.Carrier,
				"speed":           p.Speed,
				"neighbor": map[string]interface{}{
					"metadata": map[string]interface{}{"location": nb},
				},
			})
		}
	}
	row := map[string]interface{}{
		"url":         nodeURL(d.ID),
		"mac_address": d.MAC,
		"serial":      d.Serial,
		"model":       d.Model,
		"location":    d.Location,
		"gateway":     d.Gateway,
		"status":      d.Status,
		"os_version":  d.OSVersion,
		"wired":       d.Wired,
	}
	if len(statuses) > 0 {
		row["ethernet_status"] = map[string]interface{}{"statuses": statuses}
	}
	return row
}

func (n *Network) renderProfile(p *Profile) map[string]interface{} {
	var devices []interface{}
	for _, c := range n.Clients {
		if c.ProfileID == p.ID {
			devices = append(devices, map[string]interface{}{"mac": c.MAC})
		}
	}
	blocked := append([]string(nil), p.Blocked...)
	sort.Strings(blocked)
	return map[string]interface{}{
		"url":    fmt.Sprintf("%s/profiles/%s", networkURL(n.ID), p.ID),
		"name":   p.Name,
		"paused": p.Paused,
		"unified_content_filters": map[string]interface{}{
			"dns_policies": map[string]interface{}{"block_adult_content": true},
		},
		"premium_dns": map[string]interface{}{
			"blocked_applications": blocked,
			"applications": []interface{}{
				map[string]interface{}{"id": "tiktok", "name": "TikTok"},
				map[string]interface{}{"id": "youtube", "name": "YouTube"},
				map[string]interface{}{"id": "roblox", "name": "Roblox"},
			},
		},
		"devices": devices,
	}
}

func (n *Network) renderUsage(scope, period string) interface{} {
	factor := map[string]float64{"day": 1, "week": 7, "month": 30}[period]
	if factor == 0 {
		factor = 1
	}
	switch scope {
	case "devices":
		rows := make([]interface{}, 0, len(n.Clients))
		for _, c := range n.Clients {
			rows = append(rows, map[string]interface{}{
				"mac":      c.MAC,
				"download": c.DayMB * factor,
				"upload":   c.DayMB * factor / 10,
			})
		}
		return rows
	case "eeros":
		rows := make([]interface{}, 0, len(n.Nodes))
		for _, d := range n.Nodes {
			rows = append(rows, map[string]interface{}{
				"url":      nodeURL(d.ID),
				"download": 1000 * factor,
				"upload":   100 * factor,
			})
		}
		return rows
	default:
		var total float64
		for _, c := range n.Clients {
			total += c.DayMB
		}
		return map[string]interface{}{
			"download": total * factor,
			"upload":   total * factor / 10,
		}
	}
}
