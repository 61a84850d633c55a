package normalize

import (
	"time"

	"github.com/helloworlde/meshkeeper/internal/models"
)

// LinkClients resolves each client's source back-reference to a device id,
// matching by device resource URL first and location second.
func LinkClients(n *models.Network) {
	byURL := make(map[string]string, len(n.Devices))
	byLocation := make(map[string]string, len(n.Devices))
	for _, d := range n.Devices {
		if d.SourceURL != "" {
			byURL[d.SourceURL] = d.ID
		}
		if d.Location != nil {
			byLocation[*d.Location] = d.ID
		}
	}

	for i := range n.Clients {
		src := n.Clients[i].Source
		if src == nil || src.DeviceID != nil {
			continue
		}
		var id string
		if src.DeviceURL != nil {
			id = byURL[*src.DeviceURL]
		}
		if id == "" && src.Location != nil {
			id = byLocation[*src.Location]
		}
		if id != "" {
			linked := *src
			linked.DeviceID = &id
			n.Clients[i].Source = &linked
		}
	}
}

// Recount recomputes every derived aggregate from the rows: the network's
// connected client count, per-device client roll-ups and the mesh summary.
func Recount(n *models.Network) {
	perDevice := make(map[string]int, len(n.Devices))
	connected := 0
	for _, c := range n.Clients {
		if !c.IsConnected() {
			continue
		}
		connected++
		if c.Source != nil && c.Source.DeviceID != nil {
			perDevice[*c.Source.DeviceID]++
		}
	}
	n.ConnectedClients = connected

	if len(n.Devices) == 0 {
		return
	}

	mesh := &models.MeshSummary{}
	devices := make([]models.Device, len(n.Devices))
	for i, d := range n.Devices {
		d.ConnectedClients = perDevice[d.ID]
		devices[i] = d

		mesh.TotalNodes++
		if d.Online != nil && *d.Online {
			mesh.OnlineNodes++
		}
		if d.Gateway != nil && *d.Gateway && mesh.GatewayID == nil {
			id := d.ID
			mesh.GatewayID = &id
		}
		if d.Backhaul != nil && *d.Backhaul == "wired" {
			mesh.WiredBackhaul++
		}
	}
	n.Devices = devices
	n.Mesh = mesh
}

// Realtime sums the live rates of connected clients. It returns nil when no
// connected client reports telemetry so an interface-counter sample can be
// used instead.
func Realtime(clients []models.Client, at time.Time) *models.RealtimeSummary {
	var down, up float64
	reported := false
	for _, c := range clients {
		if !c.IsConnected() {
			continue
		}
		if c.UsageDownMbps != nil && *c.UsageDownMbps >= 0 {
			down += *c.UsageDownMbps
			reported = true
		}
		if c.UsageUpMbps != nil && *c.UsageUpMbps >= 0 {
			up += *c.UsageUpMbps
			reported = true
		}
	}
	if !reported {
		return nil
	}
	return &models.RealtimeSummary{
		DownloadMbps: down,
		UploadMbps:   up,
		Source:       models.RealtimeSourceClientTelemetry,
		SampledAt:    at,
	}
}

// RealtimeFromSample adapts a local interface sample when no client telemetry
// is available.
func RealtimeFromSample(s models.ThroughputSample) *models.RealtimeSummary {
	down, up := s.DownloadMbps, s.UploadMbps
	if down < 0 {
		down = 0
	}
	if up < 0 {
		up = 0
	}
	return &models.RealtimeSummary{
		DownloadMbps: down,
		UploadMbps:   up,
		Source:       models.RealtimeSourceInterfaceCounters,
		SampledAt:    s.SampledAt,
	}
}
