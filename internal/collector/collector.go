// Package collector exposes the published agent state as Prometheus metrics.
package collector

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helloworlde/meshkeeper/internal/agent"
	"github.com/helloworlde/meshkeeper/internal/models"
)

// StateSource is the part of the agent the collector reads.
type StateSource interface {
	State() agent.State
}

// SnapshotCollector renders the latest state on every scrape. It never
// talks to the cloud itself.
type SnapshotCollector struct {
	source      StateSource
	now         func() time.Time
	descriptors map[string]*prometheus.Desc
}

func NewSnapshotCollector(namespace string, source StateSource) *SnapshotCollector {
	sc := &SnapshotCollector{source: source, now: time.Now}
	sc.initializeDescriptors(namespace)
	return sc
}

func (sc *SnapshotCollector) initializeDescriptors(namespace string) {
	sc.descriptors = map[string]*prometheus.Desc{
		"network_info": prometheus.NewDesc(
			fmt.Sprintf("%s_network_info", namespace),
			"Network name and status",
			[]string{"network", "name", "status"}, nil,
		),
		"network_connected_clients": prometheus.NewDesc(
			fmt.Sprintf("%s_network_connected_clients", namespace),
			"Number of connected clients",
			[]string{"network"}, nil,
		),
		"network_clients": prometheus.NewDesc(
			fmt.Sprintf("%s_network_clients", namespace),
			"Number of known clients",
			[]string{"network"}, nil,
		),
		"network_feature_enabled": prometheus.NewDesc(
			fmt.Sprintf("%s_network_feature_enabled", namespace),
			"Network feature toggle state",
			[]string{"network", "feature"}, nil,
		),
		"network_realtime_mbps": prometheus.NewDesc(
			fmt.Sprintf("%s_network_realtime_mbps", namespace),
			"Current network throughput in Mbps",
			[]string{"network", "direction", "source"}, nil,
		),
		"device_online": prometheus.NewDesc(
			fmt.Sprintf("%s_device_online", namespace),
			"Whether a mesh node is online",
			[]string{"network", "device", "location", "model", "gateway"}, nil,
		),
		"device_connected_clients": prometheus.NewDesc(
			fmt.Sprintf("%s_device_connected_clients", namespace),
			"Number of clients attached to a mesh node",
			[]string{"network", "device"}, nil,
		),
		"client_signal_dbm": prometheus.NewDesc(
			fmt.Sprintf("%s_client_signal_dbm", namespace),
			"Wireless client signal strength",
			[]string{"network", "client", "name", "mac"}, nil,
		),
		"lan_health": prometheus.NewDesc(
			fmt.Sprintf("%s_lan_health", namespace),
			"LAN health from the latest local probe run",
			[]string{"label"}, nil,
		),
		"snapshot_age_seconds": prometheus.NewDesc(
			fmt.Sprintf("%s_snapshot_age_seconds", namespace),
			"Age of the displayed snapshot",
			nil, nil,
		),
		"throughput_mbps": prometheus.NewDesc(
			fmt.Sprintf("%s_interface_throughput_mbps", namespace),
			"Smoothed local interface throughput",
			[]string{"interface", "direction"}, nil,
		),
	}
}

func (sc *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range sc.descriptors {
		ch <- desc
	}
}

func (sc *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	st := sc.source.State()

	if label := st.LocalHealth(); label != "" {
		ch <- prometheus.MustNewConstMetric(sc.descriptors["lan_health"], prometheus.GaugeValue, 1, label)
	}
	if t := st.Throughput; t != nil {
		ch <- prometheus.MustNewConstMetric(sc.descriptors["throughput_mbps"], prometheus.GaugeValue, t.DownloadMbps, t.Interface, "down")
		ch <- prometheus.MustNewConstMetric(sc.descriptors["throughput_mbps"], prometheus.GaugeValue, t.UploadMbps, t.Interface, "up")
	}

	if st.Snapshot == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(
		sc.descriptors["snapshot_age_seconds"],
		prometheus.GaugeValue,
		st.SnapshotAge(sc.now()).Seconds(),
	)
	for i := range st.Snapshot.Networks {
		sc.exportNetwork(ch, &st.Snapshot.Networks[i])
	}
}

func (sc *SnapshotCollector) exportNetwork(ch chan<- prometheus.Metric, n *models.Network) {
	ch <- prometheus.MustNewConstMetric(
		sc.descriptors["network_info"],
		prometheus.GaugeValue,
		1,
		n.ID, n.DisplayName(), deref(n.Status),
	)
	ch <- prometheus.MustNewConstMetric(sc.descriptors["network_connected_clients"], prometheus.GaugeValue, float64(n.ConnectedClients), n.ID)
	ch <- prometheus.MustNewConstMetric(sc.descriptors["network_clients"], prometheus.GaugeValue, float64(len(n.Clients)), n.ID)

	for name, enabled := range n.Features.Known() {
		ch <- prometheus.MustNewConstMetric(sc.descriptors["network_feature_enabled"], prometheus.GaugeValue, boolValue(enabled), n.ID, name)
	}

	if rt := n.Realtime; rt != nil {
		ch <- prometheus.MustNewConstMetric(sc.descriptors["network_realtime_mbps"], prometheus.GaugeValue, rt.DownloadMbps, n.ID, "down", rt.Source)
		ch <- prometheus.MustNewConstMetric(sc.descriptors["network_realtime_mbps"], prometheus.GaugeValue, rt.UploadMbps, n.ID, "up", rt.Source)
	}

	for _, d := range n.Devices {
		gateway := "false"
		if d.Gateway != nil && *d.Gateway {
			gateway = "true"
		}
		online := d.Online != nil && *d.Online
		ch <- prometheus.MustNewConstMetric(
			sc.descriptors["device_online"],
			prometheus.GaugeValue,
			boolValue(online),
			n.ID, d.ID, deref(d.Location), deref(d.Model), gateway,
		)
		ch <- prometheus.MustNewConstMetric(sc.descriptors["device_connected_clients"], prometheus.GaugeValue, float64(d.ConnectedClients), n.ID, d.ID)
	}

	for _, c := range n.Clients {
		if !c.IsConnected() || c.SignalDBM == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			sc.descriptors["client_signal_dbm"],
			prometheus.GaugeValue,
			*c.SignalDBM,
			n.ID, c.ID, deref(c.Name), deref(c.MAC),
		)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
