package agent

import (
	"time"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/scheduler"
)

// State is the published view of the agent. A State value is never
// modified after it is published; every change produces a new Version.
type State struct {
	Version     uint64                       `json:"version"`
	Snapshot    *models.AccountSnapshot      `json:"snapshot,omitempty"`
	Cloud       models.CloudReachability     `json:"cloud"`
	LastError   string                       `json:"last_error,omitempty"`
	LastSuccess time.Time                    `json:"last_success,omitempty"`
	Probes      *models.OfflineProbeSnapshot `json:"probes,omitempty"`
	Queue       []models.QueuedAction        `json:"queue"`
	Mode        scheduler.Mode               `json:"mode"`
	Throughput  *models.ThroughputSample     `json:"throughput,omitempty"`
}

// SnapshotAge is how stale the displayed snapshot is.
func (s State) SnapshotAge(now time.Time) time.Duration {
	return s.Snapshot.Age(now)
}

// LocalHealth is the LAN health label of the latest probe run, empty
// before the first run.
func (s State) LocalHealth() string {
	if s.Probes == nil {
		return ""
	}
	return s.Probes.Label()
}

// CloudReachable reports whether actions should be attempted right away.
// An unknown state is optimistic: a failed delivery still falls back to the
// queue for eligible actions.
func (s State) CloudReachable() bool {
	return s.Cloud == models.CloudReachable || s.Cloud == models.CloudUnknown
}
