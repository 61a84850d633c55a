package normalize

import (
	"strings"

	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// Enrichment resource names. They double as keys of a network's resources map.
const (
	ResClients      = "devices"
	ResProfiles     = "profiles"
	ResNodes        = "eeros"
	ResReservations = "reservations"
	ResForwards     = "forwards"
	ResRouting      = "routing"
	ResDiagnostics  = "diagnostics"
	ResUpdates      = "updates"
	ResSupport      = "support"
	ResSpeedTest    = "speedtest"
	ResChannelUtil  = "channel_utilization"
	ResThread       = "thread"
	ResGuestNetwork = "guestnetwork"
	ResDataUsage    = "data_usage"
)

// Usage scopes and periods.
const (
	ScopeNetwork = "network"
	ScopeNodes   = "eeros"
	ScopeDevices = "devices"

	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

var (
	UsageScopes  = []string{ScopeNetwork, ScopeNodes, ScopeDevices}
	UsagePeriods = []string{PeriodDay, PeriodWeek, PeriodMonth}
)

// UsageKey names the enrichment result for one usage scope and period.
func UsageKey(scope, period string) string {
	return ResDataUsage + ":" + scope + ":" + period
}

// NetworkPath returns the network's own resource URL, or the conventional
// /networks/{id} path built from the raw identifier.
func NetworkPath(ref interface{}) string {
	if u := resourceURL(ref); u != "" {
		return u
	}
	if id := utils.FirstString(ref, "id", "network_id"); id != nil {
		return "/networks/" + *id
	}
	return ""
}

// ResourcePath looks up a child resource link in the body's resources map and
// falls back to networkPath/<name> when the link is absent.
func ResourcePath(body interface{}, networkPath, name string) string {
	if link := utils.FirstString(body, "resources."+name, "resources."+strings.ReplaceAll(name, "_", "")); link != nil {
		return *link
	}
	return strings.TrimRight(networkPath, "/") + "/" + name
}

// UsagePath builds the data usage path for a scope and period.
func UsagePath(body interface{}, networkPath, scope, period string) string {
	base := ResourcePath(body, networkPath, ResDataUsage)
	suffix := ""
	if scope != ScopeNetwork {
		suffix = "/" + scope
	}
	return base + suffix + "?period=" + period
}
