package normalize

import (
	"sort"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

func Profiles(rows []interface{}) []models.Profile {
	out := make([]models.Profile, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		p, ok := Profile(row)
		if !ok || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func Profile(row interface{}) (models.Profile, bool) {
	id := ProfileID(row)
	if id == "" {
		return models.Profile{}, false
	}
	p := models.Profile{
		ID:          id,
		SourceURL:   resourceURL(row),
		Name:        utils.FirstString(row, "name"),
		Paused:      utils.FirstBool(row, "paused", "is_paused"),
		Filters:     filters(row),
		BlockedApps: utils.StringList(row, "premium_dns.blocked_applications", "blocked_applications", "blocked_apps"),
	}
	p.Apps = apps(row, p.BlockedApps)

	for _, dev := range utils.FirstList(row, "devices", "clients") {
		if cid := ClientID(dev); cid != "" {
			p.ClientIDs = append(p.ClientIDs, cid)
		}
	}
	return p, true
}

func filters(row interface{}) map[string]bool {
	m := utils.FirstMap(row, "unified_content_filters.dns_policies", "premium_dns.dns_policies", "dns_policies", "content_filters")
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		if b, ok := utils.ParseBool(v); ok {
			out[k] = b
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// apps merges the catalog of known applications with the blocked list. Apps
// that appear only in the blocked list are added to the catalog.
func apps(row interface{}, blocked []string) []models.ProfileApp {
	blockedSet := make(map[string]bool, len(blocked))
	for _, b := range blocked {
		blockedSet[b] = true
	}

	var out []models.ProfileApp
	known := map[string]bool{}
	for _, raw := range utils.FirstList(row, "premium_dns.applications", "applications", "app_catalog") {
		id := str(utils.FirstString(raw, "id", "app_id", "key"))
		if id == "" {
			id = str(utils.FirstString(raw, ""))
		}
		if id == "" || known[id] {
			continue
		}
		known[id] = true
		name := str(utils.FirstString(raw, "name", "display_name"))
		if name == "" {
			name = id
		}
		isBlocked := blockedSet[id]
		if b := utils.FirstBool(raw, "blocked", "is_blocked"); b != nil {
			isBlocked = isBlocked || *b
		}
		out = append(out, models.ProfileApp{ID: id, Name: name, Blocked: isBlocked})
	}

	var extra []string
	for b := range blockedSet {
		if !known[b] {
			extra = append(extra, b)
		}
	}
	sort.Strings(extra)
	for _, b := range extra {
		out = append(out, models.ProfileApp{ID: b, Name: b, Blocked: true})
	}
	return out
}
