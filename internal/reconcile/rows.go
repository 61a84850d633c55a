package reconcile

import (
	"strings"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// unionBy merges fresh rows with their previous counterparts and appends
// previous rows nothing in fresh matched. keys lists a row's match keys in
// priority order; a previous row is consumed by at most one fresh row.
// Every fresh row is matched by id before any fallback key is tried, so a
// fallback match can never claim the row another fresh row names by id.
func unionBy[T any](fresh, prev []T, keys func(T) []string, merge func(f, p T) T) []T {
	if len(fresh) == 0 && len(prev) == 0 {
		return nil
	}

	index := make(map[string]int, len(prev))
	for i, p := range prev {
		for _, k := range keys(p) {
			if _, taken := index[k]; !taken {
				index[k] = i
			}
		}
	}

	matches := make([]int, len(fresh))
	for i := range matches {
		matches[i] = -1
	}
	consumed := make(map[int]bool, len(prev))
	claim := func(byID bool) {
		for fi, f := range fresh {
			if matches[fi] >= 0 {
				continue
			}
			for _, k := range keys(f) {
				if strings.HasPrefix(k, idKeyPrefix) != byID {
					continue
				}
				if i, ok := index[k]; ok && !consumed[i] {
					matches[fi] = i
					consumed[i] = true
					break
				}
			}
		}
	}
	claim(true)
	claim(false)

	out := make([]T, 0, len(fresh)+len(prev))
	for fi, f := range fresh {
		if matches[fi] < 0 {
			var zero T
			out = append(out, merge(f, zero))
			continue
		}
		out = append(out, merge(f, prev[matches[fi]]))
	}
	for i, p := range prev {
		if !consumed[i] {
			out = append(out, p)
		}
	}
	return out
}

const idKeyPrefix = "id:"

func rowKeys(id string, mac *string, url string) []string {
	keys := make([]string, 0, 3)
	if id != "" {
		keys = append(keys, idKeyPrefix+id)
	}
	if mac != nil {
		if m := utils.NormalizeMAC(*mac); m != "" {
			keys = append(keys, "mac:"+m)
		}
	}
	if url != "" {
		keys = append(keys, "url:"+url)
	}
	return keys
}

func clientKeys(c models.Client) []string { return rowKeys(c.ID, c.MAC, c.SourceURL) }
func deviceKeys(d models.Device) []string { return rowKeys(d.ID, d.MAC, d.SourceURL) }
func profileKeys(p models.Profile) []string {
	return rowKeys(p.ID, nil, p.SourceURL)
}

// stableID keeps the previous id when the rows were matched through a
// fallback key, so references to the row survive a refresh.
func stableID(fresh, prev string) string {
	if prev != "" {
		return prev
	}
	return fresh
}

func mergeClients(fresh, prev []models.Client) []models.Client {
	return unionBy(fresh, prev, clientKeys, func(f, p models.Client) models.Client {
		return models.Client{
			ID:            stableID(f.ID, p.ID),
			SourceURL:     pickURL(f.SourceURL, p.SourceURL),
			MAC:           pickStr(f.MAC, p.MAC),
			IP:            pickStr(f.IP, p.IP),
			Name:          pickStr(f.Name, p.Name),
			Connected:     pick(f.Connected, p.Connected),
			Paused:        pick(f.Paused, p.Paused),
			Guest:         pick(f.Guest, p.Guest),
			Wireless:      pick(f.Wireless, p.Wireless),
			SignalDBM:     pick(f.SignalDBM, p.SignalDBM),
			RxRateMbps:    pick(f.RxRateMbps, p.RxRateMbps),
			TxRateMbps:    pick(f.TxRateMbps, p.TxRateMbps),
			Channel:       pick(f.Channel, p.Channel),
			Band:          pickStr(f.Band, p.Band),
			UsageDownMbps: pick(f.UsageDownMbps, p.UsageDownMbps),
			UsageUpMbps:   pick(f.UsageUpMbps, p.UsageUpMbps),
			Usage:         mergeUsage(f.Usage, p.Usage),
			Source:        mergeSource(f.Source, p.Source),
			ProfileID:     pickStr(f.ProfileID, p.ProfileID),
		}
	})
}

func mergeDevices(fresh, prev []models.Device) []models.Device {
	return unionBy(fresh, prev, deviceKeys, func(f, p models.Device) models.Device {
		return models.Device{
			ID:        stableID(f.ID, p.ID),
			SourceURL: pickURL(f.SourceURL, p.SourceURL),
			MAC:       pickStr(f.MAC, p.MAC),
			Serial:    pickStr(f.Serial, p.Serial),
			Model:     pickStr(f.Model, p.Model),
			Location:  pickStr(f.Location, p.Location),
			Gateway:   pick(f.Gateway, p.Gateway),
			Online:    pick(f.Online, p.Online),
			Status:    pickStr(f.Status, p.Status),
			Firmware:  pickStr(f.Firmware, p.Firmware),
			Backhaul:  pickStr(f.Backhaul, p.Backhaul),
			Ports:     mergePorts(f.Ports, p.Ports),
			Usage:     mergeUsage(f.Usage, p.Usage),
		}
	})
}

func mergePorts(fresh, prev []models.EthernetPort) []models.EthernetPort {
	return unionBy(fresh, prev, func(p models.EthernetPort) []string {
		return []string{p.Key()}
	}, func(f, p models.EthernetPort) models.EthernetPort {
		return models.EthernetPort{
			Interface:    f.Interface,
			Port:         f.Port,
			Carrier:      pick(f.Carrier, p.Carrier),
			SpeedMbps:    pick(f.SpeedMbps, p.SpeedMbps),
			Peers:        pick(f.Peers, p.Peers),
			NeighborName: pickStr(f.NeighborName, p.NeighborName),
			NeighborMAC:  pickStr(f.NeighborMAC, p.NeighborMAC),
		}
	})
}

func mergeProfiles(fresh, prev []models.Profile) []models.Profile {
	return unionBy(fresh, prev, profileKeys, func(f, p models.Profile) models.Profile {
		return models.Profile{
			ID:          stableID(f.ID, p.ID),
			SourceURL:   pickURL(f.SourceURL, p.SourceURL),
			Name:        pickStr(f.Name, p.Name),
			Paused:      pick(f.Paused, p.Paused),
			Filters:     pickMap(f.Filters, p.Filters),
			BlockedApps: pickSlice(f.BlockedApps, p.BlockedApps),
			Apps:        pickSlice(f.Apps, p.Apps),
			ClientIDs:   pickSlice(f.ClientIDs, p.ClientIDs),
		}
	})
}
