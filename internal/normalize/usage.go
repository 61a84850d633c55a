package normalize

import (
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// UsageIndex maps identity keys (mac, url, raw id) to per-period usage so
// usage rows can be matched to clients and nodes whatever identifier they carry.
type UsageIndex map[string]*models.UsageSummary

func identityKeys(row interface{}) []string {
	var keys []string
	if mac := utils.NormalizeMAC(str(utils.FirstString(row, "mac", "mac_address", "macAddress"))); mac != "" {
		keys = append(keys, "mac:"+mac)
	}
	if u := resourceURL(row); u != "" {
		keys = append(keys, "url:"+u)
	}
	if id := utils.FirstString(row, "id", "device_id", "eero_id", "serial"); id != nil {
		keys = append(keys, "id:"+*id)
	}
	return keys
}

func usageIndex(in NetworkInput, scope string) UsageIndex {
	idx := UsageIndex{}
	for _, period := range UsagePeriods {
		for _, row := range utils.AsList(in.get(UsageKey(scope, period))) {
			w := usageWindow(row)
			if w == nil {
				continue
			}
			keys := identityKeys(row)
			if len(keys) == 0 {
				continue
			}
			var s *models.UsageSummary
			for _, k := range keys {
				if existing := idx[k]; existing != nil {
					s = existing
					break
				}
			}
			if s == nil {
				s = &models.UsageSummary{}
			}
			setWindow(s, period, w)
			for _, k := range keys {
				idx[k] = s
			}
		}
	}
	return idx
}

func (idx UsageIndex) lookup(row interface{}) *models.UsageSummary {
	for _, k := range identityKeys(row) {
		if s := idx[k]; s != nil {
			return s
		}
	}
	return nil
}

func usageWindow(v interface{}) *models.UsageWindow {
	w := &models.UsageWindow{
		DownloadMB: utils.FirstFloat(v, "download_mb", "download", "down", "usage.download", "rx_mb"),
		UploadMB:   utils.FirstFloat(v, "upload_mb", "upload", "up", "usage.upload", "tx_mb"),
	}
	if w.DownloadMB == nil && w.UploadMB == nil {
		return nil
	}
	return w
}

func setWindow(s *models.UsageSummary, period string, w *models.UsageWindow) {
	switch period {
	case PeriodDay:
		s.Day = w
	case PeriodWeek:
		s.Week = w
	case PeriodMonth:
		s.Month = w
	}
}

func usageSummary(day, week, month interface{}) *models.UsageSummary {
	s := &models.UsageSummary{
		Day:   usageWindow(day),
		Week:  usageWindow(week),
		Month: usageWindow(month),
	}
	if s.Day == nil && s.Week == nil && s.Month == nil {
		return nil
	}
	return s
}
