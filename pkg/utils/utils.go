package utils

import (
	"encoding/json"
	"math"
	"net"
	"strconv"
	"strings"
)

// InterfaceToFloat64 converts the numeric shapes the cloud API emits to float64.
// Numeric strings may carry a unit suffix ("12.5 Mbps", "80%").
func InterfaceToFloat64(n interface{}) (float64, bool) {
	switch x := n.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil && !math.IsNaN(f)
	case string:
		return parseNumericString(x)
	case float32:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x)
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint:
		return float64(x), true
	default:
		return 0, false
	}
}

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	// strip a trailing unit ("12.5 Mbps", "80%")
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	return f, err == nil
}

// ParseBool accepts the boolean spellings seen across firmware versions.
func ParseBool(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "on", "enabled", "enable", "1", "connected", "online", "active":
			return true, true
		case "false", "no", "off", "disabled", "disable", "0", "disconnected", "offline", "inactive":
			return false, true
		}
		return false, false
	default:
		if f, ok := InterfaceToFloat64(v); ok {
			if f == 0 {
				return false, true
			}
			if f == 1 {
				return true, true
			}
		}
		return false, false
	}
}

// NormalizeMAC returns the lowercase colon-separated form of a MAC address,
// or "" if the input does not parse.
func NormalizeMAC(mac string) string {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return ""
	}
	hw, err := net.ParseMAC(mac)
	if err == nil {
		return strings.ToLower(hw.String())
	}
	// bare 12-hex form
	compact := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.ToLower(mac))
	if len(compact) != 12 {
		return ""
	}
	for _, c := range compact {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return ""
		}
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, compact[i:i+2])
	}
	return strings.Join(parts, ":")
}

// IsEmpty reports whether v carries no information: nil, blank string,
// empty slice or empty map.
func IsEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []interface{}:
		return len(x) == 0
	case map[string]interface{}:
		return len(x) == 0
	default:
		return false
	}
}

// SubNetMaskToLen converts a dotted subnet mask to its prefix length.
func SubNetMaskToLen(netmask string) (int, error) {
	ip := net.ParseIP(strings.TrimSpace(netmask)).To4()
	if ip == nil {
		return 0, &netmaskValidationError{netmask: netmask}
	}
	ones, bits := net.IPv4Mask(ip[0], ip[1], ip[2], ip[3]).Size()
	if bits == 0 {
		return 0, &netmaskValidationError{netmask: netmask}
	}
	return ones, nil
}

type netmaskValidationError struct {
	netmask string
}

func (e *netmaskValidationError) Error() string {
	return "invalid netmask format: " + e.netmask
}
