package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/helloworlde/meshkeeper/pkg/utils"
)

const (
	KindNetwork = "network"
	KindClient  = "client"
	KindDevice  = "device"
	KindProfile = "profile"
)

// DeriveID hashes the first non-blank identity part into a stable token of the
// form kind_<16 hex chars>. It returns "" when every part is blank.
func DeriveID(kind string, parts ...string) string {
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sum := sha256.Sum256([]byte(kind + ":" + strings.ToLower(p)))
		return kind + "_" + hex.EncodeToString(sum[:8])
	}
	return ""
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// NumericTail returns the trailing numeric path segment of a resource URL,
// "/2.2/networks/12345/" -> "12345".
func NumericTail(resource string) string {
	if i := strings.IndexAny(resource, "?#"); i >= 0 {
		resource = resource[:i]
	}
	resource = strings.TrimRight(resource, "/")
	seg := resource
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		seg = resource[i+1:]
	}
	if seg == "" {
		return ""
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return seg
}

func resourceURL(row interface{}) string {
	return str(utils.FirstString(row, "url", "resource_url", "href"))
}

// NetworkID derives a network id from the numeric tail of its resource URL,
// else its raw id, else its name.
func NetworkID(row interface{}) string {
	return DeriveID(KindNetwork,
		NumericTail(resourceURL(row)),
		str(utils.FirstString(row, "id", "network_id")),
		str(utils.FirstString(row, "name")),
	)
}

// ProfileID follows the same rule as NetworkID.
func ProfileID(row interface{}) string {
	return DeriveID(KindProfile,
		NumericTail(resourceURL(row)),
		str(utils.FirstString(row, "id", "profile_id")),
		str(utils.FirstString(row, "name")),
	)
}

// ClientMAC returns the normalized MAC address of a client row.
func ClientMAC(row interface{}) string {
	return utils.NormalizeMAC(str(utils.FirstString(row, "mac", "mac_address", "macAddress")))
}

// ClientID derives a client id from its MAC, else serial, else resource URL,
// else raw id, else name. MAC first keeps identity stable when the API
// reissues its own identifiers.
func ClientID(row interface{}) string {
	return DeriveID(KindClient,
		ClientMAC(row),
		str(utils.FirstString(row, "serial")),
		resourceURL(row),
		str(utils.FirstString(row, "id", "device_id")),
		str(utils.FirstString(row, "hostname", "nickname", "display_name", "name")),
	)
}

func DeviceMAC(row interface{}) string {
	return utils.NormalizeMAC(str(utils.FirstString(row, "mac_address", "mac", "ethernet_addresses.0")))
}

// DeviceID uses the same precedence as ClientID for mesh nodes.
func DeviceID(row interface{}) string {
	return DeriveID(KindDevice,
		DeviceMAC(row),
		str(utils.FirstString(row, "serial", "serial_number")),
		resourceURL(row),
		str(utils.FirstString(row, "id", "eero_id")),
		str(utils.FirstString(row, "location", "name")),
	)
}
