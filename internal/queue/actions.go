package queue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/models"
)

// Feature names accepted by SetNetworkFeature.
const (
	FeatureAdBlock      = "ad_block"
	FeatureBlockMalware = "block_malware"
	FeatureBandSteering = "band_steering"
	FeatureUPnP         = "upnp"
	FeatureWPA3         = "wpa3"
	FeatureThread       = "thread"
	FeatureSQM          = "sqm"
	FeatureIPv6Upstream = "ipv6_upstream"
)

// dnsPolicyFeatures live under the network's dns_policies resource instead
// of the network body itself.
var dnsPolicyFeatures = map[string]bool{
	FeatureAdBlock:      true,
	FeatureBlockMalware: true,
}

var networkFeatures = map[string]bool{
	FeatureBandSteering: true,
	FeatureUPnP:         true,
	FeatureWPA3:         true,
	FeatureThread:       true,
	FeatureSQM:          true,
	FeatureIPv6Upstream: true,
}

// RequiresConfirmation reports whether the caller must confirm the action
// before it is submitted.
func RequiresConfirmation(a models.Action, confirmModerate bool) bool {
	switch a.Risk {
	case models.RiskHigh:
		return true
	case models.RiskModerate:
		return confirmModerate
	default:
		return false
	}
}

func networkURL(n *models.Network) (string, error) {
	if n == nil {
		return "", fmt.Errorf("network not found")
	}
	if strings.TrimSpace(n.SourceURL) == "" {
		return "", fmt.Errorf("network %s has no resource url", n.ID)
	}
	return strings.TrimRight(n.SourceURL, "/"), nil
}

func jsonBody(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func PauseClient(n *models.Network, c *models.Client, paused bool) (models.Action, error) {
	if _, err := networkURL(n); err != nil {
		return models.Action{}, err
	}
	if c == nil {
		return models.Action{}, fmt.Errorf("client not found")
	}
	if c.SourceURL == "" {
		return models.Action{}, fmt.Errorf("client %s has no resource url", c.ID)
	}
	verb := "Resume"
	if paused {
		verb = "Pause"
	}
	name := c.ID
	if c.Name != nil && *c.Name != "" {
		name = *c.Name
	}
	return models.Action{
		Kind:          models.ActionPauseClient,
		NetworkID:     n.ID,
		ClientID:      c.ID,
		Endpoint:      c.SourceURL,
		Method:        http.MethodPut,
		Body:          jsonBody(map[string]bool{"paused": paused}),
		Label:         fmt.Sprintf("%s %s", verb, name),
		Risk:          models.RiskLow,
		QueueEligible: true,
	}, nil
}

func PauseProfile(n *models.Network, p *models.Profile, paused bool) (models.Action, error) {
	if _, err := networkURL(n); err != nil {
		return models.Action{}, err
	}
	if p == nil {
		return models.Action{}, fmt.Errorf("profile not found")
	}
	if p.SourceURL == "" {
		return models.Action{}, fmt.Errorf("profile %s has no resource url", p.ID)
	}
	verb := "Resume"
	if paused {
		verb = "Pause"
	}
	name := p.ID
	if p.Name != nil && *p.Name != "" {
		name = *p.Name
	}
	return models.Action{
		Kind:          models.ActionPauseProfile,
		NetworkID:     n.ID,
		ProfileID:     p.ID,
		Endpoint:      p.SourceURL,
		Method:        http.MethodPut,
		Body:          jsonBody(map[string]bool{"paused": paused}),
		Label:         fmt.Sprintf("%s profile %s", verb, name),
		Risk:          models.RiskModerate,
		QueueEligible: true,
	}, nil
}

// SetNetworkFeature toggles one named network feature. DNS filtering
// features are written through the network's DNS policy resource.
func SetNetworkFeature(n *models.Network, feature string, enabled bool) (models.Action, error) {
	base, err := networkURL(n)
	if err != nil {
		return models.Action{}, err
	}
	endpoint := base
	switch {
	case dnsPolicyFeatures[feature]:
		endpoint = base + "/dns_policies/network"
	case networkFeatures[feature]:
	default:
		return models.Action{}, fmt.Errorf("unknown feature %q", feature)
	}
	return models.Action{
		Kind:          models.ActionSetFeature,
		NetworkID:     n.ID,
		Endpoint:      endpoint,
		Method:        http.MethodPut,
		Body:          jsonBody(map[string]bool{feature: enabled}),
		Label:         fmt.Sprintf("Turn %s %s on %s", strings.ReplaceAll(feature, "_", " "), onOff(enabled), n.DisplayName()),
		Risk:          models.RiskModerate,
		QueueEligible: true,
	}, nil
}

func SetGuestNetwork(n *models.Network, enabled bool) (models.Action, error) {
	base, err := networkURL(n)
	if err != nil {
		return models.Action{}, err
	}
	return models.Action{
		Kind:          models.ActionSetGuestNetwork,
		NetworkID:     n.ID,
		Endpoint:      base + "/guestnetwork",
		Method:        http.MethodPut,
		Body:          jsonBody(map[string]bool{"enabled": enabled}),
		Label:         fmt.Sprintf("Turn guest network %s on %s", onOff(enabled), n.DisplayName()),
		Risk:          models.RiskModerate,
		QueueEligible: true,
	}, nil
}

// BlockApplication adds or removes one application from the profile's
// blocked set. The full resulting list is sent, so replaying it later is
// idempotent.
func BlockApplication(n *models.Network, p *models.Profile, app string, blocked bool) (models.Action, error) {
	if _, err := networkURL(n); err != nil {
		return models.Action{}, err
	}
	if p == nil {
		return models.Action{}, fmt.Errorf("profile not found")
	}
	if p.SourceURL == "" {
		return models.Action{}, fmt.Errorf("profile %s has no resource url", p.ID)
	}
	app = strings.TrimSpace(app)
	if app == "" {
		return models.Action{}, fmt.Errorf("application is required")
	}

	list := make([]string, 0, len(p.BlockedApps)+1)
	for _, a := range p.BlockedApps {
		if a != app {
			list = append(list, a)
		}
	}
	verb := "Unblock"
	if blocked {
		list = append(list, app)
		verb = "Block"
	}
	return models.Action{
		Kind:          models.ActionBlockApplication,
		NetworkID:     n.ID,
		ProfileID:     p.ID,
		Endpoint:      strings.TrimRight(p.SourceURL, "/") + "/dns_policies/applications",
		Method:        http.MethodPut,
		Body:          jsonBody(map[string][]string{"blocked_applications": list}),
		Label:         fmt.Sprintf("%s %s", verb, app),
		Risk:          models.RiskLow,
		QueueEligible: true,
	}, nil
}

func RebootDevice(n *models.Network, d *models.Device) (models.Action, error) {
	if _, err := networkURL(n); err != nil {
		return models.Action{}, err
	}
	if d == nil {
		return models.Action{}, fmt.Errorf("device not found")
	}
	if d.SourceURL == "" {
		return models.Action{}, fmt.Errorf("device %s has no resource url", d.ID)
	}
	name := d.ID
	if d.Location != nil && *d.Location != "" {
		name = *d.Location
	}
	return models.Action{
		Kind:      models.ActionRebootDevice,
		NetworkID: n.ID,
		DeviceID:  d.ID,
		Endpoint:  strings.TrimRight(d.SourceURL, "/") + "/reboot",
		Method:    http.MethodPost,
		Label:     "Reboot " + name,
		Risk:      models.RiskHigh,
	}, nil
}

func RebootNetwork(n *models.Network) (models.Action, error) {
	base, err := networkURL(n)
	if err != nil {
		return models.Action{}, err
	}
	return models.Action{
		Kind:      models.ActionRebootNetwork,
		NetworkID: n.ID,
		Endpoint:  base + "/reboot",
		Method:    http.MethodPost,
		Label:     "Reboot " + n.DisplayName(),
		Risk:      models.RiskHigh,
	}, nil
}

func RunSpeedTest(n *models.Network) (models.Action, error) {
	base, err := networkURL(n)
	if err != nil {
		return models.Action{}, err
	}
	return models.Action{
		Kind:      models.ActionRunSpeedTest,
		NetworkID: n.ID,
		Endpoint:  base + "/speedtest",
		Method:    http.MethodPost,
		Label:     "Run speed test on " + n.DisplayName(),
		Risk:      models.RiskLow,
	}, nil
}

// Request is the transport form of an action: which kind, which targets
// by derived id, and the desired value.
type Request struct {
	Kind      models.ActionKind `json:"kind" validate:"required"`
	NetworkID string            `json:"network_id" validate:"required"`
	ClientID  string            `json:"client_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	ProfileID string            `json:"profile_id,omitempty"`
	Feature   string            `json:"feature,omitempty"`
	App       string            `json:"app,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// FromRequest resolves a request against the snapshot and builds the action.
func FromRequest(snap *models.AccountSnapshot, req Request) (models.Action, error) {
	if err := validate.Struct(req); err != nil {
		return models.Action{}, errors.NewInvalidPayloadError("invalid action request", err)
	}
	n := snap.Network(req.NetworkID)
	if n == nil {
		return models.Action{}, fmt.Errorf("network %s not found", req.NetworkID)
	}

	switch req.Kind {
	case models.ActionPauseClient:
		return PauseClient(n, n.Client(req.ClientID), req.Enabled)
	case models.ActionPauseProfile:
		return PauseProfile(n, n.Profile(req.ProfileID), req.Enabled)
	case models.ActionSetFeature:
		return SetNetworkFeature(n, req.Feature, req.Enabled)
	case models.ActionSetGuestNetwork:
		return SetGuestNetwork(n, req.Enabled)
	case models.ActionBlockApplication:
		return BlockApplication(n, n.Profile(req.ProfileID), req.App, req.Enabled)
	case models.ActionRebootDevice:
		return RebootDevice(n, n.Device(req.DeviceID))
	case models.ActionRebootNetwork:
		return RebootNetwork(n)
	case models.ActionRunSpeedTest:
		return RunSpeedTest(n)
	default:
		return models.Action{}, fmt.Errorf("unknown action kind %q", req.Kind)
	}
}
