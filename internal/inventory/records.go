package inventory

import (
	"strings"
	"time"
)

// Kind tags a RawRecord with the payload family it came from.
type Kind string

const (
	KindDevice Kind = "device"
	KindClient Kind = "client"
	KindLink   Kind = "link"
)

// Medium is the connection medium hint carried by clients and links.
type Medium string

const (
	MediumUnknown  Medium = ""
	MediumWired    Medium = "wired"
	MediumWireless Medium = "wireless"
)

// DeviceRecord is one network device as returned by the dashboard inventory.
type DeviceRecord struct {
	Serial      string   `json:"serial,omitempty" validate:"required_without=MAC"`
	MAC         string   `json:"mac,omitempty" validate:"omitempty,mac"`
	Name        string   `json:"name,omitempty"`
	Model       string   `json:"model,omitempty"`
	ProductType string   `json:"product_type,omitempty"`
	Firmware    string   `json:"firmware,omitempty"`
	Status      string   `json:"status,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	LanIP       string   `json:"lan_ip,omitempty" validate:"omitempty,ip"`
	NetworkID   string   `json:"network_id,omitempty"`
	Vendor      string   `json:"vendor,omitempty"`
	Uplinks     []Uplink `json:"uplinks,omitempty"`

	// Malformed is set at ingestion when the identifier is missing or invalid.
	Malformed bool     `json:"malformed,omitempty"`
	Problems  []string `json:"problems,omitempty"`
}

// ID returns the record identifier: serial first, MAC second.
func (d DeviceRecord) ID() string {
	if s := strings.TrimSpace(d.Serial); s != "" {
		return s
	}
	if d.Malformed {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(d.MAC))
}

// DefaultVendor is assumed for devices reported by the dashboard itself.
const DefaultVendor = "meraki"

// VendorName returns the lowercased vendor, or DefaultVendor when unset.
func (d DeviceRecord) VendorName() string {
	if v := strings.ToLower(strings.TrimSpace(d.Vendor)); v != "" {
		return v
	}
	return DefaultVendor
}

// Uplink is one WAN or cellular uplink reported by an appliance.
type Uplink struct {
	Interface string `json:"interface"`
	Status    string `json:"status,omitempty"`
	IP        string `json:"ip,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
	PublicIP  string `json:"public_ip,omitempty"`
}

// Usage holds client traffic counters in kilobytes.
type Usage struct {
	Sent float64 `json:"sent"`
	Recv float64 `json:"recv"`
}

// ClientRecord is one client seen by the dashboard within the lookback window.
type ClientRecord struct {
	ClientID       string    `json:"id,omitempty" validate:"required_without=MAC"`
	MAC            string    `json:"mac,omitempty" validate:"omitempty,mac"`
	Description    string    `json:"description,omitempty"`
	DHCPHostname   string    `json:"dhcp_hostname,omitempty"`
	IP             string    `json:"ip,omitempty" validate:"omitempty,ip"`
	Manufacturer   string    `json:"manufacturer,omitempty"`
	OS             string    `json:"os,omitempty"`
	SSID           string    `json:"ssid,omitempty"`
	VLAN           string    `json:"vlan,omitempty"`
	ParentDeviceID string    `json:"parent_device_id,omitempty"`
	ParentName     string    `json:"parent_name,omitempty"`
	Medium         Medium    `json:"medium,omitempty"`
	Switchport     string    `json:"switchport,omitempty"`
	SwitchportDesc string    `json:"switchport_desc,omitempty"`
	Status         string    `json:"status,omitempty"`
	Usage          Usage     `json:"usage"`
	FirstSeen      time.Time `json:"first_seen,omitempty"`
	LastSeen       time.Time `json:"last_seen,omitempty"`

	// ReverseName is filled by reverse DNS enrichment, never by the dashboard.
	ReverseName string `json:"reverse_name,omitempty"`

	Malformed bool     `json:"malformed,omitempty"`
	Problems  []string `json:"problems,omitempty"`
}

// ID returns the API-assigned client id, falling back to the MAC.
func (c ClientRecord) ID() string {
	if s := strings.TrimSpace(c.ClientID); s != "" {
		return s
	}
	if c.Malformed {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.MAC))
}

// EffectiveMedium resolves the connection medium: an explicit hint wins,
// otherwise an SSID implies wireless. Unknown stays unknown.
func (c ClientRecord) EffectiveMedium() Medium {
	if c.Medium != MediumUnknown {
		return c.Medium
	}
	if strings.TrimSpace(c.SSID) != "" {
		return MediumWireless
	}
	return MediumUnknown
}

// LinkRecord is one authoritative link from the dashboard topology endpoint
// or from an LLDP/CDP walk.
type LinkRecord struct {
	SourceID   string `json:"source_id" validate:"required"`
	TargetID   string `json:"target_id" validate:"required"`
	Medium     string `json:"medium,omitempty"`
	SourcePort string `json:"source_port,omitempty"`
	TargetPort string `json:"target_port,omitempty"`
	Origin     string `json:"origin,omitempty"` // "dashboard" | "lldp" | "cdp"
}

// RawRecord is the closed union handed from ingestion to the classifier.
// Exactly one of Device, Client or Link is set, matching Kind.
type RawRecord struct {
	Kind   Kind
	Device *DeviceRecord
	Client *ClientRecord
	Link   *LinkRecord
}

func FromDevice(d DeviceRecord) RawRecord { return RawRecord{Kind: KindDevice, Device: &d} }
func FromClient(c ClientRecord) RawRecord { return RawRecord{Kind: KindClient, Client: &c} }
func FromLink(l LinkRecord) RawRecord     { return RawRecord{Kind: KindLink, Link: &l} }

// ParseMedium maps free-form medium hints onto a Medium.
func ParseMedium(value string) Medium {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "wired", "ethernet", "lan", "wired_client":
		return MediumWired
	case "wireless", "wifi", "wi-fi", "wlan", "802.11":
		return MediumWireless
	default:
		return MediumUnknown
	}
}
