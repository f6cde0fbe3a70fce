package classify

import "strings"

// Role is the classified category of a node. Exactly one per node.
type Role string

const (
	RoleSecurityAppliance Role = "security_appliance"
	RoleSwitch            Role = "switch"
	RoleWirelessAP        Role = "wireless_ap"
	RoleCamera            Role = "camera"
	RoleSensor            Role = "sensor"
	RoleClient            Role = "client"
	RoleUnknown           Role = "unknown"
)

var allRoles = []Role{
	RoleSecurityAppliance,
	RoleSwitch,
	RoleWirelessAP,
	RoleCamera,
	RoleSensor,
	RoleClient,
	RoleUnknown,
}

func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

func IsValidRole(r Role) bool {
	for _, v := range allRoles {
		if v == r {
			return true
		}
	}
	return false
}

// ParseRole accepts a role name in any case.
func ParseRole(value string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	if !IsValidRole(r) {
		return "", false
	}
	return r, true
}

// IsInfrastructure reports whether the role is a managed network device
// rather than an attached client.
func (r Role) IsInfrastructure() bool {
	switch r {
	case RoleSecurityAppliance, RoleSwitch, RoleWirelessAP, RoleCamera, RoleSensor:
		return true
	default:
		return false
	}
}

// ClientKind refines RoleClient (and client-side cameras and sensors) for
// icon selection. It never affects graph structure.
type ClientKind string

const (
	KindNone    ClientKind = ""
	KindMobile  ClientKind = "mobile"
	KindDesktop ClientKind = "desktop"
	KindPrinter ClientKind = "printer"
	KindServer  ClientKind = "server"
	KindCamera  ClientKind = "camera"
	KindIoT     ClientKind = "iot"
	KindVoIP    ClientKind = "voip"
	KindTablet  ClientKind = "tablet"
	KindOther   ClientKind = "other"
)

// Capability names an upstream feature or endpoint family.
type Capability string

const (
	CapUplink           Capability = "uplink"
	CapFirewall         Capability = "firewall"
	CapVPN              Capability = "vpn"
	CapTrafficShaping   Capability = "traffic_shaping"
	CapContentFiltering Capability = "content_filtering"
	CapCellular         Capability = "cellular"
	CapPorts            Capability = "ports"
	CapVLANs            Capability = "vlans"
	CapSTP              Capability = "stp"
	CapQoS              Capability = "qos"
	CapSSIDs            Capability = "ssids"
	CapRFProfiles       Capability = "rf_profiles"
	CapBluetooth        Capability = "bluetooth"
	CapVideo            Capability = "video"
	CapMotionDetection  Capability = "motion_detection"
	CapSensorReadings   Capability = "sensor_readings"
	CapLLDP             Capability = "lldp"
)

var capabilities = map[Role][]Capability{
	RoleSecurityAppliance: {CapUplink, CapFirewall, CapVPN, CapTrafficShaping, CapContentFiltering, CapCellular, CapLLDP},
	RoleSwitch:            {CapPorts, CapVLANs, CapSTP, CapQoS, CapLLDP},
	RoleWirelessAP:        {CapSSIDs, CapRFProfiles, CapBluetooth, CapLLDP},
	RoleCamera:            {CapVideo, CapMotionDetection},
	RoleSensor:            {CapSensorReadings},
}

// SupportsCapability reports whether devices of role are expected to expose
// the capability upstream. The table is static.
func SupportsCapability(role Role, capability Capability) bool {
	for _, c := range capabilities[role] {
		if c == capability {
			return true
		}
	}
	return false
}

// Capabilities returns a copy of the capability row for role.
func Capabilities(role Role) []Capability {
	row := capabilities[role]
	out := make([]Capability, len(row))
	copy(out, row)
	return out
}
