package classify

import (
	"regexp"
	"strings"

	"topoview/internal/inventory"
)

// Signals recorded in Result.Signal.
const (
	SignalMalformed    = "malformed"
	SignalSerialPrefix = "serial_prefix"
	SignalMACPrefix    = "mac_prefix"
	SignalModel        = "model"
	SignalProductType  = "product_type"
	SignalKeyword      = "keyword"
	SignalDefault      = "default"
)

// Result is the outcome of one classification with the evidence that won.
type Result struct {
	Role   Role
	Kind   ClientKind
	Signal string
	Match  string
}

// Evidence renders the result as node metadata.
func (r Result) Evidence() map[string]any {
	out := map[string]any{"signal": r.Signal}
	if r.Match != "" {
		out["match"] = r.Match
	}
	if r.Kind != KindNone {
		out["client_kind"] = string(r.Kind)
	}
	return out
}

type prefixRule struct {
	prefix string
	role   Role
}

// Declaration order matters: Q2HP appears under both appliances and switches
// upstream and resolves to the first entry.
var serialPrefixes = []prefixRule{
	{"Q2QN", RoleSecurityAppliance},
	{"Q2QP", RoleSecurityAppliance},
	{"Q2HP", RoleSecurityAppliance},
	{"Q2HN", RoleSecurityAppliance},
	{"Q2GD", RoleSecurityAppliance},
	{"Z1", RoleSecurityAppliance},
	{"Z3", RoleSecurityAppliance},
	{"Q2HW", RoleSwitch},
	{"Q2EK", RoleSwitch},
	{"Q2JN", RoleSwitch},
	{"Q2LD", RoleWirelessAP},
	{"Q2MD", RoleWirelessAP},
	{"Q2PD", RoleWirelessAP},
	{"Q2HD", RoleWirelessAP},
	{"Q2AV", RoleCamera},
	{"Q2DV", RoleCamera},
	{"Q2BV", RoleCamera},
	{"Q2ET", RoleSensor},
}

type macRule struct {
	oui  string
	role Role
	kind ClientKind
}

// Vendor OUIs that identify a client's role from its hardware address alone.
var macPrefixes = []macRule{
	{"00:40:8c", RoleCamera, KindCamera}, // Axis
	{"ac:cc:8e", RoleCamera, KindCamera}, // Axis
	{"44:19:b6", RoleCamera, KindCamera}, // Hikvision
	{"bc:ad:28", RoleCamera, KindCamera}, // Hikvision
}

type modelRule struct {
	re   *regexp.Regexp
	role Role
}

var modelPatterns = []modelRule{
	{regexp.MustCompile(`(?i)^MX\d+`), RoleSecurityAppliance},
	{regexp.MustCompile(`(?i)^Z\d+`), RoleSecurityAppliance},
	{regexp.MustCompile(`(?i)^MG\d+`), RoleSecurityAppliance},
	{regexp.MustCompile(`(?i)^MS\d+`), RoleSwitch},
	{regexp.MustCompile(`(?i)^MR\d+`), RoleWirelessAP},
	{regexp.MustCompile(`(?i)^CW\d+`), RoleWirelessAP},
	{regexp.MustCompile(`(?i)^MV\d+`), RoleCamera},
	{regexp.MustCompile(`(?i)^MT\d+`), RoleSensor},
}

var productTypes = []struct {
	value string
	role  Role
}{
	{"appliance", RoleSecurityAppliance},
	{"cellulargateway", RoleSecurityAppliance},
	{"switch", RoleSwitch},
	{"wireless", RoleWirelessAP},
	{"camera", RoleCamera},
	{"sensor", RoleSensor},
}

type family struct {
	name     string
	role     Role
	kind     ClientKind
	keywords []string
}

var deviceFamilies = []family{
	{"access_point", RoleWirelessAP, KindNone, []string{"ap", "wap", "wlan", "wireless", "access point"}},
	{"switch", RoleSwitch, KindNone, []string{"sw", "switch"}},
	{"appliance", RoleSecurityAppliance, KindNone, []string{"gw", "gateway", "router", "fw", "firewall", "appliance", "teleworker"}},
	{"camera", RoleCamera, KindNone, []string{"cam", "camera", "nvr"}},
	{"sensor", RoleSensor, KindNone, []string{"sensor", "temp", "humidity"}},
}

// When more than one family matches, the first declared wins.
var clientFamilies = []family{
	{"camera", RoleCamera, KindCamera, []string{"camera", "cam", "ipcam", "nvr", "dvr", "axis", "hikvision", "dahua"}},
	{"iot", RoleSensor, KindIoT, []string{"iot", "sensor", "thermostat", "nest", "sonos", "espressif", "tuya", "raspberry", "smart plug"}},
	{"printer", RoleClient, KindPrinter, []string{"printer", "print", "laserjet", "officejet", "deskjet", "brother", "epson", "canon", "lexmark", "xerox", "zebra"}},
	{"server", RoleClient, KindServer, []string{"server", "srv", "nas", "synology", "qnap", "truenas", "esxi", "vmware", "proxmox", "hyper-v"}},
	{"voip", RoleClient, KindVoIP, []string{"voip", "sip", "polycom", "yealink", "grandstream", "ip phone"}},
	{"tablet", RoleClient, KindTablet, []string{"ipad", "tablet", "kindle"}},
	{"mobile", RoleClient, KindMobile, []string{"iphone", "android", "mobile", "phone", "pixel", "galaxy", "ios"}},
	{"desktop", RoleClient, KindDesktop, []string{"windows", "macos", "mac os x", "desktop", "laptop", "workstation", "pc", "macbook", "imac", "thinkpad", "linux"}},
}

// Classify dispatches on the record kind. It is total: every input yields
// a valid role. Link records carry no role and classify as unknown.
func Classify(rec inventory.RawRecord) Result {
	switch {
	case rec.Kind == inventory.KindDevice && rec.Device != nil:
		return ClassifyDevice(*rec.Device)
	case rec.Kind == inventory.KindClient && rec.Client != nil:
		return ClassifyClient(*rec.Client)
	default:
		return Result{Role: RoleUnknown, Signal: SignalDefault}
	}
}

// ClassifyDevice applies serial prefix, model pattern, product type and
// name keywords in that order. First match wins.
func ClassifyDevice(d inventory.DeviceRecord) Result {
	if d.Malformed {
		return Result{Role: RoleUnknown, Signal: SignalMalformed}
	}

	serial := strings.ToUpper(strings.TrimSpace(d.Serial))
	if serial != "" {
		for _, rule := range serialPrefixes {
			if strings.HasPrefix(serial, rule.prefix) {
				return Result{Role: rule.role, Signal: SignalSerialPrefix, Match: rule.prefix}
			}
		}
	}

	model := strings.TrimSpace(d.Model)
	if model != "" {
		for _, rule := range modelPatterns {
			if m := rule.re.FindString(model); m != "" {
				return Result{Role: rule.role, Signal: SignalModel, Match: m}
			}
		}
	}

	pt := strings.ToLower(strings.TrimSpace(d.ProductType))
	for _, p := range productTypes {
		if pt == p.value {
			return Result{Role: p.role, Signal: SignalProductType, Match: pt}
		}
	}

	if f, kw, ok := matchFamily(deviceFamilies, d.Name, d.Model); ok {
		return Result{Role: f.role, Signal: SignalKeyword, Match: kw}
	}
	return Result{Role: RoleUnknown, Signal: SignalDefault}
}

// ClassifyClient applies the hardware-address prefix table and then the
// keyword families. A well-formed client that matches nothing is a plain
// client; only malformed records become unknown.
func ClassifyClient(c inventory.ClientRecord) Result {
	if c.Malformed {
		return Result{Role: RoleUnknown, Signal: SignalMalformed}
	}

	mac := strings.ToLower(strings.TrimSpace(c.MAC))
	if mac != "" {
		for _, rule := range macPrefixes {
			if strings.HasPrefix(mac, rule.oui) {
				return Result{Role: rule.role, Kind: rule.kind, Signal: SignalMACPrefix, Match: rule.oui}
			}
		}
	}

	if f, kw, ok := matchFamily(clientFamilies, c.Description, c.DHCPHostname, c.Manufacturer, c.OS); ok {
		return Result{Role: f.role, Kind: f.kind, Signal: SignalKeyword, Match: kw}
	}
	return Result{Role: RoleClient, Kind: KindOther, Signal: SignalDefault}
}

// matchFamily returns the first family with a keyword present in any field.
// Single-word keywords match whole tokens; multi-word keywords match as
// substrings of the lowercased text.
func matchFamily(families []family, fields ...string) (family, string, bool) {
	var parts []string
	for _, f := range fields {
		if v := strings.ToLower(strings.TrimSpace(f)); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return family{}, "", false
	}
	text := strings.Join(parts, " ")
	tokens := make(map[string]struct{})
	for _, t := range tokenize(text) {
		tokens[t] = struct{}{}
		// "sw1", "ap03" also count as "sw", "ap".
		if trimmed := strings.TrimRight(t, "0123456789"); trimmed != "" {
			tokens[trimmed] = struct{}{}
		}
	}

	for _, f := range families {
		for _, kw := range f.keywords {
			if strings.ContainsAny(kw, " -") {
				if strings.Contains(text, kw) {
					return f, kw, true
				}
				continue
			}
			if _, ok := tokens[kw]; ok {
				return f, kw, true
			}
		}
	}
	return family{}, "", false
}

func tokenize(value string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
	}

	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			buf.WriteRune(r)
		case r >= '0' && r <= '9':
			buf.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
