package inventory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DecodeDevices decodes a dashboard device list. Elements that are not JSON
// objects still produce a (Malformed) record so device counts are preserved.
// Only a payload that is not a JSON array at all is an error.
func DecodeDevices(payload []byte) ([]DeviceRecord, error) {
	items, err := decodeArray(payload)
	if err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	out := make([]DeviceRecord, 0, len(items))
	for _, m := range items {
		out = append(out, NormalizeDevice(deviceFromMap(m)))
	}
	return out, nil
}

// DecodeClients decodes a dashboard client list.
func DecodeClients(payload []byte) ([]ClientRecord, error) {
	items, err := decodeArray(payload)
	if err != nil {
		return nil, fmt.Errorf("decode clients: %w", err)
	}
	out := make([]ClientRecord, 0, len(items))
	for _, m := range items {
		out = append(out, NormalizeClient(clientFromMap(m)))
	}
	return out, nil
}

// DecodeLinks decodes topology link payloads. Both a bare array and an
// object with a "links" array are accepted. Links whose endpoints cannot be
// determined are dropped here; they could never resolve to nodes.
func DecodeLinks(payload []byte) ([]LinkRecord, error) {
	var wrapper struct {
		Links []json.RawMessage `json:"links"`
	}
	trimmed := strings.TrimSpace(string(payload))
	var items []map[string]any
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(payload, &wrapper); err != nil {
			return nil, fmt.Errorf("decode links: %w", err)
		}
		for _, raw := range wrapper.Links {
			items = append(items, objectOrNil(raw))
		}
	} else {
		var err error
		items, err = decodeArray(payload)
		if err != nil {
			return nil, fmt.Errorf("decode links: %w", err)
		}
	}

	out := make([]LinkRecord, 0, len(items))
	for _, m := range items {
		l := linkFromMap(m)
		if !ValidLink(l) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// DecodeUplinks decodes a device uplink list. Entries without an interface
// name are skipped.
func DecodeUplinks(payload []byte) ([]Uplink, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, nil
	}
	items, err := decodeArray(payload)
	if err != nil {
		return nil, fmt.Errorf("decode uplinks: %w", err)
	}
	out := make([]Uplink, 0, len(items))
	for _, m := range items {
		u := Uplink{
			Interface: str(m, "interface"),
			Status:    strings.ToLower(str(m, "status")),
			IP:        str(m, "ip"),
			Gateway:   str(m, "gateway"),
			PublicIP:  str(m, "publicIp", "publicIP"),
		}
		if u.Interface == "" {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// DecodeRaw tags decoded records with their kind.
func DecodeRaw(kind Kind, payload []byte) ([]RawRecord, error) {
	switch kind {
	case KindDevice:
		devices, err := DecodeDevices(payload)
		if err != nil {
			return nil, err
		}
		out := make([]RawRecord, 0, len(devices))
		for _, d := range devices {
			out = append(out, FromDevice(d))
		}
		return out, nil
	case KindClient:
		clients, err := DecodeClients(payload)
		if err != nil {
			return nil, err
		}
		out := make([]RawRecord, 0, len(clients))
		for _, c := range clients {
			out = append(out, FromClient(c))
		}
		return out, nil
	case KindLink:
		links, err := DecodeLinks(payload)
		if err != nil {
			return nil, err
		}
		out := make([]RawRecord, 0, len(links))
		for _, l := range links {
			out = append(out, FromLink(l))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

func decodeArray(payload []byte) ([]map[string]any, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		out = append(out, objectOrNil(item))
	}
	return out, nil
}

func objectOrNil(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func deviceFromMap(m map[string]any) DeviceRecord {
	return DeviceRecord{
		Serial:      str(m, "serial"),
		MAC:         str(m, "mac"),
		Name:        str(m, "name"),
		Model:       str(m, "model"),
		ProductType: str(m, "productType", "type"),
		Firmware:    str(m, "firmware"),
		Status:      str(m, "status"),
		Tags:        strList(m, "tags"),
		LanIP:       str(m, "lanIp", "ip"),
		NetworkID:   str(m, "networkId"),
		Vendor:      str(m, "vendor"),
	}
}

func clientFromMap(m map[string]any) ClientRecord {
	c := ClientRecord{
		ClientID:       str(m, "id"),
		MAC:            str(m, "mac"),
		Description:    str(m, "description"),
		DHCPHostname:   str(m, "dhcpHostname", "hostname"),
		IP:             str(m, "ip"),
		Manufacturer:   str(m, "manufacturer"),
		OS:             str(m, "os"),
		SSID:           str(m, "ssid"),
		VLAN:           str(m, "vlan"),
		ParentDeviceID: str(m, "recentDeviceSerial", "ap_serial"),
		ParentName:     str(m, "recentDeviceName", "deviceName"),
		Medium:         ParseMedium(str(m, "recentDeviceConnection", "connectionType")),
		Switchport:     str(m, "switchport"),
		SwitchportDesc: str(m, "switchportDesc"),
		Status:         str(m, "status"),
		FirstSeen:      timestamp(m, "firstSeen"),
		LastSeen:       timestamp(m, "lastSeen"),
	}
	if usage, ok := m["usage"].(map[string]any); ok {
		c.Usage.Sent = number(usage, "sent")
		c.Usage.Recv = number(usage, "recv")
	}
	return c
}

func linkFromMap(m map[string]any) LinkRecord {
	l := LinkRecord{
		SourceID:   endpointID(m, "source", "sourceSerial", "sourceMac"),
		TargetID:   endpointID(m, "target", "targetSerial", "targetMac"),
		Medium:     str(m, "linkType", "medium", "type"),
		SourcePort: str(m, "sourcePort"),
		TargetPort: str(m, "targetPort"),
		Origin:     "dashboard",
	}

	// Link-layer topology payloads describe a link as two "ends".
	if ends, ok := m["ends"].([]any); ok && len(ends) == 2 {
		a, _ := ends[0].(map[string]any)
		b, _ := ends[1].(map[string]any)
		if l.SourceID == "" {
			l.SourceID = endpointID(a, "device", "node")
		}
		if l.TargetID == "" {
			l.TargetID = endpointID(b, "device", "node")
		}
		if l.SourcePort == "" {
			l.SourcePort = portName(a)
		}
		if l.TargetPort == "" {
			l.TargetPort = portName(b)
		}
		if l.Medium == "" {
			if _, wireless := a["wireless"]; wireless {
				l.Medium = "wireless"
			}
		}
	}
	return l
}

// endpointID reads the first key present, accepting either a plain string or
// an object carrying serial/mac/id.
func endpointID(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			if s := str(v, "serial", "mac", "id", "derivedId"); s != "" {
				return s
			}
		}
	}
	return ""
}

func portName(end map[string]any) string {
	if end == nil {
		return ""
	}
	if discovered, ok := end["discovered"].(map[string]any); ok {
		for _, proto := range []string{"lldp", "cdp"} {
			if p, ok := discovered[proto].(map[string]any); ok {
				if s := str(p, "portId", "portDescription"); s != "" {
					return s
				}
			}
		}
	}
	return str(end, "port", "portId")
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func strList(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		// Older payloads send tags as a space separated string.
		return strings.Fields(v)
	default:
		return nil
	}
}

func number(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// timestamp accepts unix seconds or RFC3339 strings.
func timestamp(m map[string]any, key string) time.Time {
	switch v := m[key].(type) {
	case float64:
		if v <= 0 {
			return time.Time{}
		}
		return time.Unix(int64(v), 0).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
