package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supplement is inventory reported outside the dashboard, typically another
// vendor's firewalls and access points, merged into every refresh.
type Supplement struct {
	Devices []DeviceRecord
	Clients []ClientRecord
}

// supplementFile is the on-disk shape. Entries use the same field names as
// dashboard payloads so one decoder serves both.
type supplementFile struct {
	Vendor  string           `yaml:"vendor"`
	Devices []map[string]any `yaml:"devices"`
	Clients []map[string]any `yaml:"clients"`
}

// SupplementFile reads a YAML supplement on every Load so edits apply on the
// next refresh without a restart.
type SupplementFile struct {
	Path string
}

func (f SupplementFile) Load() (Supplement, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return Supplement{}, fmt.Errorf("read supplement %s: %w", f.Path, err)
	}
	return DecodeSupplement(raw)
}

// DecodeSupplement parses a YAML supplement. Devices without their own
// vendor inherit the file-level vendor.
func DecodeSupplement(raw []byte) (Supplement, error) {
	var doc supplementFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Supplement{}, fmt.Errorf("decode supplement: %w", err)
	}

	var out Supplement
	if len(doc.Devices) > 0 {
		payload, err := json.Marshal(doc.Devices)
		if err != nil {
			return Supplement{}, fmt.Errorf("decode supplement devices: %w", err)
		}
		if out.Devices, err = DecodeDevices(payload); err != nil {
			return Supplement{}, err
		}
	}
	if len(doc.Clients) > 0 {
		payload, err := json.Marshal(doc.Clients)
		if err != nil {
			return Supplement{}, fmt.Errorf("decode supplement clients: %w", err)
		}
		if out.Clients, err = DecodeClients(payload); err != nil {
			return Supplement{}, err
		}
	}

	vendor := strings.ToLower(strings.TrimSpace(doc.Vendor))
	for i := range out.Devices {
		if out.Devices[i].Vendor == "" {
			out.Devices[i].Vendor = vendor
		}
	}
	return out, nil
}
