package inventory

import (
	"testing"
	"time"
)

func TestDecodeDevices_ParsesFields(t *testing.T) {
	payload := []byte(`[
		{"serial":"Q2QN-AAAA-0001","mac":"E0:55:3D:00:00:01","name":"GW1","model":"MX68",
		 "productType":"appliance","firmware":"wired-18-1","status":"online",
		 "tags":["hq","edge"],"lanIp":"10.0.0.1","networkId":"N_1"}
	]`)
	devices, err := DecodeDevices(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.ID() != "Q2QN-AAAA-0001" {
		t.Fatalf("expected serial id, got %q", d.ID())
	}
	if d.MAC != "e0:55:3d:00:00:01" {
		t.Fatalf("expected lowercased mac, got %q", d.MAC)
	}
	if d.ProductType != "appliance" || d.LanIP != "10.0.0.1" || d.NetworkID != "N_1" {
		t.Fatalf("unexpected fields: %+v", d)
	}
	if len(d.Tags) != 2 || d.Tags[0] != "hq" {
		t.Fatalf("unexpected tags: %#v", d.Tags)
	}
	if d.Malformed {
		t.Fatalf("expected well-formed device, problems=%v", d.Problems)
	}
}

func TestDecodeDevices_KeepsMalformedElements(t *testing.T) {
	payload := []byte(`[42, {"name":"no-id"}, {"serial":"Q2HW-0000-0001","lanIp":"not-an-ip"}]`)
	devices, err := DecodeDevices(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected every element to survive, got %d", len(devices))
	}
	if !devices[0].Malformed || !devices[1].Malformed {
		t.Fatalf("expected first two records malformed: %+v %+v", devices[0], devices[1])
	}
	if devices[0].ID() != "" {
		t.Fatalf("expected empty id for malformed record, got %q", devices[0].ID())
	}
	if devices[2].Malformed {
		t.Fatalf("bad lan ip must not mark the record malformed")
	}
	if devices[2].LanIP != "" || len(devices[2].Problems) != 1 {
		t.Fatalf("expected lan ip cleared with one problem, got %+v", devices[2])
	}
}

func TestDecodeDevices_RejectsNonArray(t *testing.T) {
	if _, err := DecodeDevices([]byte(`{"errors":["unauthorized"]}`)); err == nil {
		t.Fatalf("expected error for object payload")
	}
}

func TestDecodeClients_ParsesFields(t *testing.T) {
	payload := []byte(`[
		{"id":"k74272e","mac":"AA:BB:CC:00:11:22","description":"Lobby printer","ip":"10.0.1.5",
		 "manufacturer":"Brother","os":null,"vlan":20,"recentDeviceSerial":"Q2HW-0000-0001",
		 "recentDeviceConnection":"Wired","switchport":"12","usage":{"sent":10.5,"recv":"4"},
		 "firstSeen":1700000000,"lastSeen":"2024-01-02T03:04:05Z"},
		{"id":"k2","mac":"aa:bb:cc:00:11:33","ssid":"Corp"}
	]`)
	clients, err := DecodeClients(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(clients))
	}
	c := clients[0]
	if c.VLAN != "20" {
		t.Fatalf("expected numeric vlan rendered as string, got %q", c.VLAN)
	}
	if c.EffectiveMedium() != MediumWired {
		t.Fatalf("expected wired, got %q", c.EffectiveMedium())
	}
	if c.Usage.Sent != 10.5 || c.Usage.Recv != 4 {
		t.Fatalf("unexpected usage: %+v", c.Usage)
	}
	if !c.FirstSeen.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected first seen: %v", c.FirstSeen)
	}
	if c.LastSeen.Year() != 2024 {
		t.Fatalf("unexpected last seen: %v", c.LastSeen)
	}
	if c.ParentDeviceID != "Q2HW-0000-0001" {
		t.Fatalf("unexpected parent: %q", c.ParentDeviceID)
	}
	if clients[1].EffectiveMedium() != MediumWireless {
		t.Fatalf("expected ssid to imply wireless")
	}
}

func TestDecodeClients_MissingIdentifierIsMalformed(t *testing.T) {
	clients, err := DecodeClients([]byte(`[{"id":null,"description":"ghost"}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clients) != 1 || !clients[0].Malformed {
		t.Fatalf("expected one malformed client, got %+v", clients)
	}
}

func TestDecodeClients_FallsBackToMAC(t *testing.T) {
	clients, err := DecodeClients([]byte(`[{"mac":"AA:BB:CC:DD:EE:FF"}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if clients[0].Malformed {
		t.Fatalf("mac alone is a valid identifier")
	}
	if clients[0].ID() != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("expected mac id, got %q", clients[0].ID())
	}
}

func TestDecodeLinks_AcceptsShapes(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    LinkRecord
	}{
		{
			name:    "flat serials",
			payload: `[{"sourceSerial":"GW1","targetSerial":"SW1","linkType":"uplink","sourcePort":"WAN 1"}]`,
			want:    LinkRecord{SourceID: "GW1", TargetID: "SW1", Medium: "uplink", SourcePort: "WAN 1"},
		},
		{
			name:    "endpoint objects",
			payload: `{"links":[{"source":{"serial":"SW1"},"target":{"mac":"aa:bb"},"medium":"wired"}]}`,
			want:    LinkRecord{SourceID: "SW1", TargetID: "aa:bb", Medium: "wired"},
		},
		{
			name: "ends",
			payload: `[{"ends":[
				{"device":{"serial":"SW1"},"discovered":{"lldp":{"portId":"port 3"}}},
				{"device":{"serial":"AP1"}}
			]}]`,
			want: LinkRecord{SourceID: "SW1", TargetID: "AP1", SourcePort: "port 3"},
		},
	}
	for _, tc := range cases {
		links, err := DecodeLinks([]byte(tc.payload))
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if len(links) != 1 {
			t.Fatalf("%s: expected 1 link, got %d", tc.name, len(links))
		}
		got := links[0]
		if got.SourceID != tc.want.SourceID || got.TargetID != tc.want.TargetID ||
			got.Medium != tc.want.Medium || got.SourcePort != tc.want.SourcePort {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
		if got.Origin != "dashboard" {
			t.Fatalf("%s: expected dashboard origin, got %q", tc.name, got.Origin)
		}
	}
}

func TestDecodeLinks_DropsHalfLinks(t *testing.T) {
	links, err := DecodeLinks([]byte(`[{"sourceSerial":"GW1"}, "junk", {"sourceSerial":"A","targetSerial":"B"}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(links) != 1 || links[0].SourceID != "A" {
		t.Fatalf("expected only the complete link, got %+v", links)
	}
}

func TestDecodeRaw_TagsKind(t *testing.T) {
	recs, err := DecodeRaw(KindClient, []byte(`[{"id":"c1"}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != KindClient || recs[0].Client == nil || recs[0].Device != nil {
		t.Fatalf("unexpected raw records: %+v", recs)
	}
	if _, err := DecodeRaw(Kind("bogus"), []byte(`[]`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestParseMedium(t *testing.T) {
	cases := map[string]Medium{
		"Wired":    MediumWired,
		" wifi ":   MediumWireless,
		"Wireless": MediumWireless,
		"":         MediumUnknown,
		"carrier":  MediumUnknown,
	}
	for in, want := range cases {
		if got := ParseMedium(in); got != want {
			t.Fatalf("ParseMedium(%q)=%q want %q", in, got, want)
		}
	}
}

func TestDecodeUplinks(t *testing.T) {
	uplinks, err := DecodeUplinks([]byte(`[
		{"interface":"wan1","status":"Active","ip":"10.0.0.2","gateway":"10.0.0.1","publicIp":"203.0.113.9"},
		{"status":"ready"}
	]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(uplinks) != 1 {
		t.Fatalf("expected 1 uplink, got %+v", uplinks)
	}
	u := uplinks[0]
	if u.Interface != "wan1" || u.Status != "active" || u.PublicIP != "203.0.113.9" || u.Gateway != "10.0.0.1" {
		t.Fatalf("unexpected uplink: %+v", u)
	}
	if empty, err := DecodeUplinks(nil); err != nil || empty != nil {
		t.Fatalf("expected nil for empty payload, got %v %v", empty, err)
	}
}
