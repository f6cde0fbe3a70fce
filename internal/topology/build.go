package topology

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"topoview/internal/classify"
	"topoview/internal/inventory"
	"topoview/internal/naming"
)

type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() uuid.UUID
}

type Builder struct {
	log   zerolog.Logger
	now   func() time.Time
	newID func() uuid.UUID
}

func NewBuilder(opts Options) *Builder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	return &Builder{log: opts.Logger, now: opts.Now, newID: opts.NewID}
}

// Build constructs a snapshot with a silent logger.
func Build(devices []inventory.DeviceRecord, clients []inventory.ClientRecord, links []inventory.LinkRecord) *Graph {
	return NewBuilder(Options{Logger: zerolog.Nop()}).Build(devices, clients, links)
}

// Build classifies every record into a node, resolves authoritative links,
// infers client attachment edges and, only when no authoritative links were
// supplied, infers device-to-device edges. It never fails: malformed input
// becomes unknown nodes and unresolvable references are dropped.
func (b *Builder) Build(devices []inventory.DeviceRecord, clients []inventory.ClientRecord, links []inventory.LinkRecord) *Graph {
	s := newBuildState(len(devices) + len(clients))
	for _, d := range devices {
		s.reserve(d.ID())
	}
	for _, c := range clients {
		s.reserve(c.ID())
	}

	for i, d := range devices {
		res := classify.ClassifyDevice(d)
		if d.ID() == "" {
			res = malformed
		}
		id := s.assignID(d.ID(), res.Role, i)
		if id == "" {
			continue
		}
		s.addNode(deviceNode(id, d, res))
		s.alias(id, d.Serial, d.MAC)
		s.addDeviceRef(id, d)
	}
	for i, c := range clients {
		res := classify.ClassifyClient(c)
		if c.ID() == "" {
			res = malformed
		}
		id := s.assignID(c.ID(), res.Role, len(devices)+i)
		if id == "" {
			continue
		}
		s.addNode(clientNode(id, c, res))
		s.alias(id, c.ClientID, c.MAC)
	}

	for _, l := range links {
		src, okSrc := s.resolve(l.SourceID)
		dst, okDst := s.resolve(l.TargetID)
		if !okSrc || !okDst || src == dst {
			s.diag.DroppedLinks++
			b.log.Debug().
				Str("source", l.SourceID).
				Str("target", l.TargetID).
				Msg("dropping unresolvable link")
			continue
		}
		s.addEdge(Edge{
			SourceID:   src,
			TargetID:   dst,
			Kind:       KindFromMedium(l.Medium),
			Provenance: Authoritative,
			Interface:  linkInterface(l),
		})
	}

	for i, c := range clients {
		parentRef := strings.TrimSpace(c.ParentDeviceID)
		if parentRef == "" {
			continue
		}
		clientID := s.ordinal[len(devices)+i]
		parent, ok := s.resolve(parentRef)
		if clientID == "" || !ok || parent == clientID {
			s.diag.DroppedParentLinks++
			continue
		}
		kind := KindWiredClientLink
		if c.EffectiveMedium() == inventory.MediumWireless {
			kind = KindWirelessLink
		}
		s.addEdge(Edge{
			SourceID:   parent,
			TargetID:   clientID,
			Kind:       kind,
			Provenance: Inferred,
			Interface:  clientInterface(c, kind),
		})
	}

	if len(links) == 0 {
		s.diag.FallbackApplied = true
		s.inferDeviceLinks()
		s.inferCrossVendorLinks()
	}

	g := newGraph(b.newID(), b.now().UTC(), s.nodes, s.edges, s.diag)
	b.log.Debug().
		Int("nodes", len(g.Nodes)).
		Int("edges", len(g.Edges)).
		Int("dropped_links", s.diag.DroppedLinks).
		Bool("fallback", s.diag.FallbackApplied).
		Msg("graph built")
	return g
}

// malformed replaces the classifier result for records without an identifier.
var malformed = classify.Result{Role: classify.RoleUnknown, Signal: classify.SignalMalformed}

type buildState struct {
	nodes    []Node
	edges    []Edge
	ids      map[string]struct{}
	reserved map[string]struct{} // every real identifier in the input
	aliases  map[string]string
	edgeSet  map[EdgeKey]struct{}
	// ordinal maps record position (devices, then clients) to node id.
	ordinal []string
	diag    Diagnostics

	subnets     map[netip.Prefix][]deviceRef
	subnetOrder []netip.Prefix
}

type deviceRef struct {
	id     string
	vendor string
}

func newBuildState(records int) *buildState {
	return &buildState{
		nodes:    make([]Node, 0, records),
		edges:    []Edge{},
		ids:      make(map[string]struct{}, records),
		reserved: make(map[string]struct{}, records),
		aliases:  make(map[string]string, records*2),
		edgeSet:  make(map[EdgeKey]struct{}),
		ordinal:  make([]string, 0, records),
		subnets:  make(map[netip.Prefix][]deviceRef),
	}
}

// assignID returns the node id for the record at position pos. An empty
// identifier gets a role_index placeholder that avoids every real identifier
// in the input. A repeated identifier returns "" and the record collapses
// into the first node that claimed it.
func (s *buildState) assignID(id string, role classify.Role, pos int) string {
	if id == "" {
		s.diag.MalformedRecords++
		id = fmt.Sprintf("%s_%d", role, pos)
		for n := 1; s.taken(id) || s.isReserved(id); n++ {
			id = fmt.Sprintf("%s_%d_%d", role, pos, n)
		}
	} else if s.taken(id) {
		s.diag.DuplicateIDs++
		s.ordinal = append(s.ordinal, s.aliases[strings.ToLower(id)])
		return ""
	}
	s.ids[id] = struct{}{}
	s.ordinal = append(s.ordinal, id)
	return id
}

func (s *buildState) reserve(id string) {
	if id != "" {
		s.reserved[id] = struct{}{}
	}
}

func (s *buildState) isReserved(id string) bool {
	_, ok := s.reserved[id]
	return ok
}

func (s *buildState) taken(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *buildState) addNode(n Node) {
	s.nodes = append(s.nodes, n)
}

// alias registers lookup keys for id. Keys are case-insensitive; the first
// node to claim a key keeps it.
func (s *buildState) alias(id string, keys ...string) {
	keys = append(keys, id)
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := s.aliases[k]; !ok {
			s.aliases[k] = id
		}
	}
}

func (s *buildState) resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := s.ids[ref]; ok {
		return ref, true
	}
	id, ok := s.aliases[strings.ToLower(ref)]
	return id, ok
}

func (s *buildState) addEdge(e Edge) {
	k := e.Key()
	if _, ok := s.edgeSet[k]; ok {
		return
	}
	s.edgeSet[k] = struct{}{}
	s.edges = append(s.edges, e)
}

// inferDeviceLinks is the coarse fallback used when no authoritative link
// data exists: every appliance uplinks to every switch, every switch feeds
// every access point, and without switches appliances feed APs directly.
func (s *buildState) inferDeviceLinks() {
	var appliances, switches, aps []string
	for _, n := range s.nodes {
		switch n.Role {
		case classify.RoleSecurityAppliance:
			appliances = append(appliances, n.ID)
		case classify.RoleSwitch:
			switches = append(switches, n.ID)
		case classify.RoleWirelessAP:
			aps = append(aps, n.ID)
		}
	}

	for _, gw := range appliances {
		for _, sw := range switches {
			s.addEdge(Edge{SourceID: gw, TargetID: sw, Kind: KindUplink, Provenance: Inferred, Interface: "Uplink"})
		}
	}
	for _, sw := range switches {
		for _, ap := range aps {
			s.addEdge(Edge{SourceID: sw, TargetID: ap, Kind: KindSwitchLink, Provenance: Inferred, Interface: "AP Uplink"})
		}
	}
	if len(switches) == 0 {
		for _, gw := range appliances {
			for _, ap := range aps {
				s.addEdge(Edge{SourceID: gw, TargetID: ap, Kind: KindUplink, Provenance: Inferred, Interface: "Uplink"})
			}
		}
	}
}

// addDeviceRef files a device under the /24 of its IPv4 management address.
func (s *buildState) addDeviceRef(id string, d inventory.DeviceRecord) {
	addr, err := netip.ParseAddr(strings.TrimSpace(d.LanIP))
	if err != nil || !addr.Is4() {
		return
	}
	p, err := addr.Prefix(24)
	if err != nil {
		return
	}
	if _, seen := s.subnets[p]; !seen {
		s.subnetOrder = append(s.subnetOrder, p)
	}
	s.subnets[p] = append(s.subnets[p], deviceRef{id: id, vendor: d.VendorName()})
}

// inferCrossVendorLinks joins devices of different vendors that share a /24.
// The dashboard vendor's device is the source when one is involved.
func (s *buildState) inferCrossVendorLinks() {
	for _, p := range s.subnetOrder {
		refs := s.subnets[p]
		for i := 0; i < len(refs); i++ {
			for j := i + 1; j < len(refs); j++ {
				a, b := refs[i], refs[j]
				if a.vendor == b.vendor {
					continue
				}
				if b.vendor == inventory.DefaultVendor {
					a, b = b, a
				}
				before := len(s.edges)
				s.addEdge(Edge{
					SourceID:   a.id,
					TargetID:   b.id,
					Kind:       KindUnknownLink,
					Provenance: Inferred,
					Interface:  "Subnet " + p.String(),
				})
				if len(s.edges) > before {
					s.diag.CrossVendorLinks++
				}
			}
		}
	}
}

func linkInterface(l inventory.LinkRecord) string {
	src := strings.TrimSpace(l.SourcePort)
	dst := strings.TrimSpace(l.TargetPort)
	switch {
	case src != "" && dst != "":
		return src + " - " + dst
	case src != "":
		return src
	default:
		return dst
	}
}

func clientInterface(c inventory.ClientRecord, kind EdgeKind) string {
	if kind == KindWirelessLink {
		if ssid := strings.TrimSpace(c.SSID); ssid != "" {
			return "SSID " + ssid
		}
		return ""
	}
	if port := strings.TrimSpace(c.Switchport); port != "" {
		if desc := strings.TrimSpace(c.SwitchportDesc); desc != "" {
			return fmt.Sprintf("Port %s (%s)", port, desc)
		}
		return "Port " + port
	}
	if vlan := strings.TrimSpace(c.VLAN); vlan != "" {
		return "VLAN " + vlan
	}
	return ""
}

var sizeHints = map[classify.Role]float64{
	classify.RoleSecurityAppliance: 30,
	classify.RoleSwitch:            25,
	classify.RoleWirelessAP:        20,
	classify.RoleCamera:            16,
	classify.RoleSensor:            14,
	classify.RoleClient:            10,
	classify.RoleUnknown:           10,
}

// SizeHint is the rendering and collision size for a role.
func SizeHint(role classify.Role) float64 {
	if v, ok := sizeHints[role]; ok {
		return v
	}
	return 10
}

func deviceNode(id string, d inventory.DeviceRecord, res classify.Result) Node {
	meta := res.Evidence()
	meta["record_kind"] = string(inventory.KindDevice)
	putString(meta, "serial", d.Serial)
	putString(meta, "mac", d.MAC)
	putString(meta, "model", d.Model)
	putString(meta, "product_type", d.ProductType)
	putString(meta, "firmware", d.Firmware)
	putString(meta, "lan_ip", d.LanIP)
	putString(meta, "network_id", d.NetworkID)
	meta["vendor"] = d.VendorName()
	putVenue(meta, classify.ClassifyVenue(d.Name, d.MAC, d.Model+" "+d.ProductType))
	if len(d.Tags) > 0 {
		meta["tags"] = append([]string(nil), d.Tags...)
	}
	if len(d.Uplinks) > 0 {
		meta["uplinks"] = append([]inventory.Uplink(nil), d.Uplinks...)
	}
	putProblems(meta, d.Malformed, d.Problems)

	return Node{
		ID: id,
		Label: naming.Label([]naming.Candidate{
			{Name: d.Name, Source: naming.SourceName},
			{Name: d.Serial, Source: naming.SourceSerial},
			{Name: d.MAC, Source: naming.SourceMAC},
		}, id),
		Role:     res.Role,
		Status:   status(d.Status),
		SizeHint: SizeHint(res.Role),
		Metadata: meta,
	}
}

func clientNode(id string, c inventory.ClientRecord, res classify.Result) Node {
	meta := res.Evidence()
	meta["record_kind"] = string(inventory.KindClient)
	putString(meta, "mac", c.MAC)
	putString(meta, "ip", c.IP)
	putString(meta, "vlan", c.VLAN)
	putString(meta, "ssid", c.SSID)
	putString(meta, "os", c.OS)
	putString(meta, "manufacturer", c.Manufacturer)
	putString(meta, "parent_device_id", c.ParentDeviceID)
	putString(meta, "medium", string(c.EffectiveMedium()))
	putString(meta, "switchport", c.Switchport)
	putVenue(meta, classify.ClassifyVenue(firstNonEmpty(c.Description, c.DHCPHostname), c.MAC, c.Manufacturer+" "+c.OS))
	if c.Usage.Sent > 0 || c.Usage.Recv > 0 {
		meta["usage_sent_kb"] = c.Usage.Sent
		meta["usage_recv_kb"] = c.Usage.Recv
	}
	if !c.FirstSeen.IsZero() {
		meta["first_seen"] = c.FirstSeen.Format(time.RFC3339)
	}
	if !c.LastSeen.IsZero() {
		meta["last_seen"] = c.LastSeen.Format(time.RFC3339)
	}
	putProblems(meta, c.Malformed, c.Problems)

	return Node{
		ID: id,
		Label: naming.Label([]naming.Candidate{
			{Name: c.Description, Source: naming.SourceDescription},
			{Name: c.DHCPHostname, Source: naming.SourceDHCP},
			{Name: c.ReverseName, Source: naming.SourceReverseDNS},
			{Name: c.MAC, Source: naming.SourceMAC},
		}, id),
		Role:     res.Role,
		Status:   status(c.Status),
		SizeHint: SizeHint(res.Role),
		Metadata: meta,
	}
}

func putVenue(meta map[string]any, v classify.VenueResult) {
	if v.Kind == classify.VenueNone {
		return
	}
	meta["venue_kind"] = string(v.Kind)
	meta["venue_confidence"] = v.Confidence
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func putString(meta map[string]any, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		meta[key] = v
	}
}

func putProblems(meta map[string]any, malformed bool, problems []string) {
	if malformed {
		meta["malformed"] = true
	}
	if len(problems) > 0 {
		meta["problems"] = append([]string(nil), problems...)
	}
}

func status(value string) string {
	if v := strings.ToLower(strings.TrimSpace(value)); v != "" {
		return v
	}
	return "unknown"
}
