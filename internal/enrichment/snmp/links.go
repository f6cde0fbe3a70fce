package snmp

import (
	"context"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"topoview/internal/inventory"
)

// Walker is the subset of Client used for link discovery.
type Walker interface {
	InterfaceNames(ctx context.Context, target Target) (map[int]string, error)
	LLDPNeighbors(ctx context.Context, target Target) ([]Neighbor, error)
	CDPNeighbors(ctx context.Context, target Target) ([]Neighbor, error)
}

type DiscovererOptions struct {
	LLDP bool
	CDP  bool
	// Allowlist limits which management addresses are walked. Empty allows
	// every address.
	Allowlist  []netip.Prefix
	Workers    int
	MaxDevices int
}

// Discoverer turns LLDP/CDP neighbor tables into wired LinkRecords between
// known devices.
type Discoverer struct {
	log    zerolog.Logger
	walker Walker
	opts   DiscovererOptions
}

func NewDiscoverer(log zerolog.Logger, walker Walker, opts DiscovererOptions) *Discoverer {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MaxDevices <= 0 {
		opts.MaxDevices = 256
	}
	if !opts.LLDP && !opts.CDP {
		opts.LLDP, opts.CDP = true, true
	}
	return &Discoverer{log: log, walker: walker, opts: opts}
}

// deviceIndex resolves neighbor references to device ids.
type deviceIndex struct {
	byName map[string]string
	byIP   map[string]string
	byMAC  map[string]string
}

func indexDevices(devices []inventory.DeviceRecord) deviceIndex {
	idx := deviceIndex{
		byName: make(map[string]string),
		byIP:   make(map[string]string),
		byMAC:  make(map[string]string),
	}
	for _, d := range devices {
		id := d.ID()
		if id == "" {
			continue
		}
		if n := strings.ToLower(strings.TrimSpace(d.Name)); n != "" {
			idx.byName[n] = id
		}
		if s := strings.ToLower(strings.TrimSpace(d.Serial)); s != "" {
			idx.byName[s] = id
		}
		if ip := strings.TrimSpace(d.LanIP); ip != "" {
			idx.byIP[ip] = id
		}
		if m := strings.ToLower(strings.TrimSpace(d.MAC)); m != "" {
			idx.byMAC[m] = id
		}
	}
	return idx
}

func (idx deviceIndex) resolve(n Neighbor) string {
	if n.RemoteMAC != "" {
		if id, ok := idx.byMAC[n.RemoteMAC]; ok {
			return id
		}
	}
	if n.RemoteMgmtIP != "" {
		if id, ok := idx.byIP[n.RemoteMgmtIP]; ok {
			return id
		}
	}
	name := strings.ToLower(strings.TrimSpace(n.RemoteName))
	if name == "" {
		return ""
	}
	if id, ok := idx.byName[name]; ok {
		return id
	}
	// CDP device ids are often FQDNs; try the host part.
	if host, _, found := strings.Cut(name, "."); found {
		return idx.byName[host]
	}
	return ""
}

// Discover walks every eligible device and returns one LinkRecord per
// adjacency. Both ends usually report the same cable; those are merged.
// Neighbors that do not resolve to a known device are ignored.
func (d *Discoverer) Discover(ctx context.Context, devices []inventory.DeviceRecord) []inventory.LinkRecord {
	if d == nil || d.walker == nil {
		return nil
	}
	idx := indexDevices(devices)

	var targets []Target
	for _, dev := range devices {
		addr, err := netip.ParseAddr(strings.TrimSpace(dev.LanIP))
		if err != nil || dev.ID() == "" || !d.allowed(addr) {
			continue
		}
		targets = append(targets, Target{ID: dev.ID(), Address: addr.String()})
		if len(targets) >= d.opts.MaxDevices {
			break
		}
	}
	if len(targets) == 0 {
		return nil
	}

	var (
		mu    sync.Mutex
		links = make(map[string]inventory.LinkRecord)
	)
	jobs := make(chan Target)
	wg := sync.WaitGroup{}

	worker := func() {
		defer wg.Done()
		for t := range jobs {
			if ctx.Err() != nil {
				continue
			}
			found := d.walk(ctx, t, idx)
			mu.Lock()
			for _, l := range found {
				key := linkKey(l)
				if prev, ok := links[key]; ok {
					links[key] = mergeLink(prev, l)
					continue
				}
				links[key] = l
			}
			mu.Unlock()
		}
	}

	workers := min(d.opts.Workers, len(targets))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
feed:
	for _, t := range targets {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]inventory.LinkRecord, 0, len(links))
	for _, l := range links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return linkKey(out[i]) < linkKey(out[j]) })
	d.log.Debug().Int("targets", len(targets)).Int("links", len(out)).Msg("snmp link discovery finished")
	return out
}

func (d *Discoverer) walk(ctx context.Context, t Target, idx deviceIndex) []inventory.LinkRecord {
	var neighbors []Neighbor
	if d.opts.LLDP {
		ns, err := d.walker.LLDPNeighbors(ctx, t)
		if err != nil {
			d.log.Debug().Err(err).Str("device", t.ID).Msg("lldp walk failed")
		}
		neighbors = append(neighbors, ns...)
	}
	if d.opts.CDP {
		ns, err := d.walker.CDPNeighbors(ctx, t)
		if err != nil {
			d.log.Debug().Err(err).Str("device", t.ID).Msg("cdp walk failed")
		}
		neighbors = append(neighbors, ns...)
	}
	if len(neighbors) == 0 {
		return nil
	}

	ports, err := d.walker.InterfaceNames(ctx, t)
	if err != nil {
		ports = nil
	}

	var out []inventory.LinkRecord
	for _, n := range neighbors {
		remote := idx.resolve(n)
		if remote == "" || remote == t.ID {
			continue
		}
		out = append(out, canonicalLink(inventory.LinkRecord{
			SourceID:   t.ID,
			TargetID:   remote,
			Medium:     string(inventory.MediumWired),
			SourcePort: ports[n.LocalIfIndex],
			TargetPort: n.RemotePort,
			Origin:     n.Protocol,
		}))
	}
	return out
}

func (d *Discoverer) allowed(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	if len(d.opts.Allowlist) == 0 {
		return true
	}
	for _, p := range d.opts.Allowlist {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// canonicalLink orders endpoints so both directions of a cable compare equal.
func canonicalLink(l inventory.LinkRecord) inventory.LinkRecord {
	if l.SourceID > l.TargetID {
		l.SourceID, l.TargetID = l.TargetID, l.SourceID
		l.SourcePort, l.TargetPort = l.TargetPort, l.SourcePort
	}
	return l
}

func linkKey(l inventory.LinkRecord) string {
	return l.SourceID + "|" + l.TargetID
}

// mergeLink fills missing port names from a second report of the same link.
func mergeLink(a, b inventory.LinkRecord) inventory.LinkRecord {
	if a.SourcePort == "" {
		a.SourcePort = b.SourcePort
	}
	if a.TargetPort == "" {
		a.TargetPort = b.TargetPort
	}
	if a.Origin != b.Origin && !strings.Contains(a.Origin, b.Origin) {
		a.Origin = a.Origin + "+" + b.Origin
	}
	return a
}
