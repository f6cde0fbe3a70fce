package snmp

import (
	"context"
	"net"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// Neighbor is one LLDP or CDP adjacency reported by a device.
type Neighbor struct {
	LocalIfIndex int
	RemoteName   string
	RemotePort   string
	RemoteMAC    string
	RemoteMgmtIP string
	Protocol     string // "lldp" | "cdp"
}

const (
	oidLLDPRemChassisID = "1.0.8802.1.1.2.1.4.1.1.5"
	oidLLDPRemPortID    = "1.0.8802.1.1.2.1.4.1.1.7"
	oidLLDPRemPortDesc  = "1.0.8802.1.1.2.1.4.1.1.8"
	oidLLDPRemSysName   = "1.0.8802.1.1.2.1.4.1.1.9"

	oidCDPCacheAddress    = "1.3.6.1.4.1.9.9.23.1.2.1.1.4"
	oidCDPCacheDeviceID   = "1.3.6.1.4.1.9.9.23.1.2.1.1.6"
	oidCDPCacheDevicePort = "1.3.6.1.4.1.9.9.23.1.2.1.1.7"
)

// neighborTable accumulates columns of a neighbor table keyed by
// (local port, remote index).
type neighborTable struct {
	protocol string
	rows     map[[2]int]*Neighbor
	order    [][2]int
}

func newNeighborTable(protocol string) *neighborTable {
	return &neighborTable{protocol: protocol, rows: make(map[[2]int]*Neighbor)}
}

func (t *neighborTable) row(k [2]int) *Neighbor {
	if n, ok := t.rows[k]; ok {
		return n
	}
	n := &Neighbor{Protocol: t.protocol, LocalIfIndex: k[0]}
	t.rows[k] = n
	t.order = append(t.order, k)
	return n
}

func (t *neighborTable) column(s *gosnmp.GoSNMP, base string, fill func(n *Neighbor, p gosnmp.SnmpPDU)) error {
	pdus, err := s.BulkWalkAll(base)
	if err != nil {
		return err
	}
	for _, p := range pdus {
		// LLDP rows end in timeMark.localPort.remIndex and CDP rows in
		// ifIndex.deviceIndex; the last two arcs identify the row either way.
		k, ok := oidSuffix(p.Name, 2)
		if !ok {
			continue
		}
		fill(t.row([2]int{k[0], k[1]}), p)
	}
	return nil
}

func (t *neighborTable) result(keep func(Neighbor) bool) []Neighbor {
	out := make([]Neighbor, 0, len(t.order))
	for _, k := range t.order {
		if n := *t.rows[k]; keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// LLDPNeighbors walks the LLDP-MIB remote systems table.
func (c *Client) LLDPNeighbors(ctx context.Context, target Target) ([]Neighbor, error) {
	s, err := c.session(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Conn.Close()

	t := newNeighborTable("lldp")
	if err := t.column(s, oidLLDPRemSysName, func(n *Neighbor, p gosnmp.SnmpPDU) {
		n.RemoteName = pduString(p)
	}); err != nil {
		return nil, err
	}
	_ = t.column(s, oidLLDPRemPortDesc, func(n *Neighbor, p gosnmp.SnmpPDU) {
		n.RemotePort = pduString(p)
	})
	_ = t.column(s, oidLLDPRemPortID, func(n *Neighbor, p gosnmp.SnmpPDU) {
		if n.RemotePort == "" {
			n.RemotePort = pduString(p)
		}
	})
	_ = t.column(s, oidLLDPRemChassisID, func(n *Neighbor, p gosnmp.SnmpPDU) {
		n.RemoteMAC = macFromBytes(pduBytes(p))
	})

	return t.result(func(n Neighbor) bool {
		return n.RemoteName != "" || n.RemoteMAC != ""
	}), nil
}

// CDPNeighbors walks the CISCO-CDP-MIB cache table.
func (c *Client) CDPNeighbors(ctx context.Context, target Target) ([]Neighbor, error) {
	s, err := c.session(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Conn.Close()

	t := newNeighborTable("cdp")
	if err := t.column(s, oidCDPCacheDeviceID, func(n *Neighbor, p gosnmp.SnmpPDU) {
		n.RemoteName = pduString(p)
	}); err != nil {
		return nil, err
	}
	_ = t.column(s, oidCDPCacheDevicePort, func(n *Neighbor, p gosnmp.SnmpPDU) {
		n.RemotePort = pduString(p)
	})
	_ = t.column(s, oidCDPCacheAddress, func(n *Neighbor, p gosnmp.SnmpPDU) {
		if ip, ok := cdpAddress(pduBytes(p)); ok {
			n.RemoteMgmtIP = ip
		}
	})

	return t.result(func(n Neighbor) bool {
		return n.RemoteName != "" || n.RemoteMgmtIP != ""
	}), nil
}

// macFromBytes formats a 6-byte chassis id; other chassis id subtypes yield "".
func macFromBytes(b []byte) string {
	if len(b) != 6 {
		return ""
	}
	m := strings.ToLower(net.HardwareAddr(b).String())
	if m == "00:00:00:00:00:00" {
		return ""
	}
	return m
}

// cdpAddress decodes cdpCacheAddress, which agents send either as a raw
// 4/16-byte address or as type(1) len(1) addr(len).
func cdpAddress(b []byte) (string, bool) {
	switch {
	case len(b) == 4 || len(b) == 16:
		return net.IP(b).String(), true
	case len(b) >= 6:
		kind, n := b[0], int(b[1])
		if n <= 0 || len(b) < 2+n {
			return "", false
		}
		addr := b[2 : 2+n]
		if (kind == 1 && n == 4) || (kind == 2 && n == 16) {
			return net.IP(addr).String(), true
		}
	}
	return "", false
}
