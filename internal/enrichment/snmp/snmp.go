package snmp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Config holds SNMP session settings shared by every walk.
type Config struct {
	Community      string
	Version        string // "2c" (default) | "1"
	Port           uint16
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
}

// Target is one device management address to walk.
type Target struct {
	ID      string // node id the neighbors hang off
	Address string
}

// Client performs SNMPv1/v2c walks against device management addresses.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxRepetitions == 0 {
		cfg.MaxRepetitions = 10
	}
	return &Client{cfg: cfg}
}

func (c *Client) session(ctx context.Context, target Target) (*gosnmp.GoSNMP, error) {
	if c == nil {
		return nil, errors.New("snmp client is nil")
	}
	var version gosnmp.SnmpVersion
	switch strings.ToLower(strings.TrimSpace(c.cfg.Version)) {
	case "2c", "v2c", "":
		version = gosnmp.Version2c
	case "1", "v1":
		version = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Context:        ctx,
		Target:         target.Address,
		Port:           c.cfg.Port,
		Community:      c.cfg.Community,
		Version:        version,
		Timeout:        c.cfg.Timeout,
		Retries:        c.cfg.Retries,
		MaxRepetitions: c.cfg.MaxRepetitions,
	}
	if err := s.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", target.Address, err)
	}
	return s, nil
}

const (
	oidSysName0 = "1.3.6.1.2.1.1.5.0"
	oidIfDescr  = "1.3.6.1.2.1.2.2.1.2"
	oidIfName   = "1.3.6.1.2.1.31.1.1.1.1"
)

// SysName reads sysName.0, or "" when the agent leaves it empty.
func (c *Client) SysName(ctx context.Context, target Target) (string, error) {
	s, err := c.session(ctx, target)
	if err != nil {
		return "", err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{oidSysName0})
	if err != nil {
		return "", err
	}
	for _, v := range pkt.Variables {
		if v.Name == oidSysName0 || v.Name == "."+oidSysName0 {
			return pduString(v), nil
		}
	}
	return "", nil
}

// InterfaceNames maps ifIndex to ifName, falling back to ifDescr.
func (c *Client) InterfaceNames(ctx context.Context, target Target) (map[int]string, error) {
	s, err := c.session(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Conn.Close()

	out := make(map[int]string)
	collect := func(base string, overwrite bool) error {
		pdus, err := s.BulkWalkAll(base)
		if err != nil {
			return err
		}
		for _, p := range pdus {
			idx, ok := oidSuffix(p.Name, 1)
			if !ok {
				continue
			}
			name := pduString(p)
			if name == "" {
				continue
			}
			if _, exists := out[idx[0]]; exists && !overwrite {
				continue
			}
			out[idx[0]] = name
		}
		return nil
	}
	if err := collect(oidIfName, true); err != nil {
		return nil, err
	}
	// ifDescr only fills gaps left by agents without the ifXTable.
	_ = collect(oidIfDescr, false)
	return out, nil
}

func pduString(p gosnmp.SnmpPDU) string {
	switch v := p.Value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	default:
		return ""
	}
}

func pduBytes(p gosnmp.SnmpPDU) []byte {
	switch v := p.Value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// oidSuffix returns the last n numeric arcs of oid.
func oidSuffix(oid string, n int) ([]int, bool) {
	parts := strings.Split(strings.TrimSpace(oid), ".")
	if n <= 0 || len(parts) < n {
		return nil, false
	}
	out := make([]int, 0, n)
	for _, part := range parts[len(parts)-n:] {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
