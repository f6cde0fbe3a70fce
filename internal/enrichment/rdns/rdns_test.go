package rdns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"topoview/internal/inventory"
)

// startPTRServer serves the given reverse zone over UDP on a loopback port.
func startPTRServer(t *testing.T, records map[string]string) (string, *atomic.Int32) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var queries atomic.Int32
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		queries.Add(1)
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if target, ok := records[q.Name]; ok && q.Qtype == dns.TypePTR {
			m.Answer = append(m.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
				Ptr: target,
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("dns server did not start")
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String(), &queries
}

func TestLookupAddr(t *testing.T) {
	addr, _ := startPTRServer(t, map[string]string{
		"5.1.168.192.in-addr.arpa.": "printer-2f.corp.example.",
	})
	r := New(zerolog.Nop(), Options{Server: addr, Timeout: time.Second})

	name, err := r.LookupAddr(context.Background(), "192.168.1.5")
	if err != nil || name != "printer-2f.corp.example" {
		t.Fatalf("unexpected lookup result %q, %v", name, err)
	}
	if _, err := r.LookupAddr(context.Background(), "192.168.1.6"); !errors.Is(err, ErrNoName) {
		t.Fatalf("expected ErrNoName for NXDOMAIN, got %v", err)
	}
	if _, err := r.LookupAddr(context.Background(), "not-an-ip"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}

func TestResolve_FillsOnlyUnnamedClients(t *testing.T) {
	addr, queries := startPTRServer(t, map[string]string{
		"5.1.168.192.in-addr.arpa.": "Printer-2F.corp.example.",
		"7.1.168.192.in-addr.arpa.": "named-already.corp.example.",
	})
	r := New(zerolog.Nop(), Options{Server: addr, Timeout: time.Second, Workers: 2})

	in := []inventory.ClientRecord{
		{ClientID: "c1", IP: "192.168.1.5"},
		{ClientID: "c2", IP: "192.168.1.6"},
		{ClientID: "c3", IP: "192.168.1.7", DHCPHostname: "laptop"},
		{ClientID: "c4"},
	}
	out := r.Resolve(context.Background(), in)

	if out[0].ReverseName != "printer-2f.corp.example" {
		t.Fatalf("expected lowercased reverse name, got %q", out[0].ReverseName)
	}
	if out[1].ReverseName != "" || out[2].ReverseName != "" || out[3].ReverseName != "" {
		t.Fatalf("unexpected names: %+v", out)
	}
	if in[0].ReverseName != "" {
		t.Fatalf("input slice must not be modified")
	}
	if got := queries.Load(); got != 2 {
		t.Fatalf("expected 2 queries, got %d", got)
	}

	// Answers and misses are cached for the next refresh.
	again := r.Resolve(context.Background(), in)
	if again[0].ReverseName != "printer-2f.corp.example" {
		t.Fatalf("expected cached name, got %q", again[0].ReverseName)
	}
	if got := queries.Load(); got != 2 {
		t.Fatalf("expected cache hits, got %d queries", got)
	}
}

func TestResolve_CacheExpires(t *testing.T) {
	addr, queries := startPTRServer(t, map[string]string{
		"5.1.168.192.in-addr.arpa.": "printer.corp.example.",
	})
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := New(zerolog.Nop(), Options{
		Server:   addr,
		CacheTTL: time.Minute,
		Now:      func() time.Time { return now },
	})
	in := []inventory.ClientRecord{{ClientID: "c1", IP: "192.168.1.5"}}
	r.Resolve(context.Background(), in)
	now = now.Add(2 * time.Minute)
	r.Resolve(context.Background(), in)
	if got := queries.Load(); got != 2 {
		t.Fatalf("expected a fresh query after expiry, got %d", got)
	}
}

func TestResolve_NilResolverCopies(t *testing.T) {
	var r *Resolver
	in := []inventory.ClientRecord{{ClientID: "c1", IP: "10.0.0.1"}}
	out := r.Resolve(context.Background(), in)
	if len(out) != 1 || out[0].ClientID != "c1" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestNew_ServerPort(t *testing.T) {
	r := New(zerolog.Nop(), Options{Server: "10.0.0.53"})
	if r.Server() != "10.0.0.53:53" {
		t.Fatalf("expected default port, got %q", r.Server())
	}
}
