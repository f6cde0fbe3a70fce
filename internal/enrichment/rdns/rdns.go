package rdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"topoview/internal/inventory"
	"topoview/internal/naming"
)

const (
	resolvConf      = "/etc/resolv.conf"
	fallbackDNS     = "127.0.0.53:53"
	defaultCacheTTL = 30 * time.Minute
)

// ErrNoName reports an address with no usable PTR record.
var ErrNoName = errors.New("no reverse name")

type Options struct {
	// Server is host:port of the recursive resolver. Empty reads the first
	// nameserver from /etc/resolv.conf.
	Server     string
	Timeout    time.Duration
	Workers    int
	MaxLookups int
	// CacheTTL bounds how long an answer (or a miss) is reused across refreshes.
	CacheTTL time.Duration
	Now      func() time.Time
}

type cacheEntry struct {
	name    string
	expires time.Time
}

// Resolver fills client reverse names with PTR lookups.
type Resolver struct {
	log    zerolog.Logger
	client *dns.Client
	server string
	opts   Options

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(log zerolog.Logger, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MaxLookups <= 0 {
		opts.MaxLookups = 512
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	server := strings.TrimSpace(opts.Server)
	if server == "" {
		server = systemServer()
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		log:    log,
		client: &dns.Client{Net: "udp", Timeout: opts.Timeout},
		server: server,
		opts:   opts,
		cache:  make(map[string]cacheEntry),
	}
}

func systemServer() string {
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackDNS
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

// Server returns the resolver address queries are sent to.
func (r *Resolver) Server() string { return r.server }

// LookupAddr returns the first PTR target for ip without the trailing dot.
func (r *Resolver) LookupAddr(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("reverse %q: %w", ip, err)
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return "", fmt.Errorf("ptr %s: %w", ip, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("ptr %s: %s: %w", ip, dns.RcodeToString[in.Rcode], ErrNoName)
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			if name := strings.TrimSuffix(ptr.Ptr, "."); name != "" {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("ptr %s: %w", ip, ErrNoName)
}

func (r *Resolver) cached(ip string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[ip]
	if !ok || r.opts.Now().After(e.expires) {
		return "", false
	}
	return e.name, true
}

func (r *Resolver) store(ip, name string) {
	r.mu.Lock()
	r.cache[ip] = cacheEntry{name: name, expires: r.opts.Now().Add(r.opts.CacheTTL)}
	r.mu.Unlock()
}

// needsName reports whether a client lacks every operator or DHCP label.
func needsName(c inventory.ClientRecord) bool {
	return strings.TrimSpace(c.Description) == "" &&
		strings.TrimSpace(c.DHCPHostname) == "" &&
		strings.TrimSpace(c.ReverseName) == ""
}

// Resolve returns a copy of clients with ReverseName filled for clients that
// have an address but no other name. Lookup failures leave the field empty.
func (r *Resolver) Resolve(ctx context.Context, clients []inventory.ClientRecord) []inventory.ClientRecord {
	out := make([]inventory.ClientRecord, len(clients))
	copy(out, clients)
	if r == nil {
		return out
	}

	type job struct {
		idx int
		ip  string
	}
	var pending []job
	for i, c := range out {
		if !needsName(c) {
			continue
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(c.IP))
		if err != nil || addr.IsUnspecified() || addr.IsLoopback() {
			continue
		}
		ip := addr.String()
		if name, ok := r.cached(ip); ok {
			out[i].ReverseName = name
			continue
		}
		pending = append(pending, job{idx: i, ip: ip})
		if len(pending) >= r.opts.MaxLookups {
			break
		}
	}
	if len(pending) == 0 {
		return out
	}

	jobs := make(chan job)
	wg := sync.WaitGroup{}
	var resolved, failed int
	var countMu sync.Mutex

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			if ctx.Err() != nil {
				continue
			}
			name, err := r.LookupAddr(ctx, j.ip)
			if err == nil {
				if stored, _, _, ok := naming.NormalizeCandidate(naming.SourceReverseDNS, name); ok {
					name = stored
				} else {
					name = ""
				}
			} else if !errors.Is(err, ErrNoName) {
				// Transport failures are not cached so the next refresh retries.
				countMu.Lock()
				failed++
				countMu.Unlock()
				continue
			}
			r.store(j.ip, name)
			// Each job owns a distinct index.
			out[j.idx].ReverseName = name
			if name != "" {
				countMu.Lock()
				resolved++
				countMu.Unlock()
			}
		}
	}

	workers := min(r.opts.Workers, len(pending))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
feed:
	for _, j := range pending {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- j:
		}
	}
	close(jobs)
	wg.Wait()

	r.log.Debug().
		Int("lookups", len(pending)).
		Int("resolved", resolved).
		Int("failed", failed).
		Str("server", r.server).
		Msg("reverse dns enrichment finished")
	return out
}
