package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"topoview/internal/classify"
	"topoview/internal/dashboard"
	"topoview/internal/inventory"
	"topoview/internal/metrics"
	"topoview/internal/topology"
)

// Source is the retrieval surface a refresh cycle reads from.
// *dashboard.Client satisfies this.
type Source interface {
	Devices(ctx context.Context, networkID string) ([]inventory.DeviceRecord, error)
	Clients(ctx context.Context, networkID string, lookback time.Duration) ([]inventory.ClientRecord, error)
	TopologyLinks(ctx context.Context, networkID string) ([]inventory.LinkRecord, error)
	DeviceUplinks(ctx context.Context, serial string, role classify.Role) ([]inventory.Uplink, error)
}

// Publisher receives finished graphs. *session.Session satisfies this.
type Publisher interface {
	Begin() uint64
	Publish(gen uint64, g *topology.Graph) bool
	Fail(gen uint64, err error) bool
}

// LinkDiscoverer supplies authoritative links when the dashboard has none.
type LinkDiscoverer interface {
	Discover(ctx context.Context, devices []inventory.DeviceRecord) []inventory.LinkRecord
}

type NameResolver interface {
	Resolve(ctx context.Context, clients []inventory.ClientRecord) []inventory.ClientRecord
}

// SupplementSource reports inventory from outside the dashboard.
// inventory.SupplementFile satisfies this.
type SupplementSource interface {
	Load() (inventory.Supplement, error)
}

// SnapshotStore persists the last published graph per network.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, networkID string, g *topology.Graph) error
}

// Refresh outcomes, also used as the metrics label.
const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultSuperseded = "superseded"
)

type Options struct {
	NetworkID      string
	Interval       time.Duration
	MaxBackoff     time.Duration
	MaxRuntime     time.Duration
	ClientLookback time.Duration
	UplinkWorkers  int

	Builder    *topology.Builder
	Links      LinkDiscoverer
	Names      NameResolver
	Store      SnapshotStore
	Supplement SupplementSource
}

type Worker struct {
	log            zerolog.Logger
	src            Source
	pub            Publisher
	networkID      string
	interval       time.Duration
	maxBackoff     time.Duration
	maxRuntime     time.Duration
	clientLookback time.Duration
	uplinkWorkers  int
	builder        *topology.Builder
	links          LinkDiscoverer
	names          NameResolver
	store          SnapshotStore
	supplement     SupplementSource
	metrics        *metrics.Metrics

	trigger chan struct{}
}

func New(log zerolog.Logger, src Source, pub Publisher, opts Options, m *metrics.Metrics) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Minute
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	maxRuntime := opts.MaxRuntime
	if maxRuntime <= 0 {
		maxRuntime = 2 * time.Minute
	}
	lookback := opts.ClientLookback
	if lookback <= 0 {
		lookback = dashboard.DefaultLookback
	}
	uplinkWorkers := opts.UplinkWorkers
	if uplinkWorkers <= 0 {
		uplinkWorkers = 4
	}
	builder := opts.Builder
	if builder == nil {
		builder = topology.NewBuilder(topology.Options{Logger: log})
	}

	return &Worker{
		log:            log,
		src:            src,
		pub:            pub,
		networkID:      strings.TrimSpace(opts.NetworkID),
		interval:       interval,
		maxBackoff:     maxBackoff,
		maxRuntime:     maxRuntime,
		clientLookback: lookback,
		uplinkWorkers:  uplinkWorkers,
		builder:        builder,
		links:          opts.Links,
		names:          opts.Names,
		store:          opts.Store,
		supplement:     opts.Supplement,
		metrics:        m,
		trigger:        make(chan struct{}, 1),
	}
}

// Trigger asks for an immediate refresh. A refresh already in flight is
// superseded. Repeated triggers before the loop wakes collapse into one.
func (w *Worker) Trigger() {
	if w == nil {
		return
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

type outcome struct {
	gen uint64
	err error
}

// Run refreshes immediately, then every interval. Consecutive failures back
// off exponentially up to MaxBackoff. It returns when ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.src == nil || w.pub == nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var (
		wg       sync.WaitGroup
		current  uint64
		cancel   context.CancelFunc
		failures int
	)
	done := make(chan outcome)
	defer func() {
		if cancel != nil {
			cancel()
		}
		wg.Wait()
	}()

	start := func() {
		timer.Stop()
		if cancel != nil {
			// Supersede whatever is still running.
			cancel()
		}
		var runCtx context.Context
		runCtx, cancel = context.WithCancel(ctx)
		gen := w.pub.Begin()
		current = gen
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.runOnce(runCtx, gen)
			select {
			case done <- outcome{gen: gen, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			start()
		case <-w.trigger:
			w.log.Info().Str("network_id", w.networkID).Msg("manual refresh requested")
			start()
		case o := <-done:
			if o.gen != current {
				continue
			}
			cancel()
			cancel = nil
			if o.err != nil {
				failures++
			} else {
				failures = 0
			}
			timer.Reset(backoffDuration(w.interval, failures, w.maxBackoff))
		}
	}
}

func backoffDuration(base time.Duration, failures int, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Minute
	}
	if ceiling < base {
		ceiling = base
	}
	if failures <= 0 {
		return base
	}
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > ceiling {
		return ceiling
	}
	return d
}

// RunOnce performs a single refresh cycle outside the loop.
func (w *Worker) RunOnce(ctx context.Context) error {
	return w.runOnce(ctx, w.pub.Begin())
}

func (w *Worker) runOnce(ctx context.Context, gen uint64) error {
	start := time.Now()
	log := w.log.With().Uint64("generation", gen).Str("network_id", w.networkID).Logger()

	execCtx, cancel := context.WithTimeout(ctx, w.maxRuntime)
	defer cancel()

	g, err := w.collect(execCtx, log)
	if err != nil {
		if ctx.Err() != nil {
			w.metrics.ObserveRefresh(ResultSuperseded, time.Since(start))
			log.Debug().Err(err).Msg("refresh canceled")
			return err
		}
		w.metrics.ObserveRefresh(ResultFailure, time.Since(start))
		log.Error().
			Err(err).
			Int("status", dashboard.StatusOf(err)).
			Bool("retryable", dashboard.IsRetryable(err)).
			Msg("refresh failed, keeping last known snapshot")
		w.pub.Fail(gen, err)
		return err
	}

	if !w.pub.Publish(gen, g) {
		w.metrics.ObserveRefresh(ResultSuperseded, time.Since(start))
		return nil
	}
	w.metrics.ObserveRefresh(ResultSuccess, time.Since(start))
	w.recordCounts(g)
	log.Info().
		Int("nodes", len(g.Nodes)).
		Int("edges", len(g.Edges)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("refresh completed")

	if w.store != nil {
		if err := w.store.SaveSnapshot(ctx, w.networkID, g); err != nil {
			log.Warn().Err(err).Msg("failed to cache topology snapshot")
		}
	}
	return nil
}

// collect fetches everything one graph needs and builds it. Only device and
// client failures fail the cycle; links, uplinks and names are best effort.
func (w *Worker) collect(ctx context.Context, log zerolog.Logger) (*topology.Graph, error) {
	var (
		devices []inventory.DeviceRecord
		clients []inventory.ClientRecord
		links   []inventory.LinkRecord
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		devices, err = w.src.Devices(egCtx, w.networkID)
		return err
	})
	eg.Go(func() error {
		var err error
		clients, err = w.src.Clients(egCtx, w.networkID, w.clientLookback)
		return err
	})
	eg.Go(func() error {
		l, err := w.src.TopologyLinks(egCtx, w.networkID)
		switch {
		case err == nil:
			links = l
		case errors.Is(err, dashboard.ErrUnavailable):
			log.Debug().Msg("topology endpoint unavailable, links treated as absent")
		case egCtx.Err() != nil:
		default:
			log.Warn().Err(err).Msg("topology links failed, links treated as absent")
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(links) == 0 && w.links != nil {
		links = w.links.Discover(ctx, devices)
		if len(links) > 0 {
			log.Info().Int("links", len(links)).Msg("using lldp/cdp links")
		}
	}

	devices = w.attachUplinks(ctx, log, devices)
	devices, clients = w.mergeSupplement(log, devices, clients)

	if w.names != nil {
		clients = w.names.Resolve(ctx, clients)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return w.builder.Build(devices, clients, links), nil
}

// mergeSupplement appends supplement records after the dashboard's so a
// dashboard record wins any identifier collision. A failed load is skipped.
func (w *Worker) mergeSupplement(log zerolog.Logger, devices []inventory.DeviceRecord, clients []inventory.ClientRecord) ([]inventory.DeviceRecord, []inventory.ClientRecord) {
	if w.supplement == nil {
		return devices, clients
	}
	sup, err := w.supplement.Load()
	if err != nil {
		log.Warn().Err(err).Msg("supplement inventory skipped")
		return devices, clients
	}
	log.Debug().
		Int("devices", len(sup.Devices)).
		Int("clients", len(sup.Clients)).
		Msg("merged supplement inventory")
	return append(devices, sup.Devices...), append(clients, sup.Clients...)
}

// attachUplinks fills DeviceRecord.Uplinks for devices whose role exposes
// uplink status. Failures leave the device without uplinks.
func (w *Worker) attachUplinks(ctx context.Context, log zerolog.Logger, devices []inventory.DeviceRecord) []inventory.DeviceRecord {
	out := make([]inventory.DeviceRecord, len(devices))
	copy(out, devices)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.uplinkWorkers)
	for i := range out {
		serial := strings.TrimSpace(out[i].Serial)
		role := classify.ClassifyDevice(out[i]).Role
		if serial == "" || !classify.SupportsCapability(role, classify.CapUplink) {
			continue
		}
		eg.Go(func() error {
			ups, err := w.src.DeviceUplinks(egCtx, serial, role)
			if err != nil {
				log.Warn().Err(err).Str("node_id", serial).Msg("uplink status unavailable")
				return nil
			}
			out[i].Uplinks = ups
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (w *Worker) recordCounts(g *topology.Graph) {
	if w.metrics == nil {
		return
	}
	st := topology.ComputeStats(g)
	roles := make(map[string]int, len(st.NodesByRole))
	for r, n := range st.NodesByRole {
		roles[string(r)] = n
	}
	kinds := make(map[string]int, len(st.EdgesByKind))
	for k, n := range st.EdgesByKind {
		kinds[string(k)] = n
	}
	w.metrics.SetGraphCounts(roles, kinds)
}
