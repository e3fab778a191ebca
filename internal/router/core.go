package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decentraland/Pulse/internal/metrics"
	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/session"
	"github.com/decentraland/Pulse/internal/wallet"
)

const defaultSweepInterval = time.Second

// Options wires a Core.
type Options struct {
	Lanes       int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Verifier    *wallet.Verifier
	AuthTimeout time.Duration
	Dispatcher  session.Dispatcher

	// SweepInterval paces auth-deadline checks; zero means one second.
	SweepInterval time.Duration
	// Now is stubbed in tests; nil means time.Now.
	Now func() time.Time
}

// Core is the session and routing core: the ingestion pipe entry point, the
// egress pipe, the router task and the worker lanes. The transport boundary
// adapter calls Submit and the lifecycle methods from its single poll
// goroutine and drains egress after every poll cycle; everything past the
// ingestion queue runs on the router and lane goroutines.
type Core struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	ingest *Queue[protocol.Incoming]
	egress *Queue[protocol.Outgoing]
	lanes  []*Lane
	router *Router
	claims *session.ClaimTable

	wg     sync.WaitGroup
	cancel context.CancelFunc

	packetsReceived atomic.Uint64
	parseErrors     atomic.Uint64
}

// New builds a core with the given number of worker lanes.
func New(opts Options) *Core {
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}

	c := &Core{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		ingest:  NewQueue[protocol.Incoming](),
		egress:  NewQueue[protocol.Outgoing](),
		claims:  session.NewClaimTable(),
	}

	c.lanes = make([]*Lane, opts.Lanes)
	for i := range c.lanes {
		handler := session.NewHandler(session.HandlerConfig{
			Lane:        i,
			Logger:      opts.Logger,
			Metrics:     opts.Metrics,
			Verifier:    opts.Verifier,
			Claims:      c.claims,
			Outbox:      c,
			Control:     c,
			Dispatcher:  opts.Dispatcher,
			AuthTimeout: opts.AuthTimeout,
			Now:         opts.Now,
		})
		c.lanes[i] = newLane(i, handler, opts.Logger, opts.Metrics, sweep)
	}
	c.router = newRouter(c.ingest, c.lanes, opts.Logger)
	return c
}

// Start launches the router and lane goroutines. The context is the abort
// path: cancelling it makes the router exit and close the lane queues, which
// then drain to completion.
func (c *Core) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.router.run(ctx)
	}()

	for _, lane := range c.lanes {
		c.wg.Add(1)
		go func(l *Lane) {
			defer c.wg.Done()
			l.run()
		}(lane)
	}

	c.logger.Info("routing core started", slog.Int("lanes", len(c.lanes)))
}

// Stop closes the ingestion queue and waits for the router and every lane to
// finish draining. Shutdown is drain-to-completion, not abort.
func (c *Core) Stop() {
	c.ingest.Close()
	c.wg.Wait()
	c.egress.Close()
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("routing core stopped")
}

// Submit is the ingestion pipe entry point, invoked on the transport thread
// for every received packet. It never blocks and never fails outward: a
// parse error is recorded and the packet discarded. The caller may reuse or
// release its buffer as soon as Submit returns; parsed messages never alias
// it.
func (c *Core) Submit(data []byte, from protocol.PeerID) {
	c.packetsReceived.Add(1)
	c.metrics.PacketsReceived.Inc()

	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		c.parseErrors.Add(1)
		c.metrics.ParseErrors.Inc()
		c.logger.Debug("discarding unparseable packet",
			slog.String("peer", from.String()),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	c.ingest.Push(protocol.Incoming{From: from, Msg: msg})
	c.metrics.IngestQueueDepth.Set(float64(c.ingest.Len()))
}

// PeerConnected signals a new transport connection.
func (c *Core) PeerConnected(peer protocol.PeerID) {
	c.Inject(protocol.Incoming{From: peer, Event: protocol.EventConnect})
}

// PeerDisconnected signals a confirmed transport disconnect.
func (c *Core) PeerDisconnected(peer protocol.PeerID) {
	c.Inject(protocol.Incoming{From: peer, Event: protocol.EventDisconnect})
}

// PeerTimedOut signals a transport-detected idle timeout.
func (c *Core) PeerTimedOut(peer protocol.PeerID) {
	c.Inject(protocol.Incoming{From: peer, Event: protocol.EventTimeout})
}

// Inject pushes a lifecycle envelope through the router so it reaches the
// owning lane in order with the peer's traffic. Lanes use this for
// cross-lane evictions.
func (c *Core) Inject(env protocol.Incoming) {
	c.ingest.Push(env)
	c.metrics.IngestQueueDepth.Set(float64(c.ingest.Len()))
}

// Enqueue adds an outgoing envelope to the egress pipe. Callable
// concurrently from any lane; the transport thread is the only consumer,
// because the transport handle is not safe for concurrent use.
func (c *Core) Enqueue(out protocol.Outgoing) {
	c.egress.Push(out)
	c.metrics.EgressQueueDepth.Set(float64(c.egress.Len()))
}

// TryDrainEgress hands the next outgoing envelope to the transport thread
// without blocking.
func (c *Core) TryDrainEgress() (protocol.Outgoing, bool) {
	out, ok := c.egress.TryRecv()
	if ok {
		c.metrics.EgressQueueDepth.Set(float64(c.egress.Len()))
		c.metrics.EgressSent.WithLabelValues(out.Mode.String()).Inc()
	}
	return out, ok
}

// Claims exposes the wallet claim table for the monitoring API.
func (c *Core) Claims() *session.ClaimTable {
	return c.claims
}

// Stats is a point-in-time snapshot for the monitoring API.
type Stats struct {
	PacketsReceived       uint64 `json:"packets_received"`
	ParseErrors           uint64 `json:"parse_errors"`
	Lanes                 int    `json:"lanes"`
	IngestQueueDepth      int    `json:"ingest_queue_depth"`
	EgressQueueDepth      int    `json:"egress_queue_depth"`
	AuthenticatedSessions int    `json:"authenticated_sessions"`
}

// GetStatistics returns current counters and queue depths.
func (c *Core) GetStatistics() Stats {
	return Stats{
		PacketsReceived:       c.packetsReceived.Load(),
		ParseErrors:           c.parseErrors.Load(),
		Lanes:                 len(c.lanes),
		IngestQueueDepth:      c.ingest.Len(),
		EgressQueueDepth:      c.egress.Len(),
		AuthenticatedSessions: c.claims.Len(),
	}
}
