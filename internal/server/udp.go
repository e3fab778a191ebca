package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/decentraland/Pulse/internal/config"
	"github.com/decentraland/Pulse/internal/protocol"
)

// UDPTransport is the reference boundary adapter: an ENet-style peer table
// over a plain UDP socket. One goroutine drives the blocking poll loop,
// parses nothing itself, hands every datagram to the sink, and drains the
// egress pipe after each cycle. That goroutine is the only one that ever
// touches the socket or the peer table.
//
// Outbound datagrams are prefixed with one channel byte derived from the
// delivery mode (0 reliable-ordered, 1 unreliable-sequenced, 2
// unreliable-unordered). Retransmission for channel 0 is left to the real
// transport; this adapter only honors the channel convention.
type UDPTransport struct {
	config *config.ServerConfig
	logger *slog.Logger
	sink   Sink

	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Poll-goroutine state, no synchronization needed.
	nextPeer    uint32
	peersByAddr map[string]*udpPeer
	peersByID   map[protocol.PeerID]*udpPeer
	lastSweep   time.Time
}

// udpPeer is one live remote address. Identifiers are assigned from a
// monotonic counter and never reused.
type udpPeer struct {
	id       protocol.PeerID
	addr     *net.UDPAddr
	lastSeen time.Time
}

// NewUDPTransport creates the adapter. The sink is the routing core.
func NewUDPTransport(cfg *config.ServerConfig, logger *slog.Logger, sink Sink) *UDPTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPTransport{
		config:      cfg,
		logger:      logger,
		sink:        sink,
		ctx:         ctx,
		cancel:      cancel,
		peersByAddr: make(map[string]*udpPeer),
		peersByID:   make(map[protocol.PeerID]*udpPeer),
	}
}

// Start binds the socket and launches the poll goroutine. A bind failure is
// fatal to startup; there is no degraded mode without a transport.
func (t *UDPTransport) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.config.BindAddress, t.config.ListenPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	t.conn = conn

	if err := t.conn.SetReadBuffer(t.config.BufferSize); err != nil {
		t.logger.Warn("failed to set UDP read buffer size",
			slog.Int("buffer_size", t.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	t.logger.Info("transport started",
		slog.String("address", addr.String()),
		slog.Duration("poll_timeout", t.config.GetPollTimeout()),
	)

	t.wg.Add(1)
	go t.pollLoop()
	return nil
}

// Stop closes the socket and waits for the poll goroutine. Independent of
// lane completion by design.
func (t *UDPTransport) Stop() error {
	t.cancel()
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Warn("error closing UDP socket", slog.String("error", err.Error()))
		}
	}
	t.wg.Wait()
	t.logger.Info("transport stopped")
	return nil
}

// LocalAddr returns the bound address.
func (t *UDPTransport) LocalAddr() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

// pollLoop is the transport thread: receive with a bounded poll timeout,
// then drain egress and sweep idle peers every cycle. It never blocks on
// anything except the poll itself.
func (t *UDPTransport) pollLoop() {
	defer t.wg.Done()

	buffer := make([]byte, t.config.BufferSize)
	t.lastSweep = time.Now()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(t.config.GetPollTimeout())); err != nil {
			t.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
		}

		n, remoteAddr, err := t.conn.ReadFromUDP(buffer)
		switch {
		case err == nil:
			t.handleDatagram(buffer[:n], remoteAddr)
		default:
			if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
				select {
				case <-t.ctx.Done():
					return
				default:
					t.logger.Error("failed to read datagram", slog.String("error", err.Error()))
				}
			}
		}

		t.drainEgress()
		t.sweepIdlePeers()
	}
}

// handleDatagram resolves the sender to a peer and submits the payload. The
// receive buffer is reused on the next poll; the sink must not retain it,
// and Submit guarantees parsed messages never alias it.
func (t *UDPTransport) handleDatagram(data []byte, remoteAddr *net.UDPAddr) {
	key := remoteAddr.String()
	peer, known := t.peersByAddr[key]
	if !known {
		if len(t.peersByAddr) >= t.config.MaxPeers {
			t.logger.Warn("rejecting datagram, peer table full",
				slog.String("remote_addr", key),
				slog.Int("max_peers", t.config.MaxPeers),
			)
			return
		}
		t.nextPeer++
		peer = &udpPeer{
			id:   protocol.PeerIDFrom(t.nextPeer),
			addr: remoteAddr,
		}
		t.peersByAddr[key] = peer
		t.peersByID[peer.id] = peer
		t.logger.Debug("peer connected",
			slog.String("peer", peer.id.String()),
			slog.String("remote_addr", key),
		)
		t.sink.PeerConnected(peer.id)
	}
	peer.lastSeen = time.Now()
	t.sink.Submit(data, peer.id)
}

// drainEgress performs every pending send and close on this goroutine; the
// socket is not safe for concurrent use, so all sends funnel through here.
func (t *UDPTransport) drainEgress() {
	for {
		out, ok := t.sink.TryDrainEgress()
		if !ok {
			return
		}
		peer, live := t.peersByID[out.To]
		if !live {
			// Already gone; nothing to send or close.
			continue
		}
		if out.Data != nil && out.Close != protocol.CloseImmediate {
			t.send(peer, out.Data, out.Mode)
		}
		if out.Close != protocol.CloseNone {
			t.disconnect(peer)
		}
	}
}

func (t *UDPTransport) send(peer *udpPeer, data []byte, mode protocol.DeliveryMode) {
	datagram := make([]byte, 1+len(data))
	datagram[0] = mode.Channel()
	copy(datagram[1:], data)
	if _, err := t.conn.WriteToUDP(datagram, peer.addr); err != nil {
		t.logger.Warn("failed to send datagram",
			slog.String("peer", peer.id.String()),
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (t *UDPTransport) disconnect(peer *udpPeer) {
	delete(t.peersByAddr, peer.addr.String())
	delete(t.peersByID, peer.id)
	t.logger.Debug("peer disconnected", slog.String("peer", peer.id.String()))
	t.sink.PeerDisconnected(peer.id)
}

// sweepIdlePeers detects silent peers, at most once per idle window quarter.
func (t *UDPTransport) sweepIdlePeers() {
	idle := t.config.GetPeerIdleTimeout()
	now := time.Now()
	if now.Sub(t.lastSweep) < idle/4 {
		return
	}
	t.lastSweep = now

	for key, peer := range t.peersByAddr {
		if now.Sub(peer.lastSeen) < idle {
			continue
		}
		delete(t.peersByAddr, key)
		delete(t.peersByID, peer.id)
		t.logger.Debug("peer timed out",
			slog.String("peer", peer.id.String()),
			slog.Duration("idle", now.Sub(peer.lastSeen)),
		)
		t.sink.PeerTimedOut(peer.id)
	}
}
