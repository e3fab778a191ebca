package router

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/decentraland/Pulse/internal/metrics"
	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/session"
	"github.com/decentraland/Pulse/internal/wallet"
)

const testServerID = "pulse-test-1"

// recordingDispatcher captures game dispatches across lanes.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls map[protocol.PeerID][]uint32
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{calls: make(map[protocol.PeerID][]uint32)}
}

func (d *recordingDispatcher) HandleGame(peer protocol.PeerID, _ wallet.Address, msg *protocol.GameMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var seq uint32
	if len(msg.Body) >= 4 {
		seq = binary.BigEndian.Uint32(msg.Body)
	}
	d.calls[peer] = append(d.calls[peer], seq)
	return nil
}

func (d *recordingDispatcher) sequences(peer protocol.PeerID) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[peer]
}

func newTestCore(t *testing.T, lanes int, dispatcher session.Dispatcher) *Core {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(Options{
		Lanes:   lanes,
		Logger:  logger,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Verifier: &wallet.Verifier{
			ServerID: testServerID,
			MaxSkew:  60 * time.Second,
		},
		AuthTimeout: 30 * time.Second,
		Dispatcher:  dispatcher,
		// Deadline sweeps are exercised in the session tests; keep them out
		// of the way here.
		SweepInterval: time.Hour,
	})
}

// submitHandshake builds and submits a valid wire-encoded handshake.
func submitHandshake(t *testing.T, c *Core, peer protocol.PeerID, walletKey *wallet.Key, timestamp int64) {
	t.Helper()

	ephemeralKey, err := wallet.NewKey()
	if err != nil {
		t.Fatalf("failed to generate ephemeral key: %v", err)
	}
	chain, err := wallet.NewChain(walletKey, ephemeralKey.Address(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to build chain: %v", err)
	}
	sig, err := wallet.SignConnect(ephemeralKey, testServerID, timestamp)
	if err != nil {
		t.Fatalf("failed to sign connect: %v", err)
	}
	data, err := protocol.EncodeHandshake(protocol.HandshakeMsg{
		AuthChain:        chain,
		Timestamp:        timestamp,
		ServerID:         testServerID,
		ConnectSignature: sig,
	})
	if err != nil {
		t.Fatalf("failed to encode handshake: %v", err)
	}
	c.Submit(data, peer)
}

func submitGame(t *testing.T, c *Core, peer protocol.PeerID, kind byte, seq uint32) {
	t.Helper()
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, seq)
	data, err := protocol.EncodeGameMessage(kind, body)
	if err != nil {
		t.Fatalf("failed to encode game message: %v", err)
	}
	c.Submit(data, peer)
}

// drainOutgoing collects egress envelopes until none arrive for a while.
// Stop has already been called, so everything enqueued is on its way out.
func drainOutgoing(c *Core) []protocol.Outgoing {
	var out []protocol.Outgoing
	idle := 0
	for idle < 50 {
		if env, ok := c.TryDrainEgress(); ok {
			out = append(out, env)
			idle = 0
			continue
		}
		idle++
		time.Sleep(time.Millisecond)
	}
	return out
}

func TestPerPeerOrderingAcrossLanes(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	core := newTestCore(t, 3, dispatcher)
	core.Start(context.Background())

	const peers = 8
	const messages = 200

	keys := make([]*wallet.Key, peers)
	for i := range keys {
		key, err := wallet.NewKey()
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		keys[i] = key
		submitHandshake(t, core, protocol.PeerIDFrom(uint32(i+1)), key, time.Now().Unix())
	}

	// Interleave traffic across peers the way a transport would deliver it.
	for seq := uint32(0); seq < messages; seq++ {
		for i := 0; i < peers; i++ {
			submitGame(t, core, protocol.PeerIDFrom(uint32(i+1)), protocol.GameKindMove, seq)
		}
	}

	// Drain-to-completion shutdown: everything submitted must be processed.
	core.Stop()

	for i := 0; i < peers; i++ {
		peer := protocol.PeerIDFrom(uint32(i + 1))
		seqs := dispatcher.sequences(peer)
		if len(seqs) != messages {
			t.Fatalf("%s: expected %d dispatches, got %d", peer, messages, len(seqs))
		}
		for j, seq := range seqs {
			if seq != uint32(j) {
				t.Fatalf("%s: message %d arrived out of order (seq %d)", peer, j, seq)
			}
		}
	}
}

func TestPartitionExclusivity(t *testing.T) {
	const lanes = 3
	core := newTestCore(t, lanes, nil)
	core.Start(context.Background())

	for raw := uint32(1); raw <= 20; raw++ {
		core.PeerConnected(protocol.PeerIDFrom(raw))
	}
	core.Stop()

	for raw := uint32(1); raw <= 20; raw++ {
		peer := protocol.PeerIDFrom(raw)
		owner := peer.Lane(lanes)
		for i, lane := range core.lanes {
			_, found := lane.Handler().Lookup(peer)
			if i == owner && !found {
				t.Errorf("%s missing from its owning lane %d", peer, owner)
			}
			if i != owner && found {
				t.Errorf("%s present on lane %d, owned by %d", peer, i, owner)
			}
		}
	}
}

func TestEndToEndScenario(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	core := newTestCore(t, 4, dispatcher)
	core.Start(context.Background())

	// Peer 7: connect then valid handshake.
	walletKey, err := wallet.NewKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	core.PeerConnected(protocol.PeerIDFrom(7))
	submitHandshake(t, core, protocol.PeerIDFrom(7), walletKey, time.Now().Unix())

	// Peer 9: game message with no prior handshake.
	core.PeerConnected(protocol.PeerIDFrom(9))
	submitGame(t, core, protocol.PeerIDFrom(9), protocol.GameKindAction, 1)

	// Peer 3: handshake with a timestamp 120s in the past.
	staleKey, err := wallet.NewKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	core.PeerConnected(protocol.PeerIDFrom(3))
	submitHandshake(t, core, protocol.PeerIDFrom(3), staleKey, time.Now().Add(-120*time.Second).Unix())

	core.Stop()

	if holder, ok := core.Claims().Holder(walletKey.Address()); !ok || holder != protocol.PeerIDFrom(7) {
		t.Errorf("expected peer-7 authenticated, got %v %v", holder, ok)
	}
	if _, ok := core.Claims().Holder(staleKey.Address()); ok {
		t.Errorf("stale handshake must not authenticate")
	}
	if calls := dispatcher.sequences(protocol.PeerIDFrom(9)); len(calls) != 0 {
		t.Errorf("pre-auth game message reached the dispatcher: %v", calls)
	}

	var sawWelcome7, sawReject3 bool
	for _, out := range drainOutgoing(core) {
		switch {
		case out.To == protocol.PeerIDFrom(7):
			if len(out.Data) > 0 && out.Data[0] == protocol.MsgTypeAuthReject {
				t.Errorf("peer-7 received a rejection")
			}
			if len(out.Data) > 0 && out.Data[0] == protocol.MsgTypeWelcome {
				sawWelcome7 = true
			}
		case out.To == protocol.PeerIDFrom(3):
			if sawReject3 {
				t.Errorf("peer-3 received more than one envelope")
			}
			if len(out.Data) == 0 || out.Data[0] != protocol.MsgTypeAuthReject {
				t.Errorf("expected rejection for peer-3, got %+v", out)
			}
			if out.Close != protocol.CloseDeferred {
				t.Errorf("expected deferred close for peer-3, got %v", out.Close)
			}
			sawReject3 = true
		case out.To == protocol.PeerIDFrom(9):
			t.Errorf("peer-9 received an unexpected envelope: %+v", out)
		}
	}
	if !sawWelcome7 {
		t.Errorf("peer-7 never received a welcome")
	}
	if !sawReject3 {
		t.Errorf("peer-3 never received a rejection")
	}
}

func TestDuplicateIdentityAcrossLanes(t *testing.T) {
	core := newTestCore(t, 4, nil)
	core.Start(context.Background())

	walletKey, err := wallet.NewKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	// Peers 5 and 6 map to different lanes with 4 lanes; the eviction must
	// travel through the router to the old session's owner.
	first := protocol.PeerIDFrom(5)
	second := protocol.PeerIDFrom(6)
	submitHandshake(t, core, first, walletKey, time.Now().Unix())

	// Let the first handshake settle before the second claims the wallet.
	waitFor(t, time.Second, func() bool {
		holder, ok := core.Claims().Holder(walletKey.Address())
		return ok && holder == first
	})

	submitHandshake(t, core, second, walletKey, time.Now().Unix())
	waitFor(t, time.Second, func() bool {
		holder, ok := core.Claims().Holder(walletKey.Address())
		return ok && holder == second
	})

	core.Stop()

	if _, found := core.lanes[first.Lane(4)].Handler().Lookup(first); found {
		t.Errorf("evicted session still present on its lane")
	}
	if sess, found := core.lanes[second.Lane(4)].Handler().Lookup(second); !found || sess.State != session.StateAuthenticated {
		t.Errorf("new session missing or not authenticated: %+v %v", sess, found)
	}
}

func TestParseFailureIsContained(t *testing.T) {
	core := newTestCore(t, 2, nil)
	core.Start(context.Background())

	core.Submit([]byte{0xFF, 0xFF}, protocol.PeerIDFrom(1))
	core.Submit([]byte{}, protocol.PeerIDFrom(2))
	core.Stop()

	stats := core.GetStatistics()
	if stats.ParseErrors != 2 {
		t.Errorf("expected 2 parse errors, got %d", stats.ParseErrors)
	}
	if stats.PacketsReceived != 2 {
		t.Errorf("expected 2 packets received, got %d", stats.PacketsReceived)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
