package server

import "github.com/decentraland/Pulse/internal/protocol"

// Sink is the surface the routing core exposes to a transport adapter. All
// methods are invoked from the adapter's single poll goroutine: Submit and
// the lifecycle signals on receive, TryDrainEgress after every poll cycle.
// Submit never blocks and never fails outward; a stall here would stall
// packet delivery for every peer.
type Sink interface {
	Submit(data []byte, from protocol.PeerID)
	PeerConnected(peer protocol.PeerID)
	PeerDisconnected(peer protocol.PeerID)
	PeerTimedOut(peer protocol.PeerID)
	TryDrainEgress() (protocol.Outgoing, bool)
}

// Transport is a boundary adapter the process can start and stop. Concrete
// adapters own the transport handle on one goroutine and serialize every
// send onto it; nothing above the boundary touches the handle.
type Transport interface {
	Start() error
	Stop() error
	LocalAddr() string
}
