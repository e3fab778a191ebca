package protocol

import "fmt"

// PeerID is the opaque per-connection handle assigned by the transport when a
// peer connects. It is value-equal, hashable and totally ordered, and it is
// never reused while a session for it is still owned by a worker lane.
//
// The underlying integer is deliberately not exposed through an implicit
// conversion: PeerIDFrom and Uint32 are the only crossings, and both belong
// to the transport boundary adapter. Everything above the boundary routes and
// partitions through Lane instead.
type PeerID uint32

// PeerIDFrom wraps a raw transport connection number. Only the transport
// boundary adapter should call this.
func PeerIDFrom(v uint32) PeerID {
	return PeerID(v)
}

// Uint32 unwraps the identifier for the transport boundary adapter. Only the
// adapter should call this.
func (p PeerID) Uint32() uint32 {
	return uint32(p)
}

// Lane returns the worker lane index owning this peer. The result is a pure
// function of the identifier, so a peer maps to the same lane for its entire
// lifetime.
func (p PeerID) Lane(laneCount int) int {
	return int(uint32(p) % uint32(laneCount))
}

// String returns a log-friendly representation.
func (p PeerID) String() string {
	return fmt.Sprintf("peer-%d", uint32(p))
}
