package session

import (
	"time"

	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/wallet"
)

// State is the connection state of a peer session.
type State uint8

const (
	// StatePendingAuth is the initial state: only a handshake is accepted,
	// everything else is silently dropped.
	StatePendingAuth State = iota
	// StateAuthenticated means the wallet identity is verified and game
	// messages are dispatched. There is no path back to StatePendingAuth.
	StateAuthenticated
	// StateDisconnecting is terminal-pending: the session is no longer
	// dispatched to and is removed once the transport confirms closure.
	StateDisconnecting
)

// String returns a log-friendly representation.
func (s State) String() string {
	switch s {
	case StatePendingAuth:
		return "pending_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Session is the per-peer state record, owned exclusively by one worker lane
// for the peer's entire lifetime. None of its fields may be read or written
// outside the owning lane.
type Session struct {
	ID        protocol.PeerID
	State     State
	Wallet    wallet.Address // set only once authenticated
	CreatedAt time.Time
	// AuthDeadline is the instant after which a still-unauthenticated
	// session is forcibly closed.
	AuthDeadline time.Time
}
