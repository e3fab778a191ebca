package protocol

// DeliveryMode governs the outbound send's channel and guarantees.
type DeliveryMode uint8

const (
	ReliableOrdered DeliveryMode = iota
	UnreliableSequenced
	UnreliableUnordered
)

// Channel maps the delivery mode to the transport channel convention:
// reliable-ordered on channel 0, unreliable-sequenced on channel 1,
// unreliable-unordered on channel 2. Reliable traffic can head-of-line-block
// later sequenced traffic sharing its channel; that is inherent to the
// convention.
func (m DeliveryMode) Channel() uint8 {
	switch m {
	case ReliableOrdered:
		return 0
	case UnreliableSequenced:
		return 1
	default:
		return 2
	}
}

// String returns a log-friendly representation.
func (m DeliveryMode) String() string {
	switch m {
	case ReliableOrdered:
		return "reliable_ordered"
	case UnreliableSequenced:
		return "unreliable_sequenced"
	case UnreliableUnordered:
		return "unreliable_unordered"
	default:
		return "unknown"
	}
}

// Event marks a lifecycle envelope. Lifecycle signals travel through the
// same router path as packets so they reach the owning lane in order with
// the peer's traffic.
type Event uint8

const (
	// EventNone marks a regular message envelope.
	EventNone Event = iota
	// EventConnect is emitted by the transport when a peer connects.
	EventConnect
	// EventDisconnect is emitted by the transport when it confirms a
	// connection is gone.
	EventDisconnect
	// EventTimeout is emitted by the transport when a peer goes silent past
	// its idle window.
	EventTimeout
	// EventEvict is injected by a worker lane when a duplicate wallet claim
	// displaces an older session, possibly on another lane.
	EventEvict
)

// String returns a log-friendly representation.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "message"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventTimeout:
		return "timeout"
	case EventEvict:
		return "evict"
	default:
		return "unknown"
	}
}

// Incoming is an immutable envelope handed from the ingestion pipe to the
// router and on to a worker lane. Msg is set for regular messages and nil
// for lifecycle envelopes.
type Incoming struct {
	From  PeerID
	Msg   *ClientMessage
	Event Event
}

// CloseMode is an optional connection-close request attached to an outgoing
// envelope, executed by the transport thread after any send.
type CloseMode uint8

const (
	// CloseNone leaves the connection open.
	CloseNone CloseMode = iota
	// CloseDeferred flushes the message first, then tears the connection
	// down. Used for auth rejections so the client sees the reason.
	CloseDeferred
	// CloseImmediate tears the connection down without sending anything.
	CloseImmediate
)

// Outgoing is an immutable envelope produced by a worker lane and consumed
// exactly once by the transport thread. Data holds the encoded server
// message and may be nil for a pure close request.
type Outgoing struct {
	To    PeerID
	Data  []byte
	Mode  DeliveryMode
	Close CloseMode
}
