package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/decentraland/Pulse/internal/metrics"
	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/wallet"
)

// Outbox accepts outgoing envelopes for the egress pipe. Safe for concurrent
// use by all lanes.
type Outbox interface {
	Enqueue(protocol.Outgoing)
}

// ControlSink re-injects lifecycle envelopes into the ingestion queue so the
// router delivers them to the owning lane. Used for cross-lane evictions.
type ControlSink interface {
	Inject(protocol.Incoming)
}

// Dispatcher receives game messages for authenticated peers. Implementations
// may return an error; it is caught at the lane boundary and never affects
// other peers.
type Dispatcher interface {
	HandleGame(peer protocol.PeerID, addr wallet.Address, msg *protocol.GameMessage) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(peer protocol.PeerID, addr wallet.Address, msg *protocol.GameMessage) error

// HandleGame calls f.
func (f DispatcherFunc) HandleGame(peer protocol.PeerID, addr wallet.Address, msg *protocol.GameMessage) error {
	return f(peer, addr, msg)
}

// HandlerConfig wires a lane handler.
type HandlerConfig struct {
	Lane        int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Verifier    *wallet.Verifier
	Claims      *ClaimTable
	Outbox      Outbox
	Control     ControlSink
	Dispatcher  Dispatcher // nil disables game dispatch beyond ping
	AuthTimeout time.Duration
	Now         func() time.Time // nil means time.Now
}

// Handler runs the authentication state machine and game dispatch for the
// disjoint set of peers owned by one worker lane. It is not safe for
// concurrent use; exactly one lane goroutine drives it.
type Handler struct {
	lane        int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	verifier    *wallet.Verifier
	claims      *ClaimTable
	outbox      Outbox
	control     ControlSink
	dispatcher  Dispatcher
	authTimeout time.Duration
	now         func() time.Time

	sessions map[protocol.PeerID]*Session
}

// NewHandler creates a lane handler.
func NewHandler(cfg HandlerConfig) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		lane:        cfg.Lane,
		logger:      cfg.Logger.With(slog.Int("lane", cfg.Lane)),
		metrics:     cfg.Metrics,
		verifier:    cfg.Verifier,
		claims:      cfg.Claims,
		outbox:      cfg.Outbox,
		control:     cfg.Control,
		dispatcher:  cfg.Dispatcher,
		authTimeout: cfg.AuthTimeout,
		now:         now,
		sessions:    make(map[protocol.PeerID]*Session),
	}
}

// SessionCount returns the number of sessions owned by this lane. Owning
// lane only.
func (h *Handler) SessionCount() int {
	return len(h.sessions)
}

// Lookup returns the session for a peer. Owning lane only.
func (h *Handler) Lookup(peer protocol.PeerID) (*Session, bool) {
	s, ok := h.sessions[peer]
	return s, ok
}

// Handle processes one envelope for a peer owned by this lane. Errors are
// terminal to the single message that caused them.
func (h *Handler) Handle(env protocol.Incoming) error {
	switch env.Event {
	case protocol.EventConnect:
		h.ensureSession(env.From)
		return nil
	case protocol.EventDisconnect, protocol.EventTimeout:
		h.removeSession(env.From, env.Event)
		return nil
	case protocol.EventEvict:
		h.evictSession(env.From)
		return nil
	}

	if env.Msg == nil {
		return fmt.Errorf("envelope without message or event from %s", env.From)
	}

	sess := h.ensureSession(env.From)

	switch sess.State {
	case StateDisconnecting:
		// Terminal-pending sessions are never dispatched to.
		return nil

	case StatePendingAuth:
		if env.Msg.Type != protocol.MsgTypeHandshake {
			// Not an error: an unauthenticated peer has no state to apply
			// anything to.
			h.metrics.DroppedPreAuth.Inc()
			return nil
		}
		h.authenticate(sess, env.Msg.Handshake)
		return nil

	case StateAuthenticated:
		if env.Msg.Type == protocol.MsgTypeHandshake {
			// Repeat handshakes after authentication are ignored.
			return nil
		}
		return h.handleGame(sess, env.Msg.Game)
	}

	return nil
}

// SweepDeadlines closes every session still unauthenticated past its
// deadline: immediate close, no message.
func (h *Handler) SweepDeadlines(now time.Time) {
	for _, sess := range h.sessions {
		if sess.State != StatePendingAuth || now.Before(sess.AuthDeadline) {
			continue
		}
		sess.State = StateDisconnecting
		h.metrics.AuthDeadlineCloses.Inc()
		h.logger.Info("closing unauthenticated session past deadline",
			slog.String("peer", sess.ID.String()),
			slog.Time("deadline", sess.AuthDeadline),
		)
		h.outbox.Enqueue(protocol.Outgoing{To: sess.ID, Close: protocol.CloseImmediate})
	}
}

func (h *Handler) ensureSession(peer protocol.PeerID) *Session {
	if sess, ok := h.sessions[peer]; ok {
		return sess
	}
	now := h.now()
	sess := &Session{
		ID:           peer,
		State:        StatePendingAuth,
		CreatedAt:    now,
		AuthDeadline: now.Add(h.authTimeout),
	}
	h.sessions[peer] = sess
	h.metrics.SessionsCreated.Inc()
	h.metrics.ActiveSessions.Inc()
	h.logger.Debug("session created", slog.String("peer", peer.String()))
	return sess
}

func (h *Handler) removeSession(peer protocol.PeerID, event protocol.Event) {
	sess, ok := h.sessions[peer]
	if !ok {
		return
	}
	delete(h.sessions, peer)
	if !sess.Wallet.IsZero() {
		h.claims.Release(sess.Wallet, peer)
	}
	h.metrics.SessionsRemoved.Inc()
	h.metrics.ActiveSessions.Dec()
	h.logger.Debug("session removed",
		slog.String("peer", peer.String()),
		slog.String("event", event.String()),
		slog.String("state", sess.State.String()),
	)
}

// evictSession removes a session displaced by a duplicate wallet claim,
// bypassing the disconnecting state so no ghost connection lingers.
func (h *Handler) evictSession(peer protocol.PeerID) {
	sess, ok := h.sessions[peer]
	if !ok {
		return
	}
	delete(h.sessions, peer)
	// The claim has already been transferred to the new peer; Release is a
	// no-op unless this session still holds it.
	if !sess.Wallet.IsZero() {
		h.claims.Release(sess.Wallet, peer)
	}
	h.metrics.SessionsEvicted.Inc()
	h.metrics.SessionsRemoved.Inc()
	h.metrics.ActiveSessions.Dec()
	h.logger.Info("session evicted by duplicate identity",
		slog.String("peer", peer.String()),
		slog.String("wallet", sess.Wallet.String()),
	)
	h.outbox.Enqueue(protocol.Outgoing{To: peer, Close: protocol.CloseImmediate})
}

func (h *Handler) authenticate(sess *Session, hs *protocol.HandshakeMsg) {
	addr, err := h.verifier.VerifyHandshake(hs.AuthChain, hs.Timestamp, hs.ServerID, hs.ConnectSignature)
	if err != nil {
		h.metrics.AuthFailures.WithLabelValues(failureReason(err)).Inc()
		h.logger.Info("handshake rejected",
			slog.String("peer", sess.ID.String()),
			slog.String("error", err.Error()),
		)
		sess.State = StateDisconnecting
		// Best effort: the client gets one opaque code, then the transport
		// tears the connection down after the flush.
		if data, encErr := protocol.EncodeAuthRejection(protocol.RejectAuthFailed); encErr == nil {
			h.outbox.Enqueue(protocol.Outgoing{
				To:    sess.ID,
				Data:  data,
				Mode:  protocol.ReliableOrdered,
				Close: protocol.CloseDeferred,
			})
		}
		return
	}

	if prev, evict := h.claims.Claim(addr, sess.ID); evict {
		// The old session may live on another lane; route the eviction
		// through the router so its owner performs the removal.
		h.control.Inject(protocol.Incoming{From: prev, Event: protocol.EventEvict})
	}

	sess.Wallet = addr
	sess.State = StateAuthenticated
	h.metrics.AuthSuccesses.Inc()
	h.logger.Info("peer authenticated",
		slog.String("peer", sess.ID.String()),
		slog.String("wallet", addr.String()),
	)

	if data, encErr := protocol.EncodeWelcome(addr); encErr == nil {
		h.outbox.Enqueue(protocol.Outgoing{
			To:   sess.ID,
			Data: data,
			Mode: protocol.ReliableOrdered,
		})
	}
}

func (h *Handler) handleGame(sess *Session, msg *protocol.GameMessage) error {
	if msg == nil {
		return fmt.Errorf("game envelope without payload from %s", sess.ID)
	}
	h.metrics.GameMessages.Inc()

	if msg.Kind == protocol.GameKindPing {
		data, err := protocol.EncodePong(msg.Body)
		if err != nil {
			return fmt.Errorf("failed to encode pong for %s: %w", sess.ID, err)
		}
		h.outbox.Enqueue(protocol.Outgoing{
			To:   sess.ID,
			Data: data,
			Mode: protocol.UnreliableSequenced,
		})
		return nil
	}

	if h.dispatcher == nil {
		return nil
	}
	if err := h.dispatcher.HandleGame(sess.ID, sess.Wallet, msg); err != nil {
		return fmt.Errorf("game dispatch failed for %s kind 0x%02x: %w", sess.ID, msg.Kind, err)
	}
	return nil
}

// failureReason maps a verification error to its metric label without
// leaking detail to the client.
func failureReason(err error) string {
	switch {
	case errors.Is(err, wallet.ErrMalformedChain):
		return "malformed_chain"
	case errors.Is(err, wallet.ErrSignerMismatch):
		return "signer_mismatch"
	case errors.Is(err, wallet.ErrEphemeralExpired):
		return "ephemeral_expired"
	case errors.Is(err, wallet.ErrConnectSigner):
		return "connect_signer"
	case errors.Is(err, wallet.ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, wallet.ErrServerMismatch):
		return "server_mismatch"
	default:
		return "other"
	}
}
