package router

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/decentraland/Pulse/internal/metrics"
	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/session"
)

// Lane is one worker task owning a disjoint partition of peer sessions. It
// drains its queue strictly in arrival order, which is what preserves
// per-peer ordering end to end: the router never reorders and the queue is
// FIFO. The lane keeps draining during shutdown until its queue is closed
// and empty, so enqueued work is never silently dropped.
type Lane struct {
	index   int
	queue   *Queue[protocol.Incoming]
	handler *session.Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	// sweepInterval paces the auth-deadline checks.
	sweepInterval time.Duration
}

func newLane(index int, handler *session.Handler, logger *slog.Logger, m *metrics.Metrics, sweepInterval time.Duration) *Lane {
	return &Lane{
		index:         index,
		queue:         NewQueue[protocol.Incoming](),
		handler:       handler,
		logger:        logger.With(slog.Int("lane", index)),
		metrics:       m,
		sweepInterval: sweepInterval,
	}
}

// Handler exposes the lane's session handler for tests and the core.
func (l *Lane) Handler() *session.Handler {
	return l.handler
}

// push is called only by the router goroutine.
func (l *Lane) push(env protocol.Incoming) {
	l.queue.Push(env)
	l.metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(l.index)).Set(float64(l.queue.Len()))
}

func (l *Lane) run() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-l.queue.Out():
			if !ok {
				l.logger.Debug("lane drained, exiting",
					slog.Int("sessions", l.handler.SessionCount()))
				return
			}
			l.dispatch(env)
			l.metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(l.index)).Set(float64(l.queue.Len()))
		case now := <-ticker.C:
			l.handler.SweepDeadlines(now)
		}
	}
}

// dispatch isolates one envelope: an error or panic is terminal to that
// message alone, never to the lane or its other peers.
func (l *Lane) dispatch(env protocol.Incoming) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.HandlerErrors.Inc()
			l.logger.Error("panic while handling message",
				slog.String("peer", env.From.String()),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := l.handler.Handle(env); err != nil {
		l.metrics.HandlerErrors.Inc()
		l.logger.Error("failed to handle message",
			slog.String("peer", env.From.String()),
			slog.String("error", err.Error()),
		)
	}
}
