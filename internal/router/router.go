package router

import (
	"context"
	"log/slog"

	"github.com/decentraland/Pulse/internal/protocol"
)

// Router is the sole consumer of the ingestion queue and the sole producer
// into every lane queue. Lane assignment is a pure function of the peer
// identifier, so all of a peer's envelopes land on the same lane for the
// peer's entire lifetime; that static partition is what makes the lock-free
// session ownership correct.
type Router struct {
	ingest *Queue[protocol.Incoming]
	lanes  []*Lane
	logger *slog.Logger
}

func newRouter(ingest *Queue[protocol.Incoming], lanes []*Lane, logger *slog.Logger) *Router {
	return &Router{ingest: ingest, lanes: lanes, logger: logger}
}

// run consumes until the ingestion queue is exhausted or the context is
// cancelled. Lane queues are closed on every exit path so lanes can drain
// their backlog and terminate.
func (r *Router) run(ctx context.Context) {
	defer r.closeLanes()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("router cancelled")
			return
		case env, ok := <-r.ingest.Out():
			if !ok {
				r.logger.Debug("ingestion queue exhausted")
				return
			}
			r.lanes[env.From.Lane(len(r.lanes))].push(env)
		}
	}
}

func (r *Router) closeLanes() {
	for _, lane := range r.lanes {
		lane.queue.Close()
	}
}
