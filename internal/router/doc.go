// Package router implements the sharded routing pipeline: the unbounded
// hand-off queues, the router task that assigns every envelope to a worker
// lane by peer identity, the lanes that own disjoint session partitions, and
// the core that ties ingestion, routing and egress together.
package router
