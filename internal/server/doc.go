// Package server is the transport boundary: the interface the routing core
// consumes, a reference UDP adapter that owns the single transport
// goroutine, and the monitoring HTTP API.
package server
