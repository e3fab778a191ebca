// Package protocol defines the wire format and the typed values that move
// between pipeline stages: packet headers, parsed client messages, encoded
// server messages, peer identifiers, delivery modes, and envelopes.
package protocol
