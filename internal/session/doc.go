// Package session holds per-peer connection state and the authentication
// state machine. Each worker lane owns a disjoint set of sessions through a
// Handler; no session is ever touched by two lanes. The only shared piece is
// the wallet claim table, which resolves duplicate identities across lanes.
package session
