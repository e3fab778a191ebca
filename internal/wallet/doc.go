// Package wallet implements the local, no-network-call verification of the
// two-statement auth chain that binds a long-lived wallet identity to a
// short-lived ephemeral signing key, plus the secp256k1 key handling used by
// client tooling and tests.
package wallet
