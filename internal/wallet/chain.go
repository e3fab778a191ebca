package wallet

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Statement types
const (
	StatementSigner    = "SIGNER"
	StatementEphemeral = "ECDSA_EPHEMERAL"
)

// Domain-separation prefixes for signature inputs.
const (
	ephemeralSigPrefix = "pulse-ephemeral:v1:"
	connectSigPrefix   = "pulse-connect:v1:"
)

// Verification failure sentinels. The session layer maps every one of these
// to the same opaque rejection code on the wire; they stay distinct here for
// logs and metrics.
var (
	ErrMalformedChain   = errors.New("malformed auth chain")
	ErrSignerMismatch   = errors.New("ephemeral statement not signed by wallet")
	ErrEphemeralExpired = errors.New("ephemeral statement expired")
	ErrConnectSigner    = errors.New("connect signature not from ephemeral key")
	ErrStaleTimestamp   = errors.New("handshake timestamp outside allowed skew")
	ErrServerMismatch   = errors.New("handshake bound to a different server")
)

// Statement is one signed statement in an auth chain. A signer statement
// carries the wallet address and an empty signature; an ephemeral statement
// carries the ephemeral address, its expiry, and a signature by the wallet
// key over EphemeralSigInput.
type Statement struct {
	Type      string        `json:"type"`
	Address   string        `json:"address"`
	ExpiresAt int64         `json:"expires_at,omitempty"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

// Chain is the ordered pair of statements delegating from a wallet to an
// ephemeral key.
type Chain []Statement

// Verifier checks handshakes against this server instance. Now is stubbed in
// tests; a nil Now means time.Now.
type Verifier struct {
	ServerID string
	MaxSkew  time.Duration
	Now      func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// VerifyHandshake runs the full handshake check sequence and returns the
// verified wallet address:
//
//  1. first statement is a signer statement with an empty signature
//  2. second statement is an ephemeral statement signed by that wallet and
//     not yet expired
//  3. the connect signature recovers to the ephemeral address
//  4. the handshake timestamp is within the clock-skew window
//  5. the embedded server identifier matches this instance
func (v *Verifier) VerifyHandshake(chain Chain, timestamp int64, serverID string, connectSig []byte) (Address, error) {
	now := v.now()

	walletAddr, ephemeralAddr, err := VerifyChain(chain, now)
	if err != nil {
		return Address{}, err
	}

	digest := ethcrypto.Keccak256(ConnectSigInput(serverID, timestamp))
	signer, err := RecoverSigner(digest, connectSig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrConnectSigner, err)
	}
	if signer != ephemeralAddr {
		return Address{}, ErrConnectSigner
	}

	skew := now.Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew >= v.MaxSkew {
		return Address{}, ErrStaleTimestamp
	}

	if serverID != v.ServerID {
		return Address{}, ErrServerMismatch
	}

	return walletAddr, nil
}

// VerifyChain validates the two-statement chain shape and signatures and
// returns the wallet and ephemeral addresses it binds.
func VerifyChain(c Chain, now time.Time) (Address, Address, error) {
	if len(c) != 2 {
		return Address{}, Address{}, fmt.Errorf("%w: expected 2 statements, got %d", ErrMalformedChain, len(c))
	}

	signer := c[0]
	if signer.Type != StatementSigner || len(signer.Signature) != 0 {
		return Address{}, Address{}, fmt.Errorf("%w: bad signer statement", ErrMalformedChain)
	}
	walletAddr, err := ParseAddress(signer.Address)
	if err != nil {
		return Address{}, Address{}, fmt.Errorf("%w: bad wallet address", ErrMalformedChain)
	}

	ephemeral := c[1]
	if ephemeral.Type != StatementEphemeral {
		return Address{}, Address{}, fmt.Errorf("%w: bad ephemeral statement", ErrMalformedChain)
	}
	ephemeralAddr, err := ParseAddress(ephemeral.Address)
	if err != nil {
		return Address{}, Address{}, fmt.Errorf("%w: bad ephemeral address", ErrMalformedChain)
	}

	digest := ethcrypto.Keccak256(EphemeralSigInput(ephemeralAddr, ephemeral.ExpiresAt))
	recovered, err := RecoverSigner(digest, ephemeral.Signature)
	if err != nil {
		return Address{}, Address{}, fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	if recovered != walletAddr {
		return Address{}, Address{}, ErrSignerMismatch
	}

	if !now.Before(time.Unix(ephemeral.ExpiresAt, 0)) {
		return Address{}, Address{}, ErrEphemeralExpired
	}

	return walletAddr, ephemeralAddr, nil
}

// EphemeralSigInput builds the byte string the wallet key signs to delegate
// to an ephemeral key until expiresAt.
func EphemeralSigInput(ephemeral Address, expiresAt int64) []byte {
	return []byte(ephemeralSigPrefix + ephemeral.String() + ":" + strconv.FormatInt(expiresAt, 10))
}

// ConnectSigInput builds the byte string the ephemeral key signs on connect:
// a fixed prefix, the target server identifier, the client timestamp and an
// empty body marker.
func ConnectSigInput(serverID string, timestamp int64) []byte {
	return []byte(connectSigPrefix + serverID + ":" + strconv.FormatInt(timestamp, 10) + ":{}")
}

// NewChain builds a valid chain delegating from walletKey to the ephemeral
// address until expiresAt. Client-side helper.
func NewChain(walletKey *Key, ephemeral Address, expiresAt time.Time) (Chain, error) {
	exp := expiresAt.Unix()
	digest := ethcrypto.Keccak256(EphemeralSigInput(ephemeral, exp))
	sig, err := walletKey.SignDigest(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ephemeral statement: %w", err)
	}
	return Chain{
		{Type: StatementSigner, Address: walletKey.Address().String()},
		{Type: StatementEphemeral, Address: ephemeral.String(), ExpiresAt: exp, Signature: sig},
	}, nil
}

// SignConnect produces the connect signature for a handshake aimed at
// serverID. Client-side helper.
func SignConnect(ephemeralKey *Key, serverID string, timestamp int64) ([]byte, error) {
	digest := ethcrypto.Keccak256(ConnectSigInput(serverID, timestamp))
	return ephemeralKey.SignDigest(digest)
}
