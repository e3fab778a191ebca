package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the byte length of a wallet address.
const AddressLength = 20

// Address is the 20-byte identity derived from a secp256k1 public key, same
// scheme as Ethereum: last 20 bytes of keccak256(uncompressed pubkey[1:]).
// It is globally unique and requires no registration step.
type Address [AddressLength]byte

// String returns the 0x-prefixed hex form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress converts a hex string (with or without 0x prefix) to an
// Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != AddressLength*2 {
		return Address{}, errors.New("invalid address length")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	var addr Address
	copy(addr[:], data)
	return addr, nil
}

// Key is a local secp256k1 keypair. The server never holds client keys;
// this exists for client tooling and for building valid chains in tests.
type Key struct {
	priv *ecdsa.PrivateKey
}

// NewKey generates a fresh keypair.
func NewKey() (*Key, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Key{priv: priv}, nil
}

// Address derives the wallet address for this key.
func (k *Key) Address() Address {
	return pubKeyToAddress(&k.priv.PublicKey)
}

// SignDigest produces a 65-byte recoverable signature over a 32-byte digest.
func (k *Key) SignDigest(digest []byte) ([]byte, error) {
	return ethcrypto.Sign(digest, k.priv)
}

// RecoverSigner recovers the address that produced sig over digest. The
// recovery id is normalized from the 27/28 convention some signers use.
func RecoverSigner(digest, sig []byte) (Address, error) {
	if len(sig) != 65 {
		return Address{}, errors.New("unexpected signature length")
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return Address{}, err
	}
	return pubKeyToAddress(pub), nil
}

func pubKeyToAddress(pub *ecdsa.PublicKey) Address {
	pubBytes := ethcrypto.FromECDSAPub(pub) // 65 bytes: 0x04 || X || Y
	hash := ethcrypto.Keccak256(pubBytes[1:])
	var addr Address
	copy(addr[:], hash[12:])
	return addr
}
