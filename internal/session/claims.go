package session

import (
	"sort"
	"sync"

	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/wallet"
)

// ClaimTable maps verified wallet addresses to the peer currently holding
// them. It is the one structure shared across lanes: a wallet may reconnect
// through a peer owned by a different lane, and the new claim must displace
// the old one deterministically (new session wins) instead of locking the
// player out of their own account.
type ClaimTable struct {
	mu     sync.Mutex
	claims map[wallet.Address]protocol.PeerID
}

// NewClaimTable creates an empty claim table.
func NewClaimTable() *ClaimTable {
	return &ClaimTable{claims: make(map[wallet.Address]protocol.PeerID)}
}

// Claim records peer as the holder of addr. If another peer held the
// address, its identifier is returned with evict=true so the caller can
// displace the old session.
func (t *ClaimTable) Claim(addr wallet.Address, peer protocol.PeerID) (prev protocol.PeerID, evict bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, held := t.claims[addr]
	t.claims[addr] = peer
	return prev, held && prev != peer
}

// Release drops the claim on addr, but only if peer still holds it. A stale
// release from an evicted session must not clobber the new holder.
func (t *ClaimTable) Release(addr wallet.Address, peer protocol.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if holder, ok := t.claims[addr]; ok && holder == peer {
		delete(t.claims, addr)
	}
}

// Holder returns the peer currently holding addr.
func (t *ClaimTable) Holder(addr wallet.Address) (protocol.PeerID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok := t.claims[addr]
	return peer, ok
}

// Len returns the number of authenticated identities.
func (t *ClaimTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.claims)
}

// ClaimInfo is a snapshot row for the monitoring API.
type ClaimInfo struct {
	Wallet string          `json:"wallet_address"`
	Peer   protocol.PeerID `json:"peer_id"`
}

// Snapshot returns the current claims sorted by wallet address.
func (t *ClaimTable) Snapshot() []ClaimInfo {
	t.mu.Lock()
	out := make([]ClaimInfo, 0, len(t.claims))
	for addr, peer := range t.claims {
		out = append(out, ClaimInfo{Wallet: addr.String(), Peer: peer})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}
