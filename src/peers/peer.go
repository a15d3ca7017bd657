// Package peers tracks the nodes this node talks to: addresses, identity,
// on-disk persistence and the temporary blacklist that enforces
// genesis-hash gating.
package peers

import (
	"fmt"

	"github.com/hashborn/computechain/src/common"
)

// Peer is a known remote node.
type Peer struct {
	// NetAddr is the host:port the peer listens on.
	NetAddr string
	// NodeID is a compact identifier derived from the peer's address; it
	// is advisory (the genesis hash is what gates sessions).
	NodeID uint32 `json:",omitempty"`
	// ValidatorAddr is the peer's consensus address, if it declared one in
	// its Hello.
	ValidatorAddr string `json:",omitempty"`
}

// NewPeer ...
func NewPeer(netAddr string) *Peer {
	return &Peer{
		NetAddr: netAddr,
		NodeID:  common.Hash32([]byte(netAddr)),
	}
}

// String ...
func (p *Peer) String() string {
	if p.ValidatorAddr != "" {
		return fmt.Sprintf("%s (%s)", p.NetAddr, p.ValidatorAddr)
	}
	return p.NetAddr
}

// ExcludePeer returns peers minus the one with the given net address.
func ExcludePeer(peers []*Peer, netAddr string) []*Peer {
	others := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if p.NetAddr != netAddr {
			others = append(others, p)
		}
	}
	return others
}
