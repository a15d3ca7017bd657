package peers

import (
	"sort"
	"sync"
	"time"
)

// PeerSet is the mutable set of known peers plus the temporary blacklist.
// Safe for concurrent use.
type PeerSet struct {
	sync.RWMutex

	byAddr    map[string]*Peer
	blacklist map[string]time.Time
}

// NewPeerSet ...
func NewPeerSet(peers []*Peer) *PeerSet {
	ps := &PeerSet{
		byAddr:    make(map[string]*Peer),
		blacklist: make(map[string]time.Time),
	}
	for _, p := range peers {
		ps.byAddr[p.NetAddr] = p
	}
	return ps
}

// Peers returns the known peers ordered by address.
func (ps *PeerSet) Peers() []*Peer {
	ps.RLock()
	defer ps.RUnlock()

	out := make([]*Peer, 0, len(ps.byAddr))
	for _, p := range ps.byAddr {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetAddr < out[j].NetAddr })
	return out
}

// Get ...
func (ps *PeerSet) Get(netAddr string) *Peer {
	ps.RLock()
	defer ps.RUnlock()
	return ps.byAddr[netAddr]
}

// Add inserts or updates a peer.
func (ps *PeerSet) Add(p *Peer) {
	ps.Lock()
	defer ps.Unlock()
	ps.byAddr[p.NetAddr] = p
}

// Remove ...
func (ps *PeerSet) Remove(netAddr string) {
	ps.Lock()
	defer ps.Unlock()
	delete(ps.byAddr, netAddr)
}

// Len ...
func (ps *PeerSet) Len() int {
	ps.RLock()
	defer ps.RUnlock()
	return len(ps.byAddr)
}

// Blacklist bans a peer until the given deadline. Blacklisted peers are
// neither dialled nor accepted.
func (ps *PeerSet) Blacklist(netAddr string, until time.Time) {
	ps.Lock()
	defer ps.Unlock()
	ps.blacklist[netAddr] = until
	delete(ps.byAddr, netAddr)
}

// Blacklisted reports whether a peer is currently banned, pruning expired
// entries as a side effect.
func (ps *PeerSet) Blacklisted(netAddr string, now time.Time) bool {
	ps.Lock()
	defer ps.Unlock()

	until, ok := ps.blacklist[netAddr]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(ps.blacklist, netAddr)
		return false
	}
	return true
}
