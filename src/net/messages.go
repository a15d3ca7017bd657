// Package net implements the peer-to-peer layer: persistent TCP sessions
// with length-framed messages, genesis-hash gating on Hello, block and
// transaction gossip, and block-range sync.
package net

import (
	"github.com/hashborn/computechain/src/types"
)

// Message kind discriminants. Each frame is a u32 big-endian length
// followed by one kind byte and the canonically encoded body.
const (
	KindHello uint8 = iota + 1
	KindBlock
	KindTx
	KindGetBlocks
	KindBlocks
	KindPing
	KindPong
)

// Hello opens every session, in both directions. A genesis hash different
// from the local one terminates the session immediately and blacklists the
// peer: nodes that do not share a byte-identical genesis must never
// exchange chain data.
type Hello struct {
	NetworkID       string
	GenesisHash     []byte
	ProtocolVersion uint32
	NodeID          uint32
	TipHeight       uint64
	TipHash         []byte
	// ValidatorAddr is set when the peer runs a validator.
	ValidatorAddr string
	// ListenAddr is the peer's advertised listening address, used to gossip
	// back and to persist the peer list.
	ListenAddr string
}

// GetBlocks requests the inclusive height range [From, To].
type GetBlocks struct {
	From uint64
	To   uint64
}

// Blocks answers a GetBlocks request with consecutive blocks.
type Blocks struct {
	Blocks []*types.Block
}

// Inbound is a message delivered to the node's consumer channel.
type Inbound struct {
	// From is the peer's advertised listen address.
	From string

	Kind      uint8
	Hello     *Hello
	Block     *types.Block
	Tx        *types.Transaction
	GetBlocks *GetBlocks
	Blocks    *Blocks
}
