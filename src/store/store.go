// Package store persists the chain: an append-only block store keyed by
// height, and the latest state content. Both are backed by Badger.
package store

import (
	"github.com/hashborn/computechain/src/types"
)

// BlockStore is the append-only chain of blocks. Writes are serialized by
// the node's writer loop; reads may come from any goroutine.
type BlockStore interface {
	// SetBlock appends a block. The block must extend the current tip:
	// height tip+1 and prev hash equal to the tip hash (or the genesis hash
	// for the first block).
	SetBlock(block *types.Block) error
	GetBlock(height uint64) (*types.Block, error)
	GetBlockByHash(hash []byte) (*types.Block, error)
	// LastBlock returns the tip, or nil if only genesis exists.
	LastBlock() *types.Block
	// Height returns the tip height; 0 means empty chain.
	Height() uint64
	// TipHash returns the hash of the tip block, or the genesis hash for an
	// empty chain.
	TipHash() []byte
	// GenesisHash is the network identity the store was created with.
	GenesisHash() []byte
	// ResetTo installs a snapshot checkpoint so that sync can resume from
	// height+1 without the historical blocks.
	ResetTo(height uint64, hash []byte) error
	Close() error
}
