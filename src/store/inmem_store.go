package store

import (
	"bytes"
	"sync"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

// InmemStore implements BlockStore in memory. It backs tests and nodes run
// without persistence.
type InmemStore struct {
	sync.RWMutex

	genesisHash []byte
	byHeight    map[uint64]*types.Block
	byHash      map[string]uint64
	tip         uint64
	tipHash     []byte
}

// NewInmemStore ...
func NewInmemStore(genesisHash []byte) *InmemStore {
	return &InmemStore{
		genesisHash: append([]byte(nil), genesisHash...),
		byHeight:    make(map[uint64]*types.Block),
		byHash:      make(map[string]uint64),
		tipHash:     append([]byte(nil), genesisHash...),
	}
}

// SetBlock implements BlockStore.
func (s *InmemStore) SetBlock(block *types.Block) error {
	s.Lock()
	defer s.Unlock()

	if err := checkAppend(s.tip, s.tipHash, block); err != nil {
		return err
	}

	s.byHeight[block.Header.Height] = block
	s.byHash[string(block.Hash())] = block.Header.Height
	s.tip = block.Header.Height
	s.tipHash = block.Hash()
	return nil
}

// GetBlock implements BlockStore.
func (s *InmemStore) GetBlock(height uint64) (*types.Block, error) {
	s.RLock()
	defer s.RUnlock()

	b, ok := s.byHeight[height]
	if !ok {
		return nil, common.NewError(common.Storage, "block %d not found", height)
	}
	return b, nil
}

// GetBlockByHash implements BlockStore.
func (s *InmemStore) GetBlockByHash(hash []byte) (*types.Block, error) {
	s.RLock()
	defer s.RUnlock()

	h, ok := s.byHash[string(hash)]
	if !ok {
		return nil, common.NewError(common.Storage, "block %s not found", common.EncodeToString(hash))
	}
	return s.byHeight[h], nil
}

// LastBlock implements BlockStore.
func (s *InmemStore) LastBlock() *types.Block {
	s.RLock()
	defer s.RUnlock()

	if s.tip == 0 {
		return nil
	}
	return s.byHeight[s.tip]
}

// Height implements BlockStore.
func (s *InmemStore) Height() uint64 {
	s.RLock()
	defer s.RUnlock()
	return s.tip
}

// TipHash implements BlockStore.
func (s *InmemStore) TipHash() []byte {
	s.RLock()
	defer s.RUnlock()
	return append([]byte(nil), s.tipHash...)
}

// GenesisHash implements BlockStore.
func (s *InmemStore) GenesisHash() []byte {
	return s.genesisHash
}

// ResetTo implements BlockStore. It installs a snapshot checkpoint; blocks
// at or below the checkpoint are no longer served from this store.
func (s *InmemStore) ResetTo(height uint64, hash []byte) error {
	s.Lock()
	defer s.Unlock()

	s.byHeight = make(map[uint64]*types.Block)
	s.byHash = make(map[string]uint64)
	s.tip = height
	s.tipHash = append([]byte(nil), hash...)
	return nil
}

// Close implements BlockStore.
func (s *InmemStore) Close() error {
	return nil
}

// checkAppend enforces the append-only chain rules shared by both stores.
func checkAppend(tip uint64, tipHash []byte, block *types.Block) error {
	if block.Header.Height != tip+1 {
		return common.NewError(common.HeightMismatch, "append %d at tip %d", block.Header.Height, tip)
	}
	if !bytes.Equal(block.Header.PrevHash, tipHash) {
		return common.NewError(common.PrevHashMismatch, "block %d", block.Header.Height)
	}
	return nil
}
