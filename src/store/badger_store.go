package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

const (
	blockPrefix = "block"
	hashPrefix  = "hash"
	metaTipKey  = "meta_tip"
	metaGenKey  = "meta_genesis"
)

// BadgerStore implements BlockStore on a Badger database. Writes are
// append-only; the tip pointer is updated in the same transaction as the
// block so a crash never leaves a dangling tip.
type BadgerStore struct {
	l sync.RWMutex

	db          *badger.DB
	path        string
	genesisHash []byte
	tip         uint64
	tipHash     []byte
}

// tipRecord is the persisted tip pointer.
type tipRecord struct {
	Height uint64
	Hash   []byte
}

// LoadOrCreateBadgerStore opens the block database at path, creating it if
// necessary. An existing database must carry the same genesis hash,
// otherwise the node is pointed at the wrong data directory.
func LoadOrCreateBadgerStore(genesisHash []byte, path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, common.NewError(common.Storage, "open %s: %v", path, err)
	}

	s := &BadgerStore{
		db:          handle,
		path:        path,
		genesisHash: append([]byte(nil), genesisHash...),
		tipHash:     append([]byte(nil), genesisHash...),
	}

	stored, err := s.dbGet([]byte(metaGenKey))
	if err == nil {
		if !bytes.Equal(stored, genesisHash) {
			handle.Close()
			return nil, common.NewError(common.GenesisMismatch, "store %s belongs to another network", path)
		}
	} else {
		if err := s.dbSet([]byte(metaGenKey), genesisHash); err != nil {
			handle.Close()
			return nil, err
		}
	}

	if raw, err := s.dbGet([]byte(metaTipKey)); err == nil {
		var rec tipRecord
		if err := types.Decode(raw, &rec); err != nil {
			handle.Close()
			return nil, err
		}
		s.tip = rec.Height
		s.tipHash = rec.Hash
	}

	return s, nil
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s_%012d", blockPrefix, height))
}

func hashKey(hash []byte) []byte {
	return append([]byte(hashPrefix+"_"), hash...)
}

// SetBlock implements BlockStore.
func (s *BadgerStore) SetBlock(block *types.Block) error {
	s.l.Lock()
	defer s.l.Unlock()

	if err := checkAppend(s.tip, s.tipHash, block); err != nil {
		return err
	}

	raw, err := types.Encode(block)
	if err != nil {
		return err
	}

	rec, err := types.Encode(tipRecord{Height: block.Header.Height, Hash: block.Hash()})
	if err != nil {
		return err
	}

	heightVal, err := types.Encode(block.Header.Height)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(block.Header.Height), raw); err != nil {
			return err
		}
		if err := txn.Set(hashKey(block.Hash()), heightVal); err != nil {
			return err
		}
		return txn.Set([]byte(metaTipKey), rec)
	})
	if err != nil {
		return common.NewError(common.Storage, "set block %d: %v", block.Header.Height, err)
	}

	s.tip = block.Header.Height
	s.tipHash = block.Hash()
	return nil
}

// GetBlock implements BlockStore.
func (s *BadgerStore) GetBlock(height uint64) (*types.Block, error) {
	raw, err := s.dbGet(blockKey(height))
	if err != nil {
		return nil, common.NewError(common.Storage, "block %d not found", height)
	}
	var block types.Block
	if err := types.Decode(raw, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlockByHash implements BlockStore.
func (s *BadgerStore) GetBlockByHash(hash []byte) (*types.Block, error) {
	raw, err := s.dbGet(hashKey(hash))
	if err != nil {
		return nil, common.NewError(common.Storage, "block %s not found", common.EncodeToString(hash))
	}
	var height uint64
	if err := types.Decode(raw, &height); err != nil {
		return nil, err
	}
	return s.GetBlock(height)
}

// LastBlock implements BlockStore.
func (s *BadgerStore) LastBlock() *types.Block {
	s.l.RLock()
	tip := s.tip
	s.l.RUnlock()

	if tip == 0 {
		return nil
	}
	block, err := s.GetBlock(tip)
	if err != nil {
		return nil
	}
	return block
}

// Height implements BlockStore.
func (s *BadgerStore) Height() uint64 {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.tip
}

// TipHash implements BlockStore.
func (s *BadgerStore) TipHash() []byte {
	s.l.RLock()
	defer s.l.RUnlock()
	return append([]byte(nil), s.tipHash...)
}

// GenesisHash implements BlockStore.
func (s *BadgerStore) GenesisHash() []byte {
	return s.genesisHash
}

// ResetTo implements BlockStore.
func (s *BadgerStore) ResetTo(height uint64, hash []byte) error {
	s.l.Lock()
	defer s.l.Unlock()

	rec, err := types.Encode(tipRecord{Height: height, Hash: hash})
	if err != nil {
		return err
	}
	if err := s.dbSet([]byte(metaTipKey), rec); err != nil {
		return err
	}

	s.tip = height
	s.tipHash = append([]byte(nil), hash...)
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath ...
func (s *BadgerStore) StorePath() string {
	return s.path
}

func (s *BadgerStore) dbGet(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) dbSet(key, val []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return common.NewError(common.Storage, "set %s: %v", key, err)
	}
	return nil
}
