package store

import (
	"github.com/dgraph-io/badger"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
)

const stateKey = "state_current"

// stateRecord pins the persisted content to a chain position.
type stateRecord struct {
	Height  uint64
	TipHash []byte
	Content *state.Content
}

// StateDB persists the latest committed state so a restarted node does not
// replay the whole chain. It is written after every committed block.
type StateDB struct {
	db   *badger.DB
	path string
}

// OpenStateDB opens (or creates) the state database at path.
func OpenStateDB(path string) (*StateDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, common.NewError(common.Storage, "open %s: %v", path, err)
	}
	return &StateDB{db: handle, path: path}, nil
}

// Save persists the state content at the given chain position.
func (s *StateDB) Save(height uint64, tipHash []byte, content *state.Content) error {
	raw, err := types.Encode(stateRecord{Height: height, TipHash: tipHash, Content: content})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), raw)
	})
	if err != nil {
		return common.NewError(common.Storage, "save state: %v", err)
	}
	return nil
}

// Load returns the persisted state content and its chain position, or a
// Storage error if none has been saved.
func (s *StateDB) Load() (uint64, []byte, *state.Content, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return 0, nil, nil, common.NewError(common.Storage, "no persisted state")
	}

	var rec stateRecord
	if err := types.Decode(raw, &rec); err != nil {
		return 0, nil, nil, err
	}
	return rec.Height, rec.TipHash, rec.Content, nil
}

// Close ...
func (s *StateDB) Close() error {
	return s.db.Close()
}
