package consensus

import (
	"crypto/ecdsa"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
	"github.com/hashborn/computechain/src/version"
)

// Validator holds the signing identity of this node. Nodes without a
// validator key never propose.
type Validator struct {
	Key *ecdsa.PrivateKey

	consAddr string
	pubBytes []byte
}

// NewValidator ...
func NewValidator(key *ecdsa.PrivateKey) (*Validator, error) {
	pub := keys.FromPublicKey(&key.PublicKey)
	addr, err := crypto.AddressFromPubKey(pub, crypto.PrefixConsensus)
	if err != nil {
		return nil, err
	}
	return &Validator{Key: key, consAddr: addr, pubBytes: pub}, nil
}

// ConsensusAddress ...
func (v *Validator) ConsensusAddress() string {
	return v.consAddr
}

// PublicKeyBytes ...
func (v *Validator) PublicKeyBytes() []byte {
	return v.pubBytes
}

// Proposer assembles, signs and locally applies blocks for the slots this
// node owns.
type Proposer struct {
	validator *Validator
	clock     *SlotClock
	logger    *logrus.Entry
}

// NewProposer ...
func NewProposer(validator *Validator, clock *SlotClock, logger *logrus.Entry) *Proposer {
	return &Proposer{
		validator: validator,
		clock:     clock,
		logger:    logger.WithField("prefix", "proposer"),
	}
}

// OwnsSlot reports whether this node's validator is the designated
// proposer of the given slot.
func (p *Proposer) OwnsSlot(st *state.State, slot uint64) bool {
	if p.validator == nil {
		return false
	}
	designated := st.ProposerForSlot(slot)
	return designated != nil && designated.Address == p.validator.ConsensusAddress()
}

// BuildBlock applies txs on a clone of the committed state, assembles the
// header and signs it. It returns the signed block, the mutated state
// clone ready to be committed, and the per-transaction results. Failed
// transactions are excluded from the block.
func (p *Proposer) BuildBlock(
	committed *state.State,
	tipHeight uint64,
	tipHash []byte,
	slot uint64,
	txs []*types.Transaction,
) (*types.Block, *state.State, *state.BlockResult, error) {

	if p.validator == nil {
		return nil, nil, nil, common.NewError(common.ProposerMismatch, "node has no validator key")
	}

	next := committed.Clone()
	height := tipHeight + 1

	result, err := next.Transition(height, slot, p.validator.ConsensusAddress(), txs)
	if err != nil {
		return nil, nil, nil, err
	}

	block := &types.Block{
		Header: types.BlockHeader{
			Height:      height,
			PrevHash:    append([]byte(nil), tipHash...),
			Timestamp:   p.clock.Now().Unix(),
			Slot:        slot,
			Proposer:    p.validator.ConsensusAddress(),
			TxRoot:      types.TxRoot(result.Applied),
			StateRoot:   next.Root(),
			ComputeRoot: types.ComputeRoot(result.Applied),
			Version:     version.ProtocolVersion,
		},
		Transactions: result.Applied,
	}

	if err := block.Sign(p.validator.Key); err != nil {
		return nil, nil, nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"height":  height,
		"slot":    slot,
		"txs":     len(result.Applied),
		"skipped": len(result.Failed),
		"hash":    block.Hex(),
	}).Debug("Built block")

	return block, next, result, nil
}
