package consensus

import (
	"bytes"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
)

// MaxTimestampSkewSeconds is how far into the future a received block's
// timestamp may lie.
const MaxTimestampSkewSeconds = 15

// ValidateHeader checks a received block against the local tip and the
// slot schedule, without executing it. parentTimestamp is the tip block's
// timestamp (or genesis time for the first block).
func ValidateHeader(
	block *types.Block,
	st *state.State,
	tipHeight uint64,
	tipHash []byte,
	parentTimestamp int64,
	clock *SlotClock,
) error {

	h := &block.Header

	if h.Height != tipHeight+1 {
		return common.NewError(common.HeightMismatch, "block %d at tip %d", h.Height, tipHeight)
	}
	if !bytes.Equal(h.PrevHash, tipHash) {
		return common.NewError(common.PrevHashMismatch, "block %d", h.Height)
	}

	if h.Timestamp <= parentTimestamp {
		return common.NewError(common.TimestampInvalid, "block %d: %d <= parent %d", h.Height, h.Timestamp, parentTimestamp)
	}
	if h.Timestamp > clock.Now().Unix()+MaxTimestampSkewSeconds {
		return common.NewError(common.TimestampInvalid, "block %d: %d too far in future", h.Height, h.Timestamp)
	}

	// The slot must match the timestamp, and the proposer must be the one
	// the schedule designates for that slot.
	if h.Slot != clock.SlotAt(h.Timestamp) {
		return common.NewError(common.TimestampInvalid, "block %d: slot %d does not match timestamp", h.Height, h.Slot)
	}

	designated := st.ProposerForSlot(h.Slot)
	if designated == nil {
		return common.NewError(common.ProposerMismatch, "block %d: empty active set", h.Height)
	}
	if designated.Address != h.Proposer {
		return common.NewError(common.ProposerMismatch, "block %d: expected %s, got %s", h.Height, designated.Address, h.Proposer)
	}

	if err := block.VerifySignature(designated.PubKey); err != nil {
		return err
	}

	if !bytes.Equal(h.TxRoot, types.TxRoot(block.Transactions)) {
		return common.NewError(common.StateRootMismatch, "block %d: tx root", h.Height)
	}
	if !bytes.Equal(h.ComputeRoot, types.ComputeRoot(block.Transactions)) {
		return common.NewError(common.ComputeRootMismatch, "block %d", h.Height)
	}

	return nil
}

// Replay re-executes a validated block on a clone of the committed state.
// The resulting state root must equal the header's; on success the clone
// is the next committed state. On failure the committed state is
// untouched and the block is rejected — there is no fork to fall back to.
func Replay(block *types.Block, committed *state.State) (*state.State, *state.BlockResult, error) {
	next := committed.Clone()
	result, err := next.ApplyBlock(block)
	if err != nil {
		return nil, nil, err
	}
	return next, result, nil
}
