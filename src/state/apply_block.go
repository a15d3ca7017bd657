package state

import (
	"bytes"
	"sort"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

// maxSlotCatchup bounds the number of skipped slots accounted for missed
// proposals when a block arrives long after its predecessor.
const maxSlotCatchup = 10000

// FailedTx pairs a skipped transaction with the reason.
type FailedTx struct {
	Tx  *types.Transaction
	Err error
}

// BlockResult summarises a block application.
type BlockResult struct {
	Applied  []*types.Transaction
	Failed   []FailedTx
	GasUsed  uint64
	FeesPaid types.Amount
	Minted   types.Amount
	// EpochChanged is set when the block crossed an epoch boundary.
	EpochChanged bool
}

// ApplyBlock runs the full block transition in strict order: unbonding
// maturation, reward minting, transactions, performance accounting, epoch
// transition, state-root check. A per-transaction failure skips that
// transaction; it never fails the block. A state-root mismatch rejects the
// block, in which case the caller must discard this state instance (it has
// been mutated).
func (s *State) ApplyBlock(block *types.Block) (*BlockResult, error) {
	res, err := s.Transition(block.Header.Height, block.Header.Slot, block.Header.Proposer, block.Transactions)
	if err != nil {
		return nil, err
	}

	root := s.Root()
	if !bytes.Equal(root, block.Header.StateRoot) {
		return nil, common.NewError(common.StateRootMismatch, "block %d: computed %x, header %x",
			block.Header.Height, root, block.Header.StateRoot)
	}

	return res, nil
}

// Transition applies all block side effects without checking the header
// state root. The proposer uses it to build a block; ApplyBlock uses it to
// replay a received one.
func (s *State) Transition(height, slot uint64, proposer string, txs []*types.Transaction) (*BlockResult, error) {
	res := &BlockResult{FeesPaid: types.ZeroAmount()}

	// 1. Unbonding maturation.
	s.matureUnbonding(height)

	// 2. Mint the block reward and pay the validator pool. The miner pool
	// depends on this block's compute submissions, so it is settled after
	// the transaction pass.
	minerPool := s.creditBlockReward(height, res)

	// 3. Transactions, sequentially. Failures skip the transaction.
	for _, tx := range txs {
		receipt, err := s.ApplyTransaction(tx, height)
		if err != nil {
			res.Failed = append(res.Failed, FailedTx{Tx: tx, Err: err})
			continue
		}
		res.Applied = append(res.Applied, tx)
		res.GasUsed += receipt.GasUsed
		res.FeesPaid = res.FeesPaid.Add(receipt.Fee)
		s.routeFee(proposer, receipt.Fee)
	}

	// Settle the miner pool from the applied compute submissions.
	s.distributeMinerPool(minerPool, res.Applied)

	// 4. Proposal performance over the covered slot range.
	s.trackPerformance(height, slot, proposer)

	// 5. Epoch boundary.
	if height > 0 && height%s.params.EpochLengthBlocks == 0 {
		s.transitionEpoch(height)
		res.EpochChanged = true
	}

	s.lastSlot = slot
	return res, nil
}

// matureUnbonding credits every unbonding entry whose completion height has
// been reached.
func (s *State) matureUnbonding(height uint64) {
	for _, addr := range s.sortedAccountAddrs() {
		acc := s.accounts[addr]
		if len(acc.Unbonding) == 0 {
			continue
		}
		var remaining []types.UnbondingEntry
		for _, e := range acc.Unbonding {
			if e.CompletionHeight <= height {
				acc.Balance = acc.Balance.Add(e.Amount)
			} else {
				remaining = append(remaining, e)
			}
		}
		acc.Unbonding = remaining
	}
}

// routeFee splits an applied transaction's fee between the proposer's
// operator account, the treasury, and the burn counter (dust). Default
// split: 90% proposer, 10% treasury.
func (s *State) routeFee(proposer string, fee types.Amount) {
	validatorCut := fee.MulBps(s.params.ValidatorFeeBps)
	treasuryCut := fee.MulBps(s.params.TreasuryFeeBps)
	dust := fee.Sub(validatorCut).Sub(treasuryCut)

	if v := s.validators[proposer]; v != nil && !validatorCut.IsZero() {
		op := s.ensureAccount(v.Operator)
		op.Balance = op.Balance.Add(validatorCut)
	} else {
		// No proposer to pay (bootstrap edge); burn the cut.
		dust = dust.Add(validatorCut)
	}

	treasury := s.ensureAccount(genesis.TreasuryAddress)
	treasury.Balance = treasury.Balance.Add(treasuryCut)

	if !dust.IsZero() {
		s.counters.Burn(dust)
	}
}

func (s *State) sortedAccountAddrs() []string {
	addrs := make([]string, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
