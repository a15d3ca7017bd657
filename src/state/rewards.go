package state

import (
	"math/big"

	"github.com/hashborn/computechain/src/types"
)

// BlockReward returns the minted reward at a height, applying halving.
func (s *State) BlockReward(height uint64) types.Amount {
	halvings := uint(height / s.params.HalvingPeriodBlocks)
	if halvings > 255 {
		return types.ZeroAmount()
	}
	return s.params.BlockReward.Rsh(halvings)
}

// creditBlockReward mints the block reward, distributes the validator pool
// across the active set, and returns the miner pool for settlement after
// the transaction pass. All arithmetic is integer with floor rounding;
// residuals are burned.
func (s *State) creditBlockReward(height uint64, res *BlockResult) types.Amount {
	reward := s.BlockReward(height)
	if reward.IsZero() {
		return types.ZeroAmount()
	}

	s.counters.Mint(reward)
	res.Minted = reward

	minerPool := reward.MulBps(s.params.MinerRewardBps)
	validatorPool := reward.Sub(minerPool)

	distributed := s.distributeValidatorPool(validatorPool)
	residual := validatorPool.Sub(distributed)
	if !residual.IsZero() {
		s.counters.Burn(residual)
	}

	return minerPool
}

// distributeValidatorPool pays each active validator its power-weighted
// share: commission to the operator, the remainder pro-rata across the
// self-stake and the delegations. Returns the total actually credited.
func (s *State) distributeValidatorPool(pool types.Amount) types.Amount {
	active := s.ActiveSet()
	if len(active) == 0 || pool.IsZero() {
		return types.ZeroAmount()
	}

	totalPower := s.totalActivePower()
	if totalPower.IsZero() {
		return types.ZeroAmount()
	}

	distributed := types.ZeroAmount()
	for _, v := range active {
		share := pool.MulDivBig(v.Power.Big(), totalPower.Big())
		if share.GT(s.params.MaxValidatorReward) && !s.params.MaxValidatorReward.IsZero() {
			share = s.params.MaxValidatorReward
		}
		if share.IsZero() {
			continue
		}
		distributed = distributed.Add(s.payValidatorShare(v, share))
	}
	return distributed
}

// payValidatorShare credits one validator's share and returns the amount
// actually credited (the caller burns the difference).
func (s *State) payValidatorShare(v *types.Validator, share types.Amount) types.Amount {
	commission := share.MulBps(v.CommissionBps)
	remainder := share.Sub(commission)

	credited := types.ZeroAmount()

	if !commission.IsZero() {
		s.creditReward(v.Operator, commission)
		credited = credited.Add(commission)
	}

	if v.Power.IsZero() || remainder.IsZero() {
		return credited
	}

	power := v.Power.Big()

	// The operator's own position is its self-stake.
	selfCut := remainder.MulDivBig(v.SelfStake.Big(), power)
	if !selfCut.IsZero() {
		s.creditReward(v.Operator, selfCut)
		credited = credited.Add(selfCut)
	}

	for _, d := range v.Delegations {
		cut := remainder.MulDivBig(d.Amount.Big(), power)
		if cut.IsZero() {
			continue
		}
		s.creditReward(d.Delegator, cut)
		credited = credited.Add(cut)
	}

	return credited
}

// creditReward credits an address and appends to its reward history.
func (s *State) creditReward(addr string, amount types.Amount) {
	acc := s.ensureAccount(addr)
	acc.Balance = acc.Balance.Add(amount)
	acc.RewardHistory = append(acc.RewardHistory, types.RewardEntry{
		Epoch:  s.epoch,
		Amount: amount,
	})
}

// distributeMinerPool pays the miner pool pro-rata by verified weight
// across the block's applied compute submissions. With no submissions the
// whole pool is burned.
func (s *State) distributeMinerPool(pool types.Amount, applied []*types.Transaction) {
	if pool.IsZero() {
		return
	}

	type submission struct {
		worker string
		weight uint64
	}
	var subs []submission
	var totalWeight uint64
	for _, tx := range applied {
		if tx.Type != types.SubmitResult {
			continue
		}
		var res types.ComputeResult
		if err := tx.DecodePayload(&res); err != nil {
			continue
		}
		if res.WeightPPM == 0 {
			continue
		}
		subs = append(subs, submission{worker: res.Worker, weight: res.WeightPPM})
		totalWeight += res.WeightPPM
	}

	if len(subs) == 0 || totalWeight == 0 {
		s.counters.Burn(pool)
		return
	}

	distributed := types.ZeroAmount()
	totalW := new(big.Int).SetUint64(totalWeight)
	for _, sub := range subs {
		cut := pool.MulDivBig(new(big.Int).SetUint64(sub.weight), totalW)
		if cut.GT(s.params.MaxMinerReward) && !s.params.MaxMinerReward.IsZero() {
			cut = s.params.MaxMinerReward
		}
		if cut.IsZero() {
			continue
		}
		s.creditReward(sub.worker, cut)
		distributed = distributed.Add(cut)
	}

	dust := pool.Sub(distributed)
	if !dust.IsZero() {
		s.counters.Burn(dust)
	}
}
