package state

import (
	"math/big"
	"sort"

	"github.com/hashborn/computechain/src/types"
)

// trackPerformance accounts proposal activity over the slot range
// (lastSlot, slot]. The proposer of this block scores a proposal; the
// designated proposer of every skipped slot in between scores a miss.
// Reaching the sequential-miss limit jails the absentee.
func (s *State) trackPerformance(height, slot uint64, proposer string) {
	from := s.lastSlot + 1
	if s.lastSlot == 0 && height <= 1 {
		from = slot
	}
	if slot >= from && slot-from > maxSlotCatchup {
		from = slot - maxSlotCatchup
	}

	for sl := from; sl <= slot; sl++ {
		designated := s.ProposerForSlot(sl)
		if designated == nil {
			continue
		}

		designated.BlocksExpected++

		if sl == slot && designated.Address == proposer {
			designated.BlocksProposed++
			designated.MissedBlocks = 0
			designated.LastSeenHeight = height
			continue
		}

		designated.MissedBlocks++
		if designated.MissedBlocks >= s.params.MaxMissedBlocksSequential {
			s.jail(designated, height)
		}
	}

	// The actual proposer may differ from the designated proposer of the
	// final slot when liveness fell through to the wall clock. Credit it.
	if v := s.validators[proposer]; v != nil && v.LastSeenHeight != height {
		v.BlocksProposed++
		v.BlocksExpected++
		v.MissedBlocks = 0
		v.LastSeenHeight = height
	}
}

// jail applies graduated slashing: 5% on the first offence, 10% on the
// second, everything on the third — at which point the validator is
// permanently ejected and its delegators are refunded.
func (s *State) jail(v *types.Validator, height uint64) {
	var rateBps uint32
	switch v.JailCount {
	case 0:
		rateBps = s.params.SlashingBaseBps
	case 1:
		rateBps = 2 * s.params.SlashingBaseBps
	default:
		rateBps = types.BpsDenom
	}

	v.JailCount++

	if v.JailCount >= s.params.EjectionThresholdJails {
		s.eject(v, height)
		return
	}

	penalty := v.Power.MulBps(rateBps)
	s.deductPenalty(v, penalty)
	s.counters.Burn(penalty)

	v.JailedUntilHeight = height + s.params.JailDurationBlocks
	v.MissedBlocks = 0
	v.IsActive = false
}

// deductPenalty takes penalty out of the validator, self-stake first, then
// pro-rata across delegations in descending order of amount with the
// largest position absorbing rounding.
func (s *State) deductPenalty(v *types.Validator, penalty types.Amount) {
	v.TotalPenalties = v.TotalPenalties.Add(penalty)

	fromSelf := penalty
	if fromSelf.GT(v.SelfStake) {
		fromSelf = v.SelfStake
	}
	v.SelfStake = v.SelfStake.Sub(fromSelf)
	v.Power = v.Power.Sub(fromSelf)

	shortfall := penalty.Sub(fromSelf)
	if shortfall.IsZero() {
		return
	}

	// Deduct the remainder from delegations, largest first.
	dels := append([]*types.Delegation(nil), v.Delegations...)
	sort.Slice(dels, func(i, j int) bool {
		if c := dels[i].Amount.Cmp(dels[j].Amount); c != 0 {
			return c > 0
		}
		return dels[i].Delegator < dels[j].Delegator
	})

	totalDel := v.TotalDelegated.Big()
	remaining := shortfall
	for _, d := range dels {
		cut := shortfall.MulDivBig(d.Amount.Big(), totalDel)
		if cut.GT(d.Amount) {
			cut = d.Amount
		}
		if cut.GT(remaining) {
			cut = remaining
		}
		d.Amount = d.Amount.Sub(cut)
		v.TotalDelegated = v.TotalDelegated.Sub(cut)
		v.Power = v.Power.Sub(cut)
		remaining = remaining.Sub(cut)
	}

	// Rounding residue lands on the largest remaining positions.
	for _, d := range dels {
		if remaining.IsZero() {
			break
		}
		cut := remaining
		if cut.GT(d.Amount) {
			cut = d.Amount
		}
		d.Amount = d.Amount.Sub(cut)
		v.TotalDelegated = v.TotalDelegated.Sub(cut)
		v.Power = v.Power.Sub(cut)
		remaining = remaining.Sub(cut)
	}

	s.pruneEmptyDelegations(v)
}

// pruneEmptyDelegations removes zeroed delegation records and the matching
// delegator indices.
func (s *State) pruneEmptyDelegations(v *types.Validator) {
	kept := v.Delegations[:0]
	for _, d := range v.Delegations {
		if d.Amount.IsZero() {
			if acc := s.accounts[d.Delegator]; acc != nil {
				acc.RemoveDelegationOut(v.Address)
			}
			continue
		}
		kept = append(kept, d)
	}
	v.Delegations = kept
}

// eject permanently removes a validator after its third jail. Its
// self-stake is burned; delegators are made whole at their current
// delegation amounts via immediate-maturity unbonding entries. Unbonding
// entries created earlier are untouched.
func (s *State) eject(v *types.Validator, height uint64) {
	s.counters.Burn(v.SelfStake)
	v.TotalPenalties = v.TotalPenalties.Add(v.SelfStake)

	for _, d := range v.Delegations {
		acc := s.ensureAccount(d.Delegator)
		acc.Unbonding = append(acc.Unbonding, types.UnbondingEntry{
			Validator:        v.Address,
			Amount:           d.Amount,
			CompletionHeight: height,
		})
		sortUnbonding(acc)
		acc.RemoveDelegationOut(v.Address)
	}

	v.Delegations = nil
	v.SelfStake = types.ZeroAmount()
	v.TotalDelegated = types.ZeroAmount()
	v.Power = types.ZeroAmount()
	v.JailedUntilHeight = 0
	v.MissedBlocks = 0
	v.IsActive = false
}

// transitionEpoch refreshes scores and recomputes the active set.
func (s *State) transitionEpoch(height uint64) {
	totalPower := s.TotalStakedPower().Big()

	for _, v := range s.validators {
		s.updateScores(v, totalPower)
	}

	var candidates []*types.Validator
	for _, v := range s.sortedValidators() {
		if v.Power.LT(s.params.MinValidatorStake) {
			continue
		}
		if v.Jailed(height) {
			continue
		}
		if v.JailCount >= s.params.EjectionThresholdJails {
			continue
		}
		// Inclusive lower bound: a validator exactly at the uptime floor
		// stays in.
		if v.BlocksExpected > 0 && v.UptimeMicros < s.params.MinUptimeMicros {
			continue
		}
		candidates = append(candidates, v)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PerformanceMicros != b.PerformanceMicros {
			return a.PerformanceMicros > b.PerformanceMicros
		}
		if c := a.Power.Cmp(b.Power); c != 0 {
			return c > 0
		}
		return a.Address < b.Address
	})

	if len(candidates) > s.params.MaxValidators {
		candidates = candidates[:s.params.MaxValidators]
	}

	selected := make(map[string]bool, len(candidates))
	for _, v := range candidates {
		selected[v.Address] = true
	}
	for _, v := range s.validators {
		v.IsActive = selected[v.Address]
	}

	s.epoch++
}

// updateScores recomputes the fixed-point uptime and performance scores:
//
//	performance = 0.6*uptime + 0.2*stake_ratio + 0.2*(1 - penalty_ratio)
func (s *State) updateScores(v *types.Validator, totalPower *big.Int) {
	expected := v.BlocksExpected
	if expected == 0 {
		expected = 1
	}
	v.UptimeMicros = scoreRatioMicros(
		new(big.Int).SetUint64(v.BlocksProposed),
		new(big.Int).SetUint64(expected),
	)

	stakeRatio := scoreRatioMicros(v.Power.Big(), maxBig(totalPower, big.NewInt(1)))

	powerDen := v.Power.Big()
	if powerDen.Sign() == 0 {
		powerDen = big.NewInt(1)
	}
	penaltyRatio := scoreRatioMicros(v.TotalPenalties.Big(), powerDen)
	if penaltyRatio > types.ScoreDenom/2 {
		penaltyRatio = types.ScoreDenom / 2
	}

	v.PerformanceMicros = (600000*v.UptimeMicros +
		200000*stakeRatio +
		200000*(types.ScoreDenom-penaltyRatio)) / types.ScoreDenom
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
