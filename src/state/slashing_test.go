package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

// threeValidators builds a network of three equal validators A, B, C with
// 10,000 CPC each, plus funded operator accounts.
func threeValidators(t *testing.T) (*State, [3]*actor) {
	a, b, c := newActor(t), newActor(t), newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{
			a: types.CPC(5000),
			b: types.CPC(5000),
			c: types.CPC(5000),
		},
		map[*actor]types.Amount{
			a: types.CPC(10000),
			b: types.CPC(10000),
			c: types.CPC(10000),
		},
	)
	// Long epochs keep the uptime filter out of the way: these tests are
	// about sequential-miss jailing.
	g.Params.EpochLengthBlocks = 100000
	return NewFromGenesis(g), [3]*actor{a, b, c}
}

// missUntilJailed advances the chain, skipping every slot designated to
// the offline validator, until that validator is jailed. Returns the next
// height and slot to continue from.
func missUntilJailed(t *testing.T, s *State, offline string, height, slot uint64) (uint64, uint64) {
	t.Helper()

	for i := 0; i < 2000; i++ {
		v := s.Validator(offline)
		if v.JailedUntilHeight > 0 || v.JailCount >= s.Params().EjectionThresholdJails {
			return height, slot
		}

		// Find the next slot whose designated proposer is online. Offline
		// slots are skipped; trackPerformance accounts the misses.
		for {
			designated := s.ProposerForSlot(slot)
			if designated == nil {
				t.Fatal("empty active set")
			}
			if designated.Address != offline {
				break
			}
			slot++
		}

		proposer := s.ProposerForSlot(slot)
		_, err := s.Transition(height, slot, proposer.Address, nil)
		require.NoError(t, err)
		height++
		slot++
	}

	t.Fatal("validator never jailed")
	return 0, 0
}

// TestMissedBlocksJailAndSlash is the offline-validator scenario: C stops
// proposing, accumulates sequential misses and is jailed with a 5% slash.
func TestMissedBlocksJailAndSlash(t *testing.T) {
	s, actors := threeValidators(t)
	c := actors[2]

	burnedBefore := s.Counters().TotalBurned

	height, _ := missUntilJailed(t, s, c.consAddr, 1, 1)

	v := s.Validator(c.consAddr)
	require.Equal(t, uint32(1), v.JailCount)
	require.False(t, v.IsActive)
	require.Zero(t, v.MissedBlocks)

	// First offence: 5% of 10,000 CPC burned.
	require.Zero(t, v.Power.Cmp(types.CPC(9500)))
	require.Zero(t, v.SelfStake.Cmp(types.CPC(9500)))
	require.Zero(t, v.TotalPenalties.Cmp(types.CPC(500)))
	require.True(t, s.Counters().TotalBurned.Sub(burnedBefore).GTE(types.CPC(500)))

	// Jailed for the configured duration.
	require.True(t, v.JailedUntilHeight > height)
	require.True(t, v.Jailed(height))

	checkSupplyIdentity(t, s)
	checkPowerIdentity(t, s)
}

// TestGraduatedSlashingToEjection continues the story: unjail, miss again
// (10% slash), unjail, miss again (100% slash, permanent ejection).
func TestGraduatedSlashingToEjection(t *testing.T) {
	s, actors := threeValidators(t)
	c := actors[2]

	height, slot := missUntilJailed(t, s, c.consAddr, 1, 1)

	// Second offence.
	unjail := signedTx(t, c, types.Unjail, types.ZeroAmount(), 0, nil)
	proposer := s.ProposerForSlot(slot)
	if proposer.Address == c.consAddr {
		slot++
		proposer = s.ProposerForSlot(slot)
	}
	_, err := s.Transition(height, slot, proposer.Address, []*types.Transaction{unjail})
	require.NoError(t, err)
	height++
	slot++

	v := s.Validator(c.consAddr)
	require.Zero(t, v.JailedUntilHeight)
	require.True(t, v.IsActive)

	height, slot = missUntilJailed(t, s, c.consAddr, height, slot)

	v = s.Validator(c.consAddr)
	require.Equal(t, uint32(2), v.JailCount)
	// 10% of 9,500 = 950 burned; power 8,550.
	require.Zero(t, v.Power.Cmp(types.CPC(8550)))

	// Third offence: ejection.
	unjail2 := signedTx(t, c, types.Unjail, types.ZeroAmount(), 1, nil)
	proposer = s.ProposerForSlot(slot)
	if proposer.Address == c.consAddr {
		slot++
		proposer = s.ProposerForSlot(slot)
	}
	_, err = s.Transition(height, slot, proposer.Address, []*types.Transaction{unjail2})
	require.NoError(t, err)
	height++
	slot++

	height, slot = missUntilJailed(t, s, c.consAddr, height, slot)

	v = s.Validator(c.consAddr)
	require.Equal(t, uint32(3), v.JailCount)
	require.True(t, v.Power.IsZero())
	require.True(t, v.SelfStake.IsZero())
	require.False(t, v.IsActive)

	// Permanently ejected: unjail and stake are refused, epochs never
	// reactivate it.
	unjail3 := signedTx(t, c, types.Unjail, types.ZeroAmount(), 2, nil)
	_, err = s.ApplyTransaction(unjail3, height)
	require.True(t, common.IsCode(err, common.EjectionPermanent))

	restake := signedTx(t, c, types.Stake, types.CPC(2000), 2, nil)
	_, err = s.ApplyTransaction(restake, height)
	require.True(t, common.IsCode(err, common.EjectionPermanent))

	for i := 0; i < 30; i++ {
		proposer = s.ProposerForSlot(slot)
		_, err = s.Transition(height, slot, proposer.Address, nil)
		require.NoError(t, err)
		height++
		slot++
	}
	require.False(t, s.Validator(c.consAddr).IsActive)

	checkSupplyIdentity(t, s)
	checkPowerIdentity(t, s)
}

// TestEjectionRefundsDelegators: on the third jail the validator's
// self-stake burns but delegators get their principal back through
// immediate-maturity unbonding entries.
func TestEjectionRefundsDelegators(t *testing.T) {
	s, actors := threeValidators(t)
	c := actors[2]
	bob := newActor(t)

	// Fund Bob and delegate to C.
	fund := signedTx(t, actors[0], types.Transfer, types.CPC(2000), 0, func(tx *types.Transaction) {
		tx.Recipient = bob.addr
	})
	proposer := s.ProposerForSlot(1)
	_, err := s.Transition(1, 1, proposer.Address, []*types.Transaction{fund})
	require.NoError(t, err)

	del := signedTx(t, bob, types.Delegate, types.CPC(1000), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(c.consAddr)
	})
	proposer = s.ProposerForSlot(2)
	_, err = s.Transition(2, 2, proposer.Address, []*types.Transaction{del})
	require.NoError(t, err)

	require.NotNil(t, s.Validator(c.consAddr).Delegation(bob.addr))

	// Drive C through three jails.
	height, slot := uint64(3), uint64(3)
	for round := 0; round < 3; round++ {
		height, slot = missUntilJailed(t, s, c.consAddr, height, slot)

		v := s.Validator(c.consAddr)
		if v.JailCount >= s.Params().EjectionThresholdJails {
			break
		}

		unjail := signedTx(t, c, types.Unjail, types.ZeroAmount(), uint64(round), nil)
		proposer = s.ProposerForSlot(slot)
		if proposer.Address == c.consAddr {
			slot++
			proposer = s.ProposerForSlot(slot)
		}
		_, err = s.Transition(height, slot, proposer.Address, []*types.Transaction{unjail})
		require.NoError(t, err)
		height++
		slot++
	}

	v := s.Validator(c.consAddr)
	require.True(t, v.Power.IsZero())
	require.Empty(t, v.Delegations)

	// Bob's principal sits in an unbonding entry against C. The first two
	// slashes came out of self-stake only, so the principal is intact.
	acc := s.Account(bob.addr)
	found := types.ZeroAmount()
	credited := acc.Balance
	for _, u := range acc.Unbonding {
		if u.Validator == c.consAddr {
			found = found.Add(u.Amount)
		}
	}
	// Either still unbonding or already matured into the balance by a
	// subsequent block.
	require.True(t, found.Add(credited).GTE(types.CPC(1000)))

	checkSupplyIdentity(t, s)
	checkPowerIdentity(t, s)
}

// TestEpochUptimeBoundIsInclusive: a validator exactly at the minimum
// uptime score is retained at the epoch boundary.
func TestEpochUptimeBoundIsInclusive(t *testing.T) {
	a := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{a: types.CPC(100)},
		map[*actor]types.Amount{a: types.CPC(10000)},
	)
	g.Params.MinUptimeMicros = 750000
	s := NewFromGenesis(g)

	v := s.Validator(a.consAddr)
	// 3 proposed out of 4 expected = exactly 0.75.
	v.BlocksProposed = 3
	v.BlocksExpected = 4

	s.transitionEpoch(10)

	v = s.Validator(a.consAddr)
	require.Equal(t, uint64(750000), v.UptimeMicros)
	require.True(t, v.IsActive, "uptime exactly at the bound must be retained")

	// One more expected block without a proposal drops it below.
	v.BlocksExpected = 5
	s.transitionEpoch(20)
	require.False(t, s.Validator(a.consAddr).IsActive)
}

func TestUnjailRequiresJail(t *testing.T) {
	a := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{a: types.CPC(5000)},
		map[*actor]types.Amount{a: types.CPC(10000)},
	)
	s := NewFromGenesis(g)

	tx := signedTx(t, a, types.Unjail, types.ZeroAmount(), 0, nil)
	_, err := s.ApplyTransaction(tx, 1)
	require.True(t, common.IsCode(err, common.NotJailed))
}

func TestUnjailBurnsFee(t *testing.T) {
	s, actors := threeValidators(t)
	c := actors[2]

	height, slot := missUntilJailed(t, s, c.consAddr, 1, 1)

	burnedBefore := s.Counters().TotalBurned
	balBefore := s.Account(c.addr).Balance

	unjail := signedTx(t, c, types.Unjail, types.ZeroAmount(), 0, nil)
	_, err := s.ApplyTransaction(unjail, height)
	require.NoError(t, err)
	_ = slot

	// The flat unjail fee (1,000 CPC) is burned on top of gas.
	require.Zero(t, s.Counters().TotalBurned.Sub(burnedBefore).Cmp(s.Params().UnjailFee))

	gasFee := types.NewAmount(50000).MulUint64(1000)
	spent := balBefore.Sub(s.Account(c.addr).Balance)
	require.Zero(t, spent.Cmp(s.Params().UnjailFee.Add(gasFee)))

	v := s.Validator(c.consAddr)
	require.Zero(t, v.JailedUntilHeight)
	require.True(t, v.IsActive)
}

func TestUnstakeWhileJailedPaysPenalty(t *testing.T) {
	s, actors := threeValidators(t)
	c := actors[2]

	height, _ := missUntilJailed(t, s, c.consAddr, 1, 1)

	burnedBefore := s.Counters().TotalBurned
	balBefore := s.Account(c.addr).Balance

	// Unstake 1,000 CPC while jailed: 10% penalty burned.
	tx := signedTx(t, c, types.Unstake, types.CPC(1000), 0, nil)
	_, err := s.ApplyTransaction(tx, height)
	require.NoError(t, err)

	penalty := types.CPC(1000).MulBps(1000)
	gasFee := types.NewAmount(40000).MulUint64(1000)

	gained := s.Account(c.addr).Balance.Sub(balBefore)
	require.Zero(t, gained.Cmp(types.CPC(1000).Sub(penalty).Sub(gasFee)))
	require.Zero(t, s.Counters().TotalBurned.Sub(burnedBefore).Cmp(penalty))
}
