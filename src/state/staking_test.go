package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

func delegatePayload(validator string) []byte {
	return types.MustEncode(types.DelegationPayload{Validator: validator})
}

// TestStakeDelegateRewardUndelegate walks the staking scenario: Alice runs
// a validator with 10,000 CPC self-stake and 10% commission, Bob delegates
// 1,000 CPC, one block reward is distributed, then Bob undelegates 500 CPC
// through the unbonding queue.
func TestStakeDelegateRewardUndelegate(t *testing.T) {
	alice := newActor(t)
	bob := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{
			alice: types.CPC(100),
			bob:   types.CPC(2000),
		},
		map[*actor]types.Amount{alice: types.CPC(10000)},
	)
	s := NewFromGenesis(g)

	v := s.Validator(alice.consAddr)
	require.NotNil(t, v)
	require.True(t, v.IsActive)
	require.Equal(t, uint32(1000), v.CommissionBps) // 10%

	// Bob delegates 1,000 CPC.
	del := signedTx(t, bob, types.Delegate, types.CPC(1000), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(alice.consAddr)
	})
	_, err := s.Transition(1, 1, alice.consAddr, []*types.Transaction{del})
	require.NoError(t, err)

	v = s.Validator(alice.consAddr)
	require.Zero(t, v.Power.Cmp(types.CPC(11000)))
	require.Zero(t, v.TotalDelegated.Cmp(types.CPC(1000)))
	require.NotNil(t, v.Delegation(bob.addr))
	checkPowerIdentity(t, s)

	aliceBefore := s.Account(alice.addr).Balance
	bobBefore := s.Account(bob.addr).Balance
	burnedBefore := s.Counters().TotalBurned

	// An empty block distributes the reward: pool = 7 CPC (30% of 10 CPC
	// goes to the miner pool, burned with no submissions). Commission 10%
	// = 0.7 CPC to Alice; the 6.3 CPC remainder splits 10/11 Alice, 1/11
	// Bob with floor rounding.
	_, err = s.Transition(2, 2, alice.consAddr, nil)
	require.NoError(t, err)

	commission := types.CPC(7).MulBps(1000)
	remainder := types.CPC(7).Sub(commission)
	aliceCut := remainder.MulDiv(10000, 11000)
	bobCut := remainder.MulDiv(1000, 11000)

	require.Equal(t, "700000000000000000", commission.String())
	require.Equal(t, "5727272727272727272", aliceCut.String())
	require.Equal(t, "572727272727272727", bobCut.String())

	require.Zero(t, s.Account(alice.addr).Balance.Sub(aliceBefore).Cmp(commission.Add(aliceCut)))
	require.Zero(t, s.Account(bob.addr).Balance.Sub(bobBefore).Cmp(bobCut))

	// Miner pool (3 CPC) and the rounding residual are burned.
	burned := s.Counters().TotalBurned.Sub(burnedBefore)
	residual := types.CPC(7).Sub(commission).Sub(aliceCut).Sub(bobCut)
	require.Zero(t, burned.Cmp(types.CPC(3).Add(residual)))

	// Reward history recorded.
	require.NotEmpty(t, s.Account(bob.addr).RewardHistory)
	checkSupplyIdentity(t, s)

	// Bob undelegates 500 CPC; tokens lock in the unbonding queue.
	bobBefore = s.Account(bob.addr).Balance
	undel := signedTx(t, bob, types.Undelegate, types.CPC(500), 1, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(alice.consAddr)
	})
	_, err = s.Transition(3, 3, alice.consAddr, []*types.Transaction{undel})
	require.NoError(t, err)

	fee := types.NewAmount(35000).MulUint64(1000)
	reward2 := rewardForBob(s, bob.addr, 3)
	require.Zero(t, s.Account(bob.addr).Balance.Cmp(bobBefore.Sub(fee).Add(reward2)),
		"undelegated tokens must stay locked")

	acc := s.Account(bob.addr)
	require.Len(t, acc.Unbonding, 1)
	require.Equal(t, uint64(3+100), acc.Unbonding[0].CompletionHeight)
	require.Zero(t, acc.Unbonding[0].Amount.Cmp(types.CPC(500)))
	checkPowerIdentity(t, s)
	checkSupplyIdentity(t, s)

	// At the completion height the amount is credited.
	balBefore := s.Account(bob.addr).Balance
	for h := uint64(4); h <= 103; h++ {
		_, err = s.Transition(h, h, alice.consAddr, nil)
		require.NoError(t, err)
	}
	gained := s.Account(bob.addr).Balance.Sub(balBefore)
	require.True(t, gained.GTE(types.CPC(500)), "unbonding must mature at the completion height")
	checkSupplyIdentity(t, s)
}

// rewardForBob sums reward history entries credited to addr (the delegator
// keeps earning while still delegated).
func rewardForBob(s *State, addr string, upTo uint64) types.Amount {
	total := types.ZeroAmount()
	acc := s.Account(addr)
	if acc == nil {
		return total
	}
	// Only the most recent entry matters in these tests: the one credited
	// by the block that carried the undelegation.
	if len(acc.RewardHistory) > 0 {
		total = acc.RewardHistory[len(acc.RewardHistory)-1].Amount
	}
	return total
}

func TestStakeBelowMinimumStaysInactive(t *testing.T) {
	alice := newActor(t)
	val := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{alice: types.CPC(5000)},
		map[*actor]types.Amount{val: types.CPC(2000)},
	)
	s := NewFromGenesis(g)

	// 500 CPC is below the 1,000 CPC threshold.
	tx := signedTx(t, alice, types.Stake, types.CPC(500), 0, nil)
	_, err := s.Transition(1, 1, val.consAddr, []*types.Transaction{tx})
	require.NoError(t, err)

	v := s.Validator(alice.consAddr)
	require.NotNil(t, v)
	require.False(t, v.IsActive)

	// Epoch boundaries do not admit it either.
	for h := uint64(2); h <= 20; h++ {
		_, err = s.Transition(h, h, val.consAddr, nil)
		require.NoError(t, err)
	}
	require.False(t, s.Validator(alice.consAddr).IsActive)

	// Topping up to the threshold admits it at the next boundary.
	top := signedTx(t, alice, types.Stake, types.CPC(500), 1, nil)
	_, err = s.Transition(21, 21, val.consAddr, []*types.Transaction{top})
	require.NoError(t, err)

	for h := uint64(22); h <= 30; h++ {
		_, err = s.Transition(h, h, val.consAddr, nil)
		require.NoError(t, err)
	}
	require.True(t, s.Validator(alice.consAddr).IsActive)
}

func TestUndelegateExactAmountRemovesRecord(t *testing.T) {
	alice := newActor(t)
	bob := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{bob: types.CPC(500)},
		map[*actor]types.Amount{alice: types.CPC(10000)},
	)
	s := NewFromGenesis(g)

	del := signedTx(t, bob, types.Delegate, types.CPC(200), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(alice.consAddr)
	})
	_, err := s.Transition(1, 1, alice.consAddr, []*types.Transaction{del})
	require.NoError(t, err)

	undel := signedTx(t, bob, types.Undelegate, types.CPC(200), 1, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(alice.consAddr)
	})
	_, err = s.Transition(2, 2, alice.consAddr, []*types.Transaction{undel})
	require.NoError(t, err)

	v := s.Validator(alice.consAddr)
	require.Nil(t, v.Delegation(bob.addr))
	require.Empty(t, s.Account(bob.addr).DelegationsOut)
	require.Len(t, s.Account(bob.addr).Unbonding, 1)
}

func TestDelegationLimits(t *testing.T) {
	bob := newActor(t)
	alice := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{bob: types.CPC(10000)},
		map[*actor]types.Amount{alice: types.CPC(10000)},
	)
	s := NewFromGenesis(g)

	// Below the minimum delegation.
	small := signedTx(t, bob, types.Delegate, types.CPC(1), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(alice.consAddr)
	})
	_, err := s.ApplyTransaction(small, 1)
	require.True(t, common.IsCode(err, common.MinDelegationNotMet))

	// Unknown validator.
	unknown := signedTx(t, bob, types.Delegate, types.CPC(100), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload("cpcvalcons1unknown")
	})
	_, err = s.ApplyTransaction(unknown, 1)
	require.True(t, common.IsCode(err, common.UnknownValidator))
}

func TestPowerShareCapWithManyValidators(t *testing.T) {
	// Six validators at 1,000 CPC each: the 20% cap binds.
	bob := newActor(t)

	validators := map[*actor]types.Amount{}
	var vals []*actor
	for i := 0; i < 6; i++ {
		v := newActor(t)
		vals = append(vals, v)
		validators[v] = types.CPC(1000)
	}

	g := testGenesis(map[*actor]types.Amount{bob: types.CPC(100000)}, validators)
	s := NewFromGenesis(g)

	// 6,000 staked; delegating 2,000 to one validator would give it
	// 3,000/8,000 = 37.5% > 20%.
	tooMuch := signedTx(t, bob, types.Delegate, types.CPC(2000), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(vals[0].consAddr)
	})
	_, err := s.ApplyTransaction(tooMuch, 1)
	require.True(t, common.IsCode(err, common.MaxValidatorPowerShareExceeded))

	// A small delegation keeping the share under 20% passes: 100 CPC
	// gives 1,100/6,100 ≈ 18%.
	ok := signedTx(t, bob, types.Delegate, types.CPC(100), 0, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(vals[0].consAddr)
	})
	_, err = s.ApplyTransaction(ok, 1)
	require.NoError(t, err)
	checkPowerIdentity(t, s)
}

func TestMaxValidatorsPerDelegator(t *testing.T) {
	bob := newActor(t)

	validators := map[*actor]types.Amount{}
	var vals []*actor
	for i := 0; i < 11; i++ {
		v := newActor(t)
		vals = append(vals, v)
		validators[v] = types.CPC(100000)
	}

	g := testGenesis(map[*actor]types.Amount{bob: types.CPC(1000000)}, validators)
	s := NewFromGenesis(g)

	nonce := uint64(0)
	for i := 0; i < 10; i++ {
		del := signedTx(t, bob, types.Delegate, types.CPC(100), nonce, func(tx *types.Transaction) {
			tx.Payload = delegatePayload(vals[i].consAddr)
		})
		_, err := s.ApplyTransaction(del, 1)
		require.NoError(t, err, "delegation %d", i)
		nonce++
	}

	over := signedTx(t, bob, types.Delegate, types.CPC(100), nonce, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(vals[10].consAddr)
	})
	_, err := s.ApplyTransaction(over, 1)
	require.True(t, common.IsCode(err, common.MaxValidatorsPerDelegatorExceeded))

	// Topping up an existing delegation is still allowed.
	topUp := signedTx(t, bob, types.Delegate, types.CPC(100), nonce, func(tx *types.Transaction) {
		tx.Payload = delegatePayload(vals[0].consAddr)
	})
	_, err = s.ApplyTransaction(topUp, 1)
	require.NoError(t, err)
}

func TestUnstake(t *testing.T) {
	alice := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{alice: types.CPC(100)},
		map[*actor]types.Amount{alice: types.CPC(5000)},
	)
	s := NewFromGenesis(g)

	before := s.Account(alice.addr).Balance

	tx := signedTx(t, alice, types.Unstake, types.CPC(1000), 0, nil)
	_, err := s.Transition(1, 1, alice.consAddr, []*types.Transaction{tx})
	require.NoError(t, err)

	v := s.Validator(alice.consAddr)
	require.Zero(t, v.SelfStake.Cmp(types.CPC(4000)))
	require.Zero(t, v.Power.Cmp(types.CPC(4000)))

	fee := types.NewAmount(40000).MulUint64(1000)
	gained := s.Account(alice.addr).Balance.Sub(before)
	// Full credit (not jailed), minus fee, plus the block reward Alice
	// earns as the only validator.
	require.True(t, gained.GTE(types.CPC(1000).Sub(fee)))
	checkSupplyIdentity(t, s)

	// Unstaking more than the remaining self stake fails.
	over := signedTx(t, alice, types.Unstake, types.CPC(9999), 1, nil)
	_, err = s.ApplyTransaction(over, 2)
	require.True(t, common.IsCode(err, common.InvalidAmount))

	// A non-operator cannot unstake.
	mallory := newActor(t)
	fund := signedTx(t, alice, types.Transfer, types.CPC(10), 1, func(tx *types.Transaction) {
		tx.Recipient = mallory.addr
	})
	_, err = s.Transition(2, 2, alice.consAddr, []*types.Transaction{fund})
	require.NoError(t, err)

	steal := signedTx(t, mallory, types.Unstake, types.CPC(1), 0, nil)
	_, err = s.ApplyTransaction(steal, 3)
	// Mallory has no validator under their consensus address.
	require.True(t, common.IsCode(err, common.UnknownValidator))
}

func TestUpdateValidatorMetadata(t *testing.T) {
	alice := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{alice: types.CPC(100)},
		map[*actor]types.Amount{alice: types.CPC(5000)},
	)
	s := NewFromGenesis(g)

	name := "Alice's Validator"
	website := "https://alice.example.com"
	commission := uint32(1500)

	tx := signedTx(t, alice, types.UpdateValidator, types.ZeroAmount(), 0, func(tx *types.Transaction) {
		tx.Payload = types.MustEncode(types.UpdateValidatorPayload{
			Name:          &name,
			Website:       &website,
			CommissionBps: &commission,
		})
	})
	_, err := s.ApplyTransaction(tx, 1)
	require.NoError(t, err)

	v := s.Validator(alice.consAddr)
	require.Equal(t, name, v.Name)
	require.Equal(t, website, v.Website)
	require.Equal(t, commission, v.CommissionBps)

	// Over-long metadata and excessive commission are rejected.
	longName := string(make([]byte, 65))
	bad := signedTx(t, alice, types.UpdateValidator, types.ZeroAmount(), 1, func(tx *types.Transaction) {
		tx.Payload = types.MustEncode(types.UpdateValidatorPayload{Name: &longName})
	})
	_, err = s.ApplyTransaction(bad, 1)
	require.True(t, common.IsCode(err, common.MetadataTooLong))

	tooGreedy := uint32(5000)
	bad2 := signedTx(t, alice, types.UpdateValidator, types.ZeroAmount(), 1, func(tx *types.Transaction) {
		tx.Payload = types.MustEncode(types.UpdateValidatorPayload{CommissionBps: &tooGreedy})
	})
	_, err = s.ApplyTransaction(bad2, 1)
	require.True(t, common.IsCode(err, common.InvalidCommission))
}

func TestSubmitResult(t *testing.T) {
	miner := newActor(t)
	val := newActor(t)

	g := testGenesis(
		map[*actor]types.Amount{miner: types.CPC(100)},
		map[*actor]types.Amount{val: types.CPC(5000)},
	)
	s := NewFromGenesis(g)

	res := types.ComputeResult{
		TaskID:     "task-42",
		ResultHash: make([]byte, 32),
		WeightPPM:  500000,
		Worker:     miner.addr,
	}
	tx := signedTx(t, miner, types.SubmitResult, types.ZeroAmount(), 0, func(tx *types.Transaction) {
		tx.Payload = types.MustEncode(&res)
	})

	minerBefore := s.Account(miner.addr).Balance

	result, err := s.Transition(1, 1, val.consAddr, []*types.Transaction{tx})
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)

	// The miner pool (3 CPC) goes to the only submitter.
	fee := types.NewAmount(80000).MulUint64(1000)
	gained := s.Account(miner.addr).Balance.Add(fee).Sub(minerBefore)
	require.Zero(t, gained.Cmp(types.CPC(3)))

	require.NotEmpty(t, s.ComputeLog())
	checkSupplyIdentity(t, s)
}
