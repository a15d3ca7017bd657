package state

import (
	"crypto/ecdsa"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

// actor is a keyed test identity.
type actor struct {
	key      *ecdsa.PrivateKey
	pub      []byte
	addr     string
	consAddr string
}

func newActor(t *testing.T) *actor {
	t.Helper()

	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	pub := keys.FromPublicKey(&key.PublicKey)

	addr, err := crypto.AddressFromPubKey(pub, crypto.PrefixAccount)
	require.NoError(t, err)
	consAddr, err := crypto.AddressFromPubKey(pub, crypto.PrefixConsensus)
	require.NoError(t, err)

	return &actor{key: key, pub: pub, addr: addr, consAddr: consAddr}
}

// signedTx builds and signs a transaction from an actor.
func signedTx(t *testing.T, a *actor, txType types.TxType, amount types.Amount, nonce uint64, mutate func(*types.Transaction)) *types.Transaction {
	t.Helper()

	tx := &types.Transaction{
		Type:     txType,
		Sender:   a.addr,
		Amount:   amount,
		Nonce:    nonce,
		GasLimit: types.BaseGas(txType),
		GasPrice: 1000,
	}
	if mutate != nil {
		mutate(tx)
	}
	require.NoError(t, tx.Sign(a.key))
	return tx
}

// testGenesis builds a genesis document with the given funded accounts and
// initial validators.
func testGenesis(accounts map[*actor]types.Amount, validators map[*actor]types.Amount) *genesis.Genesis {
	g := &genesis.Genesis{
		NetworkID:   "cpc-test-1",
		GenesisTime: 1700000000,
		Params:      genesis.DefaultParams(),
	}

	for a, balance := range accounts {
		g.InitialAccounts = append(g.InitialAccounts, genesis.InitialAccount{
			Address: a.addr,
			Balance: balance,
			PubKey:  a.pub,
		})
	}
	for a, stake := range validators {
		g.InitialValidators = append(g.InitialValidators, genesis.InitialValidator{
			ConsensusAddr: a.consAddr,
			OperatorAddr:  a.addr,
			PubKey:        a.pub,
			SelfStake:     stake,
			Name:          "test-validator",
		})
	}
	return g
}

// checkSupplyIdentity asserts the total supply identity: balances (without
// the treasury) + validator power + unbonding + treasury + burned ==
// minted + genesis supply.
func checkSupplyIdentity(t *testing.T, s *State) {
	t.Helper()

	lhs := types.ZeroAmount()
	for _, acc := range s.Accounts() {
		lhs = lhs.Add(acc.Balance)
		for _, u := range acc.Unbonding {
			lhs = lhs.Add(u.Amount)
		}
	}
	for _, v := range s.Validators() {
		lhs = lhs.Add(v.Power)
	}
	lhs = lhs.Add(s.Counters().TotalBurned)

	rhs := s.Counters().TotalMinted.Add(s.GenesisSupply())

	require.Zero(t, lhs.Cmp(rhs),
		"supply identity violated: lhs=%s rhs=%s", lhs, rhs)
}

// checkPowerIdentity asserts power == self stake + delegations for every
// validator.
func checkPowerIdentity(t *testing.T, s *State) {
	t.Helper()

	for _, v := range s.Validators() {
		sum := v.SelfStake
		for _, d := range v.Delegations {
			sum = sum.Add(d.Amount)
		}
		require.Zero(t, v.Power.Cmp(sum), "validator %s power mismatch", v.Address)
		require.Zero(t, v.Power.Cmp(v.SelfStake.Add(v.TotalDelegated)))
	}
}
