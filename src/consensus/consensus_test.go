package consensus

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
)

const genesisTime = int64(1700000000)

func fixedClock(unix int64) *SlotClock {
	return NewSlotClockWithTimeFunc(genesisTime, 5, func() time.Time {
		return time.Unix(unix, 0)
	})
}

func TestSlotClock(t *testing.T) {
	c := fixedClock(genesisTime + 17)

	require.Equal(t, uint64(3), c.CurrentSlot())
	require.Equal(t, genesisTime+15, c.SlotStartTime(3))
	require.Equal(t, 3*time.Second, c.UntilNextSlot())
	require.False(t, c.BeforeGenesis())

	before := fixedClock(genesisTime - 100)
	require.True(t, before.BeforeGenesis())
	require.Equal(t, uint64(0), before.CurrentSlot())
}

type netFixture struct {
	gen   *genesis.Genesis
	st    *state.State
	keys  map[string]*ecdsa.PrivateKey // consensus addr -> key
	conss []string
}

func newNetwork(t *testing.T, n int) *netFixture {
	t.Helper()

	f := &netFixture{keys: map[string]*ecdsa.PrivateKey{}}
	f.gen = &genesis.Genesis{
		NetworkID:   "cpc-test-1",
		GenesisTime: genesisTime,
		Params:      genesis.DefaultParams(),
	}

	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		require.NoError(t, err)
		pub := keys.FromPublicKey(&key.PublicKey)

		cons, err := crypto.AddressFromPubKey(pub, crypto.PrefixConsensus)
		require.NoError(t, err)
		oper, err := crypto.AddressFromPubKey(pub, crypto.PrefixAccount)
		require.NoError(t, err)

		f.gen.InitialValidators = append(f.gen.InitialValidators, genesis.InitialValidator{
			ConsensusAddr: cons,
			OperatorAddr:  oper,
			PubKey:        pub,
			SelfStake:     types.CPC(10000),
		})
		f.keys[cons] = key
		f.conss = append(f.conss, cons)
	}

	f.st = state.NewFromGenesis(f.gen)
	return f
}

func TestProposerSelectionIsDeterministic(t *testing.T) {
	f := newNetwork(t, 3)

	active := f.st.ActiveSet()
	require.Len(t, active, 3)

	// Canonical order: consensus address ascending.
	for i := 1; i < len(active); i++ {
		require.True(t, active[i-1].Address < active[i].Address)
	}

	for slot := uint64(0); slot < 9; slot++ {
		expected := active[slot%3].Address
		require.Equal(t, expected, f.st.ProposerForSlot(slot).Address)
	}
}

func TestBuildAndReplayRoundTrip(t *testing.T) {
	f := newNetwork(t, 3)

	slot := uint64(7)
	designated := f.st.ProposerForSlot(slot)
	key := f.keys[designated.Address]

	validator, err := NewValidator(key)
	require.NoError(t, err)

	clock := fixedClock(genesisTime + int64(slot*5) + 1)
	proposer := NewProposer(validator, clock, common.NewTestEntry(t))

	require.True(t, proposer.OwnsSlot(f.st, slot))

	tipHash := f.gen.Hash()
	block, next, result, err := proposer.BuildBlock(f.st, 0, tipHash, slot, nil)
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	require.Equal(t, uint64(1), block.Header.Height)
	require.Equal(t, next.Root(), block.Header.StateRoot)

	// A fresh replica validates and replays to the identical state.
	replica := state.NewFromGenesis(f.gen)
	require.NoError(t, ValidateHeader(block, replica, 0, tipHash, f.gen.GenesisTime, clock))

	replayed, _, err := Replay(block, replica)
	require.NoError(t, err)
	require.Equal(t, next.Root(), replayed.Root())
}

func TestValidateHeaderRejections(t *testing.T) {
	f := newNetwork(t, 3)

	slot := uint64(4)
	designated := f.st.ProposerForSlot(slot)
	key := f.keys[designated.Address]

	validator, err := NewValidator(key)
	require.NoError(t, err)

	clock := fixedClock(genesisTime + int64(slot*5) + 1)
	proposer := NewProposer(validator, clock, common.NewTestEntry(t))

	tipHash := f.gen.Hash()
	block, _, _, err := proposer.BuildBlock(f.st, 0, tipHash, slot, nil)
	require.NoError(t, err)

	check := func(mutate func(b *types.Block), code common.Code) {
		raw := types.MustEncode(block)
		var b types.Block
		require.NoError(t, types.Decode(raw, &b))
		mutate(&b)

		replica := state.NewFromGenesis(f.gen)
		err := ValidateHeader(&b, replica, 0, tipHash, f.gen.GenesisTime, clock)
		require.Error(t, err)
		require.True(t, common.IsCode(err, code), "want %s, got %v", code, err)
	}

	check(func(b *types.Block) { b.Header.Height = 5 }, common.HeightMismatch)
	check(func(b *types.Block) { b.Header.PrevHash = make([]byte, 32) }, common.PrevHashMismatch)
	check(func(b *types.Block) { b.Header.Timestamp = f.gen.GenesisTime }, common.TimestampInvalid)
	check(func(b *types.Block) { b.Header.Timestamp += 3600 }, common.TimestampInvalid)
	check(func(b *types.Block) { b.Header.Slot = slot + 1 }, common.TimestampInvalid)

	// Wrong proposer for the slot.
	other := f.st.ProposerForSlot(slot + 1)
	check(func(b *types.Block) { b.Header.Proposer = other.Address }, common.ProposerMismatch)

	// Re-signed by the wrong key.
	otherKey := f.keys[other.Address]
	check(func(b *types.Block) {
		require.NoError(t, b.Sign(otherKey))
		// The header is left as built; only the signing key differs.
	}, common.InvalidSignature)
}

func TestReplayRejectsWrongStateRoot(t *testing.T) {
	f := newNetwork(t, 3)

	slot := uint64(2)
	designated := f.st.ProposerForSlot(slot)
	validator, err := NewValidator(f.keys[designated.Address])
	require.NoError(t, err)

	clock := fixedClock(genesisTime + int64(slot*5) + 1)
	proposer := NewProposer(validator, clock, common.NewTestEntry(t))

	block, _, _, err := proposer.BuildBlock(f.st, 0, f.gen.Hash(), slot, nil)
	require.NoError(t, err)

	block.Header.StateRoot = make([]byte, 32)

	replica := state.NewFromGenesis(f.gen)
	_, _, err = Replay(block, replica)
	require.True(t, common.IsCode(err, common.StateRootMismatch))
}

func TestObserverDoesNotOwnSlots(t *testing.T) {
	f := newNetwork(t, 2)

	// A key outside the validator set.
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	outsider, err := NewValidator(key)
	require.NoError(t, err)

	clock := fixedClock(genesisTime + 1)
	proposer := NewProposer(outsider, clock, common.NewTestEntry(t))

	for slot := uint64(0); slot < 6; slot++ {
		require.False(t, proposer.OwnsSlot(f.st, slot))
	}
}
