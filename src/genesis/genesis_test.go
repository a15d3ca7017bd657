package genesis

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/types"
)

func testDoc() *Genesis {
	return &Genesis{
		NetworkID:   "cpc-test-1",
		GenesisTime: 1700000000,
		Params:      DefaultParams(),
		InitialAccounts: []InitialAccount{
			{Address: "cpc1alice", Balance: types.CPC(1000)},
			{Address: "cpc1bob", Balance: types.CPC(500)},
		},
	}
}

func TestHashIgnoresListOrder(t *testing.T) {
	a := testDoc()

	b := testDoc()
	b.InitialAccounts[0], b.InitialAccounts[1] = b.InitialAccounts[1], b.InitialAccounts[0]

	require.Equal(t, a.Hash(), b.Hash())
}

func TestHashCoversEverything(t *testing.T) {
	a := testDoc()

	b := testDoc()
	b.Params.BlockReward = types.CPC(11)
	require.NotEqual(t, a.Hash(), b.Hash())

	c := testDoc()
	c.GenesisTime++
	require.NotEqual(t, a.Hash(), c.Hash())

	d := testDoc()
	d.InitialAccounts[0].Balance = types.CPC(1001)
	require.NotEqual(t, a.Hash(), d.Hash())
}

func TestSupply(t *testing.T) {
	g := testDoc()
	require.Zero(t, g.Supply().Cmp(types.CPC(1500)))
}

func TestFileRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "computechain-genesis")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	g := testDoc()
	path := filepath.Join(dir, "genesis.json")
	require.NoError(t, g.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, g.Hash(), loaded.Hash())
	require.Equal(t, g.NetworkID, loaded.NetworkID)
	require.Zero(t, loaded.Params.MinValidatorStake.Cmp(g.Params.MinValidatorStake))
}

func TestValidateRejectsBadDocs(t *testing.T) {
	g := testDoc()
	g.NetworkID = ""
	require.Error(t, g.Validate())

	g = testDoc()
	g.Params.BlockTimeSeconds = 0
	require.Error(t, g.Validate())

	g = testDoc()
	g.Params.ValidatorFeeBps = 9000
	g.Params.TreasuryFeeBps = 2000
	require.Error(t, g.Validate())

	g = testDoc()
	g.InitialValidators = []InitialValidator{
		{ConsensusAddr: "not-bech32", OperatorAddr: "cpc1alice"},
	}
	require.Error(t, g.Validate())
}
