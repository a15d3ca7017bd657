package snapshot

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/economics"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
)

func testContent(epoch uint64) *state.Content {
	return &state.Content{
		Epoch:         epoch,
		LastSlot:      epoch * 10,
		GenesisSupply: types.CPC(1000000),
		Counters: economics.Counters{
			TotalMinted: types.CPC(100),
			TotalBurned: types.CPC(3),
		},
		Accounts: []*types.Account{
			{Address: "cpc1alice", Balance: types.CPC(500), Nonce: 4},
			{Address: "cpc1bob", Balance: types.CPC(200), Nonce: 0},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir, err := ioutil.TempDir("", "computechain-snapshots")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	m, err := NewManager(dir, "cpc-test-1", 3, common.NewTestEntry(t))
	require.NoError(t, err)
	return m, dir
}

func TestCreateLoadRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	tip := crypto.SHA256([]byte("tip"))
	require.NoError(t, m.Create(testContent(2), 100, tip))

	snap, err := m.Load(100)
	require.NoError(t, err)

	require.Equal(t, uint64(100), snap.Height)
	require.Equal(t, tip, snap.TipHash)
	require.Equal(t, uint64(2), snap.Epoch)
	require.Len(t, snap.Content.Accounts, 2)
	require.Zero(t, snap.Content.Counters.TotalMinted.Cmp(types.CPC(100)))
}

func TestLoadDetectsTampering(t *testing.T) {
	m, dir := newTestManager(t)

	require.NoError(t, m.Create(testContent(1), 50, crypto.SHA256([]byte("tip"))))

	// Flip a byte in the archive.
	path := filepath.Join(dir, "snapshot_000000000050.cbor.gz")
	raw, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	require.NoError(t, ioutil.WriteFile(path, raw, 0644))

	_, err = m.Load(50)
	require.Error(t, err)
	require.True(t, common.IsCode(err, common.Malformed))
}

func TestRetention(t *testing.T) {
	m, _ := newTestManager(t)

	tip := crypto.SHA256([]byte("tip"))
	for h := uint64(10); h <= 60; h += 10 {
		require.NoError(t, m.Create(testContent(h/10), h, tip))
	}

	infos, err := m.List()
	require.NoError(t, err)
	// keep == 3
	require.Len(t, infos, 3)
	require.Equal(t, uint64(40), infos[0].Height)
	require.Equal(t, uint64(60), infos[2].Height)
	require.Equal(t, uint64(60), m.Latest())

	// Pruned snapshots are gone.
	_, err = m.Load(10)
	require.Error(t, err)
}

func TestLoadRefusesForeignNetwork(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, m.Create(testContent(1), 10, crypto.SHA256([]byte("tip"))))

	other, err := NewManager(dir, "cpc-other-net", 3, common.NewTestEntry(t))
	require.NoError(t, err)

	_, err = other.Load(10)
	require.True(t, common.IsCode(err, common.GenesisMismatch))
}
