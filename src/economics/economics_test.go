package economics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/types"
)

func TestCounters(t *testing.T) {
	var c Counters

	c.Mint(types.CPC(10))
	c.Mint(types.CPC(5))
	c.Burn(types.CPC(3))

	require.Zero(t, c.TotalMinted.Cmp(types.CPC(15)))
	require.Zero(t, c.TotalBurned.Cmp(types.CPC(3)))

	// Copies are independent.
	cp := c.Copy()
	cp.Burn(types.CPC(1))
	require.Zero(t, c.TotalBurned.Cmp(types.CPC(3)))

	// The leaf is deterministic.
	require.Equal(t, c.StateLeaf(), c.Copy().StateLeaf())
}

func TestTrackerTPS(t *testing.T) {
	tr := NewTracker(10)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		tr.Observe(BlockStats{
			Height:  uint64(i + 1),
			TxCount: 10,
			GasUsed: 210000,
			Time:    base.Add(time.Duration(i*5) * time.Second),
		})
	}

	// 40 txs over 20 seconds.
	require.InDelta(t, 2.0, tr.TPS(), 0.001)

	blocks, txs, gas := tr.Totals()
	require.Equal(t, uint64(5), blocks)
	require.Equal(t, uint64(50), txs)
	require.Equal(t, uint64(5*210000), gas)
}

func TestTrackerWindowBound(t *testing.T) {
	tr := NewTracker(3)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 10; i++ {
		tr.Observe(BlockStats{Height: uint64(i), TxCount: 1, Time: base.Add(time.Duration(i) * time.Second)})
	}

	// Window holds the last 3 blocks: 2 txs over 2 seconds.
	require.InDelta(t, 1.0, tr.TPS(), 0.001)
}

func TestTPSEmptyWindow(t *testing.T) {
	tr := NewTracker(5)
	require.Zero(t, tr.TPS())

	tr.Observe(BlockStats{Height: 1, TxCount: 3, Time: time.Unix(1700000000, 0)})
	require.Zero(t, tr.TPS())
}
