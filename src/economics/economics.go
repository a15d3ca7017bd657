// Package economics tracks the token flows of the chain: everything ever
// minted, everything ever burned, and per-block throughput aggregates. The
// scalar counters are consensus-relevant and contribute to the state root;
// the throughput metrics are local observability.
package economics

import (
	"sync"
	"time"

	"github.com/hashborn/computechain/src/types"
)

// Counters are the deterministic economic totals. They are part of the
// replicated state and hashed into the state root, so every node must
// update them identically.
type Counters struct {
	TotalMinted types.Amount
	TotalBurned types.Amount
}

// Mint adds to the minted total.
func (c *Counters) Mint(a types.Amount) {
	c.TotalMinted = c.TotalMinted.Add(a)
}

// Burn adds to the burned total.
func (c *Counters) Burn(a types.Amount) {
	c.TotalBurned = c.TotalBurned.Add(a)
}

// Copy ...
func (c *Counters) Copy() Counters {
	return Counters{TotalMinted: c.TotalMinted, TotalBurned: c.TotalBurned}
}

// StateLeaf returns the canonical encoding hashed into the state root.
func (c Counters) StateLeaf() []byte {
	return types.MustEncode(c)
}

// BlockStats is the per-block aggregate recorded by the tracker.
type BlockStats struct {
	Height   uint64
	TxCount  int
	GasUsed  uint64
	Reward   types.Amount
	FeesPaid types.Amount
	Time     time.Time
}

// Tracker accumulates local throughput metrics. It is safe for concurrent
// use and deliberately kept out of consensus.
type Tracker struct {
	sync.Mutex

	totalBlocks uint64
	totalTxs    uint64
	totalGas    uint64

	// ring of recent block stats for the rolling TPS window
	window []BlockStats
	size   int
}

// NewTracker creates a tracker with a rolling window of size blocks.
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = 100
	}
	return &Tracker{size: size}
}

// Observe records a block's aggregates.
func (t *Tracker) Observe(s BlockStats) {
	t.Lock()
	defer t.Unlock()

	t.totalBlocks++
	t.totalTxs += uint64(s.TxCount)
	t.totalGas += s.GasUsed

	t.window = append(t.window, s)
	if len(t.window) > t.size {
		t.window = t.window[1:]
	}
}

// TPS returns transactions per second over the rolling window.
func (t *Tracker) TPS() float64 {
	t.Lock()
	defer t.Unlock()

	if len(t.window) < 2 {
		return 0
	}

	first := t.window[0]
	last := t.window[len(t.window)-1]
	elapsed := last.Time.Sub(first.Time).Seconds()
	if elapsed <= 0 {
		return 0
	}

	var txs uint64
	for _, s := range t.window[1:] {
		txs += uint64(s.TxCount)
	}
	return float64(txs) / elapsed
}

// Totals returns lifetime block, tx and gas counts.
func (t *Tracker) Totals() (blocks, txs, gas uint64) {
	t.Lock()
	defer t.Unlock()
	return t.totalBlocks, t.totalTxs, t.totalGas
}
