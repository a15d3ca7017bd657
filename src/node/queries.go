package node

import (
	"sort"

	"github.com/hashborn/computechain/src/types"
)

// BlockByHeight ...
func (n *Node) BlockByHeight(height uint64) (*types.Block, error) {
	return n.blockStore.GetBlock(height)
}

// BlockByHash ...
func (n *Node) BlockByHash(hash []byte) (*types.Block, error) {
	return n.blockStore.GetBlockByHash(hash)
}

// Leaderboard returns all validators ordered by performance score
// descending, ties by power then address.
func (n *Node) Leaderboard() []*types.Validator {
	vals := n.State().Validators()

	sort.Slice(vals, func(i, j int) bool {
		a, b := vals[i], vals[j]
		if a.PerformanceMicros != b.PerformanceMicros {
			return a.PerformanceMicros > b.PerformanceMicros
		}
		if c := a.Power.Cmp(b.Power); c != 0 {
			return c > 0
		}
		return a.Address < b.Address
	})

	return vals
}
