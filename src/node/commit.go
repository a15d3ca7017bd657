package node

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/consensus"
	"github.com/hashborn/computechain/src/economics"
	"github.com/hashborn/computechain/src/mempool"
	"github.com/hashborn/computechain/src/net"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
)

// maybePropose runs on the writer loop at a slot boundary.
func (n *Node) maybePropose() {
	if n.get() != Running || n.proposer == nil {
		return
	}
	if n.clock.BeforeGenesis() {
		return
	}

	slot := n.clock.CurrentSlot()
	if slot == n.lastProposedSlot && slot != 0 {
		return
	}

	st := n.st
	if !n.proposer.OwnsSlot(st, slot) {
		return
	}
	n.lastProposedSlot = slot

	height, tipHash := n.Tip()

	txs := n.pool.DrainForBlock(st, n.gen.Params.BlockGasLimit, n.gen.Params.MaxTxPerBlock)

	block, next, result, err := n.proposer.BuildBlock(st, height, tipHash, slot, txs)
	if err != nil {
		n.logger.WithError(err).Error("Block assembly failed")
		return
	}

	if err := n.commitBlock(block, next, result); err != nil {
		n.logger.WithError(err).Error("Commit of own block failed")
		return
	}

	n.trans.MarkSeen(block.Hex())
	n.trans.BroadcastBlock(block, "")
}

// commitBlock persists a block and installs its post-state. Runs on the
// writer loop only.
func (n *Node) commitBlock(block *types.Block, next *state.State, result *state.BlockResult) error {
	if err := n.blockStore.SetBlock(block); err != nil {
		return err
	}

	n.stateLock.Lock()
	n.st = next
	n.stateLock.Unlock()

	if n.stateDB != nil {
		if err := n.stateDB.Save(block.Header.Height, block.Hash(), next.Content()); err != nil {
			// A node that cannot persist state must not keep running on
			// divergent storage.
			n.logger.WithError(err).Fatal("State persistence failed")
		}
	}

	appliedIDs := make([]string, len(result.Applied))
	for i, tx := range result.Applied {
		appliedIDs[i] = tx.Hex()
	}
	n.pool.OnBlockApplied(appliedIDs, next)

	n.bus.PublishBlockCreated(block.Header.Height, block.Hex())
	for _, tx := range result.Applied {
		n.bus.PublishTxConfirmed(tx.Hex(), block.Header.Height, block.Hex())
	}
	for _, f := range result.Failed {
		n.bus.PublishTxFailed(f.Tx.Hex(), f.Err.Error())
	}

	n.tracker.Observe(economics.BlockStats{
		Height:   block.Header.Height,
		TxCount:  len(result.Applied),
		GasUsed:  result.GasUsed,
		Reward:   result.Minted,
		FeesPaid: result.FeesPaid,
		Time:     time.Unix(block.Header.Timestamp, 0),
	})

	n.logger.WithFields(logrus.Fields{
		"height": block.Header.Height,
		"hash":   block.Hex(),
		"txs":    len(result.Applied),
		"slot":   block.Header.Slot,
	}).Info("Block committed")

	n.maybeSnapshot(block, result)
	return nil
}

// maybeSnapshot archives state at the snapshot interval and at epoch
// boundaries. The content is extracted on the writer loop; compression and
// disk I/O run in the background.
func (n *Node) maybeSnapshot(block *types.Block, result *state.BlockResult) {
	interval := n.gen.Params.SnapshotIntervalBlocks
	if !(result.EpochChanged || (interval > 0 && block.Header.Height%interval == 0)) {
		return
	}

	content := n.st.Content()
	height := block.Header.Height
	hash := block.Hash()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.snapshots.Create(content, height, hash); err != nil {
			n.logger.WithError(err).Warn("Snapshot failed")
		}
	}()
}

// handleInbound dispatches one peer message. Read-only work happens here;
// mutations are forwarded to the writer loop.
func (n *Node) handleInbound(in net.Inbound) {
	switch in.Kind {
	case net.KindHello:
		n.submit(func() { n.considerSync(in.From, in.Hello.TipHeight) })

	case net.KindBlock:
		block := in.Block
		n.submit(func() { n.applyPeerBlock(block, in.From) })

	case net.KindTx:
		n.addTransaction(in.Tx, in.From)

	case net.KindGetBlocks:
		n.serveBlocks(in.From, in.GetBlocks)

	case net.KindBlocks:
		blocks := in.Blocks.Blocks
		n.submit(func() { n.applyBlockRange(blocks, in.From) })
	}
}

// addTransaction admits a transaction received by gossip and relays it on
// success. RPC submissions go through SubmitTransaction.
func (n *Node) addTransaction(tx *types.Transaction, from string) {
	res := n.pool.Insert(tx, n.State(), time.Now())
	switch res.Status {
	case mempool.Rejected:
		n.logger.WithFields(logrus.Fields{
			"tx":     tx.Hex(),
			"reason": res.Err,
		}).Debug("Transaction rejected")
	default:
		n.trans.BroadcastTx(tx, from)
	}
}

// SubmitTransaction is the RPC entry point. It returns the insertion
// outcome so the service can answer synchronously.
func (n *Node) SubmitTransaction(tx *types.Transaction) mempool.InsertResult {
	res := n.pool.Insert(tx, n.State(), time.Now())
	if res.Status != mempool.Rejected {
		n.trans.MarkSeen(tx.Hex())
		n.trans.BroadcastTx(tx, "")
	}
	return res
}

// applyPeerBlock validates, replays and commits a gossiped block. Runs on
// the writer loop.
func (n *Node) applyPeerBlock(block *types.Block, from string) {
	height, tipHash := n.Tip()

	switch {
	case block.Header.Height <= height:
		// Already have it; gossip echo.
		return
	case block.Header.Height > height+1:
		n.considerSync(from, block.Header.Height)
		return
	}

	parentTS := n.gen.GenesisTime
	if last := n.blockStore.LastBlock(); last != nil {
		parentTS = last.Header.Timestamp
	}

	if err := consensus.ValidateHeader(block, n.st, height, tipHash, parentTS, n.clock); err != nil {
		n.logger.WithFields(logrus.Fields{
			"height": block.Header.Height,
			"peer":   from,
			"error":  err,
		}).Warn("Rejected block")
		return
	}

	next, result, err := consensus.Replay(block, n.st)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"height": block.Header.Height,
			"peer":   from,
			"error":  err,
		}).Warn("Rejected block on replay")
		return
	}

	if err := n.commitBlock(block, next, result); err != nil {
		n.logger.WithError(err).Error("Commit of peer block failed")
		return
	}

	n.trans.BroadcastBlock(block, from)

	if n.syncActive && block.Header.Height >= n.syncingTo {
		n.syncActive = false
		n.set(Running)
	}
}

// considerSync requests a block range when a peer's tip is ahead. Runs on
// the writer loop.
func (n *Node) considerSync(peer string, peerTip uint64) {
	height, _ := n.Tip()
	if peerTip <= height {
		return
	}

	if n.syncActive && peerTip <= n.syncingTo {
		return
	}

	// Far behind: bootstrap from the newest local snapshot first, then
	// range-sync the remainder.
	if peerTip-height > n.conf.SnapshotSyncThreshold {
		if loaded, err := n.loadLatestSnapshot(height); err != nil {
			n.logger.WithError(err).Warn("Snapshot bootstrap failed")
		} else if loaded {
			height, _ = n.Tip()
		}
	}

	to := peerTip
	if max := height + uint64(n.conf.SyncBatch); to > max {
		to = max
	}

	n.set(Syncing)
	n.syncActive = true
	n.syncPeer = peer
	n.syncingTo = peerTip

	n.logger.WithFields(logrus.Fields{
		"peer": peer,
		"from": height + 1,
		"to":   to,
	}).Debug("Requesting blocks")

	if err := n.trans.Send(peer, net.KindGetBlocks, net.GetBlocks{From: height + 1, To: to}); err != nil {
		n.syncActive = false
		n.set(Running)
	}
}

// loadLatestSnapshot installs the newest local snapshot that is ahead of
// the current tip. Returns whether anything was installed.
func (n *Node) loadLatestSnapshot(tip uint64) (bool, error) {
	latest := n.snapshots.Latest()
	if latest <= tip {
		return false, nil
	}

	snap, err := n.snapshots.Load(latest)
	if err != nil {
		return false, err
	}

	restored := state.FromContent(n.gen.Params, snap.Content)

	if err := n.blockStore.ResetTo(snap.Height, snap.TipHash); err != nil {
		return false, err
	}

	n.stateLock.Lock()
	n.st = restored
	n.stateLock.Unlock()

	n.logger.WithField("height", snap.Height).Info("State restored from snapshot")
	return true, nil
}

// serveBlocks answers a GetBlocks request from the block store. Runs off
// the writer loop: the store is multi-reader.
func (n *Node) serveBlocks(to string, req *net.GetBlocks) {
	if req.To < req.From || req.To-req.From > uint64(n.conf.SyncBatch)*4 {
		return
	}

	var out []*types.Block
	for h := req.From; h <= req.To; h++ {
		block, err := n.blockStore.GetBlock(h)
		if err != nil {
			break
		}
		out = append(out, block)
	}

	if len(out) == 0 {
		return
	}
	n.trans.Send(to, net.KindBlocks, net.Blocks{Blocks: out})
}

// applyBlockRange applies a sync response in order. Runs on the writer
// loop.
func (n *Node) applyBlockRange(blocks []*types.Block, from string) {
	for _, block := range blocks {
		height, tipHash := n.Tip()
		if block.Header.Height <= height {
			continue
		}
		if block.Header.Height != height+1 {
			break
		}

		parentTS := n.gen.GenesisTime
		if last := n.blockStore.LastBlock(); last != nil {
			parentTS = last.Header.Timestamp
		}

		if err := consensus.ValidateHeader(block, n.st, height, tipHash, parentTS, n.clock); err != nil {
			n.logger.WithFields(logrus.Fields{
				"height": block.Header.Height,
				"error":  err,
			}).Warn("Rejected synced block")
			return
		}

		next, result, err := consensus.Replay(block, n.st)
		if err != nil {
			n.logger.WithError(err).Warn("Rejected synced block on replay")
			return
		}

		if err := n.commitBlock(block, next, result); err != nil {
			n.logger.WithError(err).Error("Commit of synced block failed")
			return
		}
	}

	height, _ := n.Tip()
	if n.syncActive && height < n.syncingTo {
		// Ask for the next batch.
		n.syncActive = false
		n.considerSync(from, n.syncingTo)
		return
	}

	if n.syncActive {
		n.syncActive = false
	}
	n.set(Running)
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func encodeHex(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}
