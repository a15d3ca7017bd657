// Package node wires the ComputeChain components into a long-running
// process. State mutation is single-writer: one goroutine owns the state
// machine and the block store, and every other task submits its mutations
// through a command channel.
package node

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/config"
	"github.com/hashborn/computechain/src/consensus"
	"github.com/hashborn/computechain/src/economics"
	"github.com/hashborn/computechain/src/events"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/mempool"
	"github.com/hashborn/computechain/src/net"
	"github.com/hashborn/computechain/src/peers"
	"github.com/hashborn/computechain/src/snapshot"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/store"
)

// ttlSweepInterval is how often the mempool TTL sweeper runs.
const ttlSweepInterval = 30 * time.Second

// Node is a ComputeChain node.
type Node struct {
	runState

	conf   *config.Config
	logger *logrus.Entry

	gen       *genesis.Genesis
	validator *consensus.Validator
	clock     *consensus.SlotClock
	proposer  *consensus.Proposer

	blockStore store.BlockStore
	stateDB    *store.StateDB

	// st is the committed state. The writer goroutine replaces it; readers
	// take the read lock for a consistent view.
	st        *state.State
	stateLock sync.RWMutex

	pool      *mempool.Mempool
	bus       *events.Bus
	trans     *net.Transport
	peerSet   *peers.PeerSet
	jsonPeers *peers.JSONPeerSet
	snapshots *snapshot.Manager
	tracker   *economics.Tracker

	// commandCh serialises every state mutation through the writer loop.
	commandCh chan func()

	// lastProposedSlot stops the proposer timer from building twice in one
	// slot.
	lastProposedSlot uint64

	// syncing tracks an in-flight block-range request.
	syncPeer   string
	syncingTo  uint64
	syncActive bool

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	start      time.Time
}

// NewNode assembles a node from its parts.
func NewNode(
	conf *config.Config,
	gen *genesis.Genesis,
	validator *consensus.Validator,
	st *state.State,
	blockStore store.BlockStore,
	stateDB *store.StateDB,
	pool *mempool.Mempool,
	bus *events.Bus,
	peerSet *peers.PeerSet,
	jsonPeers *peers.JSONPeerSet,
	snapshots *snapshot.Manager,
	logger *logrus.Entry,
) *Node {

	clock := consensus.NewSlotClock(gen.GenesisTime, gen.Params.BlockTimeSeconds)

	n := &Node{
		conf:       conf,
		logger:     logger.WithField("prefix", "node"),
		gen:        gen,
		validator:  validator,
		clock:      clock,
		blockStore: blockStore,
		stateDB:    stateDB,
		st:         st,
		pool:       pool,
		bus:        bus,
		peerSet:    peerSet,
		jsonPeers:  jsonPeers,
		snapshots:  snapshots,
		tracker:    economics.NewTracker(120),
		commandCh:  make(chan func(), 64),
		sigintCh:   make(chan os.Signal, 1),
		shutdownCh: make(chan struct{}),
	}

	if validator != nil {
		n.proposer = consensus.NewProposer(validator, clock, logger)
	}

	validatorAddr := ""
	if validator != nil {
		validatorAddr = validator.ConsensusAddress()
	}

	n.trans = net.NewTransport(
		conf.BindAddr,
		conf.AdvertiseAddr,
		gen.NetworkID,
		gen.Hash(),
		validatorAddr,
		n,
		peerSet,
		conf.PeerIOTimeout,
		logger,
	)

	signal.Notify(n.sigintCh, os.Interrupt, syscall.SIGINT)

	return n
}

// Tip implements net.TipInfo.
func (n *Node) Tip() (uint64, []byte) {
	return n.blockStore.Height(), n.blockStore.TipHash()
}

// Init starts listening and dials the bootstrap peers.
func (n *Node) Init() error {
	if err := n.trans.Listen(); err != nil {
		return err
	}

	for _, p := range n.peerSet.Peers() {
		if err := n.trans.Dial(p.NetAddr); err != nil {
			n.logger.WithField("peer", p.NetAddr).WithError(err).Warn("Bootstrap dial failed")
		}
	}

	n.set(Running)
	n.start = time.Now()
	return nil
}

// RunAsync calls Run on a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// Run starts the background loops and blocks until shutdown.
func (n *Node) Run() {
	n.goLoop(n.writerLoop)
	n.goLoop(n.netLoop)
	n.goLoop(n.proposerLoop)
	n.goLoop(n.sweeperLoop)
	n.goLoop(n.keepAliveLoop)

	for {
		select {
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			n.Shutdown()
			return
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) goLoop(f func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		f()
	}()
}

// writerLoop is the single writer: every state or store mutation runs
// here.
func (n *Node) writerLoop() {
	for {
		select {
		case cmd := <-n.commandCh:
			cmd()
		case <-n.shutdownCh:
			return
		}
	}
}

// submit enqueues a mutation for the writer loop.
func (n *Node) submit(cmd func()) {
	select {
	case n.commandCh <- cmd:
	case <-n.shutdownCh:
	}
}

// proposerLoop wakes at every slot boundary and asks the writer to build a
// block when this node owns the slot.
func (n *Node) proposerLoop() {
	if n.proposer == nil {
		return
	}

	for {
		select {
		case <-time.After(n.clock.UntilNextSlot()):
			n.submit(n.maybePropose)
		case <-n.shutdownCh:
			return
		}
	}
}

// sweeperLoop runs the mempool TTL sweep.
func (n *Node) sweeperLoop() {
	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			n.pool.Tick(t)
		case <-n.shutdownCh:
			return
		}
	}
}

// keepAliveLoop pings peers so idle sessions survive the read deadline.
func (n *Node) keepAliveLoop() {
	ticker := time.NewTicker(n.conf.PeerIOTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.trans.PingAll()
		case <-n.shutdownCh:
			return
		}
	}
}

// netLoop dispatches inbound peer messages.
func (n *Node) netLoop() {
	for {
		select {
		case in := <-n.trans.Consumer():
			n.handleInbound(in)
		case <-n.shutdownCh:
			return
		}
	}
}

// State returns a read view of the committed state. Callers must not
// mutate it.
func (n *Node) State() *state.State {
	n.stateLock.RLock()
	defer n.stateLock.RUnlock()
	return n.st
}

// Mempool ...
func (n *Node) Mempool() *mempool.Mempool {
	return n.pool
}

// Bus ...
func (n *Node) Bus() *events.Bus {
	return n.bus
}

// Snapshots ...
func (n *Node) Snapshots() *snapshot.Manager {
	return n.snapshots
}

// Genesis ...
func (n *Node) Genesis() *genesis.Genesis {
	return n.gen
}

// Peers ...
func (n *Node) Peers() []*peers.Peer {
	return n.peerSet.Peers()
}

// Shutdown stops the node cooperatively: loops drain, a final snapshot is
// flushed, the stores close, then peer sessions end.
func (n *Node) Shutdown() {
	if n.get() == Shutdown {
		return
	}

	n.logger.Debug("Shutdown")
	n.set(Shutdown)
	close(n.shutdownCh)
	n.wg.Wait()

	// Final sweep and snapshot before closing.
	n.pool.Tick(time.Now())
	height, tipHash := n.Tip()
	if height > 0 {
		if err := n.snapshots.Create(n.State().Content(), height, tipHash); err != nil {
			n.logger.WithError(err).Warn("Final snapshot failed")
		}
	}
	if n.stateDB != nil {
		n.stateDB.Save(height, tipHash, n.State().Content())
		n.stateDB.Close()
	}

	if n.jsonPeers != nil {
		n.jsonPeers.Write(n.peerSet.Peers())
	}

	n.blockStore.Close()
	n.trans.Close()
}

// GetStats returns a flat stats map for the service and the log.
func (n *Node) GetStats() map[string]string {
	height, tipHash := n.Tip()
	blocks, txs, gas := n.tracker.Totals()

	st := n.State()

	return map[string]string{
		"state":        n.get().String(),
		"height":       itoa(height),
		"tip":          encodeHex(tipHash),
		"epoch":        itoa(st.Epoch()),
		"validators":   itoa(uint64(len(st.Validators()))),
		"active_set":   itoa(uint64(len(st.ActiveSet()))),
		"mempool_size": itoa(uint64(n.pool.Size())),
		"num_peers":    itoa(uint64(n.peerSet.Len())),
		"blocks_seen":  itoa(blocks),
		"txs_applied":  itoa(txs),
		"gas_used":     itoa(gas),
		"tps":          ftoa(n.tracker.TPS()),
		"total_minted": st.Counters().TotalMinted.String(),
		"total_burned": st.Counters().TotalBurned.String(),
		"uptime":       time.Since(n.start).Truncate(time.Second).String(),
	}
}
