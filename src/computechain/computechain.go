// Package computechain assembles a node from a Config: genesis, keys,
// stores, state, mempool, transport and service are built and wired here.
package computechain

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/config"
	"github.com/hashborn/computechain/src/consensus"
	"github.com/hashborn/computechain/src/crypto/keys"
	"github.com/hashborn/computechain/src/events"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/mempool"
	"github.com/hashborn/computechain/src/node"
	"github.com/hashborn/computechain/src/peers"
	"github.com/hashborn/computechain/src/service"
	"github.com/hashborn/computechain/src/snapshot"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/store"
)

// Engine is the top-level object: a configured node plus its HTTP service.
type Engine struct {
	Config *Config

	Node    *node.Node
	Service *service.Service

	logger *logrus.Entry
}

// Config wraps the node configuration.
type Config struct {
	config.Config
}

// NewDefaultConfig ...
func NewDefaultConfig() *Config {
	return &Config{Config: *config.NewDefaultConfig()}
}

// NewEngine ...
func NewEngine(conf *Config) *Engine {
	return &Engine{
		Config: conf,
		logger: conf.Logger(),
	}
}

// Init loads the genesis document, the validator key and the persisted
// chain, then builds the node. It must be called before Run.
func (e *Engine) Init() error {
	conf := &e.Config.Config

	gen, err := genesis.Load(conf.GenesisFile())
	if err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"network": gen.NetworkID,
		"genesis": common.EncodeToString(gen.Hash()),
	}).Info("Loaded genesis")

	var validator *consensus.Validator
	keyfile := keys.NewSimpleKeyfile(conf.Keyfile())
	if key, err := keyfile.ReadKey(); err == nil {
		validator, err = consensus.NewValidator(key)
		if err != nil {
			return err
		}
		conf.Key = key
		e.logger.WithField("validator", validator.ConsensusAddress()).Info("Validator key loaded")
	} else if !os.IsNotExist(err) {
		e.logger.WithError(err).Warn("Validator key not usable; running as observer")
	}

	var blockStore store.BlockStore
	var stateDB *store.StateDB

	if conf.Store {
		bs, err := store.LoadOrCreateBadgerStore(gen.Hash(), conf.BlocksDir())
		if err != nil {
			return err
		}
		blockStore = bs

		stateDB, err = store.OpenStateDB(conf.StateDir())
		if err != nil {
			return err
		}
	} else {
		blockStore = store.NewInmemStore(gen.Hash())
	}

	st := state.NewFromGenesis(gen)

	// A persisted state that matches the block store's tip short-circuits
	// replay on restart.
	if stateDB != nil {
		if height, tipHash, content, err := stateDB.Load(); err == nil {
			if height == blockStore.Height() && string(tipHash) == string(blockStore.TipHash()) {
				st = state.FromContent(gen.Params, content)
				e.logger.WithField("height", height).Info("State restored from state.db")
			} else {
				e.logger.WithFields(logrus.Fields{
					"state_height": height,
					"chain_height": blockStore.Height(),
				}).Warn("Persisted state does not match chain tip; replaying")
				replayed, err := replayChain(gen, blockStore)
				if err != nil {
					return err
				}
				st = replayed
			}
		} else if blockStore.Height() > 0 {
			replayed, err := replayChain(gen, blockStore)
			if err != nil {
				return err
			}
			st = replayed
		}
	}

	jsonPeers := peers.NewJSONPeerSet(conf.DataDir)
	peerSet, err := jsonPeers.PeerSet()
	if err != nil {
		return err
	}
	if conf.Join != "" {
		for _, addr := range strings.Split(conf.Join, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				peerSet.Add(peers.NewPeer(addr))
			}
		}
	}

	snapshots, err := snapshot.NewManager(conf.SnapshotsDir(), gen.NetworkID, gen.Params.SnapshotKeep, e.logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(e.logger)
	pool := mempool.New(gen.Params, bus, e.logger)

	e.Node = node.NewNode(conf, gen, validator, st, blockStore, stateDB, pool, bus, peerSet, jsonPeers, snapshots, e.logger)

	if !conf.NoService {
		e.Service = service.NewService(conf.ServiceAddr, e.Node, e.logger)
	}

	return e.Node.Init()
}

// Run starts the service and blocks in the node's run loop.
func (e *Engine) Run() {
	if e.Service != nil {
		go e.Service.Serve()
	}
	e.Node.Run()
}

// replayChain rebuilds state by applying every stored block from genesis.
func replayChain(gen *genesis.Genesis, blockStore store.BlockStore) (*state.State, error) {
	st := state.NewFromGenesis(gen)

	for h := uint64(1); h <= blockStore.Height(); h++ {
		block, err := blockStore.GetBlock(h)
		if err != nil {
			return nil, err
		}
		if _, err := st.ApplyBlock(block); err != nil {
			return nil, err
		}
	}
	return st, nil
}
