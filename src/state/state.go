// Package state implements the deterministic ComputeChain state machine:
// accounts, validators, delegations, unbonding, rewards, slashing and the
// canonical state root. It is purely computational; a single writer owns it
// and all I/O happens elsewhere.
package state

import (
	"math/big"
	"sort"

	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/economics"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

// maxComputeLog bounds the in-memory log of recent compute results kept for
// the query path.
const maxComputeLog = 1024

// State is the replicated world state. It is NOT safe for concurrent use;
// the node serialises access through its writer loop.
type State struct {
	params        genesis.Params
	genesisSupply types.Amount

	accounts   map[string]*types.Account
	validators map[string]*types.Validator

	counters economics.Counters
	epoch    uint64

	// lastSlot is the slot of the last applied block, used to account
	// missed proposals in the covered slot range.
	lastSlot uint64

	computeLog []types.ComputeResult
}

// NewFromGenesis builds the height-0 state.
func NewFromGenesis(g *genesis.Genesis) *State {
	s := &State{
		params:        g.Params,
		genesisSupply: g.Supply(),
		accounts:      make(map[string]*types.Account),
		validators:    make(map[string]*types.Validator),
	}

	s.accounts[genesis.TreasuryAddress] = types.NewAccount(genesis.TreasuryAddress)

	for _, ia := range g.InitialAccounts {
		acc := types.NewAccount(ia.Address)
		acc.Balance = ia.Balance
		if len(ia.PubKey) > 0 {
			acc.PubKey = append([]byte(nil), ia.PubKey...)
		}
		s.accounts[ia.Address] = acc
	}

	for _, iv := range g.InitialValidators {
		v := &types.Validator{
			Address:       iv.ConsensusAddr,
			Operator:      iv.OperatorAddr,
			PubKey:        append([]byte(nil), iv.PubKey...),
			SelfStake:     iv.SelfStake,
			Power:         iv.SelfStake,
			CommissionBps: DefaultCommissionBps,
			Name:          iv.Name,
			IsActive:      iv.SelfStake.GTE(g.Params.MinValidatorStake),
		}
		s.validators[iv.ConsensusAddr] = v
		if _, ok := s.accounts[iv.OperatorAddr]; !ok {
			s.accounts[iv.OperatorAddr] = types.NewAccount(iv.OperatorAddr)
		}
	}

	return s
}

// DefaultCommissionBps is the commission assigned to newly created
// validators until they set their own.
const DefaultCommissionBps uint32 = 1000

// Params ...
func (s *State) Params() genesis.Params {
	return s.params
}

// Epoch returns the current epoch index.
func (s *State) Epoch() uint64 {
	return s.epoch
}

// Counters returns the economic totals.
func (s *State) Counters() economics.Counters {
	return s.counters.Copy()
}

// GenesisSupply ...
func (s *State) GenesisSupply() types.Amount {
	return s.genesisSupply
}

// Clone returns a deep copy. The proposer applies candidate transactions to
// a clone and discards it if block assembly fails.
func (s *State) Clone() *State {
	c := &State{
		params:        s.params,
		genesisSupply: s.genesisSupply,
		accounts:      make(map[string]*types.Account, len(s.accounts)),
		validators:    make(map[string]*types.Validator, len(s.validators)),
		counters:      s.counters.Copy(),
		epoch:         s.epoch,
		lastSlot:      s.lastSlot,
	}
	for addr, acc := range s.accounts {
		c.accounts[addr] = acc.Copy()
	}
	for addr, v := range s.validators {
		c.validators[addr] = v.Copy()
	}
	c.computeLog = append([]types.ComputeResult(nil), s.computeLog...)
	return c
}

// Account returns the account for addr, or nil if it has never been seen.
func (s *State) Account(addr string) *types.Account {
	return s.accounts[addr]
}

// ensureAccount returns the account for addr, creating it if necessary.
func (s *State) ensureAccount(addr string) *types.Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = types.NewAccount(addr)
		s.accounts[addr] = acc
	}
	return acc
}

// Nonce returns the state nonce of addr (0 for unknown accounts).
func (s *State) Nonce(addr string) uint64 {
	if acc := s.accounts[addr]; acc != nil {
		return acc.Nonce
	}
	return 0
}

// Validator returns the validator with the given consensus address, or nil.
func (s *State) Validator(addr string) *types.Validator {
	return s.validators[addr]
}

// ValidatorByOperator returns the validator operated by the given account
// address, or nil.
func (s *State) ValidatorByOperator(operator string) *types.Validator {
	for _, v := range s.sortedValidators() {
		if v.Operator == operator {
			return v
		}
	}
	return nil
}

// sortedValidators returns all validators ordered by consensus address.
func (s *State) sortedValidators() []*types.Validator {
	vals := make([]*types.Validator, 0, len(s.validators))
	for _, v := range s.validators {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].Address < vals[j].Address })
	return vals
}

// Validators returns all validators ordered by consensus address.
func (s *State) Validators() []*types.Validator {
	return s.sortedValidators()
}

// ActiveSet returns the active validators in canonical order (consensus
// address ascending). The slot-to-proposer mapping indexes into this list.
func (s *State) ActiveSet() []*types.Validator {
	var active []*types.Validator
	for _, v := range s.sortedValidators() {
		if v.IsActive {
			active = append(active, v)
		}
	}
	return active
}

// ProposerForSlot maps a slot to its designated proposer over the current
// active set. Returns nil when the active set is empty.
func (s *State) ProposerForSlot(slot uint64) *types.Validator {
	active := s.ActiveSet()
	if len(active) == 0 {
		return nil
	}
	return active[slot%uint64(len(active))]
}

// TotalStakedPower sums the power of every validator.
func (s *State) TotalStakedPower() types.Amount {
	total := types.ZeroAmount()
	for _, v := range s.validators {
		total = total.Add(v.Power)
	}
	return total
}

// totalActivePower sums the power of the active set.
func (s *State) totalActivePower() types.Amount {
	total := types.ZeroAmount()
	for _, v := range s.validators {
		if v.IsActive {
			total = total.Add(v.Power)
		}
	}
	return total
}

// ComputeLog returns the recent compute-result commitments.
func (s *State) ComputeLog() []types.ComputeResult {
	return append([]types.ComputeResult(nil), s.computeLog...)
}

// appendComputeResult records a commitment, bounding the log.
func (s *State) appendComputeResult(res types.ComputeResult) {
	s.computeLog = append(s.computeLog, res)
	if len(s.computeLog) > maxComputeLog {
		s.computeLog = s.computeLog[len(s.computeLog)-maxComputeLog:]
	}
}

// epochLeaf contributes the epoch index to the state root.
type epochLeaf struct {
	Epoch uint64
}

// Root computes the canonical state root: a Merkle root over the sorted
// validator leaves, the sorted account leaves, the economic counters and
// the epoch index. It is a pure function of the committed state.
func (s *State) Root() []byte {
	var leaves [][]byte

	for _, v := range s.sortedValidators() {
		leaves = append(leaves, crypto.SHA256(v.StateLeaf()))
	}

	addrs := make([]string, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		leaves = append(leaves, crypto.SHA256(s.accounts[addr].StateLeaf()))
	}

	leaves = append(leaves, crypto.SHA256(s.counters.StateLeaf()))
	leaves = append(leaves, crypto.SHA256(types.MustEncode(epochLeaf{Epoch: s.epoch})))

	return crypto.MerkleRoot(leaves)
}

// scoreRatioMicros returns floor(num/den * 1e6) clamped to [0, 1e6],
// computed in integer arithmetic.
func scoreRatioMicros(num, den *big.Int) uint64 {
	if den.Sign() == 0 {
		return 0
	}
	r := new(big.Int).Mul(num, big.NewInt(types.ScoreDenom))
	r.Div(r, den)
	if !r.IsUint64() || r.Uint64() > types.ScoreDenom {
		return types.ScoreDenom
	}
	return r.Uint64()
}
