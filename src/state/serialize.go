package state

import (
	"sort"

	"github.com/hashborn/computechain/src/economics"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

// Content is the serializable form of the full state. Snapshots and the
// state database both persist this structure through the canonical codec.
type Content struct {
	Epoch         uint64
	LastSlot      uint64
	GenesisSupply types.Amount
	Counters      economics.Counters
	Accounts      []*types.Account
	Validators    []*types.Validator
}

// Content extracts a deep, sorted copy of the state.
func (s *State) Content() *Content {
	c := &Content{
		Epoch:         s.epoch,
		LastSlot:      s.lastSlot,
		GenesisSupply: s.genesisSupply,
		Counters:      s.counters.Copy(),
	}

	for _, addr := range s.sortedAccountAddrs() {
		c.Accounts = append(c.Accounts, s.accounts[addr].Copy())
	}
	for _, v := range s.sortedValidators() {
		c.Validators = append(c.Validators, v.Copy())
	}
	return c
}

// FromContent rebuilds a state from serialized content.
func FromContent(params genesis.Params, c *Content) *State {
	s := &State{
		params:        params,
		genesisSupply: c.GenesisSupply,
		accounts:      make(map[string]*types.Account, len(c.Accounts)),
		validators:    make(map[string]*types.Validator, len(c.Validators)),
		counters:      c.Counters.Copy(),
		epoch:         c.Epoch,
		lastSlot:      c.LastSlot,
	}
	for _, acc := range c.Accounts {
		s.accounts[acc.Address] = acc.Copy()
	}
	for _, v := range c.Validators {
		s.validators[v.Address] = v.Copy()
	}
	return s
}

// Accounts returns all accounts ordered by address (query path).
func (s *State) Accounts() []*types.Account {
	accs := make([]*types.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accs = append(accs, a)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].Address < accs[j].Address })
	return accs
}
