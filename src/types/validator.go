package types

import "sort"

// Metadata length bounds enforced by UPDATE_VALIDATOR.
const (
	MaxValidatorNameLen        = 64
	MaxValidatorWebsiteLen     = 128
	MaxValidatorDescriptionLen = 256
)

// ScoreDenom is the fixed-point denominator of uptime and performance
// scores: 1e6 micros = 1.0. Scores never touch floating point on a
// consensus path.
const ScoreDenom = 1000000

// Delegation is an individual delegator position on a validator. A
// (delegator, validator) pair has at most one record; amounts aggregate.
type Delegation struct {
	Delegator     string
	Amount        Amount
	CreatedHeight uint64
}

// Validator is keyed by its consensus address. The operator is the account
// that staked it.
type Validator struct {
	Address  string
	Operator string
	PubKey   []byte

	SelfStake      Amount
	TotalDelegated Amount
	// Power == SelfStake + TotalDelegated, maintained on every mutation.
	Power Amount

	CommissionBps uint32
	Name          string
	Website       string
	Description   string

	// Delegations are kept sorted by delegator address so that the state
	// leaf is canonical.
	Delegations []*Delegation

	// Performance counters, consensus-driven.
	BlocksProposed uint64
	BlocksExpected uint64
	// MissedBlocks counts consecutive missed proposals.
	MissedBlocks   uint64
	LastSeenHeight uint64
	// UptimeMicros and PerformanceMicros are fixed-point in [0, ScoreDenom].
	UptimeMicros      uint64
	PerformanceMicros uint64

	TotalPenalties    Amount
	JailCount         uint32
	JailedUntilHeight uint64
	IsActive          bool
	JoinedHeight      uint64
}

// Copy returns a deep copy.
func (v *Validator) Copy() *Validator {
	c := *v
	if v.PubKey != nil {
		c.PubKey = append([]byte(nil), v.PubKey...)
	}
	c.Delegations = make([]*Delegation, len(v.Delegations))
	for i, d := range v.Delegations {
		dc := *d
		c.Delegations[i] = &dc
	}
	return &c
}

// Jailed reports whether the validator is jailed at the given height.
func (v *Validator) Jailed(height uint64) bool {
	return v.JailedUntilHeight > height
}

// Delegation returns the record for delegator, or nil.
func (v *Validator) Delegation(delegator string) *Delegation {
	for _, d := range v.Delegations {
		if d.Delegator == delegator {
			return d
		}
	}
	return nil
}

// AddDelegation aggregates amount onto an existing record or inserts a new
// one, keeping the list sorted by delegator.
func (v *Validator) AddDelegation(delegator string, amount Amount, height uint64) {
	if d := v.Delegation(delegator); d != nil {
		d.Amount = d.Amount.Add(amount)
	} else {
		v.Delegations = append(v.Delegations, &Delegation{
			Delegator:     delegator,
			Amount:        amount,
			CreatedHeight: height,
		})
		sort.Slice(v.Delegations, func(i, j int) bool {
			return v.Delegations[i].Delegator < v.Delegations[j].Delegator
		})
	}
	v.TotalDelegated = v.TotalDelegated.Add(amount)
	v.Power = v.Power.Add(amount)
}

// RemoveDelegation drops the record for delegator entirely.
func (v *Validator) RemoveDelegation(delegator string) {
	for i, d := range v.Delegations {
		if d.Delegator == delegator {
			v.Delegations = append(v.Delegations[:i], v.Delegations[i+1:]...)
			return
		}
	}
}

// validatorLeaf is the per-validator contribution to the state root.
type validatorLeaf struct {
	Address           string
	Operator          string
	SelfStake         Amount
	TotalDelegated    Amount
	Power             Amount
	CommissionBps     uint32
	Delegations       []Delegation
	TotalPenalties    Amount
	JailCount         uint32
	JailedUntilHeight uint64
	IsActive          bool
}

// StateLeaf returns the canonical encoding hashed into the state root.
func (v *Validator) StateLeaf() []byte {
	dels := make([]Delegation, len(v.Delegations))
	for i, d := range v.Delegations {
		dels[i] = *d
	}
	return MustEncode(validatorLeaf{
		Address:           v.Address,
		Operator:          v.Operator,
		SelfStake:         v.SelfStake,
		TotalDelegated:    v.TotalDelegated,
		Power:             v.Power,
		CommissionBps:     v.CommissionBps,
		Delegations:       dels,
		TotalPenalties:    v.TotalPenalties,
		JailCount:         v.JailCount,
		JailedUntilHeight: v.JailedUntilHeight,
		IsActive:          v.IsActive,
	})
}
