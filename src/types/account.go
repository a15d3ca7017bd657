package types

// UnbondingEntry is an amount released from a delegation or a slashed
// validator, locked until CompletionHeight.
type UnbondingEntry struct {
	Validator        string
	Amount           Amount
	CompletionHeight uint64
}

// RewardEntry records a reward distribution to an account. The history is
// append-only and serves the query path; only the credited totals are
// consensus-relevant.
type RewardEntry struct {
	Epoch  uint64
	Amount Amount
}

// Account is the ledger record of an address.
type Account struct {
	Address string
	Balance Amount
	// Nonce is the next expected sequence number.
	Nonce uint64
	// PubKey is cached from the first signed transaction.
	PubKey []byte
	// DelegationsOut lists the consensus addresses this account delegates
	// to. The amounts live on the validator side; this is the index used to
	// enforce the per-delegator validator limit.
	DelegationsOut []string
	// Unbonding is ordered by CompletionHeight.
	Unbonding     []UnbondingEntry
	RewardHistory []RewardEntry
}

// NewAccount ...
func NewAccount(address string) *Account {
	return &Account{Address: address}
}

// Copy returns a deep copy.
func (a *Account) Copy() *Account {
	c := &Account{
		Address: a.Address,
		Balance: a.Balance,
		Nonce:   a.Nonce,
	}
	if a.PubKey != nil {
		c.PubKey = append([]byte(nil), a.PubKey...)
	}
	c.DelegationsOut = append([]string(nil), a.DelegationsOut...)
	c.Unbonding = append([]UnbondingEntry(nil), a.Unbonding...)
	c.RewardHistory = append([]RewardEntry(nil), a.RewardHistory...)
	return c
}

// DelegatesTo reports whether the account has an active delegation to the
// given validator.
func (a *Account) DelegatesTo(validator string) bool {
	for _, v := range a.DelegationsOut {
		if v == validator {
			return true
		}
	}
	return false
}

// AddDelegationOut records validator in the delegation index if absent.
func (a *Account) AddDelegationOut(validator string) {
	if !a.DelegatesTo(validator) {
		a.DelegationsOut = append(a.DelegationsOut, validator)
	}
}

// RemoveDelegationOut drops validator from the delegation index.
func (a *Account) RemoveDelegationOut(validator string) {
	for i, v := range a.DelegationsOut {
		if v == validator {
			a.DelegationsOut = append(a.DelegationsOut[:i], a.DelegationsOut[i+1:]...)
			return
		}
	}
}

// stateLeaf is the per-account contribution to the state root.
type stateLeaf struct {
	Address   string
	Balance   Amount
	Nonce     uint64
	Unbonding []UnbondingEntry
}

// StateLeaf returns the canonical encoding hashed into the state root.
func (a *Account) StateLeaf() []byte {
	return MustEncode(stateLeaf{
		Address:   a.Address,
		Balance:   a.Balance,
		Nonce:     a.Nonce,
		Unbonding: a.Unbonding,
	})
}
