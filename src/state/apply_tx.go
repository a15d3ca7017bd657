package state

import (
	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

// TxReceipt is the outcome of a successfully applied transaction. The fee
// has already been deducted from the sender; the block loop routes it
// between the proposer, the treasury and the burn counter.
type TxReceipt struct {
	GasUsed uint64
	Fee     types.Amount
}

// ApplyTransaction validates and applies a single transaction at the given
// height. On error the state is unchanged: all checks run before the first
// mutation of each branch.
func (s *State) ApplyTransaction(tx *types.Transaction, height uint64) (*TxReceipt, error) {
	if !tx.Type.Valid() {
		return nil, common.NewError(common.Malformed, "tx %s: unknown type", tx.Hex())
	}

	if err := tx.Verify(); err != nil {
		return nil, err
	}

	sender := s.accounts[tx.Sender]
	if sender == nil {
		// Inserted into the state only once the transaction succeeds.
		sender = types.NewAccount(tx.Sender)
	}

	if tx.Nonce != sender.Nonce {
		return nil, common.NewNonceError(sender.Nonce, tx.Nonce)
	}

	baseGas := types.BaseGas(tx.Type)
	if tx.GasLimit < baseGas {
		return nil, common.NewError(common.GasLimitTooLow, "tx %s: limit %d < base %d", tx.Hex(), tx.GasLimit, baseGas)
	}
	if tx.GasPrice < s.params.MinGasPrice {
		return nil, common.NewError(common.GasPriceTooLow, "tx %s: price %d < min %d", tx.Hex(), tx.GasPrice, s.params.MinGasPrice)
	}

	fee := types.NewAmount(baseGas).MulUint64(tx.GasPrice)

	// Unstake and Unjail move value out of the validator, not the balance;
	// the balance only needs to cover the fee (plus the flat unjail fee).
	required := fee
	switch tx.Type {
	case types.Unstake:
	case types.Unjail:
		required = required.Add(s.params.UnjailFee)
	case types.UpdateValidator, types.Undelegate, types.SubmitResult:
	default:
		required = required.Add(tx.Amount)
	}
	if sender.Balance.LT(required) {
		return nil, common.NewError(common.InsufficientFunds, "tx %s: have %s, need %s", tx.Hex(), sender.Balance, required)
	}

	var err error
	switch tx.Type {
	case types.Transfer:
		err = s.applyTransfer(tx, sender)
	case types.Stake:
		err = s.applyStake(tx, sender, height)
	case types.Unstake:
		err = s.applyUnstake(tx, sender, height)
	case types.UpdateValidator:
		err = s.applyUpdateValidator(tx, sender)
	case types.Delegate:
		err = s.applyDelegate(tx, sender, height)
	case types.Undelegate:
		err = s.applyUndelegate(tx, sender, height)
	case types.Unjail:
		err = s.applyUnjail(tx, sender)
	case types.SubmitResult:
		err = s.applySubmitResult(tx)
	}
	if err != nil {
		return nil, err
	}

	sender.Balance = sender.Balance.Sub(fee)
	sender.Nonce++
	if len(sender.PubKey) == 0 {
		sender.PubKey = append([]byte(nil), tx.PubKey...)
	}
	s.accounts[tx.Sender] = sender

	return &TxReceipt{GasUsed: baseGas, Fee: fee}, nil
}

func (s *State) applyTransfer(tx *types.Transaction, sender *types.Account) error {
	if tx.Recipient == "" {
		return common.NewError(common.Malformed, "tx %s: transfer without recipient", tx.Hex())
	}
	if tx.Amount.IsZero() {
		return common.NewError(common.InvalidAmount, "tx %s: zero transfer", tx.Hex())
	}

	sender.Balance = sender.Balance.Sub(tx.Amount)
	recipient := s.ensureAccount(tx.Recipient)
	recipient.Balance = recipient.Balance.Add(tx.Amount)
	return nil
}

func (s *State) applyStake(tx *types.Transaction, sender *types.Account, height uint64) error {
	if tx.Amount.IsZero() {
		return common.NewError(common.InvalidAmount, "tx %s: zero stake", tx.Hex())
	}

	consAddr, err := tx.ConsensusAddress()
	if err != nil {
		return err
	}

	v := s.validators[consAddr]
	if v != nil {
		if v.JailCount >= s.params.EjectionThresholdJails {
			return common.NewError(common.EjectionPermanent, "validator %s", consAddr)
		}
		v.SelfStake = v.SelfStake.Add(tx.Amount)
		v.Power = v.Power.Add(tx.Amount)
	} else {
		// A first stake creates the validator. It stays inactive until the
		// next epoch boundary admits it to the active set.
		v = &types.Validator{
			Address:       consAddr,
			Operator:      tx.Sender,
			PubKey:        append([]byte(nil), tx.PubKey...),
			SelfStake:     tx.Amount,
			Power:         tx.Amount,
			CommissionBps: DefaultCommissionBps,
			JoinedHeight:  height,
		}
		s.validators[consAddr] = v
	}

	sender.Balance = sender.Balance.Sub(tx.Amount)
	return nil
}

func (s *State) applyUnstake(tx *types.Transaction, sender *types.Account, height uint64) error {
	consAddr, err := tx.ConsensusAddress()
	if err != nil {
		return err
	}

	v := s.validators[consAddr]
	if v == nil {
		return common.NewError(common.UnknownValidator, "tx %s: %s", tx.Hex(), consAddr)
	}
	if v.Operator != tx.Sender {
		return common.NewError(common.NotOwner, "tx %s: %s", tx.Hex(), consAddr)
	}
	if tx.Amount.IsZero() || tx.Amount.GT(v.SelfStake) {
		return common.NewError(common.InvalidAmount, "tx %s: unstake %s > self stake %s", tx.Hex(), tx.Amount, v.SelfStake)
	}

	credit := tx.Amount
	if v.Jailed(height) {
		// Leaving while jailed costs a cut, which is burned.
		penalty := tx.Amount.MulBps(s.params.JailUnstakePenaltyBps)
		credit = tx.Amount.Sub(penalty)
		s.counters.Burn(penalty)
	}

	v.SelfStake = v.SelfStake.Sub(tx.Amount)
	v.Power = v.Power.Sub(tx.Amount)
	if v.Power.IsZero() {
		v.IsActive = false
	}

	sender.Balance = sender.Balance.Add(credit)
	return nil
}

func (s *State) applyUpdateValidator(tx *types.Transaction, sender *types.Account) error {
	consAddr, err := tx.ConsensusAddress()
	if err != nil {
		return err
	}

	v := s.validators[consAddr]
	if v == nil {
		return common.NewError(common.UnknownValidator, "tx %s: %s", tx.Hex(), consAddr)
	}
	if v.Operator != tx.Sender {
		return common.NewError(common.NotOwner, "tx %s: %s", tx.Hex(), consAddr)
	}

	var p types.UpdateValidatorPayload
	if err := tx.DecodePayload(&p); err != nil {
		return err
	}

	if p.Name != nil && len(*p.Name) > types.MaxValidatorNameLen {
		return common.NewError(common.MetadataTooLong, "name %d > %d", len(*p.Name), types.MaxValidatorNameLen)
	}
	if p.Website != nil && len(*p.Website) > types.MaxValidatorWebsiteLen {
		return common.NewError(common.MetadataTooLong, "website %d > %d", len(*p.Website), types.MaxValidatorWebsiteLen)
	}
	if p.Description != nil && len(*p.Description) > types.MaxValidatorDescriptionLen {
		return common.NewError(common.MetadataTooLong, "description %d > %d", len(*p.Description), types.MaxValidatorDescriptionLen)
	}
	if p.CommissionBps != nil && *p.CommissionBps > s.params.MaxCommissionBps {
		return common.NewError(common.InvalidCommission, "%d > max %d", *p.CommissionBps, s.params.MaxCommissionBps)
	}

	if p.Name != nil {
		v.Name = *p.Name
	}
	if p.Website != nil {
		v.Website = *p.Website
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
	if p.CommissionBps != nil {
		v.CommissionBps = *p.CommissionBps
	}
	return nil
}

func (s *State) applyDelegate(tx *types.Transaction, sender *types.Account, height uint64) error {
	var p types.DelegationPayload
	if err := tx.DecodePayload(&p); err != nil {
		return err
	}

	v := s.validators[p.Validator]
	if v == nil {
		return common.NewError(common.UnknownValidator, "tx %s: %s", tx.Hex(), p.Validator)
	}
	if v.JailCount >= s.params.EjectionThresholdJails {
		return common.NewError(common.EjectionPermanent, "validator %s", p.Validator)
	}
	if tx.Amount.LT(s.params.MinDelegation) {
		return common.NewError(common.MinDelegationNotMet, "tx %s: %s < %s", tx.Hex(), tx.Amount, s.params.MinDelegation)
	}

	if !sender.DelegatesTo(v.Address) &&
		len(sender.DelegationsOut) >= s.params.MaxValidatorsPerDelegator {
		return common.NewError(common.MaxValidatorsPerDelegatorExceeded, "tx %s: %d validators", tx.Hex(), len(sender.DelegationsOut))
	}

	// The power-share cap only binds once the network is large enough to
	// satisfy it: with fewer than ceil(1/share) validators every validator
	// necessarily exceeds the cap.
	minValidators := (types.BpsDenom + int(s.params.MaxValidatorPowerShareBps) - 1) / int(s.params.MaxValidatorPowerShareBps)
	if len(s.validators) >= minValidators {
		newPower := v.Power.Add(tx.Amount)
		newTotal := s.TotalStakedPower().Add(tx.Amount)
		if newPower.GT(newTotal.MulBps(s.params.MaxValidatorPowerShareBps)) {
			return common.NewError(common.MaxValidatorPowerShareExceeded, "tx %s: validator %s", tx.Hex(), v.Address)
		}
	}

	sender.Balance = sender.Balance.Sub(tx.Amount)
	v.AddDelegation(tx.Sender, tx.Amount, height)
	sender.AddDelegationOut(v.Address)
	return nil
}

func (s *State) applyUndelegate(tx *types.Transaction, sender *types.Account, height uint64) error {
	var p types.DelegationPayload
	if err := tx.DecodePayload(&p); err != nil {
		return err
	}

	v := s.validators[p.Validator]
	if v == nil {
		return common.NewError(common.UnknownValidator, "tx %s: %s", tx.Hex(), p.Validator)
	}

	d := v.Delegation(tx.Sender)
	if d == nil {
		return common.NewError(common.InvalidAmount, "tx %s: no delegation to %s", tx.Hex(), p.Validator)
	}
	if tx.Amount.IsZero() || tx.Amount.GT(d.Amount) {
		return common.NewError(common.InvalidAmount, "tx %s: undelegate %s > delegated %s", tx.Hex(), tx.Amount, d.Amount)
	}

	d.Amount = d.Amount.Sub(tx.Amount)
	if d.Amount.IsZero() {
		v.RemoveDelegation(tx.Sender)
		sender.RemoveDelegationOut(v.Address)
	}
	v.TotalDelegated = v.TotalDelegated.Sub(tx.Amount)
	v.Power = v.Power.Sub(tx.Amount)
	if v.Power.IsZero() {
		v.IsActive = false
	}

	// Tokens stay locked until the unbonding period elapses.
	sender.Unbonding = append(sender.Unbonding, types.UnbondingEntry{
		Validator:        v.Address,
		Amount:           tx.Amount,
		CompletionHeight: height + s.params.UnbondingBlocks,
	})
	sortUnbonding(sender)
	return nil
}

func (s *State) applyUnjail(tx *types.Transaction, sender *types.Account) error {
	consAddr, err := tx.ConsensusAddress()
	if err != nil {
		return err
	}

	v := s.validators[consAddr]
	if v == nil {
		return common.NewError(common.UnknownValidator, "tx %s: %s", tx.Hex(), consAddr)
	}
	if v.Operator != tx.Sender {
		return common.NewError(common.NotOwner, "tx %s: %s", tx.Hex(), consAddr)
	}
	if v.JailCount >= s.params.EjectionThresholdJails {
		return common.NewError(common.EjectionPermanent, "validator %s", consAddr)
	}
	if v.JailedUntilHeight == 0 {
		return common.NewError(common.NotJailed, "validator %s", consAddr)
	}

	sender.Balance = sender.Balance.Sub(s.params.UnjailFee)
	s.counters.Burn(s.params.UnjailFee)

	v.JailedUntilHeight = 0
	v.MissedBlocks = 0
	v.IsActive = true
	return nil
}

func (s *State) applySubmitResult(tx *types.Transaction) error {
	var res types.ComputeResult
	if err := tx.DecodePayload(&res); err != nil {
		return err
	}
	if res.Worker != tx.Sender {
		return common.NewError(common.Malformed, "tx %s: worker %s is not sender", tx.Hex(), res.Worker)
	}
	if len(res.ResultHash) != 32 || res.TaskID == "" {
		return common.NewError(common.Malformed, "tx %s: incomplete compute result", tx.Hex())
	}

	s.appendComputeResult(res)
	return nil
}

// sortUnbonding keeps an account's unbonding list ordered by completion
// height, ties by validator address.
func sortUnbonding(acc *types.Account) {
	list := acc.Unbonding
	for i := 1; i < len(list); i++ {
		for j := i; j > 0; j-- {
			a, b := list[j-1], list[j]
			if a.CompletionHeight < b.CompletionHeight ||
				(a.CompletionHeight == b.CompletionHeight && a.Validator <= b.Validator) {
				break
			}
			list[j-1], list[j] = list[j], list[j-1]
		}
	}
}
