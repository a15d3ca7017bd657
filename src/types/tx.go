package types

import (
	"crypto/ecdsa"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
)

// TxType enumerates the closed set of transaction kinds.
type TxType uint8

const (
	// Transfer moves amount from sender to recipient.
	Transfer TxType = iota + 1
	// Stake creates a validator or adds to its self-stake.
	Stake
	// Unstake moves amount from self-stake back to the sender.
	Unstake
	// UpdateValidator sets validator metadata and commission.
	UpdateValidator
	// Delegate moves amount from the sender to a validator's delegations.
	Delegate
	// Undelegate moves amount into the sender's unbonding queue.
	Undelegate
	// Unjail clears a jail early against a flat fee.
	Unjail
	// SubmitResult records a compute-result commitment from the miner pool.
	SubmitResult
)

// String ...
func (t TxType) String() string {
	switch t {
	case Transfer:
		return "TRANSFER"
	case Stake:
		return "STAKE"
	case Unstake:
		return "UNSTAKE"
	case UpdateValidator:
		return "UPDATE_VALIDATOR"
	case Delegate:
		return "DELEGATE"
	case Undelegate:
		return "UNDELEGATE"
	case Unjail:
		return "UNJAIL"
	case SubmitResult:
		return "SUBMIT_RESULT"
	}
	return "UNKNOWN"
}

// BaseGas returns the base gas cost of a transaction kind. There is no
// metered execution beyond the base cost.
func BaseGas(t TxType) uint64 {
	switch t {
	case Transfer:
		return 21000
	case Stake:
		return 40000
	case Unstake:
		return 40000
	case UpdateValidator:
		return 30000
	case Delegate:
		return 35000
	case Undelegate:
		return 35000
	case Unjail:
		return 50000
	case SubmitResult:
		return 80000
	}
	return 0
}

// Valid reports whether t is a known kind.
func (t TxType) Valid() bool {
	return t >= Transfer && t <= SubmitResult
}

// Transaction is the envelope common to every kind. The canonical encoding
// of the unsigned fields produces the 32-byte hash that is both the signing
// message and the transaction id.
type Transaction struct {
	Type      TxType
	Sender    string
	Recipient string
	Amount    Amount
	Nonce     uint64
	GasLimit  uint64
	GasPrice  uint64
	Payload   []byte
	PubKey    []byte
	Signature string

	hash []byte
	hex  string
}

// signingEnvelope is the unsigned projection of a transaction.
type signingEnvelope struct {
	Type      TxType
	Sender    string
	Recipient string
	Amount    Amount
	Nonce     uint64
	GasLimit  uint64
	GasPrice  uint64
	Payload   []byte
	PubKey    []byte
}

// Hash returns the 32-byte transaction id. It is cached after the first
// call; a transaction must not be mutated afterwards.
func (tx *Transaction) Hash() []byte {
	if len(tx.hash) == 0 {
		env := signingEnvelope{
			Type:      tx.Type,
			Sender:    tx.Sender,
			Recipient: tx.Recipient,
			Amount:    tx.Amount,
			Nonce:     tx.Nonce,
			GasLimit:  tx.GasLimit,
			GasPrice:  tx.GasPrice,
			Payload:   tx.Payload,
			PubKey:    tx.PubKey,
		}
		tx.hash = crypto.SHA256(MustEncode(env))
	}
	return tx.hash
}

// Hex returns the 0x-prefixed hex representation of the transaction id.
func (tx *Transaction) Hex() string {
	if tx.hex == "" {
		tx.hex = common.EncodeToString(tx.Hash())
	}
	return tx.hex
}

// Sign signs the transaction hash with the given key and sets PubKey and
// Signature.
func (tx *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	tx.PubKey = keys.FromPublicKey(&priv.PublicKey)
	tx.hash = nil
	tx.hex = ""
	sig, err := keys.SignHash(priv, tx.Hash())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Verify checks the signature against the embedded public key and checks
// that the sender address derives from that key.
func (tx *Transaction) Verify() error {
	if len(tx.PubKey) == 0 || tx.Signature == "" {
		return common.NewError(common.InvalidSignature, "missing signature or pubkey on tx %s", tx.Hex())
	}

	derived, err := crypto.AddressFromPubKey(tx.PubKey, crypto.PrefixAccount)
	if err != nil {
		return common.NewError(common.UnknownKey, "tx %s: %v", tx.Hex(), err)
	}
	if derived != tx.Sender {
		return common.NewError(common.InvalidSignature, "tx %s: pubkey does not derive sender", tx.Hex())
	}

	pub := keys.ToPublicKey(tx.PubKey)
	if pub == nil {
		return common.NewError(common.UnknownKey, "tx %s: malformed pubkey", tx.Hex())
	}
	if !keys.VerifyHash(pub, tx.Hash(), tx.Signature) {
		return common.NewError(common.InvalidSignature, "tx %s", tx.Hex())
	}
	return nil
}

// ConsensusAddress derives the validator consensus address controlled by
// this transaction's key. Stake, Unstake, UpdateValidator and Unjail all
// address the validator this way.
func (tx *Transaction) ConsensusAddress() (string, error) {
	return crypto.AddressFromPubKey(tx.PubKey, crypto.PrefixConsensus)
}

// UpdateValidatorPayload carries the optional metadata fields of an
// UPDATE_VALIDATOR transaction. Nil fields are left unchanged.
type UpdateValidatorPayload struct {
	Name          *string
	Website       *string
	Description   *string
	CommissionBps *uint32
}

// DelegationPayload names the target validator of DELEGATE and UNDELEGATE.
type DelegationPayload struct {
	Validator string
}

// ComputeResult is the commitment recorded by a SUBMIT_RESULT transaction.
// The GPU attestation pipeline that produces it is outside the chain; the
// chain records the commitment and pays the miner pool by weight.
type ComputeResult struct {
	TaskID     string
	ResultHash []byte
	// WeightPPM is the verified miner weight in parts per million.
	WeightPPM uint64
	Worker    string
}

// DecodePayload decodes the kind-specific payload into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(tx.Payload) == 0 {
		return common.NewError(common.Malformed, "tx %s: empty payload", tx.Hex())
	}
	return Decode(tx.Payload, out)
}
