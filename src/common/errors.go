package common

import "fmt"

// Code identifies a failure mode. Codes are stable across all components and
// are surfaced verbatim over RPC and the event stream.
type Code uint32

const (
	// Structural
	Malformed Code = iota
	EncodingError
	TooLarge

	// Cryptographic
	InvalidSignature
	UnknownKey

	// Protocol / state
	InvalidNonce
	InsufficientFunds
	UnknownValidator
	ValidatorExists
	InvalidAmount
	InvalidCommission
	MetadataTooLong
	MinDelegationNotMet
	MaxValidatorsPerDelegatorExceeded
	MaxValidatorPowerShareExceeded
	Jailed
	NotJailed
	EjectionPermanent
	NotOwner
	GasLimitTooLow
	GasPriceTooLow

	// Mempool
	DuplicateNonce
	Evicted
	Expired
	MempoolFull
	SenderLimitExceeded
	StaleNonce

	// Consensus
	HeightMismatch
	PrevHashMismatch
	ProposerMismatch
	StateRootMismatch
	ComputeRootMismatch
	TimestampInvalid
	GenesisMismatch

	// I/O
	Storage
	Network
	Timeout
)

var codeStrings = map[Code]string{
	Malformed:                         "malformed",
	EncodingError:                     "encoding error",
	TooLarge:                          "too large",
	InvalidSignature:                  "invalid signature",
	UnknownKey:                        "unknown key",
	InvalidNonce:                      "invalid nonce",
	InsufficientFunds:                 "insufficient funds",
	UnknownValidator:                  "unknown validator",
	ValidatorExists:                   "validator exists",
	InvalidAmount:                     "invalid amount",
	InvalidCommission:                 "invalid commission",
	MetadataTooLong:                   "metadata too long",
	MinDelegationNotMet:               "min delegation not met",
	MaxValidatorsPerDelegatorExceeded: "max validators per delegator exceeded",
	MaxValidatorPowerShareExceeded:    "max validator power share exceeded",
	Jailed:                            "jailed",
	NotJailed:                         "not jailed",
	EjectionPermanent:                 "ejection permanent",
	NotOwner:                          "not owner",
	GasLimitTooLow:                    "gas limit too low",
	GasPriceTooLow:                    "gas price too low",
	DuplicateNonce:                    "duplicate nonce",
	Evicted:                           "evicted",
	Expired:                           "expired",
	MempoolFull:                       "mempool full",
	SenderLimitExceeded:               "sender limit exceeded",
	StaleNonce:                        "stale nonce",
	HeightMismatch:                    "height mismatch",
	PrevHashMismatch:                  "prev hash mismatch",
	ProposerMismatch:                  "proposer mismatch",
	StateRootMismatch:                 "state root mismatch",
	ComputeRootMismatch:               "compute root mismatch",
	TimestampInvalid:                  "timestamp invalid",
	GenesisMismatch:                   "genesis mismatch",
	Storage:                           "storage",
	Network:                           "network",
	Timeout:                           "timeout",
}

// String ...
func (c Code) String() string {
	if s, ok := codeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// CodedError is the error type used across all components. It carries a
// stable Code and the identifiers relevant to the failure (tx hash, height,
// addresses), never private material.
type CodedError struct {
	Code   Code
	Detail string
}

// NewError creates a CodedError with a formatted detail string.
func NewError(code Code, format string, args ...interface{}) *CodedError {
	return &CodedError{
		Code:   code,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// IsCode checks that an error is a CodedError with the given code.
func IsCode(err error, code Code) bool {
	ce, ok := err.(*CodedError)
	return ok && ce.Code == code
}

// ErrCode extracts the Code from an error, or Malformed if the error is not
// a CodedError.
func ErrCode(err error) Code {
	if ce, ok := err.(*CodedError); ok {
		return ce.Code
	}
	return Malformed
}

// NonceError is an InvalidNonce carrying both the expected and received
// values. It is surfaced to the mempool and out to event subscribers so that
// clients can resynchronise their pending nonce.
type NonceError struct {
	Expected uint64
	Got      uint64
}

// NewNonceError ...
func NewNonceError(expected, got uint64) *NonceError {
	return &NonceError{Expected: expected, Got: got}
}

// Error implements the error interface.
func (e *NonceError) Error() string {
	return fmt.Sprintf("invalid nonce: expected %d, got %d", e.Expected, e.Got)
}

// IsNonceError ...
func IsNonceError(err error) (*NonceError, bool) {
	ne, ok := err.(*NonceError)
	return ne, ok
}
