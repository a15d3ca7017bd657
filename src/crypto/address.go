package crypto

import (
	"github.com/btcsuite/btcutil/bech32"

	"github.com/hashborn/computechain/src/common"
)

// Address prefixes used in the domain. Account addresses and validator
// consensus addresses derive from a public key with different prefixes, so
// the two spaces never collide.
const (
	PrefixAccount   = "cpc"
	PrefixConsensus = "cpcvalcons"
)

// AddressFromPubKey derives a bech32 address from the uncompressed public
// key bytes: bech32(prefix, RIPEMD160(SHA256(pub))).
func AddressFromPubKey(pub []byte, prefix string) (string, error) {
	if len(pub) == 0 {
		return "", common.NewError(common.UnknownKey, "empty public key")
	}

	h20 := RIPEMD160(SHA256(pub))

	words, err := bech32.ConvertBits(h20, 8, 5, true)
	if err != nil {
		return "", common.NewError(common.EncodingError, "bech32 words: %v", err)
	}

	addr, err := bech32.Encode(prefix, words)
	if err != nil {
		return "", common.NewError(common.EncodingError, "bech32 encode: %v", err)
	}

	return addr, nil
}

// DecodeAddress decodes a bech32 address into its prefix and 20-byte
// payload.
func DecodeAddress(addr string) (string, []byte, error) {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return "", nil, common.NewError(common.Malformed, "bech32 decode: %v", err)
	}

	payload, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return "", nil, common.NewError(common.Malformed, "bech32 payload: %v", err)
	}

	return hrp, payload, nil
}

// ValidAddress reports whether addr is a well-formed bech32 address with the
// expected prefix. An empty expectedPrefix accepts any prefix.
func ValidAddress(addr string, expectedPrefix string) bool {
	hrp, _, err := DecodeAddress(addr)
	if err != nil {
		return false
	}
	return expectedPrefix == "" || hrp == expectedPrefix
}
