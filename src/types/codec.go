package types

import (
	"github.com/ugorji/go/codec"

	"github.com/hashborn/computechain/src/common"
)

// cbor is the single canonical handle used for every consensus-relevant
// encoding. Canonical mode makes map keys and struct fields come out in a
// stable order, so encode(x) is a pure function of x and never depends on
// map iteration order.
var cbor *codec.CborHandle

func init() {
	cbor = new(codec.CborHandle)
	cbor.Canonical = true
}

// Encode returns the canonical byte encoding of v. All hashing in the
// system feeds this encoding.
func Encode(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cbor)
	if err := enc.Encode(v); err != nil {
		return nil, common.NewError(common.EncodingError, "encode: %v", err)
	}
	return buf, nil
}

// Decode parses a canonical encoding produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, cbor)
	if err := dec.Decode(v); err != nil {
		return common.NewError(common.EncodingError, "decode: %v", err)
	}
	return nil
}

// MustEncode is Encode for values that cannot fail (our own types). It
// panics only on a programming error, never on user input.
func MustEncode(v interface{}) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}
