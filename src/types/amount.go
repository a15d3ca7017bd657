package types

import (
	"fmt"
	"math/big"

	"github.com/ugorji/go/codec"
)

// Decimals is the number of decimal places of the base denomination.
// 10^18 base units = 1 CPC.
const Decimals = 18

// oneCPC = 10^18
var oneCPC = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Amount is a non-negative 256-bit token amount in base units. The zero
// value is 0. Amounts are immutable: arithmetic returns new values.
//
// On the wire and in hashes an Amount is its decimal string, which is
// canonical and round-trip stable.
type Amount struct {
	v *big.Int
}

// ZeroAmount ...
func ZeroAmount() Amount {
	return Amount{}
}

// NewAmount returns an Amount of n base units.
func NewAmount(n uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(n)}
}

// CPC returns an Amount of n whole CPC.
func CPC(n uint64) Amount {
	return Amount{v: new(big.Int).Mul(new(big.Int).SetUint64(n), oneCPC)}
}

// AmountFromBig copies b into an Amount. Negative values are rejected.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("negative amount %s", b)
	}
	return Amount{v: new(big.Int).Set(b)}, nil
}

// AmountFromString parses a decimal string.
func AmountFromString(s string) (Amount, error) {
	if s == "" {
		return Amount{}, nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("malformed amount %q", s)
	}
	return AmountFromBig(b)
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// String renders the amount in decimal base units.
func (a Amount) String() string {
	return a.big().Text(10)
}

// IsZero ...
func (a Amount) IsZero() bool {
	return a.big().Sign() == 0
}

// Cmp compares a and b: -1, 0, +1.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// LT ...
func (a Amount) LT(b Amount) bool { return a.Cmp(b) < 0 }

// GT ...
func (a Amount) GT(b Amount) bool { return a.Cmp(b) > 0 }

// GTE ...
func (a Amount) GTE(b Amount) bool { return a.Cmp(b) >= 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a - b. It panics if the result would be negative; callers
// must check balances before subtracting.
func (a Amount) Sub(b Amount) Amount {
	r := new(big.Int).Sub(a.big(), b.big())
	if r.Sign() < 0 {
		panic(fmt.Sprintf("amount underflow: %s - %s", a, b))
	}
	return Amount{v: r}
}

// MulUint64 returns a * n.
func (a Amount) MulUint64(n uint64) Amount {
	return Amount{v: new(big.Int).Mul(a.big(), new(big.Int).SetUint64(n))}
}

// MulDiv returns floor(a * num / den). den must be non-zero. Reward and
// slashing arithmetic uses MulDiv, MulBps and MulDivBig, all of which round
// down.
func (a Amount) MulDiv(num, den uint64) Amount {
	if den == 0 {
		panic("MulDiv: zero denominator")
	}
	r := new(big.Int).Mul(a.big(), new(big.Int).SetUint64(num))
	r.Div(r, new(big.Int).SetUint64(den))
	return Amount{v: r}
}

// MulDivBig returns floor(a * num / den) for big denominators such as total
// staked power.
func (a Amount) MulDivBig(num, den *big.Int) Amount {
	if den == nil || den.Sign() == 0 {
		panic("MulDivBig: zero denominator")
	}
	r := new(big.Int).Mul(a.big(), num)
	r.Div(r, den)
	return Amount{v: r}
}

// Rsh returns a >> n. Used by block-reward halving.
func (a Amount) Rsh(n uint) Amount {
	return Amount{v: new(big.Int).Rsh(a.big(), n)}
}

// BpsDenom is the denominator of basis-point rates.
const BpsDenom = 10000

// MulBps returns floor(a * bps / 10000).
func (a Amount) MulBps(bps uint32) Amount {
	return a.MulDiv(uint64(bps), BpsDenom)
}

// CodecEncodeSelf implements codec.Selfer: an Amount is its decimal string.
func (a Amount) CodecEncodeSelf(e *codec.Encoder) {
	e.MustEncode(a.String())
}

// CodecDecodeSelf implements codec.Selfer.
func (a *Amount) CodecDecodeSelf(d *codec.Decoder) {
	var s string
	d.MustDecode(&s)
	parsed, err := AmountFromString(s)
	if err != nil {
		panic(err)
	}
	*a = parsed
}

// MarshalJSON renders the amount as a decimal string, never a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON ...
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := AmountFromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
