package common

import (
	"encoding/hex"
	"strings"
)

// EncodeToString returns the lowercase hex representation of b with the 0x
// prefix. Block and transaction hashes are rendered this way everywhere.
func EncodeToString(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// DecodeFromString converts a hex string, with or without 0x prefix, to a
// byte slice.
func DecodeFromString(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
