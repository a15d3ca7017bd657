package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// HashLen is the length in bytes of all hashes in the system.
const HashLen = 32

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// SimpleHashFromTwoHashes returns the SHA256 hash of the concatenation of
// left and right data.
func SimpleHashFromTwoHashes(left []byte, right []byte) []byte {
	var hasher = sha256.New()
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}

// RIPEMD160 returns the RIPEMD160 hash of the data. It is used, over a
// SHA256 digest, to derive the 20-byte payload of bech32 addresses.
func RIPEMD160(data []byte) []byte {
	hasher := ripemd160.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// MerkleRoot computes the binary Merkle root of an ordered list of leaves.
//
// Convention: an empty list hashes to 32 zero bytes; a single leaf is its
// own root; at every layer with an odd number of nodes the last node is
// duplicated. Leaves are combined with SimpleHashFromTwoHashes.
func MerkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return make([]byte, HashLen)
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, SimpleHashFromTwoHashes(level[i], level[i+1]))
		}
		level = next
	}

	return level[0]
}
