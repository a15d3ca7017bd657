// Package keys implements the public key cryptography used throughout
// ComputeChain.
//
// Every node, account holder and validator owns an ECDSA key-pair on the
// secp256k1 curve. The private key signs transactions and block headers; the
// public key lets other nodes verify those signatures and derives the bech32
// addresses of the owner. We chose secp256k1 because it is also used by
// Bitcoin and Ethereum, which means existing keys and tooling carry over.
package keys
