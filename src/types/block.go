package types

import (
	"crypto/ecdsa"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
)

// BlockHeader is the signed part of a block. The block hash is the SHA256
// of the canonical encoding of the header.
type BlockHeader struct {
	Height      uint64
	PrevHash    []byte
	Timestamp   int64
	Slot        uint64
	Proposer    string
	TxRoot      []byte
	StateRoot   []byte
	ComputeRoot []byte
	Version     uint32
}

// Hash ...
func (h *BlockHeader) Hash() []byte {
	return crypto.SHA256(MustEncode(h))
}

// Block ...
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	Signature    string

	hash []byte
	hex  string
}

// Hash returns the block hash, cached after the first call.
func (b *Block) Hash() []byte {
	if len(b.hash) == 0 {
		b.hash = b.Header.Hash()
	}
	return b.hash
}

// Hex ...
func (b *Block) Hex() string {
	if b.hex == "" {
		b.hex = common.EncodeToString(b.Hash())
	}
	return b.hex
}

// TxRoot computes the Merkle root over the ordered transaction ids.
func TxRoot(txs []*Transaction) []byte {
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return crypto.MerkleRoot(leaves)
}

// ComputeRoot computes the Merkle root over the compute-result commitments
// carried by the block's SUBMIT_RESULT transactions. Blocks without
// submissions get the empty root.
func ComputeRoot(txs []*Transaction) []byte {
	var leaves [][]byte
	for _, tx := range txs {
		if tx.Type != SubmitResult {
			continue
		}
		var res ComputeResult
		if err := tx.DecodePayload(&res); err != nil {
			continue
		}
		leaves = append(leaves, crypto.SHA256(MustEncode(&res)))
	}
	return crypto.MerkleRoot(leaves)
}

// Sign signs the header hash with the proposer's validator key.
func (b *Block) Sign(priv *ecdsa.PrivateKey) error {
	b.hash = nil
	b.hex = ""
	sig, err := keys.SignHash(priv, b.Hash())
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// VerifySignature checks the block signature against the proposer's public
// key.
func (b *Block) VerifySignature(proposerPub []byte) error {
	pub := keys.ToPublicKey(proposerPub)
	if pub == nil {
		return common.NewError(common.UnknownKey, "block %d: malformed proposer key", b.Header.Height)
	}
	if !keys.VerifyHash(pub, b.Hash(), b.Signature) {
		return common.NewError(common.InvalidSignature, "block %d", b.Header.Height)
	}
	return nil
}
