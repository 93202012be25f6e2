// Copyright 2025 Palisade Chain
//
// Block = header + body. The body is the ordered signed-transaction list.

package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Body holds the ordered transactions of a block.
type Body struct {
	Transactions []*SignedTransaction
}

// TxHashes returns the content hashes of the body's transactions in order.
func (b *Body) TxHashes() []common.Hash {
	out := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		out[i] = tx.Hash()
	}
	return out
}

// Block is one element of the committed chain.
type Block struct {
	Header *Header
	Body   *Body
}

// NewBlock assembles a block; the header's transactions root must already be
// consistent with the body.
func NewBlock(header *Header, body *Body) *Block {
	if body == nil {
		body = &Body{}
	}
	return &Block{Header: header, Body: body}
}

// Hash is the header hash.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// Number is the block height.
func (b *Block) Number() uint64 { return b.Header.Number }

// Encode serializes the block as [header, body].
func (b *Block) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// DecodeBlock parses a [header, body] encoding.
func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ReceiptHash is the leaf hash a receipt contributes to the receipts root.
func ReceiptHash(r *Receipt) common.Hash {
	enc, _ := rlp.EncodeToBytes(r)
	return crypto.Keccak256Hash(enc)
}

// Status announces the chain tip after a commit. Published by the chain
// subsystem; heights are monotone per node.
type Status struct {
	Height     uint64
	Hash       common.Hash
	Validators []common.Address
}
