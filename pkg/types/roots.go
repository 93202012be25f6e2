// Copyright 2025 Palisade Chain
//
// Merkle roots over block contents.

package types

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/merkle"
)

// TxsRoot computes the transactions root of a body.
func TxsRoot(txs []*SignedTransaction) common.Hash {
	leaves := make([]common.Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return merkle.Root(leaves)
}

// ReceiptsRoot computes the receipts root of a receipt sequence.
func ReceiptsRoot(receipts []*Receipt) common.Hash {
	leaves := make([]common.Hash, len(receipts))
	for i, r := range receipts {
		leaves[i] = ReceiptHash(r)
	}
	return merkle.Root(leaves)
}
