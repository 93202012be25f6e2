// Copyright 2025 Palisade Chain
//
// Snapshot manifest: binds an ordered chunk list to the block whose state
// the chunks reconstruct.

package snapshot

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/types"
)

var (
	ErrInvalidFormat = errors.New("snapshot: invalid file format")
	ErrChunkMismatch = errors.New("snapshot: chunk hash mismatch")
	ErrMissingChunk  = errors.New("snapshot: manifest references missing chunk")
	ErrRootMismatch  = errors.New("snapshot: restored state root mismatch")
	ErrMissingHeader = errors.New("snapshot: tip header blob missing from state")
)

// ChunkInfo locates one chunk: content hash, byte length and, in the packed
// layout, its offset in the file.
type ChunkInfo struct {
	Hash   common.Hash
	Len    uint64
	Offset uint64
}

// Manifest is the RLP payload trailing a packed snapshot (or the MANIFEST
// file of a loose one).
type Manifest struct {
	Chunks      []ChunkInfo
	StateRoot   common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	LastProof   types.Proof
}
