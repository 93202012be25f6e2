// Copyright 2025 Palisade Chain
//
// Block header: wire encoding, hashing and structural invariants.

package types

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrBadNumber    = errors.New("header number is not parent number + 1")
	ErrBadTimestamp = errors.New("header timestamp not after parent timestamp")
)

// Header describes a committed or proposed block.
type Header struct {
	ParentHash       common.Hash
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	LogBloom         types.Bloom
	Number           uint64
	QuotaLimit       uint64
	QuotaUsed        uint64
	Timestamp        uint64
	Version          uint32
	Proof            Proof
	Proposer         common.Address

	hash atomic.Pointer[common.Hash]
}

// headerRLP fixes the canonical field order of the wire encoding. Proposer
// trails the proof: fee routing during re-execution needs it on synced
// blocks.
type headerRLP struct {
	ParentHash       common.Hash
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	LogBloom         types.Bloom
	Number           uint64
	QuotaLimit       uint64
	QuotaUsed        uint64
	Timestamp        uint64
	Version          uint32
	Proof            Proof
	Proposer         common.Address
}

// EncodeRLP implements rlp.Encoder using the canonical field order.
func (h *Header) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &headerRLP{
		ParentHash:       h.ParentHash,
		StateRoot:        h.StateRoot,
		TransactionsRoot: h.TransactionsRoot,
		ReceiptsRoot:     h.ReceiptsRoot,
		LogBloom:         h.LogBloom,
		Number:           h.Number,
		QuotaLimit:       h.QuotaLimit,
		QuotaUsed:        h.QuotaUsed,
		Timestamp:        h.Timestamp,
		Version:          h.Version,
		Proof:            h.Proof,
		Proposer:         h.Proposer,
	})
}

// DecodeRLP implements rlp.Decoder.
func (h *Header) DecodeRLP(s *rlp.Stream) error {
	var dec headerRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	h.ParentHash = dec.ParentHash
	h.StateRoot = dec.StateRoot
	h.TransactionsRoot = dec.TransactionsRoot
	h.ReceiptsRoot = dec.ReceiptsRoot
	h.LogBloom = dec.LogBloom
	h.Number = dec.Number
	h.QuotaLimit = dec.QuotaLimit
	h.QuotaUsed = dec.QuotaUsed
	h.Timestamp = dec.Timestamp
	h.Version = dec.Version
	h.Proof = dec.Proof
	h.Proposer = dec.Proposer
	h.hash.Store(nil)
	return nil
}

// Hash returns the keccak hash of the canonical encoding. The value is
// memoized; headers must not be mutated after the first call.
func (h *Header) Hash() common.Hash {
	if v := h.hash.Load(); v != nil {
		return *v
	}
	enc, _ := rlp.EncodeToBytes(h)
	hv := crypto.Keccak256Hash(enc)
	h.hash.Store(&hv)
	return hv
}

// VerifyAgainstParent checks the parent-linking invariants.
func (h *Header) VerifyAgainstParent(parent *Header) error {
	if h.Number != parent.Number+1 {
		return fmt.Errorf("%w: number %d parent %d", ErrBadNumber, h.Number, parent.Number)
	}
	if h.Timestamp <= parent.Timestamp {
		return fmt.Errorf("%w: %d <= %d", ErrBadTimestamp, h.Timestamp, parent.Timestamp)
	}
	if h.ParentHash != parent.Hash() {
		return fmt.Errorf("parent hash mismatch: have %s want %s", h.ParentHash.Hex(), parent.Hash().Hex())
	}
	return nil
}
