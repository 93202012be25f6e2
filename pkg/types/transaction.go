// Copyright 2025 Palisade Chain
//
// Signed transaction type: canonical RLP encoding, signature recovery and
// hash caching.

package types

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// SignatureLen is the length of a recoverable secp256k1 signature (r || s || v).
const SignatureLen = 65

var (
	ErrBadSignatureLen = errors.New("signature must be 65 bytes")
	ErrSigRecovery     = errors.New("public key recovery failed")
)

// Transaction is the unsigned transaction payload. The zero value of To
// (nil pointer) marks a contract creation.
type Transaction struct {
	Nonce           uint64
	To              *common.Address `rlp:"nil"`
	Value           *uint256.Int
	Data            []byte
	Quota           uint64
	ValidUntilBlock uint64
	ChainID         uint32
	Version         uint32
}

// SignedTransaction is a Transaction plus its signature. Sender is recovered
// from the signature on first use and cached; it never crosses the wire.
type SignedTransaction struct {
	Tx        Transaction
	Signature []byte

	// caches, populated on demand with a single writer
	hash   atomic.Pointer[common.Hash]
	sender atomic.Pointer[common.Address]
}

// signedTxRLP is the wire form of a signed transaction.
type signedTxRLP struct {
	Tx        Transaction
	Signature []byte
}

// NewSignedTransaction signs tx with the given secp256k1 private key bytes
// and returns the assembled signed transaction.
func NewSignedTransaction(tx Transaction, key []byte) (*SignedTransaction, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	digest := tx.SigHash()
	sig, err := crypto.Sign(digest.Bytes(), priv)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	return &SignedTransaction{Tx: tx, Signature: sig}, nil
}

// SigHash is the digest the signature commits to: the keccak hash of the RLP
// encoding of the unsigned fields.
func (tx *Transaction) SigHash() common.Hash {
	enc, _ := rlp.EncodeToBytes(tx)
	return crypto.Keccak256Hash(enc)
}

// Hash returns the content hash of the full signed transaction.
func (s *SignedTransaction) Hash() common.Hash {
	if h := s.hash.Load(); h != nil {
		return *h
	}
	enc, _ := rlp.EncodeToBytes(&signedTxRLP{Tx: s.Tx, Signature: s.Signature})
	h := crypto.Keccak256Hash(enc)
	s.hash.Store(&h)
	return h
}

// Sender recovers the signer address. The result is cached; recovery failure
// is returned every time for a malformed signature.
func (s *SignedTransaction) Sender() (common.Address, error) {
	if a := s.sender.Load(); a != nil {
		return *a, nil
	}
	if len(s.Signature) != SignatureLen {
		return common.Address{}, ErrBadSignatureLen
	}
	digest := s.Tx.SigHash()
	pub, err := crypto.SigToPub(digest.Bytes(), s.Signature)
	if err != nil {
		return common.Address{}, ErrSigRecovery
	}
	addr := crypto.PubkeyToAddress(*pub)
	s.sender.Store(&addr)
	return addr, nil
}

// EncodeRLP implements rlp.Encoder.
func (s *SignedTransaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &signedTxRLP{Tx: s.Tx, Signature: s.Signature})
}

// DecodeRLP implements rlp.Decoder.
func (s *SignedTransaction) DecodeRLP(st *rlp.Stream) error {
	var dec signedTxRLP
	if err := st.Decode(&dec); err != nil {
		return err
	}
	s.Tx = dec.Tx
	s.Signature = dec.Signature
	return nil
}

// Creation reports whether this transaction creates a contract.
func (tx *Transaction) Creation() bool { return tx.To == nil }
