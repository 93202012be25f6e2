// Copyright 2025 Palisade Chain
//
// BFT commit proof: an aggregated set of precommit signatures finalizing a
// proposal at (height, round).

package types

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrProofTooFewCommits = errors.New("proof carries too few commits")
	ErrProofBadSignature  = errors.New("proof commit signature invalid")
	ErrProofUnknownSigner = errors.New("proof commit from address outside validator set")
)

// Commit is one validator's precommit signature over the finalized proposal.
type Commit struct {
	Address   common.Address
	Signature []byte
}

// Proof finalizes a proposal: more than two thirds of the validator set
// precommitted the same hash at the same (height, round). Commits are kept
// sorted by address so the encoding is deterministic.
type Proof struct {
	Height       uint64
	Round        uint32
	ProposalHash common.Hash
	Commits      []Commit
}

// CommitDigest is the digest every commit signature covers:
// keccak(rlp(height, round, proposal_hash)).
func CommitDigest(height uint64, round uint32, proposal common.Hash) common.Hash {
	enc, _ := rlp.EncodeToBytes([]interface{}{height, round, proposal})
	return crypto.Keccak256Hash(enc)
}

// AddCommit inserts a commit keeping the set sorted and deduplicated.
func (p *Proof) AddCommit(addr common.Address, sig []byte) {
	i := sort.Search(len(p.Commits), func(i int) bool {
		return bytes.Compare(p.Commits[i].Address[:], addr[:]) >= 0
	})
	if i < len(p.Commits) && p.Commits[i].Address == addr {
		return
	}
	p.Commits = append(p.Commits, Commit{})
	copy(p.Commits[i+1:], p.Commits[i:])
	p.Commits[i] = Commit{Address: addr, Signature: sig}
}

// Verify checks the proof against the validator set that was active when the
// proposal was made: every signature must recover to its claimed address, the
// address must be in the set, and strictly more than 2n/3 commits must be
// present.
func (p *Proof) Verify(validators *ValidatorSet) error {
	if validators.Len() == 0 {
		return errors.New("empty validator set")
	}
	if len(p.Commits)*3 <= validators.Len()*2 {
		return fmt.Errorf("%w: %d of %d", ErrProofTooFewCommits, len(p.Commits), validators.Len())
	}
	digest := CommitDigest(p.Height, p.Round, p.ProposalHash)
	for _, c := range p.Commits {
		if !validators.Contains(c.Address) {
			return fmt.Errorf("%w: %s", ErrProofUnknownSigner, c.Address.Hex())
		}
		pub, err := crypto.SigToPub(digest.Bytes(), c.Signature)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProofBadSignature, err)
		}
		if crypto.PubkeyToAddress(*pub) != c.Address {
			return fmt.Errorf("%w: recovered address mismatch for %s", ErrProofBadSignature, c.Address.Hex())
		}
	}
	return nil
}

// Hash returns the content hash of the proof encoding.
func (p *Proof) Hash() common.Hash {
	enc, _ := rlp.EncodeToBytes(p)
	return crypto.Keccak256Hash(enc)
}
