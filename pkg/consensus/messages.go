// Copyright 2025 Palisade Chain
//
// Consensus wire messages: votes and signed proposals, with their signing
// digests. A precommit signature covers exactly the commit digest so a +2/3
// precommit set doubles as the block proof without re-signing.

package consensus

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/types"
)

// Step is the phase of a consensus round.
type Step uint8

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

var (
	ErrBadVoteSig          = errors.New("vote signature invalid")
	ErrBadProposalSig      = errors.New("proposal signature invalid")
	ErrWrongProposer       = errors.New("proposal from wrong proposer")
	ErrNoLockJustification = errors.New("locked proposal lacks its polka prevotes")
	ErrRootCheck           = errors.New("proposal roots do not match execution")
)

// Vote is one validator's prevote or precommit. The zero Proposal hash is a
// nil vote.
type Vote struct {
	Height    uint64
	Round     uint32
	Step      Step
	Proposal  common.Hash
	Sender    common.Address
	Signature []byte
}

// voteDigest is what a vote signature covers. Precommits sign the commit
// digest (height, round, hash); prevotes mix the step in so they can never
// be replayed as commits.
func voteDigest(height uint64, round uint32, step Step, proposal common.Hash) common.Hash {
	if step == StepPrecommit {
		return types.CommitDigest(height, round, proposal)
	}
	enc, _ := rlp.EncodeToBytes([]interface{}{height, round, uint8(step), proposal})
	return crypto.Keccak256Hash(enc)
}

// Sign fills the vote's sender and signature using the given key.
func (v *Vote) Sign(key []byte) error {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return err
	}
	digest := voteDigest(v.Height, v.Round, v.Step, v.Proposal)
	sig, err := crypto.Sign(digest.Bytes(), priv)
	if err != nil {
		return err
	}
	v.Sender = crypto.PubkeyToAddress(priv.PublicKey)
	v.Signature = sig
	return nil
}

// VerifySig checks the signature against the claimed sender.
func (v *Vote) VerifySig() error {
	digest := voteDigest(v.Height, v.Round, v.Step, v.Proposal)
	pub, err := crypto.SigToPub(digest.Bytes(), v.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadVoteSig, err)
	}
	if crypto.PubkeyToAddress(*pub) != v.Sender {
		return ErrBadVoteSig
	}
	return nil
}

// Proposal is a proposer's block for one (height, round). LockRound and
// LockVotes justify re-proposing a locked block: the votes must form a
// polka at LockRound.
type Proposal struct {
	Height    uint64
	Round     uint32
	Block     *types.Block
	LockRound *uint32 `rlp:"nil"`
	LockVotes []*Vote
}

// SignedProposal wraps a proposal with the proposer's signature.
type SignedProposal struct {
	Proposal  Proposal
	Signature []byte
}

func proposalDigest(p *Proposal) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// SignProposal signs a proposal with the proposer key.
func SignProposal(p *Proposal, key []byte) (*SignedProposal, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, err
	}
	digest, err := proposalDigest(p)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), priv)
	if err != nil {
		return nil, err
	}
	return &SignedProposal{Proposal: *p, Signature: sig}, nil
}

// Proposer recovers the proposal signer.
func (sp *SignedProposal) Proposer() (common.Address, error) {
	digest, err := proposalDigest(&sp.Proposal)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sp.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadProposalSig, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// verifyLockJustification checks that the carried prevotes form a polka for
// the proposed block at LockRound.
func (sp *SignedProposal) verifyLockJustification(validators *types.ValidatorSet) error {
	p := &sp.Proposal
	if p.LockRound == nil {
		return nil
	}
	blockHash := p.Block.Hash()
	seen := make(map[common.Address]bool)
	count := 0
	for _, v := range p.LockVotes {
		if v.Height != p.Height || v.Round != *p.LockRound || v.Step != StepPrevote || v.Proposal != blockHash {
			continue
		}
		if !validators.Contains(v.Sender) || seen[v.Sender] {
			continue
		}
		if err := v.VerifySig(); err != nil {
			continue
		}
		seen[v.Sender] = true
		count++
	}
	if !validators.QuorumReached(count) {
		return ErrNoLockJustification
	}
	return nil
}
