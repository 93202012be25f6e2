// Copyright 2025 Palisade Chain
//
// Vote bookkeeping: height → round → step collectors with derived
// per-proposal counts. Collectors are bounded so a byzantine peer cannot
// grow memory with far-future or ancient votes.

package consensus

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/palisade-chain/palisade/pkg/types"
)

const collectorSpan = 16

// VoteSet holds one (height, round, step) slot: each sender votes at most
// once, later votes for the same slot are ignored.
type VoteSet struct {
	votesBySender   map[common.Address]*Vote
	votesByProposal map[common.Hash]int
	count           int
}

func newVoteSet() *VoteSet {
	return &VoteSet{
		votesBySender:   make(map[common.Address]*Vote),
		votesByProposal: make(map[common.Hash]int),
	}
}

// Add records a vote; duplicates from the same sender are rejected.
func (vs *VoteSet) Add(vote *Vote) bool {
	if _, seen := vs.votesBySender[vote.Sender]; seen {
		return false
	}
	vs.votesBySender[vote.Sender] = vote
	vs.votesByProposal[vote.Proposal]++
	vs.count++
	return true
}

// Count returns the number of distinct voters.
func (vs *VoteSet) Count() int { return vs.count }

// Majority returns the proposal hash holding a +2/3 majority of the
// validator set, if any. The zero hash stands for nil votes.
func (vs *VoteSet) Majority(validators *types.ValidatorSet) (common.Hash, bool) {
	for hash, n := range vs.votesByProposal {
		if validators.QuorumReached(n) {
			return hash, true
		}
	}
	return common.Hash{}, false
}

// VotesFor returns the votes cast for one proposal hash.
func (vs *VoteSet) VotesFor(hash common.Hash) []*Vote {
	var out []*Vote
	for _, v := range vs.votesBySender {
		if v.Proposal == hash {
			out = append(out, v)
		}
	}
	return out
}

// stepCollector maps a step to its vote set within one round.
type stepCollector struct {
	steps map[Step]*VoteSet
}

func newStepCollector() *stepCollector {
	return &stepCollector{steps: make(map[Step]*VoteSet)}
}

func (sc *stepCollector) add(vote *Vote) bool {
	vs, ok := sc.steps[vote.Step]
	if !ok {
		vs = newVoteSet()
		sc.steps[vote.Step] = vs
	}
	return vs.Add(vote)
}

// roundCollector maps rounds to step collectors, bounded.
type roundCollector struct {
	rounds *lru.Cache[uint32, *stepCollector]
}

func newRoundCollector() *roundCollector {
	cache, _ := lru.New[uint32, *stepCollector](collectorSpan)
	return &roundCollector{rounds: cache}
}

func (rc *roundCollector) add(vote *Vote) bool {
	sc, ok := rc.rounds.Get(vote.Round)
	if !ok {
		sc = newStepCollector()
		rc.rounds.Add(vote.Round, sc)
	}
	return sc.add(vote)
}

// VoteCollector is the top level: heights to round collectors, bounded.
type VoteCollector struct {
	heights *lru.Cache[uint64, *roundCollector]
}

// NewVoteCollector creates an empty collector.
func NewVoteCollector() *VoteCollector {
	cache, _ := lru.New[uint64, *roundCollector](collectorSpan)
	return &VoteCollector{heights: cache}
}

// Add files a vote under its (height, round, step) slot.
func (vc *VoteCollector) Add(vote *Vote) bool {
	rc, ok := vc.heights.Get(vote.Height)
	if !ok {
		rc = newRoundCollector()
		vc.heights.Add(vote.Height, rc)
	}
	return rc.add(vote)
}

// Get returns the vote set at (height, round, step), or nil.
func (vc *VoteCollector) Get(height uint64, round uint32, step Step) *VoteSet {
	rc, ok := vc.heights.Get(height)
	if !ok {
		return nil
	}
	sc, ok := rc.rounds.Get(round)
	if !ok {
		return nil
	}
	return sc.steps[step]
}

// ProposalCollector keeps received proposals per (height, round), bounded by
// height like the vote collector.
type ProposalCollector struct {
	heights *lru.Cache[uint64, map[uint32]*SignedProposal]
}

// NewProposalCollector creates an empty collector.
func NewProposalCollector() *ProposalCollector {
	cache, _ := lru.New[uint64, map[uint32]*SignedProposal](collectorSpan)
	return &ProposalCollector{heights: cache}
}

// Add stores a proposal; the first proposal for a slot wins.
func (pc *ProposalCollector) Add(sp *SignedProposal) bool {
	rounds, ok := pc.heights.Get(sp.Proposal.Height)
	if !ok {
		rounds = make(map[uint32]*SignedProposal)
		pc.heights.Add(sp.Proposal.Height, rounds)
	}
	if _, dup := rounds[sp.Proposal.Round]; dup {
		return false
	}
	rounds[sp.Proposal.Round] = sp
	return true
}

// Get returns the proposal at (height, round), or nil.
func (pc *ProposalCollector) Get(height uint64, round uint32) *SignedProposal {
	rounds, ok := pc.heights.Get(height)
	if !ok {
		return nil
	}
	return rounds[round]
}
