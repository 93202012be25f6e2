// Copyright 2025 Palisade Chain
//
// Ordered validator set active at a given height.

package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// ValidatorSet is the ordered sequence of addresses eligible to propose and
// vote at a given height. Order matters: proposer selection is positional.
type ValidatorSet struct {
	addrs []common.Address
	index map[common.Address]int
}

// NewValidatorSet builds a set preserving the given order. Duplicates are
// dropped, first occurrence wins.
func NewValidatorSet(addrs []common.Address) *ValidatorSet {
	vs := &ValidatorSet{index: make(map[common.Address]int, len(addrs))}
	for _, a := range addrs {
		if _, dup := vs.index[a]; dup {
			continue
		}
		vs.index[a] = len(vs.addrs)
		vs.addrs = append(vs.addrs, a)
	}
	return vs
}

func (vs *ValidatorSet) Len() int { return len(vs.addrs) }

func (vs *ValidatorSet) Contains(a common.Address) bool {
	_, ok := vs.index[a]
	return ok
}

// Addresses returns a copy of the ordered member list.
func (vs *ValidatorSet) Addresses() []common.Address {
	out := make([]common.Address, len(vs.addrs))
	copy(out, vs.addrs)
	return out
}

// Proposer selects the proposer for (height, round) by rotating through the
// set: validators[(height + round) mod n].
func (vs *ValidatorSet) Proposer(height uint64, round uint32) common.Address {
	if len(vs.addrs) == 0 {
		return common.Address{}
	}
	return vs.addrs[(height+uint64(round))%uint64(len(vs.addrs))]
}

// QuorumReached reports whether count votes form a +2/3 majority of the set.
func (vs *ValidatorSet) QuorumReached(count int) bool {
	return count*3 > len(vs.addrs)*2
}
