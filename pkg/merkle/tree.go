// Copyright 2025 Palisade Chain
//
// Binary Merkle tree over 32-byte leaves. Used for the transactions root and
// receipts root of every block, and for inclusion proofs served to clients.

package merkle

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidProof = errors.New("invalid merkle proof")
	ErrLeafNotFound = errors.New("leaf not found in tree")
)

// Position indicates whether a sibling hash sits left or right of the path.
type Position uint8

const (
	Left Position = iota
	Right
)

// ProofNode is a single sibling on an inclusion path.
type ProofNode struct {
	Hash     common.Hash
	Position Position
}

// Tree is an immutable binary Merkle tree. An odd node at any level is
// promoted unpaired, so the root over a single leaf is the leaf itself and
// the root over no leaves is the zero hash.
type Tree struct {
	levels [][]common.Hash
}

// Root computes the Merkle root of the given leaves without retaining the
// tree. This is the hot path used per block for tx and receipt roots.
func Root(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, combine(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// Build constructs a tree retaining every level for proof generation.
func Build(leaves []common.Hash) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, combine(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the tree root, or the zero hash for an empty tree.
func (t *Tree) Root() common.Hash {
	if len(t.levels) == 0 {
		return common.Hash{}
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Prove returns the inclusion path for the leaf at the given index.
func (t *Tree) Prove(index int) ([]ProofNode, error) {
	if len(t.levels) == 0 || index < 0 || index >= len(t.levels[0]) {
		return nil, ErrLeafNotFound
	}
	var path []ProofNode
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := index ^ 1
		if sib < len(level) {
			pos := Left
			if sib > index {
				pos = Right
			}
			path = append(path, ProofNode{Hash: level[sib], Position: pos})
		}
		index /= 2
	}
	return path, nil
}

// VerifyProof replays an inclusion path and checks it lands on root.
func VerifyProof(leaf common.Hash, path []ProofNode, root common.Hash) error {
	acc := leaf
	for _, n := range path {
		if n.Position == Left {
			acc = combine(n.Hash, acc)
		} else {
			acc = combine(acc, n.Hash)
		}
	}
	if !bytes.Equal(acc[:], root[:]) {
		return ErrInvalidProof
	}
	return nil
}

func combine(l, r common.Hash) common.Hash {
	return crypto.Keccak256Hash(l.Bytes(), r.Bytes())
}
