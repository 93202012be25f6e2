// Copyright 2025 Palisade Chain
//
// Merkle tree tests.

package merkle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func leaf(s string) common.Hash {
	return crypto.Keccak256Hash([]byte(s))
}

func TestRoot_Empty(t *testing.T) {
	if got := Root(nil); got != (common.Hash{}) {
		t.Errorf("empty root mismatch: got %x", got)
	}
}

func TestRoot_SingleLeaf(t *testing.T) {
	l := leaf("leaf")
	if got := Root([]common.Hash{l}); got != l {
		t.Errorf("single leaf root mismatch: got %x want %x", got, l)
	}
}

func TestRoot_TwoLeaves(t *testing.T) {
	l1, l2 := leaf("leaf 1"), leaf("leaf 2")
	want := crypto.Keccak256Hash(l1.Bytes(), l2.Bytes())
	if got := Root([]common.Hash{l1, l2}); got != want {
		t.Errorf("two leaf root mismatch: got %x want %x", got, want)
	}
}

func TestRoot_OddLeafPromoted(t *testing.T) {
	l1, l2, l3 := leaf("a"), leaf("b"), leaf("c")
	// level 1: [hash(l1,l2), l3]; root = hash(hash(l1,l2), l3)
	want := crypto.Keccak256Hash(
		crypto.Keccak256Hash(l1.Bytes(), l2.Bytes()).Bytes(),
		l3.Bytes(),
	)
	if got := Root([]common.Hash{l1, l2, l3}); got != want {
		t.Errorf("odd leaf root mismatch: got %x want %x", got, want)
	}
}

func TestBuild_MatchesRoot(t *testing.T) {
	var leaves []common.Hash
	for i := 0; i < 9; i++ {
		leaves = append(leaves, leaf(string(rune('a'+i))))
	}
	tree := Build(leaves)
	if tree.Root() != Root(leaves) {
		t.Fatalf("Build root disagrees with Root: %x vs %x", tree.Root(), Root(leaves))
	}
	if tree.LeafCount() != len(leaves) {
		t.Fatalf("leaf count mismatch: got %d want %d", tree.LeafCount(), len(leaves))
	}
}

func TestProve_AllLeaves(t *testing.T) {
	var leaves []common.Hash
	for i := 0; i < 7; i++ {
		leaves = append(leaves, leaf(string(rune('a'+i))))
	}
	tree := Build(leaves)
	for i, l := range leaves {
		path, err := tree.Prove(i)
		if err != nil {
			t.Fatalf("prove leaf %d: %v", i, err)
		}
		if err := VerifyProof(l, path, tree.Root()); err != nil {
			t.Errorf("proof for leaf %d does not verify: %v", i, err)
		}
	}
}

func TestVerifyProof_WrongLeaf(t *testing.T) {
	leaves := []common.Hash{leaf("a"), leaf("b"), leaf("c"), leaf("d")}
	tree := Build(leaves)
	path, err := tree.Prove(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyProof(leaf("x"), path, tree.Root()); err == nil {
		t.Error("proof verified for a leaf not in the tree")
	}
}

func TestProve_OutOfRange(t *testing.T) {
	tree := Build([]common.Hash{leaf("a")})
	if _, err := tree.Prove(5); err == nil {
		t.Error("expected error for out-of-range index")
	}
}
