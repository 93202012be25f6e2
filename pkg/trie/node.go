// Copyright 2025 Palisade Chain
//
// Trie node representations and their canonical RLP forms. Nodes are
// content-addressed: every persisted node is stored under the keccak hash of
// its encoding, and children are always referenced by hash.

package trie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

var ErrDatabaseCorrupt = errors.New("trie database corrupt: missing node")

type node interface{}

type (
	// fullNode branches on one nibble; index 16 holds a value terminating
	// exactly at this node.
	fullNode struct {
		Children [17]node
	}
	// shortNode compresses a run of nibbles. A terminated key makes it a
	// leaf (Val is valueNode); otherwise Val references the next node.
	shortNode struct {
		Key []byte
		Val node
	}
	hashNode  []byte
	valueNode []byte
)

// decodeNode parses an encoded trie node.
func decodeNode(buf []byte) (node, error) {
	elems, _, err := rlp.SplitList(buf)
	if err != nil {
		return nil, fmt.Errorf("malformed trie node: %w", err)
	}
	switch n, _ := rlp.CountValues(elems); n {
	case 2:
		return decodeShort(elems)
	case 17:
		return decodeFull(elems)
	default:
		return nil, fmt.Errorf("malformed trie node: %d list items", n)
	}
}

func decodeShort(elems []byte) (node, error) {
	kbuf, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nil, err
	}
	key := compactToHex(kbuf)
	val, _, err := rlp.SplitString(rest)
	if err != nil {
		return nil, err
	}
	if hasTerm(key) {
		return &shortNode{Key: key, Val: valueNode(val)}, nil
	}
	if len(val) != 32 {
		return nil, fmt.Errorf("malformed extension child: %d bytes", len(val))
	}
	return &shortNode{Key: key, Val: hashNode(val)}, nil
}

func decodeFull(elems []byte) (node, error) {
	n := &fullNode{}
	rest := elems
	for i := 0; i < 16; i++ {
		val, r, err := rlp.SplitString(rest)
		if err != nil {
			return nil, err
		}
		rest = r
		switch len(val) {
		case 0:
		case 32:
			n.Children[i] = hashNode(val)
		default:
			return nil, fmt.Errorf("malformed branch child: %d bytes", len(val))
		}
	}
	val, _, err := rlp.SplitString(rest)
	if err != nil {
		return nil, err
	}
	if len(val) > 0 {
		n.Children[16] = valueNode(val)
	}
	return n, nil
}
