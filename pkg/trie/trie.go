// Copyright 2025 Palisade Chain
//
// Merkle-Patricia trie: an authenticated map whose root hash is a pure
// function of its contents. A trie instance has a single writer; readers
// work against a committed root via their own instance.

package trie

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// EmptyRoot is the root hash of an empty trie.
var EmptyRoot = crypto.Keccak256Hash(rlp.EmptyString)

// Trie is one version of the authenticated map. Mutations build new nodes in
// memory; Hash flushes their encodings into the NodeDB overlay and returns
// the new root.
type Trie struct {
	db   *NodeDB
	root node
}

// New opens the trie at the given root. The zero hash and EmptyRoot both
// denote the empty trie; any other root must resolve in the store.
func New(root common.Hash, db *NodeDB) (*Trie, error) {
	t := &Trie{db: db}
	if root != (common.Hash{}) && root != EmptyRoot {
		n, err := db.node(root)
		if err != nil {
			return nil, err
		}
		t.root = n
	}
	return t, nil
}

// Get returns the value stored under key, or nil when absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	v, newroot, err := t.get(t.root, keybytesToHex(key), 0)
	if err != nil {
		return nil, err
	}
	t.root = newroot
	return v, nil
}

func (t *Trie) get(n node, key []byte, pos int) ([]byte, node, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil, nil
	case valueNode:
		return n, n, nil
	case *shortNode:
		if len(key)-pos < len(n.Key) || !bytes.Equal(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, n, nil
		}
		v, child, err := t.get(n.Val, key, pos+len(n.Key))
		if err != nil {
			return nil, n, err
		}
		n.Val = child
		return v, n, nil
	case *fullNode:
		v, child, err := t.get(n.Children[key[pos]], key, pos+1)
		if err != nil {
			return nil, n, err
		}
		n.Children[key[pos]] = child
		return v, n, nil
	case hashNode:
		resolved, err := t.db.node(common.BytesToHash(n))
		if err != nil {
			return nil, n, err
		}
		return t.get(resolved, key, pos)
	default:
		return nil, n, fmt.Errorf("unknown node type %T", n)
	}
}

// Update writes key → value. An empty value deletes the key.
func (t *Trie) Update(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	hexkey := keybytesToHex(key)
	newroot, err := t.insert(t.root, hexkey, valueNode(common.CopyBytes(value)))
	if err != nil {
		return err
	}
	t.root = newroot
	return nil
}

func (t *Trie) insert(n node, key []byte, value node) (node, error) {
	if len(key) == 0 {
		return value, nil
	}
	switch n := n.(type) {
	case nil:
		return &shortNode{Key: key, Val: value}, nil
	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		if matchlen == len(n.Key) {
			child, err := t.insert(n.Val, key[matchlen:], value)
			if err != nil {
				return nil, err
			}
			return &shortNode{Key: n.Key, Val: child}, nil
		}
		// diverge: split into a branch at the first mismatching nibble
		branch := &fullNode{}
		existing, err := t.insert(nil, n.Key[matchlen+1:], n.Val)
		if err != nil {
			return nil, err
		}
		branch.Children[n.Key[matchlen]] = existing
		inserted, err := t.insert(nil, key[matchlen+1:], value)
		if err != nil {
			return nil, err
		}
		branch.Children[key[matchlen]] = inserted
		if matchlen == 0 {
			return branch, nil
		}
		return &shortNode{Key: key[:matchlen], Val: branch}, nil
	case *fullNode:
		child, err := t.insert(n.Children[key[0]], key[1:], value)
		if err != nil {
			return nil, err
		}
		n.Children[key[0]] = child
		return n, nil
	case hashNode:
		resolved, err := t.db.node(common.BytesToHash(n))
		if err != nil {
			return nil, err
		}
		return t.insert(resolved, key, value)
	default:
		return nil, fmt.Errorf("unknown node type %T", n)
	}
}

// Delete removes key from the trie; deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	newroot, _, err := t.remove(t.root, keybytesToHex(key))
	if err != nil {
		return err
	}
	t.root = newroot
	return nil
}

func (t *Trie) remove(n node, key []byte) (node, bool, error) {
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case valueNode:
		return nil, true, nil
	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		if matchlen < len(n.Key) {
			return n, false, nil
		}
		if matchlen == len(key) {
			return nil, true, nil
		}
		child, changed, err := t.remove(n.Val, key[len(n.Key):])
		if err != nil || !changed {
			return n, changed, err
		}
		if short, ok := child.(*shortNode); ok {
			// merge consecutive short nodes left by the deletion
			merged := append(append([]byte{}, n.Key...), short.Key...)
			return &shortNode{Key: merged, Val: short.Val}, true, nil
		}
		return &shortNode{Key: n.Key, Val: child}, true, nil
	case *fullNode:
		child, changed, err := t.remove(n.Children[key[0]], key[1:])
		if err != nil || !changed {
			return n, changed, err
		}
		n.Children[key[0]] = child
		// if a single child remains the branch collapses to a short node
		pos := -1
		for i, c := range n.Children {
			if c == nil {
				continue
			}
			if pos != -1 {
				return n, true, nil
			}
			pos = i
		}
		if pos == -1 {
			return nil, true, nil
		}
		remaining := n.Children[pos]
		if pos != 16 {
			if hn, ok := remaining.(hashNode); ok {
				resolved, err := t.db.node(common.BytesToHash(hn))
				if err != nil {
					return nil, false, err
				}
				remaining = resolved
			}
			if short, ok := remaining.(*shortNode); ok {
				merged := append([]byte{byte(pos)}, short.Key...)
				return &shortNode{Key: merged, Val: short.Val}, true, nil
			}
		}
		return &shortNode{Key: []byte{byte(pos)}, Val: remaining}, true, nil
	case hashNode:
		resolved, err := t.db.node(common.BytesToHash(n))
		if err != nil {
			return nil, false, err
		}
		return t.remove(resolved, key)
	default:
		return nil, false, fmt.Errorf("unknown node type %T", n)
	}
}

// Hash folds the in-memory tree into content-addressed encodings, records
// them in the NodeDB overlay and returns the root hash.
func (t *Trie) Hash() common.Hash {
	if t.root == nil {
		return EmptyRoot
	}
	ref := t.store(t.root)
	return common.BytesToHash(ref)
}

// store encodes n, records the encoding under its hash and returns the hash
// reference. Children are always referenced by hash.
func (t *Trie) store(n node) hashNode {
	switch n := n.(type) {
	case hashNode:
		return n
	case *shortNode:
		var val []byte
		if v, ok := n.Val.(valueNode); ok {
			val = v
		} else {
			val = t.store(n.Val)
		}
		enc, _ := rlp.EncodeToBytes([][]byte{hexToCompact(n.Key), val})
		h := crypto.Keccak256Hash(enc)
		t.db.insert(h, enc)
		return h.Bytes()
	case *fullNode:
		items := make([][]byte, 17)
		for i := 0; i < 16; i++ {
			if n.Children[i] != nil {
				items[i] = t.store(n.Children[i])
			}
		}
		if v, ok := n.Children[16].(valueNode); ok {
			items[16] = v
		}
		enc, _ := rlp.EncodeToBytes(items)
		h := crypto.Keccak256Hash(enc)
		t.db.insert(h, enc)
		return h.Bytes()
	default:
		panic(fmt.Sprintf("unhashable node type %T", n))
	}
}
