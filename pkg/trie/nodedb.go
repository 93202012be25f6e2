// Copyright 2025 Palisade Chain
//
// Content-addressed node store. Dirty nodes accumulate in an in-memory
// overlay and are promoted to the backing column atomically at block commit.
// Contract code blobs share the store: they are plain content-addressed
// entries like trie nodes, which keeps snapshot chunking uniform.

package trie

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/palisade-chain/palisade/pkg/kvdb"
)

// NodeDB mediates every trie read and write. It is shared by the account
// trie and all storage tries of one executor; the overlay has a single
// writer (the executor apply thread) while committed entries may be read
// concurrently.
type NodeDB struct {
	col *kvdb.Column

	mu    sync.RWMutex
	dirty map[common.Hash][]byte
}

// NewNodeDB creates a node store over the given column.
func NewNodeDB(col *kvdb.Column) *NodeDB {
	return &NodeDB{col: col, dirty: make(map[common.Hash][]byte)}
}

// node resolves a hash reference, consulting the overlay before the backing
// store. A reference that resolves nowhere is database corruption.
func (db *NodeDB) node(hash common.Hash) (node, error) {
	enc, err := db.encoded(hash)
	if err != nil {
		return nil, err
	}
	return decodeNode(enc)
}

// encoded returns the raw encoding of a stored entry.
func (db *NodeDB) encoded(hash common.Hash) ([]byte, error) {
	db.mu.RLock()
	enc, ok := db.dirty[hash]
	db.mu.RUnlock()
	if ok {
		return enc, nil
	}
	enc, err := db.col.Get(hash.Bytes())
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseCorrupt, hash.Hex())
	}
	return enc, nil
}

// insert records a dirty entry under the keccak hash of its encoding.
func (db *NodeDB) insert(hash common.Hash, enc []byte) {
	db.mu.Lock()
	db.dirty[hash] = enc
	db.mu.Unlock()
}

// InsertBlob stores an arbitrary content-addressed blob (contract code) and
// returns its hash.
func (db *NodeDB) InsertBlob(blob []byte) common.Hash {
	h := crypto.Keccak256Hash(blob)
	db.insert(h, blob)
	return h
}

// Blob fetches a content-addressed blob previously stored with InsertBlob.
func (db *NodeDB) Blob(hash common.Hash) ([]byte, error) {
	return db.encoded(hash)
}

// InsertRaw stores an already-hashed encoding under the given hash.
func (db *NodeDB) InsertRaw(hash common.Hash, enc []byte) {
	db.insert(hash, enc)
}

// Commit promotes every dirty entry into the batch and clears the overlay.
// The caller owns writing the batch; a crash before the batch write leaves
// the store at the previous committed root.
func (db *NodeDB) Commit(batch *kvdb.Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for h, enc := range db.dirty {
		if err := batch.Set(db.col, h.Bytes(), enc); err != nil {
			return fmt.Errorf("queue trie node: %w", err)
		}
	}
	db.dirty = make(map[common.Hash][]byte)
	return nil
}

// Discard drops the overlay without persisting, returning the store to the
// last committed root.
func (db *NodeDB) Discard() {
	db.mu.Lock()
	db.dirty = make(map[common.Hash][]byte)
	db.mu.Unlock()
}

// Walk visits every node reachable from root in depth-first order, passing
// the raw encodings. Storage roots inside account leaves are not followed;
// callers walk those tries explicitly.
func (db *NodeDB) Walk(root common.Hash, fn func(hash common.Hash, enc []byte) error) error {
	if root == (common.Hash{}) || root == EmptyRoot {
		return nil
	}
	enc, err := db.encoded(root)
	if err != nil {
		return err
	}
	if err := fn(root, enc); err != nil {
		return err
	}
	n, err := decodeNode(enc)
	if err != nil {
		return err
	}
	return db.walkNode(n, fn)
}

// WalkLeaves visits every node reachable from root like Walk, additionally
// handing leaf values to leafFn. Snapshot export uses this to chase account
// storage roots and code hashes.
func (db *NodeDB) WalkLeaves(root common.Hash, fn func(hash common.Hash, enc []byte) error, leafFn func(value []byte) error) error {
	if root == (common.Hash{}) || root == EmptyRoot {
		return nil
	}
	enc, err := db.encoded(root)
	if err != nil {
		return err
	}
	if fn != nil {
		if err := fn(root, enc); err != nil {
			return err
		}
	}
	n, err := decodeNode(enc)
	if err != nil {
		return err
	}
	return db.walkNodeLeaves(n, fn, leafFn)
}

func (db *NodeDB) walkNodeLeaves(n node, fn func(common.Hash, []byte) error, leafFn func([]byte) error) error {
	switch n := n.(type) {
	case *shortNode:
		if v, ok := n.Val.(valueNode); ok {
			if leafFn != nil {
				return leafFn(v)
			}
			return nil
		}
		if child, ok := n.Val.(hashNode); ok {
			return db.WalkLeaves(common.BytesToHash(child), fn, leafFn)
		}
	case *fullNode:
		for i := 0; i < 16; i++ {
			if child, ok := n.Children[i].(hashNode); ok {
				if err := db.WalkLeaves(common.BytesToHash(child), fn, leafFn); err != nil {
					return err
				}
			}
		}
		if v, ok := n.Children[16].(valueNode); ok && leafFn != nil {
			return leafFn(v)
		}
	}
	return nil
}

func (db *NodeDB) walkNode(n node, fn func(common.Hash, []byte) error) error {
	switch n := n.(type) {
	case *shortNode:
		if child, ok := n.Val.(hashNode); ok {
			return db.Walk(common.BytesToHash(child), fn)
		}
	case *fullNode:
		for i := 0; i < 16; i++ {
			if child, ok := n.Children[i].(hashNode); ok {
				if err := db.Walk(common.BytesToHash(child), fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
