// Copyright 2025 Palisade Chain
//
// Trie tests: structural invariants, persistence and corruption detection.

package trie

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/kvdb"
)

func newTestDB() *NodeDB {
	return NewNodeDB(kvdb.NewMemDatabase().Column(kvdb.ColState))
}

func TestEmptyTrieRoot(t *testing.T) {
	tr, err := New(common.Hash{}, newTestDB())
	if err != nil {
		t.Fatal(err)
	}
	if tr.Hash() != EmptyRoot {
		t.Fatalf("empty trie root mismatch: got %x want %x", tr.Hash(), EmptyRoot)
	}
}

func TestInsertGet(t *testing.T) {
	tr, _ := New(common.Hash{}, newTestDB())
	pairs := map[string]string{
		"do":    "verb",
		"dog":   "puppy",
		"doge":  "coin",
		"horse": "stallion",
	}
	for k, v := range pairs {
		if err := tr.Update([]byte(k), []byte(v)); err != nil {
			t.Fatalf("update %q: %v", k, err)
		}
	}
	for k, v := range pairs {
		got, err := tr.Get([]byte(k))
		if err != nil {
			t.Fatalf("get %q: %v", k, err)
		}
		if !bytes.Equal(got, []byte(v)) {
			t.Errorf("get %q: got %q want %q", k, got, v)
		}
	}
	if got, _ := tr.Get([]byte("absent")); got != nil {
		t.Errorf("absent key returned %q", got)
	}
}

func TestRootIsContentPure(t *testing.T) {
	// same contents in different insertion orders yield the same root
	keys := []string{"alpha", "beta", "gamma", "delta", "alphabet"}
	build := func(order []int) common.Hash {
		tr, _ := New(common.Hash{}, newTestDB())
		for _, i := range order {
			if err := tr.Update([]byte(keys[i]), []byte(fmt.Sprintf("value-%d", i))); err != nil {
				t.Fatal(err)
			}
		}
		return tr.Hash()
	}
	r1 := build([]int{0, 1, 2, 3, 4})
	r2 := build([]int{4, 3, 2, 1, 0})
	r3 := build([]int{2, 0, 4, 1, 3})
	if r1 != r2 || r2 != r3 {
		t.Fatalf("roots differ across insertion orders: %x %x %x", r1, r2, r3)
	}
}

func TestDeleteRestoresRoot(t *testing.T) {
	tr, _ := New(common.Hash{}, newTestDB())
	if err := tr.Update([]byte("base"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	before := tr.Hash()
	if err := tr.Update([]byte("temp"), []byte("other")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete([]byte("temp")); err != nil {
		t.Fatal(err)
	}
	if tr.Hash() != before {
		t.Fatalf("delete did not restore root: got %x want %x", tr.Hash(), before)
	}
	if err := tr.Delete([]byte("never-there")); err != nil {
		t.Fatalf("deleting absent key: %v", err)
	}
}

func TestCommitAndReopen(t *testing.T) {
	db := kvdb.NewMemDatabase()
	nodeDB := NewNodeDB(db.Column(kvdb.ColState))
	tr, _ := New(common.Hash{}, nodeDB)
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("key-%02d", i))
		v := []byte(fmt.Sprintf("value-%02d", i))
		if err := tr.Update(k, v); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.Hash()
	batch := db.NewBatch()
	if err := nodeDB.Commit(batch); err != nil {
		t.Fatal(err)
	}
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(root, NewNodeDB(db.Column(kvdb.ColState)))
	if err != nil {
		t.Fatalf("reopening at %x: %v", root, err)
	}
	for i := 0; i < 50; i++ {
		got, err := reopened.Get([]byte(fmt.Sprintf("key-%02d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("value-%02d", i); string(got) != want {
			t.Errorf("reopened get: got %q want %q", got, want)
		}
	}
	if reopened.Hash() != root {
		t.Fatalf("reopened root mismatch: got %x want %x", reopened.Hash(), root)
	}
}

func TestMissingNodeIsCorruption(t *testing.T) {
	nodeDB := newTestDB()
	tr, _ := New(common.Hash{}, nodeDB)
	if err := tr.Update([]byte("key"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	root := tr.Hash()
	// the overlay was never committed; a fresh NodeDB has no such root
	if _, err := New(root, newTestDB()); err == nil {
		t.Fatal("expected corruption error for missing root node")
	}
}

func TestOverlayDiscard(t *testing.T) {
	db := kvdb.NewMemDatabase()
	nodeDB := NewNodeDB(db.Column(kvdb.ColState))
	tr, _ := New(common.Hash{}, nodeDB)
	if err := tr.Update([]byte("key"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	root := tr.Hash()
	nodeDB.Discard()
	if _, err := New(root, nodeDB); err == nil {
		t.Fatal("expected missing node after discard")
	}
}

func TestWalk(t *testing.T) {
	nodeDB := newTestDB()
	tr, _ := New(common.Hash{}, nodeDB)
	want := map[string]bool{}
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("walk-key-%02d", i)
		if err := tr.Update([]byte(k), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
		want[fmt.Sprintf("v%d", i)] = false
	}
	root := tr.Hash()
	seen := 0
	err := nodeDB.WalkLeaves(root, func(common.Hash, []byte) error {
		seen++
		return nil
	}, func(value []byte) error {
		if _, ok := want[string(value)]; !ok {
			t.Errorf("unexpected leaf %q", value)
		}
		want[string(value)] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen == 0 {
		t.Fatal("walk visited no nodes")
	}
	for v, ok := range want {
		if !ok {
			t.Errorf("leaf %q not visited", v)
		}
	}
}

func TestHexCompactRoundTrip(t *testing.T) {
	cases := [][]byte{
		keybytesToHex([]byte("dog")),
		keybytesToHex([]byte{0x01})[:2],         // even, no term
		keybytesToHex([]byte{0x12, 0x34})[:3],   // odd, no term
		keybytesToHex([]byte{0x12, 0x34, 0x56}), // terminated
	}
	for _, hex := range cases {
		got := compactToHex(hexToCompact(hex))
		if !bytes.Equal(got, hex) {
			t.Errorf("compact round trip: got %x want %x", got, hex)
		}
	}
}
