// Copyright 2025 Palisade Chain
//
// Pool tests: admission results, nonce ordering and quota-bounded
// packaging.

package mempool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/types"
)

func makeTx(t *testing.T, key []byte, nonce, quota uint64) *types.SignedTransaction {
	t.Helper()
	stx, err := types.NewSignedTransaction(types.Transaction{
		Nonce:           nonce,
		To:              nil,
		Value:           uint256.NewInt(0),
		Quota:           quota,
		ValidUntilBlock: 100,
		ChainID:         1,
	}, key)
	if err != nil {
		t.Fatal(err)
	}
	return stx
}

func testKeyBytes(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return crypto.FromECDSA(k)
}

func TestEnqueueDuplicateAndFull(t *testing.T) {
	key := testKeyBytes(t)
	p := NewPool(2)
	tx0 := makeTx(t, key, 0, 21000)
	if got := p.Enqueue(tx0); got != EnqueueOK {
		t.Fatalf("first enqueue: %v", got)
	}
	if got := p.Enqueue(tx0); got != EnqueueDuplicate {
		t.Fatalf("duplicate enqueue: %v", got)
	}
	if got := p.Enqueue(makeTx(t, key, 1, 21000)); got != EnqueueOK {
		t.Fatalf("second enqueue: %v", got)
	}
	if got := p.Enqueue(makeTx(t, key, 2, 21000)); got != EnqueueFull {
		t.Fatalf("over-capacity enqueue: %v", got)
	}
	if p.Len() != 2 {
		t.Fatalf("pool length: %d", p.Len())
	}
}

func TestPackageRespectsNonceOrder(t *testing.T) {
	key := testKeyBytes(t)
	p := NewPool(100)
	// insert out of order
	for _, n := range []uint64{2, 0, 1} {
		if got := p.Enqueue(makeTx(t, key, n, 1000)); got != EnqueueOK {
			t.Fatalf("enqueue nonce %d: %v", n, got)
		}
	}
	batch := p.Package(10, 1<<30, types.AccountQuota{Common: 1 << 30})
	if len(batch) != 3 {
		t.Fatalf("packaged %d txs, want 3", len(batch))
	}
	for i, tx := range batch {
		if tx.Tx.Nonce != uint64(i) {
			t.Fatalf("position %d has nonce %d", i, tx.Tx.Nonce)
		}
	}
}

func TestPackageQuotaCaps(t *testing.T) {
	// block quota 60000, per-sender cap 30000, three txs of 25000 from one
	// sender: the block budget admits two, the third is deferred
	key := testKeyBytes(t)
	p := NewPool(100)
	for n := uint64(0); n < 3; n++ {
		if got := p.Enqueue(makeTx(t, key, n, 25000)); got != EnqueueOK {
			t.Fatalf("enqueue %d: %v", n, got)
		}
	}
	batch := p.Package(100, 60000, types.AccountQuota{Common: 30000})
	if len(batch) != 2 {
		t.Fatalf("packaged %d txs, want 2", len(batch))
	}
	if batch[0].Tx.Nonce != 0 || batch[1].Tx.Nonce != 1 {
		t.Fatalf("wrong txs packaged: nonces %d, %d", batch[0].Tx.Nonce, batch[1].Tx.Nonce)
	}

	// a tx over the per-sender cap defers that sender entirely
	overCap := p.Package(100, 1<<30, types.AccountQuota{Common: 20000})
	if len(overCap) != 0 {
		t.Fatalf("over-cap sender packaged %d txs", len(overCap))
	}
}

func TestPackageBlockBudgetStops(t *testing.T) {
	keyA, keyB := testKeyBytes(t), testKeyBytes(t)
	p := NewPool(100)
	p.Enqueue(makeTx(t, keyA, 0, 25000))
	p.Enqueue(makeTx(t, keyA, 1, 25000))
	p.Enqueue(makeTx(t, keyB, 0, 25000))
	// block budget 60000, generous per-sender: exactly two fit
	batch := p.Package(100, 60000, types.AccountQuota{Common: 1 << 30})
	if len(batch) != 2 {
		t.Fatalf("packaged %d txs, want 2", len(batch))
	}
}

func TestPackageLimit(t *testing.T) {
	key := testKeyBytes(t)
	p := NewPool(100)
	for n := uint64(0); n < 10; n++ {
		p.Enqueue(makeTx(t, key, n, 100))
	}
	batch := p.Package(4, 1<<30, types.AccountQuota{Common: 1 << 30})
	if len(batch) != 4 {
		t.Fatalf("packaged %d txs, want 4", len(batch))
	}
}

func TestPackageSpecificQuotaOverride(t *testing.T) {
	key := testKeyBytes(t)
	sender, err := makeTx(t, key, 0, 1).Sender()
	if err != nil {
		t.Fatal(err)
	}
	p := NewPool(100)
	for n := uint64(0); n < 3; n++ {
		p.Enqueue(makeTx(t, key, n, 25000))
	}
	special := types.AccountQuota{
		Common:   30000,
		Specific: map[common.Address]uint64{sender: 80000},
	}
	batch := p.Package(100, 1<<30, special)
	if len(batch) != 3 {
		t.Fatalf("special user packaged %d txs, want 3", len(batch))
	}
}

func TestRemove(t *testing.T) {
	key := testKeyBytes(t)
	p := NewPool(100)
	tx := makeTx(t, key, 0, 100)
	p.Enqueue(tx)
	removed := p.Remove([]common.Hash{tx.Hash()})
	if len(removed) != 1 || p.Len() != 0 {
		t.Fatalf("remove failed: %d removed, %d left", len(removed), p.Len())
	}
	if p.Contains(tx.Hash()) {
		t.Fatal("removed tx still present")
	}
}
