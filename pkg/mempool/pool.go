// Copyright 2025 Palisade Chain
//
// The ordered pending-transaction pool. Uniqueness is by transaction hash;
// ordering for packaging is (sender, nonce) ascending with sender addresses
// walked in sorted order so packaging is deterministic.

package mempool

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/types"
)

// EnqueueResult is the outcome of a pool insertion.
type EnqueueResult int

const (
	EnqueueOK EnqueueResult = iota
	EnqueueDuplicate
	EnqueueFull
)

type poolEntry struct {
	tx     *types.SignedTransaction
	sender common.Address
}

// Pool is the bounded in-memory transaction set, guarded by one mutex.
type Pool struct {
	mu       sync.Mutex
	capacity int
	byHash   map[common.Hash]*poolEntry
	bySender map[common.Address][]*poolEntry
}

// NewPool creates a pool with the given hard cap.
func NewPool(capacity int) *Pool {
	return &Pool{
		capacity: capacity,
		byHash:   make(map[common.Hash]*poolEntry),
		bySender: make(map[common.Address][]*poolEntry),
	}
}

// Enqueue inserts the transaction unless it is already present or the pool
// is at capacity. The sender must have been recovered by the verifier.
func (p *Pool) Enqueue(tx *types.SignedTransaction) EnqueueResult {
	sender, err := tx.Sender()
	if err != nil {
		return EnqueueDuplicate // unreachable behind the verifier
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	hash := tx.Hash()
	if _, dup := p.byHash[hash]; dup {
		return EnqueueDuplicate
	}
	if len(p.byHash) >= p.capacity {
		return EnqueueFull
	}
	e := &poolEntry{tx: tx, sender: sender}
	p.byHash[hash] = e
	list := p.bySender[sender]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].tx.Tx.Nonce >= tx.Tx.Nonce
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	p.bySender[sender] = list
	return EnqueueOK
}

// Package selects up to limit transactions honoring per-sender nonce order
// and the cumulative block quota budget. The per-sender limit caps any
// single transaction's quota; a sender's first over-cap transaction defers
// the rest of that sender's queue, an over-budget transaction at the block
// level ends the package.
func (p *Pool) Package(limit int, blockQuota uint64, account types.AccountQuota) []*types.SignedTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders := make([]common.Address, 0, len(p.bySender))
	for s := range p.bySender {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool {
		return bytes.Compare(senders[i][:], senders[j][:]) < 0
	})

	var out []*types.SignedTransaction
	blockBudget := blockQuota
	for _, s := range senders {
		senderCap := account.LimitFor(s)
		for _, e := range p.bySender[s] {
			if len(out) >= limit {
				return out
			}
			q := e.tx.Tx.Quota
			if q > senderCap {
				break
			}
			if q > blockBudget {
				return out
			}
			blockBudget -= q
			out = append(out, e.tx)
		}
	}
	return out
}

// Remove evicts the given hashes, returning the entries actually removed.
func (p *Pool) Remove(hashes []common.Hash) []*types.SignedTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed []*types.SignedTransaction
	for _, h := range hashes {
		e, ok := p.byHash[h]
		if !ok {
			continue
		}
		delete(p.byHash, h)
		list := p.bySender[e.sender]
		for i, le := range list {
			if le == e {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(p.bySender, e.sender)
		} else {
			p.bySender[e.sender] = list
		}
		removed = append(removed, e.tx)
	}
	return removed
}

// Contains reports hash membership.
func (p *Pool) Contains(hash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byHash[hash]
	return ok
}

// Len returns the pool size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// All returns every pooled transaction (WAL compaction input).
func (p *Pool) All() []*types.SignedTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.SignedTransaction, 0, len(p.byHash))
	for _, e := range p.byHash {
		out = append(out, e.tx)
	}
	return out
}
