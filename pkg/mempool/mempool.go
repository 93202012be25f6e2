// Copyright 2025 Palisade Chain
//
// Mempool service: WAL-backed admission, committed-transaction eviction and
// batched gossip forwarding of freshly admitted transactions.

package mempool

import (
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/types"
	"github.com/palisade-chain/palisade/pkg/wal"
)

// Mempool owns the pending pool, its write-ahead log and the forwarding
// buffer. Admission and packaging may overlap; the pool carries its own
// lock.
type Mempool struct {
	cfg  *config.Config
	pool *Pool

	wal       *wal.WAL
	filterWAL *wal.WAL

	bus bus.Bus

	batchMu   sync.Mutex
	batch     []*types.SignedTransaction
	batchBorn time.Time
	flowLimit int

	quit chan struct{}
	wg   sync.WaitGroup
}

// New opens the mempool and its logs. Call Replay before serving admissions.
func New(cfg *config.Config, b bus.Bus) (*Mempool, error) {
	admitLog, err := wal.Open(cfg.WALPath)
	if err != nil {
		return nil, err
	}
	filterLog, err := wal.Open(cfg.FilterWALPath)
	if err != nil {
		admitLog.Close()
		return nil, err
	}
	return &Mempool{
		cfg:       cfg,
		pool:      NewPool(cfg.PoolCapacity),
		wal:       admitLog,
		filterWAL: filterLog,
		bus:       b,
		flowLimit: cfg.PoolFlowLimit,
		quit:      make(chan struct{}),
	}, nil
}

// Replay reconstructs the pool from the write-ahead log and compacts the
// log to the survivors.
func (m *Mempool) Replay() (int, error) {
	err := m.wal.Replay(func(typ byte, payload []byte) error {
		switch typ {
		case wal.RecordAdmit:
			var stx types.SignedTransaction
			if err := rlp.DecodeBytes(payload, &stx); err != nil {
				log.Printf("[MEMPOOL] skipping undecodable wal record: %v", err)
				return nil
			}
			m.pool.Enqueue(&stx)
		case wal.RecordDelete:
			m.pool.Remove([]common.Hash{common.BytesToHash(payload)})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	survivors := m.pool.All()
	encoded := make([][]byte, 0, len(survivors))
	for _, tx := range survivors {
		enc, _ := rlp.EncodeToBytes(tx)
		encoded = append(encoded, enc)
	}
	if err := m.wal.Compact(encoded); err != nil {
		return 0, err
	}
	log.Printf("[MEMPOOL] replayed %d pending transactions from wal", len(survivors))
	return len(survivors), nil
}

// Start launches the periodic batch flusher.
func (m *Mempool) Start() {
	m.wg.Add(1)
	go m.flushLoop()
}

// Stop terminates background work and closes the logs.
func (m *Mempool) Stop() {
	close(m.quit)
	m.wg.Wait()
	m.wal.Close()
	m.filterWAL.Close()
}

// Add admits a verified transaction: WAL first, then the pool, then the
// forwarding buffer. A WAL failure rejects the admission.
func (m *Mempool) Add(stx *types.SignedTransaction) types.Ret {
	if m.pool.Len() > m.flowLimit {
		m.logReject(stx.Hash(), types.RetBusy)
		return types.RetBusy
	}
	enc, err := rlp.EncodeToBytes(stx)
	if err != nil {
		return types.RetBadSig
	}
	if err := m.wal.WriteAdmit(enc); err != nil {
		log.Printf("[MEMPOOL] wal admit failed, rejecting: %v", err)
		m.logReject(stx.Hash(), types.RetBusy)
		return types.RetBusy
	}
	switch m.pool.Enqueue(stx) {
	case EnqueueDuplicate:
		m.logReject(stx.Hash(), types.RetDup)
		return types.RetDup
	case EnqueueFull:
		m.logReject(stx.Hash(), types.RetBusy)
		return types.RetBusy
	}
	m.buffer(stx)
	return types.RetOK
}

// Contains reports whether the pool already holds the hash.
func (m *Mempool) Contains(hash common.Hash) bool { return m.pool.Contains(hash) }

// Len returns the pool size.
func (m *Mempool) Len() int { return m.pool.Len() }

// Package assembles the proposer's transaction batch for the next height.
func (m *Mempool) Package(blockQuota uint64, account types.AccountQuota) []*types.SignedTransaction {
	return m.pool.Package(m.cfg.PackageLimit, blockQuota, account)
}

// Evict drops committed transactions. WAL deletion runs on a short-lived
// worker; losing a DELETE record is tolerated because the duplicate window
// rejects re-inclusion.
func (m *Mempool) Evict(hashes []common.Hash) {
	removed := m.pool.Remove(hashes)
	if len(removed) == 0 {
		return
	}
	go func() {
		for _, tx := range removed {
			if err := m.wal.WriteDelete(tx.Hash()); err != nil {
				log.Printf("[MEMPOOL] wal delete failed (tolerated): %v", err)
				return
			}
		}
	}()
}

func (m *Mempool) logReject(hash common.Hash, ret types.Ret) {
	if err := m.filterWAL.WriteReject(hash, byte(ret)); err != nil {
		log.Printf("[MEMPOOL] filter wal write failed: %v", err)
	}
}

// buffer stages an admitted transaction for batched forwarding; a full
// buffer flushes inline.
func (m *Mempool) buffer(stx *types.SignedTransaction) {
	m.batchMu.Lock()
	if len(m.batch) == 0 {
		m.batchBorn = time.Now()
	}
	m.batch = append(m.batch, stx)
	full := len(m.batch) >= m.cfg.BatchCount
	m.batchMu.Unlock()
	if full {
		m.flush()
	}
}

func (m *Mempool) flushLoop() {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.BatchDurationNs)
	if interval <= 0 {
		interval = 30 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.batchMu.Lock()
			due := len(m.batch) > 0 && time.Since(m.batchBorn) >= interval
			m.batchMu.Unlock()
			if due {
				m.flush()
			}
		case <-m.quit:
			m.flush()
			return
		}
	}
}

// flush emits the staged transactions as one batched request on the gossip
// topic.
func (m *Mempool) flush() {
	m.batchMu.Lock()
	batch := m.batch
	m.batch = nil
	m.batchMu.Unlock()
	if len(batch) == 0 {
		return
	}
	enc, err := rlp.EncodeToBytes(batch)
	if err != nil {
		log.Printf("[MEMPOOL] batch encode failed: %v", err)
		return
	}
	m.bus.Publish(bus.TopicRequestNewTxBatch, enc)
}
