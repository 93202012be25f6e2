// Copyright 2025 Palisade Chain
//
// Auth service: the admission front of the node. Verifies incoming
// transactions, feeds the mempool, keeps the duplicate window in step with
// the chain and evicts committed transactions.

package auth

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/chain"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/mempool"
	"github.com/palisade-chain/palisade/pkg/metrics"
	"github.com/palisade-chain/palisade/pkg/types"
	"github.com/palisade-chain/palisade/pkg/verifier"
)

// Response is the admission reply published for each request.
type Response struct {
	TxHash common.Hash
	Ret    uint8
}

// Service glues the verifier and mempool to the bus topics.
type Service struct {
	cfg      *config.Config
	verifier *verifier.Verifier
	mempool  *mempool.Mempool
	bus      bus.Bus

	paused atomic.Bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds the auth service.
func New(cfg *config.Config, v *verifier.Verifier, mp *mempool.Mempool, b bus.Bus) *Service {
	return &Service{cfg: cfg, verifier: v, mempool: mp, bus: b, quit: make(chan struct{})}
}

// Start subscribes to the admission and chain topics.
func (s *Service) Start() {
	newTxCh, cancelTx := s.bus.Subscribe(bus.TopicRequestNewTx)
	batchCh, cancelBatch := s.bus.Subscribe(bus.TopicRequestNewTxBatch)
	hashesCh, cancelHashes := s.bus.Subscribe(bus.TopicBlockTxHashes)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelTx()
		defer cancelBatch()
		defer cancelHashes()
		for {
			select {
			case msg, ok := <-newTxCh:
				if !ok {
					return
				}
				s.handleNewTx(msg)
			case msg, ok := <-batchCh:
				if !ok {
					return
				}
				s.handleBatch(msg)
			case msg, ok := <-hashesCh:
				if !ok {
					return
				}
				s.handleBlockTxHashes(msg)
			case <-s.quit:
				return
			}
		}
	}()
}

// Stop terminates the service loop.
func (s *Service) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// PauseInbound implements the snapshot protocol: admissions are rejected
// Busy while paused.
func (s *Service) PauseInbound() { s.paused.Store(true) }

// ResumeInbound re-enables admissions.
func (s *Service) ResumeInbound() { s.paused.Store(false) }

// ClearBelow resets nothing here: the duplicate window refills from the
// restored chain's status feed.
func (s *Service) ClearBelow(uint64) {}

// Admit runs the full admission pipeline for one transaction.
func (s *Service) Admit(stx *types.SignedTransaction) types.Ret {
	if s.paused.Load() {
		return types.RetBusy
	}
	if ret := s.verifier.VerifyTx(stx); ret != types.RetOK {
		return ret
	}
	if ret := s.verifier.CheckDuplicate(stx.Hash()); ret != types.RetOK {
		return ret
	}
	if s.mempool.Contains(stx.Hash()) {
		return types.RetDup
	}
	return s.mempool.Add(stx)
}

func (s *Service) handleNewTx(msg bus.Message) {
	var stx types.SignedTransaction
	if err := rlp.DecodeBytes(msg.Payload, &stx); err != nil {
		log.Printf("[AUTH] dropping undecodable tx request: %v", err)
		return
	}
	ret := s.Admit(&stx)
	metrics.AdmissionResults.WithLabelValues(ret.String()).Inc()
	metrics.MempoolSize.Set(float64(s.mempool.Len()))
	s.respond(msg.ID, stx.Hash(), ret)
}

func (s *Service) handleBatch(msg bus.Message) {
	var batch []*types.SignedTransaction
	if err := rlp.DecodeBytes(msg.Payload, &batch); err != nil {
		log.Printf("[AUTH] dropping undecodable tx batch: %v", err)
		return
	}
	for _, stx := range batch {
		ret := s.Admit(stx)
		metrics.AdmissionResults.WithLabelValues(ret.String()).Inc()
	}
	metrics.MempoolSize.Set(float64(s.mempool.Len()))
}

func (s *Service) respond(id string, hash common.Hash, ret types.Ret) {
	enc, err := rlp.EncodeToBytes(&Response{TxHash: hash, Ret: uint8(ret)})
	if err != nil {
		return
	}
	s.bus.PublishWithID(id, bus.TopicAuthResponse, enc)
}

// handleBlockTxHashes advances the duplicate window and evicts committed
// transactions from the pool.
func (s *Service) handleBlockTxHashes(msg bus.Message) {
	var feed chain.BlockTxHashes
	if err := rlp.DecodeBytes(msg.Payload, &feed); err != nil {
		log.Printf("[AUTH] dropping undecodable tx hashes feed: %v", err)
		return
	}
	set := make(map[common.Hash]struct{}, len(feed.Hashes))
	for _, h := range feed.Hashes {
		set[h] = struct{}{}
	}
	s.verifier.UpdateHashes(feed.Height, set)
	s.mempool.Evict(feed.Hashes)
	metrics.MempoolSize.Set(float64(s.mempool.Len()))
}
