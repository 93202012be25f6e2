// Copyright 2025 Palisade Chain
//
// Block synchronizer: fills gaps between the local tip and peer-announced
// heights, verifying each block's proof before it is appended.

package chain

import (
	"log"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/types"
)

// SyncRequest asks peers for the blocks at the listed heights.
type SyncRequest struct {
	Heights []uint64
}

// SyncResponse carries encoded blocks, lowest height first.
type SyncResponse struct {
	Blocks [][]byte
}

// Synchronizer reacts to peer statuses. Sync-sourced blocks are only
// accepted while local consensus is not finalizing the same height; the
// consensing predicate is supplied by the consensus engine.
type Synchronizer struct {
	chain      *BlockChain
	bus        bus.Bus
	window     uint64
	consensing func(height uint64) bool
}

// NewSynchronizer wires the synchronizer onto the chain.
func NewSynchronizer(chain *BlockChain, b bus.Bus, window uint64, consensing func(uint64) bool) *Synchronizer {
	if window == 0 {
		window = 100
	}
	if consensing == nil {
		consensing = func(uint64) bool { return false }
	}
	return &Synchronizer{chain: chain, bus: b, window: window, consensing: consensing}
}

// OnPeerStatus requests any gap between the local tip and a peer tip,
// capped at the sync window.
func (s *Synchronizer) OnPeerStatus(status *types.Status) {
	current := s.chain.CurrentHeader().Number
	if status.Height <= current+1 {
		return
	}
	from := current + 1
	to := status.Height
	if to-from+1 > s.window {
		to = from + s.window - 1
	}
	heights := make([]uint64, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}
	enc, err := rlp.EncodeToBytes(&SyncRequest{Heights: heights})
	if err != nil {
		return
	}
	log.Printf("[SYNC] requesting blocks %d..%d (peer at %d)", from, to, status.Height)
	s.bus.Publish(bus.TopicSyncRequest, enc)
}

// OnSyncResponse verifies and appends fetched blocks in order. A proof or
// execution failure stops the batch; the remainder is re-requested on the
// next status.
func (s *Synchronizer) OnSyncResponse(resp *SyncResponse) {
	for _, raw := range resp.Blocks {
		block, err := types.DecodeBlock(raw)
		if err != nil {
			log.Printf("[SYNC] dropping undecodable block: %v", err)
			return
		}
		current := s.chain.CurrentHeader().Number
		if block.Number() <= current {
			continue
		}
		if s.consensing(block.Number()) {
			log.Printf("[SYNC] deferring block %d: consensus active at that height", block.Number())
			return
		}
		if err := s.chain.InsertBlock(block, false); err != nil {
			log.Printf("[SYNC] rejecting block %d: %v", block.Number(), err)
			return
		}
	}
}

// ServeSyncRequest answers a peer's gap request from local storage.
func (s *Synchronizer) ServeSyncRequest(req *SyncRequest) {
	var blocks [][]byte
	for _, h := range req.Heights {
		block, err := s.chain.GetBlockByNumber(h)
		if err != nil || block == nil {
			break
		}
		enc, err := block.Encode()
		if err != nil {
			break
		}
		blocks = append(blocks, enc)
	}
	if len(blocks) == 0 {
		return
	}
	enc, err := rlp.EncodeToBytes(&SyncResponse{Blocks: blocks})
	if err != nil {
		return
	}
	s.bus.Publish(bus.TopicSyncResponse, enc)
}
