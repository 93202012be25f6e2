// Copyright 2025 Palisade Chain
//
// Log queries. A filter scans a height range, pruning blocks whose bloom
// cannot contain a match before touching receipts.

package chain

import (
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/palisade-chain/palisade/pkg/types"
)

// Filter selects logs by block range, emitting address and per-position
// topic disjunctions. An empty address list or topic slot is unrestricted.
type Filter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
	Limit     int
}

// FilterLog is a matched log with its chain coordinates.
type FilterLog struct {
	Log         *types.Log
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint32
	LogIndex    uint32
}

// bloomPossible reports whether a block bloom could contain a match.
func (f *Filter) bloomPossible(bloom ethtypes.Bloom) bool {
	if len(f.Addresses) > 0 {
		found := false
		for _, addr := range f.Addresses {
			if ethtypes.BloomLookup(bloom, addr) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, slot := range f.Topics {
		if len(slot) == 0 {
			continue
		}
		found := false
		for _, topic := range slot {
			if ethtypes.BloomLookup(bloom, topic) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matches applies the exact predicate to one log.
func (f *Filter) matches(l *types.Log) bool {
	if len(f.Addresses) > 0 {
		found := false
		for _, addr := range f.Addresses {
			if addr == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, slot := range f.Topics {
		if len(slot) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, topic := range slot {
			if topic == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetLogs runs the filter over the chain. The tip bounds the range; a zero
// Limit returns everything.
func (bc *BlockChain) GetLogs(f *Filter) ([]*FilterLog, error) {
	tip := bc.CurrentHeader().Number
	to := f.ToBlock
	if to > tip || to == 0 {
		to = tip
	}
	var out []*FilterLog
	for n := f.FromBlock; n <= to; n++ {
		header, err := bc.GetHeaderByNumber(n)
		if err != nil || header == nil {
			return out, err
		}
		if !f.bloomPossible(header.LogBloom) {
			continue
		}
		receipts, err := bc.GetReceipts(header.Hash())
		if err != nil {
			return out, err
		}
		for ti, r := range receipts {
			for li, l := range r.Logs {
				if !f.matches(l) {
					continue
				}
				out = append(out, &FilterLog{
					Log:         l,
					BlockNumber: n,
					BlockHash:   header.Hash(),
					TxHash:      r.TxHash,
					TxIndex:     uint32(ti),
					LogIndex:    uint32(li),
				})
				if f.Limit > 0 && len(out) >= f.Limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}
