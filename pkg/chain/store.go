// Copyright 2025 Palisade Chain
//
// Raw block storage over the kvdb columns: headers, bodies, extras (number
// index, current pointer, receipts, proposer), and the per-transaction
// lookup index.

package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/kvdb"
	"github.com/palisade-chain/palisade/pkg/types"
)

var (
	keyCurrentHash = []byte("current-hash")

	prefixNumber   = []byte("num:")
	prefixReceipts = []byte("rcp:")
)

// store bundles the column handles.
type store struct {
	headers *kvdb.Column
	bodies  *kvdb.Column
	extras  *kvdb.Column
	txIndex *kvdb.Column
}

func newStore(db *kvdb.Database) *store {
	return &store{
		headers: db.Column(kvdb.ColHeaders),
		bodies:  db.Column(kvdb.ColBodies),
		extras:  db.Column(kvdb.ColExtras),
		txIndex: db.Column(kvdb.ColTxIndex),
	}
}

func numberKey(n uint64) []byte {
	out := make([]byte, len(prefixNumber)+8)
	copy(out, prefixNumber)
	binary.BigEndian.PutUint64(out[len(prefixNumber):], n)
	return out
}

func receiptsKey(hash common.Hash) []byte {
	return append(append([]byte{}, prefixReceipts...), hash.Bytes()...)
}

// TxLocation points a transaction hash at its block and index.
type TxLocation struct {
	BlockHash common.Hash
	Index     uint32
}

func (s *store) readHeader(hash common.Hash) (*types.Header, error) {
	enc, err := s.headers.Get(hash.Bytes())
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	var h types.Header
	if err := rlp.DecodeBytes(enc, &h); err != nil {
		return nil, fmt.Errorf("decode header %s: %w", hash.Hex(), err)
	}
	return &h, nil
}

func (s *store) readBody(hash common.Hash) (*types.Body, error) {
	enc, err := s.bodies.Get(hash.Bytes())
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	var b types.Body
	if err := rlp.DecodeBytes(enc, &b); err != nil {
		return nil, fmt.Errorf("decode body %s: %w", hash.Hex(), err)
	}
	return &b, nil
}

func (s *store) readReceipts(hash common.Hash) ([]*types.Receipt, error) {
	enc, err := s.extras.Get(receiptsKey(hash))
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	var rs []*types.Receipt
	if err := rlp.DecodeBytes(enc, &rs); err != nil {
		return nil, fmt.Errorf("decode receipts %s: %w", hash.Hex(), err)
	}
	return rs, nil
}

func (s *store) readCanonicalHash(number uint64) (common.Hash, error) {
	enc, err := s.extras.Get(numberKey(number))
	if err != nil || len(enc) == 0 {
		return common.Hash{}, err
	}
	return common.BytesToHash(enc), nil
}

func (s *store) readCurrentHash() (common.Hash, error) {
	enc, err := s.extras.Get(keyCurrentHash)
	if err != nil || len(enc) == 0 {
		return common.Hash{}, err
	}
	return common.BytesToHash(enc), nil
}

func (s *store) readTxLocation(txHash common.Hash) (*TxLocation, error) {
	enc, err := s.txIndex.Get(txHash.Bytes())
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	var loc TxLocation
	if err := rlp.DecodeBytes(enc, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// queueBlock stages a full block write into the batch: header, body,
// receipts, number index, tx index and the current pointer.
func (s *store) queueBlock(batch *kvdb.Batch, block *types.Block, receipts []*types.Receipt) error {
	hash := block.Hash()
	headerEnc, err := rlp.EncodeToBytes(block.Header)
	if err != nil {
		return err
	}
	if err := batch.Set(s.headers, hash.Bytes(), headerEnc); err != nil {
		return err
	}
	bodyEnc, err := rlp.EncodeToBytes(block.Body)
	if err != nil {
		return err
	}
	if err := batch.Set(s.bodies, hash.Bytes(), bodyEnc); err != nil {
		return err
	}
	receiptsEnc, err := rlp.EncodeToBytes(receipts)
	if err != nil {
		return err
	}
	if err := batch.Set(s.extras, receiptsKey(hash), receiptsEnc); err != nil {
		return err
	}
	if err := batch.Set(s.extras, numberKey(block.Number()), hash.Bytes()); err != nil {
		return err
	}
	for i, tx := range block.Body.Transactions {
		loc, err := rlp.EncodeToBytes(&TxLocation{BlockHash: hash, Index: uint32(i)})
		if err != nil {
			return err
		}
		if err := batch.Set(s.txIndex, tx.Hash().Bytes(), loc); err != nil {
			return err
		}
	}
	return batch.Set(s.extras, keyCurrentHash, hash.Bytes())
}
