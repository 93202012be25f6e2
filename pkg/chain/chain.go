// Copyright 2025 Palisade Chain
//
// The authoritative chain: an append-only sequence of committed blocks with
// single-writer commit, concurrent readers, status broadcasting and the
// duplicate-window feed for the auth subsystem.

package chain

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/contracts"
	"github.com/palisade-chain/palisade/pkg/executor"
	"github.com/palisade-chain/palisade/pkg/kvdb"
	"github.com/palisade-chain/palisade/pkg/metrics"
	"github.com/palisade-chain/palisade/pkg/types"
)

var (
	ErrUnknownParent   = errors.New("unknown parent block")
	ErrRootMismatch    = errors.New("executed state root does not match header")
	ErrReceiptMismatch = errors.New("executed receipts root does not match header")
	ErrBadProof        = errors.New("block proof rejected")
)

const (
	headerCacheSize = 512
	bodyCacheSize   = 256
	lastHashCount   = 256
)

// BlockChain persists committed blocks and answers queries. Commit is
// single-writer; reads go through the caches under a read-write lock.
type BlockChain struct {
	cfg  *config.Config
	db   *kvdb.Database
	exec *executor.Executor
	bus  bus.Bus

	store *store

	mu            sync.RWMutex
	currentHeader *types.Header

	headerCache *lru.Cache[common.Hash, *types.Header]
	bodyCache   *lru.Cache[common.Hash, *types.Body]
}

// New opens the chain, committing the genesis block on first start.
func New(cfg *config.Config, db *kvdb.Database, exec *executor.Executor, b bus.Bus, genesis *executor.Genesis) (*BlockChain, error) {
	headerCache, _ := lru.New[common.Hash, *types.Header](headerCacheSize)
	bodyCache, _ := lru.New[common.Hash, *types.Body](bodyCacheSize)
	bc := &BlockChain{
		cfg:         cfg,
		db:          db,
		exec:        exec,
		bus:         b,
		store:       newStore(db),
		headerCache: headerCache,
		bodyCache:   bodyCache,
	}
	current, err := bc.store.readCurrentHash()
	if err != nil {
		return nil, err
	}
	if current == (common.Hash{}) {
		block, err := exec.CommitGenesis(genesis)
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		batch := db.NewBatch()
		if err := exec.NodeDB().Commit(batch); err != nil {
			return nil, err
		}
		if err := bc.store.queueBlock(batch, block, nil); err != nil {
			return nil, err
		}
		if err := batch.Write(); err != nil {
			return nil, err
		}
		bc.currentHeader = block.Header
		log.Printf("[CHAIN] committed genesis block %s", block.Hash().Hex())
		return bc, nil
	}
	header, err := bc.store.readHeader(current)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("current hash %s has no header: database corrupt", current.Hex())
	}
	bc.currentHeader = header
	log.Printf("[CHAIN] resumed at height %d (%s)", header.Number, current.Hex())
	return bc, nil
}

// CurrentHeader returns the chain tip.
func (bc *BlockChain) CurrentHeader() *types.Header {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.currentHeader
}

// GetHeaderByHash fetches a header.
func (bc *BlockChain) GetHeaderByHash(hash common.Hash) (*types.Header, error) {
	if h, ok := bc.headerCache.Get(hash); ok {
		return h, nil
	}
	h, err := bc.store.readHeader(hash)
	if err != nil || h == nil {
		return nil, err
	}
	bc.headerCache.Add(hash, h)
	return h, nil
}

// GetHeaderByNumber fetches the canonical header at a height.
func (bc *BlockChain) GetHeaderByNumber(number uint64) (*types.Header, error) {
	hash, err := bc.store.readCanonicalHash(number)
	if err != nil || hash == (common.Hash{}) {
		return nil, err
	}
	return bc.GetHeaderByHash(hash)
}

// GetBody fetches a block body.
func (bc *BlockChain) GetBody(hash common.Hash) (*types.Body, error) {
	if b, ok := bc.bodyCache.Get(hash); ok {
		return b, nil
	}
	b, err := bc.store.readBody(hash)
	if err != nil || b == nil {
		return nil, err
	}
	bc.bodyCache.Add(hash, b)
	return b, nil
}

// GetBlockByNumber assembles the canonical block at a height.
func (bc *BlockChain) GetBlockByNumber(number uint64) (*types.Block, error) {
	header, err := bc.GetHeaderByNumber(number)
	if err != nil || header == nil {
		return nil, err
	}
	body, err := bc.GetBody(header.Hash())
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = &types.Body{}
	}
	return types.NewBlock(header, body), nil
}

// GetReceipts fetches the receipts of a block.
func (bc *BlockChain) GetReceipts(hash common.Hash) ([]*types.Receipt, error) {
	return bc.store.readReceipts(hash)
}

// GetTransaction resolves a transaction hash to its block and receipt.
func (bc *BlockChain) GetTransaction(txHash common.Hash) (*types.SignedTransaction, *TxLocation, error) {
	loc, err := bc.store.readTxLocation(txHash)
	if err != nil || loc == nil {
		return nil, nil, err
	}
	body, err := bc.GetBody(loc.BlockHash)
	if err != nil || body == nil {
		return nil, nil, err
	}
	if int(loc.Index) >= len(body.Transactions) {
		return nil, nil, fmt.Errorf("tx index %d out of range", loc.Index)
	}
	return body.Transactions[loc.Index], loc, nil
}

// TxHashesAt returns the committed tx hashes of a height (duplicate-window
// feed).
func (bc *BlockChain) TxHashesAt(number uint64) ([]common.Hash, error) {
	block, err := bc.GetBlockByNumber(number)
	if err != nil || block == nil {
		return nil, err
	}
	return block.Body.TxHashes(), nil
}

// LastHashes returns the hashes of up to lastHashCount ancestors of the
// given header, most recent first.
func (bc *BlockChain) LastHashes(from *types.Header) []common.Hash {
	var out []common.Hash
	h := from
	for h != nil && len(out) < lastHashCount {
		out = append(out, h.Hash())
		if h.Number == 0 {
			break
		}
		parent, err := bc.GetHeaderByHash(h.ParentHash)
		if err != nil {
			break
		}
		h = parent
	}
	return out
}

// ValidatorsAt reads the validator set effective at the given height from
// the governance contract in the tip state.
func (bc *BlockChain) ValidatorsAt(height uint64) ([]common.Address, error) {
	tip := bc.CurrentHeader()
	st, err := bc.exec.StateAt(tip.StateRoot)
	if err != nil {
		return nil, err
	}
	return contracts.ValidatorsAt(st, height)
}

// QuotaLimits reads the block and account quota limits from the governance
// contract in the tip state.
func (bc *BlockChain) QuotaLimits() (uint64, types.AccountQuota, error) {
	tip := bc.CurrentHeader()
	st, err := bc.exec.StateAt(tip.StateRoot)
	if err != nil {
		return 0, types.AccountQuota{}, err
	}
	return contracts.QuotaLimits(st)
}

// Execute runs a transaction list on top of parent for proposal assembly
// and validation; nothing is persisted until the block commits.
func (bc *BlockChain) Execute(parent *types.Header, txs []*types.SignedTransaction, proposer common.Address, timestamp, quotaLimit uint64) (*executor.BlockResult, error) {
	return bc.exec.ApplyBlock(parent.StateRoot, txs, executor.Env{
		Number:     parent.Number + 1,
		Timestamp:  timestamp,
		Proposer:   proposer,
		QuotaLimit: quotaLimit,
		LastHashes: bc.LastHashes(parent),
	})
}

// InsertBlock validates, executes and commits one block. Blocks arrive here
// from consensus finalization or from network sync; proofVerified marks a
// block whose proof this node assembled itself.
func (bc *BlockChain) InsertBlock(block *types.Block, proofVerified bool) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	header := block.Header
	parent := bc.currentHeader
	if header.Number != parent.Number+1 || header.ParentHash != parent.Hash() {
		return fmt.Errorf("%w: block %d parent %s", ErrUnknownParent, header.Number, header.ParentHash.Hex())
	}
	if err := header.VerifyAgainstParent(parent); err != nil {
		return err
	}
	if !proofVerified && header.Number > 1 {
		// the proof finalizes the parent against the set active then
		if header.Proof.Height != parent.Number || header.Proof.ProposalHash != header.ParentHash {
			return fmt.Errorf("%w: proof does not cover parent", ErrBadProof)
		}
		vaddrs, err := bc.validatorsAtLocked(header.Number - 1)
		if err != nil {
			return err
		}
		if err := header.Proof.Verify(types.NewValidatorSet(vaddrs)); err != nil {
			return fmt.Errorf("%w: %v", ErrBadProof, err)
		}
	}
	txRoot := types.TxsRoot(block.Body.Transactions)
	if txRoot != header.TransactionsRoot {
		return fmt.Errorf("transactions root mismatch: have %s want %s", txRoot.Hex(), header.TransactionsRoot.Hex())
	}

	res, err := bc.exec.ApplyBlock(parent.StateRoot, block.Body.Transactions, executor.Env{
		Number:     header.Number,
		Timestamp:  header.Timestamp,
		Proposer:   header.Proposer,
		QuotaLimit: header.QuotaLimit,
		LastHashes: bc.LastHashes(parent),
	})
	if err != nil {
		return err
	}
	if res.StateRoot != header.StateRoot {
		return fmt.Errorf("%w: executed %s header %s", ErrRootMismatch, res.StateRoot.Hex(), header.StateRoot.Hex())
	}
	if rRoot := types.ReceiptsRoot(res.Receipts); rRoot != header.ReceiptsRoot {
		return fmt.Errorf("%w: executed %s header %s", ErrReceiptMismatch, rRoot.Hex(), header.ReceiptsRoot.Hex())
	}
	if res.LogBloom != header.LogBloom {
		return fmt.Errorf("%w: log bloom", ErrReceiptMismatch)
	}

	batch := bc.db.NewBatch()
	if err := bc.exec.NodeDB().Commit(batch); err != nil {
		return err
	}
	if err := bc.store.queueBlock(batch, block, res.Receipts); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit block %d: %w", header.Number, err)
	}
	bc.currentHeader = header
	bc.headerCache.Add(header.Hash(), header)
	bc.bodyCache.Add(header.Hash(), block.Body)
	metrics.ChainHeight.Set(float64(header.Number))
	metrics.BlockQuotaUsed.Set(float64(res.QuotaUsed))
	metrics.ExecutedTxs.Add(float64(len(block.Body.Transactions)))
	log.Printf("[CHAIN] committed block %d (%s) txs=%d quota=%d",
		header.Number, header.Hash().Hex(), len(block.Body.Transactions), res.QuotaUsed)

	bc.publishStatusLocked()
	bc.publishTxHashesLocked(header.Number, block.Body.TxHashes())
	return nil
}

// ForceSetHead installs a restored snapshot tip. Snapshot import is the only
// caller.
func (bc *BlockChain) ForceSetHead(header *types.Header) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	batch := bc.db.NewBatch()
	if err := bc.exec.NodeDB().Commit(batch); err != nil {
		return err
	}
	if err := bc.store.queueBlock(batch, types.NewBlock(header, &types.Body{}), nil); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	bc.currentHeader = header
	bc.publishStatusLocked()
	return nil
}

func (bc *BlockChain) validatorsAtLocked(height uint64) ([]common.Address, error) {
	st, err := bc.exec.StateAt(bc.currentHeader.StateRoot)
	if err != nil {
		return nil, err
	}
	return contracts.ValidatorsAt(st, height)
}

// publishStatusLocked broadcasts the tip; statuses are monotone in height.
func (bc *BlockChain) publishStatusLocked() {
	validators, err := bc.validatorsAtLocked(bc.currentHeader.Number + 1)
	if err != nil {
		log.Printf("[CHAIN] reading validator set failed: %v", err)
	}
	status := &types.Status{
		Height:     bc.currentHeader.Number,
		Hash:       bc.currentHeader.Hash(),
		Validators: validators,
	}
	enc, err := rlp.EncodeToBytes(status)
	if err != nil {
		return
	}
	bc.bus.Publish(bus.TopicStatus, enc)
}

// BlockTxHashes is the duplicate-window feed payload.
type BlockTxHashes struct {
	Height uint64
	Hashes []common.Hash
}

func (bc *BlockChain) publishTxHashesLocked(height uint64, hashes []common.Hash) {
	enc, err := rlp.EncodeToBytes(&BlockTxHashes{Height: height, Hashes: hashes})
	if err != nil {
		return
	}
	bc.bus.Publish(bus.TopicBlockTxHashes, enc)
}

// PublishTxHashesAt re-sends the feed for one height on request.
func (bc *BlockChain) PublishTxHashesAt(height uint64) error {
	hashes, err := bc.TxHashesAt(height)
	if err != nil {
		return err
	}
	enc, err := rlp.EncodeToBytes(&BlockTxHashes{Height: height, Hashes: hashes})
	if err != nil {
		return err
	}
	bc.bus.Publish(bus.TopicBlockTxHashes, enc)
	return nil
}
