// Copyright 2025 Palisade Chain
//
// Chain tests: genesis, block commit, queries and log filtering.

package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/contracts"
	"github.com/palisade-chain/palisade/pkg/executor"
	"github.com/palisade-chain/palisade/pkg/kvdb"
	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/types"
)

var (
	testKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testAddr   = crypto.PubkeyToAddress(testKey.PublicKey)
)

type fixture struct {
	bc  *BlockChain
	bus *bus.InProc
	cfg *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	db := kvdb.NewMemDatabase()
	exec := executor.New(cfg, trie.NewNodeDB(db.Column(kvdb.ColState)))
	b := bus.NewInProc()
	genesis := &executor.Genesis{
		Timestamp:  1,
		Admin:      testAddr,
		Validators: []common.Address{testAddr},
		Alloc:      map[common.Address]*uint256.Int{testAddr: uint256.NewInt(1_000_000_000)},
	}
	bc, err := New(cfg, db, exec, b, genesis)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{bc: bc, bus: b, cfg: cfg}
}

// sealBlock executes txs on the tip and builds a committable block.
func (f *fixture) sealBlock(t *testing.T, txs []*types.SignedTransaction) *types.Block {
	t.Helper()
	parent := f.bc.CurrentHeader()
	timestamp := parent.Timestamp + 1
	res, err := f.bc.Execute(parent, txs, testAddr, timestamp, f.cfg.BlockQuotaLimit)
	if err != nil {
		t.Fatal(err)
	}
	header := &types.Header{
		ParentHash:       parent.Hash(),
		StateRoot:        res.StateRoot,
		TransactionsRoot: types.TxsRoot(txs),
		ReceiptsRoot:     types.ReceiptsRoot(res.Receipts),
		LogBloom:         res.LogBloom,
		Number:           parent.Number + 1,
		QuotaLimit:       f.cfg.BlockQuotaLimit,
		QuotaUsed:        res.QuotaUsed,
		Timestamp:        timestamp,
		Proposer:         testAddr,
	}
	return types.NewBlock(header, &types.Body{Transactions: txs})
}

func storageTx(t *testing.T, nonce uint64) *types.SignedTransaction {
	t.Helper()
	input := make([]byte, 36)
	id := contracts.MethodID("set(uint256)")
	copy(input, id[:])
	input[35] = byte(nonce + 1)
	target := contracts.SimpleStorageAddr
	stx, err := types.NewSignedTransaction(types.Transaction{
		Nonce: nonce, To: &target, Value: uint256.NewInt(0), Data: input,
		Quota: 30000, ValidUntilBlock: 100, ChainID: 1,
	}, crypto.FromECDSA(testKey))
	if err != nil {
		t.Fatal(err)
	}
	return stx
}

func TestGenesisAndResume(t *testing.T) {
	cfg := config.Default()
	db := kvdb.NewMemDatabase()
	exec := executor.New(cfg, trie.NewNodeDB(db.Column(kvdb.ColState)))
	b := bus.NewInProc()
	genesis := &executor.Genesis{Timestamp: 1, Admin: testAddr, Validators: []common.Address{testAddr}}
	bc, err := New(cfg, db, exec, b, genesis)
	if err != nil {
		t.Fatal(err)
	}
	tip := bc.CurrentHeader()
	if tip.Number != 0 {
		t.Fatalf("genesis height: %d", tip.Number)
	}

	// reopening the same database resumes instead of re-committing genesis
	exec2 := executor.New(cfg, trie.NewNodeDB(db.Column(kvdb.ColState)))
	bc2, err := New(cfg, db, exec2, b, genesis)
	if err != nil {
		t.Fatal(err)
	}
	if bc2.CurrentHeader().Hash() != tip.Hash() {
		t.Fatal("resumed tip differs from original genesis")
	}
}

func TestInsertBlockAndQueries(t *testing.T) {
	f := newFixture(t)
	statusCh, cancel := f.bus.Subscribe(bus.TopicStatus)
	defer cancel()

	tx := storageTx(t, 0)
	block := f.sealBlock(t, []*types.SignedTransaction{tx})
	if err := f.bc.InsertBlock(block, true); err != nil {
		t.Fatal(err)
	}
	if f.bc.CurrentHeader().Number != 1 {
		t.Fatalf("tip height: %d", f.bc.CurrentHeader().Number)
	}

	// status published with the new height
	select {
	case msg := <-statusCh:
		var status types.Status
		if err := rlp.DecodeBytes(msg.Payload, &status); err != nil {
			t.Fatal(err)
		}
		if status.Height != 1 || status.Hash != block.Hash() {
			t.Fatalf("status wrong: %+v", status)
		}
		if len(status.Validators) != 1 || status.Validators[0] != testAddr {
			t.Fatalf("status validators wrong: %v", status.Validators)
		}
	default:
		t.Fatal("no status broadcast after commit")
	}

	// queries
	got, err := f.bc.GetBlockByNumber(1)
	if err != nil || got == nil {
		t.Fatalf("GetBlockByNumber: %v", err)
	}
	if got.Hash() != block.Hash() {
		t.Fatal("query returned wrong block")
	}
	stx, loc, err := f.bc.GetTransaction(tx.Hash())
	if err != nil || stx == nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if loc.BlockHash != block.Hash() || loc.Index != 0 {
		t.Fatalf("tx location wrong: %+v", loc)
	}
	hashes, err := f.bc.TxHashesAt(1)
	if err != nil || len(hashes) != 1 || hashes[0] != tx.Hash() {
		t.Fatalf("TxHashesAt wrong: %v %v", hashes, err)
	}
	receipts, err := f.bc.GetReceipts(block.Hash())
	if err != nil || len(receipts) != 1 {
		t.Fatalf("GetReceipts: %v", err)
	}
	if receipts[0].TxHash != tx.Hash() {
		t.Fatal("receipt tx hash mismatch")
	}
}

func TestInsertBlockRejectsBadRoot(t *testing.T) {
	f := newFixture(t)
	block := f.sealBlock(t, []*types.SignedTransaction{storageTx(t, 0)})
	block.Header.StateRoot = crypto.Keccak256Hash([]byte("wrong"))
	if err := f.bc.InsertBlock(block, true); err == nil {
		t.Fatal("block with wrong state root accepted")
	}
}

func TestInsertBlockRejectsBadParent(t *testing.T) {
	f := newFixture(t)
	block := f.sealBlock(t, nil)
	block.Header.Number = 5
	if err := f.bc.InsertBlock(block, true); err == nil {
		t.Fatal("block with wrong number accepted")
	}
}

func TestLogFilter(t *testing.T) {
	f := newFixture(t)
	for i := uint64(0); i < 3; i++ {
		block := f.sealBlock(t, []*types.SignedTransaction{storageTx(t, i)})
		if err := f.bc.InsertBlock(block, true); err != nil {
			t.Fatal(err)
		}
	}
	logs, err := f.bc.GetLogs(&Filter{
		FromBlock: 0,
		ToBlock:   3,
		Addresses: []common.Address{contracts.SimpleStorageAddr},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("filter found %d logs, want 3", len(logs))
	}
	for _, l := range logs {
		if l.Log.Address != contracts.SimpleStorageAddr {
			t.Fatal("filter returned foreign log")
		}
	}

	// address that never logged
	none, err := f.bc.GetLogs(&Filter{
		FromBlock: 0, ToBlock: 3,
		Addresses: []common.Address{common.HexToAddress("0xdead")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("filter matched %d logs for silent address", len(none))
	}

	// limit caps the result
	capped, err := f.bc.GetLogs(&Filter{FromBlock: 0, ToBlock: 3, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 2 {
		t.Fatalf("limit ignored: %d logs", len(capped))
	}
}

func TestSynchronizerGapRequest(t *testing.T) {
	f := newFixture(t)
	reqCh, cancel := f.bus.Subscribe(bus.TopicSyncRequest)
	defer cancel()
	sync := NewSynchronizer(f.bc, f.bus, 10, nil)
	sync.OnPeerStatus(&types.Status{Height: 25})
	select {
	case msg := <-reqCh:
		var req SyncRequest
		if err := rlp.DecodeBytes(msg.Payload, &req); err != nil {
			t.Fatal(err)
		}
		if len(req.Heights) != 10 || req.Heights[0] != 1 || req.Heights[9] != 10 {
			t.Fatalf("sync window wrong: %v", req.Heights)
		}
	default:
		t.Fatal("no sync request for gap")
	}
	// no request when the peer is at or behind the tip
	sync.OnPeerStatus(&types.Status{Height: 0})
	select {
	case <-reqCh:
		t.Fatal("sync request for non-gap status")
	default:
	}
}
