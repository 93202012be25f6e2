// Copyright 2025 Palisade Chain
//
// Snapshot tests: file format round trips and the export/restore cycle.

package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/chain"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/executor"
	"github.com/palisade-chain/palisade/pkg/kvdb"
	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/types"
)

var (
	testKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testAddr   = crypto.PubkeyToAddress(testKey.PublicKey)
	payeeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type testNode struct {
	bc   *chain.BlockChain
	db   *trie.NodeDB
	exec *executor.Executor
	cfg  *config.Config
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	cfg := config.Default()
	db := kvdb.NewMemDatabase()
	nodeDB := trie.NewNodeDB(db.Column(kvdb.ColState))
	exec := executor.New(cfg, nodeDB)
	genesis := &executor.Genesis{
		Timestamp:  1,
		Admin:      testAddr,
		Validators: []common.Address{testAddr},
		Alloc:      map[common.Address]*uint256.Int{testAddr: uint256.NewInt(1_000_000_000)},
	}
	bc, err := chain.New(cfg, db, exec, bus.NewInProc(), genesis)
	if err != nil {
		t.Fatal(err)
	}
	return &testNode{bc: bc, db: nodeDB, exec: exec, cfg: cfg}
}

// commitTransfer seals and commits one block moving value to the payee.
func (n *testNode) commitTransfer(t *testing.T, nonce uint64) {
	t.Helper()
	stx, err := types.NewSignedTransaction(types.Transaction{
		Nonce: nonce, To: &payeeAddr, Value: uint256.NewInt(1000 + nonce),
		Quota: 21000, ValidUntilBlock: 100, ChainID: 1,
	}, crypto.FromECDSA(testKey))
	if err != nil {
		t.Fatal(err)
	}
	txs := []*types.SignedTransaction{stx}
	parent := n.bc.CurrentHeader()
	timestamp := parent.Timestamp + 1
	res, err := n.bc.Execute(parent, txs, testAddr, timestamp, n.cfg.BlockQuotaLimit)
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
		QuotaLimit:       n.cfg.BlockQuotaLimit,
		QuotaUsed:        res.QuotaUsed,
		Timestamp:        timestamp,
		Proposer:         testAddr,
	}
	if err := n.bc.InsertBlock(types.NewBlock(header, &types.Body{Transactions: txs}), true); err != nil {
		t.Fatal(err)
	}
}

func TestPackedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	w, err := NewPackedWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	chunks := [][]byte{[]byte("chunk-one"), []byte("chunk-two-longer")}
	var hashes []common.Hash
	for _, c := range chunks {
		h, err := w.WriteChunk(c)
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h)
	}
	m := &Manifest{
		StateRoot:   crypto.Keccak256Hash([]byte("root")),
		BlockNumber: 10,
		BlockHash:   crypto.Keccak256Hash([]byte("block")),
	}
	if err := w.Finish(m); err != nil {
		t.Fatal(err)
	}

	r, err := OpenPacked(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got := r.Manifest()
	if got.BlockNumber != 10 || got.StateRoot != m.StateRoot || got.BlockHash != m.BlockHash {
		t.Fatalf("manifest changed: %+v", got)
	}
	if len(got.Chunks) != 2 {
		t.Fatalf("chunk list: %d", len(got.Chunks))
	}
	for i, h := range hashes {
		body, err := r.Chunk(h)
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != string(chunks[i]) {
			t.Fatalf("chunk %d changed: %q", i, body)
		}
	}
	if _, err := r.Chunk(crypto.Keccak256Hash([]byte("absent"))); err != ErrMissingChunk {
		t.Fatalf("missing chunk: %v", err)
	}
}

func TestPackedDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	w, _ := NewPackedWriter(path)
	h, _ := w.WriteChunk([]byte("chunk-body"))
	if err := w.Finish(&Manifest{}); err != nil {
		t.Fatal(err)
	}
	// flip a byte inside the chunk body
	raw, _ := os.ReadFile(path)
	raw[0] ^= 0xff
	os.WriteFile(path, raw, 0o644)

	r, err := OpenPacked(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Chunk(h); err != ErrChunkMismatch {
		t.Fatalf("corruption not detected: %v", err)
	}
}

func TestLooseRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	w, err := NewLooseWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, err := w.WriteChunk([]byte("loose-chunk"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(&Manifest{BlockNumber: 3}); err != nil {
		t.Fatal(err)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Manifest().BlockNumber != 3 {
		t.Fatal("loose manifest wrong")
	}
	body, err := r.Chunk(h)
	if err != nil || string(body) != "loose-chunk" {
		t.Fatalf("loose chunk wrong: %q %v", body, err)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	source := newTestNode(t)
	source.commitTransfer(t, 0)
	source.commitTransfer(t, 1)
	tip := source.bc.CurrentHeader()

	svc := NewService(source.bc, source.db, bus.NewInProc())
	path := filepath.Join(t.TempDir(), "snap.bin")
	if err := svc.Export(tip.Number, path, true); err != nil {
		t.Fatal(err)
	}

	// restore into a fresh node
	target := newTestNode(t)
	targetSvc := NewService(target.bc, target.db, bus.NewInProc())
	header, err := targetSvc.Import(path)
	if err != nil {
		t.Fatal(err)
	}
	if header.Number != tip.Number || header.Hash() != tip.Hash() {
		t.Fatalf("restored tip %d (%s), want %d (%s)",
			header.Number, header.Hash().Hex(), tip.Number, tip.Hash().Hex())
	}
	if target.bc.CurrentHeader().Hash() != tip.Hash() {
		t.Fatal("current hash not installed")
	}

	// balances from the pre-snapshot state are intact
	st, err := target.exec.StateAt(header.StateRoot)
	if err != nil {
		t.Fatal(err)
	}
	got, err := st.GetBalance(payeeAddr)
	if err != nil {
		t.Fatal(err)
	}
	srcSt, _ := source.exec.StateAt(tip.StateRoot)
	want, _ := srcSt.GetBalance(payeeAddr)
	if got.Cmp(want) != 0 {
		t.Fatalf("restored balance %v, want %v", got, want)
	}
}

func TestImportRejectsTamperedManifest(t *testing.T) {
	source := newTestNode(t)
	source.commitTransfer(t, 0)
	tip := source.bc.CurrentHeader()
	svc := NewService(source.bc, source.db, bus.NewInProc())
	path := filepath.Join(t.TempDir(), "snap.bin")
	if err := svc.Export(tip.Number, path, true); err != nil {
		t.Fatal(err)
	}

	target := newTestNode(t)
	targetSvc := NewService(target.bc, target.db, bus.NewInProc())
	// rewrite the file with every chunk intact but a forged manifest state root
	r, err := OpenPacked(path)
	if err != nil {
		t.Fatal(err)
	}
	m := *r.Manifest()
	r.Close()
	m.StateRoot = crypto.Keccak256Hash([]byte("forged"))
	// a forged root cannot be walked from the restored chunks
	forged := filepath.Join(t.TempDir(), "forged.bin")
	w, _ := NewPackedWriter(forged)
	orig, _ := OpenPacked(path)
	for _, c := range orig.Manifest().Chunks {
		body, err := orig.Chunk(c.Hash)
		if err != nil {
			t.Fatal(err)
		}
		w.WriteChunk(body)
	}
	orig.Close()
	if err := w.Finish(&m); err != nil {
		t.Fatal(err)
	}
	if _, err := targetSvc.Import(forged); err == nil {
		t.Fatal("forged snapshot accepted")
	}
	if target.bc.CurrentHeader().Number != 0 {
		t.Fatal("failed import moved the chain tip")
	}
}
