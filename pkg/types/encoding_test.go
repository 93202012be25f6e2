// Copyright 2025 Palisade Chain
//
// Wire encoding round trips and signature recovery.

package types

import (
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var testKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")

func signedTx(t *testing.T, nonce uint64) *SignedTransaction {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stx, err := NewSignedTransaction(Transaction{
		Nonce:           nonce,
		To:              &to,
		Value:           uint256.NewInt(1),
		Data:            []byte{0x01, 0x02},
		Quota:           21000,
		ValidUntilBlock: 10,
		ChainID:         1,
		Version:         0,
	}, crypto.FromECDSA(testKey))
	if err != nil {
		t.Fatal(err)
	}
	return stx
}

func TestTransactionRoundTrip(t *testing.T) {
	stx := signedTx(t, 0)
	enc, err := rlp.EncodeToBytes(stx)
	if err != nil {
		t.Fatal(err)
	}
	var dec SignedTransaction
	if err := rlp.DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if dec.Hash() != stx.Hash() {
		t.Fatalf("hash changed across round trip: %x vs %x", dec.Hash(), stx.Hash())
	}
	if !reflect.DeepEqual(dec.Tx, stx.Tx) {
		t.Fatalf("payload changed across round trip")
	}
}

func TestSenderRecovery(t *testing.T) {
	stx := signedTx(t, 0)
	sender, err := stx.Sender()
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.PubkeyToAddress(testKey.PublicKey)
	if sender != want {
		t.Fatalf("recovered sender %s, want %s", sender.Hex(), want.Hex())
	}

	// tampering with the payload must break recovery or change the signer
	tamperedTx := stx.Tx
	tamperedTx.Value = uint256.NewInt(999)
	bad := &SignedTransaction{Tx: tamperedTx, Signature: stx.Signature}
	got, err := bad.Sender()
	if err == nil && got == want {
		t.Fatal("tampered transaction still recovers the original sender")
	}
}

func TestBadSignatureLength(t *testing.T) {
	stx := signedTx(t, 0)
	bad := &SignedTransaction{Tx: stx.Tx, Signature: stx.Signature[:32]}
	if _, err := bad.Sender(); err != ErrBadSignatureLen {
		t.Fatalf("expected ErrBadSignatureLen, got %v", err)
	}
}

func testHeader() *Header {
	return &Header{
		ParentHash:       crypto.Keccak256Hash([]byte("parent")),
		StateRoot:        crypto.Keccak256Hash([]byte("state")),
		TransactionsRoot: crypto.Keccak256Hash([]byte("txs")),
		ReceiptsRoot:     crypto.Keccak256Hash([]byte("receipts")),
		Number:           7,
		QuotaLimit:       1 << 30,
		QuotaUsed:        42000,
		Timestamp:        1700000000,
		Version:          1,
		Proof: Proof{
			Height:       6,
			Round:        1,
			ProposalHash: crypto.Keccak256Hash([]byte("proposal")),
		},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		t.Fatal(err)
	}
	var dec Header
	if err := rlp.DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if dec.Hash() != h.Hash() {
		t.Fatalf("header hash changed across round trip")
	}
	if dec.Number != h.Number || dec.QuotaUsed != h.QuotaUsed || dec.Proof.Height != h.Proof.Height {
		t.Fatal("header fields changed across round trip")
	}
}

func TestBlockRoundTrip(t *testing.T) {
	header := testHeader()
	body := &Body{Transactions: []*SignedTransaction{signedTx(t, 0), signedTx(t, 1)}}
	block := NewBlock(header, body)
	enc, err := block.Encode()
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeBlock(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Hash() != block.Hash() {
		t.Fatal("block hash changed across round trip")
	}
	if len(dec.Body.Transactions) != 2 {
		t.Fatalf("body lost transactions: %d", len(dec.Body.Transactions))
	}
	if dec.Body.Transactions[1].Hash() != body.Transactions[1].Hash() {
		t.Fatal("transaction order or content changed")
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	r := &Receipt{
		StateRoot:           crypto.Keccak256Hash([]byte("root")),
		CumulativeQuotaUsed: 100000,
		Logs: []*Log{{
			Address: common.HexToAddress("0xaa"),
			Topics:  []common.Hash{crypto.Keccak256Hash([]byte("topic"))},
			Data:    []byte("payload"),
		}},
		Error:        ErrOutOfQuota,
		AccountNonce: 3,
		TxHash:       crypto.Keccak256Hash([]byte("tx")),
	}
	r.LogBloom = LogsBloom(r.Logs)
	enc, err := rlp.EncodeToBytes(r)
	if err != nil {
		t.Fatal(err)
	}
	var dec Receipt
	if err := rlp.DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if ReceiptHash(&dec) != ReceiptHash(r) {
		t.Fatal("receipt hash changed across round trip")
	}
	if dec.Error != ErrOutOfQuota || dec.AccountNonce != 3 {
		t.Fatal("receipt fields changed across round trip")
	}
}

func TestProofVerify(t *testing.T) {
	keys := make([][]byte, 4)
	addrs := make([]common.Address, 4)
	for i := range keys {
		k, _ := crypto.GenerateKey()
		keys[i] = crypto.FromECDSA(k)
		addrs[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	vs := NewValidatorSet(addrs)
	proposal := crypto.Keccak256Hash([]byte("block"))
	proof := &Proof{Height: 5, Round: 0, ProposalHash: proposal}
	digest := CommitDigest(5, 0, proposal)
	for i := 0; i < 3; i++ {
		priv, _ := crypto.ToECDSA(keys[i])
		sig, _ := crypto.Sign(digest.Bytes(), priv)
		proof.AddCommit(addrs[i], sig)
	}
	if err := proof.Verify(vs); err != nil {
		t.Fatalf("3-of-4 proof rejected: %v", err)
	}

	// 2 of 4 is not a quorum
	short := &Proof{Height: 5, Round: 0, ProposalHash: proposal, Commits: proof.Commits[:2]}
	if err := short.Verify(vs); err == nil {
		t.Fatal("2-of-4 proof accepted")
	}

	// round trip keeps it valid
	enc, _ := rlp.EncodeToBytes(proof)
	var dec Proof
	if err := rlp.DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if err := dec.Verify(vs); err != nil {
		t.Fatalf("decoded proof rejected: %v", err)
	}
}

func TestProofRejectsOutsideSigner(t *testing.T) {
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	vs := NewValidatorSet([]common.Address{crypto.PubkeyToAddress(k1.PublicKey)})
	proposal := crypto.Keccak256Hash([]byte("x"))
	digest := CommitDigest(1, 0, proposal)
	sig, _ := crypto.Sign(digest.Bytes(), k2)
	proof := &Proof{Height: 1, Round: 0, ProposalHash: proposal}
	proof.AddCommit(crypto.PubkeyToAddress(k2.PublicKey), sig)
	if err := proof.Verify(vs); err == nil {
		t.Fatal("proof with outside signer accepted")
	}
}

func TestValidatorSetProposerRotation(t *testing.T) {
	addrs := []common.Address{
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		common.HexToAddress("0x03"),
	}
	vs := NewValidatorSet(addrs)
	if got := vs.Proposer(1, 0); got != addrs[1] {
		t.Errorf("proposer(1,0): got %s", got.Hex())
	}
	if got := vs.Proposer(1, 2); got != addrs[0] {
		t.Errorf("proposer(1,2): got %s", got.Hex())
	}
	if !vs.QuorumReached(3) || vs.QuorumReached(2) {
		t.Error("quorum threshold wrong for n=3")
	}
}
