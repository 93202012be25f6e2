// Copyright 2025 Palisade Chain
//
// Write-ahead log tests: replay semantics, compaction and torn tails.

package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func tempWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "admit.wal"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestReplayAdmitsMinusDeletes(t *testing.T) {
	w := tempWAL(t)
	payloads := [][]byte{[]byte("tx-one"), []byte("tx-two"), []byte("tx-three")}
	for _, p := range payloads {
		if err := w.WriteAdmit(p); err != nil {
			t.Fatal(err)
		}
	}
	dropped := crypto.Keccak256Hash(payloads[1])
	if err := w.WriteDelete(dropped); err != nil {
		t.Fatal(err)
	}

	live := map[string]bool{}
	err := w.Replay(func(typ byte, payload []byte) error {
		switch typ {
		case RecordAdmit:
			live[string(payload)] = true
		case RecordDelete:
			for k := range live {
				if crypto.Keccak256Hash([]byte(k)) == common.BytesToHash(payload) {
					delete(live, k)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 || !live["tx-one"] || !live["tx-three"] {
		t.Fatalf("replay result wrong: %v", live)
	}
}

func TestReplayEmptyFile(t *testing.T) {
	w := tempWAL(t)
	count := 0
	if err := w.Replay(func(byte, []byte) error { count++; return nil }); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("replayed %d records from empty log", count)
	}
}

func TestTornTailIsTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admit.wal")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAdmit([]byte("intact")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// simulate a crash mid-append: garbage partial record at the tail
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{RecordAdmit, 0x00, 0x00, 0x00})
	f.Close()

	w2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	var got []string
	if err := w2.Replay(func(_ byte, p []byte) error { got = append(got, string(p)); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "intact" {
		t.Fatalf("torn tail replay wrong: %v", got)
	}
}

func TestCompactRewritesSurvivors(t *testing.T) {
	w := tempWAL(t)
	w.WriteAdmit([]byte("keep-a"))
	w.WriteAdmit([]byte("drop"))
	w.WriteAdmit([]byte("keep-b"))
	w.WriteDelete(crypto.Keccak256Hash([]byte("drop")))

	if err := w.Compact([][]byte{[]byte("keep-a"), []byte("keep-b")}); err != nil {
		t.Fatal(err)
	}
	var admits []string
	var deletes int
	if err := w.Replay(func(typ byte, p []byte) error {
		if typ == RecordAdmit {
			admits = append(admits, string(p))
		} else {
			deletes++
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if deletes != 0 {
		t.Fatalf("compacted log still has %d deletes", deletes)
	}
	if len(admits) != 2 || admits[0] != "keep-a" || admits[1] != "keep-b" {
		t.Fatalf("compacted admits wrong: %v", admits)
	}

	// log stays appendable after compaction
	if err := w.WriteAdmit([]byte("post-compact")); err != nil {
		t.Fatal(err)
	}
	count := 0
	w.Replay(func(byte, []byte) error { count++; return nil })
	if count != 3 {
		t.Fatalf("post-compaction append lost: %d records", count)
	}
}

func TestRejectLog(t *testing.T) {
	w := tempWAL(t)
	hash := crypto.Keccak256Hash([]byte("rejected"))
	if err := w.WriteReject(hash, 2); err != nil {
		t.Fatal(err)
	}
	var seen bool
	w.Replay(func(typ byte, p []byte) error {
		if typ == RecordReject {
			if common.BytesToHash(p[:32]) != hash || p[32] != 2 {
				t.Errorf("reject payload wrong: %x", p)
			}
			seen = true
		}
		return nil
	})
	if !seen {
		t.Fatal("reject record not replayed")
	}
}
