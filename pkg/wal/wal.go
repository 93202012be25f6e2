// Copyright 2025 Palisade Chain
//
// Mempool write-ahead log. Admissions are logged before a transaction
// becomes visible to proposers; deletions are logged before in-memory
// eviction. Replay on startup reconstructs the pool as
// union(ADMIT) - union(DELETE) in log order.

package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Record types.
const (
	RecordAdmit  byte = 1
	RecordDelete byte = 2
	RecordReject byte = 3
)

var ErrCorruptRecord = errors.New("wal: corrupt record")

// WAL is an append-only log file. All methods are safe for one writer; the
// mempool serializes access through its own lock.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open creates or opens the log at path for appending.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal open: %w", err)
	}
	return &WAL{path: path, file: f}, nil
}

// WriteAdmit logs an admitted transaction's encoding. The write is synced:
// admission must not be acknowledged on a lost record.
func (w *WAL) WriteAdmit(txBytes []byte) error {
	return w.append(RecordAdmit, txBytes, true)
}

// WriteDelete logs the eviction of a committed transaction. Deletion
// durability is not required for correctness, so no sync.
func (w *WAL) WriteDelete(hash common.Hash) error {
	return w.append(RecordDelete, hash.Bytes(), false)
}

// WriteReject logs a failed admission (hash plus result code) to the
// debugging filter log. Best effort, never synced.
func (w *WAL) WriteReject(hash common.Hash, code byte) error {
	return w.append(RecordReject, append(hash.Bytes(), code), false)
}

func (w *WAL) append(typ byte, payload []byte, sync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return errors.New("wal closed")
	}
	rec := make([]byte, 0, 1+4+len(payload)+4)
	rec = append(rec, typ)
	rec = binary.BigEndian.AppendUint32(rec, uint32(len(payload)))
	rec = append(rec, payload...)
	sum := crc32.ChecksumIEEE(rec)
	rec = binary.BigEndian.AppendUint32(rec, sum)
	if _, err := w.file.Write(rec); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal sync: %w", err)
		}
	}
	return nil
}

// Replay streams every intact record in order. A torn tail (truncated or
// checksum-failing record) ends the replay without error; anything after a
// crash mid-append is unreachable by design.
func (w *WAL) Replay(fn func(typ byte, payload []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			return nil // EOF or torn header
		}
		size := binary.BigEndian.Uint32(header[1:])
		body := make([]byte, size+4)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil // torn payload
		}
		payload, sumBytes := body[:size], body[size:]
		check := crc32.ChecksumIEEE(append(append([]byte{}, header...), payload...))
		if binary.BigEndian.Uint32(sumBytes) != check {
			return nil // torn tail
		}
		if err := fn(header[0], payload); err != nil {
			return err
		}
	}
}

// Compact rewrites the log as a single batch of ADMIT records for the given
// surviving transactions, atomically replacing the old file.
func (w *WAL) Compact(txs [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	tmp := w.path + ".compact"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal compact: %w", err)
	}
	fresh := &WAL{path: tmp, file: f}
	for _, tx := range txs {
		if err := fresh.append(RecordAdmit, tx, false); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if w.file != nil {
		w.file.Close()
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("wal compact rename: %w", err)
	}
	nf, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal reopen: %w", err)
	}
	w.file = nf
	return nil
}

// Close releases the file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
