// Copyright 2025 Palisade Chain
//
// Snapshot file layouts. Packed: all chunk bodies concatenated in one file,
// followed by the RLP manifest and an 8-byte little-endian manifest offset.
// Loose: one file per chunk named by the lower-hex chunk hash, plus a
// MANIFEST file holding the bare RLP manifest.

package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Writer receives chunks and a closing manifest.
type Writer interface {
	WriteChunk(chunk []byte) (common.Hash, error)
	Finish(m *Manifest) error
}

// Reader hands back chunks by hash.
type Reader interface {
	Manifest() *Manifest
	Chunk(hash common.Hash) ([]byte, error)
	Close() error
}

// ====== packed layout ======

// PackedWriter writes the single-file layout.
type PackedWriter struct {
	file   *os.File
	chunks []ChunkInfo
	curLen uint64
}

// NewPackedWriter creates the snapshot file at path.
func NewPackedWriter(path string) (*PackedWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &PackedWriter{file: f}, nil
}

// WriteChunk appends a chunk body and records its hash and offset.
func (w *PackedWriter) WriteChunk(chunk []byte) (common.Hash, error) {
	hash := crypto.Keccak256Hash(chunk)
	if _, err := w.file.Write(chunk); err != nil {
		return common.Hash{}, err
	}
	w.chunks = append(w.chunks, ChunkInfo{Hash: hash, Len: uint64(len(chunk)), Offset: w.curLen})
	w.curLen += uint64(len(chunk))
	return hash, nil
}

// Finish appends the manifest and its offset trailer and closes the file.
func (w *PackedWriter) Finish(m *Manifest) error {
	m.Chunks = w.chunks
	enc, err := rlp.EncodeToBytes(m)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(enc); err != nil {
		return err
	}
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], w.curLen)
	if _, err := w.file.Write(trailer[:]); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// PackedReader reads the single-file layout.
type PackedReader struct {
	file     *os.File
	manifest *Manifest
	offsets  map[common.Hash]ChunkInfo
}

// OpenPacked parses the manifest trailer of a packed snapshot.
func OpenPacked(path string) (*PackedReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < 8 {
		f.Close()
		return nil, ErrInvalidFormat
	}
	var trailer [8]byte
	if _, err := f.ReadAt(trailer[:], info.Size()-8); err != nil {
		f.Close()
		return nil, err
	}
	off := int64(binary.LittleEndian.Uint64(trailer[:]))
	if off < 0 || off > info.Size()-8 {
		f.Close()
		return nil, ErrInvalidFormat
	}
	manifestEnc := make([]byte, info.Size()-8-off)
	if _, err := f.ReadAt(manifestEnc, off); err != nil {
		f.Close()
		return nil, err
	}
	var m Manifest
	if err := rlp.DecodeBytes(manifestEnc, &m); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	offsets := make(map[common.Hash]ChunkInfo, len(m.Chunks))
	for _, c := range m.Chunks {
		offsets[c.Hash] = c
	}
	return &PackedReader{file: f, manifest: &m, offsets: offsets}, nil
}

func (r *PackedReader) Manifest() *Manifest { return r.manifest }

// Chunk reads and hash-checks one chunk body.
func (r *PackedReader) Chunk(hash common.Hash) ([]byte, error) {
	c, ok := r.offsets[hash]
	if !ok {
		return nil, ErrMissingChunk
	}
	buf := make([]byte, c.Len)
	if _, err := r.file.ReadAt(buf, int64(c.Offset)); err != nil {
		return nil, err
	}
	if crypto.Keccak256Hash(buf) != hash {
		return nil, ErrChunkMismatch
	}
	return buf, nil
}

func (r *PackedReader) Close() error { return r.file.Close() }

// ====== loose layout ======

// LooseWriter writes one file per chunk into a directory.
type LooseWriter struct {
	dir    string
	chunks []ChunkInfo
}

// NewLooseWriter creates the snapshot directory.
func NewLooseWriter(dir string) (*LooseWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LooseWriter{dir: dir}, nil
}

func (w *LooseWriter) WriteChunk(chunk []byte) (common.Hash, error) {
	hash := crypto.Keccak256Hash(chunk)
	name := filepath.Join(w.dir, fmt.Sprintf("%x", hash.Bytes()))
	if err := os.WriteFile(name, chunk, 0o644); err != nil {
		return common.Hash{}, err
	}
	w.chunks = append(w.chunks, ChunkInfo{Hash: hash, Len: uint64(len(chunk))})
	return hash, nil
}

func (w *LooseWriter) Finish(m *Manifest) error {
	m.Chunks = w.chunks
	enc, err := rlp.EncodeToBytes(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, "MANIFEST"), enc, 0o644)
}

// LooseReader reads the directory layout.
type LooseReader struct {
	dir      string
	manifest *Manifest
}

// OpenLoose parses the MANIFEST of a loose snapshot directory.
func OpenLoose(dir string) (*LooseReader, error) {
	enc, err := os.ReadFile(filepath.Join(dir, "MANIFEST"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := rlp.DecodeBytes(enc, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return &LooseReader{dir: dir, manifest: &m}, nil
}

func (r *LooseReader) Manifest() *Manifest { return r.manifest }

func (r *LooseReader) Chunk(hash common.Hash) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(r.dir, fmt.Sprintf("%x", hash.Bytes())))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingChunk
		}
		return nil, err
	}
	if crypto.Keccak256Hash(buf) != hash {
		return nil, ErrChunkMismatch
	}
	return buf, nil
}

func (r *LooseReader) Close() error { return nil }

// Open detects the layout at path: a directory is loose, a file is packed.
func Open(path string) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return OpenLoose(path)
	}
	return OpenPacked(path)
}

var _ io.Closer = (*PackedReader)(nil)
