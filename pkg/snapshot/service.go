// Copyright 2025 Palisade Chain
//
// Snapshot service: exports a frozen state package at a height, restores one
// into a (possibly empty) node, and drives the pause/resume command protocol
// across the other subsystems.

package snapshot

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/errgroup"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/chain"
	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/types"
)

// chunkTarget is the flush threshold for chunk bodies.
const chunkTarget = 1 << 19

// Command codes of the snapshot protocol.
type Command uint8

const (
	CmdSnapshot Command = iota
	CmdBegin
	CmdRestore
	CmdClear
	CmdEnd
)

// Req is a snapshot protocol request.
type Req struct {
	Cmd         Command
	StartHeight uint64
	EndHeight   uint64
	File        string
	Proof       types.Proof
}

// Resp acknowledges a protocol step.
type Resp struct {
	Resp   Command
	Flag   bool
	Height uint64
	Proof  types.Proof
}

// Pausable is implemented by subsystems that must stand still across a
// restore.
type Pausable interface {
	PauseInbound()
	ResumeInbound()
	ClearBelow(height uint64)
}

// Service performs exports and imports against the chain and its state
// store.
type Service struct {
	chain     *chain.BlockChain
	db        *trie.NodeDB
	bus       bus.Bus
	pausables []Pausable

	quit chan struct{}
	done chan struct{}
}

// NewService wires the snapshot service.
func NewService(c *chain.BlockChain, db *trie.NodeDB, b bus.Bus, pausables ...Pausable) *Service {
	return &Service{
		chain:     c,
		db:        db,
		bus:       b,
		pausables: pausables,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ====== export ======

// Export writes the state at endHeight into a snapshot at path. Packed when
// packed is true, loose otherwise.
func (s *Service) Export(endHeight uint64, path string, packed bool) error {
	tip := s.chain.CurrentHeader()
	if endHeight > tip.Number {
		return fmt.Errorf("snapshot height %d beyond tip %d", endHeight, tip.Number)
	}
	header, err := s.chain.GetHeaderByNumber(endHeight)
	if err != nil || header == nil {
		return fmt.Errorf("snapshot: no header at height %d", endHeight)
	}

	var w Writer
	if packed {
		w, err = NewPackedWriter(path)
	} else {
		w, err = NewLooseWriter(path)
	}
	if err != nil {
		return err
	}

	packer := &chunkPacker{w: w}
	collect := func(hash common.Hash, enc []byte) error {
		return packer.add(enc)
	}
	// account trie, then every storage trie and code blob it references
	err = s.db.WalkLeaves(header.StateRoot, collect, func(value []byte) error {
		var acc state.Account
		if err := rlp.DecodeBytes(value, &acc); err != nil {
			return nil // non-account leaf, already collected
		}
		if err := s.db.Walk(acc.StorageRoot, collect); err != nil {
			return err
		}
		if acc.CodeHash != state.EmptyCodeHash {
			code, err := s.db.Blob(acc.CodeHash)
			if err != nil {
				return err
			}
			return packer.add(code)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot export walk: %w", err)
	}
	// the tip header rides along as a blob addressed by the block hash
	headerEnc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	if err := packer.add(headerEnc); err != nil {
		return err
	}
	if err := packer.flush(); err != nil {
		return err
	}

	manifest := &Manifest{
		StateRoot:   header.StateRoot,
		BlockNumber: header.Number,
		BlockHash:   header.Hash(),
	}
	if child, err := s.chain.GetHeaderByNumber(endHeight + 1); err == nil && child != nil {
		manifest.LastProof = child.Proof
	}
	if err := w.Finish(manifest); err != nil {
		return err
	}
	log.Printf("[SNAPSHOT] exported height %d (%s) to %s", endHeight, header.Hash().Hex(), path)
	return nil
}

// chunkPacker groups blobs into RLP-list chunk bodies.
type chunkPacker struct {
	w     Writer
	blobs [][]byte
	size  int
}

func (p *chunkPacker) add(blob []byte) error {
	p.blobs = append(p.blobs, blob)
	p.size += len(blob)
	if p.size >= chunkTarget {
		return p.flush()
	}
	return nil
}

func (p *chunkPacker) flush() error {
	if len(p.blobs) == 0 {
		return nil
	}
	enc, err := rlp.EncodeToBytes(p.blobs)
	if err != nil {
		return err
	}
	p.blobs = nil
	p.size = 0
	_, err = p.w.WriteChunk(enc)
	return err
}

// ====== import ======

// Import restores a snapshot: chunks are verified and staged, the state is
// walked for referential integrity, then the tip is installed atomically.
// Nothing is persisted on any failure.
func (s *Service) Import(path string) (*types.Header, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	m := r.Manifest()

	// fetch and unpack chunks concurrently; staging is overlay-only
	var g errgroup.Group
	g.SetLimit(4)
	for _, info := range m.Chunks {
		info := info
		g.Go(func() error {
			body, err := r.Chunk(info.Hash)
			if err != nil {
				return err
			}
			var blobs [][]byte
			if err := rlp.DecodeBytes(body, &blobs); err != nil {
				return fmt.Errorf("%w: chunk %s", ErrInvalidFormat, info.Hash.Hex())
			}
			for _, blob := range blobs {
				s.db.InsertBlob(blob)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.db.Discard()
		return nil, err
	}

	// referential integrity: every node reachable from the root must exist
	err = s.db.WalkLeaves(m.StateRoot, nil, func(value []byte) error {
		var acc state.Account
		if err := rlp.DecodeBytes(value, &acc); err != nil {
			return nil
		}
		if err := s.db.Walk(acc.StorageRoot, func(common.Hash, []byte) error { return nil }); err != nil {
			return err
		}
		if acc.CodeHash != state.EmptyCodeHash {
			if _, err := s.db.Blob(acc.CodeHash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.db.Discard()
		return nil, fmt.Errorf("%w: %v", ErrMissingChunk, err)
	}

	headerEnc, err := s.db.Blob(m.BlockHash)
	if err != nil {
		s.db.Discard()
		return nil, ErrMissingHeader
	}
	var header types.Header
	if err := rlp.DecodeBytes(headerEnc, &header); err != nil {
		s.db.Discard()
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidFormat, err)
	}
	if header.StateRoot != m.StateRoot || header.Number != m.BlockNumber || header.Hash() != m.BlockHash {
		s.db.Discard()
		return nil, ErrRootMismatch
	}
	if err := s.chain.ForceSetHead(&header); err != nil {
		return nil, err
	}
	log.Printf("[SNAPSHOT] restored height %d (%s) from %s", header.Number, header.Hash().Hex(), path)
	return &header, nil
}

// ====== command protocol ======

// Run serves the snapshot protocol until Stop.
func (s *Service) Run() {
	reqCh, cancel := s.bus.Subscribe(bus.TopicSnapshotReq)
	go func() {
		defer close(s.done)
		defer cancel()
		var restored *types.Header
		for {
			select {
			case msg, ok := <-reqCh:
				if !ok {
					return
				}
				var req Req
				if err := rlp.DecodeBytes(msg.Payload, &req); err != nil {
					log.Printf("[SNAPSHOT] dropping undecodable request: %v", err)
					continue
				}
				restored = s.serve(&req, restored, msg.ID)
			case <-s.quit:
				return
			}
		}
	}()
}

// Stop terminates the protocol loop.
func (s *Service) Stop() {
	close(s.quit)
	<-s.done
}

func (s *Service) serve(req *Req, restored *types.Header, msgID string) *types.Header {
	resp := &Resp{Resp: req.Cmd, Flag: true}
	switch req.Cmd {
	case CmdSnapshot:
		if err := s.Export(req.EndHeight, req.File, true); err != nil {
			log.Printf("[SNAPSHOT] export failed: %v", err)
			resp.Flag = false
		}
	case CmdBegin:
		for _, p := range s.pausables {
			p.PauseInbound()
		}
	case CmdRestore:
		header, err := s.Import(req.File)
		if err != nil {
			log.Printf("[SNAPSHOT] import failed: %v", err)
			resp.Flag = false
		} else {
			restored = header
			resp.Height = header.Number
			resp.Proof = header.Proof
		}
	case CmdClear:
		if restored == nil {
			resp.Flag = false
		} else {
			for _, p := range s.pausables {
				p.ClearBelow(restored.Number)
			}
			resp.Height = restored.Number
		}
	case CmdEnd:
		for _, p := range s.pausables {
			p.ResumeInbound()
		}
		resp.Height = req.EndHeight
		resp.Proof = req.Proof
	}
	enc, err := rlp.EncodeToBytes(resp)
	if err != nil {
		return restored
	}
	s.bus.PublishWithID(msgID, bus.TopicSnapshotResp, enc)
	return restored
}
