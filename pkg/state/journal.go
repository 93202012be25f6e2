// Copyright 2025 Palisade Chain
//
// Undo journal. Every state mutation appends an inverse operation; reverting
// to a snapshot replays the tail in reverse. This is what makes a VM
// sub-frame revert cheap while the outer transaction commits.

package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type journalEntry interface {
	revert(s *StateDB)
}

type (
	createChange struct {
		account common.Address
	}
	balanceChange struct {
		account common.Address
		prev    *uint256.Int
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
	storageChange struct {
		account common.Address
		key     common.Hash
		prev    common.Hash
	}
	codeChange struct {
		account  common.Address
		prevCode []byte
		prevHash common.Hash
	}
	suicideChange struct {
		account     common.Address
		prev        bool
		prevBalance *uint256.Int
	}
	logChange struct{}
)

func (c createChange) revert(s *StateDB) {
	delete(s.objects, c.account)
}

func (c balanceChange) revert(s *StateDB) {
	s.objects[c.account].data.Balance = c.prev
}

func (c nonceChange) revert(s *StateDB) {
	s.objects[c.account].data.Nonce = c.prev
}

func (c storageChange) revert(s *StateDB) {
	s.objects[c.account].dirtyStorage[c.key] = c.prev
}

func (c codeChange) revert(s *StateDB) {
	o := s.objects[c.account]
	o.code = c.prevCode
	o.data.CodeHash = c.prevHash
}

func (c suicideChange) revert(s *StateDB) {
	o := s.objects[c.account]
	o.suicided = c.prev
	o.data.Balance = c.prevBalance
}

func (c logChange) revert(s *StateDB) {
	s.logs = s.logs[:len(s.logs)-1]
}
