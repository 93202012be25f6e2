// Copyright 2025 Palisade Chain
//
// StateDB: the executor-facing authenticated state. One instance is owned by
// the apply thread for the duration of a block; readers use their own
// instance opened at a committed root.

package state

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/types"
)

// StateDB tracks account objects loaded from the account trie plus an undo
// journal for snapshot/revert.
type StateDB struct {
	db   *trie.NodeDB
	trie *trie.Trie

	objects map[common.Address]*stateObject
	journal []journalEntry

	logs []*types.Log
}

// New opens the state at the given root.
func New(root common.Hash, db *trie.NodeDB) (*StateDB, error) {
	t, err := trie.New(root, db)
	if err != nil {
		return nil, err
	}
	return &StateDB{
		db:      db,
		trie:    t,
		objects: make(map[common.Address]*stateObject),
	}, nil
}

func (s *StateDB) getObject(addr common.Address) (*stateObject, error) {
	if o, ok := s.objects[addr]; ok {
		if o.deleted {
			return nil, nil
		}
		return o, nil
	}
	enc, err := s.trie.Get(crypto.Keccak256(addr.Bytes()))
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 {
		return nil, nil
	}
	var acc Account
	if err := rlp.DecodeBytes(enc, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr.Hex(), err)
	}
	o := newObject(addr, acc)
	s.objects[addr] = o
	return o, nil
}

// getOrCreate loads the account, creating it on first write.
func (s *StateDB) getOrCreate(addr common.Address) (*stateObject, error) {
	o, err := s.getObject(addr)
	if err != nil {
		return nil, err
	}
	if o == nil {
		o = newObject(addr, newAccount())
		s.objects[addr] = o
		s.journal = append(s.journal, createChange{account: addr})
	}
	return o, nil
}

// Exist reports whether the account has state.
func (s *StateDB) Exist(addr common.Address) (bool, error) {
	o, err := s.getObject(addr)
	return o != nil, err
}

func (s *StateDB) GetBalance(addr common.Address) (*uint256.Int, error) {
	o, err := s.getObject(addr)
	if err != nil || o == nil {
		return uint256.NewInt(0), err
	}
	return new(uint256.Int).Set(o.data.Balance), nil
}

func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) error {
	o, err := s.getOrCreate(addr)
	if err != nil {
		return err
	}
	s.journal = append(s.journal, balanceChange{account: addr, prev: o.data.Balance})
	o.data.Balance = new(uint256.Int).Add(o.data.Balance, amount)
	return nil
}

func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) error {
	o, err := s.getOrCreate(addr)
	if err != nil {
		return err
	}
	s.journal = append(s.journal, balanceChange{account: addr, prev: o.data.Balance})
	o.data.Balance = new(uint256.Int).Sub(o.data.Balance, amount)
	return nil
}

func (s *StateDB) GetNonce(addr common.Address) (uint64, error) {
	o, err := s.getObject(addr)
	if err != nil || o == nil {
		return 0, err
	}
	return o.data.Nonce, nil
}

func (s *StateDB) SetNonce(addr common.Address, nonce uint64) error {
	o, err := s.getOrCreate(addr)
	if err != nil {
		return err
	}
	s.journal = append(s.journal, nonceChange{account: addr, prev: o.data.Nonce})
	o.data.Nonce = nonce
	return nil
}

func (s *StateDB) GetCodeHash(addr common.Address) (common.Hash, error) {
	o, err := s.getObject(addr)
	if err != nil || o == nil {
		return EmptyCodeHash, err
	}
	return o.data.CodeHash, nil
}

func (s *StateDB) GetCode(addr common.Address) ([]byte, error) {
	o, err := s.getObject(addr)
	if err != nil || o == nil {
		return nil, err
	}
	if o.code != nil || o.data.CodeHash == EmptyCodeHash {
		return o.code, nil
	}
	code, err := s.db.Blob(o.data.CodeHash)
	if err != nil {
		return nil, err
	}
	o.code = code
	return code, nil
}

// SetCode installs contract code; the account's code hash becomes the keccak
// hash of the blob, preserving the code_hash == hash(code) invariant.
func (s *StateDB) SetCode(addr common.Address, code []byte) error {
	o, err := s.getOrCreate(addr)
	if err != nil {
		return err
	}
	s.journal = append(s.journal, codeChange{account: addr, prevCode: o.code, prevHash: o.data.CodeHash})
	o.code = common.CopyBytes(code)
	o.data.CodeHash = crypto.Keccak256Hash(code)
	o.dirtyCode = true
	return nil
}

func (s *StateDB) GetState(addr common.Address, key common.Hash) (common.Hash, error) {
	o, err := s.getObject(addr)
	if err != nil || o == nil {
		return common.Hash{}, err
	}
	return o.getState(s.db, key)
}

func (s *StateDB) SetState(addr common.Address, key, value common.Hash) error {
	o, err := s.getOrCreate(addr)
	if err != nil {
		return err
	}
	prev, err := o.getState(s.db, key)
	if err != nil {
		return err
	}
	s.journal = append(s.journal, storageChange{account: addr, key: key, prev: prev})
	o.dirtyStorage[key] = value
	return nil
}

// Suicide marks the account for removal at end of transaction and transfers
// its full remaining balance to the refund address.
func (s *StateDB) Suicide(addr, refund common.Address) error {
	o, err := s.getObject(addr)
	if err != nil || o == nil {
		return err
	}
	balance := o.data.Balance
	s.journal = append(s.journal, suicideChange{account: addr, prev: o.suicided, prevBalance: balance})
	o.suicided = true
	o.data.Balance = uint256.NewInt(0)
	return s.AddBalance(refund, balance)
}

func (s *StateDB) HasSuicided(addr common.Address) bool {
	if o, ok := s.objects[addr]; ok {
		return o.suicided
	}
	return false
}

// AddLog appends an event emitted by the current frame. Logs revert with the
// frame that emitted them.
func (s *StateDB) AddLog(l *types.Log) {
	s.journal = append(s.journal, logChange{})
	s.logs = append(s.logs, l)
}

// TakeLogs returns every log emitted since the previous TakeLogs call and
// clears the buffer.
func (s *StateDB) TakeLogs() []*types.Log {
	out := s.logs
	s.logs = nil
	return out
}

// Snapshot marks the current journal position for a later revert.
func (s *StateDB) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot unwinds every mutation after the given mark.
func (s *StateDB) RevertToSnapshot(mark int) {
	for i := len(s.journal) - 1; i >= mark; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:mark]
}

// Finalise applies end-of-transaction cleanup: suicided accounts are
// dropped. The journal is discarded; reverts cannot cross tx boundaries.
func (s *StateDB) Finalise() {
	for _, o := range s.objects {
		if o.suicided {
			o.deleted = true
		}
	}
	s.journal = s.journal[:0]
}

// Commit flushes every loaded object into the account trie and returns the
// new state root. Addresses are processed in sorted order so the overlay
// population is deterministic.
func (s *StateDB) Commit() (common.Hash, error) {
	addrs := make([]common.Address, 0, len(s.objects))
	for a := range s.objects {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Cmp(addrs[j]) < 0
	})
	for _, addr := range addrs {
		o := s.objects[addr]
		hashed := crypto.Keccak256(addr.Bytes())
		if o.deleted {
			if err := s.trie.Delete(hashed); err != nil {
				return common.Hash{}, err
			}
			continue
		}
		if o.dirtyCode {
			s.db.InsertBlob(o.code)
			o.dirtyCode = false
		}
		if err := o.updateRoot(s.db); err != nil {
			return common.Hash{}, err
		}
		enc, err := rlp.EncodeToBytes(&o.data)
		if err != nil {
			return common.Hash{}, err
		}
		if err := s.trie.Update(hashed, enc); err != nil {
			return common.Hash{}, err
		}
	}
	return s.trie.Hash(), nil
}
