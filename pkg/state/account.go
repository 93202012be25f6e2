// Copyright 2025 Palisade Chain
//
// Account representation and the per-account in-memory object the executor
// mutates during block application.

package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/trie"
)

// EmptyCodeHash is the code hash of an account without code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// Account is the trie-resident record: nonce, balance, the root of the
// nested storage trie and the hash of the contract code.
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	StorageRoot common.Hash
	CodeHash    common.Hash
}

func newAccount() Account {
	return Account{
		Balance:     uint256.NewInt(0),
		StorageRoot: trie.EmptyRoot,
		CodeHash:    EmptyCodeHash,
	}
}

// stateObject is the mutable in-memory view of one account.
type stateObject struct {
	address common.Address
	data    Account

	storageTrie  *trie.Trie
	cachedState  map[common.Hash]common.Hash // committed values read so far
	dirtyStorage map[common.Hash]common.Hash

	code      []byte
	dirtyCode bool

	suicided bool
	deleted  bool
}

func newObject(addr common.Address, data Account) *stateObject {
	return &stateObject{
		address:      addr,
		data:         data,
		cachedState:  make(map[common.Hash]common.Hash),
		dirtyStorage: make(map[common.Hash]common.Hash),
	}
}

func (o *stateObject) empty() bool {
	return o.data.Nonce == 0 && o.data.Balance.IsZero() && o.data.CodeHash == EmptyCodeHash
}

// getState reads a storage slot, dirty value first, then the storage trie.
func (o *stateObject) getState(db *trie.NodeDB, key common.Hash) (common.Hash, error) {
	if v, dirty := o.dirtyStorage[key]; dirty {
		return v, nil
	}
	return o.committedState(db, key)
}

func (o *stateObject) committedState(db *trie.NodeDB, key common.Hash) (common.Hash, error) {
	if v, ok := o.cachedState[key]; ok {
		return v, nil
	}
	t, err := o.openStorage(db)
	if err != nil {
		return common.Hash{}, err
	}
	enc, err := t.Get(crypto.Keccak256(key.Bytes()))
	if err != nil {
		return common.Hash{}, err
	}
	var v common.Hash
	if len(enc) > 0 {
		var content []byte
		if err := rlp.DecodeBytes(enc, &content); err != nil {
			return common.Hash{}, err
		}
		v = common.BytesToHash(content)
	}
	o.cachedState[key] = v
	return v, nil
}

func (o *stateObject) openStorage(db *trie.NodeDB) (*trie.Trie, error) {
	if o.storageTrie == nil {
		t, err := trie.New(o.data.StorageRoot, db)
		if err != nil {
			return nil, err
		}
		o.storageTrie = t
	}
	return o.storageTrie, nil
}

// updateRoot flushes dirty storage into the storage trie and refreshes the
// account's storage root. Zero values delete their slots.
func (o *stateObject) updateRoot(db *trie.NodeDB) error {
	if len(o.dirtyStorage) == 0 {
		return nil
	}
	t, err := o.openStorage(db)
	if err != nil {
		return err
	}
	for key, val := range o.dirtyStorage {
		hashed := crypto.Keccak256(key.Bytes())
		if val == (common.Hash{}) {
			if err := t.Delete(hashed); err != nil {
				return err
			}
		} else {
			enc, _ := rlp.EncodeToBytes(trimLeftZeros(val.Bytes()))
			if err := t.Update(hashed, enc); err != nil {
				return err
			}
		}
		o.cachedState[key] = val
	}
	o.dirtyStorage = make(map[common.Hash]common.Hash)
	o.data.StorageRoot = t.Hash()
	return nil
}

func trimLeftZeros(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
