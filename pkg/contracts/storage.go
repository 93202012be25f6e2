// Copyright 2025 Palisade Chain
//
// Slot-level storage helpers shared by the native contracts. Lists and maps
// are laid out over 32-byte slots: a length slot plus one derived slot per
// element, all under the owning contract's storage trie.

package contracts

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/palisade-chain/palisade/pkg/state"
)

// slot derives a storage slot from a label and parts.
func slot(label string, parts ...[]byte) common.Hash {
	data := []byte(label)
	for _, p := range parts {
		data = append(data, p...)
	}
	return crypto.Keccak256Hash(data)
}

func indexSlot(label string, index uint64) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return slot(label, b[:])
}

func readUint(st *state.StateDB, addr common.Address, key common.Hash) (uint64, error) {
	v, err := st.GetState(addr, key)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v[24:]), nil
}

func writeUint(st *state.StateDB, addr common.Address, key common.Hash, val uint64) error {
	var v common.Hash
	binary.BigEndian.PutUint64(v[24:], val)
	return st.SetState(addr, key, v)
}

func readAddressList(st *state.StateDB, addr common.Address, label string) ([]common.Address, error) {
	n, err := readUint(st, addr, slot(label+".len"))
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := st.GetState(addr, indexSlot(label, i))
		if err != nil {
			return nil, err
		}
		out = append(out, common.BytesToAddress(v[12:]))
	}
	return out, nil
}

func writeAddressList(st *state.StateDB, addr common.Address, label string, list []common.Address) error {
	if err := writeUint(st, addr, slot(label+".len"), uint64(len(list))); err != nil {
		return err
	}
	for i, a := range list {
		var v common.Hash
		copy(v[12:], a.Bytes())
		if err := st.SetState(addr, indexSlot(label, uint64(i)), v); err != nil {
			return err
		}
	}
	return nil
}

func readUintList(st *state.StateDB, addr common.Address, label string) ([]uint64, error) {
	n, err := readUint(st, addr, slot(label+".len"))
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := readUint(st, addr, indexSlot(label, i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func writeUintList(st *state.StateDB, addr common.Address, label string, list []uint64) error {
	if err := writeUint(st, addr, slot(label+".len"), uint64(len(list))); err != nil {
		return err
	}
	for i, v := range list {
		if err := writeUint(st, addr, indexSlot(label, uint64(i)), v); err != nil {
			return err
		}
	}
	return nil
}
