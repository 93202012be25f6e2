// Copyright 2025 Palisade Chain
//
// Simple storage: a minimal native contract exposing one 256-bit register.
// Kept as a registry exercise target and an executor smoke-test fixture.

package contracts

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/types"
	"github.com/palisade-chain/palisade/pkg/vm"
)

var (
	selStorageSet = MethodID("set(uint256)")
	selStorageGet = MethodID("get()")
)

// SimpleStorage is the native contract at SimpleStorageAddr.
type SimpleStorage struct{}

func (s *SimpleStorage) Execute(ctx *vm.Context, st *state.StateDB, input []byte, quota uint64) ([]byte, uint64, error) {
	if quota < quotaNativeCall {
		return nil, 0, vm.ErrOutOfQuota
	}
	quota -= quotaNativeCall
	if len(input) < 4 {
		return nil, quota, ErrShortInput
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	switch sel {
	case selStorageSet:
		if len(input) < 36 {
			return nil, quota, ErrShortInput
		}
		var v common.Hash
		copy(v[:], input[4:36])
		if err := st.SetState(SimpleStorageAddr, slot("storage.value"), v); err != nil {
			return nil, quota, err
		}
		st.AddLog(&types.Log{
			Address: SimpleStorageAddr,
			Topics:  []common.Hash{common.Hash(slot("storage.set"))},
			Data:    v.Bytes(),
		})
		return nil, quota, nil
	case selStorageGet:
		v, err := st.GetState(SimpleStorageAddr, slot("storage.value"))
		if err != nil {
			return nil, quota, err
		}
		return v.Bytes(), quota, nil
	default:
		return nil, quota, ErrUnknownMethod
	}
}
