// Copyright 2025 Palisade Chain
//
// Permission manager: account-level transaction permissions and per-resource
// (contract, selector) call rights.

package contracts

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/vm"
)

// Permission identifiers.
const (
	PermSendTx         uint64 = 1
	PermCreateContract uint64 = 2
)

var (
	selGrantPermission  = MethodID("grantPermission(address,uint64)")
	selRevokePermission = MethodID("revokePermission(address,uint64)")
	selGrantResource    = MethodID("grantResource(address,address,bytes4)")
	selRevokeResource   = MethodID("revokeResource(address,address,bytes4)")
	selHasPermission    = MethodID("hasPermission(address,uint64)")
)

// PermissionManager is the native contract at PermissionManagerAddr.
type PermissionManager struct{}

func (p *PermissionManager) Execute(ctx *vm.Context, st *state.StateDB, input []byte, quota uint64) ([]byte, uint64, error) {
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
	case selGrantPermission, selRevokePermission:
		if err := requireAdmin(st, ctx.Origin); err != nil {
			return nil, quota, err
		}
		addr, err := wordAddress(input[4:])
		if err != nil {
			return nil, quota, err
		}
		perm, err := wordUint(input[36:])
		if err != nil {
			return nil, quota, err
		}
		return nil, quota, setFlag(st, permSlot(addr, perm), sel == selGrantPermission)
	case selGrantResource, selRevokeResource:
		if err := requireAdmin(st, ctx.Origin); err != nil {
			return nil, quota, err
		}
		account, err := wordAddress(input[4:])
		if err != nil {
			return nil, quota, err
		}
		target, err := wordAddress(input[36:])
		if err != nil {
			return nil, quota, err
		}
		if len(input) < 68+4 {
			return nil, quota, ErrShortInput
		}
		var method [4]byte
		copy(method[:], input[68:72])
		return nil, quota, setFlag(st, resourceSlot(account, target, method), sel == selGrantResource)
	case selHasPermission:
		addr, err := wordAddress(input[4:])
		if err != nil {
			return nil, quota, err
		}
		perm, err := wordUint(input[36:])
		if err != nil {
			return nil, quota, err
		}
		ok, err := HasPermission(st, addr, perm)
		if err != nil {
			return nil, quota, err
		}
		out := make([]byte, 32)
		if ok {
			out[31] = 1
		}
		return out, quota, nil
	default:
		return nil, quota, ErrUnknownMethod
	}
}

func permSlot(account common.Address, perm uint64) common.Hash {
	return slot("perm.flag", account.Bytes(), encodeUint(perm))
}

func resourceSlot(account, target common.Address, method [4]byte) common.Hash {
	return slot("perm.resource", account.Bytes(), target.Bytes(), method[:])
}

func setFlag(st *state.StateDB, key common.Hash, on bool) error {
	var v common.Hash
	if on {
		v[31] = 1
	}
	return st.SetState(PermissionManagerAddr, key, v)
}

// HasPermission reports whether account holds the given permission.
func HasPermission(st *state.StateDB, account common.Address, perm uint64) (bool, error) {
	v, err := st.GetState(PermissionManagerAddr, permSlot(account, perm))
	if err != nil {
		return false, err
	}
	return v[31] == 1, nil
}

// HasResource reports whether account may call target's method.
func HasResource(st *state.StateDB, account, target common.Address, method [4]byte) (bool, error) {
	v, err := st.GetState(PermissionManagerAddr, resourceSlot(account, target, method))
	if err != nil {
		return false, err
	}
	return v[31] == 1, nil
}

// GrantGenesis gives an account the base permissions at genesis.
func GrantGenesis(st *state.StateDB, account common.Address) error {
	if err := setFlag(st, permSlot(account, PermSendTx), true); err != nil {
		return err
	}
	return setFlag(st, permSlot(account, PermCreateContract), true)
}
