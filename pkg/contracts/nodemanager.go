// Copyright 2025 Palisade Chain
//
// Node manager: the on-chain registry governing the validator set. A
// membership change committed in block h becomes effective at h+1, never
// mid-height.

package contracts

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/vm"
)

var (
	selListNode    = MethodID("listNode()")
	selApproveNode = MethodID("approveNode(address)")
	selDeleteNode  = MethodID("deleteNode(address)")
)

var (
	ErrUnknownMethod = errors.New("unknown method selector")
	ErrNotAdmin      = errors.New("caller is not the chain admin")
	ErrShortInput    = errors.New("call data too short")
)

const quotaNativeCall = 500

// NodeManager is the native contract at NodeManagerAddr.
type NodeManager struct{}

// Execute dispatches on the 4-byte selector.
func (n *NodeManager) Execute(ctx *vm.Context, st *state.StateDB, input []byte, quota uint64) ([]byte, uint64, error) {
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
	case selListNode:
		list, err := ValidatorsAt(st, ctx.Number)
		if err != nil {
			return nil, quota, err
		}
		return encodeAddressList(list), quota, nil
	case selApproveNode:
		addr, err := wordAddress(input[4:])
		if err != nil {
			return nil, quota, err
		}
		return nil, quota, n.mutate(ctx, st, addr, true)
	case selDeleteNode:
		addr, err := wordAddress(input[4:])
		if err != nil {
			return nil, quota, err
		}
		return nil, quota, n.mutate(ctx, st, addr, false)
	default:
		return nil, quota, ErrUnknownMethod
	}
}

func (n *NodeManager) mutate(ctx *vm.Context, st *state.StateDB, addr common.Address, add bool) error {
	if err := requireAdmin(st, ctx.Origin); err != nil {
		return err
	}
	effective, err := ValidatorsAt(st, ctx.Number)
	if err != nil {
		return err
	}
	next := make([]common.Address, 0, len(effective)+1)
	for _, a := range effective {
		if a != addr {
			next = append(next, a)
		}
	}
	if add {
		next = append(next, addr)
	}
	// the pre-change list stays authoritative through the current height
	if err := writeAddressList(st, NodeManagerAddr, "nodes.current", effective); err != nil {
		return err
	}
	if err := writeAddressList(st, NodeManagerAddr, "nodes.pending", next); err != nil {
		return err
	}
	return writeUint(st, NodeManagerAddr, slot("nodes.activation"), ctx.Number+1)
}

// ValidatorsAt reads the validator set effective at the given height.
func ValidatorsAt(st *state.StateDB, height uint64) ([]common.Address, error) {
	activation, err := readUint(st, NodeManagerAddr, slot("nodes.activation"))
	if err != nil {
		return nil, err
	}
	label := "nodes.current"
	if height >= activation {
		if pending, err := readAddressList(st, NodeManagerAddr, "nodes.pending"); err == nil && len(pending) > 0 {
			return pending, nil
		}
	}
	return readAddressList(st, NodeManagerAddr, label)
}

// SetupGenesisNodes installs the initial validator set, effective from
// height zero.
func SetupGenesisNodes(st *state.StateDB, validators []common.Address) error {
	if err := writeAddressList(st, NodeManagerAddr, "nodes.current", validators); err != nil {
		return err
	}
	if err := writeAddressList(st, NodeManagerAddr, "nodes.pending", validators); err != nil {
		return err
	}
	return writeUint(st, NodeManagerAddr, slot("nodes.activation"), 0)
}

// requireAdmin gates governance writes to the chain admin account.
func requireAdmin(st *state.StateDB, caller common.Address) error {
	v, err := st.GetState(PermissionManagerAddr, slot("admin"))
	if err != nil {
		return err
	}
	if common.BytesToAddress(v[12:]) != caller {
		return ErrNotAdmin
	}
	return nil
}

// SetAdmin installs the chain admin at genesis.
func SetAdmin(st *state.StateDB, admin common.Address) error {
	var v common.Hash
	copy(v[12:], admin.Bytes())
	return st.SetState(PermissionManagerAddr, slot("admin"), v)
}

func wordAddress(data []byte) (common.Address, error) {
	if len(data) < 32 {
		return common.Address{}, ErrShortInput
	}
	return common.BytesToAddress(data[12:32]), nil
}

func encodeAddressList(list []common.Address) []byte {
	out := make([]byte, 32*(len(list)+1))
	out[31] = byte(len(list))
	for i, a := range list {
		copy(out[32*(i+1)+12:], a.Bytes())
	}
	return out
}
