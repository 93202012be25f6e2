// Copyright 2025 Palisade Chain
//
// Native contract registry. Built-in contracts live at fixed reserved
// addresses; the executor resolves a call target here before falling back to
// stored bytecode.

package contracts

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/palisade-chain/palisade/pkg/vm"
)

// Reserved governance addresses.
var (
	NodeManagerAddr       = common.HexToAddress("0x00000000000000000000000000000000013241a2")
	QuotaManagerAddr      = common.HexToAddress("0x00000000000000000000000000000000013241a3")
	PermissionManagerAddr = common.HexToAddress("0x00000000000000000000000000000000013241b4")
	SimpleStorageAddr     = common.HexToAddress("0x0000000000000000000000000000000000000400")
)

// MethodID returns the 4-byte selector of a method signature.
func MethodID(signature string) [4]byte {
	var id [4]byte
	copy(id[:], crypto.Keccak256([]byte(signature))[:4])
	return id
}

// Registry maps reserved addresses to native contracts.
type Registry struct {
	contracts map[common.Address]vm.Contract
}

// NewRegistry wires the built-in governance and demo contracts.
func NewRegistry() *Registry {
	r := &Registry{contracts: make(map[common.Address]vm.Contract)}
	r.contracts[NodeManagerAddr] = &NodeManager{}
	r.contracts[QuotaManagerAddr] = &QuotaManager{}
	r.contracts[PermissionManagerAddr] = &PermissionManager{}
	r.contracts[SimpleStorageAddr] = &SimpleStorage{}
	return r
}

// Resolve returns the native contract at addr, if any.
func (r *Registry) Resolve(addr common.Address) (vm.Contract, bool) {
	c, ok := r.contracts[addr]
	return c, ok
}
