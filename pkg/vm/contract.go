// Copyright 2025 Palisade Chain
//
// Contract dispatch. Every callable target — EVM-style bytecode and built-in
// native contracts — implements the one-method Contract interface; the
// executor resolves the variant by target address.

package vm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/state"
)

// Context is the execution environment of one transaction frame. LastHashes
// and the block fields are the only permitted randomness sources.
type Context struct {
	Origin     common.Address
	Caller     common.Address
	Address    common.Address
	Value      *uint256.Int
	Number     uint64
	Timestamp  uint64
	Proposer   common.Address
	QuotaLimit uint64
	LastHashes []common.Hash
}

// BlockHash resolves a historical block hash from the environment, zero when
// out of range.
func (c *Context) BlockHash(number uint64) common.Hash {
	if number >= c.Number || c.Number-number > uint64(len(c.LastHashes)) {
		return common.Hash{}
	}
	return c.LastHashes[c.Number-number-1]
}

// ContractError classifies contract-level failures.
var (
	ErrOutOfQuota     = errors.New("out of quota")
	ErrReverted       = errors.New("execution reverted")
	ErrInvalidOpcode  = errors.New("invalid opcode")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrBadJump        = errors.New("invalid jump destination")
)

// Contract is the single dispatch surface for everything callable.
type Contract interface {
	// Execute runs the contract against st under ctx with the given input
	// and quota budget, returning the output and the quota left.
	Execute(ctx *Context, st *state.StateDB, input []byte, quota uint64) ([]byte, uint64, error)
}

// CodeContract wraps stored bytecode in the Contract interface.
type CodeContract struct {
	Code []byte
}

// Execute runs the bytecode in the interpreter.
func (c *CodeContract) Execute(ctx *Context, st *state.StateDB, input []byte, quota uint64) ([]byte, uint64, error) {
	interp := &Interpreter{ctx: ctx, state: st, input: input}
	return interp.Run(c.Code, quota)
}
