// Copyright 2025 Palisade Chain
//
// Bytecode interpreter. Every opcode and every state access consumes quota;
// exhausting the budget aborts the frame with ErrOutOfQuota and the caller
// rolls the frame's state changes back. No floating point, no map
// iteration, no clocks: execution is a pure function of code, input, state
// and the block environment.

package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/types"
)

// Opcodes. Values follow the conventional EVM assignments.
const (
	opStop         = 0x00
	opAdd          = 0x01
	opMul          = 0x02
	opSub          = 0x03
	opDiv          = 0x04
	opMod          = 0x06
	opLt           = 0x10
	opGt           = 0x11
	opEq           = 0x14
	opIsZero       = 0x15
	opAnd          = 0x16
	opOr           = 0x17
	opXor          = 0x18
	opNot          = 0x19
	opAddress      = 0x30
	opOrigin       = 0x32
	opCaller       = 0x33
	opCallValue    = 0x34
	opCalldataLoad = 0x35
	opCalldataSize = 0x36
	opBlockHash    = 0x40
	opCoinbase     = 0x41
	opTimestamp    = 0x42
	opNumber       = 0x43
	opPop          = 0x50
	opMload        = 0x51
	opMstore       = 0x52
	opSload        = 0x54
	opSstore       = 0x55
	opJump         = 0x56
	opJumpi        = 0x57
	opPc           = 0x58
	opJumpdest     = 0x5b
	opPush1        = 0x60
	opDup1         = 0x80
	opSwap1        = 0x90
	opLog0         = 0xa0
	opReturn       = 0xf3
	opRevert       = 0xfd
	opSelfdestruct = 0xff
)

// Quota costs.
const (
	costBase         = 3
	costVeryLow      = 3
	costSload        = 200
	costSstore       = 5000
	costLog          = 375
	costLogTopic     = 375
	costLogByte      = 8
	costSelfdestruct = 5000
	costMemoryWord   = 3
)

const stackLimit = 1024

// Interpreter executes one frame.
type Interpreter struct {
	ctx   *Context
	state *state.StateDB
	input []byte

	stack []uint256.Int
	mem   []byte
	quota uint64
}

// Run executes code with the given quota budget.
func (in *Interpreter) Run(code []byte, quota uint64) ([]byte, uint64, error) {
	in.quota = quota
	in.stack = make([]uint256.Int, 0, 64)

	var pc uint64
	for pc < uint64(len(code)) {
		op := code[pc]
		switch {
		case op >= opPush1 && op <= opPush1+31:
			n := uint64(op-opPush1) + 1
			if err := in.charge(costVeryLow); err != nil {
				return nil, in.quota, err
			}
			var v uint256.Int
			end := pc + 1 + n
			if end > uint64(len(code)) {
				end = uint64(len(code))
			}
			v.SetBytes(code[pc+1 : end])
			if err := in.push(v); err != nil {
				return nil, in.quota, err
			}
			pc = pc + 1 + n
			continue
		case op >= opDup1 && op <= opDup1+15:
			if err := in.charge(costVeryLow); err != nil {
				return nil, in.quota, err
			}
			depth := int(op-opDup1) + 1
			if len(in.stack) < depth {
				return nil, in.quota, ErrStackUnderflow
			}
			if err := in.push(in.stack[len(in.stack)-depth]); err != nil {
				return nil, in.quota, err
			}
		case op >= opSwap1 && op <= opSwap1+15:
			if err := in.charge(costVeryLow); err != nil {
				return nil, in.quota, err
			}
			depth := int(op-opSwap1) + 1
			if len(in.stack) < depth+1 {
				return nil, in.quota, ErrStackUnderflow
			}
			top := len(in.stack) - 1
			in.stack[top], in.stack[top-depth] = in.stack[top-depth], in.stack[top]
		case op >= opLog0 && op <= opLog0+4:
			topics := int(op - opLog0)
			if err := in.opLog(topics); err != nil {
				return nil, in.quota, err
			}
		default:
			ret, done, err := in.step(op, &pc, code)
			if err != nil {
				return nil, in.quota, err
			}
			if done {
				return ret, in.quota, nil
			}
		}
		pc++
	}
	return nil, in.quota, nil
}

// step executes one non-range opcode. done reports frame termination.
func (in *Interpreter) step(op byte, pc *uint64, code []byte) ([]byte, bool, error) {
	switch op {
	case opStop:
		if err := in.charge(0); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	case opAdd, opMul, opSub, opDiv, opMod, opLt, opGt, opEq, opAnd, opOr, opXor:
		if err := in.charge(costVeryLow); err != nil {
			return nil, false, err
		}
		b, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		a, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		var r uint256.Int
		switch op {
		case opAdd:
			r.Add(&a, &b)
		case opMul:
			r.Mul(&a, &b)
		case opSub:
			r.Sub(&a, &b)
		case opDiv:
			if !b.IsZero() {
				r.Div(&a, &b)
			}
		case opMod:
			if !b.IsZero() {
				r.Mod(&a, &b)
			}
		case opLt:
			if a.Lt(&b) {
				r.SetOne()
			}
		case opGt:
			if a.Gt(&b) {
				r.SetOne()
			}
		case opEq:
			if a.Eq(&b) {
				r.SetOne()
			}
		case opAnd:
			r.And(&a, &b)
		case opOr:
			r.Or(&a, &b)
		case opXor:
			r.Xor(&a, &b)
		}
		return nil, false, in.push(r)
	case opIsZero, opNot:
		if err := in.charge(costVeryLow); err != nil {
			return nil, false, err
		}
		a, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		var r uint256.Int
		if op == opIsZero {
			if a.IsZero() {
				r.SetOne()
			}
		} else {
			r.Not(&a)
		}
		return nil, false, in.push(r)
	case opAddress, opOrigin, opCaller, opCoinbase:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		var addr common.Address
		switch op {
		case opAddress:
			addr = in.ctx.Address
		case opOrigin:
			addr = in.ctx.Origin
		case opCaller:
			addr = in.ctx.Caller
		case opCoinbase:
			addr = in.ctx.Proposer
		}
		var r uint256.Int
		r.SetBytes(addr.Bytes())
		return nil, false, in.push(r)
	case opCallValue:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		return nil, false, in.push(*in.ctx.Value)
	case opCalldataLoad:
		if err := in.charge(costVeryLow); err != nil {
			return nil, false, err
		}
		off, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		var buf [32]byte
		if off.IsUint64() {
			o := off.Uint64()
			for i := uint64(0); i < 32; i++ {
				if o+i < uint64(len(in.input)) {
					buf[i] = in.input[o+i]
				}
			}
		}
		var r uint256.Int
		r.SetBytes(buf[:])
		return nil, false, in.push(r)
	case opCalldataSize:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		var r uint256.Int
		r.SetUint64(uint64(len(in.input)))
		return nil, false, in.push(r)
	case opBlockHash:
		if err := in.charge(costSload); err != nil {
			return nil, false, err
		}
		num, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		var r uint256.Int
		if num.IsUint64() {
			r.SetBytes(in.ctx.BlockHash(num.Uint64()).Bytes())
		}
		return nil, false, in.push(r)
	case opTimestamp, opNumber:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		var r uint256.Int
		if op == opTimestamp {
			r.SetUint64(in.ctx.Timestamp)
		} else {
			r.SetUint64(in.ctx.Number)
		}
		return nil, false, in.push(r)
	case opPop:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		_, err := in.pop()
		return nil, false, err
	case opMload:
		if err := in.charge(costVeryLow); err != nil {
			return nil, false, err
		}
		off, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		data, err := in.memRead(off, 32)
		if err != nil {
			return nil, false, err
		}
		var r uint256.Int
		r.SetBytes(data)
		return nil, false, in.push(r)
	case opMstore:
		if err := in.charge(costVeryLow); err != nil {
			return nil, false, err
		}
		off, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		val, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		b := val.Bytes32()
		return nil, false, in.memWrite(off, b[:])
	case opSload:
		if err := in.charge(costSload); err != nil {
			return nil, false, err
		}
		key, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		v, serr := in.state.GetState(in.ctx.Address, key.Bytes32())
		if serr != nil {
			return nil, false, serr
		}
		var r uint256.Int
		r.SetBytes(v.Bytes())
		return nil, false, in.push(r)
	case opSstore:
		if err := in.charge(costSstore); err != nil {
			return nil, false, err
		}
		key, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		val, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		return nil, false, in.state.SetState(in.ctx.Address, key.Bytes32(), val.Bytes32())
	case opJump:
		if err := in.charge(costBase*2 + 2); err != nil {
			return nil, false, err
		}
		dst, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		if !dst.IsUint64() || dst.Uint64() >= uint64(len(code)) || code[dst.Uint64()] != opJumpdest {
			return nil, false, ErrBadJump
		}
		// Run increments pc after every step; land one short of the target
		*pc = dst.Uint64() - 1
		return nil, false, nil
	case opJumpi:
		if err := in.charge(costBase*3 + 1); err != nil {
			return nil, false, err
		}
		dst, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		cond, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		if !cond.IsZero() {
			if !dst.IsUint64() || dst.Uint64() >= uint64(len(code)) || code[dst.Uint64()] != opJumpdest {
				return nil, false, ErrBadJump
			}
			*pc = dst.Uint64() - 1
		}
		return nil, false, nil
	case opPc:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		var r uint256.Int
		r.SetUint64(*pc)
		return nil, false, in.push(r)
	case opJumpdest:
		return nil, false, in.charge(1)
	case opReturn, opRevert:
		if err := in.charge(costBase); err != nil {
			return nil, false, err
		}
		off, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		size, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		if !size.IsUint64() {
			return nil, false, ErrOutOfQuota
		}
		data, err := in.memRead(off, size.Uint64())
		if err != nil {
			return nil, false, err
		}
		if op == opRevert {
			return nil, false, ErrReverted
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, true, nil
	case opSelfdestruct:
		if err := in.charge(costSelfdestruct); err != nil {
			return nil, false, err
		}
		refund, err := in.pop()
		if err != nil {
			return nil, false, err
		}
		addr := common.BytesToAddress(refund.Bytes())
		if err := in.state.Suicide(in.ctx.Address, addr); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	default:
		return nil, false, ErrInvalidOpcode
	}
}

func (in *Interpreter) opLog(topicCount int) error {
	off, err := in.pop()
	if err != nil {
		return err
	}
	size, err := in.pop()
	if err != nil {
		return err
	}
	topics := make([]common.Hash, topicCount)
	for i := 0; i < topicCount; i++ {
		t, err := in.pop()
		if err != nil {
			return err
		}
		topics[i] = t.Bytes32()
	}
	if !size.IsUint64() {
		return ErrOutOfQuota
	}
	cost := uint64(costLog) + uint64(topicCount)*costLogTopic + size.Uint64()*costLogByte
	if err := in.charge(cost); err != nil {
		return err
	}
	data, err := in.memRead(off, size.Uint64())
	if err != nil {
		return err
	}
	in.state.AddLog(&types.Log{
		Address: in.ctx.Address,
		Topics:  topics,
		Data:    common.CopyBytes(data),
	})
	return nil
}

func (in *Interpreter) charge(cost uint64) error {
	if in.quota < cost {
		in.quota = 0
		return ErrOutOfQuota
	}
	in.quota -= cost
	return nil
}

func (in *Interpreter) push(v uint256.Int) error {
	if len(in.stack) >= stackLimit {
		return ErrStackOverflow
	}
	in.stack = append(in.stack, v)
	return nil
}

func (in *Interpreter) pop() (uint256.Int, error) {
	if len(in.stack) == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	v := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return v, nil
}

// memRead expands memory (charging per word) and returns the slice.
func (in *Interpreter) memRead(off uint256.Int, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if !off.IsUint64() {
		return nil, ErrOutOfQuota
	}
	end := off.Uint64() + size
	if err := in.memExpand(end); err != nil {
		return nil, err
	}
	return in.mem[off.Uint64():end], nil
}

func (in *Interpreter) memWrite(off uint256.Int, data []byte) error {
	if !off.IsUint64() {
		return ErrOutOfQuota
	}
	end := off.Uint64() + uint64(len(data))
	if err := in.memExpand(end); err != nil {
		return err
	}
	copy(in.mem[off.Uint64():end], data)
	return nil
}

func (in *Interpreter) memExpand(end uint64) error {
	if end <= uint64(len(in.mem)) {
		return nil
	}
	words := (end - uint64(len(in.mem)) + 31) / 32
	if err := in.charge(words * costMemoryWord); err != nil {
		return err
	}
	in.mem = append(in.mem, make([]byte, words*32)...)
	return nil
}
