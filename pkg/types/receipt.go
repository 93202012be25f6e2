// Copyright 2025 Palisade Chain
//
// Execution receipts and logs. A receipt is immutable once its block commits.

package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExecutionError classifies why a transaction's effect (beyond nonce bump and
// quota charge) was not applied. The zero value means success.
type ExecutionError uint8

const (
	ExecutionOK ExecutionError = iota
	ErrOutOfQuota
	ErrNoTransactionPermission
	ErrNoContractPermission
	ErrExecInvalidNonce
	ErrNotEnoughBalance
	ErrReverted
	ErrInternal
)

func (e ExecutionError) String() string {
	switch e {
	case ExecutionOK:
		return "OK"
	case ErrOutOfQuota:
		return "OutOfQuota"
	case ErrNoTransactionPermission:
		return "NoTransactionPermission"
	case ErrNoContractPermission:
		return "NoContractPermission"
	case ErrExecInvalidNonce:
		return "InvalidNonce"
	case ErrNotEnoughBalance:
		return "NotEnoughBalance"
	case ErrReverted:
		return "Reverted"
	default:
		return "Internal"
	}
}

// Log is a contract event. At most four topics contribute to the bloom.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Bloom folds the log's address and topics into a 2048-bit bloom.
func (l *Log) Bloom() types.Bloom {
	var b types.Bloom
	b.Add(l.Address.Bytes())
	for _, t := range l.Topics {
		b.Add(t.Bytes())
	}
	return b
}

// LogsBloom aggregates the blooms of a log sequence.
func LogsBloom(logs []*Log) types.Bloom {
	var b types.Bloom
	for _, l := range logs {
		b.Add(l.Address.Bytes())
		for _, t := range l.Topics {
			b.Add(t.Bytes())
		}
	}
	return b
}

// Receipt records the outcome of one transaction within a block.
type Receipt struct {
	StateRoot           common.Hash
	CumulativeQuotaUsed uint64
	LogBloom            types.Bloom
	Logs                []*Log
	Error               ExecutionError
	AccountNonce        uint64
	TxHash              common.Hash
}
