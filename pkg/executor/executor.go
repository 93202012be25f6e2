// Copyright 2025 Palisade Chain
//
// Executor: deterministic application of an ordered transaction list to the
// authenticated state under a block environment. One apply call runs on one
// thread; the state trie has a single writer for the whole block.

package executor

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/contracts"
	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/types"
	"github.com/palisade-chain/palisade/pkg/vm"
)

// Env is the block context a transaction list executes under.
type Env struct {
	Number     uint64
	Timestamp  uint64
	Proposer   common.Address
	QuotaLimit uint64
	LastHashes []common.Hash
}

// BlockResult is everything the chain needs to seal and persist the block.
type BlockResult struct {
	StateRoot common.Hash
	Receipts  []*types.Receipt
	QuotaUsed uint64
	LogBloom  ethtypes.Bloom
}

// Executor applies blocks. It owns the trie overlay between ApplyBlock and
// the chain-side commit.
type Executor struct {
	cfg      *config.Config
	db       *trie.NodeDB
	registry *contracts.Registry
}

// New creates an executor over the shared node store.
func New(cfg *config.Config, db *trie.NodeDB) *Executor {
	return &Executor{cfg: cfg, db: db, registry: contracts.NewRegistry()}
}

// StateAt opens a read view of the state at the given root.
func (e *Executor) StateAt(root common.Hash) (*state.StateDB, error) {
	return state.New(root, e.db)
}

// NodeDB exposes the shared trie store for commit and snapshot paths.
func (e *Executor) NodeDB() *trie.NodeDB { return e.db }

// ApplyBlock executes txs against the parent state and returns the receipts
// and new state root. Re-executing the same block against the same parent
// yields byte-identical results.
func (e *Executor) ApplyBlock(parentRoot common.Hash, txs []*types.SignedTransaction, env Env) (*BlockResult, error) {
	st, err := state.New(parentRoot, e.db)
	if err != nil {
		return nil, err
	}
	res := &BlockResult{}
	for _, stx := range txs {
		receipt, err := e.applyTx(st, stx, env, res.QuotaUsed)
		if err != nil {
			return nil, fmt.Errorf("apply tx %s: %w", stx.Hash().Hex(), err)
		}
		res.QuotaUsed = receipt.CumulativeQuotaUsed
		res.Receipts = append(res.Receipts, receipt)
	}
	root, err := st.Commit()
	if err != nil {
		return nil, err
	}
	res.StateRoot = root
	for _, r := range res.Receipts {
		res.LogBloom = orBloom(res.LogBloom, r.LogBloom)
	}
	return res, nil
}

// applyTx runs the per-transaction sequence. Hard errors (storage
// corruption) abort the block; everything else lands in the receipt.
func (e *Executor) applyTx(st *state.StateDB, stx *types.SignedTransaction, env Env, cumulative uint64) (*types.Receipt, error) {
	sender, err := stx.Sender()
	if err != nil {
		return nil, err
	}
	tx := &stx.Tx

	receipt := func(execErr types.ExecutionError, quotaUsed uint64, logs []*types.Log) (*types.Receipt, error) {
		nonce, err := st.GetNonce(sender)
		if err != nil {
			return nil, err
		}
		root, err := st.Commit()
		if err != nil {
			return nil, err
		}
		return &types.Receipt{
			StateRoot:           root,
			CumulativeQuotaUsed: cumulative + quotaUsed,
			LogBloom:            types.LogsBloom(logs),
			Logs:                logs,
			Error:               execErr,
			AccountNonce:        nonce,
			TxHash:              stx.Hash(),
		}, nil
	}

	// permission gate
	if e.cfg.CheckPermission {
		kind, err := e.checkPermission(st, sender, tx)
		if err != nil {
			return nil, err
		}
		if kind != types.ExecutionOK {
			st.Finalise()
			return receipt(kind, 0, nil)
		}
	}

	// exact nonce match
	nonce, err := st.GetNonce(sender)
	if err != nil {
		return nil, err
	}
	if nonce != tx.Nonce {
		st.Finalise()
		return receipt(types.ErrExecInvalidNonce, 0, nil)
	}

	// balance check and pre-pay
	price := uint256.NewInt(e.cfg.QuotaPrice)
	prepay := new(uint256.Int).Mul(uint256.NewInt(tx.Quota), price)
	value := tx.Value
	if value == nil {
		value = uint256.NewInt(0)
	}
	if e.cfg.ChargeMode {
		needed := new(uint256.Int).Add(prepay, value)
		balance, err := st.GetBalance(sender)
		if err != nil {
			return nil, err
		}
		if balance.Lt(needed) {
			st.Finalise()
			return receipt(types.ErrNotEnoughBalance, 0, nil)
		}
		if err := st.SubBalance(sender, prepay); err != nil {
			return nil, err
		}
	}
	if err := st.SetNonce(sender, nonce+1); err != nil {
		return nil, err
	}

	// dispatch with sub-frame revert
	ctx := &vm.Context{
		Origin:     sender,
		Caller:     sender,
		Value:      value,
		Number:     env.Number,
		Timestamp:  env.Timestamp,
		Proposer:   env.Proposer,
		QuotaLimit: env.QuotaLimit,
		LastHashes: env.LastHashes,
	}
	mark := st.Snapshot()
	quotaLeft, execErr := e.dispatch(st, ctx, sender, tx)
	if execErr != types.ExecutionOK {
		st.RevertToSnapshot(mark)
	}
	quotaUsed := tx.Quota - quotaLeft

	// refund unused quota, route consumed fees
	if e.cfg.ChargeMode {
		refund := new(uint256.Int).Mul(uint256.NewInt(quotaLeft), price)
		if err := st.AddBalance(sender, refund); err != nil {
			return nil, err
		}
		fee := new(uint256.Int).Mul(uint256.NewInt(quotaUsed), price)
		feeTarget := env.Proposer
		if e.cfg.FeeBackPlatform {
			feeTarget = e.cfg.Platform()
		}
		if err := st.AddBalance(feeTarget, fee); err != nil {
			return nil, err
		}
	}

	logs := st.TakeLogs()
	st.Finalise()
	return receipt(execErr, quotaUsed, logs)
}

// dispatch routes the transaction to contract creation, a native contract, a
// code contract or a plain transfer, and returns the quota left.
func (e *Executor) dispatch(st *state.StateDB, ctx *vm.Context, sender common.Address, tx *types.Transaction) (uint64, types.ExecutionError) {
	transfer := func(to common.Address) types.ExecutionError {
		if ctx.Value.IsZero() {
			return types.ExecutionOK
		}
		balance, err := st.GetBalance(sender)
		if err != nil {
			return types.ErrInternal
		}
		if balance.Lt(ctx.Value) {
			return types.ErrNotEnoughBalance
		}
		if err := st.SubBalance(sender, ctx.Value); err != nil {
			return types.ErrInternal
		}
		if err := st.AddBalance(to, ctx.Value); err != nil {
			return types.ErrInternal
		}
		return types.ExecutionOK
	}

	if tx.Creation() {
		created := CreateAddress(sender, tx.Nonce)
		ctx.Address = created
		if execErr := transfer(created); execErr != types.ExecutionOK {
			return tx.Quota, execErr
		}
		code := &vm.CodeContract{Code: tx.Data}
		ret, left, err := code.Execute(ctx, st, nil, tx.Quota)
		if err != nil {
			return left, vmError(err)
		}
		if err := st.SetCode(created, ret); err != nil {
			return left, types.ErrInternal
		}
		return left, types.ExecutionOK
	}

	target := *tx.To
	ctx.Address = target
	if native, ok := e.registry.Resolve(target); ok {
		if execErr := transfer(target); execErr != types.ExecutionOK {
			return tx.Quota, execErr
		}
		_, left, err := native.Execute(ctx, st, tx.Data, tx.Quota)
		if err != nil {
			return left, vmError(err)
		}
		return left, types.ExecutionOK
	}

	code, err := st.GetCode(target)
	if err != nil {
		return tx.Quota, types.ErrInternal
	}
	if execErr := transfer(target); execErr != types.ExecutionOK {
		return tx.Quota, execErr
	}
	if len(code) == 0 {
		return tx.Quota, types.ExecutionOK
	}
	contract := &vm.CodeContract{Code: code}
	_, left, err := contract.Execute(ctx, st, tx.Data, tx.Quota)
	if err != nil {
		return left, vmError(err)
	}
	return left, types.ExecutionOK
}

func (e *Executor) checkPermission(st *state.StateDB, sender common.Address, tx *types.Transaction) (types.ExecutionError, error) {
	ok, err := contracts.HasPermission(st, sender, contracts.PermSendTx)
	if err != nil {
		return types.ErrInternal, err
	}
	if !ok {
		return types.ErrNoTransactionPermission, nil
	}
	if tx.Creation() {
		ok, err := contracts.HasPermission(st, sender, contracts.PermCreateContract)
		if err != nil {
			return types.ErrInternal, err
		}
		if !ok {
			return types.ErrNoContractPermission, nil
		}
		return types.ExecutionOK, nil
	}
	// calls into governance contracts are always permitted once SendTx holds
	if _, native := e.registry.Resolve(*tx.To); native {
		return types.ExecutionOK, nil
	}
	code, err := st.GetCode(*tx.To)
	if err != nil {
		return types.ErrInternal, err
	}
	if len(code) == 0 || len(tx.Data) < 4 {
		return types.ExecutionOK, nil
	}
	var sel [4]byte
	copy(sel[:], tx.Data[:4])
	ok, err = contracts.HasResource(st, sender, *tx.To, sel)
	if err != nil {
		return types.ErrInternal, err
	}
	if !ok {
		return types.ErrNoContractPermission, nil
	}
	return types.ExecutionOK, nil
}

func vmError(err error) types.ExecutionError {
	switch {
	case errors.Is(err, vm.ErrOutOfQuota):
		return types.ErrOutOfQuota
	case errors.Is(err, vm.ErrReverted):
		return types.ErrReverted
	default:
		return types.ErrInternal
	}
}

// CreateAddress derives a created contract's address from the sender and
// nonce.
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	var buf [28]byte
	copy(buf[:20], sender.Bytes())
	for i := 0; i < 8; i++ {
		buf[20+i] = byte(nonce >> (56 - 8*i))
	}
	return common.BytesToAddress(crypto.Keccak256(buf[:])[12:])
}

func orBloom(a, b ethtypes.Bloom) ethtypes.Bloom {
	for i := range a {
		a[i] |= b[i]
	}
	return a
}
