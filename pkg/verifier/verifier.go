// Copyright 2025 Palisade Chain
//
// Transaction verification: stateless signature and shape checks, the
// sliding duplicate window over recently committed heights, and block-level
// quota validation.

package verifier

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/types"
)

// RequestHeights asks the chain, out of band, for the committed tx hashes of
// heights in [low, high).
type RequestHeights func(low, high uint64)

// Verifier performs admission checks. Signature checks are stateless and
// lock-free; the duplicate window is guarded by a short-section mutex.
type Verifier struct {
	chainID    uint32
	checkQuota bool

	mu           sync.Mutex
	inited       bool
	heightKnown  bool
	heightLatest uint64
	heightLow    uint64
	hashes       map[uint64]map[common.Hash]struct{}

	blockQuota   uint64
	accountQuota types.AccountQuota

	request RequestHeights
}

// New builds a verifier bound to the configured chain id. The signature
// scheme and chain id are fixed at construction.
func New(cfg *config.Config, request RequestHeights) *Verifier {
	return &Verifier{
		chainID:      cfg.ChainID,
		checkQuota:   cfg.CheckQuota,
		blockQuota:   cfg.BlockQuotaLimit,
		accountQuota: types.AccountQuota{Common: cfg.AccountQuotaLimit, Specific: make(map[common.Address]uint64)},
		hashes:       make(map[uint64]map[common.Hash]struct{}, config.BlockLimit),
		request:      request,
	}
}

// SetQuotaLimits installs the limits read from the on-chain quota contract.
func (v *Verifier) SetQuotaLimits(blockQuota uint64, account types.AccountQuota) {
	v.mu.Lock()
	v.blockQuota = blockQuota
	v.accountQuota = account
	v.mu.Unlock()
}

// VerifyTx runs the stateless admission checks and the validity-window
// check. It does not consult the duplicate window.
func (v *Verifier) VerifyTx(stx *types.SignedTransaction) types.Ret {
	if len(stx.Signature) != types.SignatureLen {
		return types.RetBadSig
	}
	if _, err := stx.Sender(); err != nil {
		return types.RetBadSig
	}
	if stx.Tx.ChainID != v.chainID {
		return types.RetBadChainID
	}

	v.mu.Lock()
	known := v.heightKnown
	height := v.heightLatest
	v.mu.Unlock()
	if !known {
		return types.RetNotReady
	}
	if stx.Tx.ValidUntilBlock <= height || stx.Tx.ValidUntilBlock > height+config.BlockLimit {
		return types.RetInvalidNonce
	}
	return types.RetOK
}

// CheckDuplicate consults the sliding window. Until the window covers every
// height in [low, latest] the verifier cannot rule out a replay and answers
// NotReady.
func (v *Verifier) CheckDuplicate(hash common.Hash) types.Ret {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.inited {
		return types.RetNotReady
	}
	for _, set := range v.hashes {
		if _, dup := set[hash]; dup {
			return types.RetDup
		}
	}
	return types.RetOK
}

// UpdateHashes feeds the window with the committed tx hashes of height h.
// Gaps trigger out-of-band re-requests; heights below the window are
// discarded.
func (v *Verifier) UpdateHashes(h uint64, hashes map[common.Hash]struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()

	low := uint64(0)
	if h >= config.BlockLimit {
		low = h - config.BlockLimit + 1
	}
	if !v.heightKnown {
		v.heightKnown = true
		v.heightLatest = h
		v.heightLow = low
		if v.request != nil && low < h {
			v.request(low, h)
		}
	} else {
		switch {
		case h == v.heightLatest+1:
			prevLow := v.heightLow
			v.heightLatest = h
			v.heightLow = low
			for i := prevLow; i < v.heightLow; i++ {
				delete(v.hashes, i)
			}
		case h > v.heightLatest+1:
			// lost some heights; ask the chain to re-send the gap
			if v.request != nil {
				v.request(v.heightLatest+1, h+1)
			}
			return
		}
		if h < v.heightLow {
			return
		}
	}
	v.hashes[h] = hashes
	if uint64(len(v.hashes)) == v.heightLatest-v.heightLow+1 {
		v.inited = true
	}
}

// LatestHeight returns the newest height the window has seen.
func (v *Verifier) LatestHeight() (uint64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.heightLatest, v.heightKnown
}

// Ready reports whether the duplicate window is fully populated.
func (v *Verifier) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inited
}

// VerifyBlockQuota walks the transactions in order, charging each sender's
// budget and the block budget. A single transaction bigger than the whole
// block budget is tolerated so an oversized-but-legal transaction cannot
// stall the chain.
func (v *Verifier) VerifyBlockQuota(txs []*types.SignedTransaction) bool {
	v.mu.Lock()
	blockBudget := v.blockQuota
	account := v.accountQuota
	checkQuota := v.checkQuota
	v.mu.Unlock()

	senderBudget := make(map[common.Address]uint64)
	for _, stx := range txs {
		quota := stx.Tx.Quota
		sender, err := stx.Sender()
		if err != nil {
			return false
		}
		if blockBudget < quota {
			return len(txs) == 1
		}
		if checkQuota {
			budget, seen := senderBudget[sender]
			if !seen {
				budget = account.LimitFor(sender)
			}
			if budget < quota {
				return false
			}
			senderBudget[sender] = budget - quota
		}
		blockBudget -= quota
	}
	return true
}
