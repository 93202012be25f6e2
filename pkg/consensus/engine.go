// Copyright 2025 Palisade Chain
//
// The BFT state machine. One driver goroutine owns all state and processes
// proposals, votes, chain statuses and step timeouts from a single inbound
// stream; transitions are strictly serialized for determinism.

package consensus

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/executor"
	"github.com/palisade-chain/palisade/pkg/metrics"
	"github.com/palisade-chain/palisade/pkg/types"
)

const (
	futureBufferLimit = 1024
	maxTimeoutFactor  = 10
)

// Backend is the chain surface the engine drives.
type Backend interface {
	CurrentHeader() *types.Header
	InsertBlock(block *types.Block, proofVerified bool) error
	QuotaLimits() (uint64, types.AccountQuota, error)
	ValidatorsAt(height uint64) ([]common.Address, error)
	Execute(parent *types.Header, txs []*types.SignedTransaction, proposer common.Address, timestamp, quotaLimit uint64) (*executor.BlockResult, error)
}

// TxSource feeds the proposer with pending transactions.
type TxSource interface {
	Package(blockQuota uint64, account types.AccountQuota) []*types.SignedTransaction
}

type timeoutEvent struct {
	height uint64
	round  uint32
	step   Step
}

// Engine runs consensus for one validator identity.
type Engine struct {
	cfg     *config.Config
	backend Backend
	txs     TxSource
	bus     bus.Bus

	key  []byte
	self common.Address

	// state owned by the driver goroutine
	height     uint64
	round      uint32
	step       Step
	validators *types.ValidatorSet
	lockRound  *uint32
	lockBlock  *types.Block
	lastProof  *types.Proof

	votes     *VoteCollector
	proposals *ProposalCollector
	blocks    map[common.Hash]*types.Block
	future    map[uint64][]bus.Message

	timer   *time.Timer
	timeout chan timeoutEvent

	// observable snapshot for the synchronizer's consensing predicate
	activeHeight atomic.Uint64
	committing   atomic.Bool
	paused       atomic.Bool

	quit chan struct{}
	done chan struct{}
}

// New creates an engine for the given validator key.
func New(cfg *config.Config, backend Backend, txs TxSource, b bus.Bus, key []byte) (*Engine, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		backend:   backend,
		txs:       txs,
		bus:       b,
		key:       key,
		self:      crypto.PubkeyToAddress(priv.PublicKey),
		votes:     NewVoteCollector(),
		proposals: NewProposalCollector(),
		blocks:    make(map[common.Hash]*types.Block),
		future:    make(map[uint64][]bus.Message),
		timeout:   make(chan timeoutEvent, 8),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Address returns the validator identity.
func (e *Engine) Address() common.Address { return e.self }

// IsConsensing reports whether the engine is actively finalizing the given
// height; the synchronizer defers to consensus-sourced blocks then.
func (e *Engine) IsConsensing(height uint64) bool {
	return e.activeHeight.Load() == height && !e.committing.Load()
}

// PauseInbound implements the snapshot protocol: consensus messages are
// dropped while a restore is in flight.
func (e *Engine) PauseInbound() { e.paused.Store(true) }

// ResumeInbound re-enables message processing.
func (e *Engine) ResumeInbound() { e.paused.Store(false) }

// ClearBelow is satisfied by the status-driven height advance after resume.
func (e *Engine) ClearBelow(uint64) {}

// Start launches the driver goroutine.
func (e *Engine) Start() {
	proposalCh, cancelP := e.bus.Subscribe(bus.TopicSignedProposal)
	voteCh, cancelV := e.bus.Subscribe(bus.TopicVote)
	statusCh, cancelS := e.bus.Subscribe(bus.TopicStatus)
	e.timer = time.NewTimer(time.Hour)
	e.timer.Stop()

	go func() {
		defer close(e.done)
		defer cancelP()
		defer cancelV()
		defer cancelS()
		e.bootstrap()
		for {
			select {
			case msg, ok := <-proposalCh:
				if !ok {
					return
				}
				if e.paused.Load() {
					continue
				}
				e.handleProposalMsg(msg)
			case msg, ok := <-voteCh:
				if !ok {
					return
				}
				if e.paused.Load() {
					continue
				}
				e.handleVoteMsg(msg)
			case msg, ok := <-statusCh:
				if !ok {
					return
				}
				e.handleStatusMsg(msg)
			case ev := <-e.timeout:
				e.handleTimeout(ev)
			case <-e.quit:
				return
			}
		}
	}()
}

// Stop terminates the driver.
func (e *Engine) Stop() {
	close(e.quit)
	<-e.done
}

// bootstrap starts consensus at tip+1 from persisted chain state.
func (e *Engine) bootstrap() {
	tip := e.backend.CurrentHeader()
	vaddrs, err := e.backend.ValidatorsAt(tip.Number + 1)
	if err != nil {
		log.Printf("[CONSENSUS] cannot read validator set, waiting for status: %v", err)
		return
	}
	e.newHeight(tip.Number+1, types.NewValidatorSet(vaddrs))
}

// ====== height / round / step transitions ======

func (e *Engine) handleStatusMsg(msg bus.Message) {
	var status types.Status
	if err := rlp.DecodeBytes(msg.Payload, &status); err != nil {
		log.Printf("[CONSENSUS] dropping undecodable status: %v", err)
		return
	}
	if status.Height+1 <= e.height {
		return
	}
	e.newHeight(status.Height+1, types.NewValidatorSet(status.Validators))
}

func (e *Engine) newHeight(height uint64, validators *types.ValidatorSet) {
	e.height = height
	e.validators = validators
	e.round = 0
	e.lockRound = nil
	e.lockBlock = nil
	e.blocks = make(map[common.Hash]*types.Block)
	e.activeHeight.Store(height)
	e.committing.Store(false)
	metrics.ConsensusRound.Set(0)
	// replay buffered future messages for this height
	if buffered, ok := e.future[height]; ok {
		delete(e.future, height)
		for _, msg := range buffered {
			switch msg.Topic {
			case bus.TopicSignedProposal:
				e.handleProposalMsg(msg)
			case bus.TopicVote:
				e.handleVoteMsg(msg)
			}
		}
	}
	for h := range e.future {
		if h < height {
			delete(e.future, h)
		}
	}
	e.enterPropose()
}

func (e *Engine) nextRound() {
	e.round++
	metrics.ConsensusRound.Set(float64(e.round))
	log.Printf("[CONSENSUS] height %d advancing to round %d", e.height, e.round)
	e.enterPropose()
}

func (e *Engine) enterPropose() {
	e.step = StepPropose
	if e.validators == nil || e.validators.Len() == 0 {
		return
	}
	if e.validators.Proposer(e.height, e.round) == e.self {
		e.propose()
	}
	e.schedule(StepPropose)
	// a proposal may already be waiting (buffered or from a prior round hop)
	if sp := e.proposals.Get(e.height, e.round); sp != nil {
		e.enterPrevote()
	}
}

// propose broadcasts either the locked block or a freshly assembled one.
func (e *Engine) propose() {
	p := &Proposal{Height: e.height, Round: e.round}
	if e.lockBlock != nil && e.lockRound != nil {
		p.Block = e.lockBlock
		p.LockRound = e.lockRound
		if vs := e.votes.Get(e.height, *e.lockRound, StepPrevote); vs != nil {
			p.LockVotes = vs.VotesFor(e.lockBlock.Hash())
		}
	} else {
		block, err := e.assembleBlock()
		if err != nil {
			log.Printf("[CONSENSUS] cannot assemble proposal: %v", err)
			return
		}
		if block == nil {
			return // missing parent proof, let another validator propose
		}
		p.Block = block
	}
	sp, err := SignProposal(p, e.key)
	if err != nil {
		log.Printf("[CONSENSUS] signing proposal failed: %v", err)
		return
	}
	enc, err := rlp.EncodeToBytes(sp)
	if err != nil {
		return
	}
	e.storeProposal(sp)
	e.bus.Publish(bus.TopicSignedProposal, enc)
	log.Printf("[CONSENSUS] proposed block %d round %d (%s) txs=%d",
		p.Height, p.Round, p.Block.Hash().Hex(), len(p.Block.Body.Transactions))
}

// assembleBlock builds a fresh proposal block from the mempool on top of the
// current tip.
func (e *Engine) assembleBlock() (*types.Block, error) {
	parent := e.backend.CurrentHeader()
	if parent.Number+1 != e.height {
		return nil, nil
	}
	if e.height > 1 && (e.lastProof == nil || e.lastProof.Height != parent.Number) {
		// a freshly synced node has no commit proof for the parent
		return nil, nil
	}
	blockQuota, accountQuota, err := e.backend.QuotaLimits()
	if err != nil {
		return nil, err
	}
	txs := e.txs.Package(blockQuota, accountQuota)
	timestamp := uint64(time.Now().Unix())
	if timestamp <= parent.Timestamp {
		timestamp = parent.Timestamp + 1
	}
	res, err := e.backend.Execute(parent, txs, e.self, timestamp, blockQuota)
	if err != nil {
		return nil, err
	}
	header := &types.Header{
		ParentHash:       parent.Hash(),
		StateRoot:        res.StateRoot,
		TransactionsRoot: types.TxsRoot(txs),
		ReceiptsRoot:     types.ReceiptsRoot(res.Receipts),
		LogBloom:         res.LogBloom,
		Number:           e.height,
		QuotaLimit:       blockQuota,
		QuotaUsed:        res.QuotaUsed,
		Timestamp:        timestamp,
		Version:          e.cfg.Version,
		Proposer:         e.self,
	}
	if e.lastProof != nil {
		header.Proof = *e.lastProof
	}
	return types.NewBlock(header, &types.Body{Transactions: txs}), nil
}

// ====== proposal handling ======

func (e *Engine) handleProposalMsg(msg bus.Message) {
	var sp SignedProposal
	if err := rlp.DecodeBytes(msg.Payload, &sp); err != nil {
		log.Printf("[CONSENSUS] dropping undecodable proposal: %v", err)
		return
	}
	switch {
	case sp.Proposal.Height > e.height:
		e.bufferFuture(sp.Proposal.Height, msg)
		return
	case sp.Proposal.Height < e.height:
		return
	}
	if err := e.validateProposal(&sp); err != nil {
		log.Printf("[CONSENSUS] rejecting proposal %d/%d: %v", sp.Proposal.Height, sp.Proposal.Round, err)
		return
	}
	e.storeProposal(&sp)
	if e.step == StepPropose && sp.Proposal.Round == e.round {
		e.enterPrevote()
	}
}

func (e *Engine) validateProposal(sp *SignedProposal) error {
	p := &sp.Proposal
	proposer, err := sp.Proposer()
	if err != nil {
		return err
	}
	if e.validators == nil || proposer != e.validators.Proposer(p.Height, p.Round) {
		return ErrWrongProposer
	}
	if err := sp.verifyLockJustification(e.validators); err != nil {
		return err
	}
	parent := e.backend.CurrentHeader()
	header := p.Block.Header
	if err := header.VerifyAgainstParent(parent); err != nil {
		return err
	}
	if root := types.TxsRoot(p.Block.Body.Transactions); root != header.TransactionsRoot {
		return ErrRootCheck
	}
	// re-execute to validate the claimed post-state before voting for it
	res, err := e.backend.Execute(parent, p.Block.Body.Transactions, header.Proposer, header.Timestamp, header.QuotaLimit)
	if err != nil {
		return err
	}
	if res.StateRoot != header.StateRoot || types.ReceiptsRoot(res.Receipts) != header.ReceiptsRoot {
		return ErrRootCheck
	}
	return nil
}

func (e *Engine) storeProposal(sp *SignedProposal) {
	e.proposals.Add(sp)
	e.blocks[sp.Proposal.Block.Hash()] = sp.Proposal.Block
}

// ====== voting ======

func (e *Engine) enterPrevote() {
	e.step = StepPrevote
	var target common.Hash
	sp := e.proposals.Get(e.height, e.round)
	switch {
	case e.lockBlock != nil && e.lockRound != nil:
		// stay with the lock unless the proposal carries a newer polka
		target = e.lockBlock.Hash()
		if sp != nil && sp.Proposal.LockRound != nil && *sp.Proposal.LockRound > *e.lockRound {
			target = sp.Proposal.Block.Hash()
		}
	case sp != nil:
		target = sp.Proposal.Block.Hash()
	default:
		// nil prevote
	}
	e.castVote(StepPrevote, target)
	e.schedule(StepPrevote)
	e.checkPrevotes()
}

func (e *Engine) enterPrecommit(polka common.Hash, hasPolka bool) {
	e.step = StepPrecommit
	var target common.Hash
	if hasPolka && polka != (common.Hash{}) {
		round := e.round
		e.lockRound = &round
		if b, ok := e.blocks[polka]; ok {
			e.lockBlock = b
		}
		target = polka
	} else {
		e.lockRound = nil
		e.lockBlock = nil
	}
	e.castVote(StepPrecommit, target)
	e.schedule(StepPrecommit)
	e.checkPrecommits()
}

func (e *Engine) castVote(step Step, proposal common.Hash) {
	if e.validators == nil || !e.validators.Contains(e.self) {
		return
	}
	v := &Vote{Height: e.height, Round: e.round, Step: step, Proposal: proposal}
	if err := v.Sign(e.key); err != nil {
		log.Printf("[CONSENSUS] signing vote failed: %v", err)
		return
	}
	e.votes.Add(v)
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return
	}
	e.bus.Publish(bus.TopicVote, enc)
}

func (e *Engine) handleVoteMsg(msg bus.Message) {
	var v Vote
	if err := rlp.DecodeBytes(msg.Payload, &v); err != nil {
		log.Printf("[CONSENSUS] dropping undecodable vote: %v", err)
		return
	}
	switch {
	case v.Height > e.height:
		e.bufferFuture(v.Height, msg)
		return
	case v.Height < e.height:
		return
	}
	if e.validators == nil || !e.validators.Contains(v.Sender) {
		return
	}
	if err := v.VerifySig(); err != nil {
		log.Printf("[CONSENSUS] dropping vote with bad signature from %s", v.Sender.Hex())
		return
	}
	if !e.votes.Add(&v) {
		return
	}
	if v.Round != e.round {
		return
	}
	switch v.Step {
	case StepPrevote:
		e.checkPrevotes()
	case StepPrecommit:
		e.checkPrecommits()
	}
}

func (e *Engine) checkPrevotes() {
	if e.step != StepPrevote {
		return
	}
	vs := e.votes.Get(e.height, e.round, StepPrevote)
	if vs == nil {
		return
	}
	if hash, ok := vs.Majority(e.validators); ok {
		e.enterPrecommit(hash, true)
	}
}

func (e *Engine) checkPrecommits() {
	if e.step != StepPrecommit {
		return
	}
	vs := e.votes.Get(e.height, e.round, StepPrecommit)
	if vs == nil {
		return
	}
	hash, ok := vs.Majority(e.validators)
	if !ok {
		return
	}
	if hash == (common.Hash{}) {
		e.nextRound()
		return
	}
	e.commit(hash, vs)
}

// commit finalizes the block: assemble the proof from the precommit set and
// hand the block to the chain.
func (e *Engine) commit(hash common.Hash, vs *VoteSet) {
	block, ok := e.blocks[hash]
	if !ok {
		log.Printf("[CONSENSUS] +2/3 precommits for %s but block body missing, waiting", hash.Hex())
		return
	}
	e.step = StepCommit
	e.committing.Store(true)
	proof := &types.Proof{Height: e.height, Round: e.round, ProposalHash: hash}
	for _, v := range vs.VotesFor(hash) {
		proof.AddCommit(v.Sender, v.Signature)
	}
	e.lastProof = proof
	if err := e.backend.InsertBlock(block, true); err != nil {
		log.Printf("[CONSENSUS] commit of block %d failed: %v", block.Number(), err)
		e.committing.Store(false)
		e.step = StepPrecommit
		e.schedule(StepPrecommit)
		return
	}
	log.Printf("[CONSENSUS] finalized block %d (%s) with %d commits",
		block.Number(), hash.Hex(), len(proof.Commits))
	// the chain status broadcast advances the engine to the next height
}

// ====== timeouts ======

// schedule arms the step timer with bounded linear back-off in the round.
func (e *Engine) schedule(step Step) {
	base := time.Duration(e.cfg.ProposeTimeoutMs) * time.Millisecond
	if base <= 0 {
		base = 3 * time.Second
	}
	factor := time.Duration(e.round + 1)
	if factor > maxTimeoutFactor {
		factor = maxTimeoutFactor
	}
	d := base * factor
	if step != StepPropose {
		d = d / 2
	}
	ev := timeoutEvent{height: e.height, round: e.round, step: step}
	e.timer.Stop()
	e.timer = time.AfterFunc(d, func() {
		select {
		case e.timeout <- ev:
		default:
		}
	})
}

func (e *Engine) handleTimeout(ev timeoutEvent) {
	if ev.height != e.height || ev.round != e.round || ev.step != e.step {
		return // stale timer
	}
	switch ev.step {
	case StepPropose:
		e.enterPrevote()
	case StepPrevote:
		e.enterPrecommit(common.Hash{}, false)
	case StepPrecommit:
		e.nextRound()
	}
}

func (e *Engine) bufferFuture(height uint64, msg bus.Message) {
	total := 0
	for _, msgs := range e.future {
		total += len(msgs)
	}
	if total >= futureBufferLimit {
		return
	}
	e.future[height] = append(e.future[height], msg)
}
