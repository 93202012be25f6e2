// Copyright 2025 Palisade Chain
//
// Genesis construction: the height-zero block and its pre-state, holding the
// governance contracts, the chain admin and any pre-funded accounts.

package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/contracts"
	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/types"
)

// Genesis describes the height-zero state.
type Genesis struct {
	Timestamp  uint64
	Admin      common.Address
	Validators []common.Address
	Alloc      map[common.Address]*uint256.Int
}

// GenesisFromConfig derives the standard genesis from node configuration.
func GenesisFromConfig(cfg *config.Config, admin common.Address) *Genesis {
	return &Genesis{
		Timestamp:  1,
		Admin:      admin,
		Validators: cfg.GenesisValidators(),
		Alloc:      make(map[common.Address]*uint256.Int),
	}
}

// CommitGenesis materializes the genesis state and returns the genesis block. The
// caller persists the trie overlay alongside the block.
func (e *Executor) CommitGenesis(g *Genesis) (*types.Block, error) {
	st, err := state.New(common.Hash{}, e.db)
	if err != nil {
		return nil, err
	}
	if err := contracts.SetAdmin(st, g.Admin); err != nil {
		return nil, err
	}
	if err := contracts.SetupGenesisNodes(st, g.Validators); err != nil {
		return nil, err
	}
	if err := contracts.SetupGenesisQuota(st, e.cfg.BlockQuotaLimit, e.cfg.AccountQuotaLimit); err != nil {
		return nil, err
	}
	if err := contracts.GrantGenesis(st, g.Admin); err != nil {
		return nil, err
	}
	for addr, balance := range g.Alloc {
		if err := st.AddBalance(addr, balance); err != nil {
			return nil, err
		}
	}
	st.Finalise()
	root, err := st.Commit()
	if err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}
	header := &types.Header{
		StateRoot:  root,
		Number:     0,
		Timestamp:  g.Timestamp,
		QuotaLimit: e.cfg.BlockQuotaLimit,
		Version:    e.cfg.Version,
	}
	return types.NewBlock(header, &types.Body{}), nil
}
