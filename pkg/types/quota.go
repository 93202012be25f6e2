// Copyright 2025 Palisade Chain
//
// Per-account quota limits: a common ceiling plus per-address overrides for
// designated special users.

package types

import "github.com/ethereum/go-ethereum/common"

// AccountQuota bounds how much quota one sender may occupy within a block.
type AccountQuota struct {
	Common   uint64
	Specific map[common.Address]uint64
}

// LimitFor returns the ceiling for the given sender.
func (q AccountQuota) LimitFor(addr common.Address) uint64 {
	if v, ok := q.Specific[addr]; ok {
		return v
	}
	return q.Common
}
