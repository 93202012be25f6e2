// Copyright 2025 Palisade Chain
//
// Quota manager: on-chain block and per-account quota limits plus the
// special-user override table.

package contracts

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/types"
	"github.com/palisade-chain/palisade/pkg/vm"
)

var (
	selGetBlockQuotaLimit   = MethodID("getBlockQuotaLimit()")
	selGetAccountQuotaLimit = MethodID("getAccountQuotaLimit()")
	selGetSpecialUsers      = MethodID("getSpecialUsers()")
	selGetUsersQuota        = MethodID("getUsersQuota()")
	selSetBlockQuotaLimit   = MethodID("setBlockQuotaLimit(uint64)")
	selSetAccountQuotaLimit = MethodID("setAccountQuotaLimit(uint64)")
	selSetUserQuota         = MethodID("setUserQuota(address,uint64)")
)

// QuotaManager is the native contract at QuotaManagerAddr.
type QuotaManager struct{}

func (q *QuotaManager) Execute(ctx *vm.Context, st *state.StateDB, input []byte, quota uint64) ([]byte, uint64, error) {
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
	case selGetBlockQuotaLimit:
		v, err := readUint(st, QuotaManagerAddr, slot("quota.block"))
		if err != nil {
			return nil, quota, err
		}
		return encodeUint(v), quota, nil
	case selGetAccountQuotaLimit:
		v, err := readUint(st, QuotaManagerAddr, slot("quota.account"))
		if err != nil {
			return nil, quota, err
		}
		return encodeUint(v), quota, nil
	case selGetSpecialUsers:
		users, err := readAddressList(st, QuotaManagerAddr, "quota.users")
		if err != nil {
			return nil, quota, err
		}
		return encodeAddressList(users), quota, nil
	case selGetUsersQuota:
		quotas, err := readUintList(st, QuotaManagerAddr, "quota.values")
		if err != nil {
			return nil, quota, err
		}
		out := make([]byte, 32*(len(quotas)+1))
		binary.BigEndian.PutUint64(out[24:32], uint64(len(quotas)))
		for i, v := range quotas {
			binary.BigEndian.PutUint64(out[32*(i+1)+24:32*(i+2)], v)
		}
		return out, quota, nil
	case selSetBlockQuotaLimit:
		v, err := wordUint(input[4:])
		if err != nil {
			return nil, quota, err
		}
		if err := requireAdmin(st, ctx.Origin); err != nil {
			return nil, quota, err
		}
		return nil, quota, writeUint(st, QuotaManagerAddr, slot("quota.block"), v)
	case selSetAccountQuotaLimit:
		v, err := wordUint(input[4:])
		if err != nil {
			return nil, quota, err
		}
		if err := requireAdmin(st, ctx.Origin); err != nil {
			return nil, quota, err
		}
		return nil, quota, writeUint(st, QuotaManagerAddr, slot("quota.account"), v)
	case selSetUserQuota:
		if err := requireAdmin(st, ctx.Origin); err != nil {
			return nil, quota, err
		}
		addr, err := wordAddress(input[4:])
		if err != nil {
			return nil, quota, err
		}
		v, err := wordUint(input[36:])
		if err != nil {
			return nil, quota, err
		}
		return nil, quota, setUserQuota(st, addr, v)
	default:
		return nil, quota, ErrUnknownMethod
	}
}

func setUserQuota(st *state.StateDB, addr common.Address, v uint64) error {
	users, err := readAddressList(st, QuotaManagerAddr, "quota.users")
	if err != nil {
		return err
	}
	quotas, err := readUintList(st, QuotaManagerAddr, "quota.values")
	if err != nil {
		return err
	}
	for i, u := range users {
		if u == addr {
			quotas[i] = v
			return writeUintList(st, QuotaManagerAddr, "quota.values", quotas)
		}
	}
	users = append(users, addr)
	quotas = append(quotas, v)
	if err := writeAddressList(st, QuotaManagerAddr, "quota.users", users); err != nil {
		return err
	}
	return writeUintList(st, QuotaManagerAddr, "quota.values", quotas)
}

// QuotaLimits reads the limits the verifier and mempool enforce. Zipping the
// user and quota tables mirrors how the special-user map is published.
func QuotaLimits(st *state.StateDB) (uint64, types.AccountQuota, error) {
	block, err := readUint(st, QuotaManagerAddr, slot("quota.block"))
	if err != nil {
		return 0, types.AccountQuota{}, err
	}
	account, err := readUint(st, QuotaManagerAddr, slot("quota.account"))
	if err != nil {
		return 0, types.AccountQuota{}, err
	}
	users, err := readAddressList(st, QuotaManagerAddr, "quota.users")
	if err != nil {
		return 0, types.AccountQuota{}, err
	}
	quotas, err := readUintList(st, QuotaManagerAddr, "quota.values")
	if err != nil {
		return 0, types.AccountQuota{}, err
	}
	specific := make(map[common.Address]uint64, len(users))
	for i := 0; i < len(users) && i < len(quotas); i++ {
		specific[users[i]] = quotas[i]
	}
	return block, types.AccountQuota{Common: account, Specific: specific}, nil
}

// SetupGenesisQuota writes the configured limits into the contract.
func SetupGenesisQuota(st *state.StateDB, blockQuota, accountQuota uint64) error {
	if err := writeUint(st, QuotaManagerAddr, slot("quota.block"), blockQuota); err != nil {
		return err
	}
	return writeUint(st, QuotaManagerAddr, slot("quota.account"), accountQuota)
}

func wordUint(data []byte) (uint64, error) {
	if len(data) < 32 {
		return 0, ErrShortInput
	}
	return binary.BigEndian.Uint64(data[24:32]), nil
}

func encodeUint(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}
