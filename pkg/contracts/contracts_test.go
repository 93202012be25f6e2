// Copyright 2025 Palisade Chain
//
// Governance contract tests: validator-set delay, quota limits and
// permission flags.

package contracts

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/palisade-chain/palisade/pkg/kvdb"
	"github.com/palisade-chain/palisade/pkg/state"
	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/vm"
)

var (
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	v1        = common.HexToAddress("0x0000000000000000000000000000000000000011")
	v2        = common.HexToAddress("0x0000000000000000000000000000000000000022")
	v3        = common.HexToAddress("0x0000000000000000000000000000000000000033")
)

func newState(t *testing.T) *state.StateDB {
	t.Helper()
	db := kvdb.NewMemDatabase()
	st, err := state.New(common.Hash{}, trie.NewNodeDB(db.Column(kvdb.ColState)))
	if err != nil {
		t.Fatal(err)
	}
	if err := SetAdmin(st, adminAddr); err != nil {
		t.Fatal(err)
	}
	return st
}

func callInput(sig string, words ...common.Hash) []byte {
	id := MethodID(sig)
	out := append([]byte{}, id[:]...)
	for _, w := range words {
		out = append(out, w.Bytes()...)
	}
	return out
}

func addrWord(a common.Address) common.Hash {
	var w common.Hash
	copy(w[12:], a.Bytes())
	return w
}

func TestValidatorSetOneBlockDelay(t *testing.T) {
	st := newState(t)
	if err := SetupGenesisNodes(st, []common.Address{v1, v2}); err != nil {
		t.Fatal(err)
	}
	// governance tx committed at height 5 approves v3
	nm := &NodeManager{}
	ctx := &vm.Context{Origin: adminAddr, Number: 5}
	_, _, err := nm.Execute(ctx, st, callInput("approveNode(address)", addrWord(v3)), 10000)
	if err != nil {
		t.Fatal(err)
	}

	// at the commit height the old set still rules
	at5, err := ValidatorsAt(st, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(at5) != 2 {
		t.Fatalf("set at commit height: %v", at5)
	}
	// one block later the change is live
	at6, err := ValidatorsAt(st, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(at6) != 3 || at6[2] != v3 {
		t.Fatalf("set after delay: %v", at6)
	}
}

func TestNodeManagerRejectsNonAdmin(t *testing.T) {
	st := newState(t)
	SetupGenesisNodes(st, []common.Address{v1})
	nm := &NodeManager{}
	ctx := &vm.Context{Origin: v2, Number: 1}
	if _, _, err := nm.Execute(ctx, st, callInput("approveNode(address)", addrWord(v3)), 10000); err == nil {
		t.Fatal("non-admin governance write accepted")
	}
}

func TestQuotaManager(t *testing.T) {
	st := newState(t)
	if err := SetupGenesisQuota(st, 1<<30, 1<<28); err != nil {
		t.Fatal(err)
	}
	block, account, err := QuotaLimits(st)
	if err != nil {
		t.Fatal(err)
	}
	if block != 1<<30 || account.Common != 1<<28 {
		t.Fatalf("limits wrong: %d %d", block, account.Common)
	}

	// special user override through the contract call surface
	qm := &QuotaManager{}
	ctx := &vm.Context{Origin: adminAddr, Number: 1}
	var quotaWord common.Hash
	quotaWord[31] = 0x10
	quotaWord[30] = 0x27 // 0x2710 = 10000
	input := callInput("setUserQuota(address,uint64)", addrWord(v1), quotaWord)
	if _, _, err := qm.Execute(ctx, st, input, 10000); err != nil {
		t.Fatal(err)
	}
	_, account, err = QuotaLimits(st)
	if err != nil {
		t.Fatal(err)
	}
	if account.LimitFor(v1) != 0x2710 {
		t.Fatalf("special quota: %d", account.LimitFor(v1))
	}
	if account.LimitFor(v2) != 1<<28 {
		t.Fatalf("common quota leaked: %d", account.LimitFor(v2))
	}
}

func TestPermissions(t *testing.T) {
	st := newState(t)
	if err := GrantGenesis(st, adminAddr); err != nil {
		t.Fatal(err)
	}
	if ok, _ := HasPermission(st, adminAddr, PermSendTx); !ok {
		t.Fatal("genesis grant missing")
	}
	if ok, _ := HasPermission(st, v1, PermSendTx); ok {
		t.Fatal("stranger holds SendTx")
	}

	pm := &PermissionManager{}
	ctx := &vm.Context{Origin: adminAddr, Number: 1}
	var permWord common.Hash
	permWord[31] = byte(PermSendTx)
	if _, _, err := pm.Execute(ctx, st, callInput("grantPermission(address,uint64)", addrWord(v1), permWord), 10000); err != nil {
		t.Fatal(err)
	}
	if ok, _ := HasPermission(st, v1, PermSendTx); !ok {
		t.Fatal("granted permission not visible")
	}
	if _, _, err := pm.Execute(ctx, st, callInput("revokePermission(address,uint64)", addrWord(v1), permWord), 10000); err != nil {
		t.Fatal(err)
	}
	if ok, _ := HasPermission(st, v1, PermSendTx); ok {
		t.Fatal("revoked permission still visible")
	}
}

func TestRegistryResolves(t *testing.T) {
	r := NewRegistry()
	for _, addr := range []common.Address{NodeManagerAddr, QuotaManagerAddr, PermissionManagerAddr, SimpleStorageAddr} {
		if _, ok := r.Resolve(addr); !ok {
			t.Errorf("registry missing %s", addr.Hex())
		}
	}
	if _, ok := r.Resolve(common.HexToAddress("0x9999")); ok {
		t.Error("registry resolved an arbitrary address")
	}
}

func TestSimpleStorageGetSet(t *testing.T) {
	st := newState(t)
	ss := &SimpleStorage{}
	ctx := &vm.Context{Origin: adminAddr, Number: 1}
	var val common.Hash
	val[31] = 0x2a
	if _, _, err := ss.Execute(ctx, st, callInput("set(uint256)", val), 10000); err != nil {
		t.Fatal(err)
	}
	out, _, err := ss.Execute(ctx, st, callInput("get()"), 10000)
	if err != nil {
		t.Fatal(err)
	}
	if common.BytesToHash(out) != val {
		t.Fatalf("stored value wrong: %x", out)
	}
}
