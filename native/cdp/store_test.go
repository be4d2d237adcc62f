package cdp

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/storage"
)

func TestKVStatePositionRoundTrip(t *testing.T) {
	state := NewKVState(storage.NewMemDB())

	pos := NewPosition()
	if err := pos.addCollateral(wethAddr, eth(3)); err != nil {
		t.Fatalf("stage collateral: %v", err)
	}
	if err := pos.addDebt(eth(42)); err != nil {
		t.Fatalf("stage debt: %v", err)
	}
	if err := state.PutPosition(aliceAddr, pos); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := state.GetPosition(aliceAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.CollateralBalance(wethAddr).Cmp(eth(3)) != 0 {
		t.Fatalf("collateral round trip: %s", loaded.CollateralBalance(wethAddr))
	}
	if loaded.Debt.Cmp(eth(42)) != 0 {
		t.Fatalf("debt round trip: %s", loaded.Debt)
	}
}

func TestKVStateAbsentPositionIsNil(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	pos, err := state.GetPosition(aliceAddr)
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if pos != nil {
		t.Fatalf("absent position should be nil, got %+v", pos)
	}
}

func TestKVStateCustodyDefaultsToZero(t *testing.T) {
	state := NewKVState(storage.NewMemDB())

	custody, err := state.GetCustody(wethAddr)
	if err != nil {
		t.Fatalf("get absent custody: %v", err)
	}
	if custody.Sign() != 0 {
		t.Fatalf("absent custody should be zero, got %s", custody)
	}

	if err := state.PutCustody(wethAddr, eth(9)); err != nil {
		t.Fatalf("put custody: %v", err)
	}
	custody, err = state.GetCustody(wethAddr)
	if err != nil {
		t.Fatalf("get custody: %v", err)
	}
	if custody.Cmp(eth(9)) != 0 {
		t.Fatalf("custody round trip: %s", custody)
	}
}

func TestKVStateEachPosition(t *testing.T) {
	state := NewKVState(storage.NewMemDB())

	for i, addr := range []common.Address{aliceAddr, bobAddr, carolAddr} {
		pos := NewPosition()
		if err := pos.addDebt(eth(int64(i + 1))); err != nil {
			t.Fatalf("stage debt: %v", err)
		}
		if err := state.PutPosition(addr, pos); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	total := big.NewInt(0)
	seen := 0
	err := state.EachPosition(func(_ common.Address, pos *Position) error {
		seen++
		total.Add(total, pos.Debt)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if seen != 3 {
		t.Fatalf("visited %d positions, want 3", seen)
	}
	if total.Cmp(eth(6)) != 0 {
		t.Fatalf("summed debt: %s", total)
	}
}

func TestKVStateNilPositionStoresEmpty(t *testing.T) {
	state := NewKVState(storage.NewMemDB())

	if err := state.PutPosition(aliceAddr, nil); err != nil {
		t.Fatalf("put nil: %v", err)
	}
	pos, err := state.GetPosition(aliceAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pos == nil || pos.Debt.Sign() != 0 || len(pos.Collateral) != 0 {
		t.Fatalf("expected empty stored position, got %+v", pos)
	}
}
