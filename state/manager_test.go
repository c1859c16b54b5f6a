package state

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"omen/native/market"
	"omen/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestSequencesAreMonotonic(t *testing.T) {
	mgr := newTestManager()
	for want := uint64(1); want <= 5; want++ {
		id, err := mgr.NextMarketID()
		if err != nil {
			t.Fatalf("next market id: %v", err)
		}
		if id != want {
			t.Fatalf("expected market id %d got %d", want, id)
		}
	}
	id, err := mgr.NextPositionID()
	if err != nil || id != 1 {
		t.Fatalf("position sequence must be independent, got %d err=%v", id, err)
	}
}

func TestMarketRoundTrip(t *testing.T) {
	mgr := newTestManager()
	mkt := &market.Market{
		ID:                3,
		Description:       "ETH above 4k",
		AssetPairKey:      "ETH/USD",
		ExpirationTime:    1_700_000_000,
		PriceThreshold:    big.NewInt(4_000_00000000),
		OracleRef:         "pyth:eth-usd",
		TotalStakeBearish: big.NewInt(123),
		TotalStakeBullish: big.NewInt(456),
		Resolved:          true,
		WinningOutcome:    market.OutcomeBullish,
		ResolutionReason:  market.ResolutionReasonManual,
		CreatedAt:         1_600_000_000,
	}
	if err := mgr.MarketPut(mkt); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := mgr.MarketGet(3)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.Description != mkt.Description || loaded.ExpirationTime != mkt.ExpirationTime {
		t.Fatalf("metadata lost in round trip")
	}
	if loaded.TotalStakeBullish.Cmp(mkt.TotalStakeBullish) != 0 || loaded.TotalStakeBearish.Cmp(mkt.TotalStakeBearish) != 0 {
		t.Fatalf("stake totals lost in round trip")
	}
	if !loaded.Resolved || loaded.WinningOutcome != market.OutcomeBullish || loaded.ResolutionReason != market.ResolutionReasonManual {
		t.Fatalf("resolution state lost in round trip")
	}
	if _, ok, _ := mgr.MarketGet(99); ok {
		t.Fatalf("unknown market must not be found")
	}
}

func TestMarketIndexCreationOrder(t *testing.T) {
	mgr := newTestManager()
	for _, id := range []uint64{7, 2, 9} {
		if err := mgr.MarketPut(&market.Market{ID: id, PriceThreshold: big.NewInt(1)}); err != nil {
			t.Fatalf("put %d: %v", id, err)
		}
	}
	// Re-put must not duplicate the index entry.
	if err := mgr.MarketPut(&market.Market{ID: 2, PriceThreshold: big.NewInt(1)}); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	ids, err := mgr.MarketIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	want := []uint64{7, 2, 9}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("index order mismatch: %v", ids)
		}
	}
}

func TestPositionLifecycle(t *testing.T) {
	mgr := newTestManager()
	pos := &market.Position{
		ID:              8,
		MarketID:        3,
		Outcome:         market.OutcomeBearish,
		ConvictionStake: big.NewInt(950),
		Owner:           testAddress(0x01),
		MintedAt:        1_650_000_000,
	}
	if err := mgr.PositionPut(pos); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := mgr.PositionGet(8)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.ConvictionStake.Cmp(pos.ConvictionStake) != 0 || loaded.Owner != pos.Owner || loaded.MintedAt != pos.MintedAt {
		t.Fatalf("position lost in round trip")
	}
	if err := mgr.PositionDelete(8); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := mgr.PositionGet(8); ok {
		t.Fatalf("deleted position must be unreachable")
	}
	if err := mgr.PositionDelete(8); err == nil {
		t.Fatalf("double delete must fail")
	}
}

func TestBalances(t *testing.T) {
	mgr := newTestManager()
	addr := testAddress(0x02)

	if err := mgr.BalanceCredit(addr, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.BalanceDebit(addr, big.NewInt(400)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := mgr.BalanceGet(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected 600 got %s", balance)
	}
	if err := mgr.BalanceDebit(addr, big.NewInt(601)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance got %v", err)
	}
	balance, _ = mgr.BalanceGet(addr)
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("failed debit must not change the balance")
	}
}

func TestPools(t *testing.T) {
	mgr := newTestManager()
	if err := mgr.PoolCredit(1, big.NewInt(950)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.PoolDebit(1, big.NewInt(1_000)); !errors.Is(err, ErrPoolUnderflow) {
		t.Fatalf("expected ErrPoolUnderflow got %v", err)
	}
	if err := mgr.PoolDebit(1, big.NewInt(950)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	pool, err := mgr.PoolBalance(1)
	if err != nil || pool.Sign() != 0 {
		t.Fatalf("expected empty pool, got %s err=%v", pool, err)
	}
}

func TestTreasury(t *testing.T) {
	mgr := newTestManager()
	if err := mgr.TreasuryDeposit(big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mgr.TreasuryDeposit(big.NewInt(25)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	balance, err := mgr.TreasuryBalance()
	if err != nil || balance.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("expected 75 got %s err=%v", balance, err)
	}
	if err := mgr.TreasuryWithdraw(big.NewInt(100)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance got %v", err)
	}
	if err := mgr.TreasuryWithdraw(big.NewInt(75)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
}

// brokenCommitDB refuses batch commits while passing everything else through.
type brokenCommitDB struct {
	storage.Database
}

func (db *brokenCommitDB) Write(batch *storage.Batch) error {
	return errors.New("commit failed")
}

func TestStageCommitsAtomically(t *testing.T) {
	mgr := newTestManager()
	addr := testAddress(0x03)
	err := mgr.Stage(func() error {
		if err := mgr.BalanceCredit(addr, big.NewInt(500)); err != nil {
			return err
		}
		return mgr.TreasuryDeposit(big.NewInt(50))
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	balance, _ := mgr.BalanceGet(addr)
	if balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 got %s", balance)
	}
	treasury, _ := mgr.TreasuryBalance()
	if treasury.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 got %s", treasury)
	}
}

func TestStageReadsObserveStagedWrites(t *testing.T) {
	mgr := newTestManager()
	addr := testAddress(0x04)
	err := mgr.Stage(func() error {
		if err := mgr.BalanceCredit(addr, big.NewInt(300)); err != nil {
			return err
		}
		// Debits inside the stage must see the staged credit.
		return mgr.BalanceDebit(addr, big.NewInt(100))
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	balance, _ := mgr.BalanceGet(addr)
	if balance.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 got %s", balance)
	}
}

func TestStageDiscardsWritesOnError(t *testing.T) {
	mgr := newTestManager()
	addr := testAddress(0x05)
	if err := mgr.BalanceCredit(addr, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	wantErr := errors.New("halfway failure")
	err := mgr.Stage(func() error {
		if err := mgr.BalanceDebit(addr, big.NewInt(1_000)); err != nil {
			return err
		}
		if err := mgr.TreasuryDeposit(big.NewInt(50)); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected staged error, got %v", err)
	}
	balance, _ := mgr.BalanceGet(addr)
	if balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("failed stage must leave balance intact, got %s", balance)
	}
	treasury, _ := mgr.TreasuryBalance()
	if treasury.Sign() != 0 {
		t.Fatalf("failed stage must leave treasury empty, got %s", treasury)
	}
}

func TestStageDiscardsWritesOnCommitFailure(t *testing.T) {
	mem := storage.NewMemDB()
	mgr := NewManager(&brokenCommitDB{Database: mem})
	addr := testAddress(0x06)
	err := mgr.Stage(func() error {
		return mgr.BalanceCredit(addr, big.NewInt(500))
	})
	if err == nil {
		t.Fatalf("failed commit must surface an error")
	}
	balance, _ := mgr.BalanceGet(addr)
	if balance.Sign() != 0 {
		t.Fatalf("failed commit must leave no writes behind, got %s", balance)
	}
}

func TestManagerRejectsNegativeTimestamps(t *testing.T) {
	mgr := newTestManager()
	err := mgr.MarketPut(&market.Market{ID: 1, ExpirationTime: -5, PriceThreshold: big.NewInt(1)})
	if err == nil {
		t.Fatalf("negative expiration must be rejected")
	}
}
