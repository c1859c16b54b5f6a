package oracle

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"omen/native/market"
)

type mockLedger struct {
	markets map[uint64]*market.Market

	resolved map[uint64]market.Outcome
	reasons  map[uint64]string
	nowArg   int64
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		markets:  make(map[uint64]*market.Market),
		resolved: make(map[uint64]market.Outcome),
		reasons:  make(map[uint64]string),
	}
}

func (m *mockLedger) GetMarket(id uint64) (*market.Market, error) {
	mkt, ok := m.markets[id]
	if !ok {
		return nil, market.ErrMarketNotFound
	}
	return mkt.Clone(), nil
}

func (m *mockLedger) MarkResolved(id uint64, outcome market.Outcome, reason string) error {
	mkt, ok := m.markets[id]
	if !ok {
		return market.ErrMarketNotFound
	}
	if mkt.Resolved {
		return market.ErrMarketResolved
	}
	mkt.Resolved = true
	mkt.WinningOutcome = outcome
	mkt.ResolutionReason = reason
	m.resolved[id] = outcome
	m.reasons[id] = reason
	return nil
}

func (m *mockLedger) DueMarket(now int64, after uint64) (uint64, bool, error) {
	m.nowArg = now
	best := uint64(0)
	found := false
	for id, mkt := range m.markets {
		if id <= after || mkt.Resolved || !mkt.Expired(now) {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found, nil
}

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(t *testing.T, now time.Time) (*Engine, *mockLedger, *ManualSource) {
	t.Helper()
	ledger := newMockLedger()
	source := NewManualSource()
	engine := NewEngine(ledger, source)
	engine.SetNowFunc(func() time.Time { return now })
	return engine, ledger, source
}

func addMarket(ledger *mockLedger, id uint64, expiration int64, threshold int64) {
	ledger.markets[id] = &market.Market{
		ID:                id,
		ExpirationTime:    expiration,
		PriceThreshold:    big.NewInt(threshold),
		OracleRef:         "pyth:btc-usd",
		TotalStakeBearish: big.NewInt(0),
		TotalStakeBullish: big.NewInt(0),
	}
}

func TestResolveBeforeExpiryThenSucceedsOnce(t *testing.T) {
	now := time.Unix(1_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	addMarket(ledger, 1, 2_000, 100)
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: now, Valid: true})

	if err := engine.Resolve(1); !errors.Is(err, market.ErrNotExpired) {
		t.Fatalf("expected ErrNotExpired got %v", err)
	}

	later := time.Unix(2_000, 0)
	engine.SetNowFunc(func() time.Time { return later })
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: later, Valid: true})
	if err := engine.Resolve(1); err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if ledger.resolved[1] != market.OutcomeBullish {
		t.Fatalf("expected bullish outcome")
	}
	if err := engine.Resolve(1); !errors.Is(err, market.ErrMarketResolved) {
		t.Fatalf("expected ErrMarketResolved on retry got %v", err)
	}
}

func TestResolveTieBreakEqualityIsBullish(t *testing.T) {
	now := time.Unix(5_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	addMarket(ledger, 1, 4_000, 100)
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(100), Timestamp: now, Valid: true})

	if err := engine.Resolve(1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ledger.resolved[1] != market.OutcomeBullish {
		t.Fatalf("price == threshold must resolve bullish")
	}
}

func TestResolveBelowThresholdIsBearish(t *testing.T) {
	now := time.Unix(5_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	addMarket(ledger, 1, 4_000, 100)
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(99), Timestamp: now, Valid: true})

	if err := engine.Resolve(1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ledger.resolved[1] != market.OutcomeBearish {
		t.Fatalf("price below threshold must resolve bearish")
	}
	if ledger.reasons[1] != market.ResolutionReasonPrice {
		t.Fatalf("automatic resolution must record the price reason, got %q", ledger.reasons[1])
	}
}

func TestResolveStaleSample(t *testing.T) {
	now := time.Unix(10_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	engine.SetMaxSampleAge(time.Minute)
	addMarket(ledger, 1, 4_000, 100)
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: now.Add(-2 * time.Minute), Valid: true})

	if err := engine.Resolve(1); !errors.Is(err, ErrStaleSample) {
		t.Fatalf("expected ErrStaleSample got %v", err)
	}
	if ledger.markets[1].Resolved {
		t.Fatalf("stale data must not resolve the market")
	}

	// A fresh sample on the next tick succeeds.
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: now, Valid: true})
	if err := engine.Resolve(1); err != nil {
		t.Fatalf("resolve with fresh sample: %v", err)
	}
}

func TestResolveInvalidSample(t *testing.T) {
	now := time.Unix(10_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	addMarket(ledger, 1, 4_000, 100)

	for i, sample := range []Sample{
		{Price: big.NewInt(150), Timestamp: now, Valid: false},
		{Price: nil, Timestamp: now, Valid: true},
		{Price: big.NewInt(0), Timestamp: now, Valid: true},
	} {
		source.Set("pyth:btc-usd", sample)
		if err := engine.Resolve(1); !errors.Is(err, ErrInvalidSample) {
			t.Fatalf("case %d: expected ErrInvalidSample got %v", i, err)
		}
	}
	if ledger.markets[1].Resolved {
		t.Fatalf("invalid data must never default to an outcome")
	}
}

func TestResolveRejectsFutureDatedSample(t *testing.T) {
	now := time.Unix(10_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	addMarket(ledger, 1, 4_000, 100)
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: now.Add(time.Minute), Valid: true})

	if err := engine.Resolve(1); !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample for future timestamp got %v", err)
	}
	if ledger.markets[1].Resolved {
		t.Fatalf("future-dated data must not resolve the market")
	}
}

func TestResolveUnknownMarket(t *testing.T) {
	engine, _, _ := newTestEngine(t, time.Unix(10_000, 0))
	if err := engine.Resolve(9); !errors.Is(err, market.ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound got %v", err)
	}
}

func TestResolveManual(t *testing.T) {
	now := time.Unix(10_000, 0)
	engine, ledger, _ := newTestEngine(t, now)
	admin := testAddress(0xAD)
	engine.SetAdmin(admin)
	addMarket(ledger, 1, 4_000, 100)

	if err := engine.ResolveManual(1, market.OutcomeBearish, testAddress(0x01)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized got %v", err)
	}
	if err := engine.ResolveManual(1, market.Outcome(9), admin); !errors.Is(err, market.ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome got %v", err)
	}
	if err := engine.ResolveManual(1, market.OutcomeBearish, admin); err != nil {
		t.Fatalf("manual resolve: %v", err)
	}
	if ledger.reasons[1] != market.ResolutionReasonManual {
		t.Fatalf("manual resolution must be distinguishable, got %q", ledger.reasons[1])
	}
	if err := engine.ResolveManual(1, market.OutcomeBullish, admin); !errors.Is(err, market.ErrMarketResolved) {
		t.Fatalf("override must still resolve exactly once, got %v", err)
	}
}

func TestResolveManualWithoutAdminConfigured(t *testing.T) {
	engine, ledger, _ := newTestEngine(t, time.Unix(10_000, 0))
	addMarket(ledger, 1, 4_000, 100)
	if err := engine.ResolveManual(1, market.OutcomeBullish, [20]byte{}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("zero admin must reject all callers, got %v", err)
	}
}

func TestHasDueMarket(t *testing.T) {
	now := time.Unix(3_000, 0)
	engine, ledger, _ := newTestEngine(t, now)
	addMarket(ledger, 4, 2_000, 100)

	id, ok, err := engine.HasDueMarket()
	if err != nil || !ok || id != 4 {
		t.Fatalf("expected market 4 due, got id=%d ok=%v err=%v", id, ok, err)
	}
	if ledger.nowArg != now.Unix() {
		t.Fatalf("engine must pass its clock to the ledger scan")
	}
}

func TestResolveWithRechecksEligibility(t *testing.T) {
	now := time.Unix(10_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	admin := testAddress(0xAD)
	engine.SetAdmin(admin)
	addMarket(ledger, 1, 4_000, 100)
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: now, Valid: true})

	ref, err := engine.PrepareResolve(1)
	if err != nil || ref != "pyth:btc-usd" {
		t.Fatalf("prepare: ref=%q err=%v", ref, err)
	}
	sample, err := engine.FetchSample(ref)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// The market resolves while the fetched sample is in flight; the write
	// step must notice instead of resolving twice.
	if err := engine.ResolveManual(1, market.OutcomeBearish, admin); err != nil {
		t.Fatalf("manual resolve: %v", err)
	}
	if err := engine.ResolveWith(1, sample); !errors.Is(err, market.ErrMarketResolved) {
		t.Fatalf("expected ErrMarketResolved got %v", err)
	}
	if ledger.resolved[1] != market.OutcomeBearish {
		t.Fatalf("in-flight sample must not overwrite the recorded outcome")
	}
}

func TestNextDueMarketWalksPastStuckOracle(t *testing.T) {
	now := time.Unix(3_000, 0)
	engine, ledger, source := newTestEngine(t, now)
	engine.SetMaxSampleAge(time.Minute)
	addMarket(ledger, 1, 2_000, 100)
	ledger.markets[2] = &market.Market{
		ID:             2,
		ExpirationTime: 2_000,
		PriceThreshold: big.NewInt(100),
		OracleRef:      "pyth:eth-usd",
	}
	source.Set("pyth:btc-usd", Sample{Price: big.NewInt(150), Timestamp: now.Add(-time.Hour), Valid: true})
	source.Set("pyth:eth-usd", Sample{Price: big.NewInt(150), Timestamp: now, Valid: true})

	// Scheduler walk: the stale market defers, the cursor moves on and the
	// fresh one still resolves in the same pass.
	cursor := uint64(0)
	for {
		id, due, err := engine.NextDueMarket(cursor)
		if err != nil {
			t.Fatalf("due scan: %v", err)
		}
		if !due {
			break
		}
		cursor = id
		err = engine.Resolve(id)
		if id == 1 && !errors.Is(err, ErrStaleSample) {
			t.Fatalf("market 1: expected ErrStaleSample got %v", err)
		}
		if id == 2 && err != nil {
			t.Fatalf("market 2: %v", err)
		}
	}
	if ledger.markets[1].Resolved {
		t.Fatalf("stale market must stay unresolved")
	}
	if !ledger.markets[2].Resolved {
		t.Fatalf("fresh market must not be starved by an earlier stale one")
	}
}
