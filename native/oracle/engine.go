package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"omen/native/market"
)

var (
	ErrNilLedger = errors.New("oracle engine: ledger not configured")
	ErrNilSource = errors.New("oracle engine: price source not configured")
	// ErrStaleSample marks a quote outside the freshness window. Resolution is
	// retried on a later scheduler tick, never forced.
	ErrStaleSample   = errors.New("oracle: stale price sample")
	ErrInvalidSample = errors.New("oracle: invalid price sample")
	ErrNotAuthorized = errors.New("oracle: caller not authorized")
)

// DefaultMaxSampleAge is the staleness window applied when none is configured.
const DefaultMaxSampleAge = 5 * time.Minute

// Sample is a single price observation from an external oracle. Price shares
// the market threshold's 1e8 fixed-point scale.
type Sample struct {
	Price     *big.Int
	Timestamp time.Time
	Valid     bool
}

// Clone returns a deep copy of the sample.
func (s Sample) Clone() Sample {
	clone := Sample{Timestamp: s.Timestamp, Valid: s.Valid}
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	}
	return clone
}

// PriceSource resolves the latest price sample for an opaque oracle reference.
type PriceSource interface {
	LatestSample(ref string) (Sample, error)
}

type ledger interface {
	GetMarket(id uint64) (*market.Market, error)
	MarkResolved(id uint64, outcome market.Outcome, reason string) error
	DueMarket(now int64, after uint64) (uint64, bool, error)
}

// Engine decides market outcomes from oracle prices and writes each decision
// into the ledger exactly once. An external scheduler drives it through
// HasDueMarket and Resolve; the engine itself keeps no timers.
type Engine struct {
	ledger ledger
	source PriceSource
	maxAge time.Duration
	admin  [20]byte
	nowFn  func() time.Time
}

// NewEngine constructs a resolution engine bound to the ledger and price
// source with the default staleness window.
func NewEngine(l ledger, source PriceSource) *Engine {
	return &Engine{
		ledger: l,
		source: source,
		maxAge: DefaultMaxSampleAge,
		nowFn:  time.Now,
	}
}

// SetMaxSampleAge configures the staleness window. Non-positive values reset
// to the default.
func (e *Engine) SetMaxSampleAge(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultMaxSampleAge
	}
	e.maxAge = maxAge
}

// SetAdmin configures the address allowed to use the manual override path.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

// HasDueMarket reports the lowest-id market that has expired without being
// resolved, if any. Read-only; safe to call on every scheduler tick.
func (e *Engine) HasDueMarket() (uint64, bool, error) {
	return e.NextDueMarket(0)
}

// NextDueMarket reports the lowest expired, unresolved market with an id
// strictly greater than after. The cursor lets a scheduler walk past a market
// whose oracle keeps failing instead of re-picking it every tick.
func (e *Engine) NextDueMarket(after uint64) (uint64, bool, error) {
	if e == nil || e.ledger == nil {
		return 0, false, ErrNilLedger
	}
	return e.ledger.DueMarket(e.now().Unix(), after)
}

// PrepareResolve checks that the market is eligible for oracle resolution and
// returns its oracle reference. Callers fetch the sample themselves and feed
// it to ResolveWith; the split keeps the network round trip out of any lock
// held around ledger access.
func (e *Engine) PrepareResolve(marketID uint64) (string, error) {
	if e == nil || e.ledger == nil {
		return "", ErrNilLedger
	}
	mkt, err := e.ledger.GetMarket(marketID)
	if err != nil {
		return "", err
	}
	if mkt.Resolved {
		return "", market.ErrMarketResolved
	}
	if !mkt.Expired(e.now().Unix()) {
		return "", market.ErrNotExpired
	}
	return mkt.OracleRef, nil
}

// FetchSample pulls the latest sample for the oracle reference and validates
// it. Samples that are marked invalid, non-positive, future-dated or older
// than the staleness window are rejected.
func (e *Engine) FetchSample(ref string) (Sample, error) {
	if e == nil || e.source == nil {
		return Sample{}, ErrNilSource
	}
	sample, err := e.source.LatestSample(ref)
	if err != nil {
		return Sample{}, fmt.Errorf("oracle: fetch %s: %w", ref, err)
	}
	if err := e.validateSample(sample, e.now()); err != nil {
		return Sample{}, err
	}
	return sample, nil
}

func (e *Engine) validateSample(sample Sample, now time.Time) error {
	if !sample.Valid || sample.Price == nil || sample.Price.Sign() <= 0 {
		return ErrInvalidSample
	}
	if sample.Timestamp.After(now) {
		return ErrInvalidSample
	}
	if e.maxAge > 0 && now.Sub(sample.Timestamp) > e.maxAge {
		return ErrStaleSample
	}
	return nil
}

// ResolveWith decides the market outcome from an already-fetched sample and
// records it. Eligibility and sample freshness are re-checked here because
// the market may have been resolved, and the sample may have aged out, while
// the fetch was in flight. Price at or above the threshold resolves Bullish.
func (e *Engine) ResolveWith(marketID uint64, sample Sample) error {
	if e == nil || e.ledger == nil {
		return ErrNilLedger
	}
	mkt, err := e.ledger.GetMarket(marketID)
	if err != nil {
		return err
	}
	if mkt.Resolved {
		return market.ErrMarketResolved
	}
	now := e.now()
	if !mkt.Expired(now.Unix()) {
		return market.ErrNotExpired
	}
	if err := e.validateSample(sample, now); err != nil {
		return err
	}
	outcome := market.OutcomeBearish
	if sample.Price.Cmp(mkt.PriceThreshold) >= 0 {
		outcome = market.OutcomeBullish
	}
	return e.ledger.MarkResolved(marketID, outcome, market.ResolutionReasonPrice)
}

// Resolve runs the full pipeline in one call: eligibility check, price fetch,
// decision, write. A transient failure is retried on the next scheduler tick;
// the ledger rejects a second success.
func (e *Engine) Resolve(marketID uint64) error {
	ref, err := e.PrepareResolve(marketID)
	if err != nil {
		return err
	}
	sample, err := e.FetchSample(ref)
	if err != nil {
		return err
	}
	return e.ResolveWith(marketID, sample)
}

// ResolveManual records an operator-decided outcome for markets whose oracle
// is persistently stale or disputed. The write path is the same as automatic
// resolution, so resolve-exactly-once still holds, and the recorded reason
// distinguishes the override for auditors.
func (e *Engine) ResolveManual(marketID uint64, outcome market.Outcome, caller [20]byte) error {
	if e == nil || e.ledger == nil {
		return ErrNilLedger
	}
	if e.admin == ([20]byte{}) || caller != e.admin {
		return ErrNotAuthorized
	}
	if !outcome.Valid() {
		return market.ErrInvalidOutcome
	}
	return e.ledger.MarkResolved(marketID, outcome, market.ResolutionReasonManual)
}

// ManualSource is an in-memory price source used for tests and incident
// response when an upstream feed is unavailable.
type ManualSource struct {
	mu      sync.RWMutex
	samples map[string]Sample
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{samples: make(map[string]Sample)}
}

// Set records the sample for the supplied oracle reference.
func (m *ManualSource) Set(ref string, sample Sample) {
	m.mu.Lock()
	m.samples[strings.TrimSpace(ref)] = sample.Clone()
	m.mu.Unlock()
}

// LatestSample implements the PriceSource interface.
func (m *ManualSource) LatestSample(ref string) (Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sample, ok := m.samples[strings.TrimSpace(ref)]
	if !ok {
		return Sample{}, fmt.Errorf("oracle: no sample for reference %q", ref)
	}
	return sample.Clone(), nil
}
