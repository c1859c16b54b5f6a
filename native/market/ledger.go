package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"omen/core/events"
	"omen/core/types"
)

var (
	ErrNilState          = errors.New("market ledger: state not configured")
	ErrMarketNotFound    = errors.New("market: not found")
	ErrMarketExpired     = errors.New("market: expired")
	ErrMarketResolved    = errors.New("market: already resolved")
	ErrMarketNotResolved = errors.New("market: not resolved")
	ErrNotExpired        = errors.New("market: not yet expired")
	ErrZeroStake         = errors.New("market: stake rounds to zero")
	ErrInvalidOutcome    = errors.New("market: invalid outcome")
	ErrPositionNotFound  = errors.New("market: position not found")
	ErrNotOwner          = errors.New("market: caller is not the position owner")
	ErrFeeRateOutOfRange = errors.New("market: fee rate out of range")
)

const (
	// DefaultFeeRateBps is the protocol fee taken from every gross stake.
	DefaultFeeRateBps uint32 = 500
	// MaxFeeRateBps bounds the admin fee setter.
	MaxFeeRateBps uint32 = 2000

	feeDenominator int64 = 10_000
)

// ledgerState abstracts the subset of state manager functionality required by
// the position ledger. Every fund movement is paired with the corresponding
// record mutation through this interface; nothing else writes markets or
// positions.
type ledgerState interface {
	Stage(fn func() error) error
	NextMarketID() (uint64, error)
	NextPositionID() (uint64, error)
	MarketPut(*Market) error
	MarketGet(id uint64) (*Market, bool, error)
	MarketIDs() ([]uint64, error)
	PositionPut(*Position) error
	PositionGet(id uint64) (*Position, bool, error)
	PositionDelete(id uint64) error
	BalanceDebit(addr [20]byte, amt *big.Int) error
	BalanceCredit(addr [20]byte, amt *big.Int) error
	PoolCredit(marketID uint64, amt *big.Int) error
	PoolDebit(marketID uint64, amt *big.Int) error
	TreasuryDeposit(amt *big.Int) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Ledger is the single source of truth for Market and Position state. All
// mutation paths funnel through it: stake ingestion, oracle resolution and
// claim settlement each hold a handle to the same ledger instance.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	feeBps  uint32
	nowFn   func() int64
}

// NewLedger constructs a ledger bound to the provided state backend with the
// default protocol fee and a no-op emitter.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{
		state:   state,
		emitter: events.NoopEmitter{},
		feeBps:  DefaultFeeRateBps,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetFeeRate updates the protocol fee rate. The setter is reachable only via
// the authorized admin surface; bounds are enforced here regardless.
func (l *Ledger) SetFeeRate(bps uint32) error {
	if bps > MaxFeeRateBps {
		return ErrFeeRateOutOfRange
	}
	l.feeBps = bps
	return nil
}

// FeeRate returns the active protocol fee rate in basis points.
func (l *Ledger) FeeRate() uint32 { return l.feeBps }

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(marketEvent{evt: evt})
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// FeeFor computes the protocol fee for the supplied gross stake using floor
// division. The fee is computed exactly once, at ingestion time.
func (l *Ledger) FeeFor(gross *big.Int) *big.Int {
	if gross == nil || gross.Sign() <= 0 || l.feeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(l.feeBps)))
	return fee.Div(fee, big.NewInt(feeDenominator))
}

// CreateMarket initialises and persists a new market record. Market creation
// is an authorized call wired through the admin surface; the ledger only
// validates shape.
func (l *Ledger) CreateMarket(description, assetPairKey string, expirationTime int64, oracleRef string, priceThreshold *big.Int) (*Market, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	now := l.now()
	if expirationTime <= now {
		return nil, fmt.Errorf("market: expiration %d not in the future", expirationTime)
	}
	if strings.TrimSpace(oracleRef) == "" {
		return nil, fmt.Errorf("market: oracle reference required")
	}
	if priceThreshold == nil || priceThreshold.Sign() <= 0 {
		return nil, fmt.Errorf("market: price threshold must be positive")
	}
	id, err := l.state.NextMarketID()
	if err != nil {
		return nil, err
	}
	mkt := &Market{
		ID:                id,
		Description:       strings.TrimSpace(description),
		AssetPairKey:      strings.TrimSpace(assetPairKey),
		ExpirationTime:    expirationTime,
		PriceThreshold:    cloneBigInt(priceThreshold),
		OracleRef:         strings.TrimSpace(oracleRef),
		TotalStakeBearish: big.NewInt(0),
		TotalStakeBullish: big.NewInt(0),
		CreatedAt:         now,
	}
	if err := l.state.MarketPut(mkt); err != nil {
		return nil, err
	}
	l.emit(NewMarketCreatedEvent(mkt))
	return mkt.Clone(), nil
}

// OpenPosition deducts the protocol fee from the gross stake, moves the funds
// (fee to treasury, net into the market pool) and mints a new position for the
// owner. The fund movements and record writes are staged into one storage
// commit: either the debit, treasury deposit, pool credit, market totals and
// position record all land, or none of them do.
func (l *Ledger) OpenPosition(marketID uint64, outcome Outcome, gross *big.Int, owner [20]byte) (*Position, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	mkt, ok, err := l.state.MarketGet(marketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarketNotFound
	}
	if mkt.Resolved {
		return nil, ErrMarketResolved
	}
	if mkt.Expired(l.now()) {
		return nil, ErrMarketExpired
	}
	if gross == nil || gross.Sign() <= 0 {
		return nil, ErrZeroStake
	}
	fee := l.FeeFor(gross)
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() <= 0 {
		return nil, ErrZeroStake
	}
	var pos *Position
	err = l.state.Stage(func() error {
		if err := l.state.BalanceDebit(owner, gross); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			if err := l.state.TreasuryDeposit(fee); err != nil {
				return err
			}
		}
		if err := l.state.PoolCredit(marketID, net); err != nil {
			return err
		}
		if outcome == OutcomeBullish {
			mkt.TotalStakeBullish = new(big.Int).Add(mkt.TotalStakeBullish, net)
		} else {
			mkt.TotalStakeBearish = new(big.Int).Add(mkt.TotalStakeBearish, net)
		}
		if err := l.state.MarketPut(mkt); err != nil {
			return err
		}
		id, err := l.state.NextPositionID()
		if err != nil {
			return err
		}
		pos = &Position{
			ID:              id,
			MarketID:        marketID,
			Outcome:         outcome,
			ConvictionStake: net,
			Owner:           owner,
			MintedAt:        l.now(),
		}
		return l.state.PositionPut(pos)
	})
	if err != nil {
		return nil, err
	}
	l.emit(NewPositionOpenedEvent(pos, fee))
	return pos.Clone(), nil
}

// MarkResolved freezes the winning outcome of an expired market. The first
// successful call wins; any subsequent call fails with ErrMarketResolved and
// leaves the recorded outcome untouched.
func (l *Ledger) MarkResolved(marketID uint64, outcome Outcome, reason string) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if !outcome.Valid() {
		return ErrInvalidOutcome
	}
	mkt, ok, err := l.state.MarketGet(marketID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMarketNotFound
	}
	if mkt.Resolved {
		return ErrMarketResolved
	}
	if !mkt.Expired(l.now()) {
		return ErrNotExpired
	}
	mkt.Resolved = true
	mkt.WinningOutcome = outcome
	mkt.ResolutionReason = strings.TrimSpace(reason)
	if mkt.ResolutionReason == "" {
		mkt.ResolutionReason = ResolutionReasonPrice
	}
	if err := l.state.MarketPut(mkt); err != nil {
		return err
	}
	l.emit(NewMarketResolvedEvent(mkt))
	return nil
}

// GetMarket returns a deep copy of the market record.
func (l *Ledger) GetMarket(marketID uint64) (*Market, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	mkt, ok, err := l.state.MarketGet(marketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarketNotFound
	}
	return mkt.Clone(), nil
}

// GetPosition returns a deep copy of the position record. Destroyed positions
// are indistinguishable from positions that never existed.
func (l *Ledger) GetPosition(positionID uint64) (*Position, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	pos, ok, err := l.state.PositionGet(positionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// MarketIDs lists all known market identifiers in creation order.
func (l *Ledger) MarketIDs() ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.MarketIDs()
}

// DueMarket returns the lowest-id market above the after cursor that has
// expired without being resolved. The scan order makes the scheduler's pick
// deterministic, and the cursor lets it skip past markets whose resolution
// keeps failing so one stuck oracle never starves the rest of the queue.
func (l *Ledger) DueMarket(now int64, after uint64) (uint64, bool, error) {
	if l == nil || l.state == nil {
		return 0, false, ErrNilState
	}
	ids, err := l.state.MarketIDs()
	if err != nil {
		return 0, false, err
	}
	best := uint64(0)
	found := false
	for _, id := range ids {
		if id <= after {
			continue
		}
		if found && id >= best {
			continue
		}
		mkt, ok, err := l.state.MarketGet(id)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		if !mkt.Resolved && mkt.Expired(now) {
			best = id
			found = true
		}
	}
	return best, found, nil
}

// TransferPosition moves ownership of a position. Positions are bearer-like
// assets; the new owner gains the claim rights.
func (l *Ledger) TransferPosition(positionID uint64, from, to [20]byte) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	pos, ok, err := l.state.PositionGet(positionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPositionNotFound
	}
	if pos.Owner != from {
		return ErrNotOwner
	}
	pos.Owner = to
	if err := l.state.PositionPut(pos); err != nil {
		return err
	}
	l.emit(NewPositionTransferredEvent(pos, from))
	return nil
}

// Redeem destroys the position and pays the supplied amount from the market
// pool to the recipient. Only the settlement engine's claim path calls it.
// The destroy and the payout are staged into one storage commit: a claim can
// never pay without destroying, or destroy without paying.
func (l *Ledger) Redeem(positionID uint64, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	pos, ok, err := l.state.PositionGet(positionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPositionNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("market: redeem amount must be positive")
	}
	err = l.state.Stage(func() error {
		if err := l.state.PositionDelete(positionID); err != nil {
			return err
		}
		if err := l.state.PoolDebit(pos.MarketID, amount); err != nil {
			return err
		}
		return l.state.BalanceCredit(to, amount)
	})
	if err != nil {
		return err
	}
	l.emit(NewPositionClaimedEvent(pos, to, amount))
	return nil
}
