package settle

import (
	"errors"
	"math/big"

	"omen/native/market"
)

var (
	ErrNilLedger      = errors.New("settle engine: ledger not configured")
	ErrLosingPosition = errors.New("settle: position is on the losing side")
	// ErrDegenerateMarket guards the empty-winning-pool division. A well-formed
	// market cannot reach it (no winning position exists to claim), so hitting
	// it is an integrity failure, not a user error.
	ErrDegenerateMarket = errors.New("settle: degenerate market with empty winning pool")
)

type ledger interface {
	GetMarket(id uint64) (*market.Market, error)
	GetPosition(id uint64) (*market.Position, error)
	Redeem(positionID uint64, to [20]byte, amount *big.Int) error
}

// Engine pays winning position holders exactly once and removes the claimed
// position from circulation. It never touches state directly; destruction and
// fund transfer both go through the ledger's redeem path, which commits the
// destroy before the payout becomes observable.
type Engine struct {
	ledger ledger
}

// NewEngine constructs a settlement engine bound to the position ledger.
func NewEngine(l ledger) *Engine {
	return &Engine{ledger: l}
}

// Claim settles a winning position for its owner and returns the amount paid.
// Claims on the same position are mutually exclusive: the first successful
// redeem destroys it, so a second call fails with ErrPositionNotFound.
func (e *Engine) Claim(positionID uint64, caller [20]byte) (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilLedger
	}
	pos, err := e.ledger.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	if pos.Owner != caller {
		return nil, market.ErrNotOwner
	}
	mkt, err := e.ledger.GetMarket(pos.MarketID)
	if err != nil {
		return nil, err
	}
	if !mkt.Resolved {
		return nil, market.ErrMarketNotResolved
	}
	if pos.Outcome != mkt.WinningOutcome {
		return nil, ErrLosingPosition
	}
	amount, err := Payout(pos.ConvictionStake, mkt)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Redeem(positionID, caller, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Payout computes the pari-mutuel reward for a winning stake: the stake plus
// its floored pro-rata share of the losing pool. The stake totals are frozen
// at resolution, so the formula yields the same result no matter the claim
// order; rounding dust stays in the pool and is never re-distributed.
func Payout(stake *big.Int, mkt *market.Market) (*big.Int, error) {
	if stake == nil || mkt == nil {
		return nil, ErrDegenerateMarket
	}
	winningPool := mkt.Pool(mkt.WinningOutcome)
	var losingPool *big.Int
	if mkt.WinningOutcome == market.OutcomeBullish {
		losingPool = mkt.Pool(market.OutcomeBearish)
	} else {
		losingPool = mkt.Pool(market.OutcomeBullish)
	}
	if winningPool.Sign() == 0 {
		return nil, ErrDegenerateMarket
	}
	share := new(big.Int).Mul(stake, losingPool)
	share.Div(share, winningPool)
	return new(big.Int).Add(stake, share), nil
}
