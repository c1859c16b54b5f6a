package ingest

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"omen/native/market"
)

var (
	ErrNilLedger = errors.New("ingest: ledger not configured")
	// ErrInvalidPredictionData marks a swap payload that does not decode to a
	// well-formed prediction tuple. The venue must abort the whole trade.
	ErrInvalidPredictionData = errors.New("ingest: invalid prediction data")
	ErrPaused                = errors.New("ingest: ingestion paused")
	ErrStakeRateOutOfRange   = errors.New("ingest: stake rate out of range")
)

const stakeRateDenominator int64 = 10_000

// PredictionPayload is the prediction tuple embedded in a swap transaction.
// StakeAmount is optional: when absent the stake is derived from the realized
// swap output (delta mode).
type PredictionPayload struct {
	Predictor   [20]byte
	MarketID    uint64
	Outcome     uint8
	StakeAmount *big.Int `rlp:"optional"`
}

// EncodePayload serialises the payload for embedding in a swap transaction.
// Exposed for venue-side glue and tests.
func EncodePayload(p *PredictionPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("ingest: nil payload")
	}
	return rlp.EncodeToBytes(p)
}

// DecodePayload parses and validates the embedded prediction tuple.
func DecodePayload(raw []byte) (*PredictionPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPredictionData)
	}
	payload := &PredictionPayload{}
	if err := rlp.DecodeBytes(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPredictionData, err)
	}
	if !market.Outcome(payload.Outcome).Valid() {
		return nil, fmt.Errorf("%w: outcome %d", ErrInvalidPredictionData, payload.Outcome)
	}
	return payload, nil
}

// SwapResult carries the realized amounts of the swap the prediction rides on.
type SwapResult struct {
	InputAmount  *big.Int
	OutputAmount *big.Int
}

type ledger interface {
	OpenPosition(marketID uint64, outcome market.Outcome, gross *big.Int, owner [20]byte) (*market.Position, error)
}

// Adapter bridges a swap-style event carrying embedded prediction parameters
// into a single ledger mutation. Its contract with the venue is all-or-nothing:
// any non-nil error means the venue must abort the enclosing swap, and a swap
// failure on the venue side must discard the ingestion result. No partial
// execution is permitted on either side.
type Adapter struct {
	ledger ledger
	paused bool
}

// NewAdapter constructs an ingestion adapter bound to the position ledger.
func NewAdapter(l ledger) *Adapter {
	return &Adapter{ledger: l}
}

// Pause stops stake ingestion without affecting resolution or claims.
func (a *Adapter) Pause() { a.paused = true }

// Resume re-enables stake ingestion.
func (a *Adapter) Resume() { a.paused = false }

// Paused reports whether ingestion is currently halted.
func (a *Adapter) Paused() bool { return a.paused }

// Ingest decodes the embedded prediction data, determines the gross stake and
// opens the position. In delta mode the stake is a fixed share of the swap's
// realized output: floor(output * stakeRateBps / 10000). A derived stake of
// zero fails rather than silently skipping the prediction.
func (a *Adapter) Ingest(raw []byte, swap SwapResult, stakeRateBps uint32) (*market.Position, error) {
	if a == nil || a.ledger == nil {
		return nil, ErrNilLedger
	}
	if a.paused {
		return nil, ErrPaused
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		return nil, err
	}
	gross, err := grossStake(payload, swap, stakeRateBps)
	if err != nil {
		return nil, err
	}
	return a.ledger.OpenPosition(payload.MarketID, market.Outcome(payload.Outcome), gross, payload.Predictor)
}

func grossStake(payload *PredictionPayload, swap SwapResult, stakeRateBps uint32) (*big.Int, error) {
	if payload.StakeAmount != nil && payload.StakeAmount.Sign() > 0 {
		return new(big.Int).Set(payload.StakeAmount), nil
	}
	if stakeRateBps == 0 || int64(stakeRateBps) > stakeRateDenominator {
		return nil, ErrStakeRateOutOfRange
	}
	if swap.OutputAmount == nil || swap.OutputAmount.Sign() <= 0 {
		return nil, market.ErrZeroStake
	}
	stake := new(big.Int).Mul(swap.OutputAmount, big.NewInt(int64(stakeRateBps)))
	stake.Div(stake, big.NewInt(stakeRateDenominator))
	if stake.Sign() <= 0 {
		return nil, market.ErrZeroStake
	}
	return stake, nil
}
