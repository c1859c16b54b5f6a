package market

import (
	"fmt"
	"math/big"
)

// Outcome identifies the side of a market a position is staked on.
type Outcome uint8

const (
	OutcomeBearish Outcome = iota
	OutcomeBullish
)

// Valid reports whether the outcome value is within the supported range.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeBearish, OutcomeBullish:
		return true
	default:
		return false
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeBearish:
		return "bearish"
	case OutcomeBullish:
		return "bullish"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Resolution reasons recorded when a market's winning outcome is frozen. The
// manual reason marks the privileged override path so auditors can tell the
// two apart.
const (
	ResolutionReasonPrice  = "price"
	ResolutionReasonManual = "manual"
)

// Market captures the metadata and running stake totals of a single prediction
// market. PriceThreshold and the oracle price share the same fixed-point scale
// (1e8) so resolution is a plain integer comparison.
type Market struct {
	ID                uint64
	Description       string
	AssetPairKey      string
	ExpirationTime    int64
	PriceThreshold    *big.Int
	OracleRef         string
	TotalStakeBearish *big.Int
	TotalStakeBullish *big.Int
	Resolved          bool
	WinningOutcome    Outcome
	ResolutionReason  string
	CreatedAt         int64
}

// Clone returns a deep copy of the market so callers can safely mutate the
// copy without affecting the stored instance.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.PriceThreshold = cloneBigInt(m.PriceThreshold)
	clone.TotalStakeBearish = cloneBigInt(m.TotalStakeBearish)
	clone.TotalStakeBullish = cloneBigInt(m.TotalStakeBullish)
	return &clone
}

// Expired reports whether predictions are no longer accepted at the supplied
// timestamp.
func (m *Market) Expired(now int64) bool {
	return now >= m.ExpirationTime
}

// Pool returns the stake total for the supplied side.
func (m *Market) Pool(side Outcome) *big.Int {
	if side == OutcomeBullish {
		return cloneBigInt(m.TotalStakeBullish)
	}
	return cloneBigInt(m.TotalStakeBearish)
}

// Position is a bearer-like claim ticket representing one prediction and its
// net stake. Ownership determines claim rights and is transferable.
type Position struct {
	ID              uint64
	MarketID        uint64
	Outcome         Outcome
	ConvictionStake *big.Int
	Owner           [20]byte
	MintedAt        int64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ConvictionStake = cloneBigInt(p.ConvictionStake)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
