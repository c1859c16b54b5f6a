package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"omen/core/types"
)

const (
	EventTypeMarketCreated       = "market.created"
	EventTypePositionOpened      = "market.position_opened"
	EventTypeMarketResolved      = "market.resolved"
	EventTypePositionClaimed     = "market.position_claimed"
	EventTypePositionTransferred = "market.position_transferred"
)

// NewMarketCreatedEvent returns the canonical event payload for a newly
// created market.
func NewMarketCreatedEvent(m *Market) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["marketId"] = strconv.FormatUint(m.ID, 10)
		attrs["assetPairKey"] = m.AssetPairKey
		attrs["expirationTime"] = strconv.FormatInt(m.ExpirationTime, 10)
		attrs["priceThreshold"] = bigIntString(m.PriceThreshold)
		attrs["oracleRef"] = m.OracleRef
	}
	return &types.Event{Type: EventTypeMarketCreated, Attributes: attrs}
}

// NewPositionOpenedEvent returns the canonical event payload emitted when a
// stake is ingested and a position minted. The fee attribute records the
// amount forwarded to the treasury.
func NewPositionOpenedEvent(p *Position, fee *big.Int) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["positionId"] = strconv.FormatUint(p.ID, 10)
		attrs["marketId"] = strconv.FormatUint(p.MarketID, 10)
		attrs["outcome"] = p.Outcome.String()
		attrs["convictionStake"] = bigIntString(p.ConvictionStake)
		attrs["owner"] = hex.EncodeToString(p.Owner[:])
		attrs["fee"] = bigIntString(fee)
	}
	return &types.Event{Type: EventTypePositionOpened, Attributes: attrs}
}

// NewMarketResolvedEvent returns the canonical event payload emitted when a
// market's winning outcome is frozen. The reason attribute distinguishes
// oracle-driven resolution from the manual override path.
func NewMarketResolvedEvent(m *Market) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["marketId"] = strconv.FormatUint(m.ID, 10)
		attrs["winningOutcome"] = m.WinningOutcome.String()
		attrs["reason"] = m.ResolutionReason
		attrs["totalStakeBearish"] = bigIntString(m.TotalStakeBearish)
		attrs["totalStakeBullish"] = bigIntString(m.TotalStakeBullish)
	}
	return &types.Event{Type: EventTypeMarketResolved, Attributes: attrs}
}

// NewPositionClaimedEvent returns the canonical event payload emitted when a
// winning position is paid out and destroyed.
func NewPositionClaimedEvent(p *Position, to [20]byte, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["positionId"] = strconv.FormatUint(p.ID, 10)
		attrs["marketId"] = strconv.FormatUint(p.MarketID, 10)
		attrs["outcome"] = p.Outcome.String()
		attrs["convictionStake"] = bigIntString(p.ConvictionStake)
	}
	attrs["recipient"] = hex.EncodeToString(to[:])
	attrs["amountPaid"] = bigIntString(amount)
	return &types.Event{Type: EventTypePositionClaimed, Attributes: attrs}
}

// NewPositionTransferredEvent returns the canonical event payload emitted when
// position ownership changes hands.
func NewPositionTransferredEvent(p *Position, from [20]byte) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["positionId"] = strconv.FormatUint(p.ID, 10)
		attrs["marketId"] = strconv.FormatUint(p.MarketID, 10)
		attrs["owner"] = hex.EncodeToString(p.Owner[:])
	}
	attrs["from"] = hex.EncodeToString(from[:])
	return &types.Event{Type: EventTypePositionTransferred, Attributes: attrs}
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
