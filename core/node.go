package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"omen/core/events"
	"omen/native/ingest"
	"omen/native/market"
	"omen/native/oracle"
	"omen/native/settle"
	"omen/native/treasury"
	"omen/observability"
	"omen/state"
	"omen/storage"
)

// Config carries the settlement parameters the node is constructed with.
type Config struct {
	FeeRateBps         uint32
	OracleMaxSampleAge time.Duration
	TreasuryOwner      [20]byte
	OracleAdmin        [20]byte
}

// Node owns the settlement state and the four engines operating on it. Every
// state-mutating operation runs under one mutex, giving the whole system a
// single sequential ordering: no two mutations of the same market or position
// ever interleave, and a failed call leaves no partially applied state for
// the next caller to observe.
type Node struct {
	mu sync.Mutex

	state    *state.Manager
	ledger   *market.Ledger
	ingest   *ingest.Adapter
	oracle   *oracle.Engine
	settle   *settle.Engine
	treasury *treasury.Engine
	events   *events.Recorder
	metrics  *observability.SettlementMetrics
}

// NewNode wires the engines over the supplied database and price source.
func NewNode(db storage.Database, source oracle.PriceSource, cfg Config) (*Node, error) {
	manager := state.NewManager(db)
	recorder := events.NewRecorder()

	ledger := market.NewLedger(manager)
	ledger.SetEmitter(recorder)
	if err := ledger.SetFeeRate(cfg.FeeRateBps); err != nil {
		return nil, fmt.Errorf("node: fee rate: %w", err)
	}

	oracleEngine := oracle.NewEngine(ledger, source)
	oracleEngine.SetMaxSampleAge(cfg.OracleMaxSampleAge)
	oracleEngine.SetAdmin(cfg.OracleAdmin)

	treasuryEngine := treasury.NewEngine(manager)
	treasuryEngine.SetOwner(cfg.TreasuryOwner)
	treasuryEngine.SetEmitter(recorder)

	return &Node{
		state:    manager,
		ledger:   ledger,
		ingest:   ingest.NewAdapter(ledger),
		oracle:   oracleEngine,
		settle:   settle.NewEngine(ledger),
		treasury: treasuryEngine,
		events:   recorder,
		metrics:  observability.Settlement(),
	}, nil
}

// Events exposes the recorder backing the websocket read boundary.
func (n *Node) Events() *events.Recorder { return n.events }

// CreateMarket registers a new market. Reached only through the authorized
// market-creation surface.
func (n *Node) CreateMarket(description, assetPairKey string, expirationTime int64, oracleRef string, priceThreshold *big.Int) (*market.Market, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.CreateMarket(description, assetPairKey, expirationTime, oracleRef, priceThreshold)
}

// IngestPrediction runs the venue-triggered stake ingestion. A non-nil error
// is the venue's signal to abort the enclosing swap.
func (n *Node) IngestPrediction(raw []byte, swap ingest.SwapResult, stakeRateBps uint32) (*market.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pos, err := n.ingest.Ingest(raw, swap, stakeRateBps)
	if err != nil {
		n.metrics.RecordIngestFailure(failureReason(err))
		return nil, err
	}
	n.metrics.RecordIngest(pos.Outcome.String(), pos.ConvictionStake)
	n.publishTreasuryBalance()
	return pos, nil
}

// HasDueMarket reports the next expired, unresolved market.
func (n *Node) HasDueMarket() (uint64, bool, error) {
	return n.NextDueMarket(0)
}

// NextDueMarket reports the lowest expired, unresolved market with an id
// above the cursor. The resolution loop advances the cursor after each
// attempt so a market with a failing oracle cannot block the ones behind it.
func (n *Node) NextDueMarket(after uint64) (uint64, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.oracle.NextDueMarket(after)
}

// Resolve runs oracle-driven resolution for the market. The price fetch can
// hit the network, so it runs outside the node mutex; the lock is held only
// for the eligibility checks and the resolution write on either side of it.
func (n *Node) Resolve(marketID uint64) error {
	n.mu.Lock()
	ref, err := n.oracle.PrepareResolve(marketID)
	n.mu.Unlock()
	if err != nil {
		return err
	}

	sample, err := n.oracle.FetchSample(ref)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.oracle.ResolveWith(marketID, sample); err != nil {
		return err
	}
	n.recordResolution(marketID)
	return nil
}

// ResolveManual runs the privileged resolution override.
func (n *Node) ResolveManual(marketID uint64, outcome market.Outcome, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.oracle.ResolveManual(marketID, outcome, caller); err != nil {
		return err
	}
	n.recordResolution(marketID)
	return nil
}

// Claim settles a winning position for its owner.
func (n *Node) Claim(positionID uint64, caller [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	amount, err := n.settle.Claim(positionID, caller)
	if err != nil {
		return nil, err
	}
	n.metrics.RecordClaim(amount)
	return amount, nil
}

// TransferPosition moves position ownership between addresses.
func (n *Node) TransferPosition(positionID uint64, from, to [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.TransferPosition(positionID, from, to)
}

// GetMarket returns a copy of the market record.
func (n *Node) GetMarket(marketID uint64) (*market.Market, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.GetMarket(marketID)
}

// GetPosition returns a copy of the position record.
func (n *Node) GetPosition(positionID uint64) (*market.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.GetPosition(positionID)
}

// MarketIDs lists all known market identifiers.
func (n *Node) MarketIDs() ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.MarketIDs()
}

// BalanceOf returns the account balance for the address.
func (n *Node) BalanceOf(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.BalanceGet(addr)
}

// Deposit credits an account. This is the venue-settlement hook: the swap
// venue moves collected funds into predictor accounts before ingestion can
// debit them.
func (n *Node) Deposit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("node: deposit amount must be positive")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.BalanceCredit(addr, amount)
}

// TreasuryBalance returns the accumulated protocol fees.
func (n *Node) TreasuryBalance() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.treasury.Balance()
}

// WithdrawTreasury drains fees to the recipient, owner-gated.
func (n *Node) WithdrawTreasury(to [20]byte, amount *big.Int, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.treasury.Withdraw(to, amount, caller); err != nil {
		return err
	}
	n.publishTreasuryBalance()
	return nil
}

// FeeRate returns the active protocol fee in basis points.
func (n *Node) FeeRate() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.FeeRate()
}

// SetFeeRate updates the protocol fee. Reached only through the authorized
// admin surface.
func (n *Node) SetFeeRate(bps uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.SetFeeRate(bps)
}

// PauseIngestion halts stake ingestion; resolution and claims continue.
func (n *Node) PauseIngestion() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ingest.Pause()
}

// ResumeIngestion re-enables stake ingestion.
func (n *Node) ResumeIngestion() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ingest.Resume()
}

// IngestionPaused reports the ingestion circuit breaker state.
func (n *Node) IngestionPaused() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ingest.Paused()
}

func (n *Node) recordResolution(marketID uint64) {
	mkt, err := n.ledger.GetMarket(marketID)
	if err != nil {
		return
	}
	n.metrics.RecordResolution(mkt.ResolutionReason, mkt.WinningOutcome.String())
}

func (n *Node) publishTreasuryBalance() {
	balance, err := n.treasury.Balance()
	if err != nil {
		return
	}
	n.metrics.SetTreasuryBalance(balance)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrPaused):
		return "paused"
	case errors.Is(err, ingest.ErrInvalidPredictionData):
		return "malformed"
	case errors.Is(err, ingest.ErrStakeRateOutOfRange):
		return "rate"
	case errors.Is(err, market.ErrZeroStake):
		return "zero_stake"
	case errors.Is(err, market.ErrMarketNotFound):
		return "unknown_market"
	case errors.Is(err, market.ErrMarketExpired), errors.Is(err, market.ErrMarketResolved):
		return "closed_market"
	case errors.Is(err, state.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "rejected"
	}
}
