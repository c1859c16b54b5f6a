package state

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"omen/native/market"
	"omen/storage"
)

var (
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrPoolUnderflow indicates a payout exceeding the market pool. The
	// settlement math makes this unreachable; refusing to proceed beats
	// guessing.
	ErrPoolUnderflow = errors.New("state: market pool underflow")
)

var (
	keyNextMarketID   = []byte("omen/seq/market")
	keyNextPositionID = []byte("omen/seq/position")
	keyMarketIndex    = []byte("omen/market/index")
	keyTreasury       = []byte("omen/treasury")

	marketPrefix   = "omen/market/"
	positionPrefix = "omen/position/"
	accountPrefix  = "omen/account/"
	poolPrefix     = "omen/pool/"
)

// Manager owns the persisted settlement state: markets, positions, account
// balances, per-market pools and the treasury sink. Records are RLP encoded
// into the underlying key-value store. All engines share one manager handle;
// the node layer serializes mutating operations on top of it.
//
// Multi-write operations run inside Stage, which collects every write into a
// single storage batch and commits it only when the whole operation succeeds.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	batch   *storage.Batch
	overlay map[string]stagedValue
}

type stagedValue struct {
	data    []byte
	deleted bool
}

// NewManager constructs a manager bound to the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Stage runs fn with every write collected into one batch. The batch is
// committed in a single storage write after fn returns nil; on any error the
// staged writes are discarded and the stored state is untouched. Reads made
// inside fn observe the staged writes. Stages do not nest.
func (m *Manager) Stage(fn func() error) error {
	m.mu.Lock()
	if m.overlay != nil {
		m.mu.Unlock()
		return fmt.Errorf("state: stage already active")
	}
	m.batch = storage.NewBatch()
	m.overlay = make(map[string]stagedValue)
	m.mu.Unlock()

	err := fn()

	m.mu.Lock()
	batch := m.batch
	m.batch = nil
	m.overlay = nil
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return m.db.Write(batch)
}

// rawGet reads through the staging overlay when one is active. Callers hold
// m.mu.
func (m *Manager) rawGet(key []byte) ([]byte, error) {
	if m.overlay != nil {
		if entry, ok := m.overlay[string(key)]; ok {
			if entry.deleted {
				return nil, storage.ErrNotFound
			}
			return entry.data, nil
		}
	}
	return m.db.Get(key)
}

func (m *Manager) rawPut(key, value []byte) error {
	if m.overlay != nil {
		m.batch.Put(key, value)
		m.overlay[string(key)] = stagedValue{data: append([]byte(nil), value...)}
		return nil
	}
	return m.db.Put(key, value)
}

func (m *Manager) rawDelete(key []byte) error {
	if m.overlay != nil {
		m.batch.Delete(key)
		m.overlay[string(key)] = stagedValue{deleted: true}
		return nil
	}
	return m.db.Delete(key)
}

type storedMarket struct {
	ID                uint64
	Description       string
	AssetPairKey      string
	ExpirationTime    uint64
	PriceThreshold    *big.Int
	OracleRef         string
	TotalStakeBearish *big.Int
	TotalStakeBullish *big.Int
	Resolved          bool
	WinningOutcome    uint8
	ResolutionReason  string
	CreatedAt         uint64
}

type storedPosition struct {
	ID              uint64
	MarketID        uint64
	Outcome         uint8
	ConvictionStake *big.Int
	Owner           [20]byte
	MintedAt        uint64
}

func marketKey(id uint64) []byte {
	return []byte(marketPrefix + strconv.FormatUint(id, 10))
}

func positionKey(id uint64) []byte {
	return []byte(positionPrefix + strconv.FormatUint(id, 10))
}

func accountKey(addr [20]byte) []byte {
	return append([]byte(accountPrefix), addr[:]...)
}

func poolKey(marketID uint64) []byte {
	return []byte(poolPrefix + strconv.FormatUint(marketID, 10))
}

// NextMarketID increments and returns the market id sequence. Identifiers are
// never reused, even across restarts.
func (m *Manager) NextMarketID() (uint64, error) {
	return m.nextSequence(keyNextMarketID)
}

// NextPositionID increments and returns the position id sequence.
func (m *Manager) NextPositionID() (uint64, error) {
	return m.nextSequence(keyNextPositionID)
}

func (m *Manager) nextSequence(key []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.getUint(key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.putValue(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// MarketPut persists the market record, registering new ids in the creation-
// order index.
func (m *Manager) MarketPut(mkt *market.Market) error {
	if mkt == nil {
		return fmt.Errorf("state: nil market")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := toStoredMarket(mkt)
	if err != nil {
		return err
	}
	key := marketKey(mkt.ID)
	_, err = m.rawGet(key)
	isNew := errors.Is(err, storage.ErrNotFound)
	if err != nil && !isNew {
		return err
	}
	if err := m.putValue(key, stored); err != nil {
		return err
	}
	if isNew {
		ids, err := m.marketIndex()
		if err != nil {
			return err
		}
		ids = append(ids, mkt.ID)
		return m.putValue(keyMarketIndex, ids)
	}
	return nil
}

// MarketGet loads a market record by id.
func (m *Manager) MarketGet(id uint64) (*market.Market, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedMarket
	ok, err := m.getValue(marketKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	mkt, err := fromStoredMarket(&stored)
	if err != nil {
		return nil, false, err
	}
	return mkt, true, nil
}

// MarketIDs lists all market identifiers in creation order.
func (m *Manager) MarketIDs() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketIndex()
}

func (m *Manager) marketIndex() ([]uint64, error) {
	var ids []uint64
	if _, err := m.getValue(keyMarketIndex, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// PositionPut persists the position record.
func (m *Manager) PositionPut(pos *market.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil position")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := toStoredPosition(pos)
	if err != nil {
		return err
	}
	return m.putValue(positionKey(pos.ID), stored)
}

// PositionGet loads a position record by id. A destroyed position is
// indistinguishable from one that never existed.
func (m *Manager) PositionGet(id uint64) (*market.Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedPosition
	ok, err := m.getValue(positionKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStoredPosition(&stored), true, nil
}

// PositionDelete removes the position record. Deleting an unknown id is an
// error so callers cannot mistake a double destroy for success.
func (m *Manager) PositionDelete(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey(id)
	if _, err := m.rawGet(key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("state: position %d not stored", id)
		}
		return err
	}
	return m.rawDelete(key)
}

// BalanceGet returns the account balance for the supplied address.
func (m *Manager) BalanceGet(addr [20]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBig(accountKey(addr))
}

// BalanceCredit adds funds to the account.
func (m *Manager) BalanceCredit(addr [20]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative credit")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBig(accountKey(addr), amt)
}

// BalanceDebit removes funds from the account, failing on overdraw.
func (m *Manager) BalanceDebit(addr [20]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative debit")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountKey(addr)
	balance, err := m.getBig(key)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	return m.putBig(key, new(big.Int).Sub(balance, amt))
}

// PoolBalance returns the escrowed funds held for a market.
func (m *Manager) PoolBalance(marketID uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBig(poolKey(marketID))
}

// PoolCredit adds net stake into the market's escrow pool.
func (m *Manager) PoolCredit(marketID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative pool credit")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBig(poolKey(marketID), amt)
}

// PoolDebit pays out of the market's escrow pool.
func (m *Manager) PoolDebit(marketID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative pool debit")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := poolKey(marketID)
	pool, err := m.getBig(key)
	if err != nil {
		return err
	}
	if pool.Cmp(amt) < 0 {
		return ErrPoolUnderflow
	}
	return m.putBig(key, new(big.Int).Sub(pool, amt))
}

// TreasuryBalance returns the accumulated protocol fees.
func (m *Manager) TreasuryBalance() (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBig(keyTreasury)
}

// TreasuryDeposit adds protocol fees to the sink.
func (m *Manager) TreasuryDeposit(amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative treasury deposit")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBig(keyTreasury, amt)
}

// TreasuryWithdraw removes fees from the sink, failing on overdraw.
func (m *Manager) TreasuryWithdraw(amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative treasury withdrawal")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.getBig(keyTreasury)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	return m.putBig(keyTreasury, new(big.Int).Sub(balance, amt))
}

// --- encoding helpers ---

func (m *Manager) getValue(key []byte, out interface{}) (bool, error) {
	raw, err := m.rawGet(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putValue(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.rawPut(key, raw)
}

func (m *Manager) getUint(key []byte) (uint64, error) {
	var value uint64
	ok, err := m.getValue(key, &value)
	if err != nil || !ok {
		return 0, err
	}
	return value, nil
}

func (m *Manager) getBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.getValue(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) putBig(key []byte, value *big.Int) error {
	return m.putValue(key, value)
}

func (m *Manager) adjustBig(key []byte, delta *big.Int) error {
	current, err := m.getBig(key)
	if err != nil {
		return err
	}
	return m.putBig(key, new(big.Int).Add(current, delta))
}

func toStoredMarket(mkt *market.Market) (*storedMarket, error) {
	expiration, err := int64ToUint64(mkt.ExpirationTime)
	if err != nil {
		return nil, fmt.Errorf("state: expiration: %w", err)
	}
	createdAt, err := int64ToUint64(mkt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("state: created at: %w", err)
	}
	return &storedMarket{
		ID:                mkt.ID,
		Description:       mkt.Description,
		AssetPairKey:      mkt.AssetPairKey,
		ExpirationTime:    expiration,
		PriceThreshold:    nonNil(mkt.PriceThreshold),
		OracleRef:         mkt.OracleRef,
		TotalStakeBearish: nonNil(mkt.TotalStakeBearish),
		TotalStakeBullish: nonNil(mkt.TotalStakeBullish),
		Resolved:          mkt.Resolved,
		WinningOutcome:    uint8(mkt.WinningOutcome),
		ResolutionReason:  mkt.ResolutionReason,
		CreatedAt:         createdAt,
	}, nil
}

func fromStoredMarket(stored *storedMarket) (*market.Market, error) {
	expiration, err := uint64ToInt64(stored.ExpirationTime)
	if err != nil {
		return nil, fmt.Errorf("state: expiration overflow: %w", err)
	}
	createdAt, err := uint64ToInt64(stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("state: created at overflow: %w", err)
	}
	return &market.Market{
		ID:                stored.ID,
		Description:       stored.Description,
		AssetPairKey:      stored.AssetPairKey,
		ExpirationTime:    expiration,
		PriceThreshold:    nonNil(stored.PriceThreshold),
		OracleRef:         stored.OracleRef,
		TotalStakeBearish: nonNil(stored.TotalStakeBearish),
		TotalStakeBullish: nonNil(stored.TotalStakeBullish),
		Resolved:          stored.Resolved,
		WinningOutcome:    market.Outcome(stored.WinningOutcome),
		ResolutionReason:  stored.ResolutionReason,
		CreatedAt:         createdAt,
	}, nil
}

func toStoredPosition(pos *market.Position) (*storedPosition, error) {
	mintedAt, err := int64ToUint64(pos.MintedAt)
	if err != nil {
		return nil, fmt.Errorf("state: minted at: %w", err)
	}
	return &storedPosition{
		ID:              pos.ID,
		MarketID:        pos.MarketID,
		Outcome:         uint8(pos.Outcome),
		ConvictionStake: nonNil(pos.ConvictionStake),
		Owner:           pos.Owner,
		MintedAt:        mintedAt,
	}, nil
}

func fromStoredPosition(stored *storedPosition) *market.Position {
	return &market.Position{
		ID:              stored.ID,
		MarketID:        stored.MarketID,
		Outcome:         market.Outcome(stored.Outcome),
		ConvictionStake: nonNil(stored.ConvictionStake),
		Owner:           stored.Owner,
		MintedAt:        int64(stored.MintedAt),
	}
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func int64ToUint64(value int64) (uint64, error) {
	if value < 0 {
		return 0, fmt.Errorf("negative value %d", value)
	}
	return uint64(value), nil
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}
