package treasury

import (
	"encoding/hex"
	"errors"
	"math/big"

	"omen/core/events"
	"omen/core/types"
)

var (
	ErrNilState         = errors.New("treasury: state not configured")
	ErrNotTreasuryOwner = errors.New("treasury: caller is not the treasury owner")
	ErrInvalidAmount    = errors.New("treasury: amount must be positive")
)

// EventTypeWithdrawn is emitted when protocol fees leave the sink.
const EventTypeWithdrawn = "treasury.withdrawn"

type treasuryState interface {
	Stage(fn func() error) error
	TreasuryBalance() (*big.Int, error)
	TreasuryWithdraw(amt *big.Int) error
	BalanceCredit(addr [20]byte, amt *big.Int) error
}

type treasuryEvent struct {
	evt *types.Event
}

func (e treasuryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e treasuryEvent) Event() *types.Event { return e.evt }

// Engine is the protocol fee sink: a balance accumulator fed synchronously by
// position ingestion, drained only through the owner-gated withdrawal.
type Engine struct {
	state   treasuryState
	owner   [20]byte
	emitter events.Emitter
}

// NewEngine constructs a treasury engine bound to the state backend.
func NewEngine(state treasuryState) *Engine {
	return &Engine{state: state, emitter: events.NoopEmitter{}}
}

// SetOwner configures the address allowed to withdraw accumulated fees.
func (e *Engine) SetOwner(addr [20]byte) { e.owner = addr }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Balance returns the accumulated fee balance.
func (e *Engine) Balance() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.TreasuryBalance()
}

// Withdraw moves fees from the sink to the recipient. Only the configured
// owner may call it; an unset owner rejects everyone.
func (e *Engine) Withdraw(to [20]byte, amount *big.Int, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrNotTreasuryOwner
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	err := e.state.Stage(func() error {
		if err := e.state.TreasuryWithdraw(amount); err != nil {
			return err
		}
		return e.state.BalanceCredit(to, amount)
	})
	if err != nil {
		return err
	}
	if e.emitter != nil {
		e.emitter.Emit(treasuryEvent{evt: &types.Event{
			Type: EventTypeWithdrawn,
			Attributes: map[string]string{
				"recipient": hex.EncodeToString(to[:]),
				"amount":    amount.String(),
			},
		}})
	}
	return nil
}
