package stake

import (
	"math"

	"stakeledger/core/events"
	"stakeledger/crypto"
)

// engineState describes the functionality the stake engine needs from the
// surrounding persistence and custody layer. Vault operations take the raw
// derivation inputs (owner, nonce) rather than an address: the state layer
// re-derives the vault address itself, which is how the program proves its
// custody authority before any funds move.
type engineState interface {
	// StakeGet loads the record for an owner, reporting absence distinctly
	// from failure.
	StakeGet(owner [20]byte) (*StakeAccount, bool, error)
	// StakePut replaces the stored record.
	StakePut(record *StakeAccount) error
	// StakeCreate persists a brand-new record at its derived address and
	// establishes the paired vault with zero balance. Fails with
	// ErrRecordExists if the address is already occupied.
	StakeCreate(record *StakeAccount) error
	// SelectNonce picks the derivation nonce fixed on a new record: the
	// highest candidate whose derived record and vault addresses are both
	// free.
	SelectNonce(owner [20]byte) (uint8, error)
	// VaultDeposit atomically moves amount from the owner's wallet into
	// the vault derived from (owner, nonce). No partial transfers.
	VaultDeposit(owner [20]byte, nonce uint8, amount uint64) error
	// VaultWithdraw verifies the re-presented derivation inputs against
	// the vault's custody marker and atomically moves amount back to the
	// owner's wallet. Fails with ErrInsufficientVaultBalance when the
	// vault holds less than amount.
	VaultWithdraw(owner [20]byte, nonce uint8, amount uint64) error
}

// Engine owns the per-participant stake lifecycle: record creation, deposits,
// withdrawals and point settlement. Every balance-affecting operation settles
// accrual up to the supplied timestamp first, so points always reflect time
// strictly up to the last mutation. The engine itself is not safe for
// concurrent mutation of one record; the host serialises access per record.
type Engine struct {
	state   engineState
	params  Params
	emitter events.Emitter
	paused  bool
}

// NewEngine creates a stake engine with default accrual parameters and a
// no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		params:  DefaultParams(),
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetParams replaces the accrual parameters. Zero fields fall back to the
// defaults.
func (e *Engine) SetParams(p Params) { e.params = p.Normalize() }

// Params returns the active accrual parameters.
func (e *Engine) Params() Params { return e.params }

// SetPaused toggles the administrative pause for mutating operations.
func (e *Engine) SetPaused(paused bool) { e.paused = paused }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) guardPaused(owner [20]byte, operation string) error {
	if !e.paused {
		return nil
	}
	e.emit(events.StakePaused{Owner: owner, Operation: operation})
	return ErrPaused
}

// loadOwned fetches the caller's record and enforces ownership. A stored
// record whose owner differs from the deriving identity means the storage
// layer was tampered with, so the mutation is refused outright.
func (e *Engine) loadOwned(caller [20]byte) (*StakeAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.StakeGet(caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	if record.Owner != caller {
		return nil, ErrUnauthorized
	}
	return record, nil
}

// CreateRecord allocates the accounting record and paired zero-balance vault
// for an owner. The derivation nonce is fixed here and never changes. Exactly
// one record may exist per owner.
func (e *Engine) CreateRecord(owner [20]byte, now int64) (*StakeAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok, err := e.state.StakeGet(owner); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrRecordExists
	}
	nonce, err := e.state.SelectNonce(owner)
	if err != nil {
		return nil, err
	}
	record := &StakeAccount{
		Owner:           owner,
		StakedAmount:    0,
		TotalPoints:     0,
		LastUpdateTime:  now,
		DerivationNonce: nonce,
	}
	if err := e.state.StakeCreate(record); err != nil {
		return nil, err
	}
	e.emit(events.StakeRecordCreated{
		Owner:           owner,
		RecordAddress:   crypto.RecordAddress(owner, nonce),
		VaultAddress:    crypto.VaultAddress(owner, nonce),
		DerivationNonce: nonce,
		CreatedAt:       now,
	})
	return record.Clone(), nil
}

// Stake settles accrual up to now and moves amount from the caller's wallet
// into the escrow vault. The overflow headroom on the recorded stake is
// verified before the external transfer runs, so funds can never move ahead
// of a bookkeeping update that would then fail.
func (e *Engine) Stake(caller [20]byte, amount uint64, now int64) (*StakeAccount, error) {
	if err := e.guardPaused(caller, "stake"); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	record, err := e.loadOwned(caller)
	if err != nil {
		return nil, err
	}
	working := record.Clone()
	if err := settle(working, now, e.params); err != nil {
		return nil, err
	}
	if working.StakedAmount > math.MaxUint64-amount {
		return nil, ErrOverflow
	}
	if err := e.state.VaultDeposit(caller, working.DerivationNonce, amount); err != nil {
		return nil, err
	}
	working.StakedAmount += amount
	if err := e.state.StakePut(working); err != nil {
		return nil, err
	}
	e.emit(events.StakeStaked{
		Owner:        caller,
		Amount:       amount,
		StakedAmount: working.StakedAmount,
		Timestamp:    now,
	})
	return working.Clone(), nil
}

// Unstake settles accrual up to now and releases amount from the vault back
// to the caller's wallet, using the recorded derivation inputs to prove the
// program's custody authority.
func (e *Engine) Unstake(caller [20]byte, amount uint64, now int64) (*StakeAccount, error) {
	if err := e.guardPaused(caller, "unstake"); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	record, err := e.loadOwned(caller)
	if err != nil {
		return nil, err
	}
	working := record.Clone()
	if err := settle(working, now, e.params); err != nil {
		return nil, err
	}
	if working.StakedAmount < amount {
		return nil, ErrInsufficientStake
	}
	if err := e.state.VaultWithdraw(caller, working.DerivationNonce, amount); err != nil {
		return nil, err
	}
	// Unreachable after the balance check above, kept as a hard stop
	// against a concurrent mutation slipping past the host serialiser.
	if working.StakedAmount < amount {
		return nil, ErrUnderflow
	}
	working.StakedAmount -= amount
	if err := e.state.StakePut(working); err != nil {
		return nil, err
	}
	e.emit(events.StakeUnstaked{
		Owner:        caller,
		Amount:       amount,
		StakedAmount: working.StakedAmount,
		Timestamp:    now,
	})
	return working.Clone(), nil
}

// Claim settles accrual up to now, pays out the truncated display-point
// balance and resets the raw counter to zero. Raw points below the precision
// factor are forfeited, not carried forward.
func (e *Engine) Claim(caller [20]byte, now int64) (uint64, error) {
	if err := e.guardPaused(caller, "claim"); err != nil {
		return 0, err
	}
	record, err := e.loadOwned(caller)
	if err != nil {
		return 0, err
	}
	working := record.Clone()
	if err := settle(working, now, e.params); err != nil {
		return 0, err
	}
	claimed := working.TotalPoints / e.params.PrecisionFactor
	working.TotalPoints = 0
	if err := e.state.StakePut(working); err != nil {
		return 0, err
	}
	e.emit(events.StakePointsClaimed{
		Owner:     caller,
		Claimed:   claimed,
		Timestamp: now,
	})
	return claimed, nil
}

// Points reports the display points a claim at now would yield without
// mutating the record: the settled balance plus the unsettled accrual for the
// elapsed window.
func (e *Engine) Points(caller [20]byte, now int64) (uint64, error) {
	record, err := e.loadOwned(caller)
	if err != nil {
		return 0, err
	}
	working := record.Clone()
	if err := settle(working, now, e.params); err != nil {
		return 0, err
	}
	return working.TotalPoints / e.params.PrecisionFactor, nil
}

// Record returns a copy of the caller's record for read-only inspection.
func (e *Engine) Record(caller [20]byte) (*StakeAccount, error) {
	record, err := e.loadOwned(caller)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}
