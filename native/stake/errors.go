package stake

import "errors"

var (
	// ErrInvalidAmount rejects zero-amount deposits and withdrawals.
	ErrInvalidAmount = errors.New("stake engine: amount must be greater than zero")
	// ErrUnauthorized is returned when the caller does not own the record.
	ErrUnauthorized = errors.New("stake engine: caller is not the record owner")
	// ErrOverflow is returned when a checked addition or multiplication
	// would exceed the 64-bit accounting range.
	ErrOverflow = errors.New("stake engine: arithmetic overflow")
	// ErrUnderflow is returned when a checked subtraction would go negative.
	ErrUnderflow = errors.New("stake engine: arithmetic underflow")
	// ErrInvalidTimestamp is returned when the supplied time precedes the
	// record's last settlement. Unreachable under a monotonic host clock.
	ErrInvalidTimestamp = errors.New("stake engine: timestamp precedes last settlement")
	// ErrInsufficientStake rejects withdrawals exceeding the recorded stake.
	ErrInsufficientStake = errors.New("stake engine: insufficient staked amount")
	// ErrInsufficientVaultBalance signals that the escrow vault holds less
	// than the recorded stake claims. The internal accounting and the vault
	// are reconciled only through transfers, so observing this error means
	// the two quantities diverged and indicates a bug.
	ErrInsufficientVaultBalance = errors.New("stake engine: insufficient vault balance")
	// ErrRecordExists rejects duplicate record creation for an owner.
	ErrRecordExists = errors.New("stake engine: record already exists")
	// ErrRecordNotFound is returned when no record exists for the caller.
	ErrRecordNotFound = errors.New("stake engine: record not found")
	// ErrPaused is returned while stake mutations are administratively
	// disabled.
	ErrPaused = errors.New("stake engine: module paused")

	errNilState = errors.New("stake engine: state not configured")
)
