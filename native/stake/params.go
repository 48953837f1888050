package stake

import "fmt"

// SecondsPerDay is the accrual window the per-day rate is expressed against.
const SecondsPerDay uint64 = 86_400

const (
	// DefaultRatePerUnitPerDay is the raw points accrued by one whole
	// currency unit staked for one full day.
	DefaultRatePerUnitPerDay uint64 = 1_000_000
	// DefaultUnitsPerToken is the number of minor currency units making up
	// one whole unit.
	DefaultUnitsPerToken uint64 = 1_000_000_000
	// DefaultPrecisionFactor scales raw points; the display value is the
	// truncated quotient of raw points by this factor.
	DefaultPrecisionFactor uint64 = 1_000_000
)

// Params fixes the accrual rate and fixed-point scaling used by the engine.
// All values are immutable for the lifetime of a ledger; changing them would
// retroactively reprice unsettled windows.
type Params struct {
	RatePerUnitPerDay uint64
	UnitsPerToken     uint64
	PrecisionFactor   uint64
}

// DefaultParams returns the production accrual configuration.
func DefaultParams() Params {
	return Params{
		RatePerUnitPerDay: DefaultRatePerUnitPerDay,
		UnitsPerToken:     DefaultUnitsPerToken,
		PrecisionFactor:   DefaultPrecisionFactor,
	}
}

// Normalize backfills zero fields with their defaults and returns the result.
func (p Params) Normalize() Params {
	if p.RatePerUnitPerDay == 0 {
		p.RatePerUnitPerDay = DefaultRatePerUnitPerDay
	}
	if p.UnitsPerToken == 0 {
		p.UnitsPerToken = DefaultUnitsPerToken
	}
	if p.PrecisionFactor == 0 {
		p.PrecisionFactor = DefaultPrecisionFactor
	}
	return p
}

// Validate rejects configurations that would divide by zero during accrual.
func (p Params) Validate() error {
	if p.RatePerUnitPerDay == 0 {
		return fmt.Errorf("stake params: rate per unit per day must be positive")
	}
	if p.UnitsPerToken == 0 {
		return fmt.Errorf("stake params: units per token must be positive")
	}
	if p.PrecisionFactor == 0 {
		return fmt.Errorf("stake params: precision factor must be positive")
	}
	return nil
}
