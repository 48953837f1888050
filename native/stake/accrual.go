package stake

import (
	"math"

	"github.com/holiman/uint256"
)

// PointsEarned computes the raw points accrued by the given stake over the
// elapsed interval:
//
//	points = staked * elapsed * rate / unitsPerToken / secondsPerDay
//
// The product is evaluated in 256-bit fixed-width arithmetic so the triple
// 64-bit multiplication cannot lose bits, every step is individually checked
// and the final quotient must narrow back into uint64. Integer-only; the
// result is bit-for-bit reproducible for fixed inputs.
func PointsEarned(staked, elapsedSeconds uint64, p Params) (uint64, error) {
	if staked == 0 || elapsedSeconds == 0 {
		return 0, nil
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	points := new(uint256.Int).SetUint64(staked)
	if _, overflow := points.MulOverflow(points, new(uint256.Int).SetUint64(elapsedSeconds)); overflow {
		return 0, ErrOverflow
	}
	if _, overflow := points.MulOverflow(points, new(uint256.Int).SetUint64(p.RatePerUnitPerDay)); overflow {
		return 0, ErrOverflow
	}
	points.Div(points, new(uint256.Int).SetUint64(p.UnitsPerToken))
	points.Div(points, new(uint256.Int).SetUint64(SecondsPerDay))
	if !points.IsUint64() {
		return 0, ErrOverflow
	}
	return points.Uint64(), nil
}

// settle rolls the record's unsettled accrual window into TotalPoints and
// advances LastUpdateTime to now. The timestamp advances even when nothing
// accrued so a zero-stake window can never be re-counted later. All checks
// run before the first mutation; on error the record is untouched.
func settle(record *StakeAccount, now int64, p Params) error {
	if record == nil {
		return ErrRecordNotFound
	}
	if now < record.LastUpdateTime {
		return ErrInvalidTimestamp
	}
	if record.LastUpdateTime < 0 && now > math.MaxInt64+record.LastUpdateTime {
		return ErrInvalidTimestamp
	}
	elapsed := uint64(now - record.LastUpdateTime)
	if elapsed > 0 && record.StakedAmount > 0 {
		earned, err := PointsEarned(record.StakedAmount, elapsed, p)
		if err != nil {
			return err
		}
		if record.TotalPoints > math.MaxUint64-earned {
			return ErrOverflow
		}
		record.TotalPoints += earned
	}
	record.LastUpdateTime = now
	return nil
}
