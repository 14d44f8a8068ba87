// Package rational implements the integer rational-number arithmetic the
// playout engine uses for all tick, deadline, and content-time math.
// Floating point is never used here: fractional frame rates (e.g.
// 30000/1001) must round identically on every call, and float64
// accumulation drifts over a long-running session.
package rational

import "fmt"

// Rate is a strictly positive rational frame rate, num/den.
type Rate struct {
	Num int64
	Den int64
}

// NewRate validates and returns a Rate. den must be positive; num must be
// positive (a zero or negative frame rate is a programming error).
func NewRate(num, den int64) (Rate, error) {
	if den <= 0 {
		return Rate{}, fmt.Errorf("rational: frame rate denominator must be positive, got %d", den)
	}
	if num <= 0 {
		return Rate{}, fmt.Errorf("rational: frame rate numerator must be positive, got %d", num)
	}
	return Rate{Num: num, Den: den}, nil
}

// RoundMode selects how round_rational resolves a non-integral quotient.
type RoundMode int

const (
	// RoundNearest rounds half away from zero, the mode used by the tick
	// grid for deadline and tick-duration computation.
	RoundNearest RoundMode = iota
	// RoundDown rounds toward negative infinity (floor), the mode used
	// for content-time milliseconds.
	RoundDown
	// RoundUp rounds toward positive infinity (ceil for non-negative
	// inputs), the mode used for fence-tick computation.
	RoundUp
)

// RoundRational computes round(num/den) under the given mode using pure
// integer arithmetic. den must be positive; num may be any sign ceiling/
// floor semantics for negative num are defined via Euclidean division so
// behavior stays well defined even though the engine never feeds negative
// content-time values in practice.
func RoundRational(num, den int64, mode RoundMode) int64 {
	if den <= 0 {
		panic(fmt.Sprintf("rational: RoundRational called with non-positive den=%d", den))
	}
	switch mode {
	case RoundDown:
		q := num / den
		if num%den != 0 && (num < 0) != (den < 0) {
			q--
		}
		return q
	case RoundUp:
		q := num / den
		if num%den != 0 && (num < 0) == (den < 0) {
			q++
		}
		return q
	default: // RoundNearest
		// round(num/den) = floor((2*num + den) / (2*den)) for den > 0,
		// away-from-zero on ties.
		twiceNum := 2 * num
		if num >= 0 {
			return (twiceNum + den) / (2 * den)
		}
		return -(((-twiceNum) + den) / (2 * den))
	}
}

// TicksToNanos converts a tick count to elapsed nanoseconds at rate r,
// rounding to nearest: round(n * 1e9 * den / num).
func TicksToNanos(n int64, r Rate) int64 {
	return RoundRational(n*1_000_000_000*r.Den, r.Num, RoundNearest)
}

// TicksToContentMillis converts a tick count to content-time milliseconds,
// floored per spec: floor(n * 1000 * den / num).
func TicksToContentMillis(n int64, r Rate) int64 {
	return RoundRational(n*1000*r.Den, r.Num, RoundDown)
}

// MillisToTicksCeil converts a content-time millisecond offset to the
// smallest tick index whose content time is >= ms, per the fence_tick
// formula: ceil(ms * num / (den * 1000)).
func MillisToTicksCeil(ms int64, r Rate) int64 {
	return RoundRational(ms*r.Num, r.Den*1000, RoundUp)
}
