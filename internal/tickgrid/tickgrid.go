// Package tickgrid maps session tick indices to absolute deadlines and
// content-time offsets, and derives block-fence and segment-seam ticks from
// scheduled UTC times. All arithmetic is rational (spec.md §4.2); floating
// point millisecond accumulation is forbidden.
package tickgrid

import "github.com/alxayo/playout-engine/internal/rational"

// Grid derives tick-indexed timing from a fixed frame rate and a session
// epoch. It is immutable after construction: the session epoch and frame
// rate never change for the lifetime of a session (spec.md §3).
type Grid struct {
	rate      rational.Rate
	epochMono int64 // monotonic ns at tick 0
	epochUTC  int64 // UTC ms at tick 0 (fence/seam math operates in UTC ms)
}

// New creates a Grid anchored at the given monotonic and UTC epoch.
func New(rate rational.Rate, epochMonoNanos int64, epochUTCMillis int64) *Grid {
	return &Grid{rate: rate, epochMono: epochMonoNanos, epochUTC: epochUTCMillis}
}

// Rate returns the grid's fixed frame rate.
func (g *Grid) Rate() rational.Rate { return g.rate }

// Deadline returns the absolute monotonic deadline (ns) for tick N:
// epoch_mono + round(N * 1e9 * den / num). A slow or blocked prior tick
// never shifts this value — it is always anchored to the epoch (spec.md
// §4.2 guarantee (b)).
func (g *Grid) Deadline(n int64) int64 {
	return g.epochMono + rational.TicksToNanos(n, g.rate)
}

// ContentTimeMillis returns ct_ms(N): floor(N * 1000 * den / num), the
// integer milliseconds elapsed since session start at tick N.
func (g *Grid) ContentTimeMillis(n int64) int64 {
	return rational.TicksToContentMillis(n, g.rate)
}

// FenceTick returns the tick at which a block ending at endUTCMillis
// terminates: ceil((end_utc_ms - fence_epoch_utc_ms) * num / (den * 1000)).
func (g *Grid) FenceTick(endUTCMillis int64) int64 {
	return rational.MillisToTicksCeil(endUTCMillis-g.epochUTC, g.rate)
}

// TickDurationMicros returns the duration of exactly one tick in
// microseconds at the grid's fixed rate: round(1e6 * den / num). Every
// emitted frame's duration must equal this value (spec.md §3, §8).
func (g *Grid) TickDurationMicros() int64 {
	return rational.RoundRational(1_000_000*g.rate.Den, g.rate.Num, rational.RoundNearest)
}

// SeamTick returns the tick at which authority leaves a segment ending at
// boundaryCTMillis content-time milliseconds after blockActivationTick. The
// boundary is expressed relative to the block's own activation so segment
// durations compose without re-deriving from UTC a second time.
func (g *Grid) SeamTick(blockActivationTick int64, boundaryCTMillis int64) int64 {
	blockActivationCT := g.ContentTimeMillis(blockActivationTick)
	return rational.MillisToTicksCeil(blockActivationCT+boundaryCTMillis, g.rate)
}
