// Package swap implements the per-tick frame-selection and segment-swap
// cascade (spec.md §4.7): the five-phase decision that chooses which
// segment supplies this tick's frame, whether authority moves from the
// current segment to the next one, and the invariant check that guards
// against ever having more or fewer than one authoritative segment.
//
// The cascade is modeled as a chain of explicit decision methods rather
// than one large branch, mirroring the ordered routing style of
// internal/rtmp/rpc/dispatcher.go's command dispatcher: each phase
// either produces a final Decision or falls through to the next.
package swap

import (
	"fmt"

	"github.com/alxayo/playout-engine/internal/errors"
	"github.com/alxayo/playout-engine/internal/rational"
	"github.com/alxayo/playout-engine/internal/segment"
)

// Tag names which rule in the cascade produced a Decision. Recording it on
// every Decision makes the engine's behavior auditable per tick (spec.md's
// evidence spool persists it).
type Tag uint8

const (
	// TagNormalPop is the common case: pop the next buffered frame from the
	// current authoritative segment, or, on a seam tick whose seam-ready
	// next segment takes over while the current one could still serve,
	// from that next segment as authority moves to it.
	TagNormalPop Tag = iota
	// TagHoldLast repeats the last emitted frame, either because the
	// current segment's buffer is momentarily empty, or because the
	// content→content cadence decided this tick should repeat rather than
	// advance (spec.md §4.7 Phase 2.3).
	TagHoldLast
	// TagPadFallback substitutes a pad frame because no content frame is
	// available from any candidate and holding is not an option (house
	// safety rail; spec.md's "never stall the output").
	TagPadFallback
	// TagContentSeamOverride fires at a seam boundary whose next segment is
	// content and ready while the current segment has no frame to give:
	// authority moves immediately.
	TagContentSeamOverride
	// TagPadSeamOverride fires at a seam boundary whose next segment is pad.
	// It unconditionally outranks TagContentSeamOverride on the same tick —
	// a content-to-pad seam always executes (resolved Open Question,
	// SPEC_FULL.md §5).
	TagPadSeamOverride
	// TagForceExecute fires when deferring the swap would leave the tick
	// with no authoritative segment at all (an authority vacuum) — the
	// swap executes regardless of normal readiness gating, because an
	// empty authority is worse than an early one.
	TagForceExecute
)

func (t Tag) String() string {
	switch t {
	case TagNormalPop:
		return "NORMAL_POP"
	case TagHoldLast:
		return "HOLD"
	case TagPadFallback:
		return "PAD_FALLBACK"
	case TagContentSeamOverride:
		return "CONTENT_SEAM_OVERRIDE"
	case TagPadSeamOverride:
		return "PAD_SEAM_OVERRIDE"
	case TagForceExecute:
		return "FORCE_EXECUTE"
	default:
		return "UNKNOWN"
	}
}

// Candidate is the swap cascade's view of one segment: only the facts the
// cascade needs to decide, not the segment's full state.
type Candidate struct {
	SegmentID     string
	Kind          segment.Type
	State         segment.State
	HasVideoFrame bool
	HasAudioFrame bool

	// SourceFPSNum/SourceFPSDen is the segment's currently-observed source
	// frame rate (producer.Pump.ReportedSourceFPS), used by the cadence
	// phase to decide advance-vs-repeat for a VFR source played at the
	// house tick rate. Zero when not yet known (e.g. a pad candidate),
	// which the cadence phase treats as "always advance".
	SourceFPSNum int64
	SourceFPSDen int64
}

func (c *Candidate) ready() bool {
	return c != nil && c.HasVideoFrame && c.HasAudioFrame
}

// Request is the per-tick input to the cascade.
type Request struct {
	Tick int64

	// Current is the presently Authoritative segment, or nil if the tick
	// finds no segment holding authority (an authority vacuum — only
	// possible immediately after an uncommitted or forced prior swap).
	Current *Candidate
	// Next is the segment queued to take authority at a seam, or nil if
	// none is primed yet.
	Next *Candidate

	// AtSeam is true when Tick is at or past Current's seam tick, meaning
	// the cascade must consider a swap this tick rather than a plain pop.
	AtSeam bool
	// LastFrameAvailable is true if a previously emitted frame exists to
	// repeat under TagHoldLast.
	LastFrameAvailable bool

	// TicksSinceAuthority is how many ticks have elapsed since Current
	// became authoritative (tick - Current.AuthorityStartTick). It is the
	// cadence phase's budget clock; it is never reset by an override
	// firing elsewhere in the cascade (spec.md §4.7 Phase 2.3,
	// INV-CADENCE-SEAM-ADVANCE).
	TicksSinceAuthority int64
	// HouseFPSNum/HouseFPSDen is the fixed session tick rate, against
	// which Current.SourceFPSNum/Den is compared to derive the
	// advance-vs-repeat cadence.
	HouseFPSNum int64
	HouseFPSDen int64
}

// Decision is the cascade's output for one tick.
type Decision struct {
	Tag             Tag
	SourceSegmentID string
	// AuthorityTransferred is true iff Current relinquished authority to
	// Next as part of this decision.
	AuthorityTransferred bool
	// Deferred is true when a seam was reached but the swap could not
	// execute this tick (Next not ready) and was not forced — the cascade
	// falls back to serving Current for one more tick and retries the seam
	// check next tick. Distinguishes a deferred-seam TagHoldLast (the
	// caller should pop a fresh frame from Current) from a genuine hold
	// (the caller must repeat the previously emitted frame verbatim).
	Deferred bool
}

// Decide runs the five-phase cascade and returns the Decision for this
// tick. Only Phase 4's frame-authority vacuum exception can fail: if no
// seam-ready successor exists to force execution onto, the system must
// halt emission rather than produce undefined output (spec.md §4.7 Phase
// 4), reported as an InvariantViolation.
func Decide(req Request) (Decision, error) {
	// Phase 1: source selection — is a seam in play at all?
	if !req.AtSeam {
		return decideNoSeam(req), nil
	}

	// Phase 2: frame-selection cascade at a seam. Pad beats content
	// unconditionally on the same tick.
	if req.Next != nil && req.Next.Kind == segment.TypePad {
		if req.Next.ready() {
			return Decision{Tag: TagPadSeamOverride, SourceSegmentID: req.Next.SegmentID, AuthorityTransferred: true}, nil
		}
		// Pad segments manufacture frames on demand and are therefore
		// always ready in practice; falling through here only happens if
		// the caller hasn't yet primed the pad producer.
	} else if req.Next != nil && req.Next.ready() {
		if !req.Current.ready() {
			// CONTENT_SEAM_OVERRIDE only preempts a seam when Current cannot
			// itself provide a video frame (spec.md §4.7 Phase 2: "the active
			// segment cannot provide a video frame").
			return Decision{Tag: TagContentSeamOverride, SourceSegmentID: req.Next.SegmentID, AuthorityTransferred: true}, nil
		}
		// Current could still serve, but Next is seam-ready: Next is this
		// tick's video source, so its frame is popped normally and
		// authority moves with it. Only a Next that is not ready reaches
		// Phase 3 below.
		return Decision{Tag: TagNormalPop, SourceSegmentID: req.Next.SegmentID, AuthorityTransferred: true}, nil
	}

	// Phase 3: swap commit/defer. Next did not override: check whether
	// staying on Current is even possible.
	if req.Current.ready() {
		return Decision{Tag: TagHoldLast, SourceSegmentID: req.Current.SegmentID, Deferred: true}, nil
	}

	// Phase 4: frame-authority vacuum exception. Current has nothing left
	// either — continuing to defer would leave this tick with no frame at
	// all. A seam-ready Next forces execution; anything less is an
	// invariant violation the caller must halt on, never silent black.
	if req.Next != nil && req.Next.ready() {
		return Decision{Tag: TagForceExecute, SourceSegmentID: req.Next.SegmentID, AuthorityTransferred: true}, nil
	}

	curID := ""
	if req.Current != nil {
		curID = req.Current.SegmentID
	}
	return Decision{}, errors.NewInvariantViolation(
		"INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED",
		"swap.decide",
		fmt.Errorf("no seam-ready successor segment for current segment %q", curID),
	)
}

// decideNoSeam handles the common non-seam tick: pop from Current
// (subject to the cadence phase's advance-vs-repeat decision for
// content→content playback), hold the last frame if Current is
// momentarily empty, or fall back to pad if there is no Current to serve
// from.
func decideNoSeam(req Request) Decision {
	if req.Current.ready() {
		if req.Current.Kind == segment.TypeContent && req.LastFrameAvailable &&
			!cadenceShouldAdvance(req.TicksSinceAuthority, req.HouseFPSNum, req.HouseFPSDen, req.Current.SourceFPSNum, req.Current.SourceFPSDen) {
			return Decision{Tag: TagHoldLast, SourceSegmentID: req.Current.SegmentID}
		}
		return Decision{Tag: TagNormalPop, SourceSegmentID: req.Current.SegmentID}
	}
	if req.Current != nil && req.LastFrameAvailable {
		return Decision{Tag: TagHoldLast, SourceSegmentID: req.Current.SegmentID}
	}
	return decidePadFallback(req)
}

func decidePadFallback(req Request) Decision {
	id := ""
	if req.Current != nil {
		id = req.Current.SegmentID
	}
	return Decision{Tag: TagPadFallback, SourceSegmentID: id}
}

// cadenceShouldAdvance implements spec.md §4.7 Phase 2.3's rational
// frame-selection cadence: it compares how many source frames "ought" to
// have been consumed by ticksSinceAuthority against ticksSinceAuthority-1,
// at the ratio of the source's reported FPS to the house tick rate, and
// advances only when that count has just crossed an integer boundary.
// This is a pure function of elapsed ticks, not a mutable accumulator, so
// an override firing elsewhere in the cascade never perturbs it — the
// budget is implicitly "never reset" because it is never stored.
func cadenceShouldAdvance(ticksSinceAuthority, houseNum, houseDen, srcNum, srcDen int64) bool {
	if srcNum <= 0 || srcDen <= 0 || houseNum <= 0 || houseDen <= 0 {
		return true
	}
	if ticksSinceAuthority <= 0 {
		return true
	}
	due := framesDueByTick(ticksSinceAuthority, houseNum, houseDen, srcNum, srcDen)
	duePrev := framesDueByTick(ticksSinceAuthority-1, houseNum, houseDen, srcNum, srcDen)
	return due > duePrev
}

// framesDueByTick returns floor(n * (houseDen/houseNum) * (srcNum/srcDen)):
// the number of source frames that should have been advanced by tick n of
// a segment's authority, at the house tick cadence.
func framesDueByTick(n, houseNum, houseDen, srcNum, srcDen int64) int64 {
	num := n * houseDen * srcNum
	den := houseNum * srcDen
	return rational.RoundRational(num, den, rational.RoundDown)
}

// Commit applies an authority transfer implied by dec to the two candidate
// segments' underlying state machines, then runs the Phase 5 invariant
// check: the emitted frame's origin must match whichever segment is now
// authoritative (origin(T) = active(T)). A mismatch, like a failed state
// transition, is a programming defect, never a runtime/input condition, so
// both are reported via errors.InvariantViolation rather than handled.
// emittedOriginID is the SegmentOriginID actually stamped on this tick's
// emitted video frame; pad-sourced decisions carry no content segment
// origin and are exempt from the comparison.
func Commit(dec Decision, current, next *segment.Segment, emittedOriginID string) error {
	if dec.AuthorityTransferred {
		if current != nil && current.State() == segment.StateAuthoritative {
			if !current.MarkDraining() {
				return errors.NewInvariantViolation(
					"INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED",
					"swap.commit",
					fmt.Errorf("segment %s could not leave Authoritative", current.ID),
				)
			}
		}
		if next == nil {
			return errors.NewInvariantViolation(
				"INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED",
				"swap.commit",
				fmt.Errorf("authority transfer requested with no successor segment"),
			)
		}
		if !next.MarkAuthoritative() {
			return errors.NewInvariantViolation(
				"INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED",
				"swap.commit",
				fmt.Errorf("segment %s could not become Authoritative", next.ID),
			)
		}
	}

	if dec.Tag == TagPadFallback || dec.Tag == TagPadSeamOverride || emittedOriginID == "" {
		return nil
	}

	activeID := ""
	if dec.AuthorityTransferred {
		if next != nil {
			activeID = next.ID
		}
	} else if current != nil {
		activeID = current.ID
	}
	if activeID != "" && emittedOriginID != activeID {
		return errors.NewInvariantViolation(
			"INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED",
			"swap.commit",
			fmt.Errorf("emitted frame origin %q does not match authoritative segment %q", emittedOriginID, activeID),
		)
	}
	return nil
}
