// Package sink implements the output router/renderer (spec.md §4.10): it
// fans out the frame the swap cascade chose for this tick to every
// attached output, tracks the freeze window of the freeze-then-pad safety
// rail (reporting when the upstream cascade has repeated a held frame for
// too long), and surfaces
// buffer-equilibrium and pad-while-depth-high diagnostics.
//
// The fan-out shape — snapshot the subscriber slice under a read lock,
// release the lock, then deliver, with a non-blocking try-send per
// subscriber — is media/relay.go's Stream.BroadcastMessage pattern,
// generalized from RTMP chunk messages to playout frames.
package sink

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alxayo/playout-engine/internal/frame"
	"github.com/alxayo/playout-engine/internal/logger"
)

// equilibriumSampleInterval paces how often buffer depth is sampled for
// the equilibrium diagnostic: once every N routed video ticks rather than
// every tick, since depth only needs to be observed periodically (spec.md
// §4.10(c)).
const equilibriumSampleInterval = 30

// sustainedEquilibriumViolations is how many consecutive out-of-band
// samples must be observed before the violation is logged, so one
// transient dip while a segment primes doesn't trip the diagnostic.
const sustainedEquilibriumViolations = 3

// defaultEquilibriumTargetN is the default pre-feed target N the
// equilibrium band [1, 2N] is measured against (spec.md §4.10(c)).
const defaultEquilibriumTargetN = 3

// Output is one destination for routed frames (e.g. an encoder feed, a
// local preview, a recorder). TrySendVideo/TrySendAudio must not block;
// a destination that cannot keep up simply misses frames, exactly as a
// TrySendMessage subscriber does.
type Output interface {
	TrySendVideo(v frame.Video) bool
	TrySendAudio(a frame.Audio) bool
}

// DepthProvider reports the current buffer depth feeding the active
// segment, used for the pad-while-depth-high diagnostic: a pad frame
// routed while depth is actually high points at an admission bug rather
// than genuine source starvation.
type DepthProvider interface {
	VideoDepth() int
	AudioDepth() int
}

// Router fans out frames to attached outputs and tracks freeze/pad
// diagnostics.
type Router struct {
	mu      sync.RWMutex
	outputs []Output
	log     *slog.Logger

	freezeWindow time.Duration
	holdSince    int64 // mono nanos, 0 when not currently holding
	frozen       bool

	depth DepthProvider

	consecutivePadFrames int
	padDepthWarnThresh   int

	haveEmittedContent bool

	targetDepthN                  int
	equilibriumSamples            int
	consecutiveEquilibriumViolate int
	equilibriumLimiter            *rate.Limiter
}

// NewRouter constructs a Router. freezeWindow is the duration a held
// (repeated) frame is tolerated before the router reports that the
// upstream cascade should fall back to pad rather than continue freezing
// (spec.md's default of 250ms, recorded in SPEC_FULL.md §5).
func NewRouter(freezeWindow time.Duration, depth DepthProvider) *Router {
	return &Router{
		freezeWindow:       freezeWindow,
		depth:              depth,
		padDepthWarnThresh: 1,
		targetDepthN:       defaultEquilibriumTargetN,
		equilibriumLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		log:                logger.Logger().With("component", "sink_router"),
	}
}

// Attach registers an output. Safe to call concurrently with RouteVideo/
// RouteAudio.
func (r *Router) Attach(o Output) {
	if o == nil {
		return
	}
	r.mu.Lock()
	r.outputs = append(r.outputs, o)
	r.mu.Unlock()
}

// Detach removes a previously attached output by identity.
func (r *Router) Detach(o Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.outputs {
		if cur == o {
			r.outputs = append(r.outputs[:i], r.outputs[i+1:]...)
			return
		}
	}
}

// OutputCount returns the number of currently attached outputs.
func (r *Router) OutputCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

// RouteVideo delivers v to every attached output. wasHold reports whether
// v is a repeat of the previously emitted frame (the cascade's HOLD
// decision) rather than a freshly popped one; isPad reports whether v
// came from the pad producer; knownEmpty reports whether the pad frame
// originates from a segment that is a pad by design (the block plan's own
// pad segment, or the seam into one) rather than a content segment
// falling back because it has nothing to give yet. nowNanos is the
// caller's current monotonic time, used to track how long a hold has been
// running.
//
// ForcePad is true once a hold has lasted at least freezeWindow: the
// signal of the freeze-then-pad safety rail (content is held briefly to
// hide a single missed deadline, but an indefinite freeze is worse than
// visible pad). RouteVideo itself still delivers v; substituting pad is
// left to the caller.
func (r *Router) RouteVideo(v frame.Video, wasHold, isPad, knownEmpty bool, nowNanos int64) (forcePad bool) {
	forcePad = r.observeFreeze(wasHold, nowNanos)
	suppressed := r.gateContentBeforePad(isPad, knownEmpty)
	r.observePadDiagnostic(isPad)
	if !isPad {
		r.observeBufferEquilibrium()
	}
	if suppressed {
		return forcePad
	}

	r.mu.RLock()
	outs := make([]Output, len(r.outputs))
	copy(outs, r.outputs)
	r.mu.RUnlock()

	for _, o := range outs {
		if !o.TrySendVideo(v) {
			r.log.Debug("output dropped video frame", "segment_origin", v.SegmentOriginID)
		}
	}
	return forcePad
}

// RouteAudio delivers a to every attached output, applying the same
// content-before-pad gate RouteVideo applies. See RouteVideo for the
// isPad/knownEmpty contract.
func (r *Router) RouteAudio(a frame.Audio, isPad, knownEmpty bool) {
	if r.gateContentBeforePad(isPad, knownEmpty) {
		return
	}

	r.mu.RLock()
	outs := make([]Output, len(r.outputs))
	copy(outs, r.outputs)
	r.mu.RUnlock()

	for _, o := range outs {
		if !o.TrySendAudio(a) {
			r.log.Debug("output dropped audio frame", "segment_origin", a.SegmentOriginID)
		}
	}
}

// gateContentBeforePad enforces spec.md §4.10(b): pad is not delivered
// until at least one real content frame has been, unless the caller
// marks this pad as knownEmpty (a segment that is pad by design, which
// may legitimately boot the session directly into pad). Returns true if
// delivery must be suppressed.
func (r *Router) gateContentBeforePad(isPad, knownEmpty bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !isPad {
		r.haveEmittedContent = true
		return false
	}
	if r.haveEmittedContent || knownEmpty {
		return false
	}
	if r.equilibriumLimiter.Allow() {
		r.log.Warn("suppressing pad frame routed before any content frame has been emitted")
	}
	return true
}

// observeFreeze tracks how long a HOLD run has continued and reports
// whether it has exceeded freezeWindow.
func (r *Router) observeFreeze(wasHold bool, nowNanos int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !wasHold {
		r.holdSince = 0
		r.frozen = false
		return false
	}
	if r.holdSince == 0 {
		r.holdSince = nowNanos
		return false
	}
	if time.Duration(nowNanos-r.holdSince) >= r.freezeWindow {
		if !r.frozen {
			r.frozen = true
			r.log.Warn("freeze window exceeded, forcing pad fallback", "held_for", time.Duration(nowNanos-r.holdSince))
		}
		return true
	}
	return false
}

// observePadDiagnostic warns when pad frames are being routed for several
// consecutive ticks while the segment's buffer depth is not actually low
// — a signal that the swap cascade chose pad for a reason other than
// genuine starvation.
func (r *Router) observePadDiagnostic(isPad bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !isPad {
		r.consecutivePadFrames = 0
		return
	}
	r.consecutivePadFrames++
	if r.consecutivePadFrames < 3 || r.depth == nil {
		return
	}
	if r.depth.VideoDepth() > r.padDepthWarnThresh || r.depth.AudioDepth() > r.padDepthWarnThresh {
		r.log.Warn("pad frame routed while buffer depth is not low",
			"consecutive_pad_frames", r.consecutivePadFrames,
			"video_depth", r.depth.VideoDepth(),
			"audio_depth", r.depth.AudioDepth(),
		)
	}
}

// observeBufferEquilibrium samples buffer depth every
// equilibriumSampleInterval video ticks and flags sustained violations of
// the [1, 2N] equilibrium band (spec.md §4.10(c)). Only called while
// routing content, since depth is legitimately zero during pad.
func (r *Router) observeBufferEquilibrium() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.depth == nil {
		return
	}
	r.equilibriumSamples++
	if r.equilibriumSamples < equilibriumSampleInterval {
		return
	}
	r.equilibriumSamples = 0

	lo, hi := 1, 2*r.targetDepthN
	vd, ad := r.depth.VideoDepth(), r.depth.AudioDepth()
	inBand := vd >= lo && vd <= hi && ad >= lo && ad <= hi
	if inBand {
		r.consecutiveEquilibriumViolate = 0
		return
	}

	r.consecutiveEquilibriumViolate++
	if r.consecutiveEquilibriumViolate < sustainedEquilibriumViolations {
		return
	}
	if r.equilibriumLimiter.Allow() {
		r.log.Warn("buffer depth sustained outside equilibrium band",
			"video_depth", vd, "audio_depth", ad, "band_lo", lo, "band_hi", hi,
			"consecutive_violations", r.consecutiveEquilibriumViolate,
		)
	}
}

// IsFrozen reports whether the router currently considers the output
// stream frozen (a HOLD run has exceeded the freeze window and pad
// fallback has not yet taken effect).
func (r *Router) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
