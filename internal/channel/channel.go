// Package channel composes one playout channel's collaborators — segment
// queue, per-segment producer pumps, the swap cascade, the pad producer,
// the output router, the evidence spool, and the external playout control
// session — into the three narrow surfaces the rest of the engine drives
// it through: pipeline.Stepper (one tick), control.BlockAdmitter (admit a
// block plan), and control.SinkManager (attach/detach an output). The
// composition shape — one struct holding every collaborator, built once in
// a constructor, with admission/attach methods alongside the per-tick
// driver method — the same shape as a Server composing a Registry, a
// DestinationManager, and a HookManager behind one small method surface.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alxayo/playout-engine/internal/errors"
	"github.com/alxayo/playout-engine/internal/evidence"
	"github.com/alxayo/playout-engine/internal/frame"
	"github.com/alxayo/playout-engine/internal/logger"
	"github.com/alxayo/playout-engine/internal/pad"
	"github.com/alxayo/playout-engine/internal/playout"
	"github.com/alxayo/playout-engine/internal/producer"
	"github.com/alxayo/playout-engine/internal/ring"
	"github.com/alxayo/playout-engine/internal/segment"
	"github.com/alxayo/playout-engine/internal/sink"
	"github.com/alxayo/playout-engine/internal/swap"
	"github.com/alxayo/playout-engine/internal/tickgrid"
)

// AssetOpener opens a decodable producer.Source for a segment's asset.
// Real container/codec decode is an external collaborator this repo does
// not implement (spec.md §1 places "decoder internals" out of scope); the
// engine depends only on this function type so a real opener can be
// substituted without touching channel.go.
type AssetOpener func(assetURI string, startOffsetMs int64) (producer.Source, error)

// Config holds a Channel's tunable knobs.
type Config struct {
	RingCapacity     int
	MinPrefeedFrames int
	SessionID        string
	ChannelID        string
}

func (c *Config) applyDefaults() {
	if c.RingCapacity == 0 {
		c.RingCapacity = 8
	}
	if c.MinPrefeedFrames == 0 {
		c.MinPrefeedFrames = 2
	}
	if c.SessionID == "" {
		c.SessionID = "session-unset"
	}
	if c.ChannelID == "" {
		c.ChannelID = "channel-unset"
	}
}

// segRuntime holds the live rings and pump for one non-pad segment.
type segRuntime struct {
	videoRing *ring.Buffer[frame.Video]
	audioRing *ring.Buffer[frame.Audio]
	pump      *producer.Pump
	src       producer.Source
}

// Channel is one playout channel: one admitted block queue, one active
// segment pair (current + next), and the collaborators that turn ticks
// into routed frames.
type Channel struct {
	cfg    Config
	format frame.Format
	grid   *tickgrid.Grid
	opener AssetOpener

	padProducer *pad.Producer
	sinkRouter  *sink.Router
	spool       *evidence.Spool
	session     *playout.Session
	log         *slog.Logger

	mu            sync.Mutex
	pendingBlocks []*segment.Block
	activeBlock   *segment.Block
	activeIdx     int // index of the current segment within activeBlock.Segments

	runtimes map[string]*segRuntime

	lastVideo frame.Video
	lastAudio frame.Audio
	haveLast  bool

	outputs map[string]sink.Output
}

// New constructs a Channel. grid and format are fixed for the session's
// lifetime, matching the house-format/epoch immutability spec.md §3 and
// §4.1 require.
func New(format frame.Format, grid *tickgrid.Grid, opener AssetOpener, padProducer *pad.Producer, sinkRouter *sink.Router, spool *evidence.Spool, session *playout.Session, cfg Config) *Channel {
	cfg.applyDefaults()
	return &Channel{
		cfg:         cfg,
		format:      format,
		grid:        grid,
		opener:      opener,
		padProducer: padProducer,
		sinkRouter:  sinkRouter,
		spool:       spool,
		session:     session,
		runtimes:    make(map[string]*segRuntime),
		outputs:     make(map[string]sink.Output),
		log:         logger.Logger().With("component", "channel", "channel_id", cfg.ChannelID),
	}
}

// --- control.BlockAdmitter ---

type wireSegment struct {
	ID                 string `json:"id"`
	Index              int    `json:"index"`
	AssetURI           string `json:"asset_uri"`
	AssetStartOffsetMs int64  `json:"asset_start_offset_ms"`
	DurationMs         int64  `json:"duration_ms"`
	Kind               string `json:"kind"`
}

type wireBlock struct {
	ID         string        `json:"id"`
	StartUTCMs int64         `json:"start_utc_ms"`
	EndUTCMs   int64         `json:"end_utc_ms"`
	Segments   []wireSegment `json:"segments"`
}

func parseKind(s string) (segment.Type, error) {
	switch s {
	case "content":
		return segment.TypeContent, nil
	case "pad":
		return segment.TypePad, nil
	case "filler":
		return segment.TypeFiller, nil
	case "emergency":
		return segment.TypeEmergency, nil
	default:
		return 0, fmt.Errorf("unknown segment kind %q", s)
	}
}

// AdmitBlock validates and enqueues a block plan. It never mutates an
// already-active block (blocks are immutable once admitted, spec.md §3) —
// it only appends to the pending queue Step drains in order.
func (c *Channel) AdmitBlock(raw json.RawMessage) error {
	var wb wireBlock
	if err := json.Unmarshal(raw, &wb); err != nil {
		return errors.NewValidationError("channel.admit_block", err)
	}
	if wb.ID == "" {
		return errors.NewValidationError("channel.admit_block", fmt.Errorf("block id is required"))
	}
	if wb.EndUTCMs <= wb.StartUTCMs {
		return errors.NewValidationError("channel.admit_block", fmt.Errorf("end_utc_ms must be after start_utc_ms"))
	}
	if len(wb.Segments) == 0 {
		return errors.NewValidationError("channel.admit_block", fmt.Errorf("block %s has no segments", wb.ID))
	}

	segs := make([]*segment.Segment, 0, len(wb.Segments))
	for _, ws := range wb.Segments {
		kind, err := parseKind(ws.Kind)
		if err != nil {
			return errors.NewValidationError("channel.admit_block", fmt.Errorf("segment %s: %w", ws.ID, err))
		}
		if ws.DurationMs <= 0 {
			return errors.NewValidationError("channel.admit_block", fmt.Errorf("segment %s: duration_ms must be positive", ws.ID))
		}
		if kind != segment.TypePad && ws.AssetURI == "" {
			return errors.NewValidationError("channel.admit_block", fmt.Errorf("segment %s: asset_uri is required for kind %q", ws.ID, ws.Kind))
		}
		segs = append(segs, segment.NewSegment(ws.ID, wb.ID, ws.Index, ws.AssetURI, ws.AssetStartOffsetMs, ws.DurationMs, kind))
	}

	block := &segment.Block{ID: wb.ID, StartUTCMs: wb.StartUTCMs, EndUTCMs: wb.EndUTCMs, Segments: segs}

	c.mu.Lock()
	c.pendingBlocks = append(c.pendingBlocks, block)
	c.mu.Unlock()

	if c.spool != nil {
		_, _ = c.spool.Append(evidence.NewRecord(c.cfg.SessionID, c.cfg.ChannelID, evidence.EventBlockAdmit).
			With("block_id", block.ID).With("segment_count", len(segs)), 0)
	}
	c.log.Info("block admitted", "block_id", block.ID, "segments", len(segs))
	return nil
}

// --- control.SinkManager ---

// loggingOutput is a diagnostic stand-in for a real transport sink. The
// actual network/encoder sink is an external collaborator (spec.md §1
// excludes "the TCP/UDS transport" from this engine's scope); this is
// enough to exercise attach/detach and the router's fan-out.
type loggingOutput struct {
	id  string
	log *slog.Logger
}

func (o *loggingOutput) TrySendVideo(v frame.Video) bool {
	o.log.Debug("sink delivered video", "sink_id", o.id, "pts_micros", v.PTSMicros)
	return true
}

func (o *loggingOutput) TrySendAudio(a frame.Audio) bool {
	o.log.Debug("sink delivered audio", "sink_id", o.id, "pts_micros", a.PTSMicros)
	return true
}

// AttachOutput registers a named output with the sink router.
func (c *Channel) AttachOutput(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.outputs[id]; exists {
		return errors.NewValidationError("channel.attach_output", fmt.Errorf("sink %q already attached", id))
	}
	out := &loggingOutput{id: id, log: c.log}
	c.outputs[id] = out
	c.sinkRouter.Attach(out)
	return nil
}

// DetachOutput removes a previously attached output.
func (c *Channel) DetachOutput(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, exists := c.outputs[id]
	if !exists {
		return errors.NewValidationError("channel.detach_output", fmt.Errorf("sink %q is not attached", id))
	}
	c.sinkRouter.Detach(out)
	delete(c.outputs, id)
	return nil
}

// --- playout.ReadinessCheck / pipeline.BootstrapGate ---

// VideoReady reports whether the current segment has buffered at least
// MinPrefeedFrames of video (always true for a pad segment, which never
// starves).
func (c *Channel) VideoReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamReadyLocked(func(rt *segRuntime) int { return rt.videoRing.Size() })
}

// AudioReady reports the same for audio.
func (c *Channel) AudioReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamReadyLocked(func(rt *segRuntime) int { return rt.audioRing.Size() })
}

func (c *Channel) streamReadyLocked(depth func(*segRuntime) int) bool {
	cur := c.currentSegLocked()
	if cur == nil {
		return false
	}
	if cur.IsPad() {
		return true
	}
	rt := c.runtimes[cur.ID]
	if rt == nil {
		return false
	}
	return depth(rt) >= c.cfg.MinPrefeedFrames
}

// Ready implements pipeline.BootstrapGate.
func (c *Channel) Ready() bool { return c.VideoReady() && c.AudioReady() }

// VideoDepth/AudioDepth implement sink.DepthProvider for the pad-while-
// depth-high diagnostic.
func (c *Channel) VideoDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.currentSegLocked()
	if cur == nil || cur.IsPad() {
		return 0
	}
	if rt := c.runtimes[cur.ID]; rt != nil {
		return rt.videoRing.Size()
	}
	return 0
}

func (c *Channel) AudioDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.currentSegLocked()
	if cur == nil || cur.IsPad() {
		return 0
	}
	if rt := c.runtimes[cur.ID]; rt != nil {
		return rt.audioRing.Size()
	}
	return 0
}

// --- pipeline.Stepper ---

// Step runs one tick: activate pending blocks as needed, pump the current
// and next segments' producers, run the swap cascade, route the chosen
// frames, and commit any authority transfer.
func (c *Channel) Step(ctx context.Context, tick int64) error {
	c.mu.Lock()
	c.activateIfNeededLocked(tick)
	curSeg := c.currentSegLocked()
	nextSeg := c.nextSegLocked()
	c.ensurePrimedLocked(nextSeg)
	c.mu.Unlock()

	if curSeg == nil {
		// Nothing admitted yet; hold on pad so the output never stalls.
		c.emitPad(tick)
		return nil
	}

	var pumpErr error
	if !curSeg.IsPad() {
		if err := c.pumpSegment(ctx, curSeg, tick); err != nil {
			pumpErr = err
		}
	}
	if nextSeg != nil && !nextSeg.IsPad() {
		_ = c.pumpSegment(ctx, nextSeg, tick)
	}

	if c.session.State() == playout.StateBuffering {
		_, _ = c.session.MarkReady(c)
	}

	dec, err := c.decide(tick, curSeg, nextSeg)
	if err != nil {
		c.tickLogger(tick, curSeg).Error("swap decision halted", "error", err)
		c.session.Fault()
		return err
	}
	video, audio, err := c.materialize(tick, dec, curSeg, nextSeg)
	if err != nil {
		c.tickLogger(tick, curSeg).Error("frame materialization halted", "error", err)
		c.session.Fault()
		return err
	}

	nowNanos := c.grid.Deadline(tick)
	isPad := dec.Tag == swap.TagPadFallback || dec.Tag == swap.TagPadSeamOverride
	wasHold := dec.Tag == swap.TagHoldLast && !dec.Deferred
	// A pad frame is "known-empty by design" when it comes from the seam
	// into a pad-kind Next, or from a curSeg that is itself pad-kind — as
	// opposed to a content segment falling back to pad because it has no
	// frames ready yet, which is the genuine content-before-pad violation.
	knownEmpty := dec.Tag == swap.TagPadSeamOverride || (curSeg != nil && curSeg.IsPad())
	// RouteVideo's force-pad result is not acted on: a held frame keeps
	// repeating past the freeze window for as long as the cascade decides
	// HOLD.
	c.sinkRouter.RouteVideo(video, wasHold, isPad, knownEmpty, nowNanos)
	c.sinkRouter.RouteAudio(audio, isPad, knownEmpty)

	c.mu.Lock()
	c.lastVideo, c.lastAudio, c.haveLast = video, audio, true
	c.mu.Unlock()

	if dec.Tag != swap.TagNormalPop && c.spool != nil {
		_, _ = c.spool.Append(evidence.NewRecord(c.cfg.SessionID, c.cfg.ChannelID, evidence.EventSwapDecision).
			With("tag", dec.Tag.String()).With("tick", tick).With("source_segment", dec.SourceSegmentID), 0)
	}

	if dec.AuthorityTransferred {
		if err := swap.Commit(dec, curSeg, nextSeg, video.SegmentOriginID); err != nil {
			c.session.Fault()
			return err
		}
		c.mu.Lock()
		c.advanceLocked(curSeg, nextSeg, tick)
		c.mu.Unlock()
	}

	return pumpErr
}

func (c *Channel) emitPad(tick int64) {
	ctMs := c.grid.ContentTimeMillis(tick)
	durationMicros := c.grid.TickDurationMicros()
	v := c.padProducer.VideoFrame("", ctMs*1000, durationMicros)
	a := c.padProducer.AudioFrame("", ctMs*1000, durationMicros)
	nowNanos := c.grid.Deadline(tick)
	c.sinkRouter.RouteVideo(v, false, true, true, nowNanos)
	c.sinkRouter.RouteAudio(a, true, true)
}

// tickLogger scopes c.log with the session, segment, and tick fields
// (SPEC_FULL.md §1) so every log line the tick loop emits is correlated on
// all three.
func (c *Channel) tickLogger(tick int64, seg *segment.Segment) *slog.Logger {
	segID, blockID := "", ""
	if seg != nil {
		segID, blockID = seg.ID, seg.BlockID
	}
	l := logger.WithSession(c.log, c.cfg.SessionID, c.cfg.ChannelID)
	l = logger.WithSegment(l, segID, blockID)
	return logger.WithTick(l, tick)
}

func (c *Channel) pumpSegment(ctx context.Context, seg *segment.Segment, tick int64) error {
	c.mu.Lock()
	rt, err := c.ensureRuntimeLocked(seg)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	log := c.tickLogger(tick, seg)
	res, err := rt.pump.PumpOnce(ctx, producer.ModeNormal, tick)
	if err != nil {
		log.Error("producer pump failed", "error", err)
		return err
	}
	if res == producer.Backpressured {
		log.Debug("producer backpressured")
	}
	return nil
}

func (c *Channel) ensureRuntimeLocked(seg *segment.Segment) (*segRuntime, error) {
	if rt, ok := c.runtimes[seg.ID]; ok {
		return rt, nil
	}
	src, err := c.opener(seg.AssetURI, seg.AssetStartOffsetMs)
	if err != nil {
		return nil, errors.NewOpenError("channel.open_source", err)
	}
	rt := &segRuntime{
		videoRing: ring.New[frame.Video](c.cfg.RingCapacity),
		audioRing: ring.New[frame.Audio](c.cfg.RingCapacity),
		src:       src,
	}
	rt.pump = producer.New(src, rt.videoRing, rt.audioRing, seg.ID)
	c.runtimes[seg.ID] = rt
	c.ensurePrimedLocked(seg)
	return rt, nil
}

// ensurePrimedLocked transitions seg out of Proposed so a later
// swap.Commit (which requires Primed or already-Authoritative) can
// succeed. Safe to call on a segment more than once or on a pad segment,
// which never gets a producer runtime but still needs to be Primed before
// it can take authority.
func (c *Channel) ensurePrimedLocked(seg *segment.Segment) {
	if seg == nil || seg.State() != segment.StateProposed {
		return
	}
	seg.MarkPrimed()
	if c.spool != nil {
		_, _ = c.spool.Append(evidence.NewRecord(c.cfg.SessionID, c.cfg.ChannelID, evidence.EventSegmentPrimed).
			With("segment_id", seg.ID), 0)
	}
}

func (c *Channel) decide(tick int64, curSeg, nextSeg *segment.Segment) (swap.Decision, error) {
	curCand := c.candidateFor(curSeg)
	nextCand := c.candidateFor(nextSeg)
	atSeam := curSeg != nil && curSeg.SeamTick != 0 && tick >= curSeg.SeamTick

	var ticksSinceAuthority int64
	if curSeg != nil {
		ticksSinceAuthority = tick - curSeg.AuthorityStartTick
	}
	houseRate := c.grid.Rate()

	req := swap.Request{
		Tick:                tick,
		Current:             curCand,
		Next:                nextCand,
		AtSeam:              atSeam,
		LastFrameAvailable:  c.haveLast,
		TicksSinceAuthority: ticksSinceAuthority,
		HouseFPSNum:         houseRate.Num,
		HouseFPSDen:         houseRate.Den,
	}
	return swap.Decide(req)
}

func (c *Channel) candidateFor(seg *segment.Segment) *swap.Candidate {
	if seg == nil {
		return nil
	}
	if seg.IsPad() {
		return &swap.Candidate{SegmentID: seg.ID, Kind: seg.Kind, State: seg.State(), HasVideoFrame: true, HasAudioFrame: true}
	}
	c.mu.Lock()
	rt := c.runtimes[seg.ID]
	c.mu.Unlock()
	if rt == nil {
		return &swap.Candidate{SegmentID: seg.ID, Kind: seg.Kind, State: seg.State()}
	}
	_, hasV := rt.videoRing.PeekFront()
	_, hasA := rt.audioRing.PeekFront()
	fpsNum, fpsDen := rt.pump.ReportedSourceFPS()
	return &swap.Candidate{
		SegmentID:     seg.ID,
		Kind:          seg.Kind,
		State:         seg.State(),
		HasVideoFrame: hasV,
		HasAudioFrame: hasA,
		SourceFPSNum:  fpsNum,
		SourceFPSDen:  fpsDen,
	}
}

// popFromLocked pops one video and one audio frame from seg's runtime
// rings. ok is false if either ring was unexpectedly empty — a condition
// the caller must treat as a halt, never a silently manufactured
// zero-value frame (spec.md §4.7 Phase 4, §7 InvariantViolation).
func (c *Channel) popFromLocked(seg *segment.Segment) (frame.Video, frame.Audio, bool) {
	rt := c.runtimes[seg.ID]
	if rt == nil {
		return frame.Video{}, frame.Audio{}, false
	}
	v, okV := rt.videoRing.TryPop()
	a, okA := rt.audioRing.TryPop()
	return v, a, okV && okA
}

// materialize pops (or manufactures) the actual frames for dec.Tag,
// stamping every tick-derived frame's PTS/duration from the tick grid
// rather than trusting whatever the producer or a stale cached frame
// happened to carry (spec.md §3/§8's PTS-monotonicity invariant).
func (c *Channel) materialize(tick int64, dec swap.Decision, curSeg, nextSeg *segment.Segment) (frame.Video, frame.Audio, error) {
	ctMicros := c.grid.ContentTimeMillis(tick) * 1000
	durationMicros := c.grid.TickDurationMicros()

	switch dec.Tag {
	case swap.TagHoldLast:
		if dec.Deferred {
			// A seam was reached but Next wasn't ready; Current is still
			// authoritative and has a fresh frame available — pop it
			// rather than repeating a stale cached one, which would
			// duplicate a frame at the seam (spec.md §1).
			c.mu.Lock()
			v, a, ok := c.popFromLocked(curSeg)
			c.mu.Unlock()
			if !ok {
				return frame.Video{}, frame.Audio{}, errors.NewInvariantViolation(
					"INV-CONTINUOUS-FRAME-AUTHORITY", "channel.materialize",
					fmt.Errorf("deferred hold on segment %s found an empty ring after swap reported it ready", curSeg.ID),
				)
			}
			v.PTSMicros, v.DurationMicros = ctMicros, durationMicros
			a.PTSMicros = ctMicros
			return v, a, nil
		}
		// Genuine hold: repeat the previously emitted frame verbatim, only
		// re-stamping its presentation time to this tick's deadline.
		c.mu.Lock()
		v, a := c.lastVideo, c.lastAudio
		c.mu.Unlock()
		v.PTSMicros, v.DurationMicros = ctMicros, durationMicros
		a.PTSMicros = ctMicros
		return v, a, nil

	case swap.TagPadFallback, swap.TagPadSeamOverride:
		// PAD_FALLBACK names the current segment (or none); PAD_SEAM_OVERRIDE
		// names the incoming pad segment that takes authority this tick.
		originID := dec.SourceSegmentID
		v := c.padProducer.VideoFrame(originID, ctMicros, durationMicros)
		a := c.padProducer.AudioFrame(originID, ctMicros, durationMicros)
		return v, a, nil

	default: // TagNormalPop, TagContentSeamOverride, TagForceExecute
		var src *segment.Segment
		if curSeg != nil && dec.SourceSegmentID == curSeg.ID {
			src = curSeg
		} else if nextSeg != nil && dec.SourceSegmentID == nextSeg.ID {
			src = nextSeg
		}
		if src == nil || src.IsPad() {
			v := c.padProducer.VideoFrame("", ctMicros, durationMicros)
			a := c.padProducer.AudioFrame("", ctMicros, durationMicros)
			return v, a, nil
		}
		c.mu.Lock()
		v, a, ok := c.popFromLocked(src)
		c.mu.Unlock()
		if !ok {
			return frame.Video{}, frame.Audio{}, errors.NewInvariantViolation(
				"INV-CONTINUOUS-FRAME-AUTHORITY", "channel.materialize",
				fmt.Errorf("decision %s named segment %s as source but its ring was empty", dec.Tag, src.ID),
			)
		}
		v.PTSMicros, v.DurationMicros = ctMicros, durationMicros
		a.PTSMicros = ctMicros
		return v, a, nil
	}
}

func (c *Channel) currentSegLocked() *segment.Segment {
	if c.activeBlock == nil || c.activeIdx >= len(c.activeBlock.Segments) {
		return nil
	}
	return c.activeBlock.Segments[c.activeIdx]
}

func (c *Channel) nextSegLocked() *segment.Segment {
	if c.activeBlock == nil {
		return nil
	}
	if c.activeIdx+1 < len(c.activeBlock.Segments) {
		return c.activeBlock.Segments[c.activeIdx+1]
	}
	if len(c.pendingBlocks) > 0 {
		nb := c.pendingBlocks[0]
		if len(nb.Segments) > 0 {
			return nb.Segments[0]
		}
	}
	return nil
}

// activateIfNeededLocked activates the first pending block once no block
// is active, computing each segment's seam tick relative to the block's
// activation tick.
func (c *Channel) activateIfNeededLocked(tick int64) {
	if c.activeBlock != nil || len(c.pendingBlocks) == 0 {
		return
	}
	c.activeBlock = c.pendingBlocks[0]
	c.pendingBlocks = c.pendingBlocks[1:]
	c.activeIdx = 0
	c.assignSeamTicksLocked(c.activeBlock, tick)

	// The very first segment of a freshly activated block takes authority
	// outright rather than arriving via swap.Commit, since there is no
	// prior current segment to transfer it from.
	first := c.currentSegLocked()
	c.ensurePrimedLocked(first)
	first.MarkAuthoritative()
	first.AuthorityStartTick = tick
}

// assignSeamTicksLocked derives each segment's seam tick from its
// cumulative position within the block, anchored at activationTick.
func (c *Channel) assignSeamTicksLocked(block *segment.Block, activationTick int64) {
	var cumulativeMs int64
	for i, seg := range block.Segments {
		cumulativeMs += seg.DurationMs
		seg.SeamTick = c.grid.SeamTick(activationTick, cumulativeMs)
		if i == len(block.Segments)-1 {
			seg.NextSeamType = segment.SeamBlock
		} else {
			seg.NextSeamType = segment.SeamSegment
		}
	}
}

// advanceLocked moves the current/next pointers after an authority
// transfer, retiring and releasing the segment that just lost authority.
func (c *Channel) advanceLocked(oldCur, newCur *segment.Segment, tick int64) {
	if oldCur != nil {
		c.retireLocked(oldCur)
	}
	if newCur == nil {
		c.activeBlock = nil
		c.activeIdx = 0
		return
	}
	newCur.AuthorityStartTick = tick
	if c.activeBlock != nil && newCur.BlockID == c.activeBlock.ID {
		c.activeIdx++
		return
	}
	// Cross-block continuation: the next segment belongs to the block at
	// the head of the pending queue.
	if len(c.pendingBlocks) > 0 && c.pendingBlocks[0].ID == newCur.BlockID {
		c.activeBlock = c.pendingBlocks[0]
		c.pendingBlocks = c.pendingBlocks[1:]
		c.activeIdx = 0
		c.assignSeamTicksLocked(c.activeBlock, tick)
	}
}

func (c *Channel) retireLocked(seg *segment.Segment) {
	seg.Retire()
	if rt, ok := c.runtimes[seg.ID]; ok {
		rt.videoRing.Drain()
		rt.audioRing.Drain()
		if rt.src != nil {
			if err := rt.src.Close(); err != nil {
				c.log.Warn("source close failed", "segment_id", seg.ID, "error", err)
			}
		}
		delete(c.runtimes, seg.ID)
	}
	c.padProducer.ResetRemainder(seg.ID)
	if c.spool != nil {
		_, _ = c.spool.Append(evidence.NewRecord(c.cfg.SessionID, c.cfg.ChannelID, evidence.EventSegmentRetired).
			With("segment_id", seg.ID), 0)
	}
}
