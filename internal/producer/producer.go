// Package producer implements the decoder/producer pump (spec.md §4.4): the
// per-segment component that decodes an asset and pushes house-format
// frames into a pair of ring buffers. It never drops a decoded frame; if a
// ring buffer has no free slot it holds the frame and retries on the next
// pump, exactly mirroring internal/rtmp/conn/conn.go's SendMessage
// backpressure contract (bounded queue, no silent drop, caller retries).
package producer

import (
	"context"
	"log/slog"

	"github.com/alxayo/playout-engine/internal/errors"
	"github.com/alxayo/playout-engine/internal/frame"
	"github.com/alxayo/playout-engine/internal/logger"
	"github.com/alxayo/playout-engine/internal/ring"
)

// Mode selects which streams a single pump step advances.
type Mode uint8

const (
	// ModeNormal decodes and offers both video and audio.
	ModeNormal Mode = iota
	// ModeAudioOnly decodes and offers audio only, used once video has run
	// ahead of audio near end-of-segment so audio can catch up.
	ModeAudioOnly
	// ModeEofFlush drains any frames the decoder is still holding after the
	// source has reported end-of-stream, without requesting further reads.
	ModeEofFlush
)

// Result classifies the outcome of one pump_once call.
type Result uint8

const (
	// Progress means at least one frame was decoded and/or at least one
	// held frame was successfully pushed this step.
	Progress Result = iota
	// Backpressured means no progress was possible because a destination
	// ring buffer had no free slot: either a fully-decoded frame could not
	// be pushed, in which case it is retained and retried on the next
	// pump_once call, or the ring was already full and nothing was read.
	// No data was lost.
	Backpressured
	// Eof means the source is exhausted and all held frames have been
	// flushed.
	Eof
	// Error means the decoder encountered an unrecoverable fault.
	Error
)

func (r Result) String() string {
	switch r {
	case Progress:
		return "progress"
	case Backpressured:
		return "backpressured"
	case Eof:
		return "eof"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Source abstracts a decodable asset. A real implementation wraps a
// container/codec decoder; tests use a fake that yields canned frames.
type Source interface {
	// ReadVideo returns the next decoded, house-format video frame, or
	// io.EOF-equivalent via ok=false when the source is exhausted.
	ReadVideo() (v frame.Video, ok bool, err error)
	// ReadAudio returns the next decoded, house-format audio frame.
	ReadAudio() (a frame.Audio, ok bool, err error)
	// SeekPreciseToMs seeks to the given content-time offset, guaranteeing
	// the next decoded frame's presentation time is at or before ms with
	// the decoder pre-rolled so output starts exactly at ms.
	SeekPreciseToMs(ms int64) error
	// SourceFPS reports the asset's nominal frame rate, which for a VFR
	// source may drift from the house rate; it may change between calls
	// as the decoder observes more of the stream.
	SourceFPS() (num, den int64)
	Close() error
}

// Pump drives one Source into a pair of house ring buffers, holding at most
// one not-yet-admitted video frame and one not-yet-admitted audio frame
// between pump_once calls.
type Pump struct {
	src         Source
	videoRing   *ring.Buffer[frame.Video]
	audioRing   *ring.Buffer[frame.Audio]
	segmentID   string
	log         *slog.Logger

	pendingVideo   *frame.Video
	pendingAudio   *frame.Audio
	eofReached     bool

	// fpsHistory supports the 10%-divergence/average-snap rule: a reported
	// source FPS is accepted as a change only once it diverges from the
	// current running average by more than 10%, and the new steady value
	// becomes the average of the accepted samples rather than the single
	// most recent one, to absorb VFR containers that misreport briefly.
	fpsNumAvg float64
	fpsDenAvg float64
	fpsSamples int
	reportedNum, reportedDen int64
}

// New constructs a Pump reading src into videoRing and audioRing, tagging
// every emitted frame with segmentID.
func New(src Source, videoRing *ring.Buffer[frame.Video], audioRing *ring.Buffer[frame.Audio], segmentID string) *Pump {
	return &Pump{
		src:       src,
		videoRing: videoRing,
		audioRing: audioRing,
		segmentID: segmentID,
		log:       logger.WithSegment(logger.Logger().With("component", "producer"), segmentID, ""),
	}
}

// SeekPreciseToMs seeks the underlying source and clears any held frames,
// since they belong to the pre-seek position and must not be admitted.
func (p *Pump) SeekPreciseToMs(ms int64) error {
	if err := p.src.SeekPreciseToMs(ms); err != nil {
		return errors.NewSeekError("producer.seek", err)
	}
	p.pendingVideo = nil
	p.pendingAudio = nil
	p.eofReached = false
	return nil
}

// PumpOnce advances the pump by one step under mode. It never loops
// internally waiting for ring space — a Backpressured result means the
// caller must call again on a later tick, by which point the pipeline's
// consumer side may have freed a slot (spec.md's no-looping-at-EOF guard
// applies symmetrically: a pump never spins decoding ahead of demand).
func (p *Pump) PumpOnce(ctx context.Context, mode Mode, tick int64) (Result, error) {
	log := logger.WithTick(p.log, tick)
	if err := ctx.Err(); err != nil {
		return Error, err
	}

	if mode == ModeEofFlush {
		return p.flushHeld()
	}

	progressed := false

	if p.pendingVideo != nil {
		if p.videoRing.TryPush(*p.pendingVideo) {
			p.pendingVideo = nil
			progressed = true
		} else {
			return Backpressured, nil
		}
	}

	if mode == ModeNormal && p.pendingVideo == nil && !p.eofReached {
		if p.videoRing.HasFreeSlot() {
			v, ok, err := p.src.ReadVideo()
			if err != nil {
				log.Error("video decode failed", "error", err)
				return Error, errors.NewDecodeError("producer.readVideo", err)
			}
			if !ok {
				p.eofReached = true
			} else {
				v.SegmentOriginID = p.segmentID
				p.observeSourceFPS()
				if p.videoRing.TryPush(v) {
					progressed = true
				} else {
					p.pendingVideo = &v
					return Backpressured, nil
				}
			}
		}
	}

	if p.pendingAudio != nil {
		if p.audioRing.TryPush(*p.pendingAudio) {
			p.pendingAudio = nil
			progressed = true
		} else {
			if progressed {
				return Progress, nil
			}
			return Backpressured, nil
		}
	}

	if p.pendingAudio == nil && !p.eofReached {
		if p.audioRing.HasFreeSlot() {
			a, ok, err := p.src.ReadAudio()
			if err != nil {
				log.Error("audio decode failed", "error", err)
				return Error, errors.NewDecodeError("producer.readAudio", err)
			}
			if !ok {
				p.eofReached = true
			} else {
				a.SegmentOriginID = p.segmentID
				if p.audioRing.TryPush(a) {
					progressed = true
				} else {
					p.pendingAudio = &a
					if progressed {
						return Progress, nil
					}
					return Backpressured, nil
				}
			}
		}
	}

	if p.eofReached && p.pendingVideo == nil && p.pendingAudio == nil {
		return Eof, nil
	}
	if progressed {
		return Progress, nil
	}
	return Backpressured, nil
}

// flushHeld pushes any still-held frames without requesting further reads
// from the source, used once the caller has observed end-of-stream and is
// draining the last frames the decoder already produced.
func (p *Pump) flushHeld() (Result, error) {
	progressed := false
	if p.pendingVideo != nil {
		if p.videoRing.TryPush(*p.pendingVideo) {
			p.pendingVideo = nil
			progressed = true
		} else {
			return Backpressured, nil
		}
	}
	if p.pendingAudio != nil {
		if p.audioRing.TryPush(*p.pendingAudio) {
			p.pendingAudio = nil
			progressed = true
		} else {
			return Backpressured, nil
		}
	}
	if p.pendingVideo == nil && p.pendingAudio == nil {
		return Eof, nil
	}
	if progressed {
		return Progress, nil
	}
	return Backpressured, nil
}

// IsEOF reports whether the source has reported exhaustion. A pump never
// re-opens or loops its source once this is true — looping is the
// responsibility of the block plan (a new segment referencing the same
// asset), never the producer itself.
func (p *Pump) IsEOF() bool { return p.eofReached }

// observeSourceFPS applies the 10%-divergence/average-snap rule: the first
// sample seeds the running average outright; subsequent samples update the
// reported FPS only once they diverge from the average by more than 10%,
// and the new reported value becomes the average of all accepted samples.
func (p *Pump) observeSourceFPS() {
	num, den := p.src.SourceFPS()
	if den == 0 {
		return
	}
	sample := float64(num) / float64(den)

	if p.fpsSamples == 0 {
		p.fpsNumAvg = float64(num)
		p.fpsDenAvg = float64(den)
		p.fpsSamples = 1
		p.reportedNum, p.reportedDen = num, den
		return
	}

	currentAvg := p.fpsNumAvg / p.fpsDenAvg
	divergence := (sample - currentAvg) / currentAvg
	if divergence < 0 {
		divergence = -divergence
	}
	if divergence <= 0.10 {
		return
	}

	p.fpsNumAvg += float64(num)
	p.fpsDenAvg += float64(den)
	p.fpsSamples++
	newAvg := p.fpsNumAvg / p.fpsDenAvg
	// Report the snapped average as a simple rational with den=1000000 for
	// stable downstream arithmetic.
	p.reportedNum = int64(newAvg * 1_000_000)
	p.reportedDen = 1_000_000
}

// ReportedSourceFPS returns the current steady-state source FPS as observed
// through the divergence/average-snap filter.
func (p *Pump) ReportedSourceFPS() (num, den int64) {
	if p.fpsSamples == 0 {
		return 0, 0
	}
	return p.reportedNum, p.reportedDen
}
