// Package pad implements the pad (filler) frame producer (spec.md §4.5):
// on demand, it manufactures exactly one black video frame and one silent
// audio frame in the session's house format. It never reads from disk or
// network and never blocks, so it is always able to satisfy a pad-fallback
// request from the swap cascade (spec.md §4.7).
//
// INV-AUDIO-HOUSE-FORMAT: once a Producer is constructed its audio format
// is fixed for the lifetime of the session and never renegotiates, even if
// the segment requesting pad frames belongs to a block with a different
// nominal asset format — pad audio is always house format.
package pad

import "github.com/alxayo/playout-engine/internal/frame"

// Producer manufactures pad video and audio frames in a fixed house format.
type Producer struct {
	format frame.Format

	// sampleRemainder accumulates the fractional part of samples-per-frame
	// so that repeated calls never drift the running sample count away
	// from the true rate, even though each individual call must return an
	// integer sample count (spec.md §4.5).
	sampleRemainder map[string]int64
}

// New constructs a pad Producer locked to format for the session's lifetime.
func New(format frame.Format) *Producer {
	return &Producer{
		format:          format,
		sampleRemainder: make(map[string]int64),
	}
}

// Format returns the house format this producer is locked to.
func (p *Producer) Format() frame.Format { return p.format }

// VideoFrame returns one black video frame in house resolution and pixel
// format, stamped with segmentOriginID and the given presentation time and
// duration.
func (p *Producer) VideoFrame(segmentOriginID string, ptsMicros, durationMicros int64) frame.Video {
	planes := blackPlanes(p.format.PixFormat, p.format.Width, p.format.Height)
	return frame.Video{
		PTSMicros:       ptsMicros,
		DurationMicros:  durationMicros,
		Width:           p.format.Width,
		Height:          p.format.Height,
		Format:          p.format.PixFormat,
		Planes:          planes,
		SegmentOriginID: segmentOriginID,
	}
}

// AudioFrame returns one silent audio frame of durationMicros, stamped with
// segmentOriginID. The exact sample count is computed from the house sample
// rate with a carried fractional remainder keyed by segmentOriginID, so that
// a long run of fixed-duration calls tracks the true rate exactly instead of
// systematically rounding in one direction.
func (p *Producer) AudioFrame(segmentOriginID string, ptsMicros, durationMicros int64) frame.Audio {
	numSamples, rem := p.nextSampleCount(segmentOriginID, durationMicros)
	p.sampleRemainder[segmentOriginID] = rem

	pcm := make([]byte, frame.AudioFrameByteLen(numSamples, p.format.Channels))
	return frame.Audio{
		PTSMicros:       ptsMicros,
		SampleRate:      p.format.SampleRate,
		Channels:        p.format.Channels,
		NumSamples:      numSamples,
		PCM:             pcm,
		SegmentOriginID: segmentOriginID,
	}
}

// ResetRemainder clears the carried fractional-sample accumulator for a
// segment, called when a segment is retired so a later, unrelated pad
// segment never inherits stale drift correction from an earlier one.
func (p *Producer) ResetRemainder(segmentOriginID string) {
	delete(p.sampleRemainder, segmentOriginID)
}

// nextSampleCount computes the integer sample count for one frame of
// durationMicros at the house sample rate, carrying the rounding remainder
// (in units of micros * sampleRate) forward so cumulative drift is zero.
func (p *Producer) nextSampleCount(segmentOriginID string, durationMicros int64) (numSamples int, newRemainder int64) {
	const microsPerSecond = int64(1_000_000)
	prevRemainder := p.sampleRemainder[segmentOriginID]

	numerator := durationMicros*int64(p.format.SampleRate) + prevRemainder
	numSamples = int(numerator / microsPerSecond)
	newRemainder = numerator % microsPerSecond
	return numSamples, newRemainder
}

// blackPlanes allocates zero-filled planar video data for the given pixel
// format and dimensions. For I420, luma (Y) is zero-filled (black) and
// chroma (U, V) planes are filled with 128, the neutral mid-point — an
// all-zero chroma plane would render as an incorrect color tint.
func blackPlanes(format frame.PixelFormat, width, height int) [][]byte {
	switch format {
	case frame.PixelFormatI420:
		ySize := width * height
		cSize := (width / 2) * (height / 2)
		y := make([]byte, ySize)
		u := make([]byte, cSize)
		v := make([]byte, cSize)
		for i := range u {
			u[i] = 128
		}
		for i := range v {
			v[i] = 128
		}
		return [][]byte{y, u, v}
	default:
		return [][]byte{make([]byte, width*height)}
	}
}
