// Package frame defines the video/audio frame types carried through the
// ring buffers, the producer, and the renderer. A frame is owned
// exclusively by whichever stage currently holds it — decoder -> pending
// queue -> ring buffer -> emission — and is never re-emitted after
// consumption (spec.md §3). The segment-origin stamp is a plain value, not
// a back-pointer to the segment.
package frame

// PixelFormat identifies the planar pixel layout of a Video frame. The
// engine's house format is fixed per session.
type PixelFormat uint8

const (
	PixelFormatI420 PixelFormat = iota
)

// Video is one decoded, rescaled video frame in house resolution and pixel
// format, stamped with the segment that produced it.
type Video struct {
	PTSMicros      int64
	DurationMicros int64
	Width          int
	Height         int
	Format         PixelFormat
	// Planes holds the planar pixel data (e.g. Y, U, V for I420). Ownership
	// transfers with the frame; a consumer must not retain a Planes slice
	// past the tick in which it was emitted unless it copies it.
	Planes          [][]byte
	SegmentOriginID string
}

// Audio is one decoded, resampled audio frame in house sample rate/layout,
// stamped with the segment that produced it.
type Audio struct {
	PTSMicros       int64
	SampleRate      int
	Channels        int
	NumSamples      int
	PCM             []byte // interleaved 16-bit PCM
	SegmentOriginID string
}

// Format is the session's immutable house output format (spec.md §3, §6's
// program format JSON).
type Format struct {
	FPSNum          int64
	FPSDen          int64
	Width           int
	Height          int
	SampleRate      int
	Channels        int
	PixFormat       PixelFormat
}

// BytesPerSample16 is the byte width of one 16-bit PCM sample.
const BytesPerSample16 = 2

// AudioFrameByteLen returns the interleaved PCM byte length for nbSamples
// frames of audio in the given channel count.
func AudioFrameByteLen(nbSamples, channels int) int {
	return nbSamples * channels * BytesPerSample16
}
