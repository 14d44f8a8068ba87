// Package clock provides the single source of "now" for a playout session.
// No other subsystem may invent time or derive it from buffer counts,
// decoder state, or viewer activity (spec.md §4.1).
package clock

import (
	"sync"
	"time"
)

// Clock is the interface every subsystem uses to read time and to sleep
// until a deadline. A test-mode implementation satisfies the same
// interface and advances only on explicit instruction, which is what makes
// INV-TIME-MODE-EQUIVALENCE (spec.md §5) checkable.
type Clock interface {
	NowUTCMicros() int64
	NowMonoNanos() int64
	SleepUntil(monoNanos int64)
	SetSessionEpoch(utcMicros, monoNanos int64) error
	SessionEpoch() (utcMicros, monoNanos int64, ok bool)
}

// Real is the production Clock backed by the OS clock. The epoch is fixed
// once per session; any later attempt to rewrite it is a fatal programming
// error (spec.md INV in §4.1).
type Real struct {
	mu          sync.Mutex
	epochUTC    int64
	epochMono   int64
	epochSet    bool
	monoOrigin  time.Time
	monoOriginI int64 // a nanosecond reading taken alongside monoOrigin
}

// NewReal creates a Real clock. The monotonic origin is captured immediately
// so NowMonoNanos() is always relative to this NewReal call, independent of
// whether a session epoch has been set yet.
func NewReal() *Real {
	return &Real{monoOrigin: time.Now(), monoOriginI: 0}
}

func (c *Real) NowUTCMicros() int64 {
	return time.Now().UnixMicro()
}

func (c *Real) NowMonoNanos() int64 {
	return c.monoOriginI + int64(time.Since(c.monoOrigin))
}

func (c *Real) SleepUntil(monoNanos int64) {
	delta := monoNanos - c.NowMonoNanos()
	if delta <= 0 {
		return
	}
	time.Sleep(time.Duration(delta))
}

// SetSessionEpoch fixes the session epoch exactly once. A second call
// panics: the epoch pair is immutable after session start by contract, and
// any caller attempting to rewrite it has a bug that must not be silently
// tolerated (spec.md §4.1 calls this a "fatal programming error").
func (c *Real) SetSessionEpoch(utcMicros, monoNanos int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochSet {
		panic("clock: session epoch already set; it is immutable after session start")
	}
	c.epochUTC = utcMicros
	c.epochMono = monoNanos
	c.epochSet = true
	return nil
}

func (c *Real) SessionEpoch() (utcMicros, monoNanos int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochUTC, c.epochMono, c.epochSet
}
