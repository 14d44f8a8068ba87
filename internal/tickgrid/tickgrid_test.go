package tickgrid

import (
	"testing"

	"github.com/alxayo/playout-engine/internal/rational"
)

func TestDeadlineSpacingNTSC(t *testing.T) {
	rate, _ := rational.NewRate(30000, 1001)
	g := New(rate, 0, 0)
	for n := int64(0); n < 1000; n++ {
		d0 := g.Deadline(n)
		d1 := g.Deadline(n + 1)
		delta := d1 - d0
		nominal := rational.TicksToNanos(1, rate)
		if delta < nominal-1 || delta > nominal+1 {
			t.Fatalf("tick %d: deadline spacing %d ns too far from nominal %d", n, delta, nominal)
		}
	}
}

func TestDeadlineNeverShiftsWithPriorLateness(t *testing.T) {
	rate, _ := rational.NewRate(25, 1)
	g := New(rate, 1_000_000, 0)
	// Deadline(N) must depend only on N and the epoch, never on any prior
	// wake-up time.
	d100a := g.Deadline(100)
	d100b := g.Deadline(100)
	if d100a != d100b {
		t.Fatalf("deadline for the same tick differs across calls: %d vs %d", d100a, d100b)
	}
}

func TestContentTimeMillisMonotonicNonDecreasing(t *testing.T) {
	rate, _ := rational.NewRate(30000, 1001)
	g := New(rate, 0, 0)
	prev := int64(-1)
	for n := int64(0); n < 5000; n++ {
		ct := g.ContentTimeMillis(n)
		if ct < prev {
			t.Fatalf("content time decreased at tick %d", n)
		}
		prev = ct
	}
}

func TestFenceTickCoversBlockDuration(t *testing.T) {
	rate, _ := rational.NewRate(30000, 1001)
	g := New(rate, 0, 0)
	fence := g.FenceTick(10000)
	ct := g.ContentTimeMillis(fence)
	if ct < 10000 {
		t.Fatalf("fence tick %d has content time %d < block end 10000", fence, ct)
	}
	// The tick immediately before the fence must not yet have reached the
	// block end (fence is the ceiling, i.e. the first tick at or past end).
	if fence > 0 {
		ctPrev := g.ContentTimeMillis(fence - 1)
		if ctPrev >= 10000 {
			t.Fatalf("fence tick %d is not minimal: tick %d already at content time %d", fence, fence-1, ctPrev)
		}
	}
}

func TestSeamTickComposesWithBlockActivation(t *testing.T) {
	rate, _ := rational.NewRate(30, 1)
	g := New(rate, 0, 0)
	blockActivation := int64(150) // 5s into the session at 30fps
	seam := g.SeamTick(blockActivation, 5000)
	ct := g.ContentTimeMillis(seam)
	if ct < 10000 {
		t.Fatalf("seam tick %d should land at or after 10s content time, got %d", seam, ct)
	}
}

func TestTwoSegmentScenarioFrameCount(t *testing.T) {
	// Scenario 1 from spec.md §8: 30000/1001 fps, two 5000ms segments.
	rate, _ := rational.NewRate(30000, 1001)
	g := New(rate, 0, 0)
	fence := g.FenceTick(10000)
	expected := rational.RoundRational(10000*30000, 1001*1000, rational.RoundUp)
	if fence != expected {
		t.Fatalf("fence = %d, want %d", fence, expected)
	}
}
