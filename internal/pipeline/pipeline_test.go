package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/playout-engine/internal/clock"
	"github.com/alxayo/playout-engine/internal/errors"
	"github.com/alxayo/playout-engine/internal/rational"
	"github.com/alxayo/playout-engine/internal/tickgrid"
)

type countingStepper struct {
	mu     sync.Mutex
	ticks  []int64
	err    error
	notify chan int64
}

func (s *countingStepper) Step(ctx context.Context, tick int64) error {
	s.mu.Lock()
	s.ticks = append(s.ticks, tick)
	s.mu.Unlock()
	if s.notify != nil {
		select {
		case s.notify <- tick:
		default:
		}
	}
	return s.err
}

func (s *countingStepper) seen() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.ticks))
	copy(out, s.ticks)
	return out
}

// waitForTickCount blocks until stepper has recorded at least n ticks,
// waking on its notify channel rather than polling on a fixed sleep. The
// time.After is a bounded-wait guard against a genuine test failure
// hanging forever, not a coordination mechanism.
func waitForTickCount(t *testing.T, s *countingStepper, n int) {
	t.Helper()
	for {
		if len(s.seen()) >= n {
			return
		}
		select {
		case <-s.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d ticks, got %d: %v", n, len(s.seen()), s.seen())
		}
	}
}

type alwaysReadyGate struct{}

func (alwaysReadyGate) Ready() bool { return true }

type neverReadyGate struct{}

func (neverReadyGate) Ready() bool { return false }

func newTestGrid() *tickgrid.Grid {
	rate, _ := rational.NewRate(30, 1)
	return tickgrid.New(rate, 0, 0)
}

func TestPipelineRunsTicksInOrder(t *testing.T) {
	tc := clock.NewTest(0)
	grid := newTestGrid()
	stepper := &countingStepper{notify: make(chan int64, 1)}
	p := New(tc, grid, stepper, alwaysReadyGate{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Tick 0's deadline is the epoch itself, so it fires without any
	// Advance; every subsequent tick needs the clock moved forward to that
	// tick's own deadline (deadlines are rounded from the epoch, so a
	// truncated fixed period would fall short of them).
	waitForTickCount(t, stepper, 1)
	for i := 0; i < 4; i++ {
		tc.Advance(grid.Deadline(int64(i+1)) - grid.Deadline(int64(i)))
		waitForTickCount(t, stepper, i+2)
	}

	cancel()
	p.Stop()

	ticks := stepper.seen()
	if len(ticks) < 5 {
		t.Fatalf("expected at least 5 ticks processed, got %d (%v)", len(ticks), ticks)
	}
	for i := range ticks {
		if ticks[i] != int64(i) {
			t.Fatalf("ticks out of order: %v", ticks)
		}
	}
}

func TestPipelineStopIsIdempotentAndWaits(t *testing.T) {
	tc := clock.NewTest(0)
	grid := newTestGrid()
	stepper := &countingStepper{notify: make(chan int64, 1)}
	p := New(tc, grid, stepper, alwaysReadyGate{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForTickCount(t, stepper, 1)
	tc.Advance(int64(time.Second / 30))
	waitForTickCount(t, stepper, 2)

	p.Stop()
	p.Stop() // second call must not panic or block forever
}

func TestPipelineStartTwiceFails(t *testing.T) {
	tc := clock.NewTest(0)
	grid := newTestGrid()
	stepper := &countingStepper{}
	p := New(tc, grid, stepper, alwaysReadyGate{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(ctx); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}

func TestPipelineBootstrapTimeoutStartsAnyway(t *testing.T) {
	tc := clock.NewTest(0)
	grid := newTestGrid()
	stepper := &countingStepper{notify: make(chan int64, 1)}
	p := New(tc, grid, stepper, neverReadyGate{}, Config{
		BootTimeout:      20 * time.Millisecond,
		BootPollInterval: 2 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	// waitForBootstrap anchors its deadline to the clock reading at the
	// moment Start's goroutine actually begins running, which this test
	// cannot observe directly. Keep advancing the clock well past
	// BootTimeout and retrying until a tick lands, bounded by an overall
	// wall-clock guard, rather than guessing a single fixed delay.
	guard := time.Now().Add(2 * time.Second)
	for len(stepper.seen()) == 0 {
		tc.Advance(int64(25 * time.Millisecond))
		select {
		case <-stepper.notify:
		case <-time.After(5 * time.Millisecond):
		}
		if time.Now().After(guard) {
			t.Fatalf("pipeline never processed a tick past bootstrap timeout")
		}
	}
}

func TestPipelineStopsOnInvariantViolation(t *testing.T) {
	tc := clock.NewTest(0)
	grid := newTestGrid()
	stepper := &countingStepper{
		err:    errors.NewInvariantViolation("INV-TEST", "test.step", nil),
		notify: make(chan int64, 1),
	}
	p := New(tc, grid, stepper, alwaysReadyGate{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForTickCount(t, stepper, 1)

	p.Stop()

	ticks := stepper.seen()
	if len(ticks) != 1 {
		t.Fatalf("expected loop to halt after first invariant violation, got %d ticks: %v", len(ticks), ticks)
	}
}
