// Package pipeline drives the per-tick loop (spec.md §4.8): sleep until
// the next deadline, run one cascade/swap step, route the result to the
// sink, advance the tick counter, and observe lateness. Its lifecycle
// shape — Start/Stop, a cooperative stop flag, a WaitGroup the caller can
// wait on — is the same shape as internal/rtmp/server/server.go's
// Start/acceptLoop/Stop, retargeted from "accept TCP connections" to
// "drive ticks".
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/playout-engine/internal/clock"
	"github.com/alxayo/playout-engine/internal/errors"
	"github.com/alxayo/playout-engine/internal/logger"
	"github.com/alxayo/playout-engine/internal/tickgrid"
)

// Stepper performs one tick's worth of work: run the swap cascade, emit
// the chosen frame(s) to the sink, and report any terminal error. It is
// the pipeline's only collaborator, so the loop itself stays free of
// segment/swap/sink specifics and is testable with a fake.
type Stepper interface {
	Step(ctx context.Context, tick int64) error
}

// BootstrapGate reports whether the pipeline has buffered enough content
// to start the tick loop (spec.md's MIN_V/MIN_A pre-feed margins).
type BootstrapGate interface {
	Ready() bool
}

// Config holds the pipeline's tunable knobs.
type Config struct {
	// BootTimeout bounds how long the pipeline waits for BootstrapGate to
	// report ready before it starts anyway with whatever is decodable —
	// the "boot-immediate-decodable-output fallback window" (spec.md
	// §4.8): a channel must produce output even if preroll never reaches
	// the nominal margin, rather than hang indefinitely.
	BootTimeout time.Duration
	// BootPollInterval is how often BootstrapGate.Ready is polled while
	// waiting.
	BootPollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BootTimeout == 0 {
		c.BootTimeout = 5 * time.Second
	}
	if c.BootPollInterval == 0 {
		c.BootPollInterval = 10 * time.Millisecond
	}
}

// Pipeline runs the tick loop against a Clock/Grid and a Stepper.
type Pipeline struct {
	cfg     Config
	clk     clock.Clock
	grid    *tickgrid.Grid
	stepper Stepper
	gate    BootstrapGate
	log     *slog.Logger

	mu          sync.RWMutex
	running     bool
	stopping    bool
	stopCh      chan struct{}
	runningWg   sync.WaitGroup
	currentTick int64

	// lastLatenessNanos is the most recently observed gap between a tick's
	// scheduled deadline and the moment SleepUntil actually returned,
	// exposed for diagnostics (spec.md's lateness observability).
	lastLatenessNanos int64
}

// New creates an unstarted Pipeline.
func New(clk clock.Clock, grid *tickgrid.Grid, stepper Stepper, gate BootstrapGate, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:     cfg,
		clk:     clk,
		grid:    grid,
		stepper: stepper,
		gate:    gate,
		log:     logger.Logger().With("component", "pipeline"),
	}
}

// Start launches the tick loop in a goroutine. Safe to call only once.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.NewValidationError("pipeline.start", fmt.Errorf("pipeline already started"))
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.runningWg.Add(1)
	go p.run(ctx)
	return nil
}

// Stop requests the tick loop to exit and waits for it to do so.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running || p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	close(p.stopCh)
	p.mu.Unlock()

	p.runningWg.Wait()
}

// CurrentTick returns the tick the loop is currently processing (or about
// to process next, if called between ticks).
func (p *Pipeline) CurrentTick() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentTick
}

// LastLateness returns the most recently observed scheduling lateness.
func (p *Pipeline) LastLateness() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.lastLatenessNanos)
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.runningWg.Done()

	if !p.waitForBootstrap(ctx) {
		return
	}

	var tick int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		// The sleep runs in a helper goroutine, as in waitForBootstrap, so a
		// stop or cancel is observed while waiting for the deadline.
		deadline := p.grid.Deadline(tick)
		woke := make(chan struct{})
		go func() {
			p.clk.SleepUntil(deadline)
			close(woke)
		}()
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-woke:
		}
		actual := p.clk.NowMonoNanos()
		lateness := actual - deadline

		p.mu.Lock()
		p.currentTick = tick
		p.lastLatenessNanos = lateness
		p.mu.Unlock()

		if err := p.stepper.Step(ctx, tick); err != nil {
			logger.WithTick(p.log, tick).Error("tick step failed", "error", err)
			if errors.IsInvariantViolation(err) {
				return
			}
		}

		tick++
	}
}

// waitForBootstrap blocks until the gate reports ready or BootTimeout
// elapses, whichever comes first. Returns false if ctx/stop fired while
// waiting. Polling is paced by p.clk rather than the wall clock so a
// clock.Test-driven test controls this wait the same way it controls the
// tick loop itself (spec.md §9's single-time-source rule applies here too).
func (p *Pipeline) waitForBootstrap(ctx context.Context) bool {
	if p.gate == nil {
		return true
	}
	deadline := p.clk.NowMonoNanos() + p.cfg.BootTimeout.Nanoseconds()

	for {
		if p.gate.Ready() {
			return true
		}
		now := p.clk.NowMonoNanos()
		if now >= deadline {
			p.log.Warn("bootstrap timeout reached, starting with whatever is decodable")
			return true
		}
		pollDeadline := now + p.cfg.BootPollInterval.Nanoseconds()
		if pollDeadline > deadline {
			pollDeadline = deadline
		}

		woke := make(chan struct{})
		go func() {
			p.clk.SleepUntil(pollDeadline)
			close(woke)
		}()

		select {
		case <-ctx.Done():
			return false
		case <-p.stopCh:
			return false
		case <-woke:
		}
	}
}
