// Package clock drives the CPU/bus pair forward in lockstep: each CPU
// instruction's cycle count is immediately fed back into the bus so the
// timer and PPU advance by the same number of T-cycles the instruction took.
package clock

import (
	"context"
	"time"

	"github.com/coregb/gbcore/internal/bus"
	"github.com/coregb/gbcore/internal/cpu"
)

// dotsPerFrame is the DMG's fixed per-frame dot count: 154 lines * 456 dots.
const dotsPerFrame = 154 * 456

// Scheduler advances a CPU/Bus pair T-cycle for T-cycle: every instruction
// (or interrupt dispatch) the CPU executes is immediately reflected onto the
// bus, so the timer and PPU never drift out of sync with CPU time.
type Scheduler struct {
	CPU *cpu.CPU
	Bus *bus.Bus
}

// New returns a Scheduler over an existing CPU/Bus pair.
func New(c *cpu.CPU, b *bus.Bus) *Scheduler { return &Scheduler{CPU: c, Bus: b} }

// Step executes exactly one CPU step (one instruction, or one interrupt
// dispatch, or 4 idle cycles while halted or locked) and ticks the bus by the same
// number of cycles. It returns the number of T-cycles consumed.
func (s *Scheduler) Step() int {
	cycles := s.CPU.Step()
	s.Bus.Tick(cycles)
	return cycles
}

// RunCycles runs Step repeatedly until at least n T-cycles have elapsed,
// returning the actual number consumed (never less than n, since a step
// is never split).
func (s *Scheduler) RunCycles(n int) int {
	total := 0
	for total < n {
		total += s.Step()
	}
	return total
}

// RunFrame advances the scheduler through one full 154-line frame's worth of
// dots, without any wall-clock pacing.
func (s *Scheduler) RunFrame() {
	s.RunCycles(dotsPerFrame)
}

// RunFree advances the scheduler through n frames as fast as possible,
// useful for headless benchmarking and test-ROM runners.
func (s *Scheduler) RunFree(frames int) {
	for i := 0; i < frames; i++ {
		s.RunFrame()
	}
}

// RunRealtime advances the scheduler frame by frame, waiting on a ticker of
// period frameInterval (1/60 s when frameInterval <= 0) after each frame,
// until ctx is cancelled.
func (s *Scheduler) RunRealtime(ctx context.Context, frameInterval time.Duration) {
	if frameInterval <= 0 {
		frameInterval = time.Second / 60
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.RunFrame()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
