// Package runtime drives the engine's two event sources, the frame
// tick and replicated snapshot deliveries, on a single goroutine, so
// no registry or driver bookkeeping ever needs a lock.
package runtime

import (
	"context"
	"time"

	"stagelink/engine/internal/channel"
	"stagelink/engine/logging"
	logsim "stagelink/engine/logging/simulation"
)

// LoopConfig tunes the fixed-timestep loop.
type LoopConfig struct {
	// TickRate in ticks per second. Defaults to 20.
	TickRate int
	// CatchupMaxTicks caps the clamped delta after a stall, in ticks.
	CatchupMaxTicks int
}

func (c LoopConfig) normalized() LoopConfig {
	if c.TickRate <= 0 {
		c.TickRate = 20
	}
	if c.CatchupMaxTicks <= 0 {
		c.CatchupMaxTicks = 4
	}
	return c
}

// Loop owns the tick schedule. Handlers registered with OnFrame run
// every tick, after any queued snapshot deliveries have been pumped.
type Loop struct {
	cfg     LoopConfig
	clock   logging.Clock
	pumpers []channel.Pumper
	frames  []*frameHandler
	tick    uint64
	pub     logging.Publisher
}

type frameHandler struct {
	fn func(dt float64)
}

// NewLoop constructs a loop. A nil clock reads the system clock.
func NewLoop(cfg LoopConfig, clock logging.Clock, pub logging.Publisher) *Loop {
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Loop{cfg: cfg.normalized(), clock: clock, pub: pub}
}

// AddPumper registers a channel endpoint whose queued deliveries are
// drained at the start of every tick.
func (l *Loop) AddPumper(p channel.Pumper) {
	if p != nil {
		l.pumpers = append(l.pumpers, p)
	}
}

// OnFrame registers a per-tick handler. The returned unsubscribe is
// re-entrancy safe.
func (l *Loop) OnFrame(fn func(dt float64)) (unsubscribe func()) {
	handler := &frameHandler{fn: fn}
	l.frames = append(l.frames, handler)
	return func() { handler.fn = nil }
}

// Tick reports the current tick number.
func (l *Loop) Tick() uint64 { return l.tick }

// Step executes a single tick with the given delta. Exposed so tests
// and the demo can advance time deterministically.
func (l *Loop) Step(dt float64) {
	l.tick++
	for _, p := range l.pumpers {
		p.Pump()
	}
	live := l.frames[:0]
	for _, handler := range l.frames {
		if handler.fn != nil {
			live = append(live, handler)
		}
	}
	l.frames = live
	for _, handler := range append([]*frameHandler(nil), live...) {
		if handler.fn != nil {
			handler.fn(dt)
		}
	}
}

// Run drives the fixed-timestep loop until the stop channel closes.
// Deltas are clamped to the catch-up cap so a stalled host lurches at
// most a few ticks forward instead of teleporting entities.
func (l *Loop) Run(stop <-chan struct{}) {
	tickRate := l.cfg.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	budget := 1.0 / float64(tickRate)
	maxDt := budget * float64(l.cfg.CatchupMaxTicks)
	budgetDuration := time.Second / time.Duration(tickRate)

	last := l.clock.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := l.clock.Now()
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = budget
			} else if dt > maxDt {
				dt = maxDt
			}
			last = now

			start := l.clock.Now()
			l.Step(dt)
			duration := l.clock.Now().Sub(start)
			if duration > budgetDuration {
				logsim.TickBudgetOverrun(context.Background(), l.pub, l.tick,
					logsim.TickBudgetOverrunPayload{
						DurationMillis: duration.Milliseconds(),
						BudgetMillis:   budgetDuration.Milliseconds(),
					})
			}
		}
	}
}
