package game

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is a countdown clock for one side. It is owned by the session
// loop: all methods must be called from that single goroutine. The only
// asynchronous part is the armed timer, whose callback posts an event
// back into the loop instead of touching clock state.
type Clock struct {
	clk       clockwork.Clock
	remaining time.Duration
	running   bool
	fired     bool
	startedAt time.Time
	timer     clockwork.Timer
	cancel    chan struct{}
	flag      func()
}

func newClock(clk clockwork.Clock, initial time.Duration, flag func()) *Clock {
	return &Clock{clk: clk, remaining: initial, flag: flag}
}

// Start arms a one-shot timer at now+remaining. Starting a running
// clock is a no-op; starting a fired clock returns ErrAlreadyTerminal.
func (c *Clock) Start() error {
	if c.fired {
		return ErrAlreadyTerminal
	}
	if c.running {
		return nil
	}
	c.running = true
	c.startedAt = c.clk.Now()
	c.arm()
	return nil
}

// Stop disarms the timer and folds the elapsed wall-clock delta into
// the remaining time. It returns the updated remaining time and never
// goes below zero.
func (c *Clock) Stop() time.Duration {
	if !c.running {
		return c.remaining
	}
	c.remaining -= c.clk.Since(c.startedAt)
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.running = false
	c.disarm()
	return c.remaining
}

// AddIncrement credits the per-move increment. Applied after the
// mover's clock stops, before the opponent's starts.
func (c *Clock) AddIncrement(d time.Duration) {
	if c.fired || d <= 0 {
		return
	}
	c.remaining += d
}

// Expire confirms a flag raised by the timer callback. It returns true
// at most once, and only if the clock is still running and its
// recomputed remaining time actually reached zero. A stop that was
// processed ahead of the flag event makes Expire a no-op, which is how
// a move outcome wins over a near-simultaneous flag.
func (c *Clock) Expire() bool {
	if c.fired || !c.running {
		return false
	}
	if c.remaining-c.clk.Since(c.startedAt) > 0 {
		return false
	}
	c.remaining = 0
	c.running = false
	c.fired = true
	c.disarm()
	return true
}

// Remaining reports time left, accounting for elapsed time while
// running.
func (c *Clock) Remaining() time.Duration {
	if !c.running {
		return c.remaining
	}
	left := c.remaining - c.clk.Since(c.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (c *Clock) Running() bool { return c.running }

func (c *Clock) Fired() bool { return c.fired }

func (c *Clock) arm() {
	t := c.clk.NewTimer(c.remaining)
	cancel := make(chan struct{})
	c.timer = t
	c.cancel = cancel
	go func() {
		select {
		case <-t.Chan():
			c.flag()
		case <-cancel:
		}
	}()
}

func (c *Clock) disarm() {
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
	if c.timer != nil {
		stopAndDrainTimer(c.timer)
		c.timer = nil
	}
}

func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
