package ingest

import (
	"sync"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
)

// DefaultIdleThreshold is the quiet period after which pending records
// are flushed.
const DefaultIdleThreshold = 20 * time.Second

// IdleTrigger is the single idle timer shared by all devices.
//
// Every Arm cancels the running timer and starts a new one, so the
// trigger fires only once no reading has arrived for the threshold. Each
// Arm also bumps a generation number that is handed to the fire
// callback; the callback must confirm it is still current (see Disarm)
// before acting. This discards a timer that had already expired when a
// competing Arm cancelled it, so at most one logical timer is live.
//
// The assembler calls Arm and Disarm while holding its own lock, which
// makes rescheduling atomic with respect to the batch swap.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type IdleTrigger struct {
	clock     clock.Clock
	threshold time.Duration
	fire      func(gen uint64)

	mu      sync.Mutex
	timer   *clock.Timer
	gen     uint64
	armed   bool
	stopped bool

	inflight sync.WaitGroup
}

// NewIdleTrigger creates an idle trigger in the Idle state.
//
// Parameters:
//   - clk: Timer facility (clock.Real in production)
//   - threshold: Quiet period; non-positive uses DefaultIdleThreshold
//   - fire: Called on expiry with the generation that armed the timer
func NewIdleTrigger(clk clock.Clock, threshold time.Duration, fire func(gen uint64)) *IdleTrigger {
	if clk == nil {
		clk = clock.Real()
	}
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	return &IdleTrigger{
		clock:     clk,
		threshold: threshold,
		fire:      fire,
	}
}

// Arm cancels any running timer and schedules a new one. No-op after Stop.
func (t *IdleTrigger) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	t.armed = true

	gen := t.gen
	t.timer = t.clock.AfterFunc(t.threshold, func() { t.expire(gen) })
}

// expire runs on the timer goroutine.
func (t *IdleTrigger) expire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.inflight.Add(1)
	t.mu.Unlock()

	defer t.inflight.Done()
	t.fire(gen)
}

// Disarm returns the trigger to Idle if gen is still the current
// generation. It reports false when a later Arm has superseded gen, in
// which case the caller must not flush.
func (t *IdleTrigger) Disarm(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || gen != t.gen || !t.armed {
		return false
	}
	t.armed = false
	t.timer = nil
	return true
}

// Armed reports whether a timer is counting down.
func (t *IdleTrigger) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Threshold returns the configured quiet period.
func (t *IdleTrigger) Threshold() time.Duration {
	return t.threshold
}

// Stop cancels the timer and waits for a fire already in progress to
// return. Later Arm calls are ignored.
func (t *IdleTrigger) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
	t.stopped = true
	t.mu.Unlock()

	t.inflight.Wait()
}
