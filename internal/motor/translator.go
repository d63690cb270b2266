// Package motor implements the differential-drive command translator
// (spec §4.6, C6): normalized (speed, turn_rate) in, ramp-limited per-side
// wheel commands out, with an emergency-stop latch and a dead-man
// watchdog.
//
// Grounded on the teacher's internal/rtk.Processor for the
// lock-guarded-state-plus-independent-watchdog shape; the ramp/normalize
// math itself has no teacher analogue and is built directly from spec
// §4.6.
package motor

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/motorsink"
)

// Translator converts a drive command into wheel commands, enforcing ramp
// limiting, magnitude normalization, and the safety watchdog of spec §4.6.
type Translator struct {
	cfg      config.Motor
	maxSpeed float64
	sink     motorsink.Sink

	mu            sync.Mutex
	left, right   float64
	lastCommandAt time.Time

	emergency atomic.Bool
}

// NewTranslator returns a Translator driving sink, ramp/turn tunables from
// cfg, and the forward speed cap maxSpeed (spec §6.5 nav.max_speed).
func NewTranslator(cfg config.Motor, maxSpeed float64, sink motorsink.Sink) *Translator {
	return &Translator{
		cfg:           cfg,
		maxSpeed:      maxSpeed,
		sink:          sink,
		lastCommandAt: time.Now(),
	}
}

// Step applies one (speed, turn) drive command and returns the resulting
// (left, right) wheel command actually sent to the sink (spec §4.6 steps
// 1-5). While the emergency latch is set, it returns (0, 0) without
// touching ramp state.
func (t *Translator) Step(speed, turn float64) (left, right float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCommandAt = time.Now()

	if t.emergency.Load() {
		return 0, 0
	}

	leftRaw := speed - turn*t.cfg.TurnSensitivity
	rightRaw := speed + turn*t.cfg.TurnSensitivity

	m := math.Max(math.Max(math.Abs(leftRaw), math.Abs(rightRaw)), 1)
	left = leftRaw / m
	right = rightRaw / m

	left = rampLimit(t.left, left, t.cfg.RampRate)
	right = rampLimit(t.right, right, t.cfg.RampRate)

	left = clamp(left, -1, 1)
	right = clamp(right, -1, 1)
	left = clamp(left, -t.maxSpeed, t.maxSpeed)
	right = clamp(right, -t.maxSpeed, t.maxSpeed)

	t.left, t.right = left, right
	t.sink.ApplyWheels(left, right)
	return left, right
}

// EmergencyStop sets the emergency latch, zeros wheel state, and forwards
// to the sink — all synchronously, so the <100ms latency spec §4.6
// requires is met by construction rather than by a polling race.
func (t *Translator) EmergencyStop() {
	t.emergency.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.left, t.right = 0, 0
	t.sink.ApplyEmergencyStop()
}

// ClearEmergency disarms the latch; the next Step call takes effect again.
func (t *Translator) ClearEmergency() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emergency.Store(false)
	t.sink.ClearEmergency()
	t.lastCommandAt = time.Now()
}

// SetMaxSpeed updates the forward-speed cap at runtime (spec §6.4 set_speed).
func (t *Translator) SetMaxSpeed(speed float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxSpeed = clamp(speed, 0, 1)
}

// IsEmergency reports whether the latch is currently set.
func (t *Translator) IsEmergency() bool {
	return t.emergency.Load()
}

// Last returns the most recently applied wheel command.
func (t *Translator) Last() (left, right float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.left, t.right
}

// Watch implements the dead-man half of the safety watchdog (spec §4.6):
// if no Step call has landed within SafetyTimeout, it forces (0, 0). Run
// it from a dedicated 100ms-cadence context (spec §5).
func (t *Translator) Watch(now time.Time) {
	if t.emergency.Load() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastCommandAt) > t.cfg.SafetyTimeout {
		t.left, t.right = 0, 0
		t.sink.ApplyWheels(0, 0)
	}
}

// RunWatchdog polls Watch every 100ms until done is closed (spec §5: "100
// ms polling tick for the dead-man timeout").
func (t *Translator) RunWatchdog(done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			t.Watch(now)
		}
	}
}

func rampLimit(prev, target, rampRate float64) float64 {
	diff := target - prev
	if diff > rampRate {
		return prev + rampRate
	}
	if diff < -rampRate {
		return prev - rampRate
	}
	return target
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
