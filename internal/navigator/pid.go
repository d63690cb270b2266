package navigator

import "time"

// PID is a minimal proportional-integral-derivative controller. Spec §4.5.7
// mandates only the proportional path be active by default (Ki=0, Kd=0);
// the Ki/Kd terms are wired so a caller can enable them without touching
// any call site in the navigator.
type PID struct {
	Kp, Ki, Kd float64

	integral  float64
	prevErr   float64
	prevTime  time.Time
	hasPrev   bool
}

// NewPID returns a PID with the given proportional gain and zeroed
// integral/derivative gains, matching spec's default configuration.
func NewPID(kp float64) *PID {
	return &PID{Kp: kp}
}

// Reset clears accumulated state. Called whenever a phase transition
// touches ALIGNING or a new target is set (spec §4.5.7).
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.hasPrev = false
}

// Step advances the controller with a new error sample and returns the
// control output. dt is derived internally from wall-clock time between
// calls so callers never need to track it themselves.
func (p *PID) Step(errVal float64, now time.Time) float64 {
	dt := 0.0
	if p.hasPrev {
		dt = now.Sub(p.prevTime).Seconds()
	}

	out := p.Kp * errVal

	if dt > 0 {
		if p.Ki != 0 {
			p.integral += errVal * dt
			out += p.Ki * p.integral
		}
		if p.Kd != 0 {
			derivative := (errVal - p.prevErr) / dt
			out += p.Kd * derivative
		}
	}

	p.prevErr = errVal
	p.prevTime = now
	p.hasPrev = true

	return out
}
