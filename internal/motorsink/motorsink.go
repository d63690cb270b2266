// Package motorsink implements the abstract motor output contract (spec
// §6.3): apply_wheels(left, right) plus an emergency-stop latch. Spec §9
// asks that motor backends be modeled as a sum-typed abstraction rather
// than an open class hierarchy, so Sink is a narrow interface and Kind is
// a closed enum of the backends this repository ships.
package motorsink

import (
	"fmt"

	"github.com/bramburn/rovernav/internal/navlog"
)

// Sink is the contract the motor translator (C6) drives. The underlying
// implementation is free to translate left/right into PWM, GPIO, or an
// H-bridge signal; both values are always in [-1, 1].
type Sink interface {
	ApplyWheels(left, right float64)
	ApplyEmergencyStop()
	ClearEmergency()
}

// Kind enumerates the motor backends this repository ships (spec §9:
// "motor backends ... modeled as sum-typed abstractions").
type Kind int

const (
	// KindSimulated drives no hardware; it records the last command for
	// tests and dry runs.
	KindSimulated Kind = iota
	// KindLogging wraps another sink and logs every command at Debug,
	// useful for field diagnostics without touching the simulated state.
	KindLogging
)

func (k Kind) String() string {
	switch k {
	case KindSimulated:
		return "simulated"
	case KindLogging:
		return "logging"
	default:
		return "unknown"
	}
}

// New constructs the sink named by kind. KindLogging wraps the simulated
// sink since this repository has no real GPIO backend; a hardware build
// would add a KindGPIO case here without touching callers of Sink.
func New(kind Kind, log navlog.Logger) (Sink, error) {
	switch kind {
	case KindSimulated:
		return NewSimulated(), nil
	case KindLogging:
		return NewLogging(NewSimulated(), log), nil
	default:
		return nil, fmt.Errorf("motorsink: unknown kind %v", kind)
	}
}

// Simulated records the last applied command without driving any hardware.
type Simulated struct {
	Left, Right float64
	Stopped     bool
}

// NewSimulated returns a Simulated sink at rest.
func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) ApplyWheels(left, right float64) {
	if s.Stopped {
		return
	}
	s.Left, s.Right = left, right
}

func (s *Simulated) ApplyEmergencyStop() {
	s.Stopped = true
	s.Left, s.Right = 0, 0
}

// ClearEmergency disarms the stop latch so ApplyWheels takes effect again.
func (s *Simulated) ClearEmergency() {
	s.Stopped = false
}

// Logging wraps another Sink and logs every call at Debug.
type Logging struct {
	inner Sink
	log   navlog.Logger
}

// NewLogging wraps inner, logging through log.
func NewLogging(inner Sink, log navlog.Logger) *Logging {
	return &Logging{inner: inner, log: log}
}

func (l *Logging) ApplyWheels(left, right float64) {
	l.log.WithField("left", left).WithField("right", right).Debug("motorsink: apply_wheels")
	l.inner.ApplyWheels(left, right)
}

func (l *Logging) ApplyEmergencyStop() {
	l.log.Warn("motorsink: apply_emergency_stop")
	l.inner.ApplyEmergencyStop()
}

func (l *Logging) ClearEmergency() {
	l.log.Info("motorsink: clear_emergency")
	l.inner.ClearEmergency()
}
