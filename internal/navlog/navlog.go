// Package navlog wraps logrus.FieldLogger with the logging conventions
// shared by the rover's core components: phase transitions and link state
// changes at Info, degraded-input fallbacks at Warn, irrecoverable
// conditions at Error. Grounded on the NewXxx(..., logger logrus.FieldLogger)
// constructor idiom used throughout bramburn/gnssgo's pkg/caster and
// pkg/server.
package navlog

import "github.com/sirupsen/logrus"

// Logger is the shared logging contract passed into every core component.
type Logger = logrus.FieldLogger

// Nop returns a logger that discards everything, for tests and callers that
// don't care about log output.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Transition logs a phase or link-state transition at Info with structured
// fields, the way phase/status changes should be visible without needing
// Debug verbosity.
func Transition(log Logger, component, from, to string) {
	log.WithFields(logrus.Fields{
		"component": component,
		"from":      from,
		"to":        to,
	}).Info("transition")
}

// Degraded logs a degraded-input fallback (missing heading, calibration
// timeout, stale GPS, ...) at Warn.
func Degraded(log Logger, component, reason string) {
	log.WithFields(logrus.Fields{
		"component": component,
		"reason":    reason,
	}).Warn("degraded")
}
