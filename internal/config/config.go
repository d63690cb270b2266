// Package config holds the rover's configuration surface (spec §6.5).
//
// The HTTP/REST layer, the map UI, the static file server and .env parsing
// are external collaborators and are out of scope here; this package only
// defines and validates the values those collaborators would otherwise load
// before handing them to the core components.
package config

import (
	"fmt"
	"time"
)

// Receiver holds the serial GNSS receiver configuration.
type Receiver struct {
	Port string // serial device identifier, e.g. /dev/ttyUSB0 or COM3
	Baud int
}

// Caster holds the correction caster (NTRIP) session configuration.
type Caster struct {
	Host       string
	Port       int
	Mountpoint string
	User       string
	Pass       string
}

// Nav holds the navigator's tunables.
type Nav struct {
	MaxSpeed             float64
	AlignToleranceDeg     float64
	RealignThresholdDeg   float64
	WaypointToleranceM    float64
	AlignSpeed            float64
	AlignTimeout          time.Duration
	CalibrationDuration   time.Duration
	DriveCorrectionGain   float64
	LoopMode              bool
}

// Motor holds the differential-drive translator's tunables.
type Motor struct {
	RampRate        float64
	TurnSensitivity float64
	SafetyTimeout   time.Duration
}

// Config is the full configuration surface consumed by cmd/rover.
type Config struct {
	Receiver   Receiver
	Caster     Caster
	Nav        Nav
	Motor      Motor
	TickPeriod time.Duration
}

// Default returns the configuration with every default from spec §6.5.
func Default() Config {
	return Config{
		Receiver: Receiver{
			Port: "",
			Baud: 115200,
		},
		Caster: Caster{
			Port: 2101,
		},
		Nav: Nav{
			MaxSpeed:            1.0,
			AlignToleranceDeg:   15,
			RealignThresholdDeg: 30,
			WaypointToleranceM:  0.5,
			AlignSpeed:          0.4,
			AlignTimeout:        10 * time.Second,
			CalibrationDuration: 5 * time.Second,
			DriveCorrectionGain: 0.02,
			LoopMode:            false,
		},
		Motor: Motor{
			RampRate:        0.5,
			TurnSensitivity: 1.0,
			SafetyTimeout:   500 * time.Millisecond,
		},
		TickPeriod: 500 * time.Millisecond,
	}
}

// Validate checks the bounds documented in spec §6.5 and returns the first
// violation found.
func (c Config) Validate() error {
	if c.Receiver.Baud <= 0 {
		return fmt.Errorf("receiver.baud must be positive, got %d", c.Receiver.Baud)
	}
	if c.Nav.MaxSpeed < 0 || c.Nav.MaxSpeed > 1 {
		return fmt.Errorf("nav.max_speed must be in [0,1], got %f", c.Nav.MaxSpeed)
	}
	if c.Nav.AlignToleranceDeg <= 0 {
		return fmt.Errorf("nav.align_tolerance_deg must be positive, got %f", c.Nav.AlignToleranceDeg)
	}
	if c.Nav.RealignThresholdDeg <= c.Nav.AlignToleranceDeg {
		return fmt.Errorf("nav.realign_threshold_deg (%f) must exceed nav.align_tolerance_deg (%f)",
			c.Nav.RealignThresholdDeg, c.Nav.AlignToleranceDeg)
	}
	if c.Nav.WaypointToleranceM <= 0 {
		return fmt.Errorf("nav.waypoint_tolerance_m must be positive, got %f", c.Nav.WaypointToleranceM)
	}
	if c.Nav.AlignSpeed < 0 || c.Nav.AlignSpeed > 1 {
		return fmt.Errorf("nav.align_speed must be in [0,1], got %f", c.Nav.AlignSpeed)
	}
	if c.Nav.AlignTimeout <= 0 {
		return fmt.Errorf("nav.align_timeout_s must be positive")
	}
	if c.Nav.CalibrationDuration <= 0 {
		return fmt.Errorf("nav.calibration_duration_s must be positive")
	}
	if c.Nav.DriveCorrectionGain < 0 {
		return fmt.Errorf("nav.drive_correction_gain must be >= 0")
	}
	if c.Motor.RampRate < 0.01 || c.Motor.RampRate > 1.0 {
		return fmt.Errorf("motor.ramp_rate must be in [0.01,1.0], got %f", c.Motor.RampRate)
	}
	if c.Motor.TurnSensitivity < 0 {
		return fmt.Errorf("motor.turn_sensitivity must be >= 0")
	}
	if c.Motor.SafetyTimeout <= 0 {
		return fmt.Errorf("motor.safety_timeout_s must be positive")
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick.period_ms must be positive")
	}
	return nil
}
