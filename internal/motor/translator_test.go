package motor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/motorsink"
)

func testCfg() config.Motor {
	return config.Motor{RampRate: 0.5, TurnSensitivity: 1.0, SafetyTimeout: 500 * time.Millisecond}
}

// Invariant 3: turn direction is preserved under magnitude normalization.
func TestStepPreservesTurnSign(t *testing.T) {
	sink := motorsink.NewSimulated()
	tr := NewTranslator(testCfg(), 1.0, sink)

	left, right := tr.Step(0.8, 0.8)
	assert.LessOrEqual(t, left, right, "a right-turn command must keep right >= left")

	rawLeft := 0.8 - 0.8
	rawRight := 0.8 + 0.8
	assert.Equal(t, sign(rawRight-rawLeft), sign(right-left))
}

func TestStepRampLimitsPerTick(t *testing.T) {
	cfg := testCfg()
	cfg.RampRate = 0.1
	sink := motorsink.NewSimulated()
	tr := NewTranslator(cfg, 1.0, sink)

	left1, _ := tr.Step(1, 0)
	assert.InDelta(t, 0.1, left1, 1e-9, "first tick from rest must not exceed the ramp rate")

	left2, _ := tr.Step(1, 0)
	assert.InDelta(t, 0.2, left2, 1e-9)
}

func TestStepCapsAtMaxSpeed(t *testing.T) {
	cfg := testCfg()
	cfg.RampRate = 1.0
	sink := motorsink.NewSimulated()
	tr := NewTranslator(cfg, 0.5, sink)

	left, right := tr.Step(1, 0)
	assert.LessOrEqual(t, left, 0.5)
	assert.LessOrEqual(t, right, 0.5)
}

func TestEmergencyStopZeroesImmediately(t *testing.T) {
	cfg := testCfg()
	cfg.RampRate = 1.0
	sink := motorsink.NewSimulated()
	tr := NewTranslator(cfg, 1.0, sink)

	tr.Step(0.8, 0)
	require.NotZero(t, sink.Left)

	tr.EmergencyStop()
	left, right := tr.Last()
	assert.Equal(t, 0.0, left)
	assert.Equal(t, 0.0, right)
	assert.True(t, tr.IsEmergency())

	left, right = tr.Step(1, 0)
	assert.Equal(t, 0.0, left, "further commands are ignored while the emergency latch is set")
	assert.Equal(t, 0.0, right)
}

func TestClearEmergencyReenablesCommands(t *testing.T) {
	sink := motorsink.NewSimulated()
	tr := NewTranslator(testCfg(), 1.0, sink)
	tr.EmergencyStop()
	tr.ClearEmergency()

	assert.False(t, tr.IsEmergency())
	left, _ := tr.Step(0.2, 0)
	assert.Greater(t, left, 0.0)
}

func TestWatchdogZerosOnStaleCommand(t *testing.T) {
	cfg := testCfg()
	cfg.SafetyTimeout = 10 * time.Millisecond
	sink := motorsink.NewSimulated()
	tr := NewTranslator(cfg, 1.0, sink)

	tr.Step(0.5, 0)
	tr.Watch(time.Now().Add(20 * time.Millisecond))

	left, right := tr.Last()
	assert.Equal(t, 0.0, left)
	assert.Equal(t, 0.0, right)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
