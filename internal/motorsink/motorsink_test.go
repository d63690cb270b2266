package motorsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/rovernav/internal/navlog"
)

func TestSimulatedAppliesWheelsUntilStopped(t *testing.T) {
	s := NewSimulated()
	s.ApplyWheels(0.3, -0.3)
	assert.Equal(t, 0.3, s.Left)
	assert.Equal(t, -0.3, s.Right)

	s.ApplyEmergencyStop()
	assert.True(t, s.Stopped)
	assert.Equal(t, 0.0, s.Left)
	assert.Equal(t, 0.0, s.Right)

	s.ApplyWheels(0.5, 0.5)
	assert.Equal(t, 0.0, s.Left, "wheels must stay zero while stopped")

	s.ClearEmergency()
	s.ApplyWheels(0.5, 0.5)
	assert.Equal(t, 0.5, s.Left)
}

func TestLoggingDelegatesToInner(t *testing.T) {
	inner := NewSimulated()
	l := NewLogging(inner, navlog.Nop())

	l.ApplyWheels(0.2, 0.4)
	assert.Equal(t, 0.2, inner.Left)
	assert.Equal(t, 0.4, inner.Right)

	l.ApplyEmergencyStop()
	assert.True(t, inner.Stopped)

	l.ClearEmergency()
	assert.False(t, inner.Stopped)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "simulated", KindSimulated.String())
	assert.Equal(t, "logging", KindLogging.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestNewFactory(t *testing.T) {
	sim, err := New(KindSimulated, navlog.Nop())
	require.NoError(t, err)
	_, ok := sim.(*Simulated)
	assert.True(t, ok)

	logging, err := New(KindLogging, navlog.Nop())
	require.NoError(t, err)
	_, ok = logging.(*Logging)
	assert.True(t, ok)

	_, err = New(Kind(99), navlog.Nop())
	assert.Error(t, err)
}
