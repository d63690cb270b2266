package navigator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPIDProportionalOnly(t *testing.T) {
	p := NewPID(0.02)
	out := p.Step(10, time.Now())
	assert.InDelta(t, 0.2, out, 1e-9)
}

func TestPIDIntegralAccumulatesWhenEnabled(t *testing.T) {
	p := NewPID(0)
	p.Ki = 1
	now := time.Now()
	p.Step(1, now)
	out := p.Step(1, now.Add(time.Second))
	assert.Greater(t, out, 0.0, "accumulated integral with a 1s step should produce positive output")
}

func TestPIDResetClearsAccumulatedState(t *testing.T) {
	p := NewPID(0)
	p.Ki = 1
	now := time.Now()
	p.Step(1, now)
	p.Step(1, now.Add(time.Second))
	p.Reset()

	out := p.Step(1, now.Add(2*time.Second))
	assert.Equal(t, 0.0, out, "immediately after Reset, a fresh Step with zero dt should produce zero output")
}
