package waypoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddThenPeek(t *testing.T) {
	q := New()
	_, ok := q.Peek()
	assert.False(t, ok)

	q.Add(Waypoint{Latitude: 1, Longitude: 2})
	wp, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 1.0, wp.Latitude)
	assert.Equal(t, DefaultToleranceM, wp.ToleranceM, "a non-positive tolerance must default")
}

func TestAdvanceNonLoopExhausts(t *testing.T) {
	q := New()
	q.SetPath([]Waypoint{{Latitude: 1}, {Latitude: 2}}, false)

	assert.True(t, q.Advance())
	wp, _ := q.Peek()
	assert.Equal(t, 2.0, wp.Latitude)

	assert.False(t, q.Advance(), "advancing past the last entry in non-loop mode ends the path")
	_, ok := q.Peek()
	assert.False(t, ok)
}

func TestAdvanceLoopWrapsAndCountsLoops(t *testing.T) {
	q := New()
	q.SetPath([]Waypoint{{Latitude: 1}, {Latitude: 2}}, true)

	assert.True(t, q.Advance())
	assert.True(t, q.Advance()) // wraps to index 0
	wp, _ := q.Peek()
	assert.Equal(t, 1.0, wp.Latitude)
	assert.Equal(t, 1, q.LoopCount())

	assert.True(t, q.Advance())
	assert.True(t, q.Advance())
	assert.Equal(t, 2, q.LoopCount())
}

func TestSetLoopDisabledMidLoopPreservesCursor(t *testing.T) {
	q := New()
	q.SetPath([]Waypoint{{Latitude: 1}, {Latitude: 2}, {Latitude: 3}}, true)
	q.Advance()
	q.SetLoop(false)

	wp, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 2.0, wp.Latitude, "disabling loop mode mid-cycle must not reset the cursor")
}

func TestClearResetsCursorAndLoopCount(t *testing.T) {
	q := New()
	q.SetPath([]Waypoint{{Latitude: 1}, {Latitude: 2}}, true)
	q.Advance()
	q.Advance()
	require.Equal(t, 1, q.LoopCount())

	q.Clear()
	_, ok := q.Peek()
	assert.False(t, ok)
	assert.Equal(t, 0, q.LoopCount())
	assert.Equal(t, 0, q.Len())
}

func TestRemainingWithinCycle(t *testing.T) {
	q := New()
	q.SetPath([]Waypoint{{Latitude: 1}, {Latitude: 2}, {Latitude: 3}}, false)
	assert.Equal(t, 3, q.Remaining())
	q.Advance()
	assert.Equal(t, 2, q.Remaining())
	q.Advance()
	assert.Equal(t, 1, q.Remaining(), "the cursor on the last entry still counts it")
	q.Advance()
	assert.Equal(t, 0, q.Remaining(), "advancing past the last entry leaves nothing remaining")
}

func TestAddWaypointThenClearThenEmpty(t *testing.T) {
	q := New()
	q.Add(Waypoint{Latitude: 1})
	q.Clear()
	_, ok := q.Peek()
	assert.False(t, ok)
}
