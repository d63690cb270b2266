package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/rovernav/internal/caster"
	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/motor"
	"github.com/bramburn/rovernav/internal/motorsink"
	"github.com/bramburn/rovernav/internal/navigator"
	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/nmea"
	"github.com/bramburn/rovernav/internal/position"
	"github.com/bramburn/rovernav/internal/waypoint"
)

type fakeLink struct {
	state caster.State
}

func (f *fakeLink) State() caster.State            { return f.state }
func (f *fakeLink) Metrics() caster.MetricsSnapshot { return caster.MetricsSnapshot{} }

func newTestSupervisor(t *testing.T) (*Supervisor, *position.Store, *waypoint.Queue, *motorsink.Simulated) {
	t.Helper()
	cfg := config.Default()
	cfg.TickPeriod = 10 * time.Millisecond

	store := position.NewStore()
	queue := waypoint.New()
	nav := navigator.New(store, queue, cfg.Nav, navlog.Nop())
	sink := motorsink.NewSimulated()
	translator := motor.NewTranslator(cfg.Motor, cfg.Nav.MaxSpeed, sink)
	parser := nmea.NewStream(navlog.Nop())
	link := &fakeLink{state: caster.StateStreaming}

	closed := false
	sup := New(cfg, store, queue, nav, translator, link, parser, navlog.Nop(), func() error {
		closed = true
		return nil
	})
	_ = closed
	return sup, store, queue, sink
}

func TestGetPositionReflectsStaleness(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)

	_, ok := sup.GetPosition()
	assert.False(t, ok, "no sample yet")

	store.Put(position.Sample{Position: position.Position{Latitude: 1, ReceivedAt: time.Now()}})
	sample, ok := sup.GetPosition()
	require.True(t, ok)
	assert.Equal(t, 1.0, sample.Latitude)

	store.Put(position.Sample{Position: position.Position{Latitude: 2, ReceivedAt: time.Now().Add(-10 * time.Second)}})
	_, ok = sup.GetPosition()
	assert.False(t, ok, "a stale sample must not be returned as current")
}

func TestAddWaypointStartsNavigationAndReturnsIndex(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	store.Put(position.Sample{
		Position:   position.Position{Latitude: 0, Longitude: 0, ReceivedAt: time.Now()},
		HasHeading: true, HeadingDeg: 90,
	})

	idx := sup.AddWaypoint(waypoint.Waypoint{Latitude: 1, Longitude: 1})
	assert.Equal(t, 0, idx)

	sup.tick()
	assert.NotEqual(t, navigator.StatusIdle, sup.GetNavigationStatus().Status)
}

func TestGotoReplacesQueueAndClearsErrorBudget(t *testing.T) {
	sup, _, queue, _ := newTestSupervisor(t)
	sup.AddWaypoint(waypoint.Waypoint{Latitude: 1, Longitude: 1})
	sup.AddWaypoint(waypoint.Waypoint{Latitude: 2, Longitude: 2})
	sup.mu.Lock()
	sup.consecutiveFailures = 2
	sup.paused = true
	sup.mu.Unlock()

	sup.Goto(waypoint.Waypoint{Latitude: 5, Longitude: 5})

	sup.mu.Lock()
	failures := sup.consecutiveFailures
	sup.mu.Unlock()
	assert.Equal(t, 0, failures)

	assert.Equal(t, 1, queue.Len(), "Goto replaces the queued waypoints with its single target")
	wp, ok := queue.Peek()
	require.True(t, ok)
	assert.Equal(t, 5.0, wp.Latitude)
}

func TestEmergencyStopZeroesMotorAndPausesNavigator(t *testing.T) {
	sup, store, _, sink := newTestSupervisor(t)
	store.Put(position.Sample{
		Position:   position.Position{Latitude: 0, Longitude: 0, ReceivedAt: time.Now()},
		HasHeading: true, HeadingDeg: 90,
	})
	sup.AddWaypoint(waypoint.Waypoint{Latitude: 1, Longitude: 1})
	sup.tick()

	sup.EmergencyStop()
	assert.True(t, sink.Stopped)
	assert.Equal(t, navigator.StatusPaused, sup.GetNavigationStatus().Status)
}

func TestClearEmergencyDisarmsLatchAndResumesNavigator(t *testing.T) {
	sup, store, _, sink := newTestSupervisor(t)
	store.Put(position.Sample{
		Position:   position.Position{Latitude: 0, Longitude: 0, ReceivedAt: time.Now()},
		HasHeading: true, HeadingDeg: 90,
	})
	sup.AddWaypoint(waypoint.Waypoint{Latitude: 1, Longitude: 1})
	sup.tick()
	sup.EmergencyStop()
	require.True(t, sink.Stopped)

	sup.ClearEmergency()
	assert.False(t, sink.Stopped)

	sup.tick()
	assert.False(t, sink.Stopped, "a tick after clearing must be able to drive again")
	assert.NotEqual(t, navigator.StatusPaused, sup.GetNavigationStatus().Status)
}

func TestStaleOrMissingPositionDoesNotPauseNavigator(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	// A waypoint starts the navigator but no position is in the store: every
	// tick's navigator.Tick() reports ERROR("no_position"), which spec §7
	// says must auto-resume rather than trip the three-strike budget.
	sup.AddWaypoint(waypoint.Waypoint{Latitude: 1, Longitude: 1})
	for i := 0; i < 5; i++ {
		sup.tick()
	}

	assert.Equal(t, navigator.StatusError, sup.GetNavigationStatus().Status)
	assert.Equal(t, 0, sup.GetSystemStatus().ErrorBudget)
}

func TestResumedPositionReturnsToNavigatingWithoutLosingTarget(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	// A target is queued, a few ticks of no position follow, then a fresh
	// sample arrives.
	sup.AddWaypoint(waypoint.Waypoint{Latitude: 1, Longitude: 1})
	sup.tick()
	sup.tick()

	store.Put(position.Sample{
		Position:   position.Position{Latitude: 0, Longitude: 0, ReceivedAt: time.Now()},
		HasHeading: true, HeadingDeg: 90,
	})
	sup.tick()

	st := sup.GetNavigationStatus()
	assert.NotEqual(t, navigator.StatusPaused, st.Status)
	require.NotNil(t, st.Target, "the target queued before the no-position ticks is kept")
	assert.Equal(t, 1.0, st.Target.Latitude)
}

func TestThreeGenuineFailuresPauseNavigator(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	// noteFailure is what a tick panic (not a recoverable input error)
	// drives; exercised directly here since panicking the real navigator
	// isn't otherwise reachable through the public API.
	sup.noteFailure()
	sup.noteFailure()
	sup.noteFailure()

	assert.Equal(t, navigator.StatusPaused, sup.GetNavigationStatus().Status)
}

func TestSetSpeedUpdatesNavigatorAndTranslator(t *testing.T) {
	sup, store, _, sink := newTestSupervisor(t)
	// No direct getter is exposed; the cap is observed through the wheel
	// command of a tick driving due east with the heading already aligned.
	store.Put(position.Sample{
		Position:   position.Position{Latitude: 0, Longitude: 0, ReceivedAt: time.Now()},
		HasHeading: true, HeadingDeg: 90,
	})
	sup.Goto(waypoint.Waypoint{Latitude: 0, Longitude: 0.001})

	sup.SetSpeed(0.3)
	sup.tick()
	assert.InDelta(t, 0.3, sink.Left, 1e-9, "the navigator emits the new cap as its forward speed")

	sup.SetSpeed(5)
	sup.SetSpeed(-5)
	sup.tick()
	assert.InDelta(t, 0.0, sink.Left, 1e-9, "a negative cap clamps to zero")
}

func TestShutdownIsIdempotent(t *testing.T) {
	calls := 0
	cfg := config.Default()
	store := position.NewStore()
	queue := waypoint.New()
	nav := navigator.New(store, queue, cfg.Nav, navlog.Nop())
	sink := motorsink.NewSimulated()
	translator := motor.NewTranslator(cfg.Motor, cfg.Nav.MaxSpeed, sink)
	parser := nmea.NewStream(navlog.Nop())

	sup := New(cfg, store, queue, nav, translator, &fakeLink{}, parser, navlog.Nop(), func() error {
		calls++
		return nil
	})

	require.NoError(t, sup.Shutdown())
	require.NoError(t, sup.Shutdown())
	assert.Equal(t, 1, calls, "closers must run exactly once")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return after context cancellation")
	}
}
