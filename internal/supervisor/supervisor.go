// Package supervisor implements the rover supervisor (spec §4.7, C7): the
// fixed-cadence tick loop that stitches C1-C6 together, samples health, and
// exposes the §6.4 external API as plain Go methods.
//
// Grounded on the teacher's RTKApp in main_rtk.go for the
// "owns a context per concurrent concern, joined on shutdown" shape
// (serial reader goroutine, NTRIP reader goroutine, status display
// goroutine, signal-driven shutdown), generalized from ad hoc goroutines
// into the named, restartable loops spec §5 requires.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bramburn/rovernav/internal/caster"
	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/motor"
	"github.com/bramburn/rovernav/internal/navigator"
	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/nmea"
	"github.com/bramburn/rovernav/internal/position"
	"github.com/bramburn/rovernav/internal/waypoint"
)

// maxConsecutiveFailures is spec §4.7's error budget: three consecutive bad
// ticks pause the navigator and require an explicit resume.
const maxConsecutiveFailures = 3

// Position is the narrow slice of position.Store the supervisor ticks against.
type Position interface {
	Latest() (position.Sample, bool)
	IsStale(maxAge time.Duration) bool
	Updates() <-chan struct{}
}

// Link is the narrow slice of caster.Link the supervisor samples for
// system-status reporting.
type Link interface {
	State() caster.State
	Metrics() caster.MetricsSnapshot
}

// SystemStatus is the §6.4 get_system_status response.
type SystemStatus struct {
	RunID          string
	GPSConnected   bool
	NtripConnected bool
	FixQuality     position.FixQuality
	Satellites     int
	HDOP           float64
	Mode           navigator.Mode
	ParserCounters nmea.Counters
	LinkMetrics    caster.MetricsSnapshot
	ErrorBudget    int
}

// Supervisor owns the tick loop and the §6.4 external API (spec §4.7, C7).
// One process-wide instance is expected; New is the sole constructor and
// Shutdown is idempotent (spec §9).
type Supervisor struct {
	runID string
	log   navlog.Logger
	cfg   config.Config

	positions Position
	queue     *waypoint.Queue
	nav       *navigator.Navigator
	translator *motor.Translator
	link      Link
	parser    *nmea.Stream

	mu                 sync.Mutex
	consecutiveFailures int
	paused             bool

	shutdownOnce sync.Once
	closers      []func() error
}

// New wires together the supervisor's collaborators. closers are invoked,
// in order, exactly once by Shutdown (cmd/rover registers the correction
// link's cancel, then the receiver's Close).
func New(cfg config.Config, positions Position, queue *waypoint.Queue, nav *navigator.Navigator,
	translator *motor.Translator, link Link, parser *nmea.Stream, log navlog.Logger, closers ...func() error) *Supervisor {
	return &Supervisor{
		runID:      uuid.NewString(),
		log:        log,
		cfg:        cfg,
		positions:  positions,
		queue:      queue,
		nav:        nav,
		translator: translator,
		link:       link,
		parser:     parser,
		closers:    closers,
	}
}

// Run drives the fixed-cadence tick loop (spec §4.7) until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	period := s.cfg.TickPeriod
	if period <= 0 {
		period = 500 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick implements spec §4.7's four steps, plus the three-strike error
// budget: drain C3's subscription (non-blocking — the tick itself already
// reads the latest sample, the drain just clears a stale pending
// notification), call navigator.Tick, hand the result to the motor
// translator, and note success/failure for the error budget.
func (s *Supervisor) tick() {
	select {
	case <-s.positions.Updates():
	default:
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("panic", r).Error("supervisor: tick panicked")
				s.noteFailure()
			}
		}()

		cmd := s.nav.Tick()
		s.translator.Step(cmd.Speed, cmd.Turn)
		s.translator.Watch(time.Now())

		state := s.nav.GetState()
		if state.Status == navigator.StatusError && !isRecoverableErrorTag(state.ErrorTag) {
			s.noteFailure()
		} else {
			s.noteSuccess()
		}
	}()
}

// isRecoverableErrorTag reports whether a navigator error is input-driven
// and self-healing (spec §7: stale/absent GPS auto-resumes once fresh
// samples arrive) rather than a genuine failure the three-strike budget
// should react to.
func isRecoverableErrorTag(tag string) bool {
	return tag == "no_position" || tag == "stale_gps"
}

func (s *Supervisor) noteFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= maxConsecutiveFailures && !s.paused {
		s.paused = true
		s.nav.Pause()
		navlog.Degraded(s.log, "supervisor", fmt.Sprintf("%d consecutive failed ticks, navigator paused", s.consecutiveFailures))
	}
}

func (s *Supervisor) noteSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
}

// Shutdown closes every registered resource exactly once, in registration
// order, continuing past individual errors so one stuck closer can't block
// the rest. It is idempotent and safe to call from a panic-recovery path.
func (s *Supervisor) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		for _, closer := range s.closers {
			if cerr := closer(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// --- §6.4 external API -------------------------------------------------

// GetPosition returns the latest accepted sample, or ok=false if none has
// ever been accepted or the store is stale.
func (s *Supervisor) GetPosition() (position.Sample, bool) {
	sample, ok := s.positions.Latest()
	if !ok || s.positions.IsStale(position.DefaultMaxAge) {
		return position.Sample{}, false
	}
	return sample, true
}

// GetNavigationStatus returns the navigator's observable state snapshot.
func (s *Supervisor) GetNavigationStatus() navigator.State {
	return s.nav.GetState()
}

// GetSystemStatus composes the §6.4 system-status response.
func (s *Supervisor) GetSystemStatus() SystemStatus {
	sample, haveSample := s.positions.Latest()
	gpsConnected := haveSample && !s.positions.IsStale(position.DefaultMaxAge)

	status := SystemStatus{
		RunID:          s.runID,
		GPSConnected:   gpsConnected,
		Mode:           s.nav.GetState().Mode,
		ParserCounters: s.parser.Counters(),
	}
	if gpsConnected {
		status.FixQuality = sample.FixQuality
		status.Satellites = sample.Satellites
		status.HDOP = sample.HDOP
	}
	if s.link != nil {
		status.NtripConnected = s.link.State() == caster.StateStreaming
		status.LinkMetrics = s.link.Metrics()
	}

	s.mu.Lock()
	status.ErrorBudget = s.consecutiveFailures
	s.mu.Unlock()

	return status
}

// AddWaypoint appends wp to the queue, auto-starting navigation unless the
// previous path has completed (StartNavigation resumes it then), and
// returns its 0-based index.
func (s *Supervisor) AddWaypoint(wp waypoint.Waypoint) int {
	s.nav.AddWaypoint(wp, true)
	return s.queue.Len() - 1
}

// ClearWaypoints empties the queue.
func (s *Supervisor) ClearWaypoints() {
	s.nav.ClearWaypoints()
}

// StartNavigation starts (or resumes, clearing the error budget) the
// navigator over whatever waypoints are already queued.
func (s *Supervisor) StartNavigation() {
	s.clearErrorBudget()
	s.nav.Start()
}

// Goto replaces the queue with a single target and starts navigation.
func (s *Supervisor) Goto(wp waypoint.Waypoint) {
	s.clearErrorBudget()
	s.nav.SetTarget(wp)
}

// Pause pauses the navigator (spec §6.4).
func (s *Supervisor) Pause() {
	s.nav.Pause()
}

// Resume resumes the navigator and clears the error budget, per spec
// §4.7's "resume is explicit".
func (s *Supervisor) Resume() {
	s.clearErrorBudget()
	s.nav.Resume()
}

// Cancel stops navigation, preserving the queue (spec §4.5.8 stop()).
func (s *Supervisor) Cancel() {
	s.nav.Stop()
}

// EmergencyStop preempts any in-flight drive command (spec §4.6).
func (s *Supervisor) EmergencyStop() {
	s.translator.EmergencyStop()
	s.nav.Pause()
}

// ClearEmergency implements spec §4.6's clear_emergency(): it disarms the
// translator's latch and resumes the navigator, clearing the error budget.
// Without this, EmergencyStop has no way back — Step keeps returning (0,0)
// forever once latched.
func (s *Supervisor) ClearEmergency() {
	s.translator.ClearEmergency()
	s.clearErrorBudget()
	s.nav.Resume()
}

// SetSpeed updates nav.max_speed at runtime; clamped to [0,1] per spec §3.
// Both the navigator (which emits max_speed as the forward component of its
// drive command) and the motor translator (which independently re-enforces
// the cap per spec §4.6 step 4) are updated together.
func (s *Supervisor) SetSpeed(speed float64) {
	s.nav.SetMaxSpeed(speed)
	s.translator.SetMaxSpeed(speed)
}

func (s *Supervisor) clearErrorBudget() {
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.paused = false
	s.mu.Unlock()
}
