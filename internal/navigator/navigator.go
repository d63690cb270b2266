// Package navigator implements the waypoint-following state machine (spec
// §4.5, C5) — the core control algorithm of the rover. It consumes the
// latest position sample from C3 and the current target from C4, and emits
// a normalized drive command once per supervisor tick.
//
// Grounded on the teacher's internal/rtk.Processor for the "accumulate
// samples, decide, transition, log the decision" shape, generalized from a
// single RTK-quality check into the full CALIBRATING → ALIGNING → DRIVING →
// REACHED cycle spec §4.5 requires.
package navigator

import (
	"math"
	"sync"
	"time"

	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/position"
	"github.com/bramburn/rovernav/internal/waypoint"
)

// staleMaxAge is the fixed staleness bound preflight check 3 uses (spec
// §4.5.1); independent of whatever max_age a caller passes store.IsStale
// elsewhere.
const staleMaxAge = 2 * time.Second

// PositionSource is the subset of position.Store the navigator depends on.
type PositionSource interface {
	Latest() (position.Sample, bool)
	IsStale(maxAge time.Duration) bool
}

// TargetSource is the subset of waypoint.Queue the navigator depends on.
type TargetSource interface {
	Add(wp waypoint.Waypoint)
	SetPath(wps []waypoint.Waypoint, loopMode bool)
	Peek() (waypoint.Waypoint, bool)
	Advance() bool
	Clear()
	SetLoop(enabled bool)
	LoopMode() bool
	LoopCount() int
	Remaining() int
}

// Navigator is the C5 state machine. All methods are safe for concurrent
// use; Tick is expected to be called by the supervisor at a fixed cadence
// and never from more than one goroutine at a time.
type Navigator struct {
	mu  sync.Mutex
	log navlog.Logger
	cfg config.Nav

	positions PositionSource
	queue     TargetSource

	pid *PID

	running bool
	paused  bool

	mode Mode

	phase          Phase
	phaseStartedAt time.Time

	calibSamples []float64

	currentHeading float64
	haveHeading    bool

	lastSpeed    float64
	lastDistance float64
	lastBearing  float64

	lastStatus   Status
	lastErrorTag string
	lastError    string
}

// New returns a Navigator wired to the given position source, waypoint
// queue, and tunables.
func New(positions PositionSource, queue TargetSource, cfg config.Nav, log navlog.Logger) *Navigator {
	n := &Navigator{
		log:       log,
		cfg:       cfg,
		positions: positions,
		queue:     queue,
		pid:       NewPID(cfg.DriveCorrectionGain),
		phase:     PhaseIdle,
		mode:      ModeSingle,
		lastStatus: StatusIdle,
	}
	if cfg.LoopMode {
		n.SetLoopMode(true)
	}
	return n
}

// fillDefaultTolerance applies the configured nav.waypoint_tolerance_m
// (spec §6.5) to a waypoint that arrived without one of its own, mirroring
// waypoint.DefaultToleranceM's fallback but sourced from cfg instead of the
// package constant.
func (n *Navigator) fillDefaultTolerance(wp waypoint.Waypoint) waypoint.Waypoint {
	if wp.ToleranceM <= 0 {
		wp.ToleranceM = n.cfg.WaypointToleranceM
	}
	return wp
}

// SetTarget navigates to a single waypoint, replacing any existing queue
// contents, and auto-starts navigation (spec §4.5.8).
func (n *Navigator) SetTarget(wp waypoint.Waypoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = ModeSingle
	n.queue.SetPath([]waypoint.Waypoint{n.fillDefaultTolerance(wp)}, false)
	n.resetForNewTargetLocked()
	n.running = true
	n.paused = false
}

// SetPath replaces the queue with wps and auto-starts navigation (spec
// §4.5.8).
func (n *Navigator) SetPath(wps []waypoint.Waypoint, loopMode bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if loopMode {
		n.mode = ModeLoop
	} else {
		n.mode = ModePath
	}
	filled := make([]waypoint.Waypoint, len(wps))
	for i, wp := range wps {
		filled[i] = n.fillDefaultTolerance(wp)
	}
	n.queue.SetPath(filled, loopMode)
	n.resetForNewTargetLocked()
	n.running = true
	n.paused = false
}

// AddWaypoint appends wp to the queue, optionally auto-starting (spec
// §4.5.8). A navigator whose path is complete (StatusPathComplete) is not
// auto-started; Start resumes it.
func (n *Navigator) AddWaypoint(wp waypoint.Waypoint, autoStart bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mode != ModeLoop {
		n.mode = ModePath
	}
	n.queue.Add(n.fillDefaultTolerance(wp))
	if autoStart && n.lastStatus != StatusPathComplete {
		n.resetForNewTargetLocked()
		n.running = true
		n.paused = false
	}
}

// Start begins (or resumes from a stopped state) navigation toward the
// current target, if any.
func (n *Navigator) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = true
	n.paused = false
}

// Pause suspends ticking; the motor translator will see zero commands
// until Resume (spec §4.5.8).
func (n *Navigator) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = true
	n.lastStatus = StatusPaused
}

// Resume reverses Pause, preserving phase, target, heading, and loop count
// exactly as they stood (spec §8 round-trip property).
func (n *Navigator) Resume() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = false
}

// Stop halts navigation and resets phase to IDLE. It does not remove the
// current target: the waypoint queue, including the entry at its cursor, is
// preserved unless the caller separately calls ClearWaypoints, so GetState
// still reports that entry as Target after Stop.
func (n *Navigator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = false
	n.paused = false
	n.phase = PhaseIdle
	n.lastStatus = StatusIdle
	n.lastError = ""
	n.lastErrorTag = ""
	n.calibSamples = nil
	n.pid.Reset()
}

// ClearWaypoints empties the queue entirely.
func (n *Navigator) ClearWaypoints() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue.Clear()
	n.phase = PhaseIdle
	n.lastStatus = StatusIdle
}

// SetLoopMode toggles the queue's loop behavior.
func (n *Navigator) SetLoopMode(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue.SetLoop(enabled)
	if enabled {
		n.mode = ModeLoop
	} else if n.mode == ModeLoop {
		n.mode = ModePath
	}
}

// GetLoopCount reports the number of completed wraparounds.
func (n *Navigator) GetLoopCount() int {
	return n.queue.LoopCount()
}

// SetMaxSpeed updates nav.max_speed at runtime (spec §6.4 set_speed),
// clamped to [0,1].
func (n *Navigator) SetMaxSpeed(speed float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg.MaxSpeed = clamp(speed, 0, 1)
}

// GetState returns a point-in-time snapshot of the navigator's observable
// state (spec §3).
func (n *Navigator) GetState() State {
	n.mu.Lock()
	defer n.mu.Unlock()

	st := State{
		Phase:              n.phase,
		Mode:               n.mode,
		Status:             n.lastStatus,
		ErrorTag:           n.lastErrorTag,
		ErrorMessage:       n.lastError,
		LastHeadingDeg:     n.currentHeading,
		LastSpeedMPS:       n.lastSpeed,
		DistanceM:          n.lastDistance,
		BearingDeg:         n.lastBearing,
		RemainingWaypoints: n.queue.Remaining(),
		LoopCount:          n.queue.LoopCount(),
	}
	if wp, ok := n.queue.Peek(); ok {
		st.Target = &Target{
			Latitude:   wp.Latitude,
			Longitude:  wp.Longitude,
			Name:       wp.Name,
			ToleranceM: wp.ToleranceM,
		}
	}
	return st
}

func (n *Navigator) resetForNewTargetLocked() {
	n.phase = PhaseIdle
	n.calibSamples = nil
	n.pid.Reset()
	n.lastError = ""
	n.lastErrorTag = ""
}

func (n *Navigator) setErrorLocked(tag, msg string) {
	n.lastStatus = StatusError
	n.lastErrorTag = tag
	n.lastError = msg
}

// Tick runs one full preflight-plus-phase-dispatch cycle and returns the
// drive command to hand to the motor translator (spec §4.5.1–§4.5.5).
func (n *Navigator) Tick() DriveCommand {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	cmd := DriveCommand{GeneratedAt: now}

	// Preflight 1: lifecycle gate.
	if !n.running || n.paused {
		if n.paused {
			n.lastStatus = StatusPaused
		}
		return cmd
	}

	// Preflight 2/3: position availability and freshness.
	sample, ok := n.positions.Latest()
	if !ok {
		n.setErrorLocked("no_position", "no position")
		return cmd
	}
	if n.positions.IsStale(staleMaxAge) {
		n.setErrorLocked("stale_gps", "stale GPS")
		return cmd
	}
	n.lastError = ""
	n.lastErrorTag = ""

	if sample.HasSpeed {
		n.lastSpeed = sample.SpeedMPS
	}
	// A reliable sample keeps current_heading live — ALIGNING/DRIVING react
	// to the rover's actual present course, not a one-time snapshot, so a
	// heading change alone can provoke a realign (spec §8 S3).
	if sample.HasHeading {
		n.currentHeading = sample.HeadingDeg
		n.haveHeading = true
	}

	// Preflight 4: target availability.
	target, hasTarget := n.queue.Peek()
	if !hasTarget {
		n.phase = PhaseIdle
		n.lastStatus = StatusIdle
		return cmd
	}

	// Preflight 5: calibration gate, plus the IDLE→{CALIBRATING,ALIGNING}
	// bootstrap once a target is known. Re-entering CALIBRATING is only
	// for phases other than CALIBRATING itself — once inside it, a tick
	// with no reliable heading just doesn't add a sample, it doesn't
	// restart the phase (spec §8 S6).
	if !sample.HasHeading && n.phase != PhaseCalibrating {
		n.enterCalibratingLocked(now)
	} else if n.phase == PhaseIdle {
		n.enterAligningLocked(now)
	}

	switch n.phase {
	case PhaseCalibrating:
		cmd, enteredAligning := n.tickCalibratingLocked(sample, now)
		if enteredAligning {
			return n.tickAligningLocked(sample, target, now)
		}
		return cmd

	case PhaseAligning:
		return n.tickAligningLocked(sample, target, now)

	case PhaseDriving:
		return n.tickDrivingLocked(sample, target, now)

	case PhaseReached:
		n.reachWaypointLocked(now)
		return cmd

	default:
		return cmd
	}
}

func (n *Navigator) enterCalibratingLocked(now time.Time) {
	navlog.Transition(n.log, "navigator", n.phase.String(), PhaseCalibrating.String())
	n.phase = PhaseCalibrating
	n.phaseStartedAt = now
	n.calibSamples = nil
}

func (n *Navigator) enterAligningLocked(now time.Time) {
	navlog.Transition(n.log, "navigator", n.phase.String(), PhaseAligning.String())
	n.phase = PhaseAligning
	n.phaseStartedAt = now
	n.pid.Reset()
}

func (n *Navigator) enterDrivingLocked(now time.Time) {
	navlog.Transition(n.log, "navigator", n.phase.String(), PhaseDriving.String())
	n.phase = PhaseDriving
	n.phaseStartedAt = now
}

// enterReachedLocked implements spec §4.5.4/§4.5.5's distinct REACHED phase:
// one (0,0) tick reporting StatusReachedWaypoint before reachWaypointLocked
// decides what comes next.
func (n *Navigator) enterReachedLocked(now time.Time) {
	navlog.Transition(n.log, "navigator", n.phase.String(), PhaseReached.String())
	n.phase = PhaseReached
	n.phaseStartedAt = now
	n.lastStatus = StatusReachedWaypoint
}

// tickCalibratingLocked implements spec §4.5.2. The bool return reports
// whether acceptance (or a timeout with partial data) just transitioned
// into ALIGNING, in which case the caller re-runs the tick in the new
// phase, per spec's "transition to ALIGNING (re-run the tick)".
func (n *Navigator) tickCalibratingLocked(sample position.Sample, now time.Time) (DriveCommand, bool) {
	if sample.HasHeading {
		n.calibSamples = append(n.calibSamples, sample.HeadingDeg)
	}

	if len(n.calibSamples) >= 3 && CircularRange(n.calibSamples) < 15 {
		n.currentHeading = CircularMean(n.calibSamples)
		n.haveHeading = true
		n.enterAligningLocked(now)
		return DriveCommand{}, true
	}

	if now.Sub(n.phaseStartedAt) > n.cfg.CalibrationDuration {
		if len(n.calibSamples) > 0 {
			n.currentHeading = n.calibSamples[len(n.calibSamples)-1]
			n.haveHeading = true
			navlog.Degraded(n.log, "navigator", "calibration timed out, accepting last sample")
			n.enterAligningLocked(now)
			return DriveCommand{}, true
		}
		navlog.Degraded(n.log, "navigator", "calibration timed out with no samples, driving at reduced speed")
		n.enterDrivingLocked(now)
		n.lastStatus = StatusNavigating
		return DriveCommand{Speed: 0.5, Turn: 0, GeneratedAt: now}, false
	}

	n.lastStatus = StatusNavigating
	return DriveCommand{Speed: 0.5, Turn: 0, GeneratedAt: now}, false
}

// tickAligningLocked implements spec §4.5.3.
func (n *Navigator) tickAligningLocked(sample position.Sample, target waypoint.Waypoint, now time.Time) DriveCommand {
	bearing := InitialBearing(sample.Latitude, sample.Longitude, target.Latitude, target.Longitude)
	errDeg := NormalizeSigned(bearing - n.currentHeading)
	n.lastBearing = bearing

	if math.Abs(errDeg) < n.cfg.AlignToleranceDeg {
		n.pid.Reset()
		n.enterDrivingLocked(now)
		n.lastStatus = StatusNavigating
		return DriveCommand{Speed: n.cfg.MaxSpeed, Turn: 0, GeneratedAt: now}
	}

	if now.Sub(n.phaseStartedAt) > n.cfg.AlignTimeout {
		navlog.Degraded(n.log, "navigator", "align timed out, driving at reduced speed")
		n.enterDrivingLocked(now)
		n.lastStatus = StatusNavigating
		return DriveCommand{Speed: 0.5, Turn: 0, GeneratedAt: now}
	}

	turnMag := math.Min(math.Abs(errDeg)/90, 1) * n.cfg.AlignSpeed
	turn := math.Copysign(turnMag, errDeg)
	n.lastStatus = StatusNavigating
	return DriveCommand{Speed: 0, Turn: turn, GeneratedAt: now}
}

// driveCorrectionClamp bounds the proportional heading correction applied
// while DRIVING (spec §4.5.4: "clamp(err·0.02, −0.2, 0.2)").
const driveCorrectionClamp = 0.2

// tickDrivingLocked implements spec §4.5.4.
func (n *Navigator) tickDrivingLocked(sample position.Sample, target waypoint.Waypoint, now time.Time) DriveCommand {
	distance := Haversine(sample.Latitude, sample.Longitude, target.Latitude, target.Longitude)
	n.lastDistance = distance

	tolerance := target.ToleranceM
	if tolerance <= 0 {
		tolerance = n.cfg.WaypointToleranceM
	}

	if distance <= tolerance {
		n.enterReachedLocked(now)
		return DriveCommand{Speed: 0, Turn: 0, GeneratedAt: now}
	}

	if !sample.HasHeading {
		navlog.Degraded(n.log, "navigator", "heading unknown while driving, falling back to straight crawl")
		n.lastStatus = StatusNavigating
		return DriveCommand{Speed: 0.5, Turn: 0, GeneratedAt: now}
	}

	bearing := InitialBearing(sample.Latitude, sample.Longitude, target.Latitude, target.Longitude)
	errDeg := NormalizeSigned(bearing - n.currentHeading)
	n.lastBearing = bearing

	if math.Abs(errDeg) > n.cfg.RealignThresholdDeg {
		n.pid.Reset()
		n.enterAligningLocked(now)
		n.lastStatus = StatusNavigating
		return DriveCommand{Speed: 0, Turn: 0, GeneratedAt: now}
	}

	turn := clamp(n.pid.Step(errDeg, now), -driveCorrectionClamp, driveCorrectionClamp)
	n.lastStatus = StatusNavigating
	return DriveCommand{Speed: n.cfg.MaxSpeed, Turn: turn, GeneratedAt: now}
}

// reachWaypointLocked implements spec §4.5.5's "Then:" branch, run on the
// tick after the one that detected arrival and reported REACHED. Completing
// a non-loop path also stops the navigator, so it stays PATH_COMPLETE until
// Start is called.
func (n *Navigator) reachWaypointLocked(now time.Time) {
	if n.mode == ModeSingle {
		n.queue.Clear()
		n.phase = PhaseIdle
		n.lastStatus = StatusIdle
		return
	}

	if ok := n.queue.Advance(); ok {
		n.enterAligningLocked(now)
		n.lastStatus = StatusNavigating
		return
	}

	if n.queue.LoopMode() {
		n.enterAligningLocked(now)
		n.lastStatus = StatusNavigating
		return
	}

	n.phase = PhaseIdle
	n.lastStatus = StatusPathComplete
	n.running = false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
