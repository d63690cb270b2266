package nmea

import (
	"bufio"
	"io"
	"time"

	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/position"
)

// DefaultStaleDuration is STREAM_STALE_MS from spec §4.1.
const DefaultStaleDuration = 1500 * time.Millisecond

// DefaultCoalesceWindow is the 200ms coalescing window from spec §4.1.
const DefaultCoalesceWindow = 200 * time.Millisecond

// minReliableSpeedMPS is spec §4.1's heading-reliability gate.
const minReliableSpeedMPS = 0.5

// Decoder turns raw NMEA lines into position.Sample values, applying
// checksum validation, fix-quality mapping, and the heading-reliability and
// coalescing rules of spec §4.1. It holds no I/O state — Stream drives it.
type Decoder struct {
	log      navlog.Logger
	Counters Counters

	pendingGGA   *ggaFix
	havePending  bool

	lastReliableHeading float64
	haveHeading         bool

	lastSpeed float64
	haveSpeed bool
}

// NewDecoder returns a Decoder that logs through log (navlog.Nop() is fine
// for tests).
func NewDecoder(log navlog.Logger) *Decoder {
	return &Decoder{log: log}
}

// Feed processes one raw line. It returns a composed sample and true when
// a GGA+VTG pair (or a GGA alone, once the coalescing window is asked to
// elapse via Flush) completes the picture; ready is false while a GGA is
// still waiting on its companion VTG.
func (d *Decoder) Feed(line string) (sample position.Sample, ready bool) {
	if !checksumValid(line) {
		d.Counters.ChecksumFailures++
		d.log.WithField("line", line).Debug("nmea: checksum failure, dropping")
		return position.Sample{}, false
	}

	switch sentenceType(line) {
	case "GGA":
		fix, err := decodeGGA(line)
		if err != nil && err != errUnknownFixQuality {
			d.Counters.Malformed++
			d.log.WithError(err).Debug("nmea: malformed GGA, dropping")
			return position.Sample{}, false
		}
		if err == errUnknownFixQuality {
			d.Counters.UnknownFixQuality++
			navlog.Degraded(d.log, "nmea", "unmapped fix quality digit, using GPS_SINGLE")
		}
		if !(position.Position{Latitude: fix.lat, Longitude: fix.lon}).Valid() {
			d.Counters.Malformed++
			d.log.WithField("line", line).Debug("nmea: out-of-range coordinates, dropping")
			return position.Sample{}, false
		}
		d.pendingGGA = &fix
		d.havePending = true
		return position.Sample{}, false

	case "VTG":
		vtg, err := decodeVTG(line)
		if err != nil {
			d.Counters.Malformed++
			d.log.WithError(err).Debug("nmea: malformed VTG, dropping")
			return position.Sample{}, false
		}
		d.applyVTG(vtg)
		if d.havePending {
			return d.compose(), true
		}
		return position.Sample{}, false

	case "RMC", "GSA", "GSV":
		// Accepted without error per spec §6.1, but the core ignores them.
		return position.Sample{}, false

	default:
		d.Counters.Malformed++
		return position.Sample{}, false
	}
}

// Flush composes and returns the pending GGA (if any) without waiting any
// longer for a companion VTG — the 200ms coalescing window elapsed.
func (d *Decoder) Flush() (sample position.Sample, ready bool) {
	if !d.havePending {
		return position.Sample{}, false
	}
	return d.compose(), true
}

func (d *Decoder) applyVTG(v vtgFix) {
	d.lastSpeed = v.speedMPS
	d.haveSpeed = true
	if v.speedMPS >= minReliableSpeedMPS {
		d.lastReliableHeading = v.courseDeg
		d.haveHeading = true
	}
	// Below the reliability gate the previously accepted heading (if any)
	// carries forward untouched — never fabricated (spec §4.1).
}

func (d *Decoder) compose() position.Sample {
	fix := d.pendingGGA
	d.pendingGGA = nil
	d.havePending = false

	s := position.Sample{
		Position: position.Position{
			Latitude:    fix.lat,
			Longitude:   fix.lon,
			Altitude:    fix.altitude,
			HasAltitude: fix.hasAlt,
			FixQuality:  fix.fixQuality,
			Satellites:  fix.satellites,
			HDOP:        position.HDOPUnknown,
			ReceivedAt:  time.Now(),
		},
		HasHeading: d.haveHeading,
		HeadingDeg: d.lastReliableHeading,
		HasSpeed:   d.haveSpeed,
		SpeedMPS:   d.lastSpeed,
	}
	if fix.hasHDOP {
		s.HDOP = fix.hdop
	}
	return s
}

// Stream reads line-delimited NMEA from r and drives a Decoder, emitting
// composed samples and stall/recovery events to the supplied callbacks; the
// decoder's health counters are read through Counters. It owns the
// coalescing and stale-gap timers; Decoder
// itself is synchronous and I/O-free.
//
// Grounded on the teacher's serial-reading goroutines (internal/port,
// main.go's monitor loop) but restructured per spec §5: a dedicated
// goroutine performs the blocking line read so the stale timer in Run's
// select loop is never starved by it.
type Stream struct {
	decoder *Decoder
	log     navlog.Logger

	StaleAfter     time.Duration
	CoalesceWindow time.Duration
}

// NewStream returns a Stream with spec-default timing.
func NewStream(log navlog.Logger) *Stream {
	return &Stream{
		decoder:        NewDecoder(log),
		log:            log,
		StaleAfter:     DefaultStaleDuration,
		CoalesceWindow: DefaultCoalesceWindow,
	}
}

// Counters returns the underlying decoder's health counters.
func (s *Stream) Counters() Counters { return s.decoder.Counters }

// Run blocks, reading lines from r until ctx-like cancellation via done is
// closed or r returns an error. onSample is called for every composed
// sample; onStalled/onRecovered mark the stream-gap events of spec §4.1.
func (s *Stream) Run(r io.Reader, done <-chan struct{}, onSample func(position.Sample), onStalled func(), onRecovered func()) error {
	lines := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		} else {
			errs <- io.EOF
		}
	}()

	var coalesce *time.Timer
	var coalesceC <-chan time.Time
	stalled := false
	staleTimer := time.NewTimer(s.StaleAfter)
	defer staleTimer.Stop()

	stopCoalesce := func() {
		if coalesce != nil {
			coalesce.Stop()
			coalesce = nil
			coalesceC = nil
		}
	}
	defer stopCoalesce()

	for {
		select {
		case <-done:
			return nil

		case err := <-errs:
			return err

		case line := <-lines:
			if !staleTimer.Stop() {
				select {
				case <-staleTimer.C:
				default:
				}
			}
			staleTimer.Reset(s.StaleAfter)
			if stalled {
				stalled = false
				onRecovered()
			}

			sample, ready := s.decoder.Feed(line)
			if ready {
				stopCoalesce()
				onSample(sample)
				continue
			}
			if s.decoder.havePending && coalesce == nil {
				coalesce = time.NewTimer(s.CoalesceWindow)
				coalesceC = coalesce.C
			}

		case <-coalesceC:
			coalesce = nil
			coalesceC = nil
			if sample, ready := s.decoder.Flush(); ready {
				onSample(sample)
			}

		case <-staleTimer.C:
			if !stalled {
				stalled = true
				s.decoder.Counters.Stalls++
				s.log.Warn("nmea: stream stalled")
				onStalled()
			}
			staleTimer.Reset(s.StaleAfter)
		}
	}
}
