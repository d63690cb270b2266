// Package caster implements the correction link (spec §4.2, C2): a
// persistent NTRIP v1/v2 session to a correction caster, forwarding
// downstream correction bytes to the receiver and sending a periodic GGA
// position report upstream.
//
// Grounded on the teacher's internal/ntrip.Client for the manual handshake
// shape (request line, User-Agent, Ntrip-Version, Basic auth) and on
// internal/rtk.Processor for the lock-guarded-state-plus-channel idiom, but
// rebuilt over a raw net.Conn rather than net/http: the teacher's
// http.Client can't hold a connection open for a bidirectional
// downstream-stream / upstream-GGA session, which spec §4.2 requires.
package caster

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/nmea"
	"github.com/bramburn/rovernav/internal/position"
)

const userAgent = "NTRIP rovernav/1.0"

// downstreamWatchdogTimeout is spec §4.2's "60 s without downstream bytes"
// reconnect trigger.
const downstreamWatchdogTimeout = 60 * time.Second

// monitorInterval is how often the watchdog checks the downstream byte age;
// well under the 60s budget so the trigger fires close to on time.
const monitorInterval = 5 * time.Second

// handshakeReadTimeout bounds how long Connect waits for the caster's
// status line before giving up.
const handshakeReadTimeout = 10 * time.Second

// State is the correction link's connection state (spec §4.2).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// PositionSource is the narrow slice of position.Store the link needs to
// compose its upstream GGA report.
type PositionSource interface {
	Latest() (position.Sample, bool)
}

// DownstreamWriter is the narrow slice of receiver.Port the link needs to
// forward correction bytes to the GNSS receiver.
type DownstreamWriter interface {
	Write(data []byte) (int, error)
}

// Dialer opens the transport connection; overridable in tests (net.Pipe,
// a fake listener) in place of a real TCP dial.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// Link owns one correction-caster session and its reconnect loop.
type Link struct {
	cfg        config.Caster
	positions  PositionSource
	downstream DownstreamWriter
	log        navlog.Logger
	dial       Dialer

	stateMu sync.RWMutex
	state   State

	// reconnectCh coalesces external reconnect requests (spec §4.2
	// "concurrent requests to reconnect coalesce") — buffered 1, any
	// request beyond the first pending one is a no-op.
	reconnectCh chan struct{}

	metrics Metrics
}

// New returns a Link for cfg, reading fresh samples from positions and
// forwarding correction bytes to downstream.
func New(cfg config.Caster, positions PositionSource, downstream DownstreamWriter, log navlog.Logger) *Link {
	return &Link{
		cfg:         cfg,
		positions:   positions,
		downstream:  downstream,
		log:         log,
		dial:        defaultDialer,
		reconnectCh: make(chan struct{}, 1),
	}
}

// State reports the link's current connection state.
func (l *Link) State() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.stateMu.Lock()
	from := l.state
	l.state = s
	l.stateMu.Unlock()
	if from != s {
		navlog.Transition(l.log, "caster", from.String(), s.String())
	}
}

// Metrics returns a snapshot of the link's observed metrics (spec §4.2).
func (l *Link) Metrics() MetricsSnapshot {
	return l.metrics.snapshot()
}

// ForceReconnect requests the current session (if any) end early so the
// run loop reconnects immediately. Safe to call concurrently; redundant
// requests while one is already pending are dropped.
func (l *Link) ForceReconnect() {
	select {
	case l.reconnectCh <- struct{}{}:
	default:
	}
}

// Run drives the DISCONNECTED -> CONNECTING -> STREAMING -> DISCONNECTED
// cycle until ctx is cancelled. Each iteration is a single connection
// attempt or session — at most one is ever active, satisfying spec §4.2's
// mutual-exclusion invariant by construction.
func (l *Link) Run(ctx context.Context) error {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 1 * time.Second
	boff.Multiplier = 2
	boff.RandomizationFactor = 0.1
	boff.MaxInterval = 30 * time.Second
	boff.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return ctx.Err()
		}

		l.setState(StateConnecting)
		start := time.Now()
		conn, err := l.connect(ctx)
		if err != nil {
			l.log.WithError(err).Warn("caster: connect failed")
			wait := boff.NextBackOff()
			select {
			case <-ctx.Done():
				l.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		l.metrics.recordHandshake(time.Since(start))
		boff.Reset()

		l.setState(StateStreaming)
		l.runSession(ctx, conn)
		l.setState(StateDisconnected)
		l.metrics.recordDisconnect()
	}
}

// connect dials the caster and performs the NTRIP handshake, returning a
// net.Conn positioned to read the raw correction stream.
func (l *Link) connect(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	conn, err := l.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("caster: dial %s: %w", addr, err)
	}

	if _, err := conn.Write([]byte(l.handshakeRequest())); err != nil {
		conn.Close()
		return nil, fmt.Errorf("caster: send handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeReadTimeout))
	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("caster: read handshake response: %w", err)
	}
	if !handshakeAccepted(status) {
		conn.Close()
		return nil, fmt.Errorf("caster: handshake rejected: %q", strings.TrimSpace(status))
	}
	if strings.HasPrefix(status, "HTTP/") {
		if err := drainHeaders(reader); err != nil {
			conn.Close()
			return nil, fmt.Errorf("caster: read handshake headers: %w", err)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	return &bufferedConn{Conn: conn, r: reader}, nil
}

// handshakeRequest builds the manual NTRIP request line and headers (spec
// §4.2): request line with mountpoint, User-Agent, Basic auth, Ntrip-Version.
func (l *Link) handshakeRequest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GET /%s HTTP/1.0\r\n", l.cfg.Mountpoint)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)
	if l.cfg.User != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(l.cfg.User + ":" + l.cfg.Pass))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", auth)
	}
	b.WriteString("Ntrip-Version: Ntrip/2.0\r\n")
	b.WriteString("\r\n")
	return b.String()
}

func handshakeAccepted(statusLine string) bool {
	line := strings.TrimSpace(statusLine)
	return strings.HasPrefix(line, "ICY 200") ||
		strings.HasPrefix(line, "HTTP/1.0 200") ||
		strings.HasPrefix(line, "HTTP/1.1 200")
}

func drainHeaders(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}

// bufferedConn makes the bufio.Reader used to read the handshake's status
// line the session's sole reader, so bytes of the correction stream
// prefetched into its buffer during the handshake aren't lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// runSession owns one STREAMING session: a downstream read/forward loop, an
// upstream GGA ticker, and a watchdog/reconnect monitor, all torn down
// together when any one of them ends the session.
func (l *Link) runSession(ctx context.Context, conn net.Conn) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastByteNano atomic.Int64
	lastByteNano.Store(time.Now().UnixNano())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); l.upstreamLoop(sessionCtx, conn) }()
	go func() { defer wg.Done(); l.monitorLoop(sessionCtx, conn, &lastByteNano) }()

	l.downstreamLoop(sessionCtx, conn, &lastByteNano)
	cancel()
	wg.Wait()
}

// downstreamLoop reads correction bytes and forwards them to the receiver
// in chunks of at most 4 KiB (spec §4.2), until conn errors or ctx ends.
func (l *Link) downstreamLoop(ctx context.Context, conn net.Conn, lastByteNano *atomic.Int64) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			lastByteNano.Store(time.Now().UnixNano())
			l.metrics.addBytes(int64(n))
			if _, werr := l.downstream.Write(buf[:n]); werr != nil {
				l.log.WithError(werr).Warn("caster: downstream write failed")
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

// upstreamLoop sends a GGA position report every adaptive interval (spec
// §4.2). If no sample is available yet, it withholds and retries shortly.
func (l *Link) upstreamLoop(ctx context.Context, conn net.Conn) {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sample, ok := l.positions.Latest()
			if !ok {
				timer.Reset(time.Second)
				continue
			}
			if _, err := conn.Write([]byte(nmea.ComposeGGA(sample.Position))); err != nil {
				return
			}
			timer.Reset(ggaInterval(sample.Position))
		}
	}
}

// monitorLoop watches for a coalesced reconnect request or a downstream
// watchdog timeout and, on either, closes conn to end the session.
func (l *Link) monitorLoop(ctx context.Context, conn net.Conn, lastByteNano *atomic.Int64) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.reconnectCh:
			l.log.Info("caster: reconnect requested")
			conn.Close()
			return
		case <-ticker.C:
			last := time.Unix(0, lastByteNano.Load())
			if time.Since(last) > downstreamWatchdogTimeout {
				l.log.Warn("caster: downstream watchdog fired, forcing reconnect")
				conn.Close()
				return
			}
		}
	}
}

// ggaInterval implements spec §4.2's adaptive GGA interval table.
func ggaInterval(pos position.Position) time.Duration {
	switch pos.FixQuality {
	case position.RTKFixed:
		return 8 * time.Second
	case position.RTKFloat:
		return 12 * time.Second
	case position.DGPS, position.GPSSingle:
		hdop := pos.HDOP
		if hdop == position.HDOPUnknown {
			hdop = 6
		}
		if hdop < 2 {
			hdop = 2
		}
		if hdop > 6 {
			hdop = 6
		}
		frac := (hdop - 2) / 4
		secs := 15 + frac*5
		return time.Duration(secs * float64(time.Second))
	default:
		return 30 * time.Second
	}
}
