package caster

import (
	"sync"
	"time"
)

// Metrics accumulates the correction link's observed metrics (spec §4.2:
// "disconnect count per minute, bytes downstream per minute, last
// handshake latency"), exposed to the supervisor (C7) via Link.Metrics.
// The per-minute figures are those of the last completed one-minute window.
type Metrics struct {
	mu sync.Mutex

	windowStart       time.Time
	disconnectsInWin  int
	bytesInWin        int64
	lastDisconnects   int
	lastBytesPerMin   int64
	lastHandshakeTime time.Duration
}

// MetricsSnapshot is a point-in-time read of Metrics.
type MetricsSnapshot struct {
	DisconnectsPerMin     int
	BytesDownstreamPerMin int64
	LastHandshakeLatency  time.Duration
}

func (m *Metrics) rollWindowLocked(now time.Time) {
	if m.windowStart.IsZero() {
		m.windowStart = now
		return
	}
	if now.Sub(m.windowStart) >= time.Minute {
		m.lastDisconnects = m.disconnectsInWin
		m.lastBytesPerMin = m.bytesInWin
		m.disconnectsInWin = 0
		m.bytesInWin = 0
		m.windowStart = now
	}
}

func (m *Metrics) recordDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindowLocked(time.Now())
	m.disconnectsInWin++
}

func (m *Metrics) addBytes(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindowLocked(time.Now())
	m.bytesInWin += n
}

func (m *Metrics) recordHandshake(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHandshakeTime = d
}

func (m *Metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindowLocked(time.Now())
	return MetricsSnapshot{
		DisconnectsPerMin:     m.lastDisconnects,
		BytesDownstreamPerMin: m.lastBytesPerMin,
		LastHandshakeLatency:  m.lastHandshakeTime,
	}
}
