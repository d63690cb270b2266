package nmea

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/position"
)

func TestStreamEmitsOnVTGCompletion(t *testing.T) {
	r, w := io.Pipe()
	s := NewStream(navlog.Nop())
	s.StaleAfter = time.Hour
	s.CoalesceWindow = time.Hour

	done := make(chan struct{})
	samples := make(chan position.Sample, 4)

	go func() {
		_ = s.Run(r, done, func(sm position.Sample) { samples <- sm }, func() {}, func() {})
	}()

	go func() {
		io.WriteString(w, sampleGGA+"\n")
		io.WriteString(w, sampleVTGFast+"\n")
	}()

	select {
	case sm := <-samples:
		assert.True(t, sm.HasHeading)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for composed sample")
	}

	close(done)
	w.Close()
}

func TestStreamFlushesOnCoalesceWindow(t *testing.T) {
	r, w := io.Pipe()
	s := NewStream(navlog.Nop())
	s.StaleAfter = time.Hour
	s.CoalesceWindow = 50 * time.Millisecond

	done := make(chan struct{})
	samples := make(chan position.Sample, 4)

	go func() {
		_ = s.Run(r, done, func(sm position.Sample) { samples <- sm }, func() {}, func() {})
	}()

	go func() {
		io.WriteString(w, sampleGGA+"\n")
	}()

	select {
	case <-samples:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the coalescing window to flush the pending GGA")
	}

	close(done)
	w.Close()
}

func TestStreamDetectsStallAndRecovers(t *testing.T) {
	r, w := io.Pipe()
	s := NewStream(navlog.Nop())
	s.StaleAfter = 50 * time.Millisecond
	s.CoalesceWindow = time.Hour

	done := make(chan struct{})
	stalled := make(chan struct{}, 1)
	recovered := make(chan struct{}, 1)

	go func() {
		_ = s.Run(r, done, func(position.Sample) {}, func() { stalled <- struct{}{} }, func() { recovered <- struct{}{} })
	}()

	select {
	case <-stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a stall event")
	}

	go io.WriteString(w, sampleGGA+"\n")

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected recovery on next valid sentence")
	}

	close(done)
	w.Close()
}

func TestStreamPropagatesReadError(t *testing.T) {
	r, w := io.Pipe()
	s := NewStream(navlog.Nop())
	done := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(r, done, func(position.Sample) {}, func() {}, func() {})
	}()

	w.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after the reader closed")
	}
}
