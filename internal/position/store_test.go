package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutAndLatest(t *testing.T) {
	s := NewStore()

	_, ok := s.Latest()
	assert.False(t, ok, "empty store should report no sample")
	assert.True(t, s.IsStale(DefaultMaxAge), "empty store is always stale")

	now := time.Now()
	accepted := s.Put(Sample{
		Position: Position{Latitude: 52.23, Longitude: 21.01, ReceivedAt: now},
	})
	require.True(t, accepted)

	got, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, 52.23, got.Latitude)
}

func TestStoreDiscardsOlderSample(t *testing.T) {
	s := NewStore()
	now := time.Now()

	require.True(t, s.Put(Sample{Position: Position{Latitude: 1, ReceivedAt: now}}))
	accepted := s.Put(Sample{Position: Position{Latitude: 2, ReceivedAt: now.Add(-time.Second)}})
	assert.False(t, accepted, "a sample older than the latest must be discarded")

	got, _ := s.Latest()
	assert.Equal(t, 1.0, got.Latitude)
}

func TestStoreIsStale(t *testing.T) {
	s := NewStore()
	s.Put(Sample{Position: Position{ReceivedAt: time.Now().Add(-3 * time.Second)}})
	assert.True(t, s.IsStale(2*time.Second))

	s.Put(Sample{Position: Position{ReceivedAt: time.Now()}})
	assert.False(t, s.IsStale(2*time.Second))
}

func TestStoreUpdatesChannel(t *testing.T) {
	s := NewStore()
	s.Put(Sample{Position: Position{ReceivedAt: time.Now()}})

	select {
	case <-s.Updates():
	default:
		t.Fatal("expected a pending update notification")
	}

	select {
	case <-s.Updates():
		t.Fatal("did not expect a second pending notification")
	default:
	}
}

func TestPositionValid(t *testing.T) {
	assert.True(t, Position{Latitude: 90, Longitude: 180}.Valid())
	assert.True(t, Position{Latitude: -90, Longitude: -180}.Valid())
	assert.False(t, Position{Latitude: 91}.Valid())
	assert.False(t, Position{Longitude: 181}.Valid())
}
