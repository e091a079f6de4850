package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 10 ms of stereo S24 at 48 kHz.
func packet(seq uint32) Entry {
	return Entry{
		Sequence:    seq,
		Timestamp:   seq * 480,
		Payload:     make([]byte, 480*2*3),
		ArrivalTime: time.Now(),
	}
}

func TestStartThresholdGatesPlayback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetMs = 150
	cfg.StartThresholdMs = 100
	b := New(cfg)

	// 80 ms buffered: must not start.
	for i := uint32(0); i < 8; i++ {
		b.Push(packet(i))
	}
	assert.InDelta(t, 80.0, b.FillMs(), 0.5)
	assert.False(t, b.Ready())
	_, ok := b.Pop()
	assert.False(t, ok)
	assert.Equal(t, StateFilling, b.State())

	// Resume to 100 ms: playback must start.
	b.Push(packet(8))
	b.Push(packet(9))
	assert.True(t, b.Ready())
	e, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(0), e.Sequence)
	assert.Equal(t, StatePlaying, b.State())
}

func TestReordersOutOfOrderArrival(t *testing.T) {
	b := New(DefaultConfig())
	for _, seq := range []uint32{3, 0, 2, 1, 5, 4, 7, 6, 9, 8} {
		b.Push(packet(seq))
	}
	require.True(t, b.Ready())
	for want := uint32(0); want < 10; want++ {
		e, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, want, e.Sequence)
	}
}

func TestSequenceWraparound(t *testing.T) {
	b := New(DefaultConfig())
	const high = ^uint32(0) - 4 // 5 packets before wrap
	for i := uint32(0); i < 12; i++ {
		b.Push(packet(high + i))
	}
	require.True(t, b.Ready())
	prev, ok := b.Pop()
	require.True(t, ok)
	for i := 1; i < 12; i++ {
		e, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, prev.Sequence+1, e.Sequence, "packet %d", i)
		prev = e
	}
}

func TestLatePacketDropped(t *testing.T) {
	b := New(DefaultConfig())
	for i := uint32(0); i < 12; i++ {
		b.Push(packet(i))
	}
	for i := 0; i < 4; i++ {
		_, ok := b.Pop()
		require.True(t, ok)
	}
	before := b.Len()
	b.Push(packet(1)) // already consumed
	assert.Equal(t, before, b.Len())
	assert.Equal(t, uint64(1), b.LateDrops())
}

func TestOverflowDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMs = 100
	b := New(cfg)
	for i := uint32(0); i < 20; i++ { // 200 ms worth
		b.Push(packet(i))
	}
	assert.Positive(t, b.Drops())
	assert.LessOrEqual(t, b.FillMs(), 101.0)
}

func TestHealthClassification(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetMs = 100
	cfg.StartThresholdMs = 66
	b := New(cfg)

	assert.Equal(t, HealthCritical, b.Health())
	for i := uint32(0); i < 5; i++ { // 50 ms
		b.Push(packet(i))
	}
	assert.Equal(t, HealthLow, b.Health())
	for i := uint32(5); i < 8; i++ { // 80 ms
		b.Push(packet(i))
	}
	assert.Equal(t, HealthGood, b.Health())
	for i := uint32(8); i < 10; i++ { // 100 ms
		b.Push(packet(i))
	}
	assert.Equal(t, HealthHigh, b.Health())
}

func TestStateLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartThresholdMs = 20
	b := New(cfg)
	assert.Equal(t, StateEmpty, b.State())

	b.Push(packet(0))
	assert.Equal(t, StateFilling, b.State())
	b.Push(packet(1))
	assert.Equal(t, StateBuffered, b.State())

	_, _ = b.Pop()
	assert.Equal(t, StatePlaying, b.State())
	_, _ = b.Pop()
	assert.Equal(t, StateDraining, b.State())
	_, ok := b.Pop()
	assert.False(t, ok)
	assert.Equal(t, StateEmpty, b.State())
}

func TestTunerAdaptation(t *testing.T) {
	tn := NewTuner(DefaultConfig())

	// >5 xruns/min grows target by 50 ms.
	assert.Equal(t, 200, tn.Recommend(150, 6))
	// Clean window shrinks by 25 ms while above min.
	assert.Equal(t, 125, tn.Recommend(150, 0))
	// At min, no shrink.
	assert.Equal(t, 50, tn.Recommend(50, 0))
	// Capped at max.
	assert.Equal(t, 500, tn.Recommend(480, 10))
	// Mild xrun rate leaves target alone.
	assert.Equal(t, 150, tn.Recommend(150, 2))
}
