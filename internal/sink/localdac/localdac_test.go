package localdac

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/ring"
)

func f32Device() *MemoryDevice {
	return NewMemoryDevice("Test DAC",
		[]audio.SampleFormat{audio.FormatF32, audio.FormatS16LE},
		[]int{44100, 48000, 96000}, 48000)
}

func smallConfig() audio.OutputConfig {
	return audio.OutputConfig{
		SampleRate: 48000,
		Channels:   2,
		Format:     audio.FormatF32,
		BufferMs:   50,
	}
}

func block(frames int) audio.AudioBlock {
	samples := make([]float64, frames*2)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.NewAudioBlock(samples, 48000, 2)
}

func (s *Sink) memStream(t *testing.T) *MemoryStream {
	t.Helper()
	ms, ok := s.stream.(*MemoryStream)
	require.True(t, ok)
	return ms
}

func TestOpenNegotiatesRequestedFormat(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), smallConfig()))
	assert.True(t, s.IsOpen())
	assert.Equal(t, audio.FormatF32, s.cfg.Format)
}

func TestF32FallbackToS16(t *testing.T) {
	dev := NewMemoryDevice("16-bit only",
		[]audio.SampleFormat{audio.FormatS16LE},
		[]int{48000}, 48000)
	s := New(dev, zerolog.Nop())

	require.NoError(t, s.Open(context.Background(), smallConfig()))
	assert.Equal(t, audio.FormatS16LE, s.cfg.Format)
}

func TestRateMismatchRestartsAtNative(t *testing.T) {
	dev := NewMemoryDevice("44k only",
		[]audio.SampleFormat{audio.FormatF32},
		[]int{44100}, 44100)
	s := New(dev, zerolog.Nop())

	require.NoError(t, s.Open(context.Background(), smallConfig()))
	assert.Equal(t, 44100, s.cfg.SampleRate)
}

func TestUnsupportedFormatNoFallback(t *testing.T) {
	dev := NewMemoryDevice("odd device", []audio.SampleFormat{audio.FormatS24LE}, []int{48000}, 48000)
	s := New(dev, zerolog.Nop())
	assert.Error(t, s.Open(context.Background(), smallConfig()))
}

func TestPreFillGatesStreamStart(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), smallConfig()))
	stream := s.memStream(t)

	// 50 ms buffer at 48k stereo F32 = 2400 frames; half is 1200.
	require.NoError(t, s.Write(context.Background(), block(480)))
	assert.False(t, stream.Running(), "stream must not start below 50%% pre-fill")

	require.NoError(t, s.Write(context.Background(), block(480)))
	require.NoError(t, s.Write(context.Background(), block(480)))
	assert.True(t, stream.Running())
}

func TestUnderrunOutputsSilenceAndCounts(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), smallConfig()))
	stream := s.memStream(t)

	// Reach pre-fill so the stream starts.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(context.Background(), block(480)))
	}
	require.True(t, stream.Running())

	// Drain everything the ring holds, then one more pull.
	stream.Pull(3 * 480 * 2 * 4)
	out := stream.Pull(1024)

	for _, b := range out {
		assert.Zero(t, b)
	}
	assert.Equal(t, uint64(1), s.Xruns())
}

func TestOverrunReturnsBufferFull(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), smallConfig()))

	// 50 ms = 2400 frames capacity; the sixth 480-frame write overflows.
	var err error
	for i := 0; i < 6; i++ {
		err = s.Write(context.Background(), block(480))
	}
	assert.ErrorIs(t, err, ring.ErrBufferFull)
	assert.Equal(t, uint64(1), s.Stats().Overruns)
}

func TestLatencyIncludesRingFill(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), smallConfig()))

	// 960 frames = 20 ms buffered + 20 ms device latency.
	require.NoError(t, s.Write(context.Background(), block(960)))
	assert.Equal(t, 40, s.LatencyMs())
}

func TestWriteAfterCloseFails(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, smallConfig()))
	require.NoError(t, s.Close(ctx))
	assert.False(t, s.IsOpen())
	assert.Error(t, s.Write(ctx, block(480)))
}

func TestDrainBeforeStartResetsRing(t *testing.T) {
	s := New(f32Device(), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, smallConfig()))
	require.NoError(t, s.Write(ctx, block(480)))

	require.NoError(t, s.Drain(ctx))
	assert.Zero(t, s.buffer.Len())
}

func TestS16ConversionFeedsDevice(t *testing.T) {
	dev := NewMemoryDevice("16-bit only",
		[]audio.SampleFormat{audio.FormatS16LE},
		[]int{48000}, 48000)
	s := New(dev, zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), smallConfig()))
	stream := s.memStream(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(context.Background(), block(480)))
	}
	require.True(t, stream.Running())

	out := stream.Pull(480 * 2 * 2)
	nonZero := false
	for _, b := range out {
		if b != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "converted S16LE audio should be non-silent")
}
