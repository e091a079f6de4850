package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaeq/aaeq-core/internal/audio"
)

type mockSink struct {
	name    string
	open    bool
	frames  uint64
	drains  int
	closes  int
	openErr error
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Open(_ context.Context, cfg audio.OutputConfig) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	return nil
}

func (m *mockSink) Write(_ context.Context, block audio.AudioBlock) error {
	if !m.open {
		return errors.New("not open")
	}
	m.frames += uint64(block.NumFrames())
	return nil
}

func (m *mockSink) Drain(context.Context) error { m.drains++; return nil }

func (m *mockSink) Close(context.Context) error {
	m.closes++
	m.open = false
	return nil
}

func (m *mockSink) LatencyMs() int { return 50 }
func (m *mockSink) IsOpen() bool   { return m.open }
func (m *mockSink) Stats() Stats   { return Stats{FramesWritten: m.frames} }

func testBlock() audio.AudioBlock {
	return audio.NewAudioBlock(make([]float64, 480), 48000, 2)
}

func TestWriteWithoutActiveSink(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.Register(&mockSink{name: "a"})

	err := m.Write(context.Background(), testBlock())
	assert.ErrorIs(t, err, ErrNoActiveSink)
}

func TestSelectOpensAndRoutesWrites(t *testing.T) {
	m := NewManager(zerolog.Nop())
	a := &mockSink{name: "a"}
	m.Register(a)

	require.NoError(t, m.Select(context.Background(), "a", audio.DefaultOutputConfig()))
	assert.True(t, a.open)

	require.NoError(t, m.Write(context.Background(), testBlock()))
	assert.Equal(t, uint64(240), a.frames)

	stats, ok := m.ActiveStats()
	require.True(t, ok)
	assert.Equal(t, uint64(240), stats.FramesWritten)
}

func TestSelectSwitchDrainsAndClosesPrevious(t *testing.T) {
	m := NewManager(zerolog.Nop())
	a := &mockSink{name: "a"}
	b := &mockSink{name: "b"}
	m.Register(a)
	m.Register(b)

	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "a", audio.DefaultOutputConfig()))
	require.NoError(t, m.Select(ctx, "b", audio.DefaultOutputConfig()))

	assert.Equal(t, 1, a.drains)
	assert.Equal(t, 1, a.closes)
	assert.False(t, a.open)
	assert.True(t, b.open)

	name, ok := m.ActiveName()
	require.True(t, ok)
	assert.Equal(t, "b", name)
}

func TestSelectUnknownSink(t *testing.T) {
	m := NewManager(zerolog.Nop())
	err := m.Select(context.Background(), "ghost", audio.DefaultOutputConfig())
	assert.Error(t, err)
}

func TestSelectInvalidConfigRejected(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.Register(&mockSink{name: "a"})

	cfg := audio.DefaultOutputConfig()
	cfg.BufferMs = 10 // below the 50 ms floor
	assert.Error(t, m.Select(context.Background(), "a", cfg))

	cfg = audio.DefaultOutputConfig()
	cfg.Channels = 9
	assert.Error(t, m.Select(context.Background(), "a", cfg))
}

func TestSelectOpenFailureLeavesNoActive(t *testing.T) {
	m := NewManager(zerolog.Nop())
	a := &mockSink{name: "a"}
	bad := &mockSink{name: "bad", openErr: errors.New("device busy")}
	m.Register(a)
	m.Register(bad)

	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "a", audio.DefaultOutputConfig()))
	require.Error(t, m.Select(ctx, "bad", audio.DefaultOutputConfig()))

	_, ok := m.ActiveName()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Write(ctx, testBlock()), ErrNoActiveSink)
}

func TestCloseActive(t *testing.T) {
	m := NewManager(zerolog.Nop())
	a := &mockSink{name: "a"}
	m.Register(a)

	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "a", audio.DefaultOutputConfig()))
	require.NoError(t, m.CloseActive(ctx))

	assert.False(t, a.open)
	_, ok := m.ActiveName()
	assert.False(t, ok)
}

func TestListReflectsState(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.Register(&mockSink{name: "a"})
	m.Register(&mockSink{name: "b"})

	require.NoError(t, m.Select(context.Background(), "b", audio.DefaultOutputConfig()))

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.False(t, infos[0].IsActive)
	assert.Nil(t, infos[0].Config)
	assert.Equal(t, "b", infos[1].Name)
	assert.True(t, infos[1].IsActive)
	require.NotNil(t, infos[1].Config)
	assert.Equal(t, 48000, infos[1].Config.SampleRate)
}

func TestActiveConfigSurvivesReselect(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.Register(&mockSink{name: "a"})

	cfg := audio.DefaultOutputConfig()
	cfg.SampleRate = 96000
	require.NoError(t, m.Select(context.Background(), "a", cfg))
	require.NoError(t, m.Select(context.Background(), "a", cfg))

	got, ok := m.ActiveConfig()
	require.True(t, ok)
	assert.Equal(t, 96000, got.SampleRate)
}
