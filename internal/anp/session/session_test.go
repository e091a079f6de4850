package session

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
)

func nodeInit() Init {
	return Init{
		ProtocolVersion:  "0.4",
		NodeUUID:         uuid.NewString(),
		Features:         []string{FeatureMicroPll, FeatureCrcVerify, FeatureVolumeControl, FeatureGapless, FeatureCapabilities},
		OptionalFeatures: []string{FeatureDspTransfer},
		LatencyComp:      true,
		NodeCapabilities: NodeCapabilities{
			Hardware:          "Raspberry Pi 4",
			DacName:           "HiFiBerry DAC+",
			DacChip:           "PCM5122",
			MaxSampleRate:     192000,
			SupportedFormats:  []string{"F32", "S24LE", "S16LE"},
			NativeFormat:      "S24LE",
			MaxChannels:       2,
			BufferRangeMs:     [2]int{50, 500},
			HasHardwareVolume: true,
			VolumeRange:       [2]float64{0, 1},
			VolumeCurve:       "logarithmic",
			CpuInfo:           CpuInfo{Arch: "arm64", Cores: 4, FreqMhz: 1500},
		},
	}
}

func TestNegotiateAcceptsMatchingVersion(t *testing.T) {
	n := NewNegotiator()
	s, err := n.Negotiate(nodeInit())
	require.NoError(t, err)

	assert.Equal(t, ProtocolVersion, s.Accept.ProtocolVersion)
	assert.NotEmpty(t, s.Accept.SessionID)
	assert.NotZero(t, s.Accept.RtpConfig.Ssrc)
	assert.Equal(t, uint8(96), s.Accept.RtpConfig.PayloadType)
	assert.Equal(t, StateNegotiating, s.State())
	assert.True(t, s.HasFeature(FeatureGapless))
	assert.True(t, s.Accept.RtpExtensions.Crc32.Enabled)
	assert.Equal(t, uint32(64), s.Accept.RtpExtensions.Crc32.Window)
}

func TestNegotiateMajorVersionMismatch(t *testing.T) {
	n := NewNegotiator()
	init := nodeInit()
	init.ProtocolVersion = "1.0"

	_, err := n.Negotiate(init)
	require.Error(t, err)
	assert.True(t, errors.Is(err, anperr.New(anperr.CodeVersionMismatch)))
}

func TestNegotiateMinorVersionDegrades(t *testing.T) {
	n := NewNegotiator()
	init := nodeInit()
	init.ProtocolVersion = "0.3"
	init.Features = append(init.Features, "holographic_audio") // unknown

	s, err := n.Negotiate(init)
	require.NoError(t, err)
	assert.NotContains(t, s.Accept.ActiveFeatures, "holographic_audio")
}

func TestActiveFeaturesAreSubsetOfOffered(t *testing.T) {
	n := NewNegotiator()
	init := nodeInit()
	init.Features = []string{FeatureGapless} // node offers only gapless

	s, err := n.Negotiate(init)
	require.NoError(t, err)
	assert.Equal(t, []string{FeatureGapless}, s.Accept.ActiveFeatures)
	assert.False(t, s.Accept.MicroPll.Enabled)
	assert.False(t, s.Accept.RtpExtensions.Crc32.Enabled)
	assert.True(t, s.Accept.RtpExtensions.Gapless.Enabled)
}

func TestBufferStartThreshold(t *testing.T) {
	n := NewNegotiator()
	s, err := n.Negotiate(nodeInit())
	require.NoError(t, err)

	b := s.Accept.Buffer
	assert.Equal(t, 150, b.TargetMs)
	assert.Equal(t, 100, b.StartThresholdMs) // ≈ 0.66 · target
}

func TestSsrcUniqueAcrossSessions(t *testing.T) {
	n := NewNegotiator()
	seen := map[uint32]bool{}
	for i := 0; i < 20; i++ {
		s, err := n.Negotiate(nodeInit())
		require.NoError(t, err)
		assert.False(t, seen[s.Accept.RtpConfig.Ssrc], "duplicate ssrc")
		seen[s.Accept.RtpConfig.Ssrc] = true
	}
}

func TestReinitReplacesSessionForSameNode(t *testing.T) {
	n := NewNegotiator()
	init := nodeInit()

	first, err := n.Negotiate(init)
	require.NoError(t, err)
	second, err := n.Negotiate(init)
	require.NoError(t, err)

	_, ok := n.Lookup(first.ID)
	assert.False(t, ok)
	_, ok = n.Lookup(second.ID)
	assert.True(t, ok)
}

func TestSsrcConflictDetection(t *testing.T) {
	n := NewNegotiator()
	a, err := n.Negotiate(nodeInit())
	require.NoError(t, err)
	b, err := n.Negotiate(nodeInit())
	require.NoError(t, err)

	// Session b observing session a's SSRC is a conflict.
	err = n.CheckSsrcConflict(b.ID, a.Accept.RtpConfig.Ssrc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, anperr.New(anperr.CodeSsrcConflict)))

	// A session observing its own SSRC is fine.
	assert.NoError(t, n.CheckSsrcConflict(a.ID, a.Accept.RtpConfig.Ssrc))
}

func TestInvalidNodeUUIDRejected(t *testing.T) {
	n := NewNegotiator()
	init := nodeInit()
	init.NodeUUID = "not-a-uuid"

	_, err := n.Negotiate(init)
	require.Error(t, err)
	assert.True(t, errors.Is(err, anperr.New(anperr.CodeInvalidSessionInit)))
}

func TestCloseReleasesSsrc(t *testing.T) {
	n := NewNegotiator()
	s, err := n.Negotiate(nodeInit())
	require.NoError(t, err)

	n.Close(s.ID)
	_, ok := n.Lookup(s.ID)
	assert.False(t, ok)
	assert.NoError(t, n.CheckSsrcConflict("other", s.Accept.RtpConfig.Ssrc))
}

func TestStateTransitions(t *testing.T) {
	s := &Session{state: StateNegotiating}
	s.Transition(StateBuffering)
	assert.Equal(t, StateBuffering, s.State())
	s.Transition(StatePlaying)
	s.Transition(StatePaused)
	s.Transition(StateDisconnected)
	assert.Equal(t, StateDisconnected, s.State())
	// Recovery converges on the single idle→negotiating path.
	s.Transition(StateIdle)
	s.Transition(StateNegotiating)
	assert.Equal(t, StateNegotiating, s.State())
}

func TestInitJSONIsSnakeCase(t *testing.T) {
	data, err := json.Marshal(nodeInit())
	require.NoError(t, err)
	js := string(data)
	assert.Contains(t, js, `"protocol_version"`)
	assert.Contains(t, js, `"node_uuid"`)
	assert.Contains(t, js, `"node_capabilities"`)
	assert.Contains(t, js, `"max_sample_rate"`)
	assert.Contains(t, js, `"has_hardware_volume"`)
}

func TestNodeUUIDPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "node_uuid")

	first, err := LoadOrCreateNodeUUID(path)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := LoadOrCreateNodeUUID(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
