// Package session implements ANP v0.4 session negotiation: the
// session_init / session_accept exchange, feature intersection, and the
// per-node session lifecycle state machine.
package session

// ProtocolVersion is the ANP version this engine speaks.
const ProtocolVersion = "0.4"

// Feature names a node may offer in session_init.
const (
	FeatureMicroPll      = "micro_pll"
	FeatureCrcVerify     = "crc_verify"
	FeatureVolumeControl = "volume_control"
	FeatureGapless       = "gapless"
	FeatureCapabilities  = "capabilities"

	// Optional features.
	FeatureDspTransfer = "dsp_transfer"
	FeatureConvolution = "convolution"
	FeatureRtcpSr      = "rtcp_sr"
)

// Init is the session_init message a node sends on connect.
type Init struct {
	ProtocolVersion  string           `json:"protocol_version"`
	NodeUUID         string           `json:"node_uuid"`
	Features         []string         `json:"features"`
	OptionalFeatures []string         `json:"optional_features"`
	LatencyComp      bool             `json:"latency_comp"`
	NodeCapabilities NodeCapabilities `json:"node_capabilities"`
}

// NodeCapabilities describes the rendering hardware behind a node.
type NodeCapabilities struct {
	Hardware          string          `json:"hardware"`
	DacName           string          `json:"dac_name"`
	DacChip           string          `json:"dac_chip"`
	MaxSampleRate     int             `json:"max_sample_rate"`
	SupportedFormats  []string        `json:"supported_formats"`
	NativeFormat      string          `json:"native_format"`
	MaxChannels       int             `json:"max_channels"`
	BufferRangeMs     [2]int          `json:"buffer_range_ms"`
	HasHardwareVolume bool            `json:"has_hardware_volume"`
	VolumeRange       [2]float64      `json:"volume_range"`
	VolumeCurve       string          `json:"volume_curve"`
	CpuInfo           CpuInfo         `json:"cpu_info"`
	DspCapabilities   DspCapabilities `json:"dsp_capabilities"`
}

// CpuInfo identifies the node's processor for capacity decisions.
type CpuInfo struct {
	Arch    string `json:"arch"`
	Cores   int    `json:"cores"`
	FreqMhz int    `json:"freq_mhz"`
}

// DspCapabilities flags what signal processing the node can run itself.
type DspCapabilities struct {
	CanEq       bool `json:"can_eq"`
	CanResample bool `json:"can_resample"`
	CanConvolve bool `json:"can_convolve"`
}

// Accept is the session_accept message the server replies with.
type Accept struct {
	ProtocolVersion  string            `json:"protocol_version"`
	SessionID        string            `json:"session_id"`
	ActiveFeatures   []string          `json:"active_features"`
	OptionalFeatures []string          `json:"optional_features"`
	RtpConfig        RtpConfig         `json:"rtp_config"`
	RtpExtensions    RtpExtensions     `json:"rtp_extensions"`
	RecommendedCfg   RecommendedConfig `json:"recommended_config"`
	Latency          LatencyInfo       `json:"latency"`
	MicroPll         MicroPllConfig    `json:"micro_pll"`
	Volume           VolumeConfig      `json:"volume"`
	Buffer           BufferConfig      `json:"buffer"`
}

// RtpConfig seeds the node's RTP receive state.
type RtpConfig struct {
	Ssrc             uint32 `json:"ssrc"`
	PayloadType      uint8  `json:"payload_type"`
	TimestampRate    int    `json:"timestamp_rate"`
	InitialSequence  uint16 `json:"initial_sequence"`
	InitialTimestamp uint32 `json:"initial_timestamp"`
}

// RtpExtensions carries the negotiated RFC 5285 extension IDs.
type RtpExtensions struct {
	Gapless GaplessExtension `json:"gapless"`
	Crc32   Crc32Extension   `json:"crc32"`
}

// GaplessExtension negotiation result.
type GaplessExtension struct {
	Enabled     bool  `json:"enabled"`
	ExtensionID uint8 `json:"extension_id"`
}

// Crc32Extension negotiation result, including the check window.
type Crc32Extension struct {
	Enabled     bool   `json:"enabled"`
	ExtensionID uint8  `json:"extension_id"`
	Window      uint32 `json:"window"`
}

// RecommendedConfig is the server's suggested stream parameters.
type RecommendedConfig struct {
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
	BufferMs   int    `json:"buffer_ms"`
	Reason     string `json:"reason"`
}

// LatencyInfo reports the server-side latency contribution.
type LatencyInfo struct {
	DacMs      float64 `json:"dac_ms"`
	PipelineMs float64 `json:"pipeline_ms"`
	CompMode   string  `json:"comp_mode"`
}

// MicroPllConfig parameterizes the node's clock corrector.
type MicroPllConfig struct {
	Enabled              bool    `json:"enabled"`
	PpmLimit             float64 `json:"ppm_limit"`
	AdjustmentIntervalMs int     `json:"adjustment_interval_ms"`
	SlewRatePpmPerSec    float64 `json:"slew_rate_ppm_per_sec"`
	EmaWindow            int     `json:"ema_window"`
}

// VolumeConfig sets the node's initial volume state.
type VolumeConfig struct {
	InitialLevel float64 `json:"initial_level"`
	Mute         bool    `json:"mute"`
	ControlMode  string  `json:"control_mode"`
	CurveType    string  `json:"curve_type"`
}

// BufferConfig is the jitter-buffer contract. StartThresholdMs defaults
// to roughly two thirds of the target.
type BufferConfig struct {
	TargetMs         int `json:"target_ms"`
	MinMs            int `json:"min_ms"`
	MaxMs            int `json:"max_ms"`
	StartThresholdMs int `json:"start_threshold_ms"`
}
