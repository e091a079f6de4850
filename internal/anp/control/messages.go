// Package control implements the ANP WebSocket control channel: the
// snake_case JSON message schema, volume curves and ramps, and the
// gorilla/websocket server and client connections that carry session
// negotiation, volume commands, DSP updates, stream control, health
// telemetry, and errors.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
	"github.com/aaeq/aaeq-core/internal/anp/health"
	"github.com/aaeq/aaeq-core/internal/anp/session"
)

// Message type names. Every wire message is a JSON object with exactly
// one top-level key naming its type.
const (
	TypeSessionInit   = "session_init"
	TypeSessionAccept = "session_accept"
	TypeVolumeSet     = "volume_set"
	TypeVolumeGet     = "volume_get"
	TypeVolumeResult  = "volume_result"
	TypeHealth        = "health"
	TypeDspUpdate     = "dsp_update"
	TypeDspUpdateAck  = "dsp_update_ack"
	TypeStreamPause   = "stream_pause"
	TypeStreamResume  = "stream_resume"
	TypeStreamStop    = "stream_stop"
	TypeStreamPaused  = "stream_paused"
	TypeStreamStopped = "stream_stopped"
	TypeError         = "error"
)

// Message is one decoded control-channel message: the type name and its
// payload, exactly one of the typed fields non-nil.
type Message struct {
	Type string

	SessionInit   *session.Init
	SessionAccept *session.Accept
	VolumeSet     *VolumeSet
	VolumeGet     *VolumeGet
	VolumeResult  *VolumeResult
	Health        *health.Message
	DspUpdate     *DspUpdate
	DspUpdateAck  *DspUpdateAck
	StreamPause   *StreamSignal
	StreamResume  *StreamSignal
	StreamStop    *StreamSignal
	StreamPaused  *StreamSignal
	StreamStopped *StreamSignal
	Error         *anperr.Message
}

// VolumeSet commands a level change, optionally ramped.
type VolumeSet struct {
	Level     float64 `json:"level"`
	Mute      bool    `json:"mute"`
	RampMs    *int    `json:"ramp_ms,omitempty"`
	RampShape *string `json:"ramp_shape,omitempty"`
}

// VolumeGet requests the current volume state.
type VolumeGet struct{}

// VolumeResult reports the applied volume state.
type VolumeResult struct {
	Status          string  `json:"status"`
	Level           float64 `json:"level"`
	Mute            bool    `json:"mute"`
	HardwareControl bool    `json:"hardware_control"`
	DacVolumeDb     float64 `json:"dac_volume_db"`
	GainDb          float64 `json:"gain_db"`
	CurveType       string  `json:"curve_type"`
}

// DspUpdate pushes a DSP profile to a node (optional feature).
type DspUpdate struct {
	ProfileID   uint32             `json:"profile_id"`
	ProfileName string             `json:"profile_name"`
	HeadroomDb  float64            `json:"headroom_db"`
	Dithering   string             `json:"dithering"`
	Equalizer   *EqualizerConfig   `json:"equalizer,omitempty"`
	Convolution *ConvolutionConfig `json:"convolution,omitempty"`
}

// EqualizerConfig is the EQ section of a DSP update.
type EqualizerConfig struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Bands   []EqBand `json:"bands"`
}

// EqBand is one parametric band in wire form.
type EqBand struct {
	Frequency  float64 `json:"frequency"`
	Gain       float64 `json:"gain"`
	Q          float64 `json:"q"`
	FilterType string  `json:"type"`
}

// ConvolutionConfig is carried for schema completeness; convolution is
// not an active feature of this engine.
type ConvolutionConfig struct {
	Enabled      bool    `json:"enabled"`
	FilterID     string  `json:"filter_id"`
	DelaySamples uint32  `json:"delay_samples"`
	GainDb       float64 `json:"gain_db"`
}

// DspUpdateAck confirms (or rejects parts of) a DSP update.
type DspUpdateAck struct {
	ProfileID   uint32             `json:"profile_id"`
	Status      string             `json:"status"`
	ProfileHash uint32             `json:"profile_hash"`
	Applied     DspAppliedFeatures `json:"applied"`
	Errors      []DspError         `json:"errors"`
}

// DspAppliedFeatures flags which update sections took effect.
type DspAppliedFeatures struct {
	Equalizer   bool `json:"equalizer"`
	Headroom    bool `json:"headroom"`
	Dithering   bool `json:"dithering"`
	Convolution bool `json:"convolution"`
}

// DspError is a per-section failure inside an ack.
type DspError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamSignal is the empty body shared by the stream control messages.
type StreamSignal struct{}

func (m *Message) payload() (string, interface{}) {
	switch m.Type {
	case TypeSessionInit:
		return m.Type, m.SessionInit
	case TypeSessionAccept:
		return m.Type, m.SessionAccept
	case TypeVolumeSet:
		return m.Type, m.VolumeSet
	case TypeVolumeGet:
		return m.Type, m.VolumeGet
	case TypeVolumeResult:
		return m.Type, m.VolumeResult
	case TypeHealth:
		return m.Type, m.Health
	case TypeDspUpdate:
		return m.Type, m.DspUpdate
	case TypeDspUpdateAck:
		return m.Type, m.DspUpdateAck
	case TypeStreamPause:
		return m.Type, m.StreamPause
	case TypeStreamResume:
		return m.Type, m.StreamResume
	case TypeStreamStop:
		return m.Type, m.StreamStop
	case TypeStreamPaused:
		return m.Type, m.StreamPaused
	case TypeStreamStopped:
		return m.Type, m.StreamStopped
	case TypeError:
		return m.Type, m.Error
	default:
		return "", nil
	}
}

// MarshalJSON encodes the single-key envelope, e.g.
// {"volume_set": {"level": 0.5, "mute": false}}.
func (m Message) MarshalJSON() ([]byte, error) {
	key, body := (&m).payload()
	if key == "" {
		return nil, fmt.Errorf("control: unknown message type %q", m.Type)
	}
	if body == nil || isNilPayload(body) {
		body = struct{}{}
	}
	return json.Marshal(map[string]interface{}{key: body})
}

func isNilPayload(v interface{}) bool {
	switch p := v.(type) {
	case *session.Init:
		return p == nil
	case *session.Accept:
		return p == nil
	case *VolumeSet:
		return p == nil
	case *VolumeGet:
		return p == nil
	case *VolumeResult:
		return p == nil
	case *health.Message:
		return p == nil
	case *DspUpdate:
		return p == nil
	case *DspUpdateAck:
		return p == nil
	case *StreamSignal:
		return p == nil
	case *anperr.Message:
		return p == nil
	default:
		return false
	}
}

// UnmarshalJSON decodes a single-key envelope into the matching typed
// field. Unknown message types return an E203 invalid-format error.
func (m *Message) UnmarshalJSON(data []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return anperr.Wrap(anperr.CodeInvalidMessageFormat, err)
	}
	if len(envelope) != 1 {
		return anperr.Newf(anperr.CodeInvalidMessageFormat, "expected one top-level key, got %d", len(envelope))
	}

	var key string
	var raw json.RawMessage
	for k, v := range envelope {
		key, raw = k, v
	}
	m.Type = key

	decode := func(dst interface{}) error {
		if err := json.Unmarshal(raw, dst); err != nil {
			return anperr.Wrap(anperr.CodeInvalidMessageFormat, err)
		}
		return nil
	}

	switch key {
	case TypeSessionInit:
		m.SessionInit = &session.Init{}
		return decode(m.SessionInit)
	case TypeSessionAccept:
		m.SessionAccept = &session.Accept{}
		return decode(m.SessionAccept)
	case TypeVolumeSet:
		m.VolumeSet = &VolumeSet{}
		return decode(m.VolumeSet)
	case TypeVolumeGet:
		m.VolumeGet = &VolumeGet{}
		return decode(m.VolumeGet)
	case TypeVolumeResult:
		m.VolumeResult = &VolumeResult{}
		return decode(m.VolumeResult)
	case TypeHealth:
		m.Health = &health.Message{}
		return decode(m.Health)
	case TypeDspUpdate:
		m.DspUpdate = &DspUpdate{}
		return decode(m.DspUpdate)
	case TypeDspUpdateAck:
		m.DspUpdateAck = &DspUpdateAck{}
		return decode(m.DspUpdateAck)
	case TypeStreamPause:
		m.StreamPause = &StreamSignal{}
		return nil
	case TypeStreamResume:
		m.StreamResume = &StreamSignal{}
		return nil
	case TypeStreamStop:
		m.StreamStop = &StreamSignal{}
		return nil
	case TypeStreamPaused:
		m.StreamPaused = &StreamSignal{}
		return nil
	case TypeStreamStopped:
		m.StreamStopped = &StreamSignal{}
		return nil
	case TypeError:
		m.Error = &anperr.Message{}
		return decode(m.Error)
	default:
		return anperr.Newf(anperr.CodeInvalidMessageFormat, "unknown message type %q", key)
	}
}
