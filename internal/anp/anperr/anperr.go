// Package anperr defines the ANP error taxonomy: E1xx connection, E2xx
// protocol, E3xx audio, E4xx clock, E5xx DSP, E6xx volume. Every fallible
// core operation surfaces one of these codes so the control task can
// translate it into a wire `error` message or a control-API response.
package anperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Severity of an error as carried in the wire message.
type Severity int

const (
	SeverityFatal Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "fatal"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity as its snake_case wire string.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire severity string.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "fatal":
		*s = SeverityFatal
	case "warning":
		*s = SeverityWarning
	case "info":
		*s = SeverityInfo
	default:
		return fmt.Errorf("anperr: unknown severity %q", str)
	}
	return nil
}

// Code is a registered ANP error code.
type Code int

const (
	// Connection (E1xx)
	CodeNetworkUnreachable Code = iota
	CodeConnectionTimeout
	CodeConnectionRefused
	CodeWebSocketError
	CodeRtpPortBindFailed

	// Protocol (E2xx)
	CodeVersionMismatch
	CodeInvalidSessionInit
	CodeInvalidMessageFormat
	CodeUnsupportedFeature
	CodeSsrcConflict

	// Audio (E3xx)
	CodeUnsupportedSampleRate
	CodeUnsupportedFormat
	CodeDacOpenFailed
	CodeBufferUnderrun
	CodeBufferOverrun
	CodeCrcVerificationFailed

	// Clock (E4xx)
	CodeDriftTooHigh
	CodePllUnlock
	CodeTimestampDiscontinuity

	// DSP (E5xx)
	CodeEqApplicationFailed
	CodeConvolutionFailed
	CodeInsufficientCpu
	CodeProfileHashMismatch

	// Volume (E6xx)
	CodeHardwareVolumeUnavailable
	CodeVolumeOutOfRange
)

type codeInfo struct {
	id       string
	category string
	severity Severity
	message  string
	recovery string
}

var registry = map[Code]codeInfo{
	CodeNetworkUnreachable:        {"E101", "connection", SeverityFatal, "Network unreachable", "retry_connection"},
	CodeConnectionTimeout:         {"E102", "connection", SeverityWarning, "Connection timeout", "increase_timeout"},
	CodeConnectionRefused:         {"E103", "connection", SeverityFatal, "Connection refused", "check_server_status"},
	CodeWebSocketError:            {"E104", "connection", SeverityFatal, "WebSocket error", "restart_websocket"},
	CodeRtpPortBindFailed:         {"E105", "connection", SeverityFatal, "RTP port bind failed", "change_port"},
	CodeVersionMismatch:           {"E201", "protocol", SeverityFatal, "Protocol version mismatch", "upgrade_protocol"},
	CodeInvalidSessionInit:        {"E202", "protocol", SeverityFatal, "Invalid session initialization", "retry_session"},
	CodeInvalidMessageFormat:      {"E203", "protocol", SeverityWarning, "Invalid message format", "validate_message"},
	CodeUnsupportedFeature:        {"E204", "protocol", SeverityWarning, "Unsupported feature", "disable_feature"},
	CodeSsrcConflict:              {"E205", "protocol", SeverityWarning, "SSRC conflict detected", "regenerate_ssrc"},
	CodeUnsupportedSampleRate:     {"E301", "audio", SeverityFatal, "Unsupported sample rate", "change_sample_rate"},
	CodeUnsupportedFormat:         {"E302", "audio", SeverityFatal, "Unsupported audio format", "change_format"},
	CodeDacOpenFailed:             {"E303", "audio", SeverityFatal, "DAC open failed", "check_hardware"},
	CodeBufferUnderrun:            {"E304", "audio", SeverityWarning, "Buffer underrun detected", "increase_buffer"},
	CodeBufferOverrun:             {"E305", "audio", SeverityWarning, "Buffer overrun detected", "decrease_latency"},
	CodeCrcVerificationFailed:     {"E306", "audio", SeverityWarning, "CRC verification failed", "check_network"},
	CodeDriftTooHigh:              {"E401", "clock", SeverityWarning, "Clock drift too high", "adjust_clock"},
	CodePllUnlock:                 {"E402", "clock", SeverityWarning, "PLL unlock detected", "reset_pll"},
	CodeTimestampDiscontinuity:    {"E403", "clock", SeverityWarning, "Timestamp discontinuity", "reset_timestamps"},
	CodeEqApplicationFailed:       {"E501", "dsp", SeverityWarning, "EQ application failed", "retry_eq"},
	CodeConvolutionFailed:         {"E502", "dsp", SeverityWarning, "Convolution failed", "retry_convolution"},
	CodeInsufficientCpu:           {"E503", "dsp", SeverityWarning, "Insufficient CPU for DSP processing", "reduce_load"},
	CodeProfileHashMismatch:       {"E504", "dsp", SeverityInfo, "DSP profile hash mismatch", "resync_profile"},
	CodeHardwareVolumeUnavailable: {"E601", "volume", SeverityInfo, "Hardware volume control unavailable", "fallback_to_software"},
	CodeVolumeOutOfRange:          {"E602", "volume", SeverityWarning, "Volume level out of range", "clamp_volume"},
}

// ID returns the wire identifier, e.g. "E304".
func (c Code) ID() string { return registry[c].id }

// Category returns the taxonomy category: connection, protocol, audio,
// clock, dsp, or volume.
func (c Code) Category() string { return registry[c].category }

// Severity returns the registered severity.
func (c Code) Severity() Severity { return registry[c].severity }

// Message returns the short human-readable description.
func (c Code) Message() string { return registry[c].message }

// RecoveryAction returns the suggested recovery action string.
func (c Code) RecoveryAction() string { return registry[c].recovery }

// IsFatal reports whether the code's severity requires session teardown.
func (c Code) IsFatal() bool { return c.Severity() == SeverityFatal }

// Error is a structured core error carrying the registered code plus
// optional context. It satisfies the standard error interface, and
// errors.Is matches two Errors with the same Code.
type Error struct {
	Code    Code
	Detail  string
	Wrapped error
}

// New creates an Error for a registered code.
func New(code Code) *Error { return &Error{Code: code} }

// Newf creates an Error with formatted detail.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a coded error.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Wrapped: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Code.ID(), e.Code.Message())
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, anperr.New(anperr.CodeBufferUnderrun)).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the ANP code from an error chain. The second return
// is false when the chain carries no *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// Message is the wire-level `error` payload.
type Message struct {
	Code           string                 `json:"code"`
	Category       string                 `json:"category"`
	Severity       Severity               `json:"severity"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	RecoveryAction string                 `json:"recovery_action,omitempty"`
}

// WireMessage builds the wire payload for a coded error.
func (e *Error) WireMessage() Message {
	m := Message{
		Code:           e.Code.ID(),
		Category:       e.Code.Category(),
		Severity:       e.Code.Severity(),
		Message:        e.Code.Message(),
		RecoveryAction: e.Code.RecoveryAction(),
	}
	if e.Detail != "" {
		m.Details = map[string]interface{}{"context": e.Detail}
	}
	return m
}
