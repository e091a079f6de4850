package anperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCodes(t *testing.T) {
	cases := []struct {
		code     Code
		id       string
		category string
		severity Severity
	}{
		{CodeNetworkUnreachable, "E101", "connection", SeverityFatal},
		{CodeConnectionTimeout, "E102", "connection", SeverityWarning},
		{CodeVersionMismatch, "E201", "protocol", SeverityFatal},
		{CodeSsrcConflict, "E205", "protocol", SeverityWarning},
		{CodeBufferUnderrun, "E304", "audio", SeverityWarning},
		{CodeCrcVerificationFailed, "E306", "audio", SeverityWarning},
		{CodePllUnlock, "E402", "clock", SeverityWarning},
		{CodeProfileHashMismatch, "E504", "dsp", SeverityInfo},
		{CodeVolumeOutOfRange, "E602", "volume", SeverityWarning},
	}
	for _, c := range cases {
		assert.Equal(t, c.id, c.code.ID())
		assert.Equal(t, c.category, c.code.Category())
		assert.Equal(t, c.severity, c.code.Severity())
		assert.NotEmpty(t, c.code.Message())
		assert.NotEmpty(t, c.code.RecoveryAction())
	}
}

func TestErrorChainMatching(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := Wrap(CodeWebSocketError, cause)

	wrapped := fmt.Errorf("session teardown: %w", err)
	assert.True(t, errors.Is(wrapped, New(CodeWebSocketError)))
	assert.False(t, errors.Is(wrapped, New(CodeConnectionTimeout)))
	assert.ErrorIs(t, wrapped, cause)

	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeWebSocketError, code)
}

func TestWireMessageShape(t *testing.T) {
	err := Newf(CodeCrcVerificationFailed, "seq %d", 8812)
	msg := err.WireMessage()

	data, jerr := json.Marshal(msg)
	require.NoError(t, jerr)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "E306", decoded["code"])
	assert.Equal(t, "audio", decoded["category"])
	assert.Equal(t, "warning", decoded["severity"])
	assert.Equal(t, "check_network", decoded["recovery_action"])
}

func TestSeverityRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityFatal, SeverityWarning, SeverityInfo} {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		var back Severity
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, s, back)
	}
}

func TestRecoveryProtocols(t *testing.T) {
	assert.Equal(t, DecisionRetryConnection, HandleNetworkInterruption(120, 3))
	assert.Equal(t, DecisionFailSession, HandleNetworkInterruption(0, 3))
	assert.Equal(t, DecisionFailSession, HandleNetworkInterruption(120, 10))

	assert.Equal(t, DecisionIncreaseBuffer, HandleBufferUnderrun(6))
	assert.Equal(t, DecisionContinuePlayback, HandleBufferUnderrun(2))

	// Below the sample floor, never escalate regardless of rate.
	assert.Equal(t, DecisionContinueMonitoring, HandleCrcFailures(50, 100))
	// 2% over a large sample escalates.
	assert.Equal(t, DecisionEscalate, HandleCrcFailures(40, 1960))
	// 0.5% stays monitoring.
	assert.Equal(t, DecisionContinueMonitoring, HandleCrcFailures(10, 1990))
}
