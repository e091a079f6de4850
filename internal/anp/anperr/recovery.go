package anperr

// RecoveryDecision is the outcome of a recovery protocol check.
type RecoveryDecision int

const (
	DecisionRetryConnection RecoveryDecision = iota
	DecisionFailSession
	DecisionIncreaseBuffer
	DecisionDecreaseBuffer
	DecisionContinuePlayback
	DecisionEscalate
	DecisionContinueMonitoring
)

// Recovery thresholds behind the adaptive policies in the error design:
// reconnects are capped, repeated xruns grow the buffer, and CRC
// failures only escalate past a 1% rate with a meaningful sample size.
const (
	maxReconnectAttempts = 10
	xrunEscalationCount  = 5
	crcFailRateThreshold = 0.01
	crcMinPacketSample   = 1000
)

// HandleNetworkInterruption decides between reconnecting and failing the
// session after a transport drop.
func HandleNetworkInterruption(bufferRemainingMs int, reconnectAttempts int) RecoveryDecision {
	if bufferRemainingMs > 0 && reconnectAttempts < maxReconnectAttempts {
		return DecisionRetryConnection
	}
	return DecisionFailSession
}

// HandleBufferUnderrun decides the buffer adaptation after an underrun.
func HandleBufferUnderrun(xrunCount uint64) RecoveryDecision {
	if xrunCount > xrunEscalationCount {
		return DecisionIncreaseBuffer
	}
	return DecisionContinuePlayback
}

// HandleCrcFailures decides whether the observed CRC failure rate is bad
// enough to escalate (E306 with warning surfaced). Below the threshold,
// or with too small a sample, the node just keeps counting.
func HandleCrcFailures(crcFail, crcOK uint64) RecoveryDecision {
	total := crcFail + crcOK
	if total < crcMinPacketSample {
		return DecisionContinueMonitoring
	}
	rate := float64(crcFail) / float64(total)
	if rate > crcFailRateThreshold {
		return DecisionEscalate
	}
	return DecisionContinueMonitoring
}
