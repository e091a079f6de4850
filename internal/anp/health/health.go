// Package health implements ANP lifetime health telemetry. Counters are
// lifetime totals since session start, written by the node's DSP and
// network threads through relaxed atomics and snapshotted roughly once
// per second into a single `health` message; the server computes deltas.
package health

import (
	"sync/atomic"
	"time"
)

// ReportInterval is how often a health message is emitted.
const ReportInterval = time.Second

// Message is the wire `health` payload.
type Message struct {
	TimestampUs uint64           `json:"timestamp_us"`
	Connection  ConnectionHealth `json:"connection"`
	Playback    PlaybackHealth   `json:"playback"`
	Latency     LatencyHealth    `json:"latency"`
	ClockSync   ClockHealth      `json:"clock_sync"`
	Integrity   IntegrityHealth  `json:"integrity"`
	Errors      ErrorHealth      `json:"errors"`
	Volume      VolumeHealth     `json:"volume"`
	Dsp         DspHealth        `json:"dsp"`
}

// ConnectionHealth covers transport state and lifetime packet totals.
type ConnectionHealth struct {
	State           string `json:"state"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
	PacketsReceived uint64 `json:"packets_received"`
	PacketsLost     uint64 `json:"packets_lost"`
	BytesReceived   uint64 `json:"bytes_received"`
}

// PlaybackHealth covers the jitter buffer and playback state.
type PlaybackHealth struct {
	State             string  `json:"state"`
	BufferMs          float64 `json:"buffer_ms"`
	BufferHealth      string  `json:"buffer_health"`
	BufferFillPercent int     `json:"buffer_fill_percent"`
}

// LatencyHealth is the end-to-end latency breakdown.
type LatencyHealth struct {
	NetworkMs      float64 `json:"network_ms"`
	JitterBufferMs float64 `json:"jitter_buffer_ms"`
	DacMs          float64 `json:"dac_ms"`
	PipelineMs     float64 `json:"pipeline_ms"`
	TotalMs        float64 `json:"total_ms"`
}

// ClockHealth reports the Micro-PLL.
type ClockHealth struct {
	DriftPpm      float64 `json:"drift_ppm"`
	PhaseUs       float64 `json:"phase_us"`
	PllState      string  `json:"pll_state"`
	AdjustmentPpm float64 `json:"adjustment_ppm"`
}

// IntegrityHealth reports CRC verification totals.
type IntegrityHealth struct {
	CrcOk          uint64  `json:"crc_ok"`
	CrcFail        uint64  `json:"crc_fail"`
	LastCrcFailSeq *uint32 `json:"last_crc_fail_seq"`
}

// ErrorHealth reports scheduling error totals.
type ErrorHealth struct {
	Xruns               uint64  `json:"xruns"`
	BufferUnderruns     uint64  `json:"buffer_underruns"`
	BufferOverruns      uint64  `json:"buffer_overruns"`
	LastXrunTimestampUs *uint64 `json:"last_xrun_timestamp_us"`
}

// VolumeHealth reports the current volume state.
type VolumeHealth struct {
	Level           float64 `json:"level"`
	Mute            bool    `json:"mute"`
	HardwareControl bool    `json:"hardware_control"`
	GainDb          float64 `json:"gain_db"`
}

// DspHealth reports the node's applied DSP profile.
type DspHealth struct {
	CurrentProfileHash uint32 `json:"current_profile_hash"`
	EqActive           bool   `json:"eq_active"`
	ConvolutionActive  bool   `json:"convolution_active"`
}

// Counters is the shared lifetime counter block. The DSP/network threads
// increment these with atomics; the telemetry task reads them without
// locks, tolerating mild inter-field skew per the concurrency model.
type Counters struct {
	PacketsReceived atomic.Uint64
	PacketsLost     atomic.Uint64
	BytesReceived   atomic.Uint64
	CrcOk           atomic.Uint64
	CrcFail         atomic.Uint64
	Xruns           atomic.Uint64
	Underruns       atomic.Uint64
	Overruns        atomic.Uint64

	lastCrcFailSeq atomic.Uint64 // (seq << 1) | valid
	lastXrunUs     atomic.Uint64 // (us << 1) | valid
}

// RecordCrcFail counts a failure and remembers the offending sequence.
func (c *Counters) RecordCrcFail(seq uint32) {
	c.CrcFail.Add(1)
	c.lastCrcFailSeq.Store(uint64(seq)<<1 | 1)
}

// RecordXrun counts an xrun and stamps its time.
func (c *Counters) RecordXrun(now time.Time) {
	c.Xruns.Add(1)
	c.lastXrunUs.Store(uint64(now.UnixMicro())<<1 | 1)
}

// LastCrcFailSeq returns the most recent failed sequence, if any.
func (c *Counters) LastCrcFailSeq() (uint32, bool) {
	v := c.lastCrcFailSeq.Load()
	return uint32(v >> 1), v&1 != 0
}

// LastXrunUs returns the most recent xrun timestamp, if any.
func (c *Counters) LastXrunUs() (uint64, bool) {
	v := c.lastXrunUs.Load()
	return v >> 1, v&1 != 0
}

// Collector assembles health messages from the live counter block and
// whatever per-snapshot state its owner pushes in.
type Collector struct {
	counters  *Counters
	startedAt time.Time

	// Snapshot state, owned by the control task; only it calls the
	// setters and Snapshot, so no locking is needed here.
	connectionState string
	playback        PlaybackHealth
	latency         LatencyHealth
	clock           ClockHealth
	volume          VolumeHealth
	dsp             DspHealth
}

// NewCollector creates a collector for one session.
func NewCollector(counters *Counters, startedAt time.Time) *Collector {
	return &Collector{
		counters:        counters,
		startedAt:       startedAt,
		connectionState: "idle",
		playback:        PlaybackHealth{State: "idle", BufferHealth: "critical"},
		clock:           ClockHealth{PllState: "seeking"},
	}
}

// SetConnectionState records the transport state string.
func (c *Collector) SetConnectionState(state string) { c.connectionState = state }

// SetPlayback records the jitter-buffer view.
func (c *Collector) SetPlayback(p PlaybackHealth) { c.playback = p }

// SetLatency records the latency breakdown; TotalMs is derived.
func (c *Collector) SetLatency(l LatencyHealth) {
	l.TotalMs = l.NetworkMs + l.JitterBufferMs + l.DacMs + l.PipelineMs
	c.latency = l
}

// SetClock records the Micro-PLL view.
func (c *Collector) SetClock(cl ClockHealth) { c.clock = cl }

// SetVolume records the volume state.
func (c *Collector) SetVolume(v VolumeHealth) { c.volume = v }

// SetDsp records the applied DSP profile state.
func (c *Collector) SetDsp(d DspHealth) { c.dsp = d }

// Snapshot produces the health message for the current instant.
func (c *Collector) Snapshot(now time.Time) Message {
	msg := Message{
		TimestampUs: uint64(now.UnixMicro()),
		Connection: ConnectionHealth{
			State:           c.connectionState,
			UptimeSeconds:   uint64(now.Sub(c.startedAt) / time.Second),
			PacketsReceived: c.counters.PacketsReceived.Load(),
			PacketsLost:     c.counters.PacketsLost.Load(),
			BytesReceived:   c.counters.BytesReceived.Load(),
		},
		Playback:  c.playback,
		Latency:   c.latency,
		ClockSync: c.clock,
		Integrity: IntegrityHealth{
			CrcOk:   c.counters.CrcOk.Load(),
			CrcFail: c.counters.CrcFail.Load(),
		},
		Errors: ErrorHealth{
			Xruns:           c.counters.Xruns.Load(),
			BufferUnderruns: c.counters.Underruns.Load(),
			BufferOverruns:  c.counters.Overruns.Load(),
		},
		Volume: c.volume,
		Dsp:    c.dsp,
	}
	if seq, ok := c.counters.LastCrcFailSeq(); ok {
		msg.Integrity.LastCrcFailSeq = &seq
	}
	if us, ok := c.counters.LastXrunUs(); ok {
		msg.Errors.LastXrunTimestampUs = &us
	}
	return msg
}
