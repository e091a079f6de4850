// Package node implements the receive side of an ANP session: RTP
// ingest into the jitter buffer, CRC verification, loss accounting,
// Micro-PLL clock correction, and health snapshot assembly.
package node

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
	"github.com/aaeq/aaeq-core/internal/anp/health"
	"github.com/aaeq/aaeq-core/internal/anp/pll"
	anprtp "github.com/aaeq/aaeq-core/internal/anp/rtp"
	"github.com/aaeq/aaeq-core/internal/anp/session"
	"github.com/aaeq/aaeq-core/internal/jitter"
)

// Receiver consumes one session's RTP stream. Not safe for concurrent
// use: the network read loop owns Ingest, and the playback thread calls
// NextPayload; callers serialize the two the way the jitter buffer
// requires (single producer feeding the single consumer through it).
type Receiver struct {
	log zerolog.Logger

	accept   session.Accept
	buffer   *jitter.Buffer
	clock    *pll.Controller
	counters *health.Counters

	expectedSsrc uint32
	gaplessID    uint8
	crcID        uint8

	haveSeq     bool
	lastSeq     uint16
	extSequence uint32

	trackBoundaries uint64
}

// NewReceiver wires a receiver from the negotiated session_accept.
func NewReceiver(accept session.Accept, counters *health.Counters, log zerolog.Logger) *Receiver {
	cfg := jitter.Config{
		TargetMs:         accept.Buffer.TargetMs,
		MinMs:            accept.Buffer.MinMs,
		MaxMs:            accept.Buffer.MaxMs,
		StartThresholdMs: accept.Buffer.StartThresholdMs,
		SampleRate:       accept.RtpConfig.TimestampRate,
		Channels:         2,
		BytesPerSample:   bytesPerSample(accept.RtpConfig.PayloadType),
	}
	return &Receiver{
		log:      log,
		accept:   accept,
		buffer:   jitter.New(cfg),
		clock:    pll.New(pllConfig(accept.MicroPll)),
		counters: counters,

		expectedSsrc: accept.RtpConfig.Ssrc,
		gaplessID:    accept.RtpExtensions.Gapless.ExtensionID,
		crcID:        accept.RtpExtensions.Crc32.ExtensionID,
	}
}

func bytesPerSample(payloadType uint8) int {
	if payloadType == anprtp.PayloadTypeL16 {
		return 2
	}
	return 3
}

func pllConfig(cfg session.MicroPllConfig) pll.Config {
	return pll.Config{
		Enabled:              cfg.Enabled,
		PpmLimit:             cfg.PpmLimit,
		AdjustmentIntervalMs: cfg.AdjustmentIntervalMs,
		SlewRatePpmPerSec:    cfg.SlewRatePpmPerSec,
		EmaWindow:            cfg.EmaWindow,
	}
}

// Buffer exposes the jitter buffer for playback wiring.
func (r *Receiver) Buffer() *jitter.Buffer { return r.buffer }

// Clock exposes the Micro-PLL controller.
func (r *Receiver) Clock() *pll.Controller { return r.clock }

// Ingest processes one received datagram. CRC mismatches are counted
// and logged but the packet still plays; an SSRC mismatch is reported
// as E205 without consuming the packet.
func (r *Receiver) Ingest(datagram []byte, arrival time.Time) error {
	pkt, err := anprtp.Depacketize(datagram, r.gaplessID, r.crcID)
	if err != nil {
		return err
	}

	if pkt.Header.SSRC != r.expectedSsrc {
		return anperr.Newf(anperr.CodeSsrcConflict, "got %08x want %08x", pkt.Header.SSRC, r.expectedSsrc)
	}

	ext := r.extendSequence(pkt.Header.SequenceNumber)

	if pkt.CRC32 != nil {
		if pkt.VerifyCRC() {
			r.counters.CrcOk.Add(1)
		} else {
			r.counters.RecordCrcFail(ext)
			r.log.Warn().Uint32("seq", ext).Msg("anp: CRC mismatch, continuing playback")
		}
	}

	if pkt.Gapless != nil && (pkt.Gapless.TrackEnd || pkt.Gapless.TrackStart) {
		r.trackBoundaries++
	}

	r.counters.PacketsReceived.Add(1)
	r.counters.BytesReceived.Add(uint64(len(pkt.Payload)))

	r.buffer.Push(jitter.Entry{
		Sequence:    ext,
		Timestamp:   pkt.Header.Timestamp,
		Payload:     pkt.Payload,
		ArrivalTime: arrival,
	})
	return nil
}

// extendSequence widens the 16-bit wire sequence into the receiver's
// 32-bit space and accounts for loss via sequence gaps.
func (r *Receiver) extendSequence(seq uint16) uint32 {
	if !r.haveSeq {
		r.haveSeq = true
		r.lastSeq = seq
		r.extSequence = uint32(seq)
		return r.extSequence
	}
	delta := int16(seq - r.lastSeq)
	if delta > 1 {
		r.counters.PacketsLost.Add(uint64(delta - 1))
	}
	// Sign-extended add keeps reordered (negative-delta) arrivals in
	// the right place in the 32-bit space.
	ext := r.extSequence + uint32(int32(delta))
	if delta > 0 {
		r.extSequence = ext
		r.lastSeq = seq
	}
	return ext
}

// NextPayload returns the next in-order payload for the DAC path. When
// the buffer is ready but empty, the underrun is counted and the caller
// plays silence.
func (r *Receiver) NextPayload(now time.Time) ([]byte, bool) {
	wasReady := r.buffer.Ready()
	e, ok := r.buffer.Pop()
	if !ok {
		if wasReady {
			r.counters.Underruns.Add(1)
			r.counters.RecordXrun(now)
		}
		return nil, false
	}
	return e.Payload, true
}

// TickClock runs one Micro-PLL adjustment interval against the current
// buffer fill and returns the resampling ratio for the adaptive
// resampler.
func (r *Receiver) TickClock(now time.Time) float64 {
	expected := float64(r.buffer.Config().TargetMs) * float64(r.buffer.Config().SampleRate) / 1000
	actual := r.buffer.FillMs() * float64(r.buffer.Config().SampleRate) / 1000
	drift := pll.MeasureDriftPPM(actual, expected)
	r.clock.Update(drift, now)
	return r.clock.Ratio()
}

// CrcFailureExcessive applies the 1% escalation rule for E306.
func (r *Receiver) CrcFailureExcessive() bool {
	return anperr.HandleCrcFailures(r.counters.CrcFail.Load(), r.counters.CrcOk.Load()) == anperr.DecisionEscalate
}

// HealthView fills the playback and clock sections of a health
// collector from the receiver's current state.
func (r *Receiver) HealthView(c *health.Collector) {
	c.SetPlayback(health.PlaybackHealth{
		State:             r.buffer.State().String(),
		BufferMs:          r.buffer.FillMs(),
		BufferHealth:      r.buffer.Health().String(),
		BufferFillPercent: r.buffer.FillPercent(),
	})
	c.SetClock(health.ClockHealth{
		DriftPpm:      r.clock.DriftPPM(),
		PhaseUs:       r.clock.PhaseUs(),
		PllState:      r.clock.State().String(),
		AdjustmentPpm: r.clock.AdjustmentPPM(),
	})
}

// TrackBoundaries returns how many gapless markers have been seen.
func (r *Receiver) TrackBoundaries() uint64 { return r.trackBoundaries }
