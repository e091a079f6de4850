package node

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
	"github.com/aaeq/aaeq-core/internal/anp/health"
	anprtp "github.com/aaeq/aaeq-core/internal/anp/rtp"
	"github.com/aaeq/aaeq-core/internal/anp/session"
)

func testAccept() session.Accept {
	return session.Accept{
		ProtocolVersion: session.ProtocolVersion,
		SessionID:       "srv-test",
		RtpConfig: session.RtpConfig{
			Ssrc:          0xCAFEBABE,
			PayloadType:   96,
			TimestampRate: 48000,
		},
		RtpExtensions: session.RtpExtensions{
			Gapless: session.GaplessExtension{Enabled: true, ExtensionID: 1},
			Crc32:   session.Crc32Extension{Enabled: true, ExtensionID: 2, Window: 64},
		},
		MicroPll: session.MicroPllConfig{Enabled: true, PpmLimit: 150, AdjustmentIntervalMs: 100, SlewRatePpmPerSec: 10, EmaWindow: 8},
		Buffer:   session.BufferConfig{TargetMs: 150, MinMs: 50, MaxMs: 500, StartThresholdMs: 100},
	}
}

func testSender(accept session.Accept, crcWindow uint32) *anprtp.Packetizer {
	cfg := anprtp.PacketizerConfig{
		SSRC:            accept.RtpConfig.Ssrc,
		PayloadType:     accept.RtpConfig.PayloadType,
		InitialSequence: accept.RtpConfig.InitialSequence,
		InitialTS:       accept.RtpConfig.InitialTimestamp,
		GaplessEnabled:  true,
		GaplessID:       accept.RtpExtensions.Gapless.ExtensionID,
		CrcEnabled:      crcWindow > 0,
		CrcID:           accept.RtpExtensions.Crc32.ExtensionID,
		CrcWindow:       crcWindow,
	}
	return anprtp.NewPacketizer(cfg)
}

// 10 ms of stereo S24 at 48 kHz.
func framePayload() []byte { return make([]byte, 480*2*3) }

func send(t *testing.T, r *Receiver, p *anprtp.Packetizer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		pkt, err := p.Packetize(framePayload(), 480)
		require.NoError(t, err)
		data, err := pkt.Marshal()
		require.NoError(t, err)
		require.NoError(t, r.Ingest(data, time.Now()))
	}
}

func TestIngestCountsPacketsAndBytes(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	send(t, r, testSender(accept, 1), 10)

	assert.Equal(t, uint64(10), counters.PacketsReceived.Load())
	assert.Equal(t, uint64(10*480*2*3), counters.BytesReceived.Load())
	assert.Equal(t, uint64(10), counters.CrcOk.Load())
	assert.Zero(t, counters.CrcFail.Load())
}

func TestPlaybackGatedUntilStartThreshold(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	p := testSender(accept, 0)

	send(t, r, p, 8) // 80 ms < 100 ms threshold
	_, ok := r.NextPayload(time.Now())
	assert.False(t, ok)
	assert.Zero(t, counters.Underruns.Load(), "not yet ready is not an underrun")

	send(t, r, p, 2) // 100 ms
	payload, ok := r.NextPayload(time.Now())
	require.True(t, ok)
	assert.Len(t, payload, 480*2*3)
}

func TestCrcMismatchCountedButPlayed(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	p := testSender(accept, 1)

	pkt, err := p.Packetize(framePayload(), 480)
	require.NoError(t, err)
	data, err := pkt.Marshal()
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF // corrupt payload in transit

	require.NoError(t, r.Ingest(data, time.Now()))
	assert.Equal(t, uint64(1), counters.CrcFail.Load())
	// The packet is buffered anyway.
	assert.Equal(t, 1, r.Buffer().Len())
	_, haveSeq := counters.LastCrcFailSeq()
	assert.True(t, haveSeq)
}

func TestSsrcMismatchRejected(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())

	foreign := testAccept()
	foreign.RtpConfig.Ssrc = 0xDEADBEEF
	p := testSender(foreign, 0)

	pkt, err := p.Packetize(framePayload(), 480)
	require.NoError(t, err)
	data, err := pkt.Marshal()
	require.NoError(t, err)

	err = r.Ingest(data, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, anperr.New(anperr.CodeSsrcConflict)))
	assert.Zero(t, counters.PacketsReceived.Load())
}

func TestSequenceGapCountsLoss(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	p := testSender(accept, 0)

	// Send 3, drop 2, send 3 more.
	for i := 0; i < 8; i++ {
		pkt, err := p.Packetize(framePayload(), 480)
		require.NoError(t, err)
		if i == 3 || i == 4 {
			continue // lost in transit
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		require.NoError(t, r.Ingest(data, time.Now()))
	}

	assert.Equal(t, uint64(6), counters.PacketsReceived.Load())
	assert.Equal(t, uint64(2), counters.PacketsLost.Load())
}

func TestUnderrunAfterDrainCounted(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	p := testSender(accept, 0)

	send(t, r, p, 10)
	for {
		if _, ok := r.NextPayload(time.Now()); !ok {
			break
		}
	}
	assert.Equal(t, uint64(1), counters.Underruns.Load())
	assert.Equal(t, uint64(1), counters.Xruns.Load())
}

func TestGaplessBoundaryObserved(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	p := testSender(accept, 0)

	p.MarkTrackEnd()
	pkt, err := p.Packetize(framePayload(), 480)
	require.NoError(t, err)
	data, err := pkt.Marshal()
	require.NoError(t, err)
	require.NoError(t, r.Ingest(data, time.Now()))

	p.MarkTrackStart()
	pkt, err = p.Packetize(framePayload(), 480)
	require.NoError(t, err)
	data, err = pkt.Marshal()
	require.NoError(t, err)
	require.NoError(t, r.Ingest(data, time.Now()))

	assert.Equal(t, uint64(2), r.TrackBoundaries())
}

func TestHealthViewReflectsBuffer(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	send(t, r, testSender(accept, 0), 10)

	c := health.NewCollector(&counters, time.Now())
	r.HealthView(c)
	msg := c.Snapshot(time.Now())

	assert.Equal(t, "buffered", msg.Playback.State)
	assert.InDelta(t, 100, msg.Playback.BufferMs, 0.5)
	assert.Equal(t, "seeking", msg.ClockSync.PllState)
}

func TestTickClockProducesRatio(t *testing.T) {
	accept := testAccept()
	var counters health.Counters
	r := NewReceiver(accept, &counters, zerolog.Nop())
	p := testSender(accept, 0)

	// Overfilled buffer drifts the clock fast.
	send(t, r, p, 30) // 300 ms vs 150 ms target
	now := time.Unix(0, 0)
	var ratio float64
	for i := 0; i < 50; i++ {
		ratio = r.TickClock(now)
		now = now.Add(100 * time.Millisecond)
	}
	assert.Greater(t, ratio, 1.0)
	assert.LessOrEqual(t, ratio, 1.00015) // clamped at +150 ppm
}
